// Package resources adapts the event API's resources to the offline cache.
// Each adapter owns its cache keys and TTL and turns loader failures into
// messages fit for display.
package resources

import (
	"context"
	"net/url"
	"time"

	"github.com/onnwee/event-companion/backend/internal/cache"
	"github.com/onnwee/event-companion/backend/internal/revalidate"
	"github.com/onnwee/event-companion/backend/internal/syncer"
)

const (
	SponsorsTTL      = time.Hour
	NewsTTL          = 10 * time.Minute
	NotificationsTTL = 2 * time.Minute
	LegalTTL         = cache.Forever
)

// API is the subset of *apiclient.Client the adapters use.
type API interface {
	GetJSON(ctx context.Context, path string, query url.Values, dst any) error
	Send(ctx context.Context, method, path string, body any) error
}

// Queue receives mutations that failed while offline.
type Queue interface {
	AddToQueue(id string, op syncer.Operation, maxRetries int)
}

// Service groups the resource adapters.
type Service struct {
	api        API
	rv         *revalidate.Coordinator
	queue      Queue
	maxRetries int
}

// New creates the adapters. queue may be nil, in which case failed
// mutations are returned to the caller instead of queued.
func New(api API, rv *revalidate.Coordinator, queue Queue, maxRetries int) *Service {
	return &Service{api: api, rv: rv, queue: queue, maxRetries: maxRetries}
}

func (s *Service) engine() *cache.Engine { return s.rv.Engine() }
