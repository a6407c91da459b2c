package handlers

import (
	"context"
	"net/http"

	"github.com/onnwee/event-companion/backend/internal/apierr"
	"github.com/onnwee/event-companion/backend/internal/syncer"
)

// Syncer is the part of syncer.Coordinator the API drives.
type Syncer interface {
	Status() syncer.Status
	SyncAll(ctx context.Context) syncer.Result
}

// SyncHandler exposes the retry queue.
type SyncHandler struct {
	sync Syncer
}

// NewSyncHandler creates a new sync handler.
func NewSyncHandler(s Syncer) *SyncHandler {
	return &SyncHandler{sync: s}
}

// Status handles GET /sync/status.
func (h *SyncHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, h.sync.Status())
}

// Trigger handles POST /sync. The run outlives a disconnecting client.
func (h *SyncHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	res := h.sync.SyncAll(context.WithoutCancel(r.Context()))
	switch res.Skipped {
	case syncer.SkipInflight:
		apierr.WriteErrorWithContext(w, r, apierr.SyncInProgress())
	case syncer.SkipOffline:
		apierr.WriteErrorWithContext(w, r, apierr.SyncOffline())
	case syncer.SkipDisposed:
		apierr.WriteErrorWithContext(w, r, apierr.SyncDisposed())
	default:
		writeJSON(w, r, http.StatusOK, res)
	}
}
