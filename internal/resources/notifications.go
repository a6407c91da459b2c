package resources

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/onnwee/event-companion/backend/internal/apiclient"
	"github.com/onnwee/event-companion/backend/internal/logger"
	"github.com/onnwee/event-companion/backend/internal/revalidate"
)

const notificationsKey = "notifications"

// Notification is a message pushed to attendees.
type Notification struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"created_at"`
}

var notificationMessages = messages{
	apiclient.KindNotFound: "You have no notifications.",
}

// Notifications returns the attendee's notifications.
func (s *Service) Notifications(ctx context.Context, useCache bool) ([]Notification, error) {
	list, err := revalidate.Fetch(ctx, s.rv, notificationsKey, func(ctx context.Context) ([]Notification, error) {
		var out []Notification
		err := s.api.GetJSON(ctx, "/notifications", nil, &out)
		return out, err
	}, NotificationsTTL, useCache)
	if err != nil {
		return nil, transform("notifications", notificationMessages, err)
	}
	return list, nil
}

// MarkNotificationRead marks id as read. The cached list is updated at once;
// when the request fails with a retryable error it is queued for the next
// sync and queued reports true.
func (s *Service) MarkNotificationRead(ctx context.Context, id string) (queued bool, err error) {
	s.markCachedRead(ctx, id)

	send := func(ctx context.Context) error {
		return s.api.Send(ctx, http.MethodPost, "/notifications/"+url.PathEscape(id)+"/read", nil)
	}
	err = send(ctx)
	if err == nil {
		return false, nil
	}
	if s.queue != nil && apiclient.IsRetryable(err) {
		s.queue.AddToQueue("notification_read:"+id, send, s.maxRetries)
		logger.Component("resources").Ctx(ctx).Info("Queued notification read for sync", "notification", id, "error", err)
		return true, nil
	}
	return false, transform("notifications", messages{
		apiclient.KindNotFound: "This notification no longer exists.",
	}, err)
}

// markCachedRead applies the read flag to the cached list without changing
// its age.
func (s *Service) markCachedRead(ctx context.Context, id string) {
	var list []Notification
	if !s.engine().Peek(ctx, notificationsKey, &list) {
		return
	}
	changed := false
	for i := range list {
		if list[i].ID == id && !list[i].Read {
			list[i].Read = true
			changed = true
		}
	}
	if changed {
		s.engine().Update(ctx, notificationsKey, list)
	}
}

// UnreadCount counts unread notifications in the cached list without
// touching the network.
func (s *Service) UnreadCount(ctx context.Context) int {
	var list []Notification
	if !s.engine().Peek(ctx, notificationsKey, &list) {
		return 0
	}
	n := 0
	for _, item := range list {
		if !item.Read {
			n++
		}
	}
	return n
}
