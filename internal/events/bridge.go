package events

import (
	"github.com/onnwee/event-companion/backend/internal/syncer"
)

// EvictedPayload is the body of a cache.evicted event.
type EvictedPayload struct {
	Keys []string `json:"keys"`
}

// ClearedPayload is the body of a cache.cleared event.
type ClearedPayload struct {
	Removed int `json:"removed"`
}

// DroppedPayload is the body of a sync.task_dropped event.
type DroppedPayload struct {
	ID    string `json:"id"`
	Error string `json:"error"`
}

// CacheEvicted matches cache.Options.OnEvict.
func (h *Hub) CacheEvicted(keys []string) {
	h.Publish(TypeCacheEvicted, EvictedPayload{Keys: keys})
}

// CacheCleared matches cache.Options.OnClear.
func (h *Hub) CacheCleared(removed int) {
	h.Publish(TypeCacheCleared, ClearedPayload{Removed: removed})
}

// SyncHooks publishes sync lifecycle events.
func (h *Hub) SyncHooks() syncer.Hooks {
	return syncer.Hooks{
		OnStart: func(queued int) {
			h.Publish(TypeSyncStarted, map[string]int{"queued": queued})
		},
		OnFinish: func(res syncer.Result) {
			h.Publish(TypeSyncFinished, res)
		},
		OnDrop: func(id string, err error) {
			p := DroppedPayload{ID: id}
			if err != nil {
				p.Error = err.Error()
			}
			h.Publish(TypeSyncTaskDropped, p)
		},
	}
}
