package handlers

import (
	"encoding/json"
	"net/http"
	"sort"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/onnwee/event-companion/backend/internal/apierr"
	"github.com/onnwee/event-companion/backend/internal/cache"
)

// CacheHandler serves cache inspection and maintenance endpoints.
type CacheHandler struct {
	engine *cache.Engine
}

// NewCacheHandler creates a new cache handler.
func NewCacheHandler(e *cache.Engine) *CacheHandler {
	return &CacheHandler{engine: e}
}

type statsResponse struct {
	Prefix      string      `json:"prefix"`
	Entries     int         `json:"entries"`
	Bytes       int64       `json:"bytes"`
	BudgetBytes int64       `json:"budget_bytes"`
	Counters    cache.Stats `json:"counters"`
}

// Stats handles GET /cache/stats.
func (h *CacheHandler) Stats(w http.ResponseWriter, r *http.Request) {
	snap, err := h.engine.Snapshot(r.Context())
	if err != nil {
		log.Ctx(r.Context()).Error("Failed to read cache snapshot", "error", err)
		apierr.WriteErrorWithContext(w, r, apierr.CacheUnavailable())
		return
	}
	writeJSON(w, r, http.StatusOK, statsResponse{
		Prefix:      h.engine.Prefix(),
		Entries:     snap.Entries,
		Bytes:       snap.Bytes,
		BudgetBytes: snap.Budget,
		Counters:    h.engine.Stats(),
	})
}

// Entries handles GET /cache/entries. ?expired=true|false filters by
// freshness; entries are sorted by key.
func (h *CacheHandler) Entries(w http.ResponseWriter, r *http.Request) {
	var filter *bool
	if v := r.URL.Query().Get("expired"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			apierr.WriteErrorWithContext(w, r, apierr.ValidationInvalidValue("expired", "expired must be true or false"))
			return
		}
		filter = &b
	}

	out := make([]cache.Metadata, 0)
	for _, m := range h.engine.Metadata(r.Context()) {
		if filter != nil && m.Expired != *filter {
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	writeJSON(w, r, http.StatusOK, map[string]any{"entries": out})
}

type entryResponse struct {
	cache.Metadata
	Data json.RawMessage `json:"data"`
}

// Entry handles GET /cache/entries/{key}. The key may be given with or
// without the namespace prefix.
func (h *CacheHandler) Entry(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	m, data, ok := h.engine.Inspect(r.Context(), key)
	if !ok {
		apierr.WriteErrorWithContext(w, r, apierr.CacheKeyNotFound(h.engine.Key(key)))
		return
	}
	writeJSON(w, r, http.StatusOK, entryResponse{Metadata: m, Data: data})
}

// Delete handles DELETE /cache/entries/{key}.
func (h *CacheHandler) Delete(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	if _, _, ok := h.engine.Inspect(r.Context(), key); !ok {
		apierr.WriteErrorWithContext(w, r, apierr.CacheKeyNotFound(h.engine.Key(key)))
		return
	}
	if !h.engine.Invalidate(r.Context(), key) {
		apierr.WriteErrorWithContext(w, r, apierr.CacheUnavailable())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Clear handles POST /cache/clear.
func (h *CacheHandler) Clear(w http.ResponseWriter, r *http.Request) {
	if !h.engine.ClearAll(r.Context()) {
		apierr.WriteErrorWithContext(w, r, apierr.CacheClearFailed())
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

// Sweep handles POST /cache/sweep.
func (h *CacheHandler) Sweep(w http.ResponseWriter, r *http.Request) {
	removed := h.engine.SweepExpired(r.Context())
	writeJSON(w, r, http.StatusOK, map[string]int{"removed": removed})
}
