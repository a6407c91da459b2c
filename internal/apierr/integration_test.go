package apierr_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/onnwee/event-companion/backend/internal/apierr"
	"github.com/onnwee/event-companion/backend/internal/middleware"
)

func TestErrorSerialization(t *testing.T) {
	tests := []struct {
		name       string
		err        *apierr.Error
		wantStatus int
		wantCode   apierr.ErrorCode
	}{
		{"sync offline", apierr.SyncOffline(), http.StatusServiceUnavailable, apierr.ErrSyncOffline},
		{"auth invalid", apierr.AuthInvalid(), http.StatusUnauthorized, apierr.ErrAuthInvalid},
		{"cache key", apierr.CacheKeyNotFound("sponsors"), http.StatusNotFound, apierr.ErrCacheKeyNotFound},
		{"validation missing field", apierr.ValidationMissingField("key"), http.StatusBadRequest, apierr.ErrValidationMissingField},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			apierr.WriteError(w, tt.err)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			var resp apierr.ErrorResponse
			if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if resp.Error == nil {
				t.Fatal("expected error in response")
			}
			if resp.Error.Code != tt.wantCode {
				t.Errorf("code = %s, want %s", resp.Error.Code, tt.wantCode)
			}
		})
	}
}

func TestWriteErrorWithContext(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apierr.WriteErrorWithContext(w, r, apierr.SyncInProgress())
	})
	wrapped := middleware.RequestID(handler)

	w := httptest.NewRecorder()
	wrapped.ServeHTTP(w, httptest.NewRequest("POST", "/sync", nil))

	var resp apierr.ErrorResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Error.RequestID == "" {
		t.Fatal("WriteErrorWithContext should include request_id")
	}
	if h := w.Header().Get("X-Request-ID"); h != resp.Error.RequestID {
		t.Errorf("request_id mismatch: body=%s, header=%s", resp.Error.RequestID, h)
	}
}

func TestGetRequestIDEmpty(t *testing.T) {
	r := httptest.NewRequest("GET", "/cache/stats", nil)
	if reqID := apierr.GetRequestID(r.Context()); reqID != "" {
		t.Errorf("expected empty request ID, got %s", reqID)
	}
}
