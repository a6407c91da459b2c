package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/onnwee/event-companion/backend/internal/config"
)

func fakeAPI(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.HandleFunc("/sponsors", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode([]map[string]any{{"id": "1", "name": "Acme", "position": 1}})
	})
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func testConfig(t *testing.T, apiURL string) *config.Config {
	t.Helper()
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("API_BASE_URL", apiURL)
	t.Setenv("SYNC_SCHEDULE", "")
	t.Setenv("LISTEN_ADDR", "127.0.0.1:0")
	t.Setenv("HTTP_MAX_RETRIES", "1")
	t.Setenv("WARM_LEGAL_SLUGS", "")
	config.ResetForTest()
	t.Cleanup(config.ResetForTest)
	return config.Load()
}

func TestNewWiresDiagnostics(t *testing.T) {
	ts := fakeAPI(t)
	cfg := testConfig(t, ts.URL)

	a, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		a.Sync.Cleanup()
		a.Revalidate.Close()
		a.closeStore()
	})

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("health status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"api_breaker":"closed"`) {
		t.Errorf("health body missing breaker state: %s", rec.Body.String())
	}
}

func TestSyncAllWarmsResources(t *testing.T) {
	ts := fakeAPI(t)
	cfg := testConfig(t, ts.URL)

	a, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		a.Sync.Cleanup()
		a.Revalidate.Close()
		a.closeStore()
	})

	ctx := context.Background()
	res := a.SyncAll(ctx)
	if !res.Ran {
		t.Fatalf("sync skipped: %q", res.Skipped)
	}
	if !a.Engine.IsValid(ctx, "sponsors") {
		t.Error("sponsors should be cached after a sync")
	}
}

func TestNewRejectsBadSchedule(t *testing.T) {
	ts := fakeAPI(t)
	cfg := testConfig(t, ts.URL)
	cfg.SyncSchedule = "every now and then"

	if _, err := New(context.Background(), cfg); err == nil {
		t.Fatal("expected a schedule error")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	ts := fakeAPI(t)
	cfg := testConfig(t, ts.URL)

	a, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for a.Addr() == nil && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if a.Addr() == nil {
		t.Fatal("listener never came up")
	}
	resp, err := http.Get("http://" + a.Addr().String() + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if !a.Sync.Disposed() {
		t.Error("sync coordinator should be disposed")
	}
}
