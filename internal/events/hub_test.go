package events

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/onnwee/event-companion/backend/internal/cache"
	"github.com/onnwee/event-companion/backend/internal/network"
	"github.com/onnwee/event-companion/backend/internal/store"
	"github.com/onnwee/event-companion/backend/internal/syncer"
)

func startHub(t *testing.T) (*Hub, *websocket.Conn) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub()
	go hub.Run(ctx)

	srv := httptest.NewServer(hub)
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	if evt := readEvent(t, conn); evt.Type != TypeConnected {
		t.Fatalf("first event = %q, want %q", evt.Type, TypeConnected)
	}
	return hub, conn
}

type wireEvent struct {
	Type    string          `json:"type"`
	At      time.Time       `json:"at"`
	Payload json.RawMessage `json:"payload"`
}

func readEvent(t *testing.T, conn *websocket.Conn) wireEvent {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var evt wireEvent
	if err := conn.ReadJSON(&evt); err != nil {
		t.Fatalf("read event: %v", err)
	}
	return evt
}

func TestHubDeliversPublishedEvents(t *testing.T) {
	hub, conn := startHub(t)

	if hub.Clients() != 1 {
		t.Fatalf("Clients() = %d, want 1", hub.Clients())
	}

	hub.CacheEvicted([]string{"@cache_news_page_1_20"})
	evt := readEvent(t, conn)
	if evt.Type != TypeCacheEvicted {
		t.Fatalf("type = %q", evt.Type)
	}
	var p EvictedPayload
	if err := json.Unmarshal(evt.Payload, &p); err != nil {
		t.Fatal(err)
	}
	if len(p.Keys) != 1 || p.Keys[0] != "@cache_news_page_1_20" {
		t.Errorf("payload = %+v", p)
	}
	if evt.At.IsZero() {
		t.Error("event timestamp missing")
	}
}

func TestHubUnregistersClosedClients(t *testing.T) {
	hub, conn := startHub(t)
	conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.Clients() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("client was not unregistered")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestPublishWithoutRunDoesNotBlock(t *testing.T) {
	hub := NewHub()
	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			hub.Publish(TypeSyncStarted, nil)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked with a full buffer")
	}
}

func TestEngineAndSyncerEventsReachDashboards(t *testing.T) {
	hub, conn := startHub(t)

	now := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	engine := cache.New(store.NewMemory(), cache.Options{
		MaxBytes: 250,
		Now:      func() time.Time { return now },
		OnEvict:  hub.CacheEvicted,
		OnClear:  hub.CacheCleared,
	})
	ctx := context.Background()
	payload := strings.Repeat("x", 60)
	for _, k := range []string{"a", "b", "c"} {
		if !engine.Set(ctx, k, payload, time.Minute) {
			t.Fatalf("Set(%s) failed", k)
		}
		now = now.Add(time.Second)
	}

	evt := readEvent(t, conn)
	if evt.Type != TypeCacheEvicted {
		t.Fatalf("type = %q, want %q", evt.Type, TypeCacheEvicted)
	}
	var evicted EvictedPayload
	json.Unmarshal(evt.Payload, &evicted)
	if len(evicted.Keys) != 1 || evicted.Keys[0] != "@cache_a" {
		t.Errorf("evicted = %v, want [@cache_a]", evicted.Keys)
	}

	engine.ClearAll(ctx)
	evt = readEvent(t, conn)
	var cleared ClearedPayload
	json.Unmarshal(evt.Payload, &cleared)
	if evt.Type != TypeCacheCleared || cleared.Removed != 2 {
		t.Errorf("got %q removed=%d, want cache.cleared removed=2", evt.Type, cleared.Removed)
	}

	sc := syncer.New(network.NewSwitch(true), engine, syncer.Options{Hooks: hub.SyncHooks()})
	t.Cleanup(sc.Cleanup)
	sc.AddToQueue("notification_read:7", func(context.Context) error {
		return errors.New("gone")
	}, 0)
	sc.SyncAll(ctx)

	want := []string{TypeSyncStarted, TypeSyncTaskDropped, TypeSyncFinished}
	for _, typ := range want {
		evt := readEvent(t, conn)
		if evt.Type != typ {
			t.Fatalf("type = %q, want %q", evt.Type, typ)
		}
		if typ == TypeSyncTaskDropped {
			var d DroppedPayload
			json.Unmarshal(evt.Payload, &d)
			if d.ID != "notification_read:7" || d.Error != "gone" {
				t.Errorf("dropped payload = %+v", d)
			}
		}
	}
}

func TestGreetingPrecedesBroadcasts(t *testing.T) {
	for i := 0; i < 20; i++ {
		hub, conn := startHub(t)
		if n := hub.Clients(); n != 1 {
			t.Fatalf("dial %d: Clients() = %d after the greeting, want 1", i, n)
		}
		hub.Publish(TypeSyncStarted, map[string]int{"queued": i})
		if evt := readEvent(t, conn); evt.Type != TypeSyncStarted {
			t.Fatalf("dial %d: type = %q", i, evt.Type)
		}
		conn.Close()
	}
}
