package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/onnwee/event-companion/backend/internal/store"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestEngine(t *testing.T, maxBytes int64) (*Engine, *store.Memory, *fakeClock) {
	t.Helper()
	s := store.NewMemory()
	clock := newFakeClock()
	e := New(s, Options{MaxBytes: maxBytes, Now: clock.Now})
	return e, s, clock
}

// encodedSize is the stored byte size of data written at clock time.
func encodedSize(t *testing.T, data any, ts time.Time, ttl time.Duration) int64 {
	t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatal(err)
	}
	b, err := json.Marshal(Entry{Data: raw, Timestamp: ts.UnixMilli(), TTL: ttlMillis(ttl)})
	if err != nil {
		t.Fatal(err)
	}
	return int64(len(b))
}

type payload struct {
	V int `json:"v"`
}

func TestSetThenGetThenExpire(t *testing.T) {
	e, _, clock := newTestEngine(t, 0)
	ctx := context.Background()

	if !e.Set(ctx, "@cache_x", payload{V: 1}, 1000*time.Millisecond) {
		t.Fatal("Set failed")
	}
	var got payload
	if !e.Get(ctx, "@cache_x", &got) || got.V != 1 {
		t.Fatalf("immediate Get = %+v, want {V:1}", got)
	}
	if e.TotalSize(ctx) == 0 {
		t.Fatal("TotalSize should include the entry")
	}

	clock.Advance(1100 * time.Millisecond)
	if e.Get(ctx, "@cache_x", &got) {
		t.Fatal("expected expired entry to miss")
	}
	if size := e.TotalSize(ctx); size != 0 {
		t.Errorf("TotalSize after lazy deletion = %d, want 0", size)
	}
	if md := e.Metadata(ctx); len(md) != 0 {
		t.Errorf("Metadata after lazy deletion = %+v, want empty", md)
	}
	if st := e.Stats(); st.Hits != 1 || st.Expired != 1 {
		t.Errorf("unexpected stats %+v", st)
	}
}

func TestTTLBoundaryIsInclusive(t *testing.T) {
	e, _, clock := newTestEngine(t, 0)
	ctx := context.Background()

	e.Set(ctx, "boundary", "v", time.Second)
	clock.Advance(time.Second)
	if !e.Get(ctx, "boundary", nil) {
		t.Fatal("entry exactly ttl old should still be valid")
	}
	clock.Advance(time.Millisecond)
	if e.Get(ctx, "boundary", nil) {
		t.Fatal("entry older than ttl should be expired")
	}
}

func TestForeverEntriesNeverExpire(t *testing.T) {
	e, s, clock := newTestEngine(t, 0)
	ctx := context.Background()

	e.Set(ctx, "legal_terms", map[string]string{"body": "terms"}, Forever)
	clock.Advance(10 * 365 * 24 * time.Hour)

	var got map[string]string
	if !e.Get(ctx, "legal_terms", &got) || got["body"] != "terms" {
		t.Fatalf("permanent entry missing after long delay: %v", got)
	}
	raw, _ := s.Get(ctx, "@cache_legal_terms")
	var entry Entry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		t.Fatal(err)
	}
	if entry.TTL != -1 {
		t.Errorf("persisted ttl = %d, want -1", entry.TTL)
	}
}

func TestWireFormat(t *testing.T) {
	e, s, clock := newTestEngine(t, 0)
	ctx := context.Background()

	e.Set(ctx, "@cache_x", payload{V: 1}, 1500*time.Millisecond)
	raw, err := s.Get(ctx, "@cache_x")
	if err != nil {
		t.Fatal(err)
	}
	want := fmt.Sprintf(`{"data":{"v":1},"timestamp":%d,"ttl":1500}`, clock.Now().UnixMilli())
	if raw != want {
		t.Errorf("stored %s, want %s", raw, want)
	}
}

func TestKeysAreNamespaced(t *testing.T) {
	e, s, _ := newTestEngine(t, 0)
	ctx := context.Background()

	e.Set(ctx, "sponsors", []string{"acme"}, time.Minute)
	if _, err := s.Get(ctx, "@cache_sponsors"); err != nil {
		t.Fatalf("expected prefixed key in store: %v", err)
	}
	if !e.Get(ctx, "@cache_sponsors", nil) || !e.Get(ctx, "sponsors", nil) {
		t.Error("prefixed and bare key should address the same entry")
	}
}

func TestIsValidHasNoDeleteSideEffect(t *testing.T) {
	e, s, clock := newTestEngine(t, 0)
	ctx := context.Background()

	e.Set(ctx, "news", "n", time.Second)
	if !e.IsValid(ctx, "news") {
		t.Fatal("fresh entry should be valid")
	}
	clock.Advance(2 * time.Second)
	if e.IsValid(ctx, "news") {
		t.Fatal("expired entry should be invalid")
	}
	if _, err := s.Get(ctx, "@cache_news"); err != nil {
		t.Fatalf("IsValid must not delete: %v", err)
	}
	if e.IsValid(ctx, "missing") {
		t.Fatal("missing entry should be invalid")
	}
}

func TestPeekIgnoresExpiry(t *testing.T) {
	e, _, clock := newTestEngine(t, 0)
	ctx := context.Background()

	e.Set(ctx, "sponsors", payload{V: 9}, time.Second)
	clock.Advance(time.Hour)

	var got payload
	if !e.Peek(ctx, "sponsors", &got) || got.V != 9 {
		t.Fatalf("Peek = %+v, want stale value", got)
	}
	if !e.Peek(ctx, "sponsors", &got) {
		t.Fatal("Peek must not delete the stale entry")
	}
}

func TestInspectHasNoSideEffects(t *testing.T) {
	e, s, clock := newTestEngine(t, 0)
	ctx := context.Background()

	e.Set(ctx, "news_item_4", payload{V: 4}, time.Minute)
	clock.Advance(2 * time.Minute)
	before := e.Stats()

	m, data, ok := e.Inspect(ctx, "news_item_4")
	if !ok {
		t.Fatal("Inspect should find the expired entry")
	}
	if !m.Expired || m.Key != "@cache_news_item_4" || m.TTLMS != 60000 || m.AgeMS != 120000 {
		t.Errorf("metadata = %+v", m)
	}
	if string(data) != `{"v":4}` {
		t.Errorf("data = %s", data)
	}
	if e.Stats() != before {
		t.Error("Inspect must not change counters")
	}
	if s.Len() != 1 {
		t.Error("Inspect must not delete entries")
	}
	if _, _, ok := e.Inspect(ctx, "missing"); ok {
		t.Error("Inspect of a missing key should report !ok")
	}
}

func TestLookupKeepsExpiredEntries(t *testing.T) {
	e, s, clock := newTestEngine(t, 0)
	ctx := context.Background()

	var got payload
	if found, fresh := e.Lookup(ctx, "sponsors", &got); found || fresh {
		t.Fatal("Lookup on empty cache should find nothing")
	}

	e.Set(ctx, "sponsors", payload{V: 3}, time.Minute)
	if found, fresh := e.Lookup(ctx, "sponsors", &got); !found || !fresh || got.V != 3 {
		t.Fatalf("Lookup = %v/%v %+v, want fresh {V:3}", found, fresh, got)
	}

	clock.Advance(2 * time.Minute)
	got = payload{}
	found, fresh := e.Lookup(ctx, "sponsors", &got)
	if !found || fresh || got.V != 3 {
		t.Fatalf("Lookup after expiry = %v/%v %+v, want stale {V:3}", found, fresh, got)
	}
	if s.Len() != 1 {
		t.Error("Lookup must not delete expired entries")
	}
}

func TestInvalidateAndClearAllOnlyTouchNamespace(t *testing.T) {
	e, s, _ := newTestEngine(t, 0)
	ctx := context.Background()

	_ = s.Set(ctx, "user_settings", `{"theme":"dark"}`)
	_ = s.Set(ctx, "auth_token", "secret")
	e.Set(ctx, "a", 1, time.Minute)
	e.Set(ctx, "b", 2, time.Minute)
	e.Set(ctx, "c", 3, Forever)

	if !e.Invalidate(ctx, "a") || e.Get(ctx, "a", nil) {
		t.Fatal("Invalidate should remove the entry")
	}
	if !e.ClearAll(ctx) {
		t.Fatal("ClearAll failed")
	}
	if len(e.Metadata(ctx)) != 0 {
		t.Error("namespaced entries survived ClearAll")
	}
	if v, err := s.Get(ctx, "user_settings"); err != nil || v != `{"theme":"dark"}` {
		t.Errorf("unrelated key disturbed: %q %v", v, err)
	}
	if _, err := s.Get(ctx, "auth_token"); err != nil {
		t.Errorf("unrelated key removed: %v", err)
	}
}

func TestEvictionRemovesOldestQuarter(t *testing.T) {
	clock := newFakeClock()
	size := encodedSize(t, "payload", clock.Now(), time.Hour)
	s := store.NewMemory()
	var evicted []string
	e := New(s, Options{
		MaxBytes: 4*size + size/2,
		Now:      clock.Now,
		OnEvict:  func(keys []string) { evicted = append(evicted, keys...) },
	})
	ctx := context.Background()

	for i := 1; i <= 4; i++ {
		if !e.Set(ctx, fmt.Sprintf("e%d", i), "payload", time.Hour) {
			t.Fatalf("set e%d failed", i)
		}
		clock.Advance(time.Millisecond)
	}
	if len(evicted) != 0 {
		t.Fatalf("no eviction expected yet, got %v", evicted)
	}

	if !e.Set(ctx, "e5", "payload", time.Hour) {
		t.Fatal("set e5 failed")
	}
	if len(evicted) != 1 || evicted[0] != "@cache_e1" {
		t.Fatalf("evicted = %v, want [@cache_e1]", evicted)
	}
	for i := 2; i <= 5; i++ {
		if !e.Get(ctx, fmt.Sprintf("e%d", i), nil) {
			t.Errorf("e%d should have survived eviction", i)
		}
	}
	if total := e.TotalSize(ctx); total > e.MaxBytes() {
		t.Errorf("total %d exceeds budget %d", total, e.MaxBytes())
	}
	if e.Stats().Evictions != 1 {
		t.Errorf("Evictions = %d, want 1", e.Stats().Evictions)
	}
}

func TestEvictionOrdersByWriteTimeNotAccess(t *testing.T) {
	clock := newFakeClock()
	size := encodedSize(t, "payload", clock.Now(), time.Hour)
	s := store.NewMemory()
	var evicted []string
	e := New(s, Options{
		MaxBytes: 3*size + size/2,
		Now:      clock.Now,
		OnEvict:  func(keys []string) { evicted = append(evicted, keys...) },
	})
	ctx := context.Background()

	for _, k := range []string{"old", "mid", "new"} {
		e.Set(ctx, k, "payload", time.Hour)
		clock.Advance(time.Millisecond)
	}
	// reading does not refresh the write timestamp
	e.Get(ctx, "old", nil)
	// rewriting does
	e.Set(ctx, "mid", "payload", time.Hour)
	clock.Advance(time.Millisecond)

	e.Set(ctx, "next", "payload", time.Hour)
	if len(evicted) != 1 || evicted[0] != "@cache_old" {
		t.Fatalf("evicted = %v, want [@cache_old]", evicted)
	}
}

func TestOverwriteDoesNotDoubleCount(t *testing.T) {
	clock := newFakeClock()
	size := encodedSize(t, "payload", clock.Now(), time.Hour)
	var evicted []string
	e := New(store.NewMemory(), Options{
		MaxBytes: size,
		Now:      clock.Now,
		OnEvict:  func(keys []string) { evicted = append(evicted, keys...) },
	})
	ctx := context.Background()

	e.Set(ctx, "k", "payload", time.Hour)
	e.Set(ctx, "k", "payload", time.Hour)
	if len(evicted) != 0 {
		t.Fatalf("replacing an entry of equal size must not evict, got %v", evicted)
	}
}

func TestBudgetNeverExceeded(t *testing.T) {
	e, _, clock := newTestEngine(t, 4096)
	ctx := context.Background()
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 300; i++ {
		body := make([]rune, rng.Intn(300))
		for j := range body {
			body[j] = []rune("aé日🎉")[rng.Intn(4)]
		}
		e.Set(ctx, fmt.Sprintf("k%d", rng.Intn(40)), string(body), time.Duration(rng.Intn(5000))*time.Millisecond)
		clock.Advance(time.Duration(rng.Intn(20)) * time.Millisecond)

		if total := e.TotalSize(ctx); total > e.MaxBytes() {
			t.Fatalf("step %d: total %d exceeds budget %d", i, total, e.MaxBytes())
		}
	}
}

func TestOversizedEntryRejected(t *testing.T) {
	e, _, _ := newTestEngine(t, 64)
	ctx := context.Background()

	e.Set(ctx, "small", 1, time.Minute)
	if e.Set(ctx, "huge", string(make([]byte, 200)), time.Minute) {
		t.Fatal("entry larger than the budget should be rejected")
	}
	if !e.Get(ctx, "small", nil) {
		t.Error("rejecting an oversized entry must not evict others")
	}
}

func TestSizeCountsUTF8Bytes(t *testing.T) {
	e, s, _ := newTestEngine(t, 0)
	ctx := context.Background()

	e.Set(ctx, "utf8", "日本語のニュース🎉", time.Minute)
	raw, _ := s.Get(ctx, "@cache_utf8")
	md := e.Metadata(ctx)
	if len(md) != 1 {
		t.Fatalf("metadata = %+v", md)
	}
	if md[0].Size != int64(len(raw)) {
		t.Errorf("size = %d, want byte length %d", md[0].Size, len(raw))
	}
	if md[0].Size <= int64(utf8.RuneCountInString(raw)) {
		t.Errorf("size %d should exceed character count %d", md[0].Size, utf8.RuneCountInString(raw))
	}
}

func TestCorruptEntryTreatedAsMissAndDeleted(t *testing.T) {
	e, s, _ := newTestEngine(t, 0)
	ctx := context.Background()

	_ = s.Set(ctx, "@cache_bad", "{not json")
	_ = s.Set(ctx, "@cache_nodata", `{"timestamp":1,"ttl":-1}`)

	md := e.Metadata(ctx)
	if len(md) != 2 || !md[0].Corrupt || !md[0].Expired {
		t.Fatalf("corrupt entries should be flagged: %+v", md)
	}
	if e.Get(ctx, "bad", nil) {
		t.Fatal("corrupt entry should miss")
	}
	if _, err := s.Get(ctx, "@cache_bad"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("corrupt entry should be deleted on read, got %v", err)
	}
	if n := e.SweepExpired(ctx); n != 1 {
		t.Errorf("SweepExpired removed %d, want 1", n)
	}
}

func TestSweepExpired(t *testing.T) {
	e, _, clock := newTestEngine(t, 0)
	ctx := context.Background()

	e.Set(ctx, "short", 1, time.Second)
	e.Set(ctx, "long", 2, time.Hour)
	e.Set(ctx, "forever", 3, Forever)
	clock.Advance(time.Minute)

	if n := e.SweepExpired(ctx); n != 1 {
		t.Fatalf("SweepExpired = %d, want 1", n)
	}
	md := e.Metadata(ctx)
	if len(md) != 2 {
		t.Fatalf("metadata after sweep = %+v", md)
	}
	for _, m := range md {
		if m.Expired {
			t.Errorf("%s still expired after sweep", m.Key)
		}
		if m.Key == "@cache_long" && m.AgeMS != time.Minute.Milliseconds() {
			t.Errorf("age = %d, want %d", m.AgeMS, time.Minute.Milliseconds())
		}
	}
}

func TestStorageFailuresDegrade(t *testing.T) {
	e, s, _ := newTestEngine(t, 0)
	ctx := context.Background()
	e.Set(ctx, "ok", 1, time.Minute)

	s.Fail = func(op, key string) error { return errors.New("device storage unavailable") }

	if e.Set(ctx, "x", 1, time.Minute) {
		t.Error("Set should report failure")
	}
	if e.Get(ctx, "ok", nil) {
		t.Error("Get should miss when the store fails")
	}
	if e.IsValid(ctx, "ok") {
		t.Error("IsValid should be false when the store fails")
	}
	if e.ClearAll(ctx) {
		t.Error("ClearAll should report failure")
	}
	if e.TotalSize(ctx) != 0 || e.Metadata(ctx) != nil {
		t.Error("size and metadata should degrade to empty")
	}
	if e.Stats().Errors == 0 {
		t.Error("errors should be counted")
	}
}

func TestUnserializableDataRejected(t *testing.T) {
	e, _, _ := newTestEngine(t, 0)
	if e.Set(context.Background(), "fn", func() {}, time.Minute) {
		t.Fatal("functions cannot be serialized")
	}
	if e.Stats().Rejected != 1 {
		t.Errorf("Rejected = %d, want 1", e.Stats().Rejected)
	}
}

func TestEvictionCount(t *testing.T) {
	tests := []struct {
		n    int
		want int
	}{
		{0, 0},
		{1, 1},
		{3, 1},
		{4, 1},
		{5, 2},
		{8, 2},
		{9, 3},
		{100, 25},
	}
	for _, tt := range tests {
		if got := evictionCount(tt.n, 0.25); got != tt.want {
			t.Errorf("evictionCount(%d) = %d, want %d", tt.n, got, tt.want)
		}
	}
}

func TestConcurrentSetsRespectBudget(t *testing.T) {
	e, _, _ := newTestEngine(t, 2048)
	ctx := context.Background()

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				e.Set(ctx, fmt.Sprintf("g%d-%d", g, i), "some cached payload body", time.Minute)
			}
		}(g)
	}
	wg.Wait()

	if total := e.TotalSize(ctx); total > e.MaxBytes() {
		t.Fatalf("total %d exceeds budget %d", total, e.MaxBytes())
	}
}

func TestUpdateKeepsTimestampAndTTL(t *testing.T) {
	e, _, clock := newTestEngine(t, 1<<20)
	ctx := context.Background()

	if e.Update(ctx, "missing", "x") {
		t.Error("Update should not create entries")
	}

	e.Set(ctx, "notifications", []string{"unread"}, time.Minute)
	clock.Advance(30 * time.Second)
	if !e.Update(ctx, "notifications", []string{"read"}) {
		t.Fatal("Update failed")
	}
	m, _, ok := e.Inspect(ctx, "notifications")
	if !ok || m.AgeMS != 30_000 || m.TTLMS != 60_000 {
		t.Errorf("age/ttl changed: %+v", m)
	}

	clock.Advance(time.Hour)
	if !e.Update(ctx, "notifications", []string{"read", "again"}) {
		t.Fatal("Update of an expired entry failed")
	}
	if e.IsValid(ctx, "notifications") {
		t.Error("an expired entry must stay expired after Update")
	}
	var got []string
	if !e.Peek(ctx, "notifications", &got) || len(got) != 2 {
		t.Errorf("data not replaced: %v", got)
	}
}
