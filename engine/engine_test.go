package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"

	"ubcore/config"
	"ubcore/lifecycle"
	"ubcore/metrics"
	"ubcore/statecache"
	"ubcore/store"
)

func testDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(&config.DatabaseConfig{
		Driver: "sqlite",
		SQLite: config.SQLiteConfig{Path: filepath.Join(t.TempDir(), "test.db")},
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

type memCache struct {
	mu    sync.Mutex
	snaps map[string]statecache.Snapshot
	tombs map[string]bool
}

func (c *memCache) Set(_ context.Context, s *statecache.Snapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tombs[s.ID] {
		return nil
	}
	if cur, ok := c.snaps[s.ID]; ok && cur.Version > s.Version {
		return nil
	}
	c.snaps[s.ID] = *s
	return nil
}

func (c *memCache) Get(_ context.Context, id string) (*statecache.Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.snaps[id]; ok {
		return &s, nil
	}
	return nil, nil
}

func (c *memCache) Remove(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.snaps, id)
	c.tombs[id] = true
	return nil
}

func (c *memCache) IDs(context.Context) ([]string, error) { return nil, nil }

func (c *memCache) FlushAll(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snaps = map[string]statecache.Snapshot{}
	return nil
}

func (c *memCache) Ping(context.Context) error { return nil }

func (c *memCache) status(id string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.snaps[id]
	return s.Status, ok
}

func TestEventBusFiltering(t *testing.T) {
	bus := NewEventBus()
	var all, created int
	bus.Subscribe(func(Event) { all++ })
	id := bus.Subscribe(func(Event) { created++ }, EventEntityCreated)

	bus.Emit(Event{Type: EventEntityCreated})
	bus.Emit(Event{Type: EventEntityDeleted})
	bus.Unsubscribe(id)
	bus.Emit(Event{Type: EventEntityCreated})

	if all != 3 || created != 1 {
		t.Errorf("all = %d, created = %d", all, created)
	}
}

func TestEventBusSurvivesPanics(t *testing.T) {
	bus := NewEventBus()
	var after bool
	bus.Subscribe(func(Event) { panic("boom") })
	bus.Subscribe(func(evt Event) {
		after = !evt.Timestamp.IsZero()
	})
	bus.Emit(Event{Type: EventJobProgress})
	if !after {
		t.Error("later subscriber skipped or timestamp unset")
	}
}

func newEngine(t *testing.T) (*Engine, *memCache, *[]string) {
	t.Helper()
	cache := &memCache{snaps: map[string]statecache.Snapshot{}, tombs: map[string]bool{}}
	var mu sync.Mutex
	var logs []string
	e := New(Config{
		DB:      testDB(t),
		Cache:   cache,
		Metrics: metrics.NewCollector(),
		LogFunc: func(format string, args ...any) {
			mu.Lock()
			logs = append(logs, fmt.Sprintf(format, args...))
			mu.Unlock()
		},
	})
	e.Start()
	t.Cleanup(e.Stop)
	return e, cache, &logs
}

func TestCacheFollowsCommittedChanges(t *testing.T) {
	e, cache, _ := newEngine(t)
	m := e.Machine()
	ctx := context.Background()

	c, err := m.RegisterClient(ctx, lifecycle.ClientInput{Name: "Ada"}, "admin")
	if err != nil {
		t.Fatal(err)
	}
	o, err := m.CreateOrder(ctx, lifecycle.OrderInput{Owner: c.ID, OrderType: lifecycle.OrderTypeProduct, TotalAmount: decimal.NewFromInt(3)}, "admin")
	if err != nil {
		t.Fatal(err)
	}
	j, err := m.CreatePrintJob(ctx, lifecycle.JobInput{OrderID: o.ID}, "admin")
	if err != nil {
		t.Fatal(err)
	}
	if s, ok := cache.status(j.ID); !ok || s != lifecycle.JobQueued {
		t.Fatalf("job snapshot after create = %q, %v", s, ok)
	}

	if _, err := m.Transition(ctx, lifecycle.TransitionRequest{ID: o.ID, Target: lifecycle.FulfillmentCancelled, Actor: "admin"}); err != nil {
		t.Fatal(err)
	}
	if s, _ := cache.status(o.ID); s != lifecycle.FulfillmentCancelled {
		t.Errorf("order snapshot = %s", s)
	}
	if s, _ := cache.status(j.ID); s != lifecycle.JobCancelled {
		t.Errorf("cascaded job snapshot = %s", s)
	}

	if n := testutil.CollectAndCount(e.Metrics(), "ubcore_transitions_total"); n != 2 {
		t.Errorf("transition series = %d, want order + job", n)
	}

	if _, err := m.Delete(ctx, o.ID, "admin"); err != nil {
		t.Fatal(err)
	}
	if _, ok := cache.status(o.ID); ok {
		t.Error("deleted order still cached")
	}
	if _, ok := cache.status(j.ID); ok {
		t.Error("cascade-deleted job still cached")
	}
}

func TestHealth(t *testing.T) {
	e, _, logs := newEngine(t)
	if _, err := e.Machine().RegisterClient(context.Background(), lifecycle.ClientInput{Name: "Ada"}, "admin"); err != nil {
		t.Fatal(err)
	}
	h := e.Health(context.Background())
	if !h.OK() || h.Messaging != "disabled" || h.Cache != "ok" {
		t.Errorf("health = %+v", h)
	}
	if h.OutboxPending != 1 {
		t.Errorf("outbox pending = %d", h.OutboxPending)
	}
	if e.Drainer() != nil {
		t.Error("drainer built without a broker")
	}
	if !strings.Contains(strings.Join(*logs, "\n"), "engine: started") {
		t.Errorf("logs = %q", *logs)
	}
}
