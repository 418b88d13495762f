// Package statecache keeps a Redis copy of entity statuses for fast reads.
//
// SQL stays authoritative. The cache is written after a change commits and is
// never consulted when deciding whether a transition is allowed.
package statecache

import (
	"context"
	"errors"
	"fmt"
	"log"

	"ubcore/ident"
	"ubcore/lifecycle"
	"ubcore/store"
)

// ErrNotTracked is returned for kinds without a status.
var ErrNotTracked = errors.New("entity kind has no cached status")

// Backend stores snapshots. RedisStore is the production implementation.
//
// Set must not replace a snapshot with a lower version, and must not store
// anything for an ID that Remove has tombstoned. FlushAll clears snapshots
// without tombstoning them.
type Backend interface {
	Set(ctx context.Context, s *Snapshot) error
	Get(ctx context.Context, id string) (*Snapshot, error)
	Remove(ctx context.Context, id string) error
	IDs(ctx context.Context) ([]string, error)
	FlushAll(ctx context.Context) error
	Ping(ctx context.Context) error
}

// Manager provides write-through status snapshots: SQL first, then the cache.
// A nil backend disables caching and every read goes to SQL.
type Manager struct {
	db    *store.DB
	cache Backend
}

func NewManager(db *store.DB, cache Backend) *Manager {
	return &Manager{db: db, cache: cache}
}

func (m *Manager) Enabled() bool { return m.cache != nil }

// Get reads a snapshot from the cache and falls back to SQL on a miss or a
// cache failure. SQL reads repopulate the cache.
func (m *Manager) Get(ctx context.Context, id string) (*Snapshot, error) {
	if _, err := tracked(id); err != nil {
		return nil, err
	}
	if m.cache != nil {
		s, err := m.cache.Get(ctx, id)
		if err == nil && s != nil {
			return s, nil
		}
		if err != nil {
			log.Printf("statecache: get %s: %v", id, err)
		}
	}
	s, err := m.load(ctx, id)
	if err != nil {
		return nil, err
	}
	m.put(ctx, s)
	return s, nil
}

// Refresh rewrites the snapshot of id from SQL. Kinds without a status are
// ignored.
func (m *Manager) Refresh(ctx context.Context, id string) {
	if m.cache == nil {
		return
	}
	if _, err := tracked(id); err != nil {
		return
	}
	s, err := m.load(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		m.Remove(ctx, id)
		return
	}
	if err != nil {
		log.Printf("statecache: refresh %s: %v", id, err)
		return
	}
	m.put(ctx, s)
}

func (m *Manager) Remove(ctx context.Context, id string) {
	if m.cache == nil {
		return
	}
	if err := m.cache.Remove(ctx, id); err != nil {
		log.Printf("statecache: remove %s: %v", id, err)
	}
}

// Sync rebuilds the cache from SQL with every order and print job that has
// not reached a terminal status. Called on startup.
func (m *Manager) Sync(ctx context.Context) (int, error) {
	if m.cache == nil {
		return 0, nil
	}
	if err := m.cache.FlushAll(ctx); err != nil {
		return 0, fmt.Errorf("statecache: flush: %w", err)
	}

	tx := m.db.Direct()
	n := 0
	for _, status := range lifecycle.FulfillmentStatuses.Statuses() {
		if lifecycle.FulfillmentStatuses.IsTerminal(status) {
			continue
		}
		orders, err := tx.ListOrders(ctx, "", status, 0)
		if err != nil {
			return n, err
		}
		for _, o := range orders {
			if err := m.cache.Set(ctx, orderSnapshot(o)); err != nil {
				return n, fmt.Errorf("statecache: set %s: %w", o.ID, err)
			}
			n++
		}
	}

	var open []string
	for _, status := range lifecycle.JobStatuses.Statuses() {
		if !lifecycle.JobStatuses.IsTerminal(status) {
			open = append(open, status)
		}
	}
	jobs, err := tx.ListPrintJobs(ctx, open...)
	if err != nil {
		return n, err
	}
	for _, j := range jobs {
		if err := m.cache.Set(ctx, jobSnapshot(j)); err != nil {
			return n, fmt.Errorf("statecache: set %s: %w", j.ID, err)
		}
		n++
	}
	log.Printf("statecache: synced %d entities to redis", n)
	return n, nil
}

func (m *Manager) Healthy(ctx context.Context) error {
	if m.cache == nil {
		return nil
	}
	return m.cache.Ping(ctx)
}

func (m *Manager) put(ctx context.Context, s *Snapshot) {
	if m.cache == nil {
		return
	}
	if err := m.cache.Set(ctx, s); err != nil {
		log.Printf("statecache: set %s: %v", s.ID, err)
	}
}

func (m *Manager) load(ctx context.Context, id string) (*Snapshot, error) {
	kind, err := tracked(id)
	if err != nil {
		return nil, err
	}
	tx := m.db.Direct()
	switch kind {
	case ident.KindProject:
		p, err := tx.GetProject(ctx, id)
		if err != nil {
			return nil, err
		}
		return &Snapshot{ID: p.ID, Kind: string(kind), Status: p.Status, Version: p.Version, UpdatedAt: p.UpdatedAt}, nil
	case ident.KindOrder:
		o, err := tx.GetOrder(ctx, id)
		if err != nil {
			return nil, err
		}
		return orderSnapshot(o), nil
	default:
		j, err := tx.GetPrintJob(ctx, id)
		if err != nil {
			return nil, err
		}
		return jobSnapshot(j), nil
	}
}

func tracked(id string) (ident.Kind, error) {
	parsed, err := ident.Parse(id)
	if err != nil {
		return "", err
	}
	switch parsed.Kind {
	case ident.KindProject, ident.KindOrder, ident.KindJob:
		return parsed.Kind, nil
	}
	return "", fmt.Errorf("%w: %s", ErrNotTracked, parsed.Kind)
}

func orderSnapshot(o *store.Order) *Snapshot {
	return &Snapshot{
		ID: o.ID, Kind: string(ident.KindOrder), Status: o.FulfillmentStatus, PaymentStatus: o.PaymentStatus,
		Version: o.Version, UpdatedAt: o.UpdatedAt,
	}
}

func jobSnapshot(j *store.PrintJob) *Snapshot {
	return &Snapshot{ID: j.ID, Kind: string(ident.KindJob), Status: j.Status, Version: j.Version, UpdatedAt: j.UpdatedAt}
}
