package ident

import (
	"context"
	"fmt"
	"time"

	"github.com/juju/clock"
	"github.com/juju/retry"

	"ubcore/store"
)

// Recorder observes allocation outcomes. attempts counts every
// read-compare-swap round, including the successful one.
type Recorder interface {
	AllocationSucceeded(kind Kind, attempts int)
	AllocationFailed(kind Kind, reason string)
}

type Option func(*Allocator)

// WithAttempts bounds the compare-and-swap rounds per allocation.
func WithAttempts(n int) Option {
	return func(a *Allocator) {
		if n > 0 {
			a.attempts = n
		}
	}
}

// WithDelay sets the pause between conflicting rounds.
func WithDelay(d time.Duration) Option {
	return func(a *Allocator) {
		if d > 0 {
			a.delay = d
		}
	}
}

// WithTimeout applies a deadline to allocations whose context has none.
func WithTimeout(d time.Duration) Option {
	return func(a *Allocator) { a.timeout = d }
}

func WithClock(c clock.Clock) Option {
	return func(a *Allocator) { a.clock = c }
}

func WithRecorder(r Recorder) Option {
	return func(a *Allocator) { a.recorder = r }
}

// Allocator hands out identifiers from the counter store.
type Allocator struct {
	db       *store.DB
	attempts int
	delay    time.Duration
	timeout  time.Duration
	clock    clock.Clock
	recorder Recorder

	// beforeWrite runs between reading a counter and writing it back.
	beforeWrite func()
}

func NewAllocator(db *store.DB, opts ...Option) *Allocator {
	a := &Allocator{
		db:       db,
		attempts: 5,
		delay:    10 * time.Millisecond,
		clock:    clock.WallClock,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Allocate issues the next identifier for (kind, year, owner). The counter
// increment is committed before the identifier is returned, so a value is
// never issued twice even if the caller then fails to use it.
func (a *Allocator) Allocate(ctx context.Context, kind Kind, year, owner string) (Identifier, error) {
	scope, err := NewScope(kind, year, owner)
	if err != nil {
		return Identifier{}, err
	}
	ctx, cancel := a.withDeadline(ctx)
	defer cancel()
	return a.allocate(ctx, a.db.Direct(), scope)
}

// AllocateTx issues the next identifier inside tx. The increment commits or
// rolls back with the caller's transaction.
func (a *Allocator) AllocateTx(ctx context.Context, tx *store.Tx, scope Scope) (Identifier, error) {
	if _, err := NewScope(scope.Kind, scope.Year, scope.Owner); err != nil {
		return Identifier{}, err
	}
	return a.allocate(ctx, tx, scope)
}

func (a *Allocator) withDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok || a.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, a.timeout)
}

func (a *Allocator) allocate(ctx context.Context, tx *store.Tx, scope Scope) (Identifier, error) {
	key := scope.key()
	var next int64
	var last error
	rounds := 0

	err := retry.Call(retry.CallArgs{
		Func: func() error {
			rounds++
			last = a.round(ctx, tx, key, &next)
			return last
		},
		IsFatalError: func(err error) bool {
			return !store.IsConflict(err)
		},
		Attempts: a.attempts,
		Delay:    a.delay,
		Clock:    a.clock,
		Stop:     ctx.Done(),
	})
	if err != nil {
		return Identifier{}, a.fail(ctx, scope, rounds, err, last)
	}
	if a.recorder != nil {
		a.recorder.AllocationSucceeded(scope.Kind, rounds)
	}
	return Identifier{Scope: scope, Seq: next}, nil
}

// round is one read-compare-swap attempt.
func (a *Allocator) round(ctx context.Context, tx *store.Tx, key store.CounterKey, next *int64) error {
	cur, found, err := tx.ReadCounter(ctx, key)
	if err != nil {
		return err
	}
	if a.beforeWrite != nil {
		a.beforeWrite()
	}
	*next = cur + 1
	if !found {
		return tx.InsertCounter(ctx, key, *next)
	}
	return tx.SwapCounter(ctx, key, cur, *next)
}

// fail maps a retry outcome onto the allocator's errors. last is the error
// of the final round.
func (a *Allocator) fail(ctx context.Context, scope Scope, rounds int, err, last error) error {
	var reason string
	switch {
	case retry.IsAttemptsExceeded(err):
		reason = "contention"
		err = fmt.Errorf("allocate %s: %w: counter still contended after %d attempts", scope, store.ErrStoreUnavailable, rounds)
	case retry.IsRetryStopped(err):
		reason = "deadline"
		err = fmt.Errorf("allocate %s: %w: %w", scope, store.ErrStoreUnavailable, ctx.Err())
	default:
		reason = "store"
		err = fmt.Errorf("allocate %s: %w", scope, last)
	}
	if a.recorder != nil {
		a.recorder.AllocationFailed(scope.Kind, reason)
	}
	return err
}
