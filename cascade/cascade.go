// Package cascade propagates deletes and status changes from a parent entity
// to its dependents.
//
// Every rule matching a trigger runs inside the trigger's transaction. Block
// rules are all evaluated before any mutating rule touches a row, and a
// failure anywhere aborts the whole trigger.
package cascade

import (
	"context"
	"errors"
	"fmt"

	"github.com/juju/clock"

	"ubcore/ident"
	"ubcore/lifecycle"
	"ubcore/store"
)

var (
	// ErrCascadeFailed is matched by every cascade failure.
	ErrCascadeFailed = errors.New("cascade failed")

	// ErrBlocked means a block rule refused the trigger. It also matches
	// ErrCascadeFailed.
	ErrBlocked = errors.New("blocked by dependent")
)

// Error carries the rule and dependent that stopped a cascade.
type Error struct {
	Trigger lifecycle.Trigger
	Rule    string
	ChildID string
	Blocked bool
	Err     error
}

func (e *Error) Error() string {
	if e.Blocked {
		return fmt.Sprintf("%s: %s blocked by %s (rule %s)", ErrCascadeFailed, e.Trigger, e.ChildID, e.Rule)
	}
	return fmt.Sprintf("%s: %s: rule %s on %s: %v", ErrCascadeFailed, e.Trigger, e.Rule, e.ChildID, e.Err)
}

func (e *Error) Is(target error) bool {
	return target == ErrCascadeFailed || (e.Blocked && target == ErrBlocked)
}

func (e *Error) Unwrap() error { return e.Err }

// Recorder observes applied and blocked rules.
type Recorder interface {
	CascadeApplied(rule string, effects int)
	CascadeBlocked(rule string)
}

type Option func(*Engine)

func WithRules(rules []Rule) Option { return func(e *Engine) { e.rules = rules } }

func WithRecorder(r Recorder) Option { return func(e *Engine) { e.recorder = r } }

func WithClock(c clock.Clock) Option { return func(e *Engine) { e.clock = c } }

// Engine evaluates a rule table against triggers. It satisfies
// lifecycle.Cascader.
type Engine struct {
	rules    []Rule
	recorder Recorder
	clock    clock.Clock
}

func New(opts ...Option) *Engine {
	e := &Engine{rules: DefaultRules(), clock: clock.WallClock}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

var _ lifecycle.Cascader = (*Engine)(nil)

// Rules returns the engine's rule table.
func (e *Engine) Rules() []Rule { return append([]Rule(nil), e.rules...) }

// Apply runs every rule matching t and returns the effects in the order they
// were applied. Transition effects recurse into the dependent's own rules.
func (e *Engine) Apply(ctx context.Context, tx *store.Tx, t lifecycle.Trigger) ([]lifecycle.Effect, error) {
	var matched []Rule
	for _, r := range e.rules {
		if r.matches(t) {
			matched = append(matched, r)
		}
	}
	if len(matched) == 0 {
		return nil, nil
	}

	for _, r := range matched {
		if r.Policy != PolicyBlock {
			continue
		}
		deps, err := dependents(ctx, tx, t.ID, r.Child)
		if err != nil {
			return nil, &Error{Trigger: t, Rule: r.Name, ChildID: t.ID, Err: err}
		}
		for _, d := range deps {
			if r.selects(d.status) {
				if e.recorder != nil {
					e.recorder.CascadeBlocked(r.Name)
				}
				return nil, &Error{Trigger: t, Rule: r.Name, ChildID: d.id, Blocked: true}
			}
		}
	}

	var effects []lifecycle.Effect
	for _, r := range matched {
		if r.Policy == PolicyBlock {
			continue
		}
		applied, err := e.applyRule(ctx, tx, t, r)
		if err != nil {
			return nil, err
		}
		if e.recorder != nil && len(applied) > 0 {
			e.recorder.CascadeApplied(r.Name, len(applied))
		}
		effects = append(effects, applied...)
	}
	return effects, nil
}

func (e *Engine) applyRule(ctx context.Context, tx *store.Tx, t lifecycle.Trigger, r Rule) ([]lifecycle.Effect, error) {
	deps, err := dependents(ctx, tx, t.ID, r.Child)
	if err != nil {
		return nil, &Error{Trigger: t, Rule: r.Name, ChildID: t.ID, Err: err}
	}
	var effects []lifecycle.Effect
	for _, d := range deps {
		if !r.selects(d.status) {
			continue
		}
		var applied []lifecycle.Effect
		switch r.Policy {
		case PolicyDelete:
			err = deleteDependent(ctx, tx, r.Child, d.id)
			applied = []lifecycle.Effect{{Kind: r.Child, ID: d.id, Action: lifecycle.ActionDeleted, From: d.status, Rule: r.Name}}
		case PolicyNullify:
			err = nullifyDependent(ctx, tx, r.Child, d)
			applied = []lifecycle.Effect{{Kind: r.Child, ID: d.id, Action: lifecycle.ActionNullified, Rule: r.Name}}
		case PolicyTransition:
			applied, err = e.transitionDependent(ctx, tx, r, d)
		default:
			err = fmt.Errorf("unknown policy %q", r.Policy)
		}
		if err != nil {
			var ce *Error
			if errors.As(err, &ce) {
				return nil, err
			}
			return nil, &Error{Trigger: t, Rule: r.Name, ChildID: d.id, Err: err}
		}
		effects = append(effects, applied...)
	}
	return effects, nil
}

// transitionDependent moves one dependent to the rule's target and then
// applies the dependent's own rules for that edge.
func (e *Engine) transitionDependent(ctx context.Context, tx *store.Tx, r Rule, d dependent) ([]lifecycle.Effect, error) {
	var axis string
	switch r.Child {
	case ident.KindOrder:
		axis = lifecycle.AxisFulfillment
		if err := lifecycle.FulfillmentStatuses.Check(d.status, r.Target); err != nil {
			return nil, err
		}
		if err := tx.UpdateOrderFulfillment(ctx, d.id, r.Target, d.version); err != nil {
			return nil, err
		}
	case ident.KindJob:
		axis = lifecycle.AxisStatus
		if err := lifecycle.JobStatuses.Check(d.status, r.Target); err != nil {
			return nil, err
		}
		u := store.JobStatusUpdate{Status: r.Target, Version: d.version}
		if lifecycle.JobStatuses.IsTerminal(r.Target) {
			now := e.clock.Now()
			u.CompletedAt = &now
		}
		if err := tx.UpdatePrintJobStatus(ctx, d.id, u); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%s has no cascading transitions", r.Child)
	}

	effects := []lifecycle.Effect{{
		Kind: r.Child, ID: d.id, Action: lifecycle.ActionTransitioned, From: d.status, To: r.Target, Rule: r.Name,
	}}
	nested, err := e.Apply(ctx, tx, lifecycle.Trigger{
		Kind: r.Child, ID: d.id, Op: lifecycle.OpTransition, Axis: axis, From: d.status, To: r.Target,
	})
	if err != nil {
		return nil, err
	}
	return append(effects, nested...), nil
}
