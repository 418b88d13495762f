// Package lifecycle moves projects, orders and print jobs through their
// status tables and creates, deletes and reads every entity kind.
//
// Each operation runs in one store transaction: the versioned status write,
// the cascade onto dependents, the audit rows and the outbox messages commit
// or roll back together. Emitter callbacks run only after commit.
package lifecycle

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/juju/clock"
	"github.com/juju/retry"

	"ubcore/ident"
	"ubcore/protocol"
	"ubcore/store"
)

// Trigger ops.
const (
	OpDelete     = "delete"
	OpTransition = "transition"
)

// Effect actions.
const (
	ActionDeleted      = "deleted"
	ActionNullified    = "nullified"
	ActionTransitioned = "transitioned"
)

// Trigger describes the parent change a cascade reacts to. For OpTransition
// the parent row has already been written when the cascade runs.
type Trigger struct {
	Kind ident.Kind
	ID   string
	Op   string
	Axis string
	From string
	To   string
}

func (t Trigger) String() string {
	if t.Op == OpDelete {
		return fmt.Sprintf("delete %s", t.Kind)
	}
	return fmt.Sprintf("%s %s -> %s", t.Kind, t.Axis, t.To)
}

// Effect is one dependent change applied on behalf of a trigger.
type Effect struct {
	Kind   ident.Kind `json:"kind"`
	ID     string     `json:"id"`
	Action string     `json:"action"`
	From   string     `json:"from,omitempty"`
	To     string     `json:"to,omitempty"`
	Rule   string     `json:"rule"`
}

// Cascader applies dependent effects inside the triggering transaction.
type Cascader interface {
	Apply(ctx context.Context, tx *store.Tx, t Trigger) ([]Effect, error)
}

// Emitter receives committed changes.
type Emitter interface {
	EmitEntityCreated(kind ident.Kind, id, owner, status, actor string)
	EmitEntityTransitioned(kind ident.Kind, id, axis, from, to, actor string, version int64)
	EmitEntityDeleted(kind ident.Kind, id, actor string)
	EmitCascadeApplied(triggerID string, effects []Effect)
	EmitJobProgress(id string, progress int)
}

type nopEmitter struct{}

func (nopEmitter) EmitEntityCreated(ident.Kind, string, string, string, string)                  {}
func (nopEmitter) EmitEntityTransitioned(ident.Kind, string, string, string, string, string, int64) {}
func (nopEmitter) EmitEntityDeleted(ident.Kind, string, string)                                  {}
func (nopEmitter) EmitCascadeApplied(string, []Effect)                                            {}
func (nopEmitter) EmitJobProgress(string, int)                                                    {}

type Option func(*Machine)

func WithCascader(c Cascader) Option { return func(m *Machine) { m.cascade = c } }

func WithEmitter(e Emitter) Option { return func(m *Machine) { m.emitter = e } }

// WithOutbox sets the topic outbox rows are addressed to and the node name
// stamped on their envelopes.
func WithOutbox(topic, node string) Option {
	return func(m *Machine) {
		m.topic = topic
		m.node = node
	}
}

// WithStoreTimeout applies d to operations whose context has no deadline.
func WithStoreTimeout(d time.Duration) Option { return func(m *Machine) { m.timeout = d } }

// WithRetry bounds the re-read rounds after a version conflict.
func WithRetry(attempts int, delay time.Duration) Option {
	return func(m *Machine) {
		if attempts > 0 {
			m.attempts = attempts
		}
		if delay > 0 {
			m.delay = delay
		}
	}
}

func WithQuoteValidity(d time.Duration) Option {
	return func(m *Machine) {
		if d > 0 {
			m.quoteValidity = d
		}
	}
}

func WithClock(c clock.Clock) Option { return func(m *Machine) { m.clock = c } }

type Machine struct {
	db            *store.DB
	alloc         *ident.Allocator
	cascade       Cascader
	emitter       Emitter
	topic         string
	node          string
	timeout       time.Duration
	attempts      int
	delay         time.Duration
	quoteValidity time.Duration
	clock         clock.Clock
}

func New(db *store.DB, alloc *ident.Allocator, opts ...Option) *Machine {
	m := &Machine{
		db:            db,
		alloc:         alloc,
		cascade:       noCascade{},
		emitter:       nopEmitter{},
		topic:         "ubcore.events",
		node:          "core",
		timeout:       5 * time.Second,
		attempts:      5,
		delay:         10 * time.Millisecond,
		quoteValidity: 30 * 24 * time.Hour,
		clock:         clock.WallClock,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

type noCascade struct{}

func (noCascade) Apply(context.Context, *store.Tx, Trigger) ([]Effect, error) { return nil, nil }

// TransitionRequest asks for one entity to move to Target. Axis selects the
// order status column and defaults to fulfillment; other kinds ignore an
// empty axis and reject any other.
type TransitionRequest struct {
	ID     string `json:"id"`
	Axis   string `json:"axis,omitempty"`
	Target string `json:"target"`
	Actor  string `json:"actor,omitempty"`
}

// Outcome reports a transition. Changed is false when the entity was already
// in the target status; nothing was written in that case.
type Outcome struct {
	Kind    ident.Kind `json:"kind"`
	ID      string     `json:"id"`
	Axis    string     `json:"axis"`
	From    string     `json:"from"`
	To      string     `json:"to"`
	Changed bool       `json:"changed"`
	Version int64      `json:"version"`
	Effects []Effect   `json:"effects"`
	Entity  any        `json:"entity"`
}

// Transition moves an entity along one of its status axes and applies the
// cascade rules for the edge taken.
func (m *Machine) Transition(ctx context.Context, req TransitionRequest) (*Outcome, error) {
	id, err := ident.Parse(req.ID)
	if err != nil {
		return nil, err
	}
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	var out *Outcome
	err = m.retryConflicts(ctx, func() error {
		return m.db.WithTx(ctx, func(tx *store.Tx) error {
			var err error
			out, err = m.transition(ctx, tx, id, req)
			return err
		})
	})
	if err != nil {
		return nil, fmt.Errorf("transition %s: %w", req.ID, err)
	}
	if out.Changed {
		m.emitter.EmitEntityTransitioned(out.Kind, out.ID, out.Axis, out.From, out.To, req.Actor, out.Version)
		if len(out.Effects) > 0 {
			m.emitter.EmitCascadeApplied(out.ID, out.Effects)
		}
	}
	return out, nil
}

func (m *Machine) transition(ctx context.Context, tx *store.Tx, id ident.Identifier, req TransitionRequest) (*Outcome, error) {
	switch id.Kind {
	case ident.KindProject:
		return m.transitionProject(ctx, tx, req)
	case ident.KindOrder:
		return m.transitionOrder(ctx, tx, req)
	case ident.KindJob:
		return m.transitionJob(ctx, tx, req)
	default:
		return nil, fmt.Errorf("%w: %s has no status", ErrInvalidTransition, id.Kind)
	}
}

func singleAxis(kind ident.Kind, axis string) error {
	if axis != "" && axis != AxisStatus {
		return fmt.Errorf("%w: %s has no %q axis", ErrInvalidTransition, kind, axis)
	}
	return nil
}

func (m *Machine) transitionProject(ctx context.Context, tx *store.Tx, req TransitionRequest) (*Outcome, error) {
	if err := singleAxis(ident.KindProject, req.Axis); err != nil {
		return nil, err
	}
	p, err := tx.GetProject(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	out := &Outcome{Kind: ident.KindProject, ID: p.ID, Axis: AxisStatus, From: p.Status, To: req.Target, Version: p.Version, Entity: p}
	if p.Status == req.Target {
		return out, nil
	}
	if err := ProjectStatuses.Check(p.Status, req.Target); err != nil {
		return nil, err
	}
	if err := tx.UpdateProjectStatus(ctx, p.ID, req.Target, p.Version); err != nil {
		return nil, err
	}
	if err := m.afterTransition(ctx, tx, out, req.Actor); err != nil {
		return nil, err
	}
	if out.Entity, err = tx.GetProject(ctx, p.ID); err != nil {
		return nil, err
	}
	return out, nil
}

func (m *Machine) transitionOrder(ctx context.Context, tx *store.Tx, req TransitionRequest) (*Outcome, error) {
	axis := req.Axis
	if axis == "" {
		axis = AxisFulfillment
	}
	o, err := tx.GetOrder(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	out := &Outcome{Kind: ident.KindOrder, ID: o.ID, Axis: axis, To: req.Target, Version: o.Version, Entity: o}

	var table *Table
	var write func() error
	switch axis {
	case AxisFulfillment:
		table, out.From = FulfillmentStatuses, o.FulfillmentStatus
		write = func() error { return tx.UpdateOrderFulfillment(ctx, o.ID, req.Target, o.Version) }
	case AxisPayment:
		table, out.From = PaymentStatuses, o.PaymentStatus
		write = func() error { return tx.UpdateOrderPayment(ctx, o.ID, req.Target, o.Version) }
	default:
		return nil, fmt.Errorf("%w: order has no %q axis", ErrInvalidTransition, axis)
	}
	if out.From == req.Target {
		return out, nil
	}
	if err := table.Check(out.From, req.Target); err != nil {
		return nil, err
	}
	if err := write(); err != nil {
		return nil, err
	}
	if err := m.afterTransition(ctx, tx, out, req.Actor); err != nil {
		return nil, err
	}
	if out.Entity, err = tx.GetOrder(ctx, o.ID); err != nil {
		return nil, err
	}
	return out, nil
}

func (m *Machine) transitionJob(ctx context.Context, tx *store.Tx, req TransitionRequest) (*Outcome, error) {
	if err := singleAxis(ident.KindJob, req.Axis); err != nil {
		return nil, err
	}
	j, err := tx.GetPrintJob(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	out := &Outcome{Kind: ident.KindJob, ID: j.ID, Axis: AxisStatus, From: j.Status, To: req.Target, Version: j.Version, Entity: j}
	if j.Status == req.Target {
		return out, nil
	}
	if err := JobStatuses.Check(j.Status, req.Target); err != nil {
		return nil, err
	}
	if req.Target == JobCompleted && j.Progress < 100 {
		return nil, fmt.Errorf("%w: %s is at %d%%", ErrIncompleteProgress, j.ID, j.Progress)
	}
	if err := tx.UpdatePrintJobStatus(ctx, j.ID, jobStatusUpdate(j.Version, req.Target, m.clock.Now())); err != nil {
		return nil, err
	}
	if err := m.afterTransition(ctx, tx, out, req.Actor); err != nil {
		return nil, err
	}
	if out.Entity, err = tx.GetPrintJob(ctx, j.ID); err != nil {
		return nil, err
	}
	return out, nil
}

// jobStatusUpdate stamps started_at on the first move to printing and
// completed_at on reaching a terminal status.
func jobStatusUpdate(version int64, status string, now time.Time) store.JobStatusUpdate {
	u := store.JobStatusUpdate{Status: status, Version: version}
	if status == JobPrinting {
		u.StartedAt = &now
	}
	if JobStatuses.IsTerminal(status) {
		u.CompletedAt = &now
	}
	return u
}

// afterTransition runs the cascade for a written status change and records
// the change and its effects in the audit log and outbox.
func (m *Machine) afterTransition(ctx context.Context, tx *store.Tx, out *Outcome, actor string) error {
	out.Changed = true
	out.Version++
	effects, err := m.cascade.Apply(ctx, tx, Trigger{
		Kind: out.Kind, ID: out.ID, Op: OpTransition, Axis: out.Axis, From: out.From, To: out.To,
	})
	if err != nil {
		return err
	}
	out.Effects = effects

	action := "transition"
	if out.Axis != AxisStatus {
		action = "transition:" + out.Axis
	}
	if err := tx.AppendAudit(ctx, string(out.Kind), out.ID, action, out.From, out.To, actor); err != nil {
		return err
	}
	if err := m.enqueue(ctx, tx, protocol.TypeEntityTransitioned, out.ID, &protocol.EntityTransitioned{
		ID: out.ID, Kind: string(out.Kind), Axis: axisOnWire(out.Axis), From: out.From, To: out.To,
		Actor: actor, Version: out.Version,
	}); err != nil {
		return err
	}
	return m.recordEffects(ctx, tx, out.ID, Trigger{Kind: out.Kind, Op: OpTransition, Axis: out.Axis, To: out.To}, effects, actor)
}

func axisOnWire(axis string) string {
	if axis == AxisStatus {
		return ""
	}
	return axis
}

// recordEffects writes one audit row per effect and a single cascade.applied
// outbox message.
func (m *Machine) recordEffects(ctx context.Context, tx *store.Tx, triggerID string, t Trigger, effects []Effect, actor string) error {
	if len(effects) == 0 {
		return nil
	}
	wire := make([]protocol.CascadeEffect, 0, len(effects))
	for _, e := range effects {
		if err := tx.AppendAudit(ctx, string(e.Kind), e.ID, "cascade:"+e.Action, e.From, e.To, actor); err != nil {
			return err
		}
		wire = append(wire, protocol.CascadeEffect{
			ID: e.ID, Kind: string(e.Kind), Action: e.Action, From: e.From, To: e.To, Rule: e.Rule,
		})
	}
	return m.enqueue(ctx, tx, protocol.TypeCascadeApplied, triggerID, &protocol.CascadeApplied{
		TriggerID: triggerID, Trigger: t.String(), Effects: wire,
	})
}

// enqueue writes an event envelope to the outbox inside tx.
func (m *Machine) enqueue(ctx context.Context, tx *store.Tx, msgType, entityID string, payload any) error {
	env, err := protocol.NewEvent(msgType, m.node, entityID, payload)
	if err != nil {
		return fmt.Errorf("build %s event: %w", msgType, err)
	}
	data, err := env.Encode()
	if err != nil {
		return fmt.Errorf("encode %s event: %w", msgType, err)
	}
	return tx.EnqueueOutbox(ctx, m.topic, data, msgType, entityID)
}

func (m *Machine) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok || m.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, m.timeout)
}

// retryConflicts re-runs fn while it fails with a version conflict. Each
// round re-reads committed state, so the decision is re-evaluated. Once the
// attempts run out the last conflict stays wrapped behind ErrStoreUnavailable.
func (m *Machine) retryConflicts(ctx context.Context, fn func() error) error {
	rounds := 0
	var last error
	err := retry.Call(retry.CallArgs{
		Func: func() error {
			rounds++
			last = fn()
			return last
		},
		IsFatalError: func(err error) bool { return !store.IsConflict(err) },
		Attempts:     m.attempts,
		Delay:        m.delay,
		Clock:        m.clock,
		Stop:         ctx.Done(),
	})
	switch {
	case err == nil:
		return nil
	case retry.IsAttemptsExceeded(err):
		return fmt.Errorf("%w: still conflicting after %d attempts: %w", store.ErrStoreUnavailable, rounds, last)
	case retry.IsRetryStopped(err):
		return fmt.Errorf("%w: %w", store.ErrStoreUnavailable, ctx.Err())
	default:
		return last
	}
}

func snapshot(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}
