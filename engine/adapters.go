package engine

import (
	"ubcore/ident"
	"ubcore/lifecycle"
)

// busEmitter bridges the lifecycle emitter interface to the EventBus.
type busEmitter struct {
	bus *EventBus
}

var _ lifecycle.Emitter = (*busEmitter)(nil)

func (e *busEmitter) EmitEntityCreated(kind ident.Kind, id, owner, status, actor string) {
	e.bus.Emit(Event{Type: EventEntityCreated, Payload: EntityCreatedEvent{
		Kind: string(kind), ID: id, Owner: owner, Status: status, Actor: actor,
	}})
}

func (e *busEmitter) EmitEntityTransitioned(kind ident.Kind, id, axis, from, to, actor string, version int64) {
	e.bus.Emit(Event{Type: EventEntityTransitioned, Payload: EntityTransitionedEvent{
		Kind: string(kind), ID: id, Axis: axis, From: from, To: to, Actor: actor, Version: version,
	}})
}

func (e *busEmitter) EmitEntityDeleted(kind ident.Kind, id, actor string) {
	e.bus.Emit(Event{Type: EventEntityDeleted, Payload: EntityDeletedEvent{Kind: string(kind), ID: id, Actor: actor}})
}

func (e *busEmitter) EmitCascadeApplied(triggerID string, effects []lifecycle.Effect) {
	e.bus.Emit(Event{Type: EventCascadeApplied, Payload: CascadeAppliedEvent{TriggerID: triggerID, Effects: effects}})
}

func (e *busEmitter) EmitJobProgress(id string, progress int) {
	e.bus.Emit(Event{Type: EventJobProgress, Payload: JobProgressEvent{ID: id, Progress: progress}})
}
