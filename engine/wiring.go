package engine

import (
	"context"
	"time"

	"ubcore/ident"
	"ubcore/lifecycle"
)

const cacheWriteTimeout = 2 * time.Second

func (e *Engine) wireEventHandlers() {
	// Keep the status cache in step with committed writes.
	e.Events.Subscribe(func(evt Event) {
		ctx, cancel := context.WithTimeout(context.Background(), cacheWriteTimeout)
		defer cancel()
		switch ev := evt.Payload.(type) {
		case EntityCreatedEvent:
			e.cache.Refresh(ctx, ev.ID)
		case EntityTransitionedEvent:
			e.cache.Refresh(ctx, ev.ID)
		case EntityDeletedEvent:
			e.cache.Remove(ctx, ev.ID)
		case CascadeAppliedEvent:
			for _, eff := range ev.Effects {
				if eff.Action == lifecycle.ActionDeleted {
					e.cache.Remove(ctx, eff.ID)
				} else {
					e.cache.Refresh(ctx, eff.ID)
				}
			}
		}
	}, EventEntityCreated, EventEntityTransitioned, EventEntityDeleted, EventCascadeApplied)

	// Transition counters include cascaded moves.
	e.Events.Subscribe(func(evt Event) {
		switch ev := evt.Payload.(type) {
		case EntityTransitionedEvent:
			e.metrics.Transitioned(ev.Kind, ev.Axis, ev.To)
		case CascadeAppliedEvent:
			for _, eff := range ev.Effects {
				if eff.Action == lifecycle.ActionTransitioned {
					e.metrics.Transitioned(string(eff.Kind), cascadeAxis(eff), eff.To)
				}
			}
		}
	}, EventEntityTransitioned, EventCascadeApplied)

	e.Events.Subscribe(func(evt Event) {
		switch ev := evt.Payload.(type) {
		case EntityTransitionedEvent:
			e.logFn("engine: %s %s %s -> %s by %s", ev.Kind, ev.ID, ev.From, ev.To, ev.Actor)
		case EntityDeletedEvent:
			e.logFn("engine: %s %s deleted by %s", ev.Kind, ev.ID, ev.Actor)
		case CascadeAppliedEvent:
			e.logFn("engine: %s cascaded to %d dependents", ev.TriggerID, len(ev.Effects))
		case ConnectionEvent:
			e.logFn("engine: %s: %s", evt.Type, ev.Detail)
		}
	}, EventEntityTransitioned, EventEntityDeleted, EventCascadeApplied,
		EventMessagingConnected, EventMessagingDisconnected, EventCacheConnected, EventCacheDisconnected)
}

// cascadeAxis is the status column a cascaded transition wrote.
func cascadeAxis(eff lifecycle.Effect) string {
	if eff.Kind == ident.KindOrder {
		return lifecycle.AxisFulfillment
	}
	return lifecycle.AxisStatus
}
