package lifecycle

import (
	"context"
	"fmt"

	"ubcore/ident"
	"ubcore/protocol"
	"ubcore/store"
)

// Deletion reports a committed delete and the dependent effects it caused.
type Deletion struct {
	Kind    ident.Kind `json:"kind"`
	ID      string     `json:"id"`
	Effects []Effect   `json:"effects"`
}

// Delete removes an entity after the cascade rules for its kind have run.
// Clients are never deleted.
func (m *Machine) Delete(ctx context.Context, id, actor string) (*Deletion, error) {
	parsed, err := ident.Parse(id)
	if err != nil {
		return nil, err
	}
	if parsed.Kind == ident.KindClient {
		return nil, fmt.Errorf("%w: clients cannot be deleted", ErrInvalidTransition)
	}
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	var d *Deletion
	err = m.retryConflicts(ctx, func() error {
		return m.db.WithTx(ctx, func(tx *store.Tx) error {
			var err error
			d, err = m.delete(ctx, tx, parsed.Kind, id, actor)
			return err
		})
	})
	if err != nil {
		return nil, fmt.Errorf("delete %s: %w", id, err)
	}
	m.emitter.EmitEntityDeleted(d.Kind, d.ID, actor)
	if len(d.Effects) > 0 {
		m.emitter.EmitCascadeApplied(d.ID, d.Effects)
	}
	return d, nil
}

func (m *Machine) delete(ctx context.Context, tx *store.Tx, kind ident.Kind, id, actor string) (*Deletion, error) {
	var old any
	var remove func() error
	switch kind {
	case ident.KindProject:
		p, err := tx.GetProject(ctx, id)
		if err != nil {
			return nil, err
		}
		old, remove = p, func() error { return tx.DeleteProject(ctx, id) }
	case ident.KindOrder:
		o, err := tx.GetOrder(ctx, id)
		if err != nil {
			return nil, err
		}
		old, remove = o, func() error { return tx.DeleteOrder(ctx, id) }
	case ident.KindJob:
		j, err := tx.GetPrintJob(ctx, id)
		if err != nil {
			return nil, err
		}
		old, remove = j, func() error { return tx.DeletePrintJob(ctx, id) }
	case ident.KindQuote:
		q, err := tx.GetQuote(ctx, id)
		if err != nil {
			return nil, err
		}
		old, remove = q, func() error { return tx.DeleteQuote(ctx, id) }
	case ident.KindFile:
		f, err := tx.GetFile(ctx, id)
		if err != nil {
			return nil, err
		}
		old, remove = f, func() error {
			if err := tx.DeleteFile(ctx, id); err != nil {
				return err
			}
			p, err := tx.GetProject(ctx, f.ProjectID)
			if err != nil {
				return err
			}
			return tx.AdjustProjectFileCount(ctx, p.ID, -1, p.Version)
		}
	default:
		return nil, fmt.Errorf("%w: %s cannot be deleted", ErrInvalidTransition, kind)
	}

	trigger := Trigger{Kind: kind, ID: id, Op: OpDelete}
	effects, err := m.cascade.Apply(ctx, tx, trigger)
	if err != nil {
		return nil, err
	}
	if err := remove(); err != nil {
		return nil, err
	}
	if err := tx.AppendAudit(ctx, string(kind), id, "deleted", snapshot(old), "", actor); err != nil {
		return nil, err
	}
	if err := m.enqueue(ctx, tx, protocol.TypeEntityDeleted, id, &protocol.EntityDeleted{
		ID: id, Kind: string(kind), Actor: actor,
	}); err != nil {
		return nil, err
	}
	if err := m.recordEffects(ctx, tx, id, trigger, effects, actor); err != nil {
		return nil, err
	}
	return &Deletion{Kind: kind, ID: id, Effects: effects}, nil
}
