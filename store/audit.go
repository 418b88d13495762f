package store

import (
	"context"
	"time"
)

type AuditEntry struct {
	ID         int64     `json:"id"`
	EntityType string    `json:"entity_type"`
	EntityID   string    `json:"entity_id"`
	Action     string    `json:"action"`
	OldValue   string    `json:"old_value"`
	NewValue   string    `json:"new_value"`
	Actor      string    `json:"actor"`
	CreatedAt  time.Time `json:"created_at"`
}

func (tx *Tx) AppendAudit(ctx context.Context, entityType, entityID, action, oldValue, newValue, actor string) error {
	_, err := tx.exec(ctx, `INSERT INTO audit_log (entity_type, entity_id, action, old_value, new_value, actor) VALUES (?, ?, ?, ?, ?, ?)`,
		entityType, entityID, action, oldValue, newValue, actor)
	return classify("append audit", err)
}

func (tx *Tx) ListAuditLog(ctx context.Context, limit int) ([]*AuditEntry, error) {
	return tx.listAudit(ctx, `SELECT id, entity_type, entity_id, action, old_value, new_value, actor, created_at FROM audit_log ORDER BY id DESC LIMIT ?`, limit)
}

func (tx *Tx) ListEntityAudit(ctx context.Context, entityID string) ([]*AuditEntry, error) {
	return tx.listAudit(ctx, `SELECT id, entity_type, entity_id, action, old_value, new_value, actor, created_at FROM audit_log WHERE entity_id=? ORDER BY id`, entityID)
}

func (tx *Tx) listAudit(ctx context.Context, query string, args ...any) ([]*AuditEntry, error) {
	rows, err := tx.query(ctx, query, args...)
	if err != nil {
		return nil, classify("list audit", err)
	}
	defer rows.Close()
	var entries []*AuditEntry
	for rows.Next() {
		var e AuditEntry
		var createdAt any
		if err := rows.Scan(&e.ID, &e.EntityType, &e.EntityID, &e.Action, &e.OldValue, &e.NewValue, &e.Actor, &createdAt); err != nil {
			return nil, classify("scan audit", err)
		}
		e.CreatedAt = parseTime(createdAt)
		entries = append(entries, &e)
	}
	return entries, classify("list audit", rows.Err())
}
