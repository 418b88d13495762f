package store

import (
	"context"
	"time"
)

type OutboxMessage struct {
	ID        int64
	Topic     string
	Payload   []byte
	MsgType   string
	EntityID  string
	Retries   int
	CreatedAt time.Time
	SentAt    *time.Time
}

// EnqueueOutbox records a message for later publication. Called inside the
// transaction that produced the change so the message commits with it.
func (tx *Tx) EnqueueOutbox(ctx context.Context, topic string, payload []byte, msgType, entityID string) error {
	_, err := tx.exec(ctx, `INSERT INTO outbox (topic, payload, msg_type, entity_id) VALUES (?, ?, ?, ?)`,
		topic, payload, msgType, entityID)
	return classify("enqueue outbox", err)
}

func (tx *Tx) ListPendingOutbox(ctx context.Context, limit int) ([]*OutboxMessage, error) {
	rows, err := tx.query(ctx, `SELECT id, topic, payload, msg_type, entity_id, retries, created_at FROM outbox WHERE sent_at IS NULL ORDER BY id LIMIT ?`, limit)
	if err != nil {
		return nil, classify("list pending outbox", err)
	}
	defer rows.Close()
	var msgs []*OutboxMessage
	for rows.Next() {
		var m OutboxMessage
		var createdAt any
		if err := rows.Scan(&m.ID, &m.Topic, &m.Payload, &m.MsgType, &m.EntityID, &m.Retries, &createdAt); err != nil {
			return nil, classify("scan outbox", err)
		}
		m.CreatedAt = parseTime(createdAt)
		msgs = append(msgs, &m)
	}
	return msgs, classify("list pending outbox", rows.Err())
}

func (tx *Tx) AckOutbox(ctx context.Context, id int64) error {
	_, err := tx.exec(ctx, `UPDATE outbox SET sent_at=datetime('now','localtime') WHERE id=?`, id)
	return classify("ack outbox", err)
}

func (tx *Tx) IncrementOutboxRetries(ctx context.Context, id int64) error {
	_, err := tx.exec(ctx, `UPDATE outbox SET retries=retries+1 WHERE id=?`, id)
	return classify("increment outbox retries", err)
}

// CountPendingOutbox reports how many messages still await publication.
func (tx *Tx) CountPendingOutbox(ctx context.Context) (int, error) {
	var n int
	err := tx.queryRow(ctx, `SELECT COUNT(*) FROM outbox WHERE sent_at IS NULL`).Scan(&n)
	return n, classify("count pending outbox", err)
}
