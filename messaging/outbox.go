package messaging

import (
	"context"
	"log"
	"sync"
	"time"

	"ubcore/store"
)

const drainBatch = 50

// OutboxDrainer periodically publishes pending outbox rows and acks the ones
// the broker accepted. Rows that fail stay pending with their retry count
// bumped, so delivery is at-least-once and in insertion order per pass.
type OutboxDrainer struct {
	db       *store.DB
	pub      Publisher
	interval time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewOutboxDrainer(db *store.DB, pub Publisher, interval time.Duration) *OutboxDrainer {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &OutboxDrainer{db: db, pub: pub, interval: interval}
}

func (d *OutboxDrainer) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	d.done = make(chan struct{})
	go d.run(ctx, d.done)
}

// Stop halts the drain loop and waits for an in-flight pass to finish.
func (d *OutboxDrainer) Stop() {
	d.mu.Lock()
	cancel, done := d.cancel, d.done
	d.cancel, d.done = nil, nil
	d.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (d *OutboxDrainer) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := d.Drain(ctx); err != nil && ctx.Err() == nil {
				log.Printf("outbox: %v", err)
			}
		}
	}
}

// Drain publishes one batch and returns how many rows were acked.
func (d *OutboxDrainer) Drain(ctx context.Context) (int, error) {
	tx := d.db.Direct()
	msgs, err := tx.ListPendingOutbox(ctx, drainBatch)
	if err != nil {
		return 0, err
	}
	sent := 0
	for _, msg := range msgs {
		if err := publishKeyed(ctx, d.pub, msg); err != nil {
			log.Printf("outbox: publish %s (%s) to %s failed: %v", msg.MsgType, msg.EntityID, msg.Topic, err)
			if err := tx.IncrementOutboxRetries(ctx, msg.ID); err != nil {
				log.Printf("outbox: bump retries %d: %v", msg.ID, err)
			}
			continue
		}
		if err := tx.AckOutbox(ctx, msg.ID); err != nil {
			return sent, err
		}
		sent++
	}
	return sent, nil
}

func publishKeyed(ctx context.Context, pub Publisher, msg *store.OutboxMessage) error {
	if kp, ok := pub.(interface {
		PublishKeyed(ctx context.Context, topic, key string, payload []byte) error
	}); ok {
		return kp.PublishKeyed(ctx, msg.Topic, msg.EntityID, msg.Payload)
	}
	return pub.Publish(ctx, msg.Topic, msg.Payload)
}
