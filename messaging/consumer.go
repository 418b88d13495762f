package messaging

import (
	"context"
	"errors"
	"log"
	"time"

	"ubcore/lifecycle"
	"ubcore/protocol"
	"ubcore/store"
)

// ActorPrintFarm is the audit actor for changes reported by printers.
const ActorPrintFarm = "printfarm"

// JobUpdater is the slice of the lifecycle machine the print farm drives.
type JobUpdater interface {
	RecordProgress(ctx context.Context, jobID string, u lifecycle.ProgressUpdate) (*store.PrintJob, error)
	Transition(ctx context.Context, req lifecycle.TransitionRequest) (*lifecycle.Outcome, error)
}

// TelemetryHandler applies inbound print-farm messages to print jobs.
type TelemetryHandler struct {
	protocol.NoOpHandler

	jobs    JobUpdater
	timeout time.Duration
}

func NewTelemetryHandler(jobs JobUpdater, timeout time.Duration) *TelemetryHandler {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &TelemetryHandler{jobs: jobs, timeout: timeout}
}

func (h *TelemetryHandler) HandleJobProgress(env *protocol.Envelope, p *protocol.JobProgress) {
	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	_, err := h.jobs.RecordProgress(ctx, p.JobID, lifecycle.ProgressUpdate{
		Progress:     p.Progress,
		CurrentLayer: p.CurrentLayer,
		TotalLayers:  p.TotalLayers,
		ETASeconds:   p.ETASeconds,
		Telemetry:    p.Telemetry,
	})
	if err != nil {
		// Late or duplicate samples regress; they are expected on replay.
		if errors.Is(err, lifecycle.ErrProgressRegression) {
			return
		}
		log.Printf("telemetry: progress %s from %s: %v", p.JobID, env.Src.Node, err)
	}
}

func (h *TelemetryHandler) HandleJobStatus(env *protocol.Envelope, p *protocol.JobStatus) {
	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	out, err := h.jobs.Transition(ctx, lifecycle.TransitionRequest{ID: p.JobID, Target: p.Status, Actor: ActorPrintFarm})
	if err != nil {
		log.Printf("telemetry: status %s -> %s from %s: %v", p.JobID, p.Status, env.Src.Node, err)
		return
	}
	if out.Changed && p.Reason != "" {
		log.Printf("telemetry: %s %s -> %s (%s)", p.JobID, out.From, out.To, p.Reason)
	}
}

// FromPrintFarm accepts only messages sent by printers.
func FromPrintFarm(hdr *protocol.RawHeader) bool {
	return hdr.Src.Role == protocol.RolePrintFarm
}

// Consumer subscribes to the telemetry topic and feeds the ingestor.
type Consumer struct {
	client   *Client
	topic    string
	ingestor *protocol.Ingestor
}

func NewConsumer(client *Client, topic string, handler protocol.MessageHandler) *Consumer {
	return &Consumer{
		client:   client,
		topic:    topic,
		ingestor: protocol.NewIngestor(handler, FromPrintFarm),
	}
}

func (c *Consumer) Start() error {
	return c.client.Subscribe(c.topic, c.ingestor.HandleRaw)
}
