package lifecycle

import (
	"context"
	"encoding/json"
	"fmt"

	"ubcore/store"
)

// ProgressUpdate is one progress sample for a print job. A zero TotalLayers
// keeps the job's known layer count; a nil Telemetry keeps the last document.
type ProgressUpdate struct {
	Progress     int             `json:"progress"`
	CurrentLayer int             `json:"current_layer"`
	TotalLayers  int             `json:"total_layers"`
	ETASeconds   int             `json:"eta_seconds"`
	Telemetry    json.RawMessage `json:"telemetry,omitempty"`
}

// RecordProgress stores a progress sample. Only printing or paused jobs
// accept progress, and progress never moves backwards.
func (m *Machine) RecordProgress(ctx context.Context, jobID string, u ProgressUpdate) (*store.PrintJob, error) {
	if u.Progress < 0 || u.Progress > 100 {
		return nil, fmt.Errorf("%w: %d is outside 0..100", ErrInvalidProgress, u.Progress)
	}
	if u.CurrentLayer < 0 || u.TotalLayers < 0 || u.ETASeconds < 0 {
		return nil, fmt.Errorf("%w: negative layer or eta", ErrInvalidProgress)
	}
	if len(u.Telemetry) > 0 && !json.Valid(u.Telemetry) {
		return nil, fmt.Errorf("%w: telemetry is not valid JSON", ErrInvalidProgress)
	}
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	var j *store.PrintJob
	err := m.retryConflicts(ctx, func() error {
		return m.db.WithTx(ctx, func(tx *store.Tx) error {
			cur, err := tx.GetPrintJob(ctx, jobID)
			if err != nil {
				return err
			}
			if cur.Status != JobPrinting && cur.Status != JobPaused {
				return fmt.Errorf("%w: job %s is %s", ErrInvalidTransition, cur.ID, cur.Status)
			}
			if u.Progress < cur.Progress {
				return fmt.Errorf("%w: %d%% after %d%%", ErrProgressRegression, u.Progress, cur.Progress)
			}
			total := u.TotalLayers
			if total == 0 {
				total = cur.TotalLayers
			}
			if total > 0 && u.CurrentLayer > total {
				return fmt.Errorf("%w: layer %d of %d", ErrInvalidProgress, u.CurrentLayer, total)
			}
			telemetry := u.Telemetry
			if len(telemetry) == 0 {
				telemetry = cur.Telemetry
			}
			if err := tx.UpdatePrintJobProgress(ctx, cur.ID, store.JobProgressUpdate{
				Progress: u.Progress, CurrentLayer: u.CurrentLayer, TotalLayers: total,
				ETASeconds: u.ETASeconds, Telemetry: telemetry, Version: cur.Version,
			}); err != nil {
				return err
			}
			j, err = tx.GetPrintJob(ctx, cur.ID)
			return err
		})
	})
	if err != nil {
		return nil, fmt.Errorf("record progress %s: %w", jobID, err)
	}
	m.emitter.EmitJobProgress(j.ID, j.Progress)
	return j, nil
}
