package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"
)

type PrintJob struct {
	ID           string          `json:"id"`
	OrderID      string          `json:"order_id"`
	Owner        string          `json:"owner"`
	PrinterID    string          `json:"printer_id"`
	Status       string          `json:"status"`
	Progress     int             `json:"progress"`
	CurrentLayer int             `json:"current_layer"`
	TotalLayers  int             `json:"total_layers"`
	ETASeconds   int             `json:"eta_seconds"`
	Telemetry    json.RawMessage `json:"telemetry,omitempty"`
	Version      int64           `json:"version"`
	StartedAt    *time.Time      `json:"started_at,omitempty"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

const jobSelectCols = `id, order_id, owner, printer_id, status, progress, current_layer, total_layers, eta_seconds, telemetry, version, started_at, completed_at, created_at, updated_at`

func scanJob(row interface{ Scan(...any) error }) (*PrintJob, error) {
	var j PrintJob
	var telemetry []byte
	var startedAt, completedAt, createdAt, updatedAt any
	err := row.Scan(&j.ID, &j.OrderID, &j.Owner, &j.PrinterID, &j.Status, &j.Progress,
		&j.CurrentLayer, &j.TotalLayers, &j.ETASeconds, &telemetry, &j.Version,
		&startedAt, &completedAt, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	j.Telemetry = docValue(telemetry)
	j.StartedAt = parseTimePtr(startedAt)
	j.CompletedAt = parseTimePtr(completedAt)
	j.CreatedAt = parseTime(createdAt)
	j.UpdatedAt = parseTime(updatedAt)
	return &j, nil
}

func scanJobs(rows *sql.Rows) ([]*PrintJob, error) {
	var jobs []*PrintJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func (tx *Tx) InsertPrintJob(ctx context.Context, j *PrintJob) error {
	_, err := tx.exec(ctx, `INSERT INTO print_jobs (id, order_id, owner, printer_id, status, total_layers, telemetry) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		j.ID, j.OrderID, j.Owner, j.PrinterID, j.Status, j.TotalLayers, docArg(j.Telemetry, "{}"))
	if err != nil {
		return classify("insert print job", err)
	}
	j.Version = 1
	return nil
}

func (tx *Tx) GetPrintJob(ctx context.Context, id string) (*PrintJob, error) {
	j, err := scanJob(tx.queryRow(ctx, `SELECT `+jobSelectCols+` FROM print_jobs WHERE id=?`, id))
	if err != nil {
		return nil, classify("get print job", err)
	}
	return j, nil
}

func (tx *Tx) ListOrderJobs(ctx context.Context, orderID string) ([]*PrintJob, error) {
	rows, err := tx.query(ctx, `SELECT `+jobSelectCols+` FROM print_jobs WHERE order_id=? ORDER BY id`, orderID)
	if err != nil {
		return nil, classify("list order jobs", err)
	}
	defer rows.Close()
	jobs, err := scanJobs(rows)
	return jobs, classify("list order jobs", err)
}

// ListPrintJobs returns jobs in any of the given statuses, or all jobs when none are given.
func (tx *Tx) ListPrintJobs(ctx context.Context, statuses ...string) ([]*PrintJob, error) {
	q := `SELECT ` + jobSelectCols + ` FROM print_jobs`
	args := make([]any, 0, len(statuses))
	if len(statuses) > 0 {
		q += ` WHERE status IN (?` + repeatPlaceholders(len(statuses)-1) + `)`
		for _, s := range statuses {
			args = append(args, s)
		}
	}
	q += ` ORDER BY id`
	rows, err := tx.query(ctx, q, args...)
	if err != nil {
		return nil, classify("list print jobs", err)
	}
	defer rows.Close()
	jobs, err := scanJobs(rows)
	return jobs, classify("list print jobs", err)
}

// JobStatusUpdate is a versioned status write. StartedAt and CompletedAt are
// only written when non-nil.
type JobStatusUpdate struct {
	Status      string
	Version     int64
	StartedAt   *time.Time
	CompletedAt *time.Time
}

func (tx *Tx) UpdatePrintJobStatus(ctx context.Context, id string, u JobStatusUpdate) error {
	var started, completed any
	if u.StartedAt != nil {
		started = tx.db.timeArg(*u.StartedAt)
	}
	if u.CompletedAt != nil {
		completed = tx.db.timeArg(*u.CompletedAt)
	}
	return tx.execCAS(ctx, "update print job status",
		`UPDATE print_jobs SET status=?, started_at=COALESCE(started_at, ?), completed_at=COALESCE(?, completed_at), version=version+1, updated_at=datetime('now','localtime') WHERE id=? AND version=?`,
		u.Status, started, completed, id, u.Version)
}

// JobProgressUpdate is a versioned write of the inbound progress fields.
type JobProgressUpdate struct {
	Progress     int
	CurrentLayer int
	TotalLayers  int
	ETASeconds   int
	Telemetry    json.RawMessage
	Version      int64
}

func (tx *Tx) UpdatePrintJobProgress(ctx context.Context, id string, u JobProgressUpdate) error {
	return tx.execCAS(ctx, "update print job progress",
		`UPDATE print_jobs SET progress=?, current_layer=?, total_layers=?, eta_seconds=?, telemetry=?, version=version+1, updated_at=datetime('now','localtime') WHERE id=? AND version=?`,
		u.Progress, u.CurrentLayer, u.TotalLayers, u.ETASeconds, docArg(u.Telemetry, "{}"), id, u.Version)
}

func (tx *Tx) DeletePrintJob(ctx context.Context, id string) error {
	return tx.execCAS(ctx, "delete print job", `DELETE FROM print_jobs WHERE id=?`, id)
}

func repeatPlaceholders(n int) string {
	s := ""
	for i := 0; i < n; i++ {
		s += ", ?"
	}
	return s
}
