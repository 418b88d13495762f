package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

type Project struct {
	ID           string          `json:"id"`
	Owner        string          `json:"owner"`
	Name         string          `json:"name"`
	Description  string          `json:"description"`
	Purpose      string          `json:"purpose"`
	Consultation bool            `json:"consultation"`
	Amount       decimal.Decimal `json:"amount"`
	FileCount    int             `json:"file_count"`
	Status       string          `json:"status"`
	Attributes   json.RawMessage `json:"attributes,omitempty"`
	Version      int64           `json:"version"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

const projectSelectCols = `id, owner, name, description, purpose, consultation, amount, file_count, status, attributes, version, created_at, updated_at`

func scanProject(row interface{ Scan(...any) error }) (*Project, error) {
	var p Project
	var attrs []byte
	var createdAt, updatedAt any
	err := row.Scan(&p.ID, &p.Owner, &p.Name, &p.Description, &p.Purpose, &p.Consultation,
		&p.Amount, &p.FileCount, &p.Status, &attrs, &p.Version, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	p.Attributes = docValue(attrs)
	p.CreatedAt = parseTime(createdAt)
	p.UpdatedAt = parseTime(updatedAt)
	return &p, nil
}

func scanProjects(rows *sql.Rows) ([]*Project, error) {
	var projects []*Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

func (tx *Tx) InsertProject(ctx context.Context, p *Project) error {
	_, err := tx.exec(ctx, `INSERT INTO projects (id, owner, name, description, purpose, consultation, amount, status, attributes) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Owner, p.Name, p.Description, p.Purpose, p.Consultation, p.Amount.StringFixed(2), p.Status, docArg(p.Attributes, "{}"))
	if err != nil {
		return classify("insert project", err)
	}
	p.Version = 1
	return nil
}

func (tx *Tx) GetProject(ctx context.Context, id string) (*Project, error) {
	p, err := scanProject(tx.queryRow(ctx, `SELECT `+projectSelectCols+` FROM projects WHERE id=?`, id))
	if err != nil {
		return nil, classify("get project", err)
	}
	return p, nil
}

// ListProjects filters by owner and status; empty arguments match everything.
func (tx *Tx) ListProjects(ctx context.Context, owner, status string, limit int) ([]*Project, error) {
	q, args := filterOwnerStatus(`SELECT `+projectSelectCols+` FROM projects`, "status", owner, status, limit)
	rows, err := tx.query(ctx, q, args...)
	if err != nil {
		return nil, classify("list projects", err)
	}
	defer rows.Close()
	projects, err := scanProjects(rows)
	return projects, classify("list projects", err)
}

// UpdateProjectStatus writes status if the row is still at version.
func (tx *Tx) UpdateProjectStatus(ctx context.Context, id, status string, version int64) error {
	return tx.execCAS(ctx, "update project status",
		`UPDATE projects SET status=?, version=version+1, updated_at=datetime('now','localtime') WHERE id=? AND version=?`,
		status, id, version)
}

// UpdateProjectQuoted records a newly issued quote on the project: status and
// amount change together under the version check.
func (tx *Tx) UpdateProjectQuoted(ctx context.Context, id, status string, amount decimal.Decimal, version int64) error {
	return tx.execCAS(ctx, "update project quoted",
		`UPDATE projects SET status=?, amount=?, version=version+1, updated_at=datetime('now','localtime') WHERE id=? AND version=?`,
		status, amount.StringFixed(2), id, version)
}

// AdjustProjectFileCount adds delta to file_count under the version check.
func (tx *Tx) AdjustProjectFileCount(ctx context.Context, id string, delta int, version int64) error {
	return tx.execCAS(ctx, "adjust project file count",
		`UPDATE projects SET file_count=file_count+?, version=version+1, updated_at=datetime('now','localtime') WHERE id=? AND version=? AND file_count+? >= 0`,
		delta, id, version, delta)
}

// ClaimProject bumps the version of a project a child row is being attached
// to. A status change committed since the caller read version makes it fail
// with ErrConflict.
func (tx *Tx) ClaimProject(ctx context.Context, id string, version int64) error {
	return tx.execCAS(ctx, "claim project",
		`UPDATE projects SET version=version+1, updated_at=datetime('now','localtime') WHERE id=? AND version=?`,
		id, version)
}

func (tx *Tx) DeleteProject(ctx context.Context, id string) error {
	return tx.execCAS(ctx, "delete project", `DELETE FROM projects WHERE id=?`, id)
}

// filterOwnerStatus appends optional owner/status predicates and a limit.
func filterOwnerStatus(base, statusCol, owner, status string, limit int) (string, []any) {
	q := base + ` WHERE 1=1`
	var args []any
	if owner != "" {
		q += ` AND owner=?`
		args = append(args, owner)
	}
	if status != "" {
		q += ` AND ` + statusCol + `=?`
		args = append(args, status)
	}
	q += ` ORDER BY created_at DESC, id DESC`
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	return q, args
}
