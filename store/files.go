package store

import (
	"context"
	"encoding/json"
	"time"
)

// ProjectFile is an uploaded model file belonging to a project. Print
// settings (material, infill, scale, post-processing) live in Attributes.
type ProjectFile struct {
	ID         string          `json:"id"`
	ProjectID  string          `json:"project_id"`
	Owner      string          `json:"owner"`
	Filename   string          `json:"filename"`
	FileSize   int64           `json:"file_size"`
	FileType   string          `json:"file_type"`
	Attributes json.RawMessage `json:"attributes,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

const fileSelectCols = `id, project_id, owner, filename, file_size, file_type, attributes, created_at`

func scanFile(row interface{ Scan(...any) error }) (*ProjectFile, error) {
	var f ProjectFile
	var attrs []byte
	var createdAt any
	if err := row.Scan(&f.ID, &f.ProjectID, &f.Owner, &f.Filename, &f.FileSize, &f.FileType, &attrs, &createdAt); err != nil {
		return nil, err
	}
	f.Attributes = docValue(attrs)
	f.CreatedAt = parseTime(createdAt)
	return &f, nil
}

func (tx *Tx) InsertFile(ctx context.Context, f *ProjectFile) error {
	_, err := tx.exec(ctx, `INSERT INTO project_files (id, project_id, owner, filename, file_size, file_type, attributes) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.ProjectID, f.Owner, f.Filename, f.FileSize, f.FileType, docArg(f.Attributes, "{}"))
	return classify("insert file", err)
}

func (tx *Tx) GetFile(ctx context.Context, id string) (*ProjectFile, error) {
	f, err := scanFile(tx.queryRow(ctx, `SELECT `+fileSelectCols+` FROM project_files WHERE id=?`, id))
	if err != nil {
		return nil, classify("get file", err)
	}
	return f, nil
}

func (tx *Tx) ListProjectFiles(ctx context.Context, projectID string) ([]*ProjectFile, error) {
	rows, err := tx.query(ctx, `SELECT `+fileSelectCols+` FROM project_files WHERE project_id=? ORDER BY id`, projectID)
	if err != nil {
		return nil, classify("list project files", err)
	}
	defer rows.Close()
	var files []*ProjectFile
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, classify("scan file", err)
		}
		files = append(files, f)
	}
	return files, classify("list project files", rows.Err())
}

func (tx *Tx) DeleteFile(ctx context.Context, id string) error {
	return tx.execCAS(ctx, "delete file", `DELETE FROM project_files WHERE id=?`, id)
}
