package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type LineItem struct {
	Description string          `json:"description"`
	Quantity    int64           `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

// Amount is quantity times unit price.
func (li LineItem) Amount() decimal.Decimal {
	return li.UnitPrice.Mul(decimal.NewFromInt(li.Quantity))
}

// Quote is immutable after issue except Notes and ValidUntil.
type Quote struct {
	ID           string          `json:"id"`
	ProjectID    string          `json:"project_id"`
	Owner        string          `json:"owner"`
	Purpose      string          `json:"purpose"`
	FileCount    int             `json:"file_count"`
	Consultation bool            `json:"consultation"`
	LineItems    []LineItem      `json:"line_items"`
	Total        decimal.Decimal `json:"total"`
	Notes        string          `json:"notes"`
	ValidUntil   time.Time       `json:"valid_until"`
	Attributes   json.RawMessage `json:"attributes,omitempty"`
	Version      int64           `json:"version"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

const quoteSelectCols = `id, project_id, owner, purpose, file_count, consultation, line_items, total, notes, valid_until, attributes, version, created_at, updated_at`

func scanQuote(row interface{ Scan(...any) error }) (*Quote, error) {
	var q Quote
	var items, attrs []byte
	var validUntil, createdAt, updatedAt any
	err := row.Scan(&q.ID, &q.ProjectID, &q.Owner, &q.Purpose, &q.FileCount, &q.Consultation,
		&items, &q.Total, &q.Notes, &validUntil, &attrs, &q.Version, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	if len(items) > 0 {
		if err := json.Unmarshal(items, &q.LineItems); err != nil {
			return nil, fmt.Errorf("decode line items for %s: %w", q.ID, err)
		}
	}
	q.Attributes = docValue(attrs)
	q.ValidUntil = parseTime(validUntil)
	q.CreatedAt = parseTime(createdAt)
	q.UpdatedAt = parseTime(updatedAt)
	return &q, nil
}

func (tx *Tx) InsertQuote(ctx context.Context, q *Quote) error {
	items, err := json.Marshal(q.LineItems)
	if err != nil {
		return fmt.Errorf("encode line items: %w", err)
	}
	_, err = tx.exec(ctx, `INSERT INTO quotes (id, project_id, owner, purpose, file_count, consultation, line_items, total, notes, valid_until, attributes) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		q.ID, q.ProjectID, q.Owner, q.Purpose, q.FileCount, q.Consultation, string(items),
		q.Total.StringFixed(2), q.Notes, tx.db.timeArg(q.ValidUntil), docArg(q.Attributes, "{}"))
	if err != nil {
		return classify("insert quote", err)
	}
	q.Version = 1
	return nil
}

func (tx *Tx) GetQuote(ctx context.Context, id string) (*Quote, error) {
	q, err := scanQuote(tx.queryRow(ctx, `SELECT `+quoteSelectCols+` FROM quotes WHERE id=?`, id))
	if err != nil {
		return nil, classify("get quote", err)
	}
	return q, nil
}

func (tx *Tx) ListProjectQuotes(ctx context.Context, projectID string) ([]*Quote, error) {
	rows, err := tx.query(ctx, `SELECT `+quoteSelectCols+` FROM quotes WHERE project_id=? ORDER BY id`, projectID)
	if err != nil {
		return nil, classify("list project quotes", err)
	}
	defer rows.Close()
	var quotes []*Quote
	for rows.Next() {
		q, err := scanQuote(rows)
		if err != nil {
			return nil, classify("scan quote", err)
		}
		quotes = append(quotes, q)
	}
	return quotes, classify("list project quotes", rows.Err())
}

// UpdateQuoteTerms changes the administrative fields of an issued quote.
func (tx *Tx) UpdateQuoteTerms(ctx context.Context, id, notes string, validUntil time.Time, version int64) error {
	return tx.execCAS(ctx, "update quote terms",
		`UPDATE quotes SET notes=?, valid_until=?, version=version+1, updated_at=datetime('now','localtime') WHERE id=? AND version=?`,
		notes, tx.db.timeArg(validUntil), id, version)
}

func (tx *Tx) DeleteQuote(ctx context.Context, id string) error {
	return tx.execCAS(ctx, "delete quote", `DELETE FROM quotes WHERE id=?`, id)
}
