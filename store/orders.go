package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Order carries two independent status axes: payment and fulfillment.
type Order struct {
	ID                string          `json:"id"`
	Owner             string          `json:"owner"`
	ProjectID         *string         `json:"project_id,omitempty"`
	OrderType         string          `json:"order_type"`
	TotalAmount       decimal.Decimal `json:"total_amount"`
	ShippingAddress   string          `json:"shipping_address"`
	InvoiceNumber     string          `json:"invoice_number"`
	PaymentStatus     string          `json:"payment_status"`
	FulfillmentStatus string          `json:"fulfillment_status"`
	Attributes        json.RawMessage `json:"attributes,omitempty"`
	Version           int64           `json:"version"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

const orderSelectCols = `id, owner, project_id, order_type, total_amount, shipping_address, invoice_number, payment_status, fulfillment_status, attributes, version, created_at, updated_at`

func scanOrder(row interface{ Scan(...any) error }) (*Order, error) {
	var o Order
	var projectID sql.NullString
	var attrs []byte
	var createdAt, updatedAt any
	err := row.Scan(&o.ID, &o.Owner, &projectID, &o.OrderType, &o.TotalAmount, &o.ShippingAddress,
		&o.InvoiceNumber, &o.PaymentStatus, &o.FulfillmentStatus, &attrs, &o.Version, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	if projectID.Valid {
		o.ProjectID = &projectID.String
	}
	o.Attributes = docValue(attrs)
	o.CreatedAt = parseTime(createdAt)
	o.UpdatedAt = parseTime(updatedAt)
	return &o, nil
}

func scanOrders(rows *sql.Rows) ([]*Order, error) {
	var orders []*Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

func (tx *Tx) InsertOrder(ctx context.Context, o *Order) error {
	var projectID any
	if o.ProjectID != nil {
		projectID = *o.ProjectID
	}
	_, err := tx.exec(ctx, `INSERT INTO orders (id, owner, project_id, order_type, total_amount, shipping_address, invoice_number, payment_status, fulfillment_status, attributes) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.Owner, projectID, o.OrderType, o.TotalAmount.StringFixed(2), o.ShippingAddress,
		o.InvoiceNumber, o.PaymentStatus, o.FulfillmentStatus, docArg(o.Attributes, "{}"))
	if err != nil {
		return classify("insert order", err)
	}
	o.Version = 1
	return nil
}

func (tx *Tx) GetOrder(ctx context.Context, id string) (*Order, error) {
	o, err := scanOrder(tx.queryRow(ctx, `SELECT `+orderSelectCols+` FROM orders WHERE id=?`, id))
	if err != nil {
		return nil, classify("get order", err)
	}
	return o, nil
}

// ListOrders filters by owner and fulfillment status; empty arguments match everything.
func (tx *Tx) ListOrders(ctx context.Context, owner, status string, limit int) ([]*Order, error) {
	q, args := filterOwnerStatus(`SELECT `+orderSelectCols+` FROM orders`, "fulfillment_status", owner, status, limit)
	rows, err := tx.query(ctx, q, args...)
	if err != nil {
		return nil, classify("list orders", err)
	}
	defer rows.Close()
	orders, err := scanOrders(rows)
	return orders, classify("list orders", err)
}

func (tx *Tx) ListProjectOrders(ctx context.Context, projectID string) ([]*Order, error) {
	rows, err := tx.query(ctx, `SELECT `+orderSelectCols+` FROM orders WHERE project_id=? ORDER BY id`, projectID)
	if err != nil {
		return nil, classify("list project orders", err)
	}
	defer rows.Close()
	orders, err := scanOrders(rows)
	return orders, classify("list project orders", err)
}

func (tx *Tx) UpdateOrderFulfillment(ctx context.Context, id, status string, version int64) error {
	return tx.execCAS(ctx, "update order fulfillment",
		`UPDATE orders SET fulfillment_status=?, version=version+1, updated_at=datetime('now','localtime') WHERE id=? AND version=?`,
		status, id, version)
}

func (tx *Tx) UpdateOrderPayment(ctx context.Context, id, status string, version int64) error {
	return tx.execCAS(ctx, "update order payment",
		`UPDATE orders SET payment_status=?, version=version+1, updated_at=datetime('now','localtime') WHERE id=? AND version=?`,
		status, id, version)
}

// ClearOrderProject drops the project reference from one order.
func (tx *Tx) ClearOrderProject(ctx context.Context, id string, version int64) error {
	return tx.execCAS(ctx, "clear order project",
		`UPDATE orders SET project_id=NULL, version=version+1, updated_at=datetime('now','localtime') WHERE id=? AND version=?`,
		id, version)
}

// ClaimOrder is ClaimProject for orders receiving a print job.
func (tx *Tx) ClaimOrder(ctx context.Context, id string, version int64) error {
	return tx.execCAS(ctx, "claim order",
		`UPDATE orders SET version=version+1, updated_at=datetime('now','localtime') WHERE id=? AND version=?`,
		id, version)
}

func (tx *Tx) DeleteOrder(ctx context.Context, id string) error {
	return tx.execCAS(ctx, "delete order", `DELETE FROM orders WHERE id=?`, id)
}
