package store

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// DashboardStats summarises the intake and fulfillment pipeline.
type DashboardStats struct {
	TotalClients   int             `json:"total_clients"`
	PendingQuotes  int             `json:"pending_quotes"`
	ActiveOrders   int             `json:"active_orders"`
	ActiveJobs     int             `json:"active_jobs"`
	MonthlyRevenue decimal.Decimal `json:"monthly_revenue"`
}

// Stats counts registered clients, projects awaiting a quote, orders being
// fulfilled, jobs on printers, and the total of orders paid since monthStart.
// The GLOBAL owner is not a client.
func (tx *Tx) Stats(ctx context.Context, monthStart time.Time) (*DashboardStats, error) {
	var s DashboardStats
	if err := tx.queryRow(ctx, `SELECT COUNT(*) FROM clients WHERE id <> 'GLOBAL'`).Scan(&s.TotalClients); err != nil {
		return nil, classify("stats clients", err)
	}
	if err := tx.queryRow(ctx, `SELECT COUNT(*) FROM projects WHERE status='uploaded'`).Scan(&s.PendingQuotes); err != nil {
		return nil, classify("stats pending quotes", err)
	}
	if err := tx.queryRow(ctx, `SELECT COUNT(*) FROM orders WHERE fulfillment_status IN ('approved', 'printing')`).Scan(&s.ActiveOrders); err != nil {
		return nil, classify("stats active orders", err)
	}
	if err := tx.queryRow(ctx, `SELECT COUNT(*) FROM print_jobs WHERE status IN ('printing', 'paused')`).Scan(&s.ActiveJobs); err != nil {
		return nil, classify("stats active jobs", err)
	}

	rows, err := tx.query(ctx, `SELECT total_amount FROM orders WHERE payment_status='completed' AND created_at >= ?`, tx.db.timeArg(monthStart))
	if err != nil {
		return nil, classify("stats revenue", err)
	}
	defer rows.Close()
	s.MonthlyRevenue = decimal.Zero
	for rows.Next() {
		var amt decimal.Decimal
		if err := rows.Scan(&amt); err != nil {
			return nil, classify("scan revenue", err)
		}
		s.MonthlyRevenue = s.MonthlyRevenue.Add(amt)
	}
	return &s, classify("stats revenue", rows.Err())
}
