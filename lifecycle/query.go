package lifecycle

import (
	"context"
	"fmt"
	"time"

	"ubcore/ident"
	"ubcore/store"
)

// Entity is any stored record together with its kind.
type Entity struct {
	Kind  ident.Kind `json:"kind"`
	Value any        `json:"entity"`
}

// Get loads an entity by identifier.
func (m *Machine) Get(ctx context.Context, id string) (*Entity, error) {
	parsed, err := ident.Parse(id)
	if err != nil {
		return nil, err
	}
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	tx := m.db.Direct()
	var v any
	switch parsed.Kind {
	case ident.KindClient:
		v, err = tx.GetClient(ctx, id)
	case ident.KindProject:
		v, err = tx.GetProject(ctx, id)
	case ident.KindQuote:
		v, err = tx.GetQuote(ctx, id)
	case ident.KindOrder:
		v, err = tx.GetOrder(ctx, id)
	case ident.KindFile:
		v, err = tx.GetFile(ctx, id)
	case ident.KindJob:
		v, err = tx.GetPrintJob(ctx, id)
	}
	if err != nil {
		return nil, err
	}
	return &Entity{Kind: parsed.Kind, Value: v}, nil
}

// ListProjects returns an owner's projects, optionally in one status.
func (m *Machine) ListProjects(ctx context.Context, owner, status string, limit int) ([]*store.Project, error) {
	if status != "" && !ProjectStatuses.Valid(status) {
		return nil, invalid("%q is not a project status", status)
	}
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()
	return m.db.Direct().ListProjects(ctx, owner, status, limit)
}

// ListOrders returns an owner's orders, optionally in one fulfillment status.
func (m *Machine) ListOrders(ctx context.Context, owner, status string, limit int) ([]*store.Order, error) {
	if status != "" && !FulfillmentStatuses.Valid(status) {
		return nil, invalid("%q is not a fulfillment status", status)
	}
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()
	return m.db.Direct().ListOrders(ctx, owner, status, limit)
}

func (m *Machine) ProjectFiles(ctx context.Context, projectID string) ([]*store.ProjectFile, error) {
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()
	tx := m.db.Direct()
	if _, err := tx.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	return tx.ListProjectFiles(ctx, projectID)
}

func (m *Machine) ProjectQuotes(ctx context.Context, projectID string) ([]*store.Quote, error) {
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()
	tx := m.db.Direct()
	if _, err := tx.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	return tx.ListProjectQuotes(ctx, projectID)
}

func (m *Machine) OrderJobs(ctx context.Context, orderID string) ([]*store.PrintJob, error) {
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()
	tx := m.db.Direct()
	if _, err := tx.GetOrder(ctx, orderID); err != nil {
		return nil, err
	}
	return tx.ListOrderJobs(ctx, orderID)
}

// History returns the audit trail of one entity, oldest first. Entries
// outlive the entity itself.
func (m *Machine) History(ctx context.Context, id string) ([]*store.AuditEntry, error) {
	if _, err := ident.Parse(id); err != nil {
		return nil, err
	}
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()
	entries, err := m.db.Direct().ListEntityAudit(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("history %s: %w", id, err)
	}
	return entries, nil
}

// Stats summarises the pipeline for the current calendar month.
func (m *Machine) Stats(ctx context.Context) (*store.DashboardStats, error) {
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()
	now := m.clock.Now()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	return m.db.Direct().Stats(ctx, monthStart)
}
