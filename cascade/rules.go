package cascade

import (
	"context"
	"fmt"

	"ubcore/ident"
	"ubcore/lifecycle"
	"ubcore/store"
)

type Policy string

const (
	PolicyBlock      Policy = "block"
	PolicyDelete     Policy = "cascade-delete"
	PolicyNullify    Policy = "nullify-reference"
	PolicyTransition Policy = "cascade-transition"
)

// Rule binds a parent trigger to one kind of dependent. For transition
// triggers Axis and To select the edge by its destination. When restricts
// the rule to dependents in those statuses; empty means every dependent.
type Rule struct {
	Name   string
	Parent ident.Kind
	Op     string
	Axis   string
	To     string
	Child  ident.Kind
	When   []string
	Policy Policy
	Target string
}

func (r Rule) matches(t lifecycle.Trigger) bool {
	if r.Parent != t.Kind || r.Op != t.Op {
		return false
	}
	if r.Op == lifecycle.OpDelete {
		return true
	}
	return r.Axis == t.Axis && r.To == t.To
}

func (r Rule) selects(status string) bool {
	if len(r.When) == 0 {
		return true
	}
	for _, s := range r.When {
		if s == status {
			return true
		}
	}
	return false
}

// DefaultRules is the relationship table between projects, files, quotes,
// orders and print jobs.
func DefaultRules() []Rule {
	return []Rule{
		{Name: "project-delete-files", Parent: ident.KindProject, Op: lifecycle.OpDelete,
			Child: ident.KindFile, Policy: PolicyDelete},
		{Name: "project-delete-quotes", Parent: ident.KindProject, Op: lifecycle.OpDelete,
			Child: ident.KindQuote, Policy: PolicyDelete},
		{Name: "project-delete-orders", Parent: ident.KindProject, Op: lifecycle.OpDelete,
			Child: ident.KindOrder, Policy: PolicyNullify},

		{Name: "order-delete-printing-jobs", Parent: ident.KindOrder, Op: lifecycle.OpDelete,
			Child: ident.KindJob, When: []string{lifecycle.JobPrinting}, Policy: PolicyBlock},
		{Name: "order-delete-jobs", Parent: ident.KindOrder, Op: lifecycle.OpDelete,
			Child: ident.KindJob, Policy: PolicyDelete},

		{Name: "order-delivered-printing-jobs", Parent: ident.KindOrder, Op: lifecycle.OpTransition,
			Axis: lifecycle.AxisFulfillment, To: lifecycle.FulfillmentDelivered,
			Child: ident.KindJob, When: []string{lifecycle.JobPrinting}, Policy: PolicyBlock},
		{Name: "order-cancelled-jobs", Parent: ident.KindOrder, Op: lifecycle.OpTransition,
			Axis: lifecycle.AxisFulfillment, To: lifecycle.FulfillmentCancelled,
			Child: ident.KindJob, When: []string{lifecycle.JobQueued, lifecycle.JobPrinting, lifecycle.JobPaused},
			Policy: PolicyTransition, Target: lifecycle.JobCancelled},

		{Name: "project-cancelled-finished-orders", Parent: ident.KindProject, Op: lifecycle.OpTransition,
			Axis: lifecycle.AxisStatus, To: lifecycle.ProjectCancelled,
			Child: ident.KindOrder, When: []string{lifecycle.FulfillmentCompleted, lifecycle.FulfillmentShipped, lifecycle.FulfillmentDelivered},
			Policy: PolicyBlock},
		{Name: "project-cancelled-open-orders", Parent: ident.KindProject, Op: lifecycle.OpTransition,
			Axis: lifecycle.AxisStatus, To: lifecycle.ProjectCancelled,
			Child: ident.KindOrder, When: []string{lifecycle.FulfillmentPending, lifecycle.FulfillmentApproved, lifecycle.FulfillmentPrinting},
			Policy: PolicyTransition, Target: lifecycle.FulfillmentCancelled},
	}
}

// dependent is the slice of a child row the rules need.
type dependent struct {
	id      string
	status  string
	version int64
}

func dependents(ctx context.Context, tx *store.Tx, parentID string, child ident.Kind) ([]dependent, error) {
	var out []dependent
	switch child {
	case ident.KindFile:
		files, err := tx.ListProjectFiles(ctx, parentID)
		if err != nil {
			return nil, err
		}
		for _, f := range files {
			out = append(out, dependent{id: f.ID})
		}
	case ident.KindQuote:
		quotes, err := tx.ListProjectQuotes(ctx, parentID)
		if err != nil {
			return nil, err
		}
		for _, q := range quotes {
			out = append(out, dependent{id: q.ID, version: q.Version})
		}
	case ident.KindOrder:
		orders, err := tx.ListProjectOrders(ctx, parentID)
		if err != nil {
			return nil, err
		}
		for _, o := range orders {
			out = append(out, dependent{id: o.ID, status: o.FulfillmentStatus, version: o.Version})
		}
	case ident.KindJob:
		jobs, err := tx.ListOrderJobs(ctx, parentID)
		if err != nil {
			return nil, err
		}
		for _, j := range jobs {
			out = append(out, dependent{id: j.ID, status: j.Status, version: j.Version})
		}
	default:
		return nil, fmt.Errorf("no dependents of kind %s", child)
	}
	return out, nil
}

func deleteDependent(ctx context.Context, tx *store.Tx, kind ident.Kind, id string) error {
	switch kind {
	case ident.KindFile:
		return tx.DeleteFile(ctx, id)
	case ident.KindQuote:
		return tx.DeleteQuote(ctx, id)
	case ident.KindJob:
		return tx.DeletePrintJob(ctx, id)
	}
	return fmt.Errorf("cannot cascade-delete %s", kind)
}

func nullifyDependent(ctx context.Context, tx *store.Tx, kind ident.Kind, d dependent) error {
	if kind != ident.KindOrder {
		return fmt.Errorf("cannot nullify references from %s", kind)
	}
	return tx.ClearOrderProject(ctx, d.id, d.version)
}
