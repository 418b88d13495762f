package lifecycle

import (
	"fmt"
	"sort"
)

// Project statuses.
const (
	ProjectUploaded  = "uploaded"
	ProjectQuoted    = "quoted"
	ProjectApproved  = "approved"
	ProjectPrinting  = "printing"
	ProjectCompleted = "completed"
	ProjectDelivered = "delivered"
	ProjectPaid      = "paid"
	ProjectCancelled = "cancelled"
)

// Order payment statuses.
const (
	PaymentPending   = "pending"
	PaymentCompleted = "completed"
	PaymentFailed    = "failed"
)

// Order fulfillment statuses.
const (
	FulfillmentPending   = "pending"
	FulfillmentApproved  = "approved"
	FulfillmentPrinting  = "printing"
	FulfillmentCompleted = "completed"
	FulfillmentShipped   = "shipped"
	FulfillmentDelivered = "delivered"
	FulfillmentCancelled = "cancelled"
)

// Print job statuses.
const (
	JobQueued    = "queued"
	JobPrinting  = "printing"
	JobPaused    = "paused"
	JobCompleted = "completed"
	JobFailed    = "failed"
	JobCancelled = "cancelled"
)

// Axes name which status column a transition moves. Only orders have more
// than one.
const (
	AxisStatus      = "status"
	AxisPayment     = "payment"
	AxisFulfillment = "fulfillment"
)

// Table is a closed set of statuses and the legal edges between them.
type Table struct {
	name    string
	initial string
	edges   map[string][]string
}

func newTable(name, initial string, edges map[string][]string) *Table {
	return &Table{name: name, initial: initial, edges: edges}
}

var (
	ProjectStatuses = newTable("project", ProjectUploaded, map[string][]string{
		ProjectUploaded:  {ProjectQuoted, ProjectCancelled},
		ProjectQuoted:    {ProjectApproved, ProjectCancelled},
		ProjectApproved:  {ProjectPrinting, ProjectCancelled},
		ProjectPrinting:  {ProjectCompleted, ProjectCancelled},
		ProjectCompleted: {ProjectDelivered},
		ProjectDelivered: {ProjectPaid},
		ProjectPaid:      nil,
		ProjectCancelled: nil,
	})

	PaymentStatuses = newTable("order payment", PaymentPending, map[string][]string{
		PaymentPending:   {PaymentCompleted, PaymentFailed},
		PaymentCompleted: nil,
		PaymentFailed:    nil,
	})

	FulfillmentStatuses = newTable("order fulfillment", FulfillmentPending, map[string][]string{
		FulfillmentPending:   {FulfillmentApproved, FulfillmentCancelled},
		FulfillmentApproved:  {FulfillmentPrinting, FulfillmentCancelled},
		FulfillmentPrinting:  {FulfillmentCompleted, FulfillmentCancelled},
		FulfillmentCompleted: {FulfillmentShipped},
		FulfillmentShipped:   {FulfillmentDelivered},
		FulfillmentDelivered: nil,
		FulfillmentCancelled: nil,
	})

	JobStatuses = newTable("print job", JobQueued, map[string][]string{
		JobQueued:    {JobPrinting, JobCancelled},
		JobPrinting:  {JobPaused, JobCompleted, JobFailed, JobCancelled},
		JobPaused:    {JobPrinting, JobFailed, JobCancelled},
		JobCompleted: nil,
		JobFailed:    nil,
		JobCancelled: nil,
	})
)

func (t *Table) Name() string    { return t.name }
func (t *Table) Initial() string { return t.initial }

// Valid reports whether s is a member of the table.
func (t *Table) Valid(s string) bool {
	_, ok := t.edges[s]
	return ok
}

// Allows reports whether from → to is a legal edge.
func (t *Table) Allows(from, to string) bool {
	for _, s := range t.edges[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether s has no outgoing edges.
func (t *Table) IsTerminal(s string) bool {
	next, ok := t.edges[s]
	return ok && len(next) == 0
}

// Targets returns the statuses reachable from s in one step.
func (t *Table) Targets(s string) []string {
	out := append([]string(nil), t.edges[s]...)
	return out
}

// Statuses lists every member, sorted.
func (t *Table) Statuses() []string {
	out := make([]string, 0, len(t.edges))
	for s := range t.edges {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Check validates from → to and returns an ErrInvalidTransition describing
// why it is refused.
func (t *Table) Check(from, to string) error {
	if !t.Valid(to) {
		return fmt.Errorf("%w: %q is not a %s status", ErrInvalidTransition, to, t.name)
	}
	if !t.Allows(from, to) {
		return fmt.Errorf("%w: %s %s -> %s", ErrInvalidTransition, t.name, from, to)
	}
	return nil
}
