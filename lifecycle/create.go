package lifecycle

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"ubcore/ident"
	"ubcore/protocol"
	"ubcore/store"
)

// Project purposes.
const (
	PurposeFunctional = "functional"
	PurposeIdeal      = "ideal"
)

// Order types.
const (
	OrderTypeProject = "project"
	OrderTypeProduct = "product"
)

// AllowedFileTypes lists the model formats a project accepts.
var AllowedFileTypes = map[string]bool{
	"stl": true, "stp": true, "step": true, "obj": true, "3ds": true, "ply": true, "gcode": true,
}

type ClientInput struct {
	Name       string          `json:"name"`
	Email      string          `json:"email"`
	Attributes json.RawMessage `json:"attributes,omitempty"`
}

type ProjectInput struct {
	Owner        string          `json:"owner"`
	Name         string          `json:"name"`
	Description  string          `json:"description"`
	Purpose      string          `json:"purpose"`
	Consultation bool            `json:"consultation"`
	Attributes   json.RawMessage `json:"attributes,omitempty"`
}

type FileInput struct {
	ProjectID  string          `json:"project_id"`
	Filename   string          `json:"filename"`
	FileSize   int64           `json:"file_size"`
	Attributes json.RawMessage `json:"attributes,omitempty"`
}

// QuoteInput issues a quote. ValidUntil defaults to the configured validity
// window from now.
type QuoteInput struct {
	ProjectID  string           `json:"project_id"`
	LineItems  []store.LineItem `json:"line_items"`
	Notes      string           `json:"notes"`
	ValidUntil *time.Time       `json:"valid_until,omitempty"`
	Attributes json.RawMessage  `json:"attributes,omitempty"`
}

// QuoteTerms are the only quote fields that change after issue. Nil fields
// are left as they are.
type QuoteTerms struct {
	Notes      *string    `json:"notes,omitempty"`
	ValidUntil *time.Time `json:"valid_until,omitempty"`
}

// OrderInput creates an order. A zero TotalAmount on a project order takes
// the project's quoted amount.
type OrderInput struct {
	Owner           string          `json:"owner"`
	ProjectID       *string         `json:"project_id,omitempty"`
	OrderType       string          `json:"order_type"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	ShippingAddress string          `json:"shipping_address"`
	InvoiceNumber   string          `json:"invoice_number"`
	Attributes      json.RawMessage `json:"attributes,omitempty"`
}

type JobInput struct {
	OrderID     string          `json:"order_id"`
	PrinterID   string          `json:"printer_id"`
	TotalLayers int             `json:"total_layers"`
	Telemetry   json.RawMessage `json:"telemetry,omitempty"`
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

func validDocument(doc json.RawMessage, field string) error {
	if len(doc) > 0 && !json.Valid(doc) {
		return invalid("%s is not valid JSON", field)
	}
	return nil
}

// create runs fn in a transaction with the default timeout and emits the
// creation event once it commits.
func (m *Machine) create(ctx context.Context, kind ident.Kind, actor string, fn func(ctx context.Context, tx *store.Tx) (id, owner, status string, err error)) error {
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	var id, owner, status string
	err := m.retryConflicts(ctx, func() error {
		return m.db.WithTx(ctx, func(tx *store.Tx) error {
			var err error
			id, owner, status, err = fn(ctx, tx)
			if err != nil {
				return err
			}
			return m.enqueue(ctx, tx, protocol.TypeEntityCreated, id, &protocol.EntityCreated{
				ID: id, Kind: string(kind), Owner: owner, Status: status, Actor: actor,
			})
		})
	})
	if err != nil {
		return fmt.Errorf("create %s: %w", kind, err)
	}
	m.emitter.EmitEntityCreated(kind, id, owner, status, actor)
	return nil
}

func (m *Machine) allocate(ctx context.Context, tx *store.Tx, kind ident.Kind, owner string) (string, error) {
	scope, err := ident.NewScope(kind, ident.YearOf(m.clock.Now()), owner)
	if err != nil {
		return "", err
	}
	// Entity rows carry their owner, so only clients may sit in the global scope.
	if kind.Owned() && scope.Owner == ident.GlobalOwner {
		return "", fmt.Errorf("%w: %s needs a client owner", ident.ErrInvalidScope, kind)
	}
	id, err := m.alloc.AllocateTx(ctx, tx, scope)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// RegisterClient creates an account. Client identifiers are numbered
// globally per year.
func (m *Machine) RegisterClient(ctx context.Context, in ClientInput, actor string) (*store.Client, error) {
	if strings.TrimSpace(in.Name) == "" {
		return nil, invalid("client name is required")
	}
	if err := validDocument(in.Attributes, "attributes"); err != nil {
		return nil, err
	}
	var c *store.Client
	err := m.create(ctx, ident.KindClient, actor, func(ctx context.Context, tx *store.Tx) (string, string, string, error) {
		id, err := m.allocate(ctx, tx, ident.KindClient, ident.GlobalOwner)
		if err != nil {
			return "", "", "", err
		}
		if err := tx.InsertClient(ctx, &store.Client{ID: id, Name: in.Name, Email: in.Email, Attributes: in.Attributes}); err != nil {
			return "", "", "", err
		}
		if c, err = tx.GetClient(ctx, id); err != nil {
			return "", "", "", err
		}
		if err := tx.AppendAudit(ctx, string(ident.KindClient), id, "created", "", snapshot(c), actor); err != nil {
			return "", "", "", err
		}
		return id, ident.GlobalOwner, "", nil
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// CreateProject records a new project in the uploaded status.
func (m *Machine) CreateProject(ctx context.Context, in ProjectInput, actor string) (*store.Project, error) {
	if strings.TrimSpace(in.Name) == "" {
		return nil, invalid("project name is required")
	}
	switch in.Purpose {
	case "":
		in.Purpose = PurposeFunctional
	case PurposeFunctional, PurposeIdeal:
	default:
		return nil, invalid("purpose %q is not %s or %s", in.Purpose, PurposeFunctional, PurposeIdeal)
	}
	if err := validDocument(in.Attributes, "attributes"); err != nil {
		return nil, err
	}
	var p *store.Project
	err := m.create(ctx, ident.KindProject, actor, func(ctx context.Context, tx *store.Tx) (string, string, string, error) {
		id, err := m.allocate(ctx, tx, ident.KindProject, in.Owner)
		if err != nil {
			return "", "", "", err
		}
		p = &store.Project{
			ID: id, Owner: in.Owner, Name: in.Name, Description: in.Description, Purpose: in.Purpose,
			Consultation: in.Consultation, Amount: decimal.Zero, Status: ProjectStatuses.Initial(),
			Attributes: in.Attributes,
		}
		if err := tx.InsertProject(ctx, p); err != nil {
			return "", "", "", err
		}
		if p, err = tx.GetProject(ctx, id); err != nil {
			return "", "", "", err
		}
		if err := tx.AppendAudit(ctx, string(ident.KindProject), id, "created", "", p.Status, actor); err != nil {
			return "", "", "", err
		}
		return id, p.Owner, p.Status, nil
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// AddFile attaches a model file to a project and bumps its file count in the
// same transaction. The file type comes from the filename's extension.
func (m *Machine) AddFile(ctx context.Context, in FileInput, actor string) (*store.ProjectFile, error) {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(in.Filename), "."))
	if !AllowedFileTypes[ext] {
		return nil, invalid("file type %q is not accepted", ext)
	}
	if in.FileSize < 0 {
		return nil, invalid("file size must not be negative")
	}
	if err := validDocument(in.Attributes, "attributes"); err != nil {
		return nil, err
	}
	var f *store.ProjectFile
	err := m.create(ctx, ident.KindFile, actor, func(ctx context.Context, tx *store.Tx) (string, string, string, error) {
		p, err := tx.GetProject(ctx, in.ProjectID)
		if err != nil {
			return "", "", "", err
		}
		if ProjectStatuses.IsTerminal(p.Status) {
			return "", "", "", fmt.Errorf("%w: project %s is %s", ErrInvalidTransition, p.ID, p.Status)
		}
		id, err := m.allocate(ctx, tx, ident.KindFile, p.Owner)
		if err != nil {
			return "", "", "", err
		}
		f = &store.ProjectFile{
			ID: id, ProjectID: p.ID, Owner: p.Owner, Filename: in.Filename, FileSize: in.FileSize,
			FileType: ext, Attributes: in.Attributes,
		}
		if err := tx.InsertFile(ctx, f); err != nil {
			return "", "", "", err
		}
		if err := tx.AdjustProjectFileCount(ctx, p.ID, 1, p.Version); err != nil {
			return "", "", "", err
		}
		if f, err = tx.GetFile(ctx, id); err != nil {
			return "", "", "", err
		}
		if err := tx.AppendAudit(ctx, string(ident.KindFile), id, "created", "", f.Filename, actor); err != nil {
			return "", "", "", err
		}
		return id, p.Owner, "", nil
	})
	if err != nil {
		return nil, err
	}
	return f, nil
}

// IssueQuote prices a project. The project must be uploaded or already
// quoted; it ends up quoted with its amount set to the quote total.
func (m *Machine) IssueQuote(ctx context.Context, in QuoteInput, actor string) (*store.Quote, error) {
	if len(in.LineItems) == 0 {
		return nil, invalid("a quote needs at least one line item")
	}
	total := decimal.Zero
	for i, li := range in.LineItems {
		if li.Quantity <= 0 {
			return nil, invalid("line item %d: quantity must be positive", i+1)
		}
		if li.UnitPrice.IsNegative() {
			return nil, invalid("line item %d: unit price must not be negative", i+1)
		}
		total = total.Add(li.Amount())
	}
	if err := validDocument(in.Attributes, "attributes"); err != nil {
		return nil, err
	}

	now := m.clock.Now()
	validUntil := now.Add(m.quoteValidity)
	if in.ValidUntil != nil {
		if !in.ValidUntil.After(now) {
			return nil, invalid("valid_until must be in the future")
		}
		validUntil = *in.ValidUntil
	}

	var q *store.Quote
	var moved *Outcome
	err := m.create(ctx, ident.KindQuote, actor, func(ctx context.Context, tx *store.Tx) (string, string, string, error) {
		p, err := tx.GetProject(ctx, in.ProjectID)
		if err != nil {
			return "", "", "", err
		}
		if p.Status != ProjectUploaded && p.Status != ProjectQuoted {
			return "", "", "", fmt.Errorf("%w: cannot quote project %s in status %s", ErrInvalidTransition, p.ID, p.Status)
		}
		id, err := m.allocate(ctx, tx, ident.KindQuote, p.Owner)
		if err != nil {
			return "", "", "", err
		}
		q = &store.Quote{
			ID: id, ProjectID: p.ID, Owner: p.Owner, Purpose: p.Purpose, FileCount: p.FileCount,
			Consultation: p.Consultation, LineItems: in.LineItems, Total: total, Notes: in.Notes,
			ValidUntil: validUntil, Attributes: in.Attributes,
		}
		if err := tx.InsertQuote(ctx, q); err != nil {
			return "", "", "", err
		}
		if err := tx.UpdateProjectQuoted(ctx, p.ID, ProjectQuoted, total, p.Version); err != nil {
			return "", "", "", err
		}
		if p.Status != ProjectQuoted {
			moved = &Outcome{Kind: ident.KindProject, ID: p.ID, Axis: AxisStatus, From: p.Status, To: ProjectQuoted, Version: p.Version}
			if err := m.afterTransition(ctx, tx, moved, actor); err != nil {
				return "", "", "", err
			}
		}
		if q, err = tx.GetQuote(ctx, id); err != nil {
			return "", "", "", err
		}
		if err := tx.AppendAudit(ctx, string(ident.KindQuote), id, "created", "", q.Total.StringFixed(2), actor); err != nil {
			return "", "", "", err
		}
		return id, p.Owner, "", nil
	})
	if err != nil {
		return nil, err
	}
	if moved != nil {
		m.emitter.EmitEntityTransitioned(moved.Kind, moved.ID, moved.Axis, moved.From, moved.To, actor, moved.Version)
	}
	return q, nil
}

// UpdateQuoteTerms changes a quote's notes or validity window.
func (m *Machine) UpdateQuoteTerms(ctx context.Context, quoteID string, terms QuoteTerms, actor string) (*store.Quote, error) {
	if terms.Notes == nil && terms.ValidUntil == nil {
		return nil, invalid("nothing to update")
	}
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	var q *store.Quote
	err := m.retryConflicts(ctx, func() error {
		return m.db.WithTx(ctx, func(tx *store.Tx) error {
			cur, err := tx.GetQuote(ctx, quoteID)
			if err != nil {
				return err
			}
			notes, validUntil := cur.Notes, cur.ValidUntil
			if terms.Notes != nil {
				notes = *terms.Notes
			}
			if terms.ValidUntil != nil {
				validUntil = *terms.ValidUntil
			}
			if err := tx.UpdateQuoteTerms(ctx, cur.ID, notes, validUntil, cur.Version); err != nil {
				return err
			}
			if q, err = tx.GetQuote(ctx, cur.ID); err != nil {
				return err
			}
			return tx.AppendAudit(ctx, string(ident.KindQuote), cur.ID, "terms",
				snapshot(QuoteTerms{Notes: &cur.Notes, ValidUntil: &cur.ValidUntil}),
				snapshot(QuoteTerms{Notes: &q.Notes, ValidUntil: &q.ValidUntil}), actor)
		})
	})
	if err != nil {
		return nil, fmt.Errorf("update quote %s: %w", quoteID, err)
	}
	return q, nil
}

// CreateOrder opens an order in payment pending and fulfillment pending. A
// project reference must name an existing, live project of the same owner.
func (m *Machine) CreateOrder(ctx context.Context, in OrderInput, actor string) (*store.Order, error) {
	switch in.OrderType {
	case "":
		in.OrderType = OrderTypeProject
	case OrderTypeProject, OrderTypeProduct:
	default:
		return nil, invalid("order type %q is not %s or %s", in.OrderType, OrderTypeProject, OrderTypeProduct)
	}
	if in.OrderType == OrderTypeProject && (in.ProjectID == nil || *in.ProjectID == "") {
		return nil, invalid("a project order needs a project_id")
	}
	if in.ProjectID != nil && *in.ProjectID == "" {
		in.ProjectID = nil
	}
	if in.TotalAmount.IsNegative() {
		return nil, invalid("total amount must not be negative")
	}
	if err := validDocument(in.Attributes, "attributes"); err != nil {
		return nil, err
	}

	var o *store.Order
	err := m.create(ctx, ident.KindOrder, actor, func(ctx context.Context, tx *store.Tx) (string, string, string, error) {
		total := in.TotalAmount
		if in.ProjectID != nil {
			p, err := tx.GetProject(ctx, *in.ProjectID)
			if store.IsNotFound(err) {
				return "", "", "", invalid("project %s does not exist", *in.ProjectID)
			}
			if err != nil {
				return "", "", "", err
			}
			if p.Owner != in.Owner {
				return "", "", "", invalid("project %s belongs to %s, not %s", p.ID, p.Owner, in.Owner)
			}
			if p.Status == ProjectCancelled {
				return "", "", "", fmt.Errorf("%w: project %s is cancelled", ErrInvalidTransition, p.ID)
			}
			if total.IsZero() {
				total = p.Amount
			}
			if err := tx.ClaimProject(ctx, p.ID, p.Version); err != nil {
				return "", "", "", err
			}
		}
		id, err := m.allocate(ctx, tx, ident.KindOrder, in.Owner)
		if err != nil {
			return "", "", "", err
		}
		o = &store.Order{
			ID: id, Owner: in.Owner, ProjectID: in.ProjectID, OrderType: in.OrderType, TotalAmount: total,
			ShippingAddress: in.ShippingAddress, InvoiceNumber: in.InvoiceNumber,
			PaymentStatus: PaymentStatuses.Initial(), FulfillmentStatus: FulfillmentStatuses.Initial(),
			Attributes: in.Attributes,
		}
		if err := tx.InsertOrder(ctx, o); err != nil {
			return "", "", "", err
		}
		if o, err = tx.GetOrder(ctx, id); err != nil {
			return "", "", "", err
		}
		if err := tx.AppendAudit(ctx, string(ident.KindOrder), id, "created", "", o.FulfillmentStatus, actor); err != nil {
			return "", "", "", err
		}
		return id, o.Owner, o.FulfillmentStatus, nil
	})
	if err != nil {
		return nil, err
	}
	return o, nil
}

// CreatePrintJob queues a job under an order that is still being fulfilled.
// The order's version is bumped with the insert, so a cancel that commits in
// between forces a re-read instead of leaving a live job under it.
func (m *Machine) CreatePrintJob(ctx context.Context, in JobInput, actor string) (*store.PrintJob, error) {
	if in.TotalLayers < 0 {
		return nil, invalid("total layers must not be negative")
	}
	if err := validDocument(in.Telemetry, "telemetry"); err != nil {
		return nil, err
	}
	var j *store.PrintJob
	err := m.create(ctx, ident.KindJob, actor, func(ctx context.Context, tx *store.Tx) (string, string, string, error) {
		o, err := tx.GetOrder(ctx, in.OrderID)
		if err != nil {
			return "", "", "", err
		}
		if o.FulfillmentStatus == FulfillmentDelivered || o.FulfillmentStatus == FulfillmentCancelled {
			return "", "", "", fmt.Errorf("%w: order %s is %s", ErrInvalidTransition, o.ID, o.FulfillmentStatus)
		}
		if err := tx.ClaimOrder(ctx, o.ID, o.Version); err != nil {
			return "", "", "", err
		}
		id, err := m.allocate(ctx, tx, ident.KindJob, o.Owner)
		if err != nil {
			return "", "", "", err
		}
		j = &store.PrintJob{
			ID: id, OrderID: o.ID, Owner: o.Owner, PrinterID: in.PrinterID, Status: JobStatuses.Initial(),
			TotalLayers: in.TotalLayers, Telemetry: in.Telemetry,
		}
		if err := tx.InsertPrintJob(ctx, j); err != nil {
			return "", "", "", err
		}
		if j, err = tx.GetPrintJob(ctx, id); err != nil {
			return "", "", "", err
		}
		if err := tx.AppendAudit(ctx, string(ident.KindJob), id, "created", "", j.Status, actor); err != nil {
			return "", "", "", err
		}
		return id, o.Owner, j.Status, nil
	})
	if err != nil {
		return nil, err
	}
	return j, nil
}
