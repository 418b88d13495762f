package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/juju/clock"
	"github.com/shopspring/decimal"

	"ubcore/config"
	"ubcore/ident"
	"ubcore/store"
)

func testDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(&config.DatabaseConfig{
		Driver: "sqlite",
		SQLite: config.SQLiteConfig{Path: filepath.Join(t.TempDir(), "test.db")},
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

type recordingEmitter struct {
	mu          sync.Mutex
	created     []string
	transitions []string
	deleted     []string
	cascades    int
	progress    []int
}

func (e *recordingEmitter) EmitEntityCreated(_ ident.Kind, id, _, _, _ string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.created = append(e.created, id)
}

func (e *recordingEmitter) EmitEntityTransitioned(_ ident.Kind, id, _, from, to, _ string, _ int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.transitions = append(e.transitions, id+":"+from+"->"+to)
}

func (e *recordingEmitter) EmitEntityDeleted(_ ident.Kind, id, _ string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.deleted = append(e.deleted, id)
}

func (e *recordingEmitter) EmitCascadeApplied(string, []Effect) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cascades++
}

func (e *recordingEmitter) EmitJobProgress(_ string, progress int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.progress = append(e.progress, progress)
}

func newMachine(t *testing.T) (*Machine, *store.DB, *recordingEmitter) {
	t.Helper()
	db := testDB(t)
	em := &recordingEmitter{}
	m := New(db, ident.NewAllocator(db), WithEmitter(em), WithRetry(3, time.Millisecond))
	return m, db, em
}

// seed creates a client and one of its projects.
func seed(t *testing.T, m *Machine) (*store.Client, *store.Project) {
	t.Helper()
	ctx := context.Background()
	c, err := m.RegisterClient(ctx, ClientInput{Name: "Ada", Email: "ada@example.com"}, "test")
	if err != nil {
		t.Fatalf("register client: %v", err)
	}
	p, err := m.CreateProject(ctx, ProjectInput{Owner: c.ID, Name: "Bracket"}, "test")
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	return c, p
}

func quote(t *testing.T, m *Machine, projectID string) *store.Quote {
	t.Helper()
	q, err := m.IssueQuote(context.Background(), QuoteInput{
		ProjectID: projectID,
		LineItems: []store.LineItem{
			{Description: "PLA print", Quantity: 2, UnitPrice: decimal.RequireFromString("12.50")},
			{Description: "Post-processing", Quantity: 1, UnitPrice: decimal.RequireFromString("5")},
		},
	}, "test")
	if err != nil {
		t.Fatalf("issue quote: %v", err)
	}
	return q
}

func move(t *testing.T, m *Machine, id, axis, target string) *Outcome {
	t.Helper()
	out, err := m.Transition(context.Background(), TransitionRequest{ID: id, Axis: axis, Target: target, Actor: "test"})
	if err != nil {
		t.Fatalf("transition %s -> %s: %v", id, target, err)
	}
	return out
}

func TestCreateAssignsScopedIdentifiers(t *testing.T) {
	m, _, em := newMachine(t)
	c, p := seed(t, m)

	cid, err := ident.Parse(c.ID)
	if err != nil || cid.Kind != ident.KindClient || cid.Seq != 1 {
		t.Fatalf("client id %q parsed as %+v (%v)", c.ID, cid, err)
	}
	pid, err := ident.Parse(p.ID)
	if err != nil || pid.Kind != ident.KindProject || pid.Owner != c.ID || pid.Seq != 1 {
		t.Fatalf("project id %q parsed as %+v (%v)", p.ID, pid, err)
	}
	if p.Status != ProjectUploaded || p.Version != 1 || p.Purpose != PurposeFunctional {
		t.Errorf("project = %+v", p)
	}
	if len(em.created) != 2 {
		t.Errorf("created events = %v, want 2", em.created)
	}
}

func TestProjectLifecycle(t *testing.T) {
	m, _, _ := newMachine(t)
	_, p := seed(t, m)

	q := quote(t, m, p.ID)
	if !q.Total.Equal(decimal.RequireFromString("30")) {
		t.Errorf("quote total = %s, want 30", q.Total)
	}

	e, err := m.Get(context.Background(), p.ID)
	if err != nil {
		t.Fatal(err)
	}
	got := e.Value.(*store.Project)
	if got.Status != ProjectQuoted {
		t.Fatalf("status after quote = %s, want quoted", got.Status)
	}
	if !got.Amount.Equal(q.Total) {
		t.Errorf("project amount = %s, want %s", got.Amount, q.Total)
	}

	for _, s := range []string{ProjectApproved, ProjectPrinting, ProjectCompleted, ProjectDelivered, ProjectPaid} {
		out := move(t, m, p.ID, "", s)
		if !out.Changed || out.To != s {
			t.Fatalf("outcome = %+v", out)
		}
	}

	_, err = m.Transition(context.Background(), TransitionRequest{ID: p.ID, Target: ProjectCancelled})
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("cancel paid project err = %v, want ErrInvalidTransition", err)
	}

	hist, err := m.History(context.Background(), p.ID)
	if err != nil {
		t.Fatal(err)
	}
	// created, quoted, then five transitions
	if len(hist) != 7 {
		t.Errorf("history has %d entries, want 7", len(hist))
	}
}

func TestIllegalTransitionLeavesEntityUnchanged(t *testing.T) {
	m, db, _ := newMachine(t)
	_, p := seed(t, m)

	for _, target := range []string{ProjectPrinting, ProjectPaid, "shipped", ""} {
		_, err := m.Transition(context.Background(), TransitionRequest{ID: p.ID, Target: target})
		if !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("-> %q: err = %v, want ErrInvalidTransition", target, err)
		}
	}
	got, err := db.Direct().GetProject(context.Background(), p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != ProjectUploaded || got.Version != p.Version {
		t.Errorf("project changed to %s v%d", got.Status, got.Version)
	}
}

func TestIdempotentTransition(t *testing.T) {
	m, db, em := newMachine(t)
	_, p := seed(t, m)
	ctx := context.Background()
	before, _ := db.Direct().CountPendingOutbox(ctx)

	out := move(t, m, p.ID, "", ProjectUploaded)
	if out.Changed {
		t.Error("Changed = true for a no-op transition")
	}
	if out.Version != p.Version {
		t.Errorf("version = %d, want %d", out.Version, p.Version)
	}
	after, _ := db.Direct().CountPendingOutbox(ctx)
	if after != before {
		t.Errorf("outbox grew from %d to %d", before, after)
	}
	if len(em.transitions) != 0 {
		t.Errorf("transition events = %v, want none", em.transitions)
	}
}

func TestTransitionErrors(t *testing.T) {
	m, _, _ := newMachine(t)
	c, p := seed(t, m)
	ctx := context.Background()

	if _, err := m.Transition(ctx, TransitionRequest{ID: "nonsense", Target: ProjectQuoted}); !errors.Is(err, ident.ErrMalformed) {
		t.Errorf("malformed id err = %v", err)
	}
	if _, err := m.Transition(ctx, TransitionRequest{ID: c.ID, Target: "active"}); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("client transition err = %v", err)
	}
	missing := c.ID + "-P2024-0999"
	if _, err := m.Transition(ctx, TransitionRequest{ID: missing, Target: ProjectQuoted}); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("missing project err = %v", err)
	}
	if _, err := m.Transition(ctx, TransitionRequest{ID: p.ID, Axis: AxisPayment, Target: ProjectQuoted}); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("wrong axis err = %v", err)
	}
}

func TestOrderAxesAreIndependent(t *testing.T) {
	m, _, _ := newMachine(t)
	c, _ := seed(t, m)
	ctx := context.Background()

	o, err := m.CreateOrder(ctx, OrderInput{Owner: c.ID, OrderType: OrderTypeProduct, TotalAmount: decimal.NewFromInt(40)}, "test")
	if err != nil {
		t.Fatal(err)
	}
	if o.PaymentStatus != PaymentPending || o.FulfillmentStatus != FulfillmentPending {
		t.Fatalf("initial statuses = %s/%s", o.PaymentStatus, o.FulfillmentStatus)
	}

	out := move(t, m, o.ID, AxisPayment, PaymentCompleted)
	if out.Axis != AxisPayment || out.From != PaymentPending {
		t.Errorf("outcome = %+v", out)
	}
	move(t, m, o.ID, "", FulfillmentApproved)

	got := out.Entity.(*store.Order)
	if got.FulfillmentStatus != FulfillmentPending {
		t.Errorf("payment move changed fulfillment to %s", got.FulfillmentStatus)
	}

	if _, err := m.Transition(ctx, TransitionRequest{ID: o.ID, Axis: AxisPayment, Target: PaymentFailed}); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("completed -> failed err = %v", err)
	}
	if _, err := m.Transition(ctx, TransitionRequest{ID: o.ID, Axis: "shipping", Target: "x"}); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("unknown axis err = %v", err)
	}
}

func newJob(t *testing.T, m *Machine) *store.PrintJob {
	t.Helper()
	c, _ := seed(t, m)
	o, err := m.CreateOrder(context.Background(), OrderInput{Owner: c.ID, OrderType: OrderTypeProduct}, "test")
	if err != nil {
		t.Fatal(err)
	}
	j, err := m.CreatePrintJob(context.Background(), JobInput{OrderID: o.ID, PrinterID: "prusa-3", TotalLayers: 200}, "test")
	if err != nil {
		t.Fatal(err)
	}
	return j
}

func TestJobCompletionRequiresFullProgress(t *testing.T) {
	m, _, _ := newMachine(t)
	j := newJob(t, m)
	ctx := context.Background()

	if j.Status != JobQueued {
		t.Fatalf("initial status = %s", j.Status)
	}
	out := move(t, m, j.ID, "", JobPrinting)
	if out.Entity.(*store.PrintJob).StartedAt == nil {
		t.Error("started_at not set on printing")
	}

	_, err := m.Transition(ctx, TransitionRequest{ID: j.ID, Target: JobCompleted})
	if !errors.Is(err, ErrIncompleteProgress) || !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("complete at 0%% err = %v", err)
	}

	if _, err := m.RecordProgress(ctx, j.ID, ProgressUpdate{Progress: 100, CurrentLayer: 200}); err != nil {
		t.Fatal(err)
	}
	out = move(t, m, j.ID, "", JobCompleted)
	done := out.Entity.(*store.PrintJob)
	if done.CompletedAt == nil || done.StartedAt == nil {
		t.Errorf("timestamps = %v / %v", done.StartedAt, done.CompletedAt)
	}
}

func TestJobPauseResume(t *testing.T) {
	m, _, _ := newMachine(t)
	j := newJob(t, m)

	move(t, m, j.ID, "", JobPrinting)
	move(t, m, j.ID, "", JobPaused)
	move(t, m, j.ID, "", JobPrinting)
	move(t, m, j.ID, "", JobPaused)
	out := move(t, m, j.ID, "", JobFailed)
	if out.Entity.(*store.PrintJob).CompletedAt == nil {
		t.Error("completed_at not set on failure")
	}
	if _, err := m.Transition(context.Background(), TransitionRequest{ID: j.ID, Target: JobPrinting}); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("failed -> printing err = %v", err)
	}
}

func TestRecordProgress(t *testing.T) {
	m, _, em := newMachine(t)
	j := newJob(t, m)
	ctx := context.Background()

	if _, err := m.RecordProgress(ctx, j.ID, ProgressUpdate{Progress: 5}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("progress on queued job err = %v", err)
	}
	move(t, m, j.ID, "", JobPrinting)

	telemetry := json.RawMessage(`{"bed_c":60,"nozzle_c":215}`)
	got, err := m.RecordProgress(ctx, j.ID, ProgressUpdate{Progress: 40, CurrentLayer: 80, ETASeconds: 3600, Telemetry: telemetry})
	if err != nil {
		t.Fatal(err)
	}
	if got.Progress != 40 || got.CurrentLayer != 80 || got.TotalLayers != 200 || got.ETASeconds != 3600 {
		t.Errorf("job = %+v", got)
	}
	if string(got.Telemetry) != string(telemetry) {
		t.Errorf("telemetry = %s, want %s", got.Telemetry, telemetry)
	}

	got, err = m.RecordProgress(ctx, j.ID, ProgressUpdate{Progress: 40, CurrentLayer: 81})
	if err != nil {
		t.Fatal(err)
	}
	if string(got.Telemetry) != string(telemetry) {
		t.Errorf("telemetry replaced by empty sample: %s", got.Telemetry)
	}

	cases := []struct {
		name string
		u    ProgressUpdate
		want error
	}{
		{"regression", ProgressUpdate{Progress: 39}, ErrProgressRegression},
		{"over 100", ProgressUpdate{Progress: 101}, ErrInvalidProgress},
		{"negative", ProgressUpdate{Progress: -1}, ErrInvalidProgress},
		{"layer beyond total", ProgressUpdate{Progress: 50, CurrentLayer: 201}, ErrInvalidProgress},
		{"bad telemetry", ProgressUpdate{Progress: 50, Telemetry: json.RawMessage(`{`)}, ErrInvalidProgress},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := m.RecordProgress(ctx, j.ID, tc.u)
			if !errors.Is(err, tc.want) {
				t.Errorf("err = %v, want %v", err, tc.want)
			}
			if !errors.Is(err, ErrInvalidTransition) {
				t.Errorf("err = %v does not match ErrInvalidTransition", err)
			}
		})
	}

	move(t, m, j.ID, "", JobPaused)
	if _, err := m.RecordProgress(ctx, j.ID, ProgressUpdate{Progress: 45}); err != nil {
		t.Errorf("progress while paused: %v", err)
	}
	if len(em.progress) != 3 {
		t.Errorf("progress events = %v, want 3", em.progress)
	}
}

func TestIssueQuoteRules(t *testing.T) {
	m, _, _ := newMachine(t)
	_, p := seed(t, m)
	ctx := context.Background()

	if _, err := m.IssueQuote(ctx, QuoteInput{ProjectID: p.ID}, "test"); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("empty quote err = %v", err)
	}
	bad := []store.LineItem{{Description: "x", Quantity: 0, UnitPrice: decimal.NewFromInt(1)}}
	if _, err := m.IssueQuote(ctx, QuoteInput{ProjectID: p.ID, LineItems: bad}, "test"); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("zero quantity err = %v", err)
	}

	before := time.Now()
	q := quote(t, m, p.ID)
	want := before.Add(30 * 24 * time.Hour)
	if d := q.ValidUntil.Sub(want); d < -time.Minute || d > time.Minute {
		t.Errorf("valid_until = %v, want about %v", q.ValidUntil, want)
	}
	if q.Owner != p.Owner || q.ProjectID != p.ID || len(q.LineItems) != 2 {
		t.Errorf("quote = %+v", q)
	}

	// A second quote re-prices without another transition.
	second, err := m.IssueQuote(ctx, QuoteInput{
		ProjectID: p.ID,
		LineItems: []store.LineItem{{Description: "Resin", Quantity: 1, UnitPrice: decimal.RequireFromString("99.99")}},
	}, "test")
	if err != nil {
		t.Fatal(err)
	}
	e, _ := m.Get(ctx, p.ID)
	if got := e.Value.(*store.Project); !got.Amount.Equal(second.Total) {
		t.Errorf("amount = %s, want %s", got.Amount, second.Total)
	}

	move(t, m, p.ID, "", ProjectApproved)
	if _, err := m.IssueQuote(ctx, QuoteInput{ProjectID: p.ID, LineItems: second.LineItems}, "test"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("quote approved project err = %v", err)
	}
}

func TestUpdateQuoteTerms(t *testing.T) {
	m, _, _ := newMachine(t)
	_, p := seed(t, m)
	q := quote(t, m, p.ID)

	notes := "rush order"
	until := time.Now().Add(72 * time.Hour).Truncate(time.Second)
	got, err := m.UpdateQuoteTerms(context.Background(), q.ID, QuoteTerms{Notes: &notes, ValidUntil: &until}, "test")
	if err != nil {
		t.Fatal(err)
	}
	if got.Notes != notes || !got.ValidUntil.Equal(until) {
		t.Errorf("terms = %q %v, want %q %v", got.Notes, got.ValidUntil, notes, until)
	}
	if !got.Total.Equal(q.Total) || got.Version != q.Version+1 {
		t.Errorf("quote = %+v", got)
	}
	if _, err := m.UpdateQuoteTerms(context.Background(), q.ID, QuoteTerms{}, "test"); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("empty terms err = %v", err)
	}
}

func TestAddFileMaintainsCount(t *testing.T) {
	m, db, _ := newMachine(t)
	_, p := seed(t, m)
	ctx := context.Background()

	if _, err := m.AddFile(ctx, FileInput{ProjectID: p.ID, Filename: "notes.pdf"}, "test"); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("pdf err = %v", err)
	}
	f1, err := m.AddFile(ctx, FileInput{ProjectID: p.ID, Filename: "Bracket.STL", FileSize: 2048,
		Attributes: json.RawMessage(`{"material":"PETG","infill":20}`)}, "test")
	if err != nil {
		t.Fatal(err)
	}
	if f1.FileType != "stl" || f1.Owner != p.Owner {
		t.Errorf("file = %+v", f1)
	}
	if _, err := m.AddFile(ctx, FileInput{ProjectID: p.ID, Filename: "lid.step"}, "test"); err != nil {
		t.Fatal(err)
	}

	got, _ := db.Direct().GetProject(ctx, p.ID)
	if got.FileCount != 2 {
		t.Fatalf("file_count = %d, want 2", got.FileCount)
	}

	if _, err := m.Delete(ctx, f1.ID, "test"); err != nil {
		t.Fatal(err)
	}
	got, _ = db.Direct().GetProject(ctx, p.ID)
	if got.FileCount != 1 {
		t.Errorf("file_count after delete = %d, want 1", got.FileCount)
	}
}

func TestCreateOrderValidatesProject(t *testing.T) {
	m, _, _ := newMachine(t)
	c, p := seed(t, m)
	ctx := context.Background()
	quote(t, m, p.ID)

	other, err := m.RegisterClient(ctx, ClientInput{Name: "Grace"}, "test")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.CreateOrder(ctx, OrderInput{Owner: other.ID, ProjectID: &p.ID}, "test"); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("foreign project err = %v", err)
	}
	missing := c.ID + "-P2024-0999"
	if _, err := m.CreateOrder(ctx, OrderInput{Owner: c.ID, ProjectID: &missing}, "test"); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("missing project err = %v", err)
	}
	if _, err := m.CreateOrder(ctx, OrderInput{Owner: c.ID}, "test"); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("project order without project err = %v", err)
	}

	o, err := m.CreateOrder(ctx, OrderInput{Owner: c.ID, ProjectID: &p.ID, ShippingAddress: "1 Loom St"}, "test")
	if err != nil {
		t.Fatal(err)
	}
	if !o.TotalAmount.Equal(decimal.NewFromInt(30)) {
		t.Errorf("total = %s, want the quoted 30", o.TotalAmount)
	}
	if o.ProjectID == nil || *o.ProjectID != p.ID {
		t.Errorf("project_id = %v", o.ProjectID)
	}
}

func TestCreatePrintJobRejectsClosedOrder(t *testing.T) {
	m, _, _ := newMachine(t)
	c, _ := seed(t, m)
	ctx := context.Background()
	o, err := m.CreateOrder(ctx, OrderInput{Owner: c.ID, OrderType: OrderTypeProduct}, "test")
	if err != nil {
		t.Fatal(err)
	}
	move(t, m, o.ID, "", FulfillmentCancelled)
	if _, err := m.CreatePrintJob(ctx, JobInput{OrderID: o.ID}, "test"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("job on cancelled order err = %v", err)
	}
}

func TestCreateWritesOutbox(t *testing.T) {
	m, db, _ := newMachine(t)
	seed(t, m)
	msgs, err := db.Direct().ListPendingOutbox(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 {
		t.Fatalf("outbox has %d rows, want 2", len(msgs))
	}
	if msgs[0].MsgType != "entity.created" || msgs[0].Topic != "ubcore.events" {
		t.Errorf("first message = %s on %s", msgs[0].MsgType, msgs[0].Topic)
	}
}

func TestDeleteClientRefused(t *testing.T) {
	m, _, _ := newMachine(t)
	c, _ := seed(t, m)
	if _, err := m.Delete(context.Background(), c.ID, "test"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("err = %v", err)
	}
}

func TestListFilters(t *testing.T) {
	m, _, _ := newMachine(t)
	c, p := seed(t, m)
	ctx := context.Background()
	if _, err := m.CreateProject(ctx, ProjectInput{Owner: c.ID, Name: "Gear"}, "test"); err != nil {
		t.Fatal(err)
	}
	quote(t, m, p.ID)

	all, err := m.ListProjects(ctx, c.ID, "", 0)
	if err != nil || len(all) != 2 {
		t.Fatalf("all = %d (%v)", len(all), err)
	}
	quoted, err := m.ListProjects(ctx, c.ID, ProjectQuoted, 0)
	if err != nil || len(quoted) != 1 || quoted[0].ID != p.ID {
		t.Errorf("quoted = %v (%v)", quoted, err)
	}
	if _, err := m.ListProjects(ctx, c.ID, "lost", 0); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("bad status err = %v", err)
	}
}

func TestStats(t *testing.T) {
	m, _, _ := newMachine(t)
	c, _ := seed(t, m)
	ctx := context.Background()
	o, err := m.CreateOrder(ctx, OrderInput{Owner: c.ID, OrderType: OrderTypeProduct, TotalAmount: decimal.RequireFromString("19.90")}, "test")
	if err != nil {
		t.Fatal(err)
	}
	move(t, m, o.ID, AxisPayment, PaymentCompleted)
	move(t, m, o.ID, "", FulfillmentApproved)

	s, err := m.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if s.TotalClients != 1 || s.PendingQuotes != 1 || s.ActiveOrders != 1 {
		t.Errorf("stats = %+v", s)
	}
	if !s.MonthlyRevenue.Equal(decimal.RequireFromString("19.90")) {
		t.Errorf("revenue = %s", s.MonthlyRevenue)
	}
}

func TestCancelledContextIsStoreUnavailable(t *testing.T) {
	m, _, _ := newMachine(t)
	_, p := seed(t, m)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := m.Transition(ctx, TransitionRequest{ID: p.ID, Target: ProjectQuoted})
	if !errors.Is(err, store.ErrStoreUnavailable) {
		t.Errorf("err = %v, want ErrStoreUnavailable", err)
	}
}

func TestConcurrentTransitionsSerialise(t *testing.T) {
	m, db, _ := newMachine(t)
	_, p := seed(t, m)

	var wg sync.WaitGroup
	results := make(chan *Outcome, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := m.Transition(context.Background(), TransitionRequest{ID: p.ID, Target: ProjectCancelled})
			if err != nil {
				t.Error(err)
				return
			}
			results <- out
		}()
	}
	wg.Wait()
	close(results)

	changed := 0
	for out := range results {
		if out.Changed {
			changed++
		}
	}
	if changed != 1 {
		t.Errorf("%d transitions reported a change, want 1", changed)
	}
	got, _ := db.Direct().GetProject(context.Background(), p.ID)
	if got.Status != ProjectCancelled || got.Version != p.Version+1 {
		t.Errorf("project = %s v%d", got.Status, got.Version)
	}
}

func TestTableQueries(t *testing.T) {
	if !ProjectStatuses.IsTerminal(ProjectPaid) || ProjectStatuses.IsTerminal(ProjectQuoted) {
		t.Error("project terminal states wrong")
	}
	if !JobStatuses.Allows(JobPaused, JobPrinting) || JobStatuses.Allows(JobQueued, JobCompleted) {
		t.Error("job edges wrong")
	}
	if FulfillmentStatuses.Initial() != FulfillmentPending || PaymentStatuses.Initial() != PaymentPending {
		t.Error("order initial statuses wrong")
	}
	if n := len(ProjectStatuses.Statuses()); n != 8 {
		t.Errorf("project has %d statuses, want 8", n)
	}
}

var errRuleConflict = errors.New("rule lost a race")

// conflictingCascader fails its first fails calls with a version conflict.
type conflictingCascader struct {
	mu    sync.Mutex
	fails int
	calls int
}

func (c *conflictingCascader) Apply(_ context.Context, _ *store.Tx, t Trigger) ([]Effect, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.calls <= c.fails {
		return nil, fmt.Errorf("%w on %s: %w", errRuleConflict, t.ID, store.ErrConflict)
	}
	return nil, nil
}

// hookClock runs fn once, the first time the retry loop waits.
type hookClock struct {
	clock.Clock
	once sync.Once
	fn   func()
}

func (c *hookClock) After(d time.Duration) <-chan time.Time {
	c.once.Do(c.fn)
	return c.Clock.After(d)
}

func TestConflictRetryRereadsState(t *testing.T) {
	cases := []struct {
		name    string
		target  string
		changed bool
		wantErr error
	}{
		// The concurrent cancel already reached the target: a no-op.
		{"same target", FulfillmentCancelled, false, nil},
		// cancelled -> approved is not an edge any more.
		{"edge gone", FulfillmentApproved, false, ErrInvalidTransition},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			db := testDB(t)
			casc := &conflictingCascader{fails: 1}
			em := &recordingEmitter{}
			var o *store.Order
			clk := &hookClock{Clock: clock.WallClock}
			clk.fn = func() {
				if err := db.Direct().UpdateOrderFulfillment(context.Background(), o.ID, FulfillmentCancelled, o.Version); err != nil {
					t.Errorf("concurrent cancel: %v", err)
				}
			}
			m := New(db, ident.NewAllocator(db), WithCascader(casc), WithEmitter(em),
				WithClock(clk), WithRetry(3, time.Millisecond))
			c, _ := seed(t, m)
			var err error
			o, err = m.CreateOrder(context.Background(), OrderInput{Owner: c.ID, OrderType: OrderTypeProduct}, "test")
			if err != nil {
				t.Fatal(err)
			}

			out, err := m.Transition(context.Background(), TransitionRequest{ID: o.ID, Target: tc.target})
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("err = %v, want %v", err, tc.wantErr)
				}
			} else if err != nil {
				t.Fatal(err)
			} else if out.Changed != tc.changed {
				t.Errorf("Changed = %v", out.Changed)
			}
			if casc.calls != 1 {
				t.Errorf("cascader ran %d times, want 1", casc.calls)
			}
			if len(em.transitions) != 0 {
				t.Errorf("transitions emitted = %v", em.transitions)
			}
			got, _ := db.Direct().GetOrder(context.Background(), o.ID)
			if got.FulfillmentStatus != FulfillmentCancelled || got.Version != o.Version+1 {
				t.Errorf("order = %s v%d", got.FulfillmentStatus, got.Version)
			}
		})
	}
}

func TestConflictRetryExhausted(t *testing.T) {
	db := testDB(t)
	casc := &conflictingCascader{fails: 100}
	m := New(db, ident.NewAllocator(db), WithCascader(casc), WithRetry(3, time.Millisecond))
	c, _ := seed(t, m)
	ctx := context.Background()
	o, err := m.CreateOrder(ctx, OrderInput{Owner: c.ID, OrderType: OrderTypeProduct}, "test")
	if err != nil {
		t.Fatal(err)
	}

	_, err = m.Transition(ctx, TransitionRequest{ID: o.ID, Target: FulfillmentApproved})
	if !errors.Is(err, store.ErrStoreUnavailable) {
		t.Fatalf("err = %v, want ErrStoreUnavailable", err)
	}
	if !errors.Is(err, errRuleConflict) || !store.IsConflict(err) {
		t.Errorf("err = %v, want the last conflict kept in the chain", err)
	}
	if casc.calls != 3 {
		t.Errorf("cascader ran %d times, want 3", casc.calls)
	}
	got, _ := db.Direct().GetOrder(ctx, o.ID)
	if got.FulfillmentStatus != FulfillmentPending || got.Version != o.Version {
		t.Errorf("order = %s v%d after rollback", got.FulfillmentStatus, got.Version)
	}
}

func TestChildCreateClaimsParent(t *testing.T) {
	m, db, _ := newMachine(t)
	c, p := seed(t, m)
	ctx := context.Background()
	tx := db.Direct()

	pid := p.ID
	o, err := m.CreateOrder(ctx, OrderInput{Owner: c.ID, ProjectID: &pid}, "test")
	if err != nil {
		t.Fatal(err)
	}
	// A cancel decided on the version read before the order went in loses.
	if err := tx.UpdateProjectStatus(ctx, p.ID, ProjectCancelled, p.Version); !store.IsConflict(err) {
		t.Errorf("stale project cancel err = %v, want ErrConflict", err)
	}

	if _, err := m.CreatePrintJob(ctx, JobInput{OrderID: o.ID}, "test"); err != nil {
		t.Fatal(err)
	}
	if err := tx.UpdateOrderFulfillment(ctx, o.ID, FulfillmentCancelled, o.Version); !store.IsConflict(err) {
		t.Errorf("stale order cancel err = %v, want ErrConflict", err)
	}
	got, _ := tx.GetOrder(ctx, o.ID)
	if got.Version != o.Version+1 || got.FulfillmentStatus != FulfillmentPending {
		t.Errorf("order = %s v%d", got.FulfillmentStatus, got.Version)
	}

	before, _ := tx.GetProject(ctx, p.ID)
	if _, err := m.AddFile(ctx, FileInput{ProjectID: p.ID, Filename: "bracket.stl"}, "test"); err != nil {
		t.Fatal(err)
	}
	if err := tx.UpdateProjectStatus(ctx, p.ID, ProjectCancelled, before.Version); !store.IsConflict(err) {
		t.Errorf("stale project cancel after file err = %v, want ErrConflict", err)
	}
}

func TestEntitiesNeedClientOwner(t *testing.T) {
	m, _, _ := newMachine(t)
	ctx := context.Background()
	for _, owner := range []string{"", ident.GlobalOwner, "global"} {
		if _, err := m.CreateProject(ctx, ProjectInput{Owner: owner, Name: "Bracket"}, "test"); !errors.Is(err, ident.ErrInvalidScope) {
			t.Errorf("owner %q: err = %v, want ErrInvalidScope", owner, err)
		}
	}
}
