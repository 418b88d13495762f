package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"ubcore/config"
)

// testDB creates a temporary SQLite database for testing.
func testDB(t *testing.T) *DB {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")

	db, err := Open(&config.DatabaseConfig{
		Driver: "sqlite",
		SQLite: config.SQLiteConfig{Path: dbPath},
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
		os.Remove(dbPath)
	})
	return db
}

func seedProject(t *testing.T, db *DB, id, owner string) *Project {
	t.Helper()
	p := &Project{ID: id, Owner: owner, Name: "bracket", Purpose: "functional", Status: "uploaded", Amount: decimal.Zero}
	if err := db.Direct().InsertProject(context.Background(), p); err != nil {
		t.Fatalf("insert project: %v", err)
	}
	return p
}

// --- Counter tests ---

func TestCounterInsertAndSwap(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	tx := db.Direct()
	key := CounterKey{Kind: "project", Year: "2024", Owner: "UB2024C0001"}

	if _, found, err := tx.ReadCounter(ctx, key); err != nil || found {
		t.Fatalf("ReadCounter on empty scope = found %v, err %v; want not found", found, err)
	}
	if err := tx.InsertCounter(ctx, key, 1); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := tx.InsertCounter(ctx, key, 1); !IsConflict(err) {
		t.Errorf("second insert err = %v, want ErrConflict", err)
	}
	if err := tx.SwapCounter(ctx, key, 1, 2); err != nil {
		t.Fatalf("swap: %v", err)
	}
	if err := tx.SwapCounter(ctx, key, 1, 2); !IsConflict(err) {
		t.Errorf("stale swap err = %v, want ErrConflict", err)
	}
	v, found, err := tx.ReadCounter(ctx, key)
	if err != nil || !found {
		t.Fatalf("read: found %v err %v", found, err)
	}
	if v != 2 {
		t.Errorf("counter = %d, want 2", v)
	}

	counters, err := tx.ListCounters(ctx, "project")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(counters) != 1 || counters[0].Owner != "UB2024C0001" {
		t.Errorf("counters = %+v, want one row for UB2024C0001", counters)
	}
}

// --- Project tests ---

func TestProjectVersionedStatus(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	tx := db.Direct()
	seedProject(t, db, "UB2024C0001-P2024-0001", "UB2024C0001")

	got, err := tx.GetProject(ctx, "UB2024C0001-P2024-0001")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != "uploaded" {
		t.Errorf("Status = %q, want %q", got.Status, "uploaded")
	}
	if got.Version != 1 {
		t.Errorf("Version = %d, want 1", got.Version)
	}
	if !got.Amount.IsZero() {
		t.Errorf("Amount = %s, want 0", got.Amount)
	}

	if err := tx.UpdateProjectQuoted(ctx, got.ID, "quoted", decimal.RequireFromString("125.50"), got.Version); err != nil {
		t.Fatalf("update quoted: %v", err)
	}
	if err := tx.UpdateProjectStatus(ctx, got.ID, "approved", got.Version); !IsConflict(err) {
		t.Errorf("stale update err = %v, want ErrConflict", err)
	}

	got2, _ := tx.GetProject(ctx, got.ID)
	if got2.Status != "quoted" {
		t.Errorf("Status after update = %q, want %q", got2.Status, "quoted")
	}
	if !got2.Amount.Equal(decimal.RequireFromString("125.50")) {
		t.Errorf("Amount = %s, want 125.50", got2.Amount)
	}
	if got2.Version != 2 {
		t.Errorf("Version = %d, want 2", got2.Version)
	}
}

func TestGetMissingIsNotFound(t *testing.T) {
	db := testDB(t)
	_, err := db.Direct().GetProject(context.Background(), "nope")
	if !IsNotFound(err) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	if errors.Is(err, ErrStoreUnavailable) {
		t.Error("not-found must not be reported as unavailable")
	}
}

func TestListProjectsByOwnerAndStatus(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	seedProject(t, db, "A-P2024-0001", "A")
	seedProject(t, db, "A-P2024-0002", "A")
	seedProject(t, db, "B-P2024-0001", "B")
	p, _ := db.Direct().GetProject(ctx, "A-P2024-0002")
	db.Direct().UpdateProjectStatus(ctx, p.ID, "cancelled", p.Version)

	got, err := db.Direct().ListProjects(ctx, "A", "uploaded", 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 || got[0].ID != "A-P2024-0001" {
		t.Errorf("projects = %v, want [A-P2024-0001]", ids(got))
	}
	all, _ := db.Direct().ListProjects(ctx, "", "", 0)
	if len(all) != 3 {
		t.Errorf("len(all) = %d, want 3", len(all))
	}
}

func ids(ps []*Project) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = p.ID
	}
	return out
}

// --- Transaction tests ---

func TestWithTxRollsBackOnError(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := db.WithTx(ctx, func(tx *Tx) error {
		if err := tx.InsertProject(ctx, &Project{ID: "X-P2024-0001", Owner: "X", Purpose: "ideal", Status: "uploaded"}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	if _, err := db.Direct().GetProject(ctx, "X-P2024-0001"); !IsNotFound(err) {
		t.Errorf("project survived rollback: err = %v", err)
	}
}

func TestCancelledContextIsUnavailable(t *testing.T) {
	db := testDB(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := db.Direct().GetProject(ctx, "anything")
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Errorf("err = %v, want ErrStoreUnavailable", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, should still wrap context.Canceled", err)
	}
}

// --- Order / job tests ---

func TestOrderProjectReferenceAndJobs(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	tx := db.Direct()
	seedProject(t, db, "A-P2024-0001", "A")

	pid := "A-P2024-0001"
	o := &Order{ID: "A-OR2024-0001", Owner: "A", ProjectID: &pid, OrderType: "project",
		TotalAmount: decimal.RequireFromString("99.90"), PaymentStatus: "pending", FulfillmentStatus: "pending"}
	if err := tx.InsertOrder(ctx, o); err != nil {
		t.Fatalf("insert order: %v", err)
	}
	orders, err := tx.ListProjectOrders(ctx, pid)
	if err != nil || len(orders) != 1 {
		t.Fatalf("ListProjectOrders = %d, %v; want 1", len(orders), err)
	}
	if err := tx.ClearOrderProject(ctx, o.ID, orders[0].Version); err != nil {
		t.Fatalf("clear project: %v", err)
	}
	got, _ := tx.GetOrder(ctx, o.ID)
	if got.ProjectID != nil {
		t.Errorf("ProjectID = %v, want nil", *got.ProjectID)
	}
	if !got.TotalAmount.Equal(decimal.RequireFromString("99.90")) {
		t.Errorf("TotalAmount = %s, want 99.90", got.TotalAmount)
	}

	j := &PrintJob{ID: "A-J2024-0001", OrderID: o.ID, Owner: "A", Status: "queued", TotalLayers: 200}
	if err := tx.InsertPrintJob(ctx, j); err != nil {
		t.Fatalf("insert job: %v", err)
	}
	started := time.Date(2024, 3, 1, 10, 0, 0, 0, time.Local)
	if err := tx.UpdatePrintJobStatus(ctx, j.ID, JobStatusUpdate{Status: "printing", Version: 1, StartedAt: &started}); err != nil {
		t.Fatalf("start job: %v", err)
	}
	later := started.Add(time.Hour)
	if err := tx.UpdatePrintJobStatus(ctx, j.ID, JobStatusUpdate{Status: "paused", Version: 2, StartedAt: &later}); err != nil {
		t.Fatalf("pause job: %v", err)
	}
	gotJob, _ := tx.GetPrintJob(ctx, j.ID)
	if gotJob.StartedAt == nil || !gotJob.StartedAt.Equal(started) {
		t.Errorf("StartedAt = %v, want %v (first start kept)", gotJob.StartedAt, started)
	}
	if gotJob.CompletedAt != nil {
		t.Errorf("CompletedAt = %v, want nil", gotJob.CompletedAt)
	}

	if err := tx.DeleteOrder(ctx, o.ID); err == nil {
		t.Error("deleting an order with jobs should violate the foreign key")
	}
	active, _ := tx.ListPrintJobs(ctx, "printing", "paused")
	if len(active) != 1 {
		t.Errorf("active jobs = %d, want 1", len(active))
	}
}

// --- Quote tests ---

func TestQuoteLineItemsAndTerms(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	tx := db.Direct()
	seedProject(t, db, "A-P2024-0001", "A")

	valid := time.Date(2024, 4, 1, 12, 0, 0, 0, time.Local)
	q := &Quote{ID: "A-Q2024-0001", ProjectID: "A-P2024-0001", Owner: "A", Purpose: "functional",
		LineItems: []LineItem{{Description: "PLA print", Quantity: 3, UnitPrice: decimal.RequireFromString("12.50")}},
		Total:     decimal.RequireFromString("37.50"), ValidUntil: valid}
	if err := tx.InsertQuote(ctx, q); err != nil {
		t.Fatalf("insert quote: %v", err)
	}
	got, err := tx.GetQuote(ctx, q.ID)
	if err != nil {
		t.Fatalf("get quote: %v", err)
	}
	if len(got.LineItems) != 1 || !got.LineItems[0].Amount().Equal(decimal.RequireFromString("37.5")) {
		t.Errorf("LineItems = %+v", got.LineItems)
	}
	if !got.ValidUntil.Equal(valid) {
		t.Errorf("ValidUntil = %v, want %v", got.ValidUntil, valid)
	}

	if err := tx.UpdateQuoteTerms(ctx, q.ID, "rush order", valid.AddDate(0, 0, 7), got.Version); err != nil {
		t.Fatalf("update terms: %v", err)
	}
	got2, _ := tx.GetQuote(ctx, q.ID)
	if got2.Notes != "rush order" {
		t.Errorf("Notes = %q, want %q", got2.Notes, "rush order")
	}
}

// --- Outbox / audit tests ---

func TestOutboxLifecycle(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	tx := db.Direct()

	if err := tx.EnqueueOutbox(ctx, "ubcore.events", []byte(`{"a":1}`), "entity.created", "A-P2024-0001"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	msgs, err := tx.ListPendingOutbox(ctx, 10)
	if err != nil || len(msgs) != 1 {
		t.Fatalf("pending = %d, %v; want 1", len(msgs), err)
	}
	if msgs[0].EntityID != "A-P2024-0001" {
		t.Errorf("EntityID = %q", msgs[0].EntityID)
	}
	tx.IncrementOutboxRetries(ctx, msgs[0].ID)
	tx.AckOutbox(ctx, msgs[0].ID)
	if n, _ := tx.CountPendingOutbox(ctx); n != 0 {
		t.Errorf("pending after ack = %d, want 0", n)
	}
}

func TestAuditByEntity(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	tx := db.Direct()
	tx.AppendAudit(ctx, "project", "A-P2024-0001", "created", "", "uploaded", "admin")
	tx.AppendAudit(ctx, "project", "A-P2024-0001", "transition", "uploaded", "quoted", "admin")
	tx.AppendAudit(ctx, "order", "A-OR2024-0001", "created", "", "pending", "admin")

	entries, err := tx.ListEntityAudit(ctx, "A-P2024-0001")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("len = %d, want 2", len(entries))
	}
	if entries[1].NewValue != "quoted" {
		t.Errorf("entries[1].NewValue = %q, want %q", entries[1].NewValue, "quoted")
	}
}

func TestStats(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	tx := db.Direct()
	for _, id := range []string{"UB2024C0001", "UB2024C0002", "GLOBAL"} {
		if err := tx.InsertClient(ctx, &Client{ID: id, Name: id}); err != nil {
			t.Fatalf("insert client: %v", err)
		}
	}
	seedProject(t, db, "A-P2024-0001", "A")
	for i, st := range []struct{ pay, ful, amt string }{
		{"completed", "approved", "10.00"},
		{"completed", "delivered", "5.25"},
		{"pending", "printing", "100.00"},
	} {
		id := "A-OR2024-000" + string(rune('1'+i))
		if err := tx.InsertOrder(ctx, &Order{ID: id, Owner: "A", OrderType: "product",
			TotalAmount: decimal.RequireFromString(st.amt), PaymentStatus: st.pay, FulfillmentStatus: st.ful}); err != nil {
			t.Fatalf("insert order: %v", err)
		}
	}

	now := time.Now()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.Local)
	s, err := tx.Stats(ctx, monthStart)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if s.TotalClients != 2 {
		t.Errorf("TotalClients = %d, want 2", s.TotalClients)
	}
	if s.PendingQuotes != 1 {
		t.Errorf("PendingQuotes = %d, want 1", s.PendingQuotes)
	}
	if s.ActiveOrders != 2 {
		t.Errorf("ActiveOrders = %d, want 2", s.ActiveOrders)
	}
	if !s.MonthlyRevenue.Equal(decimal.RequireFromString("15.25")) {
		t.Errorf("MonthlyRevenue = %s, want 15.25", s.MonthlyRevenue)
	}
}

func TestAdminUsers(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	tx := db.Direct()
	if ok, _ := tx.AdminUserExists(ctx); ok {
		t.Fatal("no admin expected on a fresh database")
	}
	if err := tx.CreateAdminUser(ctx, "admin", "hash"); err != nil {
		t.Fatalf("create: %v", err)
	}
	u, err := tx.GetAdminUser(ctx, "admin")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if u.PasswordHash != "hash" {
		t.Errorf("PasswordHash = %q, want %q", u.PasswordHash, "hash")
	}
}

func TestDialectQueries(t *testing.T) {
	db := testDB(t)
	if db.Dialect().Name() != "sqlite" {
		t.Fatalf("dialect = %q", db.Dialect().Name())
	}
	const q = "UPDATE orders SET version=version+1, updated_at=datetime('now','localtime') WHERE id=? AND version=?"
	if got := db.Q(q); got != q {
		t.Errorf("sqlite Q = %q", got)
	}

	pg := &DB{dialect: postgresDialect{}}
	want := "UPDATE orders SET version=version+1, updated_at=NOW() WHERE id=$1 AND version=$2"
	if got := pg.Q(q); got != want {
		t.Errorf("postgres Q = %q, want %q", got, want)
	}

	at := time.Date(2024, 3, 9, 14, 5, 0, 0, time.Local)
	if got := db.timeArg(at); got != "2024-03-09 14:05:00" {
		t.Errorf("sqlite timeArg = %v", got)
	}
	if got, ok := pg.timeArg(at).(time.Time); !ok || !got.Equal(at) {
		t.Errorf("postgres timeArg = %v", pg.timeArg(at))
	}
}

func TestClaimParentRejectsStaleVersion(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	tx := db.Direct()
	p := seedProject(t, db, "A-P2024-0001", "A")
	if err := tx.InsertOrder(ctx, &Order{ID: "A-OR2024-0001", Owner: "A", OrderType: "product",
		TotalAmount: decimal.Zero, PaymentStatus: "pending", FulfillmentStatus: "pending"}); err != nil {
		t.Fatalf("insert order: %v", err)
	}
	o, _ := tx.GetOrder(ctx, "A-OR2024-0001")

	// A cancel lands between the caller's read and its claim.
	if err := tx.UpdateOrderFulfillment(ctx, o.ID, "cancelled", o.Version); err != nil {
		t.Fatalf("cancel order: %v", err)
	}
	if err := tx.ClaimOrder(ctx, o.ID, o.Version); !IsConflict(err) {
		t.Errorf("stale order claim err = %v, want ErrConflict", err)
	}
	fresh, _ := tx.GetOrder(ctx, o.ID)
	if err := tx.ClaimOrder(ctx, o.ID, fresh.Version); err != nil {
		t.Errorf("fresh order claim: %v", err)
	}
	if got, _ := tx.GetOrder(ctx, o.ID); got.Version != fresh.Version+1 || got.FulfillmentStatus != "cancelled" {
		t.Errorf("order after claim = %s v%d", got.FulfillmentStatus, got.Version)
	}

	if err := tx.UpdateProjectStatus(ctx, p.ID, "cancelled", 1); err != nil {
		t.Fatalf("cancel project: %v", err)
	}
	if err := tx.ClaimProject(ctx, p.ID, 1); !IsConflict(err) {
		t.Errorf("stale project claim err = %v, want ErrConflict", err)
	}
	if err := tx.AdjustProjectFileCount(ctx, p.ID, 1, 1); !IsConflict(err) {
		t.Errorf("stale file count err = %v, want ErrConflict", err)
	}
	if err := tx.AdjustProjectFileCount(ctx, p.ID, -1, 2); !IsConflict(err) {
		t.Errorf("negative file count err = %v, want ErrConflict", err)
	}
}
