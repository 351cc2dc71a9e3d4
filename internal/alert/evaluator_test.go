package alert

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"fieldsense/internal/config"
	"fieldsense/internal/mail"
	"fieldsense/internal/models"
	"fieldsense/internal/parser"
	"fieldsense/internal/storage"
)

type fakeNotifier struct {
	mu   sync.Mutex
	sent []mail.Message
	fail error
}

func (f *fakeNotifier) Send(ctx context.Context, msg mail.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeNotifier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func (f *fakeNotifier) last() mail.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sent[len(f.sent)-1]
}

func testAlertConfig() config.AlertConfig {
	return config.AlertConfig{
		ExpirationMinutes: 360,
		MaxLatencyMinutes: 30,
		RecipientDeploy:   "deploy@example.com",
		RecipientDevelop:  "develop@example.com",
	}
}

func newTestEvaluator(store *storage.MemStore) (*Evaluator, *Ledger, *fakeNotifier) {
	cfg := testAlertConfig()
	ledger := NewLedger(store, cfg.ExpirationMinutes)
	notifier := &fakeNotifier{}
	return NewEvaluator(cfg, ledger, notifier), ledger, notifier
}

func unknownRecord(coreid string) *models.Record {
	rec := parser.Parse("definitely not a sensor payload")
	rec.CoreID = coreid
	return &rec
}

func TestEvaluateDedupWithinWindow(t *testing.T) {
	store := storage.NewMemStore()
	eval, ledger, notifier := newTestEvaluator(store)
	ctx := context.Background()

	// first evaluation dispatches and returns a dirty ledger
	updated := eval.Evaluate(ctx, unknownRecord("dev1"))
	if updated == nil {
		t.Fatal("first evaluation returned nil, want updated ledger")
	}
	if _, ok := updated["unknown"]; !ok {
		t.Fatalf("ledger missing unknown reason: %v", updated)
	}
	if notifier.count() != 1 {
		t.Fatalf("got %d emails, want 1", notifier.count())
	}
	if notifier.last().To != "develop@example.com" {
		t.Errorf("recipient = %q, want develop track", notifier.last().To)
	}

	if err := ledger.Persist(ctx, "dev1", updated); err != nil {
		t.Fatal(err)
	}

	// second evaluation inside the window is suppressed
	if updated := eval.Evaluate(ctx, unknownRecord("dev1")); updated != nil {
		t.Errorf("suppressed evaluation returned %v, want nil", updated)
	}
	if notifier.count() != 1 {
		t.Errorf("got %d emails after repeat, want 1", notifier.count())
	}
}

func TestEvaluateDispatchesAgainAfterExpiry(t *testing.T) {
	store := storage.NewMemStore()
	eval, _, notifier := newTestEvaluator(store)

	// entry older than the 360-minute window no longer suppresses
	seedLedger(t, store, "dev1", map[string]string{"unknown": stamp(7 * time.Hour)})

	updated := eval.Evaluate(context.Background(), unknownRecord("dev1"))
	if updated == nil {
		t.Fatal("expired entry still suppressed the alert")
	}
	if notifier.count() != 1 {
		t.Errorf("got %d emails, want 1", notifier.count())
	}
}

func TestEvaluateErrorWithLatencyFoldsIntoOneEmail(t *testing.T) {
	store := storage.NewMemStore()
	eval, _, notifier := newTestEvaluator(store)

	rec := parser.Parse("BOX1250101 09:00 E7")
	rec.CoreID = "dev1"
	rec.PublishedAt = "2025-01-01T10:00:00+00:00" // 60 minutes after the event

	updated := eval.Evaluate(context.Background(), &rec)
	if updated == nil {
		t.Fatal("no dispatch for error record")
	}
	if notifier.count() != 1 {
		t.Fatalf("got %d emails, want exactly 1", notifier.count())
	}

	msg := notifier.last()
	if msg.To != "deploy@example.com" {
		t.Errorf("recipient = %q, want deploy track", msg.To)
	}
	if !strings.Contains(msg.Subject, "Error E7") {
		t.Errorf("subject = %q", msg.Subject)
	}
	if !strings.Contains(msg.Body, "High transmission latency") {
		t.Errorf("body missing latency note:\n%s", msg.Body)
	}

	// deduped under the error code, not under latency
	if _, ok := updated["E7"]; !ok {
		t.Errorf("ledger = %v, want E7 recorded", updated)
	}
	if _, ok := updated["latency"]; ok {
		t.Errorf("latency recorded as its own reason: %v", updated)
	}
}

func TestEvaluateLatencyAloneBecomesDeployAlert(t *testing.T) {
	store := storage.NewMemStore()
	eval, _, notifier := newTestEvaluator(store)

	rec := parser.Parse("BOX1250101 09:00 LTE Setup Done")
	rec.CoreID = "dev1"
	rec.PublishedAt = "2025-01-01T10:00:00+00:00"

	updated := eval.Evaluate(context.Background(), &rec)
	if updated == nil {
		t.Fatal("no dispatch for high latency")
	}
	if _, ok := updated["latency"]; !ok {
		t.Errorf("ledger = %v, want latency recorded", updated)
	}
	if notifier.last().To != "deploy@example.com" {
		t.Errorf("recipient = %q, want deploy track", notifier.last().To)
	}
}

func TestEvaluateLatencyUnderThresholdIsQuiet(t *testing.T) {
	store := storage.NewMemStore()
	eval, _, notifier := newTestEvaluator(store)

	rec := parser.Parse("BOX1250101 09:00 LTE Setup Done")
	rec.CoreID = "dev1"
	rec.PublishedAt = "2025-01-01T09:10:00+00:00" // 10 minutes, under 30

	if updated := eval.Evaluate(context.Background(), &rec); updated != nil {
		t.Errorf("got %v, want nil", updated)
	}
	if notifier.count() != 0 {
		t.Errorf("got %d emails, want 0", notifier.count())
	}
}

func TestEvaluateInvalidRecord(t *testing.T) {
	store := storage.NewMemStore()
	eval, _, notifier := newTestEvaluator(store)

	rec := parser.Invalid("")
	rec.CoreID = "dev1"

	updated := eval.Evaluate(context.Background(), &rec)
	if updated == nil {
		t.Fatal("no dispatch for invalid record")
	}
	if _, ok := updated["invalid"]; !ok {
		t.Errorf("ledger = %v, want invalid recorded", updated)
	}
	if notifier.last().To != "deploy@example.com" {
		t.Errorf("recipient = %q, want deploy track", notifier.last().To)
	}
}

func TestEvaluateMalformedRecord(t *testing.T) {
	store := storage.NewMemStore()
	eval, _, notifier := newTestEvaluator(store)

	rec := parser.Parse(",BOX1,01,01,09,00,20,50") // reading count not divisible by 3
	rec.CoreID = "dev1"

	updated := eval.Evaluate(context.Background(), &rec)
	if updated == nil {
		t.Fatal("no dispatch for malformed record")
	}
	if _, ok := updated["malformed"]; !ok {
		t.Errorf("ledger = %v, want malformed recorded", updated)
	}

	msg := notifier.last()
	if msg.To != "develop@example.com" {
		t.Errorf("recipient = %q, want develop track", msg.To)
	}
	if !strings.Contains(msg.Body, "non divisible by 3") {
		t.Errorf("body missing parser message:\n%s", msg.Body)
	}
}

func TestEvaluateMissingCoreidFiresSideNotice(t *testing.T) {
	store := storage.NewMemStore()
	eval, ledger, notifier := newTestEvaluator(store)
	ctx := context.Background()

	rec := unknownRecord("")

	updated := eval.Evaluate(ctx, rec)
	// side notice plus the unknown alert
	if notifier.count() != 2 {
		t.Fatalf("got %d emails, want 2", notifier.count())
	}
	if !strings.Contains(notifier.sent[0].Subject, "No coreid") {
		t.Errorf("first subject = %q", notifier.sent[0].Subject)
	}
	if updated == nil {
		t.Fatal("unknown alert not dispatched")
	}
	if err := ledger.Persist(ctx, "no_coreid", updated); err != nil {
		t.Fatal(err)
	}

	// the notice itself is never deduplicated
	eval.Evaluate(ctx, unknownRecord(""))
	if notifier.count() != 3 {
		t.Errorf("got %d emails, want 3 (notice repeats, alert suppressed)", notifier.count())
	}
}

func TestEvaluateCleanRecordIsQuiet(t *testing.T) {
	store := storage.NewMemStore()
	eval, _, notifier := newTestEvaluator(store)

	rec := parser.Parse(",BOX1,01,01,09,00,20,50,5")
	rec.CoreID = "dev1"

	if updated := eval.Evaluate(context.Background(), &rec); updated != nil {
		t.Errorf("got %v, want nil", updated)
	}
	if notifier.count() != 0 {
		t.Errorf("got %d emails, want 0", notifier.count())
	}
}

func TestEvaluateSendFailureStillRecordsLedger(t *testing.T) {
	store := storage.NewMemStore()
	eval, _, notifier := newTestEvaluator(store)
	notifier.fail = errors.New("smtp down")

	updated := eval.Evaluate(context.Background(), unknownRecord("dev1"))
	if updated == nil {
		t.Fatal("send failure rolled back the ledger update")
	}
	if _, ok := updated["unknown"]; !ok {
		t.Errorf("ledger = %v, want unknown recorded", updated)
	}
}

func TestEvaluateStorageFailureFailsOpen(t *testing.T) {
	store := storage.NewMemStore()
	eval, _, notifier := newTestEvaluator(store)
	store.FailGets = errors.New("transport down")

	if updated := eval.Evaluate(context.Background(), unknownRecord("dev1")); updated == nil {
		t.Fatal("storage failure blocked the alert")
	}
	if notifier.count() != 1 {
		t.Errorf("got %d emails, want 1", notifier.count())
	}
}

func TestComposeBodyFieldOrder(t *testing.T) {
	rec := parser.Parse("BOX1250101 09:00 E7")
	rec.CoreID = "dev1"
	rec.PublishedAt = "2025-01-01T09:05:00+00:00"

	body := composeBody(&rec, checkError(&rec))

	fields := []string{"Box ID: BOX1", "Core ID: dev1", "Published_at: 2025-01-01T09:05:00+00:00", "Parsed_at:", "Data:", "Please investigate the issue."}
	last := -1
	for _, f := range fields {
		idx := strings.Index(body, f)
		if idx < 0 {
			t.Fatalf("body missing %q:\n%s", f, body)
		}
		if idx < last {
			t.Errorf("field %q out of order", f)
		}
		last = idx
	}
}
