package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"fieldsense/internal/models"
	"fieldsense/internal/parser"
	"fieldsense/internal/storage"
)

type countingMirror struct {
	published atomic.Uint64
	fail      error
}

func (m *countingMirror) Publish(ctx context.Context, env *models.Envelope) error {
	if m.fail != nil {
		return m.fail
	}
	m.published.Add(1)
	return nil
}

func newEnvelope(raw, coreid string) *models.Envelope {
	rec := parser.Parse(raw)
	rec.CoreID = coreid
	return models.NewEnvelope(&rec, "test-node")
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestPoolArchivesRecords(t *testing.T) {
	store := storage.NewMemStore()
	mirror := &countingMirror{}
	ch := make(chan *models.Envelope, 8)

	pool := NewPool(Config{Store: store, Mirror: mirror, ArchiveChan: ch, Workers: 2})
	pool.Start()
	defer pool.Stop()

	ch <- newEnvelope("BOX1250101 09:00 E7", "dev1")
	ch <- newEnvelope(",BOX2,01,01,09,00,20,50,5", "dev2")

	waitFor(t, func() bool { return pool.Stats().Stored == 2 })

	if store.Len() != 2 {
		t.Errorf("store holds %d objects, want 2", store.Len())
	}
	waitFor(t, func() bool { return mirror.published.Load() == 2 })
}

func TestPoolArchivedContentIsTheRecord(t *testing.T) {
	store := storage.NewMemStore()
	ch := make(chan *models.Envelope, 1)
	pool := NewPool(Config{Store: store, ArchiveChan: ch, Workers: 1})
	pool.Start()
	defer pool.Stop()

	env := newEnvelope("BOX1250101 09:00 E7", "dev1")
	ch <- env

	waitFor(t, func() bool { return pool.Stats().Stored == 1 })

	b, err := store.Get(context.Background(), env.BlobName())
	if err != nil {
		t.Fatalf("Get(%q): %v", env.BlobName(), err)
	}
	var rec models.Record
	if err := json.Unmarshal(b, &rec); err != nil {
		t.Fatal(err)
	}
	if rec.Datatype != models.DatatypeError || rec.ErrorCode != "E7" || rec.CoreID != "dev1" {
		t.Errorf("archived record = %+v", rec)
	}
}

func TestPoolCountsFailures(t *testing.T) {
	store := storage.NewMemStore()
	store.FailPuts = errors.New("disk full")
	ch := make(chan *models.Envelope, 1)
	pool := NewPool(Config{Store: store, ArchiveChan: ch, Workers: 1})
	pool.Start()
	defer pool.Stop()

	ch <- newEnvelope("garbage", "dev1")

	waitFor(t, func() bool { return pool.Stats().Failed == 1 })
	if pool.Stats().Stored != 0 {
		t.Errorf("stored = %d, want 0", pool.Stats().Stored)
	}
}

func TestPoolDrainsQueueOnStop(t *testing.T) {
	store := storage.NewMemStore()
	ch := make(chan *models.Envelope, 8)
	pool := NewPool(Config{Store: store, ArchiveChan: ch, Workers: 1})

	for i := 0; i < 4; i++ {
		ch <- newEnvelope("BOX1250101 09:00 E7", "dev1")
	}

	pool.Start()
	pool.Stop()

	if got := pool.Stats().Stored; got != 4 {
		t.Errorf("stored = %d, want 4 (queue drained on stop)", got)
	}
}
