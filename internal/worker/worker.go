package worker

import (
	"context"
	"encoding/json"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"fieldsense/internal/logger"
	"fieldsense/internal/metrics"
	"fieldsense/internal/models"
	"fieldsense/internal/storage"
)

// Mirror publishes archived envelopes downstream (Kafka, when configured)
type Mirror interface {
	Publish(ctx context.Context, env *models.Envelope) error
}

// Pool manages the workers that drain the archive queue: every parsed
// record is written to the object store and optionally mirrored downstream.
type Pool struct {
	store       storage.ObjectStore
	mirror      Mirror // nil disables mirroring
	archiveChan chan *models.Envelope
	workers     int

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	// Metrics
	stored atomic.Uint64
	failed atomic.Uint64
}

// Config holds worker pool configuration
type Config struct {
	Store       storage.ObjectStore
	Mirror      Mirror
	ArchiveChan chan *models.Envelope
	Workers     int
}

// NewPool creates a new archive worker pool
func NewPool(cfg Config) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Pool{
		store:       cfg.Store,
		mirror:      cfg.Mirror,
		archiveChan: cfg.ArchiveChan,
		workers:     cfg.Workers,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start begins draining the archive queue
func (p *Pool) Start() {
	log := logger.WithComponent("archive_pool")
	log.Info().Int("workers", p.workers).Msg("starting archive pool")

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// Stop gracefully stops all workers
func (p *Pool) Stop() {
	log := logger.WithComponent("archive_pool")
	log.Info().Msg("stopping archive pool")
	p.cancel()
	p.wg.Wait()
	log.Info().Msg("archive pool stopped")
}

// worker archives envelopes from the channel
func (p *Pool) worker(id int) {
	defer p.wg.Done()

	log := logger.WithComponent("archive").With().Int("worker_id", id).Logger()

	defer func() {
		if r := recover(); r != nil {
			stack := debug.Stack()
			log.Error().
				Interface("panic", r).
				Bytes("stack", stack).
				Msg("worker panic recovered")
			metrics.PanicsRecovered.WithLabelValues("archive_worker").Inc()
		}
	}()

	for {
		select {
		case <-p.ctx.Done():
			// drain whatever is already queued before exiting
			for {
				select {
				case env, ok := <-p.archiveChan:
					if !ok {
						return
					}
					p.archive(env)
				default:
					return
				}
			}

		case env, ok := <-p.archiveChan:
			if !ok {
				return
			}
			p.archive(env)
		}
	}
}

// archive writes one envelope to the object store and mirrors it
func (p *Pool) archive(env *models.Envelope) {
	log := logger.WithComponent("archive")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	metrics.ArchiveQueueSize.Set(float64(len(p.archiveChan)))

	b, err := json.MarshalIndent(env.Record, "", "  ")
	if err != nil {
		p.failed.Add(1)
		metrics.ArchiveFailedTotal.Inc()
		log.Error().Err(err).Msg("failed to serialize record")
		return
	}

	name := env.BlobName()
	if err := p.store.Put(ctx, name, b); err != nil {
		p.failed.Add(1)
		metrics.ArchiveFailedTotal.Inc()
		log.Error().Err(err).Str("blob", name).Msg("failed to archive record")
		return
	}

	p.stored.Add(1)
	metrics.ArchiveStoredTotal.Inc()
	log.Debug().Str("blob", name).Msg("record archived")

	// mirror failures never undo a successful archive
	if p.mirror != nil {
		if err := p.mirror.Publish(ctx, env); err != nil {
			log.Warn().Err(err).Str("coreid", env.PartitionKey).Msg("mirror publish failed")
		}
	}
}

// Stats returns worker pool statistics
func (p *Pool) Stats() Stats {
	return Stats{
		Stored: p.stored.Load(),
		Failed: p.failed.Load(),
	}
}

// Stats holds worker pool metrics
type Stats struct {
	Stored uint64
	Failed uint64
}
