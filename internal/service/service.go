package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"fieldsense/internal/alert"
	"fieldsense/internal/config"
	"fieldsense/internal/handlers"
	"fieldsense/internal/logger"
	"fieldsense/internal/mail"
	"fieldsense/internal/metrics"
	"fieldsense/internal/middleware"
	"fieldsense/internal/models"
	"fieldsense/internal/storage"
	"fieldsense/internal/stream"
	"fieldsense/internal/worker"
)

// Service is the high-level coordinator: it wires the store, ledger,
// evaluator, archive pool, and HTTP surface together.
type Service struct {
	cfg         *config.Config
	store       storage.ObjectStore
	publisher   *stream.Publisher
	archivePool *worker.Pool
	httpServer  *http.Server
	archiveChan chan *models.Envelope
	wg          sync.WaitGroup
}

// New constructs a Service with given config.
func New(cfg *config.Config) *Service {
	return &Service{
		cfg:         cfg,
		archiveChan: make(chan *models.Envelope, 1000),
	}
}

// Run starts background goroutines and blocks until context cancelled.
func (s *Service) Run(ctx context.Context) error {
	log := logger.WithComponent("service")
	log.Info().Msg("service starting")

	store, err := storage.NewFileStore(s.cfg.Storage.Dir)
	if err != nil {
		return fmt.Errorf("failed to open object store: %w", err)
	}
	s.store = store
	defer s.store.Close()

	if len(s.cfg.Kafka.Brokers) > 0 {
		publisher, err := stream.NewPublisher(s.cfg.Kafka)
		if err != nil {
			return fmt.Errorf("failed to initialize kafka mirror: %w", err)
		}
		s.publisher = publisher
		defer s.publisher.Close()
		log.Info().
			Strs("brokers", s.cfg.Kafka.Brokers).
			Str("topic", s.cfg.Kafka.Topic).
			Msg("kafka mirror enabled")
	}

	s.initArchivePool()
	s.archivePool.Start()

	s.initHTTPServer()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		log.Info().Str("addr", s.cfg.ListenAddr).Msg("starting HTTP server")
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("HTTP server error")
		}
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.reportStats(ctx)
	}()

	<-ctx.Done()
	log.Info().Msg("shutdown signal received")

	return s.shutdown()
}

func (s *Service) initArchivePool() {
	var mirror worker.Mirror
	if s.publisher != nil {
		mirror = s.publisher
	}
	s.archivePool = worker.NewPool(worker.Config{
		Store:       s.store,
		Mirror:      mirror,
		ArchiveChan: s.archiveChan,
		Workers:     4,
	})
}

func (s *Service) initHTTPServer() {
	ledger := alert.NewLedger(s.store, s.cfg.Alert.ExpirationMinutes)
	notifier := mail.NewSMTPNotifier(s.cfg.Mail)
	evaluator := alert.NewEvaluator(s.cfg.Alert, ledger, notifier)

	webhook := handlers.NewWebhookHandler(handlers.WebhookConfig{
		Evaluator:   evaluator,
		Ledger:      ledger,
		ArchiveChan: s.archiveChan,
	})

	mux := http.NewServeMux()
	mux.Handle("/webhook", middleware.Chain(
		webhook,
		middleware.Recovery,
		middleware.Logging,
		middleware.Auth(s.cfg.APIToken),
	))
	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/stats", s.statsHandler)
	mux.Handle("/metrics", promhttp.Handler())

	metrics.ArchiveQueueCapacity.Set(float64(cap(s.archiveChan)))

	s.httpServer = &http.Server{
		Addr:         s.cfg.ListenAddr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// shutdown performs graceful shutdown: stop taking requests, drain the
// archive queue, then release the external clients.
func (s *Service) shutdown() error {
	log := logger.WithComponent("service")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	log.Info().Msg("stopping HTTP server")
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	done := make(chan struct{})
	go func() {
		s.archivePool.Stop()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("archive pool stopped gracefully")
	case <-time.After(15 * time.Second):
		log.Warn().Msg("archive shutdown timeout - forcing exit")
	}

	s.wg.Wait()

	log.Info().Msg("service stopped gracefully")
	return nil
}

// reportStats periodically logs statistics
func (s *Service) reportStats(ctx context.Context) {
	log := logger.WithComponent("service")
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			archiveStats := s.archivePool.Stats()
			metrics.ArchiveQueueSize.Set(float64(len(s.archiveChan)))

			ev := log.Info().
				Uint64("archived", archiveStats.Stored).
				Uint64("archive_failed", archiveStats.Failed).
				Int("queue_size", len(s.archiveChan))
			if s.publisher != nil {
				pubStats := s.publisher.Stats()
				ev = ev.
					Uint64("mirrored", pubStats.MessagesSent).
					Uint64("mirror_failed", pubStats.MessagesFailed)
			}
			ev.Msg("stats")
		}
	}
}

// healthHandler handles health check requests
func (s *Service) healthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if s.publisher != nil {
		if err := s.publisher.HealthCheck(ctx); err != nil {
			http.Error(w, fmt.Sprintf("unhealthy: %v", err), http.StatusServiceUnavailable)
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"healthy","timestamp":"%s"}`, time.Now().Format(time.RFC3339))
}

// statsHandler returns current statistics
func (s *Service) statsHandler(w http.ResponseWriter, r *http.Request) {
	archiveStats := s.archivePool.Stats()

	var sent, failed uint64
	if s.publisher != nil {
		pubStats := s.publisher.Stats()
		sent, failed = pubStats.MessagesSent, pubStats.MessagesFailed
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{
		"archive": {
			"stored": %d,
			"failed": %d
		},
		"mirror": {
			"messages_sent": %d,
			"messages_failed": %d
		},
		"queue": {
			"buffered": %d,
			"capacity": %d
		}
	}`,
		archiveStats.Stored,
		archiveStats.Failed,
		sent,
		failed,
		len(s.archiveChan),
		cap(s.archiveChan),
	)
}
