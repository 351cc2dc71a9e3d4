package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"os"

	"github.com/rs/zerolog"

	"fieldsense/internal/alert"
	"fieldsense/internal/logger"
	"fieldsense/internal/metrics"
	"fieldsense/internal/models"
	"fieldsense/internal/parser"
)

// WebhookHandler receives raw device payloads, parses them, runs the alert
// evaluation synchronously, and hands the record to the archive queue.
type WebhookHandler struct {
	evaluator *alert.Evaluator
	ledger    *alert.Ledger

	// Channel to push envelopes to the archive worker pool
	archiveChan chan<- *models.Envelope

	// Node identifier for tracking
	nodeID string

	// Max body size (default 1MB)
	maxBodySize int64

	log zerolog.Logger
}

// WebhookConfig holds configuration for the webhook handler
type WebhookConfig struct {
	Evaluator   *alert.Evaluator
	Ledger      *alert.Ledger
	ArchiveChan chan<- *models.Envelope
	NodeID      string
	MaxBodySize int64
}

// NewWebhookHandler creates a new webhook handler
func NewWebhookHandler(cfg WebhookConfig) *WebhookHandler {
	nodeID := cfg.NodeID
	if nodeID == "" {
		nodeID, _ = os.Hostname()
		if nodeID == "" {
			nodeID = "unknown"
		}
	}

	maxBodySize := cfg.MaxBodySize
	if maxBodySize == 0 {
		maxBodySize = 1 * 1024 * 1024
	}

	return &WebhookHandler{
		evaluator:   cfg.Evaluator,
		ledger:      cfg.Ledger,
		archiveChan: cfg.ArchiveChan,
		nodeID:      nodeID,
		maxBodySize: maxBodySize,
		log:         logger.WithComponent("webhook"),
	}
}

// WebhookRequest is the inbound payload envelope. Data is left untyped:
// whatever is not a non-empty string classifies as invalid, which is an
// alert condition rather than a rejection.
type WebhookRequest struct {
	Data        any    `json:"data"`
	Event       string `json:"event"`
	PublishedAt string `json:"published_at"`
	CoreID      string `json:"coreid"`
}

// WebhookResponse acknowledges an accepted payload
type WebhookResponse struct {
	Status string `json:"status"`
	BoxID  string `json:"box_id"`
}

// ServeHTTP handles one inbound telemetry call
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}

	var req WebhookRequest
	if err := json.Unmarshal(body, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	rec, ok := h.parsePayload(req)
	if !ok {
		h.writeError(w, http.StatusBadRequest, "Missing 'data' field in request body")
		return
	}

	rec.Event = req.Event
	rec.PublishedAt = req.PublishedAt
	rec.CoreID = req.CoreID

	metrics.RecordsParsedTotal.WithLabelValues(string(rec.Datatype)).Inc()
	if rec.Malformed {
		metrics.RecordsMalformedTotal.Inc()
	}

	// Alerting is best-effort: the record is archived either way.
	if updated := h.evaluator.Evaluate(r.Context(), &rec); updated != nil {
		if err := h.ledger.Persist(r.Context(), rec.CoreKey(), updated); err != nil {
			h.log.Error().Err(err).Str("coreid", rec.CoreKey()).Msg("failed to persist alert ledger")
		}
	}

	envelope := models.NewEnvelope(&rec, h.nodeID)

	// Non-blocking send: reject when the archive queue is saturated
	select {
	case h.archiveChan <- envelope:
	default:
		h.writeError(w, http.StatusServiceUnavailable, "internal queue full, try again later")
		return
	}

	boxID := rec.BoxID
	if boxID == "" {
		boxID = "unknown"
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(WebhookResponse{Status: "received", BoxID: boxID})
}

// parsePayload turns the untyped data field into a record. The second
// return is false when the field is absent or empty, which is a caller
// error rather than device telemetry.
func (h *WebhookHandler) parsePayload(req WebhookRequest) (models.Record, bool) {
	switch v := req.Data.(type) {
	case nil:
		return models.Record{}, false
	case string:
		if v == "" {
			return models.Record{}, false
		}
		return parser.Parse(v), true
	default:
		// present but not a string: preserve the JSON text as raw
		b, _ := json.Marshal(v)
		return parser.Invalid(string(b)), true
	}
}

// writeError writes an error response
func (h *WebhookHandler) writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{"error": message})
}
