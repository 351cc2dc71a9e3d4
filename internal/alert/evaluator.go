// Package alert decides whether a parsed telemetry record warrants an
// operational email and suppresses repeats per device and reason through a
// time-windowed ledger. Deploy-track conditions (invalid payloads, device
// errors, high latency) and develop-track conditions (unknown formats,
// malformed bodies) route to separate recipients.
package alert

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"fieldsense/internal/config"
	"fieldsense/internal/logger"
	"fieldsense/internal/mail"
	"fieldsense/internal/metrics"
	"fieldsense/internal/models"
)

// Evaluator applies the rule chain to one record at a time. It is stateless
// across calls; all shared state lives in the ledger's backing store.
type Evaluator struct {
	cfg      config.AlertConfig
	ledger   *Ledger
	notifier mail.Notifier
	log      zerolog.Logger
}

func NewEvaluator(cfg config.AlertConfig, ledger *Ledger, notifier mail.Notifier) *Evaluator {
	return &Evaluator{
		cfg:      cfg,
		ledger:   ledger,
		notifier: notifier,
		log:      logger.WithComponent("alert"),
	}
}

// Evaluate runs the prioritized checks against the record, dispatches at
// most one email per track after dedup, and returns the updated ledger map
// when anything was dispatched. A nil return means the caller has nothing
// to persist. Send and storage failures never abort the evaluation.
func (e *Evaluator) Evaluate(ctx context.Context, rec *models.Record) map[string]string {
	coreid := rec.CoreKey()
	if rec.CoreID == "" {
		// Side-channel notice: fires on every occurrence, bypasses the
		// ledger entirely since there is no device to key it by.
		e.send(ctx, mail.Message{
			To:      e.cfg.RecipientDevelop,
			Subject: subjectPrefix + "No coreid in the incoming sensor data",
			Body:    composeBody(rec, nil),
		})
	}

	// Deploy-track checks, ordered by priority, first match wins
	var deploy *Candidate
	for _, check := range []func(*models.Record) *Candidate{checkInvalid, checkError} {
		if deploy = check(rec); deploy != nil {
			break
		}
	}

	// Latency is independent: it rides along on an existing deploy alert as
	// an auxiliary note, or becomes the deploy alert itself.
	latency := e.checkLatency(rec)
	if deploy != nil && latency != nil {
		deploy.LatencyNote = latency.Summary
	} else if deploy == nil && latency != nil {
		deploy = latency
	}

	// Develop-track checks, first match wins
	var develop *Candidate
	for _, check := range []func(*models.Record) *Candidate{checkUnknown, checkMalformed} {
		if develop = check(rec); develop != nil {
			break
		}
	}

	if deploy == nil && develop == nil {
		return nil
	}

	recent := e.ledger.Fetch(ctx, coreid)
	dirty := false

	tracks := []struct {
		name      string
		candidate *Candidate
		recipient string
	}{
		{"deploy", deploy, e.cfg.RecipientDeploy},
		{"develop", develop, e.cfg.RecipientDevelop},
	}

	for _, tr := range tracks {
		if tr.candidate == nil {
			continue
		}
		reason := tr.candidate.Reason
		if _, seen := recent[reason]; seen {
			metrics.AlertsSuppressedTotal.WithLabelValues(tr.name, reason).Inc()
			e.log.Warn().
				Str("reason", reason).
				Str("coreid", coreid).
				Msg("alert suppressed, same reason fired recently")
			continue
		}

		e.send(ctx, mail.Message{
			To:      tr.recipient,
			Subject: subjectPrefix + tr.candidate.Subject,
			Body:    composeBody(rec, tr.candidate),
		})
		metrics.AlertsDispatchedTotal.WithLabelValues(tr.name, reason).Inc()

		recent[reason] = time.Now().UTC().Format(isoFormat)
		dirty = true
	}

	if !dirty {
		return nil
	}
	return recent
}

// checkLatency compares the device-reported event time against the
// transport publish time when both are available.
func (e *Evaluator) checkLatency(rec *models.Record) *Candidate {
	if rec.Timestamp == nil || rec.PublishedAt == "" {
		return nil
	}

	publishedAt, err := models.ParseTimestamp(rec.PublishedAt)
	if err != nil {
		e.log.Warn().Err(err).Str("published_at", rec.PublishedAt).Msg("latency check failed")
		return nil
	}

	latencyMinutes := publishedAt.Sub(*rec.Timestamp).Minutes()
	if latencyMinutes <= float64(e.cfg.MaxLatencyMinutes) {
		return nil
	}

	boxID := rec.BoxID
	if boxID == "" {
		boxID = "unknown"
	}
	return &Candidate{
		Reason:  "latency",
		Subject: fmt.Sprintf("High latency in Box %s", boxID),
		Summary: fmt.Sprintf("High transmission latency: %.1f minutes (threshold: %dm)",
			latencyMinutes, e.cfg.MaxLatencyMinutes),
	}
}

func (e *Evaluator) send(ctx context.Context, msg mail.Message) {
	if err := e.notifier.Send(ctx, msg); err != nil {
		metrics.MailSendFailures.Inc()
		e.log.Error().Err(err).Str("subject", msg.Subject).Msg("failed to send alert email")
		return
	}
	e.log.Info().Str("subject", msg.Subject).Str("to", msg.To).Msg("alert email sent")
}

// composeBody renders the email body: summary, optional latency note, then
// the fixed identification block. A nil candidate produces the block alone.
func composeBody(rec *models.Record, cand *Candidate) string {
	var summary, latency string
	if cand != nil {
		summary = cand.Summary
		if cand.LatencyNote != "" {
			latency = "\n" + cand.LatencyNote
		}
	}

	return fmt.Sprintf(`%s
%s%s

Box ID: %s
Core ID: %s
Published_at: %s
Parsed_at: %s
Data: %s

Please investigate the issue.
`,
		subjectPrefix,
		summary, latency,
		orDefault(rec.BoxID, "unknown"),
		orDefault(rec.CoreID, "N/A"),
		orDefault(rec.PublishedAt, "N/A"),
		rec.ParsedAt.UTC().Format(isoFormat),
		orDefault(rec.Raw, "N/A"),
	)
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
