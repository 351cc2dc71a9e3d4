package alert

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"fieldsense/internal/logger"
	"fieldsense/internal/metrics"
	"fieldsense/internal/models"
	"fieldsense/internal/storage"
)

// isoFormat matches the timestamps the ledger has always stored
const isoFormat = "2006-01-02T15:04:05+00:00"

// Ledger is the per-device record of recently dispatched alert reasons,
// kept as one JSON object per device in the object store.
//
// Expired entries are filtered at read time only; persist writes the full
// in-memory copy as-is, so stale reasons accumulate in storage until pruned
// externally. Writes are last-writer-wins with no cross-request locking:
// two overlapping evaluations for the same device can both dispatch before
// either persists, so delivery is at-least-once under concurrency.
type Ledger struct {
	store  storage.ObjectStore
	window time.Duration
	log    zerolog.Logger
}

func NewLedger(store storage.ObjectStore, expirationMinutes int) *Ledger {
	return &Ledger{
		store:  store,
		window: time.Duration(expirationMinutes) * time.Minute,
		log:    logger.WithComponent("ledger"),
	}
}

func ledgerKey(coreid string) string {
	return "alerts/" + coreid + ".json"
}

// Fetch returns the reasons dispatched for the device within the expiration
// window, keyed by reason with their dispatch timestamps. Entries with empty
// or unparsable fields are dropped silently. Storage failures degrade to an
// empty map: when in doubt, alert.
func (l *Ledger) Fetch(ctx context.Context, coreid string) map[string]string {
	result := make(map[string]string)

	b, err := l.store.Get(ctx, ledgerKey(coreid))
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			metrics.LedgerFetchErrors.Inc()
			l.log.Warn().Err(err).Str("coreid", coreid).
				Msg("ledger fetch failed, treating as no recent alerts")
		}
		return result
	}

	var entries map[string]string
	if err := json.Unmarshal(b, &entries); err != nil {
		metrics.LedgerFetchErrors.Inc()
		l.log.Warn().Err(err).Str("coreid", coreid).
			Msg("ledger unreadable, treating as no recent alerts")
		return result
	}

	now := time.Now().UTC()
	for reason, stamp := range entries {
		if reason == "" || stamp == "" {
			continue
		}
		ts, err := models.ParseTimestamp(stamp)
		if err != nil {
			continue
		}
		if now.Sub(ts) < l.window {
			result[reason] = stamp
		}
	}
	return result
}

// Persist overwrites the stored ledger for the device with the given map.
func (l *Ledger) Persist(ctx context.Context, coreid string, entries map[string]string) error {
	b, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}
	if err := l.store.Put(ctx, ledgerKey(coreid), b); err != nil {
		metrics.LedgerPersistErrors.Inc()
		return err
	}
	return nil
}
