// Package parser classifies raw telemetry payloads from field sensor boxes
// into structured records. Three shapes are recognized: startup notices,
// error reports, and comma-separated environment readings. Anything else is
// flagged unknown; a recognized shape with an invalid body is flagged
// malformed. Parse never fails and never panics.
package parser

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"fieldsense/internal/models"
)

var (
	whitespaceRun = regexp.MustCompile(`\s+`)

	// Box ID is the lazy non-whitespace prefix before the first six-digit
	// window that lines up with the rest of the pattern. The startup shape
	// tolerates trailing text; the error shape is anchored at both ends.
	startupPattern = regexp.MustCompile(`^(\S*?)(\d{6}) (\d{1,2}):(\d{2}) LTE Setup Done`)
	errorPattern   = regexp.MustCompile(`^(\S*?)(\d{6}) (\d{1,2}):(\d{2}) (E\d+)$`)

	// Empty tokens count as numeric here; integer conversion rejects them
	// later. Shape detection is lenient, semantic validation is strict.
	digitToken = regexp.MustCompile(`^\d*$`)
)

// timeNow is swapped in tests to pin year inference
var timeNow = time.Now

// Parse turns a raw payload string into a structured record. The zero-value
// string classifies as invalid; the caller is responsible for attaching the
// device coreid and transport metadata afterwards.
func Parse(raw string) models.Record {
	if raw == "" {
		return Invalid(raw)
	}

	raw = whitespaceRun.ReplaceAllString(strings.TrimSpace(raw), " ")

	if m := startupPattern.FindStringSubmatch(raw); m != nil {
		return parseStartup(raw, m)
	}

	if m := errorPattern.FindStringSubmatch(raw); m != nil {
		return parseError(raw, m)
	}

	parts := strings.Split(raw, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	total := len(parts)
	if strings.HasPrefix(raw, ",") {
		// the leading comma produces an empty first token, not a field
		parts = parts[1:]
	}
	if total >= 8 && allDigitTokens(parts[1:]) {
		return parseEnvironment(raw, parts)
	}

	return newRecord(models.DatatypeUnknown, raw)
}

// Invalid builds a record for a payload that is absent or not a string,
// preserving whatever raw text the transport handed over.
func Invalid(raw string) models.Record {
	return newRecord(models.DatatypeInvalid, raw)
}

func newRecord(datatype models.Datatype, raw string) models.Record {
	return models.Record{
		Datatype:      datatype,
		Raw:           raw,
		ParsedAt:      timeNow().UTC(),
		ParserVersion: models.ParserVersion,
	}
}

func parseStartup(raw string, m []string) models.Record {
	rec := newRecord(models.DatatypeStartup, raw)
	rec.BoxID = m[1]

	ts, err := compactTimestamp(m[2], m[3], m[4])
	if err != nil {
		return malformed(rec, err)
	}

	rec.Timestamp = &ts
	return rec
}

func parseError(raw string, m []string) models.Record {
	rec := newRecord(models.DatatypeError, raw)
	rec.BoxID = m[1]
	rec.ErrorCode = m[5]

	ts, err := compactTimestamp(m[2], m[3], m[4])
	if err != nil {
		return malformed(rec, err)
	}

	rec.Timestamp = &ts
	return rec
}

// parseEnvironment handles the comma-separated readings shape: box ID,
// month, day, hour, minute, then a flat run of T/RH/Noise triples. The
// leading comma is structurally required; the year is inferred from the
// current date, adjusted across the December/January boundary.
func parseEnvironment(raw string, parts []string) models.Record {
	rec := newRecord(models.DatatypeEnvironment, raw)
	rec.BoxID = parts[0]

	if !strings.HasPrefix(raw, ",") {
		return malformed(rec, errors.New("invalid environment format: no leading comma"))
	}

	month, err := strconv.Atoi(parts[1])
	if err != nil {
		return malformed(rec, err)
	}
	day, err := strconv.Atoi(parts[2])
	if err != nil {
		return malformed(rec, err)
	}
	hour, err := strconv.Atoi(parts[3])
	if err != nil {
		return malformed(rec, err)
	}
	minute, err := strconv.Atoi(parts[4])
	if err != nil {
		return malformed(rec, err)
	}
	readings := parts[5:]

	now := timeNow().UTC()
	year := now.Year()
	if now.Month() == time.January && month == 12 {
		year--
	} else if now.Month() == time.December && month == 1 {
		year++
	}

	ts, err := utcTime(year, month, day, hour, minute)
	if err != nil {
		return malformed(rec, err)
	}

	if len(readings)%3 != 0 {
		return malformed(rec, errors.New("invalid environment format: number of readings non divisible by 3 (T, RH, Noise)"))
	}

	triples := make([]models.Reading, 0, len(readings)/3)
	for i := 0; i < len(readings); i += 3 {
		t, err := strconv.Atoi(readings[i])
		if err != nil {
			return malformed(rec, err)
		}
		rh, err := strconv.Atoi(readings[i+1])
		if err != nil {
			return malformed(rec, err)
		}
		noise, err := strconv.Atoi(readings[i+2])
		if err != nil {
			return malformed(rec, err)
		}
		triples = append(triples, models.Reading{T: t, RH: rh, Noise: noise})
	}

	rec.Timestamp = &ts
	rec.Readings = triples
	return rec
}

func malformed(rec models.Record, err error) models.Record {
	rec.Malformed = true
	rec.ParsingError = err.Error()
	return rec
}

// compactTimestamp reconstructs UTC time from a YYMMDD date string and
// hour/minute captures. The two-digit year maps into the 2000s.
func compactTimestamp(date, hourStr, minuteStr string) (time.Time, error) {
	year := 2000 + mustAtoi(date[:2])
	month := mustAtoi(date[2:4])
	day := mustAtoi(date[4:6])
	hour := mustAtoi(hourStr)
	minute := mustAtoi(minuteStr)

	return utcTime(year, month, day, hour, minute)
}

// utcTime validates the component ranges before construction: time.Date
// normalizes out-of-range values instead of rejecting them, and a wrapped
// date must surface as a malformed payload, not a shifted timestamp.
func utcTime(year, month, day, hour, minute int) (time.Time, error) {
	if month < 1 || month > 12 {
		return time.Time{}, fmt.Errorf("month must be in 1..12: %d", month)
	}
	if day < 1 || day > daysInMonth(year, month) {
		return time.Time{}, fmt.Errorf("day is out of range for month: %d", day)
	}
	if hour < 0 || hour > 23 {
		return time.Time{}, fmt.Errorf("hour must be in 0..23: %d", hour)
	}
	if minute < 0 || minute > 59 {
		return time.Time{}, fmt.Errorf("minute must be in 0..59: %d", minute)
	}
	return time.Date(year, time.Month(month), day, hour, minute, 0, 0, time.UTC), nil
}

func daysInMonth(year, month int) int {
	// day 0 of the next month is the last day of this one
	return time.Date(year, time.Month(month)+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// mustAtoi is only called on regex-guaranteed digit captures
func mustAtoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func allDigitTokens(parts []string) bool {
	for _, p := range parts {
		if !digitToken.MatchString(p) {
			return false
		}
	}
	return true
}
