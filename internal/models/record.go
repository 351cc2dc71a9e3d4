package models

import (
	"errors"
	"time"
)

// Datatype classifies a raw payload into one of the known message shapes
type Datatype string

const (
	DatatypeEnvironment Datatype = "environment"
	DatatypeError       Datatype = "error"
	DatatypeStartup     Datatype = "startup"
	DatatypeUnknown     Datatype = "unknown"
	DatatypeInvalid     Datatype = "invalid"
)

// ParserVersion tags records for forward compatibility
const ParserVersion = 1

// Reading is a single T/RH/Noise triple reported by a box
type Reading struct {
	T     int `json:"T"`
	RH    int `json:"RH"`
	Noise int `json:"Noise"`
}

// Record is the structured form of one raw telemetry payload.
//
// Exactly one of the environment/error/startup field sets is populated for a
// recognized shape; Malformed is orthogonal and marks a recognized shape whose
// body failed validation. Raw is always preserved verbatim.
type Record struct {
	// Classification of the raw payload
	Datatype Datatype `json:"datatype"`

	// Original payload string, verbatim
	Raw string `json:"raw"`

	// Wall-clock time the payload was parsed
	ParsedAt time.Time `json:"parsed_at"`

	// Parser version that produced this record
	ParserVersion int `json:"parser_version"`

	// Device identifier extracted from the payload, if the shape yielded one
	BoxID string `json:"box_id,omitempty"`

	// Device-reported event time, present only when successfully parsed
	Timestamp *time.Time `json:"timestamp,omitempty"`

	// Ordered T/RH/Noise triples, environment records only
	Readings []Reading `json:"readings,omitempty"`

	// Error token (e.g. "E17"), error records only
	ErrorCode string `json:"error_code,omitempty"`

	// Shape recognized but body failed structural validation
	Malformed bool `json:"malformed,omitempty"`

	// Human-readable cause, present when Malformed is true
	ParsingError string `json:"parsing_error,omitempty"`

	// Envelope fields supplied by the caller, not the parser
	CoreID      string `json:"coreid,omitempty"`
	Event       string `json:"event,omitempty"`
	PublishedAt string `json:"published_at,omitempty"`
}

// Validation errors
var (
	ErrInvalidTimestamp = errors.New("invalid timestamp format")
)

// CoreKey returns the device key used for the alert ledger, substituting a
// sentinel when the transport supplied no coreid.
func (r *Record) CoreKey() string {
	if r.CoreID == "" {
		return "no_coreid"
	}
	return r.CoreID
}

// IsValid checks if the datatype is one of the known classifications
func (d Datatype) IsValid() bool {
	switch d {
	case DatatypeEnvironment, DatatypeError, DatatypeStartup, DatatypeUnknown, DatatypeInvalid:
		return true
	default:
		return false
	}
}

// SupportedTimestampFormats lists formats we attempt to parse
var SupportedTimestampFormats = []string{
	time.RFC3339,
	time.RFC3339Nano,
	"2006-01-02T15:04:05Z",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// ParseTimestamp attempts to parse an ISO-ish timestamp string into time.Time.
// A trailing "Z" and a "+00:00" offset are both accepted.
func ParseTimestamp(ts string) (time.Time, error) {
	for _, format := range SupportedTimestampFormats {
		if t, err := time.Parse(format, ts); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, ErrInvalidTimestamp
}
