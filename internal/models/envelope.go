package models

import (
	"time"
)

// Envelope wraps a parsed Record with internal metadata for archival
type Envelope struct {
	// Parsed record
	Record *Record `json:"record"`

	// Internal processing metadata
	ReceivedAt   time.Time `json:"received_at"`
	IngestNode   string    `json:"ingest_node"`
	PartitionKey string    `json:"partition_key"`
}

// NewEnvelope creates a new envelope wrapping a parsed record
func NewEnvelope(record *Record, ingestNode string) *Envelope {
	return &Envelope{
		Record:       record,
		ReceivedAt:   time.Now().UTC(),
		IngestNode:   ingestNode,
		PartitionKey: record.CoreID, // partition by device for ordering
	}
}

// BlobName returns the archive object name for the wrapped record,
// grouped by datatype and stamped with the upload time.
func (e *Envelope) BlobName() string {
	boxID := e.Record.BoxID
	if boxID == "" {
		boxID = "unknown"
	}
	stamp := e.ReceivedAt.Format("20060102T150405Z")
	return string(e.Record.Datatype) + "/" + boxID + "_" + stamp + ".json"
}
