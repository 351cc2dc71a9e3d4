package alert

import (
	"fmt"

	"fieldsense/internal/models"
)

// subjectPrefix marks every alert email this service sends
const subjectPrefix = "[SENSOR DATA ALERT TRIGGERED] "

// Candidate is a transient decision unit produced by a rule check. Reason is
// the stable dedup key; LatencyNote carries the latency summary when a
// latency condition rides along with another deploy-track alert. Candidates
// are consumed by the evaluator and never persisted.
type Candidate struct {
	Reason      string
	Subject     string
	Summary     string
	LatencyNote string
}

func checkInvalid(rec *models.Record) *Candidate {
	if rec.Datatype != models.DatatypeInvalid {
		return nil
	}
	return &Candidate{
		Reason:  string(rec.Datatype),
		Subject: "Invalid data received",
		Summary: "Invalid data received: 'data' field must contain a non-empty string.",
	}
}

func checkError(rec *models.Record) *Candidate {
	if rec.Datatype != models.DatatypeError {
		return nil
	}
	boxID := rec.BoxID
	if boxID == "" {
		boxID = "unknown"
	}
	errorCode := rec.ErrorCode
	if errorCode == "" {
		errorCode = "E"
	}
	subject := fmt.Sprintf("Error %s detected in Box %s", errorCode, boxID)
	return &Candidate{
		Reason:  errorCode,
		Subject: subject,
		Summary: subject,
	}
}

func checkUnknown(rec *models.Record) *Candidate {
	if rec.Datatype != models.DatatypeUnknown {
		return nil
	}
	return &Candidate{
		Reason:  string(rec.Datatype),
		Subject: "Unrecognized data format received",
		Summary: "Unrecognized data format: does not match expected patterns for sensor readings, error logs, or startup messages.",
	}
}

func checkMalformed(rec *models.Record) *Candidate {
	if !rec.Malformed {
		return nil
	}
	cause := rec.ParsingError
	if cause == "" {
		cause = fmt.Sprintf("Data does not match the expected pattern for type: %s.", rec.Datatype)
	}
	return &Candidate{
		Reason:  "malformed",
		Subject: fmt.Sprintf("Malformed %s data received", rec.Datatype),
		Summary: fmt.Sprintf("Parsing error occurred. %s", cause),
	}
}
