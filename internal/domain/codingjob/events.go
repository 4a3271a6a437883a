// Package codingjob implements the coding job aggregate and domain events.
package codingjob

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of domain event
type EventType string

const (
	EventCodingJobReceived EventType = "CodingJobReceived"
	EventCodingJobCoded    EventType = "CodingJobCoded"
	EventCodingJobExported EventType = "CodingJobExported"
	EventCodingJobFailed   EventType = "CodingJobFailed"
)

// Event represents a domain event
type Event struct {
	ID            string          `json:"id"`
	AggregateID   string          `json:"aggregate_id"`
	AggregateType string          `json:"aggregate_type"`
	EventType     EventType       `json:"event_type"`
	EventData     json.RawMessage `json:"event_data"`
	Version       int             `json:"version"`
	Timestamp     time.Time       `json:"timestamp"`
	ProviderNPI   string          `json:"provider_npi,omitempty"`
	LocationNPI   string          `json:"location_npi,omitempty"`
	PatientHash   string          `json:"patient_hash,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"`
}

// NewEvent creates a new event
func NewEvent(aggregateID string, eventType EventType, data interface{}) (*Event, error) {
	eventData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &Event{
		ID:            uuid.New().String(),
		AggregateID:   aggregateID,
		AggregateType: "CodingJob",
		EventType:     eventType,
		EventData:     eventData,
		Timestamp:     time.Now().UTC(),
	}, nil
}

// WithAuditInfo sets audit fields
func (e *Event) WithAuditInfo(providerNPI, locationNPI, patientHash string) *Event {
	e.ProviderNPI = providerNPI
	e.LocationNPI = locationNPI
	e.PatientHash = patientHash
	return e
}

// CodingJobReceivedData contains the intake details for a new job
type CodingJobReceivedData struct {
	JobID         string          `json:"job_id"`
	ClaimIDInput  string          `json:"claim_id_input,omitempty"`
	PatientHash   string          `json:"patient_hash"`
	ProviderNPI   string          `json:"provider_npi,omitempty"`
	LocationNPI   string          `json:"location_npi,omitempty"`
	EncounterDate string          `json:"encounter_date,omitempty"`
	Source        string          `json:"source,omitempty"`
	Envelope      json.RawMessage `json:"envelope,omitempty"`
	ReceivedAt    time.Time       `json:"received_at"`
}

// CodingJobCodedData contains the detection and assembly outcome
type CodingJobCodedData struct {
	JobID              string          `json:"job_id"`
	BundleID           string          `json:"bundle_id"`
	ClaimID            string          `json:"claim_id"`
	PrincipalDiagnosis string          `json:"principal_diagnosis,omitempty"`
	DiagnosisCount     int             `json:"diagnosis_count"`
	VisitCode          string          `json:"visit_code"`
	ProcedureCodes     []string        `json:"procedure_codes,omitempty"`
	SupplyCodes        []string        `json:"supply_codes,omitempty"`
	Bundle             json.RawMessage `json:"bundle,omitempty"`
	CodedAt            time.Time       `json:"coded_at"`
}

// CodingJobExportedData contains export details
type CodingJobExportedData struct {
	JobID      string    `json:"job_id"`
	BundleID   string    `json:"bundle_id"`
	Topic      string    `json:"topic"`
	MessageID  string    `json:"message_id"`
	ExportedAt time.Time `json:"exported_at"`
}

// CodingJobFailedData contains failure details
type CodingJobFailedData struct {
	JobID    string    `json:"job_id"`
	Stage    string    `json:"stage"`
	Reason   string    `json:"reason"`
	FailedAt time.Time `json:"failed_at"`
}
