// Package codingjob implements the coding job aggregate.
package codingjob

import (
	"encoding/json"
	"errors"
	"time"
)

// Status represents coding job status
type Status string

const (
	StatusDraft    Status = "draft"
	StatusReceived Status = "received"
	StatusCoded    Status = "coded"
	StatusExported Status = "exported"
	StatusFailed   Status = "failed"
)

// Aggregate represents the coding job aggregate root
type Aggregate struct {
	id            string
	version       int
	status        Status
	claimIDInput  string
	patientHash   string
	providerNPI   string
	locationNPI   string
	encounterDate string
	source        string
	bundleID      string
	claimID       string
	visitCode     string
	messageID     string
	failureReason string
	createdAt     time.Time
	updatedAt     time.Time
	changes       []*Event
}

// NewAggregate creates a new coding job aggregate
func NewAggregate(id string) *Aggregate {
	return &Aggregate{
		id:        id,
		status:    StatusDraft,
		createdAt: time.Now().UTC(),
		updatedAt: time.Now().UTC(),
		changes:   make([]*Event, 0),
	}
}

// ID returns the aggregate ID
func (a *Aggregate) ID() string { return a.id }

// Version returns the current version
func (a *Aggregate) Version() int { return a.version }

// Status returns the current status
func (a *Aggregate) Status() Status { return a.status }

// BundleID returns the assembled bundle ID, empty until coded
func (a *Aggregate) BundleID() string { return a.bundleID }

// FailureReason returns the recorded failure reason, empty unless failed
func (a *Aggregate) FailureReason() string { return a.failureReason }

// Changes returns uncommitted events
func (a *Aggregate) Changes() []*Event { return a.changes }

// ClearChanges clears uncommitted events
func (a *Aggregate) ClearChanges() { a.changes = make([]*Event, 0) }

// Receive records the intake of an encounter envelope
func (a *Aggregate) Receive(data *CodingJobReceivedData) error {
	if a.status != StatusDraft {
		return errors.New("coding job already received")
	}

	event, err := NewEvent(a.id, EventCodingJobReceived, data)
	if err != nil {
		return err
	}
	event.WithAuditInfo(data.ProviderNPI, data.LocationNPI, data.PatientHash)

	a.apply(event)
	a.changes = append(a.changes, event)
	return nil
}

// MarkCoded records the detection and assembly outcome
func (a *Aggregate) MarkCoded(data *CodingJobCodedData) error {
	if a.status != StatusReceived {
		return errors.New("coding job not received")
	}

	event, err := NewEvent(a.id, EventCodingJobCoded, data)
	if err != nil {
		return err
	}
	event.WithAuditInfo(a.providerNPI, a.locationNPI, a.patientHash)

	a.apply(event)
	a.changes = append(a.changes, event)
	return nil
}

// MarkExported records successful publication of the coded claim
func (a *Aggregate) MarkExported(topic, messageID string) error {
	if a.status != StatusCoded {
		return errors.New("coding job not coded")
	}

	data := &CodingJobExportedData{
		JobID:      a.id,
		BundleID:   a.bundleID,
		Topic:      topic,
		MessageID:  messageID,
		ExportedAt: time.Now().UTC(),
	}

	event, err := NewEvent(a.id, EventCodingJobExported, data)
	if err != nil {
		return err
	}

	a.apply(event)
	a.changes = append(a.changes, event)
	return nil
}

// MarkFailed records a terminal failure at the given stage
func (a *Aggregate) MarkFailed(stage, reason string) error {
	if a.status == StatusExported || a.status == StatusFailed {
		return errors.New("coding job already terminal")
	}

	data := &CodingJobFailedData{
		JobID:    a.id,
		Stage:    stage,
		Reason:   reason,
		FailedAt: time.Now().UTC(),
	}

	event, err := NewEvent(a.id, EventCodingJobFailed, data)
	if err != nil {
		return err
	}

	a.apply(event)
	a.changes = append(a.changes, event)
	return nil
}

// apply applies an event to update state
func (a *Aggregate) apply(event *Event) {
	a.version++
	a.updatedAt = event.Timestamp

	switch event.EventType {
	case EventCodingJobReceived:
		a.applyReceived(event)
	case EventCodingJobCoded:
		a.applyCoded(event)
	case EventCodingJobExported:
		a.applyExported(event)
	case EventCodingJobFailed:
		a.applyFailed(event)
	}
}

func (a *Aggregate) applyReceived(event *Event) {
	var data CodingJobReceivedData
	if err := json.Unmarshal(event.EventData, &data); err != nil {
		return
	}
	a.status = StatusReceived
	a.claimIDInput = data.ClaimIDInput
	a.patientHash = data.PatientHash
	a.providerNPI = data.ProviderNPI
	a.locationNPI = data.LocationNPI
	a.encounterDate = data.EncounterDate
	a.source = data.Source
}

func (a *Aggregate) applyCoded(event *Event) {
	var data CodingJobCodedData
	if err := json.Unmarshal(event.EventData, &data); err != nil {
		return
	}
	a.status = StatusCoded
	a.bundleID = data.BundleID
	a.claimID = data.ClaimID
	a.visitCode = data.VisitCode
}

func (a *Aggregate) applyExported(event *Event) {
	var data CodingJobExportedData
	if err := json.Unmarshal(event.EventData, &data); err != nil {
		return
	}
	a.status = StatusExported
	a.messageID = data.MessageID
}

func (a *Aggregate) applyFailed(event *Event) {
	var data CodingJobFailedData
	if err := json.Unmarshal(event.EventData, &data); err != nil {
		return
	}
	a.status = StatusFailed
	a.failureReason = data.Reason
}

// LoadFromHistory rebuilds state from events
func (a *Aggregate) LoadFromHistory(events []*Event) {
	for _, event := range events {
		a.apply(event)
	}
}
