// Package intake provides the claim envelope schema produced by the intake
// pipeline and consumed by the coding engine.
//
// Every field of the envelope is optional. Accessors are nil-safe and
// default to empty values, so the coding engine never has to branch on
// missing intake data.
package intake

import "encoding/json"

// Envelope is the intake output for a single clinical encounter.
type Envelope struct {
	ClaimID      string        `json:"claim_id,omitempty"`
	Patient      *Patient      `json:"patient,omitempty"`
	Encounter    *Encounter    `json:"encounter,omitempty"`
	ClinicalNote *ClinicalNote `json:"clinical_note,omitempty"`
	Meta         *Meta         `json:"meta,omitempty"`
}

// Patient holds intake patient demographics.
type Patient struct {
	MRN       string `json:"mrn,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	Sex       string `json:"sex,omitempty"` // M | F | anything else maps to unknown
	DOB       string `json:"dob,omitempty"`
	PayerName string `json:"payer_name,omitempty"`
}

// Encounter holds intake encounter metadata.
type Encounter struct {
	Date        string `json:"date,omitempty"`
	LocationNPI string `json:"location_npi,omitempty"`
	ProviderNPI string `json:"provider_npi,omitempty"`
}

// ClinicalNote holds the clinical documentation for the encounter.
type ClinicalNote struct {
	TextPreview string `json:"text_preview,omitempty"`
}

// Meta holds free-form intake metadata.
type Meta struct {
	Source string `json:"source,omitempty"`
}

// GetClaimID returns the caller-supplied claim ID, or "" when absent.
func (e *Envelope) GetClaimID() string {
	if e == nil {
		return ""
	}
	return e.ClaimID
}

// NoteText returns the clinical note text, or "" when absent.
func (e *Envelope) NoteText() string {
	if e == nil || e.ClinicalNote == nil {
		return ""
	}
	return e.ClinicalNote.TextPreview
}

// GetPatient returns the patient section, never nil.
func (e *Envelope) GetPatient() Patient {
	if e == nil || e.Patient == nil {
		return Patient{}
	}
	return *e.Patient
}

// GetEncounter returns the encounter section, never nil.
func (e *Envelope) GetEncounter() Encounter {
	if e == nil || e.Encounter == nil {
		return Encounter{}
	}
	return *e.Encounter
}

// Source returns the declared intake source, or "" when absent.
func (e *Envelope) Source() string {
	if e == nil || e.Meta == nil {
		return ""
	}
	return e.Meta.Source
}

// FromJSON deserializes an envelope from JSON.
func (e *Envelope) FromJSON(data []byte) error {
	return json.Unmarshal(data, e)
}

// ToJSON serializes the envelope to JSON.
func (e *Envelope) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}
