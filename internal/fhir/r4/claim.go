// Package r4 provides FHIR R4 data structures for the encounter coding engine.
package r4

// Claim represents a FHIR R4 Claim resource.
// This is the primary billing resource produced by the coding engine:
// diagnosis[], procedure[] and item[] are sequenced independently, and
// every diagnosisReference must resolve to a Condition in the same bundle.
type Claim struct {
	ResourceType   string                `json:"resourceType"`
	ID             string                `json:"id,omitempty"`
	Status         string                `json:"status"` // active | cancelled | draft | entered-in-error
	Type           *CodeableConcept      `json:"type,omitempty"`
	Use            string                `json:"use,omitempty"` // claim | preauthorization | predetermination
	Patient        *Reference            `json:"patient,omitempty"`
	Created        string                `json:"created,omitempty"`
	Enterer        *Reference            `json:"enterer,omitempty"`
	Insurer        *Reference            `json:"insurer,omitempty"`
	Priority       *CodeableConcept      `json:"priority,omitempty"`
	SupportingInfo []ClaimSupportingInfo `json:"supportingInfo,omitempty"`
	Diagnosis      []ClaimDiagnosis      `json:"diagnosis,omitempty"`
	Procedure      []ClaimProcedure      `json:"procedure,omitempty"`
	Item           []ClaimItem           `json:"item,omitempty"`
	Extension      []Extension           `json:"extension,omitempty"`
}

// ClaimDiagnosis links a claim to one Condition resource.
type ClaimDiagnosis struct {
	Sequence           int               `json:"sequence"`
	DiagnosisReference *Reference        `json:"diagnosisReference,omitempty"`
	Type               []CodeableConcept `json:"type,omitempty"` // principal | additional
}

// ClaimProcedure records one procedure performed during the encounter.
type ClaimProcedure struct {
	Sequence                 int              `json:"sequence"`
	Date                     string           `json:"date,omitempty"`
	ProcedureCodeableConcept *CodeableConcept `json:"procedureCodeableConcept,omitempty"`
}

// ClaimItem is one billable line on the claim.
type ClaimItem struct {
	Sequence         int              `json:"sequence"`
	ProductOrService *CodeableConcept `json:"productOrService,omitempty"`
	ServicedDate     string           `json:"servicedDate,omitempty"`
	Encounter        []Reference      `json:"encounter,omitempty"`
}

// ClaimSupportingInfo carries additional information supporting the claim.
type ClaimSupportingInfo struct {
	Sequence    int              `json:"sequence"`
	Category    *CodeableConcept `json:"category,omitempty"`
	ValueString string           `json:"valueString,omitempty"`
}

// PrincipalDiagnosis returns the principal diagnosis entry, or nil when the
// claim carries no diagnoses.
func (c *Claim) PrincipalDiagnosis() *ClaimDiagnosis {
	for i := range c.Diagnosis {
		for _, t := range c.Diagnosis[i].Type {
			for _, coding := range t.Coding {
				if coding.Code == "principal" {
					return &c.Diagnosis[i]
				}
			}
		}
	}
	return nil
}
