// Package r4 provides FHIR R4 data structures for the encounter coding engine.
package r4

// Coding represents a code from a terminology system.
type Coding struct {
	System       string `json:"system,omitempty"`
	Version      string `json:"version,omitempty"`
	Code         string `json:"code,omitempty"`
	Display      string `json:"display,omitempty"`
	UserSelected bool   `json:"userSelected,omitempty"`
}

// CodeableConcept represents a concept with text and codings.
type CodeableConcept struct {
	Coding []Coding `json:"coding,omitempty"`
	Text   string   `json:"text,omitempty"`
}

// Identifier represents a FHIR Identifier.
type Identifier struct {
	Use      string           `json:"use,omitempty"` // usual | official | temp | secondary | old
	Type     *CodeableConcept `json:"type,omitempty"`
	System   string           `json:"system,omitempty"`
	Value    string           `json:"value,omitempty"`
	Assigner *Reference       `json:"assigner,omitempty"`
}

// Reference represents a reference to another resource.
type Reference struct {
	Reference  string      `json:"reference,omitempty"`
	Type       string      `json:"type,omitempty"`
	Identifier *Identifier `json:"identifier,omitempty"`
	Display    string      `json:"display,omitempty"`
}

// Period represents a time period bounded by FHIR date strings.
// Dates are carried verbatim from the intake envelope, so they stay
// strings rather than time.Time: an absent encounter date must survive
// round-tripping as an empty value.
type Period struct {
	Start string `json:"start,omitempty"`
	End   string `json:"end,omitempty"`
}

// HumanName represents a human name.
type HumanName struct {
	Use    string   `json:"use,omitempty"` // usual | official | temp | nickname | anonymous | old | maiden
	Text   string   `json:"text,omitempty"`
	Family string   `json:"family,omitempty"`
	Given  []string `json:"given,omitempty"`
	Prefix []string `json:"prefix,omitempty"`
	Suffix []string `json:"suffix,omitempty"`
}

// Annotation represents a note or comment attached to a resource.
type Annotation struct {
	AuthorReference *Reference `json:"authorReference,omitempty"`
	AuthorString    string     `json:"authorString,omitempty"`
	Time            string     `json:"time,omitempty"`
	Text            string     `json:"text"`
}

// Quantity represents a measured amount.
type Quantity struct {
	Value      float64 `json:"value,omitempty"`
	Comparator string  `json:"comparator,omitempty"`
	Unit       string  `json:"unit,omitempty"`
	System     string  `json:"system,omitempty"`
	Code       string  `json:"code,omitempty"`
}

// Extension represents a FHIR extension. Nested extensions carry
// structured metadata such as the claim traceability block.
type Extension struct {
	URL                  string           `json:"url"`
	Extension            []Extension      `json:"extension,omitempty"`
	ValueString          string           `json:"valueString,omitempty"`
	ValueBoolean         *bool            `json:"valueBoolean,omitempty"`
	ValueInteger         *int             `json:"valueInteger,omitempty"`
	ValueDecimal         *float64         `json:"valueDecimal,omitempty"`
	ValueCode            string           `json:"valueCode,omitempty"`
	ValueCoding          *Coding          `json:"valueCoding,omitempty"`
	ValueCodeableConcept *CodeableConcept `json:"valueCodeableConcept,omitempty"`
	ValueReference       *Reference       `json:"valueReference,omitempty"`
}

// Ref builds a literal reference to a resource of the given type.
func Ref(resourceType, id string) *Reference {
	return &Reference{Reference: resourceType + "/" + id}
}

// Concept builds a single-coding CodeableConcept.
func Concept(system, code, display string) *CodeableConcept {
	return &CodeableConcept{
		Coding: []Coding{{System: system, Code: code, Display: display}},
	}
}

// Code systems used by the coding engine.
const (
	SystemICD10CM           = "http://hl7.org/fhir/sid/icd-10-cm"
	SystemCPT               = "http://www.ama-assn.org/go/cpt"
	SystemHCPCS             = "https://www.cms.gov/mcd/hcpcs"
	SystemActCode           = "http://terminology.hl7.org/CodeSystem/v3-ActCode"
	SystemConditionVerStat  = "http://terminology.hl7.org/CodeSystem/condition-ver-status"
	SystemConditionClinStat = "http://terminology.hl7.org/CodeSystem/condition-clinical"
	SystemDiagnosisType     = "http://terminology.hl7.org/CodeSystem/ex-diagnosistype"
	SystemClaimType         = "http://terminology.hl7.org/CodeSystem/claim-type"
	SystemClaimInfoCategory = "http://terminology.hl7.org/CodeSystem/claiminformationcategory"
	SystemProcessPriority   = "http://terminology.hl7.org/CodeSystem/processpriority"
	SystemMRN               = "urn:mrn"
	SystemLocationNPI       = "urn:npi:location"
	SystemProviderNPI       = "urn:npi:provider"
)
