// Package r4 provides FHIR R4 data structures for the encounter coding engine.
package r4

// Patient represents a FHIR R4 Patient resource.
type Patient struct {
	ResourceType string       `json:"resourceType"`
	ID           string       `json:"id,omitempty"`
	Identifier   []Identifier `json:"identifier,omitempty"`
	Active       bool         `json:"active,omitempty"`
	Name         []HumanName  `json:"name,omitempty"`
	Gender       string       `json:"gender,omitempty"` // male | female | other | unknown
	BirthDate    string       `json:"birthDate,omitempty"`
}

// GetMRN returns the patient's medical record number.
func (p *Patient) GetMRN() string {
	for _, id := range p.Identifier {
		if id.System == SystemMRN {
			return id.Value
		}
	}
	return ""
}

// GetFullName returns the patient's name as a single string.
func (p *Patient) GetFullName() string {
	if len(p.Name) == 0 {
		return ""
	}
	name := p.Name[0]
	if name.Text != "" {
		return name.Text
	}
	result := ""
	for _, g := range name.Given {
		if result != "" {
			result += " "
		}
		result += g
	}
	if name.Family != "" {
		if result != "" {
			result += " "
		}
		result += name.Family
	}
	return result
}

// Encounter represents a FHIR R4 Encounter resource.
type Encounter struct {
	ResourceType    string     `json:"resourceType"`
	ID              string     `json:"id,omitempty"`
	Status          string     `json:"status"` // planned | in-progress | finished | cancelled
	Class           *Coding    `json:"class,omitempty"`
	Subject         *Reference `json:"subject,omitempty"`
	Period          *Period    `json:"period,omitempty"`
	ServiceProvider *Reference `json:"serviceProvider,omitempty"`
}

// Condition represents a FHIR R4 Condition resource.
type Condition struct {
	ResourceType       string           `json:"resourceType"`
	ID                 string           `json:"id,omitempty"`
	ClinicalStatus     *CodeableConcept `json:"clinicalStatus,omitempty"`
	VerificationStatus *CodeableConcept `json:"verificationStatus,omitempty"`
	Code               *CodeableConcept `json:"code,omitempty"`
	Subject            *Reference       `json:"subject,omitempty"`
	Encounter          *Reference       `json:"encounter,omitempty"`
	Note               []Annotation     `json:"note,omitempty"`
}

// Bundle represents a FHIR R4 Bundle resource of type collection.
type Bundle struct {
	ResourceType string        `json:"resourceType"`
	ID           string        `json:"id,omitempty"`
	Type         string        `json:"type"` // collection | document | transaction | ...
	Timestamp    string        `json:"timestamp,omitempty"`
	Entry        []BundleEntry `json:"entry,omitempty"`
}

// BundleEntry holds one resource within a Bundle.
type BundleEntry struct {
	FullURL  string      `json:"fullUrl,omitempty"`
	Resource interface{} `json:"resource"`
}

// Patient returns the first Patient resource in the bundle, or nil.
func (b *Bundle) Patient() *Patient {
	for _, e := range b.Entry {
		if p, ok := e.Resource.(*Patient); ok {
			return p
		}
	}
	return nil
}

// Encounter returns the first Encounter resource in the bundle, or nil.
func (b *Bundle) Encounter() *Encounter {
	for _, e := range b.Entry {
		if enc, ok := e.Resource.(*Encounter); ok {
			return enc
		}
	}
	return nil
}

// Claim returns the first Claim resource in the bundle, or nil.
func (b *Bundle) Claim() *Claim {
	for _, e := range b.Entry {
		if c, ok := e.Resource.(*Claim); ok {
			return c
		}
	}
	return nil
}

// Conditions returns every Condition resource in the bundle, in entry order.
func (b *Bundle) Conditions() []*Condition {
	var conditions []*Condition
	for _, e := range b.Entry {
		if c, ok := e.Resource.(*Condition); ok {
			conditions = append(conditions, c)
		}
	}
	return conditions
}
