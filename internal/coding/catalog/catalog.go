// Package catalog provides the static billing-code reference data used by
// the detector. The maps are built once at process start and are read-only:
// accessors return copies, never map references.
package catalog

import fhir "github.com/gooclaim/coding-engine/internal/fhir/r4"

// Entry is one coded billing concept tied to a single terminology system.
type Entry struct {
	Code    string `json:"code"`
	Display string `json:"display"`
	System  string `json:"system"`
}

// Concept is a stable key into the catalog.
type Concept string

// Procedure (CPT) concepts.
const (
	ChestXRaySingleView  Concept = "chest-xray-single-view"
	ChestXRayTwoViews    Concept = "chest-xray-two-views"
	OfficeVisitLowMDM    Concept = "office-visit-established-low-mdm"
	NebulizerTreatment   Concept = "nebulizer-treatment"
	TherapeuticInjection Concept = "therapeutic-injection"
)

// Supply/drug (HCPCS) concepts.
const (
	AlbuterolNeb     Concept = "albuterol-neb"
	CeftriaxoneInj   Concept = "ceftriaxone-inj"
	DexamethasoneInj Concept = "dexamethasone-inj"
)

var procedures = map[Concept]Entry{
	ChestXRaySingleView: {
		Code:    "71045",
		Display: "Radiologic examination, chest; single view",
		System:  fhir.SystemCPT,
	},
	ChestXRayTwoViews: {
		Code:    "71046",
		Display: "Radiologic examination, chest; 2 views",
		System:  fhir.SystemCPT,
	},
	OfficeVisitLowMDM: {
		Code:    "99213",
		Display: "Office or other outpatient visit for an established patient, low MDM",
		System:  fhir.SystemCPT,
	},
	NebulizerTreatment: {
		Code:    "94640",
		Display: "Pressurized or nonpressurized inhalation treatment for acute airway obstruction",
		System:  fhir.SystemCPT,
	},
	TherapeuticInjection: {
		Code:    "96372",
		Display: "Therapeutic, prophylactic, or diagnostic injection; subcutaneous or intramuscular",
		System:  fhir.SystemCPT,
	},
}

var supplies = map[Concept]Entry{
	AlbuterolNeb: {
		Code:    "J7613",
		Display: "Albuterol, inhalation solution, FDA-approved final product, non-compounded, 1 mg",
		System:  fhir.SystemHCPCS,
	},
	CeftriaxoneInj: {
		Code:    "J0696",
		Display: "Injection, ceftriaxone sodium, per 250 mg",
		System:  fhir.SystemHCPCS,
	},
	DexamethasoneInj: {
		Code:    "J1100",
		Display: "Injection, dexamethasone sodium phosphate, 1 mg",
		System:  fhir.SystemHCPCS,
	},
}

// Procedure returns the CPT entry for a concept. The zero Entry is returned
// for unknown concepts.
func Procedure(c Concept) Entry {
	return procedures[c]
}

// Supply returns the HCPCS entry for a concept. The zero Entry is returned
// for unknown concepts.
func Supply(c Concept) Entry {
	return supplies[c]
}
