// Package detector infers billing codes from clinical note text.
//
// Detection is evidence-based: a procedure is coded only when a
// performed-hint accompanies its anchor term, so interventions that are
// merely recommended or prescribed produce no procedure code. Diagnosis
// rules are independent pattern rules with fixed ranks and confidences;
// they are additive and perform no de-duplication.
package detector

import (
	"github.com/gooclaim/coding-engine/internal/coding/catalog"
	"github.com/gooclaim/coding-engine/internal/coding/evidence"
	fhir "github.com/gooclaim/coding-engine/internal/fhir/r4"
	"github.com/gooclaim/coding-engine/internal/intake"
)

// Diagnosis is one detected diagnosis code with its rule metadata.
type Diagnosis struct {
	Code       string  `json:"code"`
	Display    string  `json:"display"`
	System     string  `json:"system"`
	Rank       int     `json:"rank"`
	Confidence float64 `json:"confidence"`
	Rationale  string  `json:"rationale"`
}

// VisitCode is the evaluation/management code for the encounter.
type VisitCode struct {
	catalog.Entry
	AssumedPatientStatus string  `json:"assumed_patient_status"`
	Confidence           float64 `json:"confidence"`
	Rationale            string  `json:"rationale"`
}

// Result is the structured detection output for one encounter note.
// Diagnosis order is significant (rank 1 is principal); procedure and
// supply order reflects detection order only. A Result is never mutated
// after Detect returns it.
type Result struct {
	Diagnoses  []Diagnosis     `json:"diagnoses"`
	VisitCode  VisitCode       `json:"visit_code"`
	Procedures []catalog.Entry `json:"procedures"`
	Supplies   []catalog.Entry `json:"supplies"`
}

// Anchor terms and windows for the performed-procedure rules.
var (
	imagingAnchors   = []string{"x-ray", "xray", "cxr"}
	twoViewPhrases   = []string{"two views", "2 views", "pa and lateral"}
	nebulizerAnchors = []string{"nebulizer", "neb"}
	injectionAnchors = []string{"intramuscular", "im injection", "injection given", "shot given"}
)

// imagingHintWindow is the character window around an imaging anchor within
// which a performed-hint must appear. The nebulizer and injection rules
// accept hints anywhere in the note; that asymmetry is part of the detector
// contract.
const imagingHintWindow = 40

// Detect runs every detection rule over the envelope's clinical note and
// returns the combined result. It is a pure function of the note text:
// identical notes produce identical results, and it never fails regardless
// of envelope shape.
func Detect(env *intake.Envelope) Result {
	note := env.NoteText()

	return Result{
		Diagnoses:  detectDiagnoses(note),
		VisitCode:  defaultVisitCode(),
		Procedures: detectProcedures(note),
		Supplies:   detectSupplies(note),
	}
}

// detectDiagnoses applies the ordered diagnosis pattern rules. Each rule
// fires independently; a note can yield secondary symptom codes with no
// principal diagnosis, or both.
func detectDiagnoses(note string) []Diagnosis {
	var diagnoses []Diagnosis

	// Principal: acute bronchitis pattern.
	if evidence.HasAll(note, "cough") &&
		(evidence.HasAll(note, "wheez") || evidence.HasAll(note, "shortness of breath")) &&
		(evidence.HasAll(note, "fever") || evidence.HasAll(note, "azithromycin")) {
		diagnoses = append(diagnoses, Diagnosis{
			Code:       "J20.9",
			Display:    "Acute bronchitis, unspecified organism",
			System:     fhir.SystemICD10CM,
			Rank:       1,
			Confidence: 0.72,
			Rationale:  "Acute cough + fever/wheeze/SOB; outpatient; antibiotic prescribed.",
		})
	}

	// Secondary symptoms.
	if evidence.HasAll(note, "wheez") {
		diagnoses = append(diagnoses, Diagnosis{
			Code: "R06.2", Display: "Wheezing", System: fhir.SystemICD10CM,
			Rank: 2, Confidence: 0.62, Rationale: "Documented wheezing.",
		})
	}
	if evidence.HasAll(note, "shortness of breath") {
		diagnoses = append(diagnoses, Diagnosis{
			Code: "R06.02", Display: "Shortness of breath", System: fhir.SystemICD10CM,
			Rank: 3, Confidence: 0.60, Rationale: "Documented SOB.",
		})
	}
	if evidence.HasAll(note, "fever") {
		diagnoses = append(diagnoses, Diagnosis{
			Code: "R50.9", Display: "Fever, unspecified", System: fhir.SystemICD10CM,
			Rank: 4, Confidence: 0.58, Rationale: "Documented fever.",
		})
	}
	if evidence.HasAll(note, "cough") {
		diagnoses = append(diagnoses, Diagnosis{
			Code: "R05.9", Display: "Cough, unspecified", System: fhir.SystemICD10CM,
			Rank: 5, Confidence: 0.56, Rationale: "Documented cough.",
		})
	}

	return diagnoses
}

// defaultVisitCode returns the unconditional E/M default. It is emitted for
// every encounter, even when no diagnosis rule fires.
func defaultVisitCode() VisitCode {
	return VisitCode{
		Entry:                catalog.Procedure(catalog.OfficeVisitLowMDM),
		AssumedPatientStatus: "established",
		Confidence:           0.58,
		Rationale:            "Acute uncomplicated illness, outpatient management.",
	}
}

// detectProcedures evaluates the three performed-procedure rule families.
// The families are independent and can all fire on the same note.
func detectProcedures(note string) []catalog.Entry {
	var procedures []catalog.Entry

	if entry, ok := detectImaging(note); ok {
		procedures = append(procedures, entry)
	}
	if nebulizerPerformed(note) {
		procedures = append(procedures, catalog.Procedure(catalog.NebulizerTreatment))
	}
	if injectionPerformed(note) {
		procedures = append(procedures, catalog.Procedure(catalog.TherapeuticInjection))
	}

	return procedures
}

// detectImaging decides whether a chest X-ray was performed and, if so,
// which view count applies. At most one imaging procedure per note.
func detectImaging(note string) (catalog.Entry, bool) {
	if !evidence.AnyPresent(note, imagingAnchors...) {
		return catalog.Entry{}, false
	}
	if !evidence.AnyHintNear(note, imagingAnchors, imagingHintWindow) {
		return catalog.Entry{}, false
	}
	if evidence.AnyPresent(note, twoViewPhrases...) {
		return catalog.Procedure(catalog.ChestXRayTwoViews), true
	}
	return catalog.Procedure(catalog.ChestXRaySingleView), true
}

// nebulizerPerformed tests the nebulizer anchor against performed-hints
// anywhere in the note.
func nebulizerPerformed(note string) bool {
	return evidence.AnyPresent(note, nebulizerAnchors...) && evidence.AnyHintPresent(note)
}

// injectionPerformed tests the injection anchors against performed-hints
// anywhere in the note.
func injectionPerformed(note string) bool {
	return evidence.AnyPresent(note, injectionAnchors...) && evidence.AnyHintPresent(note)
}

// detectSupplies emits supply/drug codes tied to the performed procedures:
// albuterol with a nebulizer treatment, and at most one injectable drug
// with a therapeutic injection (ceftriaxone checked before dexamethasone).
func detectSupplies(note string) []catalog.Entry {
	var supplies []catalog.Entry

	if nebulizerPerformed(note) && evidence.HasAll(note, "albuterol") {
		supplies = append(supplies, catalog.Supply(catalog.AlbuterolNeb))
	}

	if injectionPerformed(note) {
		switch {
		case evidence.HasAll(note, "ceftriaxone"):
			supplies = append(supplies, catalog.Supply(catalog.CeftriaxoneInj))
		case evidence.HasAll(note, "dexamethasone"):
			supplies = append(supplies, catalog.Supply(catalog.DexamethasoneInj))
		}
	}

	return supplies
}
