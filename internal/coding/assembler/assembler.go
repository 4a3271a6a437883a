// Package assembler builds the cross-referenced FHIR bundle from a
// detection result and the intake envelope.
//
// The bundle always contains exactly one Patient, one Encounter and one
// Claim, plus one Condition per detected diagnosis. Resource identifiers
// are generated fresh per call and are opaque; every reference inside the
// bundle resolves to a resource in the same bundle. Assembly never fails:
// missing envelope fields degrade to empty values.
package assembler

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/gooclaim/coding-engine/internal/coding/catalog"
	"github.com/gooclaim/coding-engine/internal/coding/detector"
	fhir "github.com/gooclaim/coding-engine/internal/fhir/r4"
	"github.com/gooclaim/coding-engine/internal/intake"
)

// MetaExtensionURL identifies the claim traceability extension echoing the
// caller-supplied claim ID and intake source.
const MetaExtensionURL = "urn:gooclaim:meta"

// Assemble builds the output bundle for one coded encounter.
func Assemble(env *intake.Envelope, result detector.Result) *fhir.Bundle {
	patientID := newID("pat")
	encounterID := newID("enc")
	claimID := newID("clm")

	patient := env.GetPatient()
	encounter := env.GetEncounter()

	claimIDInput := env.GetClaimID()
	if claimIDInput == "" {
		claimIDInput = claimID
	}

	fhirPatient := buildPatient(patientID, patient)
	fhirEncounter := buildEncounter(encounterID, patientID, encounter)
	conditions, claimDiagnoses := buildConditions(patientID, encounterID, result.Diagnoses)

	claim := &fhir.Claim{
		ResourceType: "Claim",
		ID:           claimID,
		Status:       "active",
		Type:         fhir.Concept(fhir.SystemClaimType, "professional", ""),
		Use:          "claim",
		Patient:      fhir.Ref("Patient", patientID),
		Created:      time.Now().UTC().Format("2006-01-02T15:04:05Z"),
		Enterer: &fhir.Reference{
			Identifier: &fhir.Identifier{System: fhir.SystemProviderNPI, Value: encounter.ProviderNPI},
		},
		Insurer:   &fhir.Reference{Display: patient.PayerName},
		Priority:  fhir.Concept(fhir.SystemProcessPriority, "normal", ""),
		Diagnosis: claimDiagnoses,
		Extension: []fhir.Extension{
			{
				URL: MetaExtensionURL,
				Extension: []fhir.Extension{
					{URL: "claim_id_input", ValueString: claimIDInput},
					{URL: "source", ValueString: env.Source()},
				},
			},
		},
	}

	appendVisitItem(claim, encounterID, encounter.Date, result.VisitCode)
	appendProcedureItems(claim, encounterID, encounter.Date, result.Procedures)
	appendSupplyItems(claim, encounterID, encounter.Date, result.Supplies)

	bundle := &fhir.Bundle{
		ResourceType: "Bundle",
		ID:           newID("bundle"),
		Type:         "collection",
		Timestamp:    time.Now().UTC().Format("2006-01-02T15:04:05Z"),
		Entry: []fhir.BundleEntry{
			{Resource: fhirPatient},
			{Resource: fhirEncounter},
			{Resource: claim},
		},
	}
	for _, c := range conditions {
		bundle.Entry = append(bundle.Entry, fhir.BundleEntry{Resource: c})
	}

	return bundle
}

// newID generates an opaque prefixed resource identifier.
func newID(prefix string) string {
	u := uuid.New()
	return prefix + "-" + hex.EncodeToString(u[:])[:8]
}

func buildPatient(id string, p intake.Patient) *fhir.Patient {
	return &fhir.Patient{
		ResourceType: "Patient",
		ID:           id,
		Identifier:   []fhir.Identifier{{System: fhir.SystemMRN, Value: p.MRN}},
		Name: []fhir.HumanName{
			{Family: p.LastName, Given: []string{p.FirstName}},
		},
		Gender:    mapGender(p.Sex),
		BirthDate: p.DOB,
	}
}

// mapGender maps intake sex codes to FHIR administrative gender.
func mapGender(sex string) string {
	switch strings.ToUpper(sex) {
	case "M":
		return "male"
	case "F":
		return "female"
	default:
		return "unknown"
	}
}

func buildEncounter(id, patientID string, e intake.Encounter) *fhir.Encounter {
	return &fhir.Encounter{
		ResourceType: "Encounter",
		ID:           id,
		Status:       "finished",
		Class:        &fhir.Coding{System: fhir.SystemActCode, Code: "AMB", Display: "ambulatory"},
		Subject:      fhir.Ref("Patient", patientID),
		Period:       &fhir.Period{Start: e.Date, End: e.Date},
		ServiceProvider: &fhir.Reference{
			Identifier: &fhir.Identifier{System: fhir.SystemLocationNPI, Value: e.LocationNPI},
		},
	}
}

// buildConditions creates one Condition per diagnosis and the parallel
// Claim.diagnosis entries. The first diagnosis is classified principal,
// every other one additional.
func buildConditions(patientID, encounterID string, diagnoses []detector.Diagnosis) ([]*fhir.Condition, []fhir.ClaimDiagnosis) {
	var conditions []*fhir.Condition
	var claimDiagnoses []fhir.ClaimDiagnosis

	for idx, d := range diagnoses {
		condID := newID("cond")

		code := fhir.Concept(d.System, d.Code, d.Display)
		code.Text = d.Display

		conditions = append(conditions, &fhir.Condition{
			ResourceType:       "Condition",
			ID:                 condID,
			Subject:            fhir.Ref("Patient", patientID),
			Encounter:          fhir.Ref("Encounter", encounterID),
			Code:               code,
			VerificationStatus: fhir.Concept(fhir.SystemConditionVerStat, "confirmed", ""),
			ClinicalStatus:     fhir.Concept(fhir.SystemConditionClinStat, "active", ""),
			Note: []fhir.Annotation{
				{Text: fmt.Sprintf("rank=%d, confidence=%v, rationale=%s", d.Rank, d.Confidence, d.Rationale)},
			},
		})

		diagnosisType := "additional"
		if idx == 0 {
			diagnosisType = "principal"
		}
		claimDiagnoses = append(claimDiagnoses, fhir.ClaimDiagnosis{
			Sequence:           idx + 1,
			DiagnosisReference: fhir.Ref("Condition", condID),
			Type:               []fhir.CodeableConcept{*fhir.Concept(fhir.SystemDiagnosisType, diagnosisType, "")},
		})
	}

	return conditions, claimDiagnoses
}

// appendVisitItem adds the E/M line and its supportingInfo annotation.
// Item sequences are shared across the visit, procedure and supply phases
// and never reset.
func appendVisitItem(claim *fhir.Claim, encounterID, date string, visit detector.VisitCode) {
	if visit.Code == "" {
		return
	}

	claim.Item = append(claim.Item, newClaimItem(claim, encounterID, date, visit.Entry))

	claim.SupportingInfo = append(claim.SupportingInfo, fhir.ClaimSupportingInfo{
		Sequence: len(claim.SupportingInfo) + 1,
		Category: fhir.Concept(fhir.SystemClaimInfoCategory, "info", ""),
		ValueString: fmt.Sprintf("E/M assumes patient status=%s (confidence=%v)",
			visit.AssumedPatientStatus, visit.Confidence),
	})
}

// appendProcedureItems duplicates every performed procedure into both
// Claim.procedure[] (own 1-based sequence) and Claim.item[] (shared
// sequence).
func appendProcedureItems(claim *fhir.Claim, encounterID, date string, procedures []catalog.Entry) {
	for i, p := range procedures {
		claim.Procedure = append(claim.Procedure, fhir.ClaimProcedure{
			Sequence:                 i + 1,
			Date:                     date,
			ProcedureCodeableConcept: fhir.Concept(p.System, p.Code, p.Display),
		})
		claim.Item = append(claim.Item, newClaimItem(claim, encounterID, date, p))
	}
}

func appendSupplyItems(claim *fhir.Claim, encounterID, date string, supplies []catalog.Entry) {
	for _, s := range supplies {
		claim.Item = append(claim.Item, newClaimItem(claim, encounterID, date, s))
	}
}

func newClaimItem(claim *fhir.Claim, encounterID, date string, entry catalog.Entry) fhir.ClaimItem {
	product := fhir.Concept(entry.System, entry.Code, entry.Display)
	product.Text = entry.Display

	return fhir.ClaimItem{
		Sequence:         len(claim.Item) + 1,
		ProductOrService: product,
		ServicedDate:     date,
		Encounter:        []fhir.Reference{*fhir.Ref("Encounter", encounterID)},
	}
}
