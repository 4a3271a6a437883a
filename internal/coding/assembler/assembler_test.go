package assembler

import (
	"fmt"
	"strings"
	"testing"

	"github.com/gooclaim/coding-engine/internal/coding/detector"
	fhir "github.com/gooclaim/coding-engine/internal/fhir/r4"
	"github.com/gooclaim/coding-engine/internal/intake"
)

func sampleEnvelope() *intake.Envelope {
	return &intake.Envelope{
		ClaimID: "CLM-2024-0001",
		Patient: &intake.Patient{
			MRN:       "MRN-1001",
			LastName:  "Rivera",
			FirstName: "Sam",
			Sex:       "F",
			DOB:       "1988-04-12",
			PayerName: "Acme Health",
		},
		Encounter: &intake.Encounter{
			Date:        "2024-06-03",
			LocationNPI: "1234567890",
			ProviderNPI: "0987654321",
		},
		ClinicalNote: &intake.ClinicalNote{TextPreview: "Cough with wheezing and fever. Nebulizer treatment administered with albuterol."},
		Meta:         &intake.Meta{Source: "hl7v2-adt"},
	}
}

func sampleResult() detector.Result {
	return detector.Detect(sampleEnvelope())
}

func TestAssembleBundleShape(t *testing.T) {
	env := sampleEnvelope()
	result := sampleResult()

	bundle := Assemble(env, result)

	if bundle.ResourceType != "Bundle" || bundle.Type != "collection" {
		t.Errorf("unexpected bundle envelope: %s/%s", bundle.ResourceType, bundle.Type)
	}
	if !strings.HasPrefix(bundle.ID, "bundle-") {
		t.Errorf("bundle ID prefix missing: %s", bundle.ID)
	}

	wantEntries := 3 + len(result.Diagnoses)
	if len(bundle.Entry) != wantEntries {
		t.Fatalf("entry count = %d, want %d", len(bundle.Entry), wantEntries)
	}
	if bundle.Patient() == nil || bundle.Encounter() == nil || bundle.Claim() == nil {
		t.Fatal("bundle missing a core resource")
	}
	if got := len(bundle.Conditions()); got != len(result.Diagnoses) {
		t.Errorf("condition count = %d, want %d", got, len(result.Diagnoses))
	}
}

func TestAssembleReferencesResolveInBundle(t *testing.T) {
	bundle := Assemble(sampleEnvelope(), sampleResult())

	ids := map[string]bool{}
	ids["Patient/"+bundle.Patient().ID] = true
	ids["Encounter/"+bundle.Encounter().ID] = true
	ids["Claim/"+bundle.Claim().ID] = true
	for _, c := range bundle.Conditions() {
		ids["Condition/"+c.ID] = true
	}

	check := func(what string, ref *fhir.Reference) {
		t.Helper()
		if ref == nil || ref.Reference == "" {
			t.Errorf("%s reference missing", what)
			return
		}
		if !ids[ref.Reference] {
			t.Errorf("%s references %s which is not in the bundle", what, ref.Reference)
		}
	}

	check("encounter.subject", bundle.Encounter().Subject)
	claim := bundle.Claim()
	check("claim.patient", claim.Patient)
	for i, d := range claim.Diagnosis {
		check(fmt.Sprintf("claim.diagnosis[%d]", i), d.DiagnosisReference)
	}
	for i, item := range claim.Item {
		if len(item.Encounter) != 1 {
			t.Errorf("claim.item[%d] missing encounter reference", i)
			continue
		}
		check(fmt.Sprintf("claim.item[%d].encounter", i), &item.Encounter[0])
	}
	for i, c := range bundle.Conditions() {
		check(fmt.Sprintf("condition[%d].subject", i), c.Subject)
		check(fmt.Sprintf("condition[%d].encounter", i), c.Encounter)
	}
}

func TestAssembleItemSequencing(t *testing.T) {
	result := sampleResult()
	bundle := Assemble(sampleEnvelope(), result)
	claim := bundle.Claim()

	wantItems := 1 + len(result.Procedures) + len(result.Supplies)
	if len(claim.Item) != wantItems {
		t.Fatalf("item count = %d, want %d", len(claim.Item), wantItems)
	}
	for i, item := range claim.Item {
		if item.Sequence != i+1 {
			t.Errorf("item[%d].sequence = %d, want %d", i, item.Sequence, i+1)
		}
		if item.ServicedDate != "2024-06-03" {
			t.Errorf("item[%d].servicedDate = %q", i, item.ServicedDate)
		}
	}

	// Visit line first, then procedures, then supplies.
	if claim.Item[0].ProductOrService.Coding[0].Code != result.VisitCode.Code {
		t.Errorf("item[0] is not the E/M line: %+v", claim.Item[0].ProductOrService)
	}
	for i, p := range result.Procedures {
		if claim.Item[1+i].ProductOrService.Coding[0].Code != p.Code {
			t.Errorf("item[%d] code mismatch for procedure %s", 1+i, p.Code)
		}
	}
	for i, s := range result.Supplies {
		idx := 1 + len(result.Procedures) + i
		if claim.Item[idx].ProductOrService.Coding[0].Code != s.Code {
			t.Errorf("item[%d] code mismatch for supply %s", idx, s.Code)
		}
	}
}

func TestAssembleProcedureSequencingIsIndependent(t *testing.T) {
	result := sampleResult()
	claim := Assemble(sampleEnvelope(), result).Claim()

	if len(claim.Procedure) != len(result.Procedures) {
		t.Fatalf("procedure count = %d, want %d", len(claim.Procedure), len(result.Procedures))
	}
	for i, p := range claim.Procedure {
		if p.Sequence != i+1 {
			t.Errorf("procedure[%d].sequence = %d, want %d", i, p.Sequence, i+1)
		}
		if p.Date != "2024-06-03" {
			t.Errorf("procedure[%d].date = %q", i, p.Date)
		}
	}
}

func TestAssemblePrincipalDiagnosisTyping(t *testing.T) {
	claim := Assemble(sampleEnvelope(), sampleResult()).Claim()

	principal := claim.PrincipalDiagnosis()
	if principal == nil {
		t.Fatal("no principal diagnosis on claim")
	}
	if principal.Sequence != 1 {
		t.Errorf("principal sequence = %d, want 1", principal.Sequence)
	}
	for _, d := range claim.Diagnosis[1:] {
		if len(d.Type) != 1 || d.Type[0].Coding[0].Code != "additional" {
			t.Errorf("diagnosis %d not typed additional: %+v", d.Sequence, d.Type)
		}
	}
}

func TestAssembleConditionAnnotations(t *testing.T) {
	result := sampleResult()
	bundle := Assemble(sampleEnvelope(), result)

	for i, c := range bundle.Conditions() {
		d := result.Diagnoses[i]
		want := fmt.Sprintf("rank=%d, confidence=%v, rationale=%s", d.Rank, d.Confidence, d.Rationale)
		if len(c.Note) != 1 || c.Note[0].Text != want {
			t.Errorf("condition[%d] note = %v, want %q", i, c.Note, want)
		}
		if c.VerificationStatus.Coding[0].Code != "confirmed" {
			t.Errorf("condition[%d] not confirmed", i)
		}
		if c.ClinicalStatus.Coding[0].Code != "active" {
			t.Errorf("condition[%d] not active", i)
		}
	}
}

func TestAssembleSupportingInfoEcho(t *testing.T) {
	result := sampleResult()
	claim := Assemble(sampleEnvelope(), result).Claim()

	if len(claim.SupportingInfo) != 1 {
		t.Fatalf("supportingInfo count = %d, want 1", len(claim.SupportingInfo))
	}
	want := fmt.Sprintf("E/M assumes patient status=%s (confidence=%v)",
		result.VisitCode.AssumedPatientStatus, result.VisitCode.Confidence)
	if claim.SupportingInfo[0].ValueString != want {
		t.Errorf("supportingInfo = %q, want %q", claim.SupportingInfo[0].ValueString, want)
	}
}

func TestAssembleTraceabilityExtension(t *testing.T) {
	claim := Assemble(sampleEnvelope(), sampleResult()).Claim()

	if len(claim.Extension) != 1 || claim.Extension[0].URL != MetaExtensionURL {
		t.Fatalf("missing meta extension: %+v", claim.Extension)
	}
	values := map[string]string{}
	for _, nested := range claim.Extension[0].Extension {
		values[nested.URL] = nested.ValueString
	}
	if values["claim_id_input"] != "CLM-2024-0001" {
		t.Errorf("claim_id_input = %q", values["claim_id_input"])
	}
	if values["source"] != "hl7v2-adt" {
		t.Errorf("source = %q", values["source"])
	}
}

func TestAssembleClaimIDInputFallsBackToGeneratedID(t *testing.T) {
	env := sampleEnvelope()
	env.ClaimID = ""

	claim := Assemble(env, sampleResult()).Claim()

	var got string
	for _, nested := range claim.Extension[0].Extension {
		if nested.URL == "claim_id_input" {
			got = nested.ValueString
		}
	}
	if got != claim.ID {
		t.Errorf("claim_id_input = %q, want generated claim ID %q", got, claim.ID)
	}
}

func TestAssembleGenderMapping(t *testing.T) {
	tests := []struct {
		sex  string
		want string
	}{
		{"M", "male"},
		{"m", "male"},
		{"F", "female"},
		{"f", "female"},
		{"X", "unknown"},
		{"", "unknown"},
	}

	for _, tt := range tests {
		env := sampleEnvelope()
		env.Patient.Sex = tt.sex
		bundle := Assemble(env, detector.Result{})
		if got := bundle.Patient().Gender; got != tt.want {
			t.Errorf("sex %q mapped to %q, want %q", tt.sex, got, tt.want)
		}
	}
}

func TestAssembleEmptyEnvelope(t *testing.T) {
	bundle := Assemble(&intake.Envelope{}, detector.Result{})

	if len(bundle.Entry) != 3 {
		t.Fatalf("empty envelope should still yield patient+encounter+claim, got %d entries", len(bundle.Entry))
	}

	patient := bundle.Patient()
	if patient.GetMRN() != "" || patient.Gender != "unknown" {
		t.Errorf("unexpected patient defaults: %+v", patient)
	}

	enc := bundle.Encounter()
	if enc.Status != "finished" {
		t.Errorf("encounter status = %q, want finished", enc.Status)
	}
	if enc.Period == nil || enc.Period.Start != "" || enc.Period.End != "" {
		t.Errorf("absent encounter date should yield empty period: %+v", enc.Period)
	}

	claim := bundle.Claim()
	if claim.Status != "active" || claim.Use != "claim" {
		t.Errorf("unexpected claim defaults: status=%s use=%s", claim.Status, claim.Use)
	}
	if len(claim.Item) != 0 {
		t.Errorf("empty result should yield no items, got %d", len(claim.Item))
	}
	if claim.PrincipalDiagnosis() != nil {
		t.Error("empty result should yield no principal diagnosis")
	}
}

func TestAssembleNilEnvelope(t *testing.T) {
	bundle := Assemble(nil, detector.Result{})

	if len(bundle.Entry) != 3 {
		t.Fatalf("nil envelope should still yield patient+encounter+claim, got %d entries", len(bundle.Entry))
	}
	if bundle.Patient().Gender != "unknown" {
		t.Errorf("patient gender = %q, want unknown", bundle.Patient().Gender)
	}

	var got string
	for _, nested := range bundle.Claim().Extension[0].Extension {
		if nested.URL == "claim_id_input" {
			got = nested.ValueString
		}
	}
	if got != bundle.Claim().ID {
		t.Errorf("claim_id_input = %q, want generated claim ID %q", got, bundle.Claim().ID)
	}
}

func TestAssembleIDsAreFreshPerCall(t *testing.T) {
	env := sampleEnvelope()
	result := sampleResult()

	first := Assemble(env, result)
	second := Assemble(env, result)

	if first.ID == second.ID {
		t.Error("bundle IDs must differ across calls")
	}
	if first.Patient().ID == second.Patient().ID {
		t.Error("patient IDs must differ across calls")
	}
	if first.Claim().ID == second.Claim().ID {
		t.Error("claim IDs must differ across calls")
	}
}

func TestAssembleIDPrefixes(t *testing.T) {
	bundle := Assemble(sampleEnvelope(), sampleResult())

	if !strings.HasPrefix(bundle.Patient().ID, "pat-") {
		t.Errorf("patient ID = %s", bundle.Patient().ID)
	}
	if !strings.HasPrefix(bundle.Encounter().ID, "enc-") {
		t.Errorf("encounter ID = %s", bundle.Encounter().ID)
	}
	if !strings.HasPrefix(bundle.Claim().ID, "clm-") {
		t.Errorf("claim ID = %s", bundle.Claim().ID)
	}
	for _, c := range bundle.Conditions() {
		if !strings.HasPrefix(c.ID, "cond-") {
			t.Errorf("condition ID = %s", c.ID)
		}
	}
}
