package catalog

import (
	"testing"

	fhir "github.com/gooclaim/coding-engine/internal/fhir/r4"
)

func TestProcedureEntries(t *testing.T) {
	tests := []struct {
		concept Concept
		code    string
	}{
		{ChestXRaySingleView, "71045"},
		{ChestXRayTwoViews, "71046"},
		{OfficeVisitLowMDM, "99213"},
		{NebulizerTreatment, "94640"},
		{TherapeuticInjection, "96372"},
	}

	for _, tt := range tests {
		entry := Procedure(tt.concept)
		if entry.Code != tt.code {
			t.Errorf("Procedure(%s).Code = %s, want %s", tt.concept, entry.Code, tt.code)
		}
		if entry.System != fhir.SystemCPT {
			t.Errorf("Procedure(%s).System = %s, want CPT", tt.concept, entry.System)
		}
		if entry.Display == "" {
			t.Errorf("Procedure(%s) missing display", tt.concept)
		}
	}
}

func TestSupplyEntries(t *testing.T) {
	tests := []struct {
		concept Concept
		code    string
	}{
		{AlbuterolNeb, "J7613"},
		{CeftriaxoneInj, "J0696"},
		{DexamethasoneInj, "J1100"},
	}

	for _, tt := range tests {
		entry := Supply(tt.concept)
		if entry.Code != tt.code {
			t.Errorf("Supply(%s).Code = %s, want %s", tt.concept, entry.Code, tt.code)
		}
		if entry.System != fhir.SystemHCPCS {
			t.Errorf("Supply(%s).System = %s, want HCPCS", tt.concept, entry.System)
		}
	}
}

func TestUnknownConceptYieldsZeroEntry(t *testing.T) {
	if entry := Procedure("no-such-concept"); entry != (Entry{}) {
		t.Errorf("expected zero entry, got %+v", entry)
	}
	if entry := Supply(ChestXRaySingleView); entry != (Entry{}) {
		t.Errorf("procedure concepts are not supplies, got %+v", entry)
	}
}

func TestAccessorsReturnCopies(t *testing.T) {
	first := Procedure(NebulizerTreatment)
	first.Code = "mutated"

	if second := Procedure(NebulizerTreatment); second.Code != "94640" {
		t.Error("mutating a returned entry must not affect the catalog")
	}
}
