package persona

import (
	"strings"
	"testing"
)

func TestCompile_Deterministic(t *testing.T) {
	facts := []string{"Born in Texas", "Collects snapbacks"}
	instructions := []string{"Loves tacos", "Always casual"}

	first := Compile(facts, instructions)
	second := Compile(facts, instructions)
	if first != second {
		t.Error("repeated compilation of the same snapshot differs")
	}
}

func TestCompile_SectionOrder(t *testing.T) {
	out := Compile([]string{"Born in Texas"}, []string{"Loves tacos"})

	preambleIdx := strings.Index(out, "You are Luis García")
	factsIdx := strings.Index(out, "=== Key Facts About You ===")
	instructionsIdx := strings.Index(out, "=== Strict Instructions ===")
	clarificationsIdx := strings.Index(out, "=== IMPORTANT Identity Clarifications ===")

	if preambleIdx != 0 {
		t.Errorf("preamble not first, index %d", preambleIdx)
	}
	if factsIdx < 0 || instructionsIdx < 0 || clarificationsIdx < 0 {
		t.Fatalf("missing section: facts=%d instructions=%d clarifications=%d", factsIdx, instructionsIdx, clarificationsIdx)
	}
	if !(factsIdx < instructionsIdx && instructionsIdx < clarificationsIdx) {
		t.Errorf("sections out of order: facts=%d instructions=%d clarifications=%d", factsIdx, instructionsIdx, clarificationsIdx)
	}
	if !strings.Contains(out, "- Born in Texas\n") {
		t.Error("fact bullet missing")
	}
	if !strings.Contains(out, "- Loves tacos\n") {
		t.Error("instruction bullet missing")
	}
}

func TestCompile_ClarificationsAlwaysLast(t *testing.T) {
	tests := []struct {
		name         string
		facts        []string
		instructions []string
	}{
		{"empty stores", nil, nil},
		{"facts only", []string{"f"}, nil},
		{"instructions only", nil, []string{"i"}},
		{"both", []string{"f"}, []string{"i"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := Compile(tt.facts, tt.instructions)
			if !strings.HasSuffix(out, "- Do NOT mention being an AI or language model. Respond naturally within the defined persona.\n") {
				t.Errorf("clarifications not last:\n%s", out)
			}
		})
	}
}

func TestCompile_EmptySectionsOmitted(t *testing.T) {
	out := Compile(nil, nil)
	if strings.Contains(out, "=== Key Facts About You ===") {
		t.Error("empty fact set still rendered a Key Facts section")
	}
	if strings.Contains(out, "=== Strict Instructions ===") {
		t.Error("empty instruction set still rendered a Strict Instructions section")
	}
	if !strings.Contains(out, "=== IMPORTANT Identity Clarifications ===") {
		t.Error("clarifications must always be present")
	}
}

func TestCompile_WhitespaceTextEmittedVerbatim(t *testing.T) {
	// validation happens before the store; the compiler never drops entries
	out := Compile([]string{"   "}, nil)
	if !strings.Contains(out, "=== Key Facts About You ===\n- \n") {
		t.Errorf("whitespace-only fact should still emit a bullet:\n%s", out)
	}
}

func TestCompile_InstructionOrderPreserved(t *testing.T) {
	out := Compile(nil, []string{"first", "second", "third"})
	a := strings.Index(out, "- first")
	b := strings.Index(out, "- second")
	c := strings.Index(out, "- third")
	if !(a < b && b < c) {
		t.Errorf("instruction order not preserved: %d %d %d", a, b, c)
	}
}
