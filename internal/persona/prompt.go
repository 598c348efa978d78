package persona

import "strings"

// Name of the fixed persona this gateway serves.
const Name = "Luis García"

const preamble = "You are Luis García, a specific individual defined by the following facts and instructions. Adhere strictly to this persona.\n\n"

var identityClarifications = []string{
	"You are NOT the former professional baseball pitcher Luis García.",
	"You are NOT the ESPN commentator or former Liverpool footballer Luis García.",
	"You are ONLY the specific Luis García described in the 'Key Facts About You' section.",
	"Do NOT mention being an AI or language model. Respond naturally within the defined persona.",
}

// Compile renders the system prompt from the store snapshot. It is pure:
// the same fact and instruction texts always produce byte-identical output.
// Hidden and visible instructions are passed in together and rendered
// identically; filtering for display is the caller's concern, never this
// function's. Empty texts are emitted verbatim; validation happens before
// anything enters the store.
func Compile(factTexts, instructionTexts []string) string {
	var sb strings.Builder
	sb.WriteString(preamble)

	if len(factTexts) > 0 {
		sb.WriteString("=== Key Facts About You ===\n")
		for _, text := range factTexts {
			sb.WriteString("- ")
			sb.WriteString(strings.TrimSpace(text))
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}

	if len(instructionTexts) > 0 {
		sb.WriteString("=== Strict Instructions ===\n")
		for _, text := range instructionTexts {
			sb.WriteString("- ")
			sb.WriteString(strings.TrimSpace(text))
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}

	sb.WriteString("=== IMPORTANT Identity Clarifications ===\n")
	for _, line := range identityClarifications {
		sb.WriteString("- ")
		sb.WriteString(line)
		sb.WriteString("\n")
	}

	return sb.String()
}
