package store

import (
	"fmt"
	"log"
)

// SeedInstructions reconciles the hard-coded persona instructions into the
// store. Runs once at process start, never on the request path. Each seed
// text is inserted as hidden only when no instruction with that exact text
// exists; matching entries keep their current visibility. Returns the number
// of instructions added.
func (s *Store) SeedInstructions(texts []string) (int, error) {
	existing, err := s.ListInstructions()
	if err != nil {
		return 0, fmt.Errorf("seed instructions: %w", err)
	}

	byText := make(map[string]bool, len(existing))
	for _, ins := range existing {
		byText[ins.Text] = true
	}

	added := 0
	for _, text := range texts {
		if byText[text] {
			continue
		}
		if _, err := s.AddInstruction(text, true); err != nil {
			return added, fmt.Errorf("seed instruction %q: %w", text, err)
		}
		added++
	}

	if added > 0 {
		log.Printf("[store] seeded %d hidden instructions", added)
	}
	return added, nil
}
