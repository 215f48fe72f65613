// Package strategy orders recovery techniques by how well they have worked on a site.
//
// Every attempt of a technique against a site fingerprint records one sample
// (success flag and duration) in a StatStore. The Selector ranks techniques with
// history by success rate, then by average duration, and appends techniques with
// no history in the default order.
package strategy

import (
	"fmt"
	"strings"
)

// Technique is one of the fixed recovery techniques.
type Technique int

// Techniques in default order.
const (
	// TechniqueAgent hands the task to an autonomous browsing agent.
	TechniqueAgent Technique = iota

	// TechniqueActThenExtract performs page actions before extracting.
	TechniqueActThenExtract

	// TechniqueRefinedExtract retries extraction with a refined instruction.
	TechniqueRefinedExtract

	// TechniquePageAnalysis analyzes the page structure to guide extraction.
	TechniquePageAnalysis
)

// NumTechniques is the size of the technique universe.
const NumTechniques = int(TechniquePageAnalysis) + 1

var techniqueNames = [NumTechniques]string{
	TechniqueAgent:          "agent",
	TechniqueActThenExtract: "act-then-extract",
	TechniqueRefinedExtract: "refined-extract",
	TechniquePageAnalysis:   "page-analysis",
}

// DefaultOrder returns all techniques in default order.
func DefaultOrder() []Technique {
	out := make([]Technique, NumTechniques)
	for i := range out {
		out[i] = Technique(i)
	}
	return out
}

// Valid reports whether t is a known technique.
func (t Technique) Valid() bool {
	return t >= 0 && int(t) < NumTechniques
}

func (t Technique) String() string {
	if !t.Valid() {
		return fmt.Sprintf("technique(%d)", int(t))
	}
	return techniqueNames[t]
}

// MarshalText implements encoding.TextMarshaler.
func (t Technique) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("invalid technique %d", int(t))
	}
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *Technique) UnmarshalText(b []byte) error {
	parsed, err := ParseTechnique(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// ParseTechnique returns the technique with the given name.
func ParseTechnique(name string) (Technique, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for i, n := range techniqueNames {
		if n == name {
			return Technique(i), nil
		}
	}
	return 0, fmt.Errorf("unknown technique %q", name)
}
