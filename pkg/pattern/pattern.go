// Package pattern defines the data model for Muninn's pattern memory.
//
// A Pattern is the unit of memory: a semantic/structural unit of code
// intelligence discovered by an analysis front end, together with the
// harmonic profile that places it in coordinate space, the evidence that
// supports it, and the access statistics that drive tiering decisions.
package pattern

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/orneryd/muninn/pkg/coords"
)

// Category classifies the semantic family of a pattern.
//
// Categories are open-ended: analyzers may emit any label, and the
// coordinate hash treats the label as opaque text. The constants below
// cover the families the built-in analyzers produce.
type Category string

const (
	CategoryStructural  Category = "structural"
	CategoryBehavioral  Category = "behavioral"
	CategoryCreational  Category = "creational"
	CategoryConcurrency Category = "concurrency"
	CategoryDataFlow    Category = "dataflow"
	CategoryAuth        Category = "auth"
	CategoryErrorPath   Category = "error_handling"
	CategoryPerformance Category = "performance"
)

// HarmonicProfile is the semantic profile an analyzer attaches to a
// pattern. The coordinate of a pattern is a pure function of this
// profile (see coords.Generate): identical profiles always map to the
// same point, which is what produces semantic clustering.
type HarmonicProfile struct {
	Category    Category `json:"category"`
	Strength    float64  `json:"strength"`   // [0, 1]
	Confidence  float64  `json:"confidence"` // [0, 1]
	Complexity  float64  `json:"complexity"` // >= 0
	Occurrences int      `json:"occurrences"`
}

// Clamp returns a copy of the profile with all fields forced into their
// documented ranges. Analyzers are untrusted input; the engine never
// stores an out-of-range profile.
func (p HarmonicProfile) Clamp() HarmonicProfile {
	out := p
	out.Strength = clamp01(p.Strength)
	out.Confidence = clamp01(p.Confidence)
	if out.Complexity < 0 {
		out.Complexity = 0
	}
	if out.Occurrences < 1 {
		out.Occurrences = 1
	}
	return out
}

// CodeLocation points at the span of source code a pattern was observed in.
type CodeLocation struct {
	File      string `json:"file"`
	StartLine int    `json:"start_line"`
	StartCol  int    `json:"start_col,omitempty"`
	EndLine   int    `json:"end_line,omitempty"`
	EndCol    int    `json:"end_col,omitempty"`
}

// Evidence is one measurement supporting a pattern's existence.
type Evidence struct {
	Measurement float64 `json:"measurement"`
	Description string  `json:"description,omitempty"`
	Confidence  float64 `json:"confidence"`
}

// AccessStats tracks how a pattern has been used since creation.
// These are the only fields the engine mutates after ingestion.
type AccessStats struct {
	CreatedAt    time.Time `json:"created_at"`
	LastAccessed time.Time `json:"last_accessed"`
	AccessCount  int64     `json:"access_count"`
	// Relevance is a derived score in [0, 1], recomputed by the quality
	// scorer on each migration cycle. Stored for observability only.
	Relevance float64 `json:"relevance"`
}

// Pattern is a discovered unit of code intelligence.
//
// Lifecycle: created at ingestion with coordinate and initial tier
// assigned synchronously; mutated only through access-stat updates and
// tier reassignment; destroyed only by eviction policy or by being
// merged into another pattern during deduplication. The coordinate is
// derived from the profile and is never independently settable.
type Pattern struct {
	ID         string            `json:"id"`
	Coordinate coords.Coordinate `json:"coordinate"`

	// Content payload. Opaque to the engine beyond similarity checks.
	Title          string   `json:"title,omitempty"`
	Description    string   `json:"description,omitempty"`
	Classification string   `json:"classification,omitempty"`
	Tags           []string `json:"tags,omitempty"`
	Data           []byte   `json:"data,omitempty"`

	Profile HarmonicProfile `json:"profile"`

	Locations []CodeLocation `json:"locations,omitempty"`
	Evidence  []Evidence     `json:"evidence,omitempty"`

	// Relationship hints to other pattern IDs. Advisory only: the engine
	// does not enforce referential integrity over these.
	RelatedTo  []string `json:"related_to,omitempty"`
	Causes     []string `json:"causes,omitempty"`
	RequiredBy []string `json:"required_by,omitempty"`

	Access AccessStats `json:"access"`
}

// EnsureID assigns a fresh UUID when the pattern has no identifier.
func (p *Pattern) EnsureID() {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
}

// Touch records an access at the given time.
func (p *Pattern) Touch(now time.Time) {
	p.Access.LastAccessed = now
	p.Access.AccessCount++
}

// DeriveCoordinate recomputes the coordinate from the current profile.
// Call after any profile change; the coordinate is never set directly.
func (p *Pattern) DeriveCoordinate() {
	p.Coordinate = coords.Generate(
		string(p.Profile.Category),
		p.Profile.Strength,
		p.Profile.Complexity,
		p.Profile.Occurrences,
	)
}

// Clone returns a deep copy. Stores hand out clones so callers cannot
// mutate shared state.
func (p *Pattern) Clone() *Pattern {
	if p == nil {
		return nil
	}
	out := *p
	out.Tags = cloneStrings(p.Tags)
	out.RelatedTo = cloneStrings(p.RelatedTo)
	out.Causes = cloneStrings(p.Causes)
	out.RequiredBy = cloneStrings(p.RequiredBy)
	if p.Data != nil {
		out.Data = make([]byte, len(p.Data))
		copy(out.Data, p.Data)
	}
	if p.Locations != nil {
		out.Locations = make([]CodeLocation, len(p.Locations))
		copy(out.Locations, p.Locations)
	}
	if p.Evidence != nil {
		out.Evidence = make([]Evidence, len(p.Evidence))
		copy(out.Evidence, p.Evidence)
	}
	return &out
}

// Marshal encodes the pattern as JSON for storage payloads.
func (p *Pattern) Marshal() ([]byte, error) {
	return json.Marshal(p)
}

// Unmarshal decodes a stored payload back into a pattern.
func Unmarshal(data []byte) (*Pattern, error) {
	var p Pattern
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
