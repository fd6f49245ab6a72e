// Package field builds and evaluates probability fields: ephemeral,
// query-scoped scoring regions that rank candidate patterns by distance
// and context instead of exact match.
//
// A field is constructed per query from the caller's intent, applied to
// candidates fetched from the spatial index, and discarded. Nothing in
// this package is persisted.
package field

import (
	"errors"
	"fmt"
	"time"

	"github.com/orneryd/muninn/pkg/pattern"
)

// ErrInvalidIntent marks malformed query parameters. Intents are
// validated synchronously before any storage I/O happens.
var ErrInvalidIntent = errors.New("invalid intent")

// QueryType selects the base geometry of the field.
type QueryType string

const (
	// Precision targets exact recall: a small, sharply cut field.
	Precision QueryType = "precision"
	// Discovery targets breadth: a wide field with gentle falloff.
	Discovery QueryType = "discovery"
	// Creative targets serendipity: randomized geometry and noisy shape.
	Creative QueryType = "creative"
)

// Intent is the caller's description of what a query should optimize
// for.
type Intent struct {
	Type QueryType `json:"type"`

	// Signature places the field center. When absent the engine samples
	// a uniform random center, which turns the query into exploration.
	Signature *pattern.HarmonicProfile `json:"signature,omitempty"`

	// Confidence is how sure the caller is about the signature, in
	// [0, 1]. Low confidence widens the field, high confidence narrows
	// it.
	Confidence float64 `json:"confidence"`

	// Exploration is the desire for far-afield results, in [0, 1].
	Exploration float64 `json:"exploration"`

	// Urgency is the caller's time budget. Zero means unconstrained.
	// Tight budgets narrow the field, trading recall for latency.
	Urgency time.Duration `json:"urgency,omitempty"`

	// Limit caps the number of ranked results. Zero lets the facade
	// apply its default.
	Limit int `json:"limit"`
}

// Validate rejects malformed intents. All failures wrap
// ErrInvalidIntent.
func (i Intent) Validate() error {
	switch i.Type {
	case Precision, Discovery, Creative:
	default:
		return fmt.Errorf("%w: unknown query type %q", ErrInvalidIntent, i.Type)
	}
	if i.Confidence < 0 || i.Confidence > 1 {
		return fmt.Errorf("%w: confidence %v outside [0, 1]", ErrInvalidIntent, i.Confidence)
	}
	if i.Exploration < 0 || i.Exploration > 1 {
		return fmt.Errorf("%w: exploration %v outside [0, 1]", ErrInvalidIntent, i.Exploration)
	}
	if i.Urgency < 0 {
		return fmt.Errorf("%w: negative urgency", ErrInvalidIntent)
	}
	if i.Limit < 0 {
		return fmt.Errorf("%w: negative limit", ErrInvalidIntent)
	}
	return nil
}

// Shape tags the field's geometry modifier.
type Shape string

const (
	ShapeSpherical  Shape = "spherical"
	ShapeElliptical Shape = "elliptical"
	ShapeFractal    Shape = "fractal"
	ShapeAdaptive   Shape = "adaptive"
)

// Falloff tags how probability decays with distance from the center.
type Falloff string

const (
	FalloffExponential Falloff = "exponential"
	FalloffPolynomial  Falloff = "polynomial"
	FalloffGaussian    Falloff = "gaussian"
	FalloffSigmoid     Falloff = "sigmoid"
)
