package field

import (
	"math"
	"sort"

	"github.com/orneryd/muninn/pkg/coords"
	"github.com/orneryd/muninn/pkg/spatial"
)

// Field is the ephemeral scoring region for one query.
type Field struct {
	Center coords.Coordinate `json:"center"`
	Radius float64           `json:"radius"`

	Shape   Shape   `json:"shape"`
	Falloff Falloff `json:"falloff"`

	Amplitude float64 `json:"amplitude"`
	Steepness float64 `json:"steepness"`

	MorphRate          float64 `json:"morph_rate"`
	ContextSensitivity float64 `json:"context_sensitivity"`
	ExplorationBias    float64 `json:"exploration_bias"`
}

// Shape modifier constants. These are part of the probability
// function's definition, not tunables: changing them re-ranks every
// query in flight.
const (
	ellipticalEccentricity = 0.5
	fractalGain            = 0.25
)

// fractalFreqs are the bands of the deterministic noise the fractal
// shape multiplies in. Incommensurate frequencies avoid visible
// periodicity inside the unit cube.
var fractalFreqs = [3]float64{3.1, 7.3, 13.7}

// Probability evaluates the field at a point. Zero outside the radius,
// always in [0, 1], and a pure function of (point, field).
func Probability(p coords.Coordinate, f Field) float64 {
	if f.Radius <= 0 {
		return 0
	}
	d := p.DistanceTo(f.Center)
	if d > f.Radius {
		return 0
	}

	k := f.Steepness
	var v float64
	switch f.Falloff {
	case FalloffPolynomial:
		v = f.Amplitude * math.Pow(1-d/f.Radius, k)
	case FalloffGaussian:
		sigma := f.Radius / (2 * k)
		if sigma <= 0 {
			return 0
		}
		v = f.Amplitude * math.Exp(-(d*d)/(2*sigma*sigma))
	case FalloffSigmoid:
		v = f.Amplitude / (1 + math.Exp((d-f.Radius/2)*k))
	default: // exponential
		v = f.Amplitude * math.Exp(-k*d)
	}

	v *= shapeMultiplier(p, f, d)
	return clamp01(v)
}

func shapeMultiplier(p coords.Coordinate, f Field, d float64) float64 {
	switch f.Shape {
	case ShapeElliptical:
		// Elongate along X: axis-aligned displacement keeps full score,
		// perpendicular displacement is damped.
		if d == 0 {
			return 1
		}
		align := math.Abs(p.X-f.Center.X) / d
		return (1 - ellipticalEccentricity) + ellipticalEccentricity*align
	case ShapeFractal:
		return 1 + fractalGain*fractalNoise(p)
	case ShapeAdaptive:
		// Sensitivity controls how steeply context distance discounts a
		// candidate. Zero sensitivity leaves the falloff untouched.
		cs := clamp01(f.ContextSensitivity)
		rel := d / f.Radius
		return 1 - cs*rel*rel
	default: // spherical
		return 1
	}
}

// fractalNoise is a band-limited deterministic signal over position,
// in [-1, 1].
func fractalNoise(p coords.Coordinate) float64 {
	t := p.X + 1.3*p.Y + 1.7*p.Z
	var n float64
	for i, freq := range fractalFreqs {
		n += math.Sin(freq*t + float64(i))
	}
	return n / float64(len(fractalFreqs))
}

// Scored is one ranked candidate.
type Scored struct {
	ID          string            `json:"id"`
	Point       coords.Coordinate `json:"point"`
	Distance    float64           `json:"distance"`
	Probability float64           `json:"probability"`
}

// Score evaluates the field over spatial matches and ranks the hits.
// Zero-probability candidates are dropped. Ordering is probability
// descending, then distance ascending, then ID, so equal scores stay
// deterministic across runs.
func Score(f Field, matches []spatial.Match) []Scored {
	out := make([]Scored, 0, len(matches))
	for _, m := range matches {
		prob := Probability(m.Point, f)
		if prob <= 0 {
			continue
		}
		out = append(out, Scored{ID: m.ID, Point: m.Point, Distance: m.Distance, Probability: prob})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Probability != out[j].Probability {
			return out[i].Probability > out[j].Probability
		}
		if out[i].Distance != out[j].Distance {
			return out[i].Distance < out[j].Distance
		}
		return out[i].ID < out[j].ID
	})
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
