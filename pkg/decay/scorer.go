// Package decay computes pattern quality scores and tracks their trend
// over time.
//
// The quality score drives tier placement: a weighted blend of the
// pattern's harmonic profile multiplied by a recency decay on access
// time. Raw scores are noisy (a single access bumps recency hard), so a
// lightweight scalar filter smooths each pattern's score series and
// tracks its velocity. The tier router uses the smoothed score for band
// placement and the velocity to hold off demoting a pattern that is
// heating back up.
package decay

import (
	"math"
	"time"

	"github.com/orneryd/muninn/pkg/pattern"
)

// Weights configures the quality blend. Values are normalized by their
// sum, so only ratios matter.
type Weights struct {
	Strength    float64 `yaml:"strength"`
	Confidence  float64 `yaml:"confidence"`
	Complexity  float64 `yaml:"complexity"`
	Occurrences float64 `yaml:"occurrences"`
}

// ScorerConfig holds the scoring tunables. Defaults are operating
// points, not derived constants.
type ScorerConfig struct {
	Weights Weights `yaml:"weights"`

	// ComplexityRef is the complexity treated as "fully complex"; the
	// complexity term saturates there.
	ComplexityRef float64 `yaml:"complexity_ref"`

	// OccurrenceSaturation is the occurrence count at which the
	// occurrence term reaches 1. The term grows logarithmically.
	OccurrenceSaturation int `yaml:"occurrence_saturation"`

	// RecencyHalfLife is the idle time that halves the recency
	// multiplier.
	RecencyHalfLife time.Duration `yaml:"recency_half_life"`

	// RecencyFloor bounds the recency multiplier from below so old but
	// strong patterns never score exactly zero.
	RecencyFloor float64 `yaml:"recency_floor"`
}

// DefaultScorerConfig returns the shipped tuning.
func DefaultScorerConfig() ScorerConfig {
	return ScorerConfig{
		Weights: Weights{
			Strength:    0.35,
			Confidence:  0.25,
			Complexity:  0.15,
			Occurrences: 0.25,
		},
		ComplexityRef:        10,
		OccurrenceSaturation: 100,
		RecencyHalfLife:      7 * 24 * time.Hour,
		RecencyFloor:         0.1,
	}
}

// Scorer computes raw quality scores. Stateless and safe for concurrent
// use.
type Scorer struct {
	cfg       ScorerConfig
	weightSum float64
}

// NewScorer builds a scorer. Non-positive weight sums and zero
// reference values fall back to defaults.
func NewScorer(cfg ScorerConfig) *Scorer {
	def := DefaultScorerConfig()
	sum := cfg.Weights.Strength + cfg.Weights.Confidence + cfg.Weights.Complexity + cfg.Weights.Occurrences
	if sum <= 0 {
		cfg.Weights = def.Weights
		sum = def.Weights.Strength + def.Weights.Confidence + def.Weights.Complexity + def.Weights.Occurrences
	}
	if cfg.ComplexityRef <= 0 {
		cfg.ComplexityRef = def.ComplexityRef
	}
	if cfg.OccurrenceSaturation <= 1 {
		cfg.OccurrenceSaturation = def.OccurrenceSaturation
	}
	if cfg.RecencyHalfLife <= 0 {
		cfg.RecencyHalfLife = def.RecencyHalfLife
	}
	if cfg.RecencyFloor < 0 || cfg.RecencyFloor > 1 {
		cfg.RecencyFloor = def.RecencyFloor
	}
	return &Scorer{cfg: cfg, weightSum: sum}
}

// Score computes the quality score at the given time, in [0, 1].
//
// The profile blend is strength, confidence, saturating complexity and
// log-saturating occurrences; the blend is then multiplied by a recency
// factor that halves per configured half-life of idle time, floored so
// age alone cannot zero a pattern out.
func (s *Scorer) Score(profile pattern.HarmonicProfile, access pattern.AccessStats, now time.Time) float64 {
	p := profile.Clamp()

	complexity := math.Min(p.Complexity/s.cfg.ComplexityRef, 1)
	occurrences := math.Min(
		math.Log1p(float64(p.Occurrences))/math.Log1p(float64(s.cfg.OccurrenceSaturation)),
		1,
	)

	w := s.cfg.Weights
	base := (w.Strength*p.Strength +
		w.Confidence*p.Confidence +
		w.Complexity*complexity +
		w.Occurrences*occurrences) / s.weightSum

	return clamp01(base * s.recency(access, now))
}

// Recency returns the decay multiplier alone, for observability.
func (s *Scorer) Recency(access pattern.AccessStats, now time.Time) float64 {
	return s.recency(access, now)
}

func (s *Scorer) recency(access pattern.AccessStats, now time.Time) float64 {
	last := access.LastAccessed
	if last.IsZero() {
		last = access.CreatedAt
	}
	if last.IsZero() || !now.After(last) {
		return 1
	}
	idle := now.Sub(last)
	mult := math.Exp(-math.Ln2 * float64(idle) / float64(s.cfg.RecencyHalfLife))
	if mult < s.cfg.RecencyFloor {
		return s.cfg.RecencyFloor
	}
	return mult
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
