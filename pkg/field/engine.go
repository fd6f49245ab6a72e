package field

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/orneryd/muninn/pkg/coords"
)

// Config holds the field-geometry tunables. The numeric defaults are
// starting points, not derived truths; operators tune them per corpus.
type Config struct {
	// Base geometry per query type.
	PrecisionRadius    float64 `yaml:"precision_radius"`
	PrecisionShrink    float64 `yaml:"precision_shrink"` // radius reduction at full confidence
	PrecisionSteepness float64 `yaml:"precision_steepness"`
	DiscoveryRadius    float64 `yaml:"discovery_radius"`
	DiscoverySteepness float64 `yaml:"discovery_steepness"`
	CreativeRadiusMin  float64 `yaml:"creative_radius_min"`
	CreativeRadiusMax  float64 `yaml:"creative_radius_max"`
	CreativeSteepness  float64 `yaml:"creative_steepness"`

	// Adaptive radius adjustments.
	LowConfidence        float64       `yaml:"low_confidence"`
	LowConfidenceWiden   float64       `yaml:"low_confidence_widen"`
	HighConfidence       float64       `yaml:"high_confidence"`
	HighConfidenceNarrow float64       `yaml:"high_confidence_narrow"`
	TightBudget          time.Duration `yaml:"tight_budget"`
	TightBudgetNarrow    float64       `yaml:"tight_budget_narrow"`
	HighHitRate          float64       `yaml:"high_hit_rate"`
	HighHitRateNarrow    float64       `yaml:"high_hit_rate_narrow"`
	LowHitRate           float64       `yaml:"low_hit_rate"`
	LowHitRateWiden      float64       `yaml:"low_hit_rate_widen"`
	FeedbackWindow       int           `yaml:"feedback_window"`

	// Radius clamps applied after all adjustments.
	MinRadius float64 `yaml:"min_radius"`
	MaxRadius float64 `yaml:"max_radius"`

	// Session dynamics. Zero rates disable the behavior.
	MorphRate        float64       `yaml:"morph_rate"`
	BreatheAmplitude float64       `yaml:"breathe_amplitude"`
	BreathePeriod    time.Duration `yaml:"breathe_period"`
	PulseBoost       float64       `yaml:"pulse_boost"`
	PulsePeriod      time.Duration `yaml:"pulse_period"`

	// Seed fixes the random stream. Zero seeds from the clock.
	Seed int64 `yaml:"seed"`
}

// DefaultConfig returns the tuning the engine ships with.
func DefaultConfig() Config {
	return Config{
		PrecisionRadius:    0.15,
		PrecisionShrink:    0.4,
		PrecisionSteepness: 8,
		DiscoveryRadius:    0.45,
		DiscoverySteepness: 2,
		CreativeRadiusMin:  0.3,
		CreativeRadiusMax:  0.9,
		CreativeSteepness:  2,

		LowConfidence:        0.3,
		LowConfidenceWiden:   1.5,
		HighConfidence:       0.8,
		HighConfidenceNarrow: 0.7,
		TightBudget:          100 * time.Millisecond,
		TightBudgetNarrow:    0.8,
		HighHitRate:          0.9,
		HighHitRateNarrow:    0.85,
		LowHitRate:           0.5,
		LowHitRateWiden:      1.25,
		FeedbackWindow:       32,

		MinRadius: 0.02,
		MaxRadius: 1.5,

		MorphRate:     0.15,
		BreathePeriod: 30 * time.Second,
		PulsePeriod:   10 * time.Second,
	}
}

// Engine turns intents into fields. It carries per-session state: the
// random stream, the recent hit-rate window, and the previous field for
// morphing. Safe for concurrent use.
type Engine struct {
	cfg Config
	log *zap.Logger

	mu         sync.Mutex
	rng        *rand.Rand
	started    time.Time
	outcomes   []bool
	outcomeIdx int
	outcomeN   int
	lastCenter coords.Coordinate
	hasLast    bool
}

// NewEngine builds an engine. A nil logger disables logging.
func NewEngine(cfg Config, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	window := cfg.FeedbackWindow
	if window <= 0 {
		window = DefaultConfig().FeedbackWindow
	}
	return &Engine{
		cfg:      cfg,
		log:      log,
		rng:      rand.New(rand.NewSource(seed)),
		started:  time.Now(),
		outcomes: make([]bool, window),
	}
}

// Generate builds the field for an intent. Invalid intents fail before
// any geometry is computed.
func (e *Engine) Generate(intent Intent) (Field, error) {
	return e.GenerateAt(intent, time.Now())
}

// GenerateAt is Generate with an explicit clock, for session-dynamics
// tests.
func (e *Engine) GenerateAt(intent Intent, now time.Time) (Field, error) {
	if err := intent.Validate(); err != nil {
		return Field{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	f := e.baseField(intent)
	e.adjustRadius(&f, intent)
	e.morph(&f)
	e.modulate(&f, now.Sub(e.started))

	f.Radius = math.Min(math.Max(f.Radius, e.cfg.MinRadius), e.cfg.MaxRadius)
	e.lastCenter = f.Center
	e.hasLast = true

	e.log.Debug("field generated",
		zap.String("type", string(intent.Type)),
		zap.String("shape", string(f.Shape)),
		zap.String("falloff", string(f.Falloff)),
		zap.Float64("radius", f.Radius),
		zap.Float64("amplitude", f.Amplitude),
	)
	return f, nil
}

func (e *Engine) baseField(intent Intent) Field {
	f := Field{
		Amplitude:          1,
		MorphRate:          e.cfg.MorphRate,
		ContextSensitivity: intent.Confidence,
		ExplorationBias:    intent.Exploration,
	}

	if intent.Signature != nil {
		sig := intent.Signature.Clamp()
		f.Center = coords.Generate(string(sig.Category), sig.Strength, sig.Complexity, sig.Occurrences)
	} else {
		// No signature to anchor on: explore from a uniform random
		// center.
		f.Center = coords.Coordinate{
			X: e.rng.Float64()*2 - 1,
			Y: e.rng.Float64()*2 - 1,
			Z: e.rng.Float64()*2 - 1,
		}
	}

	switch intent.Type {
	case Precision:
		f.Radius = e.cfg.PrecisionRadius * (1 - e.cfg.PrecisionShrink*intent.Confidence)
		f.Shape = ShapeSpherical
		f.Falloff = FalloffExponential
		f.Steepness = e.cfg.PrecisionSteepness
	case Discovery:
		f.Radius = e.cfg.DiscoveryRadius * (1 + intent.Exploration)
		f.Shape = ShapeElliptical
		f.Falloff = FalloffPolynomial
		f.Steepness = e.cfg.DiscoverySteepness
	case Creative:
		span := e.cfg.CreativeRadiusMax - e.cfg.CreativeRadiusMin
		f.Radius = e.cfg.CreativeRadiusMin + e.rng.Float64()*span
		f.Amplitude = 0.6 + e.rng.Float64()*0.4
		f.Shape = ShapeFractal
		f.Falloff = FalloffGaussian
		f.Steepness = e.cfg.CreativeSteepness
	}
	return f
}

// adjustRadius applies the context adjustments: confidence band,
// urgency budget, and session hit-rate feedback.
func (e *Engine) adjustRadius(f *Field, intent Intent) {
	switch {
	case intent.Confidence < e.cfg.LowConfidence:
		f.Radius *= e.cfg.LowConfidenceWiden
	case intent.Confidence > e.cfg.HighConfidence:
		f.Radius *= e.cfg.HighConfidenceNarrow
	}

	if intent.Urgency > 0 && intent.Urgency < e.cfg.TightBudget {
		f.Radius *= e.cfg.TightBudgetNarrow
	}

	if rate, ok := e.hitRateLocked(); ok {
		switch {
		case rate > e.cfg.HighHitRate:
			f.Radius *= e.cfg.HighHitRateNarrow
		case rate < e.cfg.LowHitRate:
			f.Radius *= e.cfg.LowHitRateWiden
		}
	}
}

// morph perturbs geometry when the session re-queries the same center,
// drifting the field without discarding locality.
func (e *Engine) morph(f *Field) {
	if f.MorphRate <= 0 || !e.hasLast || e.lastCenter != f.Center {
		return
	}
	rate := f.MorphRate
	f.Radius *= 1 + rate*(e.rng.Float64()-0.5)
	f.Steepness *= 1 + rate*(e.rng.Float64()-0.5)
	f.Center = coords.Coordinate{
		X: f.Center.X + rate*0.1*(e.rng.Float64()*2-1),
		Y: f.Center.Y + rate*0.1*(e.rng.Float64()*2-1),
		Z: f.Center.Z + rate*0.1*(e.rng.Float64()*2-1),
	}.Clamp()
}

// modulate applies the time-phased session dynamics: breathing
// oscillates the radius, pulsing periodically boosts amplitude.
func (e *Engine) modulate(f *Field, elapsed time.Duration) {
	if e.cfg.BreatheAmplitude > 0 && e.cfg.BreathePeriod > 0 {
		phase := 2 * math.Pi * float64(elapsed) / float64(e.cfg.BreathePeriod)
		f.Radius *= 1 + e.cfg.BreatheAmplitude*math.Sin(phase)
	}
	if e.cfg.PulseBoost > 0 && e.cfg.PulsePeriod > 0 {
		phase := 2 * math.Pi * float64(elapsed) / float64(e.cfg.PulsePeriod)
		pulse := math.Pow(math.Max(0, math.Sin(phase)), 8)
		f.Amplitude *= 1 + e.cfg.PulseBoost*pulse
	}
}

// RecordOutcome feeds the session hit-rate window. A query counts as a
// hit when it returned at least one result.
func (e *Engine) RecordOutcome(hit bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.outcomes[e.outcomeIdx] = hit
	e.outcomeIdx = (e.outcomeIdx + 1) % len(e.outcomes)
	if e.outcomeN < len(e.outcomes) {
		e.outcomeN++
	}
}

// HitRate returns the fraction of recent queries that produced results,
// and whether enough history exists to be meaningful.
func (e *Engine) HitRate() (float64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.hitRateLocked()
}

func (e *Engine) hitRateLocked() (float64, bool) {
	if e.outcomeN == 0 {
		return 0, false
	}
	hits := 0
	for i := 0; i < e.outcomeN; i++ {
		if e.outcomes[i] {
			hits++
		}
	}
	return float64(hits) / float64(e.outcomeN), true
}
