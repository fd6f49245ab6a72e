package decay

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/orneryd/muninn/pkg/pattern"
)

// Config bundles everything the evaluator needs.
type Config struct {
	Scorer ScorerConfig `yaml:"scorer"`
	Trend  TrendConfig  `yaml:"trend"`

	// Smoothing toggles the trend filter. Off, evaluations pass raw
	// scores through.
	Smoothing bool `yaml:"smoothing"`

	// PredictionHorizon is how many evaluation cycles ahead to project
	// when judging whether a fading pattern will recover.
	PredictionHorizon int `yaml:"prediction_horizon"`

	// VelocityEpsilon is the velocity above which a pattern counts as
	// trending up.
	VelocityEpsilon float64 `yaml:"velocity_epsilon"`

	// AdaptEvery is how many observations pass between measurement
	// noise adaptations. Zero disables adaptation.
	AdaptEvery int `yaml:"adapt_every"`
}

// DefaultConfig returns the shipped evaluator tuning.
func DefaultConfig() Config {
	return Config{
		Scorer:            DefaultScorerConfig(),
		Trend:             DefaultTrendConfig(),
		Smoothing:         true,
		PredictionHorizon: 4,
		VelocityEpsilon:   0.001,
		AdaptEvery:        16,
	}
}

// Evaluation is one pattern's quality reading.
type Evaluation struct {
	// Raw is the unsmoothed quality score at evaluation time.
	Raw float64 `json:"raw"`
	// Smoothed is the trend-filtered score; equals Raw when smoothing
	// is off. Tier placement uses this value.
	Smoothed float64 `json:"smoothed"`
	// Velocity is the smoothed score's per-cycle rate of change.
	Velocity float64 `json:"velocity"`
	// Predicted is the smoothed score projected PredictionHorizon
	// cycles ahead.
	Predicted float64 `json:"predicted"`
}

// TrendingUp reports whether the score is rising faster than the
// configured epsilon.
func (e Evaluation) TrendingUp(epsilon float64) bool {
	return e.Velocity > epsilon
}

// Evaluator scores patterns and tracks each one's score trend. Safe for
// concurrent use.
type Evaluator struct {
	cfg    Config
	scorer *Scorer
	log    *zap.Logger

	mu     sync.Mutex
	trends map[string]*Trend
}

// NewEvaluator builds an evaluator. A nil logger disables logging.
func NewEvaluator(cfg Config, log *zap.Logger) *Evaluator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Evaluator{
		cfg:    cfg,
		scorer: NewScorer(cfg.Scorer),
		log:    log,
		trends: make(map[string]*Trend),
	}
}

// Score returns the raw quality score without touching trend state.
// Used at ingestion, where no history exists yet.
func (e *Evaluator) Score(profile pattern.HarmonicProfile, access pattern.AccessStats, now time.Time) float64 {
	return e.scorer.Score(profile, access, now)
}

// Evaluate scores a pattern and advances its trend filter.
func (e *Evaluator) Evaluate(p *pattern.Pattern, now time.Time) Evaluation {
	raw := e.scorer.Score(p.Profile, p.Access, now)
	ev := Evaluation{Raw: raw, Smoothed: raw}
	if !e.cfg.Smoothing {
		return ev
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	t, ok := e.trends[p.ID]
	if !ok {
		t = NewTrend(e.cfg.Trend, raw)
		e.trends[p.ID] = t
	}
	ev.Smoothed = t.Observe(raw)
	ev.Velocity = t.Velocity()
	ev.Predicted = t.Predict(e.cfg.PredictionHorizon)

	if e.cfg.AdaptEvery > 0 && t.Observations()%e.cfg.AdaptEvery == 0 {
		t.AdaptNoise()
	}
	return ev
}

// Forget drops a pattern's trend state. Called on eviction and merge so
// the map does not outgrow the pattern set.
func (e *Evaluator) Forget(id string) {
	e.mu.Lock()
	delete(e.trends, id)
	e.mu.Unlock()
}

// Tracked returns how many patterns have live trend state.
func (e *Evaluator) Tracked() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.trends)
}

// VelocityEpsilon exposes the configured trending threshold.
func (e *Evaluator) VelocityEpsilon() float64 {
	return e.cfg.VelocityEpsilon
}
