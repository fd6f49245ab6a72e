package decay

import "math"

// TrendConfig tunes the scalar filter that smooths score series.
type TrendConfig struct {
	// ProcessNoise is how much the true score is expected to move
	// between observations. Higher responds faster, smooths less.
	ProcessNoise float64 `yaml:"process_noise"`

	// MeasurementNoise is how much individual raw scores are
	// distrusted. Higher smooths more, responds slower.
	MeasurementNoise float64 `yaml:"measurement_noise"`

	// InitialCovariance is the starting uncertainty of the estimate.
	InitialCovariance float64 `yaml:"initial_covariance"`

	// VarianceScale multiplies the innovation deviation when the
	// measurement noise adapts to the observed series.
	VarianceScale float64 `yaml:"variance_scale"`
}

// DefaultTrendConfig returns tuning suited to slowly drifting quality
// scores fed by bursty access stats.
func DefaultTrendConfig() TrendConfig {
	return TrendConfig{
		ProcessNoise:      0.05,
		MeasurementNoise:  50,
		InitialCovariance: 20,
		VarianceScale:     8,
	}
}

const trendHistory = 32

// Trend is a scalar filter over one pattern's score series. It keeps a
// state estimate plus its rate of change, so callers can ask not just
// "what is the score" but "which way is it moving". Pure scalar math;
// not safe for concurrent use (TrendSet serializes access).
type Trend struct {
	x     float64 // state estimate
	lastX float64 // previous state, for velocity
	p     float64 // estimate covariance
	q     float64 // process noise, pre-scaled
	r     float64 // measurement noise

	varianceScale float64
	innovations   []float64
	observations  int
}

// NewTrend starts a filter at an initial score so the first observation
// does not drag the estimate toward zero.
func NewTrend(cfg TrendConfig, initial float64) *Trend {
	return &Trend{
		x:             initial,
		lastX:         initial,
		p:             cfg.InitialCovariance,
		q:             cfg.ProcessNoise * 0.001,
		r:             cfg.MeasurementNoise,
		varianceScale: cfg.VarianceScale,
		innovations:   make([]float64, 0, trendHistory),
	}
}

// Observe feeds a raw score and returns the smoothed estimate.
func (t *Trend) Observe(score float64) float64 {
	// Project the state ahead along its recent velocity, then correct
	// toward the measurement by the current gain.
	velocity := t.x - t.lastX
	t.x += velocity
	t.lastX = t.x

	t.p += t.q
	gain := t.p / (t.p + t.r)

	innovation := score - t.x
	t.x += gain * innovation
	t.p = (1 - gain) * t.p

	t.innovations = append(t.innovations, innovation)
	if len(t.innovations) > trendHistory {
		t.innovations = t.innovations[1:]
	}
	t.observations++
	return t.x
}

// State returns the current smoothed estimate.
func (t *Trend) State() float64 { return t.x }

// Velocity returns the estimate's rate of change per observation.
// Positive means the pattern is heating up.
func (t *Trend) Velocity() float64 { return t.x - t.lastX }

// Predict projects the estimate n observations ahead along the current
// velocity, clamped to [0, 1]. The filter state is not modified.
func (t *Trend) Predict(steps int) float64 {
	return clamp01(t.x + float64(steps)*t.Velocity())
}

// Observations returns how many scores have been fed in.
func (t *Trend) Observations() int { return t.observations }

// AdaptNoise re-derives the measurement noise from recent innovation
// variance. Called periodically; a noisy series raises the noise
// estimate and smooths harder.
func (t *Trend) AdaptNoise() {
	if len(t.innovations) < 5 {
		return
	}
	var sum, sumSq float64
	n := float64(len(t.innovations))
	for _, inn := range t.innovations {
		sum += inn
		sumSq += inn * inn
	}
	mean := sum / n
	variance := math.Abs(sumSq/n - mean*mean)

	t.r = math.Sqrt(variance) * t.varianceScale
	if t.r < 1 {
		t.r = 1
	}
}
