// Package dedupe finds and merges near-duplicate patterns.
//
// Ingestion only catches byte-identical profiles: the coordinate digest
// avalanches, so two profiles that differ in any field land far apart.
// The sweep closes that gap. It walks every indexed pattern, pulls its
// radius neighborhood, and folds neighbors whose content clears the
// similarity bar into a single representative. Content similarity
// blends edit-distance similarity of title and description with
// tag-set overlap.
package dedupe

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
	"go.uber.org/zap"

	"github.com/orneryd/muninn/pkg/pattern"
	"github.com/orneryd/muninn/pkg/storage"
)

// Config holds the sweep tunables.
type Config struct {
	// Radius bounds the neighborhood examined around each pattern.
	Radius float64 `yaml:"radius"`
	// Threshold is the blended similarity at which two patterns count
	// as the same.
	Threshold float64 `yaml:"threshold"`

	// Component weights for the similarity blend, normalized by their
	// sum. A component with no signal on either side drops out of the
	// blend entirely.
	TitleWeight       float64 `yaml:"title_weight"`
	DescriptionWeight float64 `yaml:"description_weight"`
	TagWeight         float64 `yaml:"tag_weight"`
}

// DefaultConfig returns the shipped sweep tuning.
func DefaultConfig() Config {
	return Config{
		Radius:            0.05,
		Threshold:         0.85,
		TitleWeight:       0.4,
		DescriptionWeight: 0.4,
		TagWeight:         0.2,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Radius <= 0 {
		c.Radius = def.Radius
	}
	if c.Threshold <= 0 {
		c.Threshold = def.Threshold
	}
	if c.TitleWeight <= 0 && c.DescriptionWeight <= 0 && c.TagWeight <= 0 {
		c.TitleWeight = def.TitleWeight
		c.DescriptionWeight = def.DescriptionWeight
		c.TagWeight = def.TagWeight
	}
	return c
}

// NewSimilarity builds the content similarity measure from the config
// weights. The returned function is pure and safe for concurrent use;
// the tier router takes it for its store-time duplicate check.
func NewSimilarity(cfg Config) func(a, b *pattern.Pattern) float64 {
	cfg = cfg.withDefaults()
	return func(a, b *pattern.Pattern) float64 {
		if a == nil || b == nil {
			return 0
		}
		var score, weight float64
		if s, ok := textSimilarity(a.Title, b.Title); ok {
			score += cfg.TitleWeight * s
			weight += cfg.TitleWeight
		}
		if s, ok := textSimilarity(a.Description, b.Description); ok {
			score += cfg.DescriptionWeight * s
			weight += cfg.DescriptionWeight
		}
		if s, ok := tagSimilarity(a.Tags, b.Tags); ok {
			score += cfg.TagWeight * s
			weight += cfg.TagWeight
		}
		if weight == 0 {
			// No text content on either side; content similarity has
			// nothing to say, so never merge on its account.
			return 0
		}
		return score / weight
	}
}

// textSimilarity is 1 minus the normalized edit distance, case and
// surrounding whitespace ignored. No signal when both sides are empty.
func textSimilarity(a, b string) (float64, bool) {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))
	if a == "" && b == "" {
		return 0, false
	}
	if a == b {
		return 1, true
	}
	longest := max(utf8.RuneCountInString(a), utf8.RuneCountInString(b))
	d := levenshtein.ComputeDistance(a, b)
	return 1 - float64(d)/float64(longest), true
}

// tagSimilarity is Jaccard overlap of the lowercased tag sets. No
// signal when both sides are untagged.
func tagSimilarity(a, b []string) (float64, bool) {
	if len(a) == 0 && len(b) == 0 {
		return 0, false
	}
	set := make(map[string]uint8, len(a)+len(b))
	for _, t := range a {
		set[strings.ToLower(t)] |= 1
	}
	for _, t := range b {
		set[strings.ToLower(t)] |= 2
	}
	both := 0
	for _, m := range set {
		if m == 3 {
			both++
		}
	}
	return float64(both) / float64(len(set)), true
}

// Catalog is the view of the engine the sweep needs: enumerate resident
// patterns, read them, pull index neighborhoods, and fold one pattern
// into another. *tier.Router satisfies it.
type Catalog interface {
	IDs() []string
	Get(ctx context.Context, id string) (*pattern.Pattern, pattern.StorageTier, error)
	Neighbors(id string, radius float64) []string
	MergePatterns(ctx context.Context, winnerID, loserID string) (int64, error)
}

// Deduplicator runs deduplication sweeps over a pattern catalog. One
// sweep runs at a time; concurrent calls serialize.
type Deduplicator struct {
	cat Catalog
	cfg Config
	sim func(a, b *pattern.Pattern) float64
	log *zap.Logger

	mu   sync.Mutex
	last pattern.DedupeResult
	runs int64
}

// New builds a deduplicator. A nil logger disables logging.
func New(cat Catalog, cfg Config, log *zap.Logger) (*Deduplicator, error) {
	if cat == nil {
		return nil, errors.New("dedupe: nil catalog")
	}
	cfg = cfg.withDefaults()
	if cfg.Threshold > 1 {
		return nil, fmt.Errorf("dedupe: threshold %.2f above 1", cfg.Threshold)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Deduplicator{
		cat: cat,
		cfg: cfg,
		sim: NewSimilarity(cfg),
		log: log,
	}, nil
}

// Sweep runs one full deduplication pass and reports what it did.
// Patterns absorbed earlier in the pass are skipped when their own id
// comes up. Merging changes the survivor's profile and therefore its
// coordinate, so its neighborhood is re-read from the new point before
// the pass moves on. A second sweep over unchanged content merges
// nothing.
func (d *Deduplicator) Sweep(ctx context.Context) (pattern.DedupeResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	start := time.Now()
	var res pattern.DedupeResult
	for _, id := range d.cat.IDs() {
		if err := ctx.Err(); err != nil {
			res.ProcessingTime = time.Since(start)
			return res, err
		}
		d.sweepOne(ctx, id, &res)
	}
	res.ProcessingTime = time.Since(start)

	d.last = res
	d.runs++
	d.log.Info("dedupe sweep finished",
		zap.Int("scanned", res.Scanned),
		zap.Int("candidates", res.CandidatesFound),
		zap.Int("merged", res.Merged),
		zap.Int64("space_saved_bytes", res.SpaceSaved),
		zap.Duration("took", res.ProcessingTime))
	return res, nil
}

func (d *Deduplicator) sweepOne(ctx context.Context, id string, res *pattern.DedupeResult) {
	p, _, err := d.cat.Get(ctx, id)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			d.log.Warn("sweep skipped unreadable pattern", zap.String("pattern", id), zap.Error(err))
		}
		return
	}
	res.Scanned++

	for {
		merged := false
		for _, nid := range d.cat.Neighbors(id, d.cfg.Radius) {
			q, _, err := d.cat.Get(ctx, nid)
			if err != nil {
				continue
			}
			res.CandidatesFound++
			if d.sim(p, q) < d.cfg.Threshold {
				continue
			}

			winner, loser := pattern.PickRepresentative(p, q)
			saved, err := d.cat.MergePatterns(ctx, winner.ID, loser.ID)
			if err != nil {
				d.log.Warn("duplicate merge failed",
					zap.String("winner", winner.ID),
					zap.String("loser", loser.ID),
					zap.Error(err))
				continue
			}
			res.Merged++
			res.SpaceSaved += saved
			d.log.Debug("duplicates merged",
				zap.String("winner", winner.ID),
				zap.String("loser", loser.ID))
			if loser.ID == id {
				// The pattern under scan was absorbed; its neighborhood
				// belongs to the representative now.
				return
			}
			merged = true
			break
		}
		if !merged {
			return
		}
		if p, _, err = d.cat.Get(ctx, id); err != nil {
			return
		}
	}
}

// LastResult returns the most recent sweep's result. The bool is false
// before any sweep has finished.
func (d *Deduplicator) LastResult() (pattern.DedupeResult, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.last, d.runs > 0
}

// Runs returns how many sweeps have finished.
func (d *Deduplicator) Runs() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.runs
}
