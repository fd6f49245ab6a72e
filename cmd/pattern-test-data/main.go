// Pattern Test Data Generator for Muninn
//
// This tool generates synthetic pattern corpora for exercising the
// spatial index, tier router and dedupe sweep at scale.
//
// Usage:
//
//	go run cmd/pattern-test-data/main.go [options]
//
// Options:
//
//	-mode      Generation mode: uniform, bands, clusters (default: clusters)
//	-count     Number of patterns to generate (default: 5000)
//	-clusters  Number of shared compositions for 'clusters' mode (default: 20)
//	-dup-rate  Fraction of cluster members given near-duplicate titles (default: 0.05)
//	-output    Output directory for generated data (default: ./data/pattern-test)
//	-db        Muninn data directory to import into (if set, imports directly)
//	-seed      Random seed for reproducibility (default: 42)
//
// Examples:
//
//	# Generate 5000 patterns spread across quality bands
//	go run cmd/pattern-test-data/main.go -mode bands -count 5000
//
//	# Generate 10000 patterns over 50 shared compositions (best for index testing:
//	# identical compositions land on identical coordinates)
//	go run cmd/pattern-test-data/main.go -mode clusters -count 10000 -clusters 50
//
//	# Import directly into an engine data directory
//	go run cmd/pattern-test-data/main.go -mode clusters -count 5000 -db ./data/muninn
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/orneryd/muninn/pkg/decay"
	"github.com/orneryd/muninn/pkg/muninn"
	"github.com/orneryd/muninn/pkg/pattern"
	"github.com/orneryd/muninn/pkg/tier"
)

func main() {
	mode := flag.String("mode", "clusters", "Generation mode: uniform, bands, clusters")
	count := flag.Int("count", 5000, "Number of patterns to generate")
	numClusters := flag.Int("clusters", 20, "Number of shared compositions (for clusters mode)")
	dupRate := flag.Float64("dup-rate", 0.05, "Fraction of cluster members given near-duplicate titles")
	outputDir := flag.String("output", "./data/pattern-test", "Output directory")
	dbDir := flag.String("db", "", "Muninn data directory (if set, imports directly)")
	seed := flag.Int64("seed", 42, "Random seed for reproducibility")
	flag.Parse()

	rng := rand.New(rand.NewSource(*seed))

	log.Printf("🧪 Pattern Test Data Generator")
	log.Printf("   Mode: %s", *mode)
	log.Printf("   Seed: %d", *seed)

	var patterns []*pattern.Pattern
	switch *mode {
	case "uniform":
		log.Printf("📊 Generating %d patterns with random profiles...", *count)
		patterns = generateUniform(rng, *count)

	case "bands":
		log.Printf("📊 Generating %d patterns spread across quality bands...", *count)
		patterns = generateBands(rng, *count)

	case "clusters":
		log.Printf("📊 Generating %d patterns over %d shared compositions...", *count, *numClusters)
		patterns = generateClusters(rng, *count, *numClusters, *dupRate)

	default:
		log.Fatalf("Unknown mode: %s", *mode)
	}

	log.Printf("✅ Generated %d patterns", len(patterns))

	if *dbDir != "" {
		log.Printf("📤 Importing into Muninn at %s...", *dbDir)
		if err := importToEngine(patterns, *dbDir); err != nil {
			log.Fatalf("Import failed: %v", err)
		}
	} else {
		if err := os.MkdirAll(*outputDir, 0755); err != nil {
			log.Fatalf("Failed to create output directory: %v", err)
		}
		outputFile := filepath.Join(*outputDir, fmt.Sprintf("patterns_%s_%d.json", *mode, *count))
		if err := savePatterns(patterns, outputFile); err != nil {
			log.Fatalf("Failed to save patterns: %v", err)
		}
		log.Printf("✅ Saved to %s", outputFile)
		log.Printf("   Ingest with: muninn ingest %s", outputFile)
	}

	printStats(patterns)
}

// Vocabulary per category, so generated titles and descriptions read
// like real pattern findings and near-duplicate titles stay plausible.
var categoryData = map[pattern.Category]struct {
	subjects []string
	traits   []string
}{
	pattern.CategoryStructural: {
		subjects: []string{"adapter layer", "facade boundary", "module seam", "interface split", "package cycle"},
		traits:   []string{"layered", "flattened", "leaky", "stable", "tangled"},
	},
	pattern.CategoryBehavioral: {
		subjects: []string{"observer chain", "state machine", "retry with backoff", "visitor walk", "command queue"},
		traits:   []string{"reentrant", "idempotent", "ordered", "lossy", "nested"},
	},
	pattern.CategoryCreational: {
		subjects: []string{"builder chain", "singleton guard", "factory registry", "object pool", "lazy constructor"},
		traits:   []string{"eager", "lazy", "cached", "unchecked", "scoped"},
	},
	pattern.CategoryConcurrency: {
		subjects: []string{"worker pool", "fan-in pipeline", "semaphore gate", "double-checked lock", "channel select loop"},
		traits:   []string{"bounded", "unbounded", "racy", "lock-free", "starved"},
	},
	pattern.CategoryDataFlow: {
		subjects: []string{"stream join", "batch splitter", "event replay", "dead-letter drain", "schema bridge"},
		traits:   []string{"buffered", "windowed", "backpressured", "fan-out", "keyed"},
	},
	pattern.CategoryAuth: {
		subjects: []string{"token refresh loop", "session pinning", "scope escalation", "csrf rotation", "credential cache"},
		traits:   []string{"stale", "rotating", "signed", "expiring", "shared"},
	},
	pattern.CategoryErrorPath: {
		subjects: []string{"panic recovery", "error swallow", "sentinel comparison", "wrapped cause chain", "partial rollback"},
		traits:   []string{"silent", "retried", "logged", "propagated", "masked"},
	},
	pattern.CategoryPerformance: {
		subjects: []string{"allocation hotspot", "n plus one query", "cache stampede", "repeated marshal", "tight poll loop"},
		traits:   []string{"amortized", "quadratic", "batched", "memoized", "unindexed"},
	},
}

var categories = []pattern.Category{
	pattern.CategoryStructural,
	pattern.CategoryBehavioral,
	pattern.CategoryCreational,
	pattern.CategoryConcurrency,
	pattern.CategoryDataFlow,
	pattern.CategoryAuth,
	pattern.CategoryErrorPath,
	pattern.CategoryPerformance,
}

func newPattern(rng *rand.Rand, idx int, cat pattern.Category, profile pattern.HarmonicProfile) *pattern.Pattern {
	cd := categoryData[cat]
	subject := cd.subjects[rng.Intn(len(cd.subjects))]
	trait := cd.traits[rng.Intn(len(cd.traits))]

	return &pattern.Pattern{
		ID:          fmt.Sprintf("pat-%06d", idx),
		Title:       fmt.Sprintf("%s %s", trait, subject),
		Description: fmt.Sprintf("Detected a %s %s in %s code.", trait, subject, cat),
		Tags:        []string{string(cat), trait},
		Profile:     profile,
		Locations: []pattern.CodeLocation{{
			File:      fmt.Sprintf("internal/%s/%s.go", cat, trait),
			StartLine: 1 + rng.Intn(400),
		}},
	}
}

// generateUniform draws every profile field independently.
func generateUniform(rng *rand.Rand, count int) []*pattern.Pattern {
	out := make([]*pattern.Pattern, count)
	for i := 0; i < count; i++ {
		cat := categories[rng.Intn(len(categories))]
		out[i] = newPattern(rng, i, cat, pattern.HarmonicProfile{
			Category:    cat,
			Strength:    rng.Float64(),
			Confidence:  rng.Float64(),
			Complexity:  rng.Float64() * 12,
			Occurrences: 1 + rng.Intn(200),
		})
		if (i+1)%1000 == 0 {
			log.Printf("   Generated %d/%d...", i+1, count)
		}
	}
	return out
}

// bandTemplate bounds the profile draw for one quality band.
type bandTemplate struct {
	weight                     float64
	strengthLo, strengthHi     float64
	confidenceLo, confidenceHi float64
	complexityLo, complexityHi float64
	occLo, occHi               int
}

// generateBands draws profiles that land across the tier bands in
// roughly production-like proportions.
func generateBands(rng *rand.Rand, count int) []*pattern.Pattern {
	templates := []bandTemplate{
		{weight: 0.20, strengthLo: 0.85, strengthHi: 1.0, confidenceLo: 0.80, confidenceHi: 1.0, complexityLo: 4, complexityHi: 8, occLo: 40, occHi: 120},
		{weight: 0.40, strengthLo: 0.60, strengthHi: 0.80, confidenceLo: 0.55, confidenceHi: 0.80, complexityLo: 5, complexityHi: 12, occLo: 10, occHi: 40},
		{weight: 0.30, strengthLo: 0.25, strengthHi: 0.45, confidenceLo: 0.20, confidenceHi: 0.50, complexityLo: 1, complexityHi: 4, occLo: 2, occHi: 8},
		{weight: 0.10, strengthLo: 0.02, strengthHi: 0.15, confidenceLo: 0.02, confidenceHi: 0.15, complexityLo: 0, complexityHi: 1, occLo: 1, occHi: 2},
	}

	out := make([]*pattern.Pattern, count)
	for i := 0; i < count; i++ {
		roll := rng.Float64()
		tmpl := templates[len(templates)-1]
		for _, t := range templates {
			if roll < t.weight {
				tmpl = t
				break
			}
			roll -= t.weight
		}

		cat := categories[rng.Intn(len(categories))]
		out[i] = newPattern(rng, i, cat, pattern.HarmonicProfile{
			Category:    cat,
			Strength:    tmpl.strengthLo + rng.Float64()*(tmpl.strengthHi-tmpl.strengthLo),
			Confidence:  tmpl.confidenceLo + rng.Float64()*(tmpl.confidenceHi-tmpl.confidenceLo),
			Complexity:  tmpl.complexityLo + rng.Float64()*(tmpl.complexityHi-tmpl.complexityLo),
			Occurrences: tmpl.occLo + rng.Intn(tmpl.occHi-tmpl.occLo+1),
		})
		if (i+1)%1000 == 0 {
			log.Printf("   Generated %d/%d...", i+1, count)
		}
	}
	return out
}

// generateClusters builds numClusters shared compositions and spreads
// the patterns among them. Members of one cluster carry byte-identical
// category/strength/complexity/occurrence values, so they hash to the
// same coordinate; confidence varies per member because it is not part
// of the coordinate digest. A dupRate fraction of members also get a
// near-duplicate title of an earlier member, which the dedupe sweep
// should fold.
func generateClusters(rng *rand.Rand, count, numClusters int, dupRate float64) []*pattern.Pattern {
	type composition struct {
		cat         pattern.Category
		strength    float64
		complexity  float64
		occurrences int
	}

	comps := make([]composition, numClusters)
	for i := range comps {
		comps[i] = composition{
			cat:         categories[rng.Intn(len(categories))],
			strength:    0.3 + rng.Float64()*0.7,
			complexity:  rng.Float64() * 10,
			occurrences: 1 + rng.Intn(100),
		}
	}

	out := make([]*pattern.Pattern, count)
	firstTitle := make(map[int]string, numClusters)
	duplicates := 0
	for i := 0; i < count; i++ {
		ci := rng.Intn(numClusters)
		c := comps[ci]
		p := newPattern(rng, i, c.cat, pattern.HarmonicProfile{
			Category:    c.cat,
			Strength:    c.strength,
			Confidence:  0.2 + rng.Float64()*0.8,
			Complexity:  c.complexity,
			Occurrences: c.occurrences,
		})

		if base, ok := firstTitle[ci]; !ok {
			firstTitle[ci] = p.Title
		} else if rng.Float64() < dupRate {
			p.Title = base + "s"
			p.Description = fmt.Sprintf("Detected %s in %s code.", p.Title, c.cat)
			duplicates++
		}
		out[i] = p

		if (i+1)%1000 == 0 {
			log.Printf("   Generated %d/%d...", i+1, count)
		}
	}

	rng.Shuffle(len(out), func(i, j int) {
		out[i], out[j] = out[j], out[i]
	})
	log.Printf("   Planted %d near-duplicate titles", duplicates)
	return out
}

// importToEngine stores patterns directly through the engine, which
// routes, indexes and dedupes them on the way in.
func importToEngine(patterns []*pattern.Pattern, dbDir string) error {
	eng, err := muninn.Open(dbDir, nil, nil)
	if err != nil {
		return fmt.Errorf("opening engine: %w", err)
	}
	defer eng.Close()

	ctx := context.Background()
	batchSize := 100
	startTime := time.Now()

	totalStored, totalFailed := 0, 0
	for i := 0; i < len(patterns); i += batchSize {
		end := i + batchSize
		if end > len(patterns) {
			end = len(patterns)
		}

		stored, failed, err := eng.StoreBatch(ctx, patterns[i:end])
		totalStored += stored
		totalFailed += failed
		if err != nil {
			log.Printf("Warning: batch %d-%d: %v", i, end, err)
		}

		if end%1000 == 0 || end == len(patterns) {
			elapsed := time.Since(startTime)
			rate := float64(end) / elapsed.Seconds()
			log.Printf("   Imported %d/%d (%.0f patterns/sec)...", end, len(patterns), rate)
		}
	}

	log.Printf("✅ Imported %d patterns (%d failed) to Muninn", totalStored, totalFailed)
	return nil
}

// savePatterns writes the corpus as one JSON array, the format muninn
// ingest reads.
func savePatterns(patterns []*pattern.Pattern, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(patterns)
}

// printStats prints category and expected-tier distributions for the
// generated corpus, using the shipped scorer and thresholds.
func printStats(patterns []*pattern.Pattern) {
	if len(patterns) == 0 {
		return
	}

	scorer := decay.NewScorer(decay.DefaultScorerConfig())
	tcfg := tier.DefaultConfig()
	now := time.Now()

	byCategory := make(map[pattern.Category]int)
	byTier := make(map[pattern.StorageTier]int)
	for _, p := range patterns {
		byCategory[p.Profile.Category]++

		score := scorer.Score(p.Profile, p.Access, now)
		switch {
		case score >= tcfg.PremiumThreshold:
			byTier[pattern.TierPremium]++
		case score >= tcfg.StandardThreshold:
			byTier[pattern.TierStandard]++
		case score >= tcfg.ArchiveThreshold:
			byTier[pattern.TierArchive]++
		default:
			byTier[pattern.TierRejected]++
		}
	}

	log.Printf("")
	log.Printf("📈 Statistics:")
	log.Printf("   Total patterns: %d", len(patterns))
	log.Printf("   Categories:")
	for _, cat := range categories {
		if byCategory[cat] > 0 {
			log.Printf("      %s: %d", cat, byCategory[cat])
		}
	}
	log.Printf("   Expected tiers (fresh, shipped thresholds):")
	log.Printf("      premium=%d standard=%d archive=%d rejected=%d",
		byTier[pattern.TierPremium], byTier[pattern.TierStandard],
		byTier[pattern.TierArchive], byTier[pattern.TierRejected])
}
