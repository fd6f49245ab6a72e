package pattern

import "time"

// MigrationRecord is the audit entry produced when a pattern moves
// between tiers. Records are retained in a bounded in-memory log and
// surfaced through engine statistics.
type MigrationRecord struct {
	PatternID string      `json:"pattern_id"`
	From      StorageTier `json:"from"`
	To        StorageTier `json:"to"`
	Score     float64     `json:"score"`
	Reason    string      `json:"reason"`
	At        time.Time   `json:"at"`
}

// DedupeResult summarizes one deduplication pass.
type DedupeResult struct {
	Scanned         int           `json:"scanned"`
	CandidatesFound int           `json:"candidates_found"`
	Merged          int           `json:"merged"`
	SpaceSaved      int64         `json:"space_saved_bytes"`
	ProcessingTime  time.Duration `json:"processing_time"`
}
