package muninn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/orneryd/muninn/pkg/pattern"
	"github.com/orneryd/muninn/pkg/storage"
)

const exportVersion = 1

// exportEnvelope is the portable dump format. Access stats ride along
// so an import preserves decay state.
type exportEnvelope struct {
	Version    int                `json:"version"`
	ExportedAt time.Time          `json:"exported_at"`
	Patterns   []*pattern.Pattern `json:"patterns"`
}

// Export writes every pattern, rejected tier included, as one JSON
// document. Returns the number of patterns written.
func (e *Engine) Export(ctx context.Context, w io.Writer) (int, error) {
	if e.isClosed() {
		return 0, ErrClosed
	}

	ids := e.router.IDs()
	env := exportEnvelope{
		Version:    exportVersion,
		ExportedAt: time.Now().UTC(),
		Patterns:   make([]*pattern.Pattern, 0, len(ids)),
	}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		p, _, err := e.router.Get(ctx, id)
		if errors.Is(err, storage.ErrNotFound) {
			// Moved or merged away since the id snapshot.
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("export %s: %w", id, err)
		}
		env.Patterns = append(env.Patterns, p)
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(env); err != nil {
		return 0, fmt.Errorf("encode export: %w", err)
	}
	return len(env.Patterns), nil
}

// Import reads an Export document and stores its patterns through the
// normal routing path, so each one is re-scored, re-tiered, and
// deduplicated on the way in. Counts successes and per-pattern
// failures like StoreBatch.
func (e *Engine) Import(ctx context.Context, r io.Reader) (stored, failed int, err error) {
	if e.isClosed() {
		return 0, 0, ErrClosed
	}

	var env exportEnvelope
	if err := json.NewDecoder(r).Decode(&env); err != nil {
		return 0, 0, fmt.Errorf("decode import: %w", err)
	}
	if env.Version != exportVersion {
		return 0, 0, fmt.Errorf("unsupported export version %d", env.Version)
	}

	stored, failed, err = e.router.StoreBatch(ctx, env.Patterns)
	if stored > 0 {
		e.invalidateViews()
	}
	return stored, failed, err
}
