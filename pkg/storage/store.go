// Package storage defines the tier backend contract and its two
// built-in implementations.
//
// Each quality tier is backed by one Store. The engine core only ever
// reads and writes the record envelope (coordinate, tier, quality,
// access stats); the pattern content itself travels as opaque payload
// bytes. Backends are swappable behind the Store interface: the fast
// tiers run on the in-memory store, the durable tiers on BadgerDB.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/orneryd/muninn/pkg/coords"
	"github.com/orneryd/muninn/pkg/pattern"
)

var (
	// ErrNotFound is returned when a record id is absent.
	ErrNotFound = errors.New("record not found")
	// ErrInvalidID is returned for empty record ids.
	ErrInvalidID = errors.New("invalid record id")
	// ErrInvalidData is returned for records with no payload.
	ErrInvalidData = errors.New("invalid record data")
	// ErrStoreClosed is returned after Close.
	ErrStoreClosed = errors.New("store closed")
)

// Record is the envelope a tier persists per pattern. The envelope
// fields are the only ones the engine mutates in place; Payload is the
// marshaled pattern and is rewritten wholesale when content changes.
type Record struct {
	ID         string              `json:"id"`
	Tier       pattern.StorageTier `json:"tier"`
	Coordinate coords.Coordinate   `json:"coordinate"`
	Quality    float64             `json:"quality"`
	Access     pattern.AccessStats `json:"access"`
	Payload    []byte              `json:"payload"`
}

// Clone returns a deep copy.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	out := *r
	if r.Payload != nil {
		out.Payload = make([]byte, len(r.Payload))
		copy(out.Payload, r.Payload)
	}
	return &out
}

// Validate checks the envelope before a write.
func (r *Record) Validate() error {
	if r == nil || r.ID == "" {
		return ErrInvalidID
	}
	if len(r.Payload) == 0 {
		return ErrInvalidData
	}
	return nil
}

// Filter restricts a Scan. The zero value matches every record.
type Filter struct {
	// MinQuality and MaxQuality bound the quality score when MaxQuality
	// is positive.
	MinQuality float64
	MaxQuality float64
	// AccessedBefore matches records whose last access (or creation,
	// if never accessed) precedes the given time.
	AccessedBefore time.Time
}

// Match reports whether a record passes the filter.
func (f Filter) Match(r *Record) bool {
	if r.Quality < f.MinQuality {
		return false
	}
	if f.MaxQuality > 0 && r.Quality > f.MaxQuality {
		return false
	}
	if !f.AccessedBefore.IsZero() {
		last := r.Access.LastAccessed
		if last.IsZero() {
			last = r.Access.CreatedAt
		}
		if !last.Before(f.AccessedBefore) {
			return false
		}
	}
	return true
}

// Store is the narrow contract a tier backend implements. Put is an
// upsert. Scan visits matching records in unspecified order until fn
// returns false. Implementations must be safe for concurrent use and
// must never hand out aliases to their internal records.
type Store interface {
	Put(ctx context.Context, rec *Record) error
	Get(ctx context.Context, id string) (*Record, error)
	Delete(ctx context.Context, id string) error
	Scan(ctx context.Context, f Filter, fn func(*Record) bool) error
	Count(ctx context.Context) (int, error)
	Close() error
}
