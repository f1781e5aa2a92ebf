package report

import (
	"context"

	"github.com/rizsotto/intercept/internal/event"
)

// EventStore is an alternate persistence backend for raw events, kept
// alongside the Builder's in-memory aggregation so a long-running
// observation is not lost if the driver is killed before it finishes
// (the JSON Report is only written once, at the end). Not part of the
// original Bear, which is restart-per-invocation; added because durable
// per-event persistence is a natural enrichment for long-running builds.
type EventStore interface {
	// Append persists one event. Must be safe for concurrent use; the
	// driver calls it from one goroutine per reporter connection.
	Append(ctx context.Context, ev event.Event) error
	// All returns every stored event in arrival order, letting a Report be
	// rebuilt from the database after a crash even if the in-memory Builder
	// was lost.
	All(ctx context.Context) ([]event.Event, error)
	// Close releases any held resources (file handles, connections).
	Close() error
}

// NullStore discards every event. Used when the driver is configured with
// no event-database path, keeping EventStore usage optional rather than
// mandatory plumbing.
type NullStore struct{}

var _ EventStore = NullStore{}

func (NullStore) Append(context.Context, event.Event) error      { return nil }
func (NullStore) All(context.Context) ([]event.Event, error)     { return nil, nil }
func (NullStore) Close() error                                    { return nil }
