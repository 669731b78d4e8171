package storage

import (
	"context"

	"codeberg.org/mutker/pilewatch/internal/pile"
)

// Store is the relational persistence layer for piles and their readings.
type Store interface {
	// ListPiles returns every pile ordered by id.
	ListPiles(ctx context.Context) ([]pile.Pile, error)

	// PileByID returns ErrPileNotFound when no pile has the id.
	PileByID(ctx context.Context, id int64) (pile.Pile, error)

	// PileByName reports found=false instead of an error for unknown names.
	PileByName(ctx context.Context, name string) (p pile.Pile, found bool, err error)

	// EnsurePile inserts p unless a pile with the same name exists, and
	// returns the id of the stored pile either way.
	EnsurePile(ctx context.Context, p pile.Pile) (id int64, created bool, err error)

	InsertReading(ctx context.Context, r pile.Reading) (int64, error)

	// InsertReadings writes all readings in a single transaction.
	InsertReadings(ctx context.Context, readings []pile.Reading) error

	// Readings returns a pile's readings newest first, bounded by rng.
	// A limit <= 0 returns everything in range.
	Readings(ctx context.Context, pileID int64, rng pile.Range, limit int) ([]pile.Reading, error)

	// LatestReadings maps each pile id to its most recent reading. Piles
	// without readings are absent from the map.
	LatestReadings(ctx context.Context) (map[int64]pile.Reading, error)

	// ClearReadings deletes every reading and returns how many were removed.
	ClearReadings(ctx context.Context) (int64, error)

	Close() error
}
