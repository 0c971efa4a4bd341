package storage

import (
	"context"

	"github.com/JarrettLiner/pa-sweep/internal/sweep"
)

// Store persists sweep sessions and their per-frequency records. A
// session is one sweeper run: a configuration snapshot, the instrument
// identities and a row per calibrated frequency point. Records are
// stored one at a time, as the driver completes them, so an aborted
// sweep still leaves every finished frequency on disk.
type Store interface {
	// CreateSession inserts a new session row and returns its ID.
	CreateSession(ctx context.Context, meta SessionMeta) (sessionID int64, err error)

	// StoreRecord persists one completed frequency record with all of
	// its per-mode measurements and envelope sweeps in a single
	// transaction.
	StoreRecord(ctx context.Context, sessionID int64, record *sweep.Record) error

	// Close releases the database resources. It is safe to call more
	// than once.
	Close() error
}
