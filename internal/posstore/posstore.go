// Package posstore persists device-position assignments across process
// restarts. Entries are keyed by the device's stable hardware address;
// each read/write is a single independent operation, so no transactions
// span multiple entries.
package posstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/racketlab/sensorfleet/internal/position"
)

const (
	initSchemaSQL = `
CREATE TABLE IF NOT EXISTS position_entries (
    device_id TEXT PRIMARY KEY,
    position  INTEGER NOT NULL,
    last_seen TIMESTAMP NOT NULL
)`

	upsertEntrySQL = `
INSERT INTO position_entries (device_id, position, last_seen)
VALUES (?, ?, ?)
ON CONFLICT(device_id) DO UPDATE SET
    position  = excluded.position,
    last_seen = excluded.last_seen`

	selectEntrySQL = `
SELECT device_id, position, last_seen
FROM position_entries
WHERE device_id = ?`

	selectEntriesSQL = `
SELECT device_id, position, last_seen
FROM position_entries
ORDER BY device_id`

	deleteEntrySQL = `
DELETE FROM position_entries WHERE device_id = ?`

	deleteStaleSQL = `
DELETE FROM position_entries WHERE last_seen < ?`
)

// ErrNotFound is returned by Get when no entry exists for a device.
var ErrNotFound = errors.New("position entry not found")

// Store is a durable device→position map backed by sqlite.
type Store struct {
	dbPath string

	db     *sql.DB
	dbOnce sync.Once
	dbErr  error

	closeOnce sync.Once
	closeErr  error
}

// New creates a store backed by the sqlite database at dbPath. The
// database is opened lazily on first use and the schema is created then.
func New(dbPath string) *Store {
	return &Store{dbPath: dbPath}
}

func (s *Store) getDB() (*sql.DB, error) {
	s.dbOnce.Do(func() {
		db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?_journal_mode=WAL&_synchronous=NORMAL", s.dbPath))
		if err != nil {
			s.dbErr = fmt.Errorf("opening store: %w", err)
			return
		}

		if _, err = db.Exec(initSchemaSQL); err != nil {
			_ = db.Close()
			s.dbErr = fmt.Errorf("initializing schema: %w", err)
			return
		}

		s.db = db
	})

	return s.db, s.dbErr
}

// Get returns the persisted entry for a device, or ErrNotFound.
func (s *Store) Get(ctx context.Context, deviceID string) (*position.Entry, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	var e position.Entry
	var lastSeen time.Time
	var pos int
	err = db.QueryRowContext(ctx, selectEntrySQL, deviceID).Scan(&e.DeviceID, &pos, &lastSeen)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning entry: %w", err)
	}

	e.Position = position.Position(pos)
	e.LastSeen = lastSeen.Unix()
	return &e, nil
}

// Put creates or updates the entry for a device. Repeated puts with the
// same position are idempotent apart from refreshing the timestamp.
func (s *Store) Put(ctx context.Context, deviceID string, pos position.Position, seen time.Time) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	if _, err = db.ExecContext(ctx, upsertEntrySQL, deviceID, int(pos), seen.UTC()); err != nil {
		return fmt.Errorf("upserting entry: %w", err)
	}
	return nil
}

// ListAll returns every persisted entry ordered by device identity.
func (s *Store) ListAll(ctx context.Context) (entries []*position.Entry, err error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, selectEntriesSQL)
	if err != nil {
		return nil, fmt.Errorf("querying entries: %w", err)
	}
	defer closeWithError(rows, &err)

	for rows.Next() {
		var e position.Entry
		var lastSeen time.Time
		var pos int
		if err = rows.Scan(&e.DeviceID, &pos, &lastSeen); err != nil {
			return nil, fmt.Errorf("scanning entry: %w", err)
		}
		e.Position = position.Position(pos)
		e.LastSeen = lastSeen.Unix()
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// Delete removes the entry for a device. Deleting a missing entry is not
// an error.
func (s *Store) Delete(ctx context.Context, deviceID string) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	if _, err = db.ExecContext(ctx, deleteEntrySQL, deviceID); err != nil {
		return fmt.Errorf("deleting entry: %w", err)
	}
	return nil
}

// PruneOlderThan removes entries whose last-seen timestamp predates
// now − retention. Devices listed in keep are never removed, regardless
// of age; the engine passes the set of currently connected devices here.
// Returns the number of removed entries.
func (s *Store) PruneOlderThan(ctx context.Context, retention time.Duration, keep map[string]bool) (int, error) {
	db, err := s.getDB()
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().Add(-retention).UTC()

	if len(keep) == 0 {
		res, err := db.ExecContext(ctx, deleteStaleSQL, cutoff)
		if err != nil {
			return 0, fmt.Errorf("pruning entries: %w", err)
		}
		n, _ := res.RowsAffected()
		return int(n), nil
	}

	// Per-entry deletes keep the protected set out of SQL string building.
	entries, err := s.ListAll(ctx)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, e := range entries {
		if keep[e.DeviceID] {
			continue
		}
		if time.Unix(e.LastSeen, 0).Before(cutoff) {
			if err := s.Delete(ctx, e.DeviceID); err != nil {
				return removed, err
			}
			removed++
		}
	}
	return removed, nil
}

// Close releases the database. Safe to call multiple times.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		if s.db != nil {
			s.closeErr = s.db.Close()
			s.db = nil
		}
	})
	return s.closeErr
}

func closeWithError(cl interface{ Close() error }, err *error) {
	if cErr := cl.Close(); cErr != nil && *err == nil {
		*err = cErr
	}
}
