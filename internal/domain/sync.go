package domain

import (
	"errors"
	"time"
)

// ErrEpisodeExists is returned by the episode store when an insert hits
// the (series_id, guid) uniqueness constraint. The sync engine treats it
// as "already seen", not as a failure, so concurrent runs over the same
// series cannot double-insert.
var ErrEpisodeExists = errors.New("episode already exists")

// SyncResult holds the outcome of syncing one series. Err is set only
// when the whole series failed (missing series, no feed URL, fetch or
// parse failure); the counters are zero in that case.
type SyncResult struct {
	SeriesID        string
	SeriesName      string
	NewEpisodes     int
	SkippedNoGUID   int
	SkippedExisting int
	Published       int
	InsertErrors    []string
	Err             string
}

// SyncState tracks per-series sync bookkeeping. Advisory only: the
// engine updates it best-effort after a successful run.
type SyncState struct {
	ID           int64     `db:"id"`
	SeriesID     string    `db:"series_id"`
	LastSyncedAt time.Time `db:"last_synced_at"`
	TotalSynced  int64     `db:"total_synced"`
}
