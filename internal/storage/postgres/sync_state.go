package postgres

import (
	"context"

	"github.com/jmoiron/sqlx"
)

type SyncStateStore struct {
	db *sqlx.DB
}

func NewSyncStateStore(db *sqlx.DB) *SyncStateStore {
	return &SyncStateStore{db: db}
}

// Record upserts the per-series sync bookkeeping in a single statement,
// so overlapping runs cannot lose counts.
func (s *SyncStateStore) Record(ctx context.Context, seriesID string, newEpisodes int) error {
	query := `
		INSERT INTO sync_state (series_id, last_synced_at, total_synced)
		VALUES ($1, now(), $2)
		ON CONFLICT (series_id) DO UPDATE SET
			last_synced_at = now(),
			total_synced = sync_state.total_synced + EXCLUDED.total_synced`

	_, err := s.db.ExecContext(ctx, query, seriesID, newEpisodes)
	return err
}
