package postgres

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"

	"episode_syncer/internal/domain"
)

type SeriesStore struct {
	db *sqlx.DB
}

func NewSeriesStore(db *sqlx.DB) *SeriesStore {
	return &SeriesStore{db: db}
}

func (s *SeriesStore) GetByID(ctx context.Context, seriesID string) (*domain.Series, error) {
	var series domain.Series
	query := `
		SELECT id, name, feed_url, created_at
		FROM series
		WHERE id = $1`

	err := s.db.GetContext(ctx, &series, query, seriesID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &series, nil
}

func (s *SeriesStore) ListSyncableIDs(ctx context.Context) ([]string, error) {
	var ids []string
	query := `
		SELECT id
		FROM series
		WHERE feed_url IS NOT NULL AND feed_url <> ''
		ORDER BY created_at`

	if err := s.db.SelectContext(ctx, &ids, query); err != nil {
		return nil, err
	}
	return ids, nil
}
