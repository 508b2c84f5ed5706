package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"episode_syncer/internal/domain"
)

// uniqueViolation is the postgres error code raised by the
// episodes (series_id, guid) uniqueness constraint.
const uniqueViolation = pq.ErrorCode("23505")

type EpisodeStore struct {
	db *sqlx.DB
}

func NewEpisodeStore(db *sqlx.DB) *EpisodeStore {
	return &EpisodeStore{db: db}
}

func (s *EpisodeStore) FindByGUID(ctx context.Context, seriesID, guid string) (*domain.StoredEpisode, error) {
	var episode domain.StoredEpisode
	query := `
		SELECT id, series_id, title, description, audio_url,
		       published_at, duration_seconds, guid, created_at
		FROM episodes
		WHERE series_id = $1 AND guid = $2`

	err := s.db.GetContext(ctx, &episode, query, seriesID, guid)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &episode, nil
}

// Insert adds a new episode row. The database enforces (series_id, guid)
// uniqueness as a backstop against concurrent runs; a violation is
// reported as domain.ErrEpisodeExists.
func (s *EpisodeStore) Insert(ctx context.Context, episode *domain.StoredEpisode) error {
	query := `
		INSERT INTO episodes (
			id, series_id, title, description, audio_url,
			published_at, duration_seconds, guid, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := s.db.ExecContext(ctx, query,
		episode.ID,
		episode.SeriesID,
		episode.Title,
		episode.Description,
		episode.AudioURL,
		episode.PublishedAt,
		episode.DurationSeconds,
		episode.GUID,
		episode.CreatedAt,
	)

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return fmt.Errorf("%w: guid %s", domain.ErrEpisodeExists, episode.GUID)
	}
	return err
}
