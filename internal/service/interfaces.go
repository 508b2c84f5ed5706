package service

//go:generate mockgen -source=interfaces.go -destination=mocks/mocks.go -package=mocks

import (
	"context"

	"episode_syncer/internal/domain"
)

// SeriesStore reads series configuration. The sync engine never writes
// series rows; they are owned by the admin workflow.
type SeriesStore interface {
	// GetByID returns nil, nil when the series does not exist.
	GetByID(ctx context.Context, seriesID string) (*domain.Series, error)
	// ListSyncableIDs returns the ids of every series with a feed URL.
	ListSyncableIDs(ctx context.Context) ([]string, error)
}

// EpisodeStore persists episodes. Insert-only: the engine never updates
// or deletes rows.
type EpisodeStore interface {
	// FindByGUID returns nil, nil when no episode matches.
	FindByGUID(ctx context.Context, seriesID, guid string) (*domain.StoredEpisode, error)
	// Insert returns domain.ErrEpisodeExists when the (series_id, guid)
	// uniqueness constraint is violated.
	Insert(ctx context.Context, episode *domain.StoredEpisode) error
}

// SyncStateStore records advisory per-series sync bookkeeping.
type SyncStateStore interface {
	Record(ctx context.Context, seriesID string, newEpisodes int) error
}

// FeedFetcher downloads a feed document.
type FeedFetcher interface {
	FetchFeed(ctx context.Context, feedURL string) ([]byte, error)
}

// Publisher announces newly inserted episodes to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, episode *domain.StoredEpisode) error
	Close() error
}
