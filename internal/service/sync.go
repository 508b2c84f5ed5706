package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"episode_syncer/internal/config"
	"episode_syncer/internal/domain"
	"episode_syncer/internal/rss"
)

// SyncService ingests episodes from podcast RSS feeds into the episode
// store, one series at a time. All per-series failure is folded into the
// returned SyncResult; nothing raised while syncing one series can abort
// its siblings.
type SyncService struct {
	series    SeriesStore
	episodes  EpisodeStore
	syncState SyncStateStore
	fetcher   FeedFetcher
	publisher Publisher
	logger    *slog.Logger
	config    config.SyncConfig
}

// NewSyncService creates a sync service. publisher may be nil, in which
// case new episodes are not announced.
func NewSyncService(
	series SeriesStore,
	episodes EpisodeStore,
	syncState SyncStateStore,
	fetcher FeedFetcher,
	publisher Publisher,
	logger *slog.Logger,
	cfg config.SyncConfig,
) *SyncService {
	return &SyncService{
		series:    series,
		episodes:  episodes,
		syncState: syncState,
		fetcher:   fetcher,
		publisher: publisher,
		logger:    logger,
		config:    cfg,
	}
}

// SyncAll syncs every series that has a feed URL configured, sequentially,
// and returns one result per series regardless of individual failures.
// Only a failure enumerating the series list itself propagates; no partial
// report is meaningful in that case.
func (s *SyncService) SyncAll(ctx context.Context) ([]domain.SyncResult, error) {
	ids, err := s.series.ListSyncableIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list syncable series: %w", err)
	}

	s.logger.Info("starting sync", "series_count", len(ids))

	results := make([]domain.SyncResult, 0, len(ids))
	for _, id := range ids {
		results = append(results, s.SyncSeries(ctx, id))
	}
	return results, nil
}

// SyncSeries fetches, parses and merges one series' feed. It never
// returns an error: configuration, transport and parse failures are
// reported through SyncResult.Err, per-episode failures through
// SyncResult.InsertErrors.
func (s *SyncService) SyncSeries(ctx context.Context, seriesID string) domain.SyncResult {
	start := time.Now()
	result := domain.SyncResult{SeriesID: seriesID, SeriesName: "Unknown"}

	series, err := s.series.GetByID(ctx, seriesID)
	if err != nil {
		s.logger.Error("series lookup failed", "series_id", seriesID, "error", err)
	}
	if series == nil {
		result.Err = "Series not found"
		return result
	}
	result.SeriesName = series.Name

	if series.FeedURL == nil || *series.FeedURL == "" {
		result.Err = "No RSS feed URL configured"
		return result
	}

	body, err := s.fetcher.FetchFeed(ctx, *series.FeedURL)
	if err != nil {
		s.logger.Error("feed fetch failed",
			"series_id", seriesID,
			"feed_url", *series.FeedURL,
			"error", err,
		)
		result.Err = fmt.Sprintf("fetch RSS feed: %s", err)
		return result
	}

	episodes, err := rss.Parse(body)
	if err != nil {
		s.logger.Error("feed parse failed",
			"series_id", seriesID,
			"feed_url", *series.FeedURL,
			"error", err,
		)
		result.Err = err.Error()
		return result
	}

	parsed := len(episodes)
	if len(episodes) > s.config.MaxEpisodesPerFeed {
		// Feeds are newest-first; keep the front of document order to
		// bound per-run work on feeds with long histories.
		episodes = episodes[:s.config.MaxEpisodesPerFeed]
	}

	s.logger.Debug("merging episodes",
		"series_id", seriesID,
		"parsed", parsed,
		"processing", len(episodes),
	)

	for i := range episodes {
		s.mergeEpisode(ctx, series.ID, &episodes[i], &result)
	}

	if err := s.syncState.Record(ctx, series.ID, result.NewEpisodes); err != nil {
		s.logger.Warn("sync state update failed", "series_id", series.ID, "error", err)
	}

	s.logger.Info("series sync completed",
		"series_id", series.ID,
		"series_name", series.Name,
		"new", result.NewEpisodes,
		"skipped_existing", result.SkippedExisting,
		"skipped_no_guid", result.SkippedNoGUID,
		"insert_errors", len(result.InsertErrors),
		"duration", time.Since(start),
	)

	return result
}

// mergeEpisode deduplicates one parsed episode against the store and
// inserts it when unseen. Episodes without a guid cannot be deduplicated
// safely and are never persisted.
func (s *SyncService) mergeEpisode(ctx context.Context, seriesID string, ep *domain.Episode, result *domain.SyncResult) {
	if ep.GUID == nil {
		result.SkippedNoGUID++
		return
	}

	existing, err := s.episodes.FindByGUID(ctx, seriesID, *ep.GUID)
	if err != nil {
		result.InsertErrors = append(result.InsertErrors,
			fmt.Sprintf("lookup %q: %s", ep.Title, err))
		return
	}
	if existing != nil {
		result.SkippedExisting++
		return
	}

	stored := &domain.StoredEpisode{
		ID:              uuid.New().String(),
		SeriesID:        seriesID,
		Title:           ep.Title,
		Description:     ep.Description,
		AudioURL:        ep.AudioURL,
		PublishedAt:     ep.PublishedAt,
		DurationSeconds: ep.DurationSeconds,
		GUID:            *ep.GUID,
		CreatedAt:       time.Now().UTC(),
	}

	if err := s.episodes.Insert(ctx, stored); err != nil {
		// A concurrent run won the check-then-insert race; the episode
		// is in the store either way.
		if errors.Is(err, domain.ErrEpisodeExists) {
			result.SkippedExisting++
			return
		}
		result.InsertErrors = append(result.InsertErrors,
			fmt.Sprintf("insert %q: %s", ep.Title, err))
		return
	}
	result.NewEpisodes++

	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, stored); err != nil {
		s.logger.Warn("episode publish failed",
			"series_id", seriesID,
			"guid", stored.GUID,
			"error", err,
		)
		return
	}
	result.Published++
}
