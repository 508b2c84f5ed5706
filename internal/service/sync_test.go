package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"episode_syncer/internal/config"
	"episode_syncer/internal/domain"
	"episode_syncer/internal/service/mocks"
	"episode_syncer/testdata/utils"
)

const feedURL = "https://example.com/feed.xml"

type SyncServiceTestSuite struct {
	suite.Suite
	ctrl *gomock.Controller

	series    *mocks.MockSeriesStore
	episodes  *mocks.MockEpisodeStore
	syncState *mocks.MockSyncStateStore
	fetcher   *mocks.MockFeedFetcher
	publisher *mocks.MockPublisher

	service *SyncService
	cfg     config.SyncConfig
	logger  *slog.Logger
}

func (s *SyncServiceTestSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())

	s.series = mocks.NewMockSeriesStore(s.ctrl)
	s.episodes = mocks.NewMockEpisodeStore(s.ctrl)
	s.syncState = mocks.NewMockSyncStateStore(s.ctrl)
	s.fetcher = mocks.NewMockFeedFetcher(s.ctrl)
	s.publisher = mocks.NewMockPublisher(s.ctrl)

	s.cfg = config.SyncConfig{MaxEpisodesPerFeed: 20}

	s.logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	s.service = NewSyncService(
		s.series,
		s.episodes,
		s.syncState,
		s.fetcher,
		s.publisher,
		s.logger,
		s.cfg,
	)
}

func (s *SyncServiceTestSuite) TearDownTest() {
	s.ctrl.Finish()
}

func TestSyncServiceTestSuite(t *testing.T) {
	suite.Run(t, new(SyncServiceTestSuite))
}

func (s *SyncServiceTestSuite) testSeries() *domain.Series {
	return &domain.Series{
		ID:      "series-1",
		Name:    "Test Podcast",
		FeedURL: utils.Ptr(feedURL),
	}
}

// feedXML builds an RSS document with one <item> per entry.
func feedXML(items ...string) []byte {
	var sb strings.Builder
	sb.WriteString(`<?xml version="1.0" encoding="UTF-8"?>`)
	sb.WriteString(`<rss version="2.0" xmlns:itunes="http://www.itunes.com/dtds/podcast-1.0.dtd"><channel>`)
	for _, item := range items {
		sb.WriteString("<item>")
		sb.WriteString(item)
		sb.WriteString("</item>")
	}
	sb.WriteString(`</channel></rss>`)
	return []byte(sb.String())
}

func (s *SyncServiceTestSuite) TestSyncSeries_NewEpisodes() {
	ctx := context.Background()

	s.series.EXPECT().GetByID(ctx, "series-1").Return(s.testSeries(), nil)
	s.fetcher.EXPECT().FetchFeed(ctx, feedURL).Return(feedXML(
		`<title>Ep 2</title><guid>ep-2</guid><itunes:duration>45:30</itunes:duration>`,
		`<title>Ep 1</title><guid>ep-1</guid>`,
	), nil)

	s.episodes.EXPECT().FindByGUID(ctx, "series-1", "ep-2").Return(nil, nil)
	s.episodes.EXPECT().FindByGUID(ctx, "series-1", "ep-1").Return(nil, nil)

	var inserted []*domain.StoredEpisode
	s.episodes.EXPECT().Insert(ctx, gomock.Any()).DoAndReturn(
		func(_ context.Context, ep *domain.StoredEpisode) error {
			inserted = append(inserted, ep)
			return nil
		},
	).Times(2)

	s.publisher.EXPECT().Publish(ctx, gomock.Any()).Return(nil).Times(2)
	s.syncState.EXPECT().Record(ctx, "series-1", 2).Return(nil)

	result := s.service.SyncSeries(ctx, "series-1")

	s.Empty(result.Err)
	s.Equal("series-1", result.SeriesID)
	s.Equal("Test Podcast", result.SeriesName)
	s.Equal(2, result.NewEpisodes)
	s.Equal(2, result.Published)
	s.Equal(0, result.SkippedNoGUID)
	s.Equal(0, result.SkippedExisting)
	s.Empty(result.InsertErrors)

	s.Require().Len(inserted, 2)
	s.Equal("Ep 2", inserted[0].Title)
	s.Equal("series-1", inserted[0].SeriesID)
	s.Equal("ep-2", inserted[0].GUID)
	s.NotEmpty(inserted[0].ID)
	s.Require().NotNil(inserted[0].DurationSeconds)
	s.Equal(2730, *inserted[0].DurationSeconds)
}

func (s *SyncServiceTestSuite) TestSyncSeries_SecondRunIsIdempotent() {
	ctx := context.Background()
	feed := feedXML(
		`<title>Ep 2</title><guid>ep-2</guid>`,
		`<title>Ep 1</title><guid>ep-1</guid>`,
	)

	s.series.EXPECT().GetByID(ctx, "series-1").Return(s.testSeries(), nil)
	s.fetcher.EXPECT().FetchFeed(ctx, feedURL).Return(feed, nil)

	s.episodes.EXPECT().FindByGUID(ctx, "series-1", "ep-2").
		Return(&domain.StoredEpisode{ID: "id-2", SeriesID: "series-1", GUID: "ep-2"}, nil)
	s.episodes.EXPECT().FindByGUID(ctx, "series-1", "ep-1").
		Return(&domain.StoredEpisode{ID: "id-1", SeriesID: "series-1", GUID: "ep-1"}, nil)

	s.syncState.EXPECT().Record(ctx, "series-1", 0).Return(nil)

	result := s.service.SyncSeries(ctx, "series-1")

	s.Empty(result.Err)
	s.Equal(0, result.NewEpisodes)
	s.Equal(2, result.SkippedExisting)
}

func (s *SyncServiceTestSuite) TestSyncSeries_SeriesNotFound() {
	ctx := context.Background()

	s.series.EXPECT().GetByID(ctx, "missing").Return(nil, nil)

	result := s.service.SyncSeries(ctx, "missing")

	s.Equal("Series not found", result.Err)
	s.Equal("Unknown", result.SeriesName)
	s.Equal(0, result.NewEpisodes)
}

func (s *SyncServiceTestSuite) TestSyncSeries_SeriesLookupError() {
	ctx := context.Background()

	s.series.EXPECT().GetByID(ctx, "series-1").Return(nil, errors.New("connection refused"))

	result := s.service.SyncSeries(ctx, "series-1")

	s.Equal("Series not found", result.Err)
}

func (s *SyncServiceTestSuite) TestSyncSeries_NoFeedURL() {
	ctx := context.Background()

	s.series.EXPECT().GetByID(ctx, "series-1").Return(&domain.Series{
		ID:   "series-1",
		Name: "No Feed",
	}, nil)

	result := s.service.SyncSeries(ctx, "series-1")

	s.Equal("No RSS feed URL configured", result.Err)
	s.Equal("No Feed", result.SeriesName)
}

func (s *SyncServiceTestSuite) TestSyncSeries_FetchError() {
	ctx := context.Background()

	s.series.EXPECT().GetByID(ctx, "series-1").Return(s.testSeries(), nil)
	s.fetcher.EXPECT().FetchFeed(ctx, feedURL).Return(nil, errors.New("unexpected status: 503"))

	result := s.service.SyncSeries(ctx, "series-1")

	s.Equal("fetch RSS feed: unexpected status: 503", result.Err)
	s.Equal(0, result.NewEpisodes)
}

func (s *SyncServiceTestSuite) TestSyncSeries_ParseError() {
	ctx := context.Background()

	s.series.EXPECT().GetByID(ctx, "series-1").Return(s.testSeries(), nil)
	s.fetcher.EXPECT().FetchFeed(ctx, feedURL).Return([]byte("not valid xml at all"), nil)

	result := s.service.SyncSeries(ctx, "series-1")

	s.Contains(result.Err, "invalid RSS feed")
	s.Equal(0, result.NewEpisodes)
}

func (s *SyncServiceTestSuite) TestSyncSeries_MissingGUIDSkipped() {
	ctx := context.Background()

	s.series.EXPECT().GetByID(ctx, "series-1").Return(s.testSeries(), nil)
	s.fetcher.EXPECT().FetchFeed(ctx, feedURL).Return(feedXML(
		`<title>No GUID</title>`,
		`<title>With GUID</title><guid>ep-1</guid>`,
	), nil)

	s.episodes.EXPECT().FindByGUID(ctx, "series-1", "ep-1").Return(nil, nil)
	s.episodes.EXPECT().Insert(ctx, gomock.Any()).Return(nil)
	s.publisher.EXPECT().Publish(ctx, gomock.Any()).Return(nil)
	s.syncState.EXPECT().Record(ctx, "series-1", 1).Return(nil)

	result := s.service.SyncSeries(ctx, "series-1")

	s.Equal(1, result.SkippedNoGUID)
	s.Equal(1, result.NewEpisodes)
}

func (s *SyncServiceTestSuite) TestSyncSeries_InsertErrorDoesNotAbortRemaining() {
	ctx := context.Background()

	s.series.EXPECT().GetByID(ctx, "series-1").Return(s.testSeries(), nil)
	s.fetcher.EXPECT().FetchFeed(ctx, feedURL).Return(feedXML(
		`<title>Broken</title><guid>ep-2</guid>`,
		`<title>Fine</title><guid>ep-1</guid>`,
	), nil)

	s.episodes.EXPECT().FindByGUID(ctx, "series-1", "ep-2").Return(nil, nil)
	s.episodes.EXPECT().FindByGUID(ctx, "series-1", "ep-1").Return(nil, nil)

	gomock.InOrder(
		s.episodes.EXPECT().Insert(ctx, gomock.Any()).Return(errors.New("value too long")),
		s.episodes.EXPECT().Insert(ctx, gomock.Any()).Return(nil),
	)
	s.publisher.EXPECT().Publish(ctx, gomock.Any()).Return(nil)
	s.syncState.EXPECT().Record(ctx, "series-1", 1).Return(nil)

	result := s.service.SyncSeries(ctx, "series-1")

	s.Equal(1, result.NewEpisodes)
	s.Require().Len(result.InsertErrors, 1)
	s.Contains(result.InsertErrors[0], `"Broken"`)
	s.Contains(result.InsertErrors[0], "value too long")
}

func (s *SyncServiceTestSuite) TestSyncSeries_LookupErrorCollected() {
	ctx := context.Background()

	s.series.EXPECT().GetByID(ctx, "series-1").Return(s.testSeries(), nil)
	s.fetcher.EXPECT().FetchFeed(ctx, feedURL).Return(feedXML(
		`<title>Unlucky</title><guid>ep-1</guid>`,
	), nil)

	s.episodes.EXPECT().FindByGUID(ctx, "series-1", "ep-1").Return(nil, errors.New("timeout"))
	s.syncState.EXPECT().Record(ctx, "series-1", 0).Return(nil)

	result := s.service.SyncSeries(ctx, "series-1")

	s.Equal(0, result.NewEpisodes)
	s.Equal(0, result.SkippedExisting)
	s.Require().Len(result.InsertErrors, 1)
	s.Contains(result.InsertErrors[0], "lookup")
	s.Contains(result.InsertErrors[0], "timeout")
}

func (s *SyncServiceTestSuite) TestSyncSeries_DuplicateInsertCountsAsExisting() {
	ctx := context.Background()

	s.series.EXPECT().GetByID(ctx, "series-1").Return(s.testSeries(), nil)
	s.fetcher.EXPECT().FetchFeed(ctx, feedURL).Return(feedXML(
		`<title>Race</title><guid>ep-1</guid>`,
	), nil)

	// Another run inserted the episode between our check and insert.
	s.episodes.EXPECT().FindByGUID(ctx, "series-1", "ep-1").Return(nil, nil)
	s.episodes.EXPECT().Insert(ctx, gomock.Any()).
		Return(fmt.Errorf("%w: guid ep-1", domain.ErrEpisodeExists))
	s.syncState.EXPECT().Record(ctx, "series-1", 0).Return(nil)

	result := s.service.SyncSeries(ctx, "series-1")

	s.Equal(0, result.NewEpisodes)
	s.Equal(1, result.SkippedExisting)
	s.Empty(result.InsertErrors)
}

func (s *SyncServiceTestSuite) TestSyncSeries_TruncatesLongFeeds() {
	ctx := context.Background()

	items := make([]string, 50)
	for i := range items {
		items[i] = fmt.Sprintf(`<title>Ep %d</title><guid>ep-%d</guid>`, 50-i, 50-i)
	}

	s.series.EXPECT().GetByID(ctx, "series-1").Return(s.testSeries(), nil)
	s.fetcher.EXPECT().FetchFeed(ctx, feedURL).Return(feedXML(items...), nil)

	// Only the 20 newest (front of document order) are evaluated.
	s.episodes.EXPECT().FindByGUID(ctx, "series-1", gomock.Any()).Return(nil, nil).Times(20)
	s.episodes.EXPECT().Insert(ctx, gomock.Any()).Return(nil).Times(20)
	s.publisher.EXPECT().Publish(ctx, gomock.Any()).Return(nil).Times(20)
	s.syncState.EXPECT().Record(ctx, "series-1", 20).Return(nil)

	result := s.service.SyncSeries(ctx, "series-1")

	s.Equal(20, result.NewEpisodes)
}

func (s *SyncServiceTestSuite) TestSyncSeries_PublishFailureIsNotAnInsertError() {
	ctx := context.Background()

	s.series.EXPECT().GetByID(ctx, "series-1").Return(s.testSeries(), nil)
	s.fetcher.EXPECT().FetchFeed(ctx, feedURL).Return(feedXML(
		`<title>Quiet</title><guid>ep-1</guid>`,
	), nil)

	s.episodes.EXPECT().FindByGUID(ctx, "series-1", "ep-1").Return(nil, nil)
	s.episodes.EXPECT().Insert(ctx, gomock.Any()).Return(nil)
	s.publisher.EXPECT().Publish(ctx, gomock.Any()).Return(errors.New("channel closed"))
	s.syncState.EXPECT().Record(ctx, "series-1", 1).Return(nil)

	result := s.service.SyncSeries(ctx, "series-1")

	s.Equal(1, result.NewEpisodes)
	s.Equal(0, result.Published)
	s.Empty(result.InsertErrors)
}

func (s *SyncServiceTestSuite) TestSyncSeries_NilPublisher() {
	ctx := context.Background()

	svc := NewSyncService(s.series, s.episodes, s.syncState, s.fetcher, nil, s.logger, s.cfg)

	s.series.EXPECT().GetByID(ctx, "series-1").Return(s.testSeries(), nil)
	s.fetcher.EXPECT().FetchFeed(ctx, feedURL).Return(feedXML(
		`<title>Solo</title><guid>ep-1</guid>`,
	), nil)
	s.episodes.EXPECT().FindByGUID(ctx, "series-1", "ep-1").Return(nil, nil)
	s.episodes.EXPECT().Insert(ctx, gomock.Any()).Return(nil)
	s.syncState.EXPECT().Record(ctx, "series-1", 1).Return(nil)

	result := svc.SyncSeries(ctx, "series-1")

	s.Equal(1, result.NewEpisodes)
	s.Equal(0, result.Published)
}

func (s *SyncServiceTestSuite) TestSyncSeries_SyncStateFailureIsAdvisory() {
	ctx := context.Background()

	s.series.EXPECT().GetByID(ctx, "series-1").Return(s.testSeries(), nil)
	s.fetcher.EXPECT().FetchFeed(ctx, feedURL).Return(feedXML(
		`<title>Ep</title><guid>ep-1</guid>`,
	), nil)
	s.episodes.EXPECT().FindByGUID(ctx, "series-1", "ep-1").Return(nil, nil)
	s.episodes.EXPECT().Insert(ctx, gomock.Any()).Return(nil)
	s.publisher.EXPECT().Publish(ctx, gomock.Any()).Return(nil)
	s.syncState.EXPECT().Record(ctx, "series-1", 1).Return(errors.New("deadlock"))

	result := s.service.SyncSeries(ctx, "series-1")

	s.Empty(result.Err)
	s.Equal(1, result.NewEpisodes)
}

func (s *SyncServiceTestSuite) TestSyncAll_OneUnreachableFeedDoesNotAbortSiblings() {
	ctx := context.Background()

	okSeries := func(id, name string) *domain.Series {
		return &domain.Series{ID: id, Name: name, FeedURL: utils.Ptr("https://example.com/" + id + ".xml")}
	}

	s.series.EXPECT().ListSyncableIDs(ctx).Return([]string{"a", "b", "c"}, nil)

	s.series.EXPECT().GetByID(ctx, "a").Return(okSeries("a", "Alpha"), nil)
	s.fetcher.EXPECT().FetchFeed(ctx, "https://example.com/a.xml").Return(feedXML(
		`<title>A1</title><guid>a-1</guid>`,
	), nil)
	s.episodes.EXPECT().FindByGUID(ctx, "a", "a-1").Return(nil, nil)
	s.episodes.EXPECT().Insert(ctx, gomock.Any()).Return(nil)
	s.publisher.EXPECT().Publish(ctx, gomock.Any()).Return(nil)
	s.syncState.EXPECT().Record(ctx, "a", 1).Return(nil)

	s.series.EXPECT().GetByID(ctx, "b").Return(okSeries("b", "Beta"), nil)
	s.fetcher.EXPECT().FetchFeed(ctx, "https://example.com/b.xml").
		Return(nil, errors.New("no such host"))

	s.series.EXPECT().GetByID(ctx, "c").Return(okSeries("c", "Gamma"), nil)
	s.fetcher.EXPECT().FetchFeed(ctx, "https://example.com/c.xml").Return(feedXML(), nil)
	s.syncState.EXPECT().Record(ctx, "c", 0).Return(nil)

	results, err := s.service.SyncAll(ctx)

	s.NoError(err)
	s.Require().Len(results, 3)

	var failed int
	for _, r := range results {
		if r.Err != "" {
			failed++
			s.Equal("b", r.SeriesID)
		}
	}
	s.Equal(1, failed)
	s.Equal(1, results[0].NewEpisodes)
	s.Equal(0, results[2].NewEpisodes)
}

func (s *SyncServiceTestSuite) TestSyncAll_EnumerationFailurePropagates() {
	ctx := context.Background()

	s.series.EXPECT().ListSyncableIDs(ctx).Return(nil, errors.New("database is down"))

	results, err := s.service.SyncAll(ctx)

	s.Error(err)
	s.Nil(results)
	s.Contains(err.Error(), "list syncable series")
}
