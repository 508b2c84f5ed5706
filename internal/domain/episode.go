package domain

import "time"

// Episode is a single entry parsed out of a podcast RSS feed.
// Title is always set (feeds without one get "Untitled"); every other
// field is nil when the source document did not carry it.
type Episode struct {
	Title           string
	Description     *string
	AudioURL        *string
	PublishedAt     *time.Time
	GUID            *string
	DurationSeconds *int
}

// StoredEpisode is a persisted episode row. Rows are insert-only and
// unique per (series_id, guid).
type StoredEpisode struct {
	ID              string     `db:"id"`
	SeriesID        string     `db:"series_id"`
	Title           string     `db:"title"`
	Description     *string    `db:"description"`
	AudioURL        *string    `db:"audio_url"`
	PublishedAt     *time.Time `db:"published_at"`
	DurationSeconds *int       `db:"duration_seconds"`
	GUID            string     `db:"guid"`
	CreatedAt       time.Time  `db:"created_at"`
}

// Series is a podcast show tracked by the site. A series without a
// feed URL is never synced. Series rows are owned by the admin
// workflow; the sync engine only reads them.
type Series struct {
	ID        string    `db:"id"`
	Name      string    `db:"name"`
	FeedURL   *string   `db:"feed_url"`
	CreatedAt time.Time `db:"created_at"`
}
