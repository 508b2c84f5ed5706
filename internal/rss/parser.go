// Package rss parses podcast RSS 2.0 feeds into domain episodes.
//
// Third-party feeds are loosely typed: the same field arrives as a bare
// string in one feed and a structured element in the next. Each field
// therefore has its own shape-normalizing helper, and a malformed value
// in one field never aborts parsing of the rest of the document.
package rss

import (
	"encoding/xml"
	"errors"
	"fmt"
	"html"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/microcosm-cc/bluemonday"

	"episode_syncer/internal/domain"
)

// ErrInvalidFeed is wrapped by every parse failure: documents that are
// not well-formed XML, that lack an <rss> root or that lack a <channel>.
var ErrInvalidFeed = errors.New("invalid RSS feed")

// untitled is the title fallback; it is the only field the parser ever
// fabricates.
const untitled = "Untitled"

// stripPolicy removes every tag and attribute from episode descriptions.
var stripPolicy = bluemonday.StrictPolicy()

type document struct {
	XMLName xml.Name `xml:"rss"`
	Channel *channel `xml:"channel"`
}

type channel struct {
	Items []item `xml:"item"`
}

// item matches by local name, so <itunes:duration> binds to Duration
// regardless of the namespace prefix the feed declares.
type item struct {
	Title       string     `xml:"title"`
	Description string     `xml:"description"`
	PubDate     string     `xml:"pubDate"`
	Enclosure   *enclosure `xml:"enclosure"`
	GUID        string     `xml:"guid"`
	Duration    string     `xml:"duration"`
}

// enclosure tolerates both the standard attribute form
// (<enclosure url="..." type="audio/mpeg"/>) and the bare inner-text
// form some malformed feeds emit (<enclosure>https://...</enclosure>).
type enclosure struct {
	URL string
}

func (e *enclosure) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	for _, attr := range start.Attr {
		if attr.Name.Local == "url" {
			e.URL = strings.TrimSpace(attr.Value)
		}
	}
	var inner string
	if err := d.DecodeElement(&inner, &start); err != nil {
		return err
	}
	if e.URL == "" {
		e.URL = strings.TrimSpace(inner)
	}
	return nil
}

// Parse converts raw feed XML into episodes in document order. An empty
// channel is not an error; it yields an empty slice.
func Parse(data []byte) ([]domain.Episode, error) {
	var doc document
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFeed, err)
	}
	if doc.Channel == nil {
		return nil, fmt.Errorf("%w: missing channel", ErrInvalidFeed)
	}

	episodes := make([]domain.Episode, 0, len(doc.Channel.Items))
	for _, it := range doc.Channel.Items {
		episodes = append(episodes, it.toEpisode())
	}
	return episodes, nil
}

func (it item) toEpisode() domain.Episode {
	ep := domain.Episode{
		Title:           untitled,
		Description:     stripDescription(it.Description),
		PublishedAt:     parsePubDate(it.PubDate),
		GUID:            normalizeGUID(it.GUID),
		DurationSeconds: parseDurationSeconds(it.Duration),
	}
	if title := strings.TrimSpace(it.Title); title != "" {
		ep.Title = title
	}
	if it.Enclosure != nil && it.Enclosure.URL != "" {
		url := it.Enclosure.URL
		ep.AudioURL = &url
	}
	return ep
}

// stripDescription reduces a description to plain text. The XML decoder
// has already resolved entities and CDATA, so the input may be raw HTML
// markup; every tag is stripped and surrounding whitespace trimmed.
// A description that strips down to nothing is treated as absent.
func stripDescription(raw string) *string {
	if raw == "" {
		return nil
	}
	text := stripPolicy.Sanitize(raw)
	text = strings.TrimSpace(html.UnescapeString(text))
	if text == "" {
		return nil
	}
	return &text
}

// normalizeGUID extracts the identifier carried as inner text whether
// the feed writes <guid>id</guid> or <guid isPermaLink="false">id</guid>.
func normalizeGUID(raw string) *string {
	guid := strings.TrimSpace(raw)
	if guid == "" {
		return nil
	}
	return &guid
}

// parsePubDate accepts the many date formats seen in the wild. An
// unparsable date is absent, keeping parsing total.
func parsePubDate(raw string) *time.Time {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil
	}
	t, err := dateparse.ParseAny(s)
	if err != nil {
		return nil
	}
	return &t
}

// parseDurationSeconds accepts the three itunes:duration encodings:
// bare seconds, MM:SS and HH:MM:SS. Anything else is absent, never an
// error.
func parseDurationSeconds(raw string) *int {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil
	}

	if secs, err := strconv.Atoi(s); err == nil {
		if secs < 0 {
			return nil
		}
		return &secs
	}

	parts := strings.Split(s, ":")
	if len(parts) != 2 && len(parts) != 3 {
		return nil
	}
	nums := make([]int, len(parts))
	for i, part := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || n < 0 {
			return nil
		}
		nums[i] = n
	}

	var secs int
	if len(nums) == 2 {
		secs = nums[0]*60 + nums[1]
	} else {
		secs = nums[0]*3600 + nums[1]*60 + nums[2]
	}
	return &secs
}
