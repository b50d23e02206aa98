package weather

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/OkinawaBoss/WeatharrStation/internal/logger"
	"github.com/jonboulle/clockwork"
)

const rssUserAgent = "WeatharrRSS/1.0"

type rssItem struct {
	Title string `xml:"title"`
}

type feedDoc struct {
	Channel struct {
		Items []rssItem `xml:"item"`
	} `xml:"channel"`
	Items   []rssItem `xml:"item"`
	Entries []rssItem `xml:"entry"`
}

// ParseTitles extracts up to limit item titles from an RSS 2.0, RSS 1.0 or
// Atom document. Malformed documents yield no titles.
func ParseTitles(data []byte, limit int) []string {
	var doc feedDoc
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil
	}

	var out []string
	for _, group := range [][]rssItem{doc.Channel.Items, doc.Items, doc.Entries} {
		for _, it := range group {
			t := strings.Join(strings.Fields(it.Title), " ")
			if t == "" {
				continue
			}
			out = append(out, t)
			if len(out) >= limit {
				return out
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return out
}

// Feeds polls a set of RSS/Atom feeds no more often than the refresh
// interval and serves their de-duplicated titles
type Feeds struct {
	urls     []string
	refresh  time.Duration
	maxItems int
	http     *http.Client
	clock    clockwork.Clock

	mu        sync.Mutex
	titles    []string
	lastFetch time.Time
}

// NewFeeds creates a poller; refresh is floored at 30s and maxItems at 1
func NewFeeds(urls []string, refresh time.Duration, maxItems int, clock clockwork.Clock) *Feeds {
	if refresh < 30*time.Second {
		refresh = 30 * time.Second
	}
	if maxItems < 1 {
		maxItems = 1
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Feeds{
		urls:     append([]string(nil), urls...),
		refresh:  refresh,
		maxItems: maxItems,
		http:     &http.Client{Timeout: 10 * time.Second},
		clock:    clock,
	}
}

// Titles returns the cached titles, refreshing them first when stale
func (f *Feeds) Titles(ctx context.Context) []string {
	if len(f.urls) == 0 {
		return nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.lastFetch.IsZero() && f.clock.Since(f.lastFetch) < f.refresh {
		return append([]string(nil), f.titles...)
	}

	var all []string
	for _, u := range f.urls {
		data, err := f.get(ctx, u)
		if err != nil {
			logger.WithComponent("rss").Debug().Err(err).Str("url", u).Msg("Feed fetch failed")
			continue
		}
		all = append(all, ParseTitles(data, f.maxItems)...)
	}

	seen := make(map[string]bool, len(all))
	unique := all[:0]
	for _, t := range all {
		key := strings.ToLower(t)
		if seen[key] {
			continue
		}
		seen[key] = true
		unique = append(unique, t)
	}
	if limit := f.maxItems * len(f.urls); len(unique) > limit {
		unique = unique[:limit]
	}

	f.titles = unique
	f.lastFetch = f.clock.Now()
	return append([]string(nil), f.titles...)
}

func (f *Feeds) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", rssUserAgent)

	resp, err := f.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed returned status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 4<<20))
}
