// Package feedcache fetches and decodes GTFS-realtime feeds, caching
// each feed's most recent decode for a short TTL (C4). Decoding uses
// the published MobilityData bindings for the base FeedMessage
// envelope; sub-system-specific extensions (NYCT track/direction,
// MTARR track/train-status) are layered on top in extensions.go.
package feedcache

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	gtfsrt "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"github.com/bluele/gcache"
	"google.golang.org/protobuf/proto"
)

const (
	defaultTTL     = 20 * time.Second
	fetchTimeout   = 25 * time.Second
	maxFeedBytes   = 32 << 20 // guard against a misbehaving upstream streaming forever
)

// Feed is a decoded GTFS-realtime feed together with the raw bytes it
// was decoded from, as required by fetch's (rawMessage, feedObject)
// contract.
type Feed struct {
	Raw     []byte
	Message *gtfsrt.FeedMessage
}

// Entities returns the feed's entity list, or nil for a nil Feed.
func (f *Feed) Entities() []*gtfsrt.FeedEntity {
	if f == nil || f.Message == nil {
		return nil
	}
	return f.Message.GetEntity()
}

// Cache fetches and caches decoded feeds keyed by URL. A cached entry
// with zero entities is treated as stale: the next call for that key
// bypasses the cache and re-fetches once, since an empty feed usually
// means the upstream briefly served a malformed or placeholder
// response rather than a genuinely empty schedule.
type Cache struct {
	client *http.Client
	gc     gcache.Cache
}

// New builds a feed cache with the given per-entry TTL. A zero ttl
// uses a 20s default.
func New(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Cache{
		client: &http.Client{Timeout: fetchTimeout},
		gc:     gcache.New(256).LRU().Expiration(ttl).Build(),
	}
}

// Fetch returns the decoded feed at url, using the cache when
// possible. Returns a nil *Feed (not an error) when the upstream
// returned an HTML or JSON error page instead of a protobuf body.
func (c *Cache) Fetch(ctx context.Context, url string) (*Feed, error) {
	if cached, err := c.gc.Get(url); err == nil {
		feed := cached.(*Feed)
		if len(feed.Entities()) > 0 {
			return feed, nil
		}
		// Empty cached feed: fall through and refetch once.
	}

	feed, err := c.fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	if feed != nil {
		_ = c.gc.Set(url, feed)
	}
	return feed, nil
}

func (c *Cache) fetch(ctx context.Context, url string) (*Feed, error) {
	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("building request for %s: %w", url, err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", url, err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); isErrorPageContentType(ct) {
		return nil, nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBytes))
	if err != nil {
		return nil, fmt.Errorf("reading body from %s: %w", url, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching %s: status %d", url, resp.StatusCode)
	}
	if len(body) == 0 {
		return nil, nil
	}

	var msg gtfsrt.FeedMessage
	if err := proto.Unmarshal(body, &msg); err != nil {
		return nil, fmt.Errorf("decoding feed message from %s: %w", url, err)
	}

	return &Feed{Raw: body, Message: &msg}, nil
}

func isErrorPageContentType(ct string) bool {
	ct = strings.ToLower(ct)
	return strings.Contains(ct, "text/html") || strings.Contains(ct, "application/json")
}
