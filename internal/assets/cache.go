package assets

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"streamcast/internal/events"
	"streamcast/internal/logging"
)

// Kind selects the loader used to materialize an asset.
type Kind string

const (
	KindImage      Kind = "image"
	KindText       Kind = "text"
	KindVideoFrame Kind = "videoFrame"
	KindOverlay    Kind = "overlay"
)

// Request describes one asset load.
type Request struct {
	Source string
	Kind   Kind
	// Text is the string to rasterize for KindText.
	Text string
	// Width/Height bound generated overlay elements.
	Width  int
	Height int
}

func (r Request) key() string {
	return string(r.Kind) + "|" + r.Source + "|" + r.Text
}

// Fetcher materializes an asset from its source. Implementations must be
// safe for concurrent use.
type Fetcher interface {
	Fetch(ctx context.Context, req Request) (*image.RGBA, error)
}

type entry struct {
	img        *image.RGBA
	loadedAt   time.Time
	lastAccess time.Time
}

// Cache provides TTL-cached, load-coalescing access to decoded assets.
type Cache struct {
	ttl     time.Duration
	fetcher Fetcher
	logger  *slog.Logger
	bus     *events.Bus
	now     func() time.Time

	mu      sync.Mutex
	entries map[string]*entry

	group singleflight.Group
}

// Option configures optional cache behavior.
type Option func(*Cache)

// WithClock overrides the cache's time source (used in tests).
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

// NewCache builds a cache around the given fetcher. A nil bus disables
// asset-loaded notifications; a nil logger discards logs.
func NewCache(ttl time.Duration, fetcher Fetcher, logger *slog.Logger, bus *events.Bus, opts ...Option) *Cache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	c := &Cache{
		ttl:     ttl,
		fetcher: fetcher,
		logger:  logging.NewComponentLogger(logger, "asset-cache"),
		bus:     bus,
		now:     time.Now,
		entries: make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Load returns the cached image when fresh, otherwise performs the
// kind-specific fetch. Concurrent identical requests share one fetch.
func (c *Cache) Load(ctx context.Context, req Request) (*image.RGBA, error) {
	key := req.key()

	c.mu.Lock()
	if ent, ok := c.entries[key]; ok {
		if c.now().Sub(ent.loadedAt) < c.ttl {
			ent.lastAccess = c.now()
			img := ent.img
			c.mu.Unlock()
			return img, nil
		}
		// Stale: evict before reuse.
		delete(c.entries, key)
	}
	c.mu.Unlock()

	result, err, _ := c.group.Do(key, func() (any, error) {
		img, err := c.fetcher.Fetch(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("load %s asset %q: %w", req.Kind, req.Source, err)
		}
		loaded := c.now()
		c.mu.Lock()
		c.entries[key] = &entry{img: img, loadedAt: loaded, lastAccess: loaded}
		c.mu.Unlock()

		if c.bus != nil {
			bounds := img.Bounds()
			c.bus.Publish(events.AssetLoaded{
				Key:       key,
				AssetKind: string(req.Kind),
				Size:      bounds.Dx() * bounds.Dy() * 4,
				At:        loaded,
			})
		}
		return img, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*image.RGBA), nil
}

// PreloadBatch warms the cache for every request, logging and skipping any
// that fail rather than aborting the rest.
func (c *Cache) PreloadBatch(ctx context.Context, reqs []Request) {
	grp, grpCtx := errgroup.WithContext(ctx)
	grp.SetLimit(4)
	for _, req := range reqs {
		grp.Go(func() error {
			if _, err := c.Load(grpCtx, req); err != nil {
				c.logger.Warn("preload skipped failing asset",
					logging.Error(err),
					logging.String("source", req.Source),
					logging.String("kind", string(req.Kind)),
				)
			}
			return nil
		})
	}
	_ = grp.Wait()
}

// Sweep evicts every expired entry and returns how many were removed.
func (c *Cache) Sweep() int {
	cutoff := c.now().Add(-c.ttl)
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for key, ent := range c.entries {
		if ent.loadedAt.Before(cutoff) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// Len reports the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
