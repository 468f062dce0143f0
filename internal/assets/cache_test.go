package assets_test

import (
	"context"
	"errors"
	"image"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"streamcast/internal/assets"
	"streamcast/internal/events"
)

type countingFetcher struct {
	mu    sync.Mutex
	calls int32
	fail  map[string]error
	block chan struct{}
}

func (f *countingFetcher) Fetch(ctx context.Context, req assets.Request) (*image.RGBA, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	err := f.fail[req.Source]
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return image.NewRGBA(image.Rect(0, 0, 4, 4)), nil
}

func (f *countingFetcher) count() int32 { return atomic.LoadInt32(&f.calls) }

func TestFreshEntryServedFromCache(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	fetcher := &countingFetcher{}
	cache := assets.NewCache(5*time.Second, fetcher, nil, nil, assets.WithClock(clock))

	req := assets.Request{Source: "logo.png", Kind: assets.KindImage}
	first, err := cache.Load(context.Background(), req)
	if err != nil {
		t.Fatalf("first load failed: %v", err)
	}

	now = now.Add(4 * time.Second) // still within TTL
	second, err := cache.Load(context.Background(), req)
	if err != nil {
		t.Fatalf("second load failed: %v", err)
	}
	if first != second {
		t.Fatal("expected identical cached buffer")
	}
	if fetcher.count() != 1 {
		t.Fatalf("loader invoked %d times, want 1", fetcher.count())
	}
}

func TestExpiredEntryEvictedBeforeReuse(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	fetcher := &countingFetcher{}
	cache := assets.NewCache(5*time.Second, fetcher, nil, nil, assets.WithClock(clock))

	req := assets.Request{Source: "logo.png", Kind: assets.KindImage}
	if _, err := cache.Load(context.Background(), req); err != nil {
		t.Fatalf("load failed: %v", err)
	}

	now = now.Add(6 * time.Second)
	if _, err := cache.Load(context.Background(), req); err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if fetcher.count() != 2 {
		t.Fatalf("loader invoked %d times, want 2", fetcher.count())
	}
}

func TestConcurrentLoadsCoalesce(t *testing.T) {
	fetcher := &countingFetcher{block: make(chan struct{})}
	cache := assets.NewCache(time.Minute, fetcher, nil, nil)

	req := assets.Request{Source: "feed.mp4", Kind: assets.KindVideoFrame}
	const callers = 8
	var wg sync.WaitGroup
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func() {
			defer wg.Done()
			_, _ = cache.Load(context.Background(), req)
		}()
	}

	// Give every goroutine a chance to enter Load before releasing the fetch.
	time.Sleep(50 * time.Millisecond)
	close(fetcher.block)
	wg.Wait()

	if fetcher.count() != 1 {
		t.Fatalf("expected a single coalesced fetch, got %d", fetcher.count())
	}
}

func TestFailedLoadSurfacesError(t *testing.T) {
	sentinel := errors.New("decode failed")
	fetcher := &countingFetcher{fail: map[string]error{"broken.png": sentinel}}
	cache := assets.NewCache(time.Minute, fetcher, nil, nil)

	_, err := cache.Load(context.Background(), assets.Request{Source: "broken.png", Kind: assets.KindImage})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected wrapped sentinel, got %v", err)
	}
	if cache.Len() != 0 {
		t.Fatal("failed load must not populate the cache")
	}
}

func TestPreloadBatchSkipsFailures(t *testing.T) {
	fetcher := &countingFetcher{fail: map[string]error{"broken.png": errors.New("nope")}}
	cache := assets.NewCache(time.Minute, fetcher, nil, nil)

	cache.PreloadBatch(context.Background(), []assets.Request{
		{Source: "a.png", Kind: assets.KindImage},
		{Source: "broken.png", Kind: assets.KindImage},
		{Source: "b.png", Kind: assets.KindImage},
	})

	if cache.Len() != 2 {
		t.Fatalf("expected 2 cached entries after batch, got %d", cache.Len())
	}
}

func TestLoadPublishesAssetLoaded(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()
	ch, cancel := bus.Subscribe(2)
	defer cancel()

	cache := assets.NewCache(time.Minute, &countingFetcher{}, nil, bus)
	if _, err := cache.Load(context.Background(), assets.Request{Source: "a.png", Kind: assets.KindImage}); err != nil {
		t.Fatalf("load failed: %v", err)
	}

	select {
	case evt := <-ch:
		loaded, ok := evt.(events.AssetLoaded)
		if !ok {
			t.Fatalf("unexpected event %T", evt)
		}
		if loaded.AssetKind != "image" {
			t.Fatalf("unexpected kind %q", loaded.AssetKind)
		}
	case <-time.After(time.Second):
		t.Fatal("asset loaded event not published")
	}
}

func TestSweepRemovesExpired(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	cache := assets.NewCache(5*time.Second, &countingFetcher{}, nil, nil, assets.WithClock(clock))

	if _, err := cache.Load(context.Background(), assets.Request{Source: "a.png", Kind: assets.KindImage}); err != nil {
		t.Fatalf("load failed: %v", err)
	}
	now = now.Add(10 * time.Second)
	if removed := cache.Sweep(); removed != 1 {
		t.Fatalf("expected 1 swept entry, got %d", removed)
	}
	if cache.Len() != 0 {
		t.Fatal("cache not empty after sweep")
	}
}
