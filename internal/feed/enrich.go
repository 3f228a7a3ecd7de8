package feed

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"vantage/internal/models"
	"vantage/internal/observability"

	"golang.org/x/sync/semaphore"
)

const (
	defaultOpTimeout   = 10 * time.Second
	defaultMediaTTL    = 15 * time.Minute
	defaultMaxInFlight = 8
)

// EnricherConfig tunes the enrichment pipeline.
type EnricherConfig struct {
	// OpTimeout bounds each sub-operation (media resolve, one counter read).
	OpTimeout time.Duration
	// MediaTTL is the validity window requested for resolved media URLs.
	MediaTTL time.Duration
	// MaxInFlight caps how many posts are enriched concurrently. Fan-out
	// within a post (its up-to-four sub-operations) is not capped.
	MaxInFlight int
}

func (c EnricherConfig) withDefaults() EnricherConfig {
	if c.OpTimeout <= 0 {
		c.OpTimeout = defaultOpTimeout
	}
	if c.MediaTTL <= 0 {
		c.MediaTTL = defaultMediaTTL
	}
	if c.MaxInFlight <= 0 {
		c.MaxInFlight = defaultMaxInFlight
	}
	return c
}

// Enricher turns raw post rows into display-ready feed entries. It never
// drops a post and never returns an error: a sub-operation that fails or
// times out degrades its one field to a safe default (no media URL, zero
// counts, not liked).
type Enricher struct {
	resolver MediaResolver
	counters CounterReader
	cfg      EnricherConfig
	logger   *slog.Logger
}

// NewEnricher creates an enrichment pipeline over the given collaborators.
func NewEnricher(resolver MediaResolver, counters CounterReader, cfg EnricherConfig, logger *slog.Logger) *Enricher {
	if logger == nil {
		logger = observability.Logger
	}
	return &Enricher{
		resolver: resolver,
		counters: counters,
		cfg:      cfg.withDefaults(),
		logger:   logger,
	}
}

// EnrichPage enriches raws for viewerID, preserving input order exactly.
// Results land in a pre-sized buffer addressed by input index, so completion
// order among the concurrent per-post tasks can never reorder the page.
func (e *Enricher) EnrichPage(ctx context.Context, raws []*models.Post, viewerID uint) *Page {
	start := time.Now()
	defer func() {
		observability.EnrichmentLatency.Observe(time.Since(start).Seconds())
	}()

	results := make([]*Post, len(raws))
	sem := semaphore.NewWeighted(int64(e.cfg.MaxInFlight))
	var wg sync.WaitGroup

	for i := range raws {
		wg.Add(1)
		go func(i int, raw *models.Post) {
			defer wg.Done()
			if err := sem.Acquire(ctx, 1); err != nil {
				// Cancelled before this post's turn: emit it unenriched so
				// the page still carries every input post in order.
				results[i] = newPost(raw)
				return
			}
			defer sem.Release(1)
			results[i] = e.enrichOne(ctx, raw, viewerID)
		}(i, raws[i])
	}
	wg.Wait()

	page := &Page{
		Posts:          results,
		RequestedCount: len(raws),
		IncompleteIDs:  make(map[uint]struct{}),
	}
	for _, p := range results {
		if p.MediaURL == "" {
			page.IncompleteIDs[p.ID] = struct{}{}
		}
	}
	return page
}

// enrichOne fans out the up-to-four sub-operations for a single post and
// merges whatever completed in time.
func (e *Enricher) enrichOne(ctx context.Context, raw *models.Post, viewerID uint) *Post {
	p := newPost(raw)
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		var url string
		err := e.withTimeout(ctx, func(c context.Context) error {
			var err error
			url, err = e.resolver.Resolve(c, raw.MediaKey, e.cfg.MediaTTL)
			return err
		})
		if err != nil {
			e.degraded(ctx, "media_url", raw.ID, err)
			return
		}
		p.MediaURL = url
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		var n int64
		err := e.withTimeout(ctx, func(c context.Context) error {
			var err error
			n, err = e.counters.LikeCount(c, raw.ID)
			return err
		})
		if err != nil {
			e.degraded(ctx, "like_count", raw.ID, err)
			return
		}
		p.LikeCount = int(n)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		var n int64
		err := e.withTimeout(ctx, func(c context.Context) error {
			var err error
			n, err = e.counters.CommentCount(c, raw.ID)
			return err
		})
		if err != nil {
			e.degraded(ctx, "comment_count", raw.ID, err)
			return
		}
		p.CommentCount = int(n)
	}()

	if viewerID != 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var liked bool
			err := e.withTimeout(ctx, func(c context.Context) error {
				var err error
				liked, err = e.counters.IsLiked(c, viewerID, raw.ID)
				return err
			})
			if err != nil {
				e.degraded(ctx, "liked", raw.ID, err)
				return
			}
			p.Liked = liked
		}()
	}

	wg.Wait()
	return p
}

// RehydrateMedia retries media resolution only, for posts whose MediaURL is
// still empty. It is idempotent: posts that already resolved are skipped, so
// repeated calls only ever shrink the missing set. Returns the newly resolved
// URLs by post ID and the IDs still missing afterwards, in input order.
func (e *Enricher) RehydrateMedia(ctx context.Context, posts []*Post) (map[uint]string, []uint) {
	resolved := make(map[uint]string)
	var mu sync.Mutex
	sem := semaphore.NewWeighted(int64(e.cfg.MaxInFlight))
	var wg sync.WaitGroup

	for _, p := range posts {
		if p.MediaURL != "" {
			continue
		}
		wg.Add(1)
		go func(id uint, key string) {
			defer wg.Done()
			if err := sem.Acquire(ctx, 1); err != nil {
				return
			}
			defer sem.Release(1)

			var url string
			err := e.withTimeout(ctx, func(c context.Context) error {
				var err error
				url, err = e.resolver.Resolve(c, key, e.cfg.MediaTTL)
				return err
			})
			if err != nil {
				observability.RehydrationAttempts.WithLabelValues("missing").Inc()
				e.logger.DebugContext(ctx, "rehydration attempt failed",
					slog.Uint64("post_id", uint64(id)),
					slog.String("error", err.Error()),
				)
				return
			}
			observability.RehydrationAttempts.WithLabelValues("resolved").Inc()
			mu.Lock()
			resolved[id] = url
			mu.Unlock()
		}(p.ID, p.MediaKey)
	}
	wg.Wait()

	var stillMissing []uint
	for _, p := range posts {
		if p.MediaURL != "" {
			continue
		}
		if _, ok := resolved[p.ID]; !ok {
			stillMissing = append(stillMissing, p.ID)
		}
	}
	return resolved, stillMissing
}

// withTimeout races fn against the per-operation timeout. The loser is
// abandoned: even a collaborator that ignores cancellation cannot hold the
// pipeline past the deadline.
func (e *Enricher) withTimeout(ctx context.Context, fn func(context.Context) error) error {
	cctx, cancel := context.WithTimeout(ctx, e.cfg.OpTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- fn(cctx)
	}()

	select {
	case err := <-done:
		return err
	case <-cctx.Done():
		return cctx.Err()
	}
}

func (e *Enricher) degraded(ctx context.Context, field string, postID uint, err error) {
	observability.EnrichmentDegradedFields.WithLabelValues(field).Inc()
	e.logger.DebugContext(ctx, "enrichment field degraded to default",
		slog.String("field", field),
		slog.Uint64("post_id", uint64(postID)),
		slog.String("error", err.Error()),
	)
}
