// Package backfill implements a one-shot bulk crawl of a root's full
// object set: a bounded lister -> matcher -> writer pipeline that emits
// every matching object as a JSONL record, independent of the steady-state
// polling path in pkg/sourcetask. Used for an initial catch-up load before
// a connector task starts polling incrementally, or for ad hoc inventory
// dumps.
package backfill

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/3leaps/s3conduit/pkg/match"
	"github.com/3leaps/s3conduit/pkg/objectstore"
	"github.com/3leaps/s3conduit/pkg/output"
)

// Config configures backfill behavior.
type Config struct {
	// Concurrency is the number of parallel list operations. Each prefix
	// from Matcher.Prefixes() can be listed concurrently.
	Concurrency int

	// ChannelBuffer is the size of bounded channels between pipeline
	// stages.
	ChannelBuffer int

	// RateLimit is the maximum requests per second to the store. Zero
	// means unlimited.
	RateLimit float64

	// ProgressEvery controls how often progress records are emitted: one
	// every N matched objects.
	ProgressEvery int
}

// DefaultConfig returns the default backfill configuration.
func DefaultConfig() Config {
	return Config{
		Concurrency:   4,
		ChannelBuffer: 1000,
		RateLimit:     0,
		ProgressEvery: 1000,
	}
}

// Summary contains aggregate statistics from a completed backfill.
type Summary struct {
	ObjectsListed  int64
	ObjectsMatched int64
	BytesTotal     int64
	Duration       time.Duration
	Errors         int64
	Prefixes       []string
}

// Backfill executes a bulk crawl against a store. Safe for single use
// only; create a new Backfill for each run.
type Backfill struct {
	store   objectstore.Store
	matcher *match.Matcher
	filter  *match.CompositeFilter
	writer  output.Writer
	config  Config
	jobID   string

	prefixes []string

	limiter *rate.Limiter

	objectsListed   atomic.Int64
	objectsMatched  atomic.Int64
	objectsFiltered atomic.Int64
	bytesTotal      atomic.Int64
	errorCount      atomic.Int64
}

// New creates a Backfill against store.
func New(store objectstore.Store, m *match.Matcher, w output.Writer, jobID string, cfg Config) *Backfill {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConfig().Concurrency
	}
	if cfg.ChannelBuffer <= 0 {
		cfg.ChannelBuffer = DefaultConfig().ChannelBuffer
	}
	if cfg.ProgressEvery <= 0 {
		cfg.ProgressEvery = DefaultConfig().ProgressEvery
	}

	b := &Backfill{
		store:   store,
		matcher: m,
		writer:  w,
		config:  cfg,
		jobID:   jobID,
	}
	if cfg.RateLimit > 0 {
		b.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}
	return b
}

// WithFilter sets an optional metadata filter, applied after glob matching
// with AND semantics.
func (b *Backfill) WithFilter(f *match.CompositeFilter) *Backfill {
	b.filter = f
	return b
}

// WithPrefixes overrides the prefixes to crawl instead of deriving them
// from the matcher's include patterns.
func (b *Backfill) WithPrefixes(prefixes []string) *Backfill {
	b.prefixes = prefixes
	return b
}

// Run executes the backfill and returns summary statistics. It blocks
// until the crawl completes, is cancelled via ctx, or hits a fatal error.
// Non-fatal per-prefix errors are written as error records and counted.
func (b *Backfill) Run(ctx context.Context) (*Summary, error) {
	start := time.Now()

	prefixes := b.prefixes
	if prefixes == nil {
		prefixes = b.matcher.Prefixes()
	}
	if len(prefixes) == 0 {
		prefixes = []string{""}
	}

	if err := b.writeProgress(ctx, output.PhaseStarting, ""); err != nil {
		return nil, err
	}

	if err := b.runPipeline(ctx, prefixes); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return b.buildSummary(prefixes, time.Since(start)), err
		}
		return nil, err
	}

	summary := b.buildSummary(prefixes, time.Since(start))
	if err := b.writeSummary(ctx, summary); err != nil {
		return summary, err
	}
	return summary, nil
}

func (b *Backfill) buildSummary(prefixes []string, duration time.Duration) *Summary {
	return &Summary{
		ObjectsListed:  b.objectsListed.Load(),
		ObjectsMatched: b.objectsMatched.Load(),
		BytesTotal:     b.bytesTotal.Load(),
		Duration:       duration,
		Errors:         b.errorCount.Load(),
		Prefixes:       prefixes,
	}
}

func (b *Backfill) writeProgress(ctx context.Context, phase, prefix string) error {
	return b.writer.WriteProgress(ctx, &output.ProgressRecord{
		Phase:          phase,
		ObjectsFound:   b.objectsListed.Load(),
		ObjectsMatched: b.objectsMatched.Load(),
		BytesTotal:     b.bytesTotal.Load(),
		Prefix:         prefix,
	})
}

func (b *Backfill) writeSummary(ctx context.Context, summary *Summary) error {
	return b.writer.WriteSummary(ctx, &output.SummaryRecord{
		ObjectsFound:   summary.ObjectsListed,
		ObjectsMatched: summary.ObjectsMatched,
		BytesTotal:     summary.BytesTotal,
		Duration:       summary.Duration,
		DurationHuman:  summary.Duration.Round(time.Millisecond).String(),
		Errors:         summary.Errors,
		Prefixes:       summary.Prefixes,
	})
}

func (b *Backfill) writeError(ctx context.Context, code, message, prefix string) {
	b.errorCount.Add(1)
	_ = b.writer.WriteError(ctx, &output.ErrorRecord{Code: code, Message: message, Prefix: prefix})
}

func (b *Backfill) waitForRateLimit(ctx context.Context) error {
	if b.limiter == nil {
		return nil
	}
	return b.limiter.Wait(ctx)
}

type objectItem struct {
	summary objectstore.ObjectSummary
	prefix  string
}

func (b *Backfill) runPipeline(ctx context.Context, prefixes []string) error {
	pipeCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	listCh := make(chan objectItem, b.config.ChannelBuffer)
	matchCh := make(chan objectItem, b.config.ChannelBuffer)
	errCh := make(chan error, 1)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(listCh)
		if err := b.runListers(pipeCtx, prefixes, listCh); err != nil {
			select {
			case errCh <- err:
			default:
			}
			cancel()
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(matchCh)
		b.runMatcher(pipeCtx, listCh, matchCh)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := b.runWriter(pipeCtx, matchCh); err != nil {
			select {
			case errCh <- err:
			default:
			}
			cancel()
		}
	}()

	wg.Wait()

	select {
	case err := <-errCh:
		return err
	default:
		return ctx.Err()
	}
}

func (b *Backfill) runListers(ctx context.Context, prefixes []string, out chan<- objectItem) error {
	sem := make(chan struct{}, b.config.Concurrency)

	var wg sync.WaitGroup
	var firstErr error
	var errOnce sync.Once

	for _, prefix := range prefixes {
		select {
		case <-ctx.Done():
		case sem <- struct{}{}:
		}
		if ctx.Err() != nil {
			break
		}

		wg.Add(1)
		go func(p string) {
			defer wg.Done()
			defer func() { <-sem }()
			if err := b.listPrefix(ctx, p, out); err != nil {
				errOnce.Do(func() { firstErr = err })
			}
		}(prefix)
	}

	wg.Wait()
	return firstErr
}

func (b *Backfill) listPrefix(ctx context.Context, prefix string, out chan<- objectItem) error {
	var continuationToken string

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := b.waitForRateLimit(ctx); err != nil {
			return err
		}

		result, err := b.store.List(ctx, objectstore.ListOptions{
			Prefix:            prefix,
			ContinuationToken: continuationToken,
		})
		if err != nil {
			switch {
			case objectstore.IsAccessDenied(err):
				b.writeError(ctx, output.ErrCodeAccessDenied, err.Error(), prefix)
				return nil
			case objectstore.IsNotFound(err) || objectstore.IsBucketNotFound(err):
				b.writeError(ctx, output.ErrCodeNotFound, err.Error(), prefix)
				return nil
			case objectstore.IsThrottled(err):
				b.writeError(ctx, output.ErrCodeThrottled, err.Error(), prefix)
				return nil
			case objectstore.IsStoreUnavailable(err):
				b.writeError(ctx, output.ErrCodeInternal, err.Error(), prefix)
				return nil
			}
			return err
		}

		for _, obj := range result.Objects {
			b.objectsListed.Add(1)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case out <- objectItem{summary: obj, prefix: prefix}:
			}
		}

		if !result.IsTruncated || result.ContinuationToken == "" {
			break
		}
		continuationToken = result.ContinuationToken
	}

	return nil
}

func (b *Backfill) runMatcher(ctx context.Context, in <-chan objectItem, out chan<- objectItem) {
	for {
		select {
		case <-ctx.Done():
			return
		case item, ok := <-in:
			if !ok {
				return
			}
			if !b.matcher.Match(item.summary.Key) {
				continue
			}
			if b.filter != nil && !b.filter.Match(&item.summary) {
				b.objectsFiltered.Add(1)
				continue
			}
			b.objectsMatched.Add(1)
			b.bytesTotal.Add(item.summary.Size)
			select {
			case <-ctx.Done():
				return
			case out <- item:
			}
		}
	}
}

func (b *Backfill) runWriter(ctx context.Context, in <-chan objectItem) error {
	var matchCount int64
	var lastProgressPrefix string

	for {
		select {
		case <-ctx.Done():
			_ = b.writeProgress(ctx, output.PhaseComplete, lastProgressPrefix)
			return ctx.Err()
		case item, ok := <-in:
			if !ok {
				return b.writeProgress(ctx, output.PhaseComplete, lastProgressPrefix)
			}

			obj := &output.ObjectRecord{
				Key:          item.summary.Key,
				Size:         item.summary.Size,
				ETag:         item.summary.ETag,
				LastModified: item.summary.LastModified,
			}
			if err := b.writer.WriteObject(ctx, obj); err != nil {
				return err
			}

			matchCount++
			lastProgressPrefix = item.prefix

			if b.config.ProgressEvery > 0 && matchCount%int64(b.config.ProgressEvery) == 0 {
				if err := b.writeProgress(ctx, output.PhaseListing, item.prefix); err != nil {
					return err
				}
			}
		}
	}
}
