// Package partition implements the Partition Searcher: it orchestrates the
// directory lister across multiple configured roots, maintaining per-root
// discovery state across repeated calls.
package partition

import (
	"context"
	"sort"
	"time"

	"github.com/3leaps/s3conduit/pkg/discovery"
	"github.com/3leaps/s3conduit/pkg/match"
	"github.com/3leaps/s3conduit/pkg/objectstore"
)

// Response is one root's discovery state, updated on every Refresh.
type Response struct {
	Root           discovery.RootLocation
	ObservedAt     time.Time
	AllPartitions  map[string]struct{}
	LastResult     discovery.Result
	lastContinueAt time.Time
}

// Config bounds how the searcher drives the lister.
type Config struct {
	discovery.Config

	// WallClockBudget, if positive, bounds how long a single Find call may
	// run; the searcher computes a fresh absolute deadline from its clock
	// on every Refresh call rather than reusing one fixed at construction.
	// Config.WallClockDeadline is ignored when this is set.
	WallClockBudget time.Duration

	// Matcher, if set, narrows which discovered prefixes are retained.
	// A nil Matcher retains every discovered prefix.
	Matcher *match.Matcher
}

// Searcher runs the Directory Lister once per configured root per Refresh
// call, threading each root's exclude set and continuation token from the
// previous response.
type Searcher struct {
	store objectstore.Store
	cfg   Config
	clock discovery.Clock

	prev map[string]*Response // keyed by root bucket+prefix
}

// New creates a Searcher against store with the given per-call bounds.
func New(store objectstore.Store, cfg Config) *Searcher {
	return &Searcher{
		store: store,
		cfg:   cfg,
		clock: discovery.RealClock,
		prev:  make(map[string]*Response),
	}
}

// WithClock overrides the searcher's clock, for deadline tests.
func (s *Searcher) WithClock(clock discovery.Clock) *Searcher {
	s.clock = clock
	return s
}

func rootKey(root discovery.RootLocation) string {
	return root.Bucket + "\x00" + root.Prefix
}

// Refresh runs the lister once per root, returning the updated response for
// each. On the first call for a root, exclude is empty and there is no
// continuation. On subsequent calls, the previous response's cumulative
// partition set becomes the exclude set, and the continuation is taken from
// the previous result (Paused carries one forward, Completed restarts from
// the beginning next cycle, relying on exclude to dedupe).
func (s *Searcher) Refresh(ctx context.Context, roots []discovery.RootLocation) ([]Response, error) {
	out := make([]Response, 0, len(roots))

	for _, root := range roots {
		key := rootKey(root)
		prev := s.prev[key]

		var exclude map[string]struct{}
		var continueFrom *discovery.Continuation
		if prev != nil {
			exclude = prev.AllPartitions
			if prev.LastResult.IsPaused() {
				c := prev.LastResult.Continuation
				continueFrom = &c
			}
		}

		findCfg := s.cfg.Config
		if s.cfg.WallClockBudget > 0 {
			deadline := s.clock.Now().Add(s.cfg.WallClockBudget)
			findCfg.WallClockDeadline = &deadline
		}

		result, err := discovery.Find(ctx, s.store, root, findCfg, exclude, continueFrom, s.clock)
		if err != nil {
			return nil, err
		}

		cumulative := make(map[string]struct{})
		if prev != nil {
			for p := range prev.AllPartitions {
				cumulative[p] = struct{}{}
			}
		}
		for _, p := range result.Prefixes {
			if s.cfg.Matcher != nil && !s.cfg.Matcher.Match(p) {
				continue
			}
			cumulative[p] = struct{}{}
		}

		resp := &Response{
			Root:          root,
			ObservedAt:    s.clock.Now(),
			AllPartitions: cumulative,
			LastResult:    result,
		}
		s.prev[key] = resp
		out = append(out, *resp)
	}

	return out, nil
}

// Partitions returns the sorted partition prefixes discovered so far for
// root, or nil if the root has never been refreshed.
func (s *Searcher) Partitions(root discovery.RootLocation) []string {
	prev := s.prev[rootKey(root)]
	if prev == nil {
		return nil
	}
	out := make([]string, 0, len(prev.AllPartitions))
	for p := range prev.AllPartitions {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
