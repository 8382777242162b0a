package readermanager

import (
	"context"
	"sort"
	"time"

	"github.com/3leaps/s3conduit/pkg/discovery"
	"github.com/3leaps/s3conduit/pkg/partition"
)

// DefaultRetireAfterEmptyPolls is the N in the resolved open question: a
// Manager retires once its partition drops out of the Searcher's cumulative
// set and it has seen this many consecutive empty polls.
const DefaultRetireAfterEmptyPolls = 8

// Factory builds a Manager for a newly discovered (root, partition) pair.
type Factory func(root discovery.RootLocation, partitionPrefix string) *Manager

// Service holds a map (root, partitionPrefix) -> Manager, spawning new
// Managers as the Partition Searcher discovers partitions and retiring
// Managers whose partition has disappeared. See spec §4.7.
type Service struct {
	searcher   *partition.Searcher
	factory    Factory
	searchInterval time.Duration
	clock      discovery.Clock

	retireAfterEmptyPolls int

	managers map[string]*Manager
	rootIdx  map[string]int

	lastSearchAt     time.Time
	lastSearchWasDry bool
	everRefreshed    bool
}

// ServiceConfig configures a Service.
type ServiceConfig struct {
	Searcher              *partition.Searcher
	Factory               Factory
	SearchIntervalMillis  int64
	RetireAfterEmptyPolls int
	Clock                 discovery.Clock
}

// NewService constructs a Service. RetireAfterEmptyPolls defaults to
// DefaultRetireAfterEmptyPolls when zero.
func NewService(cfg ServiceConfig) *Service {
	retire := cfg.RetireAfterEmptyPolls
	if retire <= 0 {
		retire = DefaultRetireAfterEmptyPolls
	}
	clock := cfg.Clock
	if clock == nil {
		clock = discovery.RealClock
	}
	return &Service{
		searcher:              cfg.Searcher,
		factory:               cfg.Factory,
		searchInterval:        time.Duration(cfg.SearchIntervalMillis) * time.Millisecond,
		clock:                 clock,
		retireAfterEmptyPolls: retire,
		managers:              make(map[string]*Manager),
		rootIdx:               make(map[string]int),
	}
}

func managerKey(root discovery.RootLocation, partitionPrefix string) string {
	return root.Bucket + "\x00" + root.Prefix + "\x00" + partitionPrefix
}

// GetReaderManagers refreshes partition knowledge (subject to the
// searchIntervalMillis debounce: skipped if the last search is younger than
// the interval and its result was Completed for every root), spawns a
// Manager for every newly discovered partition, retires Managers whose
// partition has disappeared and exhausted their empty-poll budget, and
// returns the current Managers in stable order (by root index, then
// partition prefix lex).
func (s *Service) GetReaderManagers(ctx context.Context, roots []discovery.RootLocation) ([]*Manager, error) {
	for i, root := range roots {
		s.rootIdx[root.Bucket+"\x00"+root.Prefix] = i
	}

	shouldSearch := !s.everRefreshed || s.searchInterval <= 0 ||
		s.clock.Now().Sub(s.lastSearchAt) >= s.searchInterval || !s.lastSearchWasDry

	if shouldSearch {
		responses, err := s.searcher.Refresh(ctx, roots)
		if err != nil {
			return nil, err
		}
		s.lastSearchAt = s.clock.Now()
		s.everRefreshed = true

		allCompleted := true
		present := make(map[string]struct{})

		for _, resp := range responses {
			if !resp.LastResult.IsCompleted() {
				allCompleted = false
			}
			for p := range resp.AllPartitions {
				key := managerKey(resp.Root, p)
				present[key] = struct{}{}
				if _, ok := s.managers[key]; !ok {
					s.managers[key] = s.factory(resp.Root, p)
				}
			}
		}
		s.lastSearchWasDry = allCompleted

		for key, mgr := range s.managers {
			if mgr.State() == StateClosed {
				continue
			}
			if _, ok := present[key]; !ok && mgr.ConsecutiveEmptyPolls() >= s.retireAfterEmptyPolls {
				_ = mgr.Close()
			}
		}
	}

	return s.orderedManagers(roots), nil
}

// CloseAll closes every Manager the service has spawned so far, returning
// the first error encountered. Used by the task state machine's Open ->
// Closed transition, which closes all managers before the storage handle.
func (s *Service) CloseAll() error {
	var firstErr error
	for _, mgr := range s.managers {
		if err := mgr.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (s *Service) orderedManagers(roots []discovery.RootLocation) []*Manager {
	type entry struct {
		rootIndex int
		prefix    string
		mgr       *Manager
	}

	entries := make([]entry, 0, len(s.managers))
	for key, mgr := range s.managers {
		idx, ok := s.rootIdx[mgr.cfg.Root.Bucket+"\x00"+mgr.cfg.Root.Prefix]
		if !ok {
			idx = len(roots)
		}
		_ = key
		entries = append(entries, entry{rootIndex: idx, prefix: mgr.PartitionPrefix(), mgr: mgr})
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].rootIndex != entries[j].rootIndex {
			return entries[i].rootIndex < entries[j].rootIndex
		}
		return entries[i].prefix < entries[j].prefix
	})

	out := make([]*Manager, len(entries))
	for i, e := range entries {
		out[i] = e.mgr
	}
	return out
}
