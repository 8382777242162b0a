// Package sourcetask implements the Task State Machine (spec.md §4.8):
// the outward-facing Clean -> Open -> Closed lifecycle a host framework
// drives with start/poll/close, wrapping the Partition Searcher and
// Reader Manager Service behind one synchronous poll call per task
// instance.
package sourcetask

import (
	"context"
	"fmt"

	"github.com/3leaps/s3conduit/pkg/discovery"
	"github.com/3leaps/s3conduit/pkg/match"
	"github.com/3leaps/s3conduit/pkg/objectstore"
	"github.com/3leaps/s3conduit/pkg/output"
	"github.com/3leaps/s3conduit/pkg/preflight"
	"github.com/3leaps/s3conduit/pkg/readermanager"
	"github.com/3leaps/s3conduit/pkg/resultreader"
	"github.com/3leaps/s3conduit/pkg/routing"
	"github.com/3leaps/s3conduit/pkg/streamformat"
)

// State is the task's lifecycle state.
type State int

const (
	StateClean State = iota
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateClean:
		return "clean"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// StateError reports an operation attempted from an illegal state.
type StateError struct {
	Op    string
	State State
}

func (e *StateError) Error() string {
	return fmt.Sprintf("sourcetask: %s: illegal in state %s", e.Op, e.State)
}

// Store is the subset of storage capabilities the task needs.
type Store interface {
	objectstore.Store
	objectstore.ObjectGetter
}

// Props configures Start. The host is expected to supply a ready Store
// capability (spec.md's non-goal: "no credential plumbing beyond receive a
// ready client capability") plus the parsed routing expressions and the
// discovery/search tuning keys of spec.md §6.
type Props struct {
	Store Store

	RoutingExpressions []string
	TaskCount          int
	TaskIndex          int

	RecurseLevels          int
	SearchIntervalMillis   int64
	PauseAfterCount        int
	PauseAfterMillis       int64
	RetireAfterEmptyPolls  int
	Format                 streamformat.Format
	Matcher                *match.Matcher
	PreflightSpec          preflight.Spec
	MaxBatchSize           int
}

// Task is one instance of the outward-facing state machine. Not safe for
// concurrent use; the host framework calls poll on one thread at a time per
// task (spec.md §5).
type Task struct {
	state State

	store   Store
	roots   []discovery.RootLocation
	routes  map[string]routing.Route // keyed by root bucket+prefix
	service *readermanager.Service

	maxBatchSize int
}

// New constructs a Task in the Clean state.
func New() *Task {
	return &Task{state: StateClean}
}

func (t *Task) State() State { return t.state }

func routeKey(root discovery.RootLocation) string {
	return root.Bucket + "\x00" + root.Prefix
}

// Start builds the task's storage, searcher, and reader manager service
// from props, running a readiness probe first. offsetFn, if non-nil,
// supplies the host's per-partition resumption offset (spec.md §4.6's
// contextOffsetFn).
func (t *Task) Start(ctx context.Context, props Props, offsetFn readermanager.OffsetFunc) error {
	if t.state != StateClean {
		return &StateError{Op: "start", State: t.state}
	}
	if props.Store == nil {
		return fmt.Errorf("sourcetask: start: a storage capability is required")
	}

	allRoutes, err := routing.ParseAll(props.RoutingExpressions)
	if err != nil {
		return fmt.Errorf("sourcetask: start: %w", err)
	}

	roots := make([]discovery.RootLocation, 0, len(allRoutes))
	routes := make(map[string]routing.Route, len(allRoutes))
	for _, r := range allRoutes {
		if !routing.AssignedTo(r.Root, props.TaskCount, props.TaskIndex) {
			continue
		}
		roots = append(roots, r.Root)
		routes[routeKey(r.Root)] = r
	}

	prefixes := make([]string, 0, len(roots))
	for _, r := range roots {
		prefixes = append(prefixes, r.NormalizedPrefix("/"))
	}
	if _, err := preflight.Crawl(ctx, props.Store, prefixes, props.PreflightSpec); err != nil {
		return fmt.Errorf("sourcetask: start: readiness probe failed: %w", err)
	}

	searcher := partitionSearcher(props.Store, props)

	format := props.Format
	if format == "" {
		format = streamformat.FormatBytes
	}

	factory := func(root discovery.RootLocation, prefix string) *readermanager.Manager {
		route, ok := routes[routeKey(root)]
		topic := ""
		var partitionFn resultreader.PartitionFunc
		if ok {
			topic = route.Topic
			partitionFn = func(loc discovery.PathLocation) int32 {
				key, err := route.PartitionKey(loc.Key)
				if err != nil {
					return 0
				}
				return stableInt32Hash(key)
			}
		}
		return readermanager.NewManager(readermanager.Config{
			Root:            root,
			PartitionPrefix: prefix,
			Format:          format,
			Topic:           topic,
			PartitionFunc:   partitionFn,
			Store:           props.Store,
			OffsetFn:        offsetFn,
		})
	}

	maxBatch := props.MaxBatchSize
	if maxBatch <= 0 {
		maxBatch = 500
	}

	t.store = props.Store
	t.roots = roots
	t.routes = routes
	t.service = readermanager.NewService(readermanager.ServiceConfig{
		Searcher:              searcher,
		Factory:               factory,
		SearchIntervalMillis:  props.SearchIntervalMillis,
		RetireAfterEmptyPolls: props.RetireAfterEmptyPolls,
	})
	t.maxBatchSize = maxBatch
	t.state = StateOpen
	return nil
}

// Poll returns up to maxBatchSize records, concatenating each manager's
// batch in stable order. Per spec.md §7, per-partition failures do not
// poison other partitions within a cycle: a poll returns every successful
// partition's records plus the first encountered error.
func (t *Task) Poll(ctx context.Context) ([]output.SourceRecordPayload, error) {
	switch t.state {
	case StateClean:
		return nil, &StateError{Op: "poll", State: t.state}
	case StateClosed:
		return nil, nil
	}

	managers, err := t.service.GetReaderManagers(ctx, t.roots)
	if err != nil {
		return nil, err
	}

	var out []output.SourceRecordPayload
	var firstErr error
	limit := t.maxBatchSize

	for _, mgr := range managers {
		if limit <= 0 {
			break
		}
		records, err := mgr.Poll(ctx, limit)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		for _, rec := range records {
			out = append(out, toSourceRecord(rec))
		}
		limit -= len(records)
	}

	return out, firstErr
}

// Close closes all reader managers, then the storage handle, and moves the
// task to its terminal state. A second Close is a no-op.
func (t *Task) Close(ctx context.Context) error {
	if t.state == StateClosed {
		return nil
	}

	var firstErr error
	if t.service != nil {
		if err := t.service.CloseAll(); err != nil {
			firstErr = err
		}
	}
	if t.store != nil {
		if err := t.store.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	t.state = StateClosed
	return firstErr
}

func toSourceRecord(rec resultreader.SourceData) output.SourceRecordPayload {
	return output.SourceRecordPayload{
		Topic:     rec.Topic,
		Partition: rec.Partition,
		Bucket:    rec.Location.Bucket,
		Key:       rec.Location.Key,
		Line:      rec.Line,
		Value:     rec.Record.Value,
	}
}
