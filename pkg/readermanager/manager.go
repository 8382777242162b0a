// Package readermanager implements the Reader Manager (per partition) and
// the Reader Manager Service: the registry that spawns one Manager per
// discovered partition and fans poll calls out across them.
package readermanager

import (
	"context"

	"github.com/3leaps/s3conduit/pkg/discovery"
	"github.com/3leaps/s3conduit/pkg/objectstore"
	"github.com/3leaps/s3conduit/pkg/resultreader"
	"github.com/3leaps/s3conduit/pkg/streamformat"
)

// Store is the subset of storage capabilities a Manager needs: flat listing
// to find the next object in a partition, and the ability to open one.
type Store interface {
	objectstore.Store
	objectstore.ObjectGetter
}

// State is a Manager's lifecycle state.
type State int

const (
	StateIdle State = iota
	StateReading
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateReading:
		return "reading"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// OffsetFunc looks up a partition's last-committed offset from the host's
// offset store, if any.
type OffsetFunc func(root discovery.RootLocation, partitionPrefix string) (*discovery.PathWithLine, bool)

// Config configures a Manager for one (root, partition) pair.
type Config struct {
	Root            discovery.RootLocation
	PartitionPrefix string
	Format          streamformat.Format
	Topic           string
	PartitionFunc   resultreader.PartitionFunc
	Store           Store
	OffsetFn        OffsetFunc
}

// Manager opens the next object for a partition, pumps its reader, advances
// to the next object on exhaustion, and surfaces records. See spec §4.6.
type Manager struct {
	cfg   Config
	state State

	reader       streamformat.Reader
	resultReader *resultreader.ResultReader

	lastCommitted         *discovery.PathWithLine
	consecutiveEmptyPolls int

	// pendingResume is true from construction until the first openNext call
	// when cfg.OffsetFn supplied a host offset. It relaxes the next-object
	// search from strictly-greater to greater-or-equal so the committed
	// object's own key can be reopened and resumed mid-object, per spec
	// §4.6. Cleared unconditionally after the first openNext, since any
	// later reopen of the same key means that object was exhausted and the
	// manager must move on.
	pendingResume bool
}

// NewManager constructs a Manager, consulting cfg.OffsetFn for a resumption
// offset if the host supplies one.
func NewManager(cfg Config) *Manager {
	m := &Manager{cfg: cfg, state: StateIdle}
	if cfg.OffsetFn != nil {
		if offset, ok := cfg.OffsetFn(cfg.Root, cfg.PartitionPrefix); ok {
			m.lastCommitted = offset
			m.pendingResume = true
		}
	}
	return m
}

func (m *Manager) State() State                  { return m.state }
func (m *Manager) ConsecutiveEmptyPolls() int     { return m.consecutiveEmptyPolls }
func (m *Manager) PartitionPrefix() string        { return m.cfg.PartitionPrefix }
func (m *Manager) LastCommitted() *discovery.PathWithLine { return m.lastCommitted }

// Poll advances the manager by at most one object transition and returns up
// to limit records. A StorageError surfaces as a poll failure; the manager
// stays in its pre-failure state so the next poll retries.
func (m *Manager) Poll(ctx context.Context, limit int) ([]resultreader.SourceData, error) {
	if m.state == StateClosed {
		return nil, nil
	}

	if m.state == StateIdle {
		opened, err := m.openNext(ctx)
		if err != nil {
			return nil, err
		}
		if !opened {
			m.consecutiveEmptyPolls++
			return nil, nil
		}
	}

	batch, err := m.resultReader.Retrieve(limit)
	if err != nil {
		return nil, err
	}
	if batch == nil {
		_ = m.reader.Close()
		m.reader = nil
		m.resultReader = nil
		m.state = StateIdle
		m.consecutiveEmptyPolls++
		return nil, nil
	}

	last := batch.Records[len(batch.Records)-1]
	m.lastCommitted = &discovery.PathWithLine{Path: last.Location, Line: last.Line}
	m.consecutiveEmptyPolls = 0

	if !m.reader.HasNext() {
		_ = m.reader.Close()
		m.reader = nil
		m.resultReader = nil
		m.state = StateIdle
	}

	return batch.Records, nil
}

// Close releases the current reader, if any, and moves the manager to its
// terminal state. Further polls return empty.
func (m *Manager) Close() error {
	if m.state == StateClosed {
		return nil
	}
	m.state = StateClosed
	if m.reader != nil {
		err := m.reader.Close()
		m.reader = nil
		m.resultReader = nil
		return err
	}
	return nil
}

// openNext finds the next object under the partition prefix and opens a
// reader over it, positioned at the committed line when resuming the same
// object. On the first open after a host-supplied offset, the committed
// key itself is eligible (so the object is reopened mid-stream); every
// later open requires a key strictly greater than the last one read.
func (m *Manager) openNext(ctx context.Context) (bool, error) {
	afterKey := m.cfg.PartitionPrefix
	inclusive := false
	if m.lastCommitted != nil {
		afterKey = m.lastCommitted.Path.Key
		inclusive = m.pendingResume
	}
	m.pendingResume = false

	obj, err := findNextObject(ctx, m.cfg.Store, m.cfg.PartitionPrefix, afterKey, inclusive)
	if err != nil {
		return false, err
	}
	if obj == nil {
		return false, nil
	}

	startLine := 0
	if m.lastCommitted != nil && m.lastCommitted.Path.Key == obj.Key {
		startLine = m.lastCommitted.Line + 1
	}

	body, _, err := m.cfg.Store.GetObject(ctx, obj.Key)
	if err != nil {
		return false, err
	}

	loc := discovery.PathLocation{Bucket: m.cfg.Root.Bucket, Key: obj.Key}
	reader, err := streamformat.Open(m.cfg.Format, loc, body, startLine)
	if err != nil {
		_ = body.Close()
		return false, err
	}

	m.reader = reader
	m.resultReader = resultreader.New(reader, m.cfg.Topic, m.cfg.PartitionFunc)
	m.state = StateReading
	return true, nil
}

// findNextObject pages through store.List under prefix to find the
// lexicographically first key greater than afterKey, or greater-or-equal
// to it when inclusive is set (the resume case: reopen the committed
// object itself rather than skip past it).
func findNextObject(ctx context.Context, store Store, prefix, afterKey string, inclusive bool) (*objectstore.ObjectSummary, error) {
	var token string
	for {
		page, err := store.List(ctx, objectstore.ListOptions{Prefix: prefix, ContinuationToken: token})
		if err != nil {
			return nil, err
		}
		for i := range page.Objects {
			obj := page.Objects[i]
			if inclusive {
				if obj.Key < afterKey {
					continue
				}
			} else if obj.Key <= afterKey {
				continue
			}
			return &obj, nil
		}
		if !page.IsTruncated || page.ContinuationToken == "" {
			return nil, nil
		}
		token = page.ContinuationToken
	}
}
