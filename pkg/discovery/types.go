// Package discovery implements paginated, delimiter-based directory
// discovery with exclusion, recursion levels, and a pause/resume
// continuation token (the Directory Lister).
package discovery

import (
	"strings"
	"time"
)

// RootLocation is a configured ingestion source: a bucket with an optional
// prefix. AllowSlash is carried with the root but not read by
// NormalizedPrefix, which keeps a prefix that already ends in the delimiter
// and appends the delimiter otherwise, whatever AllowSlash says.
type RootLocation struct {
	Bucket     string
	Prefix     string
	AllowSlash bool
}

// NormalizedPrefix returns the root's prefix with a trailing delimiter,
// or the empty string for a bucket-root listing.
func (r RootLocation) NormalizedPrefix(delimiter string) string {
	if r.Prefix == "" {
		return ""
	}
	if strings.HasSuffix(r.Prefix, delimiter) {
		return r.Prefix
	}
	return r.Prefix + delimiter
}

// PathLocation identifies a single object.
type PathLocation struct {
	Bucket string
	Key    string
}

// PathWithLine is an offset identifying a specific record within an object.
type PathWithLine struct {
	Path PathLocation
	Line int
}

// Less reports whether p sorts strictly before o under (lex(key), numeric(line)).
func (p PathWithLine) Less(o PathWithLine) bool {
	if p.Path.Key != o.Path.Key {
		return p.Path.Key < o.Path.Key
	}
	return p.Line < o.Line
}

// Config bounds a single Find invocation.
type Config struct {
	// RecurseLevels is the number of delimiter levels below the root to
	// descend before treating a segment as a partition prefix. Zero means
	// the immediate child level.
	RecurseLevels int

	// MaxPrefixesBeforePause pauses discovery once the cumulative newly
	// found prefixes for this call reach this count. Zero disables the
	// count-based pause.
	MaxPrefixesBeforePause int

	// WallClockDeadline, if set, bounds how long a single Find call may
	// run; discovery pauses rather than exceeding it.
	WallClockDeadline *time.Time
}

// Continuation resumes a paused Find call. ResumeAfterKey carries the
// resume marker; ResumeIsPageToken says how to use it. A page the store
// reported as truncated hands back an opaque, store-issued token (S3's
// NextContinuationToken) that must be replayed verbatim as
// ListOptions.ContinuationToken. A pause that lands on a non-truncated
// page instead carries the last object key actually seen, which must be
// resumed with ListOptions.StartAfter — passing a raw key as a
// ContinuationToken is rejected by real S3, which treats that value as
// opaque.
type Continuation struct {
	LastPrefix        string
	ResumeAfterKey    string
	ResumeIsPageToken bool
}

// ResultKind distinguishes the two DirectoryFindResult variants.
type ResultKind int

const (
	Completed ResultKind = iota
	Paused
)

// Result is the outcome of a Find call: either Completed (listing
// exhausted) or Paused (bounded by count or deadline, resumable via
// Continuation). Paused results always carry a non-empty ResumeAfterKey;
// Completed results never do.
type Result struct {
	Kind       ResultKind
	Prefixes   []string
	LastPrefix string
	Continuation
}

func (r Result) IsPaused() bool    { return r.Kind == Paused }
func (r Result) IsCompleted() bool { return r.Kind == Completed }

// Clock abstracts wall-clock time so deadline-triggered pauses are
// testable without sleeping.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// RealClock is the production Clock implementation.
var RealClock Clock = realClock{}
