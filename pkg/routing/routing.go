// Package routing parses the KCQL-like source routing expression and
// computes deterministic (taskCount, taskIndex) root assignment. See
// spec.md §5, §6.
package routing

import (
	"fmt"
	"hash/fnv"
	"regexp"
	"strings"

	"github.com/3leaps/s3conduit/pkg/discovery"
)

// ExtractorType selects how a discovered object key is mapped to a
// partition key when no partition prefix structure is otherwise implied.
type ExtractorType string

const (
	// ExtractorHierarchical treats the whole object name as the partition
	// key. Parse sets it on every route whose expression has no
	// WITH_EXTRACTOR=regex:<pattern> clause; the source.partition_extractor.*
	// config keys are not read here.
	ExtractorHierarchical ExtractorType = "hierarchical"

	// ExtractorRegex extracts a partition number from capture group 1 of a
	// configured regular expression.
	ExtractorRegex ExtractorType = "regex"
)

// Route is one parsed `INSERT INTO <topic> SELECT * FROM <bucket[/prefix]>`
// statement: a source root paired with its target topic.
type Route struct {
	Root  discovery.RootLocation
	Topic string

	// Extractor resolves how an object key maps to a partition key.
	// Defaults to ExtractorHierarchical.
	Extractor ExtractorType

	// ExtractorRegex is the capture-group-1 pattern, used only when
	// Extractor is ExtractorRegex.
	ExtractorRegex string
}

var kcqlPattern = regexp.MustCompile(`(?i)^\s*INSERT\s+INTO\s+(\S+)\s+SELECT\s+\*\s+FROM\s+(\S+?)(?:\s+(.*))?$`)

// Parse parses one KCQL-like routing expression into a Route. Trailing
// clauses such as PARTITIONBY or WITH_FLUSH_INTERVAL are accepted and
// ignored by the core (preserved for a downstream sink collaborator to
// read independently), except for an optional
// `WITH_EXTRACTOR=regex:<pattern>` clause which configures the regex
// extractor.
func Parse(expr string) (Route, error) {
	m := kcqlPattern.FindStringSubmatch(expr)
	if m == nil {
		return Route{}, fmt.Errorf("routing: invalid expression %q: want INSERT INTO <topic> SELECT * FROM <bucket[/prefix]>", expr)
	}

	topic := m[1]
	source := m[2]
	trailing := m[3]

	bucket, prefix, ok := strings.Cut(source, "/")
	if !ok {
		bucket, prefix = source, ""
	}
	if bucket == "" {
		return Route{}, fmt.Errorf("routing: invalid expression %q: empty bucket", expr)
	}

	route := Route{
		Root:      discovery.RootLocation{Bucket: bucket, Prefix: prefix},
		Topic:     topic,
		Extractor: ExtractorHierarchical,
	}

	if idx := strings.Index(strings.ToUpper(trailing), "WITH_EXTRACTOR="); idx >= 0 {
		rest := trailing[idx+len("WITH_EXTRACTOR="):]
		fields := strings.Fields(rest)
		if len(fields) > 0 {
			spec := fields[0]
			if kind, pattern, ok := strings.Cut(spec, ":"); ok && strings.EqualFold(kind, "regex") {
				route.Extractor = ExtractorRegex
				route.ExtractorRegex = pattern
			}
		}
	}

	return route, nil
}

// ParseAll parses one routing expression per line, skipping blank lines.
func ParseAll(exprs []string) ([]Route, error) {
	out := make([]Route, 0, len(exprs))
	for _, e := range exprs {
		if strings.TrimSpace(e) == "" {
			continue
		}
		r, err := Parse(e)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func rootAssignmentKey(root discovery.RootLocation) string {
	return root.Bucket + "/" + root.Prefix
}

// AssignedTo reports whether root is owned by taskIndex under a
// deterministic (taskCount, taskIndex) assignment: a stable FNV-1a hash of
// the root's bucket+prefix, modulo taskCount. Every root is owned by
// exactly one task index for a given taskCount.
func AssignedTo(root discovery.RootLocation, taskCount, taskIndex int) bool {
	if taskCount <= 0 {
		return taskIndex == 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(rootAssignmentKey(root)))
	return int(h.Sum32()%uint32(taskCount)) == taskIndex
}

// AssignedRoots filters roots to those owned by taskIndex under taskCount.
func AssignedRoots(roots []discovery.RootLocation, taskCount, taskIndex int) []discovery.RootLocation {
	out := make([]discovery.RootLocation, 0, len(roots))
	for _, r := range roots {
		if AssignedTo(r, taskCount, taskIndex) {
			out = append(out, r)
		}
	}
	return out
}

// PartitionKey resolves the partition key for a discovered object key under
// route's extractor. The hierarchical extractor returns the whole object
// key; the regex extractor returns capture group 1 of ExtractorRegex, or
// the whole key if the pattern does not match.
func (r Route) PartitionKey(objectKey string) (string, error) {
	switch r.Extractor {
	case ExtractorRegex:
		re, err := regexp.Compile(r.ExtractorRegex)
		if err != nil {
			return "", fmt.Errorf("routing: invalid extractor regex %q: %w", r.ExtractorRegex, err)
		}
		m := re.FindStringSubmatch(objectKey)
		if len(m) < 2 {
			return objectKey, nil
		}
		return m[1], nil
	default:
		return objectKey, nil
	}
}
