package objectstore

import "context"

// DelimiterLister supports delimiter-based listing, returning objects
// directly under a prefix plus the immediate child prefixes ("directories").
// The directory finder (pkg/discovery.Find) uses this, when a store
// implements it, to walk a bucket's key hierarchy one level at a time
// instead of paging through every object and deriving prefixes by hand.
type DelimiterLister interface {
	ListWithDelimiter(ctx context.Context, opts ListWithDelimiterOptions) (*ListWithDelimiterResult, error)
}

type ListWithDelimiterOptions struct {
	Prefix            string
	Delimiter         string
	ContinuationToken string
	// StartAfter resumes from a known common prefix rather than an opaque
	// token. See ListOptions.StartAfter.
	StartAfter string
	MaxKeys    int
}

type ListWithDelimiterResult struct {
	Objects           []ObjectSummary
	CommonPrefixes    []string
	ContinuationToken string
	IsTruncated       bool
}
