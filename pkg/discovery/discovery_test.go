package discovery

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/s3conduit/pkg/objectstore"
)

// pagedStore is a fake objectstore.Store that serves pre-built pages keyed
// by ContinuationToken ("" is the first page).
type pagedStore struct {
	pages map[string]*objectstore.ListResult
}

func (p *pagedStore) List(_ context.Context, opts objectstore.ListOptions) (*objectstore.ListResult, error) {
	page, ok := p.pages[opts.ContinuationToken]
	if !ok {
		return &objectstore.ListResult{}, nil
	}
	return page, nil
}

func (p *pagedStore) Head(_ context.Context, _ string) (*objectstore.ObjectMeta, error) {
	panic("not used")
}

func (p *pagedStore) Close() error { return nil }

// delimiterPagedStore is a pagedStore that also implements
// objectstore.DelimiterLister; its ListWithDelimiter panics, so a test
// using it fails if Find takes the delimiter walk.
type delimiterPagedStore struct{ *pagedStore }

func (delimiterPagedStore) ListWithDelimiter(_ context.Context, _ objectstore.ListWithDelimiterOptions) (*objectstore.ListWithDelimiterResult, error) {
	panic("ListWithDelimiter not expected")
}

func objs(keys ...string) []objectstore.ObjectSummary {
	out := make([]objectstore.ObjectSummary, len(keys))
	for i, k := range keys {
		out[i] = objectstore.ObjectSummary{Key: k}
	}
	return out
}

// S1: two prefixes, single page, completed.
func TestFind_SinglePageCompleted(t *testing.T) {
	store := &pagedStore{pages: map[string]*objectstore.ListResult{
		"": {Objects: objs("prefix1/1.txt", "prefix1/2.txt", "prefix2/3.txt", "prefix2/4.txt")},
	}}

	root := RootLocation{Bucket: "b"}
	res, err := Find(context.Background(), store, root, Config{}, nil, nil, nil)
	require.NoError(t, err)
	assert.True(t, res.IsCompleted())
	assert.Equal(t, []string{"prefix1/", "prefix2/"}, res.Prefixes)
}

// S2: multi-page completion.
func TestFind_MultiPageCompleted(t *testing.T) {
	store := &pagedStore{pages: map[string]*objectstore.ListResult{
		"": {
			Objects:           objs("prefix1/1.txt", "prefix1/2.txt", "prefix2/3.txt", "prefix2/4.txt"),
			IsTruncated:       true,
			ContinuationToken: "page2",
		},
		"page2": {
			Objects: objs("prefix3/5.txt", "prefix3/6.txt", "prefix4/7.txt", "prefix4/8.txt"),
		},
	}}

	root := RootLocation{Bucket: "b"}
	res, err := Find(context.Background(), store, root, Config{}, nil, nil, nil)
	require.NoError(t, err)
	assert.True(t, res.IsCompleted())
	assert.Equal(t, []string{"prefix1/", "prefix2/", "prefix3/", "prefix4/"}, res.Prefixes)
}

// S3: exclusion.
func TestFind_Exclusion(t *testing.T) {
	store := &pagedStore{pages: map[string]*objectstore.ListResult{
		"": {
			Objects:           objs("prefix1/1.txt", "prefix1/2.txt", "prefix2/3.txt", "prefix2/4.txt"),
			IsTruncated:       true,
			ContinuationToken: "page2",
		},
		"page2": {
			Objects: objs("prefix3/5.txt", "prefix3/6.txt", "prefix4/7.txt", "prefix4/8.txt"),
		},
	}}

	exclude := map[string]struct{}{"prefix1/": {}, "prefix4/": {}}
	root := RootLocation{Bucket: "b"}
	res, err := Find(context.Background(), store, root, Config{}, exclude, nil, nil)
	require.NoError(t, err)
	assert.True(t, res.IsCompleted())
	assert.Equal(t, []string{"prefix2/", "prefix3/"}, res.Prefixes)
}

// S4/S5: pause after the first page, then resume to completion.
func TestFind_PauseThenResume(t *testing.T) {
	store := &pagedStore{pages: map[string]*objectstore.ListResult{
		"": {
			Objects:           objs("prefix1/1.txt", "prefix1/2.txt", "prefix2/3.txt", "prefix2/4.txt"),
			IsTruncated:       true,
			ContinuationToken: "page2",
		},
		"page2": {
			Objects: objs("prefix3/5.txt", "prefix3/6.txt", "prefix4/7.txt", "prefix4/8.txt"),
		},
	}}

	root := RootLocation{Bucket: "b"}
	cfg := Config{MaxPrefixesBeforePause: 2}

	paused, err := Find(context.Background(), store, root, cfg, nil, nil, nil)
	require.NoError(t, err)
	assert.True(t, paused.IsPaused())
	assert.Equal(t, []string{"prefix1/", "prefix2/"}, paused.Prefixes)
	assert.Equal(t, "prefix2/", paused.LastPrefix)
	assert.NotEmpty(t, paused.ResumeAfterKey)

	resumed, err := Find(context.Background(), store, root, cfg, nil, &paused.Continuation, nil)
	require.NoError(t, err)
	assert.True(t, resumed.IsCompleted())
	assert.Equal(t, []string{"prefix3/", "prefix4/"}, resumed.Prefixes)
}

// Delimiter discipline: flat keys directly under the root are ignored.
func TestFind_FlatKeysIgnored(t *testing.T) {
	store := &pagedStore{pages: map[string]*objectstore.ListResult{
		"": {Objects: objs("readme.txt", "prefix1/1.txt")},
	}}

	root := RootLocation{Bucket: "b"}
	res, err := Find(context.Background(), store, root, Config{}, nil, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"prefix1/"}, res.Prefixes)
}

// A marker object whose key equals prefix+"/" is not promoted as data.
func TestFind_PrefixMarkerObjectIsPartitionNotData(t *testing.T) {
	store := &pagedStore{pages: map[string]*objectstore.ListResult{
		"": {Objects: objs("prefix1/", "prefix1/1.txt")},
	}}

	root := RootLocation{Bucket: "b"}
	res, err := Find(context.Background(), store, root, Config{}, nil, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"prefix1/"}, res.Prefixes)
}

// RecurseLevels descends one additional delimiter level.
func TestFind_RecurseLevels(t *testing.T) {
	store := &pagedStore{pages: map[string]*objectstore.ListResult{
		"": {Objects: objs("a/b/1.txt", "a/c/2.txt")},
	}}

	root := RootLocation{Bucket: "b"}
	res, err := Find(context.Background(), store, root, Config{RecurseLevels: 1}, nil, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"a/b/", "a/c/"}, res.Prefixes)
}

// delimiterStore is a fake store that also implements
// objectstore.DelimiterLister, exercising Find's delimiter-native path.
type delimiterStore struct {
	pages map[string]*objectstore.ListWithDelimiterResult
}

func (d *delimiterStore) List(context.Context, objectstore.ListOptions) (*objectstore.ListResult, error) {
	panic("flat List should not be called when DelimiterLister is available")
}

func (d *delimiterStore) Head(context.Context, string) (*objectstore.ObjectMeta, error) {
	panic("not used")
}

func (d *delimiterStore) Close() error { return nil }

func (d *delimiterStore) ListWithDelimiter(_ context.Context, opts objectstore.ListWithDelimiterOptions) (*objectstore.ListWithDelimiterResult, error) {
	key := opts.ContinuationToken
	page, ok := d.pages[key]
	if !ok {
		return &objectstore.ListWithDelimiterResult{}, nil
	}
	return page, nil
}

// A store that implements DelimiterLister is walked via ListWithDelimiter,
// not the flat List fallback.
func TestFind_UsesDelimiterListerWhenAvailable(t *testing.T) {
	store := &delimiterStore{pages: map[string]*objectstore.ListWithDelimiterResult{
		"": {CommonPrefixes: []string{"prefix1/", "prefix2/"}},
	}}

	root := RootLocation{Bucket: "b"}
	res, err := Find(context.Background(), store, root, Config{}, nil, nil, nil)
	require.NoError(t, err)
	assert.True(t, res.IsCompleted())
	assert.Equal(t, []string{"prefix1/", "prefix2/"}, res.Prefixes)
}

// RecurseLevels > 0 can't be resolved by one delimiter page, so Find falls
// back to the flat-list walk even when the store supports DelimiterLister.
func TestFind_RecurseLevelsBypassesDelimiterLister(t *testing.T) {
	store := delimiterPagedStore{&pagedStore{pages: map[string]*objectstore.ListResult{
		"": {Objects: objs("a/b/1.txt", "a/c/2.txt")},
	}}}

	root := RootLocation{Bucket: "b"}
	res, err := Find(context.Background(), store, root, Config{RecurseLevels: 1}, nil, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"a/b/", "a/c/"}, res.Prefixes)
}

// A pause that lands on a non-truncated page carries a raw key/prefix
// marker (ResumeIsPageToken false); StartAfter on resume, not
// ContinuationToken, since real S3 treats the latter as opaque.
func TestFind_PauseOnNonTruncatedPageResumesWithStartAfter(t *testing.T) {
	store := &pagedStore{pages: map[string]*objectstore.ListResult{
		"": {Objects: objs("prefix1/1.txt", "prefix2/2.txt")},
	}}

	root := RootLocation{Bucket: "b"}
	cfg := Config{MaxPrefixesBeforePause: 1}

	paused, err := Find(context.Background(), store, root, cfg, nil, nil, nil)
	require.NoError(t, err)
	assert.True(t, paused.IsPaused())
	assert.False(t, paused.ResumeIsPageToken, "non-truncated page must resume via StartAfter, not an opaque token")
	assert.Equal(t, "prefix2/2.txt", paused.ResumeAfterKey)
}

type fixedClock struct{ now time.Time }

func (f fixedClock) Now() time.Time { return f.now }

// A wall-clock deadline in the past pauses immediately after the first page,
// even if the count threshold hasn't been reached.
func TestFind_WallClockDeadlinePauses(t *testing.T) {
	store := &pagedStore{pages: map[string]*objectstore.ListResult{
		"": {
			Objects:           objs("prefix1/1.txt"),
			IsTruncated:       true,
			ContinuationToken: "page2",
		},
		"page2": {Objects: objs("prefix2/2.txt")},
	}}

	deadline := time.Unix(0, 0)
	cfg := Config{WallClockDeadline: &deadline}
	root := RootLocation{Bucket: "b"}

	res, err := Find(context.Background(), store, root, cfg, nil, nil, fixedClock{now: time.Unix(100, 0)})
	require.NoError(t, err)
	assert.True(t, res.IsPaused())
	assert.Equal(t, []string{"prefix1/"}, res.Prefixes)
}

// MaxPrefixesBeforePause = 0 never pauses on count.
func TestFind_ZeroMaxNeverPausesOnCount(t *testing.T) {
	store := &pagedStore{pages: map[string]*objectstore.ListResult{
		"": {Objects: objs("prefix1/1.txt", "prefix2/2.txt", "prefix3/3.txt")},
	}}

	root := RootLocation{Bucket: "b"}
	res, err := Find(context.Background(), store, root, Config{MaxPrefixesBeforePause: 0}, nil, nil, nil)
	require.NoError(t, err)
	assert.True(t, res.IsCompleted())
	assert.Len(t, res.Prefixes, 3)
}
