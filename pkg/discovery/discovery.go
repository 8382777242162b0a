package discovery

import (
	"context"
	"strings"

	"github.com/3leaps/s3conduit/pkg/objectstore"
)

const delimiter = "/"

// Find runs one bounded discovery call and stops early on a count or
// deadline pause, returning a Continuation that resumes from where it left
// off. When store exposes objectstore.DelimiterLister and the caller wants
// the immediate child level (RecurseLevels == 0), Find walks the bucket's
// key hierarchy one delimiter level at a time via ListObjectsV2's own
// Delimiter/CommonPrefixes support, the native S3 rendition of directory
// discovery. Stores without that capability (or deeper RecurseLevels, which
// the delimiter primitive alone can't resolve in one page) fall back to
// paging through store.List and deriving child prefixes from full keys.
func Find(ctx context.Context, store objectstore.Store, root RootLocation, cfg Config, exclude map[string]struct{}, continueFrom *Continuation, clock Clock) (Result, error) {
	if clock == nil {
		clock = RealClock
	}

	basePrefix := root.NormalizedPrefix(delimiter)

	if dl, ok := store.(objectstore.DelimiterLister); ok && cfg.RecurseLevels == 0 {
		return findWithDelimiter(ctx, dl, basePrefix, cfg, exclude, continueFrom, clock)
	}

	depth := cfg.RecurseLevels + 1

	var token, startAfter string
	if continueFrom != nil {
		if continueFrom.ResumeIsPageToken {
			token = continueFrom.ResumeAfterKey
		} else {
			startAfter = continueFrom.ResumeAfterKey
		}
	}

	var found []string
	seen := make(map[string]struct{})
	lastPrefix := ""
	lastKeySeen := ""

	for {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}

		page, err := store.List(ctx, objectstore.ListOptions{
			Prefix:            basePrefix,
			ContinuationToken: token,
			StartAfter:        startAfter,
		})
		startAfter = ""
		if err != nil {
			return Result{}, err
		}

		for _, obj := range page.Objects {
			lastKeySeen = obj.Key
			candidate := derivePrefix(basePrefix, obj.Key, depth)
			if candidate == "" {
				continue
			}
			if _, excluded := exclude[candidate]; excluded {
				continue
			}
			if _, dup := seen[candidate]; dup {
				continue
			}
			seen[candidate] = struct{}{}
			found = append(found, candidate)
			lastPrefix = candidate
		}

		if shouldPause(cfg, len(found), clock) {
			contKey := page.ContinuationToken
			isToken := contKey != ""
			if !isToken {
				contKey = lastKeySeen
			}
			return Result{
				Kind:       Paused,
				Prefixes:   found,
				LastPrefix: lastPrefix,
				Continuation: Continuation{
					LastPrefix:        lastPrefix,
					ResumeAfterKey:    contKey,
					ResumeIsPageToken: isToken,
				},
			}, nil
		}

		if !page.IsTruncated || page.ContinuationToken == "" {
			return Result{Kind: Completed, Prefixes: found}, nil
		}
		token = page.ContinuationToken
	}
}

// findWithDelimiter is the delimiter-native counterpart to the flat-list
// walk above: it lets S3 group keys under basePrefix into CommonPrefixes
// directly, so found candidates are already complete partition prefixes
// with no key-splitting needed. Flat keys listed alongside the common
// prefixes (objects sitting directly under basePrefix) are ignored, same
// as the flat-list path's depth check.
func findWithDelimiter(ctx context.Context, store objectstore.DelimiterLister, basePrefix string, cfg Config, exclude map[string]struct{}, continueFrom *Continuation, clock Clock) (Result, error) {
	var token, startAfter string
	if continueFrom != nil {
		if continueFrom.ResumeIsPageToken {
			token = continueFrom.ResumeAfterKey
		} else {
			startAfter = continueFrom.ResumeAfterKey
		}
	}

	var found []string
	seen := make(map[string]struct{})
	lastPrefix := ""

	for {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}

		page, err := store.ListWithDelimiter(ctx, objectstore.ListWithDelimiterOptions{
			Prefix:            basePrefix,
			Delimiter:         delimiter,
			ContinuationToken: token,
			StartAfter:        startAfter,
		})
		startAfter = ""
		if err != nil {
			return Result{}, err
		}

		for _, candidate := range page.CommonPrefixes {
			if _, excluded := exclude[candidate]; excluded {
				continue
			}
			if _, dup := seen[candidate]; dup {
				continue
			}
			seen[candidate] = struct{}{}
			found = append(found, candidate)
			lastPrefix = candidate
		}

		if shouldPause(cfg, len(found), clock) {
			contKey := page.ContinuationToken
			isToken := contKey != ""
			if !isToken {
				contKey = lastPrefix
			}
			return Result{
				Kind:       Paused,
				Prefixes:   found,
				LastPrefix: lastPrefix,
				Continuation: Continuation{
					LastPrefix:        lastPrefix,
					ResumeAfterKey:    contKey,
					ResumeIsPageToken: isToken,
				},
			}, nil
		}

		if !page.IsTruncated || page.ContinuationToken == "" {
			return Result{Kind: Completed, Prefixes: found}, nil
		}
		token = page.ContinuationToken
	}
}

func shouldPause(cfg Config, foundCount int, clock Clock) bool {
	if cfg.MaxPrefixesBeforePause > 0 && foundCount >= cfg.MaxPrefixesBeforePause {
		return true
	}
	if cfg.WallClockDeadline != nil && !clock.Now().Before(*cfg.WallClockDeadline) {
		return true
	}
	return false
}

// derivePrefix returns the candidate partition prefix for key at depth
// delimiter-levels below basePrefix, or "" if key doesn't reach that depth
// (a flat key directly under the root is ignored, not promoted).
func derivePrefix(basePrefix, key string, depth int) string {
	if !strings.HasPrefix(key, basePrefix) {
		return ""
	}
	remainder := key[len(basePrefix):]
	segments := strings.SplitN(remainder, delimiter, depth+1)
	if len(segments) <= depth {
		return ""
	}
	return basePrefix + strings.Join(segments[:depth], delimiter) + delimiter
}
