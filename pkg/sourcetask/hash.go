package sourcetask

import (
	"hash/fnv"
	"time"

	"github.com/3leaps/s3conduit/pkg/discovery"
	"github.com/3leaps/s3conduit/pkg/objectstore"
	"github.com/3leaps/s3conduit/pkg/partition"
)

func partitionSearcher(store objectstore.Store, props Props) *partition.Searcher {
	cfg := partition.Config{
		Config: discovery.Config{
			RecurseLevels:          props.RecurseLevels,
			MaxPrefixesBeforePause: props.PauseAfterCount,
		},
		WallClockBudget: time.Duration(props.PauseAfterMillis) * time.Millisecond,
		Matcher:         props.Matcher,
	}
	return partition.New(store, cfg)
}

// stableInt32Hash derives a non-negative int32 partition number from a
// partition key via FNV-1a, giving the same key the same target partition
// across restarts without the host needing to persist an assignment table.
func stableInt32Hash(key string) int32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int32(h.Sum32() & 0x7fffffff)
}
