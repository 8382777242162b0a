package cmd

import (
	"fmt"
	"os"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	errwrap "github.com/3leaps/s3conduit/internal/errors"
	"github.com/3leaps/s3conduit/internal/observability"
	"github.com/3leaps/s3conduit/pkg/backfill"
	"github.com/3leaps/s3conduit/pkg/match"
	"github.com/3leaps/s3conduit/pkg/objectstore/s3"
	"github.com/3leaps/s3conduit/pkg/output"
)

var (
	backfillBucket      string
	backfillEndpoint    string
	backfillProfile     string
	backfillIncludes    []string
	backfillExcludes    []string
	backfillPrefixes    []string
	backfillConcurrency int
	backfillRateLimit   float64
	backfillMinSize     string
	backfillMaxSize     string
	backfillModAfter    string
	backfillModBefore   string
	backfillKeyRegex    string
)

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Run a one-shot bulk crawl of an S3 bucket, emitting matched objects as JSONL",
	Long: `backfill lists every object under the given bucket (optionally scoped to
one or more prefixes), matches it against the given glob patterns and
optional size/date filters, and writes one JSONL record per matched object
to stdout, followed by a final summary record. Unlike "source run", this is
a bounded, one-shot pipeline with no resumable offset tracking.`,
	RunE: runBackfill,
}

func init() {
	rootCmd.AddCommand(backfillCmd)

	backfillCmd.Flags().StringVar(&backfillBucket, "bucket", "", "S3 bucket to crawl (required)")
	backfillCmd.Flags().StringVar(&backfillEndpoint, "endpoint", "", "Custom S3-compatible endpoint URL")
	backfillCmd.Flags().StringVar(&backfillProfile, "profile", "", "AWS profile to use")
	backfillCmd.Flags().StringArrayVar(&backfillIncludes, "include", []string{"**"}, "Glob pattern to include (repeatable)")
	backfillCmd.Flags().StringArrayVar(&backfillExcludes, "exclude", nil, "Glob pattern to exclude (repeatable)")
	backfillCmd.Flags().StringArrayVar(&backfillPrefixes, "prefix", nil, "Restrict the crawl to these prefixes (repeatable); defaults to patterns derived from --include")
	backfillCmd.Flags().IntVar(&backfillConcurrency, "concurrency", 0, "Parallel list operations (0 uses the default)")
	backfillCmd.Flags().Float64Var(&backfillRateLimit, "rate-limit", 0, "Maximum store requests per second (0 is unlimited)")
	backfillCmd.Flags().StringVar(&backfillMinSize, "min-size", "", "Skip objects smaller than this size (e.g. 1KB, 5MB)")
	backfillCmd.Flags().StringVar(&backfillMaxSize, "max-size", "", "Skip objects larger than this size (e.g. 1GB)")
	backfillCmd.Flags().StringVar(&backfillModAfter, "modified-after", "", "Skip objects last modified before this time (ISO 8601, e.g. 2024-01-15)")
	backfillCmd.Flags().StringVar(&backfillModBefore, "modified-before", "", "Skip objects last modified at or after this time (ISO 8601)")
	backfillCmd.Flags().StringVar(&backfillKeyRegex, "key-regex", "", "Skip objects whose key doesn't match this regex, applied after glob matching")
}

func runBackfill(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	if backfillBucket == "" {
		return exitError(foundry.ExitInvalidArgument, "Invalid flags",
			errwrap.NewInvalidInputError("--bucket is required"))
	}

	store, err := s3.New(ctx, s3.Config{
		Bucket:         backfillBucket,
		Endpoint:       backfillEndpoint,
		Profile:        backfillProfile,
		ForcePathStyle: backfillEndpoint != "",
	})
	if err != nil {
		return exitError(1, "Failed to build storage capability", err)
	}
	defer store.Close()

	matcher, err := match.New(match.Config{Includes: backfillIncludes, Excludes: backfillExcludes})
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid include/exclude patterns", err)
	}

	var filterCfg match.FilterConfig
	hasFilter := false
	if backfillMinSize != "" || backfillMaxSize != "" {
		filterCfg.Size = &match.SizeFilterConfig{Min: backfillMinSize, Max: backfillMaxSize}
		hasFilter = true
	}
	if backfillModAfter != "" || backfillModBefore != "" {
		filterCfg.Modified = &match.DateFilterConfig{After: backfillModAfter, Before: backfillModBefore}
		hasFilter = true
	}
	if backfillKeyRegex != "" {
		filterCfg.KeyRegex = backfillKeyRegex
		hasFilter = true
	}

	cfg := backfill.DefaultConfig()
	if backfillConcurrency > 0 {
		cfg.Concurrency = backfillConcurrency
	}
	cfg.RateLimit = backfillRateLimit

	writer := output.NewJSONLWriter(os.Stdout, fmt.Sprintf("backfill-%s", backfillBucket), "s3")
	defer writer.Close()

	b := backfill.New(store, matcher, writer, fmt.Sprintf("backfill-%s", backfillBucket), cfg)
	if hasFilter {
		filter, err := match.NewFilterFromConfig(&filterCfg)
		if err != nil {
			return exitError(foundry.ExitInvalidArgument, "Invalid filter configuration", err)
		}
		b = b.WithFilter(filter)
	}
	if len(backfillPrefixes) > 0 {
		b = b.WithPrefixes(backfillPrefixes)
	}

	observability.CLILogger.Info("starting backfill", zap.String("bucket", backfillBucket))

	summary, err := b.Run(ctx)
	if err != nil {
		return exitError(1, "Backfill failed", err)
	}

	observability.CLILogger.Info("backfill complete",
		zap.Int64("objects_listed", summary.ObjectsListed),
		zap.Int64("objects_matched", summary.ObjectsMatched),
		zap.Int64("bytes_total", summary.BytesTotal),
		zap.Int64("errors", summary.Errors),
		zap.Duration("duration", summary.Duration))
	return nil
}
