package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/s3conduit/internal/config"
	errwrap "github.com/3leaps/s3conduit/internal/errors"
	"github.com/3leaps/s3conduit/internal/observability"
	"github.com/3leaps/s3conduit/pkg/discovery"
	"github.com/3leaps/s3conduit/pkg/match"
	"github.com/3leaps/s3conduit/pkg/objectstore/s3"
	"github.com/3leaps/s3conduit/pkg/offsetstore"
	"github.com/3leaps/s3conduit/pkg/output"
	"github.com/3leaps/s3conduit/pkg/preflight"
	"github.com/3leaps/s3conduit/pkg/readermanager"
	"github.com/3leaps/s3conduit/pkg/sourcetask"
	"github.com/3leaps/s3conduit/pkg/streamformat"
)

var (
	sourceBucket        string
	sourceEndpoint      string
	sourceProfile       string
	sourceRoutes        []string
	sourceTaskIdx       int
	sourceTaskCnt       int
	sourceFormat        string
	sourcePreflightMode string
	offsetStorePath     string
	offsetStoreURL      string
)

var sourceCmd = &cobra.Command{
	Use:   "source",
	Short: "Run or inspect the S3 source task",
}

var sourceRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the source task and poll it in a loop, writing records as JSONL to stdout",
	Long: `source run drives one instance of the Task State Machine (spec.md §4.8):
Start builds the storage capability, partition searcher, and reader manager
service from the given routes; Poll is then called on a fixed cadence until
the process receives SIGINT/SIGTERM, at which point Close flushes and shuts
down every open reader.`,
	RunE: runSourceRun,
}

var sourceStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Open the offset store and list the given routes (committed offsets are not printed)",
	RunE:  runSourceStatus,
}

func init() {
	rootCmd.AddCommand(sourceCmd)
	sourceCmd.AddCommand(sourceRunCmd)
	sourceCmd.AddCommand(sourceStatusCmd)

	for _, fs := range []*cobra.Command{sourceRunCmd, sourceStatusCmd} {
		fs.Flags().StringVar(&sourceBucket, "bucket", "", "S3 bucket to read from (required)")
		fs.Flags().StringVar(&sourceEndpoint, "endpoint", "", "Custom S3-compatible endpoint URL")
		fs.Flags().StringVar(&sourceProfile, "profile", "", "AWS profile to use")
		fs.Flags().StringVar(&offsetStorePath, "offset-store", "", "Path to the local offset database (libsql/sqlite file)")
		fs.Flags().StringVar(&offsetStoreURL, "offset-store-url", "", "libsql/Turso URL for the offset database")
	}

	sourceRunCmd.Flags().StringArrayVar(&sourceRoutes, "route", nil, "KCQL-style routing expression (repeatable); see spec.md §4.7")
	sourceStatusCmd.Flags().StringArrayVar(&sourceRoutes, "route", nil, "KCQL-style routing expression to list (repeatable)")
	sourceRunCmd.Flags().IntVar(&sourceTaskIdx, "task-index", 0, "This task's zero-based index among task-count peers")
	sourceRunCmd.Flags().IntVar(&sourceTaskCnt, "task-count", 1, "Total number of source task instances sharing the configured roots")
	sourceRunCmd.Flags().StringVar(&sourceFormat, "format", "bytes", "Stream record format: bytes or text")
	sourceRunCmd.Flags().StringVar(&sourcePreflightMode, "preflight-mode", "read-safe", "Readiness check mode: plan-only, read-safe, write-probe")
}

func runSourceRun(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	if sourceBucket == "" {
		return exitError(foundry.ExitInvalidArgument, "Invalid flags",
			errwrap.NewInvalidInputError("--bucket is required"))
	}
	if len(sourceRoutes) == 0 {
		return exitError(foundry.ExitInvalidArgument, "Invalid flags",
			errwrap.NewInvalidInputError("at least one --route is required"))
	}

	cfg, err := config.Load(ctx)
	if err != nil {
		return exitError(1, "Failed to load config", err)
	}

	store, err := s3.New(ctx, s3.Config{
		Bucket:         sourceBucket,
		Endpoint:       sourceEndpoint,
		Profile:        sourceProfile,
		ForcePathStyle: sourceEndpoint != "",
	})
	if err != nil {
		return exitError(1, "Failed to build storage capability", err)
	}

	var offsets *offsetstore.Store
	if offsetStorePath != "" || offsetStoreURL != "" {
		offsets, err = offsetstore.Open(ctx, offsetstore.Config{Path: offsetStorePath, URL: offsetStoreURL})
		if err != nil {
			return exitError(1, "Failed to open offset store", err)
		}
		defer offsets.Close()
	}

	var offsetFn readermanager.OffsetFunc
	if offsets != nil {
		lookup := offsets.OffsetFunc(ctx)
		offsetFn = func(root discovery.RootLocation, prefix string) (*discovery.PathWithLine, bool) {
			return lookup(root, prefix)
		}
	}

	format := streamformat.FormatBytes
	if strings.EqualFold(sourceFormat, "text") {
		format = streamformat.FormatText
	}

	matcher, err := match.New(match.Config{Includes: []string{"**"}})
	if err != nil {
		return exitError(1, "Failed to build matcher", err)
	}

	task := sourcetask.New()
	props := sourcetask.Props{
		Store:                 store,
		RoutingExpressions:    sourceRoutes,
		TaskCount:             sourceTaskCnt,
		TaskIndex:             sourceTaskIdx,
		RecurseLevels:         cfg.Source.PartitionSearchRecurseLevels,
		SearchIntervalMillis:  cfg.Source.PartitionSearchIntervalMs,
		PauseAfterCount:       cfg.Source.PartitionSearchPauseCount,
		PauseAfterMillis:      cfg.Source.PartitionSearchPauseMillis,
		RetireAfterEmptyPolls: cfg.Source.RetireAfterEmptyPolls,
		Format:                format,
		Matcher:               matcher,
		PreflightSpec:         preflight.Spec{Mode: preflight.Mode(sourcePreflightMode)},
		MaxBatchSize:          cfg.Source.MaxBatchSize,
	}

	if err := task.Start(ctx, props, offsetFn); err != nil {
		return exitError(1, "Failed to start source task", err)
	}
	observability.CLILogger.Info("source task started",
		zap.String("bucket", sourceBucket),
		zap.Int("task_index", sourceTaskIdx),
		zap.Int("task_count", sourceTaskCnt))

	writer := output.NewJSONLWriter(os.Stdout, jobIDFor(sourceBucket), "s3")
	defer writer.Close()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	pollInterval := time.Duration(cfg.Source.PartitionSearchIntervalMs) * time.Millisecond
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-sigCh:
			observability.CLILogger.Info("shutdown signal received, closing source task")
			return task.Close(ctx)
		case <-ctx.Done():
			return task.Close(ctx)
		case <-ticker.C:
			records, pollErr := task.Poll(ctx)
			if pollErr != nil {
				observability.CLILogger.Warn("poll returned a partition error", zap.Error(pollErr))
			}
			for i := range records {
				if err := writer.WriteSourceRecord(ctx, &records[i]); err != nil {
					observability.CLILogger.Error("failed writing record", zap.Error(err))
				}
			}
			if len(records) > 0 {
				observability.CLILogger.Info("poll emitted records", zap.Int("count", len(records)))
			}
		}
	}
}

func runSourceStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	if offsetStorePath == "" && offsetStoreURL == "" {
		return exitError(foundry.ExitInvalidArgument, "Invalid flags",
			errwrap.NewInvalidInputError("--offset-store or --offset-store-url is required"))
	}

	offsets, err := offsetstore.Open(ctx, offsetstore.Config{Path: offsetStorePath, URL: offsetStoreURL})
	if err != nil {
		return exitError(1, "Failed to open offset store", err)
	}
	defer offsets.Close()

	if len(sourceRoutes) == 0 {
		observability.CLILogger.Info("no --route given; pass one or more --route flags to check specific partition offsets")
		return nil
	}

	for _, expr := range sourceRoutes {
		observability.CLILogger.Info(fmt.Sprintf("route: %s", expr))
	}
	return nil
}

func jobIDFor(bucket string) string {
	return fmt.Sprintf("%s-%d", bucket, time.Now().Unix())
}
