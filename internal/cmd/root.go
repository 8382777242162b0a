// Package cmd wires the s3conduit CLI: the poll-driven source connector
// commands, a one-shot backfill command, and an operational HTTP server.
package cmd

import (
	"fmt"
	"os"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/3leaps/s3conduit/internal/observability"
)

// versionInfo holds build-time metadata injected via SetVersionInfo (ldflags
// at build time, literal values in tests).
var versionInfo = struct {
	Version   string
	Commit    string
	BuildDate string
}{Version: "dev", Commit: "HEAD", BuildDate: "unknown"}

// SetVersionInfo records build metadata for `version` and the /version
// endpoint. Called from main() with linker-injected values.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
}

// appIdentity, when non-nil, is the resolved application identity (binary
// name, env prefix, config name) used for diagnostics and doctor checks.
type appIdentityInfo struct {
	BinaryName string
	EnvPrefix  string
	ConfigName string
}

var appIdentity *appIdentityInfo

// GetAppIdentity returns the resolved identity, or nil before rootCmd has
// run its PersistentPreRun.
func GetAppIdentity() *appIdentityInfo {
	return appIdentity
}

// readOnly gates any operation that could write to object storage (used by
// preflight write-probe checks). It defaults to false and is toggled by the
// global --readonly flag.
var readOnly bool

var rootCmd = &cobra.Command{
	Use:   "s3conduit",
	Short: "S3 source ingestion connector",
	Long: `s3conduit discovers, partitions, and streams records out of an S3
bucket under a Kafka-Connect-style source task model: directories are found
incrementally, partitions are matched against routing rules, and readers
resume from a durable byte/line offset on every poll.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		appIdentity = &appIdentityInfo{
			BinaryName: "s3conduit",
			EnvPrefix:  "S3CONDUIT",
			ConfigName: "s3conduit",
		}
		return observability.Init(viper.GetString("logging.level"), viper.GetString("logging.profile"))
	},
}

func init() {
	cobra.OnInitialize(func() { setDefaults() })

	rootCmd.PersistentFlags().BoolVar(&readOnly, "readonly", false, "Refuse any operation that could write to storage")
	_ = viper.BindPFlag("readonly", rootCmd.PersistentFlags().Lookup("readonly"))

	rootCmd.PersistentFlags().String("log-level", "", "Override logging.level")
	_ = viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
}

// Execute runs the root command; main() calls this and exits with its
// return value via os.Exit.
func Execute() error {
	return rootCmd.Execute()
}

// setDefaults installs the package-level viper defaults shared by the CLI
// and the operational HTTP server's bootstrap config.
func setDefaults() {
	viper.SetDefault("server.host", "localhost")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("server.write_timeout", "30s")
	viper.SetDefault("server.idle_timeout", "120s")
	viper.SetDefault("server.shutdown_timeout", "10s")

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.profile", "structured")

	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.port", 9090)

	viper.SetDefault("health.enabled", true)

	viper.SetDefault("workers", 4)

	viper.SetDefault("debug.enabled", false)
	viper.SetDefault("debug.pprof_enabled", false)
}

// ExitWithCode logs msg/err at error level and terminates the process with
// the given foundry exit code. Commands call this instead of returning an
// error when they need an exact process exit code.
func ExitWithCode(logger *zap.Logger, code int, msg string, err error) {
	if logger != nil {
		if err != nil {
			logger.Error(msg, zap.Error(err), zap.Int("exit_code", code))
		} else {
			logger.Error(msg, zap.Int("exit_code", code))
		}
	}
	os.Exit(code)
}

// exitError wraps err with an exit code for RunE handlers that prefer to
// return an error up to cobra rather than call os.Exit directly.
func exitError(code int, message string, err error) error {
	return fmt.Errorf("%s: %w (exit code %d)", message, err, code)
}

var _ = foundry.ExitInvalidArgument // referenced by sibling command files
