// Package observability wires up structured logging for the CLI and the
// poll-driven source tasks, following the project's zap conventions.
package observability

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// CLILogger is the logger used by cobra commands for user-facing progress
// and diagnostics. It is replaced by Init once flags/config are parsed.
var CLILogger = mustBootstrap()

// TelemetrySystem and PrometheusExporter are set by the metrics subsystem
// during server startup. They are left nil until InitTelemetry runs, which
// the health handlers treat as "telemetry not initialized".
var (
	TelemetrySystem    interface{}
	PrometheusExporter interface{}
)

var initOnce sync.Once

// mustBootstrap builds a minimal logger usable before configuration is
// loaded, matching the profile used by Init("info", "structured").
func mustBootstrap() *zap.Logger {
	l, err := buildLogger("info", "structured")
	if err != nil {
		return zap.NewNop()
	}
	return l
}

// Init (re)configures CLILogger for the given level and profile. profile is
// either "structured" (JSON) or "console" (human-readable, used for TTYs).
func Init(level, profile string) error {
	l, err := buildLogger(level, profile)
	if err != nil {
		return err
	}
	CLILogger = l
	return nil
}

func buildLogger(level, profile string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		zapLevel = zapcore.InfoLevel
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	switch profile {
	case "console", "CONSOLE":
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encCfg)
	default:
		encoder = zapcore.NewJSONEncoder(encCfg)
	}

	core := zapcore.NewCore(encoder, zapcore.Lock(os.Stderr), zapLevel)
	return zap.New(core), nil
}

// TaskLogger returns a child logger scoped to a single source task, tagging
// every record with its task name so multiplexed poll loops stay legible.
func TaskLogger(taskName string) *zap.Logger {
	return CLILogger.With(zap.String("task", taskName))
}

// InitTelemetry marks the telemetry subsystem as ready. Subsequent health
// checks that require telemetry will succeed once this has run.
func InitTelemetry(system, exporter interface{}) {
	initOnce.Do(func() {})
	TelemetrySystem = system
	PrometheusExporter = exporter
}
