// Package logger provides a request-logger plugin that records structured
// before/after/on-error log entries for every tool call the orchestrator
// dispatches. Register it with a blank import:
//
//	_ "github.com/forge-labs/capforge/internal/plugins/logger"
package logger

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/forge-labs/capforge/internal/logging"
	"github.com/forge-labs/capforge/internal/requestlog"
	"github.com/forge-labs/capforge/plugin"
)

func init() {
	plugin.RegisterFactory("request-logger", func() plugin.Plugin {
		return &RequestLogger{}
	})
}

const metadataStartedAt = "logger_started_at"

// RequestLogger is a logging plugin that emits structured log entries for
// every run_capability/mutate_capability call flowing through the
// orchestrator.
type RequestLogger struct {
	logLevel slog.Level
	writer   requestlog.Writer
}

// Name returns the plugin identifier.
func (l *RequestLogger) Name() string { return "request-logger" }

// Type returns the plugin lifecycle hook type.
func (l *RequestLogger) Type() plugin.PluginType { return plugin.TypeLogging }

// Init configures the plugin from the provided options map.
func (l *RequestLogger) Init(config map[string]interface{}) error {
	l.logLevel = slog.LevelInfo
	l.writer = requestlog.NoopWriter{}
	if level, ok := config["level"].(string); ok {
		switch level {
		case "debug":
			l.logLevel = slog.LevelDebug
		case "warn":
			l.logLevel = slog.LevelWarn
		case "error":
			l.logLevel = slog.LevelError
		}
	}

	persist, _ := config["persist"].(bool)
	if persist {
		backend, _ := config["backend"].(string)
		dsn, _ := config["dsn"].(string)
		switch strings.ToLower(strings.TrimSpace(backend)) {
		case "sqlite", "":
			writer, err := requestlog.NewSQLiteWriter(dsn)
			if err != nil {
				return err
			}
			l.writer = writer
		case "postgres", "postgresql":
			writer, err := requestlog.NewPostgresWriter(dsn)
			if err != nil {
				return err
			}
			l.writer = writer
		default:
			return fmt.Errorf("unsupported request log backend %q", backend)
		}
	}
	return nil
}

// Execute runs the plugin logic for the current tool invocation.
func (l *RequestLogger) Execute(ctx context.Context, pctx *plugin.Context) error {
	inv := pctx.Invocation
	if inv == nil {
		return nil
	}
	log := logging.FromContext(ctx)

	if pctx.Result == nil && pctx.Error == nil {
		// before_request stage
		now := time.Now().UTC()
		pctx.Metadata[metadataStartedAt] = now
		log.Log(ctx, l.logLevel, "tool call",
			"tool", inv.Name,
			"capability_id", inv.CapabilityID,
			"timestamp", now.Format(time.RFC3339),
		)
		_ = l.writer.Write(ctx, requestlog.Entry{
			TraceID:         logging.TraceIDFromContext(ctx),
			Stage:           string(plugin.StageBeforeRequest),
			ToolName:        inv.Name,
			CapabilityID:    inv.CapabilityID,
			TaskDescription: inv.TaskDescription,
			CreatedAt:       now,
		})
	}

	if pctx.Result != nil {
		// after_request stage
		now := time.Now().UTC()
		outcome := "ok"
		if pctx.Result.IsError {
			outcome = "error"
		}
		log.Log(ctx, l.logLevel, "tool result",
			"tool", inv.Name,
			"capability_id", inv.CapabilityID,
			"outcome", outcome,
			"latency_ms", latencyMS(pctx, now),
			"timestamp", now.Format(time.RFC3339),
		)
		_ = l.writer.Write(ctx, requestlog.Entry{
			TraceID:      logging.TraceIDFromContext(ctx),
			Stage:        string(plugin.StageAfterRequest),
			ToolName:     inv.Name,
			CapabilityID: inv.CapabilityID,
			Outcome:      outcome,
			LatencyMS:    latencyMS(pctx, now),
			CreatedAt:    now,
		})
	}

	if pctx.Error != nil {
		// on_error stage
		now := time.Now().UTC()
		log.Log(ctx, slog.LevelError, "tool call error",
			"tool", inv.Name,
			"capability_id", inv.CapabilityID,
			"error", pctx.Error.Error(),
			"timestamp", now.Format(time.RFC3339),
		)
		_ = l.writer.Write(ctx, requestlog.Entry{
			TraceID:      logging.TraceIDFromContext(ctx),
			Stage:        string(plugin.StageOnError),
			ToolName:     inv.Name,
			CapabilityID: inv.CapabilityID,
			Outcome:      "error",
			LatencyMS:    latencyMS(pctx, now),
			ErrorMessage: pctx.Error.Error(),
			CreatedAt:    now,
		})
	}

	return nil
}

// latencyMS computes elapsed time since the before_request stage stamped
// metadataStartedAt, or 0 if that stage never ran for this context.
func latencyMS(pctx *plugin.Context, now time.Time) int64 {
	started, ok := pctx.Metadata[metadataStartedAt].(time.Time)
	if !ok {
		return 0
	}
	return now.Sub(started).Milliseconds()
}
