package observability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/contrib/processors/minsev"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutlog"
	"go.opentelemetry.io/otel/log/global"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/trace"
)

// instrumentationName identifies walletbridge records in exported telemetry.
const instrumentationName = "github.com/torvane/walletbridge"

// Standard OpenTelemetry environment variables honored by Instrument.
const (
	envLogsExporter = "OTEL_LOGS_EXPORTER"
	envOTLPProtocol = "OTEL_EXPORTER_OTLP_PROTOCOL"
)

// Instrument configures the process-wide slog default logger.
//
// Local output goes to stderr in the given format ("text" or "json"). When
// OTEL_LOGS_EXPORTER is set to anything but "none", the same records are
// additionally exported through the OpenTelemetry log bridge, filtered to
// the same level.
func Instrument(level slog.Level, format string) error {
	local, err := localHandler(level, format)
	if err != nil {
		return err
	}

	handler := withTraceContext(local)

	if exporter := os.Getenv(envLogsExporter); exporter != "" && exporter != "none" {
		provider, err := newLoggerProvider(level)
		if err != nil {
			return fmt.Errorf("failed to configure log export: %w", err)
		}
		global.SetLoggerProvider(provider)

		bridge := otelslog.NewHandler(instrumentationName, otelslog.WithLoggerProvider(provider))
		handler = withTraceContext(fanout{local, bridge})
	}

	slog.SetDefault(slog.New(handler))
	return nil
}

func localHandler(level slog.Level, format string) (slog.Handler, error) {
	opts := &slog.HandlerOptions{Level: level}
	switch format {
	case "json":
		return slog.NewJSONHandler(os.Stderr, opts), nil
	case "", "text":
		return slog.NewTextHandler(os.Stderr, opts), nil
	}
	return nil, fmt.Errorf("unsupported log format %q (expected text or json)", format)
}

// newLoggerProvider builds the OTLP pipeline selected by the standard
// environment variables, dropping records below the local log level before
// they reach the exporter.
func newLoggerProvider(level slog.Level) (*sdklog.LoggerProvider, error) {
	exp, err := newExporter(context.Background())
	if err != nil {
		return nil, err
	}

	processor := minsev.NewLogProcessor(sdklog.NewBatchProcessor(exp), severity(level))
	return sdklog.NewLoggerProvider(sdklog.WithProcessor(processor)), nil
}

func newExporter(ctx context.Context) (sdklog.Exporter, error) {
	switch exporter := os.Getenv(envLogsExporter); exporter {
	case "otlp":
		switch proto := os.Getenv(envOTLPProtocol); proto {
		case "", "http/protobuf":
			return otlploghttp.New(ctx)
		case "grpc":
			return otlploggrpc.New(ctx)
		default:
			return nil, fmt.Errorf("unsupported %s %q", envOTLPProtocol, proto)
		}
	case "console":
		return stdoutlog.New()
	default:
		return nil, fmt.Errorf("unsupported %s %q", envLogsExporter, exporter)
	}
}

// severity maps a slog level to the minimum OpenTelemetry severity kept by
// the export pipeline.
func severity(level slog.Level) minsev.Severity {
	switch {
	case level >= slog.LevelError:
		return minsev.SeverityError
	case level >= slog.LevelWarn:
		return minsev.SeverityWarn
	case level >= slog.LevelInfo:
		return minsev.SeverityInfo
	default:
		return minsev.SeverityDebug
	}
}

// traceContextHandler decorates records with trace_id and span_id when the
// context carries an active span, so local logs line up with exported
// telemetry.
type traceContextHandler struct {
	slog.Handler
}

func withTraceContext(h slog.Handler) slog.Handler {
	return traceContextHandler{Handler: h}
}

func (h traceContextHandler) Handle(ctx context.Context, r slog.Record) error {
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		r.AddAttrs(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return h.Handler.Handle(ctx, r)
}

func (h traceContextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return traceContextHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h traceContextHandler) WithGroup(name string) slog.Handler {
	return traceContextHandler{Handler: h.Handler.WithGroup(name)}
}

// fanout duplicates records to every handler, local stderr plus the
// export bridge.
type fanout []slog.Handler

func (f fanout) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f fanout) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range f {
		if h.Enabled(ctx, r.Level) {
			if err := h.Handle(ctx, r.Clone()); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func (f fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make(fanout, len(f))
	for i, h := range f {
		next[i] = h.WithAttrs(attrs)
	}
	return next
}

func (f fanout) WithGroup(name string) slog.Handler {
	next := make(fanout, len(f))
	for i, h := range f {
		next[i] = h.WithGroup(name)
	}
	return next
}
