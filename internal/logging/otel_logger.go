package logging

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// OTLPConfig controls the OTLP log export. When Enabled is false the
// service logs JSON to stdout and no collector is contacted.
type OTLPConfig struct {
	Enabled        bool
	Endpoint       string
	ServiceName    string
	ServiceVersion string
	Environment    string
	LogLevel       string
}

// OTLPLogger is a slog front end whose records are shipped to an OTLP
// collector through a batching provider. Shutdown flushes the batch.
type OTLPLogger struct {
	logger   *slog.Logger
	provider *log.LoggerProvider
	shutdown func(context.Context) error
}

// NewOTLPLogger builds the exporter, resource and provider chain for the
// configured endpoint. Failures here are returned rather than logged so
// the caller can fall back to plain stdout logging.
func NewOTLPLogger(config OTLPConfig) (*OTLPLogger, error) {
	minLevel := getSlogLevel(config.LogLevel)

	if !config.Enabled {
		stdout := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: minLevel}))
		return &OTLPLogger{
			logger:   stdout,
			shutdown: func(context.Context) error { return nil },
		}, nil
	}

	ctx := context.Background()

	endpoint := config.Endpoint
	if endpoint == "" {
		endpoint = "http://localhost:4318"
	}

	exporter, err := otlploghttp.New(ctx,
		otlploghttp.WithEndpoint(endpoint),
		otlploghttp.WithURLPath("/v1/logs"),
		otlploghttp.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP log exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(config.ServiceName),
			semconv.ServiceVersion(config.ServiceVersion),
			semconv.DeploymentEnvironment(config.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	provider := log.NewLoggerProvider(
		log.WithProcessor(log.NewBatchProcessor(exporter)),
		log.WithResource(res),
	)

	handler := &otlpHandler{
		logger:   provider.Logger(config.ServiceName),
		minLevel: minLevel,
	}

	return &OTLPLogger{
		logger:   slog.New(handler),
		provider: provider,
		shutdown: provider.Shutdown,
	}, nil
}

// Shutdown flushes buffered records and stops the provider.
func (l *OTLPLogger) Shutdown(ctx context.Context) error {
	if l.shutdown != nil {
		return l.shutdown(ctx)
	}
	return nil
}

// Logger returns the slog.Logger backed by the OTLP handler.
func (l *OTLPLogger) Logger() *slog.Logger {
	return l.logger
}

// otlpHandler adapts slog records into OTLP log records. Attributes added
// through With and WithGroup accumulate on the handler so they reach the
// collector alongside each record's own attributes.
type otlpHandler struct {
	logger   otellog.Logger
	minLevel slog.Level
	attrs    []otellog.KeyValue
	group    string
}

func (h *otlpHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.minLevel
}

func (h *otlpHandler) Handle(ctx context.Context, record slog.Record) error {
	attrs := make([]otellog.KeyValue, 0, len(h.attrs)+record.NumAttrs())
	attrs = append(attrs, h.attrs...)
	record.Attrs(func(a slog.Attr) bool {
		attrs = append(attrs, otellog.String(h.qualify(a.Key), a.Value.String()))
		return true
	})

	out := otellog.Record{}
	out.SetTimestamp(record.Time)
	out.SetObservedTimestamp(time.Now())
	out.SetSeverity(convertSlogLevelToSeverity(record.Level))
	out.SetBody(otellog.StringValue(record.Message))
	out.AddAttributes(attrs...)

	h.logger.Emit(ctx, out)
	return nil
}

func (h *otlpHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := h.clone()
	for _, a := range attrs {
		next.attrs = append(next.attrs, otellog.String(h.qualify(a.Key), a.Value.String()))
	}
	return next
}

func (h *otlpHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := h.clone()
	next.group = h.qualify(name)
	return next
}

func (h *otlpHandler) clone() *otlpHandler {
	return &otlpHandler{
		logger:   h.logger,
		minLevel: h.minLevel,
		attrs:    append([]otellog.KeyValue(nil), h.attrs...),
		group:    h.group,
	}
}

// qualify prefixes a key with the open group, matching how the stdlib
// text and JSON handlers flatten grouped attributes.
func (h *otlpHandler) qualify(key string) string {
	if h.group == "" {
		return key
	}
	return h.group + "." + key
}

func convertSlogLevelToSeverity(level slog.Level) otellog.Severity {
	switch {
	case level >= slog.LevelError:
		return otellog.SeverityError
	case level >= slog.LevelWarn:
		return otellog.SeverityWarn
	case level >= slog.LevelInfo:
		return otellog.SeverityInfo
	default:
		return otellog.SeverityDebug
	}
}
