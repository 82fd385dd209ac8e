// Package observability bootstraps OpenTelemetry tracing and metrics with
// OTLP exporters.
package observability

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "kaos-console"

// Config selects the OTLP exporter. The standard OTEL_* variables fill in
// whatever is left empty.
type Config struct {
	Enabled     bool
	Endpoint    string
	Protocol    string // grpc or http/protobuf
	ServiceName string
	// ResourceAttributes is a comma separated list of key=value pairs.
	ResourceAttributes string
}

// Telemetry holds the installed providers and the console's instruments.
type Telemetry struct {
	enabled  bool
	shutdown func(context.Context) error

	chatStreams  metric.Int64Counter
	chatDuration metric.Float64Histogram
}

// Disabled returns a Telemetry that records nothing.
func Disabled() *Telemetry {
	return &Telemetry{shutdown: func(context.Context) error { return nil }}
}

// Setup installs global tracer and meter providers exporting over OTLP. It
// returns a disabled Telemetry, not an error, when telemetry is switched
// off or has no endpoint.
func Setup(ctx context.Context, cfg Config, log logr.Logger) (*Telemetry, error) {
	if !cfg.Enabled {
		return Disabled(), nil
	}
	serviceName := firstNonEmpty(cfg.ServiceName, os.Getenv("OTEL_SERVICE_NAME"), "kaos-console")
	endpoint := firstNonEmpty(cfg.Endpoint, os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	protocol := strings.ToLower(firstNonEmpty(cfg.Protocol, os.Getenv("OTEL_EXPORTER_OTLP_PROTOCOL"), "grpc"))
	attrs := firstNonEmpty(cfg.ResourceAttributes, os.Getenv("OTEL_RESOURCE_ATTRIBUTES"))

	if endpoint == "" {
		log.Info("telemetry enabled but no OTLP endpoint set; skipping OpenTelemetry setup")
		return Disabled(), nil
	}

	res := buildResource(serviceName, attrs, log)
	tp, mp, err := buildProviders(ctx, protocol, endpoint, res)
	if err != nil {
		return nil, fmt.Errorf("initializing OTLP exporters: %w", err)
	}
	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)
	log.Info("telemetry enabled", "endpoint", endpoint, "protocol", protocol, "service", serviceName)

	t := &Telemetry{
		enabled: true,
		shutdown: func(ctx context.Context) error {
			var firstErr error
			if err := tp.Shutdown(ctx); err != nil {
				firstErr = err
			}
			if err := mp.Shutdown(ctx); err != nil && firstErr == nil {
				firstErr = err
			}
			return firstErr
		},
	}
	t.initMetrics(log)
	return t, nil
}

// Shutdown flushes and stops the exporters.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	return t.shutdown(ctx)
}

func (t *Telemetry) initMetrics(log logr.Logger) {
	meter := otel.Meter(instrumentationName)
	var err error
	t.chatStreams, err = meter.Int64Counter("kaos.chat.streams")
	if err != nil {
		log.Error(err, "creating metric", "name", "kaos.chat.streams")
	}
	t.chatDuration, err = meter.Float64Histogram("kaos.chat.stream.duration", metric.WithUnit("ms"))
	if err != nil {
		log.Error(err, "creating metric", "name", "kaos.chat.stream.duration")
	}
}

// RecordChatStream records one finished chat stream.
func (t *Telemetry) RecordChatStream(ctx context.Context, agent, outcome string, d time.Duration) {
	if t == nil || !t.enabled {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("agent", agent),
		attribute.String("outcome", outcome),
	)
	if t.chatStreams != nil {
		t.chatStreams.Add(ctx, 1, attrs)
	}
	if t.chatDuration != nil {
		t.chatDuration.Record(ctx, float64(d.Milliseconds()), attrs)
	}
}

func buildResource(serviceName, attrsCSV string, log logr.Logger) *resource.Resource {
	attrs := []attribute.KeyValue{
		semconv.ServiceName(serviceName),
		attribute.String("service.namespace", "kaos"),
	}
	for k, v := range parseResourceAttributes(attrsCSV) {
		attrs = append(attrs, attribute.String(k, v))
	}
	res, err := resource.New(context.Background(),
		resource.WithAttributes(attrs...),
		resource.WithHost(),
		resource.WithProcess(),
	)
	if err != nil {
		log.Error(err, "building OTel resource, using defaults")
		return resource.Default()
	}
	return res
}

func buildProviders(
	ctx context.Context,
	protocol string,
	endpoint string,
	res *resource.Resource,
) (*sdktrace.TracerProvider, *sdkmetric.MeterProvider, error) {
	host, insecure := normalizeEndpoint(endpoint)

	var (
		traceExp sdktrace.SpanExporter
		reader   sdkmetric.Reader
	)
	switch protocol {
	case "http/protobuf", "http":
		traceOpts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(host)}
		metricOpts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(host)}
		if insecure {
			traceOpts = append(traceOpts, otlptracehttp.WithInsecure())
			metricOpts = append(metricOpts, otlpmetrichttp.WithInsecure())
		}
		te, err := otlptracehttp.New(ctx, traceOpts...)
		if err != nil {
			return nil, nil, err
		}
		me, err := otlpmetrichttp.New(ctx, metricOpts...)
		if err != nil {
			return nil, nil, err
		}
		traceExp, reader = te, sdkmetric.NewPeriodicReader(me)
	case "grpc":
		traceOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(host)}
		metricOpts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(host)}
		if insecure {
			traceOpts = append(traceOpts, otlptracegrpc.WithInsecure())
			metricOpts = append(metricOpts, otlpmetricgrpc.WithInsecure())
		}
		te, err := otlptracegrpc.New(ctx, traceOpts...)
		if err != nil {
			return nil, nil, err
		}
		me, err := otlpmetricgrpc.New(ctx, metricOpts...)
		if err != nil {
			return nil, nil, err
		}
		traceExp, reader = te, sdkmetric.NewPeriodicReader(me)
	default:
		return nil, nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExp),
		sdktrace.WithResource(res),
	)
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(reader),
		sdkmetric.WithResource(res),
	)
	return tp, mp, nil
}

// normalizeEndpoint strips a URL scheme down to host:port and reports
// whether the connection should skip TLS.
func normalizeEndpoint(endpoint string) (string, bool) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return "", true
	}
	if strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://") {
		u, err := url.Parse(endpoint)
		if err == nil && u.Host != "" {
			return u.Host, u.Scheme != "https"
		}
	}
	return endpoint, true
}

func parseResourceAttributes(csv string) map[string]string {
	out := map[string]string{}
	for _, part := range strings.Split(csv, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		k, v = strings.TrimSpace(k), strings.TrimSpace(v)
		if !ok || k == "" || v == "" {
			continue
		}
		out[k] = v
	}
	return out
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// MarkSpanError records err on span.
func MarkSpanError(span trace.Span, err error) {
	if span == nil || err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// Traceparent formats the span context of ctx as a W3C traceparent header
// value, or "" when ctx carries no span.
func Traceparent(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return ""
	}
	flags := "00"
	if sc.TraceFlags().IsSampled() {
		flags = "01"
	}
	return fmt.Sprintf("00-%s-%s-%s", sc.TraceID().String(), sc.SpanID().String(), flags)
}
