package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

// TracingConfig selects the OTLP collector and sampling for InitTracing.
type TracingConfig struct {
	Endpoint    string
	Insecure    bool
	SampleRatio float64
}

// TracingConfigFromEnv reads OTEL_EXPORTER_OTLP_ENDPOINT, OTEL_EXPORTER_OTLP_INSECURE
// (default true) and OTEL_TRACES_SAMPLER_ARG (ratio in [0,1], default 1).
func TracingConfigFromEnv() TracingConfig {
	tc := TracingConfig{
		Endpoint:    strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")),
		Insecure:    true,
		SampleRatio: 1,
	}
	if v := os.Getenv("OTEL_EXPORTER_OTLP_INSECURE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			tc.Insecure = b
		}
	}
	if v := os.Getenv("OTEL_TRACES_SAMPLER_ARG"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 && f <= 1 {
			tc.SampleRatio = f
		}
	}
	return tc
}

func (tc TracingConfig) sampler() sdktrace.Sampler {
	if tc.SampleRatio >= 1 {
		return sdktrace.AlwaysSample()
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(tc.SampleRatio))
}

// InitTracing installs an OTLP/gRPC tracer provider for serviceName. Without
// an endpoint it is a no-op and spans go to the global no-op provider.
func InitTracing(serviceName, serviceVersion string) (func(), error) {
	tc := TracingConfigFromEnv()
	if tc.Endpoint == "" {
		slog.Info("tracing disabled: OTEL_EXPORTER_OTLP_ENDPOINT not set")
		return func() {}, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(tc.Endpoint)}
	if tc.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create trace exporter: %w", err)
	}
	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceName(serviceName),
		semconv.ServiceVersion(serviceVersion),
	))
	if err != nil {
		return nil, fmt.Errorf("create trace resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(tc.sampler()),
	)
	otel.SetTracerProvider(tp)
	slog.Info("tracing initialized", slog.String("service", serviceName), slog.String("endpoint", tc.Endpoint),
		slog.Float64("sample_ratio", tc.SampleRatio))

	return func() {
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		if err := tp.Shutdown(sctx); err != nil {
			slog.Error("tracer provider shutdown", slog.Any("err", err))
		}
	}, nil
}

// StartSpan starts a span on tracerName, tagging it with the request's correlation id.
func StartSpan(ctx context.Context, tracerName, spanName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if corr := GetCorrelation(ctx); corr != "" {
		attrs = append(attrs, attribute.String("correlation_id", corr))
	}
	return otel.Tracer(tracerName).Start(ctx, spanName, trace.WithAttributes(attrs...))
}

// RecordError marks span failed with err. A nil err is ignored.
func RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

func SetSpanSuccess(span trace.Span) { span.SetStatus(codes.Ok, "") }

func HTTPMethodAttr(method string) attribute.KeyValue { return semconv.HTTPMethod(method) }

func HTTPRouteAttr(route string) attribute.KeyValue { return semconv.HTTPRoute(route) }

// SetSpanHTTPStatus records the response status code on span.
func SetSpanHTTPStatus(span trace.Span, status int) {
	span.SetAttributes(semconv.HTTPStatusCode(status))
}

// ErrorStatus returns an error span status with msg.
func ErrorStatus(msg string) (codes.Code, string) {
	return codes.Error, msg
}

// MagickAttrs returns span attributes describing a media engine invocation.
func MagickAttrs(op, source string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("magick.op", op),
		attribute.String("magick.source", source),
	}
}
