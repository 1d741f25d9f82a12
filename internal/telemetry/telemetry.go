// Package telemetry wires OpenTelemetry into lm.
//
// Nothing is exported unless LM_OTEL_ENABLED=true; the global providers are
// then no-ops and instrumented code pays only for a few interface calls.
//
// # Environment
//
//	LM_OTEL_ENABLED=true                 turn telemetry on
//	LM_OTEL_STDOUT=true                  pretty-print metrics to Output as well
//	OTEL_EXPORTER_OTLP_METRICS_ENDPOINT  OTLP/HTTP collector for metrics (host:port)
//	OTEL_EXPORTER_OTLP_ENDPOINT          used when the metrics endpoint is unset
//
// Spans from push and the Linear adapter always go to Output when enabled.
// The lm.outcomes counter goes to whichever metric readers are configured.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const defaultScope = "github.com/linearmanager/lm"

const (
	stdoutInterval = 15 * time.Second
	otlpInterval   = 30 * time.Second
)

// Output receives exported spans and stdout metrics. Stdout carries command
// results such as --json reports, so this is stderr.
var Output io.Writer = os.Stderr

// Settings is the telemetry configuration read from the environment.
type Settings struct {
	Enabled         bool
	StdoutMetrics   bool
	MetricsEndpoint string
}

// SettingsFromEnv reads Settings from the LM_OTEL_* and OTEL_* variables.
func SettingsFromEnv() Settings {
	endpoint := os.Getenv("OTEL_EXPORTER_OTLP_METRICS_ENDPOINT")
	if endpoint == "" {
		endpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	}
	return Settings{
		Enabled:         os.Getenv("LM_OTEL_ENABLED") == "true",
		StdoutMetrics:   os.Getenv("LM_OTEL_STDOUT") == "true",
		MetricsEndpoint: endpoint,
	}
}

// Enabled reports whether LM_OTEL_ENABLED=true.
func Enabled() bool {
	return SettingsFromEnv().Enabled
}

var flushers []func(context.Context) error

// Init installs the global tracer and meter providers for serviceName.
func Init(ctx context.Context, serviceName, version string) error {
	s := SettingsFromEnv()
	if !s.Enabled {
		otel.SetTracerProvider(tracenoop.NewTracerProvider())
		otel.SetMeterProvider(metricnoop.NewMeterProvider())
		return nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			attribute.String("service.name", serviceName),
			attribute.String("service.version", version),
		),
		resource.WithHost(),
		resource.WithProcess(),
	)
	if err != nil {
		return fmt.Errorf("telemetry: resource: %w", err)
	}

	spans, err := stdouttrace.New(stdouttrace.WithWriter(Output), stdouttrace.WithPrettyPrint())
	if err != nil {
		return fmt.Errorf("telemetry: span exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(spans),
	)

	readers, err := metricReaders(ctx, s)
	if err != nil {
		_ = tp.Shutdown(ctx)
		return fmt.Errorf("telemetry: metric readers: %w", err)
	}
	mopts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	for _, r := range readers {
		mopts = append(mopts, sdkmetric.WithReader(r))
	}
	mp := sdkmetric.NewMeterProvider(mopts...)

	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)
	flushers = append(flushers, tp.Shutdown, mp.Shutdown)
	return nil
}

func metricReaders(ctx context.Context, s Settings) ([]sdkmetric.Reader, error) {
	var readers []sdkmetric.Reader
	if s.StdoutMetrics {
		exp, err := stdoutmetric.New(stdoutmetric.WithWriter(Output))
		if err != nil {
			return nil, err
		}
		readers = append(readers, sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(stdoutInterval)))
	}
	if s.MetricsEndpoint != "" {
		exp, err := otlpmetrichttp.New(ctx,
			otlpmetrichttp.WithEndpoint(s.MetricsEndpoint),
			otlpmetrichttp.WithInsecure(),
		)
		if err != nil {
			return nil, fmt.Errorf("otlp %s: %w", s.MetricsEndpoint, err)
		}
		readers = append(readers, sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(otlpInterval)))
	}
	return readers, nil
}

// Tracer returns a tracer for scope, or for lm itself when scope is empty.
func Tracer(scope string) trace.Tracer {
	if scope == "" {
		scope = defaultScope
	}
	return otel.Tracer(scope)
}

// Meter returns a meter for scope, or for lm itself when scope is empty.
func Meter(scope string) metric.Meter {
	if scope == "" {
		scope = defaultScope
	}
	return otel.Meter(scope)
}

// Shutdown flushes pending spans and metrics. Export errors are returned
// joined; callers on the exit path usually ignore them.
func Shutdown(ctx context.Context) error {
	var errs []error
	for _, fn := range flushers {
		if err := fn(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	flushers = nil
	return errors.Join(errs...)
}
