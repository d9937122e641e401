// Package telemetry wires OpenTelemetry tracing (Google Cloud Trace) and
// bridges OpenTelemetry metrics onto the Prometheus registry.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync"

	texporter "github.com/GoogleCloudPlatform/opentelemetry-operations-go/exporter/trace"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentationName names the tracer used across the gateway.
const InstrumentationName = "github.com/JakeFAU/article-gateway"

// Options describes the process for resource attributes and export.
type Options struct {
	ServiceName string
	Version     string
	// ProjectID enables export to Google Cloud Trace when set.
	ProjectID string
	// Registerer receives the OpenTelemetry metric bridge. Defaults to
	// prometheus.DefaultRegisterer.
	Registerer prometheus.Registerer
}

// Providers holds the installed providers.
type Providers struct {
	Tracer *sdktrace.TracerProvider
	Meter  *metric.MeterProvider

	shutdownOnce sync.Once
}

var (
	initOnce  sync.Once
	providers *Providers
	initErr   error
)

// Init installs global tracer and meter providers. Later calls return the
// providers from the first call.
func Init(ctx context.Context, opts Options) (*Providers, error) {
	initOnce.Do(func() {
		providers, initErr = build(ctx, opts)
		if initErr != nil {
			return
		}
		otel.SetTracerProvider(providers.Tracer)
		otel.SetMeterProvider(providers.Meter)
		otel.SetTextMapPropagator(
			propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}),
		)
	})
	return providers, initErr
}

func build(ctx context.Context, opts Options) (*Providers, error) {
	attrs := []resource.Option{
		resource.WithAttributes(
			semconv.ServiceName(opts.ServiceName),
			semconv.ServiceVersion(opts.Version),
		),
	}
	if opts.ProjectID != "" {
		attrs = append(attrs, resource.WithAttributes(
			semconv.CloudProviderGCP,
			semconv.CloudPlatformGCPCloudRun,
			semconv.CloudAccountID(opts.ProjectID),
		))
	}
	res, err := resource.New(ctx, attrs...)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	traceOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.AlwaysSample())),
	}
	if opts.ProjectID != "" {
		exporter, err := texporter.New(texporter.WithProjectID(opts.ProjectID))
		if err != nil {
			return nil, fmt.Errorf("failed to create google trace exporter: %w", err)
		}
		traceOpts = append(traceOpts, sdktrace.WithBatcher(exporter))
	}

	registerer := opts.Registerer
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	promExporter, err := otelprom.New(otelprom.WithRegisterer(registerer))
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	return &Providers{
		Tracer: sdktrace.NewTracerProvider(traceOpts...),
		Meter:  metric.NewMeterProvider(metric.WithResource(res), metric.WithReader(promExporter)),
	}, nil
}

// Shutdown flushes and stops both providers. Only the first call does work;
// the providers are process-wide and may be shared by several owners.
func (p *Providers) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	var errs []error
	p.shutdownOnce.Do(func() {
		if p.Tracer != nil {
			if err := p.Tracer.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("shutdown tracer provider: %w", err))
			}
		}
		if p.Meter != nil {
			if err := p.Meter.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("shutdown meter provider: %w", err))
			}
		}
	})
	return errors.Join(errs...)
}

// Tracer returns the gateway tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(InstrumentationName)
}
