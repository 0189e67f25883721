package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/runtime"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/trace"
)

// Telemetry holds all telemetry instruments and providers.
type Telemetry struct {
	meterProvider metric.MeterProvider
	tracer        trace.Tracer
	meter         metric.Meter
	exporter      *prometheus.Exporter

	// Download job metrics
	downloadsTotal   metric.Int64Counter
	downloadDuration metric.Float64Histogram
	jobsActive       metric.Int64UpDownCounter

	// Admission metrics
	admissionRejections metric.Int64Counter

	// Store metrics
	servesTotal        metric.Int64Counter
	reaperSweepsTotal  metric.Int64Counter
	reaperRemovedTotal metric.Int64Counter
}

// Config holds telemetry configuration.
type Config struct {
	Enabled      bool
	ServiceName  string
	OTLPEndpoint string
}

// New creates a new telemetry instance. The Prometheus exporter is always
// attached when enabled; an OTLP/gRPC periodic reader is added when an
// endpoint is configured. When disabled, every method is a no-op.
func New(ctx context.Context, cfg Config) (*Telemetry, error) {
	if !cfg.Enabled {
		return &Telemetry{}, nil
	}

	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	res := resource.NewSchemaless(
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.instance.id", GenerateInstanceID()),
	)

	opts := []sdkmetric.Option{
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	}

	if cfg.OTLPEndpoint != "" {
		otlpExporter, err := otlpmetricgrpc.New(ctx,
			otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint),
			otlpmetricgrpc.WithInsecure(),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create otlp exporter: %w", err)
		}

		opts = append(opts, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(otlpExporter)))
	}

	meterProvider := sdkmetric.NewMeterProvider(opts...)

	// Set global meter provider
	otel.SetMeterProvider(meterProvider)

	if err := runtime.Start(runtime.WithMinimumReadMemStatsInterval(15 * time.Second)); err != nil {
		return nil, fmt.Errorf("failed to start runtime instrumentation: %w", err)
	}

	t := &Telemetry{
		meterProvider: meterProvider,
		tracer:        otel.Tracer(cfg.ServiceName),
		meter:         otel.Meter(cfg.ServiceName),
		exporter:      exporter,
	}

	if err := t.initializeMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	return t, nil
}

// RecordDownload records the outcome and duration of one download job.
func (t *Telemetry) RecordDownload(service, outcome string, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("service", service),
		attribute.String("outcome", outcome),
	)

	if t.downloadsTotal != nil {
		t.downloadsTotal.Add(context.Background(), 1, attrs)
	}

	if t.downloadDuration != nil {
		t.downloadDuration.Record(context.Background(), duration.Seconds(), attrs)
	}
}

// IncrementActiveJobs increments the running-jobs counter.
func (t *Telemetry) IncrementActiveJobs() {
	if t.jobsActive != nil {
		t.jobsActive.Add(context.Background(), 1)
	}
}

// DecrementActiveJobs decrements the running-jobs counter.
func (t *Telemetry) DecrementActiveJobs() {
	if t.jobsActive != nil {
		t.jobsActive.Add(context.Background(), -1)
	}
}

// RecordAdmissionRejection records a request turned away before any job ran.
func (t *Telemetry) RecordAdmissionRejection(reason string) {
	if t.admissionRejections != nil {
		t.admissionRejections.Add(context.Background(), 1,
			metric.WithAttributes(attribute.String("reason", reason)),
		)
	}
}

// RecordServe records the outcome of one retrieval request.
func (t *Telemetry) RecordServe(outcome string) {
	if t.servesTotal != nil {
		t.servesTotal.Add(context.Background(), 1,
			metric.WithAttributes(attribute.String("outcome", outcome)),
		)
	}
}

// RecordReaperSweep records one reaper pass and how many entries it evicted.
func (t *Telemetry) RecordReaperSweep(removed int) {
	if t.reaperSweepsTotal != nil {
		t.reaperSweepsTotal.Add(context.Background(), 1)
	}

	if t.reaperRemovedTotal != nil && removed > 0 {
		t.reaperRemovedTotal.Add(context.Background(), int64(removed))
	}
}

// RegisterStoreObserver registers observable gauges for the store aggregates,
// fed from the supplied snapshot function on every scrape.
func (t *Telemetry) RegisterStoreObserver(stats func() (bytes int64, files int64)) error {
	if t.meter == nil {
		return nil
	}

	storeBytes, err := t.meter.Int64ObservableGauge(
		"store_bytes",
		metric.WithDescription("Bytes currently held in the file store"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return fmt.Errorf("failed to create store_bytes gauge: %w", err)
	}

	storeFiles, err := t.meter.Int64ObservableGauge(
		"store_files",
		metric.WithDescription("Files currently held in the file store"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create store_files gauge: %w", err)
	}

	_, err = t.meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		bytes, files := stats()
		o.ObserveInt64(storeBytes, bytes)
		o.ObserveInt64(storeFiles, files)

		return nil
	}, storeBytes, storeFiles)
	if err != nil {
		return fmt.Errorf("failed to register store observer: %w", err)
	}

	return nil
}

// Handler returns the HTTP handler for the metrics endpoint.
func (t *Telemetry) Handler() http.Handler {
	if t.exporter == nil {
		return http.NotFoundHandler()
	}

	// Return the standard Prometheus HTTP handler
	return promhttp.Handler()
}

// Shutdown gracefully shuts down the telemetry system.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if mp, ok := t.meterProvider.(*sdkmetric.MeterProvider); ok {
		return mp.Shutdown(ctx)
	}

	return nil
}

// initializeMetrics creates all metric instruments.
func (t *Telemetry) initializeMetrics() error {
	var err error

	t.downloadsTotal, err = t.meter.Int64Counter(
		"downloads_total",
		metric.WithDescription("Total number of download jobs by service and outcome"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create downloads_total counter: %w", err)
	}

	t.downloadDuration, err = t.meter.Float64Histogram(
		"download_duration_seconds",
		metric.WithDescription("Download job duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("failed to create download_duration histogram: %w", err)
	}

	t.jobsActive, err = t.meter.Int64UpDownCounter(
		"jobs_active",
		metric.WithDescription("Admitted download jobs currently in flight"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create jobs_active counter: %w", err)
	}

	t.admissionRejections, err = t.meter.Int64Counter(
		"admission_rejections_total",
		metric.WithDescription("Requests rejected before execution, by reason"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create admission_rejections counter: %w", err)
	}

	t.servesTotal, err = t.meter.Int64Counter(
		"serves_total",
		metric.WithDescription("File retrieval attempts by outcome"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create serves_total counter: %w", err)
	}

	t.reaperSweepsTotal, err = t.meter.Int64Counter(
		"reaper_sweeps_total",
		metric.WithDescription("Reaper passes completed"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create reaper_sweeps counter: %w", err)
	}

	t.reaperRemovedTotal, err = t.meter.Int64Counter(
		"reaper_removed_total",
		metric.WithDescription("Expired entries evicted by the reaper"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create reaper_removed counter: %w", err)
	}

	return nil
}
