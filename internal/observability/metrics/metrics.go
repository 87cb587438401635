package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes application-level instruments for the orchestrator.
type Metrics struct {
	dispatches      metric.Int64Counter
	callbacks       metric.Int64Counter
	imagesReported  metric.Int64Counter
	ledgerFailures  metric.Int64Counter
	trialLockIns    metric.Int64Counter
	worklistClamped metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "brandseal"
	}
	meter := provider.Meter(name)

	dispatches, err := meter.Int64Counter("operations_dispatched_total",
		metric.WithDescription("Pipeline operations dispatched, by kind and result."))
	if err != nil {
		return nil, err
	}
	callbacks, err := meter.Int64Counter("completion_callbacks_total",
		metric.WithDescription("Inbound completion callbacks, by kind and outcome."))
	if err != nil {
		return nil, err
	}
	imagesReported, err := meter.Int64Counter("images_reported_total",
		metric.WithDescription("Processed images reported to the usage ledger."))
	if err != nil {
		return nil, err
	}
	ledgerFailures, err := meter.Int64Counter("ledger_report_failures_total",
		metric.WithDescription("Usage ledger report attempts that failed."))
	if err != nil {
		return nil, err
	}
	trialLockIns, err := meter.Int64Counter("trial_lock_ins_total",
		metric.WithDescription("First-seen trial windows locked in."))
	if err != nil {
		return nil, err
	}
	worklistClamped, err := meter.Int64Counter("worklists_clamped_total",
		metric.WithDescription("Worklists truncated by the allowance cap."))
	if err != nil {
		return nil, err
	}

	return &Metrics{
		dispatches:      dispatches,
		callbacks:       callbacks,
		imagesReported:  imagesReported,
		ledgerFailures:  ledgerFailures,
		trialLockIns:    trialLockIns,
		worklistClamped: worklistClamped,
	}, nil
}

func (m *Metrics) RecordDispatch(ctx context.Context, kind, result string) {
	if m == nil {
		return
	}
	m.dispatches.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("result", result),
	))
}

func (m *Metrics) RecordCallback(ctx context.Context, kind, outcome string) {
	if m == nil {
		return
	}
	m.callbacks.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("outcome", outcome),
	))
}

func (m *Metrics) RecordImagesReported(ctx context.Context, count int64) {
	if m == nil {
		return
	}
	m.imagesReported.Add(ctx, count)
}

func (m *Metrics) RecordLedgerFailure(ctx context.Context) {
	if m == nil {
		return
	}
	m.ledgerFailures.Add(ctx, 1)
}

func (m *Metrics) RecordTrialLockIn(ctx context.Context) {
	if m == nil {
		return
	}
	m.trialLockIns.Add(ctx, 1)
}

func (m *Metrics) RecordWorklistClamped(ctx context.Context) {
	if m == nil {
		return
	}
	m.worklistClamped.Add(ctx, 1)
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	switch strings.ToLower(strings.TrimSpace(protocol)) {
	case "", "grpc":
		return otlpmetricgrpc.New(context.Background(),
			otlpmetricgrpc.WithEndpoint(endpoint),
			otlpmetricgrpc.WithInsecure(),
		)
	case "http", "http/protobuf":
		return otlpmetrichttp.New(context.Background(),
			otlpmetrichttp.WithEndpoint(endpoint),
			otlpmetrichttp.WithInsecure(),
		)
	default:
		return nil, fmt.Errorf("unsupported otlp protocol %q", protocol)
	}
}
