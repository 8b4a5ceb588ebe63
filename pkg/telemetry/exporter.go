package telemetry

import (
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/sdk/metric"
)

// InitMetrics registers a Prometheus-backed meter provider and creates
// the application instruments. Lighter than Setup; the backtest command
// wants counters without trace or log export.
func InitMetrics() error {
	reader, err := prometheus.New()
	if err != nil {
		return fmt.Errorf("prometheus reader: %w", err)
	}

	provider := metric.NewMeterProvider(metric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if err := GetGlobalMetrics().InitMetrics(provider.Meter("gridbot_core")); err != nil {
		return fmt.Errorf("instrument registration: %w", err)
	}
	return nil
}
