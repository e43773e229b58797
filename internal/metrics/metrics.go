// Package metrics wires leaf's counters to an OpenTelemetry meter backed by
// a Prometheus exporter.
package metrics

import (
	"context"
	"fmt"
	"net/http"

	promclient "github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Metrics holds leaf's counters. The zero value is safe to use: every
// Increment* method is nil-guarded, so metrics are purely optional.
type Metrics struct {
	PackagesResolvedTotal  metric.Int64Counter
	PackagesFetchedTotal   metric.Int64Counter
	FetchedBytesTotal      metric.Int64Counter
	PackagesInstalledTotal metric.Int64Counter
	DBIdempotentSkipsTotal metric.Int64Counter
}

// New creates a meter provider backed by a Prometheus exporter and
// registers leaf's counters against it.
func New() (m Metrics, err error) {
	exporter, err := prometheus.New()
	if err != nil {
		return Metrics{}, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	meter := provider.Meter("github.com/a-h/leaf")

	if m.PackagesResolvedTotal, err = meter.Int64Counter("packages_resolved_total", metric.WithDescription("Total number of packages resolved")); err != nil {
		return Metrics{}, fmt.Errorf("failed to create packages_resolved_total counter: %w", err)
	}
	if m.PackagesFetchedTotal, err = meter.Int64Counter("packages_fetched_total", metric.WithDescription("Total number of packages fetched over the network")); err != nil {
		return Metrics{}, fmt.Errorf("failed to create packages_fetched_total counter: %w", err)
	}
	if m.FetchedBytesTotal, err = meter.Int64Counter("fetched_bytes_total", metric.WithDescription("Total bytes downloaded fetching packages")); err != nil {
		return Metrics{}, fmt.Errorf("failed to create fetched_bytes_total counter: %w", err)
	}
	if m.PackagesInstalledTotal, err = meter.Int64Counter("packages_installed_total", metric.WithDescription("Total number of packages installed")); err != nil {
		return Metrics{}, fmt.Errorf("failed to create packages_installed_total counter: %w", err)
	}
	if m.DBIdempotentSkipsTotal, err = meter.Int64Counter("db_idempotent_skips_total", metric.WithDescription("Total number of package inserts skipped because the hash already matched")); err != nil {
		return Metrics{}, fmt.Errorf("failed to create db_idempotent_skips_total counter: %w", err)
	}

	return m, nil
}

// ListenAndServe serves the Prometheus scrape endpoint at addr.
func ListenAndServe(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promclient.Handler())
	return http.ListenAndServe(addr, mux)
}

func (m Metrics) IncrementPackagesResolved(ctx context.Context) {
	if m.PackagesResolvedTotal == nil {
		return
	}
	m.PackagesResolvedTotal.Add(ctx, 1)
}

func (m Metrics) IncrementPackagesFetched(ctx context.Context, bytes int64) {
	if m.PackagesFetchedTotal == nil || m.FetchedBytesTotal == nil {
		return
	}
	m.PackagesFetchedTotal.Add(ctx, 1)
	m.FetchedBytesTotal.Add(ctx, bytes)
}

func (m Metrics) IncrementPackagesInstalled(ctx context.Context) {
	if m.PackagesInstalledTotal == nil {
		return
	}
	m.PackagesInstalledTotal.Add(ctx, 1)
}

func (m Metrics) IncrementDBIdempotentSkips(ctx context.Context) {
	if m.DBIdempotentSkipsTotal == nil {
		return
	}
	m.DBIdempotentSkipsTotal.Add(ctx, 1)
}
