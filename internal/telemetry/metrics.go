package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the gateway's instruments. Names are kept stable because
// dashboards key on them.
type Metrics struct {
	up           metric.Int64Gauge
	loginTotal   metric.Int64Counter
	refreshTotal metric.Int64Counter
	logoutTotal  metric.Int64Counter
}

// NewMetrics creates the gateway instruments on the given provider. With a
// no-op provider every recording is a no-op, so callers never guard.
func NewMetrics(provider metric.MeterProvider) (*Metrics, error) {
	meter := provider.Meter("opas.identity")

	up, err := meter.Int64Gauge("opas_identity_up",
		metric.WithDescription("Whether the identity gateway is up (1) or down (0)"))
	if err != nil {
		return nil, err
	}
	login, err := meter.Int64Counter("opas_identity_login_total",
		metric.WithDescription("Total login attempts by result"))
	if err != nil {
		return nil, err
	}
	refresh, err := meter.Int64Counter("opas_identity_refresh_total",
		metric.WithDescription("Total refresh attempts by result"))
	if err != nil {
		return nil, err
	}
	logout, err := meter.Int64Counter("opas_identity_logout_total",
		metric.WithDescription("Total logout calls by result"))
	if err != nil {
		return nil, err
	}

	return &Metrics{up: up, loginTotal: login, refreshTotal: refresh, logoutTotal: logout}, nil
}

// SetUp records whether the gateway is serving (1) or shutting down (0).
func (m *Metrics) SetUp(ctx context.Context, up bool) {
	v := int64(0)
	if up {
		v = 1
	}
	m.up.Record(ctx, v)
}

// RecordLogin counts one login attempt with the given result (success, fail, error).
func (m *Metrics) RecordLogin(ctx context.Context, result string) {
	m.loginTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// RecordRefresh counts one refresh attempt with the given result.
func (m *Metrics) RecordRefresh(ctx context.Context, result string) {
	m.refreshTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// RecordLogout counts one logout call with the given result.
func (m *Metrics) RecordLogout(ctx context.Context, result string) {
	m.logoutTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}
