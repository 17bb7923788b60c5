package telemetry

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const (
	meterName = "github.com/wolfeidau/keylink-bridge"
)

// Metrics holds all the OpenTelemetry metric instruments
type Metrics struct {
	// Envelope metrics
	EnvelopesTotal   metric.Int64Counter
	SubMessagesTotal metric.Int64Counter

	// Broker metrics
	KeyRotationsTotal      metric.Int64Counter
	BrokerTicketWait       metric.Float64Histogram
	BrokerTicketTimeouts   metric.Int64Counter
	LicenseRejectionsTotal metric.Int64Counter

	// Resync metrics
	ResyncUpdatesTotal metric.Int64Counter
	ResyncDuration     metric.Float64Histogram
}

var (
	once    sync.Once
	metrics *Metrics
)

// GetMetrics returns the singleton Metrics instance, initializing it if necessary
func GetMetrics() *Metrics {
	once.Do(func() {
		metrics = initMetrics()
	})
	return metrics
}

// initMetrics creates and registers all metric instruments
func initMetrics() *Metrics {
	meter := otel.GetMeterProvider().Meter(meterName)

	m := &Metrics{}

	// Envelope metrics
	m.EnvelopesTotal, _ = meter.Int64Counter(
		"keylink.envelopes.total",
		metric.WithDescription("Total number of envelopes processed, by final status"),
		metric.WithUnit("{envelope}"),
	)

	m.SubMessagesTotal, _ = meter.Int64Counter(
		"keylink.submessages.total",
		metric.WithDescription("Total number of sub-messages signed, by outcome"),
		metric.WithUnit("{message}"),
	)

	// Broker metrics
	m.KeyRotationsTotal, _ = meter.Int64Counter(
		"keylink.broker.key_rotations.total",
		metric.WithDescription("Total number of API key rotations after the broker rejected a key"),
		metric.WithUnit("{rotation}"),
	)

	m.BrokerTicketWait, _ = meter.Float64Histogram(
		"keylink.broker.ticket_wait.duration",
		metric.WithDescription("Time spent waiting for broker tickets to leave the pending state"),
		metric.WithUnit("ms"),
	)

	m.BrokerTicketTimeouts, _ = meter.Int64Counter(
		"keylink.broker.ticket_wait.timeouts.total",
		metric.WithDescription("Total number of ticket waits that gave up while still pending"),
		metric.WithUnit("{ticket}"),
	)

	m.LicenseRejectionsTotal, _ = meter.Int64Counter(
		"keylink.broker.license_rejections.total",
		metric.WithDescription("Total number of requests refused because the broker license lacks the agent flag"),
		metric.WithUnit("{request}"),
	)

	// Resync metrics
	m.ResyncUpdatesTotal, _ = meter.Int64Counter(
		"keylink.resync.updates.total",
		metric.WithDescription("Total number of status rows updated by the resync scheduler"),
		metric.WithUnit("{update}"),
	)

	m.ResyncDuration, _ = meter.Float64Histogram(
		"keylink.resync.duration",
		metric.WithDescription("Duration of resync passes"),
		metric.WithUnit("ms"),
	)

	return m
}
