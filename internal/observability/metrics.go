package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the process-level Prometheus collectors on a dedicated
// registry, so the /metrics endpoint exposes only what this service emits.
type Metrics struct {
	Registry *prometheus.Registry

	webhooksTotal   *prometheus.CounterVec
	webhookDuration *prometheus.HistogramVec
	syncJobsTotal   *prometheus.CounterVec
	syncItemsTotal  *prometheus.CounterVec
	alertsOpen      prometheus.Gauge
}

func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		webhooksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hivedesk_webhooks_total",
			Help: "Inbound webhook deliveries by connector and outcome.",
		}, []string{"connector", "outcome"}),
		webhookDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "hivedesk_webhook_duration_seconds",
			Help:    "End-to-end ingestion latency per delivery.",
			Buckets: prometheus.DefBuckets,
		}, []string{"connector"}),
		syncJobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hivedesk_sync_jobs_total",
			Help: "Completed sync jobs by connector and status.",
		}, []string{"connector", "status"}),
		syncItemsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hivedesk_sync_items_total",
			Help: "Synced items by connector and outcome.",
		}, []string{"connector", "outcome"}),
		alertsOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hivedesk_alerts_open",
			Help: "Currently open (unacknowledged) alerts.",
		}),
	}

	m.Registry.MustRegister(m.webhooksTotal, m.webhookDuration, m.syncJobsTotal, m.syncItemsTotal, m.alertsOpen)

	return m
}

func (m *Metrics) RecordWebhook(connectorID, outcome string) {
	m.webhooksTotal.WithLabelValues(connectorID, outcome).Inc()
}

func (m *Metrics) RecordWebhookDuration(connectorID string, d time.Duration) {
	m.webhookDuration.WithLabelValues(connectorID).Observe(d.Seconds())
}

func (m *Metrics) RecordSyncJob(connectorID, status string) {
	m.syncJobsTotal.WithLabelValues(connectorID, status).Inc()
}

func (m *Metrics) RecordSyncItems(connectorID string, processed, failed int) {
	m.syncItemsTotal.WithLabelValues(connectorID, "processed").Add(float64(processed - failed))
	m.syncItemsTotal.WithLabelValues(connectorID, "failed").Add(float64(failed))
}

func (m *Metrics) SetOpenAlerts(n int) {
	m.alertsOpen.Set(float64(n))
}
