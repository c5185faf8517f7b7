// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry exposes operational meta-metrics about the telemetry core
// itself, distinct from the privacy-preserving payloads it produces.
// These are plaintext, local-only, and never leave the device.
type Registry struct {
	PendingRecords     prometheus.Gauge
	BackoffSeconds     prometheus.Gauge
	LastUploadSuccess  prometheus.Gauge
	RecordsDeleted     prometheus.Counter
	RecordsStored      prometheus.Counter
}

// NewRegistry constructs and registers the meta-metrics against reg.
func NewRegistry(reg prometheus.Registerer) *Registry {
	r := &Registry{
		PendingRecords: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "telemetry_pending_records",
			Help: "Number of encrypted records currently stored awaiting upload.",
		}),
		BackoffSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "telemetry_backoff_seconds",
			Help: "Current upload retry backoff duration in seconds.",
		}),
		LastUploadSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "telemetry_last_upload_success",
			Help: "1 if the most recent upload attempt succeeded, 0 otherwise.",
		}),
		RecordsDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "telemetry_records_deleted_total",
			Help: "Total number of records deleted after a successful upload; aged-out and purged records are not counted.",
		}),
		RecordsStored: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "telemetry_records_stored_total",
			Help: "Total number of records written to disk.",
		}),
	}
	reg.MustRegister(r.PendingRecords, r.BackoffSeconds, r.LastUploadSuccess, r.RecordsDeleted, r.RecordsStored)
	return r
}
