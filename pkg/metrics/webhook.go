package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// WebhookResult labels for the ingest counter.
const (
	WebhookResultOK        = "ok"
	WebhookResultDuplicate = "duplicate"
	WebhookResultBadSig    = "bad_signature"
	WebhookResultNotFound  = "not_found"
	WebhookResultError     = "error"
)

// WebhookIngested counts gateway callback deliveries by type and outcome.
var WebhookIngested = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: "billing",
		Name:      "webhook_ingested_total",
		Help:      "Gateway webhook deliveries processed, by callback type and result.",
	},
	[]string{"type", "result"},
)
