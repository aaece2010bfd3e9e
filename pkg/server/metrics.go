package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	chatRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vantyx",
		Subsystem: "chat",
		Name:      "requests_total",
		Help:      "Chat relay requests by outcome.",
	}, []string{"outcome"})

	chatFragments = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "vantyx",
		Subsystem: "chat",
		Name:      "stream_fragments_total",
		Help:      "Content fragments forwarded to clients.",
	})

	activeStreams = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "vantyx",
		Subsystem: "chat",
		Name:      "active_streams",
		Help:      "Streams currently being relayed.",
	})

	rateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "vantyx",
		Subsystem: "chat",
		Name:      "rate_limited_total",
		Help:      "Requests rejected by the per-IP rate limiter.",
	})
)

const (
	outcomeOK         = "ok"
	outcomeValidation = "validation_error"
	outcomeUpstream   = "upstream_error"
	outcomeTimeout    = "timeout"
)
