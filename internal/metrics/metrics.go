// Package metrics exposes the Prometheus collectors for the relay.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	WsConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_ws_connections",
		Help: "Current number of active websocket connections",
	})
	WsMessagesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_ws_messages_total",
		Help: "Total number of chat messages broadcast",
	})
	RateLimitedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_rate_limited_total",
		Help: "Total number of denied admission checks",
	}, []string{"scope"})
	DeliveryFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_delivery_failures_total",
		Help: "Total number of per-recipient delivery failures absorbed during fan-out",
	})
)

func init() {
	prometheus.MustRegister(WsConnections, WsMessagesTotal, RateLimitedTotal, DeliveryFailuresTotal)
}
