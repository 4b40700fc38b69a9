package relay

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	activeConnectionsMetric = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relay_active_connections",
		Help: "The number of registered realtime connections",
	})
	roomMembershipsMetric = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relay_room_memberships",
		Help: "The number of connection-room memberships",
	})
	inboundEventsMetric = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_inbound_events",
		Help: "The total number of inbound events by name",
	}, []string{"event"})
	emittedEventsMetric = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_emitted_events",
		Help: "The total number of events delivered to connections by name",
	}, []string{"event"})
	droppedEventsMetric = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_dropped_events",
		Help: "The total number of dropped events by reason",
	}, []string{"reason"})
)
