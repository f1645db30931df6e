package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "tqsdk"

// Collectors groups the runtime metrics.
type Collectors struct {
	connEvents     *prometheus.CounterVec
	resyncDuration *prometheus.HistogramVec
	resyncPending  *prometheus.GaugeVec
	mergeBatches   prometheus.Counter
	mergeDiffs     prometheus.Counter
	orders         *prometheus.CounterVec
	trades         prometheus.Counter
	settlements    prometheus.Counter
	replayTime     prometheus.Gauge
}

// New creates the collectors and registers them with reg. A nil reg uses
// the default registerer.
func New(reg prometheus.Registerer) (*Collectors, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	c := &Collectors{
		connEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "connection",
			Name:      "events_total",
			Help:      "Connection lifecycle events by connection and kind.",
		}, []string{"conn_id", "event"}),
		resyncDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "resync",
			Name:      "duration_seconds",
			Help:      "Time from a reconnection until the snapshot was complete again.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
		}, []string{"handler"}),
		resyncPending: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "resync",
			Name:      "pending_diffs",
			Help:      "Diffs held back while waiting for a complete snapshot.",
		}, []string{"handler"}),
		mergeBatches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "merge_batches_total",
			Help:      "rtn_data batches merged into the client tree.",
		}),
		mergeDiffs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "merge_diffs_total",
			Help:      "Individual diffs merged into the client tree.",
		}),
		orders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sim",
			Name:      "orders_total",
			Help:      "Sim order lifecycle events by status.",
		}, []string{"status"}),
		trades: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sim",
			Name:      "trades_total",
			Help:      "Sim fills.",
		}),
		settlements: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sim",
			Name:      "settlements_total",
			Help:      "Trading day settlements performed by the sim account.",
		}),
		replayTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "backtest",
			Name:      "current_time_seconds",
			Help:      "Replay clock of the running backtest as a unix timestamp.",
		}),
	}
	for _, col := range []prometheus.Collector{
		c.connEvents, c.resyncDuration, c.resyncPending, c.mergeBatches,
		c.mergeDiffs, c.orders, c.trades, c.settlements, c.replayTime,
	} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// ConnEvent counts a connection event such as "connected" or "disconnected".
func (c *Collectors) ConnEvent(connID, event string) {
	if c == nil {
		return
	}
	c.connEvents.WithLabelValues(connID, event).Inc()
}

// ResyncDone records how long a resync took.
func (c *Collectors) ResyncDone(handler string, d time.Duration) {
	if c == nil {
		return
	}
	c.resyncDuration.WithLabelValues(handler).Observe(d.Seconds())
	c.resyncPending.WithLabelValues(handler).Set(0)
}

// ResyncPending sets the number of held back diffs.
func (c *Collectors) ResyncPending(handler string, n int) {
	if c == nil {
		return
	}
	c.resyncPending.WithLabelValues(handler).Set(float64(n))
}

// Merged records one merged batch of n diffs.
func (c *Collectors) Merged(n int) {
	if c == nil {
		return
	}
	c.mergeBatches.Inc()
	c.mergeDiffs.Add(float64(n))
}

// Order counts an order event with the given status.
func (c *Collectors) Order(status string) {
	if c == nil {
		return
	}
	c.orders.WithLabelValues(status).Inc()
}

// Trade counts a fill.
func (c *Collectors) Trade() {
	if c == nil {
		return
	}
	c.trades.Inc()
}

// Settled counts a settlement.
func (c *Collectors) Settled() {
	if c == nil {
		return
	}
	c.settlements.Inc()
}

// ReplayTime sets the backtest clock, ts in nanoseconds.
func (c *Collectors) ReplayTime(ts int64) {
	if c == nil {
		return
	}
	c.replayTime.Set(float64(ts) / 1e9)
}
