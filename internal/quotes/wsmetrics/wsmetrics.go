package wsmetrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Conns = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ws_conns",
		Help: "Active websocket connections",
	})
	ConnOpenTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ws_conn_open_total",
		Help: "Total websocket connections opened",
	})
	ConnCloseTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ws_conn_close_total",
		Help: "Total websocket connections closed, partitioned by reason",
	}, []string{"reason"})

	FramesInTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ws_frames_in_total",
		Help: "Total websocket frames received",
	})
	BytesInTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ws_bytes_in_total",
		Help: "Total websocket bytes received",
	})
	MsgsInTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ws_msgs_in_total",
		Help: "Total decoded messages received",
	}, []string{"type", "domain"})
	MalformedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ws_malformed_total",
		Help: "Total frames rejected by the decoder",
	})

	MsgsOutTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ws_msgs_out_total",
		Help: "Total messages sent, partitioned by kind",
	}, []string{"kind"}) // login/item/ping/pong
	WriteErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ws_write_errors_total",
		Help: "Total websocket write errors",
	})
	WriteDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ws_write_duration_seconds",
		Help:    "Duration of a websocket write",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14), // 0.5ms -> ~4s
	})

	PingTimeoutTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ws_ping_timeout_total",
		Help: "Total ping timeouts (no traffic after ping)",
	})
	PingIntervalSeconds = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ws_ping_interval_seconds",
		Help: "Current heartbeat interval",
	})
	SessionState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "session_state",
		Help: "Session state (0 connecting, 1 awaiting login, 2 logged in, 3 subscribed)",
	})
	QuotesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quotes_total",
		Help: "Total quotes extracted from market price messages",
	}, []string{"ric"})
)

func OnOpen() {
	Conns.Inc()
	ConnOpenTotal.Inc()
}

func OnClose(reason string) {
	Conns.Dec()
	ConnCloseTotal.WithLabelValues(reason).Inc()
}

func ObserveFrame(n int) {
	FramesInTotal.Inc()
	BytesInTotal.Add(float64(n))
}

func ObserveWrite(kind string, dur time.Duration, err error) {
	WriteDuration.Observe(dur.Seconds())
	if err != nil {
		WriteErrorsTotal.Inc()
		return
	}
	MsgsOutTotal.WithLabelValues(kind).Inc()
}

// Handler /metrics
func Handler() http.Handler {
	return promhttp.Handler()
}
