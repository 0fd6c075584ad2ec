// Package prom exports connection metrics to Prometheus.
package prom

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/supersockets/supersockets-go/observability"
)

// NewRegistry returns a fresh Prometheus registry.
func NewRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

// Handler returns a Prometheus HTTP handler bound to the registry.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// ConnObserver exports connection metrics to Prometheus.
type ConnObserver struct {
	connsOpen       *prometheus.GaugeVec
	handshakeTotal  *prometheus.CounterVec
	frameTotal      *prometheus.CounterVec
	frameBytes      *prometheus.CounterVec
	frameErrorTotal *prometheus.CounterVec
}

// NewConnObserver registers connection metrics on the registry.
func NewConnObserver(reg *prometheus.Registry) *ConnObserver {
	o := &ConnObserver{
		connsOpen: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "supersockets_connections_open",
			Help: "Currently open connections by role.",
		}, []string{"role"}),
		handshakeTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "supersockets_handshake_total",
			Help: "Handshake completions by outcome.",
		}, []string{"outcome"}),
		frameTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "supersockets_frames_total",
			Help: "Frames transferred by direction.",
		}, []string{"direction"}),
		frameBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "supersockets_frame_bytes_total",
			Help: "Frame payload bytes transferred by direction.",
		}, []string{"direction"}),
		frameErrorTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "supersockets_frame_errors_total",
			Help: "Frame failures by direction and kind.",
		}, []string{"direction", "kind"}),
	}
	reg.MustRegister(
		o.connsOpen,
		o.handshakeTotal,
		o.frameTotal,
		o.frameBytes,
		o.frameErrorTotal,
	)
	return o
}

func (o *ConnObserver) ConnOpened(role string) {
	o.connsOpen.WithLabelValues(role).Inc()
}

func (o *ConnObserver) ConnClosed(role string) {
	o.connsOpen.WithLabelValues(role).Dec()
}

func (o *ConnObserver) Handshake(outcome observability.HandshakeOutcome) {
	o.handshakeTotal.WithLabelValues(string(outcome)).Inc()
}

func (o *ConnObserver) Frame(dir observability.Direction, bytes int) {
	o.frameTotal.WithLabelValues(string(dir)).Inc()
	o.frameBytes.WithLabelValues(string(dir)).Add(float64(bytes))
}

func (o *ConnObserver) FrameError(dir observability.Direction, kind observability.FrameErrorKind) {
	o.frameErrorTotal.WithLabelValues(string(dir), string(kind)).Inc()
}
