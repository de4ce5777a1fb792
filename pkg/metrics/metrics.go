// Package metrics holds the Prometheus collectors for signaling and video ingestion.
// All methods are safe on a nil receiver so components can run without metrics in tests.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "edusphere"

// Signaling tracks rooms, participants and relayed envelopes.
type Signaling struct {
	roomsActive      prometheus.Gauge
	participants     prometheus.Gauge
	envelopesRelayed *prometheus.CounterVec
	envelopesDropped *prometheus.CounterVec
	deliveryFailures prometheus.Counter
	connectionsTotal prometheus.Counter
}

// NewSignaling creates and registers signaling collectors on reg.
func NewSignaling(reg prometheus.Registerer) *Signaling {
	s := &Signaling{
		roomsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "call_rooms_active",
			Help:      "Number of call rooms with at least one participant",
		}),
		participants: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "call_participants",
			Help:      "Number of joined call participants",
		}),
		envelopesRelayed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signaling_envelopes_relayed_total",
			Help:      "Signaling envelopes accepted for relay, by type",
		}, []string{"type"}),
		envelopesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signaling_envelopes_dropped_total",
			Help:      "Inbound signaling envelopes dropped, by reason",
		}, []string{"reason"}),
		deliveryFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signaling_delivery_failures_total",
			Help:      "Per-recipient delivery failures (closed peer or full send buffer)",
		}),
		connectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signaling_connections_total",
			Help:      "WebSocket signaling connections accepted",
		}),
	}
	if reg != nil {
		reg.MustRegister(s.roomsActive, s.participants, s.envelopesRelayed, s.envelopesDropped, s.deliveryFailures, s.connectionsTotal)
	}
	return s
}

func (s *Signaling) RoomOpened() {
	if s != nil {
		s.roomsActive.Inc()
	}
}

func (s *Signaling) RoomClosed() {
	if s != nil {
		s.roomsActive.Dec()
	}
}

func (s *Signaling) ParticipantJoined() {
	if s != nil {
		s.participants.Inc()
	}
}

func (s *Signaling) ParticipantLeft() {
	if s != nil {
		s.participants.Dec()
	}
}

func (s *Signaling) Relayed(envType string) {
	if s != nil {
		s.envelopesRelayed.WithLabelValues(envType).Inc()
	}
}

func (s *Signaling) Dropped(reason string) {
	if s != nil {
		s.envelopesDropped.WithLabelValues(reason).Inc()
	}
}

func (s *Signaling) DeliveryFailed(n int) {
	if s != nil && n > 0 {
		s.deliveryFailures.Add(float64(n))
	}
}

func (s *Signaling) Connected() {
	if s != nil {
		s.connectionsTotal.Inc()
	}
}

// Ingestion tracks video uploads.
type Ingestion struct {
	ingestDuration prometheus.Histogram
	results        *prometheus.CounterVec
	probeResults   *prometheus.CounterVec
	uploadedBytes  prometheus.Counter
}

// NewIngestion creates and registers ingestion collectors on reg.
func NewIngestion(reg prometheus.Registerer) *Ingestion {
	m := &Ingestion{
		ingestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "video_ingest_duration_seconds",
			Help:      "Wall time of a video ingestion call",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10),
		}),
		results: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "video_ingest_total",
			Help:      "Video ingestion outcomes",
		}, []string{"result"}),
		probeResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "video_probe_total",
			Help:      "Duration probe outcomes (ffprobe, estimate, missing)",
		}, []string{"source"}),
		uploadedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "video_uploaded_bytes_total",
			Help:      "Bytes staged for upload",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.ingestDuration, m.results, m.probeResults, m.uploadedBytes)
	}
	return m
}

func (m *Ingestion) Observe(start time.Time, result string) {
	if m == nil {
		return
	}
	m.ingestDuration.Observe(time.Since(start).Seconds())
	m.results.WithLabelValues(result).Inc()
}

func (m *Ingestion) Probed(source string) {
	if m != nil {
		m.probeResults.WithLabelValues(source).Inc()
	}
}

func (m *Ingestion) Staged(n int64) {
	if m != nil && n > 0 {
		m.uploadedBytes.Add(float64(n))
	}
}
