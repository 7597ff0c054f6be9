package prometheus

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/axonlink/axonlink/pkg/metrics"
)

// linkMetrics is the Prometheus implementation of metrics.LinkMetrics.
// One instance serves one network; the net label keeps rings apart.
type linkMetrics struct {
	net string

	commands     *prometheus.CounterVec
	commandTime  *prometheus.HistogramVec
	frames       *prometheus.CounterVec
	frameOctets  *prometheus.CounterVec
	damage       *prometheus.CounterVec
	trackerDepth *prometheus.GaugeVec
	online       *prometheus.GaugeVec
	attentions   *prometheus.CounterVec
}

var linkCollectors *linkMetrics

// NewLinkMetrics creates a Prometheus-backed LinkMetrics for one network.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewLinkMetrics(net int) metrics.LinkMetrics {
	if !metrics.IsEnabled() {
		return nil
	}

	// Collectors are shared across networks; only the label differs.
	if linkCollectors == nil {
		reg := metrics.GetRegistry()
		linkCollectors = &linkMetrics{
			commands: promauto.With(reg).NewCounterVec(
				prometheus.CounterOpts{
					Name: "axonlink_commands_total",
					Help: "Total tracked commands by opcode and outcome",
				},
				[]string{"net", "opcode", "error"},
			),
			commandTime: promauto.With(reg).NewHistogramVec(
				prometheus.HistogramOpts{
					Name: "axonlink_command_duration_milliseconds",
					Help: "Round-trip time of tracked commands in milliseconds",
					Buckets: []float64{
						0.5,  // fast parameter read at high rate
						1,
						2,
						5,
						10,
						25,
						50,   // parameter read at base rate
						100,
						250,
						1000, // motion ack ceiling
					},
				},
				[]string{"net", "opcode"},
			),
			frames: promauto.With(reg).NewCounterVec(
				prometheus.CounterOpts{
					Name: "axonlink_frames_total",
					Help: "Frames moved over the wire by direction",
				},
				[]string{"net", "dir"},
			),
			frameOctets: promauto.With(reg).NewCounterVec(
				prometheus.CounterOpts{
					Name: "axonlink_frame_octets_total",
					Help: "Octets moved over the wire by direction",
				},
				[]string{"net", "dir"},
			),
			damage: promauto.With(reg).NewCounterVec(
				prometheus.CounterOpts{
					Name: "axonlink_link_damage_total",
					Help: "Link damage events by kind",
				},
				[]string{"net", "kind"},
			),
			trackerDepth: promauto.With(reg).NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "axonlink_tracker_depth",
					Help: "Commands currently in flight",
				},
				[]string{"net"},
			),
			online: promauto.With(reg).NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "axonlink_network_online",
					Help: "1 while the network is online",
				},
				[]string{"net"},
			),
			attentions: promauto.With(reg).NewCounterVec(
				prometheus.CounterOpts{
					Name: "axonlink_attentions_total",
					Help: "Attention packets received",
				},
				[]string{"net"},
			),
		}
	}

	m := *linkCollectors
	m.net = strconv.Itoa(net)
	return &m
}

func (m *linkMetrics) RecordCommand(opcode string, duration time.Duration, errCode string) {
	m.commands.WithLabelValues(m.net, opcode, errCode).Inc()
	m.commandTime.WithLabelValues(m.net, opcode).
		Observe(float64(duration.Microseconds()) / 1000.0)
}

func (m *linkMetrics) RecordFrame(dir string, octets int) {
	m.frames.WithLabelValues(m.net, dir).Inc()
	m.frameOctets.WithLabelValues(m.net, dir).Add(float64(octets))
}

func (m *linkMetrics) RecordDamage(kind string) {
	m.damage.WithLabelValues(m.net, kind).Inc()
}

func (m *linkMetrics) SetTrackerDepth(depth int) {
	m.trackerDepth.WithLabelValues(m.net).Set(float64(depth))
}

func (m *linkMetrics) SetOnline(online bool) {
	v := 0.0
	if online {
		v = 1.0
	}
	m.online.WithLabelValues(m.net).Set(v)
}

func (m *linkMetrics) RecordAttention() {
	m.attentions.WithLabelValues(m.net).Inc()
}
