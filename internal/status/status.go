// Package status holds the bridge's in-memory runtime snapshot (spec
// §4.8) and exports the same counters as Prometheus metrics on a
// private registry, the way the teacher never quite needed to but the
// rest of the pack (prometheus/client_golang) shows how to wire.
package status

import (
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/davecgh/go-spew/spew"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hueartnet/bridge/internal/models"
)

// ReceiverSnapshot is a point-in-time view of the single Art-Net
// receiver (spec §4.8).
type ReceiverSnapshot struct {
	BindAddress      string
	LastFrameAt      time.Time
	FramesTotal      uint64
	MalformedTotal   uint64
	FramesByUniverse map[int]uint64
}

// LightSnapshot is the last color sent for one channel id.
type LightSnapshot struct {
	RGB16        [3]uint16
	LastUpdateAt time.Time
}

// HubSnapshot is a point-in-time view of one configured hub (spec §4.8).
type HubSnapshot struct {
	Started          bool
	StreamingEnabled bool
	DTLSConnected    bool
	LastDMXAt        time.Time
	LastSendAt       time.Time
	FramesMatched    uint64
	PacketsSent      uint64
	PacketsDropped   uint64
	PacketsThrottled uint64
	LastError        string
	Lights           map[int]LightSnapshot
}

// Snapshot is the full runtime status document (spec §4.8).
type Snapshot struct {
	Receiver ReceiverSnapshot
	Hubs     map[string]HubSnapshot
}

// Tracker accumulates runtime status and exposes it both as an
// in-memory Snapshot and as Prometheus metrics.
type Tracker struct {
	logger *log.Logger

	mu               sync.Mutex
	receiver         ReceiverSnapshot
	hubs             map[string]*HubSnapshot

	registry         *prometheus.Registry
	framesTotal      prometheus.Counter
	malformedTotal   prometheus.Counter
	packetsSent      *prometheus.CounterVec
	packetsThrottled *prometheus.CounterVec
	packetsDropped   *prometheus.CounterVec
	dtlsConnected    *prometheus.GaugeVec
}

// NewTracker constructs a Tracker with its own private registry, so
// multiple Trackers (as in tests) never collide on metric names.
func NewTracker(logger *log.Logger) *Tracker {
	t := &Tracker{
		logger:   logger,
		hubs:     make(map[string]*HubSnapshot),
		receiver: ReceiverSnapshot{FramesByUniverse: make(map[int]uint64)},
		registry: prometheus.NewRegistry(),

		framesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "artnet_frames_total",
			Help: "Total well-formed ArtDmx datagrams received.",
		}),
		malformedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "artnet_malformed_datagrams_total",
			Help: "Total malformed datagrams dropped.",
		}),
		packetsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hue_packets_sent_total",
			Help: "Total Entertainment streaming packets sent, by hub.",
		}, []string{"hub"}),
		packetsThrottled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hue_packets_throttled_total",
			Help: "Total sendUpdate calls throttled, by hub.",
		}, []string{"hub"}),
		packetsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hue_packets_dropped_total",
			Help: "Total sendUpdate calls dropped because the session was not open, by hub.",
		}, []string{"hub"}),
		dtlsConnected: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "hue_dtls_connected",
			Help: "1 if the DTLS session to a hub is open, else 0.",
		}, []string{"hub"}),
	}

	t.registry.MustRegister(t.framesTotal, t.malformedTotal, t.packetsSent, t.packetsThrottled, t.packetsDropped, t.dtlsConnected)
	return t
}

// Registry exposes the private registry for wiring into promhttp.
func (t *Tracker) Registry() *prometheus.Registry {
	return t.registry
}

// BindReceiver records the Art-Net receiver's bound address, once at
// startup.
func (t *Tracker) BindReceiver(addr string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.receiver.BindAddress = addr
}

// RecordFrame records one well-formed ArtDmx datagram on universe.
func (t *Tracker) RecordFrame(universe int) {
	t.mu.Lock()
	t.receiver.LastFrameAt = time.Now()
	t.receiver.FramesTotal++
	t.receiver.FramesByUniverse[universe]++
	t.mu.Unlock()
	t.framesTotal.Inc()
}

// RecordMalformed records one dropped malformed datagram.
func (t *Tracker) RecordMalformed() {
	t.mu.Lock()
	t.receiver.MalformedTotal++
	t.mu.Unlock()
	t.malformedTotal.Inc()
}

func (t *Tracker) hubLocked(hubID string) *HubSnapshot {
	hub, ok := t.hubs[hubID]
	if !ok {
		hub = &HubSnapshot{Lights: make(map[int]LightSnapshot)}
		t.hubs[hubID] = hub
	}
	return hub
}

// HubStarted marks a hub as started (its Runner reached Open).
func (t *Tracker) HubStarted(hubID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	hub := t.hubLocked(hubID)
	hub.Started = true
	hub.DTLSConnected = true
	t.dtlsConnected.WithLabelValues(hubID).Set(1)
}

// HubClosed marks a hub's session as no longer open.
func (t *Tracker) HubClosed(hubID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	hub := t.hubLocked(hubID)
	hub.Started = false
	hub.DTLSConnected = false
	t.dtlsConnected.WithLabelValues(hubID).Set(0)
}

// HubStreamingEnabled marks hubID's remote entertainment configuration
// as started via the control-plane (spec §4.5 step 5) — distinct from
// DTLSConnected, which tracks the streaming session itself.
func (t *Tracker) HubStreamingEnabled(hubID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.hubLocked(hubID).StreamingEnabled = true
}

// HubStreamingDisabled marks hubID's remote entertainment configuration
// as stopped.
func (t *Tracker) HubStreamingDisabled(hubID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.hubLocked(hubID).StreamingEnabled = false
}

// RecordMatchedFrame records one frame matched to hubID's configured
// universe, before it was decoded and sent.
func (t *Tracker) RecordMatchedFrame(hubID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	hub := t.hubLocked(hubID)
	hub.LastDMXAt = time.Now()
	hub.FramesMatched++
}

// RecordSent records a successfully sent streaming packet for hubID,
// updating each updated channel's last-known color.
func (t *Tracker) RecordSent(hubID string, updates []models.ColorUpdate) {
	now := time.Now()
	t.mu.Lock()
	hub := t.hubLocked(hubID)
	hub.LastSendAt = now
	hub.PacketsSent++
	for _, u := range updates {
		hub.Lights[u.ChannelID] = LightSnapshot{RGB16: u.RGB16, LastUpdateAt: now}
	}
	t.mu.Unlock()
	t.packetsSent.WithLabelValues(hubID).Inc()
}

// RecordThrottled records one throttled (or rate-halving-skipped)
// sendUpdate call for hubID.
func (t *Tracker) RecordThrottled(hubID string) {
	t.mu.Lock()
	hub := t.hubLocked(hubID)
	hub.PacketsThrottled++
	t.mu.Unlock()
	t.packetsThrottled.WithLabelValues(hubID).Inc()
}

// RecordDropped records one sendUpdate call dropped because the
// session was not open for hubID.
func (t *Tracker) RecordDropped(hubID string) {
	t.mu.Lock()
	hub := t.hubLocked(hubID)
	hub.PacketsDropped++
	t.mu.Unlock()
	t.packetsDropped.WithLabelValues(hubID).Inc()
}

// RecordError records the most recent error observed for hubID.
func (t *Tracker) RecordError(hubID string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	hub := t.hubLocked(hubID)
	if err != nil {
		hub.LastError = err.Error()
	}
}

// Snapshot returns a deep copy of the current status, safe for the
// caller to retain or serialize without racing further updates.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	snap := Snapshot{
		Receiver: t.receiver,
		Hubs:     make(map[string]HubSnapshot, len(t.hubs)),
	}
	snap.Receiver.FramesByUniverse = make(map[int]uint64, len(t.receiver.FramesByUniverse))
	for universe, n := range t.receiver.FramesByUniverse {
		snap.Receiver.FramesByUniverse[universe] = n
	}

	for hubID, hub := range t.hubs {
		copied := *hub
		copied.Lights = make(map[int]LightSnapshot, len(hub.Lights))
		for channelID, light := range hub.Lights {
			copied.Lights[channelID] = light
		}
		snap.Hubs[hubID] = copied
	}

	return snap
}

// DumpDebug logs a deep dump of the current snapshot at Debug level,
// using go-spew for ad-hoc state inspection.
func (t *Tracker) DumpDebug() {
	t.logger.Debug("runtime status dump", "snapshot", spew.Sdump(t.Snapshot()))
}
