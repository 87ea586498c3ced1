package metrics

import (
	"sync/atomic"
	"time"

	"trafficrc/internal/wire"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics - диагностические счетчики синхронизатора.
// Безопасны для вызова из сетевого и потребительского контекстов одновременно.
type Metrics struct {
	datagramsReceived int64
	messagesDecoded   int64
	malformed         int64
	inboundDropped    int64
	beaconsReceived   int64
	beaconsSent       int64
	sendErrors        int64
	receiveErrors     int64
	collisions        int64
	peersAdded        int64
	peersEvicted      int64
	goodbyes          int64
	merges            int64
	publishes         int64
	livePeers         int64
	liveAircraft      int64
	lastDatagramNano  int64

	prom *promMetrics
}

type promMetrics struct {
	datagrams    prometheus.Counter
	decoded      *prometheus.CounterVec
	malformed    *prometheus.CounterVec
	dropped      prometheus.Counter
	beaconsSent  prometheus.Counter
	sendErrors   prometheus.Counter
	recvErrors   prometheus.Counter
	collisions   prometheus.Counter
	evictions    prometheus.Counter
	goodbyes     prometheus.Counter
	publishes    prometheus.Counter
	livePeers    prometheus.Gauge
	liveAircraft prometheus.Gauge
}

// NewMetrics создает счетчики; если reg не nil, они также регистрируются в Prometheus
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{}
	if reg == nil {
		return m
	}

	const ns = "trafficrc"
	p := &promMetrics{
		datagrams: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "datagrams_received_total", Help: "Datagrams read from the multicast socket.",
		}),
		decoded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Name: "messages_decoded_total", Help: "Successfully decoded messages by type.",
		}, []string{"type"}),
		malformed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Name: "datagrams_malformed_total", Help: "Dropped undecodable datagrams by reason.",
		}, []string{"reason"}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "inbound_dropped_total", Help: "Decoded messages dropped because the inbound queue was full.",
		}),
		beaconsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "beacons_sent_total", Help: "Interest beacons sent.",
		}),
		sendErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "send_errors_total", Help: "Transient send failures.",
		}),
		recvErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "receive_errors_total", Help: "Transient receive failures.",
		}),
		collisions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "identity_collisions_total", Help: "Peer identities seen from a second source address.",
		}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "peers_evicted_total", Help: "Peers removed by the staleness sweep.",
		}),
		goodbyes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "peer_goodbyes_total", Help: "Peers removed by an explicit goodbye.",
		}),
		publishes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "snapshots_published_total", Help: "Snapshots published to the consumer.",
		}),
		livePeers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Name: "live_peers", Help: "Currently live peers.",
		}),
		liveAircraft: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Name: "live_aircraft", Help: "Currently live aircraft.",
		}),
	}
	reg.MustRegister(p.datagrams, p.decoded, p.malformed, p.dropped, p.beaconsSent, p.sendErrors,
		p.recvErrors, p.collisions, p.evictions, p.goodbyes, p.publishes, p.livePeers, p.liveAircraft)
	m.prom = p
	return m
}

func (m *Metrics) RecordDatagram() {
	atomic.AddInt64(&m.datagramsReceived, 1)
	atomic.StoreInt64(&m.lastDatagramNano, time.Now().UnixNano())
	if m.prom != nil {
		m.prom.datagrams.Inc()
	}
}

func (m *Metrics) RecordDecoded(t wire.Type) {
	atomic.AddInt64(&m.messagesDecoded, 1)
	if t == wire.TypeInterestBeacon {
		atomic.AddInt64(&m.beaconsReceived, 1)
	}
	if m.prom != nil {
		m.prom.decoded.WithLabelValues(t.String()).Inc()
	}
}

// RecordMalformed считает отброшенную датаграмму; в лог она не попадает
func (m *Metrics) RecordMalformed(err error) {
	atomic.AddInt64(&m.malformed, 1)
	if m.prom != nil {
		m.prom.malformed.WithLabelValues(wire.ReasonLabel(err)).Inc()
	}
}

func (m *Metrics) RecordDropped() {
	atomic.AddInt64(&m.inboundDropped, 1)
	if m.prom != nil {
		m.prom.dropped.Inc()
	}
}

func (m *Metrics) RecordBeaconSent() {
	atomic.AddInt64(&m.beaconsSent, 1)
	if m.prom != nil {
		m.prom.beaconsSent.Inc()
	}
}

func (m *Metrics) RecordSendError() {
	atomic.AddInt64(&m.sendErrors, 1)
	if m.prom != nil {
		m.prom.sendErrors.Inc()
	}
}

func (m *Metrics) RecordReceiveError() {
	atomic.AddInt64(&m.receiveErrors, 1)
	if m.prom != nil {
		m.prom.recvErrors.Inc()
	}
}

func (m *Metrics) RecordCollision() {
	atomic.AddInt64(&m.collisions, 1)
	if m.prom != nil {
		m.prom.collisions.Inc()
	}
}

func (m *Metrics) RecordPeersAdded(n int) {
	atomic.AddInt64(&m.peersAdded, int64(n))
}

func (m *Metrics) RecordEvictions(n int) {
	atomic.AddInt64(&m.peersEvicted, int64(n))
	if m.prom != nil {
		m.prom.evictions.Add(float64(n))
	}
}

func (m *Metrics) RecordGoodbye() {
	atomic.AddInt64(&m.goodbyes, 1)
	if m.prom != nil {
		m.prom.goodbyes.Inc()
	}
}

func (m *Metrics) RecordMerge() {
	atomic.AddInt64(&m.merges, 1)
}

func (m *Metrics) RecordPublish(peers, aircraft int) {
	atomic.AddInt64(&m.publishes, 1)
	atomic.StoreInt64(&m.livePeers, int64(peers))
	atomic.StoreInt64(&m.liveAircraft, int64(aircraft))
	if m.prom != nil {
		m.prom.publishes.Inc()
		m.prom.livePeers.Set(float64(peers))
		m.prom.liveAircraft.Set(float64(aircraft))
	}
}

// Stats - значения счетчиков на момент вызова
type Stats struct {
	DatagramsReceived int64     `msgpack:"datagrams_received"`
	MessagesDecoded   int64     `msgpack:"messages_decoded"`
	Malformed         int64     `msgpack:"malformed"`
	InboundDropped    int64     `msgpack:"inbound_dropped"`
	BeaconsReceived   int64     `msgpack:"beacons_received"`
	BeaconsSent       int64     `msgpack:"beacons_sent"`
	SendErrors        int64     `msgpack:"send_errors"`
	ReceiveErrors     int64     `msgpack:"receive_errors"`
	Collisions        int64     `msgpack:"collisions"`
	PeersAdded        int64     `msgpack:"peers_added"`
	PeersEvicted      int64     `msgpack:"peers_evicted"`
	Goodbyes          int64     `msgpack:"goodbyes"`
	Merges            int64     `msgpack:"merges"`
	Publishes         int64     `msgpack:"publishes"`
	LivePeers         int64     `msgpack:"live_peers"`
	LiveAircraft      int64     `msgpack:"live_aircraft"`
	LastDatagram      time.Time `msgpack:"last_datagram"`
}

func (m *Metrics) Stats() Stats {
	s := Stats{
		DatagramsReceived: atomic.LoadInt64(&m.datagramsReceived),
		MessagesDecoded:   atomic.LoadInt64(&m.messagesDecoded),
		Malformed:         atomic.LoadInt64(&m.malformed),
		InboundDropped:    atomic.LoadInt64(&m.inboundDropped),
		BeaconsReceived:   atomic.LoadInt64(&m.beaconsReceived),
		BeaconsSent:       atomic.LoadInt64(&m.beaconsSent),
		SendErrors:        atomic.LoadInt64(&m.sendErrors),
		ReceiveErrors:     atomic.LoadInt64(&m.receiveErrors),
		Collisions:        atomic.LoadInt64(&m.collisions),
		PeersAdded:        atomic.LoadInt64(&m.peersAdded),
		PeersEvicted:      atomic.LoadInt64(&m.peersEvicted),
		Goodbyes:          atomic.LoadInt64(&m.goodbyes),
		Merges:            atomic.LoadInt64(&m.merges),
		Publishes:         atomic.LoadInt64(&m.publishes),
		LivePeers:         atomic.LoadInt64(&m.livePeers),
		LiveAircraft:      atomic.LoadInt64(&m.liveAircraft),
	}
	if ns := atomic.LoadInt64(&m.lastDatagramNano); ns != 0 {
		s.LastDatagram = time.Unix(0, ns)
	}
	return s
}

func (m *Metrics) GetStats() map[string]interface{} {
	return m.Stats().Map()
}

// Map раскладывает значения по именам счетчиков
func (s Stats) Map() map[string]interface{} {
	return map[string]interface{}{
		"datagrams_received": s.DatagramsReceived,
		"messages_decoded":   s.MessagesDecoded,
		"malformed":          s.Malformed,
		"inbound_dropped":    s.InboundDropped,
		"beacons_received":   s.BeaconsReceived,
		"beacons_sent":       s.BeaconsSent,
		"send_errors":        s.SendErrors,
		"receive_errors":     s.ReceiveErrors,
		"collisions":         s.Collisions,
		"peers_added":        s.PeersAdded,
		"peers_evicted":      s.PeersEvicted,
		"goodbyes":           s.Goodbyes,
		"merges":             s.Merges,
		"publishes":          s.Publishes,
		"live_peers":         s.LivePeers,
		"live_aircraft":      s.LiveAircraft,
		"last_datagram":      s.LastDatagram,
	}
}
