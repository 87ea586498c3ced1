package syncmanager

import (
	"net/netip"
	"slices"
	"time"

	"trafficrc/internal/models"
)

// State - фаза жизненного цикла множества отправителей
type State int32

const (
	// StateIdle - маяк еще не отправлялся
	StateIdle State = iota
	// StateDiscovering - живых отправителей нет, маяк идет с частым интервалом
	StateDiscovering
	// StateSynchronized - есть хотя бы один живой отправитель
	StateSynchronized
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDiscovering:
		return "discovering"
	case StateSynchronized:
		return "synchronized"
	}
	return "unknown"
}

// Config содержит параметры расписания синхронизатора
type Config struct {
	DiscoveryInterval    time.Duration
	SynchronizedInterval time.Duration
	StaleTimeout         time.Duration
	SweepInterval        time.Duration
	AircraftTimeout      time.Duration
	InboundQueue         int
}

func DefaultConfig() Config {
	return Config{
		DiscoveryInterval:    3 * time.Second,
		SynchronizedInterval: 15 * time.Second,
		StaleTimeout:         30 * time.Second,
		SweepInterval:        time.Second,
		InboundQueue:         1024,
	}
}

// PeerSummary - сведения об отправителе для потребителя
type PeerSummary struct {
	Identity      models.PeerIdentity
	Source        netip.AddrPort
	SenderName    string
	FirstSeen     time.Time
	LastSeen      time.Time
	AircraftCount int
	HasSettings   bool
}

// Snapshot - неизменяемый опубликованный вид: итоговые настройки и живые борта.
// Потребитель не должен изменять полученный снимок.
type Snapshot struct {
	Seq         uint64
	State       State
	PublishedAt time.Time
	Settings    models.EffectiveSettings
	Aircraft    []models.AircraftState // по возрастанию ID
	Peers       []PeerSummary          // по возрастанию идентификатора
}

// Reader - интерфейс потребителя (цикл отрисовки)
type Reader interface {
	Snapshot() *Snapshot
	GetEffectiveSettings() models.EffectiveSettings
	GetLiveAircraft() []models.AircraftState
}

func emptySnapshot(seq uint64, state State, now time.Time) *Snapshot {
	return &Snapshot{
		Seq:         seq,
		State:       state,
		PublishedAt: now,
		Settings:    models.EffectiveSettings{SettingsSnapshot: models.DefaultSettings()},
		Aircraft:    []models.AircraftState{},
		Peers:       []PeerSummary{},
	}
}

func buildPeerSummaries(peers map[models.PeerIdentity]models.PeerRecord) []PeerSummary {
	out := make([]PeerSummary, 0, len(peers))
	for _, rec := range peers {
		ps := PeerSummary{
			Identity:      rec.Identity,
			Source:        rec.Source,
			FirstSeen:     rec.FirstSeen,
			LastSeen:      rec.LastSeen,
			AircraftCount: len(rec.KnownAircraftIDs),
			HasSettings:   rec.DeclaredSettings != nil,
		}
		if rec.DeclaredSettings != nil {
			ps.SenderName = rec.DeclaredSettings.SenderName
		}
		out = append(out, ps)
	}
	slices.SortFunc(out, func(a, b PeerSummary) int { return a.Identity.Compare(b.Identity) })
	return out
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.DiscoveryInterval <= 0 {
		c.DiscoveryInterval = d.DiscoveryInterval
	}
	if c.SynchronizedInterval <= 0 {
		c.SynchronizedInterval = d.SynchronizedInterval
	}
	if c.StaleTimeout <= 0 {
		c.StaleTimeout = d.StaleTimeout
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = d.SweepInterval
	}
	if c.InboundQueue <= 0 {
		c.InboundQueue = d.InboundQueue
	}
	return c
}
