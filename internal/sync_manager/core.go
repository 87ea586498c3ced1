package syncmanager

import (
	"log/slog"
	"net/netip"
	"slices"
	"sync/atomic"
	"time"

	"trafficrc/internal/merger"
	"trafficrc/internal/metrics"
	"trafficrc/internal/models"
	"trafficrc/internal/registry"
	"trafficrc/internal/util/logger/sl"
	"trafficrc/internal/wire"
)

// BeaconSender - то, что нужно ядру от транспорта
type BeaconSender interface {
	SendBeacon() error
}

// Core - ядро синхронизации. Все методы, кроме методов Reader, вызываются
// только из сетевого контекста; время передается явно.
type Core struct {
	cfg     Config
	log     *slog.Logger
	beacon  BeaconSender
	merger  *merger.Merger
	metrics *metrics.Metrics
	reg     *registry.Registry

	active     bool
	state      State
	effective  models.EffectiveSettings
	dirty      bool
	nextBeacon time.Time
	seq        uint64
	maxPeers   int

	snap atomic.Pointer[Snapshot]
}

// NewCore создает ядро; m может быть nil
func NewCore(cfg Config, beacon BeaconSender, m *metrics.Metrics, log *slog.Logger) *Core {
	if m == nil {
		m = metrics.NewMetrics(nil)
	}
	cfg = cfg.withDefaults()
	c := &Core{
		cfg:     cfg,
		log:     log.With(slog.String("component", "sync_core")),
		beacon:  beacon,
		merger:  merger.MustNew(merger.DefaultPolicy()),
		metrics: m,
		reg: registry.New(registry.Config{
			StaleTimeout:    cfg.StaleTimeout,
			AircraftTimeout: cfg.AircraftTimeout,
		}),
		state:     StateIdle,
		effective: models.EffectiveSettings{SettingsSnapshot: models.DefaultSettings()},
	}
	c.snap.Store(emptySnapshot(0, StateIdle, time.Time{}))
	return c
}

// Activate отправляет первый маяк и переводит ядро в Discovering. Повторный вызов ничего не меняет.
func (c *Core) Activate(now time.Time) {
	op := "sync_core.Activate"
	log := c.log.With(slog.String("op", op))

	if c.active {
		return
	}
	c.active = true
	c.maxPeers = 0
	c.state = StateDiscovering
	c.sendBeacon(now)
	c.publish(now)

	log.Info("synchronization activated", slog.Duration("discovery_interval", c.cfg.DiscoveryInterval))
}

// Deactivate отбрасывает все состояние отправителей и публикует пустой снимок.
// Повторный вызов ничего не меняет.
func (c *Core) Deactivate(now time.Time) {
	op := "sync_core.Deactivate"
	log := c.log.With(slog.String("op", op))

	if !c.active {
		return
	}
	c.active = false
	c.reg.Reset()
	c.effective = models.EffectiveSettings{SettingsSnapshot: models.DefaultSettings()}
	c.state = StateIdle
	c.dirty = false
	c.nextBeacon = time.Time{}
	c.publish(now)

	log.Info("synchronization deactivated")
}

// Active сообщает, активно ли ядро
func (c *Core) Active() bool {
	return c.active
}

// State возвращает текущую фазу
func (c *Core) State() State {
	return c.state
}

// MaxPeers - наибольшее число одновременно живых отправителей с момента Activate
func (c *Core) MaxPeers() int {
	return c.maxPeers
}

// HandleMessage применяет одно декодированное сообщение от src
func (c *Core) HandleMessage(msg wire.Message, src netip.AddrPort, now time.Time) {
	if !c.active || msg == nil {
		return
	}
	if msg.Type() == wire.TypeInterestBeacon {
		// свои и чужие маяки интереса не несут состояния
		return
	}

	id := models.NewPeerIdentity(src, msg.SenderInstance())
	d := c.reg.Ingest(id, src, msg, now)
	if d.NeedsMerge() {
		// ленивое вытеснение перед публикацией
		d = d.Merge(c.reg.Sweep(now))
	}
	c.apply(d, now)
}

// Tick выполняет периодическую работу: вытеснение, маяк по расписанию и отложенную публикацию
func (c *Core) Tick(now time.Time) {
	if !c.active {
		return
	}
	c.apply(c.reg.Sweep(now), now)

	if !now.Before(c.nextBeacon) {
		c.sendBeacon(now)
	}
	c.Flush(now)
}

// Flush публикует накопленные изменения бортов, если они есть.
// Перед публикацией вытесняются молчащие отправители.
func (c *Core) Flush(now time.Time) {
	if !c.active || !c.dirty {
		return
	}
	c.apply(c.reg.Sweep(now), now)
	if c.dirty {
		c.publish(now)
	}
}

// apply учитывает дельту реестра: пересчет настроек и немедленная публикация
// при изменении состава или настроек, иначе пометка для Flush
func (c *Core) apply(d registry.Delta, now time.Time) {
	op := "sync_core.apply"

	if d.Collision {
		c.metrics.RecordCollision()
	}
	if n := len(d.Added); n > 0 {
		c.metrics.RecordPeersAdded(n)
	}
	evicted := len(d.Removed)
	if d.Goodbye {
		// PeerGoodbye всегда первый в Removed, остальное - ленивое вытеснение
		c.metrics.RecordGoodbye()
		evicted--
	}
	if evicted > 0 {
		c.metrics.RecordEvictions(evicted)
	}

	if d.MembershipChanged() {
		log := c.log.With(slog.String("op", op))
		for _, id := range d.Added {
			log.Info("peer added", slog.String("peer", id.String()))
		}
		for i, id := range d.Removed {
			log.Info("peer removed",
				slog.String("peer", id.String()),
				slog.Bool("goodbye", d.Goodbye && i == 0),
			)
		}
	}

	if !d.Changed() {
		return
	}

	c.updateState(now)

	if d.NeedsMerge() {
		c.effective = c.merger.Merge(c.reg.DeclaredSettings())
		c.metrics.RecordMerge()
		c.publish(now)
		return
	}
	c.dirty = true
}

// updateState переключает фазу по числу живых отправителей
func (c *Core) updateState(now time.Time) {
	live := c.reg.Len()
	if live > c.maxPeers {
		c.maxPeers = live
	}

	switch {
	case live > 0 && c.state != StateSynchronized:
		c.setState(StateSynchronized)
	case live == 0 && c.state == StateSynchronized:
		c.setState(StateDiscovering)
		// вернуться к частому маяку, не дожидаясь длинного интервала
		if next := now.Add(c.cfg.DiscoveryInterval); next.Before(c.nextBeacon) {
			c.nextBeacon = next
		}
	}
}

func (c *Core) setState(s State) {
	c.log.Debug("state changed",
		slog.String("from", c.state.String()),
		slog.String("to", s.String()),
	)
	c.state = s
}

func (c *Core) beaconInterval() time.Duration {
	if c.state == StateSynchronized {
		return c.cfg.SynchronizedInterval
	}
	return c.cfg.DiscoveryInterval
}

// sendBeacon отправляет маяк; ошибка отправки не прерывает работу, следующая попытка по расписанию
func (c *Core) sendBeacon(now time.Time) {
	op := "sync_core.sendBeacon"

	c.nextBeacon = now.Add(c.beaconInterval())
	if c.beacon == nil {
		return
	}
	if err := c.beacon.SendBeacon(); err != nil {
		c.log.With(slog.String("op", op)).Warn("beacon send failed", sl.Err(err))
	}
}

// NextBeacon - момент следующего маяка по расписанию
func (c *Core) NextBeacon() time.Time {
	return c.nextBeacon
}

// publish атомарно заменяет снимок
func (c *Core) publish(now time.Time) {
	peers, aircraft := c.reg.Snapshot()
	c.seq++
	c.dirty = false

	c.snap.Store(&Snapshot{
		Seq:         c.seq,
		State:       c.state,
		PublishedAt: now,
		Settings:    c.effective,
		Aircraft:    aircraft,
		Peers:       buildPeerSummaries(peers),
	})
	c.metrics.RecordPublish(len(peers), len(aircraft))
}

// Snapshot возвращает последний опубликованный снимок. Безопасно из любой горутины.
func (c *Core) Snapshot() *Snapshot {
	return c.snap.Load()
}

func (c *Core) GetEffectiveSettings() models.EffectiveSettings {
	return c.snap.Load().Settings
}

func (c *Core) GetLiveAircraft() []models.AircraftState {
	return slices.Clone(c.snap.Load().Aircraft)
}
