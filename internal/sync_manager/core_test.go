package syncmanager

import (
	"errors"
	"math/rand"
	"net/netip"
	"sync"
	"testing"
	"time"

	"trafficrc/internal/metrics"
	"trafficrc/internal/models"
	"trafficrc/internal/wire"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{
		DiscoveryInterval:    3 * time.Second,
		SynchronizedInterval: 15 * time.Second,
		StaleTimeout:         30 * time.Second,
		SweepInterval:        time.Second,
	}
}

func newTestCore(t *testing.T) (*Core, *mockTransport, *metrics.Metrics) {
	t.Helper()
	tr := newMockTransport()
	m := metrics.NewMetrics(nil)
	c := NewCore(testConfig(), tr, m, testLogger())
	c.Activate(at(0))
	return c, tr, m
}

func aircraftIDs(list []models.AircraftState) []models.AircraftID {
	ids := make([]models.AircraftID, 0, len(list))
	for _, ac := range list {
		ids = append(ids, ac.ID)
	}
	return ids
}

func TestCore_SinglePeerLifecycle(t *testing.T) {
	c, _, _ := newTestCore(t)
	a := src("10.0.0.1")

	c.HandleMessage(settingsMsg(1, 50000), a, at(0))
	c.HandleMessage(aircraftMsg(1, 0xA1), a, at(1))
	c.Tick(at(2))

	assert.Equal(t, []models.AircraftID{0xA1}, aircraftIDs(c.GetLiveAircraft()))
	assert.Equal(t, 50000.0, c.GetEffectiveSettings().MaxDrawDist)
	assert.Equal(t, 1, c.GetEffectiveSettings().PeerCount)
	assert.Equal(t, StateSynchronized, c.Snapshot().State)

	c.Tick(at(31))
	assert.Len(t, c.GetLiveAircraft(), 1, "exactly staleTimeout is still live")

	c.Tick(at(32))
	assert.Empty(t, c.GetLiveAircraft())
	assert.Equal(t, models.EffectiveSettings{SettingsSnapshot: models.DefaultSettings()}, c.GetEffectiveSettings())
	assert.Equal(t, StateDiscovering, c.Snapshot().State)
	assert.Empty(t, c.Snapshot().Peers)
}

func TestCore_TwoConflictingPeers(t *testing.T) {
	c, _, m := newTestCore(t)
	a, b := src("10.0.0.1"), src("10.0.0.2")

	c.HandleMessage(settingsMsg(1, 50000), a, at(0))
	c.HandleMessage(settingsMsg(1, 80000), b, at(0))
	assert.Equal(t, 80000.0, c.GetEffectiveSettings().MaxDrawDist)
	assert.Equal(t, 2, c.GetEffectiveSettings().PeerCount)

	// A остается живым, B замолкает
	c.HandleMessage(aircraftMsg(1, 0xA1), a, at(20))
	c.Tick(at(31))
	assert.Equal(t, 50000.0, c.GetEffectiveSettings().MaxDrawDist)
	assert.Equal(t, 1, c.GetEffectiveSettings().PeerCount)
	assert.Equal(t, int64(1), m.Stats().PeersEvicted)
}

func TestCore_DuplicateIdentityReplacesSettings(t *testing.T) {
	c, _, _ := newTestCore(t)
	a := src("10.0.0.1")

	first := models.DefaultSettings()
	first.MaxDrawDist = 50000
	first.MapEnabled = true
	first.SenderName = "first"
	second := models.SettingsSnapshot{MaxDrawDist: 10000, SenderName: "second"}

	c.HandleMessage(wire.SettingsAnnounce{Instance: 1, Settings: first}, a, at(0))
	c.HandleMessage(wire.SettingsAnnounce{Instance: 1, Settings: second}, a, at(1))

	eff := c.GetEffectiveSettings()
	assert.Equal(t, second, eff.SettingsSnapshot)
	assert.Equal(t, 1, eff.PeerCount)
}

func TestCore_MergeIndependentOfArrivalOrder(t *testing.T) {
	msgs := []struct {
		msg wire.SettingsAnnounce
		src string
	}{
		{msg: settingsMsg(1, 50000), src: "10.0.0.1"},
		{msg: settingsMsg(2, 80000), src: "10.0.0.1"},
		{msg: wire.SettingsAnnounce{Instance: 1, Settings: models.SettingsSnapshot{SenderName: "x", MaxAircraft: 20, TCASControl: true}}, src: "10.0.0.3"},
		{msg: wire.SettingsAnnounce{Instance: 5, Settings: models.SettingsSnapshot{SenderName: "a", MaxLabelDist: 9000, LogLevel: models.LogLevelError}}, src: "10.0.0.2"},
	}

	reference, _, _ := newTestCore(t)
	for _, m := range msgs {
		reference.HandleMessage(m.msg, src(m.src), at(0))
	}
	want := reference.GetEffectiveSettings()

	rnd := rand.New(rand.NewSource(7))
	for i := 0; i < 20; i++ {
		c, _, _ := newTestCore(t)
		for _, j := range rnd.Perm(len(msgs)) {
			c.HandleMessage(msgs[j].msg, src(msgs[j].src), at(0))
		}
		require.Equal(t, want, c.GetEffectiveSettings())
		for _, m := range msgs {
			assert.GreaterOrEqual(t, c.GetEffectiveSettings().MaxDrawDist, m.msg.Settings.MaxDrawDist)
		}
	}
}

func TestCore_GoodbyeRemovesImmediately(t *testing.T) {
	c, _, m := newTestCore(t)
	a, b := src("10.0.0.1"), src("10.0.0.2")

	c.HandleMessage(aircraftMsg(1, 0xA1), a, at(0))
	c.HandleMessage(aircraftMsg(1, 0xB1), b, at(0))
	c.Flush(at(0))
	require.Len(t, c.GetLiveAircraft(), 2)

	c.HandleMessage(wire.PeerGoodbye{Instance: 1}, a, at(1))
	assert.Equal(t, []models.AircraftID{0xB1}, aircraftIDs(c.GetLiveAircraft()))
	assert.Equal(t, int64(1), m.Stats().Goodbyes)
	assert.Zero(t, m.Stats().PeersEvicted)
}

func TestCore_LazyEvictionOnPublish(t *testing.T) {
	c, _, _ := newTestCore(t)
	a, b := src("10.0.0.1"), src("10.0.0.2")

	c.HandleMessage(aircraftMsg(1, 0xA1), a, at(0))
	// B появляется после истечения окна A: публикация сначала вытесняет A
	c.HandleMessage(settingsMsg(1, 1000), b, at(40))

	snap := c.Snapshot()
	require.Len(t, snap.Peers, 1)
	assert.Equal(t, models.NewPeerIdentity(b, 1), snap.Peers[0].Identity)
	assert.Empty(t, snap.Aircraft)
}

func TestCore_FlushEvictsStalePeers(t *testing.T) {
	c, _, m := newTestCore(t)
	a, b := src("10.0.0.1"), src("10.0.0.2")

	c.HandleMessage(aircraftMsg(1, 0xA1), a, at(0))
	c.HandleMessage(aircraftMsg(1, 0xB1), b, at(0))
	seq := c.Snapshot().Seq

	// только обновление борта: публикация отложена до Flush, A к этому моменту молчит 40s
	c.HandleMessage(aircraftMsg(1, 0xB1), b, at(40))
	assert.Equal(t, seq, c.Snapshot().Seq)

	c.Flush(at(40))
	snap := c.Snapshot()
	assert.Greater(t, snap.Seq, seq)
	require.Len(t, snap.Peers, 1)
	assert.Equal(t, models.NewPeerIdentity(b, 1), snap.Peers[0].Identity)
	assert.Equal(t, []models.AircraftID{0xB1}, aircraftIDs(snap.Aircraft))
	assert.Equal(t, int64(1), m.Stats().PeersEvicted)
}

func TestCore_AircraftChangesPublishOnFlush(t *testing.T) {
	c, _, _ := newTestCore(t)
	a := src("10.0.0.1")

	c.HandleMessage(settingsMsg(1, 1000), a, at(0))
	seq := c.Snapshot().Seq

	c.HandleMessage(aircraftMsg(1, 0xA1), a, at(0.1))
	c.HandleMessage(aircraftMsg(1, 0xA2), a, at(0.2))
	assert.Equal(t, seq, c.Snapshot().Seq, "position updates alone do not remerge or publish")

	c.Flush(at(0.3))
	assert.Equal(t, seq+1, c.Snapshot().Seq)
	assert.Equal(t, []models.AircraftID{0xA1, 0xA2}, aircraftIDs(c.GetLiveAircraft()))

	c.Flush(at(0.4))
	assert.Equal(t, seq+1, c.Snapshot().Seq, "nothing pending")
}

func TestCore_InboundBeaconIgnored(t *testing.T) {
	c, _, _ := newTestCore(t)
	seq := c.Snapshot().Seq

	c.HandleMessage(wire.InterestBeacon{}, src("10.0.0.9"), at(1))
	c.HandleMessage(nil, src("10.0.0.9"), at(1))

	assert.Equal(t, seq, c.Snapshot().Seq)
	assert.Empty(t, c.Snapshot().Peers)
	assert.Equal(t, StateDiscovering, c.State())
}

func TestCore_BeaconCadence(t *testing.T) {
	c, tr, _ := newTestCore(t)
	a := src("10.0.0.1")
	tr.AssertNumberOfCalls(t, "SendBeacon", 1)
	assert.Equal(t, StateDiscovering, c.State())

	c.Tick(at(2))
	tr.AssertNumberOfCalls(t, "SendBeacon", 1)
	c.Tick(at(3))
	tr.AssertNumberOfCalls(t, "SendBeacon", 2)

	c.HandleMessage(settingsMsg(1, 1000), a, at(4))
	assert.Equal(t, StateSynchronized, c.State())

	c.Tick(at(6))
	tr.AssertNumberOfCalls(t, "SendBeacon", 3)
	assert.Equal(t, at(21), c.NextBeacon(), "slower cadence while synchronized")

	c.HandleMessage(aircraftMsg(1, 0xA1), a, at(19))
	c.Tick(at(20))
	tr.AssertNumberOfCalls(t, "SendBeacon", 3)
	c.Tick(at(21))
	tr.AssertNumberOfCalls(t, "SendBeacon", 4)

	// последний отправитель выбыл: назад к частому маяку, не дожидаясь at(36)
	c.Tick(at(50))
	assert.Equal(t, StateDiscovering, c.State())
	tr.AssertNumberOfCalls(t, "SendBeacon", 5)
	assert.Equal(t, at(53), c.NextBeacon())
	c.Tick(at(53))
	tr.AssertNumberOfCalls(t, "SendBeacon", 6)
}

func TestCore_BeaconSendErrorIsTransient(t *testing.T) {
	tr := &mockTransport{}
	tr.On("SendBeacon").Return(errors.New("network is unreachable"))
	c := NewCore(testConfig(), tr, nil, testLogger())

	c.Activate(at(0))
	assert.Equal(t, at(3), c.NextBeacon())
	c.Tick(at(3))
	tr.AssertNumberOfCalls(t, "SendBeacon", 2)
	assert.True(t, c.Active())
}

func TestCore_ActivateDeactivateIdempotent(t *testing.T) {
	tr := newMockTransport()
	c := NewCore(testConfig(), tr, nil, testLogger())
	assert.Equal(t, StateIdle, c.Snapshot().State)

	c.Activate(at(0))
	seq := c.Snapshot().Seq
	c.Activate(at(1))
	tr.AssertNumberOfCalls(t, "SendBeacon", 1)
	assert.Equal(t, seq, c.Snapshot().Seq)

	c.HandleMessage(aircraftMsg(1, 0xA1), src("10.0.0.1"), at(1))
	c.Deactivate(at(2))
	after := c.Snapshot()
	c.Deactivate(at(3))
	assert.Same(t, after, c.Snapshot())

	assert.Equal(t, StateIdle, after.State)
	assert.Empty(t, after.Aircraft)
	assert.Empty(t, after.Peers)
	assert.Equal(t, models.DefaultSettings(), after.Settings.SettingsSnapshot)

	c.HandleMessage(aircraftMsg(1, 0xA2), src("10.0.0.1"), at(4))
	c.Tick(at(4))
	assert.Empty(t, c.GetLiveAircraft(), "inactive core ignores input")
	tr.AssertNumberOfCalls(t, "SendBeacon", 1)

	c.Activate(at(5))
	tr.AssertNumberOfCalls(t, "SendBeacon", 2)
	assert.Equal(t, StateDiscovering, c.Snapshot().State)
}

func TestCore_CollisionCounted(t *testing.T) {
	c, _, m := newTestCore(t)
	a := src("10.0.0.1")
	other := netip.AddrPortFrom(a.Addr(), 50000)

	c.HandleMessage(settingsMsg(1, 1000), a, at(0))
	c.HandleMessage(settingsMsg(1, 2000), other, at(1))

	assert.Equal(t, int64(1), m.Stats().Collisions)
	snap := c.Snapshot()
	require.Len(t, snap.Peers, 1)
	assert.Equal(t, other, snap.Peers[0].Source)
	assert.Equal(t, 2000.0, snap.Settings.MaxDrawDist)
}

func TestCore_CollisionPublishesOnlyNewWriterAircraft(t *testing.T) {
	c, _, _ := newTestCore(t)
	a := src("10.0.0.1")
	other := netip.AddrPortFrom(a.Addr(), 50000)

	c.HandleMessage(settingsMsg(1, 5000), a, at(0))
	c.HandleMessage(aircraftMsg(1, 0x10), a, at(0.5))
	c.HandleMessage(aircraftMsg(1, 0x20), other, at(1))

	snap := c.Snapshot()
	require.Len(t, snap.Peers, 1)
	assert.False(t, snap.Peers[0].HasSettings)
	assert.Equal(t, []models.AircraftID{0x20}, aircraftIDs(snap.Aircraft))
	assert.Zero(t, snap.Settings.PeerCount)
}

func TestCore_ReadersSeeWholeSnapshots(t *testing.T) {
	c, _, _ := newTestCore(t)
	peers := []netip.AddrPort{src("10.0.0.1"), src("10.0.0.2"), src("10.0.0.3")}

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				snap := c.Snapshot()
				owners := make(map[models.PeerIdentity]int, len(snap.Peers))
				for _, p := range snap.Peers {
					owners[p.Identity] = p.AircraftCount
				}
				counted := 0
				for _, ac := range snap.Aircraft {
					if _, ok := owners[ac.Owner]; !ok {
						t.Errorf("aircraft %s owned by unknown peer %s", ac.ID, ac.Owner)
						return
					}
					counted++
				}
				total := 0
				for _, n := range owners {
					total += n
				}
				if counted != total {
					t.Errorf("snapshot %d: %d aircraft, peers claim %d", snap.Seq, counted, total)
					return
				}
			}
		}()
	}

	for i := 0; i < 2000; i++ {
		p := peers[i%len(peers)]
		now := at(float64(i) / 100)
		switch i % 7 {
		case 0:
			c.HandleMessage(settingsMsg(1, float64(i)), p, now)
		case 6:
			c.HandleMessage(wire.PeerGoodbye{Instance: 1}, p, now)
		default:
			c.HandleMessage(aircraftMsg(1, models.AircraftID(i%50+1)), p, now)
		}
		c.Flush(now)
	}
	close(stop)
	wg.Wait()
}
