package cliplugins

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/netip"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"trafficrc/internal/config"
	"trafficrc/internal/journal"
	"trafficrc/internal/models"
	"trafficrc/internal/peersim"
	syncmanager "trafficrc/internal/sync_manager"
	"trafficrc/internal/wire"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	color.NoColor = true
}

func testApp(t *testing.T) (*AppContext, *bytes.Buffer) {
	t.Helper()
	out := &bytes.Buffer{}
	app := NewAppContext()
	app.Out = out
	app.Log = slog.New(slog.NewTextHandler(io.Discard, nil))
	app.Config = &config.Config{
		Env:      config.EnvLocal,
		LogLevel: "info",
		Multicast: config.Multicast{
			Group: "239.255.1.1",
			Port:  49788,
			TTL:   1,
		},
	}
	return app, out
}

func peerID(addr string, instance uint32) models.PeerIdentity {
	return models.NewPeerIdentity(netip.AddrPortFrom(netip.MustParseAddr(addr), 49788), instance)
}

func TestRenderSnapshot(t *testing.T) {
	owner := peerID("10.0.0.1", 7)
	snap := &syncmanager.Snapshot{
		Seq:   3,
		State: syncmanager.StateSynchronized,
		Settings: models.EffectiveSettings{SettingsSnapshot: models.SettingsSnapshot{
			MaxDrawDist: 50000, MaxLabelDist: 3000,
		}},
		Peers: []syncmanager.PeerSummary{{
			Identity: owner, SenderName: "LiveTraffic", AircraftCount: 1, HasSettings: true,
		}},
		Aircraft: []models.AircraftState{{
			ID: 0xABCDEF, Owner: owner, ICAOType: "A321", Label: "BAW123",
		}},
	}

	var buf bytes.Buffer
	renderSnapshot(&buf, snap)
	out := buf.String()

	assert.Contains(t, out, "snapshot #3")
	assert.Contains(t, out, "[synchronized]")
	assert.Contains(t, out, "peers=1 aircraft=1")
	assert.Contains(t, out, "10.0.0.1#7")
	assert.Contains(t, out, "LiveTraffic")
	assert.Contains(t, out, "ABCDEF")
	assert.Contains(t, out, "BAW123")
}

func TestRenderSnapshot_Empty(t *testing.T) {
	var buf bytes.Buffer
	renderSnapshot(&buf, &syncmanager.Snapshot{State: syncmanager.StateDiscovering})
	assert.Contains(t, buf.String(), "peers=0 aircraft=0")
	assert.NotContains(t, buf.String(), "PEER")
}

func TestRenderStats_StableOrder(t *testing.T) {
	var buf bytes.Buffer
	renderStats(&buf, map[string]interface{}{"malformed": 2, "datagrams_received": 10, "unknown": 1}, statsOrder)
	out := buf.String()

	assert.NotContains(t, out, "unknown")
	assert.Less(t, bytes.Index(buf.Bytes(), []byte("datagrams_received")), bytes.Index(buf.Bytes(), []byte("malformed")))
}

// fakeTransport отвечает на маяк заранее заданными сообщениями
type fakeTransport struct {
	mu      sync.Mutex
	cb      func(wire.Message, netip.AddrPort)
	answers []wire.Message
	started bool
	stopped bool
	beacons atomic.Int32
}

func (f *fakeTransport) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = true
	return nil
}

func (f *fakeTransport) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
	return nil
}

func (f *fakeTransport) Name() string { return "fake" }

func (f *fakeTransport) SetOnMessage(cb func(wire.Message, netip.AddrPort)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cb = cb
}

func (f *fakeTransport) Send(msg wire.Message) error { return nil }

func (f *fakeTransport) SendBeacon() error {
	f.beacons.Add(1)
	f.mu.Lock()
	cb, answers := f.cb, f.answers
	f.mu.Unlock()

	src := netip.AddrPortFrom(netip.MustParseAddr("10.0.0.9"), 49788)
	cb(wire.InterestBeacon{}, src)
	for _, a := range answers {
		cb(a, src)
	}
	return nil
}

func TestSolicit_ListsResponders(t *testing.T) {
	app, out := testApp(t)
	s := models.DefaultSettings()
	s.SenderName = "sim-a"
	tr := &fakeTransport{answers: []wire.Message{
		wire.SettingsAnnounce{Instance: 2, Settings: s},
		wire.AircraftUpdate{Instance: 2, Aircraft: models.AircraftState{ID: 1}},
		wire.PeerGoodbye{Instance: 3},
	}}

	err := solicit(context.Background(), tr, 10*time.Millisecond, app, app.Log)
	require.NoError(t, err)

	assert.True(t, tr.started)
	assert.True(t, tr.stopped)
	assert.Equal(t, int32(1), tr.beacons.Load())
	assert.Contains(t, out.String(), "2 sender(s) answered")
	assert.Contains(t, out.String(), "10.0.0.9#2\tsim-a\t2 msg")
	assert.Contains(t, out.String(), "10.0.0.9#3")
}

func TestSolicit_NoListen(t *testing.T) {
	app, out := testApp(t)
	tr := &fakeTransport{}

	require.NoError(t, solicit(context.Background(), tr, 0, app, app.Log))
	assert.Empty(t, out.String())
	assert.True(t, tr.stopped)
}

func TestSimulateCommand_FlagsOverrideConfig(t *testing.T) {
	app, _ := testApp(t)
	app.Config.Simulator = config.Simulator{
		Name: "from-config", Instance: 4, Aircraft: 5, MaxDrawDist: 30000,
		UpdateInterval: time.Second, AnnounceInterval: 10 * time.Second,
	}

	c := NewSimulateCommand(app)
	cmd := c.Meta()
	require.NoError(t, cmd.Flags().Set("aircraft", "0"))
	require.NoError(t, cmd.Flags().Set("name", "from-flag"))

	cfg := c.simConfig(cmd)
	assert.Equal(t, "from-flag", cfg.Name)
	assert.Equal(t, uint32(4), cfg.Instance)
	assert.Equal(t, 0, cfg.Aircraft)
	assert.Equal(t, 30000.0, cfg.MaxDrawDist)
	assert.False(t, cfg.WaitForBeacon)
}

func TestSimulateCommand_RejectsLongName(t *testing.T) {
	app, _ := testApp(t)
	c := NewSimulateCommand(app)
	cmd := c.Meta()
	require.NoError(t, cmd.Flags().Set("name", strings.Repeat("n", wire.MaxSenderNameLen+1)))

	err := c.Execute(cmd, nil)
	assert.ErrorIs(t, err, peersim.ErrInvalidConfig)
}

func TestJournalCommand(t *testing.T) {
	app, out := testApp(t)
	app.Config.Journal.Path = filepath.Join(t.TempDir(), "journal.db")

	jr, err := journal.Open(journal.Config{Path: app.Config.Journal.Path})
	require.NoError(t, err)
	s := journal.NewSession("239.255.1.1:49788", time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	s.EndedAt = s.StartedAt.Add(time.Minute)
	s.MaxPeers = 3
	s.Stats.DatagramsReceived = 42
	require.NoError(t, jr.Save(s))
	require.NoError(t, jr.Close())

	c := NewJournalCommand(app)
	require.NoError(t, c.Execute(c.Meta(), nil))
	assert.Contains(t, out.String(), s.ID)
	assert.Contains(t, out.String(), "1m0s")

	out.Reset()
	require.NoError(t, c.Meta().Flags().Set("id", s.ID))
	require.NoError(t, c.Execute(c.Meta(), nil))
	assert.Contains(t, out.String(), "max_peers  3")
	assert.Contains(t, out.String(), "datagrams_received  42")

	require.NoError(t, c.Meta().Flags().Set("id", "missing"))
	err = c.Execute(c.Meta(), nil)
	assert.ErrorIs(t, err, journal.ErrSessionNotFound)
}

func TestJournalCommand_NotConfigured(t *testing.T) {
	app, _ := testApp(t)
	c := NewJournalCommand(app)
	assert.Error(t, c.Execute(c.Meta(), nil))
}

type seqReader struct {
	seq atomic.Uint64
}

func (r *seqReader) Snapshot() *syncmanager.Snapshot {
	return &syncmanager.Snapshot{Seq: r.seq.Load(), State: syncmanager.StateDiscovering}
}

func (r *seqReader) GetEffectiveSettings() models.EffectiveSettings {
	return models.EffectiveSettings{}
}

func (r *seqReader) GetLiveAircraft() []models.AircraftState { return nil }

func TestRunCommand_ConsumePrintsOnlyNewSnapshots(t *testing.T) {
	app, out := testApp(t)
	r := NewRunCommand(app)
	r.interval = 2 * time.Millisecond

	reader := &seqReader{}
	reader.seq.Store(1)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	require.NoError(t, r.consume(ctx, reader))

	assert.Equal(t, 1, bytes.Count(out.Bytes(), []byte("snapshot #1")))
}
