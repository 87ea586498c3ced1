package syncmanager

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"trafficrc/internal/metrics"
	"trafficrc/internal/models"
	"trafficrc/internal/sync_manager/transport"
	"trafficrc/internal/wire"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func serviceConfig() Config {
	cfg := testConfig()
	cfg.SweepInterval = 20 * time.Millisecond
	cfg.InboundQueue = 16
	return cfg
}

func newTestService(t *testing.T, tr *mockTransport, deps Deps) *Service {
	t.Helper()
	deps.Transport = tr
	return NewService(serviceConfig(), deps, testLogger())
}

func TestService_ActivateDeactivateIdempotent(t *testing.T) {
	tr := newMockTransport()
	tr.On("Start", mock.Anything).Return(nil).Once()
	tr.On("Stop").Return(nil).Once()
	j := &memoryJournal{}
	s := newTestService(t, tr, Deps{Journal: j, Group: "239.255.1.1:49788"})

	ctx := context.Background()
	require.NoError(t, s.Activate(ctx))
	require.NoError(t, s.Activate(ctx))
	assert.True(t, s.Active())
	tr.AssertNumberOfCalls(t, "Start", 1)
	tr.AssertNumberOfCalls(t, "SendBeacon", 1)

	require.NoError(t, s.Deactivate())
	require.NoError(t, s.Deactivate())
	assert.False(t, s.Active())
	tr.AssertNumberOfCalls(t, "Stop", 1)

	sessions := j.all()
	require.Len(t, sessions, 1)
	assert.Equal(t, s.SessionID(), sessions[0].ID)
	assert.Equal(t, "239.255.1.1:49788", sessions[0].Group)
	assert.False(t, sessions[0].EndedAt.Before(sessions[0].StartedAt))
	tr.AssertExpectations(t)
}

func TestService_ActivateFailureReportedOnce(t *testing.T) {
	tr := newMockTransport()
	setupErr := fmt.Errorf("%w: listen: address in use", transport.ErrSetup)
	tr.On("Start", mock.Anything).Return(setupErr)
	s := newTestService(t, tr, Deps{})

	err := s.Activate(context.Background())
	assert.ErrorIs(t, err, transport.ErrSetup)
	assert.False(t, s.Active())
	assert.Equal(t, StateIdle, s.Snapshot().State)
	tr.AssertNotCalled(t, "SendBeacon")

	// неактивный сервис не требует остановки транспорта
	assert.NoError(t, s.Deactivate())
	tr.AssertNotCalled(t, "Stop")
}

func TestService_MessagesReachSnapshot(t *testing.T) {
	tr := newMockTransport()
	tr.On("Start", mock.Anything).Return(nil)
	tr.On("Stop").Return(nil)
	m := metrics.NewMetrics(nil)
	s := newTestService(t, tr, Deps{Metrics: m})

	require.NoError(t, s.Activate(context.Background()))
	defer s.Deactivate()

	a, b := src("10.0.0.1"), src("10.0.0.2")
	tr.deliver(settingsMsg(1, 50000), a)
	tr.deliver(aircraftMsg(1, 0xA1), a)
	tr.deliver(settingsMsg(1, 80000), b)
	tr.deliver(aircraftMsg(1, 0xB1), b)

	require.Eventually(t, func() bool {
		return len(s.GetLiveAircraft()) == 2
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, 80000.0, s.GetEffectiveSettings().MaxDrawDist)
	assert.Equal(t, StateSynchronized, s.Snapshot().State)

	tr.deliver(wire.PeerGoodbye{Instance: 1}, b)
	require.Eventually(t, func() bool {
		return s.GetEffectiveSettings().MaxDrawDist == 50000
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []models.AircraftID{0xA1}, aircraftIDs(s.GetLiveAircraft()))
}

func TestService_DeactivateDiscardsState(t *testing.T) {
	tr := newMockTransport()
	tr.On("Start", mock.Anything).Return(nil)
	tr.On("Stop").Return(nil)
	s := newTestService(t, tr, Deps{})

	require.NoError(t, s.Activate(context.Background()))
	tr.deliver(aircraftMsg(1, 0xA1), src("10.0.0.1"))
	require.Eventually(t, func() bool {
		return len(s.GetLiveAircraft()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, s.Deactivate())
	assert.Empty(t, s.GetLiveAircraft())
	assert.Equal(t, StateIdle, s.Snapshot().State)

	// после повторной активации состояние строится с нуля
	require.NoError(t, s.Activate(context.Background()))
	defer s.Deactivate()
	assert.Empty(t, s.Snapshot().Peers)
	assert.Equal(t, StateDiscovering, s.Snapshot().State)
}

func TestService_FullQueueDropsAndCounts(t *testing.T) {
	tr := newMockTransport()
	tr.On("Start", mock.Anything).Return(nil)
	tr.On("Stop").Return(nil)
	m := metrics.NewMetrics(nil)

	// первый вызов часов - в Activate; дальше горутина ядра стоит, пока gate закрыт
	gate := make(chan struct{})
	var calls atomic.Int32
	now := func() time.Time {
		if calls.Add(1) > 1 {
			<-gate
		}
		return time.Now()
	}

	cfg := serviceConfig()
	cfg.InboundQueue = 1
	s := NewService(cfg, Deps{Transport: tr, Metrics: m, Now: now}, testLogger())

	require.NoError(t, s.Activate(context.Background()))
	for i := 0; i < 10; i++ {
		tr.deliver(aircraftMsg(1, models.AircraftID(i+1)), src("10.0.0.1"))
	}
	close(gate)
	require.NoError(t, s.Deactivate())

	// прием никогда не блокируется: лишнее отбрасывается
	assert.GreaterOrEqual(t, m.Stats().InboundDropped, int64(8))
}

func TestService_MetricsEndpoint(t *testing.T) {
	tr := newMockTransport()
	tr.On("Start", mock.Anything).Return(nil)
	tr.On("Stop").Return(nil)

	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)
	s := newTestService(t, tr, Deps{Metrics: m, MetricsAddr: "127.0.0.1:0", Gatherer: reg})

	require.NoError(t, s.Activate(context.Background()))
	defer s.Deactivate()

	addr := s.MetricsAddr()
	require.NotNil(t, addr)

	client := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}}
	resp, err := client.Get("http://" + addr.String() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "trafficrc_snapshots_published_total")
}
