package syncmanager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"sync"
	"time"

	"trafficrc/internal/journal"
	"trafficrc/internal/metrics"
	"trafficrc/internal/models"
	"trafficrc/internal/sync_manager/transport"
	"trafficrc/internal/util/logger/sl"
	"trafficrc/internal/wire"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

const metricsShutdownTimeout = 2 * time.Second

// SessionStore сохраняет итог сессии при Deactivate
type SessionStore interface {
	Save(s journal.Session) error
}

// Deps - зависимости Service
type Deps struct {
	Transport transport.Transport
	Metrics   *metrics.Metrics
	// Journal - nil, если журнал выключен
	Journal SessionStore
	// Now - источник времени; nil - time.Now
	Now func() time.Time
	// MetricsAddr - адрес HTTP для /metrics; пусто - не запускать
	MetricsAddr string
	Gatherer    prometheus.Gatherer
	// Group - метка группы для журнала
	Group string
}

type inboundMessage struct {
	msg wire.Message
	src netip.AddrPort
}

// Service связывает транспорт и ядро: горутина приема пишет в ограниченную очередь,
// единственная горутина ядра читает ее и обслуживает таймеры
type Service struct {
	cfg  Config
	deps Deps
	log  *slog.Logger
	core *Core

	mu          sync.Mutex
	active      bool
	cancel      context.CancelFunc
	group       *errgroup.Group
	session     journal.Session
	metricsAddr net.Addr
}

func NewService(cfg Config, deps Deps, log *slog.Logger) *Service {
	cfg = cfg.withDefaults()
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewMetrics(nil)
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Service{
		cfg:  cfg,
		deps: deps,
		log:  log.With(slog.String("component", "sync_service")),
		core: NewCore(cfg, deps.Transport, deps.Metrics, log),
	}
}

// Activate присоединяется к группе и запускает синхронизацию.
// Ошибка настройки транспорта возвращается один раз, сервис остается неактивным.
// Повторный вызов без Deactivate ничего не делает.
func (s *Service) Activate(ctx context.Context) error {
	op := "sync_service.Activate"
	log := s.log.With(slog.String("op", op))

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active {
		return nil
	}

	inbound := make(chan inboundMessage, s.cfg.InboundQueue)
	s.deps.Transport.SetOnMessage(func(msg wire.Message, src netip.AddrPort) {
		select {
		case inbound <- inboundMessage{msg: msg, src: src}:
		default:
			s.deps.Metrics.RecordDropped()
		}
	})

	// время жизни определяется Deactivate, а не контекстом вызова
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	if err := s.deps.Transport.Start(runCtx); err != nil {
		cancel()
		log.Error("activation failed", slog.String("transport", s.deps.Transport.Name()), sl.Err(err))
		return fmt.Errorf("activate: %w", err)
	}

	now := s.deps.Now()
	s.session = journal.NewSession(s.deps.Group, now)
	s.core.Activate(now)

	g := &errgroup.Group{}
	g.Go(func() error {
		return s.run(runCtx, inbound)
	})
	s.startMetricsServer(runCtx, g)

	s.cancel = cancel
	s.group = g
	s.active = true

	log.Info("service activated", slog.String("session", s.session.ID))
	return nil
}

// Deactivate покидает группу и отбрасывает состояние отправителей. Повторный вызов ничего не делает.
func (s *Service) Deactivate() error {
	op := "sync_service.Deactivate"
	log := s.log.With(slog.String("op", op))

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.active {
		return nil
	}

	s.cancel()
	stopErr := s.deps.Transport.Stop()
	if stopErr != nil {
		log.Warn("transport stop", sl.Err(stopErr))
	}
	waitErr := s.group.Wait()

	// горутина ядра завершена, ядро снова принадлежит этому вызову
	now := s.deps.Now()
	s.session.MaxPeers = s.core.MaxPeers()
	s.core.Deactivate(now)

	s.session.EndedAt = now
	s.session.Stats = s.deps.Metrics.Stats()
	if s.deps.Journal != nil {
		if err := s.deps.Journal.Save(s.session); err != nil {
			log.Error("journal save failed", slog.String("session", s.session.ID), sl.Err(err))
		}
	}

	s.active = false
	s.cancel = nil
	s.group = nil
	s.metricsAddr = nil

	log.Info("service deactivated",
		slog.String("session", s.session.ID),
		slog.Duration("duration", s.session.Duration()),
	)
	return errors.Join(stopErr, waitErr)
}

// Active сообщает, активен ли сервис
func (s *Service) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// SessionID - идентификатор текущей или последней сессии
func (s *Service) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session.ID
}

// MetricsAddr - фактический адрес сервера метрик, nil если он не запущен
func (s *Service) MetricsAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.metricsAddr
}

func (s *Service) Metrics() *metrics.Metrics {
	return s.deps.Metrics
}

func (s *Service) Snapshot() *Snapshot {
	return s.core.Snapshot()
}

func (s *Service) GetEffectiveSettings() models.EffectiveSettings {
	return s.core.GetEffectiveSettings()
}

func (s *Service) GetLiveAircraft() []models.AircraftState {
	return s.core.GetLiveAircraft()
}

// run - сетевой контекст: сообщения и таймеры обрабатываются строго последовательно
func (s *Service) run(ctx context.Context, inbound <-chan inboundMessage) error {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case in := <-inbound:
			s.core.HandleMessage(in.msg, in.src, s.deps.Now())
			if len(inbound) == 0 {
				// очередь разобрана: публикуем накопленные изменения бортов
				s.core.Flush(s.deps.Now())
			}
		case <-ticker.C:
			s.core.Tick(s.deps.Now())
		}
	}
}

// startMetricsServer поднимает /metrics; ошибка сервера метрик не мешает синхронизации
func (s *Service) startMetricsServer(ctx context.Context, g *errgroup.Group) {
	op := "sync_service.startMetricsServer"
	log := s.log.With(slog.String("op", op))

	if s.deps.MetricsAddr == "" || s.deps.Gatherer == nil {
		return
	}

	l, err := net.Listen("tcp", s.deps.MetricsAddr)
	if err != nil {
		log.Error("metrics listener", slog.String("addr", s.deps.MetricsAddr), sl.Err(err))
		return
	}
	s.metricsAddr = l.Addr()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	g.Go(func() error {
		if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server", sl.Err(err))
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	log.Info("metrics server started", slog.String("addr", l.Addr().String()))
}
