// Package peersim - имитация отправителя трафика для демонстрации и сквозных тестов.
package peersim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/netip"
	"time"

	"trafficrc/internal/models"
	"trafficrc/internal/sync_manager/transport"
	"trafficrc/internal/util/logger/sl"
	"trafficrc/internal/wire"

	"github.com/google/uuid"
)

const (
	earthRadiusM = 6371000.0

	// блок ID бортов одного имитатора: старшие 12 бит 24-битного адреса берутся из номера экземпляра
	idBlockShift = 12
	idBlockMask  = 0xFFF
	MaxAircraft  = 1<<idBlockShift - 1
)

var ErrInvalidConfig = errors.New("peersim: invalid config")

var icaoTypes = []string{"A320", "B738", "A359", "E190", "B77W"}

type Config struct {
	Name             string
	Instance         uint32 // 0 - выбрать случайно
	Aircraft         int
	MaxDrawDist      float64
	UpdateInterval   time.Duration
	AnnounceInterval time.Duration
	CenterLat        float64
	CenterLon        float64
	RadiusM          float64
	SpeedMS          float64
	// WaitForBeacon - молчать, пока кто-нибудь не объявит интерес
	WaitForBeacon bool
}

// Simulator рассылает настройки и борта, кружащие вокруг центра
type Simulator struct {
	cfg    Config
	tr     transport.Transport
	log    *slog.Logger
	beacon chan netip.AddrPort
}

// New проверяет конфигурацию и создает имитатор
func New(cfg Config, tr transport.Transport, log *slog.Logger) (*Simulator, error) {
	if cfg.Instance == 0 {
		cfg.Instance = uuid.New().ID()
		if cfg.Instance == 0 {
			cfg.Instance = 1
		}
	}
	if cfg.Name == "" {
		cfg.Name = "sim-" + uuid.NewString()[:8]
	}
	if len(cfg.Name) > wire.MaxSenderNameLen {
		return nil, fmt.Errorf("%w: name %q longer than %d bytes", ErrInvalidConfig, cfg.Name, wire.MaxSenderNameLen)
	}
	if cfg.Aircraft < 0 {
		cfg.Aircraft = 0
	}
	if cfg.Aircraft > MaxAircraft {
		return nil, fmt.Errorf("%w: %d aircraft, at most %d", ErrInvalidConfig, cfg.Aircraft, MaxAircraft)
	}
	if cfg.UpdateInterval <= 0 {
		cfg.UpdateInterval = time.Second
	}
	if cfg.AnnounceInterval <= 0 {
		cfg.AnnounceInterval = 10 * time.Second
	}
	if cfg.RadiusM <= 0 {
		cfg.RadiusM = 10000
	}
	if cfg.SpeedMS <= 0 {
		cfg.SpeedMS = 120
	}
	return &Simulator{
		cfg:    cfg,
		tr:     tr,
		log:    log.With(slog.String("component", "peersim"), slog.String("sender", cfg.Name)),
		beacon: make(chan netip.AddrPort, 1),
	}, nil
}

func (s *Simulator) Instance() uint32 {
	return s.cfg.Instance
}

// Settings - настройки, которые объявляет имитатор
func (s *Simulator) Settings() models.SettingsSnapshot {
	st := models.DefaultSettings()
	st.SenderName = s.cfg.Name
	st.MaxDrawDist = s.cfg.MaxDrawDist
	st.MaxAircraft = uint16(min(s.cfg.Aircraft, math.MaxUint16))
	st.MapEnabled = true
	return st
}

// baseID - начало блока ID этого экземпляра; имитаторы с разными экземплярами
// (по модулю 4096) не делят борта между собой
func (s *Simulator) baseID() models.AircraftID {
	return models.AircraftID(s.cfg.Instance&idBlockMask) << idBlockShift
}

// Positions вычисляет положение всех бортов через elapsed после старта
func (s *Simulator) Positions(elapsed time.Duration) []models.AircraftState {
	out := make([]models.AircraftState, 0, s.cfg.Aircraft)
	base := s.baseID()
	omega := s.cfg.SpeedMS / s.cfg.RadiusM
	latRad := s.cfg.CenterLat * math.Pi / 180

	for i := 0; i < s.cfg.Aircraft; i++ {
		phase := 2*math.Pi*float64(i)/float64(s.cfg.Aircraft) + omega*elapsed.Seconds()
		north := s.cfg.RadiusM * math.Cos(phase)
		east := s.cfg.RadiusM * math.Sin(phase)

		heading := math.Mod(phase*180/math.Pi+90, 360)
		out = append(out, models.AircraftState{
			ID:       base + models.AircraftID(i+1),
			Lat:      s.cfg.CenterLat + north/earthRadiusM*180/math.Pi,
			Lon:      s.cfg.CenterLon + east/(earthRadiusM*math.Cos(latRad))*180/math.Pi,
			AltM:     1000 + float64(i)*300,
			Heading:  float32(heading),
			Roll:     -15,
			ICAOType: icaoTypes[i%len(icaoTypes)],
			Label:    fmt.Sprintf("SIM%03d %s", i+1, icaoTypes[i%len(icaoTypes)]),
		})
	}
	return out
}

// Run запускает транспорт и рассылает трафик до отмены ctx, затем прощается
func (s *Simulator) Run(ctx context.Context) error {
	op := "peersim.Run"
	log := s.log.With(slog.String("op", op))

	s.tr.SetOnMessage(func(msg wire.Message, src netip.AddrPort) {
		if msg.Type() != wire.TypeInterestBeacon {
			return
		}
		select {
		case s.beacon <- src:
		default:
		}
	})

	if err := s.tr.Start(ctx); err != nil {
		return fmt.Errorf("start transport: %w", err)
	}
	defer func() {
		if err := s.tr.Stop(); err != nil {
			log.Warn("transport stop", sl.Err(err))
		}
	}()

	if s.cfg.WaitForBeacon {
		log.Info("waiting for interest beacon")
		select {
		case <-ctx.Done():
			return nil
		case src := <-s.beacon:
			log.Info("interest beacon received", slog.String("from", src.String()))
		}
	}

	started := time.Now()
	s.announce()
	s.sendPositions(time.Since(started))

	update := time.NewTicker(s.cfg.UpdateInterval)
	defer update.Stop()
	announce := time.NewTicker(s.cfg.AnnounceInterval)
	defer announce.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := s.tr.Send(wire.PeerGoodbye{Instance: s.cfg.Instance}); err != nil {
				log.Warn("goodbye send failed", sl.Err(err))
			}
			log.Info("simulator stopped")
			return nil
		case <-update.C:
			s.sendPositions(time.Since(started))
		case <-announce.C:
			s.announce()
		case <-s.beacon:
			// новый получатель: не ждать очередного объявления
			s.announce()
		}
	}
}

func (s *Simulator) announce() {
	if err := s.tr.Send(wire.SettingsAnnounce{Instance: s.cfg.Instance, Settings: s.Settings()}); err != nil {
		s.log.Warn("settings send failed", sl.Err(err))
	}
}

func (s *Simulator) sendPositions(elapsed time.Duration) {
	for _, ac := range s.Positions(elapsed) {
		if err := s.tr.Send(wire.AircraftUpdate{Instance: s.cfg.Instance, Aircraft: ac}); err != nil {
			s.log.Warn("aircraft send failed", slog.String("aircraft", ac.ID.String()), sl.Err(err))
			return
		}
	}
}
