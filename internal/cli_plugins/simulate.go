package cliplugins

import (
	"context"
	"log/slog"
	"time"

	"trafficrc/internal/metrics"
	"trafficrc/internal/peersim"

	"github.com/spf13/cobra"
)

// SimulateCommand изображает отправителя трафика в той же группе
type SimulateCommand struct {
	app *AppContext
	cmd *cobra.Command
}

func NewSimulateCommand(app *AppContext) *SimulateCommand {
	return &SimulateCommand{app: app}
}

func (s *SimulateCommand) Meta() *cobra.Command {
	if s.cmd != nil {
		return s.cmd
	}
	s.cmd = &cobra.Command{
		Use:   "simulate",
		Short: "Send settings and circling aircraft as a fake traffic sender",
		Args:  cobra.NoArgs,
	}
	s.cmd.Flags().StringP("name", "n", "", "sender name (default from config or random)")
	s.cmd.Flags().Uint32P("instance", "I", 0, "sender instance (default from config)")
	s.cmd.Flags().IntP("aircraft", "a", -1, "number of aircraft")
	s.cmd.Flags().Float64("max-draw", 0, "declared max draw distance in meters")
	s.cmd.Flags().Bool("wait", false, "stay silent until an interest beacon arrives")
	s.cmd.Flags().DurationP("duration", "d", 0, "stop after this long (0 - until interrupted)")
	return s.cmd
}

// simConfig накладывает флаги поверх секции simulator конфигурации
func (s *SimulateCommand) simConfig(cmd *cobra.Command) peersim.Config {
	c := s.app.Config.Simulator
	cfg := peersim.Config{
		Name:             c.Name,
		Instance:         c.Instance,
		Aircraft:         c.Aircraft,
		MaxDrawDist:      c.MaxDrawDist,
		UpdateInterval:   c.UpdateInterval,
		AnnounceInterval: c.AnnounceInterval,
		CenterLat:        c.CenterLat,
		CenterLon:        c.CenterLon,
	}

	flags := cmd.Flags()
	if name, _ := flags.GetString("name"); name != "" {
		cfg.Name = name
	}
	if instance, _ := flags.GetUint32("instance"); instance != 0 {
		cfg.Instance = instance
	}
	if n, _ := flags.GetInt("aircraft"); n >= 0 {
		cfg.Aircraft = n
	}
	if d, _ := flags.GetFloat64("max-draw"); d > 0 {
		cfg.MaxDrawDist = d
	}
	cfg.WaitForBeacon, _ = flags.GetBool("wait")
	return cfg
}

func (s *SimulateCommand) Execute(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if d, _ := cmd.Flags().GetDuration("duration"); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	m := metrics.NewMetrics(nil)
	tr, err := s.app.newTransport(m)
	if err != nil {
		return err
	}

	sim, err := peersim.New(s.simConfig(cmd), tr, s.app.Log)
	if err != nil {
		return err
	}
	s.app.Log.Info("simulator starting",
		slog.Uint64("instance", uint64(sim.Instance())),
		slog.String("name", sim.Settings().SenderName),
	)

	started := time.Now()
	if err := sim.Run(ctx); err != nil {
		return err
	}
	s.app.Log.Info("simulator done",
		slog.Duration("uptime", time.Since(started)),
		slog.Int64("sent_errors", m.Stats().SendErrors),
		slog.Int64("beacons_received", m.Stats().BeaconsReceived),
	)
	return nil
}
