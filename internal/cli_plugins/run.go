package cliplugins

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"trafficrc/internal/journal"
	"trafficrc/internal/metrics"
	syncmanager "trafficrc/internal/sync_manager"
	"trafficrc/internal/util/logger/sl"
	"trafficrc/internal/watcher"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
)

// RunCommand запускает синхронизацию и печатает опубликованные снимки
type RunCommand struct {
	app      *AppContext
	cmd      *cobra.Command
	interval time.Duration
	duration time.Duration
	quiet    bool
}

func NewRunCommand(app *AppContext) *RunCommand {
	return &RunCommand{app: app}
}

func (r *RunCommand) Meta() *cobra.Command {
	if r.cmd != nil {
		return r.cmd
	}
	r.cmd = &cobra.Command{
		Use:   "run",
		Short: "Join the traffic group and print live traffic",
		Long: `Announces interest on the multicast group, tracks every sender that answers,
merges their settings and prints the published snapshot once per consumer cycle.`,
		Args: cobra.NoArgs,
	}
	r.cmd.Flags().DurationVarP(&r.interval, "interval", "i", time.Second, "consumer cycle")
	r.cmd.Flags().DurationVarP(&r.duration, "duration", "d", 0, "stop after this long (0 - until interrupted)")
	r.cmd.Flags().BoolVarP(&r.quiet, "quiet", "q", false, "do not print snapshots")
	return r.cmd
}

func (r *RunCommand) Execute(cmd *cobra.Command, args []string) error {
	op := "cli.run"
	log := r.app.Log.With(slog.String("op", op))
	cfg := r.app.Config

	ctx := cmd.Context()
	if r.duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.duration)
		defer cancel()
	}

	var (
		reg      *prometheus.Registry
		gatherer prometheus.Gatherer
	)
	if cfg.Metrics.Addr != "" {
		reg = prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		gatherer = reg
	}
	m := metrics.NewMetrics(reg)

	tr, err := r.app.newTransport(m)
	if err != nil {
		return err
	}
	group, _ := r.app.Config.GroupAddrPort()

	deps := syncmanager.Deps{
		Transport:   tr,
		Metrics:     m,
		MetricsAddr: cfg.Metrics.Addr,
		Gatherer:    gatherer,
		Group:       group.String(),
	}
	if cfg.Journal.Path != "" {
		j, err := journal.Open(journal.Config{Path: cfg.Journal.Path})
		if err != nil {
			log.Warn("journal disabled", sl.Err(err))
		} else {
			defer j.Close()
			deps.Journal = j
		}
	}

	svc := syncmanager.NewService(syncmanager.Config{
		DiscoveryInterval:    cfg.Sync.DiscoveryInterval,
		SynchronizedInterval: cfg.Sync.SynchronizedInterval,
		StaleTimeout:         cfg.Sync.StaleTimeout,
		SweepInterval:        cfg.Sync.SweepInterval,
		AircraftTimeout:      cfg.Sync.AircraftTimeout,
		InboundQueue:         cfg.Sync.InboundQueue,
	}, deps, r.app.Log)

	if err := svc.Activate(ctx); err != nil {
		return err
	}
	defer func() {
		if err := svc.Deactivate(); err != nil {
			log.Warn("deactivate", sl.Err(err))
		}
		fmt.Fprintln(r.app.Out)
		renderStats(r.app.Out, m.GetStats(), statsOrder)
	}()

	if r.app.ConfigPath != "" {
		cw, err := watcher.NewConfigWatcher(r.app.ConfigPath, &watcher.LevelReloader{
			Level: r.app.Level,
			Log:   r.app.Log,
		}, watcher.Config{Logger: r.app.Log})
		if err != nil {
			log.Warn("config watcher disabled", sl.Err(err))
		} else {
			defer cw.Close()
		}
	}

	return r.consume(ctx, svc)
}

// consume - цикл потребителя: читает только опубликованный снимок
func (r *RunCommand) consume(ctx context.Context, reader syncmanager.Reader) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	var lastSeq uint64
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			snap := reader.Snapshot()
			if r.quiet || snap.Seq == lastSeq {
				continue
			}
			lastSeq = snap.Seq
			renderSnapshot(r.app.Out, snap)
		}
	}
}
