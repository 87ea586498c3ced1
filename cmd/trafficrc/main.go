package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	cliplugins "trafficrc/internal/cli_plugins"
	"trafficrc/internal/config"
	"trafficrc/internal/util/logger/handlers/slogpretty"
	"trafficrc/pkg/cli"

	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gopkg.in/natefinch/lumberjack.v2"
)

func main() {
	// Контекст отменяется по сигналу ОС, команды завершаются штатно
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := cliplugins.NewAppContext()

	c := cli.NewCLI("trafficrc", "Multicast traffic discovery and settings sync")
	root := c.Root()
	root.PersistentFlags().StringVarP(&app.ConfigPath, "config", "c", "", "path to config file (or CONFIG_PATH)")
	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		app.ConfigPath = config.ResolvePath(app.ConfigPath)
		cfg, err := config.Load(app.ConfigPath)
		if err != nil {
			return err
		}
		app.Config = cfg
		app.Log = setupLogger(cfg, app.Level)
		app.Log.Debug("config loaded",
			slog.String("env", cfg.Env),
			slog.String("group", cfg.Multicast.Group),
			slog.String("path", app.ConfigPath),
		)
		return nil
	}

	c.RegisterPlugin(cliplugins.NewRunCommand(app))
	c.RegisterPlugin(cliplugins.NewSimulateCommand(app))
	c.RegisterPlugin(cliplugins.NewBeaconCommand(app))
	c.RegisterPlugin(cliplugins.NewJournalCommand(app))

	if err := c.Run(ctx, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// setupLogger выбирает обработчик по окружению; уровень хранится в level
// и может меняться на ходу при перечитывании конфигурации
func setupLogger(cfg *config.Config, level *slog.LevelVar) *slog.Logger {
	lvl, _ := config.ParseLevel(cfg.LogLevel)
	level.Set(lvl)
	opts := &slog.HandlerOptions{Level: level}

	var out io.Writer = os.Stdout
	if cfg.LogFile != "" {
		out = &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    50, // MB
			MaxBackups: 3,
			MaxAge:     28,
		}
	}

	switch cfg.Env {
	case config.EnvLocal:
		if cfg.LogFile == "" && term.IsTerminal(int(os.Stdout.Fd())) {
			return setupPrettySlog(opts)
		}
		return slog.New(slog.NewTextHandler(out, opts))
	default:
		return slog.New(slog.NewJSONHandler(out, opts))
	}
}

func setupPrettySlog(opts *slog.HandlerOptions) *slog.Logger {
	prettyOpts := slogpretty.PrettyHandlerOptions{
		SlogOpts: opts,
	}

	handler := prettyOpts.NewPrettyHandler(os.Stdout)

	return slog.New(handler)
}
