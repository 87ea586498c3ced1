package cliplugins

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"trafficrc/internal/config"
	"trafficrc/internal/journal"
	"trafficrc/internal/metrics"
	"trafficrc/internal/sync_manager/transport"
)

// AppContext хранит зависимости, которые будут использоваться в командах CLI.
// Config и Log заполняются в PersistentPreRunE корневой команды.
type AppContext struct {
	ConfigPath string
	Config     *config.Config
	Log        *slog.Logger
	Level      *slog.LevelVar
	Out        io.Writer
}

func NewAppContext() *AppContext {
	return &AppContext{
		Level: new(slog.LevelVar),
		Out:   os.Stdout,
	}
}

func (a *AppContext) transportConfig() (transport.Config, error) {
	group, err := a.Config.GroupAddrPort()
	if err != nil {
		return transport.Config{}, err
	}
	return transport.Config{
		Group:       group,
		Interface:   a.Config.Multicast.Interface,
		TTL:         a.Config.Multicast.TTL,
		Loopback:    !a.Config.Multicast.NoLoopback,
		ReadTimeout: a.Config.Multicast.ReadTimeout,
	}, nil
}

func (a *AppContext) newTransport(m *metrics.Metrics) (*transport.Multicast, error) {
	cfg, err := a.transportConfig()
	if err != nil {
		return nil, err
	}
	return transport.NewMulticast(cfg, m, a.Log), nil
}

func (a *AppContext) openJournal() (*journal.Journal, error) {
	if a.Config.Journal.Path == "" {
		return nil, fmt.Errorf("journal path is not configured (journal.path / JOURNAL_PATH)")
	}
	return journal.Open(journal.Config{Path: a.Config.Journal.Path})
}
