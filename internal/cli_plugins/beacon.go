package cliplugins

import (
	"context"
	"fmt"
	"log/slog"
	"net/netip"
	"sort"
	"sync"
	"time"

	"trafficrc/internal/metrics"
	"trafficrc/internal/models"
	"trafficrc/internal/sync_manager/transport"
	"trafficrc/internal/util/logger/sl"
	"trafficrc/internal/wire"

	"github.com/spf13/cobra"
)

// BeaconCommand отправляет один маяк интереса и, по желанию, слушает ответы
type BeaconCommand struct {
	app *AppContext
	cmd *cobra.Command
}

func NewBeaconCommand(app *AppContext) *BeaconCommand {
	return &BeaconCommand{app: app}
}

func (b *BeaconCommand) Meta() *cobra.Command {
	if b.cmd != nil {
		return b.cmd
	}
	b.cmd = &cobra.Command{
		Use:   "beacon",
		Short: "Send one interest beacon and list who answers",
		Args:  cobra.NoArgs,
	}
	b.cmd.Flags().DurationP("listen", "l", 2*time.Second, "how long to collect answers (0 - do not listen)")
	return b.cmd
}

// responder - отправитель, ответивший на маяк
type responder struct {
	identity models.PeerIdentity
	name     string
	messages int
}

// collector собирает ответивших отправителей из колбэка транспорта
type collector struct {
	mu    sync.Mutex
	peers map[models.PeerIdentity]*responder
}

func newCollector() *collector {
	return &collector{peers: make(map[models.PeerIdentity]*responder)}
}

func (c *collector) observe(msg wire.Message, src netip.AddrPort) {
	if msg.Type() == wire.TypeInterestBeacon {
		return
	}
	id := models.NewPeerIdentity(src, msg.SenderInstance())

	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.peers[id]
	if !ok {
		r = &responder{identity: id}
		c.peers[id] = r
	}
	r.messages++
	if sa, ok := msg.(wire.SettingsAnnounce); ok {
		r.name = sa.Settings.SenderName
	}
}

func (c *collector) list() []responder {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]responder, 0, len(c.peers))
	for _, r := range c.peers {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].identity.String() < out[j].identity.String() })
	return out
}

func (b *BeaconCommand) Execute(cmd *cobra.Command, args []string) error {
	op := "cli.beacon"
	log := b.app.Log.With(slog.String("op", op))
	listen, _ := cmd.Flags().GetDuration("listen")

	tr, err := b.app.newTransport(metrics.NewMetrics(nil))
	if err != nil {
		return err
	}
	return solicit(cmd.Context(), tr, listen, b.app, log)
}

func solicit(ctx context.Context, tr transport.Transport, listen time.Duration, app *AppContext, log *slog.Logger) error {
	c := newCollector()
	tr.SetOnMessage(c.observe)

	if err := tr.Start(ctx); err != nil {
		return fmt.Errorf("start transport: %w", err)
	}
	defer func() {
		if err := tr.Stop(); err != nil {
			log.Warn("transport stop", sl.Err(err))
		}
	}()

	if err := tr.SendBeacon(); err != nil {
		return fmt.Errorf("send beacon: %w", err)
	}
	log.Info("beacon sent", slog.String("transport", tr.Name()))
	if listen <= 0 {
		return nil
	}

	timer := time.NewTimer(listen)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}

	peers := c.list()
	fmt.Fprintf(app.Out, "%d sender(s) answered within %s\n", len(peers), listen)
	for _, p := range peers {
		fmt.Fprintf(app.Out, "  %s\t%s\t%d msg\n", p.identity, p.name, p.messages)
	}
	return nil
}
