package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"os"
	"time"

	"trafficrc/internal/metrics"
	"trafficrc/internal/util/logger/sl"
	"trafficrc/internal/wire"

	"golang.org/x/net/ipv4"
)

// NewMulticast создает multicast транспорт; m может быть nil
func NewMulticast(cfg Config, m *metrics.Metrics, log *slog.Logger) *Multicast {
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if cfg.ReadBuffer <= 0 {
		cfg.ReadBuffer = DefaultReadBuffer
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if m == nil {
		m = metrics.NewMetrics(nil)
	}
	return &Multicast{
		cfg:     cfg,
		metrics: m,
		log:     log.With(slog.String("transport", "multicast")),
	}
}

// Name возвращает имя транспорта
func (t *Multicast) Name() string {
	return "multicast"
}

// SetOnMessage устанавливает callback для декодированных сообщений
func (t *Multicast) SetOnMessage(callback func(msg wire.Message, src netip.AddrPort)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onMessage = callback
}

// Start открывает сокеты, присоединяется к группе и запускает прием.
// Любая ошибка настройки оборачивает ErrSetup и возвращается один раз.
func (t *Multicast) Start(ctx context.Context) error {
	op := "transport.Multicast.Start"
	log := t.log.With(slog.String("op", op))

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn != nil {
		return ErrAlreadyStarted
	}
	if !t.cfg.Group.IsValid() || !t.cfg.Group.Addr().Is4() || !t.cfg.Group.Addr().IsMulticast() {
		return fmt.Errorf("%w: %s is not an IPv4 multicast group", ErrSetup, t.cfg.Group)
	}

	var ifi *net.Interface
	if t.cfg.Interface != "" {
		var err error
		ifi, err = net.InterfaceByName(t.cfg.Interface)
		if err != nil {
			return fmt.Errorf("%w: interface %q: %w", ErrSetup, t.cfg.Interface, err)
		}
	}

	group := net.UDPAddrFromAddrPort(t.cfg.Group)

	listener, err := net.ListenMulticastUDP("udp4", ifi, group)
	if err != nil {
		return fmt.Errorf("%w: listen %s: %w", ErrSetup, group, err)
	}
	if err := listener.SetReadBuffer(t.cfg.ReadBuffer); err != nil {
		// некритично: ядро может ограничивать размер буфера
		log.Warn("set read buffer", sl.Err(err))
	}

	sender, err := net.DialUDP("udp4", nil, group)
	if err != nil {
		listener.Close()
		return fmt.Errorf("%w: dial %s: %w", ErrSetup, group, err)
	}
	sp := ipv4.NewPacketConn(sender)
	if err := t.configureSender(sp, ifi); err != nil {
		listener.Close()
		sender.Close()
		return fmt.Errorf("%w: %w", ErrSetup, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	t.conn = listener
	t.pconn = ipv4.NewPacketConn(listener)
	t.sender = sender
	t.ifi = ifi
	t.cancel = cancel
	t.done = make(chan struct{})

	go t.receiveLoop(ctx, t.pconn, t.done)

	log.Info("multicast transport started",
		slog.String("group", t.cfg.Group.String()),
		slog.String("interface", t.cfg.Interface),
	)
	return nil
}

func (t *Multicast) configureSender(p *ipv4.PacketConn, ifi *net.Interface) error {
	if err := p.SetMulticastTTL(t.cfg.TTL); err != nil {
		return fmt.Errorf("set multicast ttl: %w", err)
	}
	if err := p.SetMulticastLoopback(t.cfg.Loopback); err != nil {
		return fmt.Errorf("set multicast loopback: %w", err)
	}
	if ifi != nil {
		if err := p.SetMulticastInterface(ifi); err != nil {
			return fmt.Errorf("set multicast interface: %w", err)
		}
	}
	return nil
}

// Stop покидает группу, закрывает сокеты и дожидается завершения приема.
// Повторный вызов ничего не делает.
func (t *Multicast) Stop() error {
	op := "transport.Multicast.Stop"
	log := t.log.With(slog.String("op", op))

	t.mu.Lock()
	if t.conn == nil {
		t.mu.Unlock()
		return nil
	}
	conn, pconn, sender, done := t.conn, t.pconn, t.sender, t.done
	t.cancel()
	t.conn, t.pconn, t.sender, t.cancel, t.done = nil, nil, nil, nil, nil
	t.mu.Unlock()

	if err := pconn.LeaveGroup(t.ifi, net.UDPAddrFromAddrPort(t.cfg.Group)); err != nil {
		log.Debug("leave group", sl.Err(err))
	}

	// закрытие сокета прерывает ожидающий ReadFrom
	errs := errors.Join(conn.Close(), sender.Close())
	<-done

	log.Info("multicast transport stopped")
	return errs
}

// Send кодирует сообщение и отправляет его в группу
func (t *Multicast) Send(msg wire.Message) error {
	data, err := wire.Encode(msg)
	if err != nil {
		return err
	}

	t.mu.Lock()
	sender := t.sender
	t.mu.Unlock()
	if sender == nil {
		return ErrNotStarted
	}

	if _, err := sender.Write(data); err != nil {
		t.metrics.RecordSendError()
		return fmt.Errorf("send %s: %w", msg.Type(), err)
	}
	return nil
}

// SendBeacon отправляет маяк интереса
func (t *Multicast) SendBeacon() error {
	if err := t.Send(wire.InterestBeacon{}); err != nil {
		return err
	}
	t.metrics.RecordBeaconSent()
	return nil
}

// receiveLoop читает датаграммы до отмены контекста или закрытия сокета
func (t *Multicast) receiveLoop(ctx context.Context, p *ipv4.PacketConn, done chan struct{}) {
	op := "transport.Multicast.receiveLoop"
	log := t.log.With(slog.String("op", op))
	defer close(done)

	buf := make([]byte, wire.MaxDatagramSize+1)
	for {
		if ctx.Err() != nil {
			return
		}

		if err := p.SetReadDeadline(time.Now().Add(t.cfg.ReadTimeout)); err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
		}

		n, _, src, err := p.ReadFrom(buf)
		if err != nil {
			switch {
			case errors.Is(err, net.ErrClosed):
				return
			case errors.Is(err, os.ErrDeadlineExceeded):
				// холостой опрос
				continue
			}
			t.metrics.RecordReceiveError()
			log.Warn("receive failed", sl.Err(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(receiveErrorBackoff):
			}
			continue
		}

		udp, ok := src.(*net.UDPAddr)
		if !ok {
			continue
		}
		t.handleDatagram(buf[:n], udp.AddrPort())
	}
}

// handleDatagram декодирует одну датаграмму. Битые датаграммы только считаются.
func (t *Multicast) handleDatagram(data []byte, src netip.AddrPort) {
	t.metrics.RecordDatagram()

	msg, err := wire.Decode(data)
	if err != nil {
		t.metrics.RecordMalformed(err)
		return
	}
	t.metrics.RecordDecoded(msg.Type())

	t.mu.Lock()
	callback := t.onMessage
	t.mu.Unlock()

	if callback != nil {
		callback(msg, src)
	}
}
