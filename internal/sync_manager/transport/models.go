package transport

import (
	"context"
	"log/slog"
	"net"
	"net/netip"
	"sync"
	"time"

	"trafficrc/internal/metrics"
	"trafficrc/internal/wire"

	"golang.org/x/net/ipv4"
)

const (
	DefaultReadTimeout = 500 * time.Millisecond
	DefaultReadBuffer  = 1024 * 1024
	DefaultTTL         = 8

	// пауза после ошибки чтения, чтобы не крутить цикл вхолостую
	receiveErrorBackoff = 50 * time.Millisecond
)

// Config содержит параметры multicast канала
type Config struct {
	Group       netip.AddrPort
	Interface   string // пусто - интерфейс по умолчанию
	TTL         int
	Loopback    bool
	ReadTimeout time.Duration
	ReadBuffer  int
}

// Multicast реализует Transport поверх UDP multicast
type Multicast struct {
	cfg     Config
	log     *slog.Logger
	metrics *metrics.Metrics

	mu        sync.Mutex
	conn      *net.UDPConn
	pconn     *ipv4.PacketConn
	sender    *net.UDPConn
	ifi       *net.Interface
	cancel    context.CancelFunc
	done      chan struct{}
	onMessage func(msg wire.Message, src netip.AddrPort)
}
