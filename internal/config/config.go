package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

const (
	EnvLocal = "local"
	EnvDev   = "dev"
	EnvProd  = "prod"
)

var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	Env       string    `yaml:"env" env:"ENV" env-default:"local"`
	LogLevel  string    `yaml:"log_level" env:"LOG_LEVEL" env-default:"info"`
	LogFile   string    `yaml:"log_file" env:"LOG_FILE"`
	Multicast Multicast `yaml:"multicast"`
	Sync      Sync      `yaml:"sync"`
	Metrics   Metrics   `yaml:"metrics"`
	Journal   Journal   `yaml:"journal"`
	Simulator Simulator `yaml:"simulator"`
}

type Multicast struct {
	Group       string        `yaml:"group" env:"MC_GROUP" env-default:"239.255.1.1"`
	Port        uint16        `yaml:"port" env:"MC_PORT" env-default:"49788"`
	Interface   string        `yaml:"interface" env:"MC_IFACE"`
	TTL         int           `yaml:"ttl" env:"MC_TTL" env-default:"8"`
	// NoLoopback отключает доставку своих датаграмм на этот же хост
	NoLoopback  bool          `yaml:"no_loopback" env:"MC_NO_LOOPBACK"`
	ReadTimeout time.Duration `yaml:"read_timeout" env-default:"500ms"`
}

type Sync struct {
	DiscoveryInterval    time.Duration `yaml:"discovery_interval" env-default:"3s"`
	SynchronizedInterval time.Duration `yaml:"synchronized_interval" env-default:"15s"`
	StaleTimeout         time.Duration `yaml:"stale_timeout" env:"STALE_TIMEOUT" env-default:"30s"`
	SweepInterval        time.Duration `yaml:"sweep_interval" env-default:"1s"`
	AircraftTimeout      time.Duration `yaml:"aircraft_timeout" env-default:"0s"`
	InboundQueue         int           `yaml:"inbound_queue" env-default:"1024"`
}

type Metrics struct {
	Addr string `yaml:"addr" env:"METRICS_ADDR"`
}

type Journal struct {
	Path string `yaml:"path" env:"JOURNAL_PATH"`
}

// Simulator - параметры команды simulate
type Simulator struct {
	Name             string        `yaml:"name" env:"SIM_NAME"`
	Instance         uint32        `yaml:"instance" env:"SIM_INSTANCE" env-default:"1"`
	Aircraft         int           `yaml:"aircraft" env:"SIM_AIRCRAFT" env-default:"5"`
	MaxDrawDist      float64       `yaml:"max_draw_dist" env-default:"50000"`
	UpdateInterval   time.Duration `yaml:"update_interval" env-default:"1s"`
	AnnounceInterval time.Duration `yaml:"announce_interval" env-default:"10s"`
	CenterLat        float64       `yaml:"center_lat" env-default:"50.0379"`
	CenterLon        float64       `yaml:"center_lon" env-default:"8.5622"`
}

// MustLoad читает конфигурацию по пути из флага или CONFIG_PATH;
// без файла используются переменные окружения и значения по умолчанию
func MustLoad(configPath string) *Config {
	cfg, err := Load(ResolvePath(configPath))
	if err != nil {
		panic("cannot read config: " + err.Error())
	}
	return cfg
}

// Load читает и проверяет конфигурацию; пустой путь - только окружение
func Load(configPath string) (*Config, error) {
	var cfg Config

	if configPath == "" {
		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return nil, err
		}
	} else {
		// check if file exists
		if _, err := os.Stat(configPath); err != nil {
			return nil, fmt.Errorf("config file %s: %w", configPath, err)
		}
		if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ResolvePath выбирает путь к конфигурации.
// Priority: flag > env > default.
// default value is empty string.
func ResolvePath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return os.Getenv("CONFIG_PATH")
}

// Validate проверяет значения, которые нельзя исправить молча
func (c *Config) Validate() error {
	switch c.Env {
	case EnvLocal, EnvDev, EnvProd:
	default:
		return fmt.Errorf("%w: env %q", ErrInvalidConfig, c.Env)
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if _, err := c.GroupAddrPort(); err != nil {
		return err
	}
	if c.Sync.StaleTimeout <= 0 || c.Sync.SweepInterval <= 0 {
		return fmt.Errorf("%w: stale_timeout and sweep_interval must be positive", ErrInvalidConfig)
	}
	if c.Sync.SweepInterval > c.Sync.StaleTimeout {
		return fmt.Errorf("%w: sweep_interval %s exceeds stale_timeout %s",
			ErrInvalidConfig, c.Sync.SweepInterval, c.Sync.StaleTimeout)
	}
	if c.Sync.AircraftTimeout < 0 {
		return fmt.Errorf("%w: aircraft_timeout is negative", ErrInvalidConfig)
	}
	return nil
}

// GroupAddrPort возвращает адрес multicast группы
func (c *Config) GroupAddrPort() (netip.AddrPort, error) {
	addr, err := netip.ParseAddr(c.Multicast.Group)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("%w: multicast group: %w", ErrInvalidConfig, err)
	}
	if !addr.Is4() || !addr.IsMulticast() {
		return netip.AddrPort{}, fmt.Errorf("%w: %s is not an IPv4 multicast group", ErrInvalidConfig, addr)
	}
	if c.Multicast.Port == 0 {
		return netip.AddrPort{}, fmt.Errorf("%w: multicast port is zero", ErrInvalidConfig)
	}
	return netip.AddrPortFrom(addr, c.Multicast.Port), nil
}

// ParseLevel переводит имя уровня из конфигурации в slog.Level
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, fmt.Errorf("%w: log_level %q", ErrInvalidConfig, s)
	}
	return level, nil
}
