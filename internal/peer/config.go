package peer

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const envPrefix = "lanchat"

// Config holds runtime settings. Values come from struct defaults, then
// a .env file, then LANCHAT_* environment variables, then flags.
type Config struct {
	Name           string        `envconfig:"NAME"`
	AvatarPath     string        `envconfig:"AVATAR"`
	DataDir        string        `envconfig:"DATA_DIR" default:"lanchat-data" validate:"required"`
	TCPPort        int           `envconfig:"TCP_PORT" default:"0" validate:"min=0,max=65535"`
	DiscoveryPort  int           `envconfig:"DISCOVERY_PORT" default:"45678" validate:"min=1,max=65535"`
	MulticastGroup string        `envconfig:"MULTICAST_GROUP" default:"239.255.255.250" validate:"ip4_addr"`
	MulticastTTL   int           `envconfig:"MULTICAST_TTL" default:"8" validate:"min=1,max=255"`
	AnnounceEvery  time.Duration `envconfig:"ANNOUNCE_EVERY" default:"3s" validate:"gt=0"`
	SweepEvery     time.Duration `envconfig:"SWEEP_EVERY" default:"5s" validate:"gt=0"`
	OfflineAfter   time.Duration `envconfig:"OFFLINE_AFTER" default:"10s" validate:"gt=0"`
	SendTimeout    time.Duration `envconfig:"SEND_TIMEOUT" default:"5s" validate:"gt=0"`
	MaxFrameBytes  uint32        `envconfig:"MAX_FRAME_BYTES" default:"67108864" validate:"min=1024"`
	MaxConns       int64         `envconfig:"MAX_CONNS" default:"64" validate:"gt=0"`
	OutboxSize     int           `envconfig:"OUTBOX_SIZE" default:"128" validate:"gt=0"`
	OutboxWorkers  int           `envconfig:"OUTBOX_WORKERS" default:"8" validate:"gt=0"`
	UI             string        `envconfig:"UI" default:"cli" validate:"oneof=cli tui none"`
	NoColor        bool          `envconfig:"NO_COLOR"`
	APIAddr        string        `envconfig:"API_ADDR" validate:"omitempty,hostname_port"`
	APISecret      string        `envconfig:"API_SECRET" validate:"required_with=APIAddr"`
	LogLevel       string        `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`
	LogJSON        bool          `envconfig:"LOG_JSON"`
}

// LoadConfig builds a validated Config from the environment and args.
// A missing .env file is not an error.
func LoadConfig(args []string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	cfg := &Config{}
	if err := envconfig.Process(envPrefix, cfg); err != nil {
		return nil, fmt.Errorf("read environment: %w", err)
	}
	if err := cfg.parseFlags(args); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (cfg *Config) parseFlags(args []string) error {
	flags := flag.NewFlagSet("lanchat", flag.ContinueOnError)
	flags.SetOutput(io.Discard)
	maxFrame := uint64(cfg.MaxFrameBytes)

	flags.StringVar(&cfg.Name, "name", cfg.Name, "display name announced to peers (defaults to hostname)")
	flags.StringVar(&cfg.AvatarPath, "avatar", cfg.AvatarPath, "image file used as avatar")
	flags.StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "directory for history and contacts")
	flags.IntVar(&cfg.TCPPort, "port", cfg.TCPPort, "TCP port for incoming messages (0 picks one)")
	flags.IntVar(&cfg.DiscoveryPort, "discovery-port", cfg.DiscoveryPort, "UDP discovery port")
	flags.StringVar(&cfg.MulticastGroup, "multicast-group", cfg.MulticastGroup, "discovery multicast group")
	flags.IntVar(&cfg.MulticastTTL, "multicast-ttl", cfg.MulticastTTL, "multicast TTL")
	flags.DurationVar(&cfg.AnnounceEvery, "announce", cfg.AnnounceEvery, "interval between announcements")
	flags.DurationVar(&cfg.SweepEvery, "sweep", cfg.SweepEvery, "interval between presence sweeps")
	flags.DurationVar(&cfg.OfflineAfter, "offline-after", cfg.OfflineAfter, "silence after which a peer is offline")
	flags.DurationVar(&cfg.SendTimeout, "send-timeout", cfg.SendTimeout, "connect and write timeout per message")
	flags.Uint64Var(&maxFrame, "max-frame", maxFrame, "largest accepted frame in bytes")
	flags.Int64Var(&cfg.MaxConns, "max-conns", cfg.MaxConns, "concurrent inbound connections")
	flags.IntVar(&cfg.OutboxSize, "outbox", cfg.OutboxSize, "queued outbound packets")
	flags.IntVar(&cfg.OutboxWorkers, "outbox-workers", cfg.OutboxWorkers, "concurrent outbound sends")
	flags.StringVar(&cfg.UI, "ui", cfg.UI, "presentation: cli, tui or none")
	flags.BoolVar(&cfg.NoColor, "no-color", cfg.NoColor, "disable ANSI colors in CLI output")
	flags.StringVar(&cfg.APIAddr, "api-addr", cfg.APIAddr, "address of the local HTTP API (empty disables it)")
	flags.StringVar(&cfg.APISecret, "api-secret", cfg.APISecret, "secret signing API tokens")
	flags.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug, info, warn or error")
	flags.BoolVar(&cfg.LogJSON, "log-json", cfg.LogJSON, "emit JSON logs")

	if err := flags.Parse(args); err != nil {
		return fmt.Errorf("parse flags: %w", err)
	}
	if maxFrame > uint64(^uint32(0)) {
		return fmt.Errorf("max-frame %d out of range", maxFrame)
	}
	cfg.MaxFrameBytes = uint32(maxFrame)
	return nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func (cfg *Config) Validate() error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// HistoryDir holds one JSON log per peer.
func (cfg *Config) HistoryDir() string {
	return filepath.Join(cfg.DataDir, "history")
}

// ContactsPath is the bbolt file with known peers and the local profile.
func (cfg *Config) ContactsPath() string {
	return filepath.Join(cfg.DataDir, "contacts.db")
}
