// Package peer wires configuration, identity, transport, discovery and the
// chat service into one runnable node.
package peer

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"sync"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"lanchat/internal/authutil"
	"lanchat/internal/chat"
	"lanchat/internal/discovery"
	"lanchat/internal/identity"
	"lanchat/internal/network"
	"lanchat/internal/presence"
	"lanchat/internal/storage"
	"lanchat/internal/ui"
)

// App encapsulates the node's components.
type App struct {
	Cfg      *Config
	Identity identity.NodeIdentity

	ctx    context.Context
	cancel context.CancelFunc

	Server    *network.Server
	Discovery *discovery.Service
	Chat      *chat.Service
	History   *storage.HistoryStore
	Contacts  *storage.ContactStore
	API       *ui.APIServer
	Issuer    *authutil.Issuer

	cli  *ui.CLIDisplay
	tui  *ui.TUIDisplay
	log  *zap.Logger
	done chan error

	startOnce    sync.Once
	shutdownOnce sync.Once
	started      bool
}

// NewApp resolves the local identity, opens storage and binds the TCP
// listener. Nothing runs until Start.
func NewApp(cfg *Config, log *zap.Logger) (*App, error) {
	return newApp(cfg, identity.Resolve(), log)
}

func newApp(cfg *Config, self identity.NodeIdentity, log *zap.Logger) (*App, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("init data dir: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	a := &App{Cfg: cfg, Identity: self, ctx: ctx, cancel: cancel, log: log, done: make(chan error, 1)}

	history, err := storage.OpenHistoryStore(cfg.HistoryDir(), log.Named("history"))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("open history: %w", err)
	}
	a.History = history

	contacts, err := storage.OpenContactStore(cfg.ContactsPath())
	if err != nil {
		log.Warn("contact store unavailable, running without it", zap.Error(err))
	}
	a.Contacts = contacts

	name, avatar := a.profile()

	a.Server = network.NewServer(net.JoinHostPort("", strconv.Itoa(cfg.TCPPort)), network.ServerOptions{
		MaxConns: cfg.MaxConns,
		MaxFrame: cfg.MaxFrameBytes,
		Logger:   log.Named("transport"),
	})
	if err := a.Server.Start(); err != nil {
		cancel()
		_ = contacts.Close()
		return nil, fmt.Errorf("listen tcp: %w", err)
	}

	clk := clock.New()
	metrics := chat.NewMetrics()
	a.Chat = chat.New(chat.Options{
		Self:       self,
		Name:       name,
		Avatar:     avatar,
		TCPPort:    a.Server.Port(),
		Directory:  presence.NewDirectory(clk, cfg.OfflineAfter),
		Blocklist:  presence.NewBlockList(),
		History:    history,
		Contacts:   contacts,
		Sender:     network.NewClient(cfg.SendTimeout),
		Metrics:    metrics,
		Clock:      clk,
		SweepEvery: cfg.SweepEvery,
		OutboxSize: cfg.OutboxSize,
		Workers:    cfg.OutboxWorkers,
		Logger:     log.Named("chat"),
		Quit:       cancel,
	})

	a.Discovery = discovery.New(discovery.Config{
		Port:     cfg.DiscoveryPort,
		Group:    cfg.MulticastGroup,
		TTL:      cfg.MulticastTTL,
		Interval: cfg.AnnounceEvery,
	}, self, a.Chat.Announcement, log.Named("discovery"))

	var sinks []ui.Sink
	switch cfg.UI {
	case "cli":
		a.cli = ui.NewCLIDisplay(ui.ShouldUseColor(cfg.NoColor))
		sinks = append(sinks, a.cli)
	case "tui":
		a.tui = ui.NewTUIDisplay(a.Chat.ProcessLine)
		sinks = append(sinks, a.tui)
	}
	if cfg.APIAddr != "" {
		issuer, err := authutil.NewIssuer(cfg.APISecret, self.ID, 0)
		if err != nil {
			a.Server.Stop()
			cancel()
			_ = contacts.Close()
			return nil, err
		}
		a.Issuer = issuer
		a.API = ui.NewAPIServer(ui.APIOptions{
			Addr:    cfg.APIAddr,
			Backend: a.Chat,
			Auth:    issuer,
			Metrics: metrics.Registry(),
			Logger:  log.Named("api"),
		})
		sinks = append(sinks, a.API)
	}
	a.Chat.SetSink(ui.NewMultiSink(sinks...))

	log.Info("node ready",
		zap.String("id", self.ID),
		zap.String("name", name),
		zap.String("ipv4", self.IPv4),
		zap.String("mac", self.MAC),
		zap.Int("tcp_port", a.Server.Port()),
	)
	return a, nil
}

// profile picks the display name and avatar: flags first, then the
// stored profile, then the hostname.
func (a *App) profile() (string, []byte) {
	stored, _, err := a.Contacts.LoadProfile()
	if err != nil {
		a.log.Warn("load profile", zap.Error(err))
	}
	name := a.Cfg.Name
	if name == "" {
		name = stored.Name
	}
	if name == "" {
		name = a.Identity.Hostname
	}
	avatar := stored.Avatar
	if a.Cfg.AvatarPath != "" {
		data, err := os.ReadFile(a.Cfg.AvatarPath)
		if err != nil {
			a.log.Warn("read avatar", zap.String("path", a.Cfg.AvatarPath), zap.Error(err))
		} else {
			avatar = data
		}
	}
	if err := a.Contacts.SaveProfile(storage.Profile{Name: name, Avatar: avatar}); err != nil {
		a.log.Warn("save profile", zap.Error(err))
	}
	return name, avatar
}

// Token issues an API bearer token for user. It fails when the API is off.
func (a *App) Token(user string) (string, error) {
	if a.Issuer == nil {
		return "", authutil.ErrNoSecret
	}
	return a.Issuer.IssueToken(user)
}
