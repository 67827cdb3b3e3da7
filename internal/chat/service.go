// Package chat ties discovery, transport, presence and history together
// into the messenger's core behaviour.
package chat

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"lanchat/internal/discovery"
	"lanchat/internal/identity"
	"lanchat/internal/message"
	"lanchat/internal/network"
	"lanchat/internal/presence"
	"lanchat/internal/storage"
	"lanchat/internal/ui"
)

var (
	ErrUnknownPeer  = errors.New("unknown peer")
	ErrEmptyPayload = errors.New("empty payload")
	ErrEmptyName    = errors.New("display name required")
)

const (
	dedupSize = 4096
	dedupTTL  = 10 * time.Minute
)

//go:generate go run go.uber.org/mock/mockgen -source=service.go -destination=mocks/mock_sender.go -package=mocks

// Sender delivers one packet to a peer. network.Client satisfies it.
type Sender interface {
	Send(ctx context.Context, ip string, port int, p message.Packet) error
}

// Options describes the dependencies needed to construct Service.
type Options struct {
	Self       identity.NodeIdentity
	Name       string
	Avatar     []byte
	TCPPort    int
	Directory  *presence.Directory
	Blocklist  *presence.BlockList
	History    *storage.HistoryStore
	Contacts   *storage.ContactStore
	Sender     Sender
	Sink       ui.Sink
	Metrics    *Metrics
	Clock      clock.Clock
	SweepEvery time.Duration
	OutboxSize int
	Workers    int
	Logger     *zap.Logger
	// Quit is invoked by the /quit command.
	Quit func()
}

// Service is the orchestrator. Background events are consumed by the
// single Run loop; the directory and conversation map carry their own
// locks so presentation layers can read them concurrently.
type Service struct {
	self       identity.NodeIdentity
	tcpPort    int
	directory  *presence.Directory
	blocklist  *presence.BlockList
	history    *storage.HistoryStore
	contacts   *storage.ContactStore
	outbox     *Outbox
	sink       ui.Sink
	metrics    *Metrics
	clock      clock.Clock
	sweepEvery time.Duration
	seen       *expirable.LRU[string, struct{}]
	quit       func()
	log        *zap.Logger

	profileMu sync.RWMutex
	name      string
	avatar    []byte

	histMu sync.Mutex
	logs   map[string][]message.Message

	activeMu sync.RWMutex
	active   string
}

func New(opts Options) *Service {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Directory == nil {
		opts.Directory = presence.NewDirectory(opts.Clock, presence.DefaultTimeout)
	}
	if opts.Blocklist == nil {
		opts.Blocklist = presence.NewBlockList()
	}
	if opts.SweepEvery <= 0 {
		opts.SweepEvery = presence.DefaultSweep
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Name == "" {
		opts.Name = opts.Self.Hostname
	}
	if opts.Sink == nil {
		opts.Sink = ui.NewMultiSink()
	}
	s := &Service{
		self:       opts.Self,
		tcpPort:    opts.TCPPort,
		directory:  opts.Directory,
		blocklist:  opts.Blocklist,
		history:    opts.History,
		contacts:   opts.Contacts,
		sink:       opts.Sink,
		metrics:    opts.Metrics,
		clock:      opts.Clock,
		sweepEvery: opts.SweepEvery,
		seen:       expirable.NewLRU[string, struct{}](dedupSize, nil, dedupTTL),
		quit:       opts.Quit,
		log:        opts.Logger,
		name:       opts.Name,
		avatar:     opts.Avatar,
		logs:       make(map[string][]message.Message),
	}
	s.outbox = NewOutbox(opts.Sender, opts.OutboxSize, opts.Workers, opts.Metrics, opts.Logger.Named("outbox"))
	s.restoreContacts()
	return s
}

func (s *Service) Directory() *presence.Directory  { return s.directory }
func (s *Service) Blocklist() *presence.BlockList  { return s.blocklist }
func (s *Service) History() *storage.HistoryStore  { return s.history }
func (s *Service) Metrics() *Metrics               { return s.metrics }
func (s *Service) Identity() identity.NodeIdentity { return s.self }
func (s *Service) SetSink(sink ui.Sink)            { s.sink = sink }

// Run consumes discovery events and inbound packets, sweeps presence on
// its own ticker and drives the outbox workers until ctx is done.
// A nil channel is simply never selected.
func (s *Service) Run(ctx context.Context, events <-chan discovery.Event, inbound <-chan network.Inbound) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.outbox.Run(ctx)
		return nil
	})
	g.Go(func() error {
		s.loop(ctx, events, inbound)
		return nil
	})
	return g.Wait()
}

func (s *Service) loop(ctx context.Context, events <-chan discovery.Event, inbound <-chan network.Inbound) {
	ticker := s.clock.Ticker(s.sweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			s.handleDiscovery(evt)
		case in, ok := <-inbound:
			if !ok {
				inbound = nil
				continue
			}
			s.handlePacket(in.Packet, in.Remote)
		case <-ticker.C:
			s.sweep()
		}
	}
}

// Self describes the local node.
func (s *Service) Self() ui.SelfInfo {
	return ui.SelfInfo{
		ID:       s.self.ID,
		Name:     s.Name(),
		Hostname: s.self.Hostname,
		MAC:      s.self.MAC,
		IPv4:     s.self.IPv4,
		IPv6:     s.self.IPv6,
		TCPPort:  s.tcpPort,
	}
}

func (s *Service) Name() string {
	s.profileMu.RLock()
	defer s.profileMu.RUnlock()
	return s.name
}

func (s *Service) Avatar() []byte {
	s.profileMu.RLock()
	defer s.profileMu.RUnlock()
	return s.avatar
}

// Announcement builds the presence packet used by discovery. Name and
// avatar are read at call time.
func (s *Service) Announcement(kind message.PacketKind) message.Packet {
	return s.packet(kind)
}

func (s *Service) packet(kind message.PacketKind) message.Packet {
	s.profileMu.RLock()
	name, avatar := s.name, s.avatar
	s.profileMu.RUnlock()
	return message.Packet{
		Kind:         kind,
		SenderID:     s.self.ID,
		SenderName:   name,
		SenderAvatar: avatar,
		MACAddress:   s.self.MAC,
		Hostname:     s.self.Hostname,
		IPv4:         s.self.IPv4,
		IPv6:         s.self.IPv6,
		Timestamp:    s.clock.Now(),
		TCPPort:      s.tcpPort,
	}
}

// SetName changes the local display name. The next announcement carries it.
func (s *Service) SetName(name string) error {
	if name == "" {
		return ErrEmptyName
	}
	s.profileMu.Lock()
	s.name = name
	s.profileMu.Unlock()
	return s.saveProfile()
}

// SetAvatar replaces the local avatar and pushes it to every online peer.
func (s *Service) SetAvatar(avatar []byte) error {
	if len(avatar) == 0 {
		return ErrEmptyPayload
	}
	s.profileMu.Lock()
	s.avatar = append([]byte(nil), avatar...)
	s.profileMu.Unlock()
	for _, p := range s.directory.Online() {
		pkt := s.packet(message.KindAvatar)
		pkt.MessageID = message.NewID()
		s.outbox.Enqueue(p.IPAddress, p.TCPPort, pkt)
	}
	return s.saveProfile()
}

func (s *Service) saveProfile() error {
	if s.contacts == nil {
		return nil
	}
	s.profileMu.RLock()
	profile := storage.Profile{Name: s.name, Avatar: s.avatar}
	s.profileMu.RUnlock()
	return s.contacts.SaveProfile(profile)
}

func (s *Service) restoreContacts() {
	if s.contacts == nil {
		return
	}
	peers, err := s.contacts.Peers()
	if err != nil {
		s.log.Warn("load contacts", zap.Error(err))
		return
	}
	s.directory.Restore(peers)
}

// PeerList returns peers matching query in display order.
func (s *Service) PeerList(query string) []ui.Presence {
	return presences(s.directory.Search(query))
}

func presences(peers []presence.Peer) []ui.Presence {
	out := make([]ui.Presence, 0, len(peers))
	for _, p := range peers {
		out = append(out, ui.Presence{
			ID:        p.ID,
			Name:      p.DisplayName,
			Addr:      p.IPAddress,
			Hostname:  p.Hostname,
			Online:    p.Online,
			LastSeen:  p.LastSeen,
			HasAvatar: len(p.Avatar) > 0,
		})
	}
	return out
}

func (s *Service) publishPeers() {
	online := s.directory.Online()
	s.metrics.SetOnline(len(online))
	s.sink.UpdatePeers(presences(s.directory.Snapshot()))
}

// SetActive selects the conversation shown by the presentation layer.
// An empty id clears the selection.
func (s *Service) SetActive(peerID string) error {
	if peerID != "" {
		if _, ok := s.directory.Get(peerID); !ok {
			return ErrUnknownPeer
		}
	}
	s.activeMu.Lock()
	s.active = peerID
	s.activeMu.Unlock()
	return nil
}

func (s *Service) Active() string {
	s.activeMu.RLock()
	defer s.activeMu.RUnlock()
	return s.active
}
