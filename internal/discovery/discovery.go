// Package discovery announces this node on the LAN over UDP and reports
// peers heard from other nodes.
package discovery

import (
	"context"
	"errors"
	"net"
	"strconv"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/net/ipv4"

	"lanchat/internal/identity"
	"lanchat/internal/message"
)

const (
	DefaultPort     = 45678
	DefaultGroup    = "239.255.255.250"
	DefaultTTL      = 8
	DefaultInterval = 3 * time.Second

	maxDatagram = 64 << 10
)

var globalBroadcast = net.IPv4bcast

// Config holds the discovery socket parameters.
type Config struct {
	Port     int
	Group    string
	TTL      int
	Interval time.Duration
	// Buffer is the capacity of the Events channel.
	Buffer int
}

func (c *Config) setDefaults() {
	if c.Port <= 0 {
		c.Port = DefaultPort
	}
	if c.Group == "" {
		c.Group = DefaultGroup
	}
	if c.TTL <= 0 {
		c.TTL = DefaultTTL
	}
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.Buffer <= 0 {
		c.Buffer = 64
	}
}

// EventKind distinguishes the two discovery notifications.
type EventKind int

const (
	PeerDiscovered EventKind = iota
	PeerDisconnected
)

func (k EventKind) String() string {
	if k == PeerDisconnected {
		return "disconnected"
	}
	return "discovered"
}

// Event is emitted for every datagram that passes the self filter.
type Event struct {
	Kind   EventKind
	Packet message.Packet
	Source string
}

// Announcer builds the presence packet sent on each tick and on close.
// It is called on every announcement so profile changes propagate.
type Announcer func(kind message.PacketKind) message.Packet

// Service owns the discovery sockets.
type Service struct {
	cfg      Config
	self     identity.NodeIdentity
	announce Announcer
	log      *zap.Logger
	adapters func() ([]identity.Adapter, error)

	mu       sync.Mutex
	listener net.PacketConn
	sender   *net.UDPConn
	group    net.IP

	events    chan Event
	closeOnce sync.Once
}

// New prepares a discovery service; sockets are opened by Start.
func New(cfg Config, self identity.NodeIdentity, announce Announcer, log *zap.Logger) *Service {
	cfg.setDefaults()
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		cfg:      cfg,
		self:     self,
		announce: announce,
		log:      log,
		adapters: identity.Adapters,
		group:    net.ParseIP(cfg.Group).To4(),
		events:   make(chan Event, cfg.Buffer),
	}
}

// Events delivers discovered and disconnected peers.
func (s *Service) Events() <-chan Event {
	return s.events
}

// Start opens the sending socket and the shared listening socket. A
// failing listener is returned as an error; the service can still announce.
func (s *Service) Start(ctx context.Context) error {
	if err := s.openSender(); err != nil {
		s.log.Warn("discovery sender unavailable", zap.Error(err))
	}
	return s.openListener(ctx)
}

func (s *Service) openSender() error {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero})
	if err != nil {
		return err
	}
	pc := ipv4.NewPacketConn(conn)
	if err := pc.SetMulticastTTL(s.cfg.TTL); err != nil {
		s.log.Debug("set multicast ttl", zap.Error(err))
	}
	if err := pc.SetMulticastLoopback(true); err != nil {
		s.log.Debug("set multicast loopback", zap.Error(err))
	}
	s.mu.Lock()
	s.sender = conn
	s.mu.Unlock()
	return nil
}

func (s *Service) openListener(ctx context.Context) error {
	lc := net.ListenConfig{Control: reuseControl}
	conn, err := lc.ListenPacket(ctx, "udp4", net.JoinHostPort("0.0.0.0", strconv.Itoa(s.cfg.Port)))
	if err != nil {
		return err
	}
	if s.group != nil {
		s.joinGroup(ipv4.NewPacketConn(conn))
	}
	s.mu.Lock()
	s.listener = conn
	s.mu.Unlock()
	return nil
}

func (s *Service) joinGroup(pc *ipv4.PacketConn) {
	group := &net.UDPAddr{IP: s.group}
	ifaces, _ := net.Interfaces()
	joined := 0
	for i := range ifaces {
		ifi := &ifaces[i]
		if ifi.Flags&net.FlagUp == 0 || ifi.Flags&net.FlagMulticast == 0 {
			continue
		}
		if err := pc.JoinGroup(ifi, group); err != nil {
			s.log.Debug("join multicast group", zap.String("iface", ifi.Name), zap.Error(err))
			continue
		}
		joined++
	}
	if joined == 0 {
		if err := pc.JoinGroup(nil, group); err != nil {
			s.log.Warn("multicast group unavailable", zap.String("group", s.cfg.Group), zap.Error(err))
		}
	}
}

// Run announces immediately and then every Interval, while a second
// goroutine reads datagrams. It returns when ctx is done.
func (s *Service) Run(ctx context.Context) error {
	s.mu.Lock()
	listener := s.listener
	s.mu.Unlock()
	if listener != nil {
		go s.readLoop(listener)
	}

	s.Announce()
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.Announce()
		}
	}
}

func (s *Service) readLoop(conn net.PacketConn) {
	buf := make([]byte, maxDatagram)
	for {
		n, src, err := conn.ReadFrom(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.log.Debug("discovery read", zap.Error(err))
			continue
		}
		s.handleDatagram(buf[:n], src)
	}
}

// handleDatagram decodes one datagram, filters our own announcements and
// publishes the result. Malformed datagrams are dropped.
func (s *Service) handleDatagram(data []byte, src net.Addr) {
	pkt, err := message.Decode(data)
	if err != nil {
		s.log.Debug("dropping malformed datagram", zap.Stringer("from", src), zap.Error(err))
		return
	}
	if s.isSelf(pkt) {
		return
	}
	evt := Event{Kind: PeerDiscovered, Packet: pkt, Source: sourceIP(src)}
	if pkt.Kind == message.KindBye {
		evt.Kind = PeerDisconnected
	}
	select {
	case s.events <- evt:
	default:
		s.log.Debug("discovery events full, dropping", zap.String("peer", pkt.SenderID))
	}
}

func (s *Service) isSelf(p message.Packet) bool {
	if p.SenderID == s.self.ID {
		return true
	}
	// the all-zero MAC is shared by every adapterless host
	return p.MACAddress != "" && p.MACAddress != identity.NoMAC && p.MACAddress == s.self.MAC
}

// Announce sends one Discover packet to the global broadcast address,
// every directed subnet broadcast, and the multicast group. Individual
// send failures are logged and skipped.
func (s *Service) Announce() {
	s.send(message.KindDiscover, s.targets())
}

func (s *Service) targets() []net.IP {
	out := []net.IP{globalBroadcast}
	if adapters, err := s.adapters(); err == nil {
		out = append(out, identity.SubnetBroadcasts(adapters)...)
	} else {
		s.log.Debug("list adapters", zap.Error(err))
	}
	if s.group != nil {
		out = append(out, s.group)
	}
	return out
}

func (s *Service) send(kind message.PacketKind, targets []net.IP) {
	s.mu.Lock()
	conn := s.sender
	s.mu.Unlock()
	if conn == nil || s.announce == nil {
		return
	}
	data, err := message.Encode(s.announce(kind))
	if err != nil {
		s.log.Warn("encode announcement", zap.Error(err))
		return
	}
	for _, ip := range targets {
		dst := &net.UDPAddr{IP: ip, Port: s.cfg.Port}
		if _, err := conn.WriteToUDP(data, dst); err != nil {
			s.log.Debug("announce send", zap.Stringer("to", dst), zap.Error(err))
		}
	}
}

// Close sends a Bye to the global broadcast address and closes both
// sockets. It is safe to call more than once.
func (s *Service) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.send(message.KindBye, []net.IP{globalBroadcast})
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.listener != nil {
			err = multierr.Append(err, s.listener.Close())
		}
		if s.sender != nil {
			err = multierr.Append(err, s.sender.Close())
		}
	})
	return err
}

func sourceIP(addr net.Addr) string {
	if udp, ok := addr.(*net.UDPAddr); ok {
		return udp.IP.String()
	}
	if addr == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}
