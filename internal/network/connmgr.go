package network

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"strconv"
	"sync"

	tec "github.com/jbenet/go-temp-err-catcher"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"lanchat/internal/message"
)

// Inbound is a decoded packet together with the remote IP it arrived from.
type Inbound struct {
	Packet message.Packet
	Remote string
}

// ServerOptions tunes the inbound listener.
type ServerOptions struct {
	// MaxConns bounds the number of connections handled concurrently.
	MaxConns int64
	MaxFrame uint32
	Buffer   int
	Logger   *zap.Logger
}

// Server accepts inbound peer connections and decodes their frames onto
// the Incoming channel.
type Server struct {
	addr     string
	listener net.Listener
	log      *zap.Logger
	sem      *semaphore.Weighted
	maxFrame uint32

	connsMu sync.Mutex
	conns   map[net.Conn]struct{}

	incoming chan Inbound
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewServer returns a server for addr. Port 0 picks an ephemeral port.
func NewServer(addr string, opts ServerOptions) *Server {
	if opts.MaxConns <= 0 {
		opts.MaxConns = 64
	}
	if opts.MaxFrame == 0 {
		opts.MaxFrame = DefaultMaxFrame
	}
	if opts.Buffer <= 0 {
		opts.Buffer = 128
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		addr:     addr,
		log:      opts.Logger,
		sem:      semaphore.NewWeighted(opts.MaxConns),
		maxFrame: opts.MaxFrame,
		conns:    make(map[net.Conn]struct{}),
		incoming: make(chan Inbound, opts.Buffer),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start binds the listener and begins accepting.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.listener = ln
	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

// Port reports the bound TCP port, zero before Start.
func (s *Server) Port() int {
	if s.listener == nil {
		return 0
	}
	if tcp, ok := s.listener.Addr().(*net.TCPAddr); ok {
		return tcp.Port
	}
	_, port, _ := net.SplitHostPort(s.listener.Addr().String())
	n, _ := strconv.Atoi(port)
	return n
}

// Incoming delivers decoded packets in per-connection arrival order.
// It is closed once Stop has drained every handler.
func (s *Server) Incoming() <-chan Inbound {
	return s.incoming
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	var catcher tec.TempErrCatcher
	for {
		// at most MaxConns handlers; further peers wait in the backlog
		if err := s.sem.Acquire(s.ctx, 1); err != nil {
			return
		}
		conn, err := s.listener.Accept()
		if err != nil {
			s.sem.Release(1)
			if errors.Is(err, net.ErrClosed) || s.ctx.Err() != nil {
				return
			}
			if catcher.IsTemporary(err) {
				s.log.Debug("temporary accept error", zap.Error(err))
				continue
			}
			s.log.Warn("accept failed", zap.Error(err))
			return
		}
		catcher.Reset()
		if !s.track(conn, true) {
			_ = conn.Close()
			s.sem.Release(1)
			return
		}
		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer func() {
		s.track(conn, false)
		_ = conn.Close()
		s.sem.Release(1)
		s.wg.Done()
	}()

	remote := remoteIP(conn.RemoteAddr())
	reader := bufio.NewReader(conn)
	for {
		frame, err := ReadFrame(reader, s.maxFrame)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				s.log.Debug("read frame", zap.String("remote", remote), zap.Error(err))
			}
			return
		}
		pkt, err := message.Decode(frame)
		if err != nil {
			s.log.Debug("dropping malformed frame", zap.String("remote", remote), zap.Error(err))
			continue
		}
		select {
		case s.incoming <- Inbound{Packet: pkt, Remote: remote}:
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Server) track(conn net.Conn, add bool) bool {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	if !add {
		delete(s.conns, conn)
		return true
	}
	if s.ctx.Err() != nil {
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

// Stop closes the listener and every open connection, waits for the
// handlers to exit and closes Incoming.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		s.cancel()
		if s.listener != nil {
			_ = s.listener.Close()
		}
		s.connsMu.Lock()
		for conn := range s.conns {
			_ = conn.Close()
		}
		s.connsMu.Unlock()
		s.wg.Wait()
		close(s.incoming)
	})
}

func remoteIP(addr net.Addr) string {
	if tcp, ok := addr.(*net.TCPAddr); ok {
		return tcp.IP.String()
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}
