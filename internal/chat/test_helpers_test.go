package chat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap/zaptest"

	"lanchat/internal/identity"
	"lanchat/internal/message"
	"lanchat/internal/presence"
	"lanchat/internal/storage"
	"lanchat/internal/ui"
)

type shownMessage struct {
	peerID string
	msg    message.Message
}

type recordingSink struct {
	mu            sync.Mutex
	messages      []shownMessage
	systems       []string
	peerSnapshots [][]ui.Presence
	notifications []ui.Notification
}

func (s *recordingSink) ShowMessage(peerID string, msg message.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, shownMessage{peerID: peerID, msg: msg})
}

func (s *recordingSink) ShowSystem(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.systems = append(s.systems, text)
}

func (s *recordingSink) UpdatePeers(peers []ui.Presence) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := make([]ui.Presence, len(peers))
	copy(snapshot, peers)
	s.peerSnapshots = append(s.peerSnapshots, snapshot)
}

func (s *recordingSink) ShowNotification(n ui.Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifications = append(s.notifications, n)
}

func (s *recordingSink) messageCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

func (s *recordingSink) notificationCopy() []ui.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ui.Notification, len(s.notifications))
	copy(out, s.notifications)
	return out
}

func (s *recordingSink) lastSystem() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.systems) == 0 {
		return ""
	}
	return s.systems[len(s.systems)-1]
}

func (s *recordingSink) systemCopy() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.systems...)
}

func (s *recordingSink) lastPeers() []ui.Presence {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.peerSnapshots) == 0 {
		return nil
	}
	return s.peerSnapshots[len(s.peerSnapshots)-1]
}

type sentPacket struct {
	ip     string
	port   int
	packet message.Packet
}

// recordingSender stands in for the stream transport.
type recordingSender struct {
	mu   sync.Mutex
	sent []sentPacket
	fail map[string]bool
}

func (r *recordingSender) Send(_ context.Context, ip string, port int, p message.Packet) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail[ip] {
		return errors.New("connection refused")
	}
	r.sent = append(r.sent, sentPacket{ip: ip, port: port, packet: p})
	return nil
}

func (r *recordingSender) packets() []sentPacket {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]sentPacket(nil), r.sent...)
}

var testSelf = identity.NodeIdentity{
	ID:       "self-id",
	MAC:      "AA:BB:CC:DD:EE:FF",
	Hostname: "self-host",
	IPv4:     "10.0.0.1",
}

type testEnv struct {
	svc    *Service
	sink   *recordingSink
	sender *recordingSender
	clock  *clock.Mock
	dir    string
}

func newTestService(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	log := zaptest.NewLogger(t)
	history, err := storage.OpenHistoryStore(dir, log)
	if err != nil {
		t.Fatalf("open history: %v", err)
	}
	clk := clock.NewMock()
	clk.Set(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	env := &testEnv{
		sink:   &recordingSink{},
		sender: &recordingSender{fail: make(map[string]bool)},
		clock:  clk,
		dir:    dir,
	}
	env.svc = New(Options{
		Self:      testSelf,
		Name:      "Alice",
		TCPPort:   5000,
		Directory: presence.NewDirectory(clk, presence.DefaultTimeout),
		History:   history,
		Sender:    env.sender,
		Sink:      env.sink,
		Clock:     clk,
		Logger:    log,
	})
	return env
}

// runService drives the outbox and event loop until the test ends.
func (e *testEnv) runService(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = e.svc.Run(ctx, nil, nil)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func chatPacket(from, id, text string) message.Packet {
	return message.Packet{
		Kind:       message.KindText,
		MessageID:  id,
		SenderID:   from,
		SenderName: "Bob",
		Hostname:   "bob-host",
		IPv4:       "10.0.0.2",
		TCPPort:    6000,
		Content:    text,
		Timestamp:  time.Date(2024, 5, 1, 11, 0, 0, 0, time.UTC),
	}
}

func announce(from string) message.Packet {
	p := chatPacket(from, "", "")
	p.Kind = message.KindDiscover
	return p
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}
