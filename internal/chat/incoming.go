package chat

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"lanchat/internal/discovery"
	"lanchat/internal/message"
	"lanchat/internal/ui"
)

const previewLen = 60

func (s *Service) handleDiscovery(evt discovery.Event) {
	s.metrics.IncDiscovery()
	switch evt.Kind {
	case discovery.PeerDisconnected:
		if s.directory.MarkOffline(evt.Packet.SenderID) {
			s.publishPeers()
		}
	default:
		s.observe(evt.Packet, evt.Source)
	}
}

// observe upserts the sender, persists identity changes and republishes
// the peer list when anything visible changed.
func (s *Service) observe(p message.Packet, source string) {
	peer, change := s.directory.Observe(p, source)
	if peer.ID == "" {
		return
	}
	if change.Created || change.Updated {
		if err := s.contacts.PutPeer(peer); err != nil {
			s.log.Warn("persist contact", zap.String("peer", peer.ID), zap.Error(err))
		}
	}
	if change.Created || change.Updated || change.CameOnline {
		s.publishPeers()
	}
}

// handlePacket processes one packet received over the stream transport.
func (s *Service) handlePacket(p message.Packet, remote string) {
	if p.SenderID == "" || p.SenderID == s.self.ID {
		return
	}
	switch p.Kind {
	case message.KindBye:
		if s.directory.MarkOffline(p.SenderID) {
			s.publishPeers()
		}
		return
	case message.KindDiscover, message.KindAvatar:
		s.observe(p, remote)
		return
	}
	if !p.Kind.Chat() {
		return
	}
	s.observe(p, remote)
	if s.blocklist.Blocks(p.SenderID) {
		s.log.Debug("dropping message from blocked peer", zap.String("peer", p.SenderID))
		return
	}
	if p.MessageID != "" {
		if s.seen.Contains(p.MessageID) {
			s.metrics.IncDuplicate()
			return
		}
		s.seen.Add(p.MessageID, struct{}{})
	}
	msg, ok := message.FromPacket(p, s.clock.Now())
	if !ok {
		s.log.Debug("dropping undecodable message", zap.String("peer", p.SenderID), zap.String("kind", string(p.Kind)))
		return
	}
	s.metrics.IncReceived()
	s.appendMessage(p.SenderID, msg)
	s.notify(p.SenderID, msg)
}

// notify shows msg when its conversation is active and raises a
// notification otherwise.
func (s *Service) notify(peerID string, msg message.Message) {
	if s.Active() == peerID {
		s.sink.ShowMessage(peerID, msg)
		return
	}
	if msg.SentByLocal {
		return
	}
	s.sink.ShowNotification(ui.Notification{
		ID:        msg.ID,
		PeerID:    peerID,
		From:      msg.SenderName,
		Level:     "message",
		Text:      fmt.Sprintf("%s: %s", msg.SenderName, preview(msg)),
		Timestamp: msg.Timestamp,
	})
}

func preview(msg message.Message) string {
	text := strings.TrimSpace(ui.Describe(msg))
	if r := []rune(text); len(r) > previewLen {
		return string(r[:previewLen]) + "..."
	}
	return text
}

func (s *Service) sweep() {
	if s.directory.Sweep() {
		s.publishPeers()
	}
}
