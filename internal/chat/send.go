package chat

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gabriel-vasile/mimetype"

	"lanchat/internal/message"
	"lanchat/internal/storage"
)

// SendMessage echoes a new message into the peer's conversation and hands
// the packet to the outbox. The returned channel yields the delivery result
// once; a failed delivery leaves the local echo in place.
func (s *Service) SendMessage(peerID string, kind message.Kind, payload []byte, fileName string) (message.Message, <-chan bool, error) {
	peer, ok := s.directory.Get(peerID)
	if !ok {
		return message.Message{}, nil, ErrUnknownPeer
	}
	if len(payload) == 0 {
		return message.Message{}, nil, ErrEmptyPayload
	}
	msg := message.Message{
		ID:          message.NewID(),
		SenderID:    s.self.ID,
		SenderName:  s.Name(),
		Kind:        kind,
		FileName:    fileName,
		Timestamp:   s.clock.Now(),
		SentByLocal: true,
	}
	switch kind {
	case message.Image, message.File:
		msg.Payload = append([]byte(nil), payload...)
	case message.Voice:
		msg.Content = base64.StdEncoding.EncodeToString(payload)
	default:
		msg.Kind = message.Text
		msg.Content = string(payload)
	}

	pkt := s.packet(msg.Kind.PacketKind())
	pkt.MessageID = msg.ID
	pkt.Content = msg.Body()
	pkt.FileName = msg.FileName
	pkt.Timestamp = msg.Timestamp
	done := s.outbox.Enqueue(peer.IPAddress, peer.TCPPort, pkt)

	s.appendMessage(peerID, msg)
	s.notify(peerID, msg)
	return msg, done, nil
}

// SendFile reads path and sends it as an image or file message.
func (s *Service) SendFile(peerID string, kind message.Kind, path string) (message.Message, <-chan bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return message.Message{}, nil, err
	}
	return s.SendMessage(peerID, kind, data, filepath.Base(path))
}

// SaveAttachment writes the payload of a received image, file or voice
// message to dst. When dst is a directory the original file name is used,
// falling back to the message id plus an extension sniffed from the data.
func (s *Service) SaveAttachment(peerID, msgID, dst string) (string, error) {
	msg, ok := s.Attachment(peerID, msgID)
	if !ok {
		return "", fmt.Errorf("message %s not found", msgID)
	}
	data := msg.Payload
	if msg.Kind == message.Voice {
		decoded, err := base64.StdEncoding.DecodeString(msg.Content)
		if err != nil {
			return "", fmt.Errorf("decode voice: %w", err)
		}
		data = decoded
	}
	if len(data) == 0 {
		return "", fmt.Errorf("message %s has no attachment", msgID)
	}
	if info, err := os.Stat(dst); err == nil && info.IsDir() {
		name := storage.SanitizeFileName(msg.FileName)
		if name == "" {
			name = storage.SanitizeFileName(msg.ID) + mimetype.Detect(data).Extension()
		}
		dst = filepath.Join(dst, name)
	}
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		return "", err
	}
	return dst, nil
}
