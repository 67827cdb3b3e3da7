package message

import (
	"encoding/base64"
	"time"

	"github.com/google/uuid"
)

// PacketKind tags every datagram and stream frame exchanged between peers.
type PacketKind string

const (
	KindDiscover PacketKind = "DISCOVER"
	KindBye      PacketKind = "BYE"
	KindText     PacketKind = "TEXT"
	KindVoice    PacketKind = "VOICE"
	KindImage    PacketKind = "IMAGE"
	KindFile     PacketKind = "FILE"
	KindAvatar   PacketKind = "AVATAR"
)

// Valid reports whether k is one of the known packet kinds.
func (k PacketKind) Valid() bool {
	switch k {
	case KindDiscover, KindBye, KindText, KindVoice, KindImage, KindFile, KindAvatar:
		return true
	}
	return false
}

// Chat reports whether packets of this kind carry a conversation message.
func (k PacketKind) Chat() bool {
	switch k {
	case KindText, KindVoice, KindImage, KindFile:
		return true
	}
	return false
}

// Packet is the unit exchanged over UDP discovery and TCP messaging.
// Every packet carries the sender's identity fields so a receiver can
// create or refresh the peer record from any of them.
type Packet struct {
	Kind         PacketKind
	MessageID    string
	SenderID     string
	SenderName   string
	SenderAvatar []byte
	MACAddress   string
	Hostname     string
	IPv4         string
	IPv6         string
	Content      string
	FileName     string
	Timestamp    time.Time
	TCPPort      int
}

// Kind classifies a stored conversation entry.
type Kind string

const (
	Text  Kind = "Text"
	Voice Kind = "Voice"
	Image Kind = "Image"
	File  Kind = "File"
)

// PacketKind maps a message kind to the packet kind that carries it.
func (k Kind) PacketKind() PacketKind {
	switch k {
	case Voice:
		return KindVoice
	case Image:
		return KindImage
	case File:
		return KindFile
	default:
		return KindText
	}
}

// Message is one entry of a per-peer conversation log.
//
// Text carries its body in Content. Voice keeps the base64 audio in
// Content. Image and File keep decoded bytes in Payload.
type Message struct {
	ID          string    `json:"id"`
	SenderID    string    `json:"sender_id"`
	SenderName  string    `json:"sender_name"`
	Kind        Kind      `json:"kind"`
	Content     string    `json:"content,omitempty"`
	Payload     []byte    `json:"payload,omitempty"`
	FileName    string    `json:"file_name,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	SentByLocal bool      `json:"sent_by_local"`
}

// NewID returns a fresh message identifier.
func NewID() string {
	return uuid.NewString()
}

// FromPacket converts an inbound chat packet into a conversation entry
// stamped with the local receive time. ok is false for non-chat packets
// or when the binary content is not valid base64.
func FromPacket(p Packet, received time.Time) (Message, bool) {
	var kind Kind
	switch p.Kind {
	case KindText:
		kind = Text
	case KindVoice:
		kind = Voice
	case KindImage:
		kind = Image
	case KindFile:
		kind = File
	default:
		return Message{}, false
	}
	id := p.MessageID
	if id == "" {
		id = NewID()
	}
	msg := Message{
		ID:         id,
		SenderID:   p.SenderID,
		SenderName: p.SenderName,
		Kind:       kind,
		FileName:   p.FileName,
		Timestamp:  received,
	}
	switch kind {
	case Image, File:
		data, err := base64.StdEncoding.DecodeString(p.Content)
		if err != nil {
			return Message{}, false
		}
		msg.Payload = data
	default:
		msg.Content = p.Content
	}
	return msg, true
}

// Body returns the packet content for an outbound message.
func (m Message) Body() string {
	switch m.Kind {
	case Image, File:
		return base64.StdEncoding.EncodeToString(m.Payload)
	default:
		return m.Content
	}
}
