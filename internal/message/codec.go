package message

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrUnknownKind is returned by Decode for a packet type it does not recognise.
var ErrUnknownKind = errors.New("unknown packet type")

// wirePacket is the JSON shape shared with other implementations on the LAN.
// Field names are part of the wire format and must not change.
type wirePacket struct {
	PacketType   PacketKind `json:"PacketType"`
	MessageID    string     `json:"MessageId,omitempty"`
	SenderID     string     `json:"SenderId"`
	SenderName   string     `json:"SenderName"`
	SenderAvatar string     `json:"SenderAvatar"`
	MacAddress   string     `json:"MacAddress"`
	Hostname     string     `json:"Hostname"`
	IPv4         string     `json:"IPv4"`
	IPv6         string     `json:"IPv6"`
	Content      string     `json:"Content,omitempty"`
	FileName     string     `json:"FileName,omitempty"`
	Timestamp    string     `json:"Timestamp"`
	TCPPort      int        `json:"TcpPort"`
}

// Encode serialises p to its UTF-8 JSON wire form.
func Encode(p Packet) ([]byte, error) {
	if !p.Kind.Valid() {
		return nil, fmt.Errorf("encode %q: %w", p.Kind, ErrUnknownKind)
	}
	w := wirePacket{
		PacketType: p.Kind,
		SenderID:   p.SenderID,
		SenderName: p.SenderName,
		MacAddress: p.MACAddress,
		Hostname:   p.Hostname,
		IPv4:       p.IPv4,
		IPv6:       p.IPv6,
		TCPPort:    p.TCPPort,
	}
	if len(p.SenderAvatar) > 0 {
		w.SenderAvatar = base64.StdEncoding.EncodeToString(p.SenderAvatar)
	}
	if !p.Timestamp.IsZero() {
		w.Timestamp = p.Timestamp.Format(time.RFC3339Nano)
	}
	// Presence packets carry identity only.
	if p.Kind != KindDiscover && p.Kind != KindBye {
		w.MessageID = p.MessageID
		w.Content = p.Content
		w.FileName = p.FileName
	}
	return json.Marshal(w)
}

// Decode parses a wire packet. Malformed JSON, unknown packet types and
// unparsable timestamps are reported as errors so the caller can drop the
// datagram or frame. An undecodable avatar is ignored.
func Decode(data []byte) (Packet, error) {
	var w wirePacket
	if err := json.Unmarshal(data, &w); err != nil {
		return Packet{}, fmt.Errorf("decode packet: %w", err)
	}
	if !w.PacketType.Valid() {
		return Packet{}, fmt.Errorf("decode %q: %w", w.PacketType, ErrUnknownKind)
	}
	p := Packet{
		Kind:       w.PacketType,
		MessageID:  w.MessageID,
		SenderID:   w.SenderID,
		SenderName: w.SenderName,
		MACAddress: w.MacAddress,
		Hostname:   w.Hostname,
		IPv4:       w.IPv4,
		IPv6:       w.IPv6,
		Content:    w.Content,
		FileName:   w.FileName,
		TCPPort:    w.TCPPort,
	}
	if w.SenderAvatar != "" {
		if avatar, err := base64.StdEncoding.DecodeString(w.SenderAvatar); err == nil {
			p.SenderAvatar = avatar
		}
	}
	if w.Timestamp != "" {
		ts, err := time.Parse(time.RFC3339Nano, w.Timestamp)
		if err != nil {
			return Packet{}, fmt.Errorf("decode timestamp %q: %w", w.Timestamp, err)
		}
		p.Timestamp = ts
	}
	return p, nil
}
