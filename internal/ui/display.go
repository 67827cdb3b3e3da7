package ui

import (
	"io"
	"time"

	"lanchat/internal/message"
)

// Presence describes the availability of a peer so each UI can display it.
type Presence struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Addr      string    `json:"addr"`
	Hostname  string    `json:"hostname,omitempty"`
	Online    bool      `json:"online"`
	LastSeen  time.Time `json:"last_seen"`
	HasAvatar bool      `json:"has_avatar"`
}

// Notification is raised for messages outside the active conversation.
type Notification struct {
	ID        string    `json:"id"`
	PeerID    string    `json:"peer_id"`
	Text      string    `json:"text"`
	Level     string    `json:"level"`
	Timestamp time.Time `json:"timestamp"`
	From      string    `json:"from"`
}

// SelfInfo is the local node as shown to presentation layers.
type SelfInfo struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Hostname string `json:"hostname"`
	MAC      string `json:"mac"`
	IPv4     string `json:"ipv4"`
	IPv6     string `json:"ipv6,omitempty"`
	TCPPort  int    `json:"tcp_port"`
}

// Sink is the unified interface every UI surface must satisfy.
type Sink interface {
	ShowMessage(peerID string, msg message.Message)
	ShowSystem(string)
	UpdatePeers([]Presence)
	ShowNotification(Notification)
}

// Backend is what interactive surfaces need from the chat service.
type Backend interface {
	Self() SelfInfo
	PeerList(query string) []Presence
	Conversation(peerID string) []message.Message
	Attachment(peerID, msgID string) (message.Message, bool)
	SetActive(peerID string) error
	SendMessage(peerID string, kind message.Kind, payload []byte, fileName string) (message.Message, <-chan bool, error)
	Export(w io.Writer) error
	Import(r io.ReaderAt, size int64) (int, error)
	ProcessLine(line string)
}

type multiSink struct {
	sinks []Sink
}

// NewMultiSink fans chat events out to each registered sink.
func NewMultiSink(sinks ...Sink) Sink {
	return &multiSink{sinks: sinks}
}

func (m *multiSink) ShowMessage(peerID string, msg message.Message) {
	for _, sink := range m.sinks {
		if sink != nil {
			sink.ShowMessage(peerID, msg)
		}
	}
}

func (m *multiSink) ShowSystem(text string) {
	for _, sink := range m.sinks {
		if sink != nil {
			sink.ShowSystem(text)
		}
	}
}

func (m *multiSink) UpdatePeers(peers []Presence) {
	for _, sink := range m.sinks {
		if sink != nil {
			sink.UpdatePeers(peers)
		}
	}
}

func (m *multiSink) ShowNotification(n Notification) {
	for _, sink := range m.sinks {
		if sink != nil {
			sink.ShowNotification(n)
		}
	}
}

// Describe renders a short one-line summary of msg for list views.
func Describe(msg message.Message) string {
	switch msg.Kind {
	case message.Voice:
		return "[voice message]"
	case message.Image:
		return "[image " + msg.FileName + "]"
	case message.File:
		return "[file " + msg.FileName + "]"
	default:
		return msg.Content
	}
}
