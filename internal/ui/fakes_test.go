package ui

import (
	"bytes"
	"errors"
	"io"
	"sync"
	"time"

	"lanchat/internal/message"
)

type fakeBackend struct {
	mu       sync.Mutex
	peers    []Presence
	logs     map[string][]message.Message
	active   string
	lines    []string
	sent     []message.Message
	bundle   []byte
	imported int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		peers: []Presence{
			{ID: "bob", Name: "Bob", Addr: "10.0.0.2", Online: true, LastSeen: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)},
			{ID: "carol", Name: "Carol", Addr: "10.0.0.3"},
		},
		logs: map[string][]message.Message{
			"bob": {
				{ID: "m1", SenderID: "bob", SenderName: "Bob", Kind: message.Text, Content: "hi"},
				{ID: "img", SenderID: "bob", SenderName: "Bob", Kind: message.Image, FileName: "dot.png",
					Payload: []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")},
			},
		},
		bundle: []byte("zip-bytes"),
	}
}

func (f *fakeBackend) Self() SelfInfo {
	return SelfInfo{ID: "self", Name: "Alice", Hostname: "alice-host", TCPPort: 5000}
}

func (f *fakeBackend) PeerList(query string) []Presence {
	if query == "" {
		return f.peers
	}
	var out []Presence
	for _, p := range f.peers {
		if p.ID == query {
			out = append(out, p)
		}
	}
	return out
}

func (f *fakeBackend) Conversation(peerID string) []message.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.logs[peerID]
}

func (f *fakeBackend) Attachment(peerID, msgID string) (message.Message, bool) {
	for _, m := range f.Conversation(peerID) {
		if m.ID == msgID {
			return m, true
		}
	}
	return message.Message{}, false
}

func (f *fakeBackend) SetActive(peerID string) error {
	if peerID != "" && f.logs[peerID] == nil {
		return errors.New("unknown peer")
	}
	f.mu.Lock()
	f.active = peerID
	f.mu.Unlock()
	return nil
}

func (f *fakeBackend) SendMessage(peerID string, kind message.Kind, payload []byte, fileName string) (message.Message, <-chan bool, error) {
	if peerID != "bob" {
		return message.Message{}, nil, errors.New("unknown peer")
	}
	msg := message.Message{ID: "out-1", SenderID: "self", Kind: kind, FileName: fileName, SentByLocal: true}
	if kind == message.Text {
		msg.Content = string(payload)
	} else {
		msg.Payload = payload
	}
	f.mu.Lock()
	f.sent = append(f.sent, msg)
	f.mu.Unlock()
	done := make(chan bool, 1)
	done <- true
	return msg, done, nil
}

func (f *fakeBackend) Export(w io.Writer) error {
	_, err := w.Write(f.bundle)
	return err
}

func (f *fakeBackend) Import(r io.ReaderAt, size int64) (int, error) {
	buf := make([]byte, size)
	if _, err := r.ReadAt(buf, 0); err != nil && err != io.EOF {
		return 0, err
	}
	if !bytes.Equal(buf, f.bundle) {
		return 0, errors.New("not a bundle")
	}
	f.imported++
	return 1, nil
}

func (f *fakeBackend) ProcessLine(line string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lines = append(f.lines, line)
}

func (f *fakeBackend) lineCopy() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.lines...)
}

type staticValidator map[string]string

func (v staticValidator) ValidateToken(token string) (string, error) {
	if user, ok := v[token]; ok {
		return user, nil
	}
	return "", errors.New("bad token")
}
