package storage

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"lanchat/internal/message"
)

const historyExt = ".json"

// ErrNoStore is returned when a nil store is used for writing.
var ErrNoStore = errors.New("history store not initialized")

// historyFile is the on-disk document, one per peer.
type historyFile struct {
	Messages []historyRecord `json:"Messages"`
}

type historyRecord struct {
	ID         string `json:"Id"`
	SenderID   string `json:"SenderId"`
	SenderName string `json:"SenderName"`
	Type       string `json:"Type"`
	Content    string `json:"Content,omitempty"`
	ImageB64   string `json:"ImageB64,omitempty"`
	FileB64    string `json:"FileB64,omitempty"`
	FileName   string `json:"FileName,omitempty"`
	Timestamp  string `json:"Timestamp"`
	IsSentByMe bool   `json:"IsSentByMe"`
}

// HistoryStore keeps each peer's conversation in <dir>/<peerId>.json so
// logs survive restarts and can be exchanged as a bundle.
type HistoryStore struct {
	dir string
	log *zap.Logger
	mu  sync.Mutex
}

func OpenHistoryStore(dir string, log *zap.Logger) (*HistoryStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &HistoryStore{dir: dir, log: log}, nil
}

// Dir is the directory holding the history files.
func (s *HistoryStore) Dir() string {
	return s.dir
}

// Load returns the stored log for peerID. A missing or unreadable file
// yields an empty log.
func (s *HistoryStore) Load(peerID string) []message.Message {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(peerID)
}

func (s *HistoryStore) load(peerID string) []message.Message {
	data, err := os.ReadFile(s.path(peerID))
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.log.Warn("read history", zap.String("peer", peerID), zap.Error(err))
		}
		return nil
	}
	msgs, err := decodeHistory(data)
	if err != nil {
		s.log.Warn("corrupt history file, starting empty", zap.String("peer", peerID), zap.Error(err))
		return nil
	}
	return msgs
}

// Save replaces the stored log for peerID.
func (s *HistoryStore) Save(peerID string, msgs []message.Message) error {
	if s == nil {
		return ErrNoStore
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(peerID, msgs)
}

func (s *HistoryStore) save(peerID string, msgs []message.Message) error {
	data, err := encodeHistory(msgs)
	if err != nil {
		return err
	}
	path := s.path(peerID)
	tmp, err := os.CreateTemp(s.dir, ".history-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// Merge unions incoming into the stored log by message id, keeping the
// stored copy on conflict, sorts by timestamp and persists the result.
func (s *HistoryStore) Merge(peerID string, incoming []message.Message) ([]message.Message, error) {
	if s == nil {
		return nil, ErrNoStore
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	merged := MergeMessages(s.load(peerID), incoming)
	if err := s.save(peerID, merged); err != nil {
		return nil, err
	}
	return merged, nil
}

// MergeMessages returns the id-union of existing and incoming, ordered by
// timestamp. Earlier entries win when ids collide.
func MergeMessages(existing, incoming []message.Message) []message.Message {
	all := make([]message.Message, 0, len(existing)+len(incoming))
	all = append(all, existing...)
	all = append(all, incoming...)
	merged := lo.UniqBy(all, func(m message.Message) string { return m.ID })
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Timestamp.Before(merged[j].Timestamp)
	})
	return merged
}

// PeerIDs lists peers that have a stored log.
func (s *HistoryStore) PeerIDs() ([]string, error) {
	if s == nil {
		return nil, nil
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, historyExt) {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, historyExt))
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *HistoryStore) path(peerID string) string {
	return filepath.Join(s.dir, sanitizePathToken(peerID)+historyExt)
}

func encodeHistory(msgs []message.Message) ([]byte, error) {
	doc := historyFile{Messages: make([]historyRecord, 0, len(msgs))}
	for _, m := range msgs {
		rec := historyRecord{
			ID:         m.ID,
			SenderID:   m.SenderID,
			SenderName: m.SenderName,
			Type:       string(m.Kind),
			Content:    m.Content,
			FileName:   m.FileName,
			Timestamp:  m.Timestamp.Format(time.RFC3339Nano),
			IsSentByMe: m.SentByLocal,
		}
		switch m.Kind {
		case message.Image:
			rec.ImageB64 = base64.StdEncoding.EncodeToString(m.Payload)
		case message.File:
			rec.FileB64 = base64.StdEncoding.EncodeToString(m.Payload)
		}
		doc.Messages = append(doc.Messages, rec)
	}
	return json.Marshal(doc)
}

func decodeHistory(data []byte) ([]message.Message, error) {
	var doc historyFile
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	out := make([]message.Message, 0, len(doc.Messages))
	for _, rec := range doc.Messages {
		msg, err := rec.toMessage()
		if err != nil {
			return nil, fmt.Errorf("message %s: %w", rec.ID, err)
		}
		out = append(out, msg)
	}
	return out, nil
}

func (r historyRecord) toMessage() (message.Message, error) {
	kind := message.Kind(r.Type)
	switch kind {
	case message.Text, message.Voice, message.Image, message.File:
	default:
		kind = message.Text
	}
	msg := message.Message{
		ID:          r.ID,
		SenderID:    r.SenderID,
		SenderName:  r.SenderName,
		Kind:        kind,
		Content:     r.Content,
		FileName:    r.FileName,
		SentByLocal: r.IsSentByMe,
	}
	if msg.ID == "" {
		msg.ID = message.NewID()
	}
	if ts, err := time.Parse(time.RFC3339Nano, r.Timestamp); err == nil {
		msg.Timestamp = ts
	} else {
		msg.Timestamp = time.Now()
	}
	var err error
	switch {
	case r.ImageB64 != "":
		msg.Payload, err = base64.StdEncoding.DecodeString(r.ImageB64)
	case r.FileB64 != "":
		msg.Payload, err = base64.StdEncoding.DecodeString(r.FileB64)
	}
	return msg, err
}
