package chat

import (
	"io"

	"github.com/samber/lo"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"lanchat/internal/message"
)

// conversationLocked returns the cached log for peerID, loading it from
// the store on first access. histMu must be held.
func (s *Service) conversationLocked(peerID string) []message.Message {
	if log, ok := s.logs[peerID]; ok {
		return log
	}
	log := s.history.Load(peerID)
	s.logs[peerID] = log
	return log
}

// appendMessage adds msg to the peer's log and persists it. A failed
// write is logged; the in-memory log keeps the message.
func (s *Service) appendMessage(peerID string, msg message.Message) {
	s.histMu.Lock()
	defer s.histMu.Unlock()
	log := append(s.conversationLocked(peerID), msg)
	s.logs[peerID] = log
	if s.history == nil {
		return
	}
	if err := s.history.Save(peerID, log); err != nil {
		s.log.Warn("persist history", zap.String("peer", peerID), zap.Error(err))
	}
}

// Conversation returns a copy of the peer's log in chronological order.
func (s *Service) Conversation(peerID string) []message.Message {
	s.histMu.Lock()
	defer s.histMu.Unlock()
	log := s.conversationLocked(peerID)
	out := make([]message.Message, len(log))
	copy(out, log)
	return out
}

// Attachment looks up one message in a peer's log.
func (s *Service) Attachment(peerID, msgID string) (message.Message, bool) {
	return lo.Find(s.Conversation(peerID), func(m message.Message) bool { return m.ID == msgID })
}

// Flush persists every cached conversation.
func (s *Service) Flush() error {
	if s.history == nil {
		return nil
	}
	s.histMu.Lock()
	defer s.histMu.Unlock()
	var err error
	for peerID, log := range s.logs {
		err = multierr.Append(err, s.history.Save(peerID, log))
	}
	return err
}

// Export writes all conversations as a ZIP bundle.
func (s *Service) Export(w io.Writer) error {
	if err := s.Flush(); err != nil {
		return err
	}
	return s.history.WriteBundle(w)
}

// Import merges every conversation in a ZIP bundle into the local logs and
// returns how many conversations were touched.
func (s *Service) Import(r io.ReaderAt, size int64) (int, error) {
	if err := s.Flush(); err != nil {
		return 0, err
	}
	bundle, err := s.history.ReadBundle(r, size)
	if err != nil {
		return 0, err
	}
	s.histMu.Lock()
	defer s.histMu.Unlock()
	var errs error
	count := 0
	for peerID, msgs := range bundle {
		merged, err := s.history.Merge(peerID, msgs)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		s.logs[peerID] = merged
		count++
	}
	return count, errs
}
