package storage

import (
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/klauspost/compress/zip"
	"go.uber.org/zap"

	"lanchat/internal/message"
)

// WriteBundle writes every stored log into a ZIP archive with one
// <peerId>.json entry per peer.
func (s *HistoryStore) WriteBundle(w io.Writer) error {
	if s == nil {
		return ErrNoStore
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ids, err := s.PeerIDs()
	if err != nil {
		return err
	}
	zw := zip.NewWriter(w)
	for _, id := range ids {
		data, err := os.ReadFile(s.path(id))
		if err != nil {
			_ = zw.Close()
			return fmt.Errorf("read %s: %w", id, err)
		}
		entry, err := zw.Create(id + historyExt)
		if err != nil {
			_ = zw.Close()
			return err
		}
		if _, err := entry.Write(data); err != nil {
			_ = zw.Close()
			return err
		}
	}
	return zw.Close()
}

// ReadBundle parses a ZIP archive produced by WriteBundle. Entries that are
// not JSON logs or fail to parse are skipped.
func (s *HistoryStore) ReadBundle(r io.ReaderAt, size int64) (map[string][]message.Message, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("open bundle: %w", err)
	}
	out := make(map[string][]message.Message)
	for _, f := range zr.File {
		name := path.Base(f.Name)
		if f.FileInfo().IsDir() || !strings.HasSuffix(name, historyExt) {
			continue
		}
		peerID := strings.TrimSuffix(name, historyExt)
		if peerID == "" {
			continue
		}
		msgs, err := readBundleEntry(f)
		if err != nil {
			s.logger().Warn("skipping bundle entry", zap.String("entry", f.Name), zap.Error(err))
			continue
		}
		out[peerID] = msgs
	}
	return out, nil
}

func readBundleEntry(f *zip.File) ([]message.Message, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, err
	}
	return decodeHistory(data)
}

func (s *HistoryStore) logger() *zap.Logger {
	if s == nil || s.log == nil {
		return zap.NewNop()
	}
	return s.log
}
