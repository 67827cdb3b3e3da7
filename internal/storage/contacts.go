package storage

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"lanchat/internal/presence"
)

const (
	contactsBucket = "contacts"
	profileBucket  = "profile"
	profileKey     = "self"
)

// Profile is the local user's display name and avatar.
type Profile struct {
	Name   string `json:"name"`
	Avatar []byte `json:"avatar,omitempty"`
}

// ContactStore persists the local profile and every peer ever seen using
// BoltDB so contacts reappear (offline) after a restart.
type ContactStore struct {
	db *bbolt.DB
}

func OpenContactStore(path string) (*ContactStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{contactsBucket, profileBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &ContactStore{db: db}, nil
}

func (s *ContactStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// PutPeer stores the peer's identity fields. Presence state is not kept.
func (s *ContactStore) PutPeer(p presence.Peer) error {
	if s == nil || s.db == nil {
		return nil
	}
	p.Online = false
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(contactsBucket)).Put([]byte(p.ID), data)
	})
}

// Peers returns every stored contact. Undecodable records are skipped.
func (s *ContactStore) Peers() ([]presence.Peer, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var out []presence.Peer
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(contactsBucket)).ForEach(func(_, v []byte) error {
			var p presence.Peer
			if err := json.Unmarshal(v, &p); err == nil && p.ID != "" {
				out = append(out, p)
			}
			return nil
		})
	})
	return out, err
}

func (s *ContactStore) SaveProfile(p Profile) error {
	if s == nil || s.db == nil {
		return nil
	}
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(profileBucket)).Put([]byte(profileKey), data)
	})
}

// LoadProfile returns the stored profile; ok is false when none exists.
func (s *ContactStore) LoadProfile() (Profile, bool, error) {
	if s == nil || s.db == nil {
		return Profile{}, false, nil
	}
	var (
		p     Profile
		found bool
	)
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket([]byte(profileBucket)).Get([]byte(profileKey))
		if v == nil {
			return nil
		}
		found = true
		return json.Unmarshal(v, &p)
	})
	return p, found, err
}
