// Package presence keeps the directory of known peers and their
// online/offline state.
package presence

import (
	"bytes"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/samber/lo"

	"lanchat/internal/identity"
	"lanchat/internal/message"
)

const (
	// DefaultTimeout marks a peer offline when no packet arrived for this long.
	DefaultTimeout = 10 * time.Second
	// DefaultSweep is how often the orchestrator should call Sweep.
	DefaultSweep = 5 * time.Second
)

// Peer is a remote node known to this instance.
type Peer struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"display_name"`
	IPAddress   string    `json:"ip_address"`
	IPv6        string    `json:"ipv6,omitempty"`
	MACAddress  string    `json:"mac_address,omitempty"`
	Hostname    string    `json:"hostname,omitempty"`
	TCPPort     int       `json:"tcp_port"`
	Avatar      []byte    `json:"avatar,omitempty"`
	Online      bool      `json:"online"`
	LastSeen    time.Time `json:"last_seen"`
}

// Change reports what an Observe call did to the directory.
type Change struct {
	Created bool
	// Updated is set when an identity field, address, port or avatar changed.
	Updated bool
	// CameOnline is set on an Offline to Online transition.
	CameOnline bool
}

// Directory tracks peers by id. Peers are never removed.
type Directory struct {
	mu      sync.RWMutex
	clock   clock.Clock
	timeout time.Duration
	peers   map[string]*Peer
}

// NewDirectory returns an empty directory. A nil clock uses wall time.
func NewDirectory(clk clock.Clock, timeout time.Duration) *Directory {
	if clk == nil {
		clk = clock.New()
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Directory{clock: clk, timeout: timeout, peers: make(map[string]*Peer)}
}

// Observe upserts the sender of p and marks it Online. The address comes
// from the packet's IPv4 field when set, otherwise from source. Fields the
// packet leaves empty keep their previous values.
func (d *Directory) Observe(p message.Packet, source string) (Peer, Change) {
	var change Change
	if p.SenderID == "" {
		return Peer{}, change
	}
	now := d.clock.Now()
	d.mu.Lock()
	defer d.mu.Unlock()
	entry, ok := d.peers[p.SenderID]
	if !ok {
		entry = &Peer{ID: p.SenderID}
		d.peers[p.SenderID] = entry
		change.Created = true
	}
	addr := p.IPv4
	if addr == "" || addr == identity.NoIPv4 {
		addr = source
	}
	change.Updated = setIfChanged(&entry.DisplayName, p.SenderName)
	change.Updated = setIfChanged(&entry.IPAddress, addr) || change.Updated
	change.Updated = setIfChanged(&entry.IPv6, p.IPv6) || change.Updated
	change.Updated = setIfChanged(&entry.MACAddress, p.MACAddress) || change.Updated
	change.Updated = setIfChanged(&entry.Hostname, p.Hostname) || change.Updated
	if p.TCPPort > 0 && entry.TCPPort != p.TCPPort {
		entry.TCPPort = p.TCPPort
		change.Updated = true
	}
	if len(p.SenderAvatar) > 0 && !bytes.Equal(entry.Avatar, p.SenderAvatar) {
		entry.Avatar = append([]byte(nil), p.SenderAvatar...)
		change.Updated = true
	}
	if entry.DisplayName == "" {
		entry.DisplayName = lo.Ternary(entry.Hostname != "", entry.Hostname, entry.IPAddress)
	}
	change.CameOnline = !entry.Online
	entry.Online = true
	if now.After(entry.LastSeen) {
		entry.LastSeen = now
	}
	return *entry, change
}

func setIfChanged(dst *string, val string) bool {
	if val == "" || *dst == val {
		return false
	}
	*dst = val
	return true
}

// SetAvatar replaces the avatar of a known peer.
func (d *Directory) SetAvatar(id string, avatar []byte) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	entry, ok := d.peers[id]
	if !ok || len(avatar) == 0 {
		return false
	}
	entry.Avatar = append([]byte(nil), avatar...)
	return true
}

// MarkOffline handles a Bye. Unknown ids are ignored.
func (d *Directory) MarkOffline(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	entry, ok := d.peers[id]
	if !ok || !entry.Online {
		return false
	}
	entry.Online = false
	return true
}

// Sweep marks Offline every Online peer whose last packet is at least the
// timeout old. It never marks a peer Online. It reports whether anything
// changed.
func (d *Directory) Sweep() bool {
	now := d.clock.Now()
	d.mu.Lock()
	defer d.mu.Unlock()
	changed := false
	for _, entry := range d.peers {
		if entry.Online && now.Sub(entry.LastSeen) >= d.timeout {
			entry.Online = false
			changed = true
		}
	}
	return changed
}

// Restore seeds the directory with persisted peers, all Offline. Peers
// already present are left alone.
func (d *Directory) Restore(peers []Peer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, p := range peers {
		if p.ID == "" {
			continue
		}
		if _, ok := d.peers[p.ID]; ok {
			continue
		}
		p := p
		p.Online = false
		d.peers[p.ID] = &p
	}
}

// Get returns a copy of the peer with id.
func (d *Directory) Get(id string) (Peer, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	entry, ok := d.peers[id]
	if !ok {
		return Peer{}, false
	}
	return *entry, true
}

// Resolve finds a peer by id, or by display name or hostname ignoring case.
func (d *Directory) Resolve(token string) (Peer, bool) {
	if p, ok := d.Get(token); ok {
		return p, true
	}
	for _, p := range d.Snapshot() {
		if strings.EqualFold(p.DisplayName, token) || strings.EqualFold(p.Hostname, token) {
			return p, true
		}
	}
	return Peer{}, false
}

// Snapshot lists all peers, online first, then by display name.
func (d *Directory) Snapshot() []Peer {
	d.mu.RLock()
	list := make([]Peer, 0, len(d.peers))
	for _, entry := range d.peers {
		list = append(list, *entry)
	}
	d.mu.RUnlock()
	sort.Slice(list, func(i, j int) bool {
		if list[i].Online != list[j].Online {
			return list[i].Online
		}
		a, b := strings.ToLower(list[i].DisplayName), strings.ToLower(list[j].DisplayName)
		if a != b {
			return a < b
		}
		return list[i].ID < list[j].ID
	})
	return list
}

// Online lists peers currently marked Online.
func (d *Directory) Online() []Peer {
	return lo.Filter(d.Snapshot(), func(p Peer, _ int) bool { return p.Online })
}

// Search matches query case-insensitively against display name, hostname
// and IP address. An empty query returns every peer.
func (d *Directory) Search(query string) []Peer {
	query = strings.ToLower(strings.TrimSpace(query))
	all := d.Snapshot()
	if query == "" {
		return all
	}
	return lo.Filter(all, func(p Peer, _ int) bool {
		return strings.Contains(strings.ToLower(p.DisplayName), query) ||
			strings.Contains(strings.ToLower(p.Hostname), query) ||
			strings.Contains(p.IPAddress, query)
	})
}
