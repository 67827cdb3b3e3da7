// Package identity derives the stable node identity announced on the LAN.
package identity

import (
	"crypto/md5"
	"net"
	"os"
	"sort"
	"strings"

	"github.com/google/uuid"
)

const (
	// NoMAC is reported when no suitable adapter exposes a hardware address.
	NoMAC = "00:00:00:00:00:00"
	// NoIPv4 is reported when no usable IPv4 address exists.
	NoIPv4 = "0.0.0.0"
)

// NodeIdentity is computed once at startup and passed to every component
// that needs it.
type NodeIdentity struct {
	ID       string
	MAC      string
	Hostname string
	IPv4     string
	IPv6     string
}

// Resolve inspects the host's adapters and builds the node identity.
// It never fails; missing data falls back to the sentinel values.
func Resolve() NodeIdentity {
	adapters, _ := Adapters()
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "localhost"
	}
	return FromAdapters(adapters, host)
}

// FromAdapters builds the identity from an explicit adapter list.
func FromAdapters(adapters []Adapter, hostname string) NodeIdentity {
	mac := PrimaryMAC(adapters)
	return NodeIdentity{
		ID:       DeriveID(mac, hostname),
		MAC:      mac,
		Hostname: hostname,
		IPv4:     firstIPv4(adapters),
		IPv6:     firstIPv6(adapters),
	}
}

// DeriveID hashes "mac|hostname" with MD5 and renders the 128-bit digest
// as a UUID string, so the same machine keeps the same id across restarts.
func DeriveID(mac, hostname string) string {
	sum := md5.Sum([]byte(mac + "|" + hostname))
	id, err := uuid.FromBytes(sum[:])
	if err != nil {
		return uuid.Nil.String()
	}
	return id.String()
}

// PrimaryMAC returns the hardware address of the fastest usable adapter,
// formatted as colon-separated uppercase hex pairs.
func PrimaryMAC(adapters []Adapter) string {
	candidates := make([]Adapter, 0, len(adapters))
	for _, a := range adapters {
		if a.usable() && len(a.HardwareAddr) > 0 {
			candidates = append(candidates, a)
		}
	}
	if len(candidates) == 0 {
		return NoMAC
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Speed > candidates[j].Speed
	})
	return FormatMAC(candidates[0].HardwareAddr)
}

// FormatMAC renders hw as "AA:BB:CC:DD:EE:FF".
func FormatMAC(hw net.HardwareAddr) string {
	if len(hw) == 0 {
		return NoMAC
	}
	return strings.ToUpper(hw.String())
}

func firstIPv4(adapters []Adapter) string {
	for _, a := range adapters {
		if !a.usable() {
			continue
		}
		for _, n := range a.Addrs {
			if ip4 := n.IP.To4(); ip4 != nil && !ip4.IsLoopback() {
				return ip4.String()
			}
		}
	}
	return NoIPv4
}

func firstIPv6(adapters []Adapter) string {
	for _, a := range adapters {
		if !a.usable() {
			continue
		}
		for _, n := range a.Addrs {
			if n.IP.To4() != nil || n.IP.To16() == nil {
				continue
			}
			if n.IP.IsLinkLocalUnicast() || n.IP.IsLoopback() {
				continue
			}
			return n.IP.String()
		}
	}
	return ""
}
