package identity

import (
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Adapter is the subset of a network interface used to derive the identity
// and the discovery broadcast targets.
type Adapter struct {
	Name         string
	HardwareAddr net.HardwareAddr
	Flags        net.Flags
	// Speed is the link speed in Mbit/s, zero when unknown.
	Speed int64
	Addrs []net.IPNet
}

var tunnelPrefixes = []string{"tun", "tap", "wg", "utun", "ppp", "ipsec", "gif", "stf", "zt", "tailscale"}

// Tunnel reports whether the adapter looks like a virtual tunnel.
func (a Adapter) Tunnel() bool {
	if a.Flags&net.FlagPointToPoint != 0 {
		return true
	}
	name := strings.ToLower(a.Name)
	for _, prefix := range tunnelPrefixes {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

func (a Adapter) usable() bool {
	return a.Flags&net.FlagUp != 0 && a.Flags&net.FlagLoopback == 0 && !a.Tunnel()
}

// Adapters lists the host's interfaces with their addresses and link speed.
// Interfaces whose addresses cannot be read are returned without addresses.
func Adapters() ([]Adapter, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	out := make([]Adapter, 0, len(ifaces))
	for _, ifi := range ifaces {
		a := Adapter{
			Name:         ifi.Name,
			HardwareAddr: ifi.HardwareAddr,
			Flags:        ifi.Flags,
			Speed:        linkSpeed(ifi.Name),
		}
		if addrs, err := ifi.Addrs(); err == nil {
			for _, addr := range addrs {
				if n, ok := addr.(*net.IPNet); ok {
					a.Addrs = append(a.Addrs, *n)
				}
			}
		}
		out = append(out, a)
	}
	return out, nil
}

// SubnetBroadcasts returns the directed broadcast address (ip | ^mask) of
// every IPv4 subnet on a usable adapter.
func SubnetBroadcasts(adapters []Adapter) []net.IP {
	var out []net.IP
	seen := make(map[string]struct{})
	for _, a := range adapters {
		if !a.usable() {
			continue
		}
		for _, n := range a.Addrs {
			ip4 := n.IP.To4()
			if ip4 == nil || len(n.Mask) != net.IPv4len {
				continue
			}
			bcast := make(net.IP, net.IPv4len)
			for i := range ip4 {
				bcast[i] = ip4[i] | ^n.Mask[i]
			}
			key := bcast.String()
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, bcast)
		}
	}
	return out
}

// linkSpeed reads the Linux sysfs speed attribute. Other platforms and
// virtual adapters report zero.
func linkSpeed(name string) int64 {
	data, err := os.ReadFile(filepath.Join("/sys/class/net", name, "speed"))
	if err != nil {
		return 0
	}
	speed, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil || speed < 0 {
		return 0
	}
	return speed
}
