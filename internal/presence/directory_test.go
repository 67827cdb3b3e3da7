package presence

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"lanchat/internal/message"
)

func discover(id, name, ip string) message.Packet {
	return message.Packet{Kind: message.KindDiscover, SenderID: id, SenderName: name, IPv4: ip, TCPPort: 4000}
}

func TestBlockListAddRemove(t *testing.T) {
	bl := NewBlockList()
	bl.Add("peer-a")
	bl.Add("")
	if !bl.Blocks("peer-a") {
		t.Fatalf("expected peer-a to be blocked")
	}
	bl.Add("peer-b")
	bl.Remove("peer-a")
	if bl.Blocks("peer-a") {
		t.Fatalf("expected peer-a to be removed")
	}
	got := bl.List()
	if len(got) != 1 || got[0] != "peer-b" {
		t.Fatalf("unexpected list contents: %+v", got)
	}
}

func TestObserveCreatesAndResolves(t *testing.T) {
	dir := NewDirectory(clock.NewMock(), 0)
	peer, change := dir.Observe(discover("id-1", "Alice", "10.0.0.2"), "10.0.0.99")
	if !change.Created || !change.CameOnline || !peer.Online {
		t.Fatalf("expected new online peer, got %+v %+v", peer, change)
	}
	if peer.IPAddress != "10.0.0.2" {
		t.Fatalf("expected packet ipv4 to win over source, got %s", peer.IPAddress)
	}
	if got, ok := dir.Resolve("alice"); !ok || got.ID != "id-1" {
		t.Fatalf("resolve by name failed: %v %+v", ok, got)
	}
	if _, ok := dir.Resolve("id-1"); !ok {
		t.Fatalf("resolve by id failed")
	}
}

func TestObserveFallsBackToSourceAddress(t *testing.T) {
	dir := NewDirectory(clock.NewMock(), 0)
	peer, _ := dir.Observe(discover("id-1", "Alice", ""), "10.0.0.99")
	if peer.IPAddress != "10.0.0.99" {
		t.Fatalf("expected source address, got %s", peer.IPAddress)
	}
	peer, _ = dir.Observe(discover("id-1", "Alice", "0.0.0.0"), "10.0.0.98")
	if peer.IPAddress != "10.0.0.98" {
		t.Fatalf("expected source address over unset ipv4, got %s", peer.IPAddress)
	}
}

func TestObserveKeepsFieldsWhenPacketOmitsThem(t *testing.T) {
	dir := NewDirectory(clock.NewMock(), 0)
	first := discover("id-1", "Alice", "10.0.0.2")
	first.Hostname = "alice-pc"
	first.SenderAvatar = []byte("img")
	dir.Observe(first, "10.0.0.2")

	peer, change := dir.Observe(message.Packet{Kind: message.KindText, SenderID: "id-1"}, "10.0.0.2")
	if change.Updated || change.Created {
		t.Fatalf("expected no field change, got %+v", change)
	}
	if peer.DisplayName != "Alice" || peer.Hostname != "alice-pc" || peer.TCPPort != 4000 || string(peer.Avatar) != "img" {
		t.Fatalf("fields lost: %+v", peer)
	}

	renamed := discover("id-1", "Alicia", "10.0.0.2")
	if _, change := dir.Observe(renamed, ""); !change.Updated {
		t.Fatalf("expected rename to be reported")
	}
}

func TestSweepMarksOfflineAfterTimeout(t *testing.T) {
	clk := clock.NewMock()
	dir := NewDirectory(clk, 10*time.Second)
	dir.Observe(discover("id-1", "Alice", "10.0.0.2"), "")
	dir.Observe(discover("id-2", "Bob", "10.0.0.3"), "")

	clk.Add(6 * time.Second)
	dir.Observe(discover("id-1", "Alice", "10.0.0.2"), "")
	clk.Add(4 * time.Second)
	if !dir.Sweep() {
		t.Fatalf("expected bob to time out")
	}
	alice, _ := dir.Get("id-1")
	bob, _ := dir.Get("id-2")
	if !alice.Online || bob.Online {
		t.Fatalf("unexpected state alice=%v bob=%v", alice.Online, bob.Online)
	}
	if dir.Sweep() {
		t.Fatalf("second sweep should change nothing")
	}
}

func TestSweepNeverMarksOnline(t *testing.T) {
	clk := clock.NewMock()
	dir := NewDirectory(clk, 10*time.Second)
	dir.Observe(discover("id-1", "Alice", "10.0.0.2"), "")
	if !dir.MarkOffline("id-1") {
		t.Fatalf("expected bye to mark offline")
	}
	dir.Sweep()
	if p, _ := dir.Get("id-1"); p.Online {
		t.Fatalf("sweep brought peer back online")
	}
	if _, change := dir.Observe(discover("id-1", "Alice", "10.0.0.2"), ""); !change.CameOnline {
		t.Fatalf("discover after bye should bring peer online")
	}
}

func TestMarkOfflineUnknownPeer(t *testing.T) {
	dir := NewDirectory(clock.NewMock(), 0)
	if dir.MarkOffline("ghost") {
		t.Fatalf("unknown peer should be ignored")
	}
	if len(dir.Snapshot()) != 0 {
		t.Fatalf("bye must not create peers")
	}
}

func TestLastSeenNeverMovesBackwards(t *testing.T) {
	clk := clock.NewMock()
	clk.Add(time.Hour)
	dir := NewDirectory(clk, 0)
	dir.Observe(discover("id-1", "Alice", "10.0.0.2"), "")
	first, _ := dir.Get("id-1")
	clk.Set(clk.Now().Add(-time.Minute))
	dir.Observe(discover("id-1", "Alice", "10.0.0.2"), "")
	second, _ := dir.Get("id-1")
	if second.LastSeen.Before(first.LastSeen) {
		t.Fatalf("last seen went backwards: %v < %v", second.LastSeen, first.LastSeen)
	}
}

func TestRestoreAddsOfflinePeers(t *testing.T) {
	dir := NewDirectory(clock.NewMock(), 0)
	dir.Observe(discover("id-1", "Alice", "10.0.0.2"), "")
	dir.Restore([]Peer{{ID: "id-1", DisplayName: "Stale"}, {ID: "id-2", DisplayName: "Bob", Online: true}, {}})
	snapshot := dir.Snapshot()
	if len(snapshot) != 2 {
		t.Fatalf("expected two peers, got %d", len(snapshot))
	}
	if snapshot[0].DisplayName != "Alice" || !snapshot[0].Online {
		t.Fatalf("live peer overwritten: %+v", snapshot[0])
	}
	if snapshot[1].Online {
		t.Fatalf("restored peer must be offline")
	}
}

func TestSearchMatchesNameHostAndIP(t *testing.T) {
	dir := NewDirectory(clock.NewMock(), 0)
	a := discover("id-1", "Alice", "10.0.0.2")
	a.Hostname = "studio"
	dir.Observe(a, "")
	dir.Observe(discover("id-2", "Bob", "192.168.5.7"), "")

	if got := dir.Search("ALI"); len(got) != 1 || got[0].ID != "id-1" {
		t.Fatalf("name search failed: %+v", got)
	}
	if got := dir.Search("stud"); len(got) != 1 || got[0].ID != "id-1" {
		t.Fatalf("hostname search failed: %+v", got)
	}
	if got := dir.Search("168.5"); len(got) != 1 || got[0].ID != "id-2" {
		t.Fatalf("ip search failed: %+v", got)
	}
	if got := dir.Search(""); len(got) != 2 {
		t.Fatalf("empty query should list all")
	}
}
