package ui

import (
	"testing"
	"time"

	"github.com/rivo/tview"
	"github.com/stretchr/testify/assert"

	"lanchat/internal/message"
)

func TestPeerItemLabelAndDetail(t *testing.T) {
	seen := time.Date(2024, 5, 1, 8, 5, 0, 0, time.Local)
	online := peerItem{p: Presence{ID: "b", Name: "Bob", Addr: "10.0.0.2", Online: true, LastSeen: seen}}
	assert.Equal(t, "[green]●[-] Bob", online.label())
	assert.Equal(t, "10.0.0.2", online.detail())

	away := peerItem{p: Presence{ID: "c", Addr: "10.0.0.3", LastSeen: seen}, unread: 2, open: true}
	assert.Equal(t, "[::b][red]●[-] 10.0.0.3[::-] [yellow](2)[-]", away.label())
	assert.Equal(t, "10.0.0.3 seen 08:05", away.detail())
}

func TestPeerTitleFallsBackToID(t *testing.T) {
	peers := []Presence{{ID: "b", Name: "Bob"}, {ID: "c"}}
	assert.Equal(t, "Bob", peerTitle(peers, "b"))
	assert.Equal(t, "c", peerTitle(peers, "c"))
	assert.Equal(t, "zz", peerTitle(peers, "zz"))
}

func TestFormatTUILine(t *testing.T) {
	ts := time.Date(2024, 5, 1, 9, 30, 15, 0, time.Local)
	got := formatTUILine(message.Message{ID: "m1", SenderName: "Bob", Kind: message.Text, Content: "hi [red]", Timestamp: ts})
	assert.Equal(t, "[gray]09:30:15[-] [lightgreen]Bob[-]: "+tview.Escape("hi [red]"), got)

	got = formatTUILine(message.Message{ID: "m2", Kind: message.Voice, SentByLocal: true, Timestamp: ts})
	assert.Equal(t, "[gray]09:30:15[-] [violet]me[-]: "+tview.Escape("[voice message]")+" [orange]m2[-]", got)
}

func TestReplaysConversation(t *testing.T) {
	assert.True(t, replaysConversation("/open bob"))
	assert.True(t, replaysConversation("/close"))
	assert.False(t, replaysConversation("/peers"))
	assert.False(t, replaysConversation("hello /open"))
}
