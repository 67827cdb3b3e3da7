package chat

import (
	"context"
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"lanchat/internal/identity"
	"lanchat/internal/message"
	"lanchat/internal/network"
	"lanchat/internal/presence"
	"lanchat/internal/storage"
)

func TestSendMessageEchoesLocally(t *testing.T) {
	env := newTestService(t)
	env.runService(t)
	env.svc.handlePacket(announce("bob"), "10.0.0.2")
	require.NoError(t, env.svc.SetActive("bob"))

	msg, done, err := env.svc.SendMessage("bob", message.Text, []byte("hello"), "")
	require.NoError(t, err)
	assert.True(t, msg.SentByLocal)
	assert.Equal(t, testSelf.ID, msg.SenderID)
	assert.Equal(t, "Alice", msg.SenderName)

	select {
	case ok := <-done:
		assert.True(t, ok)
	case <-time.After(3 * time.Second):
		t.Fatal("no delivery result")
	}

	log := env.svc.Conversation("bob")
	require.Len(t, log, 1)
	assert.Equal(t, msg.ID, log[0].ID)
	assert.Equal(t, 1, env.sink.messageCount())

	sent := env.sender.packets()
	require.Len(t, sent, 1)
	assert.Equal(t, "10.0.0.2", sent[0].ip)
	assert.Equal(t, 6000, sent[0].port)
	assert.Equal(t, message.KindText, sent[0].packet.Kind)
	assert.Equal(t, msg.ID, sent[0].packet.MessageID)
	assert.Equal(t, "hello", sent[0].packet.Content)
	assert.Equal(t, testSelf.IPv4, sent[0].packet.IPv4)
	assert.Equal(t, 5000, sent[0].packet.TCPPort)
}

func TestSendMessageFailureKeepsEcho(t *testing.T) {
	env := newTestService(t)
	env.runService(t)
	env.svc.handlePacket(announce("bob"), "10.0.0.2")
	env.sender.fail["10.0.0.2"] = true

	msg, done, err := env.svc.SendMessage("bob", message.Text, []byte("anyone?"), "")
	require.NoError(t, err)
	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(3 * time.Second):
		t.Fatal("no delivery result")
	}
	log := env.svc.Conversation("bob")
	require.Len(t, log, 1)
	assert.Equal(t, msg.ID, log[0].ID)
	assert.Equal(t, 1, env.svc.Metrics().Snapshot().SendFailed)
}

func TestSendMessageRejectsUnknownPeerAndEmptyPayload(t *testing.T) {
	env := newTestService(t)
	_, _, err := env.svc.SendMessage("ghost", message.Text, []byte("hi"), "")
	assert.ErrorIs(t, err, ErrUnknownPeer)

	env.svc.handlePacket(announce("bob"), "10.0.0.2")
	_, _, err = env.svc.SendMessage("bob", message.Text, nil, "")
	assert.ErrorIs(t, err, ErrEmptyPayload)
	assert.Empty(t, env.svc.Conversation("bob"))
}

func TestSendMessageEncodesBinaryKinds(t *testing.T) {
	env := newTestService(t)
	env.runService(t)
	env.svc.handlePacket(announce("bob"), "10.0.0.2")

	_, done, err := env.svc.SendMessage("bob", message.Voice, []byte{0xde, 0xad}, "")
	require.NoError(t, err)
	<-done
	img, done, err := env.svc.SendMessage("bob", message.Image, []byte{0x89, 'P', 'N', 'G'}, "a.png")
	require.NoError(t, err)
	<-done

	sent := env.sender.packets()
	require.Len(t, sent, 2)
	assert.Equal(t, message.KindVoice, sent[0].packet.Kind)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte{0xde, 0xad}), sent[0].packet.Content)
	assert.Equal(t, message.KindImage, sent[1].packet.Kind)
	assert.Equal(t, "a.png", sent[1].packet.FileName)
	assert.Equal(t, base64.StdEncoding.EncodeToString(img.Payload), sent[1].packet.Content)
}

func TestSaveAttachment(t *testing.T) {
	env := newTestService(t)
	env.svc.handlePacket(announce("bob"), "10.0.0.2")
	p := chatPacket("bob", "f1", base64.StdEncoding.EncodeToString([]byte("report")))
	p.Kind = message.KindFile
	p.FileName = "../notes.txt"
	env.svc.handlePacket(p, "10.0.0.2")

	out := t.TempDir()
	path, err := env.svc.SaveAttachment("bob", "f1", out)
	require.NoError(t, err)
	assert.Equal(t, out, filepath.Dir(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "report", string(data))

	_, err = env.svc.SaveAttachment("bob", "missing", out)
	assert.Error(t, err)
}

func TestSaveAttachmentWithoutNameUsesDetectedExtension(t *testing.T) {
	env := newTestService(t)
	env.svc.handlePacket(announce("bob"), "10.0.0.2")
	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")
	p := chatPacket("bob", "img1", base64.StdEncoding.EncodeToString(png))
	p.Kind = message.KindImage
	env.svc.handlePacket(p, "10.0.0.2")

	out := t.TempDir()
	path, err := env.svc.SaveAttachment("bob", "img1", out)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(out, "img1.png"), path)
}

func TestSetAvatarPushesToOnlinePeers(t *testing.T) {
	env := newTestService(t)
	env.runService(t)
	env.svc.handlePacket(announce("bob"), "10.0.0.2")

	require.NoError(t, env.svc.SetAvatar([]byte{9, 9}))
	waitFor(t, func() bool { return len(env.sender.packets()) == 1 })
	pkt := env.sender.packets()[0].packet
	assert.Equal(t, message.KindAvatar, pkt.Kind)
	assert.Equal(t, []byte{9, 9}, pkt.SenderAvatar)
	assert.Equal(t, []byte{9, 9}, env.svc.Announcement(message.KindDiscover).SenderAvatar)
}

func TestSetNameChangesAnnouncement(t *testing.T) {
	env := newTestService(t)
	assert.ErrorIs(t, env.svc.SetName(""), ErrEmptyName)
	require.NoError(t, env.svc.SetName("Alicia"))
	p := env.svc.Announcement(message.KindDiscover)
	assert.Equal(t, "Alicia", p.SenderName)
	assert.Equal(t, testSelf.ID, p.SenderID)
	assert.Equal(t, testSelf.MAC, p.MACAddress)
}

func TestSendMessageOverStreamTransport(t *testing.T) {
	log := zaptest.NewLogger(t)
	server := network.NewServer("127.0.0.1:0", network.ServerOptions{Logger: log})
	require.NoError(t, server.Start())
	defer server.Stop()

	bobSink := &recordingSink{}
	bobHistory, err := storage.OpenHistoryStore(t.TempDir(), log)
	require.NoError(t, err)
	bob := New(Options{
		Self:    identity.NodeIdentity{ID: "bob", Hostname: "bob-host", IPv4: "127.0.0.1"},
		Name:    "Bob",
		TCPPort: server.Port(),
		History: bobHistory,
		Sink:    bobSink,
		Logger:  log,
	})

	aliceHistory, err := storage.OpenHistoryStore(t.TempDir(), log)
	require.NoError(t, err)
	alice := New(Options{
		Self:      identity.NodeIdentity{ID: "alice", Hostname: "alice-host", IPv4: "127.0.0.1"},
		Name:      "Alice",
		TCPPort:   1,
		History:   aliceHistory,
		Directory: presence.NewDirectory(nil, presence.DefaultTimeout),
		Sender:    network.NewClient(2 * time.Second),
		Sink:      &recordingSink{},
		Logger:    log,
	})
	alice.Directory().Observe(bob.Announcement(message.KindDiscover), "127.0.0.1")

	done := make(chan struct{}, 2)
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		<-done
		<-done
	}()
	go func() { _ = bob.Run(ctx, nil, server.Incoming()); done <- struct{}{} }()
	go func() { _ = alice.Run(ctx, nil, nil); done <- struct{}{} }()

	msg, result, err := alice.SendMessage("bob", message.Text, []byte("over tcp"), "")
	require.NoError(t, err)
	require.True(t, <-result)

	waitFor(t, func() bool { return len(bob.Conversation("alice")) == 1 })
	got := bob.Conversation("alice")[0]
	assert.Equal(t, msg.ID, got.ID)
	assert.Equal(t, "over tcp", got.Content)
	assert.Equal(t, "Alice", got.SenderName)
	assert.False(t, got.SentByLocal)

	peer, ok := bob.Directory().Get("alice")
	require.True(t, ok)
	assert.True(t, peer.Online)
	assert.Len(t, bobSink.notificationCopy(), 1)
}
