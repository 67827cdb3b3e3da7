package network

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"lanchat/internal/message"
)

func startServer(t *testing.T, opts ServerOptions) *Server {
	t.Helper()
	opts.Logger = zaptest.NewLogger(t)
	srv := NewServer("127.0.0.1:0", opts)
	require.NoError(t, srv.Start())
	t.Cleanup(srv.Stop)
	return srv
}

func textPacket(id, content string) message.Packet {
	return message.Packet{
		Kind:       message.KindText,
		MessageID:  id,
		SenderID:   "sender",
		SenderName: "alice",
		IPv4:       "127.0.0.1",
		Content:    content,
		Timestamp:  time.Now(),
	}
}

func receive(t *testing.T, srv *Server) Inbound {
	t.Helper()
	select {
	case in, ok := <-srv.Incoming():
		require.True(t, ok, "incoming closed")
		return in
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for packet")
	}
	return Inbound{}
}

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, []byte("hello")))
	require.NoError(t, WriteFrame(&buf, nil))
	require.Equal(t, []byte{5, 0, 0, 0}, buf.Bytes()[:4])

	got, err := ReadFrame(&buf, 0)
	require.NoError(t, err)
	require.Equal(t, "hello", string(got))
	got, err = ReadFrame(&buf, 0)
	require.NoError(t, err)
	require.Empty(t, got)
	_, err = ReadFrame(&buf, 0)
	require.ErrorIs(t, err, io.EOF)
}

func TestReadFrameLimits(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, make([]byte, 32)))
	_, err := ReadFrame(&buf, 16)
	require.True(t, errors.Is(err, ErrFrameTooLarge))

	short := bytes.NewReader([]byte{10, 0, 0, 0, 'a', 'b'})
	_, err = ReadFrame(short, 0)
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestClientSendDeliversPacket(t *testing.T) {
	srv := startServer(t, ServerOptions{})
	require.NotZero(t, srv.Port())

	client := NewClient(time.Second)
	want := textPacket("m1", "hi there")
	require.NoError(t, client.Send(context.Background(), "127.0.0.1", srv.Port(), want))

	in := receive(t, srv)
	require.Equal(t, "127.0.0.1", in.Remote)
	require.Equal(t, "m1", in.Packet.MessageID)
	require.Equal(t, "hi there", in.Packet.Content)
}

func TestServerReadsManyFramesInOrderAndSkipsMalformed(t *testing.T) {
	srv := startServer(t, ServerOptions{})
	conn, err := net.Dial("tcp", DialAddr("127.0.0.1", srv.Port()))
	require.NoError(t, err)
	defer conn.Close()

	for i, content := range []string{"one", "two"} {
		data, err := message.Encode(textPacket(string(rune('a'+i)), content))
		require.NoError(t, err)
		require.NoError(t, WriteFrame(conn, data))
	}
	require.NoError(t, WriteFrame(conn, []byte("{broken")))
	data, err := message.Encode(textPacket("c", "three"))
	require.NoError(t, err)
	require.NoError(t, WriteFrame(conn, data))

	for _, want := range []string{"one", "two", "three"} {
		require.Equal(t, want, receive(t, srv).Packet.Content)
	}
}

func TestServerClosesOversizedFrame(t *testing.T) {
	srv := startServer(t, ServerOptions{MaxFrame: 8})
	conn, err := net.Dial("tcp", DialAddr("127.0.0.1", srv.Port()))
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, WriteFrame(conn, make([]byte, 64)))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err = conn.Read(make([]byte, 1))
	require.Error(t, err)
}

func TestClientSendToClosedPortFails(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	err = NewClient(500*time.Millisecond).Send(context.Background(), "127.0.0.1", port, textPacket("x", "lost"))
	require.Error(t, err)
}

func TestClientSendRejectsUnknownKind(t *testing.T) {
	err := NewClient(time.Second).Send(context.Background(), "127.0.0.1", 1, message.Packet{Kind: "PING"})
	require.ErrorIs(t, err, message.ErrUnknownKind)
}

func TestServerStopClosesIncoming(t *testing.T) {
	srv := NewServer("127.0.0.1:0", ServerOptions{Logger: zaptest.NewLogger(t)})
	require.NoError(t, srv.Start())
	conn, err := net.Dial("tcp", DialAddr("127.0.0.1", srv.Port()))
	require.NoError(t, err)
	defer conn.Close()

	srv.Stop()
	select {
	case _, ok := <-srv.Incoming():
		require.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("incoming not closed")
	}
}
