package chat

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"

	"lanchat/internal/message"
	"lanchat/internal/presence"
)

const helpText = "commands: /peers [query] /open <peer> /close /history /image <path> /file <path> /voice <path> /save <msg-id> <path> /export <path> /import <path> /nick <name> /avatar <path> /whoami /stats /block <peer> /unblock <peer> /blocked /quit"

// ReadCLIInput feeds each line of reader to ProcessLine until EOF.
func (s *Service) ReadCLIInput(reader io.Reader) {
	buf := bufio.NewReader(reader)
	for {
		line, err := buf.ReadString('\n')
		if line != "" {
			s.ProcessLine(line)
		}
		if err != nil {
			if err != io.EOF {
				s.log.Warn("stdin", zap.Error(err))
			}
			return
		}
	}
}

// ProcessLine runs a slash command, or sends line as text to the active
// conversation.
func (s *Service) ProcessLine(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	if strings.HasPrefix(line, "/") {
		s.handleCommand(line)
		return
	}
	peerID, ok := s.requireActive()
	if !ok {
		return
	}
	s.sendAndReport(s.SendMessage(peerID, message.Text, []byte(line), ""))
}

func (s *Service) handleCommand(line string) {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return
	}
	arg := strings.TrimSpace(strings.TrimPrefix(line, parts[0]))
	switch parts[0] {
	case "/peers":
		peers := s.PeerList(arg)
		if len(peers) == 0 {
			s.sink.ShowSystem("no peers")
			return
		}
		for _, p := range peers {
			status := "offline"
			if p.Online {
				status = "online"
			}
			s.sink.ShowSystem(fmt.Sprintf("%s  %s  %s  (%s)", p.Name, p.Addr, status, p.ID))
		}
	case "/open":
		if arg == "" {
			s.sink.ShowSystem("usage: /open <name|id>")
			return
		}
		peer, ok := s.directory.Resolve(arg)
		if !ok {
			s.sink.ShowSystem(fmt.Sprintf("unknown peer %s", arg))
			return
		}
		_ = s.SetActive(peer.ID)
		s.sink.ShowSystem(fmt.Sprintf("chatting with %s", peer.DisplayName))
		s.showConversation(peer.ID)
	case "/close":
		_ = s.SetActive("")
		s.sink.ShowSystem("conversation closed")
	case "/history":
		if peerID, ok := s.requireActive(); ok {
			s.showConversation(peerID)
		}
	case "/image", "/file", "/voice":
		if arg == "" {
			s.sink.ShowSystem(fmt.Sprintf("usage: %s <path>", parts[0]))
			return
		}
		peerID, ok := s.requireActive()
		if !ok {
			return
		}
		kind := map[string]message.Kind{"/image": message.Image, "/file": message.File, "/voice": message.Voice}[parts[0]]
		msg, done, err := s.SendFile(peerID, kind, arg)
		if err != nil {
			s.sink.ShowSystem(fmt.Sprintf("send failed: %v", err))
			return
		}
		s.sendAndReport(msg, done, nil)
	case "/save":
		if len(parts) < 3 {
			s.sink.ShowSystem("usage: /save <msg-id> <path>")
			return
		}
		peerID, ok := s.requireActive()
		if !ok {
			return
		}
		path, err := s.SaveAttachment(peerID, parts[1], parts[2])
		if err != nil {
			s.sink.ShowSystem(fmt.Sprintf("save failed: %v", err))
			return
		}
		s.sink.ShowSystem(fmt.Sprintf("saved to %s", path))
	case "/export":
		if arg == "" {
			s.sink.ShowSystem("usage: /export <path.zip>")
			return
		}
		if err := s.exportToFile(arg); err != nil {
			s.sink.ShowSystem(fmt.Sprintf("export failed: %v", err))
			return
		}
		s.sink.ShowSystem(fmt.Sprintf("history exported to %s", arg))
	case "/import":
		if arg == "" {
			s.sink.ShowSystem("usage: /import <path.zip>")
			return
		}
		data, err := os.ReadFile(arg)
		if err != nil {
			s.sink.ShowSystem(fmt.Sprintf("import failed: %v", err))
			return
		}
		n, err := s.Import(bytes.NewReader(data), int64(len(data)))
		if err != nil {
			s.sink.ShowSystem(fmt.Sprintf("import failed: %v", err))
			return
		}
		s.sink.ShowSystem(fmt.Sprintf("imported %d conversations", n))
		if peerID := s.Active(); peerID != "" {
			s.showConversation(peerID)
		}
	case "/nick":
		if err := s.SetName(arg); err != nil {
			s.sink.ShowSystem(fmt.Sprintf("nick failed: %v", err))
			return
		}
		s.sink.ShowSystem(fmt.Sprintf("nickname set to %s", arg))
	case "/avatar":
		data, err := os.ReadFile(arg)
		if err == nil {
			err = s.SetAvatar(data)
		}
		if err != nil {
			s.sink.ShowSystem(fmt.Sprintf("avatar failed: %v", err))
			return
		}
		s.sink.ShowSystem("avatar updated")
	case "/whoami":
		self := s.Self()
		s.sink.ShowSystem(fmt.Sprintf("%s id=%s host=%s ipv4=%s mac=%s port=%d", self.Name, self.ID, self.Hostname, self.IPv4, self.MAC, self.TCPPort))
	case "/stats":
		s.sink.ShowSystem(s.metrics.Snapshot().String())
	case "/block", "/unblock":
		peer, ok := s.resolveArg(parts[0], arg)
		if !ok {
			return
		}
		if parts[0] == "/block" {
			s.blocklist.Add(peer.ID)
			s.sink.ShowSystem(fmt.Sprintf("blocked %s", peer.DisplayName))
			return
		}
		s.blocklist.Remove(peer.ID)
		s.sink.ShowSystem(fmt.Sprintf("unblocked %s", peer.DisplayName))
	case "/blocked":
		s.sink.ShowSystem(fmt.Sprintf("blocked: %v", s.blocklist.List()))
	case "/quit":
		s.sink.ShowSystem("bye")
		if s.quit != nil {
			s.quit()
		}
	default:
		s.sink.ShowSystem(helpText)
	}
}

func (s *Service) resolveArg(cmd, arg string) (presence.Peer, bool) {
	if arg == "" {
		s.sink.ShowSystem(fmt.Sprintf("usage: %s <name|id>", cmd))
		return presence.Peer{}, false
	}
	peer, ok := s.directory.Resolve(arg)
	if !ok {
		s.sink.ShowSystem(fmt.Sprintf("unknown peer %s", arg))
	}
	return peer, ok
}

func (s *Service) requireActive() (string, bool) {
	peerID := s.Active()
	if peerID == "" {
		s.sink.ShowSystem("no conversation open, use /open <peer>")
		return "", false
	}
	return peerID, true
}

func (s *Service) showConversation(peerID string) {
	for _, msg := range s.Conversation(peerID) {
		s.sink.ShowMessage(peerID, msg)
	}
}

// sendAndReport surfaces send errors and, asynchronously, failed deliveries.
func (s *Service) sendAndReport(msg message.Message, done <-chan bool, err error) {
	if err != nil {
		s.sink.ShowSystem(fmt.Sprintf("send failed: %v", err))
		return
	}
	go func() {
		if ok := <-done; !ok {
			s.sink.ShowSystem(fmt.Sprintf("message %s was not delivered", msg.ID))
		}
	}()
}

func (s *Service) exportToFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := s.Export(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
