package ui

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"lanchat/internal/message"
)

// TUIDisplay is a full-screen tview front end: peers on the left, the open
// conversation on the right, a status line and an input field below.
// Entered lines and peer selections go through send.
type TUIDisplay struct {
	app          *tview.Application
	conversation *tview.TextView
	peerList     *tview.List
	status       *tview.TextView
	input        *tview.InputField
	send         func(string)
	stopOnce     sync.Once

	mu     sync.Mutex
	open   string
	unread map[string]int
	peers  []Presence
}

func NewTUIDisplay(send func(string)) *TUIDisplay {
	t := &TUIDisplay{
		app:    tview.NewApplication(),
		send:   send,
		unread: make(map[string]int),
	}

	t.conversation = tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true)
	t.conversation.SetBorder(true).SetTitle(" no conversation ")

	t.peerList = tview.NewList().ShowSecondaryText(true)
	t.peerList.SetBorder(true).SetTitle(" peers ")

	t.status = tview.NewTextView().SetDynamicColors(true)
	t.status.SetText("[gray]Tab switches focus, /help lists commands[-]")

	t.input = tview.NewInputField().
		SetLabel("> ").
		SetFieldTextColor(tcell.ColorWhite)
	t.input.SetDoneFunc(func(key tcell.Key) {
		if key != tcell.KeyEnter {
			return
		}
		line := strings.TrimSpace(t.input.GetText())
		t.input.SetText("")
		if line == "" {
			return
		}
		if replaysConversation(line) {
			t.resetConversation()
		}
		go t.send(line)
	})

	body := tview.NewFlex().
		AddItem(t.peerList, 32, 0, false).
		AddItem(t.conversation, 0, 1, false)
	root := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(body, 0, 1, false).
		AddItem(t.status, 1, 0, false).
		AddItem(t.input, 1, 0, true)

	t.app.SetRoot(root, true).EnableMouse(true)
	t.app.SetInputCapture(func(ev *tcell.EventKey) *tcell.EventKey {
		if ev.Key() != tcell.KeyTab {
			return ev
		}
		if t.app.GetFocus() == t.input {
			t.app.SetFocus(t.peerList)
		} else {
			t.app.SetFocus(t.input)
		}
		return nil
	})
	return t
}

// Run blocks until the user leaves the UI or ctx is cancelled.
func (t *TUIDisplay) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		t.stopOnce.Do(t.app.Stop)
	}()
	return t.app.Run()
}

func (t *TUIDisplay) ShowMessage(peerID string, msg message.Message) {
	t.mu.Lock()
	switched := peerID != t.open
	t.open = peerID
	delete(t.unread, peerID)
	peers := t.peers
	t.mu.Unlock()

	line := formatTUILine(msg)
	title := " " + peerTitle(peers, peerID) + " "
	t.app.QueueUpdateDraw(func() {
		if switched {
			t.conversation.Clear()
			t.conversation.SetTitle(title)
		}
		fmt.Fprintln(t.conversation, line)
		t.conversation.ScrollToEnd()
	})
	if switched {
		t.redrawPeers()
	}
}

func (t *TUIDisplay) ShowSystem(text string) {
	line := "[green]" + tview.Escape(text) + "[-]"
	t.app.QueueUpdateDraw(func() {
		t.status.SetText(line)
	})
}

func (t *TUIDisplay) UpdatePeers(peers []Presence) {
	t.mu.Lock()
	t.peers = append(t.peers[:0:0], peers...)
	t.mu.Unlock()
	t.redrawPeers()
}

// ShowNotification bumps the sender's unread counter and flashes the
// status line.
func (t *TUIDisplay) ShowNotification(n Notification) {
	if n.PeerID != "" {
		t.mu.Lock()
		t.unread[n.PeerID]++
		t.mu.Unlock()
		t.redrawPeers()
	}
	line := fmt.Sprintf("[orange]%s[-] %s", strings.ToUpper(n.Level), tview.Escape(n.Text))
	t.app.QueueUpdateDraw(func() {
		t.status.SetText(line)
	})
}

func (t *TUIDisplay) redrawPeers() {
	t.mu.Lock()
	items := make([]peerItem, 0, len(t.peers))
	for _, p := range t.peers {
		items = append(items, peerItem{p: p, unread: t.unread[p.ID], open: p.ID == t.open})
	}
	t.mu.Unlock()

	t.app.QueueUpdateDraw(func() {
		current := t.peerList.GetCurrentItem()
		t.peerList.Clear()
		for _, it := range items {
			id := it.p.ID
			t.peerList.AddItem(it.label(), it.detail(), 0, func() {
				t.resetConversation()
				go t.send("/open " + id)
				t.app.SetFocus(t.input)
			})
		}
		if current < t.peerList.GetItemCount() {
			t.peerList.SetCurrentItem(current)
		}
	})
}

// resetConversation makes the next shown message start a fresh view.
func (t *TUIDisplay) resetConversation() {
	t.mu.Lock()
	t.open = ""
	t.mu.Unlock()
}

func replaysConversation(line string) bool {
	cmd, _, _ := strings.Cut(line, " ")
	switch cmd {
	case "/open", "/close", "/history", "/import":
		return true
	}
	return false
}

type peerItem struct {
	p      Presence
	unread int
	open   bool
}

func (it peerItem) label() string {
	dot := "[red]●[-]"
	if it.p.Online {
		dot = "[green]●[-]"
	}
	name := it.p.Name
	if name == "" {
		name = it.p.Addr
	}
	label := dot + " " + tview.Escape(name)
	if it.open {
		label = "[::b]" + label + "[::-]"
	}
	if it.unread > 0 {
		label += fmt.Sprintf(" [yellow](%d)[-]", it.unread)
	}
	return label
}

func (it peerItem) detail() string {
	if it.p.Online || it.p.LastSeen.IsZero() {
		return it.p.Addr
	}
	return it.p.Addr + " seen " + it.p.LastSeen.Format("15:04")
}

func peerTitle(peers []Presence, id string) string {
	for _, p := range peers {
		if p.ID == id && p.Name != "" {
			return p.Name
		}
	}
	return id
}

func formatTUILine(msg message.Message) string {
	who, colour := tview.Escape(msg.SenderName), "lightgreen"
	if msg.SentByLocal {
		who, colour = "me", "violet"
	}
	line := fmt.Sprintf("[gray]%s[-] [%s]%s[-]: %s", msg.Timestamp.Format("15:04:05"), colour, who, tview.Escape(Describe(msg)))
	if msg.Kind != message.Text {
		line += " [orange]" + msg.ID + "[-]"
	}
	return line
}
