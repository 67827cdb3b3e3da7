package ui

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gookit/color"
	"github.com/olekukonko/tablewriter"

	"lanchat/internal/message"
)

var (
	styleTime  = color.New(color.FgCyan)
	styleName  = color.New(color.FgYellow)
	styleSelf  = color.New(color.FgMagenta)
	styleSys   = color.New(color.FgGreen)
	styleAlert = color.New(color.FgLightWhite, color.BgBlue)
)

// CLIDisplay renders chat events to a terminal.
type CLIDisplay struct {
	out    io.Writer
	color  bool
	mu     sync.Mutex
	online string
}

func NewCLIDisplay(color bool) *CLIDisplay {
	return NewCLIDisplayTo(os.Stdout, color)
}

// NewCLIDisplayTo writes to out instead of stdout.
func NewCLIDisplayTo(out io.Writer, color bool) *CLIDisplay {
	return &CLIDisplay{out: out, color: color}
}

func (c *CLIDisplay) paint(style color.Style, text string) string {
	if !c.color {
		return text
	}
	return style.Render(text)
}

func (c *CLIDisplay) ShowMessage(_ string, msg message.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.out, c.formatLine(msg))
}

func (c *CLIDisplay) ShowSystem(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ts := time.Now().Format("15:04:05")
	fmt.Fprintf(c.out, "%s %s: %s\n", c.paint(styleTime, "["+ts+"]"), c.paint(styleSys, "SYSTEM"), text)
}

// UpdatePeers prints a peer table whenever the set of online peers changes.
func (c *CLIDisplay) UpdatePeers(peers []Presence) {
	c.mu.Lock()
	defer c.mu.Unlock()
	online := make([]string, 0, len(peers))
	for _, p := range peers {
		if p.Online {
			online = append(online, p.ID)
		}
	}
	sort.Strings(online)
	key := strings.Join(online, ",")
	if key == c.online {
		return
	}
	c.online = key
	fmt.Fprintln(c.out, c.paint(styleSys, fmt.Sprintf("[peers] %d online", len(online))))
	RenderPeerTable(c.out, peers)
}

func (c *CLIDisplay) ShowNotification(n Notification) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ts := n.Timestamp.Format("15:04:05")
	prefix := "NOTIFY"
	if n.Level != "" {
		prefix = strings.ToUpper(n.Level)
	}
	fmt.Fprintf(c.out, "%s %s %s\n", c.paint(styleTime, "["+ts+"]"), c.paint(styleAlert, prefix), n.Text)
}

func (c *CLIDisplay) formatLine(msg message.Message) string {
	ts := c.paint(styleTime, "["+msg.Timestamp.Format("15:04:05")+"]")
	name := msg.SenderName
	style := styleName
	if msg.SentByLocal {
		name = "me"
		style = styleSelf
	}
	line := fmt.Sprintf("%s %s: %s", ts, c.paint(style, name), Describe(msg))
	if msg.Kind != message.Text {
		line += " (" + msg.ID + ")"
	}
	return line
}

// RenderPeerTable writes peers as an aligned table.
func RenderPeerTable(w io.Writer, peers []Presence) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Name", "Address", "Status", "Last seen", "ID"})
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetTablePadding("  ")
	for _, p := range peers {
		status := "offline"
		if p.Online {
			status = "online"
		}
		seen := "-"
		if !p.LastSeen.IsZero() {
			seen = p.LastSeen.Format("15:04:05")
		}
		table.Append([]string{p.Name, p.Addr, status, seen, p.ID})
	}
	table.Render()
}

// ShouldUseColor determines if ANSI coloring should be enabled for CLI output.
func ShouldUseColor(disable bool) bool {
	if disable {
		return false
	}
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return false
	}
	return color.SupportColor()
}
