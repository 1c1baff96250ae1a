package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/mattn/go-runewidth"

	"github.com/carelink/wardchat/chat"
)

const (
	nameWidth  = 16
	clearANSI  = "\033[H\033[2J"
	timeLayout = "15:04"
)

// A renderer prints chat views to a terminal.
type renderer struct {
	w        io.Writer
	viewerID string
	// clear wipes the screen before every view. Only set for terminals.
	clear bool
}

func (r *renderer) render(v chat.View) {
	var b strings.Builder
	if r.clear {
		b.WriteString(clearANSI)
	}

	if v.State == chat.Degraded {
		b.WriteString("-- live updates unavailable, showing last fetch (/refresh to retry) --\n")
	}
	for _, m := range v.Messages {
		b.WriteString(r.line(m))
		b.WriteByte('\n')
	}
	if v.Sending {
		b.WriteString("sending...\n")
	}
	if v.Error != "" {
		fmt.Fprintf(&b, "! %s\n", v.Error)
	}
	if v.Draft != "" {
		fmt.Fprintf(&b, "draft: %s (/retry to send)\n", v.Draft)
	}
	b.WriteString("> ")
	io.WriteString(r.w, b.String())
}

func (r *renderer) line(m chat.Message) string {
	stamp := "--:--"
	if m.Stamped() {
		stamp = m.CreatedAt.Local().Format(timeLayout)
	}
	name := m.SenderName
	if name == "" {
		name = m.SenderID
	}
	if m.SenderID == r.viewerID {
		name = "you"
	}
	who := runewidth.FillRight(runewidth.Truncate(fmt.Sprintf("%s (%s)", name, m.SenderRole), nameWidth, "~"), nameWidth)

	var status string
	switch {
	case m.Kind == chat.Pending:
		status = " [pending]"
	case m.SenderID == r.viewerID && len(m.ReadBy) > 0:
		status = fmt.Sprintf(" [read by %d]", len(m.ReadBy))
	}
	return fmt.Sprintf("%s %s %s%s", stamp, who, m.Text, status)
}
