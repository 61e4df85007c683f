package main

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/muesli/termenv"

	"github.com/zhouzirui/hubchat/internal/service/chat"
)

// palette is replaced in main by what the terminal supports.
var palette = termenv.ANSI

func faint(s string) string {
	return palette.String(s).Faint().String()
}

// printer renders store events of the active session as they stream in.
type printer struct {
	mu     sync.Mutex
	out    io.Writer
	active func() string

	msgID    string
	content  string
	thinking string
}

func newPrinter(out io.Writer, active func() string) *printer {
	return &printer{out: out, active: active}
}

func (p *printer) handle(ev chat.Event) {
	if ev.SessionID != p.active() {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	switch ev.Kind {
	case chat.EventMessage:
		if ev.Message != nil {
			p.update(ev.Message.ID, ev.Message.Thinking(), ev.Message.Content)
		}
	case chat.EventComplete:
		if ev.Message != nil {
			p.update(ev.Message.ID, ev.Message.Thinking(), ev.Message.Content)
			for _, r := range ev.Message.SearchResults {
				fmt.Fprintf(p.out, "\n%s", faint(fmt.Sprintf("  [%s] %s %s", r.Type, r.Title, r.Link)))
			}
			if ev.Message.SearchSummary != "" {
				fmt.Fprintf(p.out, "\n%s", faint("  "+ev.Message.SearchSummary))
			}
		}
		p.finish()
	case chat.EventError:
		if ev.Message != nil && ev.Message.ID == p.msgID {
			p.finish()
		}
		fmt.Fprintf(p.out, "! %s\n", ev.Text)
	case chat.EventState:
		fmt.Fprintln(p.out, faint("["+ev.State.String()+"]"))
	}
}

// update prints what grew since the last event of the same message.
func (p *printer) update(id, thinking, content string) {
	if id != p.msgID {
		p.msgID, p.thinking, p.content = id, "", ""
	}

	if thinking != p.thinking {
		delta := thinking
		if strings.HasPrefix(thinking, p.thinking) {
			delta = thinking[len(p.thinking):]
		} else if p.thinking != "" {
			fmt.Fprintln(p.out)
		}
		fmt.Fprint(p.out, faint(delta))
		p.thinking = thinking
	}

	if content != p.content {
		delta := content
		if strings.HasPrefix(content, p.content) {
			delta = content[len(p.content):]
		} else if p.content != "" {
			// placeholder replaced by the final text
			fmt.Fprintln(p.out)
		}
		if p.content == "" && p.thinking != "" {
			fmt.Fprintln(p.out)
		}
		fmt.Fprint(p.out, delta)
		p.content = content
	}
}

func (p *printer) finish() {
	if p.msgID != "" {
		fmt.Fprintln(p.out)
	}
	p.msgID, p.thinking, p.content = "", "", ""
}
