package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/tbourn/go-dispatch-backend/internal/worker"
)

// terminalNotifier prints notifications and remembers the last one so the
// "open" command can click it.
type terminalNotifier struct {
	mu   sync.Mutex
	out  io.Writer
	last *worker.Notification
}

func (t *terminalNotifier) Notify(_ context.Context, n worker.Notification) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	mark := ""
	if n.Data.Urgent {
		mark = " [URGENT]"
	}
	_, err := fmt.Fprintf(t.out, "\a🔔%s %s: %s (%s)\n", mark, n.Title, n.Body, n.Data.URL)
	cp := n
	t.last = &cp
	return err
}

// lastClick builds a click event for the most recent notification.
func (t *terminalNotifier) lastClick() (worker.ClickEvent, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.last == nil {
		return worker.ClickEvent{}, false
	}
	return worker.ClickEvent{Action: "open", Data: t.last.Data}, true
}

// channelHost hands click targets to the foreground over a channel. When the
// foreground is not reading, the target is reported as opened on the terminal.
type channelHost struct {
	nav chan<- worker.ClientMessage
	out io.Writer
}

func (h *channelHost) FocusAndPost(_ context.Context, msg worker.ClientMessage) (bool, error) {
	select {
	case h.nav <- msg:
		return true, nil
	default:
		return false, nil
	}
}

func (h *channelHost) Open(_ context.Context, url string) error {
	_, err := fmt.Fprintf(h.out, "open %s\n", url)
	return err
}

// command is one parsed stdin line.
type command struct {
	name string
	arg  string
}

// parseCommand splits a stdin line into a lower-cased verb and the rest.
func parseCommand(line string) (command, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return command{}, false
	}
	verb, rest, _ := strings.Cut(line, " ")
	return command{name: strings.ToLower(verb), arg: strings.TrimSpace(rest)}, true
}

const helpText = `commands:
  visible | focus | nav   trigger a subscription rebuild
  visit <guests>          report a guided visit for the watched store
  say <text>              post to the staff chat
  open                    click the last notification
  status                  print connection stats and live topics
  refresh                 refetch the watched store's latest request
  quit
`
