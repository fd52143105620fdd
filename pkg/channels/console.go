package channels

import (
	"context"
	"errors"
	"fmt"
	"html"
	"io"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/chzyer/readline"
	"github.com/google/uuid"

	"github.com/findbot/findbot/pkg/bus"
	"github.com/findbot/findbot/pkg/logger"
)

const ConsoleChatID = "console"

var htmlTagPattern = regexp.MustCompile(`<[^>]+>`)

// ConsoleChannel runs the form in a local terminal. Buttons of the last
// prompt can be picked by number.
type ConsoleChannel struct {
	*BaseChannel
	out io.Writer

	mu       sync.Mutex
	keyboard []string
}

func NewConsoleChannel(messageBus *bus.MessageBus) *ConsoleChannel {
	return &ConsoleChannel{
		BaseChannel: NewBaseChannel("console", messageBus, nil),
	}
}

// Start is a no-op; the console is driven by Run.
func (c *ConsoleChannel) Start(ctx context.Context) error {
	return nil
}

func (c *ConsoleChannel) Stop(ctx context.Context) error {
	c.setRunning(false)
	return nil
}

// Run reads lines until /quit, EOF, Ctrl-C on an empty line or ctx is done.
func (c *ConsoleChannel) Run(ctx context.Context) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "/quit",
	})
	if err != nil {
		return fmt.Errorf("init console: %w", err)
	}
	defer rl.Close()

	c.mu.Lock()
	c.out = rl.Stdout()
	c.mu.Unlock()
	c.setRunning(true)
	defer c.setRunning(false)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			rl.Close()
		case <-done:
		}
	}()

	fmt.Fprintln(rl.Stdout(), "findbot console: /start to begin, /photo <ref> [album] to attach, /quit to exit")

	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if strings.TrimSpace(line) == "" {
				return nil
			}
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read console: %w", err)
		}

		ev, quit, ok := c.parseLine(line)
		if quit {
			return nil
		}
		if !ok {
			continue
		}
		c.HandleMessage(ctx, ev)
	}
}

// parseLine turns a console line into an event. Numbers pick a button of
// the most recent keyboard.
func (c *ConsoleChannel) parseLine(line string) (bus.InboundEvent, bool, bool) {
	ev := bus.InboundEvent{
		ChatID:        ConsoleChatID,
		CorrelationID: uuid.NewString(),
		ReceivedAt:    time.Now(),
	}

	trimmed := strings.TrimSpace(line)
	fields := strings.Fields(trimmed)
	switch {
	case trimmed == "/quit" || trimmed == "/exit":
		return ev, true, false
	case trimmed == "/start":
		ev.IsStart = true
		ev.Text = trimmed
		return ev, false, true
	case len(fields) > 0 && fields[0] == "/photo":
		if len(fields) < 2 {
			c.printf("usage: /photo <ref> [album]\n")
			return ev, false, false
		}
		ev.Photos = []string{fields[1]}
		if len(fields) > 2 {
			ev.AlbumID = fields[2]
		}
		return ev, false, true
	}

	ev.Text = line
	if n, err := strconv.Atoi(trimmed); err == nil {
		c.mu.Lock()
		if n >= 1 && n <= len(c.keyboard) {
			ev.Text = c.keyboard[n-1]
		}
		c.mu.Unlock()
	}
	return ev, false, true
}

func (c *ConsoleChannel) SendText(ctx context.Context, msg bus.OutboundMessage) error {
	content := msg.Content
	if msg.HTML {
		content = stripHTML(content)
	}

	var b strings.Builder
	b.WriteString("bot: ")
	b.WriteString(content)
	b.WriteString("\n")

	c.mu.Lock()
	c.keyboard = nil
	n := 0
	for _, row := range msg.Keyboard {
		b.WriteString("    ")
		for _, label := range row {
			n++
			fmt.Fprintf(&b, "[%d] %s  ", n, label)
			c.keyboard = append(c.keyboard, label)
		}
		b.WriteString("\n")
	}
	c.mu.Unlock()

	return c.write(b.String())
}

func (c *ConsoleChannel) SendMediaGroup(ctx context.Context, group bus.OutboundMediaGroup) error {
	var b strings.Builder
	fmt.Fprintf(&b, "bot: [album of %d]\n", len(group.Items))
	for i, item := range group.Items {
		fmt.Fprintf(&b, "  #%d %s\n", i+1, item.Ref)
		if item.Caption != "" {
			for _, line := range strings.Split(stripHTML(item.Caption), "\n") {
				fmt.Fprintf(&b, "     %s\n", line)
			}
		}
	}
	return c.write(b.String())
}

func (c *ConsoleChannel) printf(format string, args ...any) {
	if err := c.write(fmt.Sprintf(format, args...)); err != nil {
		logger.DebugCF("console", "Console write failed", map[string]interface{}{"error": err.Error()})
	}
}

func (c *ConsoleChannel) write(s string) error {
	c.mu.Lock()
	out := c.out
	c.mu.Unlock()
	if out == nil {
		return fmt.Errorf("console: %w", ErrNotRunning)
	}
	_, err := io.WriteString(out, s)
	return err
}

func stripHTML(s string) string {
	return html.UnescapeString(htmlTagPattern.ReplaceAllString(s, ""))
}
