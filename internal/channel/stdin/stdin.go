// Package stdin runs the agent from a terminal: every line typed becomes a
// chat trigger and everything the agent sends is printed back.
package stdin

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/tgifai/strix/internal/channel"
	"github.com/tgifai/strix/internal/config"
	"github.com/tgifai/strix/internal/eventlog"
	"github.com/tgifai/strix/internal/pkg/logs"
)

var _ channel.Channel = (*Stdin)(nil)

const (
	ChatID = "local"
	Author = "local_user"
)

type Options struct {
	In     io.Reader
	Out    io.Writer
	Events eventlog.Sink
}

type Stdin struct {
	id     string
	config Config
	opts   Options

	handler func(ctx context.Context, msg *channel.Message) error
	mu      sync.RWMutex

	outMu sync.Mutex
	seq   int
}

// NewChannel reads from os.Stdin and writes to os.Stdout unless opts says
// otherwise. Events receives the stdin_mode_* records and may be nil.
func NewChannel(id string, chCfg *config.ChannelConfig, opts Options) (*Stdin, error) {
	if chCfg == nil {
		return nil, errors.New("channel config is nil")
	}
	cfg, err := ParseConfig(chCfg.Config)
	if err != nil {
		return nil, err
	}
	if opts.In == nil {
		opts.In = os.Stdin
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	return &Stdin{id: id, config: *cfg, opts: opts}, nil
}

func (c *Stdin) ID() string { return c.id }

func (c *Stdin) Type() channel.Type { return channel.Stdin }

func (c *Stdin) Stop(context.Context) error { return nil }

func (c *Stdin) RegisterMessageHandler(handler func(ctx context.Context, msg *channel.Message) error) error {
	if handler == nil {
		return errors.New("handler cannot be nil")
	}
	c.mu.Lock()
	c.handler = handler
	c.mu.Unlock()
	return nil
}

// Start reads lines until EOF or until ctx is canceled. Blank lines are
// skipped.
func (c *Stdin) Start(ctx context.Context) error {
	c.record(ctx, eventlog.TypeStdinModeStart)
	c.println("Running in stdin mode. Type a message and press Enter.")

	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(c.opts.In)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	for {
		c.prompt()
		select {
		case <-ctx.Done():
			return nil
		case err := <-scanErr:
			c.record(ctx, eventlog.TypeStdinModeEOF)
			if err != nil {
				return fmt.Errorf("read stdin: %w", err)
			}
			return nil
		case line := <-lines:
			c.dispatch(ctx, line)
		}
	}
}

func (c *Stdin) dispatch(ctx context.Context, line string) {
	content := strings.TrimSpace(line)
	if content == "" {
		return
	}

	c.mu.RLock()
	handler := c.handler
	c.mu.RUnlock()
	if handler == nil {
		logs.CtxWarn(ctx, "[channel:stdin] no handler registered, dropping input")
		return
	}

	msg := &channel.Message{
		ID:          c.nextID(),
		ChannelID:   c.id,
		ChannelType: channel.Stdin,
		UserID:      Author,
		Author:      Author,
		ChatID:      ChatID,
		Content:     content,
	}
	if err := handler(ctx, msg); err != nil {
		logs.CtxError(ctx, "[channel:stdin] handle input error: %v", err)
	}
}

func (c *Stdin) SendMessage(_ context.Context, _ string, content string) (string, error) {
	id := c.nextID()
	c.println("\n" + content)
	return id, nil
}

func (c *Stdin) ReactMessage(_ context.Context, _, messageID, reaction string) error {
	c.println(fmt.Sprintf("[%s on #%s]", reaction, messageID))
	return nil
}

func (c *Stdin) nextID() string {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	c.seq++
	return strconv.Itoa(c.seq)
}

func (c *Stdin) println(s string) {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	fmt.Fprintln(c.opts.Out, s)
}

func (c *Stdin) prompt() {
	if c.config.Prompt == "" {
		return
	}
	c.outMu.Lock()
	defer c.outMu.Unlock()
	fmt.Fprint(c.opts.Out, c.config.Prompt)
}

func (c *Stdin) record(ctx context.Context, typ string) {
	if c.opts.Events == nil {
		return
	}
	rec := eventlog.New(typ).With("channel_id", c.id)
	if err := c.opts.Events.Append(ctx, rec); err != nil {
		logs.CtxError(ctx, "[channel:stdin] append %s error: %v", typ, err)
	}
}
