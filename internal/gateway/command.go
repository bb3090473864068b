package gateway

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tgifai/strix/internal/channel"
	"github.com/tgifai/strix/internal/eventlog"
	"github.com/tgifai/strix/internal/metrics"
	"github.com/tgifai/strix/internal/pkg/logs"
)

// CommandHandlerFunc processes a matched command and returns a text reply.
// An empty reply means no response should be sent.
type CommandHandlerFunc func(ctx context.Context, gw *Gateway, msg *channel.Message, args string) (string, error)

// Command describes a single channel-agnostic command.
type Command struct {
	Name        string             // e.g. "/status"
	Description string             // short help text
	Handler     CommandHandlerFunc // execution logic
}

// CommandRouter is a thread-safe registry that matches incoming message text
// against registered command prefixes and dispatches the first match.
type CommandRouter struct {
	commands map[string]*Command // key: lowercase command name
	mu       sync.RWMutex
}

func newCommandRouter() *CommandRouter {
	return &CommandRouter{commands: make(map[string]*Command, 8)}
}

// Register adds a command to the router.
func (r *CommandRouter) Register(cmd *Command) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands[strings.ToLower(cmd.Name)] = cmd
}

// Match checks whether content starts with a known command.
// It returns the matched command, the remaining arguments, and whether a match
// was found. Commands are matched case-insensitively and may include a
// trailing @botname suffix (e.g. "/start@mybot").
func (r *CommandRouter) Match(content string) (*Command, string, bool) {
	content = strings.TrimSpace(content)
	if content == "" || content[0] != '/' {
		return nil, "", false
	}

	fields := strings.SplitN(content, " ", 2)
	raw := strings.ToLower(fields[0])

	// Strip @botname suffix: "/start@mybot" → "/start"
	if idx := strings.Index(raw, "@"); idx > 0 {
		raw = raw[:idx]
	}

	r.mu.RLock()
	cmd, ok := r.commands[raw]
	r.mu.RUnlock()

	if !ok {
		return nil, "", false
	}

	args := ""
	if len(fields) > 1 {
		args = strings.TrimSpace(fields[1])
	}
	return cmd, args, true
}

// List returns all registered commands ordered by name.
func (r *CommandRouter) List() []*Command {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Command, 0, len(r.commands))
	for _, cmd := range r.commands {
		out = append(out, cmd)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// runCommand answers a slash command on the chat it came from. The reply
// is not a turn and bypasses the loop guard.
func (gw *Gateway) runCommand(ctx context.Context, cmd *Command, args string, msg *channel.Message) error {
	target := msg.Target()
	rec := eventlog.New(eventlog.TypeChatCommand).
		With("command", cmd.Name).
		With("channel_id", target).
		With("author", msg.Author).
		With("message_id", msg.ID)
	if err := gw.events.Append(ctx, rec); err != nil {
		gw.metrics.SinkWriteFailed(metrics.SinkEvents)
		return fmt.Errorf("append %s: %w", eventlog.TypeChatCommand, err)
	}

	reply, err := cmd.Handler(ctx, gw, msg, args)
	if err != nil {
		return fmt.Errorf("command %s: %w", cmd.Name, err)
	}
	if reply == "" {
		return nil
	}
	if _, _, err := gw.router.SendMessage(ctx, target, reply); err != nil {
		return fmt.Errorf("reply to %s: %w", cmd.Name, err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Built-in commands
// ---------------------------------------------------------------------------

func registerBuiltinCommands(r *CommandRouter) {
	r.Register(&Command{
		Name:        "/help",
		Description: "Show available commands",
		Handler:     cmdHelp,
	})
	r.Register(&Command{
		Name:        "/status",
		Description: "Show queue and session status",
		Handler:     cmdStatus,
	})
	r.Register(&Command{
		Name:        "/jobs",
		Description: "List scheduled jobs and their next run",
		Handler:     cmdJobs,
	})
}

func cmdHelp(_ context.Context, gw *Gateway, _ *channel.Message, _ string) (string, error) {
	var b strings.Builder
	b.WriteString("Available commands:\n")
	for _, cmd := range gw.commands.List() {
		fmt.Fprintf(&b, "  %s - %s\n", cmd.Name, cmd.Description)
	}
	return b.String(), nil
}

func cmdStatus(ctx context.Context, gw *Gateway, msg *channel.Message, _ string) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Channel: %s (%s)\n", msg.ChannelID, msg.ChannelType)
	fmt.Fprintf(&b, "Queued triggers: %d\n", gw.serializer.Len())
	if id := gw.serializer.ActiveSessionID(); id != "" {
		fmt.Fprintf(&b, "Active session: %s\n", id)
	} else {
		b.WriteString("Active session: idle\n")
	}
	if gw.scheduler != nil {
		fmt.Fprintf(&b, "Scheduled jobs: %d\n", len(gw.scheduler.List()))
	}

	logs.CtxDebug(ctx, "[cmd:status] %s", b.String())
	return b.String(), nil
}

func cmdJobs(_ context.Context, gw *Gateway, _ *channel.Message, _ string) (string, error) {
	if gw.scheduler == nil {
		return "Scheduler is disabled.", nil
	}
	jobs := gw.scheduler.List()
	if len(jobs) == 0 {
		return "No scheduled jobs.", nil
	}

	var b strings.Builder
	for _, j := range jobs {
		fmt.Fprintf(&b, "%s (%s), next %s\n", j.Name, j.Timing(), j.Next.UTC().Format(time.RFC3339))
	}
	return b.String(), nil
}
