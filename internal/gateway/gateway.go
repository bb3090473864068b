package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	hzServer "github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/hlog"
	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/tgifai/strix/internal/channel"
	httpch "github.com/tgifai/strix/internal/channel/http"
	"github.com/tgifai/strix/internal/channel/stdin"
	"github.com/tgifai/strix/internal/channel/telegram"
	"github.com/tgifai/strix/internal/config"
	"github.com/tgifai/strix/internal/consts"
	"github.com/tgifai/strix/internal/eventlog"
	"github.com/tgifai/strix/internal/executor"
	"github.com/tgifai/strix/internal/journal"
	"github.com/tgifai/strix/internal/loopguard"
	"github.com/tgifai/strix/internal/metrics"
	"github.com/tgifai/strix/internal/pkg/jsonl"
	"github.com/tgifai/strix/internal/pkg/logs"
	"github.com/tgifai/strix/internal/pkg/prometheus"
	"github.com/tgifai/strix/internal/schedule"
	"github.com/tgifai/strix/internal/turn"
)

// Gateway owns the runtime: sinks, channels, the turn serializer, the
// scheduler and the HTTP server.
type Gateway struct {
	cfg  *config.Config
	home string

	events   eventlog.Sink
	journal  journal.Sink
	closers  []io.Closer
	registry *prom.Registry
	metrics  metrics.Sink

	channels   *channel.Registry
	router     *channel.Router
	commands   *CommandRouter
	serializer *turn.Serializer
	scheduler  *schedule.Scheduler
	httpServer *hzServer.Hertz

	runCtx    context.Context
	runCancel context.CancelFunc

	stopOnce sync.Once
	stopErr  error
}

// NewGateway builds every component from cfg. Relative paths resolve
// against home. Nothing runs until Start.
func NewGateway(ctx context.Context, cfg *config.Config, home string) (*Gateway, error) {
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}

	gw := &Gateway{
		cfg:      cfg,
		home:     home,
		channels: channel.NewRegistry(),
		commands: newCommandRouter(),
	}
	gw.router = channel.NewRouter(gw.channels)
	registerBuiltinCommands(gw.commands)

	if err := gw.initSinks(cfg.Audit); err != nil {
		return nil, fmt.Errorf("init sinks: %w", err)
	}
	gw.initMetrics(cfg.Metrics)

	if err := gw.initChannels(ctx, cfg.Channels); err != nil {
		gw.closeSinks()
		return nil, fmt.Errorf("init channels: %w", err)
	}
	if err := gw.initRuntime(ctx); err != nil {
		gw.closeSinks()
		return nil, fmt.Errorf("init runtime: %w", err)
	}
	gw.initHTTPServer(cfg.Gateway)

	return gw, nil
}

func (gw *Gateway) Start(ctx context.Context) error {
	gw.runCtx, gw.runCancel = context.WithCancel(ctx)

	started := eventlog.New(eventlog.TypeAppStarted).
		With("pid", os.Getpid()).
		With("bind", gw.cfg.Gateway.Bind).
		With("executor", gw.cfg.Executor.Type).
		With("channels", gw.channels.Len()).
		With("scheduler_enabled", gw.scheduler != nil)
	if err := gw.events.Append(gw.runCtx, started); err != nil {
		return fmt.Errorf("append %s: %w", eventlog.TypeAppStarted, err)
	}

	if err := gw.serializer.Start(gw.runCtx); err != nil {
		return fmt.Errorf("start serializer: %w", err)
	}
	if gw.scheduler != nil {
		if err := gw.scheduler.Start(gw.runCtx); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
	}
	gw.startChannels(gw.runCtx)

	if gw.httpServer != nil {
		go gw.httpServer.Spin()
	}

	logs.CtxInfo(ctx, "[gateway] listening on %s", gw.cfg.Gateway.Bind)
	return nil
}

// Stop shuts components down in reverse start order. The running turn, if
// any, is canceled and queued triggers are dropped.
func (gw *Gateway) Stop(ctx context.Context) error {
	gw.stopOnce.Do(func() {
		gw.appendLifecycle(ctx, eventlog.TypeAppShutdownStart)

		if gw.httpServer != nil {
			if err := gw.httpServer.Shutdown(ctx); err != nil {
				logs.CtxWarn(ctx, "[gateway] shutdown http server error: %v", err)
			}
		}

		for _, ch := range gw.channels.List() {
			if err := ch.Stop(ctx); err != nil {
				logs.CtxWarn(ctx, "[gateway] stop channel %s error: %v", ch.ID(), err)
			}
		}

		if gw.scheduler != nil {
			gw.scheduler.Stop(ctx)
		}
		if gw.serializer != nil {
			if err := gw.serializer.Stop(ctx); err != nil {
				gw.stopErr = fmt.Errorf("stop serializer: %w", err)
			}
		}
		if gw.runCancel != nil {
			gw.runCancel()
		}

		gw.appendLifecycle(ctx, eventlog.TypeAppShutdownComplete)
		gw.closeSinks()
		logs.CtxInfo(ctx, "[gateway] all resources stopped")
	})
	return gw.stopErr
}

func (gw *Gateway) appendLifecycle(ctx context.Context, typ string) {
	if gw.events == nil {
		return
	}
	if err := gw.events.Append(ctx, eventlog.New(typ)); err != nil {
		gw.metrics.SinkWriteFailed(metrics.SinkEvents)
		logs.CtxError(ctx, "[gateway] append %s error: %v", typ, err)
	}
}

func (gw *Gateway) initSinks(cfg config.AuditConfig) error {
	events, err := eventlog.OpenFile(jsonl.Options{
		Path:       consts.ResolvePath(gw.home, cfg.EventsFile),
		MaxSizeMB:  cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		Compress:   cfg.Compress,
	})
	if err != nil {
		return err
	}

	journalSink, err := journal.OpenFile(jsonl.Options{
		Path:       consts.ResolvePath(gw.home, cfg.JournalFile),
		MaxSizeMB:  cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		Compress:   cfg.Compress,
	})
	if err != nil {
		_ = events.Close()
		return err
	}

	gw.events, gw.journal = events, journalSink
	gw.closers = append(gw.closers, events, journalSink)
	logs.Info("[gateway] event log: %s, journal: %s", events.Path(), journalSink.Path())
	return nil
}

func (gw *Gateway) closeSinks() {
	for _, c := range gw.closers {
		if err := c.Close(); err != nil {
			logs.Warn("[gateway] close sink error: %v", err)
		}
	}
	gw.closers = nil
}

func (gw *Gateway) initMetrics(cfg config.MetricsConfig) {
	if !cfg.IsEnabled() {
		gw.metrics = metrics.NewNoopSink()
		return
	}
	gw.registry = prometheus.GetRegistry()
	gw.metrics = metrics.NewPrometheusSink(gw.registry)
}

func (gw *Gateway) initChannels(ctx context.Context, channels map[string]config.ChannelConfig) error {
	for id, cfg := range channels {
		cfg.ID = id
		if !cfg.Enabled {
			logs.CtxInfo(ctx, "[gateway] channel #%s is disabled, skipping", id)
			continue
		}

		ch, err := newChannel(id, cfg, gw.events)
		if err != nil {
			logs.CtxError(ctx, "[gateway] create channel #%s error: %v", id, err)
			return fmt.Errorf("create channel %s: %w", id, err)
		}

		if err = ch.RegisterMessageHandler(gw.onMessage); err != nil {
			return fmt.Errorf("register handler for channel %s: %w", id, err)
		}

		if err = gw.channels.Register(ch); err != nil {
			return fmt.Errorf("register channel %s: %w", id, err)
		}
		logs.CtxInfo(ctx, "[gateway] register channel #%s (%s) success", id, ch.Type())
	}
	return nil
}

func newChannel(id string, cfg config.ChannelConfig, events eventlog.Sink) (channel.Channel, error) {
	switch channel.Type(strings.ToLower(strings.TrimSpace(cfg.Type))) {
	case channel.Telegram:
		return telegram.NewChannel(id, &cfg)
	case channel.HTTP:
		return httpch.NewChannel(id, &cfg)
	case channel.Stdin:
		return stdin.NewChannel(id, &cfg, stdin.Options{Events: events})
	default:
		return nil, fmt.Errorf("unsupported channel type: %s", cfg.Type)
	}
}

func (gw *Gateway) startChannels(ctx context.Context) {
	for _, ch := range gw.channels.List() {
		go func(ch channel.Channel) {
			logs.CtxInfo(ctx, "[gateway] starting channel #%s (%s)", ch.ID(), ch.Type())
			if err := ch.Start(ctx); err != nil {
				logs.CtxError(ctx, "[gateway] channel #%s stopped with error: %v", ch.ID(), err)
			}
		}(ch)
	}
}

func (gw *Gateway) initRuntime(ctx context.Context) error {
	exec, err := executor.New(gw.cfg.Executor, controlURL(gw.cfg.Gateway.Bind))
	if err != nil {
		return err
	}

	lg := gw.cfg.LoopGuard
	gw.serializer, err = turn.NewSerializer(turn.Options{
		Executor:  exec,
		Events:    gw.events,
		Journal:   gw.journal,
		Messenger: gw.router,
		Metrics:   gw.metrics,
		LoopGuard: loopguard.Config{
			SoftLimit: lg.SoftLimit,
			HardLimit: lg.HardLimit,
			Threshold: lg.SimilarityThreshold,
		},
	})
	if err != nil {
		return fmt.Errorf("create serializer: %w", err)
	}

	sc := gw.cfg.Scheduler
	if !sc.IsEnabled() {
		logs.CtxInfo(ctx, "[gateway] scheduler is disabled")
		return nil
	}
	gw.scheduler, err = schedule.NewScheduler(schedule.Options{
		Store:        schedule.NewStore(consts.ResolvePath(gw.home, sc.File)),
		Events:       gw.events,
		Enqueuer:     gw.serializer,
		Metrics:      gw.metrics,
		TickInterval: sc.Tick(),
		Watch:        sc.IsWatched(),
	})
	if err != nil {
		return fmt.Errorf("create scheduler: %w", err)
	}
	return nil
}

func (gw *Gateway) initHTTPServer(cfg config.GatewayConfig) {
	timeout := time.Duration(cfg.RequestTimeout) * time.Second

	hlog.SetLogger(logs.NewHlogLogger(logs.DefaultLogger()))
	gw.httpServer = hzServer.Default(
		hzServer.WithHostPorts(cfg.Bind),
		hzServer.WithReadTimeout(timeout),
		hzServer.WithWriteTimeout(timeout),
		hzServer.WithExitWaitTime(5*time.Second),
	)
	gw.registerRoutes(gw.httpServer.Engine)
}

// onMessage records an inbound chat message and queues it as a trigger.
// Slash commands are answered directly and never become turns.
func (gw *Gateway) onMessage(ctx context.Context, msg *channel.Message) error {
	if msg == nil {
		return fmt.Errorf("message cannot be nil")
	}
	target := msg.Target()

	if cmd, args, ok := gw.commands.Match(msg.Content); ok {
		return gw.runCommand(ctx, cmd, args, msg)
	}

	rec := eventlog.New(eventlog.TypeChatMessage).
		With("channel_id", target).
		With("author", msg.Author).
		With("message_id", msg.ID).
		With("content_preview", turn.Preview(msg.Content))
	if err := gw.events.Append(ctx, rec); err != nil {
		gw.metrics.SinkWriteFailed(metrics.SinkEvents)
		return fmt.Errorf("append %s: %w", eventlog.TypeChatMessage, err)
	}

	logs.CtxDebug(ctx, "[msg] -> (%s) %s: %s", target, msg.Author, msg.Content)

	trig := turn.NewChatTrigger(target, msg.Content)
	trig.MessageID = msg.ID
	trig.Author = msg.Author
	gw.serializer.Enqueue(ctx, trig)
	return nil
}

// controlURL is the base URL an out-of-process agent uses to reach the
// control API.
func controlURL(bind string) string {
	host, port, err := net.SplitHostPort(bind)
	if err != nil {
		return "http://" + bind
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}
