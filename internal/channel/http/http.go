package http

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/google/uuid"

	"github.com/tgifai/strix/internal/channel"
	"github.com/tgifai/strix/internal/config"
	"github.com/tgifai/strix/internal/pkg/logs"
)

var _ channel.Channel = (*HTTP)(nil)
var _ channel.RouteProvider = (*HTTP)(nil)

// inboundRequest is the JSON body expected on the message endpoint.
type inboundRequest struct {
	UserID   string            `json:"user_id"`
	Author   string            `json:"author"`
	ChatID   string            `json:"chat_id"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type acceptedResponse struct {
	ID     string `json:"id"`
	ChatID string `json:"chat_id"`
}

// OutboxMessage is one outbound message waiting to be collected.
type OutboxMessage struct {
	ID        string    `json:"id"`
	ChatID    string    `json:"chat_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// HTTP is a pull-based channel. Clients post messages, which become chat
// triggers, and poll the outbox for whatever the agent sends back.
type HTTP struct {
	id      string
	config  Config
	handler func(ctx context.Context, msg *channel.Message) error
	mu      sync.RWMutex

	outboxMu sync.Mutex
	outbox   map[string][]OutboxMessage

	messagePath string
	outboxPath  string
}

func NewChannel(chanId string, chCfg *config.ChannelConfig) (channel.Channel, error) {
	cfg, err := ParseConfig(chCfg.Config)
	if err != nil {
		return nil, fmt.Errorf("parse http config: %w", err)
	}

	h := &HTTP{
		id:          chanId,
		config:      *cfg,
		outbox:      make(map[string][]OutboxMessage),
		messagePath: fmt.Sprintf("/api/v1/http/%s/message", chanId),
		outboxPath:  fmt.Sprintf("/api/v1/http/%s/messages", chanId),
	}

	return h, nil
}

// Routes implements channel.RouteProvider.
func (h *HTTP) Routes() []channel.Route {
	return []channel.Route{
		{Method: consts.MethodPost, Path: h.messagePath, Handler: h.handleMessage},
		{Method: consts.MethodGet, Path: h.outboxPath, Handler: h.handleOutbox},
	}
}

func (h *HTTP) ID() string         { return h.id }
func (h *HTTP) Type() channel.Type { return channel.HTTP }

func (h *HTTP) Start(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

func (h *HTTP) Stop(_ context.Context) error {
	return nil
}

// SendMessage queues content for chatID until a client collects it.
func (h *HTTP) SendMessage(_ context.Context, chatID string, content string) (string, error) {
	msg := OutboxMessage{
		ID:        uuid.NewString(),
		ChatID:    chatID,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}

	h.outboxMu.Lock()
	defer h.outboxMu.Unlock()
	queue := append(h.outbox[chatID], msg)
	if over := len(queue) - h.config.OutboxSize; over > 0 {
		queue = queue[over:]
	}
	h.outbox[chatID] = queue
	return msg.ID, nil
}

func (h *HTTP) ReactMessage(_ context.Context, _ string, _ string, _ string) error {
	return channel.ErrUnsupportedOperation
}

func (h *HTTP) RegisterMessageHandler(handler func(ctx context.Context, msg *channel.Message) error) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if handler == nil {
		return errors.New("handler cannot be nil")
	}
	h.handler = handler
	return nil
}

// Drain removes and returns the queued messages for chatID.
func (h *HTTP) Drain(chatID string) []OutboxMessage {
	h.outboxMu.Lock()
	defer h.outboxMu.Unlock()
	out := h.outbox[chatID]
	delete(h.outbox, chatID)
	return out
}

func (h *HTTP) authorized(c *app.RequestContext) bool {
	if h.config.APIKey == "" {
		return true
	}
	return string(c.GetHeader("Authorization")) == "Bearer "+h.config.APIKey
}

// handleMessage turns a posted message into a chat trigger and returns
// without waiting for the turn.
func (h *HTTP) handleMessage(ctx context.Context, c *app.RequestContext) {
	if !h.authorized(c) {
		c.JSON(consts.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	var req inboundRequest
	if err := sonic.Unmarshal(c.GetRequest().Body(), &req); err != nil {
		c.JSON(consts.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		c.JSON(consts.StatusBadRequest, map[string]string{"error": "content is required"})
		return
	}

	requestID := uuid.NewString()
	chatID := strings.TrimSpace(req.ChatID)
	if chatID == "" {
		chatID = requestID
	}
	author := req.Author
	if author == "" {
		author = req.UserID
	}

	msg := &channel.Message{
		ID:          requestID,
		ChannelID:   h.id,
		ChannelType: channel.HTTP,
		UserID:      req.UserID,
		Author:      author,
		ChatID:      chatID,
		Content:     req.Content,
		Metadata:    req.Metadata,
	}

	h.mu.RLock()
	handler := h.handler
	h.mu.RUnlock()

	if handler == nil {
		c.JSON(consts.StatusServiceUnavailable, map[string]string{"error": "no handler registered"})
		return
	}
	if err := handler(ctx, msg); err != nil {
		logs.CtxError(ctx, "[channel:http] error enqueuing message: %v", err)
		c.JSON(consts.StatusInternalServerError, map[string]string{"error": "failed to process message"})
		return
	}

	c.JSON(consts.StatusAccepted, acceptedResponse{ID: requestID, ChatID: chatID})
}

func (h *HTTP) handleOutbox(_ context.Context, c *app.RequestContext) {
	if !h.authorized(c) {
		c.JSON(consts.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}
	chatID := strings.TrimSpace(c.Query("chat_id"))
	if chatID == "" {
		c.JSON(consts.StatusBadRequest, map[string]string{"error": "chat_id is required"})
		return
	}

	messages := h.Drain(chatID)
	if messages == nil {
		messages = []OutboxMessage{}
	}
	c.JSON(consts.StatusOK, map[string]any{"messages": messages})
}
