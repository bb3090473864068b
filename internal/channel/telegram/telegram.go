package telegram

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/tgifai/strix/internal/channel"
	"github.com/tgifai/strix/internal/config"
	"github.com/tgifai/strix/internal/pkg/logs"
)

var (
	_ channel.Channel         = (*Telegram)(nil)
	_ channel.TypingIndicator = (*Telegram)(nil)
)

type Telegram struct {
	id          string
	config      Config
	bot         *bot.Bot
	botUsername string // lowercase bot username for mention matching
	botUserID   int64  // bot user ID for text_mention matching
	handler     func(ctx context.Context, msg *channel.Message) error
	mu          sync.RWMutex
}

func NewChannel(chanId string, chCfg *config.ChannelConfig) (channel.Channel, error) {
	cfg, err := ParseConfig(chCfg.Config)
	if err != nil {
		return nil, fmt.Errorf("parse telegram config: %w", err)
	}

	tg := &Telegram{
		id:     chanId,
		config: *cfg,
	}

	tgBot, err := bot.New(cfg.Token, bot.WithDefaultHandler(tg.handleUpdate))
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	tg.bot = tgBot

	// Fetch bot identity for mention matching in group chats.
	me, err := tgBot.GetMe(context.Background())
	if err != nil {
		logs.Warn("[channel:telegram] GetMe failed, group mention filtering disabled: %v", err)
	} else {
		tg.botUsername = strings.ToLower(me.Username)
		tg.botUserID = me.ID
		logs.Info("[channel:telegram] bot identity: @%s (id=%d)", me.Username, me.ID)
	}

	return tg, nil
}

func (c *Telegram) ID() string {
	return c.id
}

func (c *Telegram) Type() channel.Type {
	return channel.Telegram
}

// Start long-polls for updates until ctx is canceled.
func (c *Telegram) Start(ctx context.Context) error {
	c.bot.Start(ctx)
	return nil
}

func (c *Telegram) Stop(ctx context.Context) error {
	if c.bot != nil {
		c.bot.Close(ctx)
	}
	return nil
}

// SendMessage renders markdown into Telegram entities and falls back to
// plain text when Telegram rejects them.
func (c *Telegram) SendMessage(ctx context.Context, chatID string, content string) (string, error) {
	chatIDInt, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return "", fmt.Errorf("invalid chat ID: %w", err)
	}

	entityText, entities := convertMarkdownEntities(content)
	if entityText == "" {
		entityText = content
	}

	sent, err := c.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:   chatIDInt,
		Text:     entityText,
		Entities: entities,
	})
	if err != nil {
		logs.CtxWarn(ctx, "[channel:telegram] entity send failed, falling back to plain text: %v", err)
		sent, err = c.bot.SendMessage(ctx, &bot.SendMessageParams{
			ChatID: chatIDInt,
			Text:   content,
		})
	}
	if err != nil {
		return "", err
	}
	if sent == nil {
		return "", nil
	}
	return strconv.Itoa(sent.ID), nil
}

func (c *Telegram) SendTyping(ctx context.Context, chatID string) error {
	chatIDInt, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat ID: %w", err)
	}

	ok, err := c.bot.SendChatAction(ctx, &bot.SendChatActionParams{
		ChatID: chatIDInt,
		Action: models.ChatActionTyping,
	})
	if err != nil {
		return fmt.Errorf("failed to send chat action: %w", err)
	}
	if !ok {
		return errors.New("telegram send chat action failed")
	}
	return nil
}

func (c *Telegram) ReactMessage(ctx context.Context, chatID string, messageID string, reaction string) error {
	chatIDInt, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat ID: %w", err)
	}

	messageIDInt, err := strconv.Atoi(messageID)
	if err != nil {
		return fmt.Errorf("invalid message ID: %w", err)
	}

	params := &bot.SetMessageReactionParams{
		ChatID:    chatIDInt,
		MessageID: messageIDInt,
		Reaction:  []models.ReactionType{},
	}
	if reaction != "" {
		params.Reaction = []models.ReactionType{
			{
				Type: models.ReactionTypeTypeEmoji,
				ReactionTypeEmoji: &models.ReactionTypeEmoji{
					Emoji: reaction,
				},
			},
		}
	}

	ok, err := c.bot.SetMessageReaction(ctx, params)
	if err != nil {
		return fmt.Errorf("failed to set message reaction: %w", err)
	}
	if !ok {
		return errors.New("telegram set message reaction failed")
	}

	return nil
}

func (c *Telegram) RegisterMessageHandler(handler func(ctx context.Context, msg *channel.Message) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if handler == nil {
		return errors.New("handler cannot be nil")
	}

	c.handler = handler
	return nil
}

// handleUpdate is the default handler for all incoming Telegram updates.
func (c *Telegram) handleUpdate(ctx context.Context, _ *bot.Bot, update *models.Update) {
	channelMsg := c.toChannelMessage(update)
	if channelMsg == nil {
		return
	}

	c.mu.RLock()
	handler := c.handler
	c.mu.RUnlock()

	if handler == nil {
		return
	}
	if err := handler(ctx, channelMsg); err != nil {
		logs.CtxError(ctx, "[channel:telegram] error handling message: %v", err)
	}
}

// toChannelMessage normalizes a text update. It returns nil for updates the
// agent should not see: non-text, disallowed chats, bots, and group
// messages without a mention.
func (c *Telegram) toChannelMessage(update *models.Update) *channel.Message {
	if update == nil || update.Message == nil || update.Message.From == nil {
		return nil
	}
	msg := update.Message
	if msg.From.IsBot {
		return nil
	}
	if !c.config.chatAllowed(msg.Chat.ID) {
		logs.Debug("[channel:telegram] drop message from chat %d: not allowed", msg.Chat.ID)
		return nil
	}

	content := msg.Text
	if content == "" {
		content = msg.Caption
	}

	if isGroupChat(msg.Chat.Type) && c.botUsername != "" {
		mentioned := c.isBotMentioned(msg.Text, msg.Entities) ||
			c.isBotMentioned(msg.Caption, msg.CaptionEntities)
		if c.config.RequireMention && !mentioned {
			return nil
		}
		content = c.stripBotMention(content)
	}

	if strings.TrimSpace(content) == "" {
		return nil
	}

	messageID := strconv.Itoa(msg.ID)
	metadata := map[string]string{
		"chat_type": string(msg.Chat.Type),
		"username":  msg.From.Username,
	}
	if msg.ForwardOrigin != nil {
		metadata["forwarded"] = "true"
	}

	return &channel.Message{
		ID:          messageID,
		ChannelID:   c.id,
		ChannelType: channel.Telegram,
		UserID:      strconv.FormatInt(msg.From.ID, 10),
		Author:      displayName(msg.From),
		ChatID:      strconv.FormatInt(msg.Chat.ID, 10),
		Content:     content,
		Metadata:    metadata,
	}
}

func displayName(u *models.User) string {
	if u.Username != "" {
		return "@" + u.Username
	}
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		return strconv.FormatInt(u.ID, 10)
	}
	return name
}

// isGroupChat returns true for group and supergroup chat types.
func isGroupChat(chatType models.ChatType) bool {
	return chatType == models.ChatTypeGroup || chatType == models.ChatTypeSupergroup
}

// isBotMentioned checks whether entities contain a mention of this bot.
// Entity offsets count UTF-16 code units.
func (c *Telegram) isBotMentioned(text string, entities []models.MessageEntity) bool {
	for _, e := range entities {
		switch e.Type {
		case models.MessageEntityTypeMention:
			mentioned := strings.ToLower(utf16Slice(text, e.Offset, e.Length))
			if mentioned == "@"+c.botUsername {
				return true
			}
		case models.MessageEntityTypeTextMention:
			if e.User != nil && e.User.ID == c.botUserID {
				return true
			}
		}
	}
	return false
}

// stripBotMention removes @botUsername from content and trims whitespace.
// Matching runs on the original text so case folding never shifts offsets.
func (c *Telegram) stripBotMention(content string) string {
	re, err := regexp.Compile(`(?i)` + regexp.QuoteMeta("@"+c.botUsername))
	if err != nil {
		return strings.TrimSpace(content)
	}
	return strings.TrimSpace(re.ReplaceAllString(content, ""))
}
