package telegram

import (
	"context"
	"testing"

	"github.com/go-telegram/bot/models"
)

func newTestTelegram(cfg Config) *Telegram {
	return &Telegram{id: "tg", config: cfg, botUsername: "strixbot", botUserID: 99}
}

func textUpdate(chatID int64, chatType models.ChatType, text string, entities ...models.MessageEntity) *models.Update {
	return &models.Update{Message: &models.Message{
		ID:       7,
		Chat:     models.Chat{ID: chatID, Type: chatType},
		From:     &models.User{ID: 5, Username: "ada", FirstName: "Ada"},
		Text:     text,
		Entities: entities,
	}}
}

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig(map[string]interface{}{
		"token":           "123:abc",
		"allowed_chats":   []interface{}{42, "-100"},
		"require_mention": false,
	})
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}
	if cfg.RequireMention {
		t.Error("require_mention should be false")
	}
	if len(cfg.AllowedChats) != 2 || cfg.AllowedChats[1] != -100 {
		t.Errorf("allowed chats = %v", cfg.AllowedChats)
	}

	if _, err := ParseConfig(map[string]interface{}{}); err == nil {
		t.Error("missing token should fail")
	}
	if _, err := ParseConfig(map[string]interface{}{"token": "x", "allowed_chats": []interface{}{"nope"}}); err == nil {
		t.Error("invalid chat id should fail")
	}
}

func TestToChannelMessagePrivate(t *testing.T) {
	c := newTestTelegram(Config{Token: "x", RequireMention: true})
	msg := c.toChannelMessage(textUpdate(42, models.ChatTypePrivate, "hello"))
	if msg == nil {
		t.Fatal("private text message should be accepted")
	}
	if msg.Target() != "tg:42" || msg.ID != "7" || msg.Author != "@ada" || msg.Content != "hello" {
		t.Fatalf("unexpected message: %+v", msg)
	}
}

func TestToChannelMessageGroupMention(t *testing.T) {
	c := newTestTelegram(Config{Token: "x", RequireMention: true})

	if msg := c.toChannelMessage(textUpdate(-100, models.ChatTypeGroup, "just chatting")); msg != nil {
		t.Fatalf("group message without mention should be dropped, got %+v", msg)
	}

	// The emoji takes two UTF-16 units, so the mention starts at offset 3.
	text := "🦉 @StrixBot status?"
	msg := c.toChannelMessage(textUpdate(-100, models.ChatTypeSupergroup, text, models.MessageEntity{
		Type:   models.MessageEntityTypeMention,
		Offset: 3,
		Length: 9,
	}))
	if msg == nil {
		t.Fatal("mentioned group message should be accepted")
	}
	if msg.Content != "🦉  status?" {
		t.Fatalf("mention was not stripped: %q", msg.Content)
	}

	byUser := c.toChannelMessage(textUpdate(-100, models.ChatTypeGroup, "hey you", models.MessageEntity{
		Type: models.MessageEntityTypeTextMention,
		User: &models.User{ID: 99},
	}))
	if byUser == nil {
		t.Fatal("text_mention of the bot should be accepted")
	}
}

func TestStripMentionAfterNonASCII(t *testing.T) {
	c := newTestTelegram(Config{Token: "x", RequireMention: true})

	// Both runes change byte length when lower-cased.
	cases := []struct {
		text   string
		offset int
		want   string
	}{
		{"Ⱥ @strixbot", 2, "Ⱥ"},
		{"İ @StrixBot hi", 2, "İ  hi"},
		{"ÅÅÅ @STRIXBOT", 4, "ÅÅÅ"},
	}
	for _, tc := range cases {
		msg := c.toChannelMessage(textUpdate(-100, models.ChatTypeGroup, tc.text, models.MessageEntity{
			Type:   models.MessageEntityTypeMention,
			Offset: tc.offset,
			Length: 9,
		}))
		if msg == nil {
			t.Fatalf("%q: mentioned group message should be accepted", tc.text)
		}
		if msg.Content != tc.want {
			t.Fatalf("%q: expected %q, got %q", tc.text, tc.want, msg.Content)
		}
	}
}

func TestToChannelMessageFilters(t *testing.T) {
	c := newTestTelegram(Config{Token: "x", AllowedChats: []int64{42}})

	if c.toChannelMessage(textUpdate(43, models.ChatTypePrivate, "hi")) != nil {
		t.Error("chat outside the allow list should be dropped")
	}
	if c.toChannelMessage(textUpdate(42, models.ChatTypePrivate, "   ")) != nil {
		t.Error("blank text should be dropped")
	}

	fromBot := textUpdate(42, models.ChatTypePrivate, "hi")
	fromBot.Message.From.IsBot = true
	if c.toChannelMessage(fromBot) != nil {
		t.Error("messages from bots should be dropped")
	}
	if c.toChannelMessage(&models.Update{}) != nil {
		t.Error("update without message should be dropped")
	}
}

func TestDisplayName(t *testing.T) {
	cases := []struct {
		user models.User
		want string
	}{
		{models.User{ID: 1, Username: "ada"}, "@ada"},
		{models.User{ID: 1, FirstName: "Ada", LastName: "Lovelace"}, "Ada Lovelace"},
		{models.User{ID: 1}, "1"},
	}
	for _, c := range cases {
		if got := displayName(&c.user); got != c.want {
			t.Errorf("displayName(%+v) = %q, want %q", c.user, got, c.want)
		}
	}
}

func TestConvertMarkdownEntities(t *testing.T) {
	text, entities := convertMarkdownEntities("**bold** and `code`")
	if text != "bold and code" {
		t.Fatalf("text = %q", text)
	}
	if len(entities) != 2 {
		t.Fatalf("expected 2 entities, got %+v", entities)
	}
	if entities[0].Type != models.MessageEntityTypeBold || entities[0].Offset != 0 || entities[0].Length != 4 {
		t.Errorf("unexpected bold entity: %+v", entities[0])
	}
	if entities[1].Type != models.MessageEntityTypeCode || entities[1].Offset != 9 {
		t.Errorf("unexpected code entity: %+v", entities[1])
	}
}

func TestSendTypingRejectsBadChatID(t *testing.T) {
	c := newTestTelegram(Config{Token: "x"})
	if err := c.SendTyping(context.Background(), "room"); err == nil {
		t.Fatal("non-numeric chat id should fail before calling telegram")
	}
}
