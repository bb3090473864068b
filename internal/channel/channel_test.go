package channel

import (
	"context"
	"errors"
	"sync"
	"testing"
)

type fakeChannel struct {
	id string

	mu     sync.Mutex
	sent   []string
	reacts []string
	err    error
	react  error
}

func (f *fakeChannel) ID() string                  { return f.id }
func (f *fakeChannel) Type() Type                  { return Telegram }
func (f *fakeChannel) Start(context.Context) error { return nil }
func (f *fakeChannel) Stop(context.Context) error  { return nil }
func (f *fakeChannel) RegisterMessageHandler(func(context.Context, *Message) error) error {
	return nil
}

func (f *fakeChannel) SendMessage(_ context.Context, chatID, content string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.sent = append(f.sent, chatID+"|"+content)
	return "m1", nil
}

func (f *fakeChannel) ReactMessage(_ context.Context, chatID, messageID, reaction string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.react != nil {
		return f.react
	}
	f.reacts = append(f.reacts, chatID+"|"+messageID+"|"+reaction)
	return nil
}

func TestSplitTarget(t *testing.T) {
	cases := []struct {
		in            string
		channel, chat string
		ok            bool
	}{
		{"tg:12345", "tg", "12345", true},
		{"tg:-100:7", "tg", "-100:7", true},
		{"C1", "", "C1", false},
		{":x", "", ":x", false},
		{"tg:", "", "tg:", false},
	}
	for _, c := range cases {
		ch, chat, ok := SplitTarget(c.in)
		if ch != c.channel || chat != c.chat || ok != c.ok {
			t.Errorf("SplitTarget(%q) = %q, %q, %v", c.in, ch, chat, ok)
		}
	}
	if got := JoinTarget("tg", "42"); got != "tg:42" {
		t.Errorf("JoinTarget = %q", got)
	}
	if got := JoinTarget("", "42"); got != "42" {
		t.Errorf("JoinTarget without channel = %q", got)
	}
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(&fakeChannel{id: "b"}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	_ = reg.Register(&fakeChannel{id: "a"})
	if err := reg.Register(&fakeChannel{id: "a"}); err == nil {
		t.Fatal("duplicate Register should fail")
	}
	if reg.Len() != 2 {
		t.Fatalf("Len = %d", reg.Len())
	}
	list := reg.List()
	if list[0].ID() != "a" || list[1].ID() != "b" {
		t.Fatalf("List order = %s, %s", list[0].ID(), list[1].ID())
	}
	if _, err := reg.Get("zzz"); !errors.Is(err, ErrChannelNotFound) {
		t.Fatalf("Get missing = %v", err)
	}
	reg.Unregister("a")
	if reg.Len() != 1 {
		t.Fatalf("Len after Unregister = %d", reg.Len())
	}
}

func TestRouter_RoutesQualifiedTargets(t *testing.T) {
	reg := NewRegistry()
	tg := &fakeChannel{id: "tg"}
	_ = reg.Register(tg)
	r := NewRouter(reg)

	id, sent, err := r.SendMessage(context.Background(), "tg:99", "hi")
	if err != nil || !sent || id != "m1" {
		t.Fatalf("SendMessage = %q, %v, %v", id, sent, err)
	}
	if len(tg.sent) != 1 || tg.sent[0] != "99|hi" {
		t.Fatalf("channel saw %v", tg.sent)
	}

	if err := r.React(context.Background(), "tg:99", "m1", ReactionFailed); err != nil {
		t.Fatalf("React: %v", err)
	}
	if len(tg.reacts) != 1 || tg.reacts[0] != "99|m1|"+ReactionFailed {
		t.Fatalf("reacts = %v", tg.reacts)
	}
}

func TestRouter_FallbackReportsNotSent(t *testing.T) {
	r := NewRouter(NewRegistry())
	_, sent, err := r.SendMessage(context.Background(), "C1", "hello")
	if err != nil || sent {
		t.Fatalf("fallback SendMessage = %v, %v", sent, err)
	}
	_, sent, _ = r.SendMessage(context.Background(), "unknown:1", "hello")
	if sent {
		t.Fatal("unknown channel should fall back")
	}
}

func TestRouter_ErrorsAndUnsupportedReactions(t *testing.T) {
	reg := NewRegistry()
	boom := errors.New("boom")
	_ = reg.Register(&fakeChannel{id: "tg", err: boom, react: ErrUnsupportedOperation})
	r := NewRouter(reg)

	if _, _, err := r.SendMessage(context.Background(), "tg:1", "x"); !errors.Is(err, boom) {
		t.Fatalf("SendMessage err = %v", err)
	}
	if err := r.React(context.Background(), "tg:1", "5", ReactionWarning); err != nil {
		t.Fatalf("unsupported reaction should be ignored, got %v", err)
	}
	if err := r.React(context.Background(), "tg:1", "", ReactionWarning); err != nil {
		t.Fatalf("empty message id should be a no-op, got %v", err)
	}
}

type typingChannel struct {
	fakeChannel
	chats []string
}

func (c *typingChannel) SendTyping(_ context.Context, chatID string) error {
	c.chats = append(c.chats, chatID)
	return nil
}

func TestRouter_Typing(t *testing.T) {
	reg := NewRegistry()
	tg := &typingChannel{fakeChannel: fakeChannel{id: "tg"}}
	_ = reg.Register(tg)
	_ = reg.Register(&fakeChannel{id: "web"})
	r := NewRouter(reg)

	for _, target := range []string{"tg:42", "web:room", "unknown:1", "C1"} {
		if err := r.Typing(context.Background(), target); err != nil {
			t.Fatalf("Typing(%q) = %v", target, err)
		}
	}
	if len(tg.chats) != 1 || tg.chats[0] != "42" {
		t.Fatalf("typing chats = %v", tg.chats)
	}
}
