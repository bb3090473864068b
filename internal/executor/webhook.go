package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/cloudwego/hertz/pkg/app/client"
	"github.com/cloudwego/hertz/pkg/protocol"
	"github.com/cloudwego/hertz/pkg/protocol/consts"

	"github.com/tgifai/strix/internal/journal"
	"github.com/tgifai/strix/internal/pkg/logs"
	"github.com/tgifai/strix/internal/turn"
)

const maxErrorBody = 512

var _ turn.Executor = (*Webhook)(nil)

type WebhookOptions struct {
	URL     string
	Headers map[string]string
	// Timeout bounds one request. Zero waits until the turn ends.
	Timeout time.Duration
	// ControlURL is the gateway base URL the agent calls back into, e.g.
	// http://127.0.0.1:8080.
	ControlURL string
}

// Webhook hands each turn to an external agent over HTTP. The agent acts
// through the session control API while the request is open; the request
// returning ends the turn.
type Webhook struct {
	opts   WebhookOptions
	client *client.Client
}

type webhookRequest struct {
	SessionID  string `json:"session_id"`
	Source     string `json:"source"`
	ChannelID  string `json:"channel_id,omitempty"`
	JobName    string `json:"job_name,omitempty"`
	MessageID  string `json:"message_id,omitempty"`
	Author     string `json:"author,omitempty"`
	Payload    string `json:"payload"`
	EnqueuedAt string `json:"enqueued_at"`
	ControlURL string `json:"control_url,omitempty"`
}

// webhookResponse lets simple agents answer inline instead of calling back.
type webhookResponse struct {
	Error   string         `json:"error,omitempty"`
	Reply   string         `json:"reply,omitempty"`
	Journal *journal.Entry `json:"journal,omitempty"`
}

type webhookResult struct {
	status int
	body   []byte
	err    error
}

func NewWebhook(opts WebhookOptions) (*Webhook, error) {
	opts.URL = strings.TrimSpace(opts.URL)
	if opts.URL == "" {
		return nil, errors.New("webhook url is required")
	}
	opts.ControlURL = strings.TrimRight(strings.TrimSpace(opts.ControlURL), "/")

	c, err := client.NewClient(client.WithDialTimeout(10 * time.Second))
	if err != nil {
		return nil, fmt.Errorf("create hertz client: %w", err)
	}
	return &Webhook{opts: opts, client: c}, nil
}

func (w *Webhook) Execute(ctx context.Context, t *turn.Turn) error {
	trig := t.Trigger()
	payload := webhookRequest{
		SessionID:  t.SessionID(),
		Source:     string(trig.Source),
		ChannelID:  trig.ChannelID,
		JobName:    trig.JobName,
		MessageID:  trig.MessageID,
		Author:     trig.Author,
		Payload:    trig.Payload,
		EnqueuedAt: trig.EnqueuedAt.UTC().Format(time.RFC3339Nano),
	}
	if w.opts.ControlURL != "" {
		payload.ControlURL = w.opts.ControlURL + "/api/v1/sessions/" + t.SessionID()
	}

	body, err := sonic.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal webhook request: %w", err)
	}

	// The hertz client does not watch ctx, so the call runs aside and a
	// hard stop or shutdown abandons it.
	done := make(chan webhookResult, 1)
	go func() { done <- w.do(ctx, body) }()

	var res webhookResult
	select {
	case <-ctx.Done():
		return context.Cause(ctx)
	case res = <-done:
	}
	if res.err != nil {
		return fmt.Errorf("call agent webhook: %w", res.err)
	}

	var out webhookResponse
	if len(res.body) > 0 {
		if err := sonic.Unmarshal(res.body, &out); err != nil && res.status/100 == 2 {
			logs.CtxWarn(ctx, "[executor:webhook] ignore non-JSON response body: %v", err)
		}
	}
	if res.status/100 != 2 {
		msg := out.Error
		if msg == "" {
			msg = truncate(string(res.body), maxErrorBody)
		}
		return fmt.Errorf("agent webhook returned %d: %s", res.status, msg)
	}
	if out.Error != "" {
		return fmt.Errorf("agent webhook failed: %s", out.Error)
	}

	if reply := strings.TrimSpace(out.Reply); reply != "" {
		if _, err := t.SendMessage(ctx, "", reply); err != nil {
			return err
		}
	}
	if out.Journal != nil {
		if err := t.AppendJournal(ctx, *out.Journal); err != nil && !errors.Is(err, turn.ErrJournalAlreadyWritten) {
			return err
		}
	}
	return nil
}

func (w *Webhook) do(ctx context.Context, body []byte) webhookResult {
	req := protocol.AcquireRequest()
	resp := protocol.AcquireResponse()
	defer protocol.ReleaseRequest(req)
	defer protocol.ReleaseResponse(resp)

	req.SetMethod(consts.MethodPost)
	req.SetRequestURI(w.opts.URL)
	req.Header.SetContentTypeBytes([]byte("application/json"))
	for k, v := range w.opts.Headers {
		req.Header.Set(k, v)
	}
	req.SetBody(body)

	var err error
	if w.opts.Timeout > 0 {
		err = w.client.DoTimeout(ctx, req, resp, w.opts.Timeout)
	} else {
		err = w.client.Do(ctx, req, resp)
	}
	if err != nil {
		return webhookResult{err: err}
	}
	return webhookResult{
		status: resp.StatusCode(),
		body:   append([]byte(nil), resp.Body()...),
	}
}

func truncate(s string, n int) string {
	r := []rune(strings.TrimSpace(s))
	if len(r) <= n {
		return string(r)
	}
	return string(r[:n]) + "..."
}
