package executor

import (
	"context"
	"fmt"
	"strings"

	"github.com/tgifai/strix/internal/journal"
	"github.com/tgifai/strix/internal/pkg/logs"
	"github.com/tgifai/strix/internal/turn"
)

var _ turn.Executor = (*Echo)(nil)

// Echo sends the trigger payload back to the trigger's channel and writes
// a journal entry. It needs no model and is the default for local runs.
type Echo struct{}

func NewEcho() *Echo { return &Echo{} }

func (e *Echo) Execute(ctx context.Context, t *turn.Turn) error {
	trig := t.Trigger()
	text := strings.TrimSpace(trig.Payload)
	if text == "" {
		logs.CtxInfo(ctx, "[executor:echo] session %s has an empty payload", t.SessionID())
		return nil
	}

	res, err := t.SendMessage(ctx, "", text)
	if err != nil {
		return err
	}

	did := fmt.Sprintf("echoed the %s payload to %s (%s)", trig.Source, res.ChannelID, res.Verdict)
	if trig.JobName != "" {
		did = fmt.Sprintf("ran job %s and %s", trig.JobName, did)
	}
	return t.AppendJournal(ctx, journal.Entry{
		UserWanted: text,
		AgentDid:   did,
	})
}
