package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/cloudwego/hertz/pkg/route"

	"github.com/tgifai/strix/internal/channel"
	"github.com/tgifai/strix/internal/eventlog"
	"github.com/tgifai/strix/internal/journal"
	"github.com/tgifai/strix/internal/pkg/logs"
	"github.com/tgifai/strix/internal/pkg/prometheus"
	"github.com/tgifai/strix/internal/schedule"
	"github.com/tgifai/strix/internal/turn"
)

type triggerRequest struct {
	Source    string `json:"source"`
	ChannelID string `json:"channel_id"`
	JobName   string `json:"job_name"`
	Payload   string `json:"payload"`
	MessageID string `json:"message_id"`
	Author    string `json:"author"`
}

type outboundRequest struct {
	Text string `json:"text"`
}

type sendRequest struct {
	ChannelID string `json:"channel_id"`
	Text      string `json:"text"`
}

type reactionRequest struct {
	Reaction string `json:"reaction"`
}

func (gw *Gateway) registerRoutes(r *route.Engine) {
	r.GET("/health", gw.handleHealth)
	if gw.registry != nil {
		r.GET(gw.cfg.Metrics.Path, prometheus.Handler(gw.registry))
	}

	v1 := r.Group("/api/v1")
	v1.POST("/triggers", gw.handleEnqueueTrigger)

	v1.GET("/schedules", gw.handleListSchedules)
	v1.POST("/schedules", gw.handleAddSchedule)
	v1.DELETE("/schedules/:name", gw.handleRemoveSchedule)

	sess := v1.Group("/sessions/:id")
	sess.POST("/events", gw.handleAppendEvent)
	sess.POST("/journal", gw.handleAppendJournal)
	sess.POST("/outbound", gw.handleRecordOutbound)
	sess.POST("/messages", gw.handleSendMessage)
	sess.POST("/reactions", gw.handleReact)

	for _, ch := range gw.channels.List() {
		rp, ok := ch.(channel.RouteProvider)
		if !ok {
			continue
		}
		for _, one := range rp.Routes() {
			r.Handle(one.Method, one.Path, one.Handler)
			logs.Info("[gateway] channel #%s route %s %s", ch.ID(), one.Method, one.Path)
		}
	}
}

func writeError(c *app.RequestContext, status int, err error) {
	c.JSON(status, utils.H{"error": err.Error()})
}

func bindJSON(c *app.RequestContext, v any) bool {
	if err := sonic.Unmarshal(c.GetRequest().Body(), v); err != nil {
		c.JSON(consts.StatusBadRequest, utils.H{"error": "invalid request body"})
		return false
	}
	return true
}

// sessionStatus maps errors from session operations to HTTP status codes.
func sessionStatus(err error) int {
	switch {
	case errors.Is(err, turn.ErrSessionNotActive),
		errors.Is(err, turn.ErrTurnClosed),
		errors.Is(err, turn.ErrJournalAlreadyWritten):
		return consts.StatusConflict
	case errors.Is(err, journal.ErrEmptyEntry),
		errors.Is(err, turn.ErrEmptyMessage):
		return consts.StatusBadRequest
	default:
		return consts.StatusInternalServerError
	}
}

func (gw *Gateway) handleHealth(_ context.Context, c *app.RequestContext) {
	c.JSON(consts.StatusOK, utils.H{
		"status":         "ok",
		"queue_size":     gw.serializer.Len(),
		"active_session": gw.serializer.ActiveSessionID(),
	})
}

func (gw *Gateway) handleEnqueueTrigger(ctx context.Context, c *app.RequestContext) {
	var req triggerRequest
	if !bindJSON(c, &req) {
		return
	}
	source, err := turn.ParseSource(req.Source)
	if err != nil {
		writeError(c, consts.StatusBadRequest, err)
		return
	}

	var trig *turn.Trigger
	if source == turn.SourceScheduler {
		trig = turn.NewSchedulerTrigger(strings.TrimSpace(req.JobName), req.ChannelID, req.Payload)
	} else {
		trig = turn.NewChatTrigger(req.ChannelID, req.Payload)
		trig.MessageID = req.MessageID
		trig.Author = req.Author
	}
	if err := trig.Validate(); err != nil {
		writeError(c, consts.StatusBadRequest, err)
		return
	}

	accepted := gw.serializer.Enqueue(ctx, trig)
	c.JSON(consts.StatusAccepted, utils.H{
		"accepted":   accepted,
		"queue_size": gw.serializer.Len(),
	})
}

func (gw *Gateway) schedulerOrUnavailable(c *app.RequestContext) (*schedule.Scheduler, bool) {
	if gw.scheduler == nil {
		c.JSON(consts.StatusServiceUnavailable, utils.H{"error": "scheduler is disabled"})
		return nil, false
	}
	return gw.scheduler, true
}

func (gw *Gateway) handleListSchedules(_ context.Context, c *app.RequestContext) {
	s, ok := gw.schedulerOrUnavailable(c)
	if !ok {
		return
	}
	c.JSON(consts.StatusOK, utils.H{"jobs": s.List()})
}

func (gw *Gateway) handleAddSchedule(ctx context.Context, c *app.RequestContext) {
	s, ok := gw.schedulerOrUnavailable(c)
	if !ok {
		return
	}
	var job schedule.Job
	if !bindJSON(c, &job) {
		return
	}

	if err := s.Add(ctx, job); err != nil {
		var ve *schedule.ValidationError
		if errors.As(err, &ve) {
			c.JSON(consts.StatusBadRequest, utils.H{"error": ve.Error(), "kind": ve.Kind})
			return
		}
		writeError(c, consts.StatusInternalServerError, err)
		return
	}
	c.JSON(consts.StatusCreated, utils.H{"job": job.Normalize()})
}

func (gw *Gateway) handleRemoveSchedule(ctx context.Context, c *app.RequestContext) {
	s, ok := gw.schedulerOrUnavailable(c)
	if !ok {
		return
	}
	name := c.Param("name")
	if err := s.Remove(ctx, name); err != nil {
		if errors.Is(err, schedule.ErrJobNotFound) {
			writeError(c, consts.StatusNotFound, err)
			return
		}
		writeError(c, consts.StatusInternalServerError, err)
		return
	}
	c.JSON(consts.StatusOK, utils.H{"removed": name})
}

// activeTurn resolves the :id path parameter to the running turn.
func (gw *Gateway) activeTurn(c *app.RequestContext) (*turn.Turn, bool) {
	t, err := gw.serializer.Active(c.Param("id"))
	if err != nil {
		writeError(c, sessionStatus(err), err)
		return nil, false
	}
	return t, true
}

func (gw *Gateway) handleAppendEvent(ctx context.Context, c *app.RequestContext) {
	t, ok := gw.activeTurn(c)
	if !ok {
		return
	}
	var rec eventlog.Record
	if !bindJSON(c, &rec) {
		return
	}
	if strings.TrimSpace(rec.Type) == "" {
		c.JSON(consts.StatusBadRequest, utils.H{"error": "type is required"})
		return
	}
	if eventlog.RuntimeOwned(rec.Type) {
		c.JSON(consts.StatusBadRequest, utils.H{"error": fmt.Sprintf("type %q is reserved for the runtime", rec.Type)})
		return
	}
	rec.Timestamp = time.Time{}

	if err := t.AppendEvent(ctx, rec); err != nil {
		writeError(c, sessionStatus(err), err)
		return
	}
	c.JSON(consts.StatusOK, utils.H{"session_id": t.SessionID()})
}

func (gw *Gateway) handleAppendJournal(ctx context.Context, c *app.RequestContext) {
	t, ok := gw.activeTurn(c)
	if !ok {
		return
	}
	var entry journal.Entry
	if !bindJSON(c, &entry) {
		return
	}
	if err := t.AppendJournal(ctx, entry); err != nil {
		writeError(c, sessionStatus(err), err)
		return
	}
	c.JSON(consts.StatusOK, utils.H{"session_id": t.SessionID()})
}

func (gw *Gateway) handleRecordOutbound(ctx context.Context, c *app.RequestContext) {
	var req outboundRequest
	if !bindJSON(c, &req) {
		return
	}
	d, err := gw.serializer.RecordOutboundAttempt(ctx, c.Param("id"), req.Text)
	if err != nil {
		writeError(c, sessionStatus(err), err)
		return
	}
	c.JSON(consts.StatusOK, utils.H{
		"verdict":    d.Verdict,
		"streak":     d.Streak,
		"similarity": d.Similarity,
		"state":      d.State.String(),
	})
}

// handleSendMessage guards and delivers a message. A hard stop is reported
// in the verdict; the session ends right after.
func (gw *Gateway) handleSendMessage(ctx context.Context, c *app.RequestContext) {
	t, ok := gw.activeTurn(c)
	if !ok {
		return
	}
	var req sendRequest
	if !bindJSON(c, &req) {
		return
	}

	res, err := t.SendMessage(ctx, strings.TrimSpace(req.ChannelID), req.Text)
	if err != nil && !errors.Is(err, turn.ErrHardStop) {
		writeError(c, sessionStatus(err), err)
		return
	}
	c.JSON(consts.StatusOK, utils.H{
		"verdict":    res.Verdict,
		"channel_id": res.ChannelID,
		"message_id": res.MessageID,
		"sent":       res.Sent,
	})
}

func (gw *Gateway) handleReact(ctx context.Context, c *app.RequestContext) {
	t, ok := gw.activeTurn(c)
	if !ok {
		return
	}
	var req reactionRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := t.React(ctx, req.Reaction); err != nil {
		writeError(c, sessionStatus(err), err)
		return
	}
	c.JSON(consts.StatusOK, utils.H{"session_id": t.SessionID()})
}
