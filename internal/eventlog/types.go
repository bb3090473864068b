package eventlog

import "strings"

// Record types written by the runtime. The set is open; tools running inside
// a turn may append their own, except for the runtime-owned ones below.
const (
	TypeToolCall      = "tool_call"
	TypeToolCallError = "tool_call_error"

	TypeEventQueued  = "event_queued"
	TypeEventDeduped = "event_deduped"
	TypeChatMessage  = "chat_message"
	TypeChatCommand  = "chat_command"

	TypeTurnStarted    = "turn_started"
	TypeTurnCompleted  = "turn_completed"
	TypeJournalMissing = "journal_missing"

	TypeSchedulerReloaded    = "scheduler_reloaded"
	TypeSchedulerInvalidJob  = "scheduler_invalid_job"
	TypeSchedulerInvalidCron = "scheduler_invalid_cron"
	TypeSchedulerInvalidTime = "scheduler_invalid_time"
	TypeSchedulerLoadFailed  = "scheduler_load_failed"
	TypeSchedulerDuplicate   = "scheduler_duplicate_job"

	TypeLoopDetected = "send_message_loop_detected"
	TypeLoopHardStop = "send_message_loop_hard_stop"

	TypeAppStarted          = "app_started"
	TypeAppShutdownStart    = "app_shutdown_start"
	TypeAppShutdownComplete = "app_shutdown_complete"

	TypeStdinModeStart = "stdin_mode_start"
	TypeStdinModeEOF   = "stdin_mode_eof"
)

var runtimeOwned = map[string]struct{}{
	TypeEventQueued:          {},
	TypeEventDeduped:         {},
	TypeChatMessage:          {},
	TypeChatCommand:          {},
	TypeTurnStarted:          {},
	TypeTurnCompleted:        {},
	TypeJournalMissing:       {},
	TypeSchedulerReloaded:    {},
	TypeSchedulerInvalidJob:  {},
	TypeSchedulerInvalidCron: {},
	TypeSchedulerInvalidTime: {},
	TypeSchedulerLoadFailed:  {},
	TypeSchedulerDuplicate:   {},
	TypeLoopDetected:         {},
	TypeLoopHardStop:         {},
	TypeAppStarted:           {},
	TypeAppShutdownStart:     {},
	TypeAppShutdownComplete:  {},
	TypeStdinModeStart:       {},
	TypeStdinModeEOF:         {},
}

// RuntimeOwned reports whether typ is written only by the runtime itself.
// Session replay trusts these records, so agents may not append them.
func RuntimeOwned(typ string) bool {
	_, ok := runtimeOwned[strings.ToLower(strings.TrimSpace(typ))]
	return ok
}

const (
	KeyTimestamp = "timestamp"
	KeyType      = "type"
	KeySessionID = "session_id"
)
