package eventlog

import (
	"sort"
	"time"

	"github.com/tgifai/strix/internal/pkg/jsonl"
)

func ReadFile(path string) ([]Record, error) {
	return jsonl.ReadFile[Record](path)
}

func Tail(path string, n int) ([]Record, error) {
	return jsonl.Tail[Record](path, n)
}

// Filter keeps records matching every non-empty criterion.
func Filter(records []Record, typ, sessionID string) []Record {
	if typ == "" && sessionID == "" {
		return records
	}
	out := make([]Record, 0, len(records))
	for _, r := range records {
		if typ != "" && r.Type != typ {
			continue
		}
		if sessionID != "" && r.SessionID != sessionID {
			continue
		}
		out = append(out, r)
	}
	return out
}

// OutcomeInterrupted marks a span closed by a process lifecycle record
// instead of its own turn_completed.
const OutcomeInterrupted = "interrupted"

// SessionSpan is a turn reconstructed from its turn_started and
// turn_completed records. End is zero for a turn that never completed.
// A turn cut off by a crash ends at the next app_started or
// app_shutdown_complete record.
type SessionSpan struct {
	ID        string
	Source    string
	ChannelID string
	JobName   string
	Start     time.Time
	End       time.Time
	Outcome   string
	ErrorType string
}

func (s SessionSpan) Open() bool { return s.End.IsZero() }

// Sessions rebuilds turn spans ordered by start time.
func Sessions(records []Record) []SessionSpan {
	byID := make(map[string]*SessionSpan)
	var order []string
	for _, r := range records {
		if r.Type == TypeAppStarted || r.Type == TypeAppShutdownComplete {
			for _, id := range order {
				if span := byID[id]; span.Open() {
					span.End = r.Timestamp
					span.Outcome = OutcomeInterrupted
				}
			}
			continue
		}
		if r.SessionID == "" {
			continue
		}
		switch r.Type {
		case TypeTurnStarted:
			span, ok := byID[r.SessionID]
			if !ok {
				span = &SessionSpan{ID: r.SessionID}
				byID[r.SessionID] = span
				order = append(order, r.SessionID)
			}
			span.Start = r.Timestamp
			span.Source = r.String("source")
			span.ChannelID = r.String("channel_id")
			span.JobName = r.String("job_name")
		case TypeTurnCompleted:
			span, ok := byID[r.SessionID]
			if !ok {
				continue
			}
			span.End = r.Timestamp
			span.Outcome = r.String("outcome")
			span.ErrorType = r.String("error_type")
		}
	}

	out := make([]SessionSpan, 0, len(order))
	for _, id := range order {
		out = append(out, *byID[id])
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out
}

// Overlaps returns every pair of spans whose intervals intersect. An open
// span extends to the end of the log.
func Overlaps(spans []SessionSpan) [][2]SessionSpan {
	var out [][2]SessionSpan
	for i := 0; i < len(spans); i++ {
		for j := i + 1; j < len(spans); j++ {
			a, b := spans[i], spans[j]
			if a.Open() || b.Start.Before(a.End) {
				out = append(out, [2]SessionSpan{a, b})
			}
		}
	}
	return out
}
