package main

import (
	"context"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/urfave/cli/v3"

	"github.com/tgifai/strix/internal/eventlog"
)

var eventsHwd = &EventsRunner{}

type EventsRunner struct{}

func (r *EventsRunner) cmd() *cli.Command {
	return &cli.Command{
		Name:  "events",
		Usage: "Inspect the event log",
		Commands: []*cli.Command{
			{
				Name:  "tail",
				Usage: "Print the last events as JSON lines",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "n", Value: 20, Usage: "Number of events to print"},
					&cli.StringFlag{Name: "type", Usage: "Only events of this type"},
					&cli.StringFlag{Name: "session", Usage: "Only events of this session id"},
				},
				Action: r.tail,
			},
			{
				Name:   "sessions",
				Usage:  "Rebuild turns from the log and report any that overlap",
				Action: r.sessions,
			},
		},
	}
}

func (r *EventsRunner) tail(_ context.Context, cmd *cli.Command) error {
	paths, err := resolvePaths(cmd)
	if err != nil {
		return err
	}

	n := int(cmd.Int("n"))
	typ, session := cmd.String("type"), cmd.String("session")

	var records []eventlog.Record
	if typ == "" && session == "" {
		records, err = eventlog.Tail(paths.Events, n)
	} else {
		records, err = eventlog.ReadFile(paths.Events)
		records = eventlog.Filter(records, typ, session)
		if n > 0 && len(records) > n {
			records = records[len(records)-n:]
		}
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", paths.Events, err)
	}

	for _, rec := range records {
		line, err := sonic.Marshal(rec)
		if err != nil {
			return err
		}
		fmt.Println(string(line))
	}
	return nil
}

func (r *EventsRunner) sessions(_ context.Context, cmd *cli.Command) error {
	paths, err := resolvePaths(cmd)
	if err != nil {
		return err
	}
	records, err := eventlog.ReadFile(paths.Events)
	if err != nil {
		return fmt.Errorf("read %s: %w", paths.Events, err)
	}

	spans := eventlog.Sessions(records)
	for _, s := range spans {
		label := s.Source
		if s.JobName != "" {
			label += ":" + s.JobName
		} else if s.ChannelID != "" {
			label += ":" + s.ChannelID
		}

		if s.Open() {
			cWarn.Printf("%s  %-36s %-32s open\n", s.Start.Format(time.RFC3339), s.ID, label)
			continue
		}
		outcome := s.Outcome
		if s.ErrorType != "" {
			outcome += " (" + s.ErrorType + ")"
		}
		fmt.Printf("%s  %-36s %-32s %-8s %s\n",
			s.Start.Format(time.RFC3339), s.ID, label, s.End.Sub(s.Start).Round(time.Millisecond), outcome)
	}

	overlaps := eventlog.Overlaps(spans)
	if len(overlaps) == 0 {
		cSuccess.Printf("✓ %d session(s), none overlap\n", len(spans))
		return nil
	}
	for _, pair := range overlaps {
		cError.Printf("✗ session %s overlaps %s\n", pair[0].ID, pair[1].ID)
	}
	return fmt.Errorf("%d overlapping session pair(s)", len(overlaps))
}
