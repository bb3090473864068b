package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/tgifai/strix/internal/schedule"
)

var scheduleHwd = &ScheduleRunner{}

// ScheduleRunner edits scheduler.yaml directly. A running agent picks the
// change up through its file watcher.
type ScheduleRunner struct{}

func (r *ScheduleRunner) cmd() *cli.Command {
	return &cli.Command{
		Name:  "schedule",
		Usage: "Manage scheduled jobs",
		Commands: []*cli.Command{
			{
				Name:   "list",
				Usage:  "List jobs and their next fire time",
				Action: r.list,
			},
			{
				Name:  "add",
				Usage: "Add a job, replacing any job with the same name",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "name", Usage: "Job name", Required: true},
					&cli.StringFlag{Name: "prompt", Usage: "Prompt handed to the agent", Required: true},
					&cli.StringFlag{Name: "cron", Usage: "5-field cron expression, evaluated in UTC"},
					&cli.StringFlag{Name: "time-of-day", Usage: "Daily fire time as HH:MM UTC"},
					&cli.StringFlag{Name: "channel", Usage: "Channel the job's turn replies to"},
				},
				Action: r.add,
			},
			{
				Name:      "remove",
				Usage:     "Remove a job by name",
				ArgsUsage: "<name>",
				Action:    r.remove,
			},
			{
				Name:   "validate",
				Usage:  "Check every job in the schedule file",
				Action: r.validate,
			},
		},
	}
}

func (r *ScheduleRunner) store(cmd *cli.Command) (*schedule.Store, error) {
	paths, err := resolvePaths(cmd)
	if err != nil {
		return nil, err
	}
	return schedule.NewStore(paths.Scheduler), nil
}

func (r *ScheduleRunner) list(_ context.Context, cmd *cli.Command) error {
	store, err := r.store(cmd)
	if err != nil {
		return err
	}
	jobs, err := store.Load()
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		fmt.Printf("No jobs in %s\n", store.Path())
		return nil
	}

	now := time.Now()
	for _, j := range jobs {
		j = j.Normalize()
		next, err := j.NextAfter(now)
		if err != nil {
			cError.Printf("%-32s invalid: %v\n", j.Name, err)
			continue
		}
		fmt.Printf("%-32s %-20s next %s", j.Name, j.Timing(), next.Format(time.RFC3339))
		if j.ChannelID != "" {
			cDim.Printf("  -> %s", j.ChannelID)
		}
		fmt.Println()
	}
	return nil
}

func (r *ScheduleRunner) add(_ context.Context, cmd *cli.Command) error {
	job := schedule.Job{
		Name:      cmd.String("name"),
		Prompt:    cmd.String("prompt"),
		Cron:      cmd.String("cron"),
		TimeOfDay: cmd.String("time-of-day"),
		ChannelID: cmd.String("channel"),
	}.Normalize()
	if err := job.Validate(); err != nil {
		return err
	}

	store, err := r.store(cmd)
	if err != nil {
		return err
	}
	jobs, err := store.Load()
	if err != nil {
		return err
	}

	next := make([]schedule.Job, 0, len(jobs)+1)
	replaced := false
	for _, j := range jobs {
		if strings.TrimSpace(j.Name) != job.Name {
			next = append(next, j)
			continue
		}
		if !replaced {
			next = append(next, job)
			replaced = true
		}
	}
	if !replaced {
		next = append(next, job)
	}

	if _, err = store.Save(next); err != nil {
		return err
	}
	if replaced {
		cSuccess.Printf("✓ Replaced job %s (%s)\n", job.Name, job.Timing())
	} else {
		cSuccess.Printf("✓ Added job %s (%s)\n", job.Name, job.Timing())
	}
	return nil
}

func (r *ScheduleRunner) remove(_ context.Context, cmd *cli.Command) error {
	name := strings.TrimSpace(cmd.Args().First())
	if name == "" {
		return errors.New("job name is required")
	}

	store, err := r.store(cmd)
	if err != nil {
		return err
	}
	jobs, err := store.Load()
	if err != nil {
		return err
	}

	next := make([]schedule.Job, 0, len(jobs))
	for _, j := range jobs {
		if strings.TrimSpace(j.Name) != name {
			next = append(next, j)
		}
	}
	if len(next) == len(jobs) {
		return fmt.Errorf("%w: %s", schedule.ErrJobNotFound, name)
	}

	if _, err = store.Save(next); err != nil {
		return err
	}
	cSuccess.Printf("✓ Removed job %s\n", name)
	return nil
}

func (r *ScheduleRunner) validate(_ context.Context, cmd *cli.Command) error {
	store, err := r.store(cmd)
	if err != nil {
		return err
	}
	jobs, err := store.Load()
	if err != nil {
		return err
	}

	seen := make(map[string]int, len(jobs))
	invalid := 0
	for i, j := range jobs {
		j = j.Normalize()
		if err := j.Validate(); err != nil {
			invalid++
			cError.Printf("✗ job #%d: %v\n", i+1, err)
			continue
		}
		if prev, ok := seen[j.Name]; ok {
			cWarn.Printf("! job %s at #%d is overridden by #%d\n", j.Name, prev+1, i+1)
		}
		seen[j.Name] = i
		cSuccess.Printf("✓ %s (%s)\n", j.Name, j.Timing())
	}

	if invalid > 0 {
		return fmt.Errorf("%d of %d job(s) in %s are invalid", invalid, len(jobs), store.Path())
	}
	return nil
}
