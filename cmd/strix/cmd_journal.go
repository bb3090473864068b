package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/tgifai/strix/internal/journal"
)

var journalHwd = &JournalRunner{}

type JournalRunner struct{}

func (r *JournalRunner) cmd() *cli.Command {
	return &cli.Command{
		Name:  "journal",
		Usage: "Read the agent's journal",
		Commands: []*cli.Command{
			{
				Name:  "tail",
				Usage: "Print the last journal entries",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "n", Value: 10, Usage: "Number of entries to print"},
				},
				Action: r.tail,
			},
		},
	}
}

func (r *JournalRunner) tail(_ context.Context, cmd *cli.Command) error {
	paths, err := resolvePaths(cmd)
	if err != nil {
		return err
	}
	entries, err := journal.Tail(paths.Journal, int(cmd.Int("n")))
	if err != nil {
		return fmt.Errorf("read %s: %w", paths.Journal, err)
	}
	if len(entries) == 0 {
		fmt.Println("The journal is empty.")
		return nil
	}

	for _, e := range entries {
		cBanner.Printf("%s", e.Timestamp)
		cDim.Printf("  %s %s\n", e.SessionID, e.ChannelID)
		printField("wanted", e.UserWanted)
		printField("did", e.AgentDid)
		printField("expects", e.Predictions)
		fmt.Println()
	}
	return nil
}

func printField(label, value string) {
	value = strings.TrimSpace(value)
	if value == "" {
		return
	}
	fmt.Printf("  %-8s %s\n", label+":", strings.ReplaceAll(value, "\n", "\n           "))
}
