package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/tgifai/strix/internal/config"
	"github.com/tgifai/strix/internal/consts"
	"github.com/tgifai/strix/internal/pkg/logs"
)

func main() {
	if err := newApp().Run(context.Background(), os.Args); err != nil {
		logs.Error("Command execution failed: %v", err)
		os.Exit(1)
	}
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:  "strix",
		Usage: "An autonomous agent that takes turns on chat messages and scheduled jobs",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "home",
				Usage: "Agent home directory (defaults to $" + consts.HomeEnv + " or ~/" + consts.StrixDirName + ")",
			},
		},
		Commands: []*cli.Command{
			runHwd.cmd(),
			initHwd.cmd(),
			scheduleHwd.cmd(),
			eventsHwd.cmd(),
			journalHwd.cmd(),
		},
	}
}

func homeDir(cmd *cli.Command) string {
	if h := strings.TrimSpace(cmd.String("home")); h != "" {
		return h
	}
	return consts.StrixHomeDir()
}

func configPath(cmd *cli.Command) string {
	return filepath.Join(homeDir(cmd), consts.ConfigFileName)
}

// homePaths are the files the offline commands read. Without a config file
// the defaults are used.
type homePaths struct {
	Home      string
	Scheduler string
	Events    string
	Journal   string
}

func resolvePaths(cmd *cli.Command) (homePaths, error) {
	home := homeDir(cmd)
	cfg := config.Default()

	cfgPath := filepath.Join(home, consts.ConfigFileName)
	if _, err := os.Stat(cfgPath); err == nil {
		if cfg, err = config.Load(cfgPath); err != nil {
			return homePaths{}, fmt.Errorf("loading config error: %w", err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return homePaths{}, err
	}

	return homePaths{
		Home:      home,
		Scheduler: consts.ResolvePath(home, cfg.Scheduler.File),
		Events:    consts.ResolvePath(home, cfg.Audit.EventsFile),
		Journal:   consts.ResolvePath(home, cfg.Audit.JournalFile),
	}, nil
}
