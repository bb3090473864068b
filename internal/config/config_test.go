package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestValidateFillsDefaults(t *testing.T) {
	cfg := &Config{}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	if cfg.Gateway.Bind != defaultBind {
		t.Errorf("bind = %q", cfg.Gateway.Bind)
	}
	if cfg.Audit.EventsFile != filepath.Join("logs", "events.jsonl") {
		t.Errorf("events file = %q", cfg.Audit.EventsFile)
	}
	if cfg.Audit.JournalFile != filepath.Join("logs", "journal.jsonl") {
		t.Errorf("journal file = %q", cfg.Audit.JournalFile)
	}
	if !cfg.Scheduler.IsEnabled() || !cfg.Scheduler.IsWatched() {
		t.Errorf("scheduler should be enabled and watched by default")
	}
	if cfg.Scheduler.File != "scheduler.yaml" || cfg.Scheduler.Tick() != time.Second {
		t.Errorf("scheduler = %+v", cfg.Scheduler)
	}
	if cfg.LoopGuard.SoftLimit != 3 || cfg.LoopGuard.HardLimit != 10 || cfg.LoopGuard.SimilarityThreshold != 0.98 {
		t.Errorf("loop guard = %+v", cfg.LoopGuard)
	}
	if cfg.Executor.Type != ExecutorEcho {
		t.Errorf("executor type = %q", cfg.Executor.Type)
	}
	if !cfg.Metrics.IsEnabled() || cfg.Metrics.Path != "/metrics" {
		t.Errorf("metrics = %+v", cfg.Metrics)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
		want string
	}{
		{"bad tick", Config{Scheduler: SchedulerConfig{TickInterval: "soon"}}, "tick_interval"},
		{"hard below soft", Config{LoopGuard: LoopGuardConfig{SoftLimit: 5, HardLimit: 4}}, "hard_limit"},
		{"threshold above one", Config{LoopGuard: LoopGuardConfig{SimilarityThreshold: 1.5}}, "similarity_threshold"},
		{"unknown executor", Config{Executor: ExecutorConfig{Type: "shell"}}, "executor.type"},
		{"webhook without url", Config{Executor: ExecutorConfig{Type: "webhook"}}, "executor.url"},
		{"metrics path", Config{Metrics: MetricsConfig{Path: "metrics"}}, "metrics.path"},
		{"channel type", Config{Channels: map[string]ChannelConfig{"x": {Type: "lark"}}}, "unsupported channel type"},
		{"channel id with colon", Config{Channels: map[string]ChannelConfig{"a:b": {Type: "http"}}}, "cannot contain"},
		{"telegram without token", Config{Channels: map[string]ChannelConfig{
			"tg": {Type: "telegram", Enabled: true},
		}}, "config.token"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			err := c.cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), c.want) {
				t.Fatalf("Validate() = %v, want error containing %q", err, c.want)
			}
		})
	}
}

func TestValidateNormalizesChannels(t *testing.T) {
	cfg := &Config{Channels: map[string]ChannelConfig{
		" tg ": {Type: " Telegram ", Enabled: false},
	}}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	one, ok := cfg.Channels["tg"]
	if !ok {
		t.Fatalf("channel id was not trimmed: %v", cfg.Channels)
	}
	if one.ID != "tg" || one.Type != "telegram" {
		t.Fatalf("unexpected channel: %+v", one)
	}
}

func TestInitLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	ins := &Instance{}

	if err := ins.Init(path, Default(), false); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := ins.Init(path, Default(), false); !errors.Is(err, ErrConfigExists) {
		t.Fatalf("second Init = %v, want ErrConfigExists", err)
	}
	if ins.Home() != filepath.Dir(path) {
		t.Fatalf("Home() = %q", ins.Home())
	}

	loaded := &Instance{}
	cfg, err := loaded.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, ok := cfg.Channels["http"]; !ok {
		t.Fatalf("default http channel missing: %v", cfg.Channels)
	}
	if cfg.Channels["tg"].Enabled {
		t.Fatal("telegram channel should be disabled by default")
	}

	if cfg.Gateway.Bind != defaultBind || cfg.LoopGuard.HardLimit != Default().LoopGuard.HardLimit {
		t.Fatalf("defaults lost in round trip: %+v", cfg)
	}
}

func TestInitOverwriteKeepsBackup(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("gateway:\n  bind: 0.0.0.0:9000\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	ins := &Instance{}
	if err := ins.Init(path, Default(), true); err != nil {
		t.Fatalf("Init: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("mode = %v, want 0600 kept from previous file", info.Mode().Perm())
	}
	backup, err := os.ReadFile(path + ".bak")
	if err != nil {
		t.Fatalf("expected a backup of the replaced config: %v", err)
	}
	if !strings.Contains(string(backup), "0.0.0.0:9000") {
		t.Fatalf("backup = %q", backup)
	}
	if leftovers, _ := filepath.Glob(path + ".tmp.*"); len(leftovers) != 0 {
		t.Fatalf("temp files left behind: %v", leftovers)
	}
}
