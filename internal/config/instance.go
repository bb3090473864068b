package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/tgifai/strix/internal/consts"
)

var ErrConfigExists = errors.New("config file already exists")

var defaultInstance = &Instance{}

// Instance holds the config file the process runs with.
type Instance struct {
	mu   sync.RWMutex
	path string
	cfg  *Config
}

func (ins *Instance) Load(path string) (*Config, error) {
	path = resolveConfigPath(path)

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	ins.mu.Lock()
	ins.path, ins.cfg = path, &cfg
	ins.mu.Unlock()
	return cfg.Clone()
}

// Home is the directory holding the config file. Relative paths in the
// config resolve against it.
func (ins *Instance) Home() string {
	ins.mu.RLock()
	path := ins.path
	ins.mu.RUnlock()

	if path == "" {
		return consts.StrixHomeDir()
	}
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return filepath.Dir(path)
}

// Init writes cfg to path and makes it the loaded config. An existing file
// is kept unless overwrite is set, in which case it is moved to path.bak.
func (ins *Instance) Init(path string, cfg *Config, overwrite bool) error {
	if cfg == nil {
		return errors.New("config cannot be nil")
	}
	path = resolveConfigPath(path)

	draft, err := cfg.Clone()
	if err != nil {
		return err
	}
	if err := draft.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	ins.mu.Lock()
	defer ins.mu.Unlock()

	mode := os.FileMode(0o644)
	info, err := os.Stat(path)
	switch {
	case err == nil && !overwrite:
		return fmt.Errorf("%w: %s", ErrConfigExists, path)
	case err == nil:
		mode = info.Mode().Perm()
		if err := os.Rename(path, path+".bak"); err != nil {
			return fmt.Errorf("back up config file: %w", err)
		}
	case !os.IsNotExist(err):
		return fmt.Errorf("stat config file: %w", err)
	}

	if err := writeConfigFile(path, draft, mode); err != nil {
		return err
	}
	ins.path, ins.cfg = path, draft
	return nil
}

func resolveConfigPath(path string) string {
	if path = strings.TrimSpace(path); path != "" {
		return path
	}
	return consts.DefaultConfigPath()
}

// writeConfigFile replaces path through a temp file in the same directory.
func writeConfigFile(path string, cfg *Config, mode os.FileMode) error {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return fmt.Errorf("create temp config file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp config file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp config file: %w", err)
	}
	if err := os.Chmod(tmp.Name(), mode); err != nil {
		return fmt.Errorf("chmod temp config file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace config file: %w", err)
	}
	return nil
}

func Load(path string) (*Config, error) {
	return defaultInstance.Load(path)
}

func Init(path string, cfg *Config, overwrite bool) error {
	return defaultInstance.Init(path, cfg, overwrite)
}

func Home() string {
	return defaultInstance.Home()
}
