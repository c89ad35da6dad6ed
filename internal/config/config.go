package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/RedRiverCN/SyncTrayzor/internal/utils"
)

var (
	home, _           = os.UserHomeDir()
	DefaultConfigPath = filepath.Join(home, ".synctray", "config.json")
	DefaultAddress    = "http://127.0.0.1:8384"

	DefaultDebounceSeconds    = 10
	DefaultFolderCheckSeconds = 10
)

type Config struct {
	// Address is the base URL of the Syncthing REST API.
	Address string `json:"address"`
	// APIKey authenticates against the Syncthing API.
	APIKey string `json:"api_key"`
	// WatchConflicts toggles conflict-file monitoring.
	WatchConflicts bool `json:"watch_conflicts"`
	// DebounceSeconds is the quiet period before the conflict list is
	// recomputed after a marker change.
	DebounceSeconds int `json:"debounce_seconds"`
	// FolderCheckSeconds is how often folder watchers re-validate that
	// their root still exists.
	FolderCheckSeconds int `json:"folder_check_seconds"`

	Path string `json:"-"`
}

func (c *Config) Validate() error {
	if c.Address == "" {
		return errors.New("syncthing address missing")
	}
	u, err := url.Parse(c.Address)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid syncthing address %q", c.Address)
	}
	if c.APIKey == "" {
		return errors.New("syncthing api key missing")
	}
	if c.DebounceSeconds <= 0 {
		c.DebounceSeconds = DefaultDebounceSeconds
	}
	if c.FolderCheckSeconds <= 0 {
		c.FolderCheckSeconds = DefaultFolderCheckSeconds
	}
	return nil
}

func (c *Config) DebounceInterval() time.Duration {
	return time.Duration(c.DebounceSeconds) * time.Second
}

func (c *Config) FolderCheckInterval() time.Duration {
	return time.Duration(c.FolderCheckSeconds) * time.Second
}

func (c *Config) Save(path string) error {
	if err := utils.EnsureParent(path); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o644)
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	cfg.Path = path
	return &cfg, nil
}
