package config

import (
	"fmt"
	"time"
)

// HTTPConfig configures the JSON API listener.
type HTTPConfig struct {
	Addr string `json:"addr"`
	// Token enables bearer authentication when set.
	Token string `json:"token"`
	// ShutdownSeconds bounds the graceful shutdown.
	ShutdownSeconds int `json:"shutdown_seconds"`
}

func (c *HTTPConfig) SetDefaults() {
	if c.Addr == "" {
		c.Addr = ":8080"
	}
	if c.ShutdownSeconds == 0 {
		c.ShutdownSeconds = 5
	}
}

func (c HTTPConfig) Validate() error {
	if c.ShutdownSeconds < 0 {
		return fmt.Errorf("http: shutdown_seconds must be >= 0")
	}
	return nil
}

// ShutdownTimeout returns the graceful shutdown bound.
func (c HTTPConfig) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownSeconds) * time.Second
}

// StoreConfig selects the slot store.
type StoreConfig struct {
	// Backend is "memory" or "sqlite".
	Backend string `json:"backend"`
	Path    string `json:"path"`
}

func (c *StoreConfig) SetDefaults() {
	if c.Backend == "" {
		c.Backend = "memory"
	}
	if c.Backend == "sqlite" && c.Path == "" {
		c.Path = "slots.db"
	}
}

func (c StoreConfig) Validate() error {
	switch c.Backend {
	case "memory":
	case "sqlite":
		if c.Path == "" {
			return fmt.Errorf("store: path is required for sqlite")
		}
	default:
		return fmt.Errorf("store: unknown backend %s", c.Backend)
	}
	return nil
}

// RegistryConfig points at the YAML or JSON file holding machines,
// capabilities, work orders and plans.
type RegistryConfig struct {
	Path string `json:"path"`
}

func (c RegistryConfig) Validate() error {
	if c.Path == "" {
		return fmt.Errorf("registry: path is required")
	}
	return nil
}

// ReplanConfig drives the automatic re-plan loop. Plans opt in through
// their policy's reschedule interval; CheckSeconds is how often the loop
// looks for due plans.
type ReplanConfig struct {
	Enabled      bool `json:"enabled"`
	CheckSeconds int  `json:"check_seconds"`
}

func (c *ReplanConfig) SetDefaults() {
	if c.CheckSeconds == 0 {
		c.CheckSeconds = 60
	}
}

func (c ReplanConfig) Validate() error {
	if c.CheckSeconds < 0 {
		return fmt.Errorf("replan: check_seconds must be >= 0")
	}
	return nil
}

// CheckInterval returns the polling period of the re-plan loop.
func (c ReplanConfig) CheckInterval() time.Duration {
	return time.Duration(c.CheckSeconds) * time.Second
}
