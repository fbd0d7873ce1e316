package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/kilianp07/shopsched/core/engine"
	"github.com/kilianp07/shopsched/core/metrics"
	"github.com/kilianp07/shopsched/infra/logger"
	"github.com/kilianp07/shopsched/infra/mqtt"
)

type Config struct {
	HTTP     HTTPConfig     `json:"http"`
	Store    StoreConfig    `json:"store"`
	Registry RegistryConfig `json:"registry"`
	Engine   engine.Config  `json:"engine"`
	Replan   ReplanConfig   `json:"replan"`
	MQTT     mqtt.Config    `json:"mqtt"`
	Metrics  metrics.Config `json:"metrics"`
	Audit    AuditConfig    `json:"audit"`
	Sentry   SentryConfig   `json:"sentry"`
	Log      logger.Config  `json:"log"`
}

func Load(path string) (*Config, error) {
	k := koanf.New(".")
	ext := strings.ToLower(filepath.Ext(path))
	var parser koanf.Parser
	switch ext {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	default:
		return nil, fmt.Errorf("unsupported config format: %s", ext)
	}
	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, err
	}
	// Optional environment overrides
	if err := k.Load(env.Provider("K_", "__", func(s string) string {
		s = strings.TrimPrefix(strings.ToLower(s), "k_")
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, err
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SetDefaults applies the defaults of every section.
func (c *Config) SetDefaults() {
	c.HTTP.SetDefaults()
	c.Store.SetDefaults()
	c.Engine.SetDefaults()
	c.Replan.SetDefaults()
	c.MQTT.SetDefaults()
	c.Metrics.SetDefaults()
	c.Audit.SetDefaults()
	c.Log.SetDefaults()
}

// Validate checks every section and reports the first failure.
func (c Config) Validate() error {
	checks := []func() error{
		c.HTTP.Validate,
		c.Store.Validate,
		c.Registry.Validate,
		c.Engine.Validate,
		c.Replan.Validate,
		c.MQTT.Validate,
		c.Metrics.Validate,
		c.Audit.Validate,
		c.Sentry.Validate,
		c.Log.Validate,
	}
	for _, check := range checks {
		if err := check(); err != nil {
			return err
		}
	}
	return nil
}
