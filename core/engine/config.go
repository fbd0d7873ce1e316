package engine

import (
	"fmt"

	"github.com/kilianp07/shopsched/core/model"
)

// BulkMode selects how a bulk update reacts to critical conflicts.
type BulkMode string

const (
	// BulkStrict leaves every slot untouched when the batch would create a
	// critical conflict.
	BulkStrict BulkMode = "strict"
	// BulkLenient applies the batch and reports the conflicts.
	BulkLenient BulkMode = "lenient"
)

// Config defines engine settings.
type Config struct {
	// DefaultPolicy applies to requests that carry no policy.
	DefaultPolicy model.SchedulingPolicy `json:"default_policy"`
	// MaxRetries bounds recomputations after a concurrent modification.
	MaxRetries int `json:"max_retries"`
	// Granularity of the buckets used for allocation and validation.
	Granularity model.Granularity `json:"granularity"`
	BulkMode    BulkMode          `json:"bulk_mode"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.DefaultPolicy.HorizonHours == 0 {
		c.DefaultPolicy.HorizonHours = 7 * 24
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.Granularity == "" {
		c.Granularity = model.GranularityDay
	}
	if c.BulkMode == "" {
		c.BulkMode = BulkStrict
	}
}

// Validate checks the settings.
func (c Config) Validate() error {
	if err := c.DefaultPolicy.Validate(); err != nil {
		return fmt.Errorf("default policy: %w", err)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be >= 0")
	}
	if !c.Granularity.IsValid() {
		return fmt.Errorf("unknown granularity %q", c.Granularity)
	}
	if c.BulkMode != BulkStrict && c.BulkMode != BulkLenient {
		return fmt.Errorf("unknown bulk mode %q", c.BulkMode)
	}
	return nil
}
