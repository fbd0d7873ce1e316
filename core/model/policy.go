package model

import (
	"fmt"
	"time"
)

const (
	MinHorizonHours = 24
	MaxHorizonHours = 8760
)

// SchedulingPolicy drives one planning run.
type SchedulingPolicy struct {
	Rule          Rule `json:"rule" yaml:"rule" koanf:"rule"`
	HorizonHours  int  `json:"horizon_hours" yaml:"horizon_hours" koanf:"horizon_hours"`
	AllowOverload bool `json:"allow_overload" yaml:"allow_overload" koanf:"allow_overload"`
	// MaxOverloadPercentage is expressed in percent (20 means 120% of the
	// available minutes). Ignored unless AllowOverload is set.
	MaxOverloadPercentage float64 `json:"max_overload_percentage,omitempty" yaml:"max_overload_percentage,omitempty" koanf:"max_overload_percentage"`
	// RescheduleIntervalMinutes enables periodic re-planning when > 0.
	RescheduleIntervalMinutes int `json:"reschedule_interval_minutes,omitempty" yaml:"reschedule_interval_minutes,omitempty" koanf:"reschedule_interval_minutes"`
}

// Validate rejects unknown rules and out-of-range values.
func (p SchedulingPolicy) Validate() error {
	if !p.Rule.IsValid() {
		return fmt.Errorf("%w: unknown rule %d", ErrInvalidPolicy, int(p.Rule))
	}
	if p.HorizonHours < MinHorizonHours || p.HorizonHours > MaxHorizonHours {
		return fmt.Errorf("%w: horizon %dh outside [%d, %d]", ErrInvalidPolicy, p.HorizonHours, MinHorizonHours, MaxHorizonHours)
	}
	if p.MaxOverloadPercentage < 0 || p.MaxOverloadPercentage > 100 {
		return fmt.Errorf("%w: max overload %.1f%% outside [0, 100]", ErrInvalidPolicy, p.MaxOverloadPercentage)
	}
	if p.RescheduleIntervalMinutes < 0 {
		return fmt.Errorf("%w: negative reschedule interval", ErrInvalidPolicy)
	}
	return nil
}

// WithDefaults fills what p leaves unset from d. An empty policy takes d
// whole; otherwise only a missing horizon is taken from d.
func (p SchedulingPolicy) WithDefaults(d SchedulingPolicy) SchedulingPolicy {
	if p == (SchedulingPolicy{}) {
		return d
	}
	if p.HorizonHours == 0 {
		p.HorizonHours = d.HorizonHours
	}
	return p
}

// Horizon returns the planning horizon as a duration.
func (p SchedulingPolicy) Horizon() time.Duration {
	return time.Duration(p.HorizonHours) * time.Hour
}

// OverloadLimit is the utilization ceiling tolerated by the policy: 1 when
// overload is not allowed, 1 + max/100 otherwise.
func (p SchedulingPolicy) OverloadLimit() float64 {
	if !p.AllowOverload {
		return 1
	}
	return 1 + p.MaxOverloadPercentage/100
}

// RescheduleInterval returns the re-plan cadence, zero when disabled.
func (p SchedulingPolicy) RescheduleInterval() time.Duration {
	return time.Duration(p.RescheduleIntervalMinutes) * time.Minute
}
