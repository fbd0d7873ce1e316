package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	coremetrics "github.com/kilianp07/shopsched/core/metrics"
	"github.com/kilianp07/shopsched/core/model"
)

// PromSink records engine runs in Prometheus metrics.
type PromSink struct {
	runs        *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	slots       *prometheus.CounterVec
	conflicts   *prometheus.CounterVec
	retries     *prometheus.CounterVec
	utilization *prometheus.GaugeVec
	overloaded  *prometheus.GaugeVec
	progress    *prometheus.GaugeVec
	oee         *prometheus.GaugeVec
	commits     *prometheus.CounterVec
}

// NewPromSink registers scheduling metrics on the default Prometheus
// registerer. The /metrics endpoint is served separately.
func NewPromSink() (*PromSink, error) {
	return NewPromSinkWithRegistry(prometheus.DefaultRegisterer)
}

// NewPromSinkWithRegistry registers metrics on the provided registerer.
// A nil registerer defaults to the global Prometheus registerer.
func NewPromSinkWithRegistry(reg prometheus.Registerer) (*PromSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PromSink{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scheduler_runs_total",
			Help: "Engine runs by operation and outcome",
		}, []string{"run", "committed"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "scheduler_run_duration_seconds",
			Help:    "Duration of engine runs",
			Buckets: prometheus.DefBuckets,
		}, []string{"run"}),
		slots: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scheduler_slots_total",
			Help: "Slots produced or updated by committed runs",
		}, []string{"run"}),
		conflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scheduler_conflicts_total",
			Help: "Detected scheduling conflicts",
		}, []string{"run", "kind", "severity"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scheduler_commit_retries_total",
			Help: "Recomputations after a concurrent modification",
		}, []string{"run"}),
		utilization: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "scheduler_machine_utilization_ratio",
			Help: "Planned over available minutes of the latest bucket seen per machine",
		}, []string{"machine_id", "granularity"}),
		overloaded: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "scheduler_machine_overloaded_buckets",
			Help: "Overloaded buckets in the latest utilization snapshot per machine",
		}, []string{"machine_id", "granularity"}),
		progress: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "scheduler_plan_progress_percent",
			Help: "Completed operations of a production plan",
		}, []string{"plan_id"}),
		oee: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "scheduler_machine_oee_ratio",
			Help: "Overall equipment effectiveness per machine and plan",
		}, []string{"plan_id", "machine_id"}),
		commits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scheduler_commits_total",
			Help: "Committed schedule changes by event kind",
		}, []string{"kind"}),
	}
	var err error
	if s.runs, err = register(reg, s.runs); err != nil {
		return nil, err
	}
	if s.duration, err = register(reg, s.duration); err != nil {
		return nil, err
	}
	if s.slots, err = register(reg, s.slots); err != nil {
		return nil, err
	}
	if s.conflicts, err = register(reg, s.conflicts); err != nil {
		return nil, err
	}
	if s.retries, err = register(reg, s.retries); err != nil {
		return nil, err
	}
	if s.utilization, err = register(reg, s.utilization); err != nil {
		return nil, err
	}
	if s.overloaded, err = register(reg, s.overloaded); err != nil {
		return nil, err
	}
	if s.progress, err = register(reg, s.progress); err != nil {
		return nil, err
	}
	if s.oee, err = register(reg, s.oee); err != nil {
		return nil, err
	}
	if s.commits, err = register(reg, s.commits); err != nil {
		return nil, err
	}
	return s, nil
}

// register adds c to reg or returns the collector already registered under
// the same descriptor.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// RecordPlanResult counts the run and observes its duration.
func (s *PromSink) RecordPlanResult(r coremetrics.PlanResult) error {
	run := string(r.Run)
	s.runs.WithLabelValues(run, strconv.FormatBool(r.Committed)).Inc()
	s.duration.WithLabelValues(run).Observe(r.Duration.Seconds())
	if r.Committed {
		s.slots.WithLabelValues(run).Add(float64(r.Slots))
	}
	return nil
}

// RecordConflicts counts conflicts by kind and severity.
func (s *PromSink) RecordConflicts(evs []coremetrics.ConflictEvent) error {
	for _, ev := range evs {
		s.conflicts.WithLabelValues(string(ev.Run), string(ev.Conflict.Kind), string(ev.Conflict.Severity)).Inc()
	}
	return nil
}

// RecordCommitRetry counts one retry of the run.
func (s *PromSink) RecordCommitRetry(run coremetrics.Run, _ []string) error {
	s.retries.WithLabelValues(string(run)).Inc()
	return nil
}

// RecordUtilization keeps the utilization of the latest bucket per machine
// and the number of overloaded buckets in the snapshot.
func (s *PromSink) RecordUtilization(buckets []model.CapacityBucket) error {
	type key struct{ machine, granularity string }
	latest := make(map[key]model.CapacityBucket)
	over := make(map[key]int)
	for _, b := range buckets {
		k := key{b.MachineID, string(b.Granularity)}
		if cur, ok := latest[k]; !ok || b.Start.After(cur.Start) {
			latest[k] = b
		}
		if b.IsOverloaded {
			over[k]++
		}
	}
	for k, b := range latest {
		s.utilization.WithLabelValues(k.machine, k.granularity).Set(b.Utilization)
		s.overloaded.WithLabelValues(k.machine, k.granularity).Set(float64(over[k]))
	}
	return nil
}

// RecordPlanMetrics exposes plan progress and per-machine OEE.
func (s *PromSink) RecordPlanMetrics(pm model.PlanMetrics) error {
	s.progress.WithLabelValues(pm.PlanID).Set(pm.ProgressPercent)
	for _, m := range pm.Machines {
		s.oee.WithLabelValues(pm.PlanID, m.MachineID).Set(m.OEE)
	}
	return nil
}

// RecordCommit counts committed changes by event kind.
func (s *PromSink) RecordCommit(ev coremetrics.CommitEvent) error {
	s.commits.WithLabelValues(ev.Kind).Inc()
	return nil
}
