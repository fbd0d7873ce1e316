package metrics

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	coremetrics "github.com/kilianp07/shopsched/core/metrics"
	"github.com/kilianp07/shopsched/core/model"
	"github.com/kilianp07/shopsched/infra/logger"
)

// InfluxConfig points the sink at an InfluxDB v2 bucket.
type InfluxConfig struct {
	URL    string `json:"url"`
	Token  string `json:"token"`
	Org    string `json:"org"`
	Bucket string `json:"bucket"`
}

// InfluxSink writes engine runs to an InfluxDB instance using the official client.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	log      logger.Logger
}

// NewInfluxSink creates a new sink configured for the given InfluxDB endpoint.
func NewInfluxSink(cfg InfluxConfig) *InfluxSink {
	base := strings.TrimSuffix(cfg.URL, "/api/v2/write")
	client := influxdb2.NewClientWithOptions(base, cfg.Token,
		influxdb2.DefaultOptions().SetHTTPClient(&http.Client{Timeout: 5 * time.Second}))
	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		log:      logger.New("influx-sink"),
	}
}

// NewInfluxSinkWithFallback pings the InfluxDB instance and returns a
// NopSink if the health check fails.
func NewInfluxSinkWithFallback(cfg InfluxConfig) coremetrics.MetricsSink {
	sink := NewInfluxSink(cfg)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	health, err := sink.client.Health(ctx)
	if err != nil || health.Status != "pass" {
		if err != nil {
			sink.log.Errorf("influx health check error: %v", err)
		} else {
			sink.log.Errorf("influx health status: %s", health.Status)
		}
		sink.client.Close()
		return coremetrics.NopSink{}
	}
	return sink
}

// Close releases the client.
func (s *InfluxSink) Close() {
	s.client.Close()
}

// RecordPlanResult writes one plan_run point.
func (s *InfluxSink) RecordPlanResult(r coremetrics.PlanResult) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("plan_run").
		AddTag("run", string(r.Run)).
		AddTag("committed", strconv.FormatBool(r.Committed))
	if r.PlanID != "" {
		p = p.AddTag("plan_id", r.PlanID)
	}
	if r.Rule != "" {
		p = p.AddTag("rule", r.Rule)
	}
	p = p.AddField("slots", r.Slots).
		AddField("conflicts", r.Conflicts).
		AddField("critical", r.Critical).
		AddField("retries", r.Retries).
		AddField("duration_ms", round3(r.Duration.Seconds()*1000)).
		SetTime(r.Time)
	return s.writeAPI.WritePoint(ctx, p)
}

// RecordUtilization writes one capacity_bucket point per bucket.
func (s *InfluxSink) RecordUtilization(buckets []model.CapacityBucket) error {
	if len(buckets) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	points := make([]*write.Point, 0, len(buckets))
	for _, b := range buckets {
		points = append(points, write.NewPointWithMeasurement("capacity_bucket").
			AddTag("machine_id", b.MachineID).
			AddTag("granularity", string(b.Granularity)).
			AddField("available_minutes", round3(b.AvailableMinutes)).
			AddField("planned_minutes", round3(b.PlannedMinutes)).
			AddField("utilization", round3(b.Utilization)).
			AddField("overloaded", b.IsOverloaded).
			SetTime(b.Start))
	}
	return s.writeAPI.WritePoint(ctx, points...)
}

// RecordConflicts writes one conflict point per event.
func (s *InfluxSink) RecordConflicts(evs []coremetrics.ConflictEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, ev := range evs {
		c := ev.Conflict
		p := write.NewPointWithMeasurement("conflict").
			AddTag("run", string(ev.Run)).
			AddTag("kind", string(c.Kind)).
			AddTag("severity", string(c.Severity))
		if c.MachineID != "" {
			p = p.AddTag("machine_id", c.MachineID)
		}
		p = p.AddField("slots", strings.Join(c.SlotIDs, ",")).
			AddField("message", c.Message).
			SetTime(ev.Time)
		if err := s.writeAPI.WritePoint(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

// RecordPlanMetrics writes the plan summary and one machine_oee point per
// machine.
func (s *InfluxSink) RecordPlanMetrics(pm model.PlanMetrics) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("plan_metrics").
		AddTag("plan_id", pm.PlanID).
		AddField("progress_percent", round3(pm.ProgressPercent)).
		AddField("efficiency", round3(pm.Efficiency)).
		AddField("fleet_oee", round3(pm.FleetOEE)).
		AddField("estimated_hours", round3(pm.EstimatedHours)).
		AddField("available_hours", round3(pm.AvailableHours)).
		SetTime(pm.ComputedAt)
	if err := s.writeAPI.WritePoint(ctx, p); err != nil {
		return err
	}
	for _, m := range pm.Machines {
		mp := write.NewPointWithMeasurement("machine_oee").
			AddTag("plan_id", pm.PlanID).
			AddTag("machine_id", m.MachineID).
			AddField("availability", round3(m.Availability)).
			AddField("performance", round3(m.Performance)).
			AddField("quality", round3(m.Quality)).
			AddField("oee", round3(m.OEE)).
			SetTime(pm.ComputedAt)
		if err := s.writeAPI.WritePoint(ctx, mp); err != nil {
			return err
		}
	}
	return nil
}

func round3(f float64) float64 {
	return math.Round(f*1000) / 1000
}
