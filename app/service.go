package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kilianp07/shopsched/api/schedule"
	"github.com/kilianp07/shopsched/config"
	"github.com/kilianp07/shopsched/core/audit"
	"github.com/kilianp07/shopsched/core/engine"
	"github.com/kilianp07/shopsched/core/events"
	coremetrics "github.com/kilianp07/shopsched/core/metrics"
	coremon "github.com/kilianp07/shopsched/core/monitoring"
	coremqtt "github.com/kilianp07/shopsched/core/mqtt"
	"github.com/kilianp07/shopsched/core/store"
	"github.com/kilianp07/shopsched/infra/logger"
	"github.com/kilianp07/shopsched/infra/metrics"
	"github.com/kilianp07/shopsched/infra/monitoring"
	"github.com/kilianp07/shopsched/infra/mqtt"
	"github.com/kilianp07/shopsched/infra/registry"
	infrastore "github.com/kilianp07/shopsched/infra/store"
	"github.com/kilianp07/shopsched/internal/eventbus"
)

// Broker is the MQTT connection used by the notifier and the report
// listener.
type Broker interface {
	coremqtt.Publisher
	coremqtt.Subscriber
	Disconnect()
}

func connectPaho(cfg mqtt.Config) (Broker, error) {
	c, err := mqtt.NewPahoClient(cfg)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Service wires the engine to its stores and transports.
type Service struct {
	Engine   *engine.Engine
	Registry *registry.Registry
	Slots    store.SlotStore
	Audit    audit.Store
	Bus      *eventbus.TypedBus[events.ScheduleEvent]

	cfg     *config.Config
	sink    coremetrics.MetricsSink
	monitor coremon.Monitor
	log     logger.Logger
	connect func(mqtt.Config) (Broker, error)
}

// New creates a Service from the configuration. Transports are started by
// Run; the CLI uses the engine directly.
func New(cfg *config.Config) (*Service, error) {
	s := &Service{cfg: cfg, connect: connectPaho}
	s.log = s.logger("service")

	mon, err := monitoring.NewSentryMonitor(cfg.Sentry)
	if err != nil {
		return nil, fmt.Errorf("monitor: %w", err)
	}
	s.monitor = mon

	if s.Registry, err = registry.Load(cfg.Registry.Path); err != nil {
		return nil, fmt.Errorf("registry: %w", err)
	}
	if s.Slots, err = openSlots(cfg.Store); err != nil {
		return nil, fmt.Errorf("slot store: %w", err)
	}
	if s.Audit, err = openAudit(cfg.Audit); err != nil {
		_ = s.Slots.Close()
		return nil, fmt.Errorf("audit store: %w", err)
	}
	if s.sink, err = coremetrics.NewMetricsSink(cfg.Metrics.Sinks); err != nil {
		s.closeStores()
		return nil, fmt.Errorf("metrics sink: %w", err)
	}

	s.Bus = eventbus.NewTyped[events.ScheduleEvent]()
	s.Engine, err = engine.New(cfg.Engine, engine.Deps{
		Orders:   s.Registry,
		Machines: s.Registry,
		Slots:    s.Slots,
		Plans:    s.Registry,
		Reports:  s.Registry,
		Status:   s.Registry,
		Audit:    s.Audit,
		Logger:   s.logger("engine"),
		Sink:     s.sink,
		Bus:      s.Bus,
		Monitor:  s.monitor,
	})
	if err != nil {
		s.closeStores()
		return nil, err
	}
	return s, nil
}

func openSlots(c config.StoreConfig) (store.SlotStore, error) {
	if c.Backend == "sqlite" {
		return infrastore.NewSQLiteSlotStore(c.Path)
	}
	return infrastore.NewMemorySlotStore(), nil
}

func openAudit(c config.AuditConfig) (audit.Store, error) {
	switch c.Backend {
	case "sqlite":
		return audit.NewSQLiteStore(c.Path)
	case "none":
		return audit.NopStore{}, nil
	default:
		return audit.NewJSONLStore(c.Path, c.MaxSizeMB, c.MaxBackups, c.MaxAgeDays)
	}
}

func (s *Service) logger(component string) logger.Logger {
	return logger.NewWithConfig(component, s.cfg.Log, os.Stdout)
}

// Handler returns the HTTP API.
func (s *Service) Handler() http.Handler {
	return schedule.NewHandler(s.Engine, s.Audit, s.cfg.HTTP.Token, s.logger("api"))
}

// Run starts the transports and blocks until the context is cancelled or
// one of them fails.
func (s *Service) Run(ctx context.Context) error {
	defer s.monitor.Recover()

	var notifier *mqtt.ConflictNotifier
	if s.cfg.MQTT.Enabled {
		b, err := s.connect(s.cfg.MQTT)
		if err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
		defer b.Disconnect()
		mlog := s.logger("mqtt")
		reports := mqtt.NewReportListener(b, s.cfg.MQTT.TopicPrefix, s.Registry, s.Engine, mlog, s.monitor)
		if err := reports.Start(); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
		notifier = mqtt.NewConflictNotifier(b, s.cfg.MQTT.TopicPrefix, mlog, s.monitor)
	}

	g, ctx := errgroup.WithContext(ctx)
	metrics.StartEventCollector(ctx, s.Bus, s.sink, s.logger("metrics"))
	if notifier != nil {
		g.Go(func() error {
			notifier.Run(ctx, s.Bus)
			return nil
		})
	}

	if addr := s.cfg.Metrics.PrometheusAddr; addr != "" {
		g.Go(func() error {
			return metrics.StartPromServer(ctx, addr, nil, s.logger("metrics"))
		})
	}

	if s.cfg.Replan.Enabled {
		loop := NewReplanLoop(s.Registry, s.Engine, s.logger("replan"))
		g.Go(func() error {
			loop.Run(ctx, s.cfg.Replan.CheckInterval())
			return nil
		})
	}

	g.Go(func() error { return s.serveHTTP(ctx) })
	return g.Wait()
}

func (s *Service) serveHTTP(ctx context.Context) error {
	srv := &http.Server{Addr: s.cfg.HTTP.Addr, Handler: s.Handler(), ReadHeaderTimeout: 5 * time.Second}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	s.log.Infof("serving API on %s", s.cfg.HTTP.Addr)
	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http: %w", err)
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.HTTP.ShutdownTimeout())
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func (s *Service) closeStores() {
	if err := s.Slots.Close(); err != nil {
		s.log.Errorf("close slot store: %v", err)
	}
	if err := s.Audit.Close(); err != nil {
		s.log.Errorf("close audit store: %v", err)
	}
}

// Close releases resources held by the service.
func (s *Service) Close() error {
	s.Bus.Close()
	if c, ok := s.sink.(interface{ Close() }); ok {
		c.Close()
	}
	var errs []error
	if err := s.Slots.Close(); err != nil {
		errs = append(errs, fmt.Errorf("slot store: %w", err))
	}
	if err := s.Audit.Close(); err != nil {
		errs = append(errs, fmt.Errorf("audit store: %w", err))
	}
	s.monitor.Flush(2 * time.Second)
	return errors.Join(errs...)
}
