// Package app wires configuration, stores, the generation pipeline and the
// assignment engine into one runnable service.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/secutrans/convoy/api/assignments"
	"github.com/secutrans/convoy/config"
	"github.com/secutrans/convoy/core/assign"
	"github.com/secutrans/convoy/core/availability"
	"github.com/secutrans/convoy/core/events"
	"github.com/secutrans/convoy/core/expand"
	"github.com/secutrans/convoy/core/grouping"
	coremetrics "github.com/secutrans/convoy/core/metrics"
	"github.com/secutrans/convoy/core/model"
	"github.com/secutrans/convoy/core/scheduler"
	"github.com/secutrans/convoy/core/store"
	"github.com/secutrans/convoy/infra/fleet"
	"github.com/secutrans/convoy/infra/logger"
	"github.com/secutrans/convoy/infra/metrics"
	"github.com/secutrans/convoy/infra/notify"
	infrastore "github.com/secutrans/convoy/infra/store"
	"github.com/secutrans/convoy/internal/eventbus"
)

// Service orchestrates the generation trigger, the assignment engine and the
// surrounding infrastructure.
type Service struct {
	Store    store.Store
	Roster   *availability.Roster
	Expander *expand.Expander
	Grouper  *grouping.Grouper
	Engine   *assign.Engine
	Trigger  *scheduler.DailyTrigger

	bus  eventbus.EventBus
	sink coremetrics.Sink
	feed *fleet.StatusFeed
	hook *notify.Webhook
	log  logger.Logger

	promEnabled bool
	promAddr    string
	apiAddr     string
}

// New creates a Service from the configuration.
func New(cfg *config.Config) (*Service, error) {
	logg := logger.New("service")

	st, err := openStore(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}

	roster := availability.NewRoster()
	for _, seed := range cfg.Fleet.Resources {
		kind, err := parseKind(seed.Kind)
		if err != nil {
			return nil, err
		}
		roster.Add(availability.Resource{ID: seed.ID, Kind: kind, Capacity: seed.Capacity})
	}

	var sinks []coremetrics.Sink
	if cfg.Metrics.PrometheusEnabled {
		sink, err := metrics.NewPromSink()
		if err != nil {
			return nil, fmt.Errorf("prom sink: %w", err)
		}
		sinks = append(sinks, sink)
	}
	if cfg.Metrics.InfluxEnabled {
		sinks = append(sinks, metrics.NewInfluxSinkWithFallback(
			cfg.Metrics.InfluxURL, cfg.Metrics.InfluxToken, cfg.Metrics.InfluxOrg, cfg.Metrics.InfluxBucket))
	}
	var sink coremetrics.Sink
	if len(sinks) == 1 {
		sink = sinks[0]
	} else if len(sinks) > 1 {
		sink = metrics.NewMultiSink(sinks...)
	}

	bus := eventbus.New()

	expander, err := expand.New(st, st, logger.New("expander"))
	if err != nil {
		return nil, fmt.Errorf("expander: %w", err)
	}
	grouper, err := grouping.New(st, st, cfg.Fleet.FullDayVehicleAllocation, logger.New("grouper"))
	if err != nil {
		return nil, fmt.Errorf("grouper: %w", err)
	}
	engine, err := assign.New(st, st, st, roster, cfg.Fleet.UsageWindowDays, logger.New("assign"))
	if err != nil {
		return nil, fmt.Errorf("assignment engine: %w", err)
	}
	trigger, err := scheduler.New(cfg.Scheduler, expander, grouper, st, st, logger.New("scheduler"))
	if err != nil {
		return nil, fmt.Errorf("trigger: %w", err)
	}

	expander.SetEventBus(bus)
	grouper.SetEventBus(bus)
	engine.SetEventBus(bus)
	if sink != nil {
		expander.SetMetricsSink(sink)
		engine.SetMetricsSink(sink)
	}

	svc := &Service{
		Store:       st,
		Roster:      roster,
		Expander:    expander,
		Grouper:     grouper,
		Engine:      engine,
		Trigger:     trigger,
		bus:         bus,
		sink:        sink,
		log:         logg,
		promEnabled: cfg.Metrics.PrometheusEnabled,
		promAddr:    fmt.Sprintf(":%d", cfg.Metrics.PrometheusPort),
		apiAddr:     cfg.API.Addr,
	}

	if cfg.MQTT.Enabled {
		feed, err := fleet.NewStatusFeed(cfg.MQTT.Config, roster)
		if err != nil {
			return nil, fmt.Errorf("fleet feed: %w", err)
		}
		svc.feed = feed
	}
	if cfg.Notify.Enabled {
		hook, err := notify.NewWebhook(cfg.Notify)
		if err != nil {
			return nil, fmt.Errorf("notifier: %w", err)
		}
		svc.hook = hook
	}
	return svc, nil
}

func openStore(cfg config.StoreConfig) (store.Store, error) {
	switch cfg.Backend {
	case "memory":
		return store.NewMemoryStore(), nil
	case "sqlite":
		return infrastore.NewSQLiteStore(cfg.Path)
	case "postgres":
		return infrastore.NewPostgresStore(cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

func parseKind(s string) (model.ResourceKind, error) {
	for _, k := range model.ResourceKinds {
		if k.String() == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown resource kind %q", s)
}

// Run starts the service and blocks until the context is cancelled.
func (s *Service) Run(ctx context.Context) error {
	go s.auditEvents(ctx)
	if s.hook != nil {
		go s.hook.Run(ctx, s.bus)
	}
	go func() {
		if err := s.Trigger.Run(ctx); err != nil {
			s.log.Errorf("trigger stopped: %v", err)
		}
	}()
	if s.promEnabled {
		go func() {
			if err := metrics.StartPromServer(ctx, s.promAddr); err != nil {
				s.log.Errorf("prom server: %v", err)
			}
		}()
	}
	go s.serveAPI(ctx)
	<-ctx.Done()
	return nil
}

func (s *Service) serveAPI(ctx context.Context) {
	handler := assignments.NewHandler(s.Engine, s.Store)
	srv := &http.Server{Addr: s.apiAddr, Handler: handler}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Errorf("api shutdown: %v", err)
		}
		cancel()
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		s.log.Errorf("api server: %v", err)
	}
}

// auditEvents logs the pipeline's event stream and forwards grouping runs to
// sinks that record them. The engine publishes to the bus without blocking,
// so a stalled sink never stalls generation.
func (s *Service) auditEvents(ctx context.Context) {
	sub := s.bus.Subscribe()
	for {
		select {
		case <-ctx.Done():
			s.bus.Unsubscribe(sub)
			return
		case ev, ok := <-sub:
			if !ok {
				return
			}
			s.handleEvent(ev)
		}
	}
}

func (s *Service) handleEvent(ev eventbus.Event) {
	switch e := ev.(type) {
	case events.ExpansionCompleted:
		s.log.Infof("audit: expansion %s created=%d skipped=%d failed=%d", e.Date, e.Created, e.Skipped, e.Failed)
	case events.RoutesGrouped:
		s.log.Infof("audit: grouping %s routes=%d ungrouped=%d", e.Date, e.Routes, e.Ungrouped)
		if rec, ok := s.sink.(coremetrics.GroupingRecorder); ok {
			if err := rec.RecordGrouping(coremetrics.GroupingEvent{Date: e.Date, Routes: e.Routes, Ungrouped: e.Ungrouped}); err != nil {
				s.log.Errorf("grouping metrics: %v", err)
			}
		}
	case events.AssignmentBound:
		s.log.Infof("audit: assignment %s bound to route %s on %s", e.AssignmentID, e.RouteID, e.Date)
	case events.AssignmentConflict:
		s.log.Warnf("audit: route %s lost %s %s on %s", e.RouteID, e.Kind, e.Resource, e.Date)
	case events.AssignmentCancelled:
		s.log.Infof("audit: assignment %s cancelled on %s", e.AssignmentID, e.Date)
	}
}

// Close releases resources held by the service.
func (s *Service) Close() error {
	if s.feed != nil {
		s.feed.Close()
	}
	s.bus.Close()
	return s.Store.Close()
}
