package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kilianp07/wastedispatch/api"
	"github.com/kilianp07/wastedispatch/app/plugins"
	"github.com/kilianp07/wastedispatch/config"
	"github.com/kilianp07/wastedispatch/core/cache"
	"github.com/kilianp07/wastedispatch/core/dispatch"
	"github.com/kilianp07/wastedispatch/core/dispatch/logging"
	"github.com/kilianp07/wastedispatch/core/geoindex"
	coremetrics "github.com/kilianp07/wastedispatch/core/metrics"
	"github.com/kilianp07/wastedispatch/core/mission"
	coremon "github.com/kilianp07/wastedispatch/core/monitoring"
	corenotify "github.com/kilianp07/wastedispatch/core/notify"
	"github.com/kilianp07/wastedispatch/core/queue"
	"github.com/kilianp07/wastedispatch/core/realtime"
	"github.com/kilianp07/wastedispatch/infra/jwtauth"
	"github.com/kilianp07/wastedispatch/infra/logger"
	"github.com/kilianp07/wastedispatch/infra/metrics"
	"github.com/kilianp07/wastedispatch/infra/mongo"
	"github.com/kilianp07/wastedispatch/infra/monitoring"
	"github.com/kilianp07/wastedispatch/infra/mqtt"
	"github.com/kilianp07/wastedispatch/infra/notify"
	"github.com/kilianp07/wastedispatch/infra/redis"
	"github.com/kilianp07/wastedispatch/infra/sqlite"
	"github.com/kilianp07/wastedispatch/infra/websocket"
	"github.com/kilianp07/wastedispatch/internal/eventbus"
	"github.com/kilianp07/wastedispatch/jobs"
)

// Service owns every component of the engine and their lifecycle.
type Service struct {
	Missions  *mission.Service
	Engine    *dispatch.Engine
	Fleet     geoindex.Fleet
	Store     mission.Store
	Hub       *realtime.Hub
	Queue     *queue.Queue
	Cache     cache.Cache
	OTP       *cache.OTPStore
	Decisions logging.LogStore
	Auth      *jwtauth.Authority

	cfg       *config.Config
	log       logger.Logger
	bus       eventbus.EventBus
	monitor   coremon.Monitor
	sink      coremetrics.MetricsSink
	eventSink coremetrics.MetricsSink
	router    *corenotify.Router
	scheduler *jobs.Scheduler

	mu      sync.Mutex
	closers []func() error
}

// New builds the service from cfg. External stores are connected here;
// background loops start in Run.
func New(ctx context.Context, cfg *config.Config) (svc *Service, err error) {
	s := &Service{cfg: cfg, log: logger.New("service"), bus: eventbus.New()}
	defer func() {
		if err != nil {
			_ = s.Close()
		}
	}()

	if s.monitor, err = monitoring.NewSentryMonitor(cfg.Sentry); err != nil {
		return nil, fmt.Errorf("sentry: %w", err)
	}
	if s.sink, err = metrics.Build(cfg.Metrics.Sinks); err != nil {
		return nil, fmt.Errorf("metrics sinks: %w", err)
	}
	if s.eventSink, err = metrics.Build(cfg.Metrics.EventSinks); err != nil {
		return nil, fmt.Errorf("metrics event sinks: %w", err)
	}
	for _, sink := range []coremetrics.MetricsSink{s.sink, s.eventSink} {
		if c, ok := sink.(interface{ Close() }); ok {
			s.onClose(func() error { c.Close(); return nil })
		}
	}

	settings, err := s.openStores(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.openCache(ctx); err != nil {
		return nil, err
	}
	if s.Decisions, err = plugins.NewLogStore(cfg.Logging); err != nil {
		return nil, fmt.Errorf("decision log: %w", err)
	}
	s.onClose(s.Decisions.Close)

	if s.Auth, err = jwtauth.New(cfg.Auth.JWT); err != nil {
		return nil, fmt.Errorf("jwt: %w", err)
	}
	s.Hub = realtime.NewHub(cfg.Realtime, s.Auth, nil, realtime.HubOptions{
		Logger:  logger.New("realtime"),
		Metrics: s.sink,
		Bus:     s.bus,
	})

	if s.Queue, err = s.newQueue(); err != nil {
		return nil, err
	}

	s.Engine, err = dispatch.NewEngine(s.Fleet, s.Store, settings, cfg.Dispatch,
		dispatch.WithLogger(logger.New("dispatch")),
		dispatch.WithMetrics(s.sink),
		dispatch.WithEventBus(s.bus),
	)
	if err != nil {
		return nil, fmt.Errorf("dispatch engine: %w", err)
	}

	s.Missions, err = mission.NewService(cfg.Mission, s.Store, s.Engine, mission.ServiceOptions{
		Fleet:           s.Fleet,
		Settings:        settings,
		Hub:             s.Hub,
		Jobs:            s.Queue,
		Cache:           s.Cache,
		CreateLimiter:   cache.NewRateLimiter(s.Cache, cfg.Cache.CreateLimit.Limit, cfg.Cache.CreateLimit.Window),
		LocationLimiter: cache.NewRateLimiter(s.Cache, cfg.Cache.LocationLimit.Limit, cfg.Cache.LocationLimit.Window),
		Decisions:       s.Decisions,
		Logger:          logger.New("mission"),
		Metrics:         s.sink,
		Bus:             s.bus,
	})
	if err != nil {
		return nil, fmt.Errorf("mission service: %w", err)
	}
	s.Hub.SetActions(s.Missions)

	if s.router, err = notify.BuildRouter(cfg.Notify, logger.New("notify")); err != nil {
		return nil, fmt.Errorf("notifiers: %w", err)
	}
	s.registerHandlers()

	if s.scheduler, err = jobs.NewScheduler(cfg.Schedule, s.Queue, s.Missions, logger.New("scheduler")); err != nil {
		return nil, fmt.Errorf("scheduler: %w", err)
	}
	return s, nil
}

func (s *Service) openStores(ctx context.Context) (dispatch.OrgSettingsProvider, error) {
	switch s.cfg.Store.Backend {
	case "mongo":
		client, db, err := mongo.Connect(ctx, s.cfg.Mongo)
		if err != nil {
			return nil, fmt.Errorf("mongo: %w", err)
		}
		s.onClose(func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return client.Disconnect(ctx)
		})
		fleet := mongo.NewFleet(db)
		s.Fleet = fleet
		s.Store = mongo.NewMissionStore(db, fleet, s.cfg.Mongo.Transactions)
		return mongo.NewSettingsStore(db), nil
	default:
		fleet := geoindex.NewMemoryFleet()
		s.Fleet = fleet
		s.Store = mission.NewMemoryStore(fleet)
		return dispatch.NewMemorySettings(), nil
	}
}

func (s *Service) openCache(ctx context.Context) error {
	switch s.cfg.Cache.Backend {
	case "redis":
		c, err := redis.New(ctx, s.cfg.Redis)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		s.Cache = c
	default:
		s.Cache = cache.NewMemoryCache()
	}
	s.onClose(s.Cache.Close)
	otp := s.cfg.Cache.OTP
	s.OTP = cache.NewOTPStore(s.Cache, otp.TTL, otp.Digits, otp.MaxAttempts)
	return nil
}

func (s *Service) newQueue() (*queue.Queue, error) {
	opts := queue.Options{
		Logger:  logger.New("queue"),
		Monitor: s.monitor,
		Metrics: s.sink,
		Bus:     s.bus,
	}
	if path := s.cfg.DeadLetter.Path; path != "" {
		dl, err := sqlite.NewDeadLetterStore(path)
		if err != nil {
			return nil, fmt.Errorf("dead letters: %w", err)
		}
		s.onClose(dl.Close)
		opts.DeadLetter = dl
	}
	return queue.New(s.cfg.Queue, opts), nil
}

func (s *Service) registerHandlers() {
	s.Queue.Register(queue.KindAssignCollector, &jobs.AssignHandler{
		Assigner: s.Missions,
		Jobs:     s.Queue,
		Delay:    s.cfg.Queue.RedispatchDelay,
		Log:      logger.New("job_assign"),
	})
	s.Queue.Register(queue.KindNotifySMS, &jobs.NotifyHandler{Notifier: s.router, Channel: corenotify.ChannelSMS})
	s.Queue.Register(queue.KindNotifyEmail, &jobs.NotifyHandler{Notifier: s.router, Channel: corenotify.ChannelEmail})
	s.Queue.Register(queue.KindRecomputeHeatmap, &jobs.HeatmapHandler{
		Missions: s.Store,
		Cache:    s.Cache,
		TTL:      s.cfg.Cache.HeatmapTTL,
	})
	s.Queue.Register(queue.KindCleanup, &jobs.CleanupHandler{Cache: s.Cache, Log: logger.New("job_cleanup")})
}

// Handler returns the HTTP API including the websocket endpoint.
func (s *Service) Handler() http.Handler {
	return api.NewRouter(api.Deps{
		Missions:   s.Missions,
		Collectors: s.Missions,
		Queue:      s.Queue,
		Decisions:  s.Decisions,
		Cache:      s.Cache,
		OTP:        s.OTP,
		Verifier:   s.Auth,
		WebSocket:  websocket.NewHandler(s.Hub, s.cfg.WebSocket, logger.New("websocket")),
		WSPath:     s.cfg.WebSocket.Path,
		Logger:     logger.New("api"),
	})
}

// Run starts the queue, the scheduler, the metrics endpoints, the MQTT
// bridge and the HTTP server, then blocks until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	defer s.monitor.Flush(2 * time.Second)

	if err := s.Queue.Start(ctx); err != nil {
		return err
	}
	defer s.Queue.Stop()
	s.scheduler.Start()
	defer s.scheduler.Stop()

	metrics.StartEventCollector(ctx, s.bus, s.eventSink)
	if addr := s.cfg.Metrics.PrometheusAddr; addr != "" {
		if err := prometheus.Register(metrics.NewQueueCollector(s.Queue)); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				return fmt.Errorf("queue collector: %w", err)
			}
		}
		go func() {
			if err := metrics.StartPromServer(ctx, addr, prometheus.DefaultGatherer); err != nil {
				s.log.Errorf("prom server: %v", err)
			}
		}()
	}

	if s.cfg.MQTT.Enabled {
		client, err := mqtt.NewPahoClient(s.cfg.MQTT, s.Missions, s.monitor)
		if err != nil {
			return fmt.Errorf("mqtt client: %w", err)
		}
		defer client.Disconnect()
		bridge := mqtt.NewBridge(client, s.cfg.MQTT.TopicPrefix, logger.New("mqtt_bridge"))
		go func() {
			if err := bridge.Run(ctx, s.Hub.Mirror()); err != nil && !errors.Is(err, context.Canceled) {
				s.log.Errorf("mqtt bridge: %v", err)
			}
		}()
	}

	srv := &http.Server{
		Addr:         s.cfg.HTTP.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.HTTP.ReadTimeout,
		WriteTimeout: s.cfg.HTTP.WriteTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Infof("http listening on %s", s.cfg.HTTP.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.HTTP.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func (s *Service) onClose(fn func() error) {
	s.mu.Lock()
	s.closers = append(s.closers, fn)
	s.mu.Unlock()
}

// Close releases resources in reverse order of acquisition.
func (s *Service) Close() error {
	s.mu.Lock()
	closers := s.closers
	s.closers = nil
	s.mu.Unlock()
	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	if s.Hub != nil {
		s.Hub.Close()
	}
	if s.bus != nil {
		s.bus.Close()
	}
	return errors.Join(errs...)
}
