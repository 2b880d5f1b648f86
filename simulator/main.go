package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/kilianp07/wastedispatch/core/logger"
	"github.com/kilianp07/wastedispatch/infra/jwtauth"
	infralog "github.com/kilianp07/wastedispatch/infra/logger"
)

func main() {
	cfg := parseFlags()
	log := infralog.New("simulator")
	if err := (&cfg).Validate(); err != nil {
		log.Errorf("invalid config: %v", err)
		os.Exit(2)
	}
	if !cfg.Verbose {
		log = logger.NopLogger{}
	}

	duty := FullDuty()
	if cfg.DutyFile != "" {
		data, err := os.ReadFile(cfg.DutyFile)
		if err == nil {
			duty, err = LoadDutyProfile(data)
		}
		if err != nil {
			log.Errorf("duty file: %v", err)
			os.Exit(1)
		}
	}

	var handler MissionHandler = LogHandler{Log: log}
	var api *APIClient
	if cfg.APIURL != "" {
		auth, err := jwtauth.New(jwtauth.Config{Secret: cfg.JWTSecret})
		if err != nil {
			log.Errorf("jwt: %v", err)
			os.Exit(1)
		}
		api = &APIClient{
			BaseURL:      cfg.APIURL,
			Tokens:       auth,
			Organization: cfg.Organization,
			HTTP:         &http.Client{Timeout: 10 * time.Second},
		}
		handler = APIHandler{
			API:      api,
			Delay:    cfg.HandleDelay,
			DropRate: cfg.DropRate,
			Log:      log,
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fleet := GenerateFleet(FleetConfig{
		Size:         cfg.Count,
		Organization: cfg.Organization,
		Center:       cfg.Center,
		SpreadM:      cfg.SpreadM,
		Duty:         duty,
	})
	if api != nil {
		if err := registerFleet(ctx, api, fleet); err != nil {
			log.Errorf("register fleet: %v", err)
			os.Exit(1)
		}
	}
	runCollectors(ctx, fleet, cfg, handler, log)
}

func parseFlags() Config {
	var cfg Config
	flag.StringVar(&cfg.Broker, "broker", "tcp://localhost:1883", "MQTT broker URL")
	flag.StringVar(&cfg.TopicPrefix, "topic-prefix", "wastedispatch", "MQTT topic prefix")
	flag.IntVar(&cfg.Count, "count", 5, "number of collectors")
	flag.StringVar(&cfg.Organization, "org", "", "organization of the simulated collectors")
	flag.Float64Var(&cfg.Center.Lat, "lat", 48.8566, "fleet center latitude")
	flag.Float64Var(&cfg.Center.Lng, "lng", 2.3522, "fleet center longitude")
	flag.Float64Var(&cfg.SpreadM, "spread", 5000, "fleet radius in meters")
	flag.Float64Var(&cfg.SpeedMps, "speed", 8, "collector speed in m/s")
	flag.DurationVar(&cfg.Interval, "interval", 10*time.Second, "location publish interval")
	flag.StringVar(&cfg.DutyFile, "duty-file", "", "hourly on-duty probability JSON")
	flag.StringVar(&cfg.APIURL, "api-url", "", "dispatch API base URL for start/complete")
	flag.StringVar(&cfg.JWTSecret, "jwt-secret", "", "secret used to mint collector tokens")
	flag.DurationVar(&cfg.HandleDelay, "handle-delay", 30*time.Second, "delay before start and before complete")
	flag.Float64Var(&cfg.DropRate, "drop-rate", 0, "share of assignments left untouched")
	flag.BoolVar(&cfg.Verbose, "verbose", false, "enable logging")
	flag.Parse()
	return cfg
}

func registerFleet(ctx context.Context, api *APIClient, fleet []SimulatedCollector) error {
	for i := range fleet {
		if err := api.Register(ctx, fleet[i].ID); err != nil {
			return err
		}
	}
	return nil
}

func runCollectors(ctx context.Context, fleet []SimulatedCollector, cfg Config, h MissionHandler, log logger.Logger) {
	var wg sync.WaitGroup
	for i := range fleet {
		c := &fleet[i]
		c.Broker = cfg.Broker
		c.TopicPrefix = cfg.TopicPrefix
		c.Interval = cfg.Interval
		c.SpeedMps = cfg.SpeedMps
		c.Handler = h
		c.Log = log
		wg.Add(1)
		go func(c *SimulatedCollector) {
			defer wg.Done()
			if err := c.Run(ctx); err != nil {
				log.Errorf("%s: %v", c.ID, err)
			}
		}(c)
	}
	wg.Wait()
}
