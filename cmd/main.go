package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"dynamic-load-balancer/internal/actuator"
	"dynamic-load-balancer/internal/balancer"
	"dynamic-load-balancer/internal/config"
	"dynamic-load-balancer/internal/httpapi"
	"dynamic-load-balancer/internal/metrics"
	"dynamic-load-balancer/internal/mqtt"
	"dynamic-load-balancer/internal/notify"
	"dynamic-load-balancer/internal/ocpp"
	"dynamic-load-balancer/internal/teleinfo"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml")
	flag.Parse()

	logger := logrus.New()
	logger.SetLevel(logrus.InfoLevel)

	loader := config.NewLoader(*configPath)
	cfg, err := loader.Load()
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}
	if level, err := logrus.ParseLevel(cfg.Log.Level); err == nil {
		logger.SetLevel(level)
	}

	logger.Infof("Starting load balancer: fuse %.0fA, aggressiveness %s, phases %v",
		cfg.Balancer.FuseSize, cfg.Balancer.Aggressiveness, cfg.Balancer.EnabledPhases)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup

	var ocppServer *ocpp.Server
	if cfg.Charging.Backend == string(actuator.OCPPBackend) {
		ocppServer = ocpp.NewServer(cfg, logger)
		ocppServer.SetCurrentLimitUpdateCallback(func(stationID string, limit float64) {
			logger.Infof("OCPP: Updated current limit for %s to %.1fA", stationID, limit)
		})
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := ocppServer.Start(ctx); err != nil {
				logger.Errorf("OCPP server error: %v", err)
				cancel()
			}
		}()
	}

	var mqttClient *mqtt.Client
	if cfg.MQTT.Broker != "" {
		mqttClient, err = mqtt.NewClient(cfg, logger)
		if err != nil {
			logger.Fatalf("Failed to create MQTT client: %v", err)
		}
	}

	charger, err := actuator.CreateCharger(cfg.Charging, actuator.Sources{OCPP: ocppServer, MQTT: mqttClient}, logger)
	if err != nil {
		logger.Fatalf("Failed to create charging actuator: %v", err)
	}
	settings, err := cfg.BalancerSettings(charger)
	if err != nil {
		logger.Fatalf("Invalid balancer settings: %v", err)
	}

	deps := balancer.Dependencies{
		UpdateInterval:  cfg.Balancer.UpdateInterval,
		ActuatorTimeout: cfg.Balancer.ActuatorTimeout,
	}

	local := notify.Fanout{notify.NewLog(logger)}
	if mqttClient != nil {
		local = append(local, mqttClient.Notifier())
		deps.Switches = mqttClient
	}
	deps.Local = local
	if cfg.Notify.WebhookURL != "" {
		deps.User = notify.NewWebhook(cfg.Notify.WebhookURL, cfg.Notify.Timeout)
	}

	switch cfg.Sensors.Source {
	case config.SourceTeleinfo:
		reader := teleinfo.NewReader(cfg.Sensors, logger)
		port, err := reader.Open()
		if err != nil {
			logger.Fatalf("Failed to open teleinfo port %s: %v", cfg.Sensors.Teleinfo.Port, err)
		}
		deps.Reader = reader
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := reader.Run(ctx, port); err != nil {
				logger.Errorf("Teleinfo reader stopped: %v", err)
				cancel()
			}
		}()
	default:
		if mqttClient == nil {
			logger.Fatal("MQTT phase sensors configured without a broker")
		}
		deps.Reader = mqttClient
	}

	coordinator, err := balancer.NewCoordinator(settings, deps, logger)
	if err != nil {
		logger.Fatalf("Failed to create coordinator: %v", err)
	}
	if !cfg.Balancer.Enabled {
		coordinator.SetEnabled(ctx, false)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	coordinator.AddSnapshotObserver(metrics.NewMetrics(registry).Observe)

	if mqttClient != nil {
		coordinator.AddSnapshotObserver(mqttClient.PublishSnapshot)
		mqttClient.SetEnableHandler(func(enabled bool) {
			// Paho handlers must not wait on publish tokens.
			go coordinator.SetEnabled(ctx, enabled)
		})
		if err := mqttClient.Connect(); err != nil {
			logger.Fatalf("Failed to connect to MQTT: %v", err)
		}
		defer mqttClient.Disconnect()
	}

	loader.Watch(logger, func(next *config.Config) {
		settings, err := next.BalancerSettings(charger)
		if err != nil {
			logger.Errorf("Ignoring config change: %v", err)
			return
		}
		if err := coordinator.Reconfigure(settings); err != nil {
			logger.Errorf("Reconfiguration rejected: %v", err)
			return
		}
		if next.Balancer.Enabled != coordinator.Enabled() {
			coordinator.SetEnabled(ctx, next.Balancer.Enabled)
		}
	})

	api := httpapi.NewServer(cfg, coordinator, registry, logger)
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := api.Start(ctx); err != nil {
			logger.Errorf("HTTP API error: %v", err)
			cancel()
		}
	}()

	coordCtx, stopCoordinator := context.WithCancel(ctx)
	coordDone := make(chan struct{})
	go func() {
		defer close(coordDone)
		coordinator.Start(coordCtx)
	}()

	logger.Info("All services started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigChan:
		logger.Info("Received shutdown signal")
	case <-ctx.Done():
		logger.Info("Context cancelled")
	}

	logger.Info("Shutting down...")

	// No tick may shed again once the final restore has run.
	stopCoordinator()
	<-coordDone

	// Shed load must not stay off while nobody is watching the phases.
	restoreCtx, done := context.WithTimeout(context.Background(), 30*time.Second)
	coordinator.Shutdown(restoreCtx)
	done()

	cancel()
	if ocppServer != nil {
		ocppServer.Stop()
	}

	wg.Wait()
	logger.Info("Shutdown complete")
}
