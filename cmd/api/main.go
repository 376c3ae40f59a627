// cmd/api/main.go

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	amqp "github.com/rabbitmq/amqp091-go"

	"safeloc/internal/adapter/bus"
	"safeloc/internal/adapter/memstore"
	"safeloc/internal/adapter/sensor"
	"safeloc/internal/adapter/storage"
	"safeloc/internal/clock"
	"safeloc/internal/config"
	"safeloc/internal/domain/event"
	"safeloc/internal/domain/geo"
	"safeloc/internal/metrics"
	"safeloc/internal/server"
	"safeloc/internal/service/dispatch"
	"safeloc/internal/service/fanout"
	geoService "safeloc/internal/service/geo"
	"safeloc/internal/service/locate"
	"safeloc/internal/service/position"
	shareService "safeloc/internal/service/share"
	"safeloc/internal/service/telemetry"
	"safeloc/internal/service/viewer"
)

// deviceSensor is a position sensor that devices can push fixes into
type deviceSensor interface {
	geo.Sensor
	PublishFix(ownerID string, pos geo.Position) error
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Load environment variables from .env file
	if err := godotenv.Load(); err != nil {
		logger.Info("no .env file loaded, using environment variables")
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fatal(logger, "failed to load configuration", err)
	}

	// Setup context with cancellation for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Setup signal handling for graceful shutdown
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	clk := clock.Real()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	// Initialize store of record
	var store event.Store
	switch cfg.Store.Driver {
	case config.DriverPostgres:
		db, err := initDatabase(ctx, cfg.Database)
		if err != nil {
			fatal(logger, "failed to initialize database", err)
		}
		defer db.Close()

		eventStore := storage.NewEventStore(db)
		if cfg.Database.Migrate {
			if err := eventStore.Migrate(ctx); err != nil {
				fatal(logger, "failed to migrate database", err)
			}
		}
		store = eventStore
	default:
		logger.Warn("using in-memory store, records are lost on restart")
		store = memstore.New()
	}

	// Initialize realtime bus and device sensor
	var (
		changeBus event.Bus
		devices   deviceSensor
	)
	switch cfg.Bus.Driver {
	case config.DriverNATS:
		natsConn, err := initNATS(cfg.NATS, logger)
		if err != nil {
			fatal(logger, "failed to connect to NATS", err)
		}
		defer natsConn.Close()

		changeBus = bus.NewNATS(natsConn, logger)

		natsSensor := sensor.NewNATS(natsConn, clk, logger)
		if err := natsSensor.Start(); err != nil {
			fatal(logger, "failed to start device sensor", err)
		}
		defer natsSensor.Stop()
		devices = natsSensor
	default:
		changeBus = bus.NewMemory()
		devices = sensor.NewLocal(clk)
	}

	// Initialize services
	events := fanout.NewService(store, changeBus, clk, m, logger)
	positions := position.NewRegistry(logger)

	locator := locate.NewService(devices, positions, locate.WatcherConfig{
		OneShotTimeout: cfg.Locate.OneShotTimeout,
		OneShotMaxAge:  cfg.Locate.OneShotMaxAge,
		WatchTimeout:   cfg.Locate.WatchTimeout,
		LocateMaxZoom:  cfg.Locate.MaxZoom,
	}, logger)
	defer locator.Close()

	shareManager := shareService.NewManager(events, positions, clk, m, logger, shareService.ManagerConfig{
		TTL:             cfg.Share.TTL,
		RefreshInterval: cfg.Share.RefreshInterval,
		LinkOrigin:      cfg.Share.LinkOrigin,
	})

	// Sharing keeps the owner's watcher in continuous mode; ending it
	// tears the owner's position context down
	shareManager.RegisterLifecycleHandler(locator.OnShareTransition)
	go locator.RunSweeper(ctx, cfg.Locate.SweepInterval, cfg.Locate.IdleEviction)

	if err := shareManager.Start(ctx); err != nil {
		fatal(logger, "failed to start share manager", err)
	}

	// Initialize telemetry ingest
	var mqttClient mqtt.Client
	if cfg.MQTT.Broker != "" {
		mqttClient, err = initMQTT(cfg.MQTT)
		if err != nil {
			fatal(logger, "failed to connect to MQTT broker", err)
		}
		defer mqttClient.Disconnect(250)
	}
	ingest := telemetry.NewIngest(mqttClient, positions, clk, m, logger, telemetry.IngestConfig{
		Topic: cfg.MQTT.Topic,
		QoS:   byte(cfg.MQTT.QoS),
	})
	if err := ingest.Start(); err != nil {
		fatal(logger, "failed to subscribe to telemetry uplinks", err)
	}

	// Initialize alert dispatch
	var dispatcher *dispatch.Dispatcher
	if cfg.RabbitMQ.URL != "" {
		amqpConn, err := amqp.Dial(cfg.RabbitMQ.URL)
		if err != nil {
			fatal(logger, "failed to connect to RabbitMQ", fmt.Errorf("rabbitmq connect: %w", err))
		}
		defer amqpConn.Close()

		publisher, err := dispatch.NewAMQPPublisher(amqpConn)
		if err != nil {
			fatal(logger, "failed to declare alert exchange", err)
		}
		defer publisher.Close()

		dispatcher = dispatch.NewDispatcher(events, publisher, cfg.RabbitMQ.PublishTimeout, logger)
		if err := dispatcher.Start(); err != nil {
			fatal(logger, "failed to start alert dispatch", err)
		}
	}

	deps := server.Dependencies{
		Events:    events,
		Shares:    shareManager,
		Viewer:    viewer.NewClient(events, clk, m, logger),
		Positions: positions,
		Locator:   locator,
		Fixes:     devices,
		Ingest:    ingest,
		Proximity: geoService.NewProximityService(geoService.ProximityConfig{
			DefaultRadius: cfg.Geo.DefaultRadius,
			MinRadius:     cfg.Geo.MinRadius,
			MaxRadius:     cfg.Geo.MaxRadius,
		}),
		Clock: clk,
	}
	if cfg.Metrics.Enabled {
		deps.Metrics = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	}

	// Initialize HTTP server
	httpServer := server.NewServer(cfg.Server, cfg.Metrics.Path, deps, logger)

	// Start HTTP server
	go func() {
		logger.Info("starting HTTP server", "host", cfg.Server.Host, "port", cfg.Server.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fatal(logger, "HTTP server error", err)
		}
	}()

	// Wait for shutdown signal
	<-shutdown
	logger.Info("shutdown signal received")

	// Create shutdown context with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	// Graceful shutdown
	logger.Info("shutting down services")

	// Shutdown HTTP server
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	// Stop alert dispatch
	if dispatcher != nil {
		if err := dispatcher.Stop(); err != nil {
			logger.Error("alert dispatch shutdown error", "error", err)
		}
	}

	// Stop telemetry ingest
	if err := ingest.Stop(); err != nil {
		logger.Error("telemetry ingest shutdown error", "error", err)
	}

	// Stop share manager
	if err := shareManager.Stop(shutdownCtx); err != nil {
		logger.Error("share manager shutdown error", "error", err)
	}

	logger.Info("shutdown complete")
}

func fatal(logger *slog.Logger, msg string, err error) {
	logger.Error(msg, "error", err)
	os.Exit(1)
}

// Initialize database connection
func initDatabase(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnString())
	if err != nil {
		return nil, fmt.Errorf("unable to parse connection string: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	poolConfig.MaxConnLifetime = cfg.MaxLifetime

	db, err := pgxpool.ConnectConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}

	// Test connection
	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return db, nil
}

// Initialize NATS connection
func initNATS(cfg config.NATSConfig, logger *slog.Logger) (*nats.Conn, error) {
	options := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.ConnectTimeout),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("NATS disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logger.Info("NATS connection closed")
		}),
	}

	nc, err := nats.Connect(cfg.URL, options...)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to NATS: %w", err)
	}

	return nc, nil
}

// Initialize MQTT connection
func initMQTT(cfg config.MQTTConfig) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetAutoReconnect(true).
		SetConnectTimeout(10 * time.Second)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect: %w", token.Error())
	}
	return client, nil
}
