// Atomberg fan integration core.
//
// This is the main entry point. It loads the configuration, opens the
// local store, starts one coordinator per configured Atomberg account on
// a shared UDP broadcast listener, and exposes the merged fan state over
// MQTT, InfluxDB and the HTTP/WebSocket API.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dasshubham762/atomberg-integration/internal/accounts"
	"github.com/dasshubham762/atomberg-integration/internal/api"
	"github.com/dasshubham762/atomberg-integration/internal/broadcast"
	"github.com/dasshubham762/atomberg-integration/internal/cloud"
	"github.com/dasshubham762/atomberg-integration/internal/coordinator"
	"github.com/dasshubham762/atomberg-integration/internal/device"
	"github.com/dasshubham762/atomberg-integration/internal/infrastructure/config"
	"github.com/dasshubham762/atomberg-integration/internal/infrastructure/database"
	"github.com/dasshubham762/atomberg-integration/internal/infrastructure/influxdb"
	"github.com/dasshubham762/atomberg-integration/internal/infrastructure/logging"
	"github.com/dasshubham762/atomberg-integration/internal/infrastructure/mqtt"
	"github.com/dasshubham762/atomberg-integration/internal/relay"
	"github.com/dasshubham762/atomberg-integration/internal/settings"
	"github.com/dasshubham762/atomberg-integration/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const (
	defaultConfigPath  = "configs/config.yaml"
	defaultEnvFilePath = ".env"

	// Buffer of each fan-out subscription feeding the relay and the websocket hub.
	notificationBuffer = 256

	pruneInterval = 6 * time.Hour
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the application logic, separated from main for testability.
// It blocks until ctx is cancelled and returns nil on a clean shutdown.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting atomberg core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	if err := config.LoadEnvFile(getEnvFilePath()); err != nil {
		return err
	}

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	db, err := database.Open(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	store := settings.NewStore(db.DB)
	seeded, err := store.SeedFromConfig(ctx, cfg.Accounts)
	if err != nil {
		return fmt.Errorf("seeding accounts: %w", err)
	}
	log.Info("accounts seeded from config", "seeded", seeded)

	// Shared UDP listener. Without it every account runs cloud-only.
	session := broadcast.NewSession(broadcast.Config{
		ListenHost: cfg.Broadcast.ListenHost,
		Port:       cfg.Broadcast.Port,
		QueueSize:  cfg.Broadcast.QueueSize,
	})
	session.SetLogger(log.Component("broadcast"))
	var listener coordinator.Listener
	if startErr := session.Start(ctx); startErr != nil {
		log.Warn("broadcast listener unavailable, local updates disabled",
			"port", cfg.Broadcast.Port, "error", startErr)
	} else {
		listener = session
		log.Info("broadcast listener started", "addr", session.Addr().String())
	}
	defer func() {
		log.Info("closing broadcast listener")
		if closeErr := session.Close(); closeErr != nil {
			log.Error("error closing broadcast listener", "error", closeErr)
		}
	}()

	sender := broadcast.NewSender(cfg.Broadcast.CommandPort)
	sender.SetLogger(log.Component("broadcast"))

	snapshots := device.NewSQLiteSnapshotStore(db.DB)
	history := device.NewSQLiteStateHistoryRepository(db.DB)

	manager := coordinator.NewManager()
	defer func() {
		log.Info("stopping coordinators")
		manager.StopAll()
	}()
	accountSvc, err := accounts.NewService(accounts.Config{
		RefreshInterval:     cfg.GetRefreshInterval(),
		AvailabilityTimeout: cfg.GetAvailabilityTimeout(),
		SweepInterval:       cfg.GetSweepInterval(),
	}, accounts.Options{
		Store:   store,
		Manager: manager,
		Dial:    cloudDialer(cfg, log),
		Shared: coordinator.Options{
			Listener:  listener,
			Sender:    sender,
			Snapshots: snapshots,
		},
		Logger: log,
	})
	if err != nil {
		return fmt.Errorf("creating account service: %w", err)
	}
	started, err := accountSvc.StartAll(ctx)
	if err != nil {
		return fmt.Errorf("starting accounts: %w", err)
	}
	log.Info("accounts started", "running", started)

	// Connect to MQTT broker (optional)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(ctx, cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log.Component("mqtt"))
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
	} else {
		log.Info("MQTT disabled")
	}

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(ctx, cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			stats := influxClient.Stats()
			log.Info("closing InfluxDB connection", "points_written", stats.Written, "failed_batches", stats.Failed)
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	var background sync.WaitGroup
	bgCtx, stopBackground := context.WithCancel(ctx)
	// Background work stops before the clients it writes to are closed.
	defer func() {
		stopBackground()
		background.Wait()
	}()

	opts := relay.Options{History: history, Logger: log.Component("relay")}
	if mqttClient != nil {
		opts.Broker = mqttClient
	}
	if influxClient != nil {
		opts.Telemetry = influxClient
	}
	rl := relay.New(manager, relay.Config{QoS: byte(cfg.MQTT.QoS)}, opts)
	relaySub := manager.Subscribe(notificationBuffer)
	defer relaySub.Cancel()
	background.Add(1)
	go func() {
		defer background.Done()
		if runErr := rl.Run(bgCtx, relaySub.C()); runErr != nil {
			log.Error("relay stopped", "error", runErr)
		}
	}()

	if retention := cfg.GetHistoryRetention(); retention > 0 {
		background.Add(1)
		go func() {
			defer background.Done()
			pruneHistory(bgCtx, history, retention, log)
		}()
	}

	if cfg.API.Enabled {
		checks := map[string]api.HealthChecker{"database": db}
		if mqttClient != nil {
			checks["mqtt"] = mqttClient
		}
		if influxClient != nil {
			checks["influxdb"] = influxClient
		}
		wsSub := manager.Subscribe(notificationBuffer)
		defer wsSub.Cancel()

		server, apiErr := api.New(api.Deps{
			Config:        cfg.API,
			WS:            cfg.WebSocket,
			Logger:        log.Component("api"),
			Fleet:         manager,
			Version:       version,
			Accounts:      accountSvc,
			History:       history,
			Checks:        checks,
			Notifications: wsSub.C(),
		})
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		if startErr := server.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			log.Info("stopping API server")
			if closeErr := server.Close(); closeErr != nil {
				log.Error("error stopping API server", "error", closeErr)
			}
		}()
		log.Info("API server started", "addr", server.Addr().String())
	} else {
		log.Info("API disabled")
	}

	log.Info("initialisation complete, waiting for shutdown signal",
		"accounts", len(manager.Coordinators()))

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse order:
	// API, background workers, InfluxDB, MQTT, coordinators, listener, database.

	log.Info("atomberg core stopped")
	return nil
}

// cloudDialer builds the cloud client of an account, logging under its id.
func cloudDialer(cfg *config.Config, log *logging.Logger) accounts.Dialer {
	return func(acc settings.Account) accounts.Cloud {
		client := cloud.New(cloud.Config{
			BaseURL:      cfg.Cloud.BaseURL,
			APIKey:       acc.APIKey,
			RefreshToken: acc.RefreshToken,
			Timeout:      cfg.GetRequestTimeout(),
		})
		client.SetLogger(log.Account(acc.ID).Component("cloud"))
		return client
	}
}

// pruneHistory deletes state history older than retention, once at
// startup and then every pruneInterval.
func pruneHistory(ctx context.Context, history *device.SQLiteStateHistoryRepository, retention time.Duration, log *logging.Logger) {
	prune := func() {
		removed, err := history.PruneHistory(ctx, retention)
		if err != nil {
			if ctx.Err() == nil {
				log.Warn("pruning state history failed", "error", err)
			}
			return
		}
		if removed > 0 {
			log.Info("pruned state history", "removed", removed, "retention", retention.String())
		}
	}

	prune()
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			prune()
		}
	}
}

// getConfigPath returns the configuration file path.
// Uses ATOMBERG_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("ATOMBERG_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// getEnvFilePath returns the optional dotenv file path.
// Uses ATOMBERG_ENV_FILE environment variable if set, otherwise default.
func getEnvFilePath() string {
	if path := os.Getenv("ATOMBERG_ENV_FILE"); path != "" {
		return path
	}
	return defaultEnvFilePath
}

// healthCheck verifies all infrastructure connections are healthy.
// mqttClient and influxClient are nil when disabled.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}
