// Casambi Bridge - cloud lighting gateway
//
// This is the main entry point for the bridge. It maintains one
// persistent websocket to the Casambi cloud, multiplexes a wire per
// authenticated network over it, and mirrors unit state and commands
// onto the local MQTT bus.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/larkov/casambi-bridge/migrations"

	"github.com/larkov/casambi-bridge/internal/api"
	"github.com/larkov/casambi-bridge/internal/audit"
	"github.com/larkov/casambi-bridge/internal/bridge"
	"github.com/larkov/casambi-bridge/internal/casambi"
	"github.com/larkov/casambi-bridge/internal/infrastructure/config"
	"github.com/larkov/casambi-bridge/internal/infrastructure/database"
	"github.com/larkov/casambi-bridge/internal/infrastructure/influxdb"
	"github.com/larkov/casambi-bridge/internal/infrastructure/logging"
	"github.com/larkov/casambi-bridge/internal/infrastructure/mqtt"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Casambi bridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Load configuration
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open the audit database
	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
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

	// Run migrations
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	auditRepo := audit.NewSQLiteRepository(db.DB)

	// Connect to MQTT broker
	mqttClient, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)

		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
	} else {
		log.Info("InfluxDB disabled")
	}

	// Open the cloud connection and authenticate
	conn, registry, err := connectCloud(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("connecting to cloud: %w", err)
	}
	defer func() {
		log.Info("closing cloud connection")
		if closeErr := conn.Close(); closeErr != nil {
			log.Error("error closing cloud connection", "error", closeErr)
		}
	}()

	// Create and start the bridge
	opts := bridge.BridgeOptions{
		Config:     cfg,
		MQTTClient: &mqttBridgeAdapter{client: mqttClient},
		Registry:   registry,
		Cloud:      conn,
		Version:    version,
		Logger:     log,
		Recorder:   &commandRecorder{repo: auditRepo},
	}
	if influxClient != nil {
		opts.StateWriter = influxClient
	}

	br, err := bridge.NewBridge(opts)
	if err != nil {
		return fmt.Errorf("creating bridge: %w", err)
	}
	if err := br.Start(ctx); err != nil {
		return fmt.Errorf("starting bridge: %w", err)
	}
	defer func() {
		log.Info("stopping bridge")
		br.Stop()
	}()
	log.Info("bridge started", "id", cfg.Bridge.ID)

	// Start the HTTP API (optional)
	if cfg.API.Enabled {
		apiServer, apiErr := api.New(api.Deps{
			Config:   cfg.API,
			BridgeID: cfg.Bridge.ID,
			Logger:   log,
			Bridge:   br,
			Audit:    auditRepo,
			Version:  version,
		})
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		if startErr := apiServer.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			if closeErr := apiServer.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	} else {
		log.Info("API server disabled")
	}

	// Verify all connections are healthy
	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls will run in reverse order:
	// 1. API server (if enabled)
	// 2. Bridge
	// 3. Cloud connection
	// 4. InfluxDB (if enabled)
	// 5. MQTT
	// 6. Database

	log.Info("Casambi bridge stopped")
	return nil
}

// connectCloud dials the cloud websocket, logs in, opens a wire per
// network, and runs initial unit discovery.
func connectCloud(ctx context.Context, cfg *config.Config, log *logging.Logger) (*casambi.Connection, *casambi.Registry, error) {
	dialer := casambi.NewWebsocketDialer(cfg.Casambi.SocketURL, cfg.Casambi.APIKey)

	conn, err := casambi.NewConnection(casambi.ConnectionOptions{
		Dialer:            dialer,
		Logger:            log,
		KeepaliveInterval: cfg.Casambi.GetKeepaliveInterval(),
		WatchdogTimeout:   cfg.Casambi.GetWatchdogTimeout(),
		ReconnectDelay:    cfg.Casambi.GetReconnectDelay(),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("creating connection: %w", err)
	}

	rest, err := casambi.NewRESTClient(casambi.RESTClientOptions{
		BaseURL: cfg.Casambi.BaseURL,
		APIKey:  cfg.Casambi.APIKey,
	})
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("creating REST client: %w", err)
	}

	creds := casambi.Credentials{
		Mode:       cfg.Casambi.Mode,
		Identifier: cfg.Casambi.Identifier,
		Secret:     cfg.Casambi.Secret,
	}

	registry, err := casambi.LoginWithRetry(ctx, creds, cfg.Casambi.GetLoginRetryCooldown(), casambi.RegistryOptions{
		Connection: conn,
		REST:       rest,
		Logger:     log,
	})
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("logging in: %w", err)
	}

	if err := registry.EnsureWiresOpen(ctx); err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("opening wires: %w", err)
	}

	units, err := registry.DiscoverUnits(ctx)
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("discovering units: %w", err)
	}
	log.Info("cloud connected",
		"networks", len(registry.Sessions()),
		"units", len(units),
	)

	return conn, registry, nil
}

// getConfigPath returns the configuration file path.
// Uses CASAMBRIDGE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("CASAMBRIDGE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies all infrastructure connections are healthy.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	// Cloud connection health is the bridge's own concern: the watchdog
	// and reconnect loop keep it alive for the process lifetime.

	return nil
}

// mqttBridgeAdapter adapts the infrastructure MQTT client to the bridge's
// MQTTClient interface. The difference is the Subscribe handler signature:
// - Infrastructure mqtt: func(topic, payload []byte) error
// - Bridge expects: func(topic, payload []byte)
type mqttBridgeAdapter struct {
	client *mqtt.Client
}

// Publish implements bridge.MQTTClient.
func (a *mqttBridgeAdapter) Publish(topic string, payload []byte, qos byte, retained bool) error {
	return a.client.Publish(topic, payload, qos, retained)
}

// Subscribe implements bridge.MQTTClient.
func (a *mqttBridgeAdapter) Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error {
	// Wrap the void handler to return nil error (bridge handlers don't return errors)
	return a.client.Subscribe(topic, qos, func(t string, p []byte) error {
		handler(t, p)
		return nil
	})
}

// IsConnected implements bridge.MQTTClient.
func (a *mqttBridgeAdapter) IsConnected() bool {
	return a.client.IsConnected()
}

// commandRecorder adapts the audit repository to the bridge's
// CommandRecorder interface, marshalling controls to JSON.
type commandRecorder struct {
	repo audit.Repository
}

// RecordCommand implements bridge.CommandRecorder.
func (r *commandRecorder) RecordCommand(ctx context.Context, rec bridge.CommandRecord) error {
	controls, err := json.Marshal(rec.Controls)
	if err != nil {
		return fmt.Errorf("marshalling controls: %w", err)
	}

	return r.repo.Create(ctx, &audit.Entry{
		ID:        rec.ID,
		Network:   rec.Network,
		Unit:      rec.Unit,
		Controls:  controls,
		Source:    rec.Source,
		Outcome:   rec.Outcome,
		CreatedAt: rec.Timestamp,
	})
}
