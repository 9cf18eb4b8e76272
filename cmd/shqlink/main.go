// Command shqlink keeps persistent supervised connections to embedded
// device controllers (door automation, kiosk displays) and polls the
// cloud climate API, bridging all of them onto the site's MQTT surface:
// retained state and availability per device, command intake with
// cancel-and-replace semantics, state history in SQLite and optional
// telemetry in InfluxDB.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/nerrad567/shq-link/migrations"

	"github.com/nerrad567/shq-link/internal/infrastructure/config"
	"github.com/nerrad567/shq-link/internal/infrastructure/database"
	"github.com/nerrad567/shq-link/internal/infrastructure/influxdb"
	"github.com/nerrad567/shq-link/internal/infrastructure/logging"
	"github.com/nerrad567/shq-link/internal/infrastructure/mqtt"
	"github.com/nerrad567/shq-link/internal/registry"
)

// Set via -ldflags "-X main.version=... -X main.commit=... -X main.date=...".
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const defaultConfigPath = "configs/config.yaml"

const (
	historyRetention   = 30 * 24 * time.Hour
	historyPruneEvery  = time.Hour
	linkStatsFlushRate = time.Minute
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run brings the stack up in dependency order, then parks on the signal
// context. Teardown is the deferred closes in reverse: registry first so
// device links drain before the broker and database go away.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting SHQ Link", "version", version, "commit", commit, "build_date", date)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Swap the bootstrap logger for the configured one.
	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded", "path", configPath)

	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer closeQuietly(log, "database", db.Close)

	if err := db.Migrate(ctx); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	log.Info("database ready", "path", cfg.Database.Path)
	history := registry.NewHistory(db.DB)

	mqttClient, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer closeQuietly(log, "mqtt", mqttClient.Close)

	mqttClient.SetLogger(log)
	mqttClient.SetOnConnect(func() { log.Info("MQTT session established") })
	mqttClient.SetOnDisconnect(func(err error) { log.Warn("MQTT session lost", "error", err) })
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	influxClient, metricsSink, err := connectMetrics(cfg, log)
	if err != nil {
		return err
	}
	if influxClient != nil {
		defer closeQuietly(log, "influxdb", influxClient.Close)
	}

	reg := registry.New(cfg, registry.Deps{
		Publisher: mqttClient,
		History:   history,
		Metrics:   metricsSink,
		Logger:    log,
	})
	if err := reg.Start(); err != nil {
		return fmt.Errorf("starting registry: %w", err)
	}
	defer func() {
		log.Info("stopping registry")
		reg.Shutdown()
	}()

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	go pruneHistoryLoop(ctx, history, log)
	if influxClient != nil {
		go flushLinkStatsLoop(ctx, reg, influxClient)
	}

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()

	log.Info("shutting down")
	return nil
}

// connectMetrics brings up the optional InfluxDB sink. A disabled config
// returns nils all round; the registry treats a nil sink as "no metrics".
func connectMetrics(cfg *config.Config, log *logging.Logger) (*influxdb.Client, registry.MetricsSink, error) {
	if !cfg.InfluxDB.Enabled {
		log.Info("InfluxDB disabled")
		return nil, nil, nil
	}

	client, err := influxdb.Connect(cfg.InfluxDB)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to InfluxDB: %w", err)
	}
	client.SetOnError(func(err error) {
		log.Error("InfluxDB write error", "error", err)
	})
	log.Info("InfluxDB connected",
		"url", cfg.InfluxDB.URL,
		"org", cfg.InfluxDB.Org,
		"bucket", cfg.InfluxDB.Bucket,
	)
	return client, client, nil
}

func closeQuietly(log *logging.Logger, name string, close func() error) {
	log.Info("closing " + name)
	if err := close(); err != nil {
		log.Error("closing "+name, "error", err)
	}
}

// getConfigPath honours SHQLINK_CONFIG, falling back to the repo-relative
// default.
func getConfigPath() string {
	if path := os.Getenv("SHQLINK_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck gates startup on the infrastructure the registry depends
// on. Device links come up asynchronously; their health is visible on
// the per-device availability topics rather than here.
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
	return nil
}

// pruneHistoryLoop deletes state history beyond the retention window.
func pruneHistoryLoop(ctx context.Context, history *registry.History, log *logging.Logger) {
	ticker := time.NewTicker(historyPruneEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			deleted, err := history.Prune(ctx, historyRetention)
			if err != nil {
				log.Warn("pruning state history", "error", err)
				continue
			}
			if deleted > 0 {
				log.Info("pruned state history", "rows", deleted)
			}
		case <-ctx.Done():
			return
		}
	}
}

// flushLinkStatsLoop mirrors per-device connection counters to InfluxDB.
func flushLinkStatsLoop(ctx context.Context, reg *registry.Registry, influxClient *influxdb.Client) {
	ticker := time.NewTicker(linkStatsFlushRate)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			for _, st := range reg.Stats() {
				influxClient.WriteLinkStats(st.Name, st.ReconnectsTotal, st.Client.MessagesTx, st.Client.MessagesRx)
			}
		case <-ctx.Done():
			return
		}
	}
}
