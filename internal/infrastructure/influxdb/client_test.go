package influxdb_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/shq-link/internal/infrastructure/config"
	"github.com/nerrad567/shq-link/internal/infrastructure/influxdb"
)

// testConfig matches the local dev instance from docker-compose.yml.
func testConfig() config.InfluxDBConfig {
	return config.InfluxDBConfig{
		Enabled:       true,
		URL:           "http://127.0.0.1:8086",
		Token:         "shqlink-dev-token",
		Org:           "shqlink",
		Bucket:        "metrics",
		BatchSize:     100,
		FlushInterval: 1,
	}
}

// connectOrSkip skips the test when no local InfluxDB is reachable, so
// the suite passes on machines without the dev stack running.
func connectOrSkip(t *testing.T, cfg config.InfluxDBConfig) *influxdb.Client {
	t.Helper()
	client, err := influxdb.Connect(cfg)
	if err != nil {
		t.Skipf("InfluxDB not available: %v", err)
	}
	t.Cleanup(func() { client.Close() }) //nolint:errcheck
	return client
}

// collectErrors wires SetOnError to a race-safe accumulator and returns
// a getter for the first error seen.
func collectErrors(client *influxdb.Client) func() error {
	var mu sync.Mutex
	var first error
	client.SetOnError(func(err error) {
		mu.Lock()
		if first == nil {
			first = err
		}
		mu.Unlock()
	})
	return func() error {
		mu.Lock()
		defer mu.Unlock()
		return first
	}
}

func TestConnectDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false

	if _, err := influxdb.Connect(cfg); !errors.Is(err, influxdb.ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestConnectRefused(t *testing.T) {
	cfg := testConfig()
	cfg.URL = "http://127.0.0.1:59999"

	if _, err := influxdb.Connect(cfg); !errors.Is(err, influxdb.ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestConnect(t *testing.T) {
	client := connectOrSkip(t, testConfig())
	if !client.IsConnected() {
		t.Error("IsConnected() = false after Connect()")
	}
}

func TestConnectZeroBatchSettingsUseDefaults(t *testing.T) {
	cfg := testConfig()
	cfg.BatchSize = 0
	cfg.FlushInterval = -1

	client := connectOrSkip(t, cfg)
	if !client.IsConnected() {
		t.Error("IsConnected() = false with defaulted batch settings")
	}
}

func TestHealthCheck(t *testing.T) {
	client := connectOrSkip(t, testConfig())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.HealthCheck(ctx); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}

func TestHealthCheckCancelled(t *testing.T) {
	client := connectOrSkip(t, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := client.HealthCheck(ctx); err == nil {
		t.Error("HealthCheck() error = nil for a cancelled context")
	}
}

func TestWriteDeviceMetric(t *testing.T) {
	client := connectOrSkip(t, testConfig())
	firstErr := collectErrors(client)

	client.WriteDeviceMetric("door-garage", "position_percent", 75.0)
	client.WriteDeviceMetric("display-kitchen", "brightness", 8.0)
	client.Flush()

	time.Sleep(100 * time.Millisecond)
	if err := firstErr(); err != nil {
		t.Errorf("write error = %v", err)
	}
}

func TestWriteAvailability(t *testing.T) {
	client := connectOrSkip(t, testConfig())
	firstErr := collectErrors(client)

	client.WriteAvailability("door-garage", true)
	client.WriteAvailability("door-garage", false)
	client.Flush()

	time.Sleep(100 * time.Millisecond)
	if err := firstErr(); err != nil {
		t.Errorf("write error = %v", err)
	}
}

func TestWriteLinkStats(t *testing.T) {
	client := connectOrSkip(t, testConfig())
	firstErr := collectErrors(client)

	client.WriteLinkStats("door-garage", 3, 1500, 1498)
	client.Flush()

	time.Sleep(100 * time.Millisecond)
	if err := firstErr(); err != nil {
		t.Errorf("write error = %v", err)
	}
}

func TestCloseDropsSubsequentWrites(t *testing.T) {
	cfg := testConfig()
	client, err := influxdb.Connect(cfg)
	if err != nil {
		t.Skipf("InfluxDB not available: %v", err)
	}

	client.WriteDeviceMetric("door-garage", "position_percent", 0.0)
	if err := client.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if client.IsConnected() {
		t.Error("IsConnected() = true after Close()")
	}

	// Writes and flushes after Close are silent no-ops.
	client.WriteDeviceMetric("door-garage", "position_percent", 100.0)
	client.Flush()
}
