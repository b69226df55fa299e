package config

import (
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateAndAddDefaults(t *testing.T) {
	cnf := Configuration{
		Redis: RedisConfig{Dns: "localhost:6379"},
	}
	err := cnf.validateAndAddDefaults()
	if err == nil || err.Error() != "data source DNS is required" {
		t.Errorf("Expected data source DNS required error, got %v", err)
	}

	cnf = Configuration{
		DataSource: DataSourceConfig{Dns: "postgres://localhost:5432"},
	}
	err = cnf.validateAndAddDefaults()
	if err == nil || err.Error() != "redis DNS is required" {
		t.Errorf("Expected redis DNS required error, got %v", err)
	}

	cnf = Configuration{
		DataSource: DataSourceConfig{Dns: " some-dns "},
		Redis:      RedisConfig{Dns: "localhost:6379"},
	}
	require.NoError(t, cnf.validateAndAddDefaults())
	assert.Equal(t, "some-dns", cnf.DataSource.Dns)
	assert.Equal(t, DEFAULT_PORT, cnf.Server.Port)
	assert.Equal(t, "Onboarding Server", cnf.ProjectName)
	assert.NotEmpty(t, cnf.InstanceID)
}

func TestWorkQueueDefaults(t *testing.T) {
	cnf := Configuration{
		DataSource: DataSourceConfig{Dns: "dns"},
		Redis:      RedisConfig{Dns: "localhost:6379"},
		WorkQueue: WorkQueueConfig{
			RefreshIntervals: RefreshIntervals{HighDays: 60},
		},
	}
	require.NoError(t, cnf.validateAndAddDefaults())

	assert.Equal(t, 30, cnf.WorkQueue.SLADays)
	assert.Equal(t, 30*24*time.Hour, cnf.SLA())
	assert.Equal(t, 730, cnf.WorkQueue.RefreshIntervals.LowDays)
	assert.Equal(t, 365, cnf.WorkQueue.RefreshIntervals.MediumDays)
	assert.Equal(t, 60, cnf.WorkQueue.RefreshIntervals.HighDays, "explicit value is kept")
	assert.Equal(t, 30, cnf.WorkQueue.RefreshIntervals.CriticalDays)
}

func TestGatewayAndOutboxDefaults(t *testing.T) {
	cnf := Configuration{
		DataSource: DataSourceConfig{Dns: "dns"},
		Redis:      RedisConfig{Dns: "localhost:6379"},
	}
	require.NoError(t, cnf.validateAndAddDefaults())

	assert.Equal(t, 3, cnf.Gateway.MaxAttempts)
	assert.Equal(t, uint32(5), cnf.Gateway.FailureThreshold)
	assert.Equal(t, 30*time.Second, cnf.Gateway.Cooldown)
	assert.Equal(t, 100, cnf.Outbox.BatchSize)
	assert.Equal(t, "outbox_events", cnf.Outbox.ListenChannel)
	assert.Equal(t, 8, cnf.Stream.Partitions)
	assert.Equal(t, 30*time.Second, cnf.Stream.OwnerTTL)
	assert.Equal(t, 256, cnf.Projection.ProcessedEventLimit)
	assert.Equal(t, "onboarding_audit", cnf.Queue.AuditQueue)
}

func TestRateLimitDefaults(t *testing.T) {
	rps := 10.0
	cnf := Configuration{
		DataSource: DataSourceConfig{Dns: "dns"},
		Redis:      RedisConfig{Dns: "localhost:6379"},
		RateLimit:  RateLimitConfig{RequestsPerSecond: &rps},
	}
	require.NoError(t, cnf.validateAndAddDefaults())
	require.NotNil(t, cnf.RateLimit.Burst)
	assert.Equal(t, 20, *cnf.RateLimit.Burst)
	assert.Equal(t, 10800, *cnf.RateLimit.CleanupIntervalSec)
}

func TestLoadConfigFromFile(t *testing.T) {
	tmpFile, err := os.CreateTemp("", "onboarding.json")
	if err != nil {
		t.Fatalf("Unable to create temporary file: %v", err)
	}
	defer os.Remove(tmpFile.Name())

	sampleConfig := Configuration{
		ProjectName: "Temp Project",
		DataSource:  DataSourceConfig{Dns: "temp-dns"},
		Redis:       RedisConfig{Dns: "temp-redis"},
	}
	if err := json.NewEncoder(tmpFile).Encode(sampleConfig); err != nil {
		t.Fatalf("Unable to write to temporary file: %v", err)
	}
	tmpFile.Close()

	t.Setenv("ONBOARDING_PROJECT_NAME", "Env Project")
	t.Setenv("ONBOARDING_WORK_QUEUE_SLA_DAYS", "14")

	if err := loadConfigFromFile(tmpFile.Name()); err != nil {
		t.Fatalf("loadConfigFromFile failed: %v", err)
	}

	loadedConfig, err := Fetch()
	require.NoError(t, err)
	assert.Equal(t, "Env Project", loadedConfig.ProjectName)
	assert.Equal(t, "temp-dns", loadedConfig.DataSource.Dns)
	assert.Equal(t, 14, loadedConfig.WorkQueue.SLADays)
}

func TestMockConfig(t *testing.T) {
	MockConfig(&Configuration{ProjectName: "mock"})
	cnf, err := Fetch()
	require.NoError(t, err)
	assert.Equal(t, "mock", cnf.ProjectName)
}
