/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package config

import (
	"encoding/json"
	"errors"
	"log"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/sirupsen/logrus"
)

const (
	DEFAULT_PORT = "5011"
)

var ConfigStore atomic.Value

type ServerConfig struct {
	SSL       bool   `json:"ssl" envconfig:"ONBOARDING_SERVER_SSL"`
	Secure    bool   `json:"secure" envconfig:"ONBOARDING_SERVER_SECURE"`
	SecretKey string `json:"secret_key" envconfig:"ONBOARDING_SERVER_SECRET_KEY"`
	Domain    string `json:"domain" envconfig:"ONBOARDING_SERVER_SSL_DOMAIN"`
	Email     string `json:"ssl_email" envconfig:"ONBOARDING_SERVER_SSL_EMAIL"`
	Port      string `json:"port" envconfig:"ONBOARDING_SERVER_PORT"`
}

type DataSourceConfig struct {
	Dns string `json:"dns" envconfig:"ONBOARDING_DATA_SOURCE_DNS"`
}

type RedisConfig struct {
	Dns           string `json:"dns" envconfig:"ONBOARDING_REDIS_DNS"`
	SkipTLSVerify bool   `json:"skip_tls_verify" envconfig:"ONBOARDING_REDIS_SKIP_TLS_VERIFY"`
}

type RateLimitConfig struct {
	RequestsPerSecond  *float64 `json:"requests_per_second" envconfig:"ONBOARDING_RATE_LIMIT_RPS"`
	Burst              *int     `json:"burst" envconfig:"ONBOARDING_RATE_LIMIT_BURST"`
	CleanupIntervalSec *int     `json:"cleanup_interval_sec" envconfig:"ONBOARDING_RATE_LIMIT_CLEANUP_INTERVAL_SEC"`
}

type SlackWebhook struct {
	WebhookUrl string `json:"webhook_url"`
}

type Notification struct {
	Slack SlackWebhook `json:"slack"`
}

// OutboxConfig controls how the dispatcher claims and publishes outbox rows.
type OutboxConfig struct {
	PollInterval  time.Duration `json:"poll_interval" envconfig:"ONBOARDING_OUTBOX_POLL_INTERVAL"`
	BatchSize     int           `json:"batch_size" envconfig:"ONBOARDING_OUTBOX_BATCH_SIZE"`
	ClaimTTL      time.Duration `json:"claim_ttl" envconfig:"ONBOARDING_OUTBOX_CLAIM_TTL"`
	ListenChannel string        `json:"listen_channel" envconfig:"ONBOARDING_OUTBOX_LISTEN_CHANNEL"`
}

// StreamConfig describes the Redis Streams event channel.
type StreamConfig struct {
	Prefix     string        `json:"prefix" envconfig:"ONBOARDING_STREAM_PREFIX"`
	Partitions int           `json:"partitions" envconfig:"ONBOARDING_STREAM_PARTITIONS"`
	Block      time.Duration `json:"block" envconfig:"ONBOARDING_STREAM_BLOCK"`
	ClaimIdle  time.Duration `json:"claim_idle" envconfig:"ONBOARDING_STREAM_CLAIM_IDLE"`
	ReadCount  int64         `json:"read_count" envconfig:"ONBOARDING_STREAM_READ_COUNT"`
	// OwnerTTL is how long an instance keeps exclusive ownership of a partition
	// within a consumer group without renewing it.
	OwnerTTL   time.Duration `json:"owner_ttl" envconfig:"ONBOARDING_STREAM_OWNER_TTL"`
}

type ProjectionConfig struct {
	ProcessedEventLimit int           `json:"processed_event_limit" envconfig:"ONBOARDING_PROJECTION_PROCESSED_EVENT_LIMIT"`
	CacheTTL            time.Duration `json:"cache_ttl" envconfig:"ONBOARDING_PROJECTION_CACHE_TTL"`
	MaxSaveAttempts     int           `json:"max_save_attempts" envconfig:"ONBOARDING_PROJECTION_MAX_SAVE_ATTEMPTS"`
}

// RefreshIntervals holds the re-verification interval per risk tier, in days.
type RefreshIntervals struct {
	LowDays      int `json:"low_days"`
	MediumDays   int `json:"medium_days"`
	HighDays     int `json:"high_days"`
	CriticalDays int `json:"critical_days"`
}

type WorkQueueConfig struct {
	SLADays          int              `json:"sla_days" envconfig:"ONBOARDING_WORK_QUEUE_SLA_DAYS"`
	RefreshIntervals RefreshIntervals `json:"refresh_intervals"`
	SweepInterval    time.Duration    `json:"sweep_interval" envconfig:"ONBOARDING_WORK_QUEUE_SWEEP_INTERVAL"`
	SweepLease       time.Duration    `json:"sweep_lease" envconfig:"ONBOARDING_WORK_QUEUE_SWEEP_LEASE"`
	SweepBatchSize   int              `json:"sweep_batch_size" envconfig:"ONBOARDING_WORK_QUEUE_SWEEP_BATCH_SIZE"`
}

// GatewayConfig is the default resilience policy applied to every downstream.
type GatewayConfig struct {
	Timeout          time.Duration `json:"timeout" envconfig:"ONBOARDING_GATEWAY_TIMEOUT"`
	AttemptTimeout   time.Duration `json:"attempt_timeout" envconfig:"ONBOARDING_GATEWAY_ATTEMPT_TIMEOUT"`
	MaxAttempts      int           `json:"max_attempts" envconfig:"ONBOARDING_GATEWAY_MAX_ATTEMPTS"`
	InitialBackoff   time.Duration `json:"initial_backoff" envconfig:"ONBOARDING_GATEWAY_INITIAL_BACKOFF"`
	MaxBackoff       time.Duration `json:"max_backoff" envconfig:"ONBOARDING_GATEWAY_MAX_BACKOFF"`
	FailureThreshold uint32        `json:"failure_threshold" envconfig:"ONBOARDING_GATEWAY_FAILURE_THRESHOLD"`
	Window           time.Duration `json:"window" envconfig:"ONBOARDING_GATEWAY_WINDOW"`
	Cooldown         time.Duration `json:"cooldown" envconfig:"ONBOARDING_GATEWAY_COOLDOWN"`
}

type CollaboratorEndpoint struct {
	Url     string            `json:"url"`
	Headers map[string]string `json:"headers"`
}

// Collaborators are the HTTP sinks that audit and notification workers deliver to.
type Collaborators struct {
	Audit        CollaboratorEndpoint `json:"audit"`
	Notification CollaboratorEndpoint `json:"notification"`
}

type RiskConfig struct {
	ProviderConfigPath string `json:"provider_config_path" envconfig:"ONBOARDING_RISK_PROVIDER_CONFIG_PATH"`
}

type QueueConfig struct {
	AuditQueue        string `json:"audit_queue" envconfig:"ONBOARDING_QUEUE_AUDIT"`
	NotificationQueue string `json:"notification_queue" envconfig:"ONBOARDING_QUEUE_NOTIFICATION"`
	Concurrency       int    `json:"concurrency" envconfig:"ONBOARDING_QUEUE_CONCURRENCY"`
	MaxRetry          int    `json:"max_retry" envconfig:"ONBOARDING_QUEUE_MAX_RETRY"`
	MonitoringPort    string `json:"monitoring_port" envconfig:"ONBOARDING_QUEUE_MONITORING_PORT"`
}

type Configuration struct {
	ProjectName     string           `json:"project_name" envconfig:"ONBOARDING_PROJECT_NAME"`
	InstanceID      string           `json:"instance_id" envconfig:"ONBOARDING_INSTANCE_ID"`
	EnableTelemetry bool             `json:"enable_telemetry" envconfig:"ONBOARDING_ENABLE_TELEMETRY"`
	OtelEndpoint    string           `json:"otel_endpoint" envconfig:"ONBOARDING_OTEL_ENDPOINT"`
	Server          ServerConfig     `json:"server"`
	DataSource      DataSourceConfig `json:"data_source"`
	Redis           RedisConfig      `json:"redis"`
	Notification    Notification     `json:"notification"`
	RateLimit       RateLimitConfig  `json:"rate_limit"`
	Outbox          OutboxConfig     `json:"outbox"`
	Stream          StreamConfig     `json:"stream"`
	Projection      ProjectionConfig `json:"projection"`
	WorkQueue       WorkQueueConfig  `json:"work_queue"`
	Gateway         GatewayConfig    `json:"gateway"`
	Collaborators   Collaborators    `json:"collaborators"`
	Risk            RiskConfig       `json:"risk"`
	Queue           QueueConfig      `json:"queue"`
}

func loadConfigFromFile(file string) error {
	var cnf Configuration
	_, err := os.Stat(file)
	if err == nil {
		f, err := os.Open(file)
		if err != nil {
			return err
		}
		defer f.Close()
		err = json.NewDecoder(f).Decode(&cnf)
		if err != nil {
			return err
		}
	} else if errors.Is(err, os.ErrNotExist) {
		log.Println("config json not passed, will use env variables")
	}

	err = envconfig.Process("onboarding", &cnf)
	if err != nil {
		return err
	}

	err = cnf.validateAndAddDefaults()
	if err != nil {
		return err
	}

	ConfigStore.Store(&cnf)
	return nil
}

func InitConfig(configFile string) error {
	logger()
	return loadConfigFromFile(configFile)
}

func Fetch() (*Configuration, error) {
	config := ConfigStore.Load()
	c, ok := config.(*Configuration)
	if !ok {
		return nil, errors.New("config not loaded from file. Create a json file called onboarding.json with your config")
	}
	return c, nil
}

func (cnf *Configuration) validateAndAddDefaults() error {
	if cnf.ProjectName == "" {
		log.Println("Warning: Project name is empty. Setting a default name.")
		cnf.ProjectName = "Onboarding Server"
	}

	if cnf.DataSource.Dns == "" {
		log.Println("Error: Data source DNS is empty. It's a required field.")
		return errors.New("data source DNS is required")
	}

	if cnf.Redis.Dns == "" {
		log.Println("Error: Redis DNS is empty. It's a required field.")
		return errors.New("redis DNS is required")
	}

	cnf.ProjectName = strings.TrimSpace(cnf.ProjectName)
	cnf.Server.Port = strings.TrimSpace(cnf.Server.Port)
	cnf.DataSource.Dns = strings.TrimSpace(cnf.DataSource.Dns)
	cnf.Redis.Dns = strings.TrimSpace(cnf.Redis.Dns)

	if cnf.Server.Port == "" {
		cnf.Server.Port = DEFAULT_PORT
		log.Printf("Warning: Port not specified in config. Setting default port: %s", DEFAULT_PORT)
	}

	if cnf.InstanceID == "" {
		host, err := os.Hostname()
		if err != nil || host == "" {
			host = "onboarding"
		}
		cnf.InstanceID = host
	}

	if cnf.RateLimit.RequestsPerSecond != nil && cnf.RateLimit.Burst == nil {
		defaultBurst := 2 * int(*cnf.RateLimit.RequestsPerSecond)
		cnf.RateLimit.Burst = &defaultBurst
	}
	if cnf.RateLimit.RequestsPerSecond == nil && cnf.RateLimit.Burst != nil {
		defaultRPS := float64(*cnf.RateLimit.Burst) / 2
		cnf.RateLimit.RequestsPerSecond = &defaultRPS
	}
	if cnf.RateLimit.CleanupIntervalSec == nil {
		defaultCleanup := 10800
		cnf.RateLimit.CleanupIntervalSec = &defaultCleanup
	}

	cnf.setOutboxDefaults()
	cnf.setWorkQueueDefaults()
	cnf.setGatewayDefaults()
	cnf.setQueueDefaults()

	return nil
}

func (cnf *Configuration) setOutboxDefaults() {
	if cnf.Outbox.PollInterval <= 0 {
		cnf.Outbox.PollInterval = 2 * time.Second
	}
	if cnf.Outbox.BatchSize <= 0 {
		cnf.Outbox.BatchSize = 100
	}
	if cnf.Outbox.ClaimTTL <= 0 {
		cnf.Outbox.ClaimTTL = 30 * time.Second
	}
	if cnf.Outbox.ListenChannel == "" {
		cnf.Outbox.ListenChannel = "outbox_events"
	}
	if cnf.Stream.Prefix == "" {
		cnf.Stream.Prefix = "onboarding:events"
	}
	if cnf.Stream.Partitions <= 0 {
		cnf.Stream.Partitions = 8
	}
	if cnf.Stream.Block <= 0 {
		cnf.Stream.Block = 5 * time.Second
	}
	if cnf.Stream.ClaimIdle <= 0 {
		cnf.Stream.ClaimIdle = time.Minute
	}
	if cnf.Stream.ReadCount <= 0 {
		cnf.Stream.ReadCount = 50
	}
	if cnf.Stream.OwnerTTL <= 0 {
		cnf.Stream.OwnerTTL = 30 * time.Second
	}
	if cnf.Projection.ProcessedEventLimit <= 0 {
		cnf.Projection.ProcessedEventLimit = 256
	}
	if cnf.Projection.CacheTTL <= 0 {
		cnf.Projection.CacheTTL = 5 * time.Minute
	}
	if cnf.Projection.MaxSaveAttempts <= 0 {
		cnf.Projection.MaxSaveAttempts = 5
	}
}

func (cnf *Configuration) setWorkQueueDefaults() {
	wq := &cnf.WorkQueue
	if wq.SLADays <= 0 {
		wq.SLADays = 30
	}
	if wq.RefreshIntervals.LowDays <= 0 {
		wq.RefreshIntervals.LowDays = 730
	}
	if wq.RefreshIntervals.MediumDays <= 0 {
		wq.RefreshIntervals.MediumDays = 365
	}
	if wq.RefreshIntervals.HighDays <= 0 {
		wq.RefreshIntervals.HighDays = 90
	}
	if wq.RefreshIntervals.CriticalDays <= 0 {
		wq.RefreshIntervals.CriticalDays = 30
	}
	if wq.SweepInterval <= 0 {
		wq.SweepInterval = time.Hour
	}
	if wq.SweepLease <= 0 {
		wq.SweepLease = 10 * time.Minute
	}
	if wq.SweepBatchSize <= 0 {
		wq.SweepBatchSize = 200
	}
}

func (cnf *Configuration) setGatewayDefaults() {
	g := &cnf.Gateway
	if g.Timeout <= 0 {
		g.Timeout = 10 * time.Second
	}
	if g.MaxAttempts <= 0 {
		g.MaxAttempts = 3
	}
	if g.InitialBackoff <= 0 {
		g.InitialBackoff = 200 * time.Millisecond
	}
	if g.MaxBackoff <= 0 {
		g.MaxBackoff = 5 * time.Second
	}
	if g.FailureThreshold == 0 {
		g.FailureThreshold = 5
	}
	if g.Window <= 0 {
		g.Window = time.Minute
	}
	if g.Cooldown <= 0 {
		g.Cooldown = 30 * time.Second
	}
}

func (cnf *Configuration) setQueueDefaults() {
	q := &cnf.Queue
	if q.AuditQueue == "" {
		q.AuditQueue = "onboarding_audit"
	}
	if q.NotificationQueue == "" {
		q.NotificationQueue = "onboarding_notifications"
	}
	if q.Concurrency <= 0 {
		q.Concurrency = 10
	}
	if q.MaxRetry <= 0 {
		q.MaxRetry = 10
	}
	if q.MonitoringPort == "" {
		q.MonitoringPort = "5014"
	}
}

// SLA returns the default review window used when a work item has no explicit due date.
func (cnf *Configuration) SLA() time.Duration {
	return time.Duration(cnf.WorkQueue.SLADays) * 24 * time.Hour
}

// MockConfig sets a mock configuration for testing purposes.
func MockConfig(mockConfig *Configuration) {
	ConfigStore.Store(mockConfig)
}

func logger() {
	logger := logrus.New()
	log.SetOutput(logger.Writer())
}
