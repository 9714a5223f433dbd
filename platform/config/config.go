// Package config provides application configuration loading.
// This is part of the platform layer and contains no business logic.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// =============================================================================
// Module-Specific Config Interfaces (Principle of Least Privilege)
// =============================================================================

// DatabaseConfig provides database connection settings.
type DatabaseConfig interface {
	GetDatabaseURL() string
}

// JWTConfig provides JWT validation settings for middleware.
type JWTConfig interface {
	GetJWTAccessSecret() string
}

// HTTPConfig provides settings for the HTTP server.
type HTTPConfig interface {
	GetHTTPAddr() string
	GetCORSAllowAll() bool
	GetCORSOrigins() []string
	GetCORSAllowCreds() bool
}

// SchedulerConfig provides settings for the asynq message delivery queue.
type SchedulerConfig interface {
	GetRedisURL() string
	GetRedisTLSInsecure() bool
	GetAsynqQueueName() string
	GetAsynqConcurrency() int
}

// FieldServiceConfig provides settings for the field-service platform API.
type FieldServiceConfig interface {
	GetFieldServiceBaseURL() string
	GetFieldServiceAPIKey() string
	GetFieldServiceTenantID() string
	IsFieldServiceEnabled() bool
}

// CRMConfig provides settings for the CRM pipeline platform API.
type CRMConfig interface {
	GetCRMBaseURL() string
	GetCRMAPIKey() string
	GetCRMLocationID() string
	GetCRMRequestsPerSecond() int
	GetCRMStageID(stageKey string) string
	IsCRMEnabled() bool
}

// SyncConfig provides the stage-sync feature switches and tuning knobs.
type SyncConfig interface {
	IsSyncEnabled() bool
	IsStageAutoSyncEnabled() bool
	IsServiceJobLinkEnabled() bool
	GetServiceJobLinkWindow() time.Duration
	GetTrackerSchedule() string
	GetStageSyncSchedule() string
	GetMirrorSchedule() string
	GetRetentionSchedule() string
	GetWorkerTimeout() time.Duration
	GetWorkerRunRetention() time.Duration
}

// WorkflowConfig provides the follow-up workflow engine settings.
type WorkflowConfig interface {
	IsWorkflowsEnabled() bool
	GetChangePollInterval() time.Duration
	GetEngineTickInterval() time.Duration
	GetEngineBatchSize() int
}

// MessagingConfig provides settings for the outbound message gateway.
type MessagingConfig interface {
	GetMessageGatewayURL() string
	GetMessageGatewayKey() string
	IsMessagingEnabled() bool
}

// EmailConfig provides settings for SMTP email delivery.
type EmailConfig interface {
	GetSMTPHost() string
	GetSMTPPort() int
	GetSMTPUsername() string
	GetSMTPPassword() string
	GetEmailFromName() string
	GetEmailFromAddress() string
	IsEmailEnabled() bool
}

// =============================================================================
// Main Config Struct
// =============================================================================

// Config holds all application configuration values.
type Config struct {
	Env                   string
	HTTPAddr              string
	DatabaseURL           string
	JWTAccessSecret       string
	CORSAllowAll          bool
	CORSOrigins           []string
	CORSAllowCreds        bool
	RedisURL              string
	RedisTLSInsecure      bool
	AsynqQueueName        string
	AsynqConcurrency      int
	FieldServiceBaseURL   string
	FieldServiceAPIKey    string
	FieldServiceTenantID  string
	CRMBaseURL            string
	CRMAPIKey             string
	CRMLocationID         string
	CRMRequestsPerSecond  int
	CRMStageIDs           map[string]string
	SyncEnabled           bool
	StageAutoSyncEnabled  bool
	ServiceJobLinkEnabled bool
	ServiceJobLinkWindow  time.Duration
	TrackerSchedule       string
	StageSyncSchedule     string
	MirrorSchedule        string
	RetentionSchedule     string
	WorkerTimeout         time.Duration
	WorkerRunRetention    time.Duration
	WorkflowsEnabled      bool
	ChangePollInterval    time.Duration
	EngineTickInterval    time.Duration
	EngineBatchSize       int
	MessageGatewayURL     string
	MessageGatewayKey     string
	SMTPHost              string
	SMTPPort              int
	SMTPUsername          string
	SMTPPassword          string
	EmailFromName         string
	EmailFromAddress      string
}

// =============================================================================
// Interface Implementations
// =============================================================================

// DatabaseConfig implementation
func (c *Config) GetDatabaseURL() string { return c.DatabaseURL }

// JWTConfig implementation
func (c *Config) GetJWTAccessSecret() string { return c.JWTAccessSecret }

// HTTPConfig implementation
func (c *Config) GetHTTPAddr() string      { return c.HTTPAddr }
func (c *Config) GetCORSAllowAll() bool    { return c.CORSAllowAll }
func (c *Config) GetCORSOrigins() []string { return c.CORSOrigins }
func (c *Config) GetCORSAllowCreds() bool  { return c.CORSAllowCreds }

// SchedulerConfig implementation
func (c *Config) GetRedisURL() string       { return c.RedisURL }
func (c *Config) GetRedisTLSInsecure() bool { return c.RedisTLSInsecure }
func (c *Config) GetAsynqQueueName() string { return c.AsynqQueueName }
func (c *Config) GetAsynqConcurrency() int  { return c.AsynqConcurrency }

// FieldServiceConfig implementation
func (c *Config) GetFieldServiceBaseURL() string  { return c.FieldServiceBaseURL }
func (c *Config) GetFieldServiceAPIKey() string   { return c.FieldServiceAPIKey }
func (c *Config) GetFieldServiceTenantID() string { return c.FieldServiceTenantID }
func (c *Config) IsFieldServiceEnabled() bool     { return c.FieldServiceBaseURL != "" }

// CRMConfig implementation
func (c *Config) GetCRMBaseURL() string        { return c.CRMBaseURL }
func (c *Config) GetCRMAPIKey() string         { return c.CRMAPIKey }
func (c *Config) GetCRMLocationID() string     { return c.CRMLocationID }
func (c *Config) GetCRMRequestsPerSecond() int { return c.CRMRequestsPerSecond }
func (c *Config) IsCRMEnabled() bool           { return c.CRMBaseURL != "" }

// GetCRMStageID resolves the external stage identifier for an internal stage
// key. When no mapping is configured the key itself is used, which keeps
// development and test environments working without a full stage map.
func (c *Config) GetCRMStageID(stageKey string) string {
	if id, ok := c.CRMStageIDs[stageKey]; ok && id != "" {
		return id
	}
	return stageKey
}

// SyncConfig implementation
func (c *Config) IsSyncEnabled() bool                    { return c.SyncEnabled }
func (c *Config) IsStageAutoSyncEnabled() bool           { return c.SyncEnabled && c.StageAutoSyncEnabled }
func (c *Config) IsServiceJobLinkEnabled() bool          { return c.SyncEnabled && c.ServiceJobLinkEnabled }
func (c *Config) GetServiceJobLinkWindow() time.Duration { return c.ServiceJobLinkWindow }
func (c *Config) GetTrackerSchedule() string             { return c.TrackerSchedule }
func (c *Config) GetStageSyncSchedule() string           { return c.StageSyncSchedule }
func (c *Config) GetMirrorSchedule() string              { return c.MirrorSchedule }
func (c *Config) GetRetentionSchedule() string           { return c.RetentionSchedule }
func (c *Config) GetWorkerTimeout() time.Duration        { return c.WorkerTimeout }
func (c *Config) GetWorkerRunRetention() time.Duration   { return c.WorkerRunRetention }

// WorkflowConfig implementation
func (c *Config) IsWorkflowsEnabled() bool             { return c.WorkflowsEnabled }
func (c *Config) GetChangePollInterval() time.Duration { return c.ChangePollInterval }
func (c *Config) GetEngineTickInterval() time.Duration { return c.EngineTickInterval }
func (c *Config) GetEngineBatchSize() int              { return c.EngineBatchSize }

// MessagingConfig implementation
func (c *Config) GetMessageGatewayURL() string { return c.MessageGatewayURL }
func (c *Config) GetMessageGatewayKey() string { return c.MessageGatewayKey }
func (c *Config) IsMessagingEnabled() bool     { return c.MessageGatewayURL != "" }

// EmailConfig implementation
func (c *Config) GetSMTPHost() string         { return c.SMTPHost }
func (c *Config) GetSMTPPort() int            { return c.SMTPPort }
func (c *Config) GetSMTPUsername() string     { return c.SMTPUsername }
func (c *Config) GetSMTPPassword() string     { return c.SMTPPassword }
func (c *Config) GetEmailFromName() string    { return c.EmailFromName }
func (c *Config) GetEmailFromAddress() string { return c.EmailFromAddress }
func (c *Config) IsEmailEnabled() bool        { return c.SMTPHost != "" && c.EmailFromAddress != "" }

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	_ = godotenv.Load()

	corsOrigins := splitCSV(getEnv("CORS_ORIGINS", "http://localhost:4200"))
	corsAllowAll := strings.EqualFold(getEnv("CORS_ALLOW_ALL", "false"), "true")
	if containsWildcard(corsOrigins) {
		corsAllowAll = true
	}

	cfg := &Config{
		Env:                   getEnv("APP_ENV", "development"),
		HTTPAddr:              getEnv("HTTP_ADDR", ":8080"),
		DatabaseURL:           getEnv("DATABASE_URL", ""),
		JWTAccessSecret:       getEnv("JWT_ACCESS_SECRET", ""),
		CORSAllowAll:          corsAllowAll,
		CORSOrigins:           corsOrigins,
		CORSAllowCreds:        strings.EqualFold(getEnv("CORS_ALLOW_CREDENTIALS", "true"), "true"),
		RedisURL:              getEnv("REDIS_URL", ""),
		RedisTLSInsecure:      strings.EqualFold(getEnv("REDIS_TLS_INSECURE", "false"), "true"),
		AsynqQueueName:        getEnv("ASYNQ_QUEUE", "followups"),
		AsynqConcurrency:      mustInt(getEnv("ASYNQ_CONCURRENCY", "10")),
		FieldServiceBaseURL:   getEnv("FIELD_SERVICE_BASE_URL", ""),
		FieldServiceAPIKey:    getEnv("FIELD_SERVICE_API_KEY", ""),
		FieldServiceTenantID:  getEnv("FIELD_SERVICE_TENANT_ID", ""),
		CRMBaseURL:            getEnv("CRM_BASE_URL", ""),
		CRMAPIKey:             getEnv("CRM_API_KEY", ""),
		CRMLocationID:         getEnv("CRM_LOCATION_ID", ""),
		CRMRequestsPerSecond:  mustInt(getEnv("CRM_REQUESTS_PER_SECOND", "5")),
		CRMStageIDs:           loadStageIDs(),
		SyncEnabled:           strings.EqualFold(getEnv("SYNC_ENABLED", "true"), "true"),
		StageAutoSyncEnabled:  strings.EqualFold(getEnv("STAGE_AUTO_SYNC_ENABLED", "true"), "true"),
		ServiceJobLinkEnabled: strings.EqualFold(getEnv("SERVICE_JOB_LINK_ENABLED", "true"), "true"),
		ServiceJobLinkWindow:  mustDuration(getEnv("SERVICE_JOB_LINK_WINDOW", "720h")),
		TrackerSchedule:       getEnv("TRACKER_SCHEDULE", "*/2 * * * *"),
		StageSyncSchedule:     getEnv("STAGE_SYNC_SCHEDULE", "*/5 * * * *"),
		MirrorSchedule:        getEnv("MIRROR_SCHEDULE", "*/5 * * * *"),
		RetentionSchedule:     getEnv("RETENTION_SCHEDULE", "0 3 * * *"),
		WorkerTimeout:         mustDuration(getEnv("WORKER_TIMEOUT", "4m")),
		WorkerRunRetention:    mustDuration(getEnv("WORKER_RUN_RETENTION", "720h")),
		WorkflowsEnabled:      strings.EqualFold(getEnv("WORKFLOWS_ENABLED", "true"), "true"),
		ChangePollInterval:    mustDuration(getEnv("CHANGE_POLL_INTERVAL", "60s")),
		EngineTickInterval:    mustDuration(getEnv("ENGINE_TICK_INTERVAL", "30s")),
		EngineBatchSize:       mustInt(getEnv("ENGINE_BATCH_SIZE", "50")),
		MessageGatewayURL:     getEnv("MESSAGE_GATEWAY_URL", ""),
		MessageGatewayKey:     getEnv("MESSAGE_GATEWAY_KEY", ""),
		SMTPHost:              getEnv("SMTP_HOST", ""),
		SMTPPort:              mustInt(getEnv("SMTP_PORT", "587")),
		SMTPUsername:          getEnv("SMTP_USERNAME", ""),
		SMTPPassword:          getEnv("SMTP_PASSWORD", ""),
		EmailFromName:         getEnv("EMAIL_FROM_NAME", "Follow-up Desk"),
		EmailFromAddress:      getEnv("EMAIL_FROM_ADDRESS", ""),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.ChangePollInterval <= 0 {
		return nil, fmt.Errorf("CHANGE_POLL_INTERVAL must be a positive duration")
	}
	if cfg.EngineTickInterval <= 0 {
		return nil, fmt.Errorf("ENGINE_TICK_INTERVAL must be a positive duration")
	}
	if cfg.SyncEnabled && cfg.CRMBaseURL != "" && cfg.CRMAPIKey == "" {
		return nil, fmt.Errorf("CRM_API_KEY is required when CRM_BASE_URL is set")
	}
	if cfg.CORSAllowAll && cfg.CORSAllowCreds {
		return nil, fmt.Errorf("CORS_ALLOW_CREDENTIALS cannot be true when CORS_ALLOW_ALL is true")
	}

	return cfg, nil
}

// loadStageIDs reads CRM_STAGE_<KEY>_ID overrides from the environment, e.g.
// CRM_STAGE_NEW_LEAD_ID=abc123 maps the internal "new_lead" key.
func loadStageIDs() map[string]string {
	out := make(map[string]string)
	for _, kv := range os.Environ() {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || value == "" {
			continue
		}
		if !strings.HasPrefix(name, "CRM_STAGE_") || !strings.HasSuffix(name, "_ID") {
			continue
		}
		key := strings.TrimSuffix(strings.TrimPrefix(name, "CRM_STAGE_"), "_ID")
		if key == "" {
			continue
		}
		out[strings.ToLower(key)] = value
	}
	return out
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

func mustDuration(value string) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0
	}
	return d
}

func mustInt(value string) int {
	result, err := strconv.Atoi(value)
	if err != nil {
		return 0
	}
	return result
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	results := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			results = append(results, trimmed)
		}
	}
	return results
}

func containsWildcard(values []string) bool {
	for _, value := range values {
		if value == "*" {
			return true
		}
	}
	return false
}
