package gatekeeper

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ============================================================================
// CONFIGURATION
// ============================================================================

// Config is the constructor-level configuration for a full core wiring. The
// host decides where it comes from; nothing here reads the environment.
type Config struct {
	Cache     CacheSettings     `json:"cache" yaml:"cache"`
	Engine    EngineSettings    `json:"engine" yaml:"engine"`
	Audit     AuditSettings     `json:"audit" yaml:"audit"`
	Retention RetentionSettings `json:"retention" yaml:"retention"`
	Approval  ApprovalSettings  `json:"approval" yaml:"approval"`
}

type CacheSettings struct {
	TTLMillis int64 `json:"ttl_ms" yaml:"ttl_ms"`
	MaxSize   int   `json:"max_size" yaml:"max_size"`
}

type EngineSettings struct {
	RoleCacheTTLMillis  int64 `json:"role_cache_ttl_ms" yaml:"role_cache_ttl_ms"`
	RistrettoNumCounter int64 `json:"ristretto_num_counter" yaml:"ristretto_num_counter"`
	RistrettoMaxCost    int64 `json:"ristretto_max_cost" yaml:"ristretto_max_cost"`
	RistrettoBuffer     int64 `json:"ristretto_buffer" yaml:"ristretto_buffer"`
}

type AuditSettings struct {
	Dir                 string `json:"dir" yaml:"dir"`
	FlushIntervalMillis int64  `json:"flush_interval_ms" yaml:"flush_interval_ms"`
	MaxBufferSize       int    `json:"max_buffer_size" yaml:"max_buffer_size"`
	RedactPII           bool   `json:"redact_pii" yaml:"redact_pii"`
}

type RetentionSettings struct {
	Days       int    `json:"days" yaml:"days"`
	ArchiveDir string `json:"archive_dir,omitempty" yaml:"archive_dir,omitempty"`
	DryRun     bool   `json:"dry_run" yaml:"dry_run"`
}

type ApprovalSettings struct {
	ExpirationMinutes int           `json:"expiration_minutes" yaml:"expiration_minutes"`
	Approvers         []string      `json:"approvers" yaml:"approvers"`
	Type              ConsensusType `json:"type" yaml:"type"`
	RequiredApprovals int           `json:"required_approvals" yaml:"required_approvals"`
}

// ApplyDefaults fills zero-valued settings with production defaults.
func (c *Config) ApplyDefaults() {
	if c.Cache.TTLMillis <= 0 {
		c.Cache.TTLMillis = DefaultCacheTTL.Milliseconds()
	}
	if c.Cache.MaxSize <= 0 {
		c.Cache.MaxSize = DefaultCacheMaxSize
	}
	if c.Audit.FlushIntervalMillis <= 0 {
		c.Audit.FlushIntervalMillis = 5000
	}
	if c.Audit.MaxBufferSize <= 0 {
		c.Audit.MaxBufferSize = 100
	}
	if c.Retention.Days <= 0 {
		c.Retention.Days = 90
	}
	if c.Approval.ExpirationMinutes == 0 {
		c.Approval.ExpirationMinutes = 60
	}
	if c.Approval.Type == "" {
		c.Approval.Type = ConsensusSingle
	}
}

// Validate rejects settings that would wedge the core at runtime.
func (c *Config) Validate() error {
	if c.Audit.Dir == "" {
		return fmt.Errorf("audit.dir is required")
	}
	switch c.Approval.Type {
	case ConsensusSingle, ConsensusMajority, ConsensusUnanimous, ConsensusSequential:
	default:
		return fmt.Errorf("approval.type %q is not a consensus type", c.Approval.Type)
	}
	if c.Approval.Type == ConsensusMajority {
		if c.Approval.RequiredApprovals < 1 {
			return fmt.Errorf("approval.required_approvals must be at least 1 for majority consensus")
		}
		if len(c.Approval.Approvers) > 0 && c.Approval.RequiredApprovals > len(c.Approval.Approvers) {
			return fmt.Errorf("approval.required_approvals exceeds the approver count")
		}
	}
	return nil
}

// CacheTTL returns the decision cache TTL as a duration.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLMillis) * time.Millisecond
}

// AuditLoggerConfig converts the audit settings to the logger's constructor
// shape.
func (c *Config) AuditLoggerConfig() AuditLoggerConfig {
	return AuditLoggerConfig{
		Dir:           c.Audit.Dir,
		FlushInterval: time.Duration(c.Audit.FlushIntervalMillis) * time.Millisecond,
		MaxBufferSize: c.Audit.MaxBufferSize,
		RedactPII:     c.Audit.RedactPII,
	}
}

// RetentionConfig converts the retention settings to the policy's
// constructor shape.
func (c *Config) RetentionConfig() RetentionConfig {
	return RetentionConfig{
		RetentionDays: c.Retention.Days,
		ArchiveDir:    c.Retention.ArchiveDir,
		DryRun:        c.Retention.DryRun,
	}
}

// EngineConfig converts the engine settings to the engine's constructor shape.
func (c *Config) EngineConfig() EngineConfig {
	return EngineConfig{
		RoleCacheTTL:        time.Duration(c.Engine.RoleCacheTTLMillis) * time.Millisecond,
		RistrettoNumCounter: c.Engine.RistrettoNumCounter,
		RistrettoMaxCost:    c.Engine.RistrettoMaxCost,
		RistrettoBuffer:     c.Engine.RistrettoBuffer,
	}
}

// ConfigLoader loads configuration from YAML or JSON.
type ConfigLoader struct{}

func NewConfigLoader() *ConfigLoader { return &ConfigLoader{} }

func (l *ConfigLoader) LoadYAML(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse yaml config: %w", err)
	}
	return cfg, nil
}

func (l *ConfigLoader) LoadJSON(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse json config: %w", err)
	}
	return cfg, nil
}

// LoadFile dispatches on the file extension (.yaml/.yml/.json).
func (l *ConfigLoader) LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return l.LoadYAML(data)
	case ".json":
		return l.LoadJSON(data)
	}
	return nil, fmt.Errorf("unsupported config extension %q", filepath.Ext(path))
}

// ToYAML exports the config.
func (c *Config) ToYAML() ([]byte, error) {
	return yaml.Marshal(c)
}

// ToJSON exports the config.
func (c *Config) ToJSON() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}
