package gatekeeper

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleYAML = `
cache:
  ttl_ms: 60000
  max_size: 500
engine:
  role_cache_ttl_ms: 30000
audit:
  dir: /var/log/gatekeeper
  flush_interval_ms: 2000
  max_buffer_size: 50
  redact_pii: true
retention:
  days: 30
  archive_dir: /var/log/gatekeeper/archive
approval:
  expiration_minutes: 15
  type: majority
  required_approvals: 2
  approvers: [alice, bob, carol]
`

func TestLoadYAML(t *testing.T) {
	cfg, err := NewConfigLoader().LoadYAML([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("load yaml: %v", err)
	}
	if cfg.Cache.MaxSize != 500 || cfg.CacheTTL() != time.Minute {
		t.Fatalf("cache settings = %+v", cfg.Cache)
	}
	if !cfg.Audit.RedactPII || cfg.Audit.Dir != "/var/log/gatekeeper" {
		t.Fatalf("audit settings = %+v", cfg.Audit)
	}
	if cfg.Retention.Days != 30 || cfg.Retention.ArchiveDir == "" {
		t.Fatalf("retention settings = %+v", cfg.Retention)
	}
	if cfg.Approval.Type != ConsensusMajority || cfg.Approval.RequiredApprovals != 2 {
		t.Fatalf("approval settings = %+v", cfg.Approval)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestLoadJSON(t *testing.T) {
	cfg, err := NewConfigLoader().LoadJSON([]byte(`{"audit":{"dir":"/tmp/audit"},"approval":{"type":"single"}}`))
	if err != nil {
		t.Fatalf("load json: %v", err)
	}
	if cfg.Audit.Dir != "/tmp/audit" {
		t.Fatalf("audit dir = %q", cfg.Audit.Dir)
	}
}

func TestLoadFileDispatch(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(yamlPath, []byte(sampleYAML), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := NewConfigLoader().LoadFile(yamlPath)
	if err != nil {
		t.Fatalf("load yaml file: %v", err)
	}
	if cfg.Audit.Dir == "" {
		t.Fatalf("yaml file not parsed")
	}

	tomlPath := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(tomlPath, []byte("x = 1"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := NewConfigLoader().LoadFile(tomlPath); err == nil {
		t.Fatalf("unsupported extension must error")
	}
	if _, err := NewConfigLoader().LoadFile(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Fatalf("missing file must error")
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.ApplyDefaults()
	if cfg.Cache.TTLMillis != DefaultCacheTTL.Milliseconds() || cfg.Cache.MaxSize != DefaultCacheMaxSize {
		t.Fatalf("cache defaults = %+v", cfg.Cache)
	}
	if cfg.Audit.FlushIntervalMillis != 5000 || cfg.Audit.MaxBufferSize != 100 {
		t.Fatalf("audit defaults = %+v", cfg.Audit)
	}
	if cfg.Retention.Days != 90 {
		t.Fatalf("retention default = %d", cfg.Retention.Days)
	}
	if cfg.Approval.Type != ConsensusSingle || cfg.Approval.ExpirationMinutes != 60 {
		t.Fatalf("approval defaults = %+v", cfg.Approval)
	}
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name string
		mut  func(*Config)
		want string
	}{
		{"missing audit dir", func(c *Config) { c.Audit.Dir = "" }, "audit.dir"},
		{"unknown consensus", func(c *Config) { c.Approval.Type = "quorum" }, "consensus"},
		{"majority without threshold", func(c *Config) {
			c.Approval.Type = ConsensusMajority
			c.Approval.RequiredApprovals = 0
		}, "at least 1"},
		{"threshold above approvers", func(c *Config) {
			c.Approval.Type = ConsensusMajority
			c.Approval.Approvers = []string{"alice"}
			c.Approval.RequiredApprovals = 3
		}, "exceeds"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{}
			cfg.ApplyDefaults()
			cfg.Audit.Dir = "/tmp/audit"
			tt.mut(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err = %v, want substring %q", err, tt.want)
			}
		})
	}
}

func TestConfigExportRoundTrip(t *testing.T) {
	cfg, err := NewConfigLoader().LoadYAML([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	out, err := cfg.ToYAML()
	if err != nil {
		t.Fatalf("to yaml: %v", err)
	}
	again, err := NewConfigLoader().LoadYAML(out)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if again.Audit.Dir != cfg.Audit.Dir || again.Approval.RequiredApprovals != cfg.Approval.RequiredApprovals {
		t.Fatalf("yaml round trip mismatch: %+v", again)
	}

	js, err := cfg.ToJSON()
	if err != nil {
		t.Fatalf("to json: %v", err)
	}
	again, err = NewConfigLoader().LoadJSON(js)
	if err != nil {
		t.Fatalf("reload json: %v", err)
	}
	if again.Retention.Days != cfg.Retention.Days {
		t.Fatalf("json round trip mismatch: %+v", again)
	}
}

func TestConfigConverters(t *testing.T) {
	cfg, err := NewConfigLoader().LoadYAML([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	ac := cfg.AuditLoggerConfig()
	if ac.Dir != "/var/log/gatekeeper" || ac.FlushInterval != 2*time.Second || ac.MaxBufferSize != 50 || !ac.RedactPII {
		t.Fatalf("audit config = %+v", ac)
	}
	rc := cfg.RetentionConfig()
	if rc.RetentionDays != 30 || rc.ArchiveDir == "" {
		t.Fatalf("retention config = %+v", rc)
	}
	ec := cfg.EngineConfig()
	if ec.RoleCacheTTL != 30*time.Second {
		t.Fatalf("engine config = %+v", ec)
	}
}
