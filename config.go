package authgate

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete authgate configuration, loadable from YAML or
// JSON.
type Config struct {
	// AllowIfNoRule controls the verdict when no rule matches. Default
	// false: unmatched requests are denied.
	AllowIfNoRule bool `json:"allow_if_no_rule" yaml:"allow_if_no_rule"`
	// SuperRoles bypass all rule evaluation.
	SuperRoles []string `json:"super_roles" yaml:"super_roles"`

	DecisionCacheSeconds   int `json:"decision_cache_seconds" yaml:"decision_cache_seconds"`
	RuleCacheSeconds       int `json:"rule_cache_seconds" yaml:"rule_cache_seconds"`
	PermissionCacheSeconds int `json:"permission_cache_seconds" yaml:"permission_cache_seconds"`
	MaxHierarchyDepth      int `json:"max_hierarchy_depth" yaml:"max_hierarchy_depth"`

	Database DatabaseConfig `json:"database" yaml:"database"`
	Redis    RedisConfig    `json:"redis" yaml:"redis"`
	Outbox   OutboxConfig   `json:"outbox" yaml:"outbox"`
}

// DatabaseConfig selects the SQL backend.
type DatabaseConfig struct {
	Driver string `json:"driver" yaml:"driver"`
	DSN    string `json:"dsn" yaml:"dsn"`
}

// RedisConfig configures the shared cache. An empty Addr means no shared
// cache (single-instance local caching only).
type RedisConfig struct {
	Addr     string `json:"addr" yaml:"addr"`
	Password string `json:"password,omitempty" yaml:"password,omitempty"`
	DB       int    `json:"db" yaml:"db"`
}

// OutboxConfig configures event dispatch.
type OutboxConfig struct {
	Stream string `json:"stream" yaml:"stream"`
	// Subjects is the publish allow-list; "auth.v1.>" matches every
	// auth.v1 subject.
	Subjects []string `json:"subjects" yaml:"subjects"`
}

// DefaultConfig returns the configuration used when nothing is provided.
func DefaultConfig() *Config {
	return &Config{
		AllowIfNoRule:          false,
		SuperRoles:             []string{"super-admin"},
		DecisionCacheSeconds:   20,
		RuleCacheSeconds:       60,
		PermissionCacheSeconds: 30,
		MaxHierarchyDepth:      DefaultMaxHierarchyDepth,
		Database:               DatabaseConfig{Driver: "sqlite", DSN: ":memory:"},
		Outbox:                 OutboxConfig{Stream: "AUTH_EVENTS", Subjects: []string{"auth.v1.>"}},
	}
}

// LoadConfig reads a YAML or JSON config file, chosen by extension, over
// the defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return LoadYAMLConfig(data)
	case ".json":
		return LoadJSONConfig(data)
	default:
		return nil, fmt.Errorf("unsupported config format: %s", path)
	}
}

// LoadYAMLConfig parses YAML config data over the defaults.
func LoadYAMLConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse yaml config: %w", err)
	}
	return cfg, cfg.Validate()
}

// LoadJSONConfig parses JSON config data over the defaults.
func LoadJSONConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse json config: %w", err)
	}
	return cfg, cfg.Validate()
}

// Validate reports every configuration problem at once.
func (c *Config) Validate() error {
	var errs []string
	if c.DecisionCacheSeconds <= 0 {
		errs = append(errs, "decision_cache_seconds must be positive")
	}
	if c.RuleCacheSeconds <= 0 {
		errs = append(errs, "rule_cache_seconds must be positive")
	}
	if c.PermissionCacheSeconds <= 0 {
		errs = append(errs, "permission_cache_seconds must be positive")
	}
	if c.MaxHierarchyDepth <= 0 {
		errs = append(errs, "max_hierarchy_depth must be positive")
	}
	if len(errs) > 0 {
		return &ValidationError{Errors: errs}
	}
	return nil
}

// DecisionTTL returns the decision-cache TTL as a duration.
func (c *Config) DecisionTTL() time.Duration {
	return time.Duration(c.DecisionCacheSeconds) * time.Second
}

// RuleTTL returns the rule-list cache TTL as a duration.
func (c *Config) RuleTTL() time.Duration {
	return time.Duration(c.RuleCacheSeconds) * time.Second
}

// PermissionTTL returns the effective-permission cache TTL as a duration.
func (c *Config) PermissionTTL() time.Duration {
	return time.Duration(c.PermissionCacheSeconds) * time.Second
}

// EngineOptions translates the config into engine options.
func (c *Config) EngineOptions() []EngineOption {
	return []EngineOption{
		WithSuperRoles(c.SuperRoles...),
		WithAllowIfNoRule(c.AllowIfNoRule),
		WithDecisionTTL(c.DecisionTTL()),
		WithRuleListTTL(c.RuleTTL()),
	}
}
