// Package config loads the startup configuration: everything the core
// needs before it can reach the database. Values come from a YAML file
// layered under EDMS_-prefixed environment variables; settings that belong
// to a running deployment (document types, users, roles) live in the
// relational store, not here.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config is the full startup configuration tree.
type Config struct {
	Database      Database      `mapstructure:"database"`
	FileStore     FileStore     `mapstructure:"filestore"`
	Organization  Organization  `mapstructure:"organization"`
	Workflow      Workflow      `mapstructure:"workflow"`
	Notifications Notifications `mapstructure:"notifications"`
	Scheduler     Scheduler     `mapstructure:"scheduler"`
	// Placeholders are the installation-configurable additions to the
	// artifact pipeline's built-in placeholder set.
	Placeholders map[string]string `mapstructure:"placeholders"`
}

// Database selects the relational backend. Dialect "mysql" is production;
// "sqlite" backs tests and offline tooling.
type Database struct {
	Dialect string `mapstructure:"dialect"`
	Driver  string `mapstructure:"driver"`
	DSN     string `mapstructure:"dsn"`
}

type FileStore struct {
	Root string `mapstructure:"root"`
}

type Organization struct {
	Name       string `mapstructure:"name"`
	SystemName string `mapstructure:"system_name"`
}

// Workflow holds the SLA windows, in days, for the review and approval
// workflows.
type Workflow struct {
	ReviewSLADays   int `mapstructure:"review_sla_days"`
	ApprovalSLADays int `mapstructure:"approval_sla_days"`
}

type Notifications struct {
	DefaultRoute []string          `mapstructure:"default_route"`
	Contacts     map[string]string `mapstructure:"contacts"`
	WebhookURL   string            `mapstructure:"webhook_url"`
	Admins       []string          `mapstructure:"admins"`
}

type Scheduler struct {
	Workers int `mapstructure:"workers"`
}

// ReviewSLA converts the configured day count to a duration.
func (w Workflow) ReviewSLA() time.Duration {
	return time.Duration(w.ReviewSLADays) * 24 * time.Hour
}

// ApprovalSLA converts the configured day count to a duration.
func (w Workflow) ApprovalSLA() time.Duration {
	return time.Duration(w.ApprovalSLADays) * 24 * time.Hour
}

// Load reads path (optional; empty loads defaults plus environment only)
// and resolves the final configuration. Environment variables use the
// EDMS_ prefix with underscores for nesting, e.g. EDMS_DATABASE_DSN.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("EDMS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	// Viper lower-cases map keys; placeholder tokens are upper-case.
	if len(cfg.Placeholders) > 0 {
		upper := make(map[string]string, len(cfg.Placeholders))
		for k, val := range cfg.Placeholders {
			upper[strings.ToUpper(k)] = val
		}
		cfg.Placeholders = upper
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Render serializes the resolved configuration back to YAML, with the DSN
// masked, for the taskrunner's config subcommand and startup logging.
func (c *Config) Render() (string, error) {
	masked := *c
	if masked.Database.DSN != "" {
		masked.Database.DSN = maskDSN(masked.Database.DSN)
	}
	out, err := yaml.Marshal(&masked)
	if err != nil {
		return "", fmt.Errorf("config: render: %w", err)
	}
	return string(out), nil
}

// maskDSN hides the credential portion of a DSN, keeping host/database
// visible for diagnostics.
func maskDSN(dsn string) string {
	if at := strings.LastIndex(dsn, "@"); at >= 0 {
		return "***@" + dsn[at+1:]
	}
	return dsn
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.dialect", "sqlite")
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "file:edms.db")
	v.SetDefault("filestore.root", "./filestore")
	v.SetDefault("organization.name", "Organization")
	v.SetDefault("organization.system_name", "EDMS")
	v.SetDefault("workflow.review_sla_days", 30)
	v.SetDefault("workflow.approval_sla_days", 14)
	v.SetDefault("notifications.default_route", []string{"console"})
	v.SetDefault("scheduler.workers", 4)
}

func (c *Config) validate() error {
	switch c.Database.Dialect {
	case "mysql", "sqlite":
	default:
		return fmt.Errorf("config: unsupported database dialect %q", c.Database.Dialect)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("config: database.dsn is required")
	}
	if c.FileStore.Root == "" {
		return fmt.Errorf("config: filestore.root is required")
	}
	if c.Workflow.ReviewSLADays <= 0 || c.Workflow.ApprovalSLADays <= 0 {
		return fmt.Errorf("config: workflow SLA days must be positive")
	}
	return nil
}
