package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full probe configuration, loaded from YAML with env overrides.
type Config struct {
	ProbeID    string           `mapstructure:"probe_id"`
	Hosts      []HostConfig     `mapstructure:"hosts"`
	SSH        SSHConfig        `mapstructure:"ssh"`
	Collection CollectionConfig `mapstructure:"collection"`
	NATS       NATSConfig       `mapstructure:"nats"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// HostConfig describes one target host and how to reach it.
type HostConfig struct {
	Name         string `mapstructure:"name"`
	Address      string `mapstructure:"address"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	PasswordEnv  string `mapstructure:"password_env"`
	IdentityFile string `mapstructure:"identity_file"`
	Platform     string `mapstructure:"platform"` // "linux" or "darwin"

	// Source selects how snapshots are gathered for this host:
	// "ssh" (default) runs diagnostic commands over the remote shell,
	// "exporter" scrapes a Prometheus node_exporter endpoint instead.
	Source      string `mapstructure:"source"`
	ExporterURL string `mapstructure:"exporter_url"`
}

// ResolvePassword returns the literal password, or the value of the
// configured environment variable when password_env is set. Keeping secrets
// out of the config file is preferred.
func (h HostConfig) ResolvePassword() string {
	if h.PasswordEnv != "" {
		return os.Getenv(h.PasswordEnv)
	}
	return h.Password
}

// SSHConfig holds transport timeouts shared by all ssh-sourced hosts.
type SSHConfig struct {
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	CommandTimeout time.Duration `mapstructure:"command_timeout"`
}

// CollectionConfig controls the scheduled collection cycle.
type CollectionConfig struct {
	Interval          time.Duration `mapstructure:"interval"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
}

// NATSConfig holds the publishing transport settings.
type NATSConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	URLs          []string      `mapstructure:"urls"`
	SubjectPrefix string        `mapstructure:"subject_prefix"`
	MaxReconnects int           `mapstructure:"max_reconnects"`
	ReconnectWait time.Duration `mapstructure:"reconnect_wait"`
	Auth          AuthConfig    `mapstructure:"auth"`
	TLS           TLSConfig     `mapstructure:"tls"`
}

// AuthConfig selects the NATS authentication mechanism.
type AuthConfig struct {
	Type      string `mapstructure:"type"` // creds, token, userpass, none
	CredsFile string `mapstructure:"creds_file"`
	Token     string `mapstructure:"token"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
}

// TLSConfig holds TLS settings for the NATS connection.
type TLSConfig struct {
	Enabled            bool   `mapstructure:"enabled"`
	CertFile           string `mapstructure:"cert_file"`
	KeyFile            string `mapstructure:"key_file"`
	CAFile             string `mapstructure:"ca_file"`
	InsecureSkipVerify bool   `mapstructure:"insecure_skip_verify"`
}

// LoggingConfig controls zap output and lumberjack rotation.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	Console    bool   `mapstructure:"console"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// Load reads the configuration file at path, applies defaults and
// HOSTPROBE_-prefixed environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()

	if path == "" {
		path = GetDefaultConfigPath()
	}
	v.SetConfigFile(path)

	setDefaults(v)

	v.SetEnvPrefix("HOSTPROBE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ssh.connect_timeout", 10*time.Second)
	v.SetDefault("ssh.command_timeout", 30*time.Second)

	v.SetDefault("collection.interval", 60*time.Second)
	v.SetDefault("collection.heartbeat_interval", 5*time.Minute)

	v.SetDefault("nats.enabled", false)
	v.SetDefault("nats.subject_prefix", "hostprobe")
	v.SetDefault("nats.max_reconnects", -1)
	v.SetDefault("nats.reconnect_wait", 2*time.Second)
	v.SetDefault("nats.auth.type", "none")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.console", true)
	v.SetDefault("logging.max_size_mb", 10)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age_days", 28)

	UpdateConfigDefaults(v)
}

var identifierPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// Validate checks the configuration for completeness and consistency.
func (c *Config) Validate() error {
	if err := validateProbeID(c.ProbeID); err != nil {
		return err
	}

	if len(c.Hosts) == 0 {
		return fmt.Errorf("at least one host is required")
	}

	seen := make(map[string]bool)
	for i, h := range c.Hosts {
		if err := h.validate(); err != nil {
			return fmt.Errorf("hosts[%d]: %w", i, err)
		}
		if seen[h.Name] {
			return fmt.Errorf("hosts[%d]: duplicate host name %q", i, h.Name)
		}
		seen[h.Name] = true
	}

	if c.Collection.Interval < 5*time.Second {
		return fmt.Errorf("collection.interval must be at least 5s")
	}

	if c.NATS.Enabled {
		if len(c.NATS.URLs) == 0 {
			return fmt.Errorf("nats.urls is required when nats is enabled")
		}
		if c.NATS.SubjectPrefix == "" {
			return fmt.Errorf("nats.subject_prefix is required when nats is enabled")
		}
		if err := c.NATS.Auth.validate(); err != nil {
			return err
		}
	}

	return nil
}

func validateProbeID(id string) error {
	if id == "" {
		return fmt.Errorf("probe_id is required")
	}
	if !identifierPattern.MatchString(id) {
		return fmt.Errorf("probe_id must contain only alphanumeric characters, dashes, and underscores")
	}
	return nil
}

func (h HostConfig) validate() error {
	if h.Name == "" {
		return fmt.Errorf("name is required")
	}
	if !identifierPattern.MatchString(h.Name) {
		return fmt.Errorf("name must contain only alphanumeric characters, dashes, and underscores")
	}

	switch h.Platform {
	case "linux", "darwin":
	default:
		return fmt.Errorf("platform must be \"linux\" or \"darwin\", got %q", h.Platform)
	}

	switch h.Source {
	case "", "ssh":
		if h.Address == "" {
			return fmt.Errorf("address is required")
		}
		if h.User == "" {
			return fmt.Errorf("user is required")
		}
		if h.Password == "" && h.PasswordEnv == "" && h.IdentityFile == "" {
			return fmt.Errorf("one of password, password_env, or identity_file is required")
		}
	case "exporter":
		if h.ExporterURL == "" {
			return fmt.Errorf("exporter_url is required for exporter source")
		}
	default:
		return fmt.Errorf("source must be \"ssh\" or \"exporter\", got %q", h.Source)
	}

	return nil
}

func (a AuthConfig) validate() error {
	switch a.Type {
	case "none", "":
		return nil
	case "creds":
		if a.CredsFile == "" {
			return fmt.Errorf("nats.auth.creds_file is required for creds auth")
		}
	case "token":
		if a.Token == "" {
			return fmt.Errorf("nats.auth.token is required for token auth")
		}
	case "userpass":
		if a.Username == "" || a.Password == "" {
			return fmt.Errorf("nats.auth.username and password are required for userpass auth")
		}
	default:
		return fmt.Errorf("invalid nats.auth.type: %s", a.Type)
	}
	return nil
}
