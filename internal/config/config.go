// Package config provides environment-variable-first configuration loading
// with optional YAML file and .env fallbacks for the mail relay.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	defaultPort         = 3000
	defaultMaxBodyBytes = 1 << 20
	defaultSMTPHost     = "smtp.gmail.com"
	defaultSMTPPort     = 587
)

// Config holds the complete application configuration.
type Config struct {
	HTTP      HTTPConfig    `yaml:"http"`
	TLS       TLSConfig     `yaml:"tls"`
	Transport string        `yaml:"transport"`
	SMTP      SMTPConfig    `yaml:"smtp"`
	SES       SESConfig     `yaml:"ses"`
	Graph     GraphConfig   `yaml:"graph"`
	Logging   LoggingConfig `yaml:"logging"`
}

// HTTPConfig holds the HTTP listener configuration.
type HTTPConfig struct {
	Port         int   `yaml:"port"`
	MaxBodyBytes int64 `yaml:"max_body_bytes"`
}

// TLSConfig holds TLS settings for the HTTP listener. Leaving every field
// empty serves plain HTTP.
type TLSConfig struct {
	CertFile   string `yaml:"cert_file"`
	KeyFile    string `yaml:"key_file"`
	SelfSigned bool   `yaml:"self_signed"`
}

// SMTPConfig holds the outbound SMTP account.
type SMTPConfig struct {
	Host               string `yaml:"host"`
	Port               int    `yaml:"port"`
	Username           string `yaml:"username"`
	Password           string `yaml:"password"`
	From               string `yaml:"from"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
}

// SESConfig holds AWS SES configuration. Static keys are optional; the
// default AWS credential chain is used when they are empty.
type SESConfig struct {
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

// GraphConfig holds Microsoft Graph API configuration.
type GraphConfig struct {
	TenantID     string `yaml:"tenant_id"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	Sender       string `yaml:"sender"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Load loads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()
	if err := cfg.applyEnvVars(); err != nil {
		return nil, err
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromFile loads configuration from a YAML file as the base layer,
// then overrides with environment variables. Returns an error if the
// specified file path does not exist.
func LoadFromFile(path string) (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Environment variables always override YAML values
	if err := cfg.applyEnvVars(); err != nil {
		return nil, err
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadDotEnv copies variables from a .env file into the process environment.
// Variables already set are left alone, and a missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

// SMTPConfigured returns true if both SMTP username and password are set.
func (c *Config) SMTPConfigured() bool {
	return c.SMTP.Username != "" && c.SMTP.Password != ""
}

// SESConfigured returns true if an SES region is set.
func (c *Config) SESConfigured() bool {
	return c.SES.Region != ""
}

// GraphConfigured returns true if all four Graph API credentials are set.
func (c *Config) GraphConfigured() bool {
	return c.Graph.TenantID != "" &&
		c.Graph.ClientID != "" &&
		c.Graph.ClientSecret != "" &&
		c.Graph.Sender != ""
}

// DefaultFrom is the sender used when a request leaves "from" empty.
func (c *Config) DefaultFrom() string {
	switch {
	case c.SMTP.From != "":
		return c.SMTP.From
	case c.SMTP.Username != "":
		return c.SMTP.Username
	default:
		return c.Graph.Sender
	}
}

func (c *Config) applyDefaults() {
	c.HTTP.Port = defaultPort
	c.HTTP.MaxBodyBytes = defaultMaxBodyBytes
	c.SMTP.Host = defaultSMTPHost
	c.SMTP.Port = defaultSMTPPort
	c.Logging.Level = "info"
}

// applyEnvVars overrides configuration with environment variable values.
// Only non-empty environment variables override existing values. Malformed
// numbers and booleans are reported rather than silently ignored.
func (c *Config) applyEnvVars() error {
	var errs []error

	setInt := func(name string, dst *int) {
		if v := os.Getenv(name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				errs = append(errs, fmt.Errorf("invalid %s %q", name, v))
				return
			}
			*dst = n
		}
	}
	setBool := func(name string, dst *bool) {
		if v := os.Getenv(name); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("invalid %s %q", name, v))
				return
			}
			*dst = b
		}
	}
	setString := func(name string, dst *string) {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}

	setInt("PORT", &c.HTTP.Port)
	if v := os.Getenv("HTTP_MAX_BODY_BYTES"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n <= 0 {
			errs = append(errs, fmt.Errorf("invalid HTTP_MAX_BODY_BYTES %q", v))
		} else {
			c.HTTP.MaxBodyBytes = n
		}
	}

	setString("TLS_CERT_FILE", &c.TLS.CertFile)
	setString("TLS_KEY_FILE", &c.TLS.KeyFile)
	setBool("HTTP_TLS_SELF_SIGNED", &c.TLS.SelfSigned)

	if v := os.Getenv("TRANSPORT"); v != "" {
		c.Transport = strings.ToLower(v)
	}

	setString("EMAIL_USER", &c.SMTP.Username)
	setString("EMAIL_PASS", &c.SMTP.Password)
	setString("EMAIL_FROM", &c.SMTP.From)
	setString("SMTP_HOST", &c.SMTP.Host)
	setInt("SMTP_PORT", &c.SMTP.Port)
	setBool("SMTP_INSECURE_SKIP_VERIFY", &c.SMTP.InsecureSkipVerify)

	setString("SES_REGION", &c.SES.Region)
	setString("SES_ACCESS_KEY_ID", &c.SES.AccessKeyID)
	setString("SES_SECRET_ACCESS_KEY", &c.SES.SecretAccessKey)

	setString("GRAPH_TENANT_ID", &c.Graph.TenantID)
	setString("GRAPH_CLIENT_ID", &c.Graph.ClientID)
	setString("GRAPH_CLIENT_SECRET", &c.Graph.ClientSecret)
	setString("GRAPH_SENDER", &c.Graph.Sender)

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}

	return errors.Join(errs...)
}

// normalize lower-cases names and range-checks numbers, whichever layer
// they came from.
func (c *Config) normalize() error {
	c.Transport = strings.ToLower(strings.TrimSpace(c.Transport))
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))

	var errs []error
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid http port %d", c.HTTP.Port))
	}
	if c.HTTP.MaxBodyBytes <= 0 {
		errs = append(errs, fmt.Errorf("invalid http max body bytes %d", c.HTTP.MaxBodyBytes))
	}
	if c.SMTP.Port <= 0 || c.SMTP.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid smtp port %d", c.SMTP.Port))
	}
	return errors.Join(errs...)
}
