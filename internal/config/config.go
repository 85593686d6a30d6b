package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable overriding a config key,
// e.g. HELPSYNC_ZENDESK_TOKEN for zendesk.token
const EnvPrefix = "HELPSYNC"

// Config represents the complete helpsync configuration
type Config struct {
	Zendesk   ZendeskConfig   `mapstructure:"zendesk" yaml:"zendesk"`
	Content   ContentConfig   `mapstructure:"content" yaml:"content"`
	Translate TranslateConfig `mapstructure:"translate" yaml:"translate"`
	Sync      SyncConfig      `mapstructure:"sync" yaml:"sync"`
}

// ZendeskConfig configures the remote help center
type ZendeskConfig struct {
	// Company is the help center host, e.g. acme.zendesk.com
	Company string `mapstructure:"company" yaml:"company"`
	// PublicURI is the host attachments are downloaded from. Defaults to
	// Company.
	PublicURI  string `mapstructure:"public_uri" yaml:"public_uri"`
	Locale     string `mapstructure:"locale" yaml:"locale"`
	User       string `mapstructure:"user" yaml:"user"`
	Password   string `mapstructure:"password" yaml:"password,omitempty"`
	Token      string `mapstructure:"token" yaml:"token,omitempty"`
	OAuthToken string `mapstructure:"oauth_token" yaml:"oauth_token,omitempty"`
	// BaseURL replaces https://{company}, for proxies and tests
	BaseURL string `mapstructure:"base_url" yaml:"base_url,omitempty"`
	// PublicURL replaces https://{public_uri}. Defaults to BaseURL unless
	// public_uri names a host other than company.
	PublicURL string `mapstructure:"public_url" yaml:"public_url,omitempty"`
}

// ContentConfig configures the local content tree
type ContentConfig struct {
	Root             string `mapstructure:"root" yaml:"root"`
	AttributesFormat string `mapstructure:"attributes_format" yaml:"attributes_format"`
}

// TranslateConfig configures the optional WebTranslateIt project
type TranslateConfig struct {
	APIKey  string `mapstructure:"api_key" yaml:"api_key,omitempty"`
	Locale  string `mapstructure:"locale" yaml:"locale,omitempty"`
	BaseURL string `mapstructure:"base_url" yaml:"base_url,omitempty"`
}

// SyncConfig configures export behavior
type SyncConfig struct {
	DisableComments bool `mapstructure:"disable_comments" yaml:"disable_comments"`
	// PermissionGroup is the slug of the group allowed to edit new articles
	PermissionGroup string `mapstructure:"permission_group" yaml:"permission_group"`
}

var attributesFormats = []string{"yml", "yaml", "toml", "json"}

// defaults lists every config key so environment overrides apply even when
// the file does not mention them
var defaults = map[string]any{
	"zendesk.company":           "",
	"zendesk.public_uri":        "",
	"zendesk.locale":            "",
	"zendesk.user":              "",
	"zendesk.password":          "",
	"zendesk.token":             "",
	"zendesk.oauth_token":       "",
	"zendesk.base_url":          "",
	"zendesk.public_url":        "",
	"content.root":              "",
	"content.attributes_format": "",
	"translate.api_key":         "",
	"translate.locale":          "",
	"translate.base_url":        "",
	"sync.disable_comments":     false,
	"sync.permission_group":     "",
}

// LoadEnvFile loads KEY=value pairs from path into the process environment.
// Variables already set win. A missing file is not an error.
func LoadEnvFile(path string) error {
	err := godotenv.Load(path)
	if err != nil && errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

// Load reads the configuration file and overlays HELPSYNC_* environment
// variables
func Load(path string) (*Config, error) {
	path = os.ExpandEnv(path)

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetConfigFile(path)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.expandEnv()
	cfg.applyDefaults()

	// a relative content root is relative to the config file
	if cfg.Content.Root != "" && !filepath.IsAbs(cfg.Content.Root) {
		dir, err := filepath.Abs(filepath.Dir(path))
		if err != nil {
			return nil, fmt.Errorf("failed to resolve content.root: %w", err)
		}
		cfg.Content.Root = filepath.Join(dir, cfg.Content.Root)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Write stores cfg as YAML at path, creating parent directories. An
// existing file is only replaced when overwrite is set.
func Write(path string, cfg *Config, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file %s already exists", path)
		}
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	// credentials live in here
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// expandEnv expands environment variables in all string fields
func (c *Config) expandEnv() {
	c.Zendesk.Company = os.ExpandEnv(c.Zendesk.Company)
	c.Zendesk.PublicURI = os.ExpandEnv(c.Zendesk.PublicURI)
	c.Zendesk.User = os.ExpandEnv(c.Zendesk.User)
	c.Zendesk.Password = os.ExpandEnv(c.Zendesk.Password)
	c.Zendesk.Token = os.ExpandEnv(c.Zendesk.Token)
	c.Zendesk.OAuthToken = os.ExpandEnv(c.Zendesk.OAuthToken)
	c.Zendesk.BaseURL = os.ExpandEnv(c.Zendesk.BaseURL)
	c.Zendesk.PublicURL = os.ExpandEnv(c.Zendesk.PublicURL)
	c.Content.Root = os.ExpandEnv(c.Content.Root)
	c.Translate.APIKey = os.ExpandEnv(c.Translate.APIKey)
	c.Translate.BaseURL = os.ExpandEnv(c.Translate.BaseURL)
}

// applyDefaults fills in zero-value fields with sensible defaults.
func (c *Config) applyDefaults() {
	if c.Zendesk.PublicURI == "" {
		c.Zendesk.PublicURI = c.Zendesk.Company
	}
	if c.Zendesk.PublicURL == "" && c.Zendesk.PublicURI == c.Zendesk.Company {
		c.Zendesk.PublicURL = c.Zendesk.BaseURL
	}
	if c.Zendesk.Locale == "" {
		c.Zendesk.Locale = "en-US"
	}
	if c.Content.AttributesFormat == "" {
		c.Content.AttributesFormat = "yml"
	}
	if c.Translate.Locale == "" {
		c.Translate.Locale = c.Zendesk.Locale
	}
	if c.Sync.PermissionGroup == "" {
		c.Sync.PermissionGroup = "agents-and-managers"
	}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.Zendesk.Company == "" && c.Zendesk.BaseURL == "" {
		return fmt.Errorf("zendesk.company is required")
	}
	if strings.Contains(c.Zendesk.Company, "://") {
		return fmt.Errorf("zendesk.company must be a host name, not a URL: %s", c.Zendesk.Company)
	}

	if c.Content.Root == "" {
		return fmt.Errorf("content.root is required")
	}
	if !filepath.IsAbs(c.Content.Root) {
		return fmt.Errorf("content.root must be an absolute path: %s", c.Content.Root)
	}

	valid := false
	for _, f := range attributesFormats {
		if c.Content.AttributesFormat == f {
			valid = true
		}
	}
	if !valid {
		return fmt.Errorf("invalid content.attributes_format: %s (must be one of %s)",
			c.Content.AttributesFormat, strings.Join(attributesFormats, ", "))
	}

	// only one auth method may be configured
	methods := 0
	for _, secret := range []string{c.Zendesk.Password, c.Zendesk.Token, c.Zendesk.OAuthToken} {
		if secret != "" {
			methods++
		}
	}
	if methods > 1 {
		return fmt.Errorf("zendesk: only one of password, token or oauth_token may be set")
	}
	if (c.Zendesk.Password != "" || c.Zendesk.Token != "") && c.Zendesk.User == "" {
		return fmt.Errorf("zendesk.user is required with password or token auth")
	}

	return nil
}

// AuthMethod returns a description of the configured auth method
func (c *Config) AuthMethod() string {
	switch {
	case c.Zendesk.OAuthToken != "":
		return "oauth"
	case c.Zendesk.Token != "":
		return "token"
	case c.Zendesk.Password != "":
		return "password"
	}
	return "none"
}

// TranslationEnabled reports whether a translation project is configured
func (c *Config) TranslationEnabled() bool {
	return c.Translate.APIKey != ""
}

// DefaultPath returns $HOME/.config/helpsync/config.yaml
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(home, ".config", "helpsync", "config.yaml"), nil
}
