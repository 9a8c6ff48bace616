package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var DefaultConfigYAML []byte

type Config struct {
	Server    Server    `yaml:"server"`
	Output    Output    `yaml:"output"`
	Tracking  Tracking  `yaml:"tracking"`
	Auth      Auth      `yaml:"auth"`
	Telemetry Telemetry `yaml:"telemetry"`
	Catalog   Catalog   `yaml:"catalog"`
	Logging   Logging   `yaml:"logging"`
}

type Server struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type Output struct {
	DataDir string `yaml:"data_dir"`
}

type Tracking struct {
	DedupWindow Duration `yaml:"dedup_window"`
}

type Auth struct {
	SecretEnv  string   `yaml:"secret_env"`
	CookieName string   `yaml:"cookie_name"`
	Issuer     string   `yaml:"issuer"`
	TokenTTL   Duration `yaml:"token_ttl"`
}

type Telemetry struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"service_name"`
	Environment string `yaml:"environment"`
}

type Catalog struct {
	Feeds []Feed `yaml:"feeds"`
}

type Feed struct {
	URL  string `yaml:"url"`
	Name string `yaml:"name"`
}

type Logging struct {
	Level string `yaml:"level"`
}

// Duration is a time.Duration that unmarshals from strings like "24h".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	if parsed <= 0 {
		return fmt.Errorf("duration must be positive, got %q", s)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// ConfigDir returns the XDG config directory for lestari.
func ConfigDir() string {
	return filepath.Join(homeDir(), ".config", "lestari")
}

// DataDir returns the XDG data directory for lestari.
func DataDir() string {
	return filepath.Join(homeDir(), ".local", "share", "lestari")
}

// ResolveConfigPath finds the config file following priority:
// explicit path > ~/.config/lestari/config.yaml > ./config.yaml
func ResolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	xdgConfig := filepath.Join(ConfigDir(), "config.yaml")
	if _, err := os.Stat(xdgConfig); err == nil {
		return xdgConfig, nil
	}

	cwdConfig := "config.yaml"
	if _, err := os.Stat(cwdConfig); err == nil {
		return cwdConfig, nil
	}

	return "", fmt.Errorf(
		"no config file found; searched:\n  %s\n  ./config.yaml\n\nRun 'lestari init' to create a default config",
		xdgConfig,
	)
}

// Load reads and parses a config YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return parse(data)
}

// parse parses YAML bytes into a Config, applying defaults.
func parse(data []byte) (*Config, error) {
	cfg := &Config{
		Server:   Server{Host: "127.0.0.1", Port: 8000},
		Tracking: Tracking{DedupWindow: Duration(24 * time.Hour)},
		Auth: Auth{
			SecretEnv:  "LESTARI_SESSION_SECRET",
			CookieName: "lestari_session",
			Issuer:     "lestari",
			TokenTTL:   Duration(30 * 24 * time.Hour),
		},
		Telemetry: Telemetry{ServiceName: "lestari", Environment: "development"},
		Logging:   Logging{Level: "INFO"},
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	return cfg, nil
}

// GetDataDir returns the effective data directory from config or XDG default.
func (c *Config) GetDataDir() string {
	if c.Output.DataDir != "" {
		return c.Output.DataDir
	}
	return DataDir()
}

// DatabasePath returns the path of the SQLite database file.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.GetDataDir(), "lestari.db")
}

// Addr returns the host:port the server listens on.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// SessionSecret returns the session signing secret from the configured
// environment variable.
func (c *Config) SessionSecret() ([]byte, error) {
	secret := os.Getenv(c.Auth.SecretEnv)
	if secret == "" {
		return nil, fmt.Errorf("session secret not set; export %s", c.Auth.SecretEnv)
	}
	return []byte(secret), nil
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
