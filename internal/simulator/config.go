package simulator

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// BootEvent is a measurement replayed into the registers at startup.
type BootEvent struct {
	IMR       int    `yaml:"imr"`
	EventType uint32 `yaml:"event_type"`
	Name      string `yaml:"name"`
	Payload   string `yaml:"payload"`
}

// Config holds simulator configuration from an optional YAML file overlaid
// by environment variables.
type Config struct {
	ListenAddr      string      `yaml:"listen"`
	Seed            string      `yaml:"seed"`
	AppID           string      `yaml:"app_id"`
	InstanceID      string      `yaml:"instance_id"`
	AppName         string      `yaml:"app_name"`
	DeviceID        string      `yaml:"device_id"`
	AppCompose      string      `yaml:"app_compose"`
	KeyProviderInfo string      `yaml:"key_provider_info"`
	OSImageHash     string      `yaml:"os_image_hash"`
	BootEvents      []BootEvent `yaml:"boot_events"`
}

const (
	EnvConfigFile = "TEEGUEST_SIM_CONFIG"
	EnvListenAddr = "TEEGUEST_SIM_LISTEN"
	EnvSeed       = "TEEGUEST_SIM_SEED"
	EnvAppID      = "TEEGUEST_SIM_APP_ID"
	EnvAppName    = "TEEGUEST_SIM_APP_NAME"

	DefaultListenAddr = "127.0.0.1:8090"
)

// LoadConfig reads TEEGUEST_SIM_CONFIG if set and applies environment
// overrides on top.
func LoadConfig() (*Config, error) {
	cfg := &Config{}
	if path := strings.TrimSpace(os.Getenv(EnvConfigFile)); path != "" {
		var err error
		cfg, err = LoadConfigFile(path)
		if err != nil {
			return nil, err
		}
	}

	if v := os.Getenv(EnvListenAddr); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv(EnvSeed); v != "" {
		cfg.Seed = v
	}
	if v := os.Getenv(EnvAppID); v != "" {
		cfg.AppID = v
	}
	if v := os.Getenv(EnvAppName); v != "" {
		cfg.AppName = v
	}

	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfigFile parses a YAML config without applying defaults.
func LoadConfigFile(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	for i, ev := range cfg.BootEvents {
		if ev.IMR < 0 || ev.IMR > 3 {
			return nil, fmt.Errorf("boot_events[%d]: imr must be 0..3, got %d", i, ev.IMR)
		}
		if ev.Name == "" {
			return nil, fmt.Errorf("boot_events[%d]: name is required", i)
		}
	}
	return &cfg, nil
}

// applyDefaults fills unset fields. A missing seed gets a random one, so
// derived keys then change on every start.
func (c *Config) applyDefaults() error {
	if c.ListenAddr == "" {
		c.ListenAddr = DefaultListenAddr
	}
	if c.Seed == "" {
		seed := make([]byte, 32)
		if _, err := rand.Read(seed); err != nil {
			return fmt.Errorf("generate seed: %w", err)
		}
		c.Seed = hex.EncodeToString(seed)
	}
	if c.AppName == "" {
		c.AppName = "simulated-app"
	}
	if c.AppCompose == "" {
		c.AppCompose = `{"manifest_version":2,"name":"` + c.AppName + `","runner":"docker-compose"}`
	}
	if c.KeyProviderInfo == "" {
		c.KeyProviderInfo = `{"name":"simulator"}`
	}
	return nil
}

// SeedBytes decodes the seed as hex when possible and uses it verbatim
// otherwise.
func (c *Config) SeedBytes() []byte {
	if b, err := hex.DecodeString(c.Seed); err == nil && len(b) > 0 {
		return b
	}
	return []byte(c.Seed)
}
