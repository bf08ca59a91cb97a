// Package config loads the authkeeper configuration from the user's
// config directory, falling back to defaults when no file exists.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"authkeeper/pkg/logging"
)

const (
	userConfigDir  = ".config/authkeeper"
	configFileName = "config.yaml"
)

// DefaultCallbackPort is the local port the redirect listener binds to.
const DefaultCallbackPort = 8765

// DefaultClientID is the OAuth client identifier used when none is
// configured.
const DefaultClientID = "authkeeper-cli"

// Config is the top-level configuration structure for authkeeper.
type Config struct {
	// Host is the base URL of the service to authenticate against.
	Host string `yaml:"host,omitempty"`

	// ClientID is the OAuth client identifier registered with the service.
	ClientID string `yaml:"clientID,omitempty"`

	// CallbackPort is the local port the login redirect listener binds to.
	CallbackPort int `yaml:"callbackPort,omitempty"`

	// StorageDir overrides where session secrets are stored. Empty means
	// a "secrets" directory next to the config file.
	StorageDir string `yaml:"storageDir,omitempty"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"logLevel,omitempty"`
}

// GetDefaultConfig returns the built-in defaults.
func GetDefaultConfig() Config {
	return Config{
		ClientID:     DefaultClientID,
		CallbackPort: DefaultCallbackPort,
		LogLevel:     "info",
	}
}

func GetDefaultConfigPathOrPanic() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		panic(fmt.Errorf("could not determine user config directory: %w", err))
	}

	return filepath.Join(homeDir, userConfigDir)
}

// LoadConfig loads configuration from the specified directory. A missing
// config.yaml yields the defaults; a malformed one is an error.
func LoadConfig(configPath string) (Config, error) {
	configFilePath := filepath.Join(configPath, configFileName)
	config := GetDefaultConfig()

	data, err := os.ReadFile(configFilePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logging.Info("ConfigLoader", "No config.yaml found at %s, using defaults", configFilePath)
			return config, nil
		}
		logging.Info("ConfigLoader", "Error loading config.yaml from %s: %s", configFilePath, err)
		return Config{}, err
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return Config{}, fmt.Errorf("error loading config from %s: %w", configFilePath, err)
	}
	logging.Info("ConfigLoader", "Loaded configuration from %s", configFilePath)
	return config, nil
}

// Validate checks that the configuration is usable for a login.
func (c Config) Validate() error {
	if c.Host == "" {
		return errors.New("host is required; set it in config.yaml or via --host")
	}
	u, err := url.Parse(c.Host)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("host %q is not a valid URL", c.Host)
	}
	if c.ClientID == "" {
		return errors.New("clientID must not be empty")
	}
	if c.CallbackPort <= 0 || c.CallbackPort > 65535 {
		return fmt.Errorf("callbackPort %d is out of range", c.CallbackPort)
	}
	return nil
}

// SecretsDir returns the directory session secrets are stored in,
// relative to the given config path unless overridden.
func (c Config) SecretsDir(configPath string) string {
	if c.StorageDir != "" {
		return c.StorageDir
	}
	return filepath.Join(configPath, "secrets")
}
