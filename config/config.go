package config

import (
	"encoding/json"
	"os"

	"github.com/sirupsen/logrus"

	"stpush/deviceid"
)

var log = logrus.New()

// Config holds the local peer settings: its identity, the folders shared
// with the remote, the datastore locations and the remote address.
type Config struct {
	// Default config file location
	configFile string

	Device struct {
		ID *deviceid.DeviceID `json:"id"`
	} `json:"device"`

	// Folders the remote shares on the connection
	Folders []string `json:"folders"`

	DataStore struct {
		IndexPath string `json:"index"`
		SpoolPath string `json:"spool"`
	} `json:"datastore"`

	Network struct {
		PeerAddress string `json:"peer"`
	} `json:"network"`
}

// NewEmptyConfig generates a new configuration with default settings
func NewEmptyConfig(configFile string) *Config {
	cfg := &Config{}

	cfg.configFile = configFile

	cfg.Folders = []string{"default"}

	cfg.DataStore.IndexPath = "/tmp/stpush/index"
	cfg.DataStore.SpoolPath = "/tmp/stpush/spool"

	cfg.Network.PeerAddress = "127.0.0.1:22001"

	return cfg
}

func NewConfigFromFile(configFile string) (*Config, error) {
	cfg := NewEmptyConfig(configFile)
	if err := cfg.Load(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save saves the configuration to a file
func (c *Config) Save() error {
	log.Infof("Saving config to %s", c.configFile)

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(c.configFile, data, 0644)
}

func (c *Config) Load() error {
	log.Infof("Loading config from %s", c.configFile)
	data, err := os.ReadFile(c.configFile)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(data, c); err != nil {
		return err
	}

	return nil
}
