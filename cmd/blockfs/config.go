package main

import (
	"fmt"
	"os"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

const envVarPrefix = "BLOCKFS"

type Config struct {
	Image  string `envconfig:"IMAGE"  yaml:"image"`
	Blocks uint64 `envconfig:"BLOCKS" yaml:"blocks"`
	Debug  uint64 `envconfig:"DEBUG"  yaml:"debug"`
}

func DefaultConfig() Config {
	return Config{Image: "blockfs.img", Blocks: 100}
}

// LoadConfig layers the optional YAML file named by BLOCKFS_CONFIG_FILE and
// then BLOCKFS_* environment variables over the defaults.
func LoadConfig() (*Config, error) {
	c := DefaultConfig()
	if configFile := os.Getenv(envVarPrefix + "_CONFIG_FILE"); configFile != "" {
		data, err := os.ReadFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.UnmarshalStrict(data, &c); err != nil {
			return nil, fmt.Errorf("unmarshaling config file: %w", err)
		}
	}

	if err := envconfig.Process(envVarPrefix, &c); err != nil {
		return nil, fmt.Errorf("parsing environment variables: %w", err)
	}
	return &c, nil
}

func (c *Config) Validate() error {
	if c.Image == "" {
		return fmt.Errorf("missing required configuration: image / %s_IMAGE", envVarPrefix)
	}
	if c.Blocks == 0 {
		return fmt.Errorf("missing required configuration: blocks / %s_BLOCKS", envVarPrefix)
	}
	return nil
}
