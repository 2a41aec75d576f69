package main

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config represents the ggmlquant configuration file
// (~/.config/ggmlquant/config.yaml). Empty fields mean "not set" and
// defer to CLI flags and built-in defaults.
type Config struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// Quantization defaults
	DefaultType string   `yaml:"default_type"`
	Skip        []string `yaml:"skip"`
	TensorTypes []string `yaml:"tensor_types"`

	// Server
	ServerAddress string `yaml:"server_address"`
}

func configPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "ggmlquant", "config.yaml")
}

// LoadConfig reads the config file. Returns a zero Config if the file
// doesn't exist or can't be parsed.
func LoadConfig() Config {
	path := configPath()
	if path == "" {
		return Config{}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}
	}
	return cfg
}
