package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port int `yaml:"port"`
	} `yaml:"server"`

	Gemini struct {
		ApiKey string `yaml:"apiKey"`
		Model  string `yaml:"model"`
	} `yaml:"gemini"`

	HuggingFace struct {
		ApiKey  string `yaml:"apiKey"`
		BaseURL string `yaml:"baseUrl"`
		Model   string `yaml:"model"`
	} `yaml:"huggingface"`

	Database struct {
		URI string `yaml:"uri"`
	} `yaml:"database"`

	Assets struct {
		Rules string `yaml:"rules"`
		Cases string `yaml:"cases"`
	} `yaml:"assets"`
}

// LoadConfig reads the configuration file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal yaml: %w", err)
	}

	return &cfg, nil
}
