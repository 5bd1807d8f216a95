package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds service settings loaded from the yaml config file. Environment
// variables override the file for deployment-specific values.
type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Notify struct {
		BaseURL string `yaml:"base_url"`
		Token   string `yaml:"token"`
	} `yaml:"notify"`
}

func defaultConfig() *Config {
	var config Config
	config.Server.Port = "8080"
	return &config
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return defaultConfig(), nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := defaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if port := os.Getenv("PORT"); port != "" {
		config.Server.Port = port
	}
	if baseURL := os.Getenv("NOTIFY_BASE_URL"); baseURL != "" {
		config.Notify.BaseURL = baseURL
	}
	if token := os.Getenv("NOTIFY_TOKEN"); token != "" {
		config.Notify.Token = token
	}

	return config, nil
}
