// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config provides YAML-based configuration loading for the assistant
// platform, with environment-variable overrides for container deployment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration, loaded from config.yaml.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	AIService AIServiceConfig `yaml:"ai_service"`
	HIS       HISConfig       `yaml:"his"`
	Relay     RelayConfig     `yaml:"relay"`
	Retention RetentionConfig `yaml:"retention"`
}

// ServerConfig holds the listen address.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// DatabaseConfig selects the GORM driver. Driver is "mysql" in production;
// "sqlite" keeps local development and CI self-contained.
type DatabaseConfig struct {
	Driver   string `yaml:"driver"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	Path     string `yaml:"path"` // sqlite only
}

// AIServiceConfig points at the upstream streamed-inference service.
type AIServiceConfig struct {
	BaseURL        string `yaml:"base_url"`
	Endpoint       string `yaml:"endpoint"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	Source         string `yaml:"source"`
	RecommendCount int    `yaml:"recommend_count"`
	ServiceName    string `yaml:"service_name"`
}

// Timeout returns the upstream request timeout as a duration.
func (c AIServiceConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// HISConfig holds the CDSS contract constants the ingest endpoint validates
// against.
type HISConfig struct {
	ServiceID string `yaml:"service_id"`
	SceneType string `yaml:"scene_type"`
}

// RelayConfig tunes relay behavior.
type RelayConfig struct {
	CacheWindowMinutes    int `yaml:"cache_window_minutes"`
	ResolverWindowMinutes int `yaml:"resolver_window_minutes"`
}

// RetentionConfig tunes the janitor.
type RetentionConfig struct {
	SessionMaxAgeDays       int    `yaml:"session_max_age_days"`
	HeartbeatTimeoutSeconds int    `yaml:"heartbeat_timeout_seconds"`
	Schedule                string `yaml:"schedule"`
}

// Load reads a YAML config file from path, applies env overrides, and
// returns a validated Config. A missing file is not an error: defaults plus
// environment variables are enough to run.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			data = nil
		} else {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse: %w", err)
		}
	}
	cfg.applyDefaults()
	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8000
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.Host == "" {
		c.Database.Host = "localhost"
	}
	if c.Database.Port == 0 {
		c.Database.Port = 3306
	}
	if c.Database.Database == "" {
		c.Database.Database = "assistant_management"
	}
	if c.Database.Path == "" {
		c.Database.Path = "assistant.db"
	}
	if c.AIService.Endpoint == "" {
		c.AIService.Endpoint = "/rimagai/checkitem/recommend_item_with_reason"
	}
	if c.AIService.TimeoutSeconds == 0 {
		c.AIService.TimeoutSeconds = 30
	}
	if c.AIService.Source == "" {
		c.AIService.Source = "lip"
	}
	if c.AIService.RecommendCount == 0 {
		c.AIService.RecommendCount = 3
	}
	if c.AIService.ServiceName == "" {
		c.AIService.ServiceName = "rimagai_checkitem"
	}
	if c.HIS.ServiceID == "" {
		c.HIS.ServiceID = "CHKR01"
	}
	if c.HIS.SceneType == "" {
		c.HIS.SceneType = "EXAM001"
	}
	if c.Relay.CacheWindowMinutes == 0 {
		c.Relay.CacheWindowMinutes = 5
	}
	if c.Relay.ResolverWindowMinutes == 0 {
		c.Relay.ResolverWindowMinutes = 5
	}
	if c.Retention.SessionMaxAgeDays == 0 {
		c.Retention.SessionMaxAgeDays = 30
	}
	if c.Retention.HeartbeatTimeoutSeconds == 0 {
		c.Retention.HeartbeatTimeoutSeconds = 90
	}
	if c.Retention.Schedule == "" {
		c.Retention.Schedule = "@hourly"
	}
}

// applyEnv lets container environments override the file without editing it.
func (c *Config) applyEnv() {
	if v := os.Getenv("ASSISTANT_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.Server.Port = p
		}
	}
	if v := os.Getenv("AI_SERVICE_BASE_URL"); v != "" {
		c.AIService.BaseURL = v
	}
	if v := os.Getenv("AI_SERVICE_ENDPOINT"); v != "" {
		c.AIService.Endpoint = v
	}
	if v := os.Getenv("AI_SERVICE_TIMEOUT"); v != "" {
		if t, err := strconv.Atoi(v); err == nil {
			c.AIService.TimeoutSeconds = t
		}
	}
	if v := os.Getenv("DB_DRIVER"); v != "" {
		c.Database.Driver = v
	}
	if v := os.Getenv("MYSQL_HOST"); v != "" {
		c.Database.Host = v
	}
	if v := os.Getenv("MYSQL_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.Database.Port = p
		}
	}
	if v := os.Getenv("MYSQL_USER"); v != "" {
		c.Database.User = v
	}
	if v := os.Getenv("MYSQL_PASSWORD"); v != "" {
		c.Database.Password = v
	}
	if v := os.Getenv("MYSQL_DATABASE"); v != "" {
		c.Database.Database = v
	}
}

func (c *Config) validate() error {
	switch c.Database.Driver {
	case "mysql", "sqlite":
	default:
		return fmt.Errorf("config: unsupported database driver %q", c.Database.Driver)
	}
	if c.Database.Driver == "mysql" && c.Database.User == "" {
		return fmt.Errorf("config: mysql driver requires database.user")
	}
	if c.AIService.BaseURL == "" {
		return fmt.Errorf("config: ai_service.base_url is required")
	}
	return nil
}

// DSN builds the MySQL DSN for the configured database.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&charset=utf8mb4",
		c.User, c.Password, c.Host, c.Port, c.Database)
}
