// Package config wraps a viper singleton holding Intent-Engine settings.
// Precedence: environment variables > project config.yaml > user config >
// defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

var v *viper.Viper

// Initialize sets up the viper configuration singleton.
// Should be called once at application startup.
func Initialize() error {
	v = viper.New()

	// Only config.yaml is loaded; config.json is not supported.
	v.SetConfigType("yaml")

	// Explicitly locate config.yaml via SetConfigFile.
	// Precedence: project .intent-engine/config.yaml > ~/.config/ie/config.yaml
	configFileSet := false

	// 1. Walk up from CWD to find the project .intent-engine/config.yaml,
	//    so commands work from subdirectories.
	cwd, err := os.Getwd()
	if err == nil {
		for dir := cwd; dir != filepath.Dir(dir); dir = filepath.Dir(dir) {
			configPath := filepath.Join(dir, ".intent-engine", "config.yaml")
			if _, err := os.Stat(configPath); err == nil {
				v.SetConfigFile(configPath)
				configFileSet = true
				break
			}
		}
	}

	// 2. User config directory (~/.config/ie/config.yaml)
	if !configFileSet {
		if configDir, err := os.UserConfigDir(); err == nil {
			configPath := filepath.Join(configDir, "ie", "config.yaml")
			if _, err := os.Stat(configPath); err == nil {
				v.SetConfigFile(configPath)
				configFileSet = true
			}
		}
	}

	// Automatic environment variable binding; env vars take precedence
	// over the config file. E.g. IE_SESSION_ID, IE_FORMAT, IE_DB_BACKEND.
	v.SetEnvPrefix("IE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("format", "text")
	v.SetDefault("session-id", "")
	v.SetDefault("db.backend", "sqlite")
	v.SetDefault("db.path", "")
	v.SetDefault("session.ttl", "720h")
	v.SetDefault("session.max", 100)

	// Background analysis (LLM worker) settings. Analysis is enabled by
	// the presence of IE_LLM_ENDPOINT/IE_LLM_API_KEY/IE_LLM_MODEL, not a
	// flag.
	v.SetDefault("analysis.cooldown", "300s")
	v.SetDefault("analysis.model", "claude-haiku-4-5")

	// Dashboard settings
	v.SetDefault("dashboard.port", 11391)

	// Graph-backend connection settings are parsed for forward
	// compatibility; the embedded backend ignores them.
	_ = v.BindEnv("neo4j.uri", "NEO4J_URI")
	_ = v.BindEnv("neo4j.user", "NEO4J_USER")
	_ = v.BindEnv("neo4j.password", "NEO4J_PASSWORD")
	_ = v.BindEnv("neo4j.project-id", "NEO4J_PROJECT_ID")
	v.SetDefault("neo4j.uri", "")
	v.SetDefault("neo4j.user", "neo4j")
	v.SetDefault("neo4j.password", "")
	v.SetDefault("neo4j.project-id", "")

	if configFileSet {
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}
	return nil
}

// SessionID resolves the session identity: explicit argument first, then
// IE_SESSION_ID / config, then the default single-user session "-1".
func SessionID(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if id := GetString("session-id"); id != "" {
		return id
	}
	return "-1"
}

// GetString retrieves a string configuration value
func GetString(key string) string {
	if v == nil {
		return ""
	}
	return v.GetString(key)
}

// GetBool retrieves a boolean configuration value
func GetBool(key string) bool {
	if v == nil {
		return false
	}
	return v.GetBool(key)
}

// GetInt retrieves an integer configuration value
func GetInt(key string) int {
	if v == nil {
		return 0
	}
	return v.GetInt(key)
}

// GetDuration retrieves a duration configuration value
func GetDuration(key string) time.Duration {
	if v == nil {
		return 0
	}
	return v.GetDuration(key)
}

// Set sets a configuration value (used by flag precedence handling)
func Set(key string, value interface{}) {
	if v != nil {
		v.Set(key, value)
	}
}

// ConfigFileUsed returns the path of the loaded config file, if any.
func ConfigFileUsed() string {
	if v == nil {
		return ""
	}
	return v.ConfigFileUsed()
}
