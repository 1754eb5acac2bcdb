// Package config provides configuration management for the check engine.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Load reads configuration from the specified YAML file and environment variables.
// Environment variables take precedence over file values.
// Environment variable format: CHECKENGINE_<SECTION>_<KEY> (e.g., CHECKENGINE_ENGINE_DEBUG)
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("CHECKENGINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath == "" {
		return nil, fmt.Errorf("config file path is required")
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", configPath)
	}

	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// setDefaults sets default values for all configuration options.
func setDefaults(v *viper.Viper) {
	// Inventory defaults
	v.SetDefault("inventory.autochecks_dir", "./var/autochecks")

	// Engine defaults
	v.SetDefault("engine.concurrency", 8)
	v.SetDefault("engine.host_timeout", 60*time.Second)
	v.SetDefault("engine.service_timeout", 20*time.Second)
	v.SetDefault("engine.debug", false)
	v.SetDefault("engine.keep_outdated", false)

	// Fetch defaults
	v.SetDefault("fetch.concurrency", 10)
	v.SetDefault("fetch.cache_dir", "./var/cache")
	v.SetDefault("fetch.persisted_sections_dir", "./var/persisted")
	v.SetDefault("fetch.piggyback_dir", "./var/piggyback")
	v.SetDefault("fetch.snmp_walks_dir", "./var/snmpwalks")
	v.SetDefault("fetch.program_timeout", 30*time.Second)
	v.SetDefault("fetch.max_age.checking", 0)
	v.SetDefault("fetch.max_age.discovery", 90*time.Second)
	v.SetDefault("fetch.max_age.inventory", 90*time.Second)
	v.SetDefault("fetch.piggyback_max_age", time.Hour)

	// Agent defaults
	v.SetDefault("agent.scheme", "http")
	v.SetDefault("agent.port", 6556)
	v.SetDefault("agent.path", "/")
	v.SetDefault("agent.timeout", 30*time.Second)

	// Datasources defaults
	v.SetDefault("datasources.victoriametrics.timeout", 30*time.Second)

	// Value store defaults
	v.SetDefault("value_store.backend", "file")
	v.SetDefault("value_store.path", "./var/counters")

	// Crash defaults
	v.SetDefault("crash.dir", "./var/crashes")
	v.SetDefault("crash.object.region", "us-east-1")

	// Prediction defaults
	v.SetDefault("prediction.enabled", false)
	v.SetDefault("prediction.dir", "./var/predictions")
	v.SetDefault("prediction.query_template", `$METRIC${host="$HOST$"}`)
	v.SetDefault("prediction.cache_ttl", 5*time.Minute)
	v.SetDefault("prediction.cache", "memory")

	// Report defaults
	v.SetDefault("report.output_dir", "./reports")
	v.SetDefault("report.formats", []string{"excel", "html"})
	v.SetDefault("report.filename_template", "check_report_{{.Date}}")
	v.SetDefault("report.timezone", "Asia/Shanghai")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "auto")

	// HTTP retry defaults
	v.SetDefault("http.retry.max_retries", 3)
	v.SetDefault("http.retry.base_delay", 1*time.Second)

	// Schedule defaults
	v.SetDefault("schedule.cron", "@every 1m")
	v.SetDefault("schedule.listen_addr", ":9464")
}
