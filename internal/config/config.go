// Package config provides configuration management for the check engine.
package config

import "time"

// Config is the root configuration structure for the check engine.
type Config struct {
	Inventory   InventoryConfig   `mapstructure:"inventory" validate:"required"`
	Engine      EngineConfig      `mapstructure:"engine"`
	Fetch       FetchConfig       `mapstructure:"fetch"`
	Agent       AgentConfig       `mapstructure:"agent"`
	Datasources DatasourcesConfig `mapstructure:"datasources"`
	ValueStore  ValueStoreConfig  `mapstructure:"value_store"`
	Crash       CrashConfig       `mapstructure:"crash"`
	Prediction  PredictionConfig  `mapstructure:"prediction"`
	Report      ReportConfig      `mapstructure:"report"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	HTTP        HTTPConfig        `mapstructure:"http"`
	Schedule    ScheduleConfig    `mapstructure:"schedule"`
}

// InventoryConfig locates the host inventory and credentials.
type InventoryConfig struct {
	HostsFile     string `mapstructure:"hosts_file" validate:"required"` // 主机清单（YAML）
	PasswordStore string `mapstructure:"password_store"`                 // 密码库文件（id:secret 每行一条）
	AutochecksDir string `mapstructure:"autochecks_dir"`                 // 自动发现的服务
}

// EngineConfig controls evaluation behavior.
type EngineConfig struct {
	Concurrency    int           `mapstructure:"concurrency" validate:"gte=1,lte=100"` // 并发评估服务数
	HostTimeout    time.Duration `mapstructure:"host_timeout"`                         // 单主机整体超时
	ServiceTimeout time.Duration `mapstructure:"service_timeout"`                      // 单服务检查超时
	Debug          bool          `mapstructure:"debug"`                                // 调试模式：插件异常直接抛出
	KeepOutdated   bool          `mapstructure:"keep_outdated"`                        // 保留过期的持久化段
}

// FetchConfig controls raw data retrieval.
type FetchConfig struct {
	Concurrency          int           `mapstructure:"concurrency" validate:"gte=1,lte=100"` // 并发数据源数
	CacheDir             string        `mapstructure:"cache_dir"`                            // 原始数据缓存目录
	PersistedSectionsDir string        `mapstructure:"persisted_sections_dir"`               // 持久化段目录
	PiggybackDir         string        `mapstructure:"piggyback_dir"`                        // 搭载数据目录
	SNMPWalksDir         string        `mapstructure:"snmp_walks_dir"`                       // SNMP 存储 walk 目录
	ProgramTimeout       time.Duration `mapstructure:"program_timeout"`                      // 数据源程序超时
	MaxAge               MaxAgeConfig  `mapstructure:"max_age"`                              // 缓存有效期
	DisableCache         bool          `mapstructure:"disable_cache"`                        // 禁用缓存
	UseOnlyCache         bool          `mapstructure:"use_only_cache"`                       // 仅使用缓存（模拟模式）
	PiggybackMaxAge      time.Duration `mapstructure:"piggyback_max_age"`                    // 搭载数据有效期
}

// MaxAgeConfig is the cache freshness policy per fetch mode.
type MaxAgeConfig struct {
	Checking  time.Duration `mapstructure:"checking"`
	Discovery time.Duration `mapstructure:"discovery"`
	Inventory time.Duration `mapstructure:"inventory"`
}

// AgentConfig configures the pull agent transport.
type AgentConfig struct {
	Scheme             string        `mapstructure:"scheme" validate:"oneof=http https"`
	Port               int           `mapstructure:"port" validate:"gte=1,lte=65535"`
	Path               string        `mapstructure:"path"`
	Timeout            time.Duration `mapstructure:"timeout"`
	CAFile             string        `mapstructure:"ca_file"`              // TLS CA 证书路径
	InsecureSkipVerify bool          `mapstructure:"insecure_skip_verify"` // 跳过证书校验
}

// DatasourcesConfig contains configurations for external data sources.
type DatasourcesConfig struct {
	VictoriaMetrics VictoriaMetricsConfig `mapstructure:"victoriametrics"`
}

// VictoriaMetricsConfig contains configuration for VictoriaMetrics API.
type VictoriaMetricsConfig struct {
	Endpoint string        `mapstructure:"endpoint" validate:"omitempty,url"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// ValueStoreConfig selects where plugin value stores are persisted.
type ValueStoreConfig struct {
	Backend string `mapstructure:"backend" validate:"oneof=memory file sqlite"`
	Path    string `mapstructure:"path"` // file: 目录；sqlite: 数据库文件
}

// CrashConfig configures crash report storage.
type CrashConfig struct {
	Dir    string            `mapstructure:"dir"`
	Object ObjectStoreConfig `mapstructure:"object"`
}

// ObjectStoreConfig configures optional S3 compatible upload of crash reports.
type ObjectStoreConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	Bucket          string `mapstructure:"bucket"`
	Region          string `mapstructure:"region"`
	UseSSL          bool   `mapstructure:"use_ssl"`
}

// PredictionConfig configures predictive levels.
type PredictionConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Dir           string        `mapstructure:"dir"`            // 预测元数据目录
	QueryTemplate string        `mapstructure:"query_template"` // PromQL 模板，$METRIC$ 与 $HOST$ 会被替换
	CacheTTL      time.Duration `mapstructure:"cache_ttl"`
	Cache         string        `mapstructure:"cache" validate:"oneof=memory redis"`
	Redis         RedisConfig   `mapstructure:"redis"`
}

// RedisConfig configures the Redis prediction cache.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db" validate:"gte=0"`
}

// ReportConfig contains configurations for report generation.
type ReportConfig struct {
	OutputDir        string   `mapstructure:"output_dir"`
	Formats          []string `mapstructure:"formats" validate:"dive,oneof=excel html"`
	FilenameTemplate string   `mapstructure:"filename_template"`
	Timezone         string   `mapstructure:"timezone" validate:"timezone"`
}

// LoggingConfig contains configurations for logging.
type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=json console auto"`
}

// HTTPConfig contains HTTP client configurations including retry settings.
type HTTPConfig struct {
	Retry RetryConfig `mapstructure:"retry"`
}

// RetryConfig defines retry behavior for HTTP requests.
type RetryConfig struct {
	MaxRetries int           `mapstructure:"max_retries" validate:"gte=0,lte=10"`
	BaseDelay  time.Duration `mapstructure:"base_delay"`
}

// ScheduleConfig configures periodic check cycles.
type ScheduleConfig struct {
	Cron       string `mapstructure:"cron"`        // cron 表达式（支持 @every 1m）
	ListenAddr string `mapstructure:"listen_addr"` // /metrics 与 /healthz 监听地址
}
