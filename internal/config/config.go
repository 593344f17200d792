// Package config 提供配置管理
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Config 应用配置
type Config struct {
	App       AppConfig       `yaml:"app"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Store     StoreConfig     `yaml:"store"`
	API       APIConfig       `yaml:"api"`
	Lock      LockConfig      `yaml:"lock"`
	Optimizer OptimizerConfig `yaml:"optimizer"`
	Weights   WeightsConfig   `yaml:"weights"`
	Topology  TopologyConfig  `yaml:"topology"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// AppConfig 应用基础配置
type AppConfig struct {
	Name      string `yaml:"name"`
	Env       string `yaml:"env"`
	Port      int    `yaml:"port"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Name            string        `yaml:"name"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"ssl_mode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// DSN 返回数据库连接字符串
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// RedisConfig Redis配置
type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

// Addr 返回Redis地址
func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// StoreConfig 存储配置
type StoreConfig struct {
	Backend     string `yaml:"backend"`      // memory/postgres
	SeedFile    string `yaml:"seed_file"`    // 内存存储的初始输入（JSON）
	AutoMigrate bool   `yaml:"auto_migrate"` // 启动时建表
}

// APIConfig API配置
type APIConfig struct {
	RateLimit int           `yaml:"rate_limit"`
	Timeout   time.Duration `yaml:"timeout"`
	CORS      CORSConfig    `yaml:"cors"`
}

// CORSConfig 跨域配置
type CORSConfig struct {
	Enabled bool     `yaml:"enabled"`
	Origins []string `yaml:"origins"`
}

// LockConfig 范围锁配置
type LockConfig struct {
	Backend       string        `yaml:"backend"` // local/redis
	TTL           time.Duration `yaml:"ttl"`
	WaitTimeout   time.Duration `yaml:"wait_timeout"`
	RetryInterval time.Duration `yaml:"retry_interval"`
}

// OptimizerConfig 优化引擎配置
type OptimizerConfig struct {
	SolverTimeout         time.Duration `yaml:"solver_timeout"`
	NodeBudget            int           `yaml:"node_budget"`
	MaxVars               int           `yaml:"max_vars"`
	LocalSearchIterations int           `yaml:"local_search_iterations"`
	MorningStart          string        `yaml:"morning_start"`
	MorningEnd            string        `yaml:"morning_end"`
	AfternoonStart        string        `yaml:"afternoon_start"`
	AfternoonEnd          string        `yaml:"afternoon_end"`
	ReferenceSlotMinutes  int           `yaml:"reference_slot_minutes"`
	IncludeWeekends       bool          `yaml:"include_weekends"`
	AssignAdministrative  bool          `yaml:"assign_administrative"`
	BackupGenericShare    float64       `yaml:"backup_generic_share"`
	HistoryLookbackDays   int           `yaml:"history_lookback_days"`
	MaxConcurrentScopes   int           `yaml:"max_concurrent_scopes"`
}

// WeightsConfig 评分权重（默认值仅为起点，可按机构调整）
type WeightsConfig struct {
	CoverageReward    float64 `yaml:"coverage_reward"`
	SiteChange        float64 `yaml:"site_change"`
	ClosureOverload   float64 `yaml:"closure_overload"`
	OverloadThreshold int     `yaml:"overload_threshold"`
	OverloadWindow    int     `yaml:"overload_window_days"`
	LocationOveruse   float64 `yaml:"location_overuse"`
	OveruseWindow     int     `yaml:"overuse_window_days"`
	Continuity        float64 `yaml:"continuity"`
	PreferredLocation float64 `yaml:"preferred_location"`
}

// TopologyConfig 站点拓扑配置
type TopologyConfig struct {
	File string `yaml:"file"`
}

// MetricsConfig 监控配置
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Load 从 .env 文件与环境变量加载配置
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	return fromViper(v), nil
}

func fromViper(v *viper.Viper) *Config {
	cfg := &Config{
		App: AppConfig{
			Name:      v.GetString("APP_NAME"),
			Env:       v.GetString("APP_ENV"),
			Port:      v.GetInt("APP_PORT"),
			LogLevel:  v.GetString("APP_LOG_LEVEL"),
			LogFormat: v.GetString("APP_LOG_FORMAT"),
		},
		Database: DatabaseConfig{
			Host:            v.GetString("DB_HOST"),
			Port:            v.GetInt("DB_PORT"),
			Name:            v.GetString("DB_NAME"),
			User:            v.GetString("DB_USER"),
			Password:        v.GetString("DB_PASSWORD"),
			SSLMode:         v.GetString("DB_SSL_MODE"),
			MaxOpenConns:    v.GetInt("DB_MAX_OPEN_CONNS"),
			MaxIdleConns:    v.GetInt("DB_MAX_IDLE_CONNS"),
			ConnMaxLifetime: v.GetDuration("DB_CONN_MAX_LIFETIME"),
		},
		Redis: RedisConfig{
			Host:     v.GetString("REDIS_HOST"),
			Port:     v.GetInt("REDIS_PORT"),
			Password: v.GetString("REDIS_PASSWORD"),
			DB:       v.GetInt("REDIS_DB"),
			PoolSize: v.GetInt("REDIS_POOL_SIZE"),
		},
		Store: StoreConfig{
			Backend:     strings.ToLower(v.GetString("STORE_BACKEND")),
			SeedFile:    v.GetString("STORE_SEED_FILE"),
			AutoMigrate: v.GetBool("STORE_AUTO_MIGRATE"),
		},
		API: APIConfig{
			RateLimit: v.GetInt("API_RATE_LIMIT"),
			Timeout:   v.GetDuration("API_TIMEOUT"),
			CORS: CORSConfig{
				Enabled: v.GetBool("API_CORS_ENABLED"),
				Origins: splitAndTrim(v.GetString("API_CORS_ORIGINS")),
			},
		},
		Lock: LockConfig{
			Backend:       strings.ToLower(v.GetString("LOCK_BACKEND")),
			TTL:           v.GetDuration("LOCK_TTL"),
			WaitTimeout:   v.GetDuration("LOCK_WAIT_TIMEOUT"),
			RetryInterval: v.GetDuration("LOCK_RETRY_INTERVAL"),
		},
		Optimizer: OptimizerConfig{
			SolverTimeout:         v.GetDuration("OPTIMIZER_SOLVER_TIMEOUT"),
			NodeBudget:            v.GetInt("OPTIMIZER_NODE_BUDGET"),
			MaxVars:               v.GetInt("OPTIMIZER_MAX_VARS"),
			LocalSearchIterations: v.GetInt("OPTIMIZER_LOCAL_SEARCH_ITERATIONS"),
			MorningStart:          v.GetString("OPTIMIZER_MORNING_START"),
			MorningEnd:            v.GetString("OPTIMIZER_MORNING_END"),
			AfternoonStart:        v.GetString("OPTIMIZER_AFTERNOON_START"),
			AfternoonEnd:          v.GetString("OPTIMIZER_AFTERNOON_END"),
			ReferenceSlotMinutes:  v.GetInt("OPTIMIZER_REFERENCE_SLOT_MINUTES"),
			IncludeWeekends:       v.GetBool("OPTIMIZER_INCLUDE_WEEKENDS"),
			AssignAdministrative:  v.GetBool("OPTIMIZER_ASSIGN_ADMINISTRATIVE"),
			BackupGenericShare:    v.GetFloat64("OPTIMIZER_BACKUP_GENERIC_SHARE"),
			HistoryLookbackDays:   v.GetInt("OPTIMIZER_HISTORY_LOOKBACK_DAYS"),
			MaxConcurrentScopes:   v.GetInt("OPTIMIZER_MAX_CONCURRENT_SCOPES"),
		},
		Weights: WeightsConfig{
			CoverageReward:    v.GetFloat64("WEIGHT_COVERAGE_REWARD"),
			SiteChange:        v.GetFloat64("WEIGHT_SITE_CHANGE"),
			ClosureOverload:   v.GetFloat64("WEIGHT_CLOSURE_OVERLOAD"),
			OverloadThreshold: v.GetInt("WEIGHT_OVERLOAD_THRESHOLD"),
			OverloadWindow:    v.GetInt("WEIGHT_OVERLOAD_WINDOW_DAYS"),
			LocationOveruse:   v.GetFloat64("WEIGHT_LOCATION_OVERUSE"),
			OveruseWindow:     v.GetInt("WEIGHT_OVERUSE_WINDOW_DAYS"),
			Continuity:        v.GetFloat64("WEIGHT_CONTINUITY"),
			PreferredLocation: v.GetFloat64("WEIGHT_PREFERRED_LOCATION"),
		},
		Topology: TopologyConfig{
			File: v.GetString("TOPOLOGY_FILE"),
		},
		Metrics: MetricsConfig{
			Enabled: v.GetBool("METRICS_ENABLED"),
			Path:    v.GetString("METRICS_PATH"),
		},
	}
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_NAME", "staffplan")
	v.SetDefault("APP_ENV", EnvDevelopment)
	v.SetDefault("APP_PORT", 7012)
	v.SetDefault("APP_LOG_LEVEL", "info")
	v.SetDefault("APP_LOG_FORMAT", "console")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_NAME", "staffplan")
	v.SetDefault("DB_USER", "staffplan")
	v.SetDefault("DB_PASSWORD", "")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 25)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)
	v.SetDefault("DB_CONN_MAX_LIFETIME", "5m")

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_POOL_SIZE", 10)

	v.SetDefault("STORE_BACKEND", "memory")
	v.SetDefault("STORE_SEED_FILE", "")
	v.SetDefault("STORE_AUTO_MIGRATE", false)

	v.SetDefault("API_RATE_LIMIT", 100)
	v.SetDefault("API_TIMEOUT", "60s")
	v.SetDefault("API_CORS_ENABLED", true)
	v.SetDefault("API_CORS_ORIGINS", "*")

	v.SetDefault("LOCK_BACKEND", "local")
	v.SetDefault("LOCK_TTL", "2m")
	v.SetDefault("LOCK_WAIT_TIMEOUT", "0s")
	v.SetDefault("LOCK_RETRY_INTERVAL", "100ms")

	v.SetDefault("OPTIMIZER_SOLVER_TIMEOUT", "10s")
	v.SetDefault("OPTIMIZER_NODE_BUDGET", 2000000)
	v.SetDefault("OPTIMIZER_MAX_VARS", 4000)
	v.SetDefault("OPTIMIZER_LOCAL_SEARCH_ITERATIONS", 50)
	v.SetDefault("OPTIMIZER_MORNING_START", "08:00")
	v.SetDefault("OPTIMIZER_MORNING_END", "12:30")
	v.SetDefault("OPTIMIZER_AFTERNOON_START", "13:00")
	v.SetDefault("OPTIMIZER_AFTERNOON_END", "17:30")
	v.SetDefault("OPTIMIZER_REFERENCE_SLOT_MINUTES", 270)
	v.SetDefault("OPTIMIZER_INCLUDE_WEEKENDS", false)
	v.SetDefault("OPTIMIZER_ASSIGN_ADMINISTRATIVE", true)
	v.SetDefault("OPTIMIZER_BACKUP_GENERIC_SHARE", 0.2)
	v.SetDefault("OPTIMIZER_HISTORY_LOOKBACK_DAYS", 28)
	v.SetDefault("OPTIMIZER_MAX_CONCURRENT_SCOPES", 4)

	v.SetDefault("WEIGHT_COVERAGE_REWARD", 100.0)
	v.SetDefault("WEIGHT_SITE_CHANGE", 0.5)
	v.SetDefault("WEIGHT_CLOSURE_OVERLOAD", 0.25)
	v.SetDefault("WEIGHT_OVERLOAD_THRESHOLD", 2)
	v.SetDefault("WEIGHT_OVERLOAD_WINDOW_DAYS", 28)
	v.SetDefault("WEIGHT_LOCATION_OVERUSE", 0.1)
	v.SetDefault("WEIGHT_OVERUSE_WINDOW_DAYS", 28)
	v.SetDefault("WEIGHT_CONTINUITY", 0.05)
	v.SetDefault("WEIGHT_PREFERRED_LOCATION", 0.1)

	v.SetDefault("TOPOLOGY_FILE", "configs/topology.yaml")

	v.SetDefault("METRICS_ENABLED", true)
	v.SetDefault("METRICS_PATH", "/metrics")
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// IsDevelopment 是否为开发环境
func (c *Config) IsDevelopment() bool {
	return c.App.Env == EnvDevelopment
}

// IsProduction 是否为生产环境
func (c *Config) IsProduction() bool {
	return c.App.Env == EnvProduction
}
