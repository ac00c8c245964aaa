// =============================================================================
// 📦 WebStarter 配置加载器
// =============================================================================
// 统一配置加载,支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("config.yaml").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量
// =============================================================================
package config

import (
	"fmt"
	"net/url"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是服务的完整配置结构
type Config struct {
	// Env 运行环境: local / development / production
	Env AppEnv `yaml:"env" env:"APP_ENV"`

	// Secret 签名密钥(必填)
	Secret string `yaml:"secret" env:"SECRET"`

	// Port 监听端口
	Port int `yaml:"port" env:"PORT"`

	// DatabaseURL 数据库连接串(必填)
	DatabaseURL string `yaml:"database_url" env:"DATABASE_URL"`

	// TimeoutMS 单个请求的处理预算,毫秒
	TimeoutMS int `yaml:"timeout_ms" env:"TIMEOUT"`

	// Server 服务器配置
	Server ServerConfig `yaml:"server" env:"SERVER"`

	// Pool 数据库连接池配置
	Pool PoolConfig `yaml:"pool" env:"POOL"`

	// Worker 阻塞操作工作池配置
	Worker WorkerConfig `yaml:"worker" env:"WORKER"`

	// CORS 跨域配置
	CORS CORSConfig `yaml:"cors" env:"CORS"`

	// Cache 缓存配置
	Cache CacheConfig `yaml:"cache" env:"CACHE"`

	// Redis Redis 配置(Cache.Backend 为 redis 时生效)
	Redis RedisConfig `yaml:"redis" env:"REDIS"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry 遥测配置
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	// Metrics 端口,0 表示不单独暴露
	MetricsPort int `yaml:"metrics_port" env:"METRICS_PORT"`
	// 读取超时
	ReadTimeout time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	// 写入超时
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	// 优雅关闭超时
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// 并发在途请求上限
	BufferSize int `yaml:"buffer_size" env:"BUFFER_SIZE"`
	// 每秒请求数上限
	RateLimitRPS int `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
}

// PoolConfig 数据库连接池配置
type PoolConfig struct {
	// 连接总数上限
	MaxSize int `yaml:"max_size" env:"MAX_SIZE"`
	// 最小空闲连接数
	MinIdle int `yaml:"min_idle" env:"MIN_IDLE"`
	// 取出连接的等待上限
	ConnectionTimeout time.Duration `yaml:"connection_timeout" env:"CONNECTION_TIMEOUT"`
	// 空闲回收阈值
	IdleTimeout time.Duration `yaml:"idle_timeout" env:"IDLE_TIMEOUT"`
	// 连接最大生命周期
	MaxLifetime time.Duration `yaml:"max_lifetime" env:"MAX_LIFETIME"`
	// 取出前探活
	TestOnCheckout bool `yaml:"test_on_checkout" env:"TEST_ON_CHECKOUT"`
}

// WorkerConfig 工作池配置
type WorkerConfig struct {
	// 工作协程数
	Count int `yaml:"count" env:"COUNT"`
	// 等待队列深度
	QueueSize int `yaml:"queue_size" env:"QUEUE_SIZE"`
}

// CORSConfig 跨域配置
type CORSConfig struct {
	// 允许的来源
	AllowedOrigins []string `yaml:"allowed_origins" env:"ALLOWED_ORIGINS"`
	// 允许的方法
	AllowedMethods []string `yaml:"allowed_methods" env:"ALLOWED_METHODS"`
	// 允许的请求头
	AllowedHeaders []string `yaml:"allowed_headers" env:"ALLOWED_HEADERS"`
}

// CacheConfig 缓存配置
type CacheConfig struct {
	// 后端: memory / redis
	Backend string `yaml:"backend" env:"BACKEND"`
	// 默认 TTL,秒
	TimeoutSeconds int `yaml:"timeout_seconds" env:"TIMEOUT"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	// 地址
	Addr string `yaml:"addr" env:"ADDR"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库编号
	DB int `yaml:"db" env:"DB"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// OTLP 端点
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	// 服务名称
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
	// 采样率
	SampleRate float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// RequestTimeout 返回请求处理预算
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

// CacheTTL 返回缓存默认 TTL
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TimeoutSeconds) * time.Second
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Loader 配置加载器(Builder 模式)
type Loader struct {
	configPath string
	validators []func(*Config) error
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath 设置配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithValidator 添加配置验证器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 加载配置
// 优先级: 默认值 → YAML 文件 → 环境变量
func (l *Loader) Load() (*Config, error) {
	// 1. 从默认值开始
	cfg := DefaultConfig()

	// 2. 如果指定了配置文件,从文件加载
	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	// 3. 从环境变量覆盖
	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	// 4. 规范化环境取值
	env, err := ParseAppEnv(string(cfg.Env))
	if err != nil {
		return nil, err
	}
	cfg.Env = env

	// 5. 校验,启动即失败
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// loadFromFile 从 YAML 文件加载配置
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// 文件不存在,使用默认值
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// loadFromEnv 从环境变量加载配置
func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), "")
}

// setFieldsFromEnv 递归设置结构体字段
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		// 获取 env tag
		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := envTag
		if prefix != "" {
			envKey = prefix + "_" + envTag
		}

		// 如果是结构体,递归处理
		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		// 获取环境变量值
		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}

		// 设置字段值
		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

// setFieldValue 设置字段值
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		// 特殊处理 time.Duration
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetUint(u)

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// 支持逗号分隔的字符串切片
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// =============================================================================
// 🔍 辅助函数
// =============================================================================

// MustLoad 加载配置,失败时 panic
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// LoadFromEnv 仅从环境变量加载配置
func LoadFromEnv() (*Config, error) {
	return NewLoader().Load()
}

// Validate 验证配置
func (c *Config) Validate() error {
	var errs []string

	if c.Secret == "" {
		errs = append(errs, "SECRET is required")
	}
	if c.DatabaseURL == "" {
		errs = append(errs, "DATABASE_URL is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, "PORT must be between 1 and 65535")
	}
	if c.TimeoutMS <= 0 {
		errs = append(errs, "TIMEOUT must be positive")
	}
	if c.Server.MetricsPort < 0 || c.Server.MetricsPort > 65535 {
		errs = append(errs, "metrics port out of range")
	}
	if c.Pool.MinIdle > c.Pool.MaxSize {
		errs = append(errs, "pool min_idle cannot exceed max_size")
	}
	switch c.Cache.Backend {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Sprintf("unknown cache backend %q", c.Cache.Backend))
	}
	for _, origin := range c.CORS.AllowedOrigins {
		u, err := url.Parse(origin)
		if err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Sprintf("invalid CORS origin %q", origin))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}
