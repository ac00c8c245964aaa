// =============================================================================
// 📦 WebStarter 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Env:       EnvLocal,
		Port:      3000,
		TimeoutMS: 3000,
		Server:    DefaultServerConfig(),
		Pool:      DefaultPoolConfig(),
		Worker:    DefaultWorkerConfig(),
		CORS:      DefaultCORSConfig(),
		Cache:     DefaultCacheConfig(),
		Redis:     DefaultRedisConfig(),
		Log:       DefaultLogConfig(),
		Telemetry: DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		MetricsPort:     0,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 30 * time.Second,
		BufferSize:      1024,
		RateLimitRPS:    1024,
	}
}

// DefaultPoolConfig 返回默认连接池配置
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxSize:           32,
		MinIdle:           8,
		ConnectionTimeout: 60 * time.Second,
		IdleTimeout:       10 * time.Minute,
		MaxLifetime:       time.Hour,
		TestOnCheckout:    true,
	}
}

// DefaultWorkerConfig 返回默认工作池配置
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		Count:     64,
		QueueSize: 1024,
	}
}

// DefaultCORSConfig 返回默认跨域配置
func DefaultCORSConfig() CORSConfig {
	return CORSConfig{
		AllowedOrigins: []string{"http://localhost:5000", "http://localhost:8080"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE"},
		AllowedHeaders: []string{"Content-Type", "Accept"},
	}
}

// DefaultCacheConfig 返回默认缓存配置
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		Backend:        "memory",
		TimeoutSeconds: 3600,
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:     "localhost:6379",
		Password: "",
		DB:       0,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:  "info",
		Format: "json",
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "webstarter",
		SampleRate:   1.0,
	}
}
