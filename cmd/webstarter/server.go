package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/BaSui01/webstarter/api/handlers"
	"github.com/BaSui01/webstarter/config"
	"github.com/BaSui01/webstarter/internal/cache"
	"github.com/BaSui01/webstarter/internal/database"
	"github.com/BaSui01/webstarter/internal/metrics"
	"github.com/BaSui01/webstarter/internal/pool"
	"github.com/BaSui01/webstarter/internal/server"
	"github.com/BaSui01/webstarter/internal/telemetry"
	"github.com/BaSui01/webstarter/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// Server 组装应用的全部组件:配置、连接池、工作池、缓存、
// 指标与 HTTP 管线。所有依赖显式持有,不使用包级全局。
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	// 服务器管理器
	httpManager    *server.Manager
	metricsManager *server.Manager

	// 核心组件
	dbPool     *database.Pool
	workerPool *pool.WorkerPool
	appCache   cache.Cache

	// Handlers
	healthHandler *handlers.HealthHandler
	statsHandler  *handlers.StatsHandler

	// 指标
	promRegistry     *prometheus.Registry
	metricsCollector *metrics.Collector

	// 遥测
	otelProviders *telemetry.Providers

	// 后台采样器停止信号
	samplerStop chan struct{}
	samplerDone chan struct{}
}

// NewServer 创建新的服务器实例
func NewServer(cfg *config.Config, logger *zap.Logger, otelProviders *telemetry.Providers) *Server {
	return &Server{
		cfg:           cfg,
		logger:        logger,
		otelProviders: otelProviders,
		samplerStop:   make(chan struct{}),
		samplerDone:   make(chan struct{}),
	}
}

// =============================================================================
// 🚀 启动流程
// =============================================================================

// Start 启动所有组件,任何一步失败都会中止启动
func (s *Server) Start() error {
	// 1. 指标收集器
	s.promRegistry = prometheus.NewRegistry()
	s.promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	s.metricsCollector = metrics.NewCollector("webstarter", s.promRegistry, s.logger)

	// 2. 数据库连接池
	if err := s.initDatabasePool(); err != nil {
		return fmt.Errorf("failed to init database pool: %w", err)
	}

	// 3. 工作池
	s.workerPool = pool.NewWorkerPool(pool.WorkerPoolConfig{
		Workers:   s.cfg.Worker.Count,
		QueueSize: s.cfg.Worker.QueueSize,
	}, s.logger)

	// 4. 缓存
	if err := s.initCache(); err != nil {
		return fmt.Errorf("failed to init cache: %w", err)
	}

	// 5. Handlers
	s.initHandlers()

	// 6. HTTP 服务器
	if err := s.startHTTPServer(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	// 7. Metrics 服务器(可选)
	if err := s.startMetricsServer(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	// 8. 后台指标采样
	go s.runStatsSampler()

	s.logger.Info("all components started",
		zap.Int("http_port", s.cfg.Port),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
		zap.String("env", s.cfg.Env.String()),
	)

	return nil
}

// =============================================================================
// 🔧 初始化方法
// =============================================================================

func (s *Server) initDatabasePool() error {
	poolCfg := database.DefaultPoolConfig()
	if s.cfg.Pool.MaxSize > 0 {
		poolCfg.MaxSize = s.cfg.Pool.MaxSize
	}
	if s.cfg.Pool.MinIdle > 0 {
		poolCfg.MinIdle = s.cfg.Pool.MinIdle
	}
	if s.cfg.Pool.ConnectionTimeout > 0 {
		poolCfg.ConnectionTimeout = s.cfg.Pool.ConnectionTimeout
	}
	if s.cfg.Pool.IdleTimeout > 0 {
		poolCfg.IdleTimeout = s.cfg.Pool.IdleTimeout
	}
	if s.cfg.Pool.MaxLifetime > 0 {
		poolCfg.MaxLifetime = s.cfg.Pool.MaxLifetime
	}
	poolCfg.TestOnCheckout = s.cfg.Pool.TestOnCheckout

	dbPool, err := database.New(s.cfg.DatabaseURL, poolCfg, s.logger)
	if err != nil {
		return err
	}
	s.dbPool = dbPool
	return nil
}

func (s *Server) initCache() error {
	var backend cache.Cache
	switch s.cfg.Cache.Backend {
	case "redis":
		redisCache, err := cache.NewRedis(cache.RedisConfig{
			Addr:       s.cfg.Redis.Addr,
			Password:   s.cfg.Redis.Password,
			DB:         s.cfg.Redis.DB,
			DefaultTTL: s.cfg.CacheTTL(),
		}, s.logger)
		if err != nil {
			return err
		}
		backend = redisCache
	default:
		backend = cache.NewMemory(s.cfg.CacheTTL(), s.logger)
	}

	// 所有缓存读取经由指标装饰器,命中率可观测
	s.appCache = cache.NewInstrumented(backend, s.metricsCollector, s.cfg.Cache.Backend)
	return nil
}

func (s *Server) initHandlers() {
	s.healthHandler = handlers.NewHealthHandler(s.logger)
	s.healthHandler.RegisterCheck(handlers.NewPingHealthCheck("database", s.dbPool.Ping))
	s.healthHandler.RegisterCheck(handlers.NewPingHealthCheck("cache", s.appCache.Ping))

	s.statsHandler = handlers.NewStatsHandler(
		s.dbPool.Stats,
		s.workerPool.Stats,
		func() string {
			if s.httpManager != nil {
				return s.httpManager.State().String()
			}
			return server.StateRunning.String()
		},
	)
}

// =============================================================================
// 🌐 HTTP 服务器
// =============================================================================

func (s *Server) startHTTPServer() error {
	mux := http.NewServeMux()

	// 健康检查与版本端点
	mux.HandleFunc("/health", s.healthHandler.HandleHealth)
	mux.HandleFunc("/healthz", s.healthHandler.HandleHealthz)
	mux.HandleFunc("/ready", s.healthHandler.HandleReady)
	mux.HandleFunc("/readyz", s.healthHandler.HandleReady)
	mux.HandleFunc("/version", s.healthHandler.HandleVersion(Version, BuildTime, GitCommit))

	// API 路由:仅 /api/v1/* 需要认证,直接包在路由内层
	apiAuth := JWTAuth(s.cfg.Secret, nil, s.logger)
	mux.Handle("/api/v1/stats", apiAuth(http.HandlerFunc(s.statsHandler.HandleStats)))

	// 未匹配路径统一 JSON 404
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		handlers.WriteErrorMessage(w, http.StatusNotFound,
			types.ErrNotFound, "resource not found", nil)
	})

	// 中间件链,第一个位于最外层。顺序是有含义的:
	// 追踪要覆盖完整生命周期;错误归一化要在超时之上才能翻译超时失败;
	// CORS 要在缓冲与限流之前拒绝不合规的跨域请求。
	handler := Chain(mux,
		RequestID(),
		SecurityHeaders(),
		OTelTracing(),
		RequestLogger(s.logger),
		MetricsMiddleware(s.metricsCollector),
		ErrorNormalizer(s.logger),
		Timeout(s.cfg.RequestTimeout(), s.metricsCollector, s.logger),
		CORS(s.cfg.CORS, s.metricsCollector),
		Buffer(s.cfg.Server.BufferSize, s.metricsCollector),
		RateLimit(s.cfg.Server.RateLimitRPS, s.metricsCollector),
	)

	serverConfig := server.DefaultConfig()
	serverConfig.Addr = fmt.Sprintf(":%d", s.cfg.Port)
	if s.cfg.Server.ReadTimeout > 0 {
		serverConfig.ReadTimeout = s.cfg.Server.ReadTimeout
	}
	if s.cfg.Server.WriteTimeout > 0 {
		serverConfig.WriteTimeout = s.cfg.Server.WriteTimeout
	}
	if s.cfg.Server.ShutdownTimeout > 0 {
		serverConfig.ShutdownTimeout = s.cfg.Server.ShutdownTimeout
	}

	s.httpManager = server.NewManager(handler, serverConfig, s.logger)
	if err := s.httpManager.Start(); err != nil {
		return err
	}

	s.logger.Info("HTTP server started", zap.Int("port", s.cfg.Port))
	return nil
}

// =============================================================================
// 📊 Metrics 服务器
// =============================================================================

func (s *Server) startMetricsServer() error {
	if s.cfg.Server.MetricsPort <= 0 {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.promRegistry, promhttp.HandlerOpts{}))

	serverConfig := server.DefaultConfig()
	serverConfig.Addr = fmt.Sprintf(":%d", s.cfg.Server.MetricsPort)

	s.metricsManager = server.NewManager(mux, serverConfig, s.logger)
	if err := s.metricsManager.Start(); err != nil {
		return err
	}

	s.logger.Info("metrics server started", zap.Int("port", s.cfg.Server.MetricsPort))
	return nil
}

// runStatsSampler 周期性把连接池与工作池的状态同步到指标
func (s *Server) runStatsSampler() {
	defer close(s.samplerDone)

	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-s.samplerStop:
			return
		case <-ticker.C:
			ps := s.dbPool.Stats()
			s.metricsCollector.RecordPoolStats(ps.Total, ps.Idle, ps.InUse, ps.CheckoutTimeouts)

			ws := s.workerPool.Stats()
			s.metricsCollector.RecordWorkerStats(ws.Queued, ws.Completed, ws.Failed, ws.Aborted, ws.Rejected)
		}
	}
}

// =============================================================================
// 🛑 关闭流程
// =============================================================================

// WaitForShutdown 阻塞等待终止信号,随后执行优雅关闭
func (s *Server) WaitForShutdown() {
	if s.httpManager != nil {
		s.httpManager.WaitForShutdown()
	}
	s.Shutdown()
}

// Shutdown 按依赖反序关闭:先停监听,再停后台组件,最后释放连接
func (s *Server) Shutdown() {
	s.logger.Info("starting graceful shutdown")

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()

	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			s.logger.Error("HTTP server shutdown error", zap.Error(err))
		}
	}

	if s.metricsManager != nil {
		if err := s.metricsManager.Shutdown(ctx); err != nil {
			s.logger.Error("metrics server shutdown error", zap.Error(err))
		}
	}

	close(s.samplerStop)
	<-s.samplerDone

	if s.workerPool != nil {
		s.workerPool.Close()
	}

	if s.appCache != nil {
		if err := s.appCache.Close(); err != nil {
			s.logger.Error("cache shutdown error", zap.Error(err))
		}
	}

	if s.dbPool != nil {
		if err := s.dbPool.Close(); err != nil {
			s.logger.Error("database pool shutdown error", zap.Error(err))
		}
	}

	if s.otelProviders != nil {
		if err := s.otelProviders.Shutdown(ctx); err != nil {
			s.logger.Error("telemetry shutdown error", zap.Error(err))
		}
	}

	s.logger.Info("graceful shutdown completed")
}
