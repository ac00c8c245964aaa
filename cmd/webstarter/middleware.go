package main

import (
	"bytes"
	"context"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BaSui01/webstarter/api/handlers"
	"github.com/BaSui01/webstarter/config"
	"github.com/BaSui01/webstarter/internal/metrics"
	"github.com/BaSui01/webstarter/internal/pool"
	"github.com/BaSui01/webstarter/types"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// requestIDKey is the context key for the request ID.
type requestIDKey struct{}

// RequestIDFromContext extracts the request ID from the context.
// Returns an empty string if no request ID is present.
func RequestIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(requestIDKey{}).(string); ok {
		return v
	}
	return ""
}

// Middleware 类型定义
type Middleware func(http.Handler) http.Handler

// Chain 将多个中间件串联,第一个参数位于最外层
func Chain(h http.Handler, middlewares ...Middleware) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}

// RequestID adds a unique request ID to each request via the X-Request-ID header
// and injects it into the request context. If the client already provides one,
// it is preserved. Downstream handlers can retrieve the ID via RequestIDFromContext.
func RequestID() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get("X-Request-ID")
			if id == "" {
				id = "req-" + uuid.NewString()
			}
			w.Header().Set("X-Request-ID", id)
			ctx := context.WithValue(r.Context(), requestIDKey{}, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// SecurityHeaders adds common security response headers to every request.
func SecurityHeaders() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
			next.ServeHTTP(w, r)
		})
	}
}

// =============================================================================
// OTelTracing — OpenTelemetry HTTP tracing middleware
// =============================================================================

// OTelTracing creates a span for each HTTP request using the global OTel tracer.
// It extracts incoming trace context from request headers and records standard
// HTTP semantic convention attributes on the span. Sits outermost among the
// observability layers so the span covers the full request lifecycle.
func OTelTracing() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			propagator := otel.GetTextMapPropagator()
			ctx := propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))

			tracer := otel.Tracer("webstarter/http")
			spanName := r.Method + " " + r.URL.Path
			ctx, span := tracer.Start(ctx, spanName,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					semconv.HTTPRequestMethodKey.String(r.Method),
					semconv.URLFull(r.URL.String()),
				),
			)
			defer span.End()

			rw := handlers.NewResponseWriter(w)
			next.ServeHTTP(rw, r.WithContext(ctx))

			span.SetAttributes(
				attribute.Int("http.response.status_code", rw.StatusCode),
			)
		})
	}
}

// RequestLogger 请求日志中间件
func RequestLogger(logger *zap.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := handlers.NewResponseWriter(w)
			next.ServeHTTP(rw, r)
			logger.Info("request",
				zap.String("request_id", RequestIDFromContext(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", rw.StatusCode),
				zap.Duration("duration", time.Since(start)),
				zap.String("remote_addr", r.RemoteAddr),
			)
		})
	}
}

// MetricsMiddleware records HTTP request duration and status via the provided
// metrics.Collector.
func MetricsMiddleware(collector *metrics.Collector) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := handlers.NewResponseWriter(w)
			next.ServeHTTP(rw, r)
			collector.RecordHTTPRequest(r.Method, r.URL.Path, rw.StatusCode, time.Since(start))
		})
	}
}

// =============================================================================
// ErrorNormalizer / Timeout — 错误归一化与请求时限
// =============================================================================

// errorCarrier 在请求上下文中传递内层中间件产生的失败,
// 由 ErrorNormalizer 在最后统一翻译成响应。
type errorCarrier struct {
	mu  sync.Mutex
	err error
}

func (c *errorCarrier) set(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err == nil {
		c.err = err
	}
}

func (c *errorCarrier) get() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

type errorCarrierKey struct{}

func carrierFromContext(ctx context.Context) *errorCarrier {
	if c, ok := ctx.Value(errorCarrierKey{}).(*errorCarrier); ok {
		return c
	}
	return nil
}

// ErrorNormalizer collapses every failure surfaced by the layers beneath it
// into exactly two client-visible categories: a timeout response for
// timeout-class errors and a generic failure response for everything else.
// Internal error detail is never leaked to the client. It must sit above the
// Timeout layer so it observes timeout failures.
func ErrorNormalizer(logger *zap.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			carrier := &errorCarrier{}
			ctx := context.WithValue(r.Context(), errorCarrierKey{}, carrier)

			func() {
				defer func() {
					if rec := recover(); rec != nil {
						logger.Error("panic recovered",
							zap.Any("error", rec),
							zap.String("path", r.URL.Path),
							zap.String("request_id", RequestIDFromContext(ctx)),
						)
						carrier.set(types.NewError(types.ErrInternalError, "handler panicked"))
					}
				}()
				next.ServeHTTP(w, r.WithContext(ctx))
			}()

			err := carrier.get()
			if err == nil {
				return
			}

			if types.GetErrorCode(err) == types.ErrTimeout {
				handlers.WriteErrorMessage(w, http.StatusRequestTimeout,
					types.ErrTimeout, "REQUEST_TIMED_OUT", nil)
				return
			}

			logger.Error("request failed",
				zap.Error(err),
				zap.String("path", r.URL.Path),
				zap.String("request_id", RequestIDFromContext(ctx)),
			)
			handlers.WriteErrorMessage(w, http.StatusInternalServerError,
				types.ErrInternalError, "UNEXPECTED_ERROR_OCCURRED", nil)
		})
	}
}

// bufferedResponse 将下游输出暂存到池化缓冲区,超时被放弃时
// 不会再触碰真实的 ResponseWriter。
type bufferedResponse struct {
	header     http.Header
	buf        *bytes.Buffer
	statusCode int
	abandoned  atomic.Bool
}

func newBufferedResponse() *bufferedResponse {
	return &bufferedResponse{
		header:     make(http.Header),
		buf:        pool.ByteBufferPool.Get(),
		statusCode: http.StatusOK,
	}
}

func (b *bufferedResponse) Header() http.Header { return b.header }

func (b *bufferedResponse) WriteHeader(code int) { b.statusCode = code }

func (b *bufferedResponse) Write(p []byte) (int, error) { return b.buf.Write(p) }

// flush 将暂存内容写到真实 writer,仅在未被放弃时调用
func (b *bufferedResponse) flush(w http.ResponseWriter) {
	for k, vs := range b.header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(b.statusCode)
	_, _ = w.Write(b.buf.Bytes())
	pool.ByteBufferPool.Put(b.buf)
}

// release 由超时后仍在运行的下游协程归还缓冲区
func (b *bufferedResponse) release() {
	pool.ByteBufferPool.Put(b.buf)
}

// Timeout imposes a fixed duration on everything beneath it. Downstream runs
// in its own goroutine writing into a pooled buffer; on expiry the buffered
// response is abandoned, a timeout-class error is recorded for the
// ErrorNormalizer above, and the handler returns. The in-flight downstream
// work is not force-stopped: it runs to completion against the abandoned
// buffer (the blocking-bridge tradeoff), observing only the context deadline.
func Timeout(budget time.Duration, collector *metrics.Collector, logger *zap.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), budget)
			defer cancel()

			buffered := newBufferedResponse()
			done := make(chan struct{})

			go func() {
				defer close(done)
				defer func() {
					if rec := recover(); rec != nil {
						logger.Error("panic in timed handler",
							zap.Any("error", rec),
							zap.String("path", r.URL.Path),
						)
						if c := carrierFromContext(ctx); c != nil {
							c.set(types.NewError(types.ErrInternalError, "handler panicked"))
						}
					}
					if buffered.abandoned.Load() {
						buffered.release()
					}
				}()
				next.ServeHTTP(buffered, r.WithContext(ctx))
			}()

			select {
			case <-done:
				// 下游以失败收场(panic 已被记录)时不输出暂存内容,
				// 响应交由上层 ErrorNormalizer 统一产出
				if c := carrierFromContext(ctx); c != nil && c.get() != nil {
					buffered.release()
					return
				}
				buffered.flush(w)
			case <-ctx.Done():
				buffered.abandoned.Store(true)
				collector.RecordTimeout()
				if c := carrierFromContext(ctx); c != nil {
					c.set(types.NewError(types.ErrTimeout, "request processing budget elapsed"))
				}
			}
		})
	}
}

// =============================================================================
// CORS / Buffer / RateLimit — 准入控制层
// =============================================================================

// CORS validates the request origin against an explicit whitelist and
// method/headers against explicit allow-lists. Non-conforming cross-origin
// requests are rejected before they consume buffer or rate-limit budget.
// Same-origin requests (no Origin header) pass through untouched.
func CORS(cfg config.CORSConfig, collector *metrics.Collector) Middleware {
	originSet := make(map[string]struct{}, len(cfg.AllowedOrigins))
	for _, o := range cfg.AllowedOrigins {
		originSet[o] = struct{}{}
	}
	methodSet := make(map[string]struct{}, len(cfg.AllowedMethods))
	for _, m := range cfg.AllowedMethods {
		methodSet[strings.ToUpper(m)] = struct{}{}
	}
	headerSet := make(map[string]struct{}, len(cfg.AllowedHeaders))
	for _, h := range cfg.AllowedHeaders {
		headerSet[http.CanonicalHeaderKey(h)] = struct{}{}
	}
	allowMethods := strings.Join(cfg.AllowedMethods, ", ")
	allowHeaders := strings.Join(cfg.AllowedHeaders, ", ")

	reject := func(w http.ResponseWriter) {
		collector.RecordRejection("cors")
		handlers.WriteErrorMessage(w, http.StatusForbidden,
			types.ErrForbidden, "cross-origin request denied", nil)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin == "" {
				next.ServeHTTP(w, r)
				return
			}

			if _, ok := originSet[origin]; !ok {
				reject(w)
				return
			}

			if r.Method == http.MethodOptions {
				// 预检:校验目标方法与请求头
				reqMethod := strings.ToUpper(r.Header.Get("Access-Control-Request-Method"))
				if _, ok := methodSet[reqMethod]; !ok {
					reject(w)
					return
				}
				for _, raw := range strings.Split(r.Header.Get("Access-Control-Request-Headers"), ",") {
					h := strings.TrimSpace(raw)
					if h == "" {
						continue
					}
					if _, ok := headerSet[http.CanonicalHeaderKey(h)]; !ok {
						reject(w)
						return
					}
				}
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", allowMethods)
				w.Header().Set("Access-Control-Allow-Headers", allowHeaders)
				w.Header().Set("Access-Control-Max-Age", "86400")
				w.WriteHeader(http.StatusNoContent)
				return
			}

			if _, ok := methodSet[r.Method]; !ok {
				reject(w)
				return
			}

			w.Header().Set("Access-Control-Allow-Origin", origin)
			next.ServeHTTP(w, r)
		})
	}
}

// Buffer admits requests into a fixed-capacity slot set to smooth bursts.
// A request arriving when all slots are held is rejected immediately rather
// than queued unbounded.
func Buffer(capacity int, collector *metrics.Collector) Middleware {
	slots := make(chan struct{}, capacity)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case slots <- struct{}{}:
				defer func() { <-slots }()
				next.ServeHTTP(w, r)
			default:
				collector.RecordRejection("buffer_full")
				handlers.WriteErrorMessage(w, http.StatusServiceUnavailable,
					types.ErrServiceUnavailable, "server is over capacity", nil)
			}
		})
	}
}

// RateLimit enforces a hard global ceiling on requests per second. Requests
// over the budget wait for capacity within their deadline; if the deadline
// expires first they are rejected. Together with Buffer above this forms the
// backpressure pair: saturation rejects instead of queueing without bound.
func RateLimit(rps int, collector *metrics.Collector) Middleware {
	limiter := rate.NewLimiter(rate.Limit(rps), rps)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := limiter.Wait(r.Context()); err != nil {
				collector.RecordRejection("rate_limited")
				handlers.WriteErrorMessage(w, http.StatusTooManyRequests,
					types.ErrRateLimited, "request rate limit exceeded", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// =============================================================================
// JWTAuth — JWT Bearer token authentication middleware
// =============================================================================

// JWTAuth validates JWT tokens from the Authorization: Bearer header using
// HS256 over the configured secret. skipPaths are exempt from authentication
// (health endpoints, version, metrics).
func JWTAuth(secret string, skipPaths []string, logger *zap.Logger) Middleware {
	skipSet := make(map[string]struct{}, len(skipPaths))
	for _, p := range skipPaths {
		skipSet[p] = struct{}{}
	}
	key := []byte(secret)
	parserOpts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256"})}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, skip := skipSet[r.URL.Path]; skip {
				next.ServeHTTP(w, r)
				return
			}

			authHeader := r.Header.Get("Authorization")
			if !strings.HasPrefix(authHeader, "Bearer ") {
				handlers.WriteErrorMessage(w, http.StatusUnauthorized,
					types.ErrAuthentication, "missing or malformed Authorization header", nil)
				return
			}
			tokenStr := strings.TrimPrefix(authHeader, "Bearer ")

			token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (any, error) {
				return key, nil
			}, parserOpts...)
			if err != nil || !token.Valid {
				logger.Debug("JWT validation failed", zap.Error(err))
				handlers.WriteErrorMessage(w, http.StatusUnauthorized,
					types.ErrAuthentication, "invalid or expired token", nil)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
