// Package middleware 提供 Gin 通用中间件（日志、trace、panic recover、身份鉴权、限流）
package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/hemanthK-supraoracles/perpetuals/pkg/logger"
	"github.com/hemanthK-supraoracles/perpetuals/pkg/metrics"
	"github.com/hemanthK-supraoracles/perpetuals/pkg/ratelimit"
)

// CallerKey gin context key holding the authenticated caller address
const CallerKey = "caller_address"

// RequestIDKey gin context key for request ID
const RequestIDKey = "request_id"

// CallerAddress 读取当前请求的已鉴权调用方地址
func CallerAddress(c *gin.Context) string {
	if v, ok := c.Get(CallerKey); ok {
		if addr, ok := v.(string); ok {
			return addr
		}
	}
	return ""
}

// GinLoggingMiddleware Gin 日志中间件，注入 request_id/trace_id 并记录请求耗时
func GinLoggingMiddleware(m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := uuid.New().String()
		traceID := c.GetHeader("X-Trace-ID")
		if traceID == "" {
			traceID = uuid.New().String()
		}

		c.Set(RequestIDKey, requestID)
		c.Request = c.Request.WithContext(logger.WithIDs(c.Request.Context(), requestID, traceID))

		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		duration := time.Since(start)
		status := c.Writer.Status()
		logFn := logger.Info
		switch {
		case status >= http.StatusInternalServerError:
			logFn = logger.Error
		case status >= http.StatusBadRequest:
			logFn = logger.Warn
		}
		logFn(c.Request.Context(), "HTTP request completed",
			"method", method,
			"path", path,
			"status_code", status,
			"client_ip", c.ClientIP(),
			"duration", duration,
		)

		if m != nil {
			m.HTTPRequestsTotal.Inc()
			m.HTTPRequestDuration.Observe(duration.Seconds())
		}
	}
}

// GinRecoveryMiddleware Gin panic 恢复中间件
func GinRecoveryMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				requestID, _ := c.Get(RequestIDKey)
				logger.Error(c.Request.Context(), "HTTP request panicked",
					"request_id", requestID,
					"panic", err,
				)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error":      "Internal server error",
					"request_id": requestID,
				})
			}
		}()
		c.Next()
	}
}

// GinCORSMiddleware Gin CORS 中间件
func GinCORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With, X-Trace-ID, X-Caller-Address")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE, PATCH")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

// AuthConfig 身份鉴权中间件配置
type AuthConfig struct {
	// JWT 签名密钥（HS256）
	JWTSecret string
	// 是否允许 X-Caller-Address 明文头（仅 dev 环境）
	AllowPlainHeader bool
}

// GinAuthMiddleware 从 Bearer token 中解析调用方地址（claim "addr"）并写入 gin context。
// 开启 AllowPlainHeader 时接受 X-Caller-Address 明文头作为降级身份来源。
func GinAuthMiddleware(cfg AuthConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")
		if strings.HasPrefix(auth, "Bearer ") {
			tokenStr := strings.TrimPrefix(auth, "Bearer ")
			token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrSignatureInvalid
				}
				return []byte(cfg.JWTSecret), nil
			})
			if err != nil || !token.Valid {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
				return
			}
			claims, ok := token.Claims.(jwt.MapClaims)
			if !ok {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token claims"})
				return
			}
			addr, _ := claims["addr"].(string)
			if addr == "" {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "token missing addr claim"})
				return
			}
			c.Set(CallerKey, addr)
			c.Next()
			return
		}

		if cfg.AllowPlainHeader {
			if addr := c.GetHeader("X-Caller-Address"); addr != "" {
				c.Set(CallerKey, addr)
				c.Next()
				return
			}
		}

		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing credentials"})
	}
}

// GinRateLimitMiddleware 基于 Redis 的限流中间件，按调用方地址（匿名时按 IP）限流
func GinRateLimitMiddleware(limiter ratelimit.RateLimiter, limit ratelimit.Limit) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := CallerAddress(c)
		if key == "" {
			key = c.ClientIP()
		}

		res, err := limiter.Allow(c.Request.Context(), "api:"+key, limit)
		if err == nil && !res.Allowed {
			c.Header("Retry-After", res.RetryAfter.String())
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
			return
		}
		c.Next()
	}
}
