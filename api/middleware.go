package api

import (
	"context"
	"time"

	"github.com/SlpAus/mcbattle-ranking-backend/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// RequestIDHeader 是请求ID使用的HTTP头
const RequestIDHeader = "X-Request-ID"

type requestIDKey struct{}

// RequestID 为每个请求分配ID；请求已携带 X-Request-ID 时沿用它
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Header(RequestIDHeader, id)
		c.Request = c.Request.WithContext(context.WithValue(c.Request.Context(), requestIDKey{}, id))
		c.Next()
	}
}

// GetRequestID 从上下文中取出请求ID
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// AccessLog 记录每个请求的方法、路由、状态码和耗时
func AccessLog(log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		fields := []logger.Field{
			logger.String("method", c.Request.Method),
			logger.String("path", c.Request.URL.Path),
			logger.Int("status", status),
			logger.Any("latency", time.Since(start)),
			logger.String("client_ip", c.ClientIP()),
			logger.String("request_id", GetRequestID(c.Request.Context())),
		}
		if status >= 500 {
			log.Warn(c.Request.Context(), "请求处理失败", fields...)
			return
		}
		log.Debug(c.Request.Context(), "请求完成", fields...)
	}
}
