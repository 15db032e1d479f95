package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/huynh-missingcorner/media-studio-app/internal/auth"
	"github.com/huynh-missingcorner/media-studio-app/internal/metrics"
)

const (
	ctxTraceID = "trace_id"
	ctxUserID  = "user_id"
	ctxEmail   = "email"
)

func TraceMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID := strings.TrimSpace(c.GetHeader("X-Trace-Id"))
		if traceID == "" {
			if v7, err := uuid.NewV7(); err == nil {
				traceID = v7.String()
			} else {
				traceID = uuid.NewString()
			}
		}
		c.Set(ctxTraceID, traceID)
		c.Writer.Header().Set("X-Trace-Id", traceID)
		c.Next()
	}
}

// RequestLogMiddleware logs each request and records it in the request
// metrics under its route pattern.
func RequestLogMiddleware(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.RecordRequest(c.Request.Method, route, c.Writer.Status(), latency)
		logger.Info("http_request",
			"trace_id", traceIDFromContext(c),
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency_ms", latency.Milliseconds(),
		)
	}
}

// AuthMiddleware accepts the generation API's bearer token. The raw token
// travels on in the request context so API calls run as the caller.
func AuthMiddleware(authSvc *auth.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c)
		if !ok {
			writeUnauthorized(c)
			c.Abort()
			return
		}
		claims, err := authSvc.ParseAccess(token)
		if err != nil {
			if errors.Is(err, auth.ErrTokenExpired) {
				writeError(c, http.StatusUnauthorized, "TOKEN_EXPIRED", "Session expired, please sign in again", false, nil)
			} else {
				writeUnauthorized(c)
			}
			c.Abort()
			return
		}
		c.Set(ctxUserID, claims.Principal())
		c.Set(ctxEmail, claims.Email)
		c.Request = c.Request.WithContext(auth.ContextWithToken(c.Request.Context(), token))
		c.Next()
	}
}

// eventStreamPath is the only route that takes the token from the query
// string, since EventSource cannot set headers.
const eventStreamPath = "/api/v1/studio/events"

func bearerToken(c *gin.Context) (string, bool) {
	header := c.GetHeader("Authorization")
	const prefix = "Bearer "
	if header != "" && strings.HasPrefix(header, prefix) {
		token := strings.TrimSpace(strings.TrimPrefix(header, prefix))
		return token, token != ""
	}
	if c.Request.Method == http.MethodGet && c.FullPath() == eventStreamPath {
		if token := strings.TrimSpace(c.Query("access_token")); token != "" {
			return token, true
		}
	}
	return "", false
}

func traceIDFromContext(c *gin.Context) string {
	if v, ok := c.Get(ctxTraceID); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func userIDFromContext(c *gin.Context) string {
	if v, ok := c.Get(ctxUserID); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func requireJSON(c *gin.Context) bool {
	if c.ContentType() == "" {
		return true
	}
	if strings.Contains(c.ContentType(), "application/json") {
		return true
	}
	writeError(c, http.StatusUnsupportedMediaType, "UNSUPPORTED_MEDIA_TYPE", "Content-Type must be application/json", false, nil)
	return false
}
