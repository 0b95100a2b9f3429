package dispatch

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/ext"
	"github.com/rs/zerolog/log"
)

// zeroLogMiddleware logs each gin request at debug (warn on 5xx) with
// status, latency, client IP, method and path.
func zeroLogMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		if path == "/liveness" || path == "/readiness" {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()
		latency := time.Since(start)

		raw := c.Request.URL.RawQuery
		if raw != "" {
			path = path + "?" + raw
		}

		event := log.Debug()
		if c.Writer.Status() >= 500 {
			event = log.Warn()
		}
		event.
			Int("statusCode", c.Writer.Status()).
			Dur("latencyMs", latency).
			Str("clientIP", c.ClientIP()).
			Str("path", path).
			Msgf("[DISPATCH] %3d %13v %15s %-7s %s", c.Writer.Status(), latency, c.ClientIP(), c.Request.Method, path)
	}
}

// openTracingMiddleware starts a span per request and tags it with the
// route, status code, and method.
func openTracingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		if path == "/liveness" || path == "/readiness" {
			c.Next()
			return
		}

		tracingCtx, err := opentracing.GlobalTracer().Extract(opentracing.HTTPHeaders, opentracing.HTTPHeadersCarrier(c.Request.Header))
		if err != nil {
			log.Debug().Err(err).Msgf("No trace context on %v %v", c.Request.Method, c.Request.URL.Path)
		}

		span := opentracing.StartSpan(fmt.Sprintf("%v %v", c.Request.Method, c.Request.URL.Path), ext.RPCServerOption(tracingCtx))
		defer span.Finish()

		ext.SpanKindRPCServer.Set(span)
		ext.HTTPMethod.Set(span, c.Request.Method)
		ext.HTTPUrl.Set(span, c.Request.URL.String())

		c.Request = c.Request.WithContext(opentracing.ContextWithSpan(c.Request.Context(), span))
		c.Next()
	}
}

// claimTokenMiddleware rejects a request to a mutating job endpoint with
// 403 when it carries no X-Claim-Token header, and otherwise stores the
// token for the handler. Matching it against the job's stored token is left
// to the store calls, whose NotOwner error the handlers turn into 403.
func claimTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.GetHeader("X-Claim-Token")
		if token == "" {
			c.AbortWithStatus(http.StatusForbidden)
			return
		}
		c.Set(claimTokenKey, token)
		c.Next()
	}
}

const claimTokenKey = "claimToken"

func claimTokenFromContext(c *gin.Context) string {
	token, _ := c.Get(claimTokenKey)
	str, _ := token.(string)
	return str
}
