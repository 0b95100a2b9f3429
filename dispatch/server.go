package dispatch

import (
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// NewRouter builds the gin.Engine the dispatch API is served on: a
// no-middleware-by-default engine plus logging, panic recovery, gzip, and
// liveness/readiness probes.
func NewRouter(h *Handler) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	gin.DefaultWriter = log.Logger
	gin.DisableConsoleColor()

	router := gin.New()
	router.Use(zeroLogMiddleware())
	router.Use(openTracingMiddleware())
	router.Use(gin.Recovery())
	router.Use(gzip.Gzip(gzip.DefaultCompression))

	router.GET("/liveness", func(c *gin.Context) {
		c.String(200, "I'm alive!")
	})
	router.GET("/readiness", func(c *gin.Context) {
		c.String(200, "I'm ready!")
	})

	h.Register(router)

	return router
}
