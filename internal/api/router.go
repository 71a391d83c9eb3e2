package api

import (
	"net/http"
	"slices"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	ginprometheus "github.com/zsais/go-gin-prometheus"
	"go.uber.org/zap"
)

// RouterConfig - настройки HTTP роутера.
type RouterConfig struct {
	AllowedOrigins []string
	// Metrics включает middleware Prometheus и эндпоинт /metrics.
	Metrics bool
}

// NewRouter собирает gin.Engine со всеми middleware и маршрутами.
func NewRouter(h *Handler, cfg RouterConfig, logger *zap.Logger) *gin.Engine {
	router := gin.New()
	router.RedirectTrailingSlash = true
	router.Use(ZapLogger(logger))
	router.Use(gin.Recovery())
	router.Use(cors.New(corsConfig(cfg.AllowedOrigins)))

	h.RegisterRoutes(router)
	router.HEAD("/health", h.health)
	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, APIError{Message: "Route not found"})
	})

	// Prometheus подключается после регистрации маршрутов
	if cfg.Metrics {
		p := ginprometheus.NewPrometheus("gin")
		p.Use(router)
	}
	return router
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.DefaultConfig()
	if len(origins) == 0 || slices.Contains(origins, "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
		cfg.AllowCredentials = true
	}
	cfg.AllowMethods = []string{"GET", "POST", "HEAD", "OPTIONS"}
	cfg.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization", requestIDHeader}
	cfg.ExposeHeaders = []string{requestIDHeader}
	cfg.MaxAge = 12 * time.Hour
	return cfg
}
