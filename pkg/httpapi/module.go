package httpapi

import (
	"merchant-voucher/pkg/config"
	"merchant-voucher/pkg/health"
	"merchant-voucher/pkg/middleware"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
)

// Module provides the gin engine with the ambient routes. Feature routes
// are registered on it by their own modules.
var Module = fx.Module("httpapi",
	fx.Provide(NewRouter),
)

func NewRouter(cfg *config.Config, h health.HealthService) *gin.Engine {
	if cfg.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.Logger())
	router.Use(middleware.Error())

	router.GET("/healthz", h.Liveness)
	router.GET("/readyz", h.Readiness)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return router
}
