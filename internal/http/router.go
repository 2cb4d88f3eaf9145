package http

import (
	"github.com/gin-gonic/gin"

	httpH "github.com/nndrao/stern-sub001/internal/http/handlers"
	httpMW "github.com/nndrao/stern-sub001/internal/http/middleware"
	"github.com/nndrao/stern-sub001/internal/platform/logger"
)

type RouterConfig struct {
	Log *logger.Logger

	ConfigHandler *httpH.ConfigHandler
	HealthHandler *httpH.HealthHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpMW.AttachTraceContext())
	r.Use(httpMW.AttachIdentity())
	r.Use(httpMW.RequestLogger(cfg.Log))
	r.Use(httpMW.CORS())

	// Health
	if cfg.HealthHandler != nil {
		r.GET("/healthcheck", cfg.HealthHandler.HealthCheck)
	}

	api := r.Group("/api")
	{
		if cfg.ConfigHandler != nil {
			api.POST("/configs", cfg.ConfigHandler.Create)
			api.GET("/configs", cfg.ConfigHandler.Query)
			api.GET("/configs/health", cfg.ConfigHandler.Health)

			api.POST("/configs/bulk", cfg.ConfigHandler.BulkCreate)
			api.PATCH("/configs/bulk", cfg.ConfigHandler.BulkUpdate)
			api.POST("/configs/bulk-delete", cfg.ConfigHandler.BulkDelete)
			api.POST("/configs/cleanup", cfg.ConfigHandler.Cleanup)

			api.GET("/configs/:id", cfg.ConfigHandler.Get)
			api.PATCH("/configs/:id", cfg.ConfigHandler.Update)
			api.DELETE("/configs/:id", cfg.ConfigHandler.Delete)
			api.POST("/configs/:id/clone", cfg.ConfigHandler.Clone)
		}
	}

	return r
}
