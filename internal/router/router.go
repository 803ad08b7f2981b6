package router

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"github.com/noah-isme/college-timetable-api/internal/handler"
	"github.com/noah-isme/college-timetable-api/internal/middleware"
	"github.com/noah-isme/college-timetable-api/internal/models"
	"github.com/noah-isme/college-timetable-api/internal/service"
	"github.com/noah-isme/college-timetable-api/pkg/config"
	"github.com/noah-isme/college-timetable-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/college-timetable-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/college-timetable-api/pkg/middleware/requestid"
)

// Handlers groups every HTTP handler the router mounts.
type Handlers struct {
	Timetable *handler.TimetableHandler
	Metrics   *handler.MetricsHandler
}

// Setup builds the gin engine with global middleware, ops endpoints and the timetable API.
func Setup(cfg *config.Config, h Handlers, tokens middleware.TokenValidator, metrics *service.MetricsService, logr *zap.Logger) *gin.Engine {
	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metrics))

	r.GET("/health", h.Metrics.Health)
	r.GET("/ready", h.Metrics.Ready)
	r.GET("/metrics", h.Metrics.Prometheus)
	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	api.Use(middleware.WithResponseMeta())
	api.Use(middleware.JWT(tokens))

	admin := middleware.RequireRoles(models.RoleAdmin)
	staff := middleware.RequireRoles(models.RoleAdmin, models.RoleStaff)
	anyone := middleware.RequireRoles(models.RoleAdmin, models.RoleStaff, models.RoleStudent)

	timetables := api.Group("/timetables")
	{
		timetables.GET("", anyone, h.Timetable.List)
		timetables.GET("/me", middleware.RequireRoles(models.RoleStudent), h.Timetable.Mine)
		timetables.GET("/my-schedule", staff, h.Timetable.MySchedule)
		timetables.GET("/slots", anyone, h.Timetable.Slots)
		timetables.GET("/publication", staff, h.Timetable.Publication)
		timetables.GET("/export", anyone, h.Timetable.Export)
		timetables.POST("", staff, h.Timetable.Create)
		timetables.POST("/generate", admin, h.Timetable.Generate)
		timetables.PATCH("/publish", admin, h.Timetable.Publish)
		timetables.DELETE("/:id", staff, h.Timetable.Delete)
	}

	return r
}
