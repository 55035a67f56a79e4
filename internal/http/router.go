package httpapi

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/carequeue/backend/internal/config"
	"github.com/carequeue/backend/internal/http/handlers"
	"github.com/carequeue/backend/internal/http/middleware"

	_ "github.com/carequeue/backend/docs"
)

// Deps are the collaborators the HTTP layer needs beyond the queue service.
// Entries and Deliveries are optional.
type Deps struct {
	Store      handlers.Pinger
	Entries    handlers.EntryLister
	Deliveries handlers.DeliveryStats
}

func Router(cfg config.Config, queue handlers.QueueAPI, deps Deps, logger zerolog.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(logger))
	if cfg.RequestTimeout > 0 {
		r.Use(middleware.Timeout(cfg.RequestTimeout))
	}

	corsCfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Admin-Key", "X-Request-Id", handlers.ActorHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if cfg.CORSAllowed == "*" || cfg.CORSAllowed == "" {
		corsCfg.AllowAllOrigins = true
		corsCfg.AllowCredentials = false
	} else {
		corsCfg.AllowOrigins = []string{cfg.CORSAllowed}
	}
	r.Use(cors.New(corsCfg))

	h := &handlers.Handler{
		Queue:      queue,
		Store:      deps.Store,
		Entries:    deps.Entries,
		Deliveries: deps.Deliveries,
		Validator:  handlers.NewValidator(),
		Logger:     logger,
	}

	r.GET("/healthz", h.Healthz)

	api := r.Group("/api")
	{
		api.GET("/queues/:hospital/:department", h.QueueList)
		api.GET("/queues/:hospital/:department/stats", h.QueueStats)
		api.GET("/tickets/:ticketId", h.TicketDetails)
	}

	admin := api.Group("")
	admin.Use(middleware.AdminKey(cfg.AdminKey))
	{
		admin.POST("/queues/:hospital/:department/admissions", h.Admit)
		admin.POST("/queues/:hospital/:department/rerank", h.Rerank)
		admin.POST("/queues/:hospital/:department/broadcast", h.Broadcast)
		admin.POST("/tickets/:ticketId/status", h.TicketStatus)
		admin.POST("/tickets/:ticketId/escalate", h.Escalate)
		admin.GET("/notifications/stats", h.NotificationStats)
	}

	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	return r
}
