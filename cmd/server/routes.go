package main

import (
	"github.com/gin-gonic/gin"
	"github.com/huangang/trackmirror/internal/handlers"
	"github.com/huangang/trackmirror/internal/middleware"
	"github.com/huangang/trackmirror/internal/models"
	"github.com/huangang/trackmirror/internal/services"
	"github.com/huangang/trackmirror/pkg/logger"
)

// registerRoutes sets up all HTTP routes on the given Gin engine.
func registerRoutes(r *gin.Engine, svc *appServices) {
	db := models.GetDB()

	r.Use(logger.GinLogger(), logger.GinRecovery())
	r.Use(middleware.CORS())

	loginLimiter := middleware.NewRateLimiter(1, 5)
	syncLimiter := middleware.NewRateLimiter(0.1, 3)

	r.GET("/health", handlers.NewHealthHandler(db).CheckHealth)
	r.GET("/metrics", handlers.NewMetricsHandler(db).Metrics)

	api := r.Group("/api")
	{
		api.POST("/auth/login", loginLimiter.Middleware(), svc.authHandler.Login)

		serverHandler := handlers.NewServerHandler(db)
		projectHandler := handlers.NewProjectHandler(db)
		credentialHandler := handlers.NewCredentialHandler(db, svc.connector)
		mirrorHandler := handlers.NewMirrorHandler(db, svc.runner, svc.taskQueue)
		syncLogHandler := handlers.NewSyncLogHandler(db)
		sseHandler := handlers.NewSSEHandler(services.GetSSEHub())

		// Readable by every signed-in user
		protected := api.Group("")
		protected.Use(middleware.AuthRequired())
		{
			protected.GET("/auth/me", svc.authHandler.GetCurrentUser)
			protected.POST("/auth/logout", svc.authHandler.Logout)
			protected.PUT("/auth/password", svc.authHandler.ChangePassword)

			protected.GET("/events/sync", sseHandler.StreamSyncEvents)

			protected.GET("/servers", serverHandler.List)
			protected.GET("/servers/:id", serverHandler.GetByID)
			protected.GET("/servers/:id/labels", serverHandler.ListLabels)

			protected.GET("/projects", projectHandler.List)
			protected.GET("/projects/:id", projectHandler.GetByID)
			protected.GET("/projects/:id/milestones", projectHandler.ListMilestones)

			// Users manage their own API keys
			protected.GET("/credentials", credentialHandler.List)
			protected.POST("/credentials", middleware.AuditLog(), credentialHandler.Save)

			protected.GET("/mirrors", mirrorHandler.List)
			protected.GET("/mirrors/:id", mirrorHandler.GetByID)
			protected.GET("/mirrors/:id/rules", mirrorHandler.ListRules)
			protected.GET("/mirrors/:id/pending", mirrorHandler.Pending)

			protected.GET("/sync-logs", syncLogHandler.List)
			protected.GET("/sync-logs/:id", syncLogHandler.GetByID)
		}

		admin := api.Group("")
		admin.Use(middleware.AuthRequired(), middleware.AdminRequired(), middleware.AuditLog())
		{
			admin.POST("/servers", serverHandler.Create)
			admin.PUT("/servers/:id", serverHandler.Update)
			admin.DELETE("/servers/:id", serverHandler.Delete)
			admin.POST("/servers/:id/labels", serverHandler.UpsertLabel)

			admin.POST("/projects", projectHandler.Create)
			admin.PUT("/projects/:id", projectHandler.Update)
			admin.DELETE("/projects/:id", projectHandler.Delete)
			admin.POST("/projects/:id/milestones", projectHandler.CreateMilestone)

			admin.DELETE("/credentials/:id", credentialHandler.Delete)

			admin.POST("/mirrors", mirrorHandler.Create)
			admin.PUT("/mirrors/:id", mirrorHandler.Update)
			admin.DELETE("/mirrors/:id", mirrorHandler.Delete)
			admin.POST("/mirrors/:id/rules", mirrorHandler.CreateRule)
			admin.DELETE("/mirrors/:id/rules/:rule_id", mirrorHandler.DeleteRule)
			admin.POST("/mirrors/:id/sync", syncLimiter.Middleware(), mirrorHandler.Sync)

			userHandler := handlers.NewUserHandler(db)
			admin.GET("/users", userHandler.List)
			admin.POST("/users", userHandler.Create)
			admin.PUT("/users/:id", userHandler.Update)
			admin.DELETE("/users/:id", userHandler.Delete)

			systemLogHandler := handlers.NewSystemLogHandler(db)
			admin.GET("/system-logs", systemLogHandler.List)
			admin.GET("/system-logs/modules", systemLogHandler.GetModules)

			systemConfigHandler := handlers.NewSystemConfigHandler(db, svc.scheduler)
			admin.GET("/system-config/:group", systemConfigHandler.GetGroup)
			admin.PUT("/system-config", systemConfigHandler.Update)
		}
	}
}
