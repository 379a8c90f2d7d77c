package api

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
)

func (s *Server) setupRoutes() {
	s.app.Use(recover.New())
	s.app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	s.app.Use(cors.New(cors.Config{
		AllowOrigins: strings.Join(s.config.Security.AllowOrigins, ","),
		AllowHeaders: "Origin, Content-Type, Accept",
		AllowMethods: "GET, POST, PUT, DELETE, OPTIONS",
	}))
	s.app.Use(s.metricsMiddleware())

	s.app.Get("/api/health", s.handleHealth)
	if s.metrics != nil {
		s.app.Get("/metrics", adaptor.HTTPHandler(s.metrics.Handler()))
	}

	api := s.app.Group("/api", s.rateLimitMiddleware())

	api.Get("/medications", s.handleListMedications)
	api.Post("/medications", s.handleCreateMedication)
	api.Put("/medications/:id", s.handleUpdateMedication)
	api.Delete("/medications/:id", s.handleDeleteMedication)

	api.Post("/medications/:id/doses/:slot/taken", s.handleMarkTaken)
	api.Post("/medications/:id/doses/:slot/skipped", s.handleMarkSkipped)
	api.Post("/medications/:id/doses/:slot/undo", s.handleUndo)
	api.Post("/medications/:id/doses/:slot/snooze", s.handleSnooze)

	api.Get("/doses/pending", s.handlePendingDoses)
	api.Get("/doses/upcoming", s.handleUpcomingDoses)

	api.Get("/adherence", s.handleAdherence)
	api.Get("/insights", s.handleInsights)

	api.Get("/history", s.handleRecentHistory)
	api.Get("/history/:date", s.handleHistory)
	api.Post("/rollover", s.handleRollover)

	api.Get("/notifications", s.handleListNotifications)
	api.Post("/notifications/delivered", s.handleNotificationDelivered)
	api.Post("/notifications/action", s.handleNotificationAction)
}

func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Address, s.config.Server.Port)
	return s.app.Listen(addr)
}

func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.app.ShutdownWithContext(ctx)
}
