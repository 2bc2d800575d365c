// Package api monta o servidor HTTP do gateway sobre o Fiber.
package api

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/felipe/zegate/internal/api/dto"
	"github.com/felipe/zegate/internal/api/handlers"
	"github.com/felipe/zegate/internal/api/middleware"
	"github.com/felipe/zegate/internal/api/validators"
	"github.com/felipe/zegate/internal/config"
	"github.com/felipe/zegate/internal/logger"
	"github.com/felipe/zegate/internal/service/session"
	"github.com/felipe/zegate/internal/service/webhook"
)

// Server representa o servidor HTTP do gateway
type Server struct {
	app      *fiber.App
	config   *config.Config
	registry *session.Registry
	logger   *logger.ComponentLogger

	sessionHandler *handlers.SessionHandler
	messageHandler *handlers.MessageHandler
	webhookHandler *handlers.WebhookHandler
	authMiddleware *middleware.AuthMiddleware
	logMiddleware  *middleware.LoggingMiddleware
}

// NewServer cria o servidor com todos os serviços injetados
func NewServer(cfg *config.Config, registry *session.Registry, engine *webhook.Engine) *Server {
	app := fiber.New(fiber.Config{
		AppName:      "ZeGate API",
		ServerHeader: "ZeGate/1.0",
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(dto.NewErrorResponse("INTERNAL_ERROR", err.Error(), code))
		},
	})

	validator := validators.NewValidator()

	return &Server{
		app:            app,
		config:         cfg,
		registry:       registry,
		logger:         logger.ForComponent("api"),
		sessionHandler: handlers.NewSessionHandler(registry, validator, cfg.WhatsApp.QRTimeout),
		messageHandler: handlers.NewMessageHandler(registry, validator),
		webhookHandler: handlers.NewWebhookHandler(engine, validator),
		authMiddleware: middleware.NewAuthMiddleware(cfg.Auth.AdminAPIKey),
		logMiddleware:  middleware.NewLoggingMiddleware(),
	}
}

// SetupRoutes configura middlewares globais e todas as rotas
func (s *Server) SetupRoutes() {
	s.app.Use(recover.New())
	s.app.Use(s.authMiddleware.CORS())
	s.app.Use(s.logMiddleware.RequestID())
	s.app.Use(s.logMiddleware.Logger())

	s.app.Get("/health", s.healthCheck)

	sessions := s.app.Group("/sessions")
	sessions.Use(s.authMiddleware.RequireAPIKey())
	sessions.Get("/", s.sessionHandler.ListSessions)
	sessions.Post("/:sessionId/init", s.sessionHandler.InitSession)
	sessions.Get("/:sessionId", s.sessionHandler.GetSession)
	sessions.Get("/:sessionId/status", s.sessionHandler.GetStatus)
	sessions.Get("/:sessionId/qr", s.sessionHandler.GetQR)
	sessions.Post("/:sessionId/pair-phone", s.sessionHandler.PairPhone)
	sessions.Post("/:sessionId/restart", s.sessionHandler.Restart)
	sessions.Post("/:sessionId/logout", s.sessionHandler.Logout)
	sessions.Post("/:sessionId/messages/text", s.messageHandler.SendText)

	webhooks := s.app.Group("/webhooks")
	webhooks.Use(s.authMiddleware.RequireAPIKey())
	webhooks.Get("/stats", s.webhookHandler.GetStats)
	webhooks.Post("/retry", s.webhookHandler.RetryFailed)
	webhooks.Post("/start", s.webhookHandler.Start)
	webhooks.Post("/stop", s.webhookHandler.Stop)

	s.logger.Info().Msg("API routes configured")
}

func (s *Server) healthCheck(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":    "ok",
		"service":   "zegate",
		"sessions":  s.registry.Count(),
		"timestamp": time.Now().Unix(),
	})
}

// Start configura as rotas e bloqueia escutando a porta configurada
func (s *Server) Start() error {
	s.SetupRoutes()

	address := s.config.GetServerAddress()
	s.logger.Info().Str("address", address).Msg("Starting HTTP server")

	return s.app.Listen(address)
}

// Stop encerra o servidor aguardando as requisições em andamento
func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping HTTP server")
	return s.app.Shutdown()
}
