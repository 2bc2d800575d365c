package middleware

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/felipe/zegate/internal/logger"
)

// LoggingMiddleware registra cada requisição com severidade derivada do
// status da resposta
type LoggingMiddleware struct {
	logger *logger.ComponentLogger
}

func NewLoggingMiddleware() *LoggingMiddleware {
	return &LoggingMiddleware{logger: logger.ForComponent("http")}
}

// RequestID atribui um identificador único à requisição
func (m *LoggingMiddleware) RequestID() fiber.Handler {
	return func(c *fiber.Ctx) error {
		requestID := uuid.NewString()
		c.Locals("request_id", requestID)
		c.Set("X-Request-ID", requestID)
		return c.Next()
	}
}

// Logger emite uma linha estruturada por requisição
func (m *LoggingMiddleware) Logger() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		latency := time.Since(start)

		status := c.Response().StatusCode()
		event := m.logger.Info()
		if status >= 500 {
			event = m.logger.Error()
		} else if status >= 400 {
			event = m.logger.Warn()
		}

		requestID := ""
		if id, ok := c.Locals("request_id").(string); ok {
			requestID = id
		}

		event.
			Str("method", c.Method()).
			Str("path", c.Path()).
			Int("status", status).
			Dur("latency", latency).
			Str("ip", c.IP()).
			Str("request_id", requestID).
			Msg("HTTP request")

		return err
	}
}
