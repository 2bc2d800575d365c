// Package middleware reúne os middlewares HTTP da API: autenticação por
// API key, CORS e logging estruturado de requisições.
package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"

	"github.com/felipe/zegate/internal/logger"
)

// AuthMiddleware valida a API key global do gateway
type AuthMiddleware struct {
	apiKey string
	logger *logger.ComponentLogger
}

func NewAuthMiddleware(apiKey string) *AuthMiddleware {
	am := &AuthMiddleware{
		apiKey: apiKey,
		logger: logger.ForComponent("api"),
	}
	if apiKey == "" {
		am.logger.Warn().Msg("ADMIN_API_KEY not set, authentication disabled")
	}
	return am
}

// extractAPIKey tenta os headers na ordem aceita pelos clientes Baileys
func (am *AuthMiddleware) extractAPIKey(c *fiber.Ctx) string {
	if key := c.Get("apikey"); key != "" {
		return key
	}
	if key := c.Get("X-API-Key"); key != "" {
		return key
	}
	if token := c.Get("Authorization"); token != "" {
		if strings.HasPrefix(token, "Bearer ") {
			return strings.TrimPrefix(token, "Bearer ")
		}
		return token
	}
	return ""
}

// RequireAPIKey exige a chave global em todas as rotas protegidas
func (am *AuthMiddleware) RequireAPIKey() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if am.apiKey == "" {
			return c.Next()
		}

		key := am.extractAPIKey(c)
		if key == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error":   "MISSING_API_KEY",
				"message": "API key is required in 'apikey', 'X-API-Key' or 'Authorization' header",
			})
		}
		if key != am.apiKey {
			am.logger.Warn().Str("path", c.Path()).Msg("Request rejected, invalid API key")
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error":   "INVALID_API_KEY",
				"message": "Invalid API key provided",
			})
		}
		return c.Next()
	}
}

// CORS libera os headers de autenticação para clientes de navegador
func (am *AuthMiddleware) CORS() fiber.Handler {
	return cors.New(cors.Config{
		AllowOrigins:     "*",
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders:     "Origin,Content-Type,Accept,Authorization,X-API-Key,apikey",
		ExposeHeaders:    "Content-Length",
		AllowCredentials: false,
		MaxAge:           86400,
	})
}
