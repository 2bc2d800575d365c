package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/felipe/zegate/internal/api/dto"
	"github.com/felipe/zegate/internal/api/validators"
	"github.com/felipe/zegate/internal/logger"
	"github.com/felipe/zegate/internal/service/webhook"
)

// WebhookHandler expõe o controle do motor de entrega
type WebhookHandler struct {
	engine    *webhook.Engine
	validator *validators.Validator
	logger    *logger.ComponentLogger
}

func NewWebhookHandler(engine *webhook.Engine, validator *validators.Validator) *WebhookHandler {
	return &WebhookHandler{
		engine:    engine,
		validator: validator,
		logger:    logger.ForComponent("api"),
	}
}

// GetStats resume o tamanho das filas e o estado do worker
// GET /webhooks/stats
func (h *WebhookHandler) GetStats(c *fiber.Ctx) error {
	stats, err := h.engine.GetStats(c.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to collect webhook stats")
		return respondError(c, err)
	}
	return c.JSON(stats)
}

// RetryFailed devolve jobs da fila morta para a fila ativa
// POST /webhooks/retry
func (h *WebhookHandler) RetryFailed(c *fiber.Ctx) error {
	req := dto.RetryFailedRequest{Limit: 100}
	if len(c.Body()) > 0 {
		if err := h.validator.ValidateAndBindJSON(c, &req); err != nil {
			return respondError(c, err)
		}
		if req.Limit == 0 {
			req.Limit = 100
		}
	}

	requeued, err := h.engine.RetryFailed(c.Context(), req.Limit)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to retry dead-lettered jobs")
		return respondError(c, err)
	}

	h.logger.Info().Int("requeued", requeued).Msg("Dead-lettered jobs requeued")
	return c.JSON(dto.RetryFailedResponse{Requeued: requeued})
}

// Start liga o worker de entrega
// POST /webhooks/start
func (h *WebhookHandler) Start(c *fiber.Ctx) error {
	h.engine.Start()
	return c.JSON(dto.NewSuccessResponse("Webhook processing started", fiber.Map{
		"isProcessing": h.engine.IsProcessing(),
	}))
}

// Stop pausa o worker de entrega sem descartar a fila
// POST /webhooks/stop
func (h *WebhookHandler) Stop(c *fiber.Ctx) error {
	h.engine.Stop()
	return c.JSON(dto.NewSuccessResponse("Webhook processing stopped", fiber.Map{
		"isProcessing": h.engine.IsProcessing(),
	}))
}
