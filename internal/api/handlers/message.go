package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/felipe/zegate/internal/api/dto"
	"github.com/felipe/zegate/internal/api/validators"
	"github.com/felipe/zegate/internal/logger"
	"github.com/felipe/zegate/internal/service/session"
)

// MessageHandler expõe o envio de mensagens pela sessão
type MessageHandler struct {
	registry  *session.Registry
	validator *validators.Validator
	logger    *logger.ComponentLogger
}

func NewMessageHandler(registry *session.Registry, validator *validators.Validator) *MessageHandler {
	return &MessageHandler{
		registry:  registry,
		validator: validator,
		logger:    logger.ForComponent("api"),
	}
}

// SendText envia uma mensagem de texto pela sessão
// POST /sessions/:sessionId/messages/text
func (h *MessageHandler) SendText(c *fiber.Ctx) error {
	sessionID := c.Params("sessionId")

	var req dto.SendTextRequest
	if err := h.validator.ValidateAndBindJSON(c, &req); err != nil {
		return respondError(c, err)
	}

	messageID, err := h.registry.SendText(c.Context(), sessionID, req.To, req.Text)
	if err != nil {
		h.logger.Warn().Err(err).Str("session_id", sessionID).Msg("Failed to send text message")
		return respondError(c, err)
	}

	h.logger.Info().Str("session_id", sessionID).Str("message_id", messageID).Msg("Text message sent")

	return c.JSON(dto.SendTextResponse{
		SessionID: sessionID,
		To:        req.To,
		MessageID: messageID,
		Timestamp: time.Now().Unix(),
	})
}
