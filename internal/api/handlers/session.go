// Package handlers implementa os endpoints HTTP do gateway.
package handlers

import (
	"bytes"
	"errors"
	"fmt"
	"image/png"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/skip2/go-qrcode"
	"github.com/vincent-petithory/dataurl"

	"github.com/felipe/zegate/internal/api/dto"
	"github.com/felipe/zegate/internal/api/validators"
	"github.com/felipe/zegate/internal/logger"
	"github.com/felipe/zegate/internal/service/session"
	"github.com/felipe/zegate/internal/wa"
)

// SessionHandler expõe o ciclo de vida das sessões
type SessionHandler struct {
	registry  *session.Registry
	validator *validators.Validator
	qrTimeout time.Duration
	logger    *logger.ComponentLogger
}

func NewSessionHandler(registry *session.Registry, validator *validators.Validator, qrTimeout time.Duration) *SessionHandler {
	return &SessionHandler{
		registry:  registry,
		validator: validator,
		qrTimeout: qrTimeout,
		logger:    logger.ForComponent("api"),
	}
}

// InitSession garante que a sessão exista e esteja conectando
// POST /sessions/:sessionId/init
func (h *SessionHandler) InitSession(c *fiber.Ctx) error {
	sessionID := c.Params("sessionId")
	if err := h.validator.ValidateSessionID(sessionID); err != nil {
		return respondError(c, err)
	}

	sup, err := h.registry.Ensure(c.Context(), sessionID)
	if err != nil {
		h.logger.Error().Err(err).Str("session_id", sessionID).Msg("Failed to initialize session")
		return respondError(c, err)
	}

	h.logger.Info().Str("session_id", sessionID).Msg("Session initialized")

	return c.Status(fiber.StatusCreated).JSON(dto.NewSuccessResponse("Session initialized", sup.Session().Snapshot()))
}

// ListSessions lista todas as sessões registradas
// GET /sessions
func (h *SessionHandler) ListSessions(c *fiber.Ctx) error {
	sessions := h.registry.List()
	return c.JSON(fiber.Map{
		"sessions":  sessions,
		"total":     len(sessions),
		"timestamp": time.Now().Unix(),
	})
}

// GetSession devolve a visão resumida de uma sessão
// GET /sessions/:sessionId
func (h *SessionHandler) GetSession(c *fiber.Ctx) error {
	sup, err := h.registry.Get(c.Params("sessionId"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(sup.Session().Snapshot())
}

// GetStatus computa o status real cruzando transporte e credenciais
// GET /sessions/:sessionId/status
func (h *SessionHandler) GetStatus(c *fiber.Ctx) error {
	sup, err := h.registry.Get(c.Params("sessionId"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(sup.Session().View())
}

// GetQR entrega o pairing string atual com a imagem PNG embutida
// GET /sessions/:sessionId/qr
func (h *SessionHandler) GetQR(c *fiber.Ctx) error {
	sessionID := c.Params("sessionId")
	sup, err := h.registry.Get(sessionID)
	if err != nil {
		return respondError(c, err)
	}

	sess := sup.Session()
	qr, generatedAt := sess.QR()

	if qr == "" {
		status := "waiting"
		if sess.Status() == session.StatusOpen {
			status = "connected"
		}
		return c.JSON(dto.QRCodeResponse{SessionID: sessionID, Status: status})
	}

	image, err := qrImageDataURL(qr)
	if err != nil {
		h.logger.Error().Err(err).Str("session_id", sessionID).Msg("Failed to render QR code")
		return respondError(c, err)
	}

	return c.JSON(dto.QRCodeResponse{
		SessionID:   sessionID,
		Status:      "qr",
		QRCode:      qr,
		QRImage:     image,
		GeneratedAt: generatedAt,
		ExpiresAt:   generatedAt + h.qrTimeout.Milliseconds(),
	})
}

// PairPhone solicita um código de pareamento para o número informado
// POST /sessions/:sessionId/pair-phone
func (h *SessionHandler) PairPhone(c *fiber.Ctx) error {
	sessionID := c.Params("sessionId")

	var req dto.PairPhoneRequest
	if err := h.validator.ValidateAndBindJSON(c, &req); err != nil {
		return respondError(c, err)
	}

	code, err := h.registry.PairPhone(c.Context(), sessionID, req.PhoneNumber)
	if err != nil {
		h.logger.Warn().Err(err).Str("session_id", sessionID).Msg("Pairing code request failed")
		return respondError(c, err)
	}

	return c.JSON(dto.PairPhoneResponse{SessionID: sessionID, PairingCode: code})
}

// Restart derruba o transporte e reconecta com as mesmas credenciais
// POST /sessions/:sessionId/restart
func (h *SessionHandler) Restart(c *fiber.Ctx) error {
	sessionID := c.Params("sessionId")
	if err := h.registry.Restart(c.Context(), sessionID); err != nil {
		h.logger.Error().Err(err).Str("session_id", sessionID).Msg("Failed to restart session")
		return respondError(c, err)
	}

	h.logger.Info().Str("session_id", sessionID).Msg("Session restarted")
	return c.JSON(dto.NewSuccessResponse("Session restarted", fiber.Map{"sessionId": sessionID}))
}

// Logout desautentica no servidor remoto e apaga as credenciais
// POST /sessions/:sessionId/logout
func (h *SessionHandler) Logout(c *fiber.Ctx) error {
	sessionID := c.Params("sessionId")
	if err := h.registry.Logout(c.Context(), sessionID); err != nil {
		h.logger.Error().Err(err).Str("session_id", sessionID).Msg("Failed to logout session")
		return respondError(c, err)
	}

	h.logger.Info().Str("session_id", sessionID).Msg("Session logged out")
	return c.JSON(dto.NewSuccessResponse("Session logged out", fiber.Map{"sessionId": sessionID}))
}

func qrImageDataURL(qr string) (string, error) {
	code, err := qrcode.New(qr, qrcode.Medium)
	if err != nil {
		return "", fmt.Errorf("create qr code: %w", err)
	}

	img := code.Image(300)

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", fmt.Errorf("encode png: %w", err)
	}

	return dataurl.New(buf.Bytes(), "image/png").String(), nil
}

// respondError traduz erros dos serviços para o envelope HTTP
func respondError(c *fiber.Ctx, err error) error {
	var validation *validators.ValidationErrorResponse
	if errors.As(err, &validation) {
		return c.Status(validation.Status).JSON(validation)
	}

	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		return sendError(c, "Session not found", "SESSION_NOT_FOUND", fiber.StatusNotFound)
	case errors.Is(err, session.ErrInvalidSessionID):
		return sendError(c, "Invalid session id", "INVALID_SESSION_ID", fiber.StatusBadRequest)
	case errors.Is(err, session.ErrNotConnected), errors.Is(err, wa.ErrNotConnected):
		return sendError(c, "Session is not connected", "SESSION_NOT_CONNECTED", fiber.StatusConflict)
	case errors.Is(err, wa.ErrCredentialsInvalid):
		return sendError(c, "Session has no valid credentials", "CREDENTIALS_INVALID", fiber.StatusConflict)
	case errors.Is(err, wa.ErrPairingUnavailable):
		return sendError(c, "Pairing code is not available in the current state", "PAIRING_UNAVAILABLE", fiber.StatusConflict)
	default:
		return sendError(c, err.Error(), "INTERNAL_ERROR", fiber.StatusInternalServerError)
	}
}

func sendError(c *fiber.Ctx, message, code string, status int) error {
	return c.Status(status).JSON(dto.NewErrorResponse(code, message, status))
}
