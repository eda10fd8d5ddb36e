package handler

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/shattavibe/api/internal/model"
	"github.com/shattavibe/api/internal/service"
	"github.com/shattavibe/api/pkg/response"
)

// CallbackHandler receives the vendor's progress pushes.
type CallbackHandler struct {
	service   *service.IngestService
	validator *validator.Validate
	logger    *zap.Logger
}

func NewCallbackHandler(svc *service.IngestService, v *validator.Validate, logger *zap.Logger) *CallbackHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CallbackHandler{
		service:   svc,
		validator: v,
		logger:    logger,
	}
}

// Suno handles POST /callback/suno.
//
// Unknown task ids are acknowledged with 200 so the vendor stops retrying.
// Storage failures answer 500, which makes the vendor deliver again.
func (h *CallbackHandler) Suno(c *fiber.Ctx) error {
	var payload model.CallbackPayload
	if err := c.BodyParser(&payload); err != nil {
		return response.ValidationError(c, "Invalid callback body", nil)
	}

	if err := h.validator.Struct(&payload.Data); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	result, err := h.service.Ingest(c.UserContext(), &payload)
	if err != nil {
		h.logger.Error("callback ingest failed", zap.String("task_id", payload.Data.TaskID), zap.Error(err))
		return response.ServiceError(c, "Failed to store callback")
	}

	return response.OK(c, result.Ack(payload.Data.TaskID))
}
