package response

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/shattavibe/api/internal/apperr"
)

// Error codes
const (
	CodeValidationError = "VALIDATION_ERROR"
	CodeUnauthorized    = "UNAUTHORIZED"
	CodeNotFound        = "NOT_FOUND"
	CodeRateLimited     = "RATE_LIMITED"
	CodeQuotaExceeded   = "QUOTA_EXCEEDED"
	CodeVendorError     = "VENDOR_ERROR"
	CodeJobFailed       = "JOB_FAILED"
	CodeServiceError    = "SERVICE_ERROR"
)

type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func Error(c *fiber.Ctx, status int, code, message string, details interface{}) error {
	return c.Status(status).JSON(ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
			Details: details,
		},
	})
}

func ValidationError(c *fiber.Ctx, message string, details interface{}) error {
	return Error(c, fiber.StatusBadRequest, CodeValidationError, message, details)
}

func Unauthorized(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusUnauthorized, CodeUnauthorized, message, nil)
}

func NotFound(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusNotFound, CodeNotFound, message, nil)
}

func RateLimited(c *fiber.Ctx) error {
	return Error(c, fiber.StatusTooManyRequests, CodeRateLimited, "Rate limit exceeded", nil)
}

func QuotaExceeded(c *fiber.Ctx) error {
	return Error(c, fiber.StatusPaymentRequired, CodeQuotaExceeded, "Free generation limit reached. Sign in to keep creating.", nil)
}

func VendorError(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusBadGateway, CodeVendorError, message, nil)
}

func ServiceError(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusInternalServerError, CodeServiceError, message, nil)
}

// FromError maps the error taxonomy onto the error envelope.
func FromError(c *fiber.Ctx, err error) error {
	var vendorErr *apperr.VendorRequestError
	var failedErr *apperr.VendorJobFailedError
	switch {
	case errors.Is(err, apperr.ErrInvalidRequest):
		return ValidationError(c, err.Error(), nil)
	case errors.Is(err, apperr.ErrJobNotFound):
		return NotFound(c, "Generation not found")
	case errors.Is(err, apperr.ErrQuotaExceeded):
		return QuotaExceeded(c)
	case errors.As(err, &vendorErr):
		return VendorError(c, vendorErr.Message)
	case errors.As(err, &failedErr):
		return Error(c, fiber.StatusUnprocessableEntity, CodeJobFailed, failedErr.Error(), nil)
	case errors.Is(err, apperr.ErrPersistence):
		return ServiceError(c, "Storage unavailable")
	}
	return ServiceError(c, err.Error())
}

func OK(c *fiber.Ctx, data interface{}) error {
	return c.JSON(data)
}

func Created(c *fiber.Ctx, data interface{}) error {
	return c.Status(fiber.StatusCreated).JSON(data)
}

func Accepted(c *fiber.Ctx, data interface{}) error {
	return c.Status(fiber.StatusAccepted).JSON(data)
}

func NoContent(c *fiber.Ctx) error {
	return c.SendStatus(fiber.StatusNoContent)
}
