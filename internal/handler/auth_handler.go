package handler

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/shattavibe/api/internal/auth"
)

// AuthHandler handles ForwardAuth verification for the API gateway
type AuthHandler struct {
	verifier auth.TokenVerifier
}

func NewAuthHandler(verifier auth.TokenVerifier) *AuthHandler {
	return &AuthHandler{verifier: verifier}
}

// Verify handles GET /auth/verify, called by the gateway's ForwardAuth.
// Returns 200 with X-User-* headers on success, 401 on failure. Requests
// without a token pass through as anonymous so device-keyed reads work.
func (h *AuthHandler) Verify(c *fiber.Ctx) error {
	authHeader := c.Get("Authorization")
	if authHeader == "" {
		return c.SendStatus(fiber.StatusOK)
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || h.verifier == nil {
		return c.SendStatus(fiber.StatusUnauthorized)
	}

	claims, err := h.verifier.Validate(parts[1])
	if err != nil {
		return c.SendStatus(fiber.StatusUnauthorized)
	}
	c.Set("X-User-Id", claims.UserID)
	c.Set("X-User-Email", claims.Email)
	c.Set("X-User-Name", claims.Name)
	return c.SendStatus(fiber.StatusOK)
}
