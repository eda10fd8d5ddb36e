package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/shattavibe/api/internal/auth"
	"github.com/shattavibe/api/internal/model"
	"github.com/shattavibe/api/pkg/response"
)

// DeviceIDHeader carries the anonymous device identifier.
const DeviceIDHeader = "X-Device-Id"

const identityKey = "identity"

// IdentityMiddleware resolves the caller into an authenticated account or an
// anonymous device.
type IdentityMiddleware struct {
	verifier auth.TokenVerifier
	gateway  bool
}

// NewIdentityMiddleware verifies bearer tokens with verifier. In gateway mode
// the account comes from the X-User-Id header set by the ForwardAuth proxy
// and no token is checked here.
func NewIdentityMiddleware(verifier auth.TokenVerifier, gateway bool) *IdentityMiddleware {
	return &IdentityMiddleware{
		verifier: verifier,
		gateway:  gateway,
	}
}

// Resolve stores the caller identity in the request context. A request with
// an invalid bearer token is rejected rather than downgraded to anonymous.
func (m *IdentityMiddleware) Resolve() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if m.gateway {
			if userID := c.Get("X-User-Id"); userID != "" {
				return m.next(c, model.Authenticated(userID), c.Get("X-User-Email"))
			}
		}

		if header := c.Get("Authorization"); header != "" {
			parts := strings.SplitN(header, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
				return response.Unauthorized(c, "Invalid authorization header format")
			}
			if m.verifier == nil {
				return response.Unauthorized(c, "Authentication not configured")
			}
			claims, err := m.verifier.Validate(parts[1])
			if err != nil {
				return response.Unauthorized(c, "Invalid or expired token")
			}
			return m.next(c, model.Authenticated(claims.UserID), claims.Email)
		}

		deviceID := strings.TrimSpace(c.Get(DeviceIDHeader))
		if deviceID == "" {
			return response.Unauthorized(c, "Missing authorization or device id")
		}
		if _, err := uuid.Parse(deviceID); err != nil {
			return response.ValidationError(c, "Device id must be a UUID", nil)
		}
		return m.next(c, model.Anonymous(deviceID), "")
	}
}

func (m *IdentityMiddleware) next(c *fiber.Ctx, id model.Identity, email string) error {
	c.Locals(identityKey, id)
	if id.IsAuthenticated() {
		c.Locals("userId", id.AccountID)
		c.Locals("email", email)
	}
	return c.Next()
}

// GetIdentity returns the identity resolved for the request, or the zero value.
func GetIdentity(c *fiber.Ctx) model.Identity {
	if id, ok := c.Locals(identityKey).(model.Identity); ok {
		return id
	}
	return model.Identity{}
}

// GetUserID extracts the account id of an authenticated caller.
func GetUserID(c *fiber.Ctx) string {
	if userID, ok := c.Locals("userId").(string); ok {
		return userID
	}
	return ""
}
