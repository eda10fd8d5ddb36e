package identity

import (
	"context"

	"go.uber.org/zap"

	"github.com/shattavibe/api/internal/model"
)

// DeviceIDSource is the part of DeviceStore the resolver needs.
type DeviceIDSource interface {
	DeviceID() string
}

// Resolver answers "who is acting right now". It holds no cached identity:
// every call asks the provider again.
type Resolver struct {
	provider Provider
	devices  DeviceIDSource
	logger   *zap.Logger
}

func NewResolver(provider Provider, devices DeviceIDSource, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		provider: provider,
		devices:  devices,
		logger:   logger,
	}
}

// Current resolves the live identity. Provider failures fall back to the
// anonymous, quota-limited identity.
func (r *Resolver) Current(ctx context.Context) model.Identity {
	if r.provider != nil {
		accountID, err := r.provider.CurrentAccount(ctx)
		if err != nil {
			r.logger.Warn("identity provider unavailable, resolving as anonymous", zap.Error(err))
		} else if accountID != "" {
			return model.Authenticated(accountID)
		}
	}
	return r.Anonymous()
}

// Anonymous returns the device identity regardless of any session.
func (r *Resolver) Anonymous() model.Identity {
	return model.Anonymous(r.devices.DeviceID())
}
