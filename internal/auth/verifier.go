package auth

import (
	"go.uber.org/zap"

	"github.com/shattavibe/api/internal/config"
)

// NewVerifier accepts identity provider tokens and, when a secret is
// configured, locally signed HMAC tokens. An unreachable provider is logged
// and skipped.
func NewVerifier(cfg *config.Config, logger *zap.Logger) TokenVerifier {
	if logger == nil {
		logger = zap.NewNop()
	}

	var verifiers []TokenVerifier
	if cfg.Zitadel.Issuer != "" {
		jwks, err := NewJWKSVerifier(&cfg.Zitadel)
		if err != nil {
			logger.Warn("JWKS verifier not initialized", zap.Error(err))
		} else {
			verifiers = append(verifiers, jwks)
		}
	}
	if cfg.JWT.Secret != "" {
		verifiers = append(verifiers, NewLegacyVerifier(cfg.JWT.Secret))
	}
	if len(verifiers) == 0 {
		logger.Warn("no token verifier configured, only anonymous access is possible")
	}
	return NewChainVerifier(verifiers...)
}
