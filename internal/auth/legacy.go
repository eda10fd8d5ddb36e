package auth

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// LegacyClaims represents legacy JWT claims (HMAC-signed tokens)
type LegacyClaims struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
	jwt.RegisteredClaims
}

// ValidateLegacyToken validates a token using HMAC signing
func ValidateLegacyToken(tokenString, secret string) (*LegacyClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &LegacyClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(secret), nil
	})

	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*LegacyClaims)
	if !ok || !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}

	return claims, nil
}

// SignLegacyToken issues an HMAC token for userID (dev and tests).
func SignLegacyToken(secret, userID, email string) (string, error) {
	if secret == "" {
		return "", errors.New("jwt secret is not configured")
	}
	claims := LegacyClaims{
		UserID: userID,
		Email:  email,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer: "shattavibe-api",
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// LegacyVerifier implements TokenVerifier with a shared HMAC secret.
type LegacyVerifier struct {
	secret string
}

func NewLegacyVerifier(secret string) *LegacyVerifier {
	return &LegacyVerifier{secret: secret}
}

func (v *LegacyVerifier) Validate(tokenString string) (*Claims, error) {
	lc, err := ValidateLegacyToken(tokenString, v.secret)
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	if lc.UserID == "" {
		return nil, fmt.Errorf("token has no user id")
	}
	return &Claims{
		UserID:           lc.UserID,
		Email:            lc.Email,
		RegisteredClaims: lc.RegisteredClaims,
	}, nil
}

func (v *LegacyVerifier) Close() error {
	return nil
}

// ChainVerifier tries each verifier in order and returns the first success.
type ChainVerifier struct {
	verifiers []TokenVerifier
}

// NewChainVerifier skips nil verifiers. With no verifier left every token is rejected.
func NewChainVerifier(verifiers ...TokenVerifier) *ChainVerifier {
	var vs []TokenVerifier
	for _, v := range verifiers {
		if v != nil {
			vs = append(vs, v)
		}
	}
	return &ChainVerifier{verifiers: vs}
}

func (c *ChainVerifier) Validate(tokenString string) (*Claims, error) {
	if len(c.verifiers) == 0 {
		return nil, errors.New("authentication not configured")
	}
	var errs []error
	for _, v := range c.verifiers {
		claims, err := v.Validate(tokenString)
		if err == nil {
			return claims, nil
		}
		errs = append(errs, err)
	}
	return nil, errors.Join(errs...)
}

func (c *ChainVerifier) Close() error {
	var errs []error
	for _, v := range c.verifiers {
		errs = append(errs, v.Close())
	}
	return errors.Join(errs...)
}
