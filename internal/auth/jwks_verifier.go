package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	"github.com/shattavibe/api/internal/apperr"
	"github.com/shattavibe/api/internal/config"
)

const discoveryTimeout = 15 * time.Second

// TokenVerifier turns a bearer token into the claims of a signed-in account.
type TokenVerifier interface {
	Validate(tokenString string) (*Claims, error)
	Close() error
}

// Claims of an identity provider token. UserID is the account id that keys
// the authenticated partition.
type Claims struct {
	UserID            string   `json:"sub"`
	Email             string   `json:"email,omitempty"`
	EmailVerified     bool     `json:"email_verified,omitempty"`
	Name              string   `json:"name,omitempty"`
	PreferredUsername string   `json:"preferred_username,omitempty"`
	Roles             []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// JWKSVerifier checks RS/ES signed tokens against the provider's published keys.
type JWKSVerifier struct {
	jwks     keyfunc.Keyfunc
	cancel   context.CancelFunc
	issuer   string
	audience string
}

// NewJWKSVerifier discovers the key set of the configured issuer. Keys are
// refreshed in the background until Close.
func NewJWKSVerifier(cfg *config.ZitadelConfig) (*JWKSVerifier, error) {
	if cfg.Issuer == "" {
		return nil, errors.New("zitadel issuer is required")
	}
	issuer := strings.TrimRight(cfg.Issuer, "/")

	discoverCtx, cancelDiscover := context.WithTimeout(context.Background(), discoveryTimeout)
	defer cancelDiscover()

	doc, err := discover(discoverCtx, http.DefaultClient, issuer)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrIdentityResolution, err)
	}

	// The refresh goroutine outlives discovery, so it gets its own context.
	ctx, cancel := context.WithCancel(context.Background())
	jwks, err := keyfunc.NewDefaultCtx(ctx, []string{doc.JWKSURI})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%w: jwks keyfunc: %v", apperr.ErrIdentityResolution, err)
	}

	return &JWKSVerifier{
		jwks:     jwks,
		cancel:   cancel,
		issuer:   doc.Issuer,
		audience: cfg.ClientID,
	}, nil
}

type discoveryDoc struct {
	Issuer  string `json:"issuer"`
	JWKSURI string `json:"jwks_uri"`
}

// discover reads the OIDC discovery document of issuer.
func discover(ctx context.Context, httpClient *http.Client, issuer string) (*discoveryDoc, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, issuer+"/.well-known/openid-configuration", nil)
	if err != nil {
		return nil, err
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("discovery request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("discovery endpoint returned status %d", resp.StatusCode)
	}

	var doc discoveryDoc
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode discovery document: %w", err)
	}
	if doc.JWKSURI == "" {
		return nil, errors.New("jwks_uri missing from discovery document")
	}
	if doc.Issuer == "" {
		doc.Issuer = issuer
	}
	return &doc, nil
}

func (v *JWKSVerifier) Validate(tokenString string) (*Claims, error) {
	var claims Claims
	token, err := jwt.ParseWithClaims(tokenString, &claims, v.jwks.Keyfunc,
		jwt.WithIssuer(v.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	if !token.Valid || claims.UserID == "" {
		return nil, errors.New("token has no subject")
	}

	if v.audience != "" {
		aud, err := claims.GetAudience()
		if err != nil || !slices.Contains(aud, v.audience) {
			return nil, errors.New("token audience mismatch")
		}
	}
	return &claims, nil
}

// Close stops the background key refresh.
func (v *JWKSVerifier) Close() error {
	v.cancel()
	return nil
}
