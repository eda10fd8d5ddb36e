package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/afero"

	"github.com/shattavibe/api/internal/auth"
	"github.com/shattavibe/api/internal/event"
)

// SessionFile is the file name holding the signed-in account's token.
const SessionFile = "session.json"

// Provider is the identity provider as seen by the core: it reports the
// signed-in account, if any, and emits an event on sign-in or sign-out.
type Provider interface {
	// CurrentAccount returns the account id of the live session, or "" when signed out.
	CurrentAccount(ctx context.Context) (string, error)
	// Events subscribes to sign-in/sign-out notifications. The returned func
	// unsubscribes and closes the channel.
	Events() (<-chan struct{}, func())
}

type sessionFile struct {
	AccessToken string    `json:"accessToken"`
	SignedInAt  time.Time `json:"signedInAt"`
}

// SessionProvider keeps the bearer token in the data directory and verifies
// it on every call, so a sign-out from another process is seen immediately.
type SessionProvider struct {
	fs       afero.Fs
	path     string
	verifier auth.TokenVerifier
	bus      *event.Bus
}

func NewSessionProvider(fs afero.Fs, dataDir string, verifier auth.TokenVerifier) *SessionProvider {
	return &SessionProvider{
		fs:       fs,
		path:     filepath.Join(dataDir, SessionFile),
		verifier: verifier,
		bus:      event.NewBus(),
	}
}

// Path returns the location of the session file.
func (p *SessionProvider) Path() string {
	return p.path
}

func (p *SessionProvider) CurrentAccount(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	data, err := afero.ReadFile(p.fs, p.path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read session: %w", err)
	}

	var sess sessionFile
	if err := json.Unmarshal(data, &sess); err != nil {
		return "", fmt.Errorf("failed to decode session: %w", err)
	}
	if sess.AccessToken == "" {
		return "", nil
	}
	if p.verifier == nil {
		return "", fmt.Errorf("no token verifier configured")
	}

	claims, err := p.verifier.Validate(sess.AccessToken)
	if err != nil {
		// An expired or revoked token is a signed-out session, not a provider failure.
		return "", nil
	}
	return claims.UserID, nil
}

// SignIn verifies token, stores it and notifies subscribers.
func (p *SessionProvider) SignIn(token string) (string, error) {
	if p.verifier == nil {
		return "", fmt.Errorf("no token verifier configured")
	}
	claims, err := p.verifier.Validate(token)
	if err != nil {
		return "", fmt.Errorf("invalid token: %w", err)
	}

	data, err := json.Marshal(sessionFile{AccessToken: token, SignedInAt: time.Now().UTC()})
	if err != nil {
		return "", err
	}
	if err := p.fs.MkdirAll(filepath.Dir(p.path), 0o700); err != nil {
		return "", fmt.Errorf("failed to create data dir: %w", err)
	}
	if err := afero.WriteFile(p.fs, p.path, data, 0o600); err != nil {
		return "", fmt.Errorf("failed to write session: %w", err)
	}

	p.publish()
	return claims.UserID, nil
}

// SignOut removes the stored token and notifies subscribers.
func (p *SessionProvider) SignOut() error {
	if err := p.fs.Remove(p.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove session: %w", err)
	}
	p.publish()
	return nil
}

func (p *SessionProvider) Events() (<-chan struct{}, func()) {
	return p.bus.Subscribe()
}

func (p *SessionProvider) publish() {
	p.bus.Publish()
}
