// Package idp is the glue to the external identity provider: password
// verification, forced-password-change signaling, and session-token
// issuance. healthgate never issues provider tokens itself.
package idp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ErrInvalidCredentials indicates the provider rejected the email/password
// pair.
var ErrInvalidCredentials = errors.New("invalid credentials")

// Outcome statuses.
const (
	AuthOK = "ok"
	// AuthNewPasswordRequired signals the provider demands a one-time
	// password reset before a session can be issued.
	AuthNewPasswordRequired = "new_password_required"
)

// TokenPair is the session-token set minted by the provider.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	IDToken      string `json:"id_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
}

// Outcome is the result of a credential check against the provider.
type Outcome struct {
	Status    string     `json:"status"`
	Subject   string     `json:"subject"`
	Email     string     `json:"email"`
	Groups    []string   `json:"groups"`
	RoleClaim string     `json:"role"`
	Tokens    *TokenPair `json:"tokens"`
}

// Provider is what healthgate requires of the identity provider.
type Provider interface {
	// PasswordAuth verifies email/password. A rejection is
	// ErrInvalidCredentials; a "password change required" signal comes
	// back as an Outcome with AuthNewPasswordRequired and no tokens.
	PasswordAuth(ctx context.Context, email, password string) (*Outcome, error)
	// ChangePassword completes a forced password change and returns a
	// normal login outcome.
	ChangePassword(ctx context.Context, email, oldPassword, newPassword string) (*Outcome, error)
	// IssueTokens mints a session-token set for an already-proven subject.
	// Used after a successful MFA ceremony instead of replaying passwords.
	IssueTokens(ctx context.Context, subject string) (*TokenPair, error)
}

// Config configures the HTTP provider client.
type Config struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
}

// HTTPProvider talks to the identity provider's admin API.
type HTTPProvider struct {
	cfg    Config
	client *http.Client
}

// NewHTTPProvider creates an HTTPProvider.
func NewHTTPProvider(cfg Config) *HTTPProvider {
	return &HTTPProvider{
		cfg:    cfg,
		client: &http.Client{Timeout: 15 * time.Second},
	}
}

func (p *HTTPProvider) PasswordAuth(ctx context.Context, email, password string) (*Outcome, error) {
	var out Outcome
	err := p.post(ctx, "/auth/password", map[string]string{
		"client_id": p.cfg.ClientID,
		"email":     email,
		"password":  password,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (p *HTTPProvider) ChangePassword(ctx context.Context, email, oldPassword, newPassword string) (*Outcome, error) {
	var out Outcome
	err := p.post(ctx, "/auth/change-password", map[string]string{
		"client_id":    p.cfg.ClientID,
		"email":        email,
		"old_password": oldPassword,
		"new_password": newPassword,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (p *HTTPProvider) IssueTokens(ctx context.Context, subject string) (*TokenPair, error) {
	var pair TokenPair
	err := p.post(ctx, "/auth/token-exchange", map[string]string{
		"client_id":     p.cfg.ClientID,
		"client_secret": p.cfg.ClientSecret,
		"subject":       subject,
	}, &pair)
	if err != nil {
		return nil, err
	}
	return &pair, nil
}

func (p *HTTPProvider) post(ctx context.Context, path string, body any, dst any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("identity provider unreachable: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		io.Copy(io.Discard, resp.Body) //nolint:errcheck
		return ErrInvalidCredentials
	case resp.StatusCode >= 400:
		return fmt.Errorf("identity provider returned status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(dst)
}
