package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/org/healthgate/internal/idp"
	"github.com/org/healthgate/internal/storage"
	"github.com/org/healthgate/pkg/models"
)

// ErrInvalidTicket indicates a pending-MFA ticket failed verification.
var ErrInvalidTicket = errors.New("invalid mfa ticket")

const (
	ticketIssuer  = "healthgate"
	ticketPurpose = "mfa-pending"
	ticketTTL     = 10 * time.Minute
)

// Login statuses.
type LoginStatus string

const (
	LoginComplete               LoginStatus = "complete"
	LoginMFARequired            LoginStatus = "mfa_required"
	LoginPasswordChangeRequired LoginStatus = "password_change_required"
)

// LoginResult is the outcome of one pass through the login state machine.
type LoginResult struct {
	Status    LoginStatus
	Principal models.Principal
	// Tokens is set only on LoginComplete.
	Tokens *idp.TokenPair
	// PendingTicket is set only on LoginMFARequired: a short-lived signed
	// ticket the MFA endpoints exchange for tokens after a verified
	// challenge.
	PendingTicket          string
	PendingTicketExpiresAt time.Time
}

// SessionIssuer orchestrates login: verify credentials, resolve role,
// demand MFA for privileged roles, and mint session tokens.
type SessionIssuer struct {
	provider     idp.Provider
	store        storage.Store
	ticketSecret []byte
}

// NewSessionIssuer creates a SessionIssuer.
func NewSessionIssuer(provider idp.Provider, store storage.Store, ticketSecret []byte) *SessionIssuer {
	return &SessionIssuer{provider: provider, store: store, ticketSecret: ticketSecret}
}

// Login runs the credential check and branches on role and provider signals.
func (s *SessionIssuer) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	outcome, err := s.provider.PasswordAuth(ctx, email, password)
	if err != nil {
		return nil, err
	}

	if outcome.Status == idp.AuthNewPasswordRequired {
		return &LoginResult{
			Status:    LoginPasswordChangeRequired,
			Principal: models.Principal{Email: email},
		}, nil
	}

	principal := models.Principal{
		Subject: outcome.Subject,
		Email:   outcome.Email,
		Role:    ResolveRole(outcome.Groups, outcome.RoleClaim),
		Groups:  outcome.Groups,
	}

	// Refresh the directory row so pre-auth flows can resolve this
	// principal by email.
	rec := &models.PrincipalRecord{
		Subject:   principal.Subject,
		Email:     principal.Email,
		Role:      principal.Role,
		UpdatedAt: time.Now().UTC(),
	}
	if err := s.store.UpsertPrincipal(ctx, rec); err != nil {
		return nil, fmt.Errorf("updating principal directory: %w", err)
	}

	if RequiresMFA(principal.Role) {
		ticket, expiresAt, err := s.mintTicket(principal)
		if err != nil {
			return nil, err
		}
		return &LoginResult{
			Status:                 LoginMFARequired,
			Principal:              principal,
			PendingTicket:          ticket,
			PendingTicketExpiresAt: expiresAt,
		}, nil
	}

	return &LoginResult{
		Status:    LoginComplete,
		Principal: principal,
		Tokens:    outcome.Tokens,
	}, nil
}

// ChangePassword completes a forced password change and re-enters the login
// state machine with the new credentials' outcome.
func (s *SessionIssuer) ChangePassword(ctx context.Context, email, oldPassword, newPassword string) (*LoginResult, error) {
	outcome, err := s.provider.ChangePassword(ctx, email, oldPassword, newPassword)
	if err != nil {
		return nil, err
	}
	principal := models.Principal{
		Subject: outcome.Subject,
		Email:   outcome.Email,
		Role:    ResolveRole(outcome.Groups, outcome.RoleClaim),
		Groups:  outcome.Groups,
	}
	if RequiresMFA(principal.Role) {
		ticket, expiresAt, err := s.mintTicket(principal)
		if err != nil {
			return nil, err
		}
		return &LoginResult{
			Status:                 LoginMFARequired,
			Principal:              principal,
			PendingTicket:          ticket,
			PendingTicketExpiresAt: expiresAt,
		}, nil
	}
	return &LoginResult{Status: LoginComplete, Principal: principal, Tokens: outcome.Tokens}, nil
}

// IssueTokens mints a session for a principal whose MFA ceremony reached its
// verified terminal state.
func (s *SessionIssuer) IssueTokens(ctx context.Context, subject string) (*idp.TokenPair, error) {
	return s.provider.IssueTokens(ctx, subject)
}

type ticketClaims struct {
	jwt.RegisteredClaims
	Email   string `json:"email"`
	Role    string `json:"role"`
	Purpose string `json:"purpose"`
}

func (s *SessionIssuer) mintTicket(p models.Principal) (string, time.Time, error) {
	now := time.Now().UTC()
	expiresAt := now.Add(ticketTTL)
	claims := ticketClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    ticketIssuer,
			Subject:   p.Subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
		Email:   p.Email,
		Role:    p.Role.String(),
		Purpose: ticketPurpose,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.ticketSecret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("signing mfa ticket: %w", err)
	}
	return signed, expiresAt, nil
}

// VerifyPendingTicket validates an MFA ticket and reconstructs the pending
// principal. The ticket is stateless; single use of the session is enforced
// by the underlying challenge, not the ticket.
func (s *SessionIssuer) VerifyPendingTicket(ticket string) (*models.Principal, error) {
	claims := &ticketClaims{}
	token, err := jwt.ParseWithClaims(ticket, claims, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidTicket
		}
		return s.ticketSecret, nil
	}, jwt.WithIssuer(ticketIssuer), jwt.WithExpirationRequired())
	if err != nil || !token.Valid || claims.Purpose != ticketPurpose {
		return nil, ErrInvalidTicket
	}
	return &models.Principal{
		Subject: claims.Subject,
		Email:   claims.Email,
		Role:    models.ParseRole(claims.Role),
	}, nil
}
