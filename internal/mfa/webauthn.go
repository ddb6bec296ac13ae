package mfa

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/org/healthgate/internal/storage"
	"github.com/org/healthgate/pkg/models"
)

var (
	// ErrNoCredentials means the principal has no active registered
	// authenticators.
	ErrNoCredentials = errors.New("no registered credentials")
	// ErrCredentialCompromised is returned when an assertion reports a
	// signature counter that did not increase. A cloned authenticator can
	// replay an old counter, so the assertion is rejected outright.
	ErrCredentialCompromised = errors.New("credential compromised")
)

const webauthnChallengeTTL = 5 * time.Minute

// WebAuthnConfig holds relying-party settings.
type WebAuthnConfig struct {
	RPDisplayName string
	RPID          string
	RPOrigins     []string
}

// WebAuthnService runs registration and authentication ceremonies over the
// backing store.
type WebAuthnService struct {
	store storage.Store
	wa    *webauthn.WebAuthn
}

// NewWebAuthnService creates a WebAuthnService.
func NewWebAuthnService(store storage.Store, cfg WebAuthnConfig) (*WebAuthnService, error) {
	wa, err := webauthn.New(&webauthn.Config{
		RPDisplayName: cfg.RPDisplayName,
		RPID:          cfg.RPID,
		RPOrigins:     cfg.RPOrigins,
	})
	if err != nil {
		return nil, fmt.Errorf("configuring webauthn: %w", err)
	}
	return &WebAuthnService{store: store, wa: wa}, nil
}

// waUser adapts a principal record and its credentials to the library's
// user model.
type waUser struct {
	subject string
	email   string
	creds   []*models.WebAuthnCredential
}

func (u *waUser) WebAuthnID() []byte          { return []byte(u.subject) }
func (u *waUser) WebAuthnName() string        { return u.email }
func (u *waUser) WebAuthnDisplayName() string { return u.email }

func (u *waUser) WebAuthnCredentials() []webauthn.Credential {
	out := make([]webauthn.Credential, 0, len(u.creds))
	for _, c := range u.creds {
		out = append(out, webauthn.Credential{
			ID:        c.CredentialID,
			PublicKey: c.PublicKey,
			Authenticator: webauthn.Authenticator{
				SignCount: c.SignCount,
			},
		})
	}
	return out
}

// BeginRegistration starts a registration ceremony for an authenticated
// principal, excluding already-registered credentials and replacing any
// prior registration challenge.
func (s *WebAuthnService) BeginRegistration(ctx context.Context, principal *models.Principal) (*protocol.CredentialCreation, error) {
	creds, err := s.store.ListCredentials(ctx, principal.Subject, true)
	if err != nil {
		return nil, fmt.Errorf("listing credentials: %w", err)
	}
	user := &waUser{subject: principal.Subject, email: principal.Email, creds: creds}

	exclusions := make([]protocol.CredentialDescriptor, 0, len(creds))
	for _, c := range creds {
		exclusions = append(exclusions, protocol.CredentialDescriptor{
			Type:         protocol.PublicKeyCredentialType,
			CredentialID: c.CredentialID,
		})
	}

	creation, session, err := s.wa.BeginRegistration(user, webauthn.WithExclusions(exclusions))
	if err != nil {
		return nil, fmt.Errorf("beginning registration: %w", err)
	}
	if err := s.saveChallenge(ctx, principal.Subject, models.WebAuthnPurposeRegistration, session); err != nil {
		return nil, err
	}
	return creation, nil
}

// FinishRegistration verifies the attestation response and persists the new
// credential. The challenge is single use and deleted regardless of
// attestation outcome.
func (s *WebAuthnService) FinishRegistration(ctx context.Context, principal *models.Principal, label string, r *http.Request) (*models.WebAuthnCredential, error) {
	session, challengeID, err := s.loadChallenge(ctx, principal.Subject, models.WebAuthnPurposeRegistration)
	if err != nil {
		return nil, err
	}
	defer s.dropChallenge(ctx, challengeID)

	user := &waUser{subject: principal.Subject, email: principal.Email}
	cred, err := s.wa.FinishRegistration(user, *session, r)
	if err != nil {
		return nil, fmt.Errorf("verifying attestation: %w", err)
	}

	stored := &models.WebAuthnCredential{
		ID:           uuid.NewString(),
		PrincipalID:  principal.Subject,
		CredentialID: cred.ID,
		PublicKey:    cred.PublicKey,
		SignCount:    cred.Authenticator.SignCount,
		Label:        label,
		Active:       true,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.store.InsertCredential(ctx, stored); err != nil {
		return nil, fmt.Errorf("persisting credential: %w", err)
	}
	return stored, nil
}

// BeginLogin starts an authentication ceremony for a principal identified
// by email. This endpoint is pre-auth by necessity; it fails if the email is
// unknown or has no active credentials.
func (s *WebAuthnService) BeginLogin(ctx context.Context, email string) (*protocol.CredentialAssertion, error) {
	rec, err := s.store.GetPrincipalByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrNoCredentials
		}
		return nil, err
	}
	creds, err := s.store.ListCredentials(ctx, rec.Subject, true)
	if err != nil {
		return nil, fmt.Errorf("listing credentials: %w", err)
	}
	if len(creds) == 0 {
		return nil, ErrNoCredentials
	}

	user := &waUser{subject: rec.Subject, email: rec.Email, creds: creds}
	assertion, session, err := s.wa.BeginLogin(user)
	if err != nil {
		return nil, fmt.Errorf("beginning login: %w", err)
	}
	if err := s.saveChallenge(ctx, rec.Subject, models.WebAuthnPurposeLogin, session); err != nil {
		return nil, err
	}
	return assertion, nil
}

// FinishLogin verifies the assertion against the stored challenge and the
// credential's public key and counter. A counter that did not increase is a
// cloning signal: the credential is deactivated, its stored counter is left
// untouched, and the login fails with ErrCredentialCompromised. On success
// the stored counter is advanced to the assertion's reported value. The
// challenge is deleted either way.
func (s *WebAuthnService) FinishLogin(ctx context.Context, email string, r *http.Request) (*models.PrincipalRecord, error) {
	rec, err := s.store.GetPrincipalByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrNoCredentials
		}
		return nil, err
	}
	creds, err := s.store.ListCredentials(ctx, rec.Subject, true)
	if err != nil {
		return nil, fmt.Errorf("listing credentials: %w", err)
	}

	session, challengeID, err := s.loadChallenge(ctx, rec.Subject, models.WebAuthnPurposeLogin)
	if err != nil {
		return nil, err
	}
	defer s.dropChallenge(ctx, challengeID)

	user := &waUser{subject: rec.Subject, email: rec.Email, creds: creds}
	cred, err := s.wa.FinishLogin(user, *session, r)
	if err != nil {
		return nil, fmt.Errorf("verifying assertion: %w", err)
	}
	if err := s.settleAssertion(ctx, creds, cred); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if err := s.store.SetLastVerified(ctx, rec.Subject, now); err != nil {
		log.Warn().Err(err).Str("principal", rec.Subject).Msg("recording mfa timestamp failed")
	}
	return rec, nil
}

// settleAssertion applies the verified assertion's counter to the stored
// credential. A clone warning (authenticator counter did not advance) means
// the key material may exist in two places: the credential is deactivated,
// its stored counter is left untouched, and the login fails with
// ErrCredentialCompromised.
func (s *WebAuthnService) settleAssertion(ctx context.Context, creds []*models.WebAuthnCredential, cred *webauthn.Credential) error {
	var matched *models.WebAuthnCredential
	for _, c := range creds {
		if string(c.CredentialID) == string(cred.ID) {
			matched = c
			break
		}
	}
	if cred.Authenticator.CloneWarning {
		if matched != nil {
			if err := s.store.DeactivateCredential(ctx, matched.PrincipalID, matched.ID); err != nil {
				log.Warn().Err(err).Str("credential", matched.ID).Msg("deactivating cloned credential failed")
			}
		}
		return ErrCredentialCompromised
	}
	if matched != nil {
		if err := s.store.UpdateCredentialCounter(ctx, matched.ID, cred.Authenticator.SignCount, time.Now().UTC()); err != nil {
			return fmt.Errorf("advancing credential counter: %w", err)
		}
	}
	return nil
}

// RemoveCredential flags a credential inactive. Rows are never hard-deleted
// so the audit trail stays coherent.
func (s *WebAuthnService) RemoveCredential(ctx context.Context, principalID, credentialID string) error {
	return s.store.DeactivateCredential(ctx, principalID, credentialID)
}

// ListCredentials returns the principal's active credentials.
func (s *WebAuthnService) ListCredentials(ctx context.Context, principalID string) ([]*models.WebAuthnCredential, error) {
	return s.store.ListCredentials(ctx, principalID, true)
}

func (s *WebAuthnService) saveChallenge(ctx context.Context, principalID, purpose string, session *webauthn.SessionData) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("serializing session: %w", err)
	}
	now := time.Now().UTC()
	ch := &models.WebAuthnChallenge{
		ID:          uuid.NewString(),
		PrincipalID: principalID,
		Purpose:     purpose,
		SessionData: data,
		CreatedAt:   now,
		ExpiresAt:   now.Add(webauthnChallengeTTL),
	}
	if err := s.store.ReplaceWebAuthnChallenge(ctx, ch); err != nil {
		return fmt.Errorf("storing webauthn challenge: %w", err)
	}
	return nil
}

func (s *WebAuthnService) loadChallenge(ctx context.Context, principalID, purpose string) (*webauthn.SessionData, string, error) {
	ch, err := s.store.GetWebAuthnChallenge(ctx, principalID, purpose)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, "", ErrChallengeExpired
		}
		return nil, "", err
	}
	if ch.IsExpired() {
		s.dropChallenge(ctx, ch.ID)
		return nil, "", ErrChallengeExpired
	}
	var session webauthn.SessionData
	if err := json.Unmarshal(ch.SessionData, &session); err != nil {
		return nil, "", fmt.Errorf("deserializing session: %w", err)
	}
	return &session, ch.ID, nil
}

func (s *WebAuthnService) dropChallenge(ctx context.Context, challengeID string) {
	if err := s.store.DeleteWebAuthnChallenge(ctx, challengeID); err != nil {
		log.Warn().Err(err).Str("challenge", challengeID).Msg("deleting webauthn challenge failed")
	}
}
