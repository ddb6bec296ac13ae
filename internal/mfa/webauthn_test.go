package mfa

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-webauthn/webauthn/webauthn"

	"github.com/org/healthgate/internal/storage"
	"github.com/org/healthgate/pkg/models"
)

// ceremonyStore is an in-memory stand-in for the WebAuthn slice of the store.
type ceremonyStore struct {
	storage.Store
	principals map[string]*models.PrincipalRecord // by email
	challenges map[string]*models.WebAuthnChallenge
	creds      []*models.WebAuthnCredential
}

func newCeremonyStore() *ceremonyStore {
	return &ceremonyStore{
		principals: make(map[string]*models.PrincipalRecord),
		challenges: make(map[string]*models.WebAuthnChallenge),
	}
}

func (s *ceremonyStore) GetPrincipalByEmail(ctx context.Context, email string) (*models.PrincipalRecord, error) {
	rec, ok := s.principals[email]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return rec, nil
}

func (s *ceremonyStore) ReplaceWebAuthnChallenge(ctx context.Context, ch *models.WebAuthnChallenge) error {
	for id, existing := range s.challenges {
		if existing.PrincipalID == ch.PrincipalID && existing.Purpose == ch.Purpose {
			delete(s.challenges, id)
		}
	}
	s.challenges[ch.ID] = ch
	return nil
}

func (s *ceremonyStore) GetWebAuthnChallenge(ctx context.Context, principalID, purpose string) (*models.WebAuthnChallenge, error) {
	for _, ch := range s.challenges {
		if ch.PrincipalID == principalID && ch.Purpose == purpose {
			return ch, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (s *ceremonyStore) DeleteWebAuthnChallenge(ctx context.Context, challengeID string) error {
	delete(s.challenges, challengeID)
	return nil
}

func (s *ceremonyStore) InsertCredential(ctx context.Context, cred *models.WebAuthnCredential) error {
	s.creds = append(s.creds, cred)
	return nil
}

func (s *ceremonyStore) ListCredentials(ctx context.Context, principalID string, activeOnly bool) ([]*models.WebAuthnCredential, error) {
	var out []*models.WebAuthnCredential
	for _, c := range s.creds {
		if c.PrincipalID != principalID {
			continue
		}
		if activeOnly && !c.Active {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (s *ceremonyStore) UpdateCredentialCounter(ctx context.Context, credentialID string, signCount uint32, usedAt time.Time) error {
	for _, c := range s.creds {
		if c.ID == credentialID {
			c.SignCount = signCount
			c.LastUsedAt = &usedAt
			return nil
		}
	}
	return storage.ErrNotFound
}

func (s *ceremonyStore) DeactivateCredential(ctx context.Context, principalID, credentialID string) error {
	for _, c := range s.creds {
		if c.ID == credentialID && c.PrincipalID == principalID {
			c.Active = false
			return nil
		}
	}
	return storage.ErrNotFound
}

func newTestWebAuthn(t *testing.T, store storage.Store) *WebAuthnService {
	t.Helper()
	svc, err := NewWebAuthnService(store, WebAuthnConfig{
		RPDisplayName: "HealthGate Test",
		RPID:          "localhost",
		RPOrigins:     []string{"http://localhost:3000"},
	})
	if err != nil {
		t.Fatalf("NewWebAuthnService failed: %v", err)
	}
	return svc
}

func TestBeginRegistrationStoresChallenge(t *testing.T) {
	store := newCeremonyStore()
	svc := newTestWebAuthn(t, store)
	principal := &models.Principal{Subject: "doc-1", Email: "doc@example.org", Role: models.RoleDoctor}

	creation, err := svc.BeginRegistration(context.Background(), principal)
	if err != nil {
		t.Fatalf("BeginRegistration failed: %v", err)
	}
	if len(creation.Response.Challenge) == 0 {
		t.Error("expected a non-empty challenge")
	}

	ch, err := store.GetWebAuthnChallenge(context.Background(), "doc-1", models.WebAuthnPurposeRegistration)
	if err != nil {
		t.Fatalf("challenge not persisted: %v", err)
	}
	if len(ch.SessionData) == 0 {
		t.Error("expected serialized session data")
	}

	// A second begin replaces the first challenge.
	if _, err := svc.BeginRegistration(context.Background(), principal); err != nil {
		t.Fatalf("second BeginRegistration failed: %v", err)
	}
	if len(store.challenges) != 1 {
		t.Errorf("expected 1 stored challenge, got %d", len(store.challenges))
	}
}

func TestBeginLoginNoCredentials(t *testing.T) {
	store := newCeremonyStore()
	svc := newTestWebAuthn(t, store)
	ctx := context.Background()

	// Unknown email and known email without credentials both fail the same
	// way, so the response does not reveal which addresses exist.
	if _, err := svc.BeginLogin(ctx, "nobody@example.org"); !errors.Is(err, ErrNoCredentials) {
		t.Errorf("unknown email: err = %v, want ErrNoCredentials", err)
	}

	store.principals["doc@example.org"] = &models.PrincipalRecord{Subject: "doc-1", Email: "doc@example.org"}
	if _, err := svc.BeginLogin(ctx, "doc@example.org"); !errors.Is(err, ErrNoCredentials) {
		t.Errorf("no credentials: err = %v, want ErrNoCredentials", err)
	}
}

func TestBeginLoginWithCredential(t *testing.T) {
	store := newCeremonyStore()
	svc := newTestWebAuthn(t, store)
	ctx := context.Background()

	store.principals["doc@example.org"] = &models.PrincipalRecord{Subject: "doc-1", Email: "doc@example.org"}
	store.creds = append(store.creds, &models.WebAuthnCredential{
		ID:           "cred-1",
		PrincipalID:  "doc-1",
		CredentialID: []byte("credential-id-bytes"),
		PublicKey:    []byte{0x01},
		Active:       true,
	})

	assertion, err := svc.BeginLogin(ctx, "doc@example.org")
	if err != nil {
		t.Fatalf("BeginLogin failed: %v", err)
	}
	if len(assertion.Response.AllowedCredentials) != 1 {
		t.Errorf("allowed credentials = %d, want 1", len(assertion.Response.AllowedCredentials))
	}
	if _, err := store.GetWebAuthnChallenge(ctx, "doc-1", models.WebAuthnPurposeLogin); err != nil {
		t.Errorf("login challenge not persisted: %v", err)
	}
}

func TestLoadChallengeExpiry(t *testing.T) {
	store := newCeremonyStore()
	svc := newTestWebAuthn(t, store)
	ctx := context.Background()
	principal := &models.Principal{Subject: "doc-1", Email: "doc@example.org"}

	if _, err := svc.BeginRegistration(ctx, principal); err != nil {
		t.Fatalf("BeginRegistration failed: %v", err)
	}
	for _, ch := range store.challenges {
		ch.ExpiresAt = time.Now().Add(-time.Second)
	}

	if _, _, err := svc.loadChallenge(ctx, "doc-1", models.WebAuthnPurposeRegistration); !errors.Is(err, ErrChallengeExpired) {
		t.Errorf("err = %v, want ErrChallengeExpired", err)
	}
	// Expired challenges are dropped on load.
	if len(store.challenges) != 0 {
		t.Errorf("expected expired challenge to be deleted, %d remain", len(store.challenges))
	}
}

func TestRemoveCredentialSoftDeletes(t *testing.T) {
	store := newCeremonyStore()
	svc := newTestWebAuthn(t, store)
	ctx := context.Background()

	store.creds = append(store.creds, &models.WebAuthnCredential{
		ID: "cred-1", PrincipalID: "doc-1", Active: true,
	})
	if err := svc.RemoveCredential(ctx, "doc-1", "cred-1"); err != nil {
		t.Fatalf("RemoveCredential failed: %v", err)
	}

	active, _ := svc.ListCredentials(ctx, "doc-1")
	if len(active) != 0 {
		t.Errorf("expected no active credentials, got %d", len(active))
	}
	// The row itself survives.
	all, _ := store.ListCredentials(ctx, "doc-1", false)
	if len(all) != 1 {
		t.Errorf("expected row to survive, got %d", len(all))
	}

	// Removing someone else's credential fails.
	store.creds[0].Active = true
	if err := svc.RemoveCredential(ctx, "other", "cred-1"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestSettleAssertionAdvancesCounter(t *testing.T) {
	store := newCeremonyStore()
	svc := newTestWebAuthn(t, store)
	ctx := context.Background()

	stored := &models.WebAuthnCredential{
		ID:           "cred-1",
		PrincipalID:  "doc-1",
		CredentialID: []byte("credential-id-bytes"),
		SignCount:    4,
		Active:       true,
	}
	store.creds = append(store.creds, stored)

	asserted := &webauthn.Credential{ID: []byte("credential-id-bytes")}
	asserted.Authenticator.SignCount = 5

	if err := svc.settleAssertion(ctx, store.creds, asserted); err != nil {
		t.Fatalf("settleAssertion failed: %v", err)
	}
	if stored.SignCount != 5 {
		t.Errorf("sign count = %d, want 5", stored.SignCount)
	}
	if stored.LastUsedAt == nil {
		t.Error("last used timestamp not recorded")
	}
}

func TestSettleAssertionCloneWarningCompromisesCredential(t *testing.T) {
	store := newCeremonyStore()
	svc := newTestWebAuthn(t, store)
	ctx := context.Background()

	stored := &models.WebAuthnCredential{
		ID:           "cred-1",
		PrincipalID:  "doc-1",
		CredentialID: []byte("credential-id-bytes"),
		SignCount:    9,
		Active:       true,
	}
	store.creds = append(store.creds, stored)

	// A replayed counter makes the library raise the clone warning.
	asserted := &webauthn.Credential{ID: []byte("credential-id-bytes")}
	asserted.Authenticator.SignCount = 9
	asserted.Authenticator.CloneWarning = true

	err := svc.settleAssertion(ctx, store.creds, asserted)
	if !errors.Is(err, ErrCredentialCompromised) {
		t.Fatalf("err = %v, want ErrCredentialCompromised", err)
	}
	if stored.SignCount != 9 {
		t.Errorf("stored counter moved to %d, want 9 untouched", stored.SignCount)
	}
	if stored.Active {
		t.Error("compromised credential still active")
	}
}
