package models

import "time"

// OTPChallenge is a pending one-time-password proof request.
// At most one unverified challenge exists per principal at a time; a new
// init replaces any prior unverified one.
type OTPChallenge struct {
	ID          string
	PrincipalID string
	Code        string
	CreatedAt   time.Time
	ExpiresAt   time.Time
	Attempts    int
	MaxAttempts int
	Verified    bool
}

// IsExpired returns true if the challenge TTL has elapsed.
func (c *OTPChallenge) IsExpired() bool {
	return time.Now().After(c.ExpiresAt)
}

// WebAuthn challenge purposes.
const (
	WebAuthnPurposeRegistration = "registration"
	WebAuthnPurposeLogin        = "login"
)

// WebAuthnChallenge holds the serialized ceremony session between the begin
// and finish steps. Single use: deleted on finish, replaced by a new begin.
type WebAuthnChallenge struct {
	ID          string
	PrincipalID string
	Purpose     string
	// SessionData is the library session state (challenge bytes, allowed
	// credential IDs) serialized as JSON.
	SessionData []byte
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// IsExpired returns true if the ceremony window has elapsed.
func (c *WebAuthnChallenge) IsExpired() bool {
	return time.Now().After(c.ExpiresAt)
}

// WebAuthnCredential is a registered authenticator bound to a principal.
// Rows are soft-deleted (Active=false) to preserve audit continuity.
type WebAuthnCredential struct {
	ID           string
	PrincipalID  string
	CredentialID []byte
	PublicKey    []byte
	// SignCount is monotonically non-decreasing across successful
	// authentications. A non-increasing counter signals possible
	// credential cloning and the assertion is rejected.
	SignCount  uint32
	Label      string
	Active     bool
	CreatedAt  time.Time
	LastUsedAt *time.Time
}
