// Package mfa implements the one-time-password and WebAuthn challenge state
// machines that gate privileged sessions.
package mfa

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/org/healthgate/internal/mail"
	"github.com/org/healthgate/internal/storage"
	"github.com/org/healthgate/pkg/models"
)

var (
	// ErrChallengeExpired covers both a missing and a timed-out challenge.
	ErrChallengeExpired = errors.New("challenge expired or missing")
	// ErrInvalidCode is a wrong code; the attempt counter has been charged.
	ErrInvalidCode = errors.New("invalid code")
	// ErrTooManyAttempts is the attempt ceiling; further attempts are not
	// counted and the challenge is dead.
	ErrTooManyAttempts = errors.New("too many attempts")
)

const (
	otpTTL         = 5 * time.Minute
	otpMaxAttempts = 3
)

// OTPService runs the OTP challenge lifecycle over the backing store.
type OTPService struct {
	store  storage.Store
	mailer mail.Mailer
}

// NewOTPService creates an OTPService.
func NewOTPService(store storage.Store, mailer mail.Mailer) *OTPService {
	return &OTPService{store: store, mailer: mailer}
}

// Init creates a fresh challenge for the principal, invalidating any prior
// unverified one, and triggers out-of-band delivery. Delivery failure does
// not fail challenge creation.
func (s *OTPService) Init(ctx context.Context, principalID, email, displayName string) (*models.OTPChallenge, error) {
	code, err := generateCode()
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	ch := &models.OTPChallenge{
		ID:          uuid.NewString(),
		PrincipalID: principalID,
		Code:        code,
		CreatedAt:   now,
		ExpiresAt:   now.Add(otpTTL),
		Attempts:    0,
		MaxAttempts: otpMaxAttempts,
	}
	if err := s.store.ReplaceOTPChallenge(ctx, ch); err != nil {
		return nil, fmt.Errorf("storing otp challenge: %w", err)
	}

	go func() {
		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := s.mailer.SendOTP(sendCtx, email, displayName, code); err != nil {
			log.Warn().Err(err).Str("principal", principalID).Msg("otp delivery failed")
		}
	}()

	return ch, nil
}

// Verify checks a submitted code against the principal's active challenge.
// On mismatch the attempt counter is charged atomically and the remaining
// attempt count is returned alongside ErrInvalidCode. A verified challenge
// is consumed: it cannot be verified again.
func (s *OTPService) Verify(ctx context.Context, principalID, code string) (remaining int, err error) {
	ch, err := s.store.GetActiveOTPChallenge(ctx, principalID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return 0, ErrChallengeExpired
		}
		return 0, err
	}
	if ch.IsExpired() {
		return 0, ErrChallengeExpired
	}
	if ch.Attempts >= ch.MaxAttempts {
		return 0, ErrTooManyAttempts
	}

	if strings.TrimSpace(code) != ch.Code {
		attempts, err := s.store.IncrementOTPAttempts(ctx, ch.ID)
		if err != nil {
			return 0, fmt.Errorf("recording failed attempt: %w", err)
		}
		remaining = ch.MaxAttempts - attempts
		if remaining < 0 {
			remaining = 0
		}
		return remaining, ErrInvalidCode
	}

	if err := s.store.MarkOTPVerified(ctx, ch.ID); err != nil {
		return 0, fmt.Errorf("consuming otp challenge: %w", err)
	}
	if err := s.store.SetLastVerified(ctx, principalID, time.Now().UTC()); err != nil {
		// The challenge is already consumed; the timestamp is advisory.
		log.Warn().Err(err).Str("principal", principalID).Msg("recording mfa timestamp failed")
	}
	return 0, nil
}

// generateCode returns a uniformly random 6-digit code.
func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", fmt.Errorf("generating otp code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()+100000), nil
}

// MaskEmail obscures the local part of an address for challenge responses,
// keeping the first character and the domain.
func MaskEmail(email string) string {
	at := strings.IndexByte(email, '@')
	if at <= 1 {
		return email
	}
	return email[:1] + strings.Repeat("*", at-1) + email[at:]
}
