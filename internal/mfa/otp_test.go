package mfa

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/org/healthgate/internal/storage"
	"github.com/org/healthgate/pkg/models"
)

// challengeStore is an in-memory stand-in for the OTP slice of the store.
type challengeStore struct {
	storage.Store
	mu         sync.Mutex
	challenges map[string]*models.OTPChallenge // by principal
	verified   map[string]time.Time
}

func newChallengeStore() *challengeStore {
	return &challengeStore{
		challenges: make(map[string]*models.OTPChallenge),
		verified:   make(map[string]time.Time),
	}
}

func (s *challengeStore) ReplaceOTPChallenge(ctx context.Context, ch *models.OTPChallenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.challenges[ch.PrincipalID] = ch
	return nil
}

func (s *challengeStore) GetActiveOTPChallenge(ctx context.Context, principalID string) (*models.OTPChallenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.challenges[principalID]
	if !ok || ch.Verified {
		return nil, storage.ErrNotFound
	}
	cp := *ch
	return &cp, nil
}

func (s *challengeStore) IncrementOTPAttempts(ctx context.Context, challengeID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.challenges {
		if ch.ID == challengeID {
			// Saturates at the ceiling, matching the postgres guard.
			if ch.Attempts < ch.MaxAttempts {
				ch.Attempts++
			}
			return ch.Attempts, nil
		}
	}
	return 0, storage.ErrNotFound
}

func (s *challengeStore) MarkOTPVerified(ctx context.Context, challengeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.challenges {
		if ch.ID == challengeID {
			ch.Verified = true
			return nil
		}
	}
	return storage.ErrNotFound
}

func (s *challengeStore) SetLastVerified(ctx context.Context, subject string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.verified[subject] = at
	return nil
}

type nopMailer struct{}

func (nopMailer) SendOTP(ctx context.Context, to, displayName, code string) error { return nil }

func TestOTPInitAndVerify(t *testing.T) {
	store := newChallengeStore()
	svc := NewOTPService(store, nopMailer{})
	ctx := context.Background()

	ch, err := svc.Init(ctx, "doc-1", "doc@example.org", "doc@example.org")
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if len(ch.Code) != 6 {
		t.Errorf("code %q is not 6 digits", ch.Code)
	}
	if ch.MaxAttempts != 3 {
		t.Errorf("max attempts = %d, want 3", ch.MaxAttempts)
	}
	if until := time.Until(ch.ExpiresAt); until < 4*time.Minute || until > 5*time.Minute {
		t.Errorf("TTL looks wrong: %v", until)
	}

	if _, err := svc.Verify(ctx, "doc-1", ch.Code); err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if _, ok := store.verified["doc-1"]; !ok {
		t.Error("expected last-verified timestamp")
	}

	// Verified challenges are consumed.
	if _, err := svc.Verify(ctx, "doc-1", ch.Code); !errors.Is(err, ErrChallengeExpired) {
		t.Errorf("reuse: err = %v, want ErrChallengeExpired", err)
	}
}

func TestOTPWrongCodeChargesAttempts(t *testing.T) {
	store := newChallengeStore()
	svc := NewOTPService(store, nopMailer{})
	ctx := context.Background()

	ch, err := svc.Init(ctx, "doc-1", "doc@example.org", "doc@example.org")
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	for want := 2; want >= 0; want-- {
		remaining, err := svc.Verify(ctx, "doc-1", "000000")
		if !errors.Is(err, ErrInvalidCode) {
			t.Fatalf("err = %v, want ErrInvalidCode", err)
		}
		if remaining != want {
			t.Errorf("remaining = %d, want %d", remaining, want)
		}
	}

	// Ceiling reached: even the correct code is dead.
	if _, err := svc.Verify(ctx, "doc-1", ch.Code); !errors.Is(err, ErrTooManyAttempts) {
		t.Errorf("err = %v, want ErrTooManyAttempts", err)
	}
}

func TestOTPExpiry(t *testing.T) {
	store := newChallengeStore()
	svc := NewOTPService(store, nopMailer{})
	ctx := context.Background()

	ch, err := svc.Init(ctx, "doc-1", "doc@example.org", "doc@example.org")
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	store.challenges["doc-1"].ExpiresAt = time.Now().Add(-time.Second)

	if _, err := svc.Verify(ctx, "doc-1", ch.Code); !errors.Is(err, ErrChallengeExpired) {
		t.Errorf("err = %v, want ErrChallengeExpired", err)
	}
}

func TestOTPMissingChallenge(t *testing.T) {
	svc := NewOTPService(newChallengeStore(), nopMailer{})
	if _, err := svc.Verify(context.Background(), "nobody", "123456"); !errors.Is(err, ErrChallengeExpired) {
		t.Errorf("err = %v, want ErrChallengeExpired", err)
	}
}

func TestOTPInitReplacesPrior(t *testing.T) {
	store := newChallengeStore()
	svc := NewOTPService(store, nopMailer{})
	ctx := context.Background()

	first, _ := svc.Init(ctx, "doc-1", "doc@example.org", "doc@example.org")
	second, _ := svc.Init(ctx, "doc-1", "doc@example.org", "doc@example.org")
	if first.ID == second.ID {
		t.Fatal("second init should mint a new challenge")
	}

	// Only the latest code verifies (codes can collide, so only assert when
	// they differ).
	if first.Code != second.Code {
		if _, err := svc.Verify(ctx, "doc-1", first.Code); !errors.Is(err, ErrInvalidCode) {
			t.Errorf("stale code: err = %v, want ErrInvalidCode", err)
		}
	}
}

func TestMaskEmail(t *testing.T) {
	tests := []struct{ in, want string }{
		{"doctor@example.org", "d*****@example.org"},
		{"ab@x.io", "a*@x.io"},
		{"a@x.io", "a@x.io"},
		{"not-an-email", "not-an-email"},
	}
	for _, tt := range tests {
		if got := MaskEmail(tt.in); got != tt.want {
			t.Errorf("MaskEmail(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestOTPAttemptsNeverExceedCeiling(t *testing.T) {
	store := newChallengeStore()
	svc := NewOTPService(store, nopMailer{})
	ctx := context.Background()

	ch, err := svc.Init(ctx, "doc-1", "doc@example.org", "doc@example.org")
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	// A storm of parallel wrong guesses must not push the counter past
	// the ceiling.
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			svc.Verify(ctx, "doc-1", "000000")
		}()
	}
	wg.Wait()

	store.mu.Lock()
	attempts := store.challenges["doc-1"].Attempts
	store.mu.Unlock()
	if attempts > ch.MaxAttempts {
		t.Errorf("attempts = %d, exceeds ceiling %d", attempts, ch.MaxAttempts)
	}

	// The budget is spent; even the correct code is refused now.
	if _, err := svc.Verify(ctx, "doc-1", ch.Code); !errors.Is(err, ErrTooManyAttempts) {
		t.Errorf("err = %v, want ErrTooManyAttempts", err)
	}
}
