package storage

import (
	"context"
	"errors"
	"time"

	"github.com/org/healthgate/pkg/models"
)

// ErrNotFound is returned when a requested resource does not exist.
var ErrNotFound = errors.New("not found")

// ErrAlreadyExists is returned when trying to create a resource that already exists.
var ErrAlreadyExists = errors.New("already exists")

// Store defines the persistence interface for healthgate.
type Store interface {
	// Principal directory
	UpsertPrincipal(ctx context.Context, rec *models.PrincipalRecord) error
	GetPrincipalBySubject(ctx context.Context, subject string) (*models.PrincipalRecord, error)
	GetPrincipalByEmail(ctx context.Context, email string) (*models.PrincipalRecord, error)
	SetLastVerified(ctx context.Context, subject string, at time.Time) error

	// OTP challenges
	ReplaceOTPChallenge(ctx context.Context, ch *models.OTPChallenge) error
	GetActiveOTPChallenge(ctx context.Context, principalID string) (*models.OTPChallenge, error)
	// IncrementOTPAttempts charges one attempt and returns the new count.
	// The count saturates at the challenge's max attempts.
	IncrementOTPAttempts(ctx context.Context, challengeID string) (int, error)
	MarkOTPVerified(ctx context.Context, challengeID string) error

	// WebAuthn challenges
	ReplaceWebAuthnChallenge(ctx context.Context, ch *models.WebAuthnChallenge) error
	GetWebAuthnChallenge(ctx context.Context, principalID, purpose string) (*models.WebAuthnChallenge, error)
	DeleteWebAuthnChallenge(ctx context.Context, challengeID string) error

	// WebAuthn credentials
	InsertCredential(ctx context.Context, cred *models.WebAuthnCredential) error
	ListCredentials(ctx context.Context, principalID string, activeOnly bool) ([]*models.WebAuthnCredential, error)
	UpdateCredentialCounter(ctx context.Context, credentialID string, signCount uint32, usedAt time.Time) error
	DeactivateCredential(ctx context.Context, principalID, credentialID string) error

	// Patients
	InsertPatient(ctx context.Context, p *models.Patient) error
	UpdatePatient(ctx context.Context, p *models.Patient) error
	GetPatient(ctx context.Context, id string) (*models.Patient, error)
	GetPatientBySubject(ctx context.Context, subject string) (*models.Patient, error)
	ListPatients(ctx context.Context, limit, offset int) ([]*models.Patient, error)

	// Medical records
	InsertRecord(ctx context.Context, rec *models.MedicalRecord) error
	UpdateRecord(ctx context.Context, rec *models.MedicalRecord) error
	GetRecord(ctx context.Context, id string) (*models.MedicalRecord, error)
	ListRecordsByPatient(ctx context.Context, patientID string) ([]*models.MedicalRecord, error)

	// Prescriptions
	InsertPrescription(ctx context.Context, p *models.Prescription) error
	ListPrescriptionsByPatient(ctx context.Context, patientID string) ([]*models.Prescription, error)

	// Vital signs
	InsertVitalSign(ctx context.Context, v *models.VitalSign) error
	ListVitalSignsByPatient(ctx context.Context, patientID string) ([]*models.VitalSign, error)

	// Audit
	WriteAuditEntry(ctx context.Context, entry *models.AuditEntry) error
	QueryAuditLog(ctx context.Context, filter AuditFilter) ([]*models.AuditEntry, error)

	// Lifecycle
	Close()
}

// AuditFilter specifies query parameters for audit log retrieval.
type AuditFilter struct {
	ActorSubject string
	Action       string
	PatientID    string
	Since        *time.Time
	Limit        int
	Offset       int
}
