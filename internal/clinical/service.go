// Package clinical is the data layer behind the resource handlers:
// patients, medical records, prescriptions, and vital signs, with sensitive
// fields encrypted at rest and projected per role on the way out.
package clinical

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/org/healthgate/internal/access"
	"github.com/org/healthgate/internal/crypto"
	"github.com/org/healthgate/internal/storage"
	"github.com/org/healthgate/pkg/models"
)

// ErrNotOwner indicates a patient-role principal tried to read a chart that
// is not their own. Ownership is a handler-local concern layered on top of
// the role guards, not part of them.
var ErrNotOwner = errors.New("not the record owner")

// diagnosisRestrictedNote accompanies the summarized diagnosis projection.
const diagnosisRestrictedNote = "full diagnosis text is restricted to the treating physician"

// Service composes the store and the field cipher.
type Service struct {
	store  storage.Store
	cipher crypto.Cipher
}

// NewService creates a clinical Service.
func NewService(store storage.Store, cipher crypto.Cipher) *Service {
	return &Service{store: store, cipher: cipher}
}

// PatientView is a patient chart shaped for one principal. Identifier
// fields are nil when the role may not see them or when decryption failed.
type PatientView struct {
	ID              string  `json:"id"`
	GivenName       string  `json:"given_name"`
	FamilyName      string  `json:"family_name"`
	BirthDate       string  `json:"birth_date"`
	NationalID      *string `json:"national_id,omitempty"`
	InsuranceNumber *string `json:"insurance_number,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// RecordView is a medical record shaped for one principal. Exactly one of
// Diagnosis (raw) or DiagnosisSummary is populated for roles allowed to see
// anything at all.
type RecordView struct {
	ID               string    `json:"id"`
	PatientID        string    `json:"patient_id"`
	AuthorSubject    string    `json:"author_subject"`
	Diagnosis        *string   `json:"diagnosis,omitempty"`
	DiagnosisSummary *string   `json:"diagnosis_summary,omitempty"`
	DiagnosisNote    string    `json:"diagnosis_note,omitempty"`
	Notes            string    `json:"notes,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// PatientInput is the write shape for patient charts. Identifier fields
// arrive in plaintext and are encrypted before persistence.
type PatientInput struct {
	Subject         string `json:"subject"`
	GivenName       string `json:"given_name"`
	FamilyName      string `json:"family_name"`
	BirthDate       string `json:"birth_date"`
	NationalID      string `json:"national_id"`
	InsuranceNumber string `json:"insurance_number"`
}

// CreatePatient encrypts identifiers and persists a new chart.
func (s *Service) CreatePatient(ctx context.Context, in *PatientInput) (*models.Patient, error) {
	nationalID, err := s.cipher.Encrypt(in.NationalID)
	if err != nil {
		return nil, fmt.Errorf("encrypting national id: %w", err)
	}
	insurance, err := s.cipher.Encrypt(in.InsuranceNumber)
	if err != nil {
		return nil, fmt.Errorf("encrypting insurance number: %w", err)
	}
	now := time.Now().UTC()
	p := &models.Patient{
		ID:              uuid.NewString(),
		Subject:         in.Subject,
		GivenName:       in.GivenName,
		FamilyName:      in.FamilyName,
		BirthDate:       in.BirthDate,
		NationalID:      nationalID,
		InsuranceNumber: insurance,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.store.InsertPatient(ctx, p); err != nil {
		return nil, fmt.Errorf("storing patient: %w", err)
	}
	return p, nil
}

// UpdatePatient rewrites a chart. Empty identifier inputs keep the stored
// ciphertext; non-empty inputs are re-encrypted with a fresh IV.
func (s *Service) UpdatePatient(ctx context.Context, id string, in *PatientInput) (*models.Patient, error) {
	p, err := s.store.GetPatient(ctx, id)
	if err != nil {
		return nil, err
	}
	if in.GivenName != "" {
		p.GivenName = in.GivenName
	}
	if in.FamilyName != "" {
		p.FamilyName = in.FamilyName
	}
	if in.BirthDate != "" {
		p.BirthDate = in.BirthDate
	}
	if in.NationalID != "" {
		if p.NationalID, err = s.cipher.Encrypt(in.NationalID); err != nil {
			return nil, fmt.Errorf("encrypting national id: %w", err)
		}
	}
	if in.InsuranceNumber != "" {
		if p.InsuranceNumber, err = s.cipher.Encrypt(in.InsuranceNumber); err != nil {
			return nil, fmt.Errorf("encrypting insurance number: %w", err)
		}
	}
	p.UpdatedAt = time.Now().UTC()
	if err := s.store.UpdatePatient(ctx, p); err != nil {
		return nil, fmt.Errorf("storing patient: %w", err)
	}
	return p, nil
}

// GetPatient returns one chart projected for the principal. Patient-role
// principals may only read their own chart.
func (s *Service) GetPatient(ctx context.Context, principal *models.Principal, id string) (*PatientView, error) {
	p, err := s.store.GetPatient(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.checkOwnership(principal, p); err != nil {
		return nil, err
	}
	return s.projectPatient(principal, p), nil
}

// ListPatients returns charts projected for the principal.
func (s *Service) ListPatients(ctx context.Context, principal *models.Principal, limit, offset int) ([]*PatientView, error) {
	patients, err := s.store.ListPatients(ctx, limit, offset)
	if err != nil {
		return nil, err
	}
	views := make([]*PatientView, 0, len(patients))
	for _, p := range patients {
		views = append(views, s.projectPatient(principal, p))
	}
	return views, nil
}

// CreateRecord encrypts the diagnosis and persists a new record.
func (s *Service) CreateRecord(ctx context.Context, principal *models.Principal, patientID, diagnosis, notes string) (*models.MedicalRecord, error) {
	if _, err := s.store.GetPatient(ctx, patientID); err != nil {
		return nil, err
	}
	enc, err := s.cipher.Encrypt(diagnosis)
	if err != nil {
		return nil, fmt.Errorf("encrypting diagnosis: %w", err)
	}
	now := time.Now().UTC()
	rec := &models.MedicalRecord{
		ID:            uuid.NewString(),
		PatientID:     patientID,
		AuthorSubject: principal.Subject,
		Diagnosis:     enc,
		Notes:         notes,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.store.InsertRecord(ctx, rec); err != nil {
		return nil, fmt.Errorf("storing record: %w", err)
	}
	return rec, nil
}

// UpdateRecord rewrites a record's diagnosis and notes.
func (s *Service) UpdateRecord(ctx context.Context, principal *models.Principal, id, diagnosis, notes string) (*models.MedicalRecord, error) {
	rec, err := s.store.GetRecord(ctx, id)
	if err != nil {
		return nil, err
	}
	if diagnosis != "" {
		if rec.Diagnosis, err = s.cipher.Encrypt(diagnosis); err != nil {
			return nil, fmt.Errorf("encrypting diagnosis: %w", err)
		}
	}
	if notes != "" {
		rec.Notes = notes
	}
	rec.UpdatedAt = time.Now().UTC()
	if err := s.store.UpdateRecord(ctx, rec); err != nil {
		return nil, fmt.Errorf("storing record: %w", err)
	}
	return rec, nil
}

// GetRecord returns one record projected for the principal.
func (s *Service) GetRecord(ctx context.Context, principal *models.Principal, id string) (*RecordView, error) {
	rec, err := s.store.GetRecord(ctx, id)
	if err != nil {
		return nil, err
	}
	if principal.Role == models.RolePatient {
		p, err := s.store.GetPatient(ctx, rec.PatientID)
		if err != nil {
			return nil, err
		}
		if err := s.checkOwnership(principal, p); err != nil {
			return nil, err
		}
	}
	return s.projectRecord(principal, rec), nil
}

// ListRecords returns a patient's records projected for the principal.
func (s *Service) ListRecords(ctx context.Context, principal *models.Principal, patientID string) ([]*RecordView, error) {
	p, err := s.store.GetPatient(ctx, patientID)
	if err != nil {
		return nil, err
	}
	if err := s.checkOwnership(principal, p); err != nil {
		return nil, err
	}
	records, err := s.store.ListRecordsByPatient(ctx, patientID)
	if err != nil {
		return nil, err
	}
	views := make([]*RecordView, 0, len(records))
	for _, rec := range records {
		views = append(views, s.projectRecord(principal, rec))
	}
	return views, nil
}

// CreatePrescription persists a medication order.
func (s *Service) CreatePrescription(ctx context.Context, principal *models.Principal, patientID, recordID, medication, dosage string) (*models.Prescription, error) {
	if _, err := s.store.GetPatient(ctx, patientID); err != nil {
		return nil, err
	}
	p := &models.Prescription{
		ID:                uuid.NewString(),
		PatientID:         patientID,
		RecordID:          recordID,
		Medication:        medication,
		Dosage:            dosage,
		PrescriberSubject: principal.Subject,
		CreatedAt:         time.Now().UTC(),
	}
	if err := s.store.InsertPrescription(ctx, p); err != nil {
		return nil, fmt.Errorf("storing prescription: %w", err)
	}
	return p, nil
}

// ListPrescriptions returns a patient's prescriptions.
func (s *Service) ListPrescriptions(ctx context.Context, principal *models.Principal, patientID string) ([]*models.Prescription, error) {
	p, err := s.store.GetPatient(ctx, patientID)
	if err != nil {
		return nil, err
	}
	if err := s.checkOwnership(principal, p); err != nil {
		return nil, err
	}
	return s.store.ListPrescriptionsByPatient(ctx, patientID)
}

// RecordVitals persists one vitals measurement.
func (s *Service) RecordVitals(ctx context.Context, principal *models.Principal, v *models.VitalSign) (*models.VitalSign, error) {
	if _, err := s.store.GetPatient(ctx, v.PatientID); err != nil {
		return nil, err
	}
	v.ID = uuid.NewString()
	v.RecordedBy = principal.Subject
	if v.RecordedAt.IsZero() {
		v.RecordedAt = time.Now().UTC()
	}
	if err := s.store.InsertVitalSign(ctx, v); err != nil {
		return nil, fmt.Errorf("storing vitals: %w", err)
	}
	return v, nil
}

// ListVitals returns a patient's vitals history.
func (s *Service) ListVitals(ctx context.Context, principal *models.Principal, patientID string) ([]*models.VitalSign, error) {
	p, err := s.store.GetPatient(ctx, patientID)
	if err != nil {
		return nil, err
	}
	if err := s.checkOwnership(principal, p); err != nil {
		return nil, err
	}
	return s.store.ListVitalSignsByPatient(ctx, patientID)
}

func (s *Service) checkOwnership(principal *models.Principal, p *models.Patient) error {
	if principal.Role == models.RolePatient && p.Subject != principal.Subject {
		return ErrNotOwner
	}
	return nil
}

// projectPatient shapes a chart for the principal's role. Decryption
// failure degrades the field to absent; it never fails the request.
func (s *Service) projectPatient(principal *models.Principal, p *models.Patient) *PatientView {
	v := &PatientView{
		ID:         p.ID,
		GivenName:  p.GivenName,
		FamilyName: p.FamilyName,
		BirthDate:  p.BirthDate,
		CreatedAt:  p.CreatedAt,
		UpdatedAt:  p.UpdatedAt,
	}
	ownChart := principal.Role == models.RolePatient && p.Subject == principal.Subject
	if access.CanViewIdentifiers(principal.Role) || ownChart {
		if nid := s.cipher.Decrypt(p.NationalID); nid != "" {
			v.NationalID = &nid
		}
		if ins := s.cipher.Decrypt(p.InsuranceNumber); ins != "" {
			v.InsuranceNumber = &ins
		}
	}
	return v
}

// projectRecord shapes a record for the principal's role: raw diagnosis for
// doctors, a summary with a note for nurses, nothing for everyone else.
func (s *Service) projectRecord(principal *models.Principal, rec *models.MedicalRecord) *RecordView {
	v := &RecordView{
		ID:            rec.ID,
		PatientID:     rec.PatientID,
		AuthorSubject: rec.AuthorSubject,
		Notes:         rec.Notes,
		CreatedAt:     rec.CreatedAt,
		UpdatedAt:     rec.UpdatedAt,
	}
	switch {
	case access.CanViewFullDiagnosis(principal.Role):
		if d := s.cipher.Decrypt(rec.Diagnosis); d != "" {
			v.Diagnosis = &d
		}
	case access.CanViewDiagnosisSummary(principal.Role):
		if d := s.cipher.Decrypt(rec.Diagnosis); d != "" {
			summary := crypto.SummarizeDiagnosis(d)
			v.DiagnosisSummary = &summary
			v.DiagnosisNote = diagnosisRestrictedNote
		}
	}
	return v
}
