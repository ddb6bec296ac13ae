package clinical

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/org/healthgate/internal/crypto"
	"github.com/org/healthgate/internal/storage"
	"github.com/org/healthgate/pkg/models"
)

type chartStore struct {
	storage.Store
	patients map[string]*models.Patient
	records  map[string]*models.MedicalRecord
}

func newChartStore() *chartStore {
	return &chartStore{
		patients: make(map[string]*models.Patient),
		records:  make(map[string]*models.MedicalRecord),
	}
}

func (s *chartStore) InsertPatient(ctx context.Context, p *models.Patient) error {
	s.patients[p.ID] = p
	return nil
}

func (s *chartStore) UpdatePatient(ctx context.Context, p *models.Patient) error {
	if _, ok := s.patients[p.ID]; !ok {
		return storage.ErrNotFound
	}
	s.patients[p.ID] = p
	return nil
}

func (s *chartStore) GetPatient(ctx context.Context, id string) (*models.Patient, error) {
	p, ok := s.patients[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *chartStore) InsertRecord(ctx context.Context, rec *models.MedicalRecord) error {
	s.records[rec.ID] = rec
	return nil
}

func (s *chartStore) GetRecord(ctx context.Context, id string) (*models.MedicalRecord, error) {
	rec, ok := s.records[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (s *chartStore) ListRecordsByPatient(ctx context.Context, patientID string) ([]*models.MedicalRecord, error) {
	var out []*models.MedicalRecord
	for _, rec := range s.records {
		if rec.PatientID == patientID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func asRole(r models.Role) *models.Principal {
	return &models.Principal{Subject: "staff-" + r.String(), Role: r}
}

func newTestService(t *testing.T) (*Service, *chartStore) {
	t.Helper()
	cipher, err := crypto.NewFieldCipher("clinical-test-secret")
	if err != nil {
		t.Fatalf("NewFieldCipher failed: %v", err)
	}
	store := newChartStore()
	return NewService(store, cipher), store
}

func TestCreatePatientEncryptsIdentifiers(t *testing.T) {
	svc, store := newTestService(t)
	p, err := svc.CreatePatient(context.Background(), &PatientInput{
		GivenName:       "Ada",
		FamilyName:      "Lovelace",
		NationalID:      "123-45-6789",
		InsuranceNumber: "INS-42",
	})
	if err != nil {
		t.Fatalf("CreatePatient failed: %v", err)
	}
	stored := store.patients[p.ID]
	if strings.Contains(stored.NationalID, "123-45-6789") {
		t.Error("national ID stored in plaintext")
	}
	if !strings.Contains(stored.NationalID, ":") {
		t.Errorf("stored identifier not in iv:cipher form: %q", stored.NationalID)
	}
}

func TestPatientProjectionPerRole(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	p, err := svc.CreatePatient(ctx, &PatientInput{
		Subject:         "pat-1",
		GivenName:       "Ada",
		FamilyName:      "Lovelace",
		NationalID:      "123-45-6789",
		InsuranceNumber: "INS-42",
	})
	if err != nil {
		t.Fatalf("CreatePatient failed: %v", err)
	}

	for _, role := range []models.Role{models.RoleDoctor, models.RoleNurse, models.RoleReceptionist} {
		view, err := svc.GetPatient(ctx, asRole(role), p.ID)
		if err != nil {
			t.Fatalf("%v: GetPatient failed: %v", role, err)
		}
		if view.NationalID == nil || *view.NationalID != "123-45-6789" {
			t.Errorf("%v should see the national ID, got %v", role, view.NationalID)
		}
	}

	// Admin has no clinical identifier capability.
	view, err := svc.GetPatient(ctx, asRole(models.RoleAdmin), p.ID)
	if err != nil {
		t.Fatalf("admin GetPatient failed: %v", err)
	}
	if view.NationalID != nil || view.InsuranceNumber != nil {
		t.Error("admin should not see identifiers")
	}

	// A patient sees their own identifiers but not someone else's chart.
	owner := &models.Principal{Subject: "pat-1", Role: models.RolePatient}
	view, err = svc.GetPatient(ctx, owner, p.ID)
	if err != nil {
		t.Fatalf("owner GetPatient failed: %v", err)
	}
	if view.NationalID == nil {
		t.Error("patient should see their own identifiers")
	}

	stranger := &models.Principal{Subject: "pat-2", Role: models.RolePatient}
	if _, err := svc.GetPatient(ctx, stranger, p.ID); !errors.Is(err, ErrNotOwner) {
		t.Errorf("stranger: err = %v, want ErrNotOwner", err)
	}
}

func TestRecordProjectionPerRole(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	p, _ := svc.CreatePatient(ctx, &PatientInput{Subject: "pat-1", GivenName: "Ada", FamilyName: "Lovelace"})

	diagnosis := "Chronic hypertension, stage two. Patient presents with elevated blood pressure over three consecutive visits and reports intermittent headaches."
	rec, err := svc.CreateRecord(ctx, asRole(models.RoleDoctor), p.ID, diagnosis, "follow up in two weeks")
	if err != nil {
		t.Fatalf("CreateRecord failed: %v", err)
	}

	docView, err := svc.GetRecord(ctx, asRole(models.RoleDoctor), rec.ID)
	if err != nil {
		t.Fatalf("doctor GetRecord failed: %v", err)
	}
	if docView.Diagnosis == nil || *docView.Diagnosis != diagnosis {
		t.Error("doctor should see the raw diagnosis")
	}
	if docView.DiagnosisSummary != nil {
		t.Error("doctor view should not carry a summary")
	}

	nurseView, err := svc.GetRecord(ctx, asRole(models.RoleNurse), rec.ID)
	if err != nil {
		t.Fatalf("nurse GetRecord failed: %v", err)
	}
	if nurseView.Diagnosis != nil {
		t.Error("nurse must not see the raw diagnosis")
	}
	if nurseView.DiagnosisSummary == nil {
		t.Fatal("nurse should see a summary")
	}
	if want := "Chronic hypertension,..."; *nurseView.DiagnosisSummary != want {
		t.Errorf("summary = %q, want %q", *nurseView.DiagnosisSummary, want)
	}
	if nurseView.DiagnosisNote == "" {
		t.Error("summary view should carry the restriction note")
	}

	recepView, err := svc.GetRecord(ctx, asRole(models.RoleReceptionist), rec.ID)
	if err != nil {
		t.Fatalf("receptionist GetRecord failed: %v", err)
	}
	if recepView.Diagnosis != nil || recepView.DiagnosisSummary != nil {
		t.Error("receptionist should see no diagnosis at all")
	}
}

func TestRecordOwnershipForPatients(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	p, _ := svc.CreatePatient(ctx, &PatientInput{Subject: "pat-1", GivenName: "Ada", FamilyName: "Lovelace"})
	rec, _ := svc.CreateRecord(ctx, asRole(models.RoleDoctor), p.ID, "Influenza A.", "")

	stranger := &models.Principal{Subject: "pat-2", Role: models.RolePatient}
	if _, err := svc.GetRecord(ctx, stranger, rec.ID); !errors.Is(err, ErrNotOwner) {
		t.Errorf("GetRecord: err = %v, want ErrNotOwner", err)
	}
	if _, err := svc.ListRecords(ctx, stranger, p.ID); !errors.Is(err, ErrNotOwner) {
		t.Errorf("ListRecords: err = %v, want ErrNotOwner", err)
	}

	owner := &models.Principal{Subject: "pat-1", Role: models.RolePatient}
	views, err := svc.ListRecords(ctx, owner, p.ID)
	if err != nil {
		t.Fatalf("owner ListRecords failed: %v", err)
	}
	if len(views) != 1 {
		t.Fatalf("expected 1 record, got %d", len(views))
	}
	// Owner still gets no diagnosis: projection is by role, not ownership.
	if views[0].Diagnosis != nil || views[0].DiagnosisSummary != nil {
		t.Error("patient role should see no diagnosis")
	}
}

func TestCorruptedFieldDegradesToAbsent(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	p, _ := svc.CreatePatient(ctx, &PatientInput{
		GivenName:  "Ada",
		FamilyName: "Lovelace",
		NationalID: "123-45-6789",
	})
	store.patients[p.ID].NationalID = "corrupted-garbage"

	view, err := svc.GetPatient(ctx, asRole(models.RoleDoctor), p.ID)
	if err != nil {
		t.Fatalf("GetPatient failed: %v", err)
	}
	if view.NationalID != nil {
		t.Errorf("corrupted field should be absent, got %v", *view.NationalID)
	}
	if view.GivenName != "Ada" {
		t.Error("rest of the chart should be intact")
	}
}
