package models

import "time"

// Patient is a patient chart. NationalID and InsuranceNumber are stored as
// encrypted opaque strings and only decrypted for roles that may see them.
type Patient struct {
	ID         string
	Subject    string // provider subject of the patient's own account, if linked
	GivenName  string
	FamilyName string
	BirthDate  string
	// Encrypted at rest ("ivHex:cipherHex").
	NationalID      string
	InsuranceNumber string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// MedicalRecord is a clinical note. Diagnosis is encrypted at rest; roles
// below doctor receive a summarized projection instead of the raw text.
type MedicalRecord struct {
	ID            string
	PatientID     string
	AuthorSubject string
	// Encrypted at rest ("ivHex:cipherHex").
	Diagnosis string
	Notes     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Prescription is a medication order attached to a patient.
type Prescription struct {
	ID                string    `json:"id"`
	PatientID         string    `json:"patient_id"`
	RecordID          string    `json:"record_id,omitempty"`
	Medication        string    `json:"medication"`
	Dosage            string    `json:"dosage"`
	PrescriberSubject string    `json:"prescriber_subject"`
	CreatedAt         time.Time `json:"created_at"`
}

// VitalSign is one vitals measurement for a patient.
type VitalSign struct {
	ID           string    `json:"id"`
	PatientID    string    `json:"patient_id"`
	RecordedBy   string    `json:"recorded_by"`
	HeartRate    int       `json:"heart_rate"`
	SystolicBP   int       `json:"systolic_bp"`
	DiastolicBP  int       `json:"diastolic_bp"`
	TemperatureC float64   `json:"temperature_c"`
	RecordedAt   time.Time `json:"recorded_at"`
}
