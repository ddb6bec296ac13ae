package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/org/healthgate/pkg/models"
)

// PostgresStore is a Store backed by PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore opens a pgxpool connection and returns a ready store.
func NewPostgresStore(ctx context.Context, connStr string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parsing postgres config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (p *PostgresStore) Close() {
	p.pool.Close()
}

// --- Principal directory ---

func (p *PostgresStore) UpsertPrincipal(ctx context.Context, rec *models.PrincipalRecord) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO principals (subject, email, role, updated_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (subject) DO UPDATE SET email = EXCLUDED.email, role = EXCLUDED.role, updated_at = EXCLUDED.updated_at`,
		rec.Subject, rec.Email, rec.Role.String(), rec.UpdatedAt,
	)
	return err
}

func (p *PostgresStore) GetPrincipalBySubject(ctx context.Context, subject string) (*models.PrincipalRecord, error) {
	return p.scanPrincipal(p.pool.QueryRow(ctx,
		`SELECT subject, email, role, last_verified_at, updated_at FROM principals WHERE subject = $1`,
		subject,
	))
}

func (p *PostgresStore) GetPrincipalByEmail(ctx context.Context, email string) (*models.PrincipalRecord, error) {
	return p.scanPrincipal(p.pool.QueryRow(ctx,
		`SELECT subject, email, role, last_verified_at, updated_at FROM principals WHERE email = $1`,
		email,
	))
}

func (p *PostgresStore) scanPrincipal(row pgx.Row) (*models.PrincipalRecord, error) {
	var rec models.PrincipalRecord
	var role string
	if err := row.Scan(&rec.Subject, &rec.Email, &role, &rec.LastVerifiedAt, &rec.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	rec.Role = models.ParseRole(role)
	return &rec, nil
}

func (p *PostgresStore) SetLastVerified(ctx context.Context, subject string, at time.Time) error {
	tag, err := p.pool.Exec(ctx,
		`UPDATE principals SET last_verified_at = $1 WHERE subject = $2`,
		at, subject,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- OTP challenges ---

func (p *PostgresStore) ReplaceOTPChallenge(ctx context.Context, ch *models.OTPChallenge) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx,
		`DELETE FROM otp_challenges WHERE principal_id = $1 AND verified = FALSE`,
		ch.PrincipalID,
	); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO otp_challenges (id, principal_id, code, created_at, expires_at, attempts, max_attempts, verified)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		ch.ID, ch.PrincipalID, ch.Code, ch.CreatedAt, ch.ExpiresAt, ch.Attempts, ch.MaxAttempts, ch.Verified,
	); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (p *PostgresStore) GetActiveOTPChallenge(ctx context.Context, principalID string) (*models.OTPChallenge, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT id, principal_id, code, created_at, expires_at, attempts, max_attempts, verified
		 FROM otp_challenges WHERE principal_id = $1 AND verified = FALSE
		 ORDER BY created_at DESC LIMIT 1`,
		principalID,
	)
	var ch models.OTPChallenge
	if err := row.Scan(&ch.ID, &ch.PrincipalID, &ch.Code, &ch.CreatedAt, &ch.ExpiresAt,
		&ch.Attempts, &ch.MaxAttempts, &ch.Verified); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &ch, nil
}

// IncrementOTPAttempts charges one attempt atomically and returns the new
// count, so concurrent wrong guesses cannot share a slot. The counter
// saturates at max_attempts: once the ceiling is hit the stored count is
// returned unchanged.
func (p *PostgresStore) IncrementOTPAttempts(ctx context.Context, challengeID string) (int, error) {
	var attempts int
	err := p.pool.QueryRow(ctx,
		`UPDATE otp_challenges SET attempts = attempts + 1
		 WHERE id = $1 AND attempts < max_attempts RETURNING attempts`,
		challengeID,
	).Scan(&attempts)
	if err == nil {
		return attempts, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, err
	}
	// Zero rows means either the challenge is gone or the ceiling was
	// already reached; distinguish by reading the row back.
	err = p.pool.QueryRow(ctx,
		`SELECT attempts FROM otp_challenges WHERE id = $1`,
		challengeID,
	).Scan(&attempts)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, err
	}
	return attempts, nil
}

func (p *PostgresStore) MarkOTPVerified(ctx context.Context, challengeID string) error {
	tag, err := p.pool.Exec(ctx,
		`UPDATE otp_challenges SET verified = TRUE WHERE id = $1 AND verified = FALSE`,
		challengeID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- WebAuthn challenges ---

func (p *PostgresStore) ReplaceWebAuthnChallenge(ctx context.Context, ch *models.WebAuthnChallenge) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx,
		`DELETE FROM webauthn_challenges WHERE principal_id = $1 AND purpose = $2`,
		ch.PrincipalID, ch.Purpose,
	); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO webauthn_challenges (id, principal_id, purpose, session_data, created_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		ch.ID, ch.PrincipalID, ch.Purpose, ch.SessionData, ch.CreatedAt, ch.ExpiresAt,
	); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (p *PostgresStore) GetWebAuthnChallenge(ctx context.Context, principalID, purpose string) (*models.WebAuthnChallenge, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT id, principal_id, purpose, session_data, created_at, expires_at
		 FROM webauthn_challenges WHERE principal_id = $1 AND purpose = $2`,
		principalID, purpose,
	)
	var ch models.WebAuthnChallenge
	if err := row.Scan(&ch.ID, &ch.PrincipalID, &ch.Purpose, &ch.SessionData, &ch.CreatedAt, &ch.ExpiresAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &ch, nil
}

func (p *PostgresStore) DeleteWebAuthnChallenge(ctx context.Context, challengeID string) error {
	_, err := p.pool.Exec(ctx, `DELETE FROM webauthn_challenges WHERE id = $1`, challengeID)
	return err
}

// --- WebAuthn credentials ---

func (p *PostgresStore) InsertCredential(ctx context.Context, cred *models.WebAuthnCredential) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO webauthn_credentials (id, principal_id, credential_id, public_key, sign_count, label, active, created_at, last_used_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		cred.ID, cred.PrincipalID, cred.CredentialID, cred.PublicKey, cred.SignCount,
		cred.Label, cred.Active, cred.CreatedAt, cred.LastUsedAt,
	)
	return err
}

func (p *PostgresStore) ListCredentials(ctx context.Context, principalID string, activeOnly bool) ([]*models.WebAuthnCredential, error) {
	query := `SELECT id, principal_id, credential_id, public_key, sign_count, label, active, created_at, last_used_at
		 FROM webauthn_credentials WHERE principal_id = $1`
	if activeOnly {
		query += ` AND active = TRUE`
	}
	query += ` ORDER BY created_at`

	rows, err := p.pool.Query(ctx, query, principalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var creds []*models.WebAuthnCredential
	for rows.Next() {
		var c models.WebAuthnCredential
		if err := rows.Scan(&c.ID, &c.PrincipalID, &c.CredentialID, &c.PublicKey, &c.SignCount,
			&c.Label, &c.Active, &c.CreatedAt, &c.LastUsedAt); err != nil {
			return nil, err
		}
		creds = append(creds, &c)
	}
	return creds, rows.Err()
}

func (p *PostgresStore) UpdateCredentialCounter(ctx context.Context, credentialID string, signCount uint32, usedAt time.Time) error {
	tag, err := p.pool.Exec(ctx,
		`UPDATE webauthn_credentials SET sign_count = $1, last_used_at = $2 WHERE id = $3`,
		signCount, usedAt, credentialID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) DeactivateCredential(ctx context.Context, principalID, credentialID string) error {
	tag, err := p.pool.Exec(ctx,
		`UPDATE webauthn_credentials SET active = FALSE WHERE id = $1 AND principal_id = $2`,
		credentialID, principalID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Patients ---

func (p *PostgresStore) InsertPatient(ctx context.Context, pt *models.Patient) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO patients (id, subject, given_name, family_name, birth_date, national_id, insurance_number, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		pt.ID, pt.Subject, pt.GivenName, pt.FamilyName, pt.BirthDate,
		pt.NationalID, pt.InsuranceNumber, pt.CreatedAt, pt.UpdatedAt,
	)
	return err
}

func (p *PostgresStore) UpdatePatient(ctx context.Context, pt *models.Patient) error {
	tag, err := p.pool.Exec(ctx,
		`UPDATE patients SET subject = $1, given_name = $2, family_name = $3, birth_date = $4,
		 national_id = $5, insurance_number = $6, updated_at = $7 WHERE id = $8`,
		pt.Subject, pt.GivenName, pt.FamilyName, pt.BirthDate,
		pt.NationalID, pt.InsuranceNumber, pt.UpdatedAt, pt.ID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) GetPatient(ctx context.Context, id string) (*models.Patient, error) {
	return p.scanPatient(p.pool.QueryRow(ctx,
		`SELECT id, subject, given_name, family_name, birth_date, national_id, insurance_number, created_at, updated_at
		 FROM patients WHERE id = $1`, id))
}

func (p *PostgresStore) GetPatientBySubject(ctx context.Context, subject string) (*models.Patient, error) {
	return p.scanPatient(p.pool.QueryRow(ctx,
		`SELECT id, subject, given_name, family_name, birth_date, national_id, insurance_number, created_at, updated_at
		 FROM patients WHERE subject = $1`, subject))
}

func (p *PostgresStore) scanPatient(row pgx.Row) (*models.Patient, error) {
	var pt models.Patient
	if err := row.Scan(&pt.ID, &pt.Subject, &pt.GivenName, &pt.FamilyName, &pt.BirthDate,
		&pt.NationalID, &pt.InsuranceNumber, &pt.CreatedAt, &pt.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &pt, nil
}

func (p *PostgresStore) ListPatients(ctx context.Context, limit, offset int) ([]*models.Patient, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT id, subject, given_name, family_name, birth_date, national_id, insurance_number, created_at, updated_at
		 FROM patients ORDER BY family_name, given_name LIMIT $1 OFFSET $2`,
		limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var patients []*models.Patient
	for rows.Next() {
		var pt models.Patient
		if err := rows.Scan(&pt.ID, &pt.Subject, &pt.GivenName, &pt.FamilyName, &pt.BirthDate,
			&pt.NationalID, &pt.InsuranceNumber, &pt.CreatedAt, &pt.UpdatedAt); err != nil {
			return nil, err
		}
		patients = append(patients, &pt)
	}
	return patients, rows.Err()
}

// --- Medical records ---

func (p *PostgresStore) InsertRecord(ctx context.Context, rec *models.MedicalRecord) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO medical_records (id, patient_id, author_subject, diagnosis, notes, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		rec.ID, rec.PatientID, rec.AuthorSubject, rec.Diagnosis, rec.Notes, rec.CreatedAt, rec.UpdatedAt,
	)
	return err
}

func (p *PostgresStore) UpdateRecord(ctx context.Context, rec *models.MedicalRecord) error {
	tag, err := p.pool.Exec(ctx,
		`UPDATE medical_records SET diagnosis = $1, notes = $2, updated_at = $3 WHERE id = $4`,
		rec.Diagnosis, rec.Notes, rec.UpdatedAt, rec.ID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) GetRecord(ctx context.Context, id string) (*models.MedicalRecord, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT id, patient_id, author_subject, diagnosis, notes, created_at, updated_at
		 FROM medical_records WHERE id = $1`, id)
	var rec models.MedicalRecord
	if err := row.Scan(&rec.ID, &rec.PatientID, &rec.AuthorSubject, &rec.Diagnosis,
		&rec.Notes, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &rec, nil
}

func (p *PostgresStore) ListRecordsByPatient(ctx context.Context, patientID string) ([]*models.MedicalRecord, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT id, patient_id, author_subject, diagnosis, notes, created_at, updated_at
		 FROM medical_records WHERE patient_id = $1 ORDER BY created_at DESC`,
		patientID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*models.MedicalRecord
	for rows.Next() {
		var rec models.MedicalRecord
		if err := rows.Scan(&rec.ID, &rec.PatientID, &rec.AuthorSubject, &rec.Diagnosis,
			&rec.Notes, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		records = append(records, &rec)
	}
	return records, rows.Err()
}

// --- Prescriptions ---

func (p *PostgresStore) InsertPrescription(ctx context.Context, pr *models.Prescription) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO prescriptions (id, patient_id, record_id, medication, dosage, prescriber_subject, created_at)
		 VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7)`,
		pr.ID, pr.PatientID, pr.RecordID, pr.Medication, pr.Dosage, pr.PrescriberSubject, pr.CreatedAt,
	)
	return err
}

func (p *PostgresStore) ListPrescriptionsByPatient(ctx context.Context, patientID string) ([]*models.Prescription, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT id, patient_id, COALESCE(record_id, ''), medication, dosage, prescriber_subject, created_at
		 FROM prescriptions WHERE patient_id = $1 ORDER BY created_at DESC`,
		patientID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []*models.Prescription
	for rows.Next() {
		var pr models.Prescription
		if err := rows.Scan(&pr.ID, &pr.PatientID, &pr.RecordID, &pr.Medication,
			&pr.Dosage, &pr.PrescriberSubject, &pr.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, &pr)
	}
	return list, rows.Err()
}

// --- Vital signs ---

func (p *PostgresStore) InsertVitalSign(ctx context.Context, v *models.VitalSign) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO vital_signs (id, patient_id, recorded_by, heart_rate, systolic_bp, diastolic_bp, temperature_c, recorded_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		v.ID, v.PatientID, v.RecordedBy, v.HeartRate, v.SystolicBP, v.DiastolicBP, v.TemperatureC, v.RecordedAt,
	)
	return err
}

func (p *PostgresStore) ListVitalSignsByPatient(ctx context.Context, patientID string) ([]*models.VitalSign, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT id, patient_id, recorded_by, heart_rate, systolic_bp, diastolic_bp, temperature_c, recorded_at
		 FROM vital_signs WHERE patient_id = $1 ORDER BY recorded_at DESC`,
		patientID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []*models.VitalSign
	for rows.Next() {
		var v models.VitalSign
		if err := rows.Scan(&v.ID, &v.PatientID, &v.RecordedBy, &v.HeartRate,
			&v.SystolicBP, &v.DiastolicBP, &v.TemperatureC, &v.RecordedAt); err != nil {
			return nil, err
		}
		list = append(list, &v)
	}
	return list, rows.Err()
}

// --- Audit ---

func (p *PostgresStore) WriteAuditEntry(ctx context.Context, e *models.AuditEntry) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO audit_log (request_id, timestamp, actor_subject, actor_role, action, resource_type, resource_id, patient_id, client_ip, outcome, detail)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		e.RequestID, e.Timestamp, e.ActorSubject, e.ActorRole, e.Action,
		e.ResourceType, e.ResourceID, e.PatientID, e.ClientIP, e.Outcome, e.Detail,
	)
	return err
}

func (p *PostgresStore) QueryAuditLog(ctx context.Context, filter AuditFilter) ([]*models.AuditEntry, error) {
	query := strings.Builder{}
	query.WriteString(`SELECT id, request_id, timestamp, actor_subject, actor_role, action, resource_type, resource_id, patient_id, client_ip, outcome, detail FROM audit_log WHERE 1=1`)
	args := []any{}
	n := 1
	if filter.ActorSubject != "" {
		fmt.Fprintf(&query, ` AND actor_subject = $%d`, n)
		args = append(args, filter.ActorSubject)
		n++
	}
	if filter.Action != "" {
		fmt.Fprintf(&query, ` AND action = $%d`, n)
		args = append(args, filter.Action)
		n++
	}
	if filter.PatientID != "" {
		fmt.Fprintf(&query, ` AND patient_id = $%d`, n)
		args = append(args, filter.PatientID)
		n++
	}
	if filter.Since != nil {
		fmt.Fprintf(&query, ` AND timestamp >= $%d`, n)
		args = append(args, filter.Since)
		n++
	}
	query.WriteString(` ORDER BY timestamp DESC`)
	if filter.Limit > 0 {
		fmt.Fprintf(&query, ` LIMIT $%d`, n)
		args = append(args, filter.Limit)
		n++
	}
	if filter.Offset > 0 {
		fmt.Fprintf(&query, ` OFFSET $%d`, n)
		args = append(args, filter.Offset)
	}

	rows, err := p.pool.Query(ctx, query.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*models.AuditEntry
	for rows.Next() {
		var e models.AuditEntry
		if err := rows.Scan(&e.ID, &e.RequestID, &e.Timestamp, &e.ActorSubject, &e.ActorRole,
			&e.Action, &e.ResourceType, &e.ResourceID, &e.PatientID, &e.ClientIP, &e.Outcome, &e.Detail); err != nil {
			return nil, err
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}
