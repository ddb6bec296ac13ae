package models

import "time"

// Audit outcomes.
const (
	AuditSuccess = "success"
	AuditFailed  = "failed"
	AuditDenied  = "denied"
)

// Audit action verbs used by the handlers.
const (
	ActionLogin             = "LOGIN"
	ActionPasswordChange    = "PASSWORD_CHANGE"
	ActionMFAChallenge      = "MFA_CHALLENGE"
	ActionMFAVerify         = "MFA_VERIFY"
	ActionCredentialAdd     = "CREDENTIAL_REGISTER"
	ActionCredentialRemove  = "CREDENTIAL_REMOVE"
	ActionPatientView       = "PATIENT_VIEW"
	ActionPatientCreate     = "PATIENT_CREATE"
	ActionPatientUpdate     = "PATIENT_UPDATE"
	ActionRecordView        = "RECORD_VIEW"
	ActionRecordCreate      = "RECORD_CREATE"
	ActionRecordUpdate      = "RECORD_UPDATE"
	ActionPrescriptionWrite = "PRESCRIPTION_WRITE"
	ActionVitalsWrite       = "VITALS_WRITE"
	ActionAuditQuery        = "AUDIT_QUERY"
)

// AuditEntry is an immutable record of one authenticated action.
// Writes are fire-and-forget with a bounded timeout; a failed audit write
// must never fail the action it describes.
type AuditEntry struct {
	ID           int64     `json:"id"`
	RequestID    string    `json:"request_id,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
	ActorSubject string    `json:"actor_subject"`
	ActorRole    string    `json:"actor_role,omitempty"`
	Action       string    `json:"action"`
	ResourceType string    `json:"resource_type,omitempty"`
	ResourceID   string    `json:"resource_id,omitempty"`
	PatientID    string    `json:"patient_id,omitempty"`
	ClientIP     string    `json:"client_ip,omitempty"`
	Outcome      string    `json:"outcome"`
	Detail       string    `json:"detail,omitempty"`
}
