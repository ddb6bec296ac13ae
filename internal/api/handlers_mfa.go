package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/org/healthgate/internal/auth"
	"github.com/org/healthgate/internal/mfa"
	"github.com/org/healthgate/pkg/models"
)

// OTPInitHandler handles POST /v1/auth/mfa/otp/init. It exchanges a pending
// login ticket for a fresh emailed code.
func (s *Server) OTPInitHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Ticket string `json:"ticket"`
	}
	if err := decodeJSON(r, &req); err != nil || req.Ticket == "" {
		writeFailure(w, http.StatusBadRequest, "ticket is required", nil)
		return
	}
	principal, err := s.sessions.VerifyPendingTicket(req.Ticket)
	if err != nil {
		writeErr(w, err)
		return
	}

	ch, err := s.otp.Init(r.Context(), principal.Subject, principal.Email, principal.Email)
	if err != nil {
		mfaChallengesTotal.WithLabelValues("otp", "error").Inc()
		writeErr(w, err)
		return
	}
	mfaChallengesTotal.WithLabelValues("otp", "issued").Inc()

	s.auditor.Record(r.Context(), &models.AuditEntry{
		RequestID:    requestIDFromCtx(r.Context()),
		ActorSubject: principal.Subject,
		ActorRole:    principal.Role.String(),
		Action:       models.ActionMFAChallenge,
		ClientIP:     clientIP(r),
		Outcome:      models.AuditSuccess,
		Detail:       "otp issued",
	})

	writeSuccess(w, http.StatusOK, "code sent", map[string]any{
		"delivery":   mfa.MaskEmail(principal.Email),
		"expires_at": ch.ExpiresAt,
	})
}

// OTPVerifyHandler handles POST /v1/auth/mfa/otp/verify. A correct code
// consumes the challenge and completes the login.
func (s *Server) OTPVerifyHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Ticket string `json:"ticket"`
		Code   string `json:"code"`
	}
	if err := decodeJSON(r, &req); err != nil || req.Ticket == "" || req.Code == "" {
		writeFailure(w, http.StatusBadRequest, "ticket and code are required", nil)
		return
	}
	principal, err := s.sessions.VerifyPendingTicket(req.Ticket)
	if err != nil {
		writeErr(w, err)
		return
	}

	remaining, err := s.otp.Verify(r.Context(), principal.Subject, req.Code)
	if err != nil {
		mfaChallengesTotal.WithLabelValues("otp", "failed").Inc()
		s.auditor.Record(r.Context(), &models.AuditEntry{
			RequestID:    requestIDFromCtx(r.Context()),
			ActorSubject: principal.Subject,
			ActorRole:    principal.Role.String(),
			Action:       models.ActionMFAVerify,
			ClientIP:     clientIP(r),
			Outcome:      models.AuditFailed,
			Detail:       err.Error(),
		})
		if errors.Is(err, mfa.ErrInvalidCode) {
			writeFailure(w, http.StatusBadRequest, "invalid code", map[string]any{
				"attempts_remaining": remaining,
			})
			return
		}
		writeErr(w, err)
		return
	}
	mfaChallengesTotal.WithLabelValues("otp", "verified").Inc()

	tokens, err := s.sessions.IssueTokens(r.Context(), principal.Subject)
	if err != nil {
		writeErr(w, err)
		return
	}
	s.recordLoginSuccess(r, principal)
	writeSuccess(w, http.StatusOK, "login successful", map[string]any{
		"role":   principal.Role.String(),
		"tokens": tokens,
	})
}

// WebAuthnRegisterBeginHandler handles POST /v1/auth/mfa/webauthn/register/begin
// for an authenticated principal.
func (s *Server) WebAuthnRegisterBeginHandler(w http.ResponseWriter, r *http.Request) {
	principal := auth.PrincipalFromContext(r.Context())
	if principal == nil {
		writeFailure(w, http.StatusUnauthorized, "authentication required", nil)
		return
	}
	creation, err := s.webauthn.BeginRegistration(r.Context(), principal)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, "registration started", creation)
}

// WebAuthnRegisterFinishHandler handles POST /v1/auth/mfa/webauthn/register/finish.
// The attestation response is the raw request body; the credential label
// rides in the query string because the library consumes the body.
func (s *Server) WebAuthnRegisterFinishHandler(w http.ResponseWriter, r *http.Request) {
	principal := auth.PrincipalFromContext(r.Context())
	if principal == nil {
		writeFailure(w, http.StatusUnauthorized, "authentication required", nil)
		return
	}
	label := r.URL.Query().Get("label")
	if label == "" {
		label = "security key"
	}
	cred, err := s.webauthn.FinishRegistration(r.Context(), principal, label, r)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeSuccess(w, http.StatusCreated, "credential registered", map[string]any{
		"id":         cred.ID,
		"label":      cred.Label,
		"created_at": cred.CreatedAt,
	})
}

// CredentialListHandler handles GET /v1/auth/mfa/webauthn/credentials
func (s *Server) CredentialListHandler(w http.ResponseWriter, r *http.Request) {
	principal := auth.PrincipalFromContext(r.Context())
	if principal == nil {
		writeFailure(w, http.StatusUnauthorized, "authentication required", nil)
		return
	}
	creds, err := s.webauthn.ListCredentials(r.Context(), principal.Subject)
	if err != nil {
		writeErr(w, err)
		return
	}
	out := make([]map[string]any, 0, len(creds))
	for _, c := range creds {
		out = append(out, map[string]any{
			"id":           c.ID,
			"label":        c.Label,
			"created_at":   c.CreatedAt,
			"last_used_at": c.LastUsedAt,
		})
	}
	writeSuccess(w, http.StatusOK, "", out)
}

// CredentialRemoveHandler handles DELETE /v1/auth/mfa/webauthn/credentials/{id}
func (s *Server) CredentialRemoveHandler(w http.ResponseWriter, r *http.Request) {
	principal := auth.PrincipalFromContext(r.Context())
	if principal == nil {
		writeFailure(w, http.StatusUnauthorized, "authentication required", nil)
		return
	}
	if err := s.webauthn.RemoveCredential(r.Context(), principal.Subject, chi.URLParam(r, "id")); err != nil {
		writeErr(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, "credential removed", nil)
}

// WebAuthnLoginBeginHandler handles POST /v1/auth/mfa/webauthn/login/begin.
// Pre-auth: the caller identifies by email and receives an assertion
// challenge scoped to that principal's registered credentials.
func (s *Server) WebAuthnLoginBeginHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := decodeJSON(r, &req); err != nil || req.Email == "" {
		writeFailure(w, http.StatusBadRequest, "email is required", nil)
		return
	}
	assertion, err := s.webauthn.BeginLogin(r.Context(), req.Email)
	if err != nil {
		writeErr(w, err)
		return
	}
	mfaChallengesTotal.WithLabelValues("webauthn", "issued").Inc()
	writeSuccess(w, http.StatusOK, "assertion challenge issued", assertion)
}

// WebAuthnLoginFinishHandler handles POST /v1/auth/mfa/webauthn/login/finish.
// The assertion response is the raw body, so the email rides in the query
// string. A verified assertion completes the login and mints tokens.
func (s *Server) WebAuthnLoginFinishHandler(w http.ResponseWriter, r *http.Request) {
	email := r.URL.Query().Get("email")
	if email == "" {
		writeFailure(w, http.StatusBadRequest, "email is required", nil)
		return
	}
	rec, err := s.webauthn.FinishLogin(r.Context(), email, r)
	if err != nil {
		mfaChallengesTotal.WithLabelValues("webauthn", "failed").Inc()
		s.auditor.Record(r.Context(), &models.AuditEntry{
			RequestID:    requestIDFromCtx(r.Context()),
			ActorSubject: email,
			Action:       models.ActionMFAVerify,
			ClientIP:     clientIP(r),
			Outcome:      models.AuditFailed,
			Detail:       err.Error(),
		})
		writeErr(w, err)
		return
	}
	mfaChallengesTotal.WithLabelValues("webauthn", "verified").Inc()

	tokens, err := s.sessions.IssueTokens(r.Context(), rec.Subject)
	if err != nil {
		writeErr(w, err)
		return
	}
	principal := &models.Principal{Subject: rec.Subject, Email: rec.Email, Role: rec.Role}
	s.recordLoginSuccess(r, principal)
	writeSuccess(w, http.StatusOK, "login successful", map[string]any{
		"role":   rec.Role.String(),
		"tokens": tokens,
	})
}
