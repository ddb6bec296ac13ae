package api

import (
	"errors"
	"net/http"

	"github.com/org/healthgate/internal/auth"
	"github.com/org/healthgate/internal/idp"
	"github.com/org/healthgate/pkg/models"
)

// LoginHandler handles POST /v1/auth/login
func (s *Server) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &req); err != nil || req.Email == "" || req.Password == "" {
		writeFailure(w, http.StatusBadRequest, "email and password are required", nil)
		return
	}

	result, err := s.sessions.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, idp.ErrInvalidCredentials) {
			// Capture the attempted identity for brute-force visibility.
			// The submitted password is never recorded.
			s.auditor.Record(r.Context(), &models.AuditEntry{
				RequestID:    requestIDFromCtx(r.Context()),
				Action:       models.ActionLogin,
				ActorSubject: req.Email,
				ClientIP:     clientIP(r),
				Outcome:      models.AuditFailed,
				Detail:       "credentials rejected",
			})
			loginsTotal.WithLabelValues("failed").Inc()
		}
		writeErr(w, err)
		return
	}

	switch result.Status {
	case auth.LoginPasswordChangeRequired:
		writeSuccess(w, http.StatusOK, "password change required", map[string]any{
			"challenge": "NEW_PASSWORD_REQUIRED",
			"email":     req.Email,
		})
	case auth.LoginMFARequired:
		loginsTotal.WithLabelValues("mfa_required").Inc()
		writeSuccess(w, http.StatusOK, "mfa required", map[string]any{
			"mfa_required":      true,
			"role":              result.Principal.Role.String(),
			"ticket":            result.PendingTicket,
			"ticket_expires_at": result.PendingTicketExpiresAt,
		})
	default:
		s.recordLoginSuccess(r, &result.Principal)
		writeSuccess(w, http.StatusOK, "login successful", map[string]any{
			"role":   result.Principal.Role.String(),
			"tokens": result.Tokens,
		})
	}
}

// ChangePasswordHandler handles POST /v1/auth/change-password
func (s *Server) ChangePasswordHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email       string `json:"email"`
		OldPassword string `json:"old_password"`
		NewPassword string `json:"new_password"`
	}
	if err := decodeJSON(r, &req); err != nil || req.Email == "" || req.OldPassword == "" || req.NewPassword == "" {
		writeFailure(w, http.StatusBadRequest, "email, old_password and new_password are required", nil)
		return
	}

	result, err := s.sessions.ChangePassword(r.Context(), req.Email, req.OldPassword, req.NewPassword)
	if err != nil {
		writeErr(w, err)
		return
	}

	s.auditor.Record(r.Context(), &models.AuditEntry{
		RequestID:    requestIDFromCtx(r.Context()),
		ActorSubject: result.Principal.Subject,
		ActorRole:    result.Principal.Role.String(),
		Action:       models.ActionPasswordChange,
		ClientIP:     clientIP(r),
		Outcome:      models.AuditSuccess,
	})

	if result.Status == auth.LoginMFARequired {
		writeSuccess(w, http.StatusOK, "mfa required", map[string]any{
			"mfa_required":      true,
			"role":              result.Principal.Role.String(),
			"ticket":            result.PendingTicket,
			"ticket_expires_at": result.PendingTicketExpiresAt,
		})
		return
	}
	s.recordLoginSuccess(r, &result.Principal)
	writeSuccess(w, http.StatusOK, "login successful", map[string]any{
		"role":   result.Principal.Role.String(),
		"tokens": result.Tokens,
	})
}

// recordLoginSuccess emits the terminal LOGIN success audit entry.
func (s *Server) recordLoginSuccess(r *http.Request, p *models.Principal) {
	loginsTotal.WithLabelValues("success").Inc()
	s.auditor.Record(r.Context(), &models.AuditEntry{
		RequestID:    requestIDFromCtx(r.Context()),
		ActorSubject: p.Subject,
		ActorRole:    p.Role.String(),
		Action:       models.ActionLogin,
		ClientIP:     clientIP(r),
		Outcome:      models.AuditSuccess,
	})
}
