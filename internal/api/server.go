package api

import (
	"context"
	"crypto/tls"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/org/healthgate/internal/audit"
	"github.com/org/healthgate/internal/auth"
	"github.com/org/healthgate/internal/clinical"
	"github.com/org/healthgate/internal/mfa"
	"github.com/org/healthgate/internal/storage"
	"github.com/org/healthgate/pkg/models"
)

// Config holds server configuration.
type Config struct {
	ListenAddr  string
	TLSCertFile string
	TLSKeyFile  string
}

// Deps are the explicitly constructed collaborators the server composes.
// Everything is injected; there are no module-level singletons.
type Deps struct {
	Store    storage.Store
	Verifier *auth.Verifier
	Sessions *auth.SessionIssuer
	OTP      *mfa.OTPService
	WebAuthn *mfa.WebAuthnService
	Clinical *clinical.Service
	Auditor  *audit.Recorder
}

// Server is the API server.
type Server struct {
	store    storage.Store
	verifier *auth.Verifier
	sessions *auth.SessionIssuer
	otp      *mfa.OTPService
	webauthn *mfa.WebAuthnService
	clinical *clinical.Service
	auditor  *audit.Recorder
	cfg      Config
	httpSrv  *http.Server
}

// NewServer creates a fully wired Server.
func NewServer(deps Deps, cfg Config) *Server {
	return &Server{
		store:    deps.Store,
		verifier: deps.Verifier,
		sessions: deps.Sessions,
		otp:      deps.OTP,
		webauthn: deps.WebAuthn,
		clinical: deps.Clinical,
		auditor:  deps.Auditor,
		cfg:      cfg,
	}
}

// BuildRouter wires up all routes and returns a chi router. Guard order per
// route is auth → audit wrap → role guard → handler, outermost first, each
// layer able to short-circuit the next. The audit wrap sits outside the
// role guard so a role denial is still recorded.
func (s *Server) BuildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(metricsMiddleware)
	r.Use(newRateLimiter(100, 200).middleware)

	// Prometheus metrics (unauthenticated)
	r.Handle("/metrics", MetricsHandler())

	// Public routes (no bearer token required)
	r.Group(func(r chi.Router) {
		r.Get("/v1/sys/health", s.HealthHandler)
		r.Post("/v1/auth/login", s.LoginHandler)
		r.Post("/v1/auth/change-password", s.ChangePasswordHandler)
		r.Post("/v1/auth/mfa/otp/init", s.OTPInitHandler)
		r.Post("/v1/auth/mfa/otp/verify", s.OTPVerifyHandler)
		r.Post("/v1/auth/mfa/webauthn/login/begin", s.WebAuthnLoginBeginHandler)
		r.Post("/v1/auth/mfa/webauthn/login/finish", s.WebAuthnLoginFinishHandler)
	})

	// Authenticated routes
	r.Group(func(r chi.Router) {
		r.Use(authMiddleware(s.verifier))

		// WebAuthn credential management
		r.Post("/v1/auth/mfa/webauthn/register/begin", s.WebAuthnRegisterBeginHandler)
		r.Post("/v1/auth/mfa/webauthn/register/finish",
			s.audited(models.ActionCredentialAdd, "credential", s.WebAuthnRegisterFinishHandler))
		r.Get("/v1/auth/mfa/webauthn/credentials", s.CredentialListHandler)
		r.Delete("/v1/auth/mfa/webauthn/credentials/{id}",
			s.audited(models.ActionCredentialRemove, "credential", s.CredentialRemoveHandler))

		// Patients
		r.Post("/v1/patients",
			s.audited(models.ActionPatientCreate, "patient",
				requireAnyRole([]models.Role{models.RoleReceptionist, models.RoleAdmin}, s.PatientCreateHandler)))
		r.Get("/v1/patients",
			requireRole(models.RoleReceptionist, s.PatientListHandler))
		r.Get("/v1/patients/{id}",
			s.audited(models.ActionPatientView, "patient",
				requireRole(models.RolePatient, s.PatientGetHandler)))
		r.Put("/v1/patients/{id}",
			s.audited(models.ActionPatientUpdate, "patient",
				requireAnyRole([]models.Role{models.RoleReceptionist, models.RoleAdmin}, s.PatientUpdateHandler)))

		// Medical records
		r.Post("/v1/patients/{patientID}/records",
			s.audited(models.ActionRecordCreate, "record",
				requireAnyRole([]models.Role{models.RoleDoctor}, s.RecordCreateHandler)))
		r.Get("/v1/patients/{patientID}/records",
			s.audited(models.ActionRecordView, "record",
				requireRole(models.RolePatient, s.RecordListHandler)))
		r.Get("/v1/records/{id}",
			s.audited(models.ActionRecordView, "record",
				requireRole(models.RolePatient, s.RecordGetHandler)))
		r.Put("/v1/records/{id}",
			s.audited(models.ActionRecordUpdate, "record",
				requireAnyRole([]models.Role{models.RoleDoctor}, s.RecordUpdateHandler)))

		// Prescriptions
		r.Post("/v1/patients/{patientID}/prescriptions",
			s.audited(models.ActionPrescriptionWrite, "prescription",
				requireAnyRole([]models.Role{models.RoleDoctor}, s.PrescriptionCreateHandler)))
		r.Get("/v1/patients/{patientID}/prescriptions",
			requireRole(models.RolePatient, s.PrescriptionListHandler))

		// Vital signs
		r.Post("/v1/patients/{patientID}/vitals",
			s.audited(models.ActionVitalsWrite, "vitals",
				requireAnyRole([]models.Role{models.RoleNurse, models.RoleDoctor}, s.VitalsCreateHandler)))
		r.Get("/v1/patients/{patientID}/vitals",
			requireRole(models.RolePatient, s.VitalsListHandler))

		// Audit trail
		r.Get("/v1/audit",
			requireAnyRole([]models.Role{models.RoleAdmin}, s.AuditQueryHandler))
	})

	return r
}

// audited records an audit entry for an authenticated route based on the
// response status: 2xx is success, 401/403 is denied, anything else failed.
func (s *Server) audited(action, resourceType string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rr := &responseRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next(rr, r)

		outcome := models.AuditSuccess
		switch {
		case rr.statusCode == http.StatusUnauthorized || rr.statusCode == http.StatusForbidden:
			outcome = models.AuditDenied
		case rr.statusCode >= 400:
			outcome = models.AuditFailed
		}

		entry := &models.AuditEntry{
			RequestID:    requestIDFromCtx(r.Context()),
			Action:       action,
			ResourceType: resourceType,
			ResourceID:   chi.URLParam(r, "id"),
			PatientID:    chi.URLParam(r, "patientID"),
			ClientIP:     clientIP(r),
			Outcome:      outcome,
		}
		if resourceType == "patient" {
			entry.PatientID = entry.ResourceID
		}
		if p := auth.PrincipalFromContext(r.Context()); p != nil {
			entry.ActorSubject = p.Subject
			entry.ActorRole = p.Role.String()
		}
		s.auditor.Record(r.Context(), entry)
	}
}

// HealthHandler handles GET /v1/sys/health
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, http.StatusOK, "ok", map[string]any{"status": "healthy"})
}

// Start begins listening on the configured address.
func (s *Server) Start() error {
	handler := s.BuildRouter()

	s.httpSrv = &http.Server{
		Addr:         s.cfg.ListenAddr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	if s.cfg.TLSCertFile != "" && s.cfg.TLSKeyFile != "" {
		s.httpSrv.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
			CurvePreferences: []tls.CurveID{
				tls.CurveP256,
				tls.X25519,
			},
		}
		log.Info().Str("addr", s.cfg.ListenAddr).Msg("starting HTTPS server")
		return s.httpSrv.ListenAndServeTLS(s.cfg.TLSCertFile, s.cfg.TLSKeyFile)
	}

	log.Info().Str("addr", s.cfg.ListenAddr).Msg("starting HTTP server")
	return s.httpSrv.ListenAndServe()
}

// Shutdown gracefully stops the server and drains pending audit writes.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	err := s.httpSrv.Shutdown(ctx)
	s.auditor.Close()
	return err
}
