package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/org/healthgate/internal/auth"
	"github.com/org/healthgate/internal/clinical"
	"github.com/org/healthgate/pkg/models"
)

// PatientCreateHandler handles POST /v1/patients
func (s *Server) PatientCreateHandler(w http.ResponseWriter, r *http.Request) {
	var in clinical.PatientInput
	if err := decodeJSON(r, &in); err != nil || in.GivenName == "" || in.FamilyName == "" {
		writeFailure(w, http.StatusBadRequest, "given_name and family_name are required", nil)
		return
	}
	p, err := s.clinical.CreatePatient(r.Context(), &in)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeSuccess(w, http.StatusCreated, "patient created", map[string]any{"id": p.ID})
}

// PatientGetHandler handles GET /v1/patients/{id}
func (s *Server) PatientGetHandler(w http.ResponseWriter, r *http.Request) {
	principal := auth.PrincipalFromContext(r.Context())
	if principal == nil {
		writeFailure(w, http.StatusUnauthorized, "authentication required", nil)
		return
	}
	view, err := s.clinical.GetPatient(r.Context(), principal, chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, "", view)
}

// PatientListHandler handles GET /v1/patients
func (s *Server) PatientListHandler(w http.ResponseWriter, r *http.Request) {
	principal := auth.PrincipalFromContext(r.Context())
	if principal == nil {
		writeFailure(w, http.StatusUnauthorized, "authentication required", nil)
		return
	}
	limit, offset := paginationParams(r)
	views, err := s.clinical.ListPatients(r.Context(), principal, limit, offset)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, "", views)
}

// PatientUpdateHandler handles PUT /v1/patients/{id}
func (s *Server) PatientUpdateHandler(w http.ResponseWriter, r *http.Request) {
	var in clinical.PatientInput
	if err := decodeJSON(r, &in); err != nil {
		writeFailure(w, http.StatusBadRequest, "invalid request body", nil)
		return
	}
	p, err := s.clinical.UpdatePatient(r.Context(), chi.URLParam(r, "id"), &in)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, "patient updated", map[string]any{"id": p.ID, "updated_at": p.UpdatedAt})
}

// RecordCreateHandler handles POST /v1/patients/{patientID}/records
func (s *Server) RecordCreateHandler(w http.ResponseWriter, r *http.Request) {
	principal := auth.PrincipalFromContext(r.Context())
	if principal == nil {
		writeFailure(w, http.StatusUnauthorized, "authentication required", nil)
		return
	}
	var req struct {
		Diagnosis string `json:"diagnosis"`
		Notes     string `json:"notes"`
	}
	if err := decodeJSON(r, &req); err != nil || req.Diagnosis == "" {
		writeFailure(w, http.StatusBadRequest, "diagnosis is required", nil)
		return
	}
	rec, err := s.clinical.CreateRecord(r.Context(), principal, chi.URLParam(r, "patientID"), req.Diagnosis, req.Notes)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeSuccess(w, http.StatusCreated, "record created", map[string]any{"id": rec.ID})
}

// RecordListHandler handles GET /v1/patients/{patientID}/records
func (s *Server) RecordListHandler(w http.ResponseWriter, r *http.Request) {
	principal := auth.PrincipalFromContext(r.Context())
	if principal == nil {
		writeFailure(w, http.StatusUnauthorized, "authentication required", nil)
		return
	}
	views, err := s.clinical.ListRecords(r.Context(), principal, chi.URLParam(r, "patientID"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, "", views)
}

// RecordGetHandler handles GET /v1/records/{id}
func (s *Server) RecordGetHandler(w http.ResponseWriter, r *http.Request) {
	principal := auth.PrincipalFromContext(r.Context())
	if principal == nil {
		writeFailure(w, http.StatusUnauthorized, "authentication required", nil)
		return
	}
	view, err := s.clinical.GetRecord(r.Context(), principal, chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, "", view)
}

// RecordUpdateHandler handles PUT /v1/records/{id}
func (s *Server) RecordUpdateHandler(w http.ResponseWriter, r *http.Request) {
	principal := auth.PrincipalFromContext(r.Context())
	if principal == nil {
		writeFailure(w, http.StatusUnauthorized, "authentication required", nil)
		return
	}
	var req struct {
		Diagnosis string `json:"diagnosis"`
		Notes     string `json:"notes"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeFailure(w, http.StatusBadRequest, "invalid request body", nil)
		return
	}
	rec, err := s.clinical.UpdateRecord(r.Context(), principal, chi.URLParam(r, "id"), req.Diagnosis, req.Notes)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, "record updated", map[string]any{"id": rec.ID, "updated_at": rec.UpdatedAt})
}

// PrescriptionCreateHandler handles POST /v1/patients/{patientID}/prescriptions
func (s *Server) PrescriptionCreateHandler(w http.ResponseWriter, r *http.Request) {
	principal := auth.PrincipalFromContext(r.Context())
	if principal == nil {
		writeFailure(w, http.StatusUnauthorized, "authentication required", nil)
		return
	}
	var req struct {
		RecordID   string `json:"record_id"`
		Medication string `json:"medication"`
		Dosage     string `json:"dosage"`
	}
	if err := decodeJSON(r, &req); err != nil || req.Medication == "" || req.Dosage == "" {
		writeFailure(w, http.StatusBadRequest, "medication and dosage are required", nil)
		return
	}
	p, err := s.clinical.CreatePrescription(r.Context(), principal, chi.URLParam(r, "patientID"), req.RecordID, req.Medication, req.Dosage)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeSuccess(w, http.StatusCreated, "prescription created", map[string]any{"id": p.ID})
}

// PrescriptionListHandler handles GET /v1/patients/{patientID}/prescriptions
func (s *Server) PrescriptionListHandler(w http.ResponseWriter, r *http.Request) {
	principal := auth.PrincipalFromContext(r.Context())
	if principal == nil {
		writeFailure(w, http.StatusUnauthorized, "authentication required", nil)
		return
	}
	list, err := s.clinical.ListPrescriptions(r.Context(), principal, chi.URLParam(r, "patientID"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, "", list)
}

// VitalsCreateHandler handles POST /v1/patients/{patientID}/vitals
func (s *Server) VitalsCreateHandler(w http.ResponseWriter, r *http.Request) {
	principal := auth.PrincipalFromContext(r.Context())
	if principal == nil {
		writeFailure(w, http.StatusUnauthorized, "authentication required", nil)
		return
	}
	var v models.VitalSign
	if err := decodeJSON(r, &v); err != nil {
		writeFailure(w, http.StatusBadRequest, "invalid request body", nil)
		return
	}
	v.PatientID = chi.URLParam(r, "patientID")
	out, err := s.clinical.RecordVitals(r.Context(), principal, &v)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeSuccess(w, http.StatusCreated, "vitals recorded", map[string]any{"id": out.ID})
}

// VitalsListHandler handles GET /v1/patients/{patientID}/vitals
func (s *Server) VitalsListHandler(w http.ResponseWriter, r *http.Request) {
	principal := auth.PrincipalFromContext(r.Context())
	if principal == nil {
		writeFailure(w, http.StatusUnauthorized, "authentication required", nil)
		return
	}
	list, err := s.clinical.ListVitals(r.Context(), principal, chi.URLParam(r, "patientID"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, "", list)
}

// paginationParams parses limit and offset query parameters with sane caps.
func paginationParams(r *http.Request) (limit, offset int) {
	limit = 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}
