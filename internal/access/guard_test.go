package access

import (
	"testing"

	"github.com/org/healthgate/pkg/models"
)

func principal(r models.Role) *models.Principal {
	return &models.Principal{Subject: "s", Role: r}
}

func TestCheckRoleHierarchy(t *testing.T) {
	roles := []models.Role{
		models.RolePatient,
		models.RoleReceptionist,
		models.RoleNurse,
		models.RoleDoctor,
		models.RoleAdmin,
	}
	for _, have := range roles {
		for _, min := range roles {
			err := CheckRole(principal(have), min)
			if have.Rank() >= min.Rank() && err != nil {
				t.Errorf("CheckRole(%v, %v) = %v, want nil", have, min, err)
			}
			if have.Rank() < min.Rank() && err == nil {
				t.Errorf("CheckRole(%v, %v) = nil, want ErrForbidden", have, min)
			}
		}
	}
}

func TestCheckRoleUnknownFailsEverything(t *testing.T) {
	if err := CheckRole(principal(models.RoleUnknown), models.RolePatient); err == nil {
		t.Error("unknown role should fail the lowest check")
	}
	if err := CheckRole(nil, models.RolePatient); err == nil {
		t.Error("nil principal should fail")
	}
}

func TestCheckAnyRoleExactMembership(t *testing.T) {
	if err := CheckAnyRole(principal(models.RoleDoctor), models.RoleDoctor); err != nil {
		t.Errorf("doctor in doctor-only list: %v", err)
	}
	// Rank does not substitute for membership.
	if err := CheckAnyRole(principal(models.RoleAdmin), models.RoleDoctor); err == nil {
		t.Error("admin must be rejected by a doctor-only list")
	}
	if err := CheckAnyRole(principal(models.RoleNurse), models.RoleNurse, models.RoleDoctor); err != nil {
		t.Errorf("nurse in nurse-or-doctor list: %v", err)
	}
	if err := CheckAnyRole(principal(models.RolePatient)); err == nil {
		t.Error("empty list must reject everyone")
	}
	if err := CheckAnyRole(nil, models.RoleDoctor); err == nil {
		t.Error("nil principal should fail")
	}
}

func TestCapabilityPredicates(t *testing.T) {
	tests := []struct {
		role          models.Role
		fullDiagnosis bool
		summary       bool
		identifiers   bool
		records       bool
		vitals        bool
	}{
		{models.RolePatient, false, false, false, false, false},
		{models.RoleReceptionist, false, false, true, false, false},
		{models.RoleNurse, false, true, true, false, true},
		{models.RoleDoctor, true, true, true, true, true},
		{models.RoleAdmin, false, false, false, false, false},
		{models.RoleUnknown, false, false, false, false, false},
	}
	for _, tt := range tests {
		if got := CanViewFullDiagnosis(tt.role); got != tt.fullDiagnosis {
			t.Errorf("CanViewFullDiagnosis(%v) = %v", tt.role, got)
		}
		if got := CanViewDiagnosisSummary(tt.role); got != tt.summary {
			t.Errorf("CanViewDiagnosisSummary(%v) = %v", tt.role, got)
		}
		if got := CanViewIdentifiers(tt.role); got != tt.identifiers {
			t.Errorf("CanViewIdentifiers(%v) = %v", tt.role, got)
		}
		if got := CanModifyRecords(tt.role); got != tt.records {
			t.Errorf("CanModifyRecords(%v) = %v", tt.role, got)
		}
		if got := CanModifyVitals(tt.role); got != tt.vitals {
			t.Errorf("CanModifyVitals(%v) = %v", tt.role, got)
		}
	}
}
