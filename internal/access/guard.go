// Package access implements the role-hierarchy and any-of-role policy
// checks, plus the capability predicates handlers use for field projection.
// Checks are pure so the short-circuit order of the HTTP guard chain is a
// visible, testable property of the api package, not of closure nesting.
package access

import (
	"errors"

	"github.com/org/healthgate/pkg/models"
)

// ErrForbidden indicates the principal's role failed a policy check.
var ErrForbidden = errors.New("forbidden")

// CheckRole passes iff rank(principal.role) >= rank(min).
func CheckRole(p *models.Principal, min models.Role) error {
	if p == nil || p.Role.Rank() < min.Rank() {
		return ErrForbidden
	}
	return nil
}

// CheckAnyRole passes iff the principal's role is literally one of roles.
// Membership is exact: rank is irrelevant, so an admin is rejected by a
// doctor-only list.
func CheckAnyRole(p *models.Principal, roles ...models.Role) error {
	if p == nil {
		return ErrForbidden
	}
	for _, r := range roles {
		if p.Role == r {
			return nil
		}
	}
	return ErrForbidden
}

// Capability predicates. These shape response fields on endpoints shared by
// several roles; they never gate the call itself.

// CanViewFullDiagnosis reports whether the role may read raw diagnosis text.
func CanViewFullDiagnosis(r models.Role) bool {
	return r == models.RoleDoctor
}

// CanViewDiagnosisSummary reports whether the role may read the summarized
// diagnosis projection.
func CanViewDiagnosisSummary(r models.Role) bool {
	return r == models.RoleDoctor || r == models.RoleNurse
}

// CanViewIdentifiers reports whether the role may read national-ID and
// insurance-number fields.
func CanViewIdentifiers(r models.Role) bool {
	return r == models.RoleDoctor || r == models.RoleNurse || r == models.RoleReceptionist
}

// CanModifyRecords reports whether the role may write clinical records.
func CanModifyRecords(r models.Role) bool {
	return r == models.RoleDoctor
}

// CanModifyVitals reports whether the role may write vital signs.
func CanModifyVitals(r models.Role) bool {
	return r == models.RoleNurse || r == models.RoleDoctor
}
