package auth

import (
	"strings"

	"github.com/org/healthgate/pkg/models"
)

// ResolveRoleString normalizes the raw role signals from a claim set into
// one canonical role string. Priority order: first group membership, then
// the custom role claim, then the default "patient".
//
// The upstream provider names groups in plural, mixed case ("Doctors",
// "Nurses"), so exactly one trailing "s" is stripped from the lower-cased
// group name. This is deliberate compatibility behavior, not general
// de-pluralization. No validation happens here: unmapped strings pass
// through and fail every downstream policy check.
func ResolveRoleString(groups []string, roleClaim string) string {
	if len(groups) > 0 {
		g := strings.ToLower(groups[0])
		return strings.TrimSuffix(g, "s")
	}
	if roleClaim != "" {
		return strings.ToLower(roleClaim)
	}
	return "patient"
}

// ResolveRole binds the normalized role string to the closed Role enum at
// the boundary. Unrecognized strings map to RoleUnknown.
func ResolveRole(groups []string, roleClaim string) models.Role {
	return models.ParseRole(ResolveRoleString(groups, roleClaim))
}

// RequiresMFA reports whether the role must pass a multi-factor challenge
// before a session is issued. Patients bypass MFA by design.
func RequiresMFA(r models.Role) bool {
	switch r {
	case models.RoleReceptionist, models.RoleNurse, models.RoleDoctor, models.RoleAdmin:
		return true
	}
	return false
}
