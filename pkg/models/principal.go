package models

import "time"

// Role is the closed set of canonical roles, ordered by privilege rank.
// RoleUnknown ranks below every real role and fails every policy check.
type Role int

const (
	RoleUnknown      Role = 0
	RolePatient      Role = 1
	RoleReceptionist Role = 2
	RoleNurse        Role = 3
	RoleDoctor       Role = 4
	RoleAdmin        Role = 5
)

var roleNames = map[Role]string{
	RolePatient:      "patient",
	RoleReceptionist: "receptionist",
	RoleNurse:        "nurse",
	RoleDoctor:       "doctor",
	RoleAdmin:        "admin",
}

func (r Role) String() string {
	if name, ok := roleNames[r]; ok {
		return name
	}
	return "unknown"
}

// Rank returns the role's position in the privilege hierarchy.
func (r Role) Rank() int {
	return int(r)
}

// ParseRole maps a canonical role string to its enum value.
// Unrecognized strings map to RoleUnknown.
func ParseRole(s string) Role {
	for role, name := range roleNames {
		if name == s {
			return role
		}
	}
	return RoleUnknown
}

// Principal is an authenticated actor, reconstructed on every request from
// the verified token. It is never persisted as a standalone entity.
type Principal struct {
	Subject string
	Email   string
	Role    Role
	// Groups holds the raw group memberships from the identity provider,
	// kept for audit and debugging only.
	Groups []string
}

// PrincipalRecord is the directory row the relational store keeps for a
// provider subject. It is refreshed on every successful login so that
// pre-auth flows (WebAuthn login by email) can resolve email to subject.
type PrincipalRecord struct {
	Subject        string
	Email          string
	Role           Role
	LastVerifiedAt *time.Time
	UpdatedAt      time.Time
}
