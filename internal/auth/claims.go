package auth

import (
	"github.com/golang-jwt/jwt/v5"
)

// Claims is the claim set healthgate requires from the identity provider:
// standard registered claims plus an array-valued group-membership claim and
// an optional custom role claim.
type Claims struct {
	jwt.RegisteredClaims
	Email     string   `json:"email"`
	Groups    []string `json:"groups"`
	RoleClaim string   `json:"role"`
}
