// Package models defines server-side data models persisted in the database.
package models

import (
	"fmt"
	"time"
)

// Role is the closed set of authorization roles. Endpoints declare the
// roles allowed to call them; the check runs in the auth gate after the
// Digest handshake succeeds.
type Role string

const (
	RoleUser    Role = "user"
	RoleSupport Role = "support"
	RoleAdmin   Role = "admin"
)

// ParseRole maps stored text to a Role, rejecting anything outside the
// closed set.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleUser, RoleSupport, RoleAdmin:
		return Role(s), nil
	default:
		return "", fmt.Errorf("unknown role %q", s)
	}
}

// User is a credential record for HTTP Digest authentication. HA1 is
// MD5(username:realm:password), computed once at registration; it is the
// only secret-derived value the server stores, and it is bound to the
// realm it was computed under.
type User struct {
	ID        string
	UserName  string // unique, compared case-insensitively
	Email     string
	HA1       string // lowercase hex, 32 chars
	Role      Role
	CreatedAt time.Time
}
