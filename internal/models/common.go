package models

import "github.com/golang-jwt/jwt/v5"

// UserRole distinguishes church staff from members.
type UserRole string

const (
	RoleAdmin       UserRole = "ADMIN"
	RoleChurchOwner UserRole = "CHURCH_OWNER"
	RoleStaff       UserRole = "STAFF"
	RoleMember      UserRole = "MEMBER"
)

// IsStaff reports whether the role may manage schedules and approve bookings.
func (r UserRole) IsStaff() bool {
	return r == RoleAdmin || r == RoleChurchOwner || r == RoleStaff
}

// JWTClaims represents the access-token payload issued by the auth service.
type JWTClaims struct {
	UserID   string   `json:"user_id"`
	Role     UserRole `json:"role"`
	ChurchID string   `json:"church_id,omitempty"`
	jwt.RegisteredClaims
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}
