package models

import (
	"time"
)

// Role is a closed set of capabilities a user can hold.
type Role string

const (
	RoleBuyer   Role = "buyer"
	RoleSeller  Role = "seller"
	RoleAdmin   Role = "admin"
	RoleCourier Role = "courier"
)

// ValidRole reports whether role is one of the known role values.
func ValidRole(role Role) bool {
	switch role {
	case RoleBuyer, RoleSeller, RoleAdmin, RoleCourier:
		return true
	}
	return false
}

// KycStatus tracks seller identity verification.
type KycStatus string

const (
	KycStatusNone     KycStatus = "none"
	KycStatusPending  KycStatus = "pending"
	KycStatusVerified KycStatus = "verified"
	KycStatusRejected KycStatus = "rejected"
)

// User is the identity projection the order/messaging core consumes.
// Profile management beyond this lives outside the core.
type User struct {
	Base         `bson:",inline"`
	Name         string    `bson:"name" json:"name"`
	Email        string    `bson:"email" json:"email"`
	Phone        string    `bson:"phone,omitempty" json:"phone,omitempty"`
	PasswordHash string    `bson:"password_hash" json:"-"`
	Roles        []Role    `bson:"roles" json:"roles"`
	IsActive     bool      `bson:"is_active" json:"is_active"`
	KycStatus    KycStatus `bson:"kyc_status" json:"kyc_status"`
	CreatedAt    time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt    time.Time `bson:"updated_at" json:"updated_at"`
}

// HasRole reports whether the user holds the given role.
func (u *User) HasRole(role Role) bool {
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// HasAnyRole reports whether the role slice contains the given role.
// Used where only the claim set is available, not the full user document.
func HasAnyRole(roles []Role, role Role) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}
