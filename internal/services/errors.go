package services

import (
	"errors"
	"fmt"

	"github.com/Yonatanhaile/tigray-marketplace/internal/models"
	"github.com/Yonatanhaile/tigray-marketplace/internal/utils"
)

// Sentinel errors for the business-rule taxonomy. All services return
// failures wrapping one of these; handlers match with errors.Is and map
// to HTTP status codes or real-time error events. Anything else is
// treated as internal.
var (
	ErrNotFound          = errors.New("not found")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrForbidden         = errors.New("forbidden")
	ErrInvalidOperation  = errors.New("invalid operation")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrConflict          = errors.New("conflict")
	ErrValidation        = errors.New("validation failed")
)

// DisputeExistsError is returned when filing a dispute on an order that
// already has an active one. It carries the existing dispute's id so the
// client can navigate to it instead of getting a dead end.
type DisputeExistsError struct {
	DisputeID utils.SixID
}

func (e *DisputeExistsError) Error() string {
	return fmt.Sprintf("an active dispute already exists for this order: %s", e.DisputeID.String())
}

func (e *DisputeExistsError) Unwrap() error {
	return ErrConflict
}

// Actor is the authenticated identity performing an operation, resolved
// by the HTTP middleware or the websocket handshake. Both layers pass
// the same type so authorization checks live in one place.
type Actor struct {
	ID    utils.SixID
	Roles []models.Role
}

// IsAdmin reports whether the actor holds the admin role.
func (a Actor) IsAdmin() bool {
	return models.HasAnyRole(a.Roles, models.RoleAdmin)
}
