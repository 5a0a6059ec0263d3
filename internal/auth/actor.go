// README: Actor identity and roles used by the transition rules.
package auth

import "grocer/internal/types"

type Role string

const (
	RoleCustomer Role = "customer"
	RoleRider    Role = "rider"
	RoleAdmin    Role = "admin"

	// RoleCoordinator is internal to the assignment swap flow. It is never
	// minted from a token; ParseToken rejects it.
	RoleCoordinator Role = "coordinator"
)

// Actor is the authenticated caller attempting an operation.
type Actor struct {
	ID   types.ID
	Role Role
}
