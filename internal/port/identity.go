package port

import "context"

// Identity is the display data for one user, used only for message
// templating.
type Identity struct {
	Name   string
	Handle string
}

// IdentityDirectory looks up display names from the external user service.
type IdentityDirectory interface {
	GetDisplayName(ctx context.Context, userID string) (Identity, error)
}
