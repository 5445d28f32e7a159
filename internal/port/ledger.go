package port

import (
	"context"

	"github.com/lmarin/card-trade/internal/core/domain"
)

// InventoryLedger is the per-user, per-item quantity store. Implementations
// must be safe for concurrent callers touching distinct (user, item) pairs;
// no batch operation is exposed, callers needing multi-item atomicity
// sequence the calls themselves.
type InventoryLedger interface {
	// Quantity returns the current count for (user, item); missing entries
	// read as zero.
	Quantity(ctx context.Context, userID, itemID string) (int, error)

	// Increment adds one unit and returns the new quantity.
	Increment(ctx context.Context, userID, itemID string) (int, error)

	// Decrement removes one unit and returns the new quantity. Decrementing
	// at zero is a no-op returning zero, never an error.
	Decrement(ctx context.Context, userID, itemID string) (int, error)

	// Entries lists every item the user holds.
	Entries(ctx context.Context, userID string) ([]domain.InventoryEntry, error)
}
