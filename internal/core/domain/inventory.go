package domain

// InventoryEntry is a per-(user, item) quantity counter. Quantity is never
// negative; removing from an empty entry is a silent no-op.
type InventoryEntry struct {
	UserID   string
	ItemID   string
	Quantity int
}
