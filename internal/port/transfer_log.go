package port

import "context"

// TransferProgress is the applied-units record for one transaction: how many
// units of each item have been taken from the counterparty and how many have
// been credited to the proposer. Credited trails Taken only while a transfer
// pass is interrupted between the two ledger calls for a unit.
type TransferProgress struct {
	Taken    map[string]int
	Credited map[string]int
}

// TransferLog records per-unit transfer progress keyed by transaction, so an
// interrupted transfer pass can be replayed without moving any unit twice.
type TransferLog interface {
	Progress(ctx context.Context, transactionKey string) (TransferProgress, error)

	// RecordTake marks one unit of itemID as removed from the counterparty.
	RecordTake(ctx context.Context, transactionKey, itemID string) error

	// RecordCredit marks one unit of itemID as added to the proposer.
	RecordCredit(ctx context.Context, transactionKey, itemID string) error

	// Clear drops the record once the transaction closes.
	Clear(ctx context.Context, transactionKey string) error
}
