package domain

import "time"

type Role string

const (
	RoleProposer     Role = "proposer"
	RoleCounterparty Role = "counterparty"
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusAccepted Status = "accepted"
	StatusRejected Status = "rejected"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusAccepted || s == StatusRejected
}

// Notification is one participant's view of a trade. Two notifications share
// a transaction key and must always reach the same terminal status; only the
// state machine mutates Status, never callers acting on a single row.
type Notification struct {
	ID             string
	OwnerID        string
	TransactionKey string
	Role           Role
	Status         Status
	IsRead         bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// NotificationPair is both views of one trade, created atomically with the
// offer they describe.
type NotificationPair struct {
	Proposer     Notification
	Counterparty Notification
}

// Terminal reports whether either side has already been closed. Under the
// equal-status invariant the two sides never disagree, but the guard is
// deliberately an OR so a divergent pair refuses further transitions.
func (p NotificationPair) Terminal() bool {
	return p.Proposer.Status.Terminal() || p.Counterparty.Status.Terminal()
}
