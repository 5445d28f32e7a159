package port

import (
	"context"
	"errors"
	"time"

	"github.com/lmarin/card-trade/internal/core/domain"
)

var (
	// ErrNotFound is returned when no record exists for the given key.
	ErrNotFound = errors.New("record not found")

	// ErrStaleTransition is returned by CloseNotificationPair when the pair
	// is no longer pending, i.e. a concurrent caller closed it first.
	ErrStaleTransition = errors.New("notification pair is not pending")
)

// TradeStore is the system of record for offers and their notification
// pairs.
type TradeStore interface {
	// CreateOffer persists the offer and both notifications in one
	// transaction: either all three records exist afterwards or none do.
	CreateOffer(ctx context.Context, offer domain.OfferRecord, pair domain.NotificationPair) error

	Offer(ctx context.Context, transactionKey string) (*domain.OfferRecord, error)

	Pair(ctx context.Context, transactionKey string) (*domain.NotificationPair, error)

	// CloseNotificationPair moves both notifications from pending to the
	// given terminal status, conditionally: if the pair is not pending
	// anymore it returns ErrStaleTransition and changes nothing.
	CloseNotificationPair(ctx context.Context, transactionKey string, status domain.Status, at time.Time) error

	// NotificationsForUser lists the user's notifications, newest first.
	NotificationsForUser(ctx context.Context, ownerID string) ([]domain.Notification, error)

	MarkRead(ctx context.Context, notificationID string) error
}
