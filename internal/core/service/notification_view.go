package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lmarin/card-trade/internal/core/domain"
	"github.com/lmarin/card-trade/internal/port"
)

// Filters narrows a notification listing. Zero values mean no filtering.
// CounterpartName is matched case-insensitively against the counterpart's
// display name and handle.
type Filters struct {
	Status          domain.Status
	CounterpartName string
}

// DisplayNotification is one renderable row: the stored notification
// decorated with the offer data and a role- and status-aware message.
type DisplayNotification struct {
	ID              string
	TransactionKey  string
	Role            domain.Role
	Status          domain.Status
	Message         string
	StatusLine      string
	CounterpartID   string
	CounterpartName string
	Amount          float64
	Lines           []domain.ItemLine
	IsRead          bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// NotificationView lists and decorates a user's trade notifications. It
// collapses duplicate rows for one transaction to the latest update and
// degrades to raw user ids when the identity service is unreachable.
type NotificationView struct {
	store    port.TradeStore
	identity port.IdentityDirectory
	logger   *zap.Logger
}

func NewNotificationView(store port.TradeStore, identity port.IdentityDirectory, logger *zap.Logger) *NotificationView {
	if logger == nil {
		logger, _ = zap.NewProduction()
	}
	return &NotificationView{store: store, identity: identity, logger: logger}
}

// ListForUser returns the user's notifications, newest first, one row per
// transaction.
func (v *NotificationView) ListForUser(ctx context.Context, userID string, f Filters) ([]DisplayNotification, error) {
	notifications, err := v.store.NotificationsForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}

	// Latest-wins grouping per transaction, a defensive guard against
	// duplicate writes.
	latest := make(map[string]domain.Notification, len(notifications))
	for _, n := range notifications {
		prev, ok := latest[n.TransactionKey]
		if !ok || n.UpdatedAt.After(prev.UpdatedAt) {
			latest[n.TransactionKey] = n
		}
	}

	rows := make([]DisplayNotification, 0, len(latest))
	for _, n := range latest {
		if f.Status != "" && n.Status != f.Status {
			continue
		}
		offer, err := v.store.Offer(ctx, n.TransactionKey)
		if err != nil {
			return nil, fmt.Errorf("load offer %s: %w", n.TransactionKey, err)
		}
		row := v.decorate(ctx, n, offer)
		if f.CounterpartName != "" && !matchesName(row.CounterpartName, f.CounterpartName) {
			continue
		}
		rows = append(rows, row)
	}

	sort.Slice(rows, func(i, j int) bool {
		return rows[i].CreatedAt.After(rows[j].CreatedAt)
	})
	return rows, nil
}

func (v *NotificationView) decorate(ctx context.Context, n domain.Notification, offer *domain.OfferRecord) DisplayNotification {
	counterpartID := offer.CounterpartyID
	if n.Role == domain.RoleCounterparty {
		counterpartID = offer.ProposerID
	}

	ident, err := v.identity.GetDisplayName(ctx, counterpartID)
	if err != nil {
		v.logger.Warn("identity lookup failed, falling back to user id",
			zap.String("user_id", counterpartID),
			zap.Error(err),
		)
		ident = port.Identity{Name: counterpartID}
	}
	name := formatName(ident)

	var message, statusLine string
	switch {
	case n.Status == domain.StatusPending && n.Role == domain.RoleCounterparty:
		message = fmt.Sprintf("You have received an offer from %s", name)
		statusLine = fmt.Sprintf("Offered: $%.2f", offer.AskingAmount)
	case n.Status == domain.StatusPending && n.Role == domain.RoleProposer:
		message = fmt.Sprintf("Waiting for %s to respond", name)
		statusLine = "Status: awaiting response"
	case n.Role == domain.RoleCounterparty:
		message = fmt.Sprintf("You %s the offer from %s", pastTense(n.Status), name)
		statusLine = fmt.Sprintf("Status: %s", n.Status)
	default:
		message = fmt.Sprintf("Your offer was %s by %s", pastTense(n.Status), name)
		statusLine = fmt.Sprintf("Status: %s", n.Status)
	}

	return DisplayNotification{
		ID:              n.ID,
		TransactionKey:  n.TransactionKey,
		Role:            n.Role,
		Status:          n.Status,
		Message:         message,
		StatusLine:      statusLine,
		CounterpartID:   counterpartID,
		CounterpartName: name,
		Amount:          offer.AskingAmount,
		Lines:           offer.Lines,
		IsRead:          n.IsRead,
		CreatedAt:       n.CreatedAt,
		UpdatedAt:       n.UpdatedAt,
	}
}

func pastTense(s domain.Status) string {
	if s == domain.StatusAccepted {
		return "accepted"
	}
	return "rejected"
}

func formatName(ident port.Identity) string {
	if ident.Handle == "" {
		return ident.Name
	}
	return fmt.Sprintf("%s (%s)", ident.Name, ident.Handle)
}

func matchesName(name, query string) bool {
	return strings.Contains(strings.ToLower(name), strings.ToLower(query))
}
