package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lmarin/card-trade/internal/core/domain"
	"github.com/lmarin/card-trade/internal/port"
)

// MySQLStore is the system of record for offers and notification pairs.
// Schema in schema.sql.
type MySQLStore struct {
	db *sql.DB
}

func NewMySQLStore(db *sql.DB) *MySQLStore {
	return &MySQLStore{db: db}
}

func (m *MySQLStore) CreateOffer(ctx context.Context, offer domain.OfferRecord, pair domain.NotificationPair) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO offers (transaction_key, proposer_id, counterparty_id, asking_amount, price_mode, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		offer.TransactionKey, offer.ProposerID, offer.CounterpartyID,
		offer.AskingAmount, string(offer.Mode), offer.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert offer: %w", err)
	}

	for _, line := range offer.Lines {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO offer_lines (transaction_key, item_id, quantity, unit_price_hint)
			VALUES (?, ?, ?, ?)`,
			offer.TransactionKey, line.ItemID, line.Quantity, line.UnitPriceHint,
		)
		if err != nil {
			return fmt.Errorf("insert offer line %s: %w", line.ItemID, err)
		}
	}

	for _, n := range []domain.Notification{pair.Proposer, pair.Counterparty} {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO notifications (id, owner_id, transaction_key, role, status, is_read, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			n.ID, n.OwnerID, n.TransactionKey, string(n.Role), string(n.Status),
			n.IsRead, n.CreatedAt, n.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert notification: %w", err)
		}
	}

	return tx.Commit()
}

func (m *MySQLStore) Offer(ctx context.Context, transactionKey string) (*domain.OfferRecord, error) {
	var offer domain.OfferRecord
	var mode string
	err := m.db.QueryRowContext(ctx, `
		SELECT transaction_key, proposer_id, counterparty_id, asking_amount, price_mode, created_at
		FROM offers WHERE transaction_key = ?`, transactionKey,
	).Scan(&offer.TransactionKey, &offer.ProposerID, &offer.CounterpartyID,
		&offer.AskingAmount, &mode, &offer.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("offer %s: %w", transactionKey, port.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query offer: %w", err)
	}
	offer.Mode = domain.PriceMode(mode)

	rows, err := m.db.QueryContext(ctx, `
		SELECT item_id, quantity, unit_price_hint
		FROM offer_lines WHERE transaction_key = ? ORDER BY item_id`, transactionKey)
	if err != nil {
		return nil, fmt.Errorf("query offer lines: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var line domain.ItemLine
		if err := rows.Scan(&line.ItemID, &line.Quantity, &line.UnitPriceHint); err != nil {
			return nil, fmt.Errorf("scan offer line: %w", err)
		}
		offer.Lines = append(offer.Lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate offer lines: %w", err)
	}
	return &offer, nil
}

func (m *MySQLStore) Pair(ctx context.Context, transactionKey string) (*domain.NotificationPair, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT id, owner_id, transaction_key, role, status, is_read, created_at, updated_at
		FROM notifications WHERE transaction_key = ?`, transactionKey)
	if err != nil {
		return nil, fmt.Errorf("query notification pair: %w", err)
	}
	defer rows.Close()

	var pair domain.NotificationPair
	count := 0
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		switch n.Role {
		case domain.RoleProposer:
			pair.Proposer = n
		case domain.RoleCounterparty:
			pair.Counterparty = n
		default:
			return nil, fmt.Errorf("notification %s has unknown role %q", n.ID, n.Role)
		}
		count++
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notification pair: %w", err)
	}
	if count == 0 {
		return nil, fmt.Errorf("notification pair %s: %w", transactionKey, port.ErrNotFound)
	}
	if count != 2 {
		return nil, fmt.Errorf("notification pair %s has %d rows", transactionKey, count)
	}
	return &pair, nil
}

func (m *MySQLStore) CloseNotificationPair(ctx context.Context, transactionKey string, status domain.Status, at time.Time) error {
	result, err := m.db.ExecContext(ctx, `
		UPDATE notifications
		SET status = ?, updated_at = ?
		WHERE transaction_key = ? AND status = ?`,
		string(status), at, transactionKey, string(domain.StatusPending),
	)
	if err != nil {
		return fmt.Errorf("close notification pair: %w", err)
	}

	rows, _ := result.RowsAffected()
	switch rows {
	case 2:
		return nil
	case 0:
		return port.ErrStaleTransition
	default:
		// One side was already terminal while the other was pending. The
		// equal-status invariant is broken upstream of this call.
		return fmt.Errorf("notification pair %s: closed %d of 2 rows", transactionKey, rows)
	}
}

func (m *MySQLStore) NotificationsForUser(ctx context.Context, ownerID string) ([]domain.Notification, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT id, owner_id, transaction_key, role, status, is_read, created_at, updated_at
		FROM notifications WHERE owner_id = ? ORDER BY created_at DESC`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("query notifications: %w", err)
	}
	defer rows.Close()

	var out []domain.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notifications: %w", err)
	}
	return out, nil
}

func (m *MySQLStore) MarkRead(ctx context.Context, notificationID string) error {
	result, err := m.db.ExecContext(ctx, `
		UPDATE notifications SET is_read = 1 WHERE id = ?`, notificationID)
	if err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		// RowsAffected is also 0 when the row exists but was already read;
		// re-check before reporting a missing notification.
		var exists int
		err := m.db.QueryRowContext(ctx, `SELECT 1 FROM notifications WHERE id = ?`, notificationID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("notification %s: %w", notificationID, port.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("check notification: %w", err)
		}
	}
	return nil
}

func scanNotification(rows *sql.Rows) (domain.Notification, error) {
	var n domain.Notification
	var role, status string
	err := rows.Scan(&n.ID, &n.OwnerID, &n.TransactionKey, &role, &status,
		&n.IsRead, &n.CreatedAt, &n.UpdatedAt)
	if err != nil {
		return n, fmt.Errorf("scan notification: %w", err)
	}
	n.Role = domain.Role(role)
	n.Status = domain.Status(status)
	return n, nil
}
