package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lmarin/card-trade/internal/core/domain"
	"github.com/lmarin/card-trade/internal/port"
)

var (
	// ErrNotPending means the transaction already reached a terminal status;
	// a second response attempt is rejected, not silently repeated.
	ErrNotPending = errors.New("trade already responded")

	// ErrUnauthorized means the acting user does not own the
	// counterparty-role notification for the transaction.
	ErrUnauthorized = errors.New("user may not respond to this trade")

	// ErrPartialTransfer means a ledger call failed mid-transfer. The pair
	// stays pending and the transfer log keeps the applied units, so a retry
	// of the same accept resumes where it stopped.
	ErrPartialTransfer = errors.New("inventory transfer interrupted")
)

type Action string

const (
	ActionAccept Action = "accept"
	ActionReject Action = "reject"
)

type Outcome string

const (
	OutcomeAccepted Outcome = "accepted"
	OutcomeRejected Outcome = "rejected"

	// OutcomeAutoRejectedInsufficientStock is a successful terminal outcome:
	// the accept was aborted because the counterparty no longer holds the
	// requested items. It must be surfaced differently from a deliberate
	// rejection.
	OutcomeAutoRejectedInsufficientStock Outcome = "auto_rejected_insufficient_stock"
)

// Receipt is the result of a Respond call. TransferredLines is populated
// only when items actually moved.
type Receipt struct {
	TransactionKey   string
	Status           domain.Status
	Outcome          Outcome
	TransferredLines []domain.ItemLine
}

// TradeService drives a notification pair through pending -> accepted or
// rejected, orchestrating the inventory transfer on acceptance. Respond
// calls are serialized per transaction key; the store's conditional close is
// the backstop against racing processes.
type TradeService struct {
	store     port.TradeStore
	ledger    port.InventoryLedger
	transfers port.TransferLog
	logger    *zap.Logger

	respondMu keyedMutex
}

func NewTradeService(store port.TradeStore, ledger port.InventoryLedger, transfers port.TransferLog, logger *zap.Logger) *TradeService {
	if logger == nil {
		logger, _ = zap.NewProduction()
	}
	return &TradeService{
		store:     store,
		ledger:    ledger,
		transfers: transfers,
		logger:    logger,
	}
}

// CreateOffer validates and persists a new offer together with its two
// pending notifications. No inventory moves at creation time: items stay
// usable by their owner until the counterparty acts.
func (s *TradeService) CreateOffer(ctx context.Context, proposerID, counterpartyID string, lines []domain.ItemLine, askingAmount float64, mode domain.PriceMode) (string, error) {
	if mode == "" {
		mode = domain.PriceModeManual
	}
	now := time.Now().UTC()
	offer := domain.OfferRecord{
		TransactionKey: uuid.NewString(),
		ProposerID:     proposerID,
		CounterpartyID: counterpartyID,
		Lines:          lines,
		AskingAmount:   askingAmount,
		Mode:           mode,
		CreatedAt:      now,
	}
	if err := offer.Validate(); err != nil {
		return "", err
	}

	pair := domain.NotificationPair{
		Proposer: domain.Notification{
			ID:             uuid.NewString(),
			OwnerID:        proposerID,
			TransactionKey: offer.TransactionKey,
			Role:           domain.RoleProposer,
			Status:         domain.StatusPending,
			CreatedAt:      now,
			UpdatedAt:      now,
		},
		Counterparty: domain.Notification{
			ID:             uuid.NewString(),
			OwnerID:        counterpartyID,
			TransactionKey: offer.TransactionKey,
			Role:           domain.RoleCounterparty,
			Status:         domain.StatusPending,
			CreatedAt:      now,
			UpdatedAt:      now,
		},
	}

	if err := s.store.CreateOffer(ctx, offer, pair); err != nil {
		return "", fmt.Errorf("create offer: %w", err)
	}

	s.logger.Info("offer created",
		zap.String("transaction_key", offer.TransactionKey),
		zap.String("proposer_id", proposerID),
		zap.String("counterparty_id", counterpartyID),
		zap.Int("line_count", len(lines)),
		zap.Float64("asking_amount", askingAmount),
	)
	return offer.TransactionKey, nil
}

// Respond resolves a pending trade. Only the counterparty may act; a reject
// closes the pair with no inventory movement, an accept verifies the
// counterparty's stock and then moves the items unit by unit.
func (s *TradeService) Respond(ctx context.Context, transactionKey, actingUserID string, action Action) (*Receipt, error) {
	if action != ActionAccept && action != ActionReject {
		return nil, fmt.Errorf("%w: unknown action %q", domain.ErrInvalidOffer, action)
	}

	unlock := s.respondMu.lock(transactionKey)
	defer unlock()

	pair, err := s.store.Pair(ctx, transactionKey)
	if err != nil {
		return nil, fmt.Errorf("load notification pair: %w", err)
	}
	if pair.Terminal() {
		return nil, ErrNotPending
	}
	if actingUserID != pair.Counterparty.OwnerID {
		return nil, ErrUnauthorized
	}

	offer, err := s.store.Offer(ctx, transactionKey)
	if err != nil {
		return nil, fmt.Errorf("load offer: %w", err)
	}

	if action == ActionReject {
		if err := s.closePair(ctx, transactionKey, domain.StatusRejected); err != nil {
			return nil, err
		}
		s.logger.Info("offer rejected",
			zap.String("transaction_key", transactionKey),
			zap.String("acting_user_id", actingUserID),
		)
		return &Receipt{
			TransactionKey: transactionKey,
			Status:         domain.StatusRejected,
			Outcome:        OutcomeRejected,
		}, nil
	}

	return s.accept(ctx, offer)
}

func (s *TradeService) accept(ctx context.Context, offer *domain.OfferRecord) (*Receipt, error) {
	key := offer.TransactionKey

	progress, err := s.transfers.Progress(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("read transfer log: %w", err)
	}

	// Verification pass: the counterparty is the party giving up items, so
	// their stock is the one checked. Units already taken by an interrupted
	// earlier pass are not required again.
	for _, line := range offer.Lines {
		remaining := line.Quantity - progress.Taken[line.ItemID]
		if remaining <= 0 {
			continue
		}
		have, err := s.ledger.Quantity(ctx, offer.CounterpartyID, line.ItemID)
		if err != nil {
			return nil, fmt.Errorf("verify stock for %s: %w", line.ItemID, err)
		}
		if have < remaining {
			if len(progress.Taken) > 0 {
				s.logger.Warn("auto-rejecting a partially transferred trade; manual reconciliation needed",
					zap.String("transaction_key", key),
					zap.Any("taken_units", progress.Taken),
				)
			}
			if err := s.closePair(ctx, key, domain.StatusRejected); err != nil {
				return nil, err
			}
			s.logger.Info("offer auto-rejected on insufficient stock",
				zap.String("transaction_key", key),
				zap.String("item_id", line.ItemID),
				zap.Int("requested", remaining),
				zap.Int("available", have),
			)
			return &Receipt{
				TransactionKey: key,
				Status:         domain.StatusRejected,
				Outcome:        OutcomeAutoRejectedInsufficientStock,
			}, nil
		}
	}

	// Transfer pass: one unit at a time, decrement then increment, each unit
	// journaled so a failed pass resumes instead of double-moving.
	for _, line := range offer.Lines {
		taken := progress.Taken[line.ItemID]
		credited := progress.Credited[line.ItemID]

		// Settle credits owed from an interrupted earlier pass before taking
		// more units.
		for ; credited < taken; credited++ {
			if err := s.creditUnit(ctx, offer, line.ItemID, credited); err != nil {
				return nil, err
			}
		}

		for ; taken < line.Quantity; taken++ {
			if _, err := s.ledger.Decrement(ctx, offer.CounterpartyID, line.ItemID); err != nil {
				return nil, s.transferFailed(key, line.ItemID, taken, "decrement", err)
			}
			if err := s.transfers.RecordTake(ctx, key, line.ItemID); err != nil {
				return nil, s.transferFailed(key, line.ItemID, taken, "record take", err)
			}
			if err := s.creditUnit(ctx, offer, line.ItemID, taken); err != nil {
				return nil, err
			}
		}
	}

	if err := s.closePair(ctx, key, domain.StatusAccepted); err != nil {
		return nil, err
	}
	if err := s.transfers.Clear(ctx, key); err != nil {
		// The pair is closed, so the stale log can never be replayed; it
		// only lingers until its TTL.
		s.logger.Warn("failed to clear transfer log", zap.String("transaction_key", key), zap.Error(err))
	}

	s.logger.Info("offer accepted",
		zap.String("transaction_key", key),
		zap.String("proposer_id", offer.ProposerID),
		zap.String("counterparty_id", offer.CounterpartyID),
		zap.Int("line_count", len(offer.Lines)),
	)
	return &Receipt{
		TransactionKey:   key,
		Status:           domain.StatusAccepted,
		Outcome:          OutcomeAccepted,
		TransferredLines: offer.Lines,
	}, nil
}

func (s *TradeService) creditUnit(ctx context.Context, offer *domain.OfferRecord, itemID string, unitsApplied int) error {
	if _, err := s.ledger.Increment(ctx, offer.ProposerID, itemID); err != nil {
		return s.transferFailed(offer.TransactionKey, itemID, unitsApplied, "increment", err)
	}
	if err := s.transfers.RecordCredit(ctx, offer.TransactionKey, itemID); err != nil {
		return s.transferFailed(offer.TransactionKey, itemID, unitsApplied, "record credit", err)
	}
	return nil
}

// transferFailed is the operator-visible marker for a transfer pass that
// stopped mid-sequence. The notification pair stays pending and the applied
// units stay journaled, so retrying the same accept is safe.
func (s *TradeService) transferFailed(transactionKey, itemID string, unitsApplied int, op string, err error) error {
	s.logger.Error("inventory transfer interrupted",
		zap.String("transaction_key", transactionKey),
		zap.String("item_id", itemID),
		zap.String("failed_op", op),
		zap.Int("units_applied_this_line", unitsApplied),
		zap.Error(err),
	)
	return fmt.Errorf("%w: %s %s: %v", ErrPartialTransfer, op, itemID, err)
}

func (s *TradeService) closePair(ctx context.Context, transactionKey string, status domain.Status) error {
	err := s.store.CloseNotificationPair(ctx, transactionKey, status, time.Now().UTC())
	if errors.Is(err, port.ErrStaleTransition) {
		return ErrNotPending
	}
	if err != nil {
		return fmt.Errorf("close notification pair: %w", err)
	}
	return nil
}

// MarkRead flags a single notification as read. Cosmetic: it never touches
// the state machine.
func (s *TradeService) MarkRead(ctx context.Context, notificationID string) error {
	if err := s.store.MarkRead(ctx, notificationID); err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	return nil
}
