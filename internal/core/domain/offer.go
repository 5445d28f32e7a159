package domain

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidOffer is returned when an offer fails validation before
// anything is persisted.
var ErrInvalidOffer = errors.New("invalid offer")

type PriceMode string

const (
	PriceModeTrend  PriceMode = "trend"
	PriceModeLow    PriceMode = "low"
	PriceModeManual PriceMode = "manual"
)

// ItemLine is one card entry in an offer. UnitPriceHint is a display
// convenience carried from the client's price lookup, never settled against.
type ItemLine struct {
	ItemID        string
	Quantity      int
	UnitPriceHint float64
}

// OfferRecord describes a proposed exchange: the proposer asks the
// counterparty to give up the listed items for AskingAmount. Immutable once
// persisted; it is the single source of truth for what was proposed.
type OfferRecord struct {
	TransactionKey string
	ProposerID     string
	CounterpartyID string
	Lines          []ItemLine
	AskingAmount   float64
	Mode           PriceMode
	CreatedAt      time.Time
}

func (o OfferRecord) Validate() error {
	if o.ProposerID == "" || o.CounterpartyID == "" {
		return fmt.Errorf("%w: missing participant", ErrInvalidOffer)
	}
	if o.ProposerID == o.CounterpartyID {
		return fmt.Errorf("%w: proposer and counterparty are the same user", ErrInvalidOffer)
	}
	if len(o.Lines) == 0 {
		return fmt.Errorf("%w: no item lines", ErrInvalidOffer)
	}
	seen := make(map[string]bool, len(o.Lines))
	for _, line := range o.Lines {
		if line.ItemID == "" {
			return fmt.Errorf("%w: line with empty item id", ErrInvalidOffer)
		}
		if line.Quantity <= 0 {
			return fmt.Errorf("%w: non-positive quantity for item %s", ErrInvalidOffer, line.ItemID)
		}
		// One line per item: duplicate lines would be verified independently
		// against the same stock reading.
		if seen[line.ItemID] {
			return fmt.Errorf("%w: duplicate line for item %s", ErrInvalidOffer, line.ItemID)
		}
		seen[line.ItemID] = true
	}
	if o.AskingAmount < 0 {
		return fmt.Errorf("%w: negative asking amount", ErrInvalidOffer)
	}
	switch o.Mode {
	case PriceModeTrend, PriceModeLow, PriceModeManual:
	default:
		return fmt.Errorf("%w: unknown price mode %q", ErrInvalidOffer, o.Mode)
	}
	return nil
}
