package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/lmarin/card-trade/internal/core/domain"
	"github.com/lmarin/card-trade/internal/core/service"
	"github.com/lmarin/card-trade/internal/port"
)

type HTTPHandler struct {
	trades *service.TradeService
	view   *service.NotificationView
	ledger port.InventoryLedger
	logger *zap.Logger
}

func NewHTTPHandler(trades *service.TradeService, view *service.NotificationView, ledger port.InventoryLedger, logger *zap.Logger) *HTTPHandler {
	if logger == nil {
		logger, _ = zap.NewProduction()
	}
	return &HTTPHandler{trades: trades, view: view, ledger: ledger, logger: logger}
}

// Routes registers every endpoint on the mux.
func (h *HTTPHandler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/offers", h.CreateOffer)
	mux.HandleFunc("POST /api/offers/respond", h.Respond)
	mux.HandleFunc("GET /api/notifications", h.ListNotifications)
	mux.HandleFunc("POST /api/notifications/read", h.MarkRead)
	mux.HandleFunc("GET /api/library", h.ListLibrary)
	mux.HandleFunc("POST /api/library/add", h.AddToLibrary)
	mux.HandleFunc("POST /api/library/remove", h.RemoveFromLibrary)
	mux.HandleFunc("GET /health", h.HealthCheck)
}

type itemLinePayload struct {
	ItemID        string  `json:"item_id"`
	Quantity      int     `json:"quantity"`
	UnitPriceHint float64 `json:"unit_price_hint"`
}

type createOfferRequest struct {
	ProposerID     string            `json:"proposer_id"`
	CounterpartyID string            `json:"counterparty_id"`
	Lines          []itemLinePayload `json:"lines"`
	AskingAmount   float64           `json:"asking_amount"`
	Mode           string            `json:"mode"`
}

type createOfferResponse struct {
	TransactionKey string `json:"transaction_key"`
}

func (h *HTTPHandler) CreateOffer(w http.ResponseWriter, r *http.Request) {
	var req createOfferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	lines := make([]domain.ItemLine, 0, len(req.Lines))
	for _, l := range req.Lines {
		lines = append(lines, domain.ItemLine{
			ItemID:        l.ItemID,
			Quantity:      l.Quantity,
			UnitPriceHint: l.UnitPriceHint,
		})
	}

	key, err := h.trades.CreateOffer(r.Context(), req.ProposerID, req.CounterpartyID, lines, req.AskingAmount, domain.PriceMode(req.Mode))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, createOfferResponse{TransactionKey: key})
}

type respondRequest struct {
	TransactionKey string `json:"transaction_key"`
	UserID         string `json:"user_id"`
	Action         string `json:"action"`
}

type respondResponse struct {
	TransactionKey   string            `json:"transaction_key"`
	Status           string            `json:"status"`
	Outcome          string            `json:"outcome"`
	TransferredLines []itemLinePayload `json:"transferred_lines,omitempty"`
}

func (h *HTTPHandler) Respond(w http.ResponseWriter, r *http.Request) {
	var req respondRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.TransactionKey == "" || req.UserID == "" {
		writeError(w, http.StatusBadRequest, "missing required fields")
		return
	}

	receipt, err := h.trades.Respond(r.Context(), req.TransactionKey, req.UserID, service.Action(req.Action))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	resp := respondResponse{
		TransactionKey: receipt.TransactionKey,
		Status:         string(receipt.Status),
		Outcome:        string(receipt.Outcome),
	}
	for _, l := range receipt.TransferredLines {
		resp.TransferredLines = append(resp.TransferredLines, itemLinePayload{
			ItemID:        l.ItemID,
			Quantity:      l.Quantity,
			UnitPriceHint: l.UnitPriceHint,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

type notificationPayload struct {
	ID              string            `json:"id"`
	TransactionKey  string            `json:"transaction_key"`
	Role            string            `json:"role"`
	Status          string            `json:"status"`
	Message         string            `json:"message"`
	StatusLine      string            `json:"status_line"`
	CounterpartID   string            `json:"counterpart_id"`
	CounterpartName string            `json:"counterpart_name"`
	Amount          float64           `json:"amount"`
	Lines           []itemLinePayload `json:"lines"`
	IsRead          bool              `json:"is_read"`
	CreatedAt       string            `json:"created_at"`
}

func (h *HTTPHandler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	filters := service.Filters{
		Status:          domain.Status(r.URL.Query().Get("status")),
		CounterpartName: r.URL.Query().Get("q"),
	}

	rows, err := h.view.ListForUser(r.Context(), userID, filters)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	payload := make([]notificationPayload, 0, len(rows))
	for _, row := range rows {
		p := notificationPayload{
			ID:              row.ID,
			TransactionKey:  row.TransactionKey,
			Role:            string(row.Role),
			Status:          string(row.Status),
			Message:         row.Message,
			StatusLine:      row.StatusLine,
			CounterpartID:   row.CounterpartID,
			CounterpartName: row.CounterpartName,
			Amount:          row.Amount,
			IsRead:          row.IsRead,
			CreatedAt:       row.CreatedAt.Format(time.RFC3339),
		}
		for _, l := range row.Lines {
			p.Lines = append(p.Lines, itemLinePayload{
				ItemID:        l.ItemID,
				Quantity:      l.Quantity,
				UnitPriceHint: l.UnitPriceHint,
			})
		}
		payload = append(payload, p)
	}
	writeJSON(w, http.StatusOK, map[string]any{"notifications": payload})
}

type markReadRequest struct {
	NotificationID string `json:"notification_id"`
}

func (h *HTTPHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	var req markReadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.NotificationID == "" {
		writeError(w, http.StatusBadRequest, "notification_id is required")
		return
	}
	if err := h.trades.MarkRead(r.Context(), req.NotificationID); err != nil {
		h.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type libraryMutationRequest struct {
	UserID string `json:"user_id"`
	ItemID string `json:"item_id"`
}

type libraryMutationResponse struct {
	UserID   string `json:"user_id"`
	ItemID   string `json:"item_id"`
	Quantity int    `json:"quantity"`
}

func (h *HTTPHandler) AddToLibrary(w http.ResponseWriter, r *http.Request) {
	h.mutateLibrary(w, r, h.ledger.Increment)
}

// RemoveFromLibrary decrements one unit. Removing from an empty collection
// succeeds with quantity 0.
func (h *HTTPHandler) RemoveFromLibrary(w http.ResponseWriter, r *http.Request) {
	h.mutateLibrary(w, r, h.ledger.Decrement)
}

func (h *HTTPHandler) mutateLibrary(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, userID, itemID string) (int, error)) {
	var req libraryMutationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" || req.ItemID == "" {
		writeError(w, http.StatusBadRequest, "user_id and item_id are required")
		return
	}
	qty, err := op(r.Context(), req.UserID, req.ItemID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, libraryMutationResponse{UserID: req.UserID, ItemID: req.ItemID, Quantity: qty})
}

func (h *HTTPHandler) ListLibrary(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	entries, err := h.ledger.Entries(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	items := make([]libraryMutationResponse, 0, len(entries))
	for _, e := range entries {
		items = append(items, libraryMutationResponse{UserID: e.UserID, ItemID: e.ItemID, Quantity: e.Quantity})
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *HTTPHandler) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidOffer):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrUnauthorized):
		writeError(w, http.StatusForbidden, "not allowed to respond to this trade")
	case errors.Is(err, service.ErrNotPending):
		writeError(w, http.StatusConflict, "trade already responded")
	case errors.Is(err, port.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, service.ErrPartialTransfer):
		h.logger.Error("transfer interrupted", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "transfer interrupted; retrying the same accept is safe")
	default:
		h.logger.Error("internal error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
