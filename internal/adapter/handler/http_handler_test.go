package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lmarin/card-trade/internal/core/domain"
	"github.com/lmarin/card-trade/internal/core/service"
	"github.com/lmarin/card-trade/internal/port"
)

// Minimal in-memory ports; failure paths are covered by the service tests,
// here we only care about transport mapping.

type stubStore struct {
	mu            sync.Mutex
	offers        map[string]domain.OfferRecord
	notifications map[string]domain.Notification
}

func newStubStore() *stubStore {
	return &stubStore{
		offers:        make(map[string]domain.OfferRecord),
		notifications: make(map[string]domain.Notification),
	}
}

func (s *stubStore) CreateOffer(ctx context.Context, offer domain.OfferRecord, pair domain.NotificationPair) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offers[offer.TransactionKey] = offer
	s.notifications[pair.Proposer.ID] = pair.Proposer
	s.notifications[pair.Counterparty.ID] = pair.Counterparty
	return nil
}

func (s *stubStore) Offer(ctx context.Context, key string) (*domain.OfferRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	offer, ok := s.offers[key]
	if !ok {
		return nil, fmt.Errorf("offer %s: %w", key, port.ErrNotFound)
	}
	return &offer, nil
}

func (s *stubStore) Pair(ctx context.Context, key string) (*domain.NotificationPair, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var pair domain.NotificationPair
	found := false
	for _, n := range s.notifications {
		if n.TransactionKey != key {
			continue
		}
		found = true
		if n.Role == domain.RoleProposer {
			pair.Proposer = n
		} else {
			pair.Counterparty = n
		}
	}
	if !found {
		return nil, fmt.Errorf("pair %s: %w", key, port.ErrNotFound)
	}
	return &pair, nil
}

func (s *stubStore) CloseNotificationPair(ctx context.Context, key string, status domain.Status, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	closed := 0
	for id, n := range s.notifications {
		if n.TransactionKey == key && n.Status == domain.StatusPending {
			n.Status = status
			n.UpdatedAt = at
			s.notifications[id] = n
			closed++
		}
	}
	if closed == 0 {
		return port.ErrStaleTransition
	}
	return nil
}

func (s *stubStore) NotificationsForUser(ctx context.Context, ownerID string) ([]domain.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Notification
	for _, n := range s.notifications {
		if n.OwnerID == ownerID {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *stubStore) MarkRead(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notifications[id]
	if !ok {
		return fmt.Errorf("notification %s: %w", id, port.ErrNotFound)
	}
	n.IsRead = true
	s.notifications[id] = n
	return nil
}

type stubLedger struct {
	mu     sync.Mutex
	counts map[string]int
}

func newStubLedger() *stubLedger {
	return &stubLedger{counts: make(map[string]int)}
}

func (l *stubLedger) key(userID, itemID string) string { return userID + "|" + itemID }

func (l *stubLedger) Quantity(ctx context.Context, userID, itemID string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.counts[l.key(userID, itemID)], nil
}

func (l *stubLedger) Increment(ctx context.Context, userID, itemID string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.counts[l.key(userID, itemID)]++
	return l.counts[l.key(userID, itemID)], nil
}

func (l *stubLedger) Decrement(ctx context.Context, userID, itemID string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.counts[l.key(userID, itemID)] == 0 {
		return 0, nil
	}
	l.counts[l.key(userID, itemID)]--
	return l.counts[l.key(userID, itemID)], nil
}

func (l *stubLedger) Entries(ctx context.Context, userID string) ([]domain.InventoryEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []domain.InventoryEntry
	for key, qty := range l.counts {
		parts := strings.SplitN(key, "|", 2)
		if len(parts) == 2 && parts[0] == userID && qty > 0 {
			out = append(out, domain.InventoryEntry{UserID: parts[0], ItemID: parts[1], Quantity: qty})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ItemID < out[j].ItemID })
	return out, nil
}

type stubTransferLog struct {
	mu       sync.Mutex
	taken    map[string]map[string]int
	credited map[string]map[string]int
}

func newStubTransferLog() *stubTransferLog {
	return &stubTransferLog{
		taken:    make(map[string]map[string]int),
		credited: make(map[string]map[string]int),
	}
}

func (t *stubTransferLog) Progress(ctx context.Context, key string) (port.TransferProgress, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p := port.TransferProgress{Taken: map[string]int{}, Credited: map[string]int{}}
	for item, n := range t.taken[key] {
		p.Taken[item] = n
	}
	for item, n := range t.credited[key] {
		p.Credited[item] = n
	}
	return p, nil
}

func (t *stubTransferLog) record(m map[string]map[string]int, key, itemID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if m[key] == nil {
		m[key] = map[string]int{}
	}
	m[key][itemID]++
	return nil
}

func (t *stubTransferLog) RecordTake(ctx context.Context, key, itemID string) error {
	return t.record(t.taken, key, itemID)
}

func (t *stubTransferLog) RecordCredit(ctx context.Context, key, itemID string) error {
	return t.record(t.credited, key, itemID)
}

func (t *stubTransferLog) Clear(ctx context.Context, key string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.taken, key)
	delete(t.credited, key)
	return nil
}

type stubIdentity struct{}

func (stubIdentity) GetDisplayName(ctx context.Context, userID string) (port.Identity, error) {
	return port.Identity{Name: userID}, nil
}

type env struct {
	server *httptest.Server
	ledger *stubLedger
	store  *stubStore
}

func setupServer(t *testing.T) *env {
	t.Helper()
	store := newStubStore()
	ledger := newStubLedger()
	logger := zap.NewNop()

	trades := service.NewTradeService(store, ledger, newStubTransferLog(), logger)
	view := service.NewNotificationView(store, stubIdentity{}, logger)

	mux := http.NewServeMux()
	NewHTTPHandler(trades, view, ledger, logger).Routes(mux)

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return &env{server: server, ledger: ledger, store: store}
}

func (e *env) post(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(e.server.URL+path, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	return resp
}

func (e *env) createOffer(t *testing.T, proposer, counterparty string, qty int) string {
	t.Helper()
	resp := e.post(t, "/api/offers", createOfferRequest{
		ProposerID:     proposer,
		CounterpartyID: counterparty,
		Lines:          []itemLinePayload{{ItemID: "base1-4", Quantity: qty, UnitPriceHint: 1.25}},
		AskingAmount:   12.5,
		Mode:           "trend",
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var out createOfferResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.NotEmpty(t, out.TransactionKey)
	return out.TransactionKey
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestCreateOffer_BadRequest(t *testing.T) {
	e := setupServer(t)

	resp := e.post(t, "/api/offers", createOfferRequest{
		ProposerID:     "paula",
		CounterpartyID: "paula",
		Lines:          []itemLinePayload{{ItemID: "base1-4", Quantity: 1}},
	})
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = e.post(t, "/api/offers", createOfferRequest{
		ProposerID:     "paula",
		CounterpartyID: "carl",
		Lines:          []itemLinePayload{{ItemID: "base1-4", Quantity: 0}},
	})
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Nothing materialized for either party.
	list, err := http.Get(e.server.URL + "/api/notifications?user_id=carl")
	require.NoError(t, err)
	body := decode[map[string][]notificationPayload](t, list)
	assert.Empty(t, body["notifications"])
}

func TestRespond_AcceptFlow(t *testing.T) {
	e := setupServer(t)
	e.ledger.counts["carl|base1-4"] = 5
	key := e.createOffer(t, "paula", "carl", 3)

	resp := e.post(t, "/api/offers/respond", respondRequest{
		TransactionKey: key,
		UserID:         "carl",
		Action:         "accept",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	out := decode[respondResponse](t, resp)
	assert.Equal(t, "accepted", out.Status)
	assert.Equal(t, "accepted", out.Outcome)
	require.Len(t, out.TransferredLines, 1)
	assert.Equal(t, 3, out.TransferredLines[0].Quantity)

	assert.Equal(t, 2, e.ledger.counts["carl|base1-4"])
	assert.Equal(t, 3, e.ledger.counts["paula|base1-4"])
}

func TestRespond_AutoRejectOutcome(t *testing.T) {
	e := setupServer(t)
	e.ledger.counts["carl|base1-4"] = 1
	key := e.createOffer(t, "paula", "carl", 3)

	resp := e.post(t, "/api/offers/respond", respondRequest{
		TransactionKey: key,
		UserID:         "carl",
		Action:         "accept",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	out := decode[respondResponse](t, resp)
	assert.Equal(t, "rejected", out.Status)
	assert.Equal(t, "auto_rejected_insufficient_stock", out.Outcome)
	assert.Empty(t, out.TransferredLines)
}

func TestRespond_StatusMapping(t *testing.T) {
	e := setupServer(t)
	e.ledger.counts["carl|base1-4"] = 5
	key := e.createOffer(t, "paula", "carl", 3)

	// Wrong actor.
	resp := e.post(t, "/api/offers/respond", respondRequest{TransactionKey: key, UserID: "paula", Action: "accept"})
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	// Unknown key.
	resp = e.post(t, "/api/offers/respond", respondRequest{TransactionKey: "nope", UserID: "carl", Action: "accept"})
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	// Unknown action.
	resp = e.post(t, "/api/offers/respond", respondRequest{TransactionKey: key, UserID: "carl", Action: "counter"})
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Double respond.
	resp = e.post(t, "/api/offers/respond", respondRequest{TransactionKey: key, UserID: "carl", Action: "reject"})
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp = e.post(t, "/api/offers/respond", respondRequest{TransactionKey: key, UserID: "carl", Action: "accept"})
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestListNotifications(t *testing.T) {
	e := setupServer(t)
	e.ledger.counts["carl|base1-4"] = 5
	key := e.createOffer(t, "paula", "carl", 3)

	resp, err := http.Get(e.server.URL + "/api/notifications?user_id=carl")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[map[string][]notificationPayload](t, resp)
	require.Len(t, body["notifications"], 1)
	row := body["notifications"][0]
	assert.Equal(t, key, row.TransactionKey)
	assert.Equal(t, "counterparty", row.Role)
	assert.Equal(t, "pending", row.Status)
	assert.Contains(t, row.Message, "paula")
	_, err = time.Parse(time.RFC3339, row.CreatedAt)
	assert.NoError(t, err)

	resp, err = http.Get(e.server.URL + "/api/notifications")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestMarkRead(t *testing.T) {
	e := setupServer(t)
	e.createOffer(t, "paula", "carl", 3)

	resp, err := http.Get(e.server.URL + "/api/notifications?user_id=carl")
	require.NoError(t, err)
	body := decode[map[string][]notificationPayload](t, resp)
	require.Len(t, body["notifications"], 1)
	id := body["notifications"][0].ID

	mark := e.post(t, "/api/notifications/read", markReadRequest{NotificationID: id})
	mark.Body.Close()
	assert.Equal(t, http.StatusNoContent, mark.StatusCode)

	missing := e.post(t, "/api/notifications/read", markReadRequest{NotificationID: "missing"})
	missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}

func TestLibraryEndpoints(t *testing.T) {
	e := setupServer(t)

	add := e.post(t, "/api/library/add", libraryMutationRequest{UserID: "carl", ItemID: "base1-4"})
	require.Equal(t, http.StatusOK, add.StatusCode)
	out := decode[libraryMutationResponse](t, add)
	assert.Equal(t, 1, out.Quantity)

	remove := e.post(t, "/api/library/remove", libraryMutationRequest{UserID: "carl", ItemID: "base1-4"})
	require.Equal(t, http.StatusOK, remove.StatusCode)
	out = decode[libraryMutationResponse](t, remove)
	assert.Equal(t, 0, out.Quantity)

	// Removing from an empty collection is a silent no-op at zero.
	remove = e.post(t, "/api/library/remove", libraryMutationRequest{UserID: "carl", ItemID: "base1-4"})
	require.Equal(t, http.StatusOK, remove.StatusCode)
	out = decode[libraryMutationResponse](t, remove)
	assert.Equal(t, 0, out.Quantity)

	list, err := http.Get(e.server.URL + "/api/library?user_id=carl")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, list.StatusCode)
	items := decode[map[string][]libraryMutationResponse](t, list)
	assert.Empty(t, items["items"])
}

func TestHealthCheck(t *testing.T) {
	e := setupServer(t)
	resp, err := http.Get(e.server.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
