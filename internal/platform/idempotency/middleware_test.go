package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hanko-field/orderledger/internal/platform/auth"
)

var fixedTime = time.Date(2024, time.March, 5, 9, 30, 0, 0, time.UTC)

func fixedClock() time.Time { return fixedTime }

func orderRequest(body, key string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	return req
}

func countingHandler(calls *int, status int, body string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*calls++
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Location", "/api/v1/orders/ord_1")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	})
}

func TestMiddlewarePassesThroughWithoutKey(t *testing.T) {
	store := NewMemoryStore()
	var calls int
	handler := Middleware(store, WithClock(fixedClock))(countingHandler(&calls, http.StatusCreated, `{"id":"ord_1"}`))

	for i := 0; i < 2; i++ {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, orderRequest(`{"items":[]}`, ""))
		require.Equal(t, http.StatusCreated, rr.Code)
	}
	require.Equal(t, 2, calls)
	require.Zero(t, store.Len())
}

func TestMiddlewareRequiredKey(t *testing.T) {
	var calls int
	handler := Middleware(NewMemoryStore(), WithRequired())(countingHandler(&calls, http.StatusCreated, `{}`))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, orderRequest(`{}`, ""))

	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Zero(t, calls)
	require.Equal(t, "idempotency_key_required", errorCode(t, rr))
}

func TestMiddlewareReplaysCompletedResponse(t *testing.T) {
	store := NewMemoryStore()
	var calls int
	handler := Middleware(store, WithClock(fixedClock))(countingHandler(&calls, http.StatusCreated, `{"id":"ord_1"}`))

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, orderRequest(`{"items":[{"skuId":"A","quantity":1}]}`, "k-1"))
	require.Equal(t, http.StatusCreated, first.Code)
	require.Empty(t, first.Header().Get(ReplayHeader))

	second := httptest.NewRecorder()
	handler.ServeHTTP(second, orderRequest(`{"items":[{"skuId":"A","quantity":1}]}`, "k-1"))

	require.Equal(t, 1, calls)
	require.Equal(t, http.StatusCreated, second.Code)
	require.Equal(t, "true", second.Header().Get(ReplayHeader))
	require.Equal(t, "/api/v1/orders/ord_1", second.Header().Get("Location"))
	require.JSONEq(t, `{"id":"ord_1"}`, second.Body.String())
}

func TestMiddlewareRejectsDifferentPayloadForSameKey(t *testing.T) {
	store := NewMemoryStore()
	var calls int
	handler := Middleware(store, WithClock(fixedClock))(countingHandler(&calls, http.StatusCreated, `{}`))

	handler.ServeHTTP(httptest.NewRecorder(), orderRequest(`{"a":1}`, "k-2"))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, orderRequest(`{"a":2}`, "k-2"))

	require.Equal(t, http.StatusConflict, rr.Code)
	require.Equal(t, "idempotency_key_conflict", errorCode(t, rr))
	require.Equal(t, 1, calls)
}

func TestMiddlewareScopesKeysPerIdentity(t *testing.T) {
	store := NewMemoryStore()
	var calls int
	handler := Middleware(store, WithClock(fixedClock))(countingHandler(&calls, http.StatusCreated, `{}`))

	for _, uid := range []string{"staff-a", "staff-b"} {
		req := orderRequest(`{"a":1}`, "shared")
		req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: uid}))
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		require.Equal(t, http.StatusCreated, rr.Code)
	}
	require.Equal(t, 2, calls)
}

func TestMiddlewareDoesNotRememberServerErrors(t *testing.T) {
	store := NewMemoryStore()
	var calls int
	handler := Middleware(store, WithClock(fixedClock))(countingHandler(&calls, http.StatusServiceUnavailable, `{"error":"unavailable"}`))

	for i := 0; i < 2; i++ {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, orderRequest(`{}`, "k-3"))
		require.Equal(t, http.StatusServiceUnavailable, rr.Code)
	}
	require.Equal(t, 2, calls)
	require.Zero(t, store.Len())
}

func TestMiddlewareRemembersCommittedServerErrors(t *testing.T) {
	store := NewMemoryStore()
	var calls int
	handler := Middleware(store, WithClock(fixedClock))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		MarkCommitted(r.Context())
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"error":"payment_failed","details":{"order_id":"ord_1"}}`))
	}))

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, orderRequest(`{}`, "k-committed"))
	require.Equal(t, http.StatusBadGateway, first.Code)

	second := httptest.NewRecorder()
	handler.ServeHTTP(second, orderRequest(`{}`, "k-committed"))
	require.Equal(t, http.StatusBadGateway, second.Code)
	require.Equal(t, "true", second.Header().Get(ReplayHeader))
	require.JSONEq(t, first.Body.String(), second.Body.String())
	require.Equal(t, 1, calls)
}

func TestMarkCommittedOutsideMiddleware(t *testing.T) {
	require.NotPanics(t, func() { MarkCommitted(context.Background()) })
}

func TestMiddlewareReportsPendingKey(t *testing.T) {
	store := NewMemoryStore()
	req := orderRequest(`{}`, "k-4")
	fingerprint := fingerprintOf(req, []byte(`{}`), "anonymous")
	_, err := store.Reserve(context.Background(), "anonymous|k-4", fingerprint, fixedTime, time.Hour)
	require.NoError(t, err)

	var calls int
	rr := httptest.NewRecorder()
	Middleware(store, WithClock(fixedClock))(countingHandler(&calls, http.StatusCreated, `{}`)).ServeHTTP(rr, req)

	require.Equal(t, http.StatusConflict, rr.Code)
	require.Equal(t, "idempotency_in_progress", errorCode(t, rr))
	require.Zero(t, calls)
}

func TestMiddlewareIgnoresSafeMethods(t *testing.T) {
	var calls int
	handler := Middleware(NewMemoryStore(), WithRequired())(countingHandler(&calls, http.StatusOK, `[]`))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, 1, calls)
}

type failingStore struct {
	*MemoryStore
	reserveErr error
}

func (s failingStore) Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	if s.reserveErr != nil {
		return Reservation{}, s.reserveErr
	}
	return s.MemoryStore.Reserve(ctx, key, fingerprint, now, ttl)
}

func TestMiddlewareStoreOutage(t *testing.T) {
	var calls int
	store := failingStore{MemoryStore: NewMemoryStore(), reserveErr: errors.New("connection refused")}
	rr := httptest.NewRecorder()
	Middleware(store)(countingHandler(&calls, http.StatusCreated, `{}`)).ServeHTTP(rr, orderRequest(`{}`, "k-5"))

	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
	require.Zero(t, calls)
}

func TestMemoryStoreExpiryAndCleanup(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	res, err := store.Reserve(ctx, "a", "fp", fixedTime, time.Minute)
	require.NoError(t, err)
	require.Equal(t, ReservationStateNew, res.State)
	require.NoError(t, store.SaveResponse(ctx, "a", "fp", Response{Status: http.StatusCreated}, fixedTime, time.Minute))
	_, err = store.Reserve(ctx, "b", "fp", fixedTime, 2*time.Minute)
	require.NoError(t, err)

	res, err = store.Reserve(ctx, "a", "other", fixedTime.Add(2*time.Minute), time.Minute)
	require.NoError(t, err)
	require.Equal(t, ReservationStateNew, res.State, "expired key is reusable")

	removed, err := store.CleanupExpired(ctx, fixedTime.Add(5*time.Minute), 1)
	require.NoError(t, err)
	require.Equal(t, 1, removed)
	require.Equal(t, 1, store.Len())
}

func TestMemoryStoreReleaseKeepsCompleted(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	_, err := store.Reserve(ctx, "a", "fp", fixedTime, time.Hour)
	require.NoError(t, err)
	require.NoError(t, store.SaveResponse(ctx, "a", "fp", Response{Status: http.StatusOK}, fixedTime, time.Hour))

	require.NoError(t, store.Release(ctx, "a", "fp"))

	res, err := store.Reserve(ctx, "a", "fp", fixedTime, time.Hour)
	require.NoError(t, err)
	require.Equal(t, ReservationStateCompleted, res.State)
}

func TestSweeperDrainsInBatches(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	for _, key := range []string{"a", "b", "c", "d", "e"} {
		_, err := store.Reserve(ctx, key, "fp", fixedTime, time.Minute)
		require.NoError(t, err)
	}

	sweeper := NewSweeper(store, time.Hour, 2, nil)
	sweeper.clock = func() time.Time { return fixedTime.Add(time.Hour) }

	require.Equal(t, 5, sweeper.Sweep(ctx))
	require.Zero(t, store.Len())
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var payload map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &payload))
	code, _ := payload["error"].(string)
	return code
}
