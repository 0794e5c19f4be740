package escrow_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vreid/minefield/internal/pkg/escrow"
)

func TestMemoryServiceLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc := escrow.NewMemoryService(500)

	check, err := svc.ValidateFunds(ctx, "p1", 100)
	require.NoError(t, err)
	assert.True(t, check.Valid)
	assert.Equal(t, int64(500), check.Balance)

	wallet, err := svc.CreateWallet(ctx)
	require.NoError(t, err)

	require.NoError(t, svc.TransferIn(ctx, "p1", wallet, 100))
	require.NoError(t, svc.TransferIn(ctx, "p2", wallet, 100))
	assert.Equal(t, int64(200), svc.Held(wallet))

	require.NoError(t, svc.PayoutWinner(ctx, wallet, "p2", 200))

	assert.Equal(t, int64(400), svc.Balance("p1"))
	assert.Equal(t, int64(600), svc.Balance("p2"))
	assert.Equal(t, int64(0), svc.Held(wallet))

	err = svc.PayoutWinner(ctx, wallet, "p2", 200)
	assert.ErrorIs(t, err, escrow.ErrInsufficientFunds)
}

func TestMemoryServiceRejections(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc := escrow.NewMemoryService(0)
	svc.SetBalance("rich", 100)

	check, err := svc.ValidateFunds(ctx, "poor", 1)
	require.NoError(t, err)
	assert.False(t, check.Valid)

	err = svc.TransferIn(ctx, "rich", "nope", 1)
	require.ErrorIs(t, err, escrow.ErrUnknownWallet)

	wallet, err := svc.CreateWallet(ctx)
	require.NoError(t, err)

	err = svc.TransferIn(ctx, "poor", wallet, 1)
	require.ErrorIs(t, err, escrow.ErrInsufficientFunds)

	require.NoError(t, svc.TransferIn(ctx, "rich", wallet, 60))
	require.NoError(t, svc.Refund(ctx, wallet, "rich", 60))
	assert.Equal(t, int64(100), svc.Balance("rich"))

	err = svc.Refund(ctx, wallet, "rich", 1)
	assert.ErrorIs(t, err, escrow.ErrInsufficientFunds)
}

type fakeRemote struct {
	mu       sync.Mutex
	requests []string
	bodies   []map[string]any
}

func (f *fakeRemote) handler(t *testing.T) http.Handler {
	t.Helper()

	mux := http.NewServeMux()

	record := func(r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()

		f.requests = append(f.requests, r.Method+" "+r.URL.Path)

		if r.Body != nil && r.Method == http.MethodPost {
			body := map[string]any{}
			_ = json.NewDecoder(r.Body).Decode(&body)
			f.bodies = append(f.bodies, body)
		}
	}

	mux.HandleFunc("POST /wallets", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		assert.Equal(t, "Bearer service-token", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"wallet_ref":"w-42"}`))
	})

	mux.HandleFunc("GET /players/{player}/funds", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		assert.Equal(t, "250", r.URL.Query().Get("amount"))
		w.Header().Set("Content-Type", "application/json")

		if r.PathValue("player") == "broke" {
			_, _ = w.Write([]byte(`{"valid":false,"balance":3}`))

			return
		}

		_, _ = w.Write([]byte(`{"valid":true,"balance":1000}`))
	})

	mux.HandleFunc("POST /wallets/{wallet}/deposits", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("POST /wallets/{wallet}/payouts", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		http.Error(w, "ledger locked", http.StatusConflict)
	})

	return mux
}

func TestHTTPService(t *testing.T) {
	t.Parallel()

	remote := &fakeRemote{}
	server := httptest.NewServer(remote.handler(t))
	t.Cleanup(server.Close)

	ctx := context.Background()
	svc := escrow.NewHTTPService(server.URL, "service-token")

	wallet, err := svc.CreateWallet(ctx)
	require.NoError(t, err)
	assert.Equal(t, "w-42", wallet)

	check, err := svc.ValidateFunds(ctx, "p1", 250)
	require.NoError(t, err)
	assert.Equal(t, escrow.FundsCheck{Valid: true, Balance: 1000}, check)

	check, err = svc.ValidateFunds(ctx, "broke", 250)
	require.NoError(t, err)
	assert.False(t, check.Valid)

	require.NoError(t, svc.TransferIn(ctx, "p1", wallet, 250))

	err = svc.PayoutWinner(ctx, wallet, "p1", 500)
	require.ErrorIs(t, err, escrow.ErrRemote)
	assert.Contains(t, err.Error(), "409")

	remote.mu.Lock()
	defer remote.mu.Unlock()

	assert.Contains(t, remote.requests, "POST /wallets/w-42/deposits")
	assert.Contains(t, remote.requests, "POST /wallets/w-42/payouts")
	assert.Contains(t, remote.bodies, map[string]any{"player_id": "p1", "amount": float64(250)})
}
