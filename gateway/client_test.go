package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reliefgrid/treasury/fund"
)

func fastRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		BackoffBase:       time.Millisecond,
		BackoffMultiplier: 2.0,
		MaxBackoff:        5 * time.Millisecond,
	}
}

func TestBalance(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/balance", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]string{"balance": "42.5"})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, WithRetryConfig(fastRetryConfig()))
	balance, err := client.Balance(context.Background())
	require.NoError(t, err)
	assert.True(t, balance.Equal(decimal.RequireFromString("42.5")))
}

func TestSubmitTransfers(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/transfers", r.URL.Path)

		var req struct {
			Transfers []fund.Recipient `json:"transfers"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Transfers, 2)

		_ = json.NewEncoder(w).Encode(map[string]any{
			"results": []TransferResult{
				{Address: req.Transfers[0].Address, Ref: "ref-1"},
				{Address: req.Transfers[1].Address}, // not accepted
			},
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, WithRetryConfig(fastRetryConfig()))
	results, err := client.SubmitTransfers(context.Background(), []fund.Recipient{
		{Address: "a", Amount: decimal.RequireFromString("0.7")},
		{Address: "b", Amount: decimal.RequireFromString("0.3")},
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.True(t, results[0].Accepted())
	assert.False(t, results[1].Accepted())
}

func TestSubmitTransfersNotRetried(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, WithRetryConfig(fastRetryConfig()))
	_, err := client.SubmitTransfers(context.Background(), []fund.Recipient{
		{Address: "a", Amount: decimal.RequireFromString("0.1")},
	})
	require.Error(t, err)
	assert.Equal(t, int64(1), calls.Load(), "submission must not be retried")
}

func TestTransferStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/transfers/ref-1", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]string{"ref": "ref-1", "status": "confirmed"})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, WithRetryConfig(fastRetryConfig()))
	state, err := client.TransferStatus(context.Background(), "ref-1")
	require.NoError(t, err)
	assert.Equal(t, TransferConfirmed, state)
}

func TestTransferStatusUnknownState(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"ref": "ref-1", "status": "limbo"})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, WithRetryConfig(fastRetryConfig()))
	_, err := client.TransferStatus(context.Background(), "ref-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown transfer status")
}

func TestDefaultRecipients(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/recipients/flood", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"recipients": []fund.WeightedRecipient{
				{Address: "flood-relief", Weight: 1},
			},
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, WithRetryConfig(fastRetryConfig()))
	recips, err := client.DefaultRecipients(context.Background(), fund.DisasterFlood)
	require.NoError(t, err)
	require.Len(t, recips, 1)
	assert.Equal(t, "flood-relief", recips[0].Address)
}

func TestRetryOnTransientError(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"balance": "10"})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, WithRetryConfig(fastRetryConfig()))
	balance, err := client.Balance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "10", balance.String())
	assert.Equal(t, int64(3), calls.Load())
}

func TestNoRetryOnFatalError(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, WithRetryConfig(fastRetryConfig()))
	_, err := client.Balance(context.Background())
	require.Error(t, err)
	assert.True(t, IsFatal(err))
	assert.Equal(t, int64(1), calls.Load())
}

func TestRetryExhaustion(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, WithRetryConfig(fastRetryConfig()))
	_, err := client.Balance(context.Background())
	require.Error(t, err)
	assert.True(t, IsTransient(err))
	assert.Equal(t, int64(3), calls.Load())
}

func TestConnect(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/network", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]string{"network": "testnet"})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, WithRetryConfig(fastRetryConfig()))
	require.NoError(t, client.Connect(context.Background()))
}

func TestConnectUnreachable(t *testing.T) {
	client := NewClient("http://127.0.0.1:1",
		WithRetryConfig(RetryConfig{MaxAttempts: 1, BackoffBase: time.Millisecond, BackoffMultiplier: 1, MaxBackoff: time.Millisecond}),
		WithRequestTimeout(200*time.Millisecond))
	err := client.Connect(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unreachable")
}

func TestRequestTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer srv.Close()

	client := NewClient(srv.URL,
		WithRequestTimeout(50*time.Millisecond),
		WithRetryConfig(RetryConfig{MaxAttempts: 1, BackoffBase: time.Millisecond, BackoffMultiplier: 1, MaxBackoff: time.Millisecond}))

	start := time.Now()
	_, err := client.Balance(context.Background())
	require.Error(t, err)
	assert.True(t, IsTransient(err))
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestClassifyHTTPError(t *testing.T) {
	tests := []struct {
		status        int
		wantTransient bool
	}{
		{http.StatusTooManyRequests, true},
		{http.StatusInternalServerError, true},
		{http.StatusBadGateway, true},
		{http.StatusBadRequest, false},
		{http.StatusUnauthorized, false},
		{http.StatusForbidden, false},
		{http.StatusNotFound, false},
		{http.StatusTeapot, false},
	}

	for _, tt := range tests {
		err := classifyHTTPError(tt.status, []byte("body"))
		if tt.wantTransient {
			assert.True(t, IsTransient(err), "status %d should be transient", tt.status)
		} else {
			assert.True(t, IsFatal(err), "status %d should be fatal", tt.status)
		}
	}
}

func TestErrorClassificationHelpers(t *testing.T) {
	base := errors.New("boom")

	assert.True(t, IsTransient(NewTransientError(base)))
	assert.False(t, IsFatal(NewTransientError(base)))
	assert.True(t, IsFatal(NewFatalError(base)))
	assert.False(t, IsTransient(NewFatalError(base)))
	assert.False(t, IsTransient(base))
	assert.False(t, IsFatal(base))

	// Wrapping preserves classification.
	wrapped := NewTransientError(base)
	assert.ErrorIs(t, wrapped, base)
}
