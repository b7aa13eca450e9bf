package mint_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Youngkwon-Lee/sol-dapp-squat/internal/mint"
)

func TestGateCheck(t *testing.T) {
	gate := mint.Gate{Target: 30}

	tests := []struct {
		name    string
		count   int
		minted  bool
		wallet  string
		wantErr error
	}{
		{"eligible", 30, false, "wallet", nil},
		{"above target", 45, false, "wallet", nil},
		{"below target", 29, false, "wallet", mint.ErrNotEligible},
		{"already minted", 30, true, "wallet", mint.ErrAlreadyMinted},
		{"minted wins over count", 0, true, "", mint.ErrAlreadyMinted},
		{"no wallet", 30, false, "  ", mint.ErrNoWallet},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := gate.Check(tt.count, tt.minted, tt.wallet)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
		})
	}
}

func TestHTTPMinter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req mint.Request
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "wallet-1", req.WalletAddress)
		assert.Equal(t, 30, req.RepCount)
		assert.Equal(t, mint.DefaultName, req.Name)
		assert.Equal(t, mint.DefaultSymbol, req.Symbol)

		_, _ = w.Write([]byte(`{"signature":"5xSig"}`))
	}))
	defer srv.Close()

	minter := mint.NewHTTPMinter(srv.URL, time.Second)

	sig, err := minter.Mint(context.Background(), mint.Request{WalletAddress: "wallet-1", RepCount: 30})
	require.NoError(t, err)
	assert.Equal(t, "5xSig", sig)
}

func TestHTTPMinter_ServiceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"error":"rpc unavailable"}`))
	}))
	defer srv.Close()

	_, err := mint.NewHTTPMinter(srv.URL, time.Second).Mint(context.Background(), mint.Request{WalletAddress: "w"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
	assert.Contains(t, err.Error(), "rpc unavailable")
}

func TestHTTPMinter_NoSignature(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	_, err := mint.NewHTTPMinter(srv.URL, time.Second).Mint(context.Background(), mint.Request{WalletAddress: "w"})
	assert.Error(t, err)
}
