package decrypt_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"ShadowSwap/internal/decrypt"
	"ShadowSwap/internal/ledgererr"
	"ShadowSwap/internal/matching"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mpcServer emulates the MPC REST API. Decrypt echoes the mock layout back
// as the JSON plaintext document.
func mpcServer(t *testing.T, tokens *atomic.Int32, decryptStatus int) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/token", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if req["clientSecret"] != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		n := tokens.Add(1)
		json.NewEncoder(w).Encode(map[string]string{"token": "tok-" + string(rune('0'+n))})
	})
	mux.HandleFunc("/compute/decrypt", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if decryptStatus != http.StatusOK {
			w.WriteHeader(decryptStatus)
			json.NewEncoder(w).Encode(map[string]string{"message": "nope"})
			return
		}
		var req map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		raw, err := base64.StdEncoding.DecodeString(req["ciphertext"])
		assert.NoError(t, err)
		pt, err := decrypt.NewMockDecryptor().Decrypt(r.Context(), raw)
		assert.NoError(t, err)
		doc, _ := json.Marshal(map[string]any{
			"side":      int(pt.Side),
			"amount":    "10",
			"price":     "100",
			"timestamp": pt.Timestamp,
		})
		json.NewEncoder(w).Encode(map[string]string{"plaintext": string(doc), "nonce": "n"})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestMPCClient_AuthenticatesAndDecrypts(t *testing.T) {
	var tokens atomic.Int32
	srv := mpcServer(t, &tokens, http.StatusOK)
	c, err := decrypt.NewMPCClient(decrypt.MPCConfig{BaseURL: srv.URL, ClientID: "keeper", ClientSecret: "secret"}, zerolog.Nop())
	require.NoError(t, err)

	pt, err := c.Decrypt(context.Background(), decrypt.EncodePayload(matching.SideSell, 10, 100, 7))

	require.NoError(t, err)
	assert.Equal(t, matching.SideSell, pt.Side)
	assert.Equal(t, int64(10), pt.Amount)
	assert.Equal(t, int64(100), pt.Price)
	assert.Equal(t, int32(1), tokens.Load())
}

func TestMPCClient_StatusClassification(t *testing.T) {
	cases := map[int]ledgererr.Code{
		http.StatusServiceUnavailable: ledgererr.Unavailable,
		http.StatusTooManyRequests:    ledgererr.RateLimited,
		http.StatusGatewayTimeout:     ledgererr.DecryptTimeout,
		http.StatusBadRequest:         ledgererr.InvalidCipherPayload,
	}
	for status, code := range cases {
		var tokens atomic.Int32
		srv := mpcServer(t, &tokens, status)
		c, err := decrypt.NewMPCClient(decrypt.MPCConfig{BaseURL: srv.URL, ClientID: "keeper", ClientSecret: "secret"}, zerolog.Nop())
		require.NoError(t, err)

		_, err = c.Decrypt(context.Background(), decrypt.EncodePayload(matching.SideBuy, 1, 1, 0))
		assert.True(t, ledgererr.Is(err, code), "status %d: got %v", status, err)
	}
}

func TestMPCClient_BadCredentials(t *testing.T) {
	var tokens atomic.Int32
	srv := mpcServer(t, &tokens, http.StatusOK)
	c, err := decrypt.NewMPCClient(decrypt.MPCConfig{BaseURL: srv.URL, ClientID: "keeper", ClientSecret: "wrong"}, zerolog.Nop())
	require.NoError(t, err)

	err = c.Authenticate(context.Background())
	assert.True(t, ledgererr.Is(err, ledgererr.MissingCredentials))
	assert.Equal(t, ledgererr.ClassFatal, ledgererr.ClassOf(err))
}

func TestNewMPCClient_RequiresCredentials(t *testing.T) {
	_, err := decrypt.NewMPCClient(decrypt.MPCConfig{BaseURL: "http://mpc"}, zerolog.Nop())
	assert.True(t, ledgererr.Is(err, ledgererr.MissingCredentials))
}
