package decrypt

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"ShadowSwap/internal/ledgererr"

	"github.com/rs/zerolog"
)

// MPCConfig configures the MPC decryption service client.
type MPCConfig struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	HTTPTimeout  time.Duration
}

// MPCClient decrypts payloads through the MPC network's REST API. It
// authenticates lazily and re-authenticates once when the token is rejected.
type MPCClient struct {
	cfg    MPCConfig
	http   *http.Client
	logger zerolog.Logger

	mu    sync.Mutex
	token string
}

func NewMPCClient(cfg MPCConfig, logger zerolog.Logger) (*MPCClient, error) {
	if cfg.BaseURL == "" || cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, ledgererr.New(ledgererr.MissingCredentials, "MPC url, client id and client secret are required")
	}
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &MPCClient{
		cfg:    cfg,
		http:   &http.Client{Timeout: timeout},
		logger: logger,
	}, nil
}

type tokenRequest struct {
	ClientID     string `json:"clientId"`
	ClientSecret string `json:"clientSecret"`
}

type tokenResponse struct {
	Token string `json:"token"`
}

type decryptRequest struct {
	Ciphertext      string `json:"ciphertext"`
	Nonce           string `json:"nonce"`
	ComputationType string `json:"computationType"`
}

type decryptResponse struct {
	Plaintext string `json:"plaintext"`
	Nonce     string `json:"nonce"`
	Message   string `json:"message,omitempty"`
}

// Authenticate fetches a bearer token.
func (c *MPCClient) Authenticate(ctx context.Context) error {
	var resp tokenResponse
	status, err := c.post(ctx, "/auth/token", "", tokenRequest{ClientID: c.cfg.ClientID, ClientSecret: c.cfg.ClientSecret}, &resp)
	if err != nil {
		return err
	}
	if status != http.StatusOK || resp.Token == "" {
		if code := classifyStatus(status); ledgererr.ClassOfCode(code) == ledgererr.ClassTransient {
			return ledgererr.New(code, "MPC authentication returned %d", status)
		}
		return ledgererr.New(ledgererr.MissingCredentials, "MPC authentication rejected (%d)", status)
	}

	c.mu.Lock()
	c.token = resp.Token
	c.mu.Unlock()
	c.logger.Info().Msg("MPC client authenticated")
	return nil
}

func (c *MPCClient) currentToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

// Decrypt implements Decryptor.
func (c *MPCClient) Decrypt(ctx context.Context, ciphertext []byte) (Plaintext, error) {
	if c.currentToken() == "" {
		if err := c.Authenticate(ctx); err != nil {
			return Plaintext{}, err
		}
	}

	req := decryptRequest{
		Ciphertext:      base64.StdEncoding.EncodeToString(ciphertext),
		ComputationType: "order_decryption",
	}

	var resp decryptResponse
	status, err := c.post(ctx, "/compute/decrypt", c.currentToken(), req, &resp)
	if err != nil {
		return Plaintext{}, err
	}
	if status == http.StatusUnauthorized {
		if err := c.Authenticate(ctx); err != nil {
			return Plaintext{}, err
		}
		resp = decryptResponse{}
		if status, err = c.post(ctx, "/compute/decrypt", c.currentToken(), req, &resp); err != nil {
			return Plaintext{}, err
		}
	}
	if status != http.StatusOK {
		msg := resp.Message
		if msg == "" {
			msg = http.StatusText(status)
		}
		return Plaintext{}, ledgererr.New(classifyStatus(status), "MPC decrypt: %s", msg)
	}
	return parsePlaintext([]byte(resp.Plaintext))
}

// post sends a JSON request and decodes the JSON response into out. A
// non-2xx status is returned rather than treated as an error, with out
// decoded best-effort.
func (c *MPCClient) post(ctx context.Context, path, token string, in, out any) (int, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return 0, ledgererr.Wrap(ledgererr.Internal, err, "encode MPC request")
	}
	url := strings.TrimRight(c.cfg.BaseURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, ledgererr.Wrap(ledgererr.Internal, err, "build MPC request")
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return 0, ledgererr.Wrap(ledgererr.DecryptTimeout, err, "MPC request timed out")
		}
		return 0, ledgererr.Wrap(ledgererr.Unavailable, err, fmt.Sprintf("MPC %s", path))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, ledgererr.Wrap(ledgererr.Unavailable, err, "read MPC response")
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil && resp.StatusCode == http.StatusOK {
			return resp.StatusCode, ledgererr.Wrap(ledgererr.Internal, err, "decode MPC response")
		}
	}
	return resp.StatusCode, nil
}

func classifyStatus(status int) ledgererr.Code {
	switch {
	case status == http.StatusTooManyRequests:
		return ledgererr.RateLimited
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ledgererr.Unauthorized
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return ledgererr.DecryptTimeout
	case status >= 500:
		return ledgererr.Unavailable
	default:
		return ledgererr.InvalidCipherPayload
	}
}
