// Package solana es el cliente JSON-RPC mínimo que necesita el keeper:
// lectura de cuentas (feeds de precio) y del slot actual (tick).
package solana

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultEndpoint = "https://api.mainnet-beta.solana.com"

	// El RPC público permite 100 req/10s por IP; usamos el 60%.
	defaultRatePerSec = 6
	defaultBurst      = 3

	defaultMaxRetries    = 3
	defaultBaseRetryWait = 500 * time.Millisecond
)

// Commitment es el nivel de confirmación pedido al nodo.
type Commitment string

const (
	CommitmentProcessed Commitment = "processed"
	CommitmentConfirmed Commitment = "confirmed"
	CommitmentFinalized Commitment = "finalized"
)

// Client es el cliente JSON-RPC de Solana con rate limiting y retries.
type Client struct {
	http          *http.Client
	endpoint      string
	commitment    Commitment
	limiter       *rate.Limiter
	maxRetries    int
	baseRetryWait time.Duration
	requestID     atomic.Uint64
}

// ClientOption configura un Client.
type ClientOption func(*Client)

// WithHTTPClient reemplaza el http.Client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.http = hc }
}

// WithCommitment fija el commitment de las lecturas.
func WithCommitment(cm Commitment) ClientOption {
	return func(c *Client) { c.commitment = cm }
}

// WithRateLimit fija las requests por segundo y el burst.
func WithRateLimit(perSec float64, burst int) ClientOption {
	return func(c *Client) { c.limiter = rate.NewLimiter(rate.Limit(perSec), burst) }
}

// WithRetries fija la cantidad de reintentos y la espera base del backoff.
func WithRetries(n int, base time.Duration) ClientOption {
	return func(c *Client) {
		c.maxRetries = n
		c.baseRetryWait = base
	}
}

// NewClient crea un Client. Si endpoint está vacío usa mainnet-beta.
func NewClient(endpoint string, opts ...ClientOption) *Client {
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	c := &Client{
		http:          &http.Client{Timeout: 10 * time.Second},
		endpoint:      endpoint,
		commitment:    CommitmentConfirmed,
		limiter:       rate.NewLimiter(defaultRatePerSec, defaultBurst),
		maxRetries:    defaultMaxRetries,
		baseRetryWait: defaultBaseRetryWait,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params,omitempty"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error,omitempty"`
}

// RPCError es un error devuelto por el nodo. No se reintenta.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// AccountInfo es el contenido de una cuenta on-chain.
type AccountInfo struct {
	Slot       uint64
	Owner      string
	Lamports   uint64
	Data       []byte
	Executable bool
}

type accountInfoResult struct {
	Context struct {
		Slot uint64 `json:"slot"`
	} `json:"context"`
	Value *struct {
		Data       []string `json:"data"`
		Owner      string   `json:"owner"`
		Lamports   uint64   `json:"lamports"`
		Executable bool     `json:"executable"`
	} `json:"value"`
}

// GetAccountInfo lee una cuenta con encoding base64. Una cuenta inexistente
// devuelve ErrAccountNotFound.
func (c *Client) GetAccountInfo(ctx context.Context, address string) (*AccountInfo, error) {
	params := []any{address, map[string]any{
		"encoding":   "base64",
		"commitment": c.commitment,
	}}

	var res accountInfoResult
	if err := c.call(ctx, "getAccountInfo", params, &res); err != nil {
		return nil, fmt.Errorf("solana.GetAccountInfo %s: %w", address, err)
	}
	if res.Value == nil {
		return nil, fmt.Errorf("solana.GetAccountInfo %s: %w", address, ErrAccountNotFound)
	}
	if len(res.Value.Data) < 1 {
		return nil, fmt.Errorf("solana.GetAccountInfo %s: empty data field", address)
	}
	if len(res.Value.Data) > 1 && res.Value.Data[1] != "base64" {
		return nil, fmt.Errorf("solana.GetAccountInfo %s: unexpected encoding %q", address, res.Value.Data[1])
	}
	data, err := base64.StdEncoding.DecodeString(res.Value.Data[0])
	if err != nil {
		return nil, fmt.Errorf("solana.GetAccountInfo %s: decode data: %w", address, err)
	}

	return &AccountInfo{
		Slot:       res.Context.Slot,
		Owner:      res.Value.Owner,
		Lamports:   res.Value.Lamports,
		Data:       data,
		Executable: res.Value.Executable,
	}, nil
}

// GetSlot devuelve el slot actual del nodo.
func (c *Client) GetSlot(ctx context.Context) (uint64, error) {
	var slot uint64
	params := []any{map[string]any{"commitment": c.commitment}}
	if err := c.call(ctx, "getSlot", params, &slot); err != nil {
		return 0, fmt.Errorf("solana.GetSlot: %w", err)
	}
	return slot, nil
}

// call hace un POST JSON-RPC con rate limiting y retries.
func (c *Client) call(ctx context.Context, method string, params []any, out any) error {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.requestID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			c.sleep(ctx, attempt-1)
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		raw, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("read response: %w", err)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			slog.Warn("rate limited by RPC", "method", method, "attempt", attempt+1)
			lastErr = fmt.Errorf("rate limited (429)")
			continue
		}
		if resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("server error %d", resp.StatusCode)
			continue
		}
		if resp.StatusCode >= 400 {
			return fmt.Errorf("client error %d: %s", resp.StatusCode, string(raw))
		}

		var rpcResp rpcResponse
		if err := json.Unmarshal(raw, &rpcResp); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		if rpcResp.Error != nil {
			return rpcResp.Error
		}
		if err := json.Unmarshal(rpcResp.Result, out); err != nil {
			return fmt.Errorf("decode result: %w", err)
		}
		return nil
	}
	return fmt.Errorf("request failed after %d retries: %w", c.maxRetries, lastErr)
}

// sleep espera con backoff exponencial, respetando el contexto.
func (c *Client) sleep(ctx context.Context, attempt int) {
	wait := time.Duration(math.Pow(2, float64(attempt))) * c.baseRetryWait
	select {
	case <-time.After(wait):
	case <-ctx.Done():
	}
}
