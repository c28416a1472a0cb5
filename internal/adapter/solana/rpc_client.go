package solana

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync/atomic"
	"time"

	"solana-forensics/config"
	"solana-forensics/internal/core/domain"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	DefaultTimeout     = 15 * time.Second
	DefaultMaxRetries  = 3
	DefaultRetryDelay  = 500 * time.Millisecond
	DefaultMaxDelay    = 8 * time.Second
	DefaultBackoffMult = 2.0
	DefaultSigLimit    = 25
)

// RPCClient talks JSON-RPC 2.0 to a Solana node. It implements
// ports.LedgerClient.
type RPCClient struct {
	endpoint    string
	client      *http.Client
	limiter     *rate.Limiter
	commitment  string
	maxRetries  int
	retryDelay  time.Duration
	maxDelay    time.Duration
	backoffMult float64
	sigLimit    int
	requestID   atomic.Uint64
	log         zerolog.Logger
}

// ClientOption configures RPCClient.
type ClientOption func(*RPCClient)

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *RPCClient) { c.client = hc }
}

// WithRetryDelay sets the initial backoff between attempts.
func WithRetryDelay(d time.Duration) ClientOption {
	return func(c *RPCClient) { c.retryDelay = d }
}

// WithRateLimit caps outgoing requests per second. Zero disables limiting.
func WithRateLimit(rps float64) ClientOption {
	return func(c *RPCClient) {
		if rps <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 0)
			return
		}
		burst := int(rps)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// NewRPCClient creates a client from the solana config section.
func NewRPCClient(cfg config.SolanaConfig, log zerolog.Logger, opts ...ClientOption) *RPCClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	c := &RPCClient{
		endpoint:    cfg.RPCURL,
		client:      &http.Client{Timeout: timeout},
		commitment:  cfg.Commitment,
		maxRetries:  cfg.MaxRetries,
		retryDelay:  DefaultRetryDelay,
		maxDelay:    DefaultMaxDelay,
		backoffMult: DefaultBackoffMult,
		sigLimit:    cfg.SignatureLimit,
		log:         log,
	}
	if c.commitment == "" {
		c.commitment = "confirmed"
	}
	if c.maxRetries < 0 {
		c.maxRetries = DefaultMaxRetries
	}
	if c.sigLimit <= 0 {
		c.sigLimit = DefaultSigLimit
	}
	WithRateLimit(cfg.RequestsPerSecond)(c)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is an error object returned by the node. It is never retried.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

// call performs a JSON-RPC call with rate limiting, retries and
// exponential backoff.
func (c *RPCClient) call(ctx context.Context, method string, params []interface{}, result interface{}) error {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.requestID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	delay := c.retryDelay
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			c.log.Debug().Str("method", method).Int("attempt", attempt).Err(lastErr).Msg("retrying rpc call")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay = time.Duration(float64(delay) * c.backoffMult)
			if delay > c.maxDelay {
				delay = c.maxDelay
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastErr = fmt.Errorf("http request: %w", err)
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("read response: %w", err)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			lastErr = errors.New("rate limited (429)")
			continue
		}
		if resp.StatusCode != http.StatusOK {
			lastErr = fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
			continue
		}

		var rpcResp rpcResponse
		if err := json.Unmarshal(respBody, &rpcResp); err != nil {
			lastErr = fmt.Errorf("unmarshal response: %w", err)
			continue
		}
		if rpcResp.Error != nil {
			return rpcResp.Error
		}

		if result != nil && len(rpcResp.Result) > 0 {
			if err := json.Unmarshal(rpcResp.Result, result); err != nil {
				return fmt.Errorf("unmarshal result: %w", err)
			}
		}
		return nil
	}

	return fmt.Errorf("%s: max retries exceeded: %w", method, lastErr)
}

// GetTransaction fetches and converts a confirmed transaction. It returns
// nil, nil when the node does not know the signature.
func (c *RPCClient) GetTransaction(ctx context.Context, signature string) (*domain.Transaction, error) {
	params := []interface{}{
		signature,
		map[string]interface{}{
			"encoding":                       "json",
			"commitment":                     c.commitment,
			"maxSupportedTransactionVersion": 0,
		},
	}

	var result *getTransactionResult
	if err := c.call(ctx, "getTransaction", params, &result); err != nil {
		return nil, err
	}
	if result == nil {
		return nil, nil
	}
	tx := result.toDomain(signature)
	return &tx, nil
}

// SignaturesOpts pages through getSignaturesForAddress.
type SignaturesOpts struct {
	Before string
	Until  string
	Limit  int
}

// SignatureInfo is one entry of getSignaturesForAddress, newest first.
type SignatureInfo struct {
	Signature string      `json:"signature"`
	Slot      uint64      `json:"slot"`
	BlockTime *int64      `json:"blockTime"`
	Err       interface{} `json:"err"`
}

// GetSignaturesForAddress lists recent signatures touching address, newest
// first as the node returns them.
func (c *RPCClient) GetSignaturesForAddress(ctx context.Context, address string, opts SignaturesOpts) ([]SignatureInfo, error) {
	cfg := map[string]interface{}{"commitment": c.commitment}
	if opts.Before != "" {
		cfg["before"] = opts.Before
	}
	if opts.Until != "" {
		cfg["until"] = opts.Until
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = c.sigLimit
	}
	cfg["limit"] = limit

	var result []SignatureInfo
	if err := c.call(ctx, "getSignaturesForAddress", []interface{}{address, cfg}, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// GetRelatedTransactions returns transactions touching account in slots
// after sinceSlot, oldest first. A signature that fails to fetch is skipped
// so one bad transaction does not hide the rest.
func (c *RPCClient) GetRelatedTransactions(ctx context.Context, account string, sinceSlot uint64) ([]domain.Transaction, error) {
	sigs, err := c.GetSignaturesForAddress(ctx, account, SignaturesOpts{})
	if err != nil {
		return nil, fmt.Errorf("signatures for %s: %w", account, err)
	}

	sort.SliceStable(sigs, func(i, j int) bool { return sigs[i].Slot < sigs[j].Slot })

	var out []domain.Transaction
	for _, s := range sigs {
		if s.Slot <= sinceSlot {
			continue
		}
		tx, err := c.GetTransaction(ctx, s.Signature)
		if err != nil {
			if ctx.Err() != nil {
				return out, ctx.Err()
			}
			c.log.Warn().Err(err).Str("signature", s.Signature).Str("account", account).Msg("skipping related transaction")
			continue
		}
		if tx == nil {
			continue
		}
		out = append(out, *tx)
	}
	return out, nil
}
