package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/palaseus/gillean/internal/circuitbreaker"
	"github.com/palaseus/gillean/internal/metrics"
	"github.com/palaseus/gillean/internal/ratelimit"
	"github.com/palaseus/gillean/internal/retry"
)

const maxResponseBodyBytes = 8 << 20 // 8 MB, chains in test runs stay well under this

// Client is a typed HTTP client for one ledger node. All endpoint methods
// return a tagged Outcome instead of an error: the harness treats a node
// rejection as data, not as a failure of the harness itself.
type Client struct {
	nodeID     string
	baseURL    string
	httpClient *http.Client
	limiter    *ratelimit.Limiter
	breaker    *circuitbreaker.Breaker
	logger     *slog.Logger
}

// Option configures optional client dependencies.
type Option func(*Client)

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// WithLimiter sets an outgoing rate limiter.
func WithLimiter(l *ratelimit.Limiter) Option {
	return func(c *Client) { c.limiter = l }
}

// WithBreaker sets a circuit breaker guarding this node.
func WithBreaker(b *circuitbreaker.Breaker) Option {
	return func(c *Client) { c.breaker = b }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient creates a client for the node listening at baseURL.
func NewClient(nodeID, baseURL string, logger *slog.Logger, opts ...Option) *Client {
	c := &Client{
		nodeID:     nodeID,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger.With("component", "api_client", "node", nodeID),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) NodeID() string  { return c.nodeID }
func (c *Client) BaseURL() string { return c.baseURL }

// Health probes GET /health.
func (c *Client) Health(ctx context.Context) Outcome {
	return c.call(ctx, http.MethodGet, "/health", "health", nil, nil)
}

// Chain fetches the full chain via GET /chain.
func (c *Client) Chain(ctx context.Context) (*ChainView, Outcome) {
	var view ChainView
	out := c.call(ctx, http.MethodGet, "/chain", "chain", nil, &view)
	if !out.Accepted() {
		return nil, out
	}
	return &view, out
}

// Block fetches a single block via GET /block/{index}.
func (c *Client) Block(ctx context.Context, index int64) (*Block, Outcome) {
	var block Block
	out := c.call(ctx, http.MethodGet, fmt.Sprintf("/block/%d", index), "block", nil, &block)
	if !out.Accepted() {
		return nil, out
	}
	return &block, out
}

// SubmitTransaction posts a transfer via POST /transaction.
func (c *Client) SubmitTransaction(ctx context.Context, tx TransactionRequest) Outcome {
	return c.call(ctx, http.MethodPost, "/transaction", "transaction", tx, nil)
}

// Mine requests block production via POST /mine. The mined block is
// returned when the node includes it in the response.
func (c *Client) Mine(ctx context.Context, minerAddress string) (*Block, Outcome) {
	var block Block
	out := c.call(ctx, http.MethodPost, "/mine", "mine", mineRequest{MinerAddress: minerAddress}, &block)
	if !out.Accepted() {
		return nil, out
	}
	return &block, out
}

// Balance fetches an address balance via GET /balance/{address}.
func (c *Client) Balance(ctx context.Context, address string) (*BalanceView, Outcome) {
	var view BalanceView
	out := c.call(ctx, http.MethodGet, "/balance/"+address, "balance", nil, &view)
	if !out.Accepted() {
		return nil, out
	}
	return &view, out
}

// Pending fetches the mempool via GET /pending.
func (c *Client) Pending(ctx context.Context) ([]Transaction, Outcome) {
	var data pendingData
	out := c.call(ctx, http.MethodGet, "/pending", "pending", nil, &data)
	if !out.Accepted() {
		return nil, out
	}
	return data.Transactions, out
}

// Metrics probes the optional GET /metrics surface.
func (c *Client) Metrics(ctx context.Context) Outcome {
	return c.call(ctx, http.MethodGet, "/metrics", "metrics", nil, nil)
}

// Peers probes the optional GET /peers surface.
func (c *Client) Peers(ctx context.Context) Outcome {
	return c.call(ctx, http.MethodGet, "/peers", "peers", nil, nil)
}

// call executes one request and maps the response onto a tagged Outcome.
// dataOut, when non-nil, receives the envelope's data payload on success.
func (c *Client) call(ctx context.Context, method, path, endpoint string, reqBody, dataOut any) Outcome {
	start := time.Now()
	out := c.doCall(ctx, method, path, reqBody, dataOut)

	metrics.APICallsTotal.WithLabelValues(c.nodeID, endpoint, string(out.Status)).Inc()
	metrics.APICallLatency.WithLabelValues(c.nodeID, endpoint).Observe(time.Since(start).Seconds())

	if out.Status == StatusUnreachable {
		c.logger.Debug("node unreachable", "endpoint", endpoint, "reason", out.Reason)
	}
	return out
}

func (c *Client) doCall(ctx context.Context, method, path string, reqBody, dataOut any) Outcome {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return unreachable(fmt.Sprintf("rate limiter: %v", err))
		}
	}
	if c.breaker != nil {
		if err := c.breaker.Allow(); err != nil {
			if errors.Is(err, circuitbreaker.ErrOpen) {
				return unreachable("circuit breaker open")
			}
			return unreachable(err.Error())
		}
	}

	var body io.Reader
	if reqBody != nil {
		raw, err := json.Marshal(reqBody)
		if err != nil {
			return unreachable(fmt.Sprintf("marshal request: %v", err))
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return unreachable(fmt.Sprintf("create request: %v", err))
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.recordFailure()
		return unreachable(err.Error())
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodyBytes))
	if err != nil {
		c.recordFailure()
		return unreachable(fmt.Sprintf("read response: %v", err))
	}

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusNotImplemented:
		c.recordSuccess()
		return notImplemented(resp.StatusCode)
	case retry.ClassifyHTTPStatus(resp.StatusCode).IsTransient():
		// 5xx and 429: the node produced no usable decision.
		c.recordFailure()
		return unreachable(fmt.Sprintf("http status %d", resp.StatusCode))
	}

	// 2xx and 400 both carry the standard envelope; a 400 is the node
	// rejecting the request on domain grounds, which is a valid outcome.
	// A body that does not decode is a transport failure, not a decision.
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		c.recordFailure()
		return unreachable(fmt.Sprintf("malformed response body: %v", err))
	}

	if resp.StatusCode >= 400 || !env.Success {
		c.recordSuccess()
		reason := env.Message
		if reason == "" {
			reason = fmt.Sprintf("http status %d", resp.StatusCode)
		}
		return rejected(reason, resp.StatusCode)
	}

	if dataOut != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, dataOut); err != nil {
			c.recordFailure()
			return unreachable(fmt.Sprintf("malformed data payload: %v", err))
		}
	}
	c.recordSuccess()
	return accepted(resp.StatusCode)
}

func (c *Client) recordSuccess() {
	if c.breaker != nil {
		c.breaker.RecordSuccess()
	}
}

func (c *Client) recordFailure() {
	if c.breaker != nil {
		c.breaker.RecordFailure()
	}
}
