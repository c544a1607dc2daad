// Package scanapi is a client for an Etherscan v2 style transaction index:
// paginated "list transactions to address" queries with the status/message
// envelope those APIs use.
package scanapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"lenderscan/internal/observability"
)

// Default configuration values.
const (
	DefaultTimeout     = 30 * time.Second
	DefaultMaxRetries  = 3
	DefaultRetryDelay  = 1 * time.Second
	DefaultMaxDelay    = 10 * time.Second
	DefaultBackoffMult = 2.0

	maxResponseBytes = 10 << 20
)

// Client queries the transaction index over HTTP with bounded retries and
// exponential backoff on transient failures.
type Client struct {
	endpoint    string
	chainID     string
	apiKey      string
	client      *http.Client
	maxRetries  int
	retryDelay  time.Duration
	maxDelay    time.Duration
	backoffMult float64
}

// ClientOption configures Client.
type ClientOption func(*Client)

// WithTimeout sets HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.client.Timeout = d
	}
}

// WithMaxRetries sets maximum retry attempts.
func WithMaxRetries(n int) ClientOption {
	return func(c *Client) {
		c.maxRetries = n
	}
}

// WithRetryDelay sets initial retry delay.
func WithRetryDelay(d time.Duration) ClientOption {
	return func(c *Client) {
		c.retryDelay = d
	}
}

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		c.client = client
	}
}

// NewClient creates a new index API client.
func NewClient(endpoint, chainID, apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		endpoint:    endpoint,
		chainID:     chainID,
		apiKey:      apiKey,
		client:      &http.Client{Timeout: DefaultTimeout},
		maxRetries:  DefaultMaxRetries,
		retryDelay:  DefaultRetryDelay,
		maxDelay:    DefaultMaxDelay,
		backoffMult: DefaultBackoffMult,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// IndexTransaction is one row from the index's txlist action. Numeric
// fields arrive as decimal strings.
type IndexTransaction struct {
	Hash            string `json:"hash"`
	From            string `json:"from"`
	To              string `json:"to"`
	Input           string `json:"input"`
	BlockNumber     string `json:"blockNumber"`
	TimeStamp       string `json:"timeStamp"`
	IsError         string `json:"isError"`
	TxReceiptStatus string `json:"txreceipt_status"`
}

// Reverted reports whether the index marked this transaction as failed.
func (t *IndexTransaction) Reverted() bool {
	return t.IsError == "1" || t.TxReceiptStatus == "0"
}

// Block parses the block number field.
func (t *IndexTransaction) Block() (uint64, error) {
	return strconv.ParseUint(t.BlockNumber, 10, 64)
}

// Time parses the timestamp field as Unix seconds.
func (t *IndexTransaction) Time() (int64, error) {
	return strconv.ParseInt(t.TimeStamp, 10, 64)
}

// envelope is the index's response wrapper. Result is an array on success
// and a bare string on most errors, so it stays raw until status is known.
type envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

// ListTransactions fetches one page of transactions sent to the address,
// oldest first. Returns ErrExhausted when the index reports no records for
// the page, which callers treat as normal termination.
func (c *Client) ListTransactions(ctx context.Context, address string, startBlock, endBlock uint64, page, offset int) ([]IndexTransaction, error) {
	params := url.Values{}
	params.Set("chainid", c.chainID)
	params.Set("module", "account")
	params.Set("action", "txlist")
	params.Set("address", address)
	params.Set("startblock", strconv.FormatUint(startBlock, 10))
	params.Set("endblock", strconv.FormatUint(endBlock, 10))
	params.Set("page", strconv.Itoa(page))
	params.Set("offset", strconv.Itoa(offset))
	params.Set("sort", "asc")
	if c.apiKey != "" {
		params.Set("apikey", c.apiKey)
	}

	body, err := c.get(ctx, params)
	if err != nil {
		return nil, err
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	if env.Status != "1" {
		switch classifyMessage(env.Message, env.Result) {
		case ErrExhausted:
			return nil, ErrExhausted
		case ErrRateLimited:
			return nil, ErrRateLimited
		default:
			return nil, fmt.Errorf("index error: %s", env.Message)
		}
	}

	var txs []IndexTransaction
	if err := json.Unmarshal(env.Result, &txs); err != nil {
		return nil, fmt.Errorf("%w: result is not an array", ErrMalformedPayload)
	}
	return txs, nil
}

// classifyMessage maps the index's status-0 responses onto the error
// taxonomy. "No transactions found" is exhaustion, not an error.
func classifyMessage(message string, result json.RawMessage) error {
	lower := strings.ToLower(message)
	var resultStr string
	_ = json.Unmarshal(result, &resultStr)
	resultLower := strings.ToLower(resultStr)

	switch {
	case strings.Contains(lower, "no transactions found"),
		strings.Contains(lower, "no records found"):
		return ErrExhausted
	case strings.Contains(lower, "rate limit"),
		strings.Contains(resultLower, "rate limit"):
		return ErrRateLimited
	}
	return nil
}

// get performs the HTTP request with retries on transient failures. Rate
// limits and network errors are retried; exhaustion and malformed payloads
// are not.
func (c *Client) get(ctx context.Context, params url.Values) ([]byte, error) {
	fullURL := c.endpoint + "?" + params.Encode()

	delay := c.retryDelay
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			delay = time.Duration(float64(delay) * c.backoffMult)
			if delay > c.maxDelay {
				delay = c.maxDelay
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}

		start := time.Now()
		resp, err := c.client.Do(req)
		observability.RecordScanAPILatency(time.Since(start).Seconds())
		if err != nil {
			lastErr = fmt.Errorf("http request: %w", err)
			continue
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("read response: %w", err)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			lastErr = ErrRateLimited
			continue
		}
		if resp.StatusCode != http.StatusOK {
			lastErr = fmt.Errorf("unexpected status %d: %s", resp.StatusCode, truncate(body, 200))
			continue
		}

		return body, nil
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		b = b[:n]
	}
	return string(b)
}
