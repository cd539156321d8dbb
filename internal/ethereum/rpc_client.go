package ethereum

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
)

// Default configuration values.
const (
	DefaultTimeout     = 30 * time.Second
	DefaultMaxRetries  = 3
	DefaultRetryDelay  = 1 * time.Second
	DefaultMaxDelay    = 10 * time.Second
	DefaultBackoffMult = 2.0
)

// RPCClient implements the chain query endpoint over HTTP JSON-RPC 2.0.
type RPCClient struct {
	endpoint    string
	client      *http.Client
	maxRetries  int
	retryDelay  time.Duration
	maxDelay    time.Duration
	backoffMult float64
	requestID   atomic.Uint64
}

// ClientOption configures RPCClient.
type ClientOption func(*RPCClient)

// WithTimeout sets HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *RPCClient) {
		c.client.Timeout = d
	}
}

// WithMaxRetries sets maximum retry attempts.
func WithMaxRetries(n int) ClientOption {
	return func(c *RPCClient) {
		c.maxRetries = n
	}
}

// WithRetryDelay sets initial retry delay.
func WithRetryDelay(d time.Duration) ClientOption {
	return func(c *RPCClient) {
		c.retryDelay = d
	}
}

// WithHTTPClient sets custom http.Client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *RPCClient) {
		c.client = client
	}
}

// NewRPCClient creates a new chain RPC HTTP client.
func NewRPCClient(endpoint string, opts ...ClientOption) *RPCClient {
	c := &RPCClient{
		endpoint:    endpoint,
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

// rpcRequest represents a JSON-RPC 2.0 request.
type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params,omitempty"`
}

// rpcResponse represents a JSON-RPC 2.0 response.
type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

// rpcError represents a JSON-RPC 2.0 error.
type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

// call performs a JSON-RPC call with retries and exponential backoff.
func (c *RPCClient) call(ctx context.Context, method string, params []interface{}, result interface{}) error {
	reqID := c.requestID.Add(1)
	reqBody := rpcRequest{
		JSONRPC: "2.0",
		ID:      reqID,
		Method:  method,
		Params:  params,
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	delay := c.retryDelay
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			// Exponential backoff
			delay = time.Duration(float64(delay) * c.backoffMult)
			if delay > c.maxDelay {
				delay = c.maxDelay
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("http request: %w", err)
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("read response: %w", err)
			continue
		}

		// Handle rate limiting
		if resp.StatusCode == http.StatusTooManyRequests {
			lastErr = fmt.Errorf("rate limited (429)")
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
			// RPC errors are not retried
			return rpcResp.Error
		}

		if result != nil && rpcResp.Result != nil {
			if err := json.Unmarshal(rpcResp.Result, result); err != nil {
				return fmt.Errorf("unmarshal result: %w", err)
			}
		}

		return nil
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

// rpcTransaction is the raw eth_getTransactionByHash result.
type rpcTransaction struct {
	Hash     string  `json:"hash"`
	From     string  `json:"from"`
	To       *string `json:"to"`
	Input    string  `json:"input"`
	Value    string  `json:"value"`
	GasPrice string  `json:"gasPrice"`
	Nonce    string  `json:"nonce"`
}

// TransactionByHash retrieves a transaction by hash. A pending ref that
// is no longer visible returns (nil, nil).
func (c *RPCClient) TransactionByHash(ctx context.Context, hash string) (*Transaction, error) {
	var result *rpcTransaction
	if err := c.call(ctx, "eth_getTransactionByHash", []interface{}{hash}, &result); err != nil {
		return nil, err
	}
	if result == nil {
		// Transaction not found
		return nil, nil
	}

	input, err := parseHexBytes(result.Input)
	if err != nil {
		return nil, fmt.Errorf("transaction %s: %w", hash, err)
	}
	value, err := parseHexBig(result.Value)
	if err != nil {
		return nil, fmt.Errorf("transaction %s: %w", hash, err)
	}
	gasPrice, err := parseHexBig(result.GasPrice)
	if err != nil {
		return nil, fmt.Errorf("transaction %s: %w", hash, err)
	}
	nonce, err := parseHexUint64(result.Nonce)
	if err != nil {
		return nil, fmt.Errorf("transaction %s: %w", hash, err)
	}

	tx := &Transaction{
		Hash:     strings.ToLower(result.Hash),
		From:     strings.ToLower(result.From),
		Input:    input,
		Value:    value,
		GasPrice: gasPrice,
		Nonce:    nonce,
	}
	if result.To != nil {
		tx.To = strings.ToLower(*result.To)
	}
	return tx, nil
}

// rpcReceipt is the raw eth_getTransactionReceipt result.
type rpcReceipt struct {
	TransactionHash string `json:"transactionHash"`
	Status          string `json:"status"`
	BlockNumber     string `json:"blockNumber"`
}

// TransactionReceipt retrieves the receipt for a mined transaction.
// Returns (nil, nil) while the transaction is still pending.
func (c *RPCClient) TransactionReceipt(ctx context.Context, hash string) (*Receipt, error) {
	var result *rpcReceipt
	if err := c.call(ctx, "eth_getTransactionReceipt", []interface{}{hash}, &result); err != nil {
		return nil, err
	}
	if result == nil {
		return nil, nil
	}

	status, err := parseHexUint64(result.Status)
	if err != nil {
		return nil, fmt.Errorf("receipt %s: %w", hash, err)
	}
	blockNumber, err := parseHexUint64(result.BlockNumber)
	if err != nil {
		return nil, fmt.Errorf("receipt %s: %w", hash, err)
	}

	return &Receipt{
		TxHash:      strings.ToLower(result.TransactionHash),
		Status:      status,
		BlockNumber: blockNumber,
	}, nil
}
