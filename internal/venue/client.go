// Package venue is the client for the swap-aggregator API: signed
// quote, swap, and valuation requests.
package venue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"mempool-mirror/internal/domain"
	"mempool-mirror/internal/observability"
)

const (
	quotePath = "/api/v5/dex/aggregator/quote"
	swapPath  = "/api/v5/dex/aggregator/swap"

	// USDT is the valuation numeraire (6 decimals).
	usdtAddress  = "0xdac17f958d2ee523a2206206994597c13d831ec7"
	usdtDecimals = 6
)

// Config holds the venue connection parameters. Credentials are
// injected from the environment by the config loader.
type Config struct {
	BaseURL       string
	APIKey        string
	APISecret     string
	Passphrase    string
	ChainID       string
	WalletAddress string
	SlippagePct   float64
}

// Client calls the aggregator. It performs no retries itself; callers
// decide what is safe to retry via IsRetryable.
type Client struct {
	cfg     Config
	signer  *Signer
	http    *http.Client
	logger  *log.Logger
	metrics *observability.Metrics
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the HTTP request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func NewClient(cfg Config, logger *log.Logger, metrics *observability.Metrics, opts ...Option) *Client {
	if logger == nil {
		logger = log.Default()
	}
	c := &Client{
		cfg:     cfg,
		signer:  NewSigner(cfg.APIKey, cfg.APISecret, cfg.Passphrase),
		http:    &http.Client{Timeout: 10 * time.Second},
		logger:  logger,
		metrics: metrics,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// envelope is the aggregator's uniform response wrapper. Code "0" is
// success; anything else is a venue-side rejection.
type envelope struct {
	Code string            `json:"code"`
	Msg  string            `json:"msg"`
	Data []json.RawMessage `json:"data"`
}

type quoteData struct {
	ToTokenAmount         string `json:"toTokenAmount"`
	EstimateGasFee        string `json:"estimateGasFee"`
	PriceImpactPercentage string `json:"priceImpactPercentage"`
	DexRouterList         []struct {
		Router string `json:"router"`
	} `json:"dexRouterList"`
}

type swapData struct {
	TxHash string `json:"txHash"`
}

// SwapResult is an accepted swap submission.
type SwapResult struct {
	TxHash string
}

// GetQuote fetches a fresh estimate for swapping amount of fromToken
// into toToken.
func (c *Client) GetQuote(ctx context.Context, fromToken, toToken string, amount *big.Int) (*domain.Quote, error) {
	params := url.Values{}
	params.Set("chainId", c.cfg.ChainID)
	params.Set("fromTokenAddress", fromToken)
	params.Set("toTokenAddress", toToken)
	params.Set("amount", amount.String())

	var data quoteData
	if err := c.get(ctx, quotePath, params, &data); err != nil {
		return nil, err
	}

	toAmount, ok := new(big.Int).SetString(data.ToTokenAmount, 10)
	if !ok {
		return nil, fmt.Errorf("quote returned unparseable output amount %q", data.ToTokenAmount)
	}
	gas, err := strconv.ParseInt(data.EstimateGasFee, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("quote returned unparseable gas estimate %q: %w", data.EstimateGasFee, err)
	}
	impact, err := strconv.ParseFloat(data.PriceImpactPercentage, 64)
	if err != nil {
		return nil, fmt.Errorf("quote returned unparseable price impact %q: %w", data.PriceImpactPercentage, err)
	}

	route := make([]string, 0, len(data.DexRouterList))
	for _, r := range data.DexRouterList {
		route = append(route, r.Router)
	}

	return &domain.Quote{
		FromToken:      fromToken,
		ToToken:        toToken,
		FromAmount:     new(big.Int).Set(amount),
		ToAmount:       toAmount,
		EstimatedGas:   gas,
		PriceImpactPct: impact,
		Route:          route,
		IssuedAt:       time.Now(),
	}, nil
}

// swapRequest is the body of a swap submission.
type swapRequest struct {
	ChainID           string `json:"chainId"`
	FromTokenAddress  string `json:"fromTokenAddress"`
	ToTokenAddress    string `json:"toTokenAddress"`
	Amount            string `json:"amount"`
	Slippage          string `json:"slippage"`
	UserWalletAddress string `json:"userWalletAddress"`
}

// Swap submits the order's swap for execution. The venue broadcasts the
// transaction and returns its hash; confirmation is the caller's job.
func (c *Client) Swap(ctx context.Context, order *domain.ValidatedOrder) (*SwapResult, error) {
	req := swapRequest{
		ChainID:           c.cfg.ChainID,
		FromTokenAddress:  order.Quote.FromToken,
		ToTokenAddress:    order.Quote.ToToken,
		Amount:            order.AmountInWei.String(),
		Slippage:          strconv.FormatFloat(c.cfg.SlippagePct/100, 'f', -1, 64),
		UserWalletAddress: c.cfg.WalletAddress,
	}

	var data swapData
	if err := c.post(ctx, swapPath, req, &data); err != nil {
		return nil, err
	}
	if data.TxHash == "" {
		return nil, fmt.Errorf("swap response missing transaction hash")
	}
	return &SwapResult{TxHash: data.TxHash}, nil
}

// TokenValueUSD prices amount of token by quoting it against USDT.
func (c *Client) TokenValueUSD(ctx context.Context, token string, amount *big.Int) (decimal.Decimal, error) {
	quote, err := c.GetQuote(ctx, token, usdtAddress, amount)
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromBigInt(quote.ToAmount, -usdtDecimals), nil
}

func (c *Client) get(ctx context.Context, path string, params url.Values, out any) error {
	return c.do(ctx, http.MethodGet, path+"?"+params.Encode(), nil, out)
}

func (c *Client) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding venue request failed: %w", err)
	}
	return c.do(ctx, http.MethodPost, path, body, out)
}

func (c *Client) do(ctx context.Context, method, fullPath string, reqBody []byte, out any) error {
	var bodyReader io.Reader
	if reqBody != nil {
		bodyReader = bytes.NewReader(reqBody)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+fullPath, bodyReader)
	if err != nil {
		return fmt.Errorf("building venue request failed: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range c.signer.Sign(method, fullPath, reqBody) {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if c.metrics != nil {
		endpoint, _, _ := strings.Cut(fullPath, "?")
		c.metrics.VenueLatency.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	}
	if err != nil {
		return fmt.Errorf("venue request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("reading venue response failed: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return &APIError{HTTPStatus: resp.StatusCode, Msg: http.StatusText(resp.StatusCode)}
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("decoding venue response failed: %w", err)
	}
	if env.Code != "0" {
		return &APIError{HTTPStatus: resp.StatusCode, Code: env.Code, Msg: env.Msg}
	}
	if len(env.Data) == 0 {
		return fmt.Errorf("venue response has empty data")
	}
	if err := json.Unmarshal(env.Data[0], out); err != nil {
		return fmt.Errorf("decoding venue payload failed: %w", err)
	}
	return nil
}
