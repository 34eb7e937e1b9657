package jupiter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/swapplan/swapplan/internal/asset"
	planerr "github.com/swapplan/swapplan/internal/errors"
	"github.com/swapplan/swapplan/internal/httpx"
	"github.com/swapplan/swapplan/internal/model"
	"github.com/swapplan/swapplan/internal/registry"
)

// DefaultSlippageBps is applied when a request does not set its own
// slippage tolerance (50 = 0.5%).
const DefaultSlippageBps = 50

// Client talks to the Jupiter aggregator: swap quotes, swap transaction
// building and token prices. All network failures come back classified;
// transient ones are retried by the underlying transport.
type Client struct {
	http      *httpx.Client
	swapBase  string
	priceBase string
	apiKey    string
	logger    *zap.Logger
	now       func() time.Time
}

type Option func(*Client)

func WithBaseURLs(swapBase, priceBase string) Option {
	return func(c *Client) {
		if swapBase != "" {
			c.swapBase = strings.TrimRight(swapBase, "/")
		}
		if priceBase != "" {
			c.priceBase = strings.TrimRight(priceBase, "/")
		}
	}
}

func WithAPIKey(key string) Option {
	return func(c *Client) {
		c.apiKey = strings.TrimSpace(key)
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func New(httpClient *httpx.Client, opts ...Option) *Client {
	c := &Client{
		http:      httpClient,
		swapBase:  registry.JupiterSwapBaseURL,
		priceBase: registry.JupiterPriceBaseURL,
		logger:    zap.NewNop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type quoteResponse struct {
	OutAmount      string          `json:"outAmount"`
	PriceImpactPct string          `json:"priceImpactPct"`
	RoutePlan      json.RawMessage `json:"routePlan"`
	PlatformFee    *struct {
		Amount string `json:"amount"`
	} `json:"platformFee"`
}

type routeHop struct {
	SwapInfo struct {
		Label string `json:"label"`
	} `json:"swapInfo"`
}

// GetQuote fetches a swap quote for the pair. Source and dest may be
// symbols or mint addresses; amount is in human units of the source asset.
func (c *Client) GetQuote(ctx context.Context, source, dest string, amount decimal.Decimal, slippageBps int) (model.Quote, error) {
	if amount.Sign() <= 0 {
		return model.Quote{}, planerr.New(planerr.KindInvalidAmount, "Amount must be greater than 0")
	}
	src, err := asset.Resolve(source)
	if err != nil {
		return model.Quote{}, err
	}
	dst, err := asset.Resolve(dest)
	if err != nil {
		return model.Quote{}, err
	}
	if slippageBps <= 0 {
		slippageBps = DefaultSlippageBps
	}

	amountBase, err := asset.ToBaseUnits(amount, src.Decimals)
	if err != nil {
		return model.Quote{}, planerr.Wrap(planerr.KindInvalidAmount, "Amount must be greater than 0", err)
	}

	vals := url.Values{}
	vals.Set("inputMint", src.Mint)
	vals.Set("outputMint", dst.Mint)
	vals.Set("amount", amountBase)
	vals.Set("slippageBps", strconv.Itoa(slippageBps))

	endpoint := fmt.Sprintf("%s/quote?%s", c.swapBase, vals.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return model.Quote{}, planerr.Wrap(planerr.KindInternal, "build quote request", err)
	}
	c.authorize(req)

	var raw json.RawMessage
	if _, err := c.http.DoJSON(ctx, req, &raw); err != nil {
		return model.Quote{}, classifyQuoteError(err, amount, source, dest)
	}

	var resp quoteResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return model.Quote{}, planerr.Wrap(planerr.KindQuoteRequest, "Invalid response from Jupiter API", err)
	}
	if strings.TrimSpace(resp.OutAmount) == "" {
		return model.Quote{}, planerr.New(planerr.KindQuoteRequest, "Invalid response from Jupiter API: missing outAmount")
	}

	var hops []routeHop
	if len(resp.RoutePlan) > 0 {
		_ = json.Unmarshal(resp.RoutePlan, &hops)
	}
	if len(hops) == 0 {
		return model.Quote{}, planerr.New(planerr.KindQuoteRequest, "Invalid response from Jupiter API: missing route plan")
	}

	outAmount, err := asset.FromBaseUnits(resp.OutAmount, dst.Decimals)
	if err != nil {
		return model.Quote{}, planerr.Wrap(planerr.KindQuoteRequest, "Invalid response from Jupiter API: bad outAmount", err)
	}
	if outAmount.IsZero() {
		return model.Quote{}, planerr.New(planerr.KindInsufficientLiquidity,
			fmt.Sprintf("No route available for %s %s -> %s", amount, source, dest))
	}

	var feeBase string
	if resp.PlatformFee != nil {
		feeBase = resp.PlatformFee.Amount
	}

	q := model.Quote{
		Provider:    "jupiter",
		SourceAsset: src.Display(),
		DestAsset:   dst.Display(),
		SourceMint:  src.Mint,
		DestMint:    dst.Mint,
		In: model.AmountInfo{
			AmountBaseUnits: amountBase,
			AmountDecimal:   amount,
			Decimals:        src.Decimals,
		},
		Out: model.AmountInfo{
			AmountBaseUnits: resp.OutAmount,
			AmountDecimal:   outAmount,
			Decimals:        dst.Decimals,
		},
		PriceImpactBps:  parsePriceImpactBps(resp.PriceImpactPct),
		SlippageBps:     slippageBps,
		Route:           routeLabel(hops),
		RoutePlan:       resp.RoutePlan,
		PlatformFeeBase: feeBase,
		Raw:             raw,
		FetchedAt:       c.now().UTC().Format(time.RFC3339),
	}
	c.logger.Debug("jupiter quote",
		zap.String("source", q.SourceAsset),
		zap.String("dest", q.DestAsset),
		zap.String("amount_in", amount.String()),
		zap.String("amount_out", outAmount.String()),
		zap.String("route", q.Route),
		zap.String("price_impact_bps", q.PriceImpactBps.String()),
	)
	return q, nil
}

// Routes returns candidate routes for the pair. The aggregator folds its
// order book into one best route per request, so this yields a single
// candidate; ranking still applies when a source produces several.
func (c *Client) Routes(ctx context.Context, source, dest string, amount decimal.Decimal, slippageBps int) ([]model.Quote, error) {
	q, err := c.GetQuote(ctx, source, dest, amount, slippageBps)
	if err != nil {
		return nil, err
	}
	return []model.Quote{q}, nil
}

type swapRequest struct {
	QuoteResponse                 json.RawMessage `json:"quoteResponse"`
	UserPublicKey                 string          `json:"userPublicKey"`
	WrapAndUnwrapSol              bool            `json:"wrapAndUnwrapSol"`
	ComputeUnitPriceMicroLamports string          `json:"computeUnitPriceMicroLamports"`
	DynamicComputeUnitLimit       bool            `json:"dynamicComputeUnitLimit"`
}

type swapResponse struct {
	SwapTransaction      string `json:"swapTransaction"`
	LastValidBlockHeight uint64 `json:"lastValidBlockHeight"`
}

// BuildSwapTransaction asks the aggregator to assemble a signable swap
// transaction from a previously fetched quote. The quote's raw payload is
// replayed verbatim; the account must look like a base58 public key before
// any network call is made.
func (c *Client) BuildSwapTransaction(ctx context.Context, accountID string, quote model.Quote) (model.ExecutionArtifact, error) {
	if !asset.ValidAccountID(accountID) {
		return model.ExecutionArtifact{}, planerr.New(planerr.KindExecutionBuild, "Invalid wallet address")
	}
	if len(quote.Raw) == 0 {
		return model.ExecutionArtifact{}, planerr.New(planerr.KindExecutionBuild, "Invalid quote: missing raw quote payload")
	}

	payload, err := json.Marshal(swapRequest{
		QuoteResponse:                 quote.Raw,
		UserPublicKey:                 accountID,
		WrapAndUnwrapSol:              true,
		ComputeUnitPriceMicroLamports: "auto",
		DynamicComputeUnitLimit:       true,
	})
	if err != nil {
		return model.ExecutionArtifact{}, planerr.Wrap(planerr.KindInternal, "encode swap request", err)
	}

	var resp swapResponse
	if _, err := httpx.DoBodyJSON(ctx, c.http, http.MethodPost, c.swapBase+"/swap", payload, c.authHeaders(), &resp); err != nil {
		return model.ExecutionArtifact{}, classifyBuildError(err)
	}
	if strings.TrimSpace(resp.SwapTransaction) == "" {
		return model.ExecutionArtifact{}, planerr.New(planerr.KindExecutionBuild, "Invalid response: missing swapTransaction")
	}

	c.logger.Debug("built swap transaction",
		zap.String("account", accountID[:8]+"..."),
		zap.Uint64("last_valid_block_height", resp.LastValidBlockHeight),
	)
	return model.ExecutionArtifact{
		SignableTransaction:  resp.SwapTransaction,
		LastValidBlockHeight: resp.LastValidBlockHeight,
	}, nil
}

type priceResponse struct {
	Data map[string]struct {
		Price decimal.Decimal `json:"price"`
	} `json:"data"`
}

// TokenPrice returns the asset's USDC price from the Jupiter price API.
func (c *Client) TokenPrice(ctx context.Context, token string) (model.PriceQuote, error) {
	a, err := asset.Resolve(token)
	if err != nil {
		return model.PriceQuote{}, err
	}

	vals := url.Values{}
	vals.Set("ids", a.Mint)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/price?%s", c.priceBase, vals.Encode()), nil)
	if err != nil {
		return model.PriceQuote{}, planerr.Wrap(planerr.KindInternal, "build price request", err)
	}
	c.authorize(req)

	var resp priceResponse
	if _, err := c.http.DoJSON(ctx, req, &resp); err != nil {
		return model.PriceQuote{}, classifyPriceError(err, token)
	}
	entry, ok := resp.Data[a.Mint]
	if !ok || entry.Price.IsZero() {
		return model.PriceQuote{}, planerr.New(planerr.KindQuoteRequest, fmt.Sprintf("No price data for %s", a.Display()))
	}

	return model.PriceQuote{
		Asset:     a.Display(),
		Mint:      a.Mint,
		VsAsset:   "USDC",
		Price:     entry.Price,
		FetchedAt: c.now().UTC().Format(time.RFC3339),
	}, nil
}

// TokenPrices fetches USDC prices for several assets in one request.
// Assets without price data are omitted from the result.
func (c *Client) TokenPrices(ctx context.Context, tokens []string) (map[string]decimal.Decimal, error) {
	mints := make([]string, 0, len(tokens))
	byMint := make(map[string]string, len(tokens))
	for _, token := range tokens {
		a, err := asset.Resolve(token)
		if err != nil {
			return nil, err
		}
		mints = append(mints, a.Mint)
		byMint[a.Mint] = a.Display()
	}

	vals := url.Values{}
	vals.Set("ids", strings.Join(mints, ","))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/price?%s", c.priceBase, vals.Encode()), nil)
	if err != nil {
		return nil, planerr.Wrap(planerr.KindInternal, "build price request", err)
	}
	c.authorize(req)

	var resp priceResponse
	if _, err := c.http.DoJSON(ctx, req, &resp); err != nil {
		return nil, classifyPriceError(err, strings.Join(tokens, ","))
	}

	prices := make(map[string]decimal.Decimal, len(resp.Data))
	for mint, entry := range resp.Data {
		if name, ok := byMint[mint]; ok && !entry.Price.IsZero() {
			prices[name] = entry.Price
		}
	}
	return prices, nil
}

func (c *Client) authorize(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("x-api-key", c.apiKey)
	}
}

func (c *Client) authHeaders() map[string]string {
	if c.apiKey == "" {
		return nil
	}
	return map[string]string{"x-api-key": c.apiKey}
}

func parsePriceImpactBps(v string) decimal.Decimal {
	pct, err := decimal.NewFromString(strings.TrimSpace(v))
	if err != nil {
		return decimal.Zero
	}
	return pct.Shift(2)
}

func routeLabel(hops []routeHop) string {
	parts := make([]string, 0, len(hops))
	for _, hop := range hops {
		label := strings.TrimSpace(hop.SwapInfo.Label)
		if label == "" {
			continue
		}
		if len(parts) == 0 || parts[len(parts)-1] != label {
			parts = append(parts, label)
		}
	}
	if len(parts) == 0 {
		return "jupiter"
	}
	return strings.Join(parts, " > ")
}
