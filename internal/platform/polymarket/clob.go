// Package polymarket contains the REST and WebSocket clients for the trading
// venue: the CLOB API for books and orders, and the Gamma API for market
// discovery.
package polymarket

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/polyclaw/engine/internal/chain"
	"github.com/polyclaw/engine/internal/crypto"
	"github.com/polyclaw/engine/internal/domain"
)

// zeroTaker is the open-taker sentinel in CLOB order payloads.
const zeroTaker = "0x0000000000000000000000000000000000000000"

// amountScale is the venue's 6-decimal fixed point for maker/taker amounts.
const amountScale = 1e6

// ClobClient is the REST client for the venue's Central Limit Order Book
// API. It satisfies both the validator's book source and the fallback
// executor's order surface.
type ClobClient struct {
	baseURL    string
	httpClient *http.Client
	signer     *crypto.Signer
	hmacAuth   *crypto.HMACAuth
	limiter    domain.RateLimiter
	exchange   chain.ExchangeAddress
	sigType    int
}

// NewClobClient creates a CLOB client. signer may be nil for read-only use;
// limiter may be nil to disable client-side rate limiting. hmac may be nil
// when the key will be derived via DeriveAPIKey.
func NewClobClient(baseURL string, signer *crypto.Signer, hmac *crypto.HMACAuth, limiter domain.RateLimiter, exchange chain.ExchangeAddress, sigType int) *ClobClient {
	return &ClobClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		signer:   signer,
		hmacAuth: hmac,
		limiter:  limiter,
		exchange: exchange,
		sigType:  sigType,
	}
}

// GetOrderBook fetches the live book for one token.
func (c *ClobClient) GetOrderBook(ctx context.Context, tokenID string) (domain.OrderbookSnapshot, error) {
	if err := c.wait(ctx); err != nil {
		return domain.OrderbookSnapshot{}, err
	}

	params := url.Values{}
	params.Set("token_id", tokenID)
	body, err := c.doGet(ctx, "/book?"+params.Encode())
	if err != nil {
		return domain.OrderbookSnapshot{}, fmt.Errorf("polymarket/clob: get book %s: %w", tokenID, err)
	}

	var book APIBook
	if err := json.Unmarshal(body, &book); err != nil {
		return domain.OrderbookSnapshot{}, fmt.Errorf("polymarket/clob: decode book: %w", err)
	}
	if book.AssetID == "" {
		book.AssetID = tokenID
	}
	return book.ToDomainSnapshot(), nil
}

// PlaceOrder signs and submits an order, returning the venue's immediate view
// of its fill state. Rejections (including an unfillable FOK) are returned as
// errors wrapping domain.ErrInvalidOrder.
func (c *ClobClient) PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderFill, error) {
	if c.signer == nil {
		return domain.OrderFill{}, fmt.Errorf("polymarket/clob: no signer configured: %w", domain.ErrUnauthorized)
	}
	if err := c.wait(ctx); err != nil {
		return domain.OrderFill{}, err
	}

	payload, err := c.buildOrderPayload(req)
	if err != nil {
		return domain.OrderFill{}, err
	}
	sig, err := c.signer.SignOrder(payload)
	if err != nil {
		return domain.OrderFill{}, fmt.Errorf("polymarket/clob: %w: %v", domain.ErrSigningFailed, err)
	}

	wallet := c.signer.Address().Hex()
	body := map[string]any{
		"order": map[string]any{
			"salt":          payload.Salt,
			"maker":         payload.Maker,
			"signer":        payload.Signer,
			"taker":         payload.Taker,
			"tokenId":       payload.TokenID,
			"makerAmount":   payload.MakerAmount,
			"takerAmount":   payload.TakerAmount,
			"expiration":    payload.Expiration,
			"nonce":         payload.Nonce,
			"feeRateBps":    payload.FeeRateBps,
			"side":          sideName(req.Side),
			"signatureType": payload.SignatureType,
			"signature":     sig,
		},
		"owner":     wallet,
		"orderType": string(req.Type),
	}

	respBody, err := c.doAuthenticated(ctx, http.MethodPost, "/order", body)
	if err != nil {
		return domain.OrderFill{}, fmt.Errorf("polymarket/clob: post order: %w", err)
	}

	var result APIOrderResult
	if err := json.Unmarshal(respBody, &result); err != nil {
		return domain.OrderFill{}, fmt.Errorf("polymarket/clob: decode order result: %w", err)
	}
	if !result.Success {
		return domain.OrderFill{}, fmt.Errorf("polymarket/clob: order rejected: %s: %w", result.ErrorMsg, domain.ErrInvalidOrder)
	}

	return fillFromResult(req, result), nil
}

// GetOrder retrieves the current fill state of an order.
func (c *ClobClient) GetOrder(ctx context.Context, orderID string) (domain.OrderFill, error) {
	if err := c.wait(ctx); err != nil {
		return domain.OrderFill{}, err
	}

	body, err := c.doAuthenticated(ctx, http.MethodGet, "/data/order/"+url.PathEscape(orderID), nil)
	if err != nil {
		return domain.OrderFill{}, fmt.Errorf("polymarket/clob: get order %s: %w", orderID, err)
	}

	var order APIOpenOrder
	if err := json.Unmarshal(body, &order); err != nil {
		return domain.OrderFill{}, fmt.Errorf("polymarket/clob: decode order: %w", err)
	}
	return order.ToDomainFill(), nil
}

// CancelOrder cancels a single resting order by ID.
func (c *ClobClient) CancelOrder(ctx context.Context, orderID string) error {
	if err := c.wait(ctx); err != nil {
		return err
	}

	respBody, err := c.doAuthenticated(ctx, http.MethodDelete, "/order", map[string]any{"orderID": orderID})
	if err != nil {
		return fmt.Errorf("polymarket/clob: cancel order %s: %w", orderID, err)
	}

	var result struct {
		Success  bool   `json:"success"`
		ErrorMsg string `json:"errorMsg"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return fmt.Errorf("polymarket/clob: decode cancel response: %w", err)
	}
	if !result.Success {
		return fmt.Errorf("polymarket/clob: cancel failed: %s", result.ErrorMsg)
	}
	return nil
}

// CancelAll cancels every open order for the authenticated wallet.
func (c *ClobClient) CancelAll(ctx context.Context) error {
	if err := c.wait(ctx); err != nil {
		return err
	}

	respBody, err := c.doAuthenticated(ctx, http.MethodDelete, "/cancel-all", nil)
	if err != nil {
		return fmt.Errorf("polymarket/clob: cancel all: %w", err)
	}

	var result struct {
		Success  bool   `json:"success"`
		ErrorMsg string `json:"errorMsg"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return fmt.Errorf("polymarket/clob: decode cancel-all response: %w", err)
	}
	if !result.Success {
		return fmt.Errorf("polymarket/clob: cancel-all failed: %s", result.ErrorMsg)
	}
	return nil
}

// DeriveAPIKey performs the CLOB auth flow to obtain an HMAC API key. It
// signs a ClobAuth EIP-712 message and sends it with L1 headers to the
// derive-api-key endpoint. On success it populates the client's hmacAuth.
func (c *ClobClient) DeriveAPIKey(ctx context.Context) error {
	if c.signer == nil {
		return fmt.Errorf("polymarket/clob: no signer configured: %w", domain.ErrUnauthorized)
	}

	timestamp := time.Now().Unix()
	nonce := int64(0)

	sig, err := c.signer.SignAuthMessage(timestamp, nonce)
	if err != nil {
		return fmt.Errorf("polymarket/clob: sign auth message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/auth/derive-api-key", nil)
	if err != nil {
		return fmt.Errorf("polymarket/clob: create auth request: %w", err)
	}
	req.Header.Set("POLY_ADDRESS", c.signer.Address().Hex())
	req.Header.Set("POLY_SIGNATURE", sig)
	req.Header.Set("POLY_TIMESTAMP", strconv.FormatInt(timestamp, 10))
	req.Header.Set("POLY_NONCE", strconv.FormatInt(nonce, 10))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("polymarket/clob: auth request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("polymarket/clob: read auth response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("polymarket/clob: auth failed (HTTP %d): %s", resp.StatusCode, string(respBody))
	}

	var authResp struct {
		APIKey     string `json:"apiKey"`
		Secret     string `json:"secret"`
		Passphrase string `json:"passphrase"`
	}
	if err := json.Unmarshal(respBody, &authResp); err != nil {
		return fmt.Errorf("polymarket/clob: decode auth response: %w", err)
	}

	c.hmacAuth = &crypto.HMACAuth{
		Key:        authResp.APIKey,
		Secret:     authResp.Secret,
		Passphrase: authResp.Passphrase,
	}
	return nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// buildOrderPayload converts an OrderRequest to the signed EIP-712 payload.
// Buys spend collateral for tokens; sells the reverse. Amounts use the
// venue's 6-decimal fixed point.
func (c *ClobClient) buildOrderPayload(req domain.OrderRequest) (crypto.OrderPayload, error) {
	if req.Price <= 0 || req.Price >= 1 || req.Size <= 0 {
		return crypto.OrderPayload{}, fmt.Errorf("polymarket/clob: price %g size %g: %w", req.Price, req.Size, domain.ErrInvalidOrder)
	}

	tokenUnits := int64(math.Round(req.Size * amountScale))
	collateralUnits := int64(math.Round(req.Price * req.Size * amountScale))

	var makerAmount, takerAmount int64
	if req.Side == domain.OrderSideBuy {
		makerAmount, takerAmount = collateralUnits, tokenUnits
	} else {
		makerAmount, takerAmount = tokenUnits, collateralUnits
	}

	expiration := int64(0)
	if req.Type == domain.OrderTypeGTC && !req.Expiration.IsZero() {
		expiration = req.Expiration.Unix()
	}

	salt, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 60))
	if err != nil {
		return crypto.OrderPayload{}, fmt.Errorf("polymarket/clob: salt: %w", err)
	}

	wallet := c.signer.Address().Hex()
	return crypto.OrderPayload{
		Salt:          salt.String(),
		Maker:         wallet,
		Signer:        wallet,
		Taker:         zeroTaker,
		TokenID:       req.TokenID,
		MakerAmount:   strconv.FormatInt(makerAmount, 10),
		TakerAmount:   strconv.FormatInt(takerAmount, 10),
		Expiration:    strconv.FormatInt(expiration, 10),
		Nonce:         "0",
		FeeRateBps:    "0",
		Side:          sideCode(req.Side),
		SignatureType: c.sigType,
	}, nil
}

// fillFromResult derives the immediate fill state from a successful order
// response. Matched amounts come back in the maker/taker fields; a resting
// order reports zero filled and stays open.
func fillFromResult(req domain.OrderRequest, result APIOrderResult) domain.OrderFill {
	fill := domain.OrderFill{OrderID: result.OrderID}

	switch result.Status {
	case "matched":
		fill.FilledSize = req.Size
		fill.AvgPrice = req.Price
	case "live", "delayed":
		fill.Open = true
	}

	// When the venue reports the matched amounts, derive the exact fill.
	making, errM := strconv.ParseFloat(result.MakingAmount, 64)
	taking, errT := strconv.ParseFloat(result.TakingAmount, 64)
	if errM == nil && errT == nil && making > 0 && taking > 0 {
		if req.Side == domain.OrderSideBuy {
			// Spent `making` collateral for `taking` tokens.
			fill.FilledSize = taking
			fill.AvgPrice = making / taking
		} else {
			// Sold `making` tokens for `taking` collateral.
			fill.FilledSize = making
			fill.AvgPrice = taking / making
		}
	}
	return fill
}

func sideName(side domain.OrderSide) string {
	if side == domain.OrderSideBuy {
		return "BUY"
	}
	return "SELL"
}

func sideCode(side domain.OrderSide) int {
	if side == domain.OrderSideBuy {
		return 0
	}
	return 1
}

// wait blocks on the shared rate limiter when one is configured.
func (c *ClobClient) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	if err := c.limiter.Wait(ctx, "clob"); err != nil {
		return fmt.Errorf("polymarket/clob: rate limit: %w", err)
	}
	return nil
}

// doGet sends an unauthenticated GET request against the CLOB API.
func (c *ClobClient) doGet(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if err := checkHTTPStatus(resp.StatusCode, body); err != nil {
		return nil, err
	}
	return body, nil
}

// doAuthenticated builds, signs (HMAC), sends, and reads an HTTP request
// against the CLOB API. It returns the raw response body.
func (c *ClobClient) doAuthenticated(ctx context.Context, method, path string, body any) ([]byte, error) {
	var bodyReader io.Reader
	var bodyStr string

	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyStr = string(jsonBody)
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if c.hmacAuth != nil && c.signer != nil {
		headers := c.hmacAuth.L2Headers(c.signer.Address().Hex(), method, path, bodyStr)
		for k, v := range headers {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if err := checkHTTPStatus(resp.StatusCode, respBody); err != nil {
		return nil, err
	}
	return respBody, nil
}

// checkHTTPStatus maps non-2xx status codes to appropriate domain errors.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	bodyStr := string(body)
	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, bodyStr)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, bodyStr)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, bodyStr)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, bodyStr)
	}
}
