package upbit

import (
	"bytes"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Client is an authenticated Upbit REST API client with built-in rate
// limiting and bounded retry.
type Client struct {
	accessKey   string
	secretKey   string
	baseURL     string
	httpClient  *http.Client
	rateLimiter *RateLimiter
	logger      zerolog.Logger
}

// NewClient builds a Client. accessKey/secretKey may be empty for
// public-endpoint-only use.
func NewClient(accessKey, secretKey, baseURL string, rateLimiter *RateLimiter, logger zerolog.Logger) *Client {
	if baseURL == "" {
		baseURL = "https://api.upbit.com"
	}
	return &Client{
		accessKey:   accessKey,
		secretKey:   secretKey,
		baseURL:     baseURL,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		rateLimiter: rateLimiter,
		logger:      logger.With().Str("component", "upbit_client").Logger(),
	}
}

// signRequest builds the `Bearer <jwt>` Authorization header value for a
// request. For POST requests the query_hash covers the query-string form of
// the body parameters (the body itself is sent as JSON); for GET/DELETE it
// covers the query parameters. Requests without parameters omit query_hash
// entirely.
func (c *Client) signRequest(method string, params url.Values, data url.Values) (string, error) {
	claims := jwt.MapClaims{
		"access_key": c.accessKey,
		"nonce":      uuid.NewString(),
	}

	var hashed url.Values
	if method == http.MethodPost && len(data) > 0 {
		hashed = data
	} else if len(params) > 0 {
		hashed = params
	}

	if hashed != nil {
		decoded, err := url.QueryUnescape(hashed.Encode())
		if err != nil {
			return "", fmt.Errorf("decode query for signing: %w", err)
		}
		sum := sha512.Sum512([]byte(decoded))
		claims["query_hash"] = hex.EncodeToString(sum[:])
		claims["query_hash_alg"] = "SHA512"
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(c.secretKey))
	if err != nil {
		return "", fmt.Errorf("sign jwt: %w", err)
	}
	return "Bearer " + signed, nil
}

// doAuthenticated performs a signed request, retrying on RateLimited/Server/
// Transport errors per the rate limiter's backoff schedule.
func (c *Client) doAuthenticated(method, endpoint string, params url.Values, data url.Values) ([]byte, error) {
	if c.accessKey == "" || c.secretKey == "" {
		return nil, &AuthError{Message: "API credentials not set"}
	}

	reqURL := c.baseURL + endpoint
	if method != http.MethodPost && len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	for {
		c.rateLimiter.WaitIfNeeded()

		authHeader, err := c.signRequest(method, params, data)
		if err != nil {
			return nil, err
		}

		var body io.Reader
		if method == http.MethodPost {
			encoded, mErr := json.Marshal(valuesToMap(data))
			if mErr != nil {
				return nil, fmt.Errorf("marshal order body: %w", mErr)
			}
			body = bytes.NewReader(encoded)
		}

		req, err := http.NewRequest(method, reqURL, body)
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Authorization", authHeader)
		req.Header.Set("Accept", "application/json")
		if method == http.MethodPost {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			c.rateLimiter.RecordFailure()
			if c.rateLimiter.ShouldRetry() {
				delay := c.rateLimiter.BackoffDelay()
				c.logger.Warn().Err(err).Dur("backoff", delay).Msg("request failed, retrying")
				time.Sleep(delay)
				continue
			}
			return nil, &TransportError{Err: err}
		}

		respBody, retry, result, err := c.classifyResponse(resp)
		if err != nil {
			return nil, err
		}
		if retry {
			delay := c.rateLimiter.BackoffDelay()
			c.logger.Warn().Int("status", resp.StatusCode).Dur("backoff", delay).Msg("retrying request")
			time.Sleep(delay)
			continue
		}
		_ = result
		return respBody, nil
	}
}

// doPublic performs an unsigned GET request with the same retry contract.
func (c *Client) doPublic(endpoint string, params url.Values) ([]byte, error) {
	reqURL := c.baseURL + endpoint
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	for {
		c.rateLimiter.WaitIfNeeded()

		resp, err := c.httpClient.Get(reqURL)
		if err != nil {
			c.rateLimiter.RecordFailure()
			if c.rateLimiter.ShouldRetry() {
				delay := c.rateLimiter.BackoffDelay()
				c.logger.Warn().Err(err).Dur("backoff", delay).Msg("public request failed, retrying")
				time.Sleep(delay)
				continue
			}
			return nil, &TransportError{Err: err}
		}

		respBody, retry, _, err := c.classifyResponse(resp)
		if err != nil {
			return nil, err
		}
		if retry {
			delay := c.rateLimiter.BackoffDelay()
			time.Sleep(delay)
			continue
		}
		return respBody, nil
	}
}

// classifyResponse reads the body, records success/failure on the rate
// limiter, and decides whether the caller should retry.
func (c *Client) classifyResponse(resp *http.Response) ([]byte, bool, bool, error) {
	defer resp.Body.Close()
	body, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return nil, false, false, fmt.Errorf("read response body: %w", readErr)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		c.rateLimiter.RecordFailure()
		if c.rateLimiter.ShouldRetry() {
			return nil, true, false, nil
		}
		return nil, false, false, &RateLimitedError{RetriesExhausted: true}
	}

	if resp.StatusCode >= 500 {
		c.rateLimiter.RecordFailure()
		if c.rateLimiter.ShouldRetry() {
			return nil, true, false, nil
		}
		return nil, false, false, &ServerError{StatusCode: resp.StatusCode, Message: string(body)}
	}

	if resp.StatusCode >= 400 {
		c.rateLimiter.RecordFailure()
		errCode, errMsg := parseErrorBody(body)
		return nil, false, false, &ClientError{StatusCode: resp.StatusCode, ErrorCode: errCode, Message: errMsg}
	}

	c.rateLimiter.RecordSuccess()
	return body, false, true, nil
}

func parseErrorBody(body []byte) (code, message string) {
	var wrapper struct {
		Error struct {
			Message string `json:"message"`
			Name    string `json:"name"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &wrapper); err != nil {
		return "UNKNOWN_ERROR", "unknown error"
	}
	if wrapper.Error.Name == "" {
		wrapper.Error.Name = "UNKNOWN_ERROR"
	}
	if wrapper.Error.Message == "" {
		wrapper.Error.Message = "unknown error"
	}
	return wrapper.Error.Name, wrapper.Error.Message
}

func valuesToMap(v url.Values) map[string]string {
	m := make(map[string]string, len(v))
	for k := range v {
		m[k] = v.Get(k)
	}
	return m
}

// GetAccounts fetches the authenticated account's balances.
func (c *Client) GetAccounts() ([]Position, error) {
	body, err := c.doAuthenticated(http.MethodGet, "/v1/accounts", nil, nil)
	if err != nil {
		return nil, err
	}

	var raw []struct {
		Currency     string `json:"currency"`
		Balance      string `json:"balance"`
		Locked       string `json:"locked"`
		AvgBuyPrice  string `json:"avg_buy_price"`
		UnitCurrency string `json:"unit_currency"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode accounts: %w", err)
	}

	positions := make([]Position, 0, len(raw))
	for _, a := range raw {
		positions = append(positions, Position{
			Currency:     a.Currency,
			AvgBuyPrice:  parseFloat(a.AvgBuyPrice),
			Balance:      parseFloat(a.Balance),
			Locked:       parseFloat(a.Locked),
			UnitCurrency: a.UnitCurrency,
		})
	}
	return positions, nil
}

// GetTicker fetches the current trade price for a single market.
func (c *Client) GetTicker(market string) (Ticker, error) {
	params := url.Values{"markets": {market}}
	body, err := c.doPublic("/v1/ticker", params)
	if err != nil {
		return Ticker{}, err
	}

	var raw []struct {
		Market             string `json:"market"`
		TradePrice         string `json:"trade_price"`
		AccTradeVolume24h  string `json:"acc_trade_volume_24h"`
		ChangeRate         string `json:"change_rate"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return Ticker{}, fmt.Errorf("decode ticker: %w", err)
	}
	if len(raw) == 0 {
		return Ticker{}, fmt.Errorf("empty ticker response for %s", market)
	}

	t := raw[0]
	return Ticker{
		Market:      t.Market,
		TradePrice:  parseFloat(t.TradePrice),
		TradeVolume: parseFloat(t.AccTradeVolume24h),
		Timestamp:   time.Now(),
		ChangeRate:  parseFloat(t.ChangeRate),
	}, nil
}

// PlaceOrder submits a new order and returns the exchange's acknowledgment.
func (c *Client) PlaceOrder(order Order) (OrderResult, error) {
	if !order.Validate() {
		return OrderResult{}, fmt.Errorf("invalid order data")
	}

	data := url.Values{
		"market":   {order.Market},
		"side":     {order.Side},
		"ord_type": {order.OrdType},
	}
	switch order.OrdType {
	case "price":
		data.Set("price", formatFloat(order.Price))
	case "market":
		data.Set("volume", formatFloat(order.Volume))
	case "limit":
		data.Set("price", formatFloat(order.Price))
		data.Set("volume", formatFloat(order.Volume))
	}
	if order.Identifier != "" {
		data.Set("identifier", order.Identifier)
	}

	body, err := c.doAuthenticated(http.MethodPost, "/v1/orders", nil, data)
	if err != nil {
		return OrderResult{}, err
	}

	var raw struct {
		UUID            string `json:"uuid"`
		Market          string `json:"market"`
		Side            string `json:"side"`
		OrdType         string `json:"ord_type"`
		Price           string `json:"price"`
		Volume          string `json:"volume"`
		RemainingVolume string `json:"remaining_volume"`
		ReservedFee     string `json:"reserved_fee"`
		RemainingFee    string `json:"remaining_fee"`
		PaidFee         string `json:"paid_fee"`
		Locked          string `json:"locked"`
		ExecutedVolume  string `json:"executed_volume"`
		TradesCount     int    `json:"trades_count"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return OrderResult{}, fmt.Errorf("decode order result: %w", err)
	}

	return OrderResult{
		OrderID:         raw.UUID,
		Market:          raw.Market,
		Side:            raw.Side,
		OrdType:         raw.OrdType,
		Price:           parseFloat(raw.Price),
		Volume:          parseFloat(raw.Volume),
		RemainingVolume: parseFloat(raw.RemainingVolume),
		ReservedFee:     parseFloat(raw.ReservedFee),
		RemainingFee:    parseFloat(raw.RemainingFee),
		PaidFee:         parseFloat(raw.PaidFee),
		Locked:          parseFloat(raw.Locked),
		ExecutedVolume:  parseFloat(raw.ExecutedVolume),
		TradesCount:     raw.TradesCount,
	}, nil
}

// CancelOrder cancels a resting order by its exchange-assigned UUID.
func (c *Client) CancelOrder(orderID string) bool {
	params := url.Values{"uuid": {orderID}}
	_, err := c.doAuthenticated(http.MethodDelete, "/v1/order", params, nil)
	return err == nil
}

// GetOrderStatus fetches the current lifecycle state of an order.
func (c *Client) GetOrderStatus(orderID string) (OrderStatus, error) {
	params := url.Values{"uuid": {orderID}}
	body, err := c.doAuthenticated(http.MethodGet, "/v1/order", params, nil)
	if err != nil {
		return OrderStatus{}, err
	}

	var raw struct {
		UUID            string `json:"uuid"`
		Market          string `json:"market"`
		Side            string `json:"side"`
		OrdType         string `json:"ord_type"`
		Price           string `json:"price"`
		State           string `json:"state"`
		Volume          string `json:"volume"`
		RemainingVolume string `json:"remaining_volume"`
		ExecutedVolume  string `json:"executed_volume"`
		CreatedAt       string `json:"created_at"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return OrderStatus{}, fmt.Errorf("decode order status: %w", err)
	}

	createdAt, err := time.Parse(time.RFC3339, raw.CreatedAt)
	if err != nil {
		createdAt = time.Time{}
	}

	return OrderStatus{
		OrderID:         raw.UUID,
		Market:          raw.Market,
		Side:            raw.Side,
		OrdType:         raw.OrdType,
		Price:           parseFloat(raw.Price),
		State:           raw.State,
		Volume:          parseFloat(raw.Volume),
		RemainingVolume: parseFloat(raw.RemainingVolume),
		ExecutedVolume:  parseFloat(raw.ExecutedVolume),
		CreatedAt:       createdAt,
	}, nil
}

// GetMarkets returns the raw market listing, undecoded beyond the wire shape.
func (c *Client) GetMarkets() ([]MarketInfo, error) {
	body, err := c.doPublic("/v1/market/all", nil)
	if err != nil {
		return nil, err
	}
	var markets []MarketInfo
	if err := json.Unmarshal(body, &markets); err != nil {
		return nil, fmt.Errorf("decode markets: %w", err)
	}
	return markets, nil
}

func parseFloat(s string) float64 {
	if s == "" {
		return 0
	}
	var f float64
	_, err := fmt.Sscanf(s, "%g", &f)
	if err != nil {
		return 0
	}
	return f
}

func formatFloat(f float64) string {
	return fmt.Sprintf("%g", f)
}
