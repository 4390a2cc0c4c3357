// Package kiwoom provides a client for the Kiwoom REST API
package kiwoom

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/bobmcallan/stocksync/internal/common"
	"github.com/bobmcallan/stocksync/internal/interfaces"
	"github.com/bobmcallan/stocksync/internal/models"
	"github.com/bobmcallan/stocksync/internal/numeric"
)

const (
	DefaultBaseURL    = "https://api.kiwoom.com"
	DefaultTimeout    = 30 * time.Second
	DefaultRateLimit  = 5 // requests per second
	DefaultMaxRetries = 5
	DefaultRetryDelay = time.Second
	DefaultPageDelay  = time.Second
	MaxPages          = 100

	tokenPath      = "/oauth2/token"
	dailyPricePath = "/api/dostk/mrkcond"
	dailyPriceAPI  = "ka10086"
)

// flexString accepts a JSON string or number and keeps its textual form.
// The upstream sends return_code as either.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = flexString(s)
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(data, &num); err == nil {
		*f = flexString(num.String())
		return nil
	}
	return fmt.Errorf("cannot unmarshal %s into string", string(data))
}

// Client implements the UpstreamClient interface
type Client struct {
	baseURL    string
	appKey     string
	secretKey  string
	httpClient *http.Client
	logger     *common.Logger
	limiter    *rate.Limiter
	parser     *numeric.Parser
	maxRetries int
	retryDelay time.Duration
	pageDelay  time.Duration
	sleep      common.SleepFunc
	now        func() time.Time
}

// ClientOption configures the client
type ClientOption func(*Client)

// WithBaseURL sets the API host
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithLogger sets the logger
func WithLogger(logger *common.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithRateLimit sets the rate limit
func WithRateLimit(requestsPerSecond int) ClientOption {
	return func(c *Client) {
		if requestsPerSecond > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond)
		}
	}
}

// WithTimeout sets the HTTP timeout
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// WithHTTPClient replaces the underlying HTTP client
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithMaxRetries sets the number of attempts for a daily price fetch
func WithMaxRetries(attempts int) ClientOption {
	return func(c *Client) {
		if attempts > 0 {
			c.maxRetries = attempts
		}
	}
}

// WithRetryDelay sets the delay before the second attempt; it doubles after each failure
func WithRetryDelay(d time.Duration) ClientOption {
	return func(c *Client) {
		c.retryDelay = d
	}
}

// WithPageDelay sets the pause between continuation pages
func WithPageDelay(d time.Duration) ClientOption {
	return func(c *Client) {
		c.pageDelay = d
	}
}

// WithSleeper replaces the wait used between retries and pages
func WithSleeper(sleep common.SleepFunc) ClientOption {
	return func(c *Client) {
		c.sleep = sleep
	}
}

// NewClient creates a new Kiwoom client
func NewClient(appKey, secretKey string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:   DefaultBaseURL,
		appKey:    appKey,
		secretKey: secretKey,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		limiter:    rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultRateLimit),
		logger:     common.NewSilentLogger(),
		maxRetries: DefaultMaxRetries,
		retryDelay: DefaultRetryDelay,
		pageDelay:  DefaultPageDelay,
		sleep:      common.SleepContext,
		now:        time.Now,
	}

	for _, opt := range opts {
		opt(c)
	}
	c.parser = numeric.NewParser(c.logger)

	return c
}

// APIError represents an HTTP or upstream return-code failure
type APIError struct {
	StatusCode int
	ReturnCode string
	Message    string
	Endpoint   string
}

func (e *APIError) Error() string {
	if e.ReturnCode != "" {
		return fmt.Sprintf("Kiwoom API error: %s (return_code: %s, endpoint: %s)", e.Message, e.ReturnCode, e.Endpoint)
	}
	return fmt.Sprintf("Kiwoom API error: %s (status: %d, endpoint: %s)", e.Message, e.StatusCode, e.Endpoint)
}

// invalidTokenCode is the message code Kiwoom puts in return_msg for an
// expired or revoked token, e.g. "[8005:Token이 유효하지 않습니다]".
const invalidTokenCode = "[8005:"

// IsUnauthorized reports whether the upstream rejected the access token.
func (e *APIError) IsUnauthorized() bool {
	return e.StatusCode == http.StatusUnauthorized || strings.Contains(e.Message, invalidTokenCode)
}

// Unwrap exposes models.ErrUpstreamUnauthorized for token rejections.
func (e *APIError) Unwrap() error {
	if e.IsUnauthorized() {
		return models.ErrUpstreamUnauthorized
	}
	return nil
}

// NetworkError is a transport-level failure. Only these are retried.
type NetworkError struct {
	Endpoint string
	Err      error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("Kiwoom network error on %s: %v", e.Endpoint, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// IsNetworkError reports whether err is, or wraps, a NetworkError.
func IsNetworkError(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne)
}

// pageResult is a raw 200 response body with its continuation headers
type pageResult struct {
	body    []byte
	contYn  string
	nextKey string
}

// post performs a rate-limited JSON POST and returns the body of a 200 response
func (c *Client) post(ctx context.Context, path string, headers map[string]string, payload any) (*pageResult, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json;charset=UTF-8")
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("request cancelled: %w", ctx.Err())
		}
		return nil, &NetworkError{Endpoint: path, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("request cancelled: %w", ctx.Err())
		}
		return nil, &NetworkError{Endpoint: path, Err: fmt.Errorf("read body: %w", err)}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Message:    string(data),
			Endpoint:   path,
		}
	}

	return &pageResult{
		body:    data,
		contYn:  resp.Header.Get("cont-yn"),
		nextKey: resp.Header.Get("next-key"),
	}, nil
}

type tokenResponse struct {
	ReturnCode flexString `json:"return_code"`
	ReturnMsg  string     `json:"return_msg"`
	Token      string     `json:"token"`
	ExpiresDT  string     `json:"expires_dt"`
}

// Authenticate issues a new access token with the client-credentials grant.
// It is not retried.
func (c *Client) Authenticate(ctx context.Context) (*models.UpstreamToken, error) {
	c.logger.Info().Str("url", c.baseURL+tokenPath).Msg("Requesting Kiwoom access token")

	res, err := c.post(ctx, tokenPath, nil, map[string]string{
		"grant_type": "client_credentials",
		"appkey":     c.appKey,
		"secretkey":  c.secretKey,
	})
	if err != nil {
		return nil, fmt.Errorf("token request failed: %w", err)
	}

	var tr tokenResponse
	if err := json.Unmarshal(res.body, &tr); err != nil {
		return nil, fmt.Errorf("malformed token response: %w", err)
	}
	if tr.ReturnCode != "0" {
		return nil, &APIError{
			StatusCode: http.StatusOK,
			ReturnCode: string(tr.ReturnCode),
			Message:    tr.ReturnMsg,
			Endpoint:   tokenPath,
		}
	}
	if tr.Token == "" {
		return nil, errors.New("malformed token response: empty token")
	}

	c.logger.Info().Str("expires_dt", tr.ExpiresDT).Msg("Kiwoom access token issued")

	return &models.UpstreamToken{
		Token:     tr.Token,
		ExpiresDT: tr.ExpiresDT,
		IssuedAt:  c.now(),
	}, nil
}

// dailyPriceResponse is the ka10086 response body
type dailyPriceResponse struct {
	ReturnCode flexString      `json:"return_code"`
	ReturnMsg  string          `json:"return_msg"`
	Rows       []dailyPriceRow `json:"daly_stkpc"`
}

type dailyPriceRow struct {
	Date       flexString `json:"date"`
	OpenPrice  flexString `json:"open_pric"`
	HighPrice  flexString `json:"high_pric"`
	LowPrice   flexString `json:"low_pric"`
	ClosePrice flexString `json:"close_pric"`
	TradeQty   flexString `json:"trde_qty"`
	FluRate    flexString `json:"flu_rt"`
}

// FetchDailyPrices returns up to maxCount daily rows for stockCode, newest
// first, ending at queryDate (YYYYMMDD). A maxCount of zero or less means no
// limit beyond the page cap.
//
// Transport failures restart the whole paginated fetch after an exponential
// backoff (1s, 2s, 4s, 8s by default). Any other failure is returned at once.
func (c *Client) FetchDailyPrices(ctx context.Context, token, stockCode, queryDate string, maxCount int) ([]models.DailyPricePoint, error) {
	var lastErr error

	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		c.logger.Debug().
			Str("stock_code", stockCode).
			Int("attempt", attempt).
			Int("max_attempts", c.maxRetries).
			Msg("Fetching daily prices")

		rows, err := c.fetchAllPages(ctx, token, stockCode, queryDate, maxCount)
		if err == nil {
			return rows, nil
		}
		if !IsNetworkError(err) {
			return nil, err
		}
		lastErr = err

		if attempt == c.maxRetries {
			break
		}

		delay := c.retryDelay << (attempt - 1)
		c.logger.Warn().
			Err(err).
			Str("stock_code", stockCode).
			Int("attempt", attempt).
			Dur("retry_in", delay).
			Msg("Kiwoom network error, retrying")

		if err := c.sleep(ctx, delay); err != nil {
			return nil, fmt.Errorf("retry wait interrupted: %w", err)
		}
	}

	c.logger.Error().
		Err(lastErr).
		Str("stock_code", stockCode).
		Int("attempts", c.maxRetries).
		Msg("Kiwoom daily price fetch exhausted retries")

	return nil, fmt.Errorf("daily prices for %s failed after %d attempts: %w", stockCode, c.maxRetries, lastErr)
}

func (c *Client) fetchAllPages(ctx context.Context, token, stockCode, queryDate string, maxCount int) ([]models.DailyPricePoint, error) {
	var rows []models.DailyPricePoint
	contYn, nextKey := "N", ""

	for page := 1; page <= MaxPages; page++ {
		headers := map[string]string{
			"authorization": "Bearer " + token,
			"cont-yn":       contYn,
			"next-key":      nextKey,
			"api-id":        dailyPriceAPI,
		}
		payload := map[string]string{
			"stk_cd":  stockCode,
			"qry_dt":  queryDate,
			"indc_tp": "0",
		}

		res, err := c.post(ctx, dailyPricePath, headers, payload)
		if err != nil {
			return nil, err
		}

		var dr dailyPriceResponse
		if err := json.Unmarshal(res.body, &dr); err != nil {
			return nil, fmt.Errorf("failed to decode daily prices for %s: %w", stockCode, err)
		}
		if dr.ReturnCode != "0" {
			return nil, &APIError{
				StatusCode: http.StatusOK,
				ReturnCode: string(dr.ReturnCode),
				Message:    dr.ReturnMsg,
				Endpoint:   dailyPricePath,
			}
		}

		for _, r := range dr.Rows {
			rows = append(rows, c.decodeRow(stockCode, r))
		}

		if maxCount > 0 && len(rows) >= maxCount {
			break
		}
		if res.contYn != "Y" || res.nextKey == "" {
			break
		}
		contYn, nextKey = "Y", res.nextKey

		if err := c.sleep(ctx, c.pageDelay); err != nil {
			return nil, fmt.Errorf("page wait interrupted: %w", err)
		}
	}

	if maxCount > 0 && len(rows) > maxCount {
		rows = rows[:maxCount]
	}

	c.logger.Debug().Str("stock_code", stockCode).Int("rows", len(rows)).Msg("Daily prices fetched")
	return rows, nil
}

// decodeRow parses every numeric field; a field that fails to parse is left at zero.
func (c *Client) decodeRow(stockCode string, r dailyPriceRow) models.DailyPricePoint {
	p := c.parser.For(stockCode, string(r.Date))

	point := models.DailyPricePoint{Date: string(r.Date)}
	point.Open, _ = p.ParseInteger(string(r.OpenPrice))
	point.High, _ = p.ParseInteger(string(r.HighPrice))
	point.Low, _ = p.ParseNonNegativeInteger(string(r.LowPrice))
	point.Close, _ = p.ParseInteger(string(r.ClosePrice))
	point.Volume, _ = p.ParseLong(string(r.TradeQty))
	point.ChangeRate, _ = p.ParseDouble(string(r.FluRate))
	return point
}

// Compile-time check
var _ interfaces.UpstreamClient = (*Client)(nil)
