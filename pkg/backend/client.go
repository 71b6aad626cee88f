// Package backend implements account.DataSource over the trading backend's
// manager REST gateway.
package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"acctmonitor/internal/account"

	"golang.org/x/time/rate"
)

const backendName = "rest"

// Config configures a Client.
type Config struct {
	BaseURL   string        `mapstructure:"base_url"`
	Token     string        `mapstructure:"token"`
	Timeout   time.Duration `mapstructure:"timeout"`
	RateLimit float64       `mapstructure:"rate_limit"` // requests per second, 0 = unlimited
	Burst     int           `mapstructure:"burst"`
}

// Client talks to the gateway. It is safe for concurrent use.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	limiter    *rate.Limiter
}

var _ account.DataSource = (*Client)(nil)

func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		token:      cfg.Token,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(limit, cfg.Burst),
	}
}

// apiError is a non-zero gateway return code or a bad HTTP status.
type apiError struct {
	Status  int
	RetCode int
	Msg     string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("gateway error (http %d, code %d): %s", e.Status, e.RetCode, e.Msg)
}

func (e *apiError) unauthorized() bool {
	return e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden || e.RetCode == RetCodeUnauthorized
}

// get performs a GET against path and decodes the envelope result into out.
func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &apiError{Status: resp.StatusCode, Msg: strings.TrimSpace(string(body))}
	}

	var raw Response
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if raw.RetCode != RetCodeOK {
		return &apiError{Status: resp.StatusCode, RetCode: raw.RetCode, Msg: raw.RetMsg}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw.Result, out); err != nil {
		return fmt.Errorf("decode result: %w", err)
	}
	return nil
}

// Connect checks that the gateway is reachable and accepts the token.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.get(ctx, "/v1/ping", nil, nil); err != nil {
		return &account.ConnectionError{Backend: backendName, Err: err}
	}
	return nil
}

func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// wrap marks credential rejections as connection errors.
func wrap(err error) error {
	var ae *apiError
	if errors.As(err, &ae) && ae.unauthorized() {
		return &account.ConnectionError{Backend: backendName, Err: err}
	}
	return err
}

func accountPath(id account.ID, suffix string) string {
	return "/v1/accounts/" + strconv.FormatInt(int64(id), 10) + suffix
}

func (c *Client) FetchAccount(ctx context.Context, id account.ID) (account.Fields, error) {
	var info AccountInfo
	if err := c.get(ctx, accountPath(id, ""), nil, &info); err != nil {
		return account.Fields{}, wrap(err)
	}
	return account.Fields{
		Balance:    info.Balance,
		Equity:     info.Equity,
		Margin:     info.Margin,
		FreeMargin: info.FreeMargin,
		Profit:     info.Profit,
		Currency:   info.Currency,
		Group:      info.Group,
		Leverage:   info.Leverage,
	}, nil
}

func (c *Client) FetchPositions(ctx context.Context, id account.ID) ([]account.Position, error) {
	var result listResult[PositionInfo]
	if err := c.get(ctx, accountPath(id, "/positions"), nil, &result); err != nil {
		return nil, wrap(err)
	}

	out := make([]account.Position, 0, len(result.List))
	for _, p := range result.List {
		out = append(out, account.Position{
			AccountID:    id,
			PositionID:   p.Ticket,
			Symbol:       p.Symbol,
			Volume:       SignedVolume(p.Side, p.Volume),
			OpenPrice:    p.PriceOpen,
			CurrentPrice: p.PriceCurrent,
			Profit:       p.Profit,
		})
	}
	return out, nil
}

// FetchTrades returns the deals closed in the last sinceDays days.
func (c *Client) FetchTrades(ctx context.Context, id account.ID, sinceDays int) ([]account.Trade, error) {
	to := time.Now()
	from := to.AddDate(0, 0, -sinceDays)
	query := url.Values{}
	query.Set("from", strconv.FormatInt(from.Unix(), 10))
	query.Set("to", strconv.FormatInt(to.Unix(), 10))

	var result listResult[DealInfo]
	if err := c.get(ctx, accountPath(id, "/deals"), query, &result); err != nil {
		return nil, wrap(err)
	}

	out := make([]account.Trade, 0, len(result.List))
	for _, d := range result.List {
		out = append(out, account.Trade{
			AccountID: id,
			TradeID:   d.Ticket,
			Symbol:    d.Symbol,
			Volume:    SignedVolume(d.Side, d.Volume),
			OpenTime:  time.Unix(d.TimeOpen, 0).UTC(),
			CloseTime: time.Unix(d.TimeClose, 0).UTC(),
			Profit:    d.Profit,
		})
	}
	return out, nil
}
