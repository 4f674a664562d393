// Package posclient talks to the POS backend on behalf of a logged-in
// operator. The credential is an explicit Session value: Login returns it
// and WithSession binds it to a client; nothing is kept globally.
package posclient

import (
	"bytes"
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

	"github.com/google/uuid"

	"smartpos/internal/domain"
)

// ErrUnauthorized means the server refused the session; callers discard it
// and log in again.
var ErrUnauthorized = errors.New("session is missing, expired or revoked")

// MinSearchLength is the shortest customer search term worth sending.
const MinSearchLength = 2

// APIError is a non-2xx answer. Message is the server's own text, surfaced
// to the operator unchanged. A 401 matches ErrUnauthorized.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Is(target error) bool {
	return target == ErrUnauthorized && e.Status == http.StatusUnauthorized
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d", e.Status)
	}
	return e.Message
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}

type Session struct {
	Token     string    `json:"token"`
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Valid reports whether the session still has a token that has not expired
// at now.
func (s Session) Valid(now time.Time) bool {
	if s.Token == "" {
		return false
	}
	return s.ExpiresAt.IsZero() || now.Before(s.ExpiresAt)
}

type Client struct {
	baseURL *url.URL
	http    *http.Client
	session *Session
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.http = h
		}
	}
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http = &http.Client{Timeout: d, Transport: c.http.Transport}
		}
	}
}

// New returns an anonymous client for the API rooted at baseURL, e.g.
// "http://127.0.0.1:8080/api/v1".
func New(baseURL string, opts ...Option) (*Client, error) {
	parsed, err := url.Parse(strings.TrimRight(strings.TrimSpace(baseURL), "/"))
	if err != nil {
		return nil, fmt.Errorf("parse api url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("api url must be http or https, got %q", baseURL)
	}
	c := &Client{baseURL: parsed, http: &http.Client{Timeout: 15 * time.Second}}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// WithSession returns a copy of c that authenticates as s.
func (c *Client) WithSession(s Session) *Client {
	bound := *c
	bound.session = &s
	return &bound
}

func (c *Client) Session() (Session, bool) {
	if c.session == nil {
		return Session{}, false
	}
	return *c.session, true
}

func (c *Client) Login(ctx context.Context, username, password string) (Session, error) {
	var resp domain.LoginResponse
	err := c.do(ctx, http.MethodPost, "/auth/login", nil, domain.LoginRequest{
		Username: strings.TrimSpace(username),
		Password: password,
	}, &resp)
	if err != nil {
		return Session{}, err
	}
	session := Session{Token: resp.AccessToken, Username: resp.Username, Role: resp.Role}
	if resp.ExpiresAt != "" {
		if at, err := time.Parse(time.RFC3339, resp.ExpiresAt); err == nil {
			session.ExpiresAt = at
		}
	}
	return session, nil
}

func (c *Client) Me(ctx context.Context) (domain.Actor, error) {
	var actor domain.Actor
	err := c.do(ctx, http.MethodGet, "/users/me", nil, nil, &actor)
	return actor, err
}

func (c *Client) ListStock(ctx context.Context, q domain.StockQuery) (domain.Page[domain.StockItem], error) {
	var page domain.Page[domain.StockItem]
	err := c.do(ctx, http.MethodGet, "/stock", q.Values(), nil, &page)
	return page, err
}

func (c *Client) GetStock(ctx context.Context, id int64) (domain.StockItem, error) {
	var item domain.StockItem
	err := c.do(ctx, http.MethodGet, "/stock/"+strconv.FormatInt(id, 10), nil, nil, &item)
	return item, err
}

func (c *Client) ListCategories(ctx context.Context) ([]domain.Category, error) {
	var categories []domain.Category
	err := c.do(ctx, http.MethodGet, "/categories", nil, nil, &categories)
	return categories, err
}

// SearchCustomers matches name or phone. Terms shorter than MinSearchLength
// return no customers without a round trip.
func (c *Client) SearchCustomers(ctx context.Context, term string) ([]domain.Customer, error) {
	term = strings.TrimSpace(term)
	if len([]rune(term)) < MinSearchLength {
		return nil, nil
	}
	var page domain.Page[domain.Customer]
	err := c.do(ctx, http.MethodGet, "/customers", url.Values{"search": {term}}, nil, &page)
	return page.Items, err
}

func (c *Client) CreateCustomer(ctx context.Context, req domain.CustomerRequest) (domain.Customer, error) {
	var customer domain.Customer
	err := c.do(ctx, http.MethodPost, "/customers", nil, req, &customer)
	return customer, err
}

// CreateVouchers submits the batch in one call. The server creates every
// voucher or none and answers in request order.
func (c *Client) CreateVouchers(ctx context.Context, vouchers []domain.VoucherRequest) ([]domain.Voucher, error) {
	var created []domain.Voucher
	err := c.do(ctx, http.MethodPost, "/vouchers", nil, domain.VoucherBatchRequest{Vouchers: vouchers}, &created)
	return created, err
}

func (c *Client) GetVoucher(ctx context.Context, id int64) (domain.Voucher, error) {
	var voucher domain.Voucher
	err := c.do(ctx, http.MethodGet, "/vouchers/"+strconv.FormatInt(id, 10), nil, nil, &voucher)
	return voucher, err
}

func (c *Client) DashboardStats(ctx context.Context) (domain.DashboardStats, error) {
	var stats domain.DashboardStats
	err := c.do(ctx, http.MethodGet, "/dashboard/stats", nil, nil, &stats)
	return stats, err
}

func (c *Client) csrfToken(ctx context.Context) (string, error) {
	var resp struct {
		Token string `json:"csrf_token"`
	}
	if err := c.do(ctx, http.MethodGet, "/auth/csrf-token", nil, nil, &resp); err != nil {
		return "", fmt.Errorf("fetch csrf token: %w", err)
	}
	return resp.Token, nil
}

func (c *Client) endpoint(path string, query url.Values) string {
	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + path
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path, query), reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.session != nil && c.session.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.session.Token)
	}
	if method != http.MethodGet && path != "/auth/login" {
		token, err := c.csrfToken(ctx)
		if err != nil {
			return err
		}
		req.Header.Set("X-CSRF-Token", token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeAPIError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s response: %w", method, path, err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var payload struct {
		Error string `json:"error"`
	}
	msg := strings.TrimSpace(string(raw))
	if err := json.Unmarshal(raw, &payload); err == nil && payload.Error != "" {
		msg = payload.Error
	}
	return &APIError{Status: resp.StatusCode, Message: msg}
}
