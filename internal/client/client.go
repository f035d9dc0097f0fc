// Package client talks to the OnlyFrens HTTP API and keeps a local mirror of the caller's account.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/IlyasAtabaev731/onlyfrens/internal/api"
	"github.com/IlyasAtabaev731/onlyfrens/internal/domain/models"
	"github.com/shopspring/decimal"
)

// APIError is a non-2xx answer from the server.
type APIError struct {
	Status  int
	Kind    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Kind, e.Status, e.Message)
}

type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
	token   string
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

func New(baseURL string, logger *slog.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
		logger:  logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Token() string {
	return c.token
}

func (c *Client) SetToken(token string) {
	c.token = token
}

func (c *Client) Register(ctx context.Context, username, credentialID, publicKey string) (*api.AuthResponse, error) {
	return c.session(ctx, "/api/auth/register", api.RegisterRequest{
		Username:     username,
		CredentialID: credentialID,
		PublicKey:    publicKey,
	})
}

func (c *Client) Login(ctx context.Context, credentialID string) (*api.AuthResponse, error) {
	return c.session(ctx, "/api/auth/login", api.LoginRequest{CredentialID: credentialID})
}

func (c *Client) DemoLogin(ctx context.Context, username string) (*api.AuthResponse, error) {
	return c.session(ctx, "/api/auth/demo-login", api.DemoLoginRequest{Username: username})
}

func (c *Client) session(ctx context.Context, path string, body any) (*api.AuthResponse, error) {
	var resp api.AuthResponse
	if err := c.do(ctx, http.MethodPost, path, body, &resp); err != nil {
		return nil, err
	}
	c.token = resp.Token
	return &resp, nil
}

func (c *Client) Logout(ctx context.Context) error {
	if err := c.do(ctx, http.MethodPost, "/api/auth/logout", nil, nil); err != nil {
		return err
	}
	c.token = ""
	return nil
}

func (c *Client) Me(ctx context.Context) (*api.UserResponse, error) {
	var resp struct {
		User api.UserResponse `json:"user"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/user/me", nil, &resp); err != nil {
		return nil, err
	}
	return &resp.User, nil
}

func (c *Client) Balance(ctx context.Context) (*api.BalanceResponse, error) {
	var resp api.BalanceResponse
	if err := c.do(ctx, http.MethodGet, "/api/user/balance", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Actions lists the caller's history. Empty kind and limit <= 0 mean no filter.
func (c *Client) Actions(ctx context.Context, kind models.ActionKind, limit int) ([]models.Action, error) {
	q := url.Values{}
	if kind != "" {
		q.Set("kind", string(kind))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/api/user/actions"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var resp struct {
		Actions []models.Action `json:"actions"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Actions, nil
}

func (c *Client) Deposit(ctx context.Context, amount decimal.Decimal) (*api.ActionResponse, error) {
	var resp api.ActionResponse
	if err := c.do(ctx, http.MethodPost, "/api/contract/deposit", api.AmountRequest{Amount: &amount}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) Withdraw(ctx context.Context, amount decimal.Decimal) (*api.ActionResponse, error) {
	var resp api.ActionResponse
	if err := c.do(ctx, http.MethodPost, "/api/contract/withdraw", api.AmountRequest{Amount: &amount}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) Tip(ctx context.Context, creatorID string, amount decimal.Decimal) (*api.ActionResponse, error) {
	var resp api.ActionResponse
	req := api.TipRequest{CreatorID: creatorID, Amount: &amount}
	if err := c.do(ctx, http.MethodPost, "/api/contract/tip", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) Subscribe(ctx context.Context, creatorID string, price decimal.Decimal) (*api.SubscribeResponse, error) {
	var resp api.SubscribeResponse
	req := api.SubscribeRequest{CreatorID: creatorID, Price: &price}
	if err := c.do(ctx, http.MethodPost, "/api/contract/subscribe", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) BuyNft(ctx context.Context, contentID, creatorID string, price decimal.Decimal, meta models.CollectibleMetadata) (*api.BuyNftResponse, error) {
	var resp api.BuyNftResponse
	req := api.BuyNftRequest{
		PremiumContentID:     contentID,
		CreatorID:            creatorID,
		Price:                &price,
		NftDetailsForMinting: &meta,
	}
	if err := c.do(ctx, http.MethodPost, "/api/contract/buy-nft", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) VerifyNft(ctx context.Context, nftID string) (*api.VerifyNftResponse, error) {
	var resp api.VerifyNftResponse
	if err := c.do(ctx, http.MethodPost, "/api/nft/verify", api.VerifyNftRequest{NftID: nftID}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	const op = "client.do"

	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		rd = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	c.logger.Debug("API call", slog.String("method", method), slog.String("path", path), slog.Int("status", resp.StatusCode))

	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &APIError{Status: resp.StatusCode}
		var e api.ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&e); err == nil {
			apiErr.Kind, apiErr.Message = e.ErrorKind, e.Message
		} else {
			apiErr.Kind, apiErr.Message = "Internal", resp.Status
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode %s: %w", op, path, err)
	}
	return nil
}
