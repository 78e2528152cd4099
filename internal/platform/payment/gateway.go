// Package payment talks to the hosted checkout provider. The provider is
// opaque: the portal creates a checkout session for a bill and later learns
// about the outcome through a signed webhook.
package payment

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var ErrDisabled = errors.New("payment gateway is not configured")

type SessionRequest struct {
	BillID        uuid.UUID
	AmountCents   int64
	Currency      string
	Description   string
	CustomerEmail string
}

type Session struct {
	Ref         string `json:"id"`
	CheckoutURL string `json:"url"`
}

// Gateway creates checkout sessions.
type Gateway interface {
	CreateSession(ctx context.Context, req SessionRequest) (*Session, error)
}

type Config struct {
	BaseURL    string
	APIKey     string
	Currency   string
	SuccessURL string
	CancelURL  string
	Timeout    time.Duration
}

// HTTPGateway is a Gateway backed by the provider's REST API.
type HTTPGateway struct {
	client *resty.Client
	cfg    Config
	logger zerolog.Logger
}

func NewHTTPGateway(cfg Config, logger zerolog.Logger) *HTTPGateway {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetRetryCount(2).
		SetRetryWaitTime(500*time.Millisecond).
		SetRetryMaxWaitTime(2*time.Second).
		SetAuthToken(cfg.APIKey).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	return &HTTPGateway{client: client, cfg: cfg, logger: logger}
}

type checkoutRequest struct {
	Amount      int64             `json:"amount"`
	Currency    string            `json:"currency"`
	Reference   string            `json:"client_reference_id"`
	Description string            `json:"description"`
	Email       string            `json:"customer_email,omitempty"`
	SuccessURL  string            `json:"success_url"`
	CancelURL   string            `json:"cancel_url"`
	Metadata    map[string]string `json:"metadata"`
}

type providerError struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// CreateSession opens a checkout for the bill amount in minor units. The
// bill id doubles as idempotency key so retries never open two sessions.
func (g *HTTPGateway) CreateSession(ctx context.Context, req SessionRequest) (*Session, error) {
	if g.cfg.BaseURL == "" {
		return nil, ErrDisabled
	}
	if req.AmountCents <= 0 {
		return nil, fmt.Errorf("amount must be positive, got %d", req.AmountCents)
	}
	currency := req.Currency
	if currency == "" {
		currency = g.cfg.Currency
	}

	body := checkoutRequest{
		Amount:      req.AmountCents,
		Currency:    currency,
		Reference:   req.BillID.String(),
		Description: req.Description,
		Email:       req.CustomerEmail,
		SuccessURL:  g.cfg.SuccessURL,
		CancelURL:   g.cfg.CancelURL,
		Metadata:    map[string]string{"bill_id": req.BillID.String()},
	}

	var session Session
	var perr providerError
	resp, err := g.client.R().
		SetContext(ctx).
		SetHeader("Idempotency-Key", "bill-"+req.BillID.String()).
		SetBody(body).
		SetResult(&session).
		SetError(&perr).
		Post("/v1/checkout/sessions")
	if err != nil {
		g.logger.Error().Err(err).Str("bill_id", req.BillID.String()).Msg("payment gateway call failed")
		return nil, fmt.Errorf("create checkout session: %w", err)
	}
	if resp.StatusCode() != http.StatusOK && resp.StatusCode() != http.StatusCreated {
		g.logger.Error().
			Int("status_code", resp.StatusCode()).
			Str("provider_message", perr.Error.Message).
			Str("bill_id", req.BillID.String()).
			Msg("payment gateway rejected session")
		return nil, fmt.Errorf("create checkout session: provider returned %d: %s", resp.StatusCode(), perr.Error.Message)
	}
	if session.Ref == "" {
		return nil, errors.New("create checkout session: provider returned no session id")
	}
	return &session, nil
}
