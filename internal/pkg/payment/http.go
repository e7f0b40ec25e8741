package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/studiobook/studiobook-api/internal/pkg/httpclient"
)

const serviceName = "payment"

// HTTPGateway talks JSON to a card processor.
type HTTPGateway struct {
	baseURL string
	secret  string
	http    *http.Client
}

// NewHTTPGateway creates a gateway for baseURL authenticated with secret.
func NewHTTPGateway(baseURL, secret string, timeout time.Duration) *HTTPGateway {
	return &HTTPGateway{
		baseURL: strings.TrimRight(baseURL, "/"),
		secret:  secret,
		http:    httpclient.New(timeout),
	}
}

func (g *HTTPGateway) Name() string { return ProviderHTTP }

type chargeBody struct {
	Account     string `json:"account"`
	Source      string `json:"source,omitempty"`
	Customer    string `json:"customer,omitempty"`
	Amount      int64  `json:"amount"`
	Description string `json:"description"`
}

type refundBody struct {
	Account string `json:"account"`
	Charge  string `json:"charge"`
	Amount  int64  `json:"amount"`
}

type customerBody struct {
	Source     string `json:"source"`
	ExternalID string `json:"external_id"`
	Email      string `json:"email,omitempty"`
}

type gatewayReply struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	FailureReason string `json:"failure_reason"`
}

func (g *HTTPGateway) Charge(ctx context.Context, req ChargeRequest) (Result, error) {
	return g.post(ctx, "/v1/charges", req.IdempotencyID, chargeBody{
		Account:     req.VendorAccount,
		Source:      req.CardToken,
		Customer:    req.CustomerRef,
		Amount:      req.Amount,
		Description: req.Description,
	})
}

func (g *HTTPGateway) Refund(ctx context.Context, req RefundRequest) (Result, error) {
	return g.post(ctx, "/v1/refunds", "refund-"+req.Reference, refundBody{
		Account: req.VendorAccount,
		Charge:  req.Reference,
		Amount:  req.Amount,
	})
}

func (g *HTTPGateway) SaveCard(ctx context.Context, req SaveCardRequest) (Result, error) {
	return g.post(ctx, "/v1/customers", "", customerBody{
		Source:     req.CardToken,
		ExternalID: req.CustomerID,
		Email:      req.Email,
	})
}

func (g *HTTPGateway) post(ctx context.Context, path, idempotencyKey string, body any) (Result, error) {
	if g.baseURL == "" {
		return Result{}, fmt.Errorf("payment config error: base_url is empty")
	}
	if g.secret == "" {
		return Result{}, fmt.Errorf("payment config error: secret is empty")
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return Result{}, fmt.Errorf("payment request error: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return Result{}, fmt.Errorf("payment request error: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.secret)
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := g.http.Do(req)
	if err != nil {
		return Result{}, httpclient.Classify(ctx, serviceName, err)
	}
	defer resp.Body.Close()

	// 402 and 4xx business errors carry a decline reason in the body
	if resp.StatusCode >= 500 {
		return Result{}, httpclient.ReadStatusError(serviceName, resp)
	}

	var reply gatewayReply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		if resp.StatusCode >= 400 {
			return Declined(fmt.Sprintf("gateway returned status %d", resp.StatusCode)), nil
		}
		return Result{}, fmt.Errorf("payment decode error: %w", err)
	}

	if resp.StatusCode >= 400 || MapStatusToInternal(reply.Status) == "failed" {
		reason := reply.FailureReason
		if reason == "" {
			reason = fmt.Sprintf("declined with status %q", reply.Status)
		}
		return Declined(reason), nil
	}
	return Result{OK: true, Reference: reply.ID}, nil
}
