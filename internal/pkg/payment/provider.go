package payment

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Provider constants
const (
	ProviderDemo = "demo"
	ProviderHTTP = "http"
)

// Gateway is the payment boundary. A declined operation is a Result with OK
// false and a Reason; an error means the gateway could not be reached or answered
// something unusable.
type Gateway interface {
	// Charge takes amount from the customer on behalf of the vendor's account.
	Charge(ctx context.Context, req ChargeRequest) (Result, error)
	// Refund returns amount of a previous charge.
	Refund(ctx context.Context, req RefundRequest) (Result, error)
	// SaveCard stores a card token and returns a reusable customer reference.
	SaveCard(ctx context.Context, req SaveCardRequest) (Result, error)
	// Name returns the provider identifier
	Name() string
}

// ChargeRequest charges a card token against a vendor credential.
type ChargeRequest struct {
	VendorAccount string
	CardToken     string
	CustomerRef   string
	Amount        int64
	Description   string
	IdempotencyID string
}

// RefundRequest refunds a charge reference.
type RefundRequest struct {
	VendorAccount string
	Reference     string
	Amount        int64
}

// SaveCardRequest stores a tokenized card for a customer.
type SaveCardRequest struct {
	CardToken  string
	CustomerID string
	Email      string
}

// Result is the outcome of a gateway call: pass/fail plus an opaque reference or reason.
type Result struct {
	OK        bool
	Reference string
	Reason    string
}

// Declined builds a failed result.
func Declined(reason string) Result {
	return Result{Reason: reason}
}

// Registry keeps the configured gateways by name.
type Registry struct {
	mu       sync.RWMutex
	gateways map[string]Gateway
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{gateways: make(map[string]Gateway)}
}

// Register adds a gateway under its name
func (r *Registry) Register(g Gateway) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gateways[g.Name()] = g
}

// Get retrieves a gateway by name
func (r *Registry) Get(name string) (Gateway, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.gateways[name]
	if !ok {
		return nil, fmt.Errorf("payment provider '%s' not found", name)
	}
	return g, nil
}

// List returns all registered provider names, sorted
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.gateways))
	for name := range r.gateways {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// MapStatusToInternal converts a provider status to one of
// "pending", "completed", "failed", "refunded".
func MapStatusToInternal(providerStatus string) string {
	switch strings.ToLower(providerStatus) {
	case "success", "succeeded", "completed", "paid", "approved", "authorized", "saved":
		return "completed"
	case "failed", "cancelled", "declined", "rejected", "error":
		return "failed"
	case "refunded", "reversed":
		return "refunded"
	default:
		return "pending"
	}
}
