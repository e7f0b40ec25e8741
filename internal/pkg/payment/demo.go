package payment

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// DemoGateway approves everything in memory except what it was told to decline.
// Used for local runs and tests.
type DemoGateway struct {
	mu             sync.Mutex
	declineCharge  string
	declineRefund  string
	charges        map[string]int64
	refunded       map[string]int64
	chargeRequests []ChargeRequest
}

// NewDemoGateway creates a demo gateway
func NewDemoGateway() *DemoGateway {
	return &DemoGateway{
		charges:  make(map[string]int64),
		refunded: make(map[string]int64),
	}
}

func (g *DemoGateway) Name() string { return ProviderDemo }

// DeclineCharges makes every following charge fail with reason. Empty reason approves again.
func (g *DemoGateway) DeclineCharges(reason string) {
	g.mu.Lock()
	g.declineCharge = reason
	g.mu.Unlock()
}

// DeclineRefunds makes every following refund fail with reason. Empty reason approves again.
func (g *DemoGateway) DeclineRefunds(reason string) {
	g.mu.Lock()
	g.declineRefund = reason
	g.mu.Unlock()
}

func (g *DemoGateway) Charge(_ context.Context, req ChargeRequest) (Result, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.chargeRequests = append(g.chargeRequests, req)
	if g.declineCharge != "" {
		return Declined(g.declineCharge), nil
	}
	if req.Amount < 0 {
		return Declined("negative amount"), nil
	}
	ref := "ch_" + uuid.NewString()
	g.charges[ref] = req.Amount
	return Result{OK: true, Reference: ref}, nil
}

func (g *DemoGateway) Refund(_ context.Context, req RefundRequest) (Result, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.declineRefund != "" {
		return Declined(g.declineRefund), nil
	}
	charged, ok := g.charges[req.Reference]
	if !ok {
		return Declined(fmt.Sprintf("unknown charge %s", req.Reference)), nil
	}
	if g.refunded[req.Reference]+req.Amount > charged {
		return Declined("refund exceeds charge"), nil
	}
	g.refunded[req.Reference] += req.Amount
	return Result{OK: true, Reference: "re_" + uuid.NewString()}, nil
}

func (g *DemoGateway) SaveCard(_ context.Context, req SaveCardRequest) (Result, error) {
	if req.CardToken == "" {
		return Declined("missing card token"), nil
	}
	return Result{OK: true, Reference: "cus_" + uuid.NewString()}, nil
}

// Refunded returns the amount refunded for a charge reference.
func (g *DemoGateway) Refunded(reference string) int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.refunded[reference]
}

// Charges returns a copy of every charge request seen.
func (g *DemoGateway) Charges() []ChargeRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]ChargeRequest(nil), g.chargeRequests...)
}
