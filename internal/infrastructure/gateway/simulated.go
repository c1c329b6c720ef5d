package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/marshalcore/backend/internal/domain/transfer"
)

// Operation names a GatewayClient call for fault injection and call counting
type Operation string

const (
	OpEnsureRecipient Operation = "ensure_recipient"
	OpInitiate        Operation = "initiate"
	OpQuery           Operation = "query"
)

// Fault describes an injected failure for the next matching call.
// With Executed set on an initiate fault the transfer is recorded before the error
// is returned, which models a timeout after the gateway moved the money.
type Fault struct {
	Kind     transfer.GatewayErrorKind
	Code     string
	Executed bool
}

type simTransfer struct {
	recipientType transfer.RecipientType
	code          string
	amount        int64
	outcome       transfer.GatewayOutcome
}

type faultKey struct {
	op            Operation
	recipientType transfer.RecipientType
}

// SimulatedGateway is an in-memory GatewayClient for non-production environments and tests.
// Transfers succeed immediately unless faults or outcomes are configured, and repeated
// initiations with the same idempotency key never execute twice.
type SimulatedGateway struct {
	mu        sync.Mutex
	handles   map[transfer.RecipientType]string
	transfers map[string]*simTransfer
	faults    map[faultKey][]Fault
	outcomes  map[transfer.RecipientType]transfer.GatewayOutcome
	calls     map[faultKey]int
	executed  map[transfer.RecipientType]int
	seq       int
}

// NewSimulatedGateway creates a simulated gateway
func NewSimulatedGateway() *SimulatedGateway {
	return &SimulatedGateway{
		handles:   make(map[transfer.RecipientType]string),
		transfers: make(map[string]*simTransfer),
		faults:    make(map[faultKey][]Fault),
		outcomes:  make(map[transfer.RecipientType]transfer.GatewayOutcome),
		calls:     make(map[faultKey]int),
		executed:  make(map[transfer.RecipientType]int),
	}
}

// FailNext queues a fault for the next op call for a recipient type
func (g *SimulatedGateway) FailNext(op Operation, recipientType transfer.RecipientType, fault Fault) {
	g.mu.Lock()
	defer g.mu.Unlock()
	k := faultKey{op, recipientType}
	g.faults[k] = append(g.faults[k], fault)
}

// SetInitiateOutcome makes new transfers for a recipient type start in the given outcome
func (g *SimulatedGateway) SetInitiateOutcome(recipientType transfer.RecipientType, outcome transfer.GatewayOutcome) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.outcomes[recipientType] = outcome
}

// Settle changes the outcome of an executed transfer, as a later webhook would
func (g *SimulatedGateway) Settle(reference string, outcome transfer.GatewayOutcome) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	t, ok := g.transfers[reference]
	if !ok {
		return fmt.Errorf("simulated gateway: no transfer %s", reference)
	}
	t.outcome = outcome
	return nil
}

// Calls returns how many times op was called for a recipient type
func (g *SimulatedGateway) Calls(op Operation, recipientType transfer.RecipientType) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[faultKey{op, recipientType}]
}

// Executed returns how many distinct transfers moved money to a recipient type
func (g *SimulatedGateway) Executed(recipientType transfer.RecipientType) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.executed[recipientType]
}

// EnsureRecipientHandle returns a stable simulated recipient code
func (g *SimulatedGateway) EnsureRecipientHandle(_ context.Context, recipientType transfer.RecipientType) (transfer.RecipientHandle, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.takeFault(OpEnsureRecipient, recipientType); err != nil {
		return transfer.RecipientHandle{}, err
	}
	code, ok := g.handles[recipientType]
	if !ok {
		code = "RCP_sim_" + string(recipientType)
		g.handles[recipientType] = code
	}
	return transfer.RecipientHandle{RecipientType: recipientType, Code: code}, nil
}

// InvalidateRecipientHandle forgets the simulated recipient code
func (g *SimulatedGateway) InvalidateRecipientHandle(_ context.Context, recipientType transfer.RecipientType) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.handles, recipientType)
	return nil
}

// InitiateTransfer records a transfer once per idempotency key
func (g *SimulatedGateway) InitiateTransfer(_ context.Context, req transfer.TransferRequest) (*transfer.TransferHandle, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	rt := req.Handle.RecipientType
	k := faultKey{OpInitiate, rt}
	g.calls[k]++

	if req.Amount <= 0 {
		return nil, transfer.NewGatewayError(transfer.GatewayErrorTransferRejected, "invalid_amount",
			fmt.Sprintf("amount %d must be positive", req.Amount), transfer.ErrInvalidAmount)
	}

	if fault, ok := g.popFault(k); ok {
		if fault.Executed {
			g.execute(req)
		}
		return nil, faultError(fault, req.IdempotencyKey)
	}

	t := g.execute(req)
	return &transfer.TransferHandle{
		Reference:    req.IdempotencyKey,
		TransferCode: t.code,
		Outcome:      t.outcome,
		Message:      "Transfer has been queued",
		RawResponse:  simResponse(req.IdempotencyKey, t),
	}, nil
}

// QueryTransfer reports the simulated state of a transfer
func (g *SimulatedGateway) QueryTransfer(_ context.Context, reference string) (*transfer.TransferQuery, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	t, ok := g.transfers[reference]
	var rt transfer.RecipientType
	if ok {
		rt = t.recipientType
	}
	if err := g.takeFault(OpQuery, rt); err != nil {
		return nil, err
	}
	if !ok {
		return &transfer.TransferQuery{Reference: reference, Outcome: transfer.OutcomeNotFound}, nil
	}
	return &transfer.TransferQuery{
		Reference:    reference,
		TransferCode: t.code,
		Outcome:      t.outcome,
		RawResponse:  simResponse(reference, t),
	}, nil
}

// execute must be called with g.mu held
func (g *SimulatedGateway) execute(req transfer.TransferRequest) *simTransfer {
	if t, ok := g.transfers[req.IdempotencyKey]; ok {
		return t
	}
	outcome, ok := g.outcomes[req.Handle.RecipientType]
	if !ok {
		outcome = transfer.OutcomeSuccess
	}
	g.seq++
	t := &simTransfer{
		recipientType: req.Handle.RecipientType,
		code:          fmt.Sprintf("TRF_sim_%04d", g.seq),
		amount:        req.Amount,
		outcome:       outcome,
	}
	g.transfers[req.IdempotencyKey] = t
	g.executed[req.Handle.RecipientType]++
	return t
}

// takeFault counts the call and pops a queued fault; must be called with g.mu held
func (g *SimulatedGateway) takeFault(op Operation, recipientType transfer.RecipientType) error {
	k := faultKey{op, recipientType}
	g.calls[k]++
	if fault, ok := g.popFault(k); ok {
		return faultError(fault, "")
	}
	return nil
}

func (g *SimulatedGateway) popFault(k faultKey) (Fault, bool) {
	queue := g.faults[k]
	if len(queue) == 0 {
		return Fault{}, false
	}
	g.faults[k] = queue[1:]
	return queue[0], true
}

func faultError(f Fault, reference string) *transfer.GatewayError {
	code := f.Code
	if code == "" {
		code = "simulated_" + string(f.Kind)
	}
	msg := "simulated failure"
	if reference != "" {
		msg += " for " + reference
	}
	return transfer.NewGatewayError(f.Kind, code, msg, nil)
}

func simResponse(reference string, t *simTransfer) []byte {
	b, _ := json.Marshal(map[string]any{
		"status":  true,
		"message": "simulated",
		"data": map[string]any{
			"reference":     reference,
			"transfer_code": t.code,
			"amount":        t.amount,
			"status":        string(t.outcome),
		},
	})
	return b
}

var _ transfer.GatewayClient = (*SimulatedGateway)(nil)
