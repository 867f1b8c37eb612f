package billing

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Transferer pays an amount out to an address.
type Transferer interface {
	Transfer(ctx context.Context, to string, amount float64) (string, error)
}

type hold struct {
	provider string
	amount   float64
}

// TransferEscrow holds funds on the platform account and pays them out
// with a single transfer on release.
type TransferEscrow struct {
	t Transferer

	mu    sync.Mutex
	holds map[string]hold
}

// NewTransferEscrow creates an escrow releasing through t.
func NewTransferEscrow(t Transferer) *TransferEscrow {
	return &TransferEscrow{t: t, holds: make(map[string]hold)}
}

// Lock records a hold for taskID.
func (e *TransferEscrow) Lock(_ context.Context, taskID, provider string, amount float64) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.holds[taskID]; ok {
		return "", fmt.Errorf("task %s already locked", taskID)
	}
	e.holds[taskID] = hold{provider: provider, amount: amount}
	return "hold_" + uuid.NewString(), nil
}

// Release transfers the held amount to the provider. The hold is kept
// when the transfer fails.
func (e *TransferEscrow) Release(ctx context.Context, taskID string) (string, error) {
	e.mu.Lock()
	h, ok := e.holds[taskID]
	e.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("no hold for task %s", taskID)
	}

	tx, err := e.t.Transfer(ctx, h.provider, h.amount)
	if err != nil {
		return "", err
	}

	e.mu.Lock()
	delete(e.holds, taskID)
	e.mu.Unlock()
	return tx, nil
}

// Held returns the number of open holds.
func (e *TransferEscrow) Held() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.holds)
}
