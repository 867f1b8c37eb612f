package wallet

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/arko05roy/swarm/internal/domain"
)

// Transfer is a transfer recorded by Memory.
type Transfer struct {
	TxID      string    `json:"txId"`
	To        string    `json:"to"`
	Amount    float64   `json:"amount"`
	Timestamp time.Time `json:"timestamp"`
}

// Memory is an in-process Transferer that records transfers. It is used
// for local runs and tests.
type Memory struct {
	mu        sync.Mutex
	transfers []Transfer
	failWith  error
}

// NewMemory creates an empty in-memory transferer.
func NewMemory() *Memory {
	return &Memory{}
}

// FailWith makes subsequent transfers fail with err. Nil restores success.
func (m *Memory) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failWith = err
}

// Transfer implements Transferer.
func (m *Memory) Transfer(_ context.Context, to string, amount float64) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return "", m.failWith
	}
	if amount <= 0 {
		return "", domain.Errorf(domain.CodeInvalidAmount, "")
	}
	t := Transfer{TxID: "mem_" + uuid.New().String(), To: to, Amount: amount, Timestamp: time.Now()}
	m.transfers = append(m.transfers, t)
	return t.TxID, nil
}

// Transfers returns every successful transfer in order.
func (m *Memory) Transfers() []Transfer {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Transfer, len(m.transfers))
	copy(out, m.transfers)
	return out
}
