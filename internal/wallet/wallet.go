// Package wallet pays investors out. A Transferer moves funds to an
// address; an AddressBook maps user ids to payout addresses.
package wallet

import (
	"context"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/arko05roy/swarm/internal/domain"
)

// Transferer sends amount to an address and returns a transaction id.
type Transferer interface {
	Transfer(ctx context.Context, to string, amount float64) (string, error)
}

// AddressBook maps user ids to EVM payout addresses.
type AddressBook struct {
	mu    sync.RWMutex
	addrs map[string]string
}

// NewAddressBook creates a book seeded with initial. Invalid entries are
// returned as an error and skipped.
func NewAddressBook(initial map[string]string) (*AddressBook, error) {
	b := &AddressBook{addrs: make(map[string]string)}
	var bad []string
	for user, addr := range initial {
		if err := b.SetAddress(user, addr); err != nil {
			bad = append(bad, user)
		}
	}
	if len(bad) > 0 {
		return b, domain.Errorf(domain.CodeInvalidArgument, "invalid payout address for: %s", strings.Join(bad, ", "))
	}
	return b, nil
}

// SetAddress records the payout address for user in checksum form.
func (b *AddressBook) SetAddress(user, addr string) error {
	addr = strings.TrimSpace(addr)
	if user == "" {
		return domain.Errorf(domain.CodeInvalidArgument, "user id is required")
	}
	if !common.IsHexAddress(addr) {
		return domain.Errorf(domain.CodeInvalidArgument, "%q is not a valid address", addr)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.addrs[user] = common.HexToAddress(addr).Hex()
	return nil
}

// Address returns the payout address for user.
func (b *AddressBook) Address(user string) (string, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	addr, ok := b.addrs[user]
	return addr, ok
}

// All returns a copy of every mapping.
func (b *AddressBook) All() map[string]string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]string, len(b.addrs))
	for k, v := range b.addrs {
		out[k] = v
	}
	return out
}
