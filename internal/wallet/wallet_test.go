package wallet

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arko05roy/swarm/internal/domain"
	"github.com/arko05roy/swarm/internal/logging"
)

const addr = "0x52908400098527886E0F7030069857D2E4169EE7"

func TestAddressBook(t *testing.T) {
	b, err := NewAddressBook(map[string]string{
		"alice": "0x52908400098527886e0f7030069857d2e4169ee7",
		"bob":   "not-an-address",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bob")

	got, ok := b.Address("alice")
	require.True(t, ok)
	assert.Equal(t, addr, got)

	_, ok = b.Address("bob")
	assert.False(t, ok)

	assert.ErrorIs(t, b.SetAddress("", addr), domain.ErrInvalidArgument)
	require.NoError(t, b.SetAddress("carol", addr))
	assert.Len(t, b.All(), 2)
}

func TestMemoryTransferer(t *testing.T) {
	m := NewMemory()
	tx, err := m.Transfer(context.Background(), addr, 1.5)
	require.NoError(t, err)
	assert.NotEmpty(t, tx)

	m.FailWith(errors.New("node unreachable"))
	_, err = m.Transfer(context.Background(), addr, 1)
	assert.EqualError(t, err, "node unreachable")

	m.FailWith(nil)
	_, err = m.Transfer(context.Background(), addr, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	transfers := m.Transfers()
	require.Len(t, transfers, 1)
	assert.Equal(t, 1.5, transfers[0].Amount)
	assert.Equal(t, tx, transfers[0].TxID)
}

func TestToWei(t *testing.T) {
	tests := []struct {
		amount float64
		want   string
	}{
		{1, "1000000000000000000"},
		{0.1, "100000000000000000"},
		{2.5, "2500000000000000000"},
		{0.000001, "1000000000000"},
	}
	for _, tt := range tests {
		got, err := ToWei(tt.amount)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got.String(), "amount %v", tt.amount)
	}

	_, err := ToWei(-1)
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
}

type fakeBackend struct {
	nonce   uint64
	chainID *big.Int
	sent    []*types.Transaction
	sendErr error
}

func (f *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	return f.nonce, nil
}

func (f *fakeBackend) SuggestGasPrice(context.Context) (*big.Int, error) {
	return big.NewInt(2_000_000_000), nil
}

func (f *fakeBackend) ChainID(context.Context) (*big.Int, error) {
	return f.chainID, nil
}

func (f *fakeBackend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, tx)
	return nil
}

func TestEthereumTransfer(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	backend := &fakeBackend{nonce: 7, chainID: big.NewInt(1337)}
	e := NewEthereum(backend, key, logging.New(nil, "silent"))
	assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey).Hex(), e.From())

	hash, err := e.Transfer(context.Background(), addr, 0.25)
	require.NoError(t, err)
	require.Len(t, backend.sent, 1)

	tx := backend.sent[0]
	assert.Equal(t, tx.Hash().Hex(), hash)
	assert.Equal(t, uint64(7), tx.Nonce())
	assert.Equal(t, uint64(transferGas), tx.Gas())
	assert.Equal(t, common.HexToAddress(addr), *tx.To())
	assert.Equal(t, "250000000000000000", tx.Value().String())

	sender, err := types.Sender(types.LatestSignerForChainID(big.NewInt(1337)), tx)
	require.NoError(t, err)
	assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey), sender)
}

func TestEthereumTransferErrors(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	backend := &fakeBackend{chainID: big.NewInt(1), sendErr: errors.New("insufficient funds")}
	e := NewEthereum(backend, key, logging.New(nil, "silent"))

	_, err = e.Transfer(context.Background(), "0x123", 1)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	_, err = e.Transfer(context.Background(), addr, 1)
	assert.ErrorContains(t, err, "insufficient funds")
	assert.Empty(t, backend.sent)
}
