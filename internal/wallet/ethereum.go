package wallet

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/arko05roy/swarm/internal/domain"
	"github.com/arko05roy/swarm/internal/logging"
)

// transferGas is the gas limit of a plain value transfer.
const transferGas = 21000

// Backend is the subset of an EVM node client the transferer needs.
// *ethclient.Client satisfies it.
type Backend interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	ChainID(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

// Ethereum pays out native currency on an EVM chain from a hot wallet.
type Ethereum struct {
	backend Backend
	key     *ecdsa.PrivateKey
	from    common.Address
	closer  func()
	log     *logging.Logger
}

// DialEthereum connects to rpcURL and loads the hex encoded private key.
func DialEthereum(ctx context.Context, rpcURL, hexKey string, log *logging.Logger) (*Ethereum, error) {
	rpcURL = strings.TrimSpace(rpcURL)
	if rpcURL == "" {
		return nil, domain.Errorf(domain.CodeInvalidArgument, "wallet rpc url is not configured")
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("loading wallet key: %w", err)
	}
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", rpcURL, err)
	}
	e := NewEthereum(client, key, log)
	e.closer = client.Close
	return e, nil
}

// NewEthereum builds a transferer over an existing backend.
func NewEthereum(b Backend, key *ecdsa.PrivateKey, log *logging.Logger) *Ethereum {
	return &Ethereum{
		backend: b,
		key:     key,
		from:    crypto.PubkeyToAddress(key.PublicKey),
		log:     log.Sub("wallet"),
	}
}

// From returns the hot wallet address.
func (e *Ethereum) From() string {
	return e.from.Hex()
}

// Transfer signs and submits a legacy value transfer and returns its hash.
func (e *Ethereum) Transfer(ctx context.Context, to string, amount float64) (string, error) {
	if !common.IsHexAddress(to) {
		return "", domain.Errorf(domain.CodeInvalidArgument, "%q is not a valid address", to)
	}
	value, err := ToWei(amount)
	if err != nil {
		return "", err
	}

	nonce, err := e.backend.PendingNonceAt(ctx, e.from)
	if err != nil {
		return "", fmt.Errorf("fetching nonce: %w", err)
	}
	gasPrice, err := e.backend.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("suggesting gas price: %w", err)
	}
	chainID, err := e.backend.ChainID(ctx)
	if err != nil {
		return "", fmt.Errorf("fetching chain id: %w", err)
	}

	recipient := common.HexToAddress(to)
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &recipient,
		Value:    value,
		Gas:      transferGas,
		GasPrice: gasPrice,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), e.key)
	if err != nil {
		return "", fmt.Errorf("signing transfer: %w", err)
	}
	if err := e.backend.SendTransaction(ctx, signed); err != nil {
		return "", fmt.Errorf("sending transfer: %w", err)
	}

	hash := signed.Hash().Hex()
	e.log.Info().
		Str("to", recipient.Hex()).
		Str("wei", value.String()).
		Uint64("nonce", nonce).
		Str("tx", hash).
		Msg("transfer submitted")
	return hash, nil
}

// Close releases the node connection, if any.
func (e *Ethereum) Close() {
	if e.closer != nil {
		e.closer()
	}
}

// ToWei converts a decimal amount of the native currency to wei.
func ToWei(amount float64) (*big.Int, error) {
	if amount <= 0 {
		return nil, domain.Errorf(domain.CodeInvalidAmount, "")
	}
	f, ok := new(big.Float).SetPrec(256).SetString(strconv.FormatFloat(amount, 'f', -1, 64))
	if !ok {
		return nil, domain.Errorf(domain.CodeInvalidAmount, "cannot convert %v to wei", amount)
	}
	f.Mul(f, new(big.Float).SetPrec(256).SetInt(big.NewInt(1_000_000_000_000_000_000)))
	f.Add(f, big.NewFloat(0.5))
	wei, _ := f.Int(nil)
	return wei, nil
}
