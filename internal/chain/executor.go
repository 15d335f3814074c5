package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/polyclaw/engine/internal/domain"
)

// collateralDecimals is USDC's 6-decimal fixed point.
const collateralScale = 1e6

// ctfABIJSON covers the CTF calls the executor issues.
const ctfABIJSON = `[
  {"name":"splitPosition","type":"function","stateMutability":"nonpayable","inputs":[
    {"name":"collateralToken","type":"address"},
    {"name":"parentCollectionId","type":"bytes32"},
    {"name":"conditionId","type":"bytes32"},
    {"name":"partition","type":"uint256[]"},
    {"name":"amount","type":"uint256"}],"outputs":[]},
  {"name":"mergePositions","type":"function","stateMutability":"nonpayable","inputs":[
    {"name":"collateralToken","type":"address"},
    {"name":"parentCollectionId","type":"bytes32"},
    {"name":"conditionId","type":"bytes32"},
    {"name":"partition","type":"uint256[]"},
    {"name":"amount","type":"uint256"}],"outputs":[]},
  {"name":"redeemPositions","type":"function","stateMutability":"nonpayable","inputs":[
    {"name":"collateralToken","type":"address"},
    {"name":"parentCollectionId","type":"bytes32"},
    {"name":"conditionId","type":"bytes32"},
    {"name":"indexSets","type":"uint256[]"}],"outputs":[]}
]`

// adapterABIJSON covers the NegRisk adapter split call.
const adapterABIJSON = `[
  {"name":"splitPosition","type":"function","stateMutability":"nonpayable","inputs":[
    {"name":"conditionId","type":"bytes32"},
    {"name":"amount","type":"uint256"}],"outputs":[]}
]`

// Backend is the narrow slice of ethclient.Client the executor needs.
type Backend interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Receipt is the executor's view of a confirmed transaction.
type Receipt struct {
	TxHash  string
	GasUsed uint64
}

// Config holds the executor's chain parameters.
type Config struct {
	ChainID        int64
	CTF            CTFAddress
	NegRiskAdapter NegRiskAdapterAddress
	Collateral     common.Address // USDC.e
	GasLimit       uint64
	ReceiptTimeout time.Duration
	ReceiptPoll    time.Duration
}

// Executor issues CTF and NegRisk adapter transactions. All calls from one
// wallet are serialized through the lock manager so in-flight transactions
// never collide on a nonce. A confirmed transition is irreversible; callers
// treat any error as fatal for the plan.
type Executor struct {
	backend    Backend
	key        *ecdsa.PrivateKey
	wallet     common.Address
	cfg        Config
	ctfABI     abi.ABI
	adapterABI abi.ABI
	locks      domain.LockManager
	logger     *slog.Logger
}

// NewExecutor creates an Executor signing with the given hex private key.
func NewExecutor(backend Backend, privateKeyHex string, cfg Config, locks domain.LockManager, logger *slog.Logger) (*Executor, error) {
	key, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("chain: invalid private key: %w", err)
	}
	ctfABI, err := abi.JSON(strings.NewReader(ctfABIJSON))
	if err != nil {
		return nil, fmt.Errorf("chain: parse ctf abi: %w", err)
	}
	adapterABI, err := abi.JSON(strings.NewReader(adapterABIJSON))
	if err != nil {
		return nil, fmt.Errorf("chain: parse adapter abi: %w", err)
	}
	if cfg.GasLimit == 0 {
		cfg.GasLimit = 300_000
	}
	if cfg.ReceiptTimeout <= 0 {
		cfg.ReceiptTimeout = 120 * time.Second
	}
	if cfg.ReceiptPoll <= 0 {
		cfg.ReceiptPoll = 2 * time.Second
	}
	return &Executor{
		backend:    backend,
		key:        key,
		wallet:     ethcrypto.PubkeyToAddress(key.PublicKey),
		cfg:        cfg,
		ctfABI:     ctfABI,
		adapterABI: adapterABI,
		locks:      locks,
		logger:     logger.With(slog.String("component", "chain_executor")),
	}, nil
}

// Wallet returns the signing wallet address.
func (e *Executor) Wallet() common.Address { return e.wallet }

// MintSet splits collateral into a complete YES+NO set for the condition.
func (e *Executor) MintSet(ctx context.Context, conditionID string, amount float64) (Receipt, error) {
	data, err := e.ctfABI.Pack("splitPosition",
		e.cfg.Collateral, [32]byte{}, common.HexToHash(conditionID), binaryPartition(), collateralUnits(amount))
	if err != nil {
		return Receipt{}, fmt.Errorf("chain: pack splitPosition: %w", err)
	}
	return e.send(ctx, "mint", e.cfg.CTF.Address(), data)
}

// MergeSet merges a complete YES+NO set back into collateral.
func (e *Executor) MergeSet(ctx context.Context, conditionID string, amount float64) (Receipt, error) {
	data, err := e.ctfABI.Pack("mergePositions",
		e.cfg.Collateral, [32]byte{}, common.HexToHash(conditionID), binaryPartition(), collateralUnits(amount))
	if err != nil {
		return Receipt{}, fmt.Errorf("chain: pack mergePositions: %w", err)
	}
	return e.send(ctx, "merge", e.cfg.CTF.Address(), data)
}

// MintNegRiskSet splits collateral into a complete outcome set of a NegRisk
// event through the adapter.
func (e *Executor) MintNegRiskSet(ctx context.Context, conditionID string, amount float64) (Receipt, error) {
	data, err := e.adapterABI.Pack("splitPosition",
		common.HexToHash(conditionID), collateralUnits(amount))
	if err != nil {
		return Receipt{}, fmt.Errorf("chain: pack adapter splitPosition: %w", err)
	}
	return e.send(ctx, "negrisk_split", e.cfg.NegRiskAdapter.Address(), data)
}

// RedeemSet redeems settled positions for collateral.
func (e *Executor) RedeemSet(ctx context.Context, conditionID string) (Receipt, error) {
	data, err := e.ctfABI.Pack("redeemPositions",
		e.cfg.Collateral, [32]byte{}, common.HexToHash(conditionID), binaryPartition())
	if err != nil {
		return Receipt{}, fmt.Errorf("chain: pack redeemPositions: %w", err)
	}
	return e.send(ctx, "redeem", e.cfg.CTF.Address(), data)
}

// send serializes per-wallet, signs, submits, and waits for a confirmed
// receipt. A reverted or unconfirmed transaction returns ErrOnchainFailure.
func (e *Executor) send(ctx context.Context, op string, to common.Address, data []byte) (Receipt, error) {
	unlock, err := e.locks.Acquire(ctx, "wallet:"+e.wallet.Hex()+":tx", e.cfg.ReceiptTimeout)
	if err != nil {
		return Receipt{}, fmt.Errorf("chain: %s: acquire wallet lock: %w", op, err)
	}
	defer unlock()

	nonce, err := e.backend.PendingNonceAt(ctx, e.wallet)
	if err != nil {
		return Receipt{}, fmt.Errorf("chain: %s: nonce: %w", op, err)
	}
	gasPrice, err := e.backend.SuggestGasPrice(ctx)
	if err != nil {
		return Receipt{}, fmt.Errorf("chain: %s: gas price: %w", op, err)
	}

	tx := types.NewTransaction(nonce, to, big.NewInt(0), e.cfg.GasLimit, gasPrice, data)
	signer := types.LatestSignerForChainID(big.NewInt(e.cfg.ChainID))
	signed, err := types.SignTx(tx, signer, e.key)
	if err != nil {
		return Receipt{}, fmt.Errorf("chain: %s: sign: %w", op, err)
	}

	if err := e.backend.SendTransaction(ctx, signed); err != nil {
		return Receipt{}, fmt.Errorf("chain: %s: send: %w: %w", op, domain.ErrOnchainFailure, err)
	}

	hash := signed.Hash()
	e.logger.Info("transaction submitted",
		slog.String("op", op),
		slog.String("tx", hash.Hex()),
		slog.Uint64("nonce", nonce),
	)

	receipt, err := e.waitReceipt(ctx, hash)
	if err != nil {
		return Receipt{}, fmt.Errorf("chain: %s: %w", op, err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return Receipt{}, fmt.Errorf("chain: %s reverted (tx %s): %w", op, hash.Hex(), domain.ErrOnchainFailure)
	}
	return Receipt{TxHash: hash.Hex(), GasUsed: receipt.GasUsed}, nil
}

// waitReceipt polls until the transaction is mined or the timeout elapses.
func (e *Executor) waitReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	deadline := time.Now().Add(e.cfg.ReceiptTimeout)
	ticker := time.NewTicker(e.cfg.ReceiptPoll)
	defer ticker.Stop()

	for {
		receipt, err := e.backend.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			return receipt, nil
		}

		if time.Now().After(deadline) {
			return nil, fmt.Errorf("receipt timeout after %s (tx %s): %w",
				e.cfg.ReceiptTimeout, hash.Hex(), domain.ErrOnchainFailure)
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("receipt wait: %w: %w", domain.ErrOnchainFailure, ctx.Err())
		case <-ticker.C:
		}
	}
}

// binaryPartition is the YES/NO index set partition of a binary condition.
func binaryPartition() []*big.Int {
	return []*big.Int{big.NewInt(1), big.NewInt(2)}
}

// collateralUnits converts a USD amount to 6-decimal collateral units.
func collateralUnits(amount float64) *big.Int {
	return big.NewInt(int64(amount * collateralScale))
}
