package chain

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polyclaw/engine/internal/domain"
)

// Throwaway key; never funded.
const testKeyHex = "59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d"

// stubBackend fakes the RPC surface: transactions land in sent, receipts
// appear after receiptDelay polls.
type stubBackend struct {
	sent         []*types.Transaction
	sendErr      error
	status       uint64
	gasUsed      uint64
	receiptDelay int
	polls        int
	noReceipt    bool
}

func (b *stubBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	return 7, nil
}

func (b *stubBackend) SuggestGasPrice(context.Context) (*big.Int, error) {
	return big.NewInt(30_000_000_000), nil
}

func (b *stubBackend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	if b.sendErr != nil {
		return b.sendErr
	}
	b.sent = append(b.sent, tx)
	return nil
}

func (b *stubBackend) TransactionReceipt(context.Context, common.Hash) (*types.Receipt, error) {
	if b.noReceipt {
		return nil, errors.New("not found")
	}
	b.polls++
	if b.polls <= b.receiptDelay {
		return nil, errors.New("not found")
	}
	return &types.Receipt{Status: b.status, GasUsed: b.gasUsed}, nil
}

// stubLocks records acquisitions and always grants.
type stubLocks struct {
	keys []string
}

func (l *stubLocks) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	l.keys = append(l.keys, key)
	return func() {}, nil
}

func newTestExecutor(t *testing.T, backend Backend, locks domain.LockManager) *Executor {
	t.Helper()
	ctf, err := ParseCTFAddress("0x4D97DCd97eC945f40cF65F87097ACe5EA0476045")
	require.NoError(t, err)
	adapter, err := ParseNegRiskAdapterAddress("0xd91E80cF2E7be2e162c6513ceD06f1dD0dA35296")
	require.NoError(t, err)

	exec, err := NewExecutor(backend, testKeyHex, Config{
		ChainID:        137,
		CTF:            ctf,
		NegRiskAdapter: adapter,
		Collateral:     common.HexToAddress("0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174"),
		GasLimit:       300_000,
		ReceiptTimeout: 200 * time.Millisecond,
		ReceiptPoll:    10 * time.Millisecond,
	}, locks, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	return exec
}

func TestNewExecutorRejectsBadKey(t *testing.T) {
	_, err := NewExecutor(&stubBackend{}, "zz-not-hex", Config{}, &stubLocks{}, slog.New(slog.DiscardHandler))
	assert.Error(t, err)
}

func TestMintSetTargetsCTF(t *testing.T) {
	backend := &stubBackend{status: types.ReceiptStatusSuccessful, gasUsed: 91_000, receiptDelay: 1}
	locks := &stubLocks{}
	exec := newTestExecutor(t, backend, locks)

	receipt, err := exec.MintSet(context.Background(), "0xabcd01", 25)
	require.NoError(t, err)
	assert.NotEmpty(t, receipt.TxHash)
	assert.Equal(t, uint64(91_000), receipt.GasUsed)

	require.Len(t, backend.sent, 1)
	tx := backend.sent[0]
	assert.Equal(t, exec.cfg.CTF.Address(), *tx.To())
	assert.Equal(t, uint64(7), tx.Nonce())
	assert.NotEmpty(t, tx.Data())

	// Wallet transactions serialize through the lock manager.
	require.Len(t, locks.keys, 1)
	assert.Equal(t, "wallet:"+exec.Wallet().Hex()+":tx", locks.keys[0])
}

func TestMintNegRiskSetTargetsAdapter(t *testing.T) {
	backend := &stubBackend{status: types.ReceiptStatusSuccessful}
	exec := newTestExecutor(t, backend, &stubLocks{})

	_, err := exec.MintNegRiskSet(context.Background(), "0x1234", 25)
	require.NoError(t, err)

	require.Len(t, backend.sent, 1)
	assert.Equal(t, exec.cfg.NegRiskAdapter.Address(), *backend.sent[0].To())
}

func TestMergeAndRedeemTargetCTF(t *testing.T) {
	backend := &stubBackend{status: types.ReceiptStatusSuccessful}
	exec := newTestExecutor(t, backend, &stubLocks{})

	_, err := exec.MergeSet(context.Background(), "0x1234", 10)
	require.NoError(t, err)
	_, err = exec.RedeemSet(context.Background(), "0x1234")
	require.NoError(t, err)

	require.Len(t, backend.sent, 2)
	for _, tx := range backend.sent {
		assert.Equal(t, exec.cfg.CTF.Address(), *tx.To())
	}
}

func TestMintSetRevertedReceipt(t *testing.T) {
	backend := &stubBackend{status: types.ReceiptStatusFailed}
	exec := newTestExecutor(t, backend, &stubLocks{})

	_, err := exec.MintSet(context.Background(), "0x1234", 25)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrOnchainFailure)
}

func TestMintSetSendFailure(t *testing.T) {
	backend := &stubBackend{sendErr: errors.New("nonce too low")}
	exec := newTestExecutor(t, backend, &stubLocks{})

	_, err := exec.MintSet(context.Background(), "0x1234", 25)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrOnchainFailure)
}

func TestMintSetReceiptTimeout(t *testing.T) {
	backend := &stubBackend{noReceipt: true}
	exec := newTestExecutor(t, backend, &stubLocks{})

	_, err := exec.MintSet(context.Background(), "0x1234", 25)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrOnchainFailure)
}
