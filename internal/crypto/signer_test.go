package crypto

import (
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polyclaw/engine/internal/chain"
)

// Throwaway key; never funded. Its address is fixed by the curve, so tests
// can assert address derivation deterministically.
const (
	testKeyHex  = "59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d"
	testKeyAddr = "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"
)

func testExchange(t *testing.T) chain.ExchangeAddress {
	t.Helper()
	exchange, err := chain.ParseExchangeAddress("0x4bFb41d5B3570DeFd03C39a9A4D8dE6Bd8B8982E")
	require.NoError(t, err)
	return exchange
}

func TestNewSignerDerivesAddress(t *testing.T) {
	s, err := NewSigner(testKeyHex, 137, testExchange(t))
	require.NoError(t, err)
	assert.True(t, strings.EqualFold(testKeyAddr, s.Address().Hex()))

	// 0x prefix is accepted too.
	prefixed, err := NewSigner("0x"+testKeyHex, 137, testExchange(t))
	require.NoError(t, err)
	assert.Equal(t, s.Address(), prefixed.Address())
}

func TestNewSignerRejectsBadKey(t *testing.T) {
	_, err := NewSigner("not-hex", 137, testExchange(t))
	assert.Error(t, err)
}

func TestSignAuthMessageDeterministic(t *testing.T) {
	s, err := NewSigner(testKeyHex, 137, testExchange(t))
	require.NoError(t, err)

	sig1, err := s.SignAuthMessage(1700000000, 0)
	require.NoError(t, err)
	sig2, err := s.SignAuthMessage(1700000000, 0)
	require.NoError(t, err)
	assert.Equal(t, sig1, sig2)

	// r || s || v, hex-encoded with 0x prefix.
	require.True(t, strings.HasPrefix(sig1, "0x"))
	raw, err := hex.DecodeString(strings.TrimPrefix(sig1, "0x"))
	require.NoError(t, err)
	require.Len(t, raw, 65)
	assert.Contains(t, []byte{27, 28}, raw[64])

	// A different timestamp signs a different digest.
	sig3, err := s.SignAuthMessage(1700000001, 0)
	require.NoError(t, err)
	assert.NotEqual(t, sig1, sig3)
}

func validOrder() OrderPayload {
	return OrderPayload{
		Salt:          "123456789",
		Maker:         testKeyAddr,
		Signer:        testKeyAddr,
		Taker:         "0x0000000000000000000000000000000000000000",
		TokenID:       "71321045679252212594626385532706912750332728571942532289631379312455583992563",
		MakerAmount:   "45000000",
		TakerAmount:   "100000000",
		Expiration:    "0",
		Nonce:         "0",
		FeeRateBps:    "0",
		Side:          1,
		SignatureType: 0,
	}
}

func TestSignOrder(t *testing.T) {
	s, err := NewSigner(testKeyHex, 137, testExchange(t))
	require.NoError(t, err)

	sig, err := s.SignOrder(validOrder())
	require.NoError(t, err)
	raw, err := hex.DecodeString(strings.TrimPrefix(sig, "0x"))
	require.NoError(t, err)
	assert.Len(t, raw, 65)

	// The signature commits to the order fields.
	flipped := validOrder()
	flipped.Side = 0
	sig2, err := s.SignOrder(flipped)
	require.NoError(t, err)
	assert.NotEqual(t, sig, sig2)
}

func TestSignOrderRejectsNonNumericField(t *testing.T) {
	s, err := NewSigner(testKeyHex, 137, testExchange(t))
	require.NoError(t, err)

	bad := validOrder()
	bad.MakerAmount = "forty-five"
	_, err = s.SignOrder(bad)
	assert.Error(t, err)
}

func TestOrderDomainBoundToExchange(t *testing.T) {
	// Two signers differing only in the verifying contract must produce
	// different order signatures: the order domain is the exchange's.
	s1, err := NewSigner(testKeyHex, 137, testExchange(t))
	require.NoError(t, err)

	other, err := chain.ParseExchangeAddress("0x0000000000000000000000000000000000000001")
	require.NoError(t, err)
	s2, err := NewSigner(testKeyHex, 137, other)
	require.NoError(t, err)

	sig1, err := s1.SignOrder(validOrder())
	require.NoError(t, err)
	sig2, err := s2.SignOrder(validOrder())
	require.NoError(t, err)
	assert.NotEqual(t, sig1, sig2)

	// Auth signatures ignore the exchange: same domain, same digest.
	a1, err := s1.SignAuthMessage(1700000000, 0)
	require.NoError(t, err)
	a2, err := s2.SignAuthMessage(1700000000, 0)
	require.NoError(t, err)
	assert.Equal(t, a1, a2)
}
