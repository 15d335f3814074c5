// Package chain performs the on-chain position transitions (mint, merge,
// split, redeem) backing an arbitrage plan. The trading venue's exchange
// contract and the conditional-token contracts are modeled as distinct tagged
// address types so one can never be passed where the other is required.
package chain

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// ExchangeAddress is the trading venue's matching/settlement contract. It is
// never a valid target for mint, merge, or split calls.
type ExchangeAddress struct {
	addr common.Address
}

// ParseExchangeAddress validates and tags a hex exchange contract address.
func ParseExchangeAddress(hex string) (ExchangeAddress, error) {
	if !common.IsHexAddress(hex) {
		return ExchangeAddress{}, fmt.Errorf("chain: invalid exchange address %q", hex)
	}
	return ExchangeAddress{addr: common.HexToAddress(hex)}, nil
}

// Address returns the underlying address.
func (a ExchangeAddress) Address() common.Address { return a.addr }

func (a ExchangeAddress) String() string { return a.addr.Hex() }

// CTFAddress is the conditional tokens framework contract, the only valid
// target for binary-market mint (splitPosition), merge (mergePositions), and
// redeem calls.
type CTFAddress struct {
	addr common.Address
}

// ParseCTFAddress validates and tags a hex CTF contract address.
func ParseCTFAddress(hex string) (CTFAddress, error) {
	if !common.IsHexAddress(hex) {
		return CTFAddress{}, fmt.Errorf("chain: invalid ctf address %q", hex)
	}
	return CTFAddress{addr: common.HexToAddress(hex)}, nil
}

// Address returns the underlying address.
func (a CTFAddress) Address() common.Address { return a.addr }

func (a CTFAddress) String() string { return a.addr.Hex() }

// NegRiskAdapterAddress is the adapter contract mediating NegRisk event
// groups; the only valid target for outcome-set splits on such events.
type NegRiskAdapterAddress struct {
	addr common.Address
}

// ParseNegRiskAdapterAddress validates and tags a hex adapter address.
func ParseNegRiskAdapterAddress(hex string) (NegRiskAdapterAddress, error) {
	if !common.IsHexAddress(hex) {
		return NegRiskAdapterAddress{}, fmt.Errorf("chain: invalid negrisk adapter address %q", hex)
	}
	return NegRiskAdapterAddress{addr: common.HexToAddress(hex)}, nil
}

// Address returns the underlying address.
func (a NegRiskAdapterAddress) Address() common.Address { return a.addr }

func (a NegRiskAdapterAddress) String() string { return a.addr.Hex() }
