package types

import "math/big"

// Account tracks the balances held by a single address. BalanceToken is the
// pool's native accounted currency; BalanceBridge is the separately tracked
// asset moved by the cross-ledger preparation flow.
type Account struct {
	Nonce         uint64   `json:"nonce"`
	BalanceToken  *big.Int `json:"balanceToken"`
	BalanceBridge *big.Int `json:"balanceBridge"`
}
