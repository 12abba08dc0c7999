package creditpool

import (
	"creditpool/core/types"
	"creditpool/crypto"
)

// engineState is the persistence surface the engine runs against. Reads
// return nil (not an error) when no record exists. Apply must land the whole
// changeset atomically or not at all; the engine never issues partial writes.
type engineState interface {
	GetAccount(addr crypto.Address) (*types.Account, error)
	GetLenderLedger(addr crypto.Address) (*LenderLedger, error)
	GetLoan(addr crypto.Address) (*Loan, error)
	IsBanned(addr crypto.Address) (bool, error)
	PoolTotals() (*PoolTotals, error)
	Apply(cs *Changeset) error
}

// Changeset stages the mutations of a single pool action. The engine builds
// it against loaded copies and hands it to the state in one Apply call after
// the outbound transfer (if any) has succeeded.
type Changeset struct {
	Accounts map[string]*types.Account
	Ledgers  map[string]*LenderLedger
	Loans    map[string]*Loan
	Bans     map[string]bool
	Totals   *PoolTotals
}

// NewChangeset returns an empty staged mutation set.
func NewChangeset() *Changeset {
	return &Changeset{
		Accounts: make(map[string]*types.Account),
		Ledgers:  make(map[string]*LenderLedger),
		Loans:    make(map[string]*Loan),
		Bans:     make(map[string]bool),
	}
}

// Empty reports whether the changeset stages no mutations.
func (cs *Changeset) Empty() bool {
	if cs == nil {
		return true
	}
	return len(cs.Accounts) == 0 && len(cs.Ledgers) == 0 && len(cs.Loans) == 0 &&
		len(cs.Bans) == 0 && cs.Totals == nil
}

func (cs *Changeset) putAccount(addr crypto.Address, acc *types.Account) {
	cs.Accounts[string(addr.Bytes())] = acc
}

func (cs *Changeset) putLedger(addr crypto.Address, ledger *LenderLedger) {
	cs.Ledgers[string(addr.Bytes())] = ledger
}

func (cs *Changeset) putLoan(addr crypto.Address, loan *Loan) {
	cs.Loans[string(addr.Bytes())] = loan
}

func (cs *Changeset) setBanned(addr crypto.Address, banned bool) {
	cs.Bans[string(addr.Bytes())] = banned
}
