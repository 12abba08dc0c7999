package creditpool

import (
	"math/big"

	"creditpool/crypto"
)

// LoanState tracks the lifecycle position of a borrower's loan.
type LoanState uint8

const (
	// LoanStateNone means the borrower has never held a loan or the record
	// was reset.
	LoanStateNone LoanState = iota
	// LoanStateActive marks a disbursed loan with outstanding principal.
	LoanStateActive
	// LoanStateRepaid is terminal; the borrower settled in full.
	LoanStateRepaid
	// LoanStateDefaulted is terminal; the loan went overdue unpaid.
	LoanStateDefaulted
)

// String returns the canonical label for the loan state.
func (s LoanState) String() string {
	switch s {
	case LoanStateNone:
		return "None"
	case LoanStateActive:
		return "Active"
	case LoanStateRepaid:
		return "Repaid"
	case LoanStateDefaulted:
		return "Defaulted"
	default:
		return "Unknown"
	}
}

// Terminal reports whether a borrower may be issued a fresh loan from this
// state.
func (s LoanState) Terminal() bool {
	return s == LoanStateNone || s == LoanStateRepaid || s == LoanStateDefaulted
}

// DepositEntry records a single lender deposit. Entries are never removed;
// fully consumed entries are zeroed in place and skipped via the ledger
// cursor.
type DepositEntry struct {
	// Amount is the remaining unconsumed value of the entry in base units.
	Amount *big.Int `json:"amount"`
	// Timestamp is the unix time the deposit was received; the entry unlocks
	// at Timestamp + lock duration.
	Timestamp int64 `json:"timestamp"`
}

// LenderLedger is the ordered per-lender deposit record consumed FIFO on
// withdrawal.
type LenderLedger struct {
	Address crypto.Address `json:"-"`
	// Entries holds deposits in arrival order.
	Entries []DepositEntry `json:"entries"`
	// NextWithdrawalIndex is the cursor marking the first entry that has not
	// been fully consumed.
	NextWithdrawalIndex int `json:"nextWithdrawalIndex"`
	// TotalDeposited and TotalWithdrawn are monotone running totals.
	TotalDeposited *big.Int `json:"totalDeposited"`
	TotalWithdrawn *big.Int `json:"totalWithdrawn"`
}

// Clone returns a deep copy of the ledger.
func (l *LenderLedger) Clone() *LenderLedger {
	if l == nil {
		return nil
	}
	clone := &LenderLedger{
		Address:             l.Address,
		NextWithdrawalIndex: l.NextWithdrawalIndex,
	}
	if len(l.Entries) > 0 {
		clone.Entries = make([]DepositEntry, len(l.Entries))
		for i, entry := range l.Entries {
			clone.Entries[i] = DepositEntry{Timestamp: entry.Timestamp}
			if entry.Amount != nil {
				clone.Entries[i].Amount = new(big.Int).Set(entry.Amount)
			}
		}
	}
	if l.TotalDeposited != nil {
		clone.TotalDeposited = new(big.Int).Set(l.TotalDeposited)
	}
	if l.TotalWithdrawn != nil {
		clone.TotalWithdrawn = new(big.Int).Set(l.TotalWithdrawn)
	}
	return clone
}

// Balance returns the lender's net claim on the pool.
func (l *LenderLedger) Balance() *big.Int {
	if l == nil || l.TotalDeposited == nil {
		return big.NewInt(0)
	}
	balance := new(big.Int).Set(l.TotalDeposited)
	if l.TotalWithdrawn != nil {
		balance.Sub(balance, l.TotalWithdrawn)
	}
	return balance
}

// Loan captures a borrower's principal-only loan. One loan per borrower at a
// time; terminal records stay in place until replaced by the next issuance.
type Loan struct {
	Borrower    crypto.Address `json:"-"`
	Principal   *big.Int       `json:"principal"`
	Outstanding *big.Int       `json:"outstanding"`
	StartTime   int64          `json:"startTime"`
	DueTime     int64          `json:"dueTime"`
	State       LoanState      `json:"state"`
}

// Clone returns a deep copy of the loan record.
func (l *Loan) Clone() *Loan {
	if l == nil {
		return nil
	}
	clone := &Loan{
		Borrower:  l.Borrower,
		StartTime: l.StartTime,
		DueTime:   l.DueTime,
		State:     l.State,
	}
	if l.Principal != nil {
		clone.Principal = new(big.Int).Set(l.Principal)
	}
	if l.Outstanding != nil {
		clone.Outstanding = new(big.Int).Set(l.Outstanding)
	}
	return clone
}

// PoolTotals aggregates the pool-wide lender claims. The pool's held balance
// lives on the module account and is deliberately tracked apart from lender
// claims, since lent-but-unrepaid principal reduces only the former.
type PoolTotals struct {
	// TotalDeposits is the sum of every lender's net balance.
	TotalDeposits *big.Int `json:"totalDeposits"`
}

// Clone returns a deep copy of the pool totals.
func (p *PoolTotals) Clone() *PoolTotals {
	if p == nil {
		return nil
	}
	clone := &PoolTotals{}
	if p.TotalDeposits != nil {
		clone.TotalDeposits = new(big.Int).Set(p.TotalDeposits)
	}
	return clone
}

// LenderStatus is the read-model reported for a lender account.
type LenderStatus struct {
	TotalDeposited *big.Int `json:"totalDeposited"`
	TotalWithdrawn *big.Int `json:"totalWithdrawn"`
	Balance        *big.Int `json:"balance"`
	Unlockable     *big.Int `json:"unlockable"`
}

// LoanStatus is the read-model reported for a borrower account.
type LoanStatus struct {
	State       LoanState `json:"state"`
	Principal   *big.Int  `json:"principal"`
	Outstanding *big.Int  `json:"outstanding"`
	StartTime   int64     `json:"startTime"`
	DueTime     int64     `json:"dueTime"`
	Banned      bool      `json:"banned"`
}

// DefaultOutcome reports what a default check concluded. Applied is true only
// when the call transitioned the loan to Defaulted and banned the borrower.
type DefaultOutcome struct {
	Applied bool   `json:"applied"`
	Reason  Reason `json:"reason"`
}
