// Package state persists the credit pool's ledgers, loans, ban registry and
// aggregate totals in a key-value store. All mutations arrive as a single
// changeset and are flushed through the database's atomic batch primitive.
package state

import (
	"encoding/json"
	"errors"
	"fmt"

	"creditpool/core/types"
	"creditpool/crypto"
	"creditpool/native/creditpool"
	"creditpool/storage"
)

const (
	prefixAccount = "acct/"
	prefixLedger  = "ledger/"
	prefixLoan    = "loan/"
	prefixBan     = "ban/"
	keyPoolTotals = "pool/totals"
)

// PoolState implements the engine's persistence surface on top of a
// storage.Database.
type PoolState struct {
	db storage.Database
}

// NewPoolState wraps the given database.
func NewPoolState(db storage.Database) *PoolState {
	return &PoolState{db: db}
}

func accountKey(addr crypto.Address) []byte {
	return append([]byte(prefixAccount), addr.Bytes()...)
}

func ledgerKey(addr crypto.Address) []byte {
	return append([]byte(prefixLedger), addr.Bytes()...)
}

func loanKey(addr crypto.Address) []byte {
	return append([]byte(prefixLoan), addr.Bytes()...)
}

func banKey(addr crypto.Address) []byte {
	return append([]byte(prefixBan), addr.Bytes()...)
}

// get unmarshals the value at key into out, reporting found=false when the
// key is absent. Storage failures other than absence propagate: a read error
// must never be mistaken for a missing record, or a transient fault would
// reset the aggregate it backs.
func (s *PoolState) get(key []byte, out interface{}) (bool, error) {
	raw, err := s.db.Get(key)
	if errors.Is(err, storage.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("state: read %q: %w", string(key), err)
	}
	if len(raw) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("state: decode %q: %w", string(key), err)
	}
	return true, nil
}

// GetAccount loads the balances for an address, or nil when absent.
func (s *PoolState) GetAccount(addr crypto.Address) (*types.Account, error) {
	acc := new(types.Account)
	found, err := s.get(accountKey(addr), acc)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return acc, nil
}

// GetLenderLedger loads a lender's deposit ledger, or nil when absent.
func (s *PoolState) GetLenderLedger(addr crypto.Address) (*creditpool.LenderLedger, error) {
	ledger := new(creditpool.LenderLedger)
	found, err := s.get(ledgerKey(addr), ledger)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	ledger.Address = addr
	return ledger, nil
}

// GetLoan loads a borrower's loan record, or nil when absent.
func (s *PoolState) GetLoan(addr crypto.Address) (*creditpool.Loan, error) {
	loan := new(creditpool.Loan)
	found, err := s.get(loanKey(addr), loan)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	loan.Borrower = addr
	return loan, nil
}

// IsBanned reports ban registry membership.
func (s *PoolState) IsBanned(addr crypto.Address) (bool, error) {
	var banned bool
	found, err := s.get(banKey(addr), &banned)
	if err != nil {
		return false, err
	}
	return found && banned, nil
}

// PoolTotals loads the aggregate lender claims, or nil when uninitialised.
func (s *PoolState) PoolTotals() (*creditpool.PoolTotals, error) {
	totals := new(creditpool.PoolTotals)
	found, err := s.get([]byte(keyPoolTotals), totals)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return totals, nil
}

// Apply lands the changeset through one atomic batch write.
func (s *PoolState) Apply(cs *creditpool.Changeset) error {
	if cs == nil || cs.Empty() {
		return nil
	}
	batch := new(storage.Batch)
	for rawAddr, acc := range cs.Accounts {
		encoded, err := json.Marshal(acc)
		if err != nil {
			return fmt.Errorf("state: encode account: %w", err)
		}
		batch.Put(append([]byte(prefixAccount), rawAddr...), encoded)
	}
	for rawAddr, ledger := range cs.Ledgers {
		encoded, err := json.Marshal(ledger)
		if err != nil {
			return fmt.Errorf("state: encode ledger: %w", err)
		}
		batch.Put(append([]byte(prefixLedger), rawAddr...), encoded)
	}
	for rawAddr, loan := range cs.Loans {
		encoded, err := json.Marshal(loan)
		if err != nil {
			return fmt.Errorf("state: encode loan: %w", err)
		}
		batch.Put(append([]byte(prefixLoan), rawAddr...), encoded)
	}
	for rawAddr, banned := range cs.Bans {
		if !banned {
			batch.Delete(append([]byte(prefixBan), rawAddr...))
			continue
		}
		encoded, err := json.Marshal(banned)
		if err != nil {
			return fmt.Errorf("state: encode ban flag: %w", err)
		}
		batch.Put(append([]byte(prefixBan), rawAddr...), encoded)
	}
	if cs.Totals != nil {
		encoded, err := json.Marshal(cs.Totals)
		if err != nil {
			return fmt.Errorf("state: encode pool totals: %w", err)
		}
		batch.Put([]byte(keyPoolTotals), encoded)
	}
	return s.db.Write(batch)
}
