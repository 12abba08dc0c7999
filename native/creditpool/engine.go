package creditpool

import (
	"errors"
	"math/big"
	"time"

	"creditpool/core/events"
	"creditpool/core/types"
	"creditpool/crypto"
	nativecommon "creditpool/native/common"
)

var (
	errNilState      = errors.New("creditpool engine: state not configured")
	errReentrantCall = errors.New("creditpool engine: reentrant call")
)

const moduleName = "creditpool"

// maxAmountBits bounds every ledger entry amount to the 128-bit range the
// deposit records are encoded with.
const maxAmountBits = 128

// defaultLockDuration holds deposits for seven days unless configured
// otherwise.
const defaultLockDuration int64 = 7 * 24 * 60 * 60

// TransferHook is the outbound value transfer primitive. It is invoked after
// an action has staged its mutations and before they are committed; a non-nil
// error aborts the action with no observable state change.
type TransferHook func(recipient crypto.Address, amount *big.Int) error

type poolEvent struct {
	evt *types.Event
}

func (p poolEvent) EventType() string {
	if p.evt == nil {
		return ""
	}
	return p.evt.Type
}

func (p poolEvent) Event() *types.Event { return p.evt }

// Engine is the accounting service holding exclusive mutation rights over the
// deposit ledgers, loan records, ban registry and pool totals. Every mutating
// action executes as one indivisible unit.
type Engine struct {
	state         engineState
	emitter       events.Emitter
	moduleAddress crypto.Address
	adminAddress  crypto.Address
	oracle        ScoreOracle
	transfer      TransferHook
	pauses        nativecommon.PauseView
	lockDuration  int64
	minScore      uint64
	nowFn         func() int64
	entered       bool
}

// NewEngine constructs a pool engine bound to the module treasury address and
// the designated administrator account.
func NewEngine(moduleAddr, adminAddr crypto.Address) *Engine {
	return &Engine{
		emitter:       events.NoopEmitter{},
		moduleAddress: moduleAddr,
		adminAddress:  adminAddr,
		lockDuration:  defaultLockDuration,
		nowFn:         func() int64 { return time.Now().Unix() },
	}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetEmitter configures the audit event emitter. Passing nil resets the
// emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetOracle installs the credential/score oracle. A nil oracle disables
// credential gating.
func (e *Engine) SetOracle(oracle ScoreOracle) {
	if e == nil {
		return
	}
	e.oracle = oracle
}

// SetTransferHook installs the outbound value transfer primitive used for
// withdrawal payouts and loan disbursements.
func (e *Engine) SetTransferHook(hook TransferHook) {
	if e == nil {
		return
	}
	e.transfer = hook
}

// SetPauses wires the pause switches consulted before every mutation.
func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// SetLockDuration configures the deposit lock window in seconds. Values at or
// below zero reset the default.
func (e *Engine) SetLockDuration(seconds int64) {
	if e == nil {
		return
	}
	if seconds <= 0 {
		e.lockDuration = defaultLockDuration
		return
	}
	e.lockDuration = seconds
}

// SetMinScore configures the minimum oracle score accepted for new loans.
func (e *Engine) SetMinScore(score uint64) {
	if e == nil {
		return
	}
	e.minScore = score
}

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) emit(evt *types.Event) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(poolEvent{evt: evt})
}

// begin latches the engine against re-entry for the duration of a mutating
// action. Outbound transfers can trigger arbitrary external code, so the
// latch stays set across the hook invocation.
func (e *Engine) begin() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.entered {
		return errReentrantCall
	}
	e.entered = true
	return nil
}

func (e *Engine) end() { e.entered = false }

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

func (e *Engine) loadAccount(addr crypto.Address) (*types.Account, error) {
	acc, err := e.state.GetAccount(addr)
	if err != nil {
		return nil, err
	}
	if acc == nil {
		acc = &types.Account{}
	}
	if acc.BalanceToken == nil {
		acc.BalanceToken = big.NewInt(0)
	}
	if acc.BalanceBridge == nil {
		acc.BalanceBridge = big.NewInt(0)
	}
	return acc, nil
}

func (e *Engine) loadLedger(addr crypto.Address) (*LenderLedger, error) {
	ledger, err := e.state.GetLenderLedger(addr)
	if err != nil {
		return nil, err
	}
	if ledger == nil {
		ledger = &LenderLedger{Address: addr}
	}
	if ledger.TotalDeposited == nil {
		ledger.TotalDeposited = big.NewInt(0)
	}
	if ledger.TotalWithdrawn == nil {
		ledger.TotalWithdrawn = big.NewInt(0)
	}
	return ledger, nil
}

func (e *Engine) loadTotals() (*PoolTotals, error) {
	totals, err := e.state.PoolTotals()
	if err != nil {
		return nil, err
	}
	if totals == nil {
		totals = &PoolTotals{}
	}
	if totals.TotalDeposits == nil {
		totals.TotalDeposits = big.NewInt(0)
	}
	return totals, nil
}

// unlockableAmount sums the consumable value from the cursor forward,
// stopping at the first still-locked entry. Zeroed entries are skipped.
func (e *Engine) unlockableAmount(ledger *LenderLedger, now int64) *big.Int {
	total := big.NewInt(0)
	if ledger == nil {
		return total
	}
	for i := ledger.NextWithdrawalIndex; i < len(ledger.Entries); i++ {
		entry := ledger.Entries[i]
		if entry.Amount == nil || entry.Amount.Sign() == 0 {
			continue
		}
		if now < entry.Timestamp+e.lockDuration {
			break
		}
		total.Add(total, entry.Amount)
	}
	return total
}

// --- Deposit ledger ---

// Deposit records a lender deposit. The caller-supplied payment must equal
// the declared amount exactly; value is received atomically with the call.
func (e *Engine) Deposit(lender crypto.Address, amount, payment *big.Int) error {
	if err := e.begin(); err != nil {
		return err
	}
	defer e.end()
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}

	moduleAcc, err := e.loadAccount(e.moduleAddress)
	if err != nil {
		return err
	}
	ledger, err := e.loadLedger(lender)
	if err != nil {
		return err
	}
	now := e.now()
	snap := poolSnapshot{PoolBalance: cloneBigInt(moduleAcc.BalanceToken), Unlockable: e.unlockableAmount(ledger, now)}

	if amount == nil || amount.Sign() <= 0 {
		return e.rejectDeposit(lender, ReasonAmountZero, amount, snap)
	}
	if payment == nil || payment.Cmp(amount) != 0 {
		return e.rejectDeposit(lender, ReasonPaymentMismatch, amount, snap)
	}
	if amount.BitLen() > maxAmountBits {
		return e.rejectDeposit(lender, ReasonAmountTooLarge, amount, snap)
	}

	lenderAcc, err := e.loadAccount(lender)
	if err != nil {
		return err
	}
	if lenderAcc.BalanceToken.Cmp(amount) < 0 {
		return e.rejectDeposit(lender, ReasonInsufficientBalance, amount, snap)
	}

	cs := NewChangeset()
	lenderAcc.BalanceToken = new(big.Int).Sub(lenderAcc.BalanceToken, amount)
	moduleAcc.BalanceToken = new(big.Int).Add(moduleAcc.BalanceToken, amount)
	cs.putAccount(lender, lenderAcc)
	cs.putAccount(e.moduleAddress, moduleAcc)

	ledger.Entries = append(ledger.Entries, DepositEntry{Amount: new(big.Int).Set(amount), Timestamp: now})
	ledger.TotalDeposited = new(big.Int).Add(ledger.TotalDeposited, amount)
	cs.putLedger(lender, ledger)

	totals, err := e.loadTotals()
	if err != nil {
		return err
	}
	totals.TotalDeposits = new(big.Int).Add(totals.TotalDeposits, amount)
	cs.Totals = totals

	if err := e.state.Apply(cs); err != nil {
		return err
	}

	e.emit(NewDepositEvent(lender, true, ReasonNone, amount, poolSnapshot{
		PoolBalance: cloneBigInt(moduleAcc.BalanceToken),
		Unlockable:  e.unlockableAmount(ledger, now),
	}))
	return nil
}

func (e *Engine) rejectDeposit(lender crypto.Address, reason Reason, amount *big.Int, snap poolSnapshot) error {
	e.emit(NewDepositEvent(lender, false, reason, amount, snap))
	return reject("deposit", reason)
}

// Withdraw consumes unlocked deposit entries FIFO and pays the amount out.
// Hitting a locked entry before the request is satisfied fails the whole
// action; no partial withdrawal is ever executed.
func (e *Engine) Withdraw(lender crypto.Address, amount *big.Int) error {
	if err := e.begin(); err != nil {
		return err
	}
	defer e.end()
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}

	moduleAcc, err := e.loadAccount(e.moduleAddress)
	if err != nil {
		return err
	}
	ledger, err := e.loadLedger(lender)
	if err != nil {
		return err
	}
	now := e.now()
	snap := poolSnapshot{PoolBalance: cloneBigInt(moduleAcc.BalanceToken), Unlockable: e.unlockableAmount(ledger, now)}

	if amount == nil || amount.Sign() <= 0 {
		return e.rejectWithdraw(lender, ReasonAmountZero, amount, snap)
	}

	// Prove the full amount satisfiable before touching anything.
	remaining := new(big.Int).Set(amount)
	cursor := ledger.NextWithdrawalIndex
	for cursor < len(ledger.Entries) && remaining.Sign() > 0 {
		entry := ledger.Entries[cursor]
		if entry.Amount == nil || entry.Amount.Sign() == 0 {
			cursor++
			continue
		}
		if now < entry.Timestamp+e.lockDuration {
			return e.rejectWithdraw(lender, ReasonWithdrawLocked, amount, snap)
		}
		if entry.Amount.Cmp(remaining) >= 0 {
			remaining.SetInt64(0)
			break
		}
		remaining.Sub(remaining, entry.Amount)
		cursor++
	}
	if remaining.Sign() > 0 {
		return e.rejectWithdraw(lender, ReasonInsufficientBalance, amount, snap)
	}
	if moduleAcc.BalanceToken.Cmp(amount) < 0 {
		return e.rejectWithdraw(lender, ReasonInsufficientLiquidity, amount, snap)
	}

	lenderAcc, err := e.loadAccount(lender)
	if err != nil {
		return err
	}
	totals, err := e.loadTotals()
	if err != nil {
		return err
	}

	// Consume: zero fully drained entries and advance the cursor, leaving at
	// most one partially decremented entry at the new cursor position.
	remaining.Set(amount)
	for idx := ledger.NextWithdrawalIndex; idx < len(ledger.Entries) && remaining.Sign() > 0; idx++ {
		entry := &ledger.Entries[idx]
		if entry.Amount == nil || entry.Amount.Sign() == 0 {
			ledger.NextWithdrawalIndex = idx + 1
			continue
		}
		if entry.Amount.Cmp(remaining) > 0 {
			entry.Amount = new(big.Int).Sub(entry.Amount, remaining)
			remaining.SetInt64(0)
			ledger.NextWithdrawalIndex = idx
			break
		}
		remaining.Sub(remaining, entry.Amount)
		entry.Amount = big.NewInt(0)
		ledger.NextWithdrawalIndex = idx + 1
	}
	ledger.TotalWithdrawn = new(big.Int).Add(ledger.TotalWithdrawn, amount)
	totals.TotalDeposits = new(big.Int).Sub(totals.TotalDeposits, amount)
	moduleAcc.BalanceToken = new(big.Int).Sub(moduleAcc.BalanceToken, amount)
	lenderAcc.BalanceToken = new(big.Int).Add(lenderAcc.BalanceToken, amount)

	cs := NewChangeset()
	cs.putLedger(lender, ledger)
	cs.putAccount(e.moduleAddress, moduleAcc)
	cs.putAccount(lender, lenderAcc)
	cs.Totals = totals

	if e.transfer != nil {
		if hookErr := e.transfer(lender, amount); hookErr != nil {
			e.emit(NewWithdrawEvent(lender, false, ReasonTransferFailed, amount, snap))
			return rejectWithCause("withdraw", ReasonTransferFailed, hookErr)
		}
	}
	if err := e.state.Apply(cs); err != nil {
		return err
	}

	e.emit(NewWithdrawEvent(lender, true, ReasonNone, amount, poolSnapshot{
		PoolBalance: cloneBigInt(moduleAcc.BalanceToken),
		Unlockable:  e.unlockableAmount(ledger, now),
	}))
	return nil
}

func (e *Engine) rejectWithdraw(lender crypto.Address, reason Reason, amount *big.Int, snap poolSnapshot) error {
	e.emit(NewWithdrawEvent(lender, false, reason, amount, snap))
	return reject("withdraw", reason)
}

// PreviewWithdraw returns the amount currently unlockable for the lender.
func (e *Engine) PreviewWithdraw(lender crypto.Address) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	ledger, err := e.loadLedger(lender)
	if err != nil {
		return nil, err
	}
	return e.unlockableAmount(ledger, e.now()), nil
}

// LenderBalance returns the lender's net claim (deposits minus withdrawals).
func (e *Engine) LenderBalance(lender crypto.Address) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	ledger, err := e.loadLedger(lender)
	if err != nil {
		return nil, err
	}
	return ledger.Balance(), nil
}

// LenderStatus aggregates the lender read-model in one call.
func (e *Engine) LenderStatus(lender crypto.Address) (*LenderStatus, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	ledger, err := e.loadLedger(lender)
	if err != nil {
		return nil, err
	}
	return &LenderStatus{
		TotalDeposited: cloneBigInt(ledger.TotalDeposited),
		TotalWithdrawn: cloneBigInt(ledger.TotalWithdrawn),
		Balance:        ledger.Balance(),
		Unlockable:     e.unlockableAmount(ledger, e.now()),
	}, nil
}

// AvailableLiquidity reports the pool's current held balance of the native
// currency. It differs from total deposits whenever principal is lent out.
func (e *Engine) AvailableLiquidity() (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	moduleAcc, err := e.loadAccount(e.moduleAddress)
	if err != nil {
		return nil, err
	}
	return cloneBigInt(moduleAcc.BalanceToken), nil
}

// --- Loan state machine ---

// CanOpenLoan is the dry-run view over the eligibility evaluator.
func (e *Engine) CanOpenLoan(borrower crypto.Address, principal *big.Int, term int64) (bool, Reason, error) {
	return e.EvaluateLoanRequest(borrower, principal, term)
}

// OpenLoan issues a loan to the borrower. Administrator only. If the
// principal transfer fails the loan record never becomes observable.
func (e *Engine) OpenLoan(caller, borrower crypto.Address, principal *big.Int, term int64) error {
	if err := e.begin(); err != nil {
		return err
	}
	defer e.end()
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}

	priorSnap, err := e.loanSnapshot(borrower)
	if err != nil {
		return err
	}
	if !caller.Equal(e.adminAddress) {
		return e.rejectLoanOpen(borrower, ReasonNotAdministrator, priorSnap)
	}

	ok, reason, err := e.EvaluateLoanRequest(borrower, principal, term)
	if err != nil {
		return err
	}
	if !ok {
		return e.rejectLoanOpen(borrower, reason, priorSnap)
	}

	moduleAcc, err := e.loadAccount(e.moduleAddress)
	if err != nil {
		return err
	}
	borrowerAcc, err := e.loadAccount(borrower)
	if err != nil {
		return err
	}

	now := e.now()
	loan := &Loan{
		Borrower:    borrower,
		Principal:   new(big.Int).Set(principal),
		Outstanding: new(big.Int).Set(principal),
		StartTime:   now,
		DueTime:     now + term,
		State:       LoanStateActive,
	}
	moduleAcc.BalanceToken = new(big.Int).Sub(moduleAcc.BalanceToken, principal)
	borrowerAcc.BalanceToken = new(big.Int).Add(borrowerAcc.BalanceToken, principal)

	cs := NewChangeset()
	cs.putLoan(borrower, loan)
	cs.putAccount(e.moduleAddress, moduleAcc)
	cs.putAccount(borrower, borrowerAcc)

	if e.transfer != nil {
		if hookErr := e.transfer(borrower, principal); hookErr != nil {
			// Nothing was committed: the loan rolls back to its prior state
			// atomically with the failure.
			e.emit(NewLoanOpenedEvent(borrower, false, ReasonTransferFailed, priorSnap))
			return rejectWithCause("openLoan", ReasonTransferFailed, hookErr)
		}
	}
	if err := e.state.Apply(cs); err != nil {
		return err
	}

	e.emit(NewLoanOpenedEvent(borrower, true, ReasonNone, loanSnapshot{
		State:       loan.State,
		Principal:   cloneBigInt(loan.Principal),
		Outstanding: cloneBigInt(loan.Outstanding),
		DueTime:     loan.DueTime,
		Banned:      false,
	}))
	return nil
}

func (e *Engine) rejectLoanOpen(borrower crypto.Address, reason Reason, snap loanSnapshot) error {
	e.emit(NewLoanOpenedEvent(borrower, false, reason, snap))
	return reject("openLoan", reason)
}

// Repay settles the borrower's loan. Repayment is strictly all-or-nothing:
// the amount must equal the outstanding principal exactly, and the supplied
// payment must equal the amount.
func (e *Engine) Repay(borrower crypto.Address, amount, payment *big.Int) error {
	if err := e.begin(); err != nil {
		return err
	}
	defer e.end()
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}

	snap, err := e.loanSnapshot(borrower)
	if err != nil {
		return err
	}
	loan, err := e.state.GetLoan(borrower)
	if err != nil {
		return err
	}
	if loan == nil || loan.State != LoanStateActive {
		return e.rejectRepay(borrower, ReasonNoActiveLoan, snap)
	}
	if amount == nil || amount.Sign() <= 0 {
		return e.rejectRepay(borrower, ReasonAmountZero, snap)
	}
	if payment == nil || payment.Cmp(amount) != 0 {
		return e.rejectRepay(borrower, ReasonPaymentMismatch, snap)
	}
	if loan.Outstanding == nil || amount.Cmp(loan.Outstanding) != 0 {
		return e.rejectRepay(borrower, ReasonRepayAmountMismatch, snap)
	}

	borrowerAcc, err := e.loadAccount(borrower)
	if err != nil {
		return err
	}
	if borrowerAcc.BalanceToken.Cmp(amount) < 0 {
		return e.rejectRepay(borrower, ReasonInsufficientBalance, snap)
	}
	moduleAcc, err := e.loadAccount(e.moduleAddress)
	if err != nil {
		return err
	}

	loan = loan.Clone()
	loan.Outstanding = big.NewInt(0)
	loan.State = LoanStateRepaid
	borrowerAcc.BalanceToken = new(big.Int).Sub(borrowerAcc.BalanceToken, amount)
	moduleAcc.BalanceToken = new(big.Int).Add(moduleAcc.BalanceToken, amount)

	cs := NewChangeset()
	cs.putLoan(borrower, loan)
	cs.putAccount(borrower, borrowerAcc)
	cs.putAccount(e.moduleAddress, moduleAcc)

	if err := e.state.Apply(cs); err != nil {
		return err
	}

	banned, err := e.state.IsBanned(borrower)
	if err != nil {
		return err
	}
	e.emit(NewLoanRepaidEvent(borrower, true, ReasonNone, loanSnapshot{
		State:       loan.State,
		Principal:   cloneBigInt(loan.Principal),
		Outstanding: big.NewInt(0),
		DueTime:     loan.DueTime,
		Banned:      banned,
	}))
	return nil
}

func (e *Engine) rejectRepay(borrower crypto.Address, reason Reason, snap loanSnapshot) error {
	e.emit(NewLoanRepaidEvent(borrower, false, reason, snap))
	return reject("repay", reason)
}

// CheckDefault inspects the borrower's loan and, when overdue with
// outstanding principal, bans the borrower and marks the loan Defaulted.
// Callable by anyone; repeated calls on a settled case are no-ops.
func (e *Engine) CheckDefault(borrower crypto.Address) (DefaultOutcome, error) {
	if err := e.begin(); err != nil {
		return DefaultOutcome{}, err
	}
	defer e.end()
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return DefaultOutcome{}, err
	}

	snap, err := e.loanSnapshot(borrower)
	if err != nil {
		return DefaultOutcome{}, err
	}
	loan, err := e.state.GetLoan(borrower)
	if err != nil {
		return DefaultOutcome{}, err
	}
	if loan == nil || loan.State != LoanStateActive {
		e.emit(NewDefaultCheckEvent(borrower, false, ReasonNoActiveLoan, snap))
		return DefaultOutcome{Reason: ReasonNoActiveLoan}, nil
	}
	if e.now() <= loan.DueTime {
		e.emit(NewDefaultCheckEvent(borrower, false, ReasonNotOverdue, snap))
		return DefaultOutcome{Reason: ReasonNotOverdue}, nil
	}

	if loan.Outstanding == nil || loan.Outstanding.Sign() == 0 {
		// Defensive consistency fix: a settled loan stuck in Active is
		// corrected rather than defaulted.
		loan = loan.Clone()
		loan.State = LoanStateRepaid
		cs := NewChangeset()
		cs.putLoan(borrower, loan)
		if err := e.state.Apply(cs); err != nil {
			return DefaultOutcome{}, err
		}
		snap.State = loan.State
		snap.Outstanding = big.NewInt(0)
		e.emit(NewDefaultCheckEvent(borrower, true, ReasonLoanSettled, snap))
		return DefaultOutcome{Reason: ReasonLoanSettled}, nil
	}

	banned, err := e.state.IsBanned(borrower)
	if err != nil {
		return DefaultOutcome{}, err
	}
	if banned {
		e.emit(NewDefaultCheckEvent(borrower, false, ReasonAlreadyBanned, snap))
		return DefaultOutcome{Reason: ReasonAlreadyBanned}, nil
	}

	loan = loan.Clone()
	loan.State = LoanStateDefaulted
	cs := NewChangeset()
	cs.putLoan(borrower, loan)
	cs.setBanned(borrower, true)
	if err := e.state.Apply(cs); err != nil {
		return DefaultOutcome{}, err
	}

	snap.State = loan.State
	snap.Banned = true
	e.emit(NewDefaultCheckEvent(borrower, true, ReasonNone, snap))
	return DefaultOutcome{Applied: true, Reason: ReasonNone}, nil
}

// Unban clears the borrower's ban. Administrator only; the loan record is
// left untouched.
func (e *Engine) Unban(caller, borrower crypto.Address) error {
	if err := e.begin(); err != nil {
		return err
	}
	defer e.end()
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}

	snap, err := e.loanSnapshot(borrower)
	if err != nil {
		return err
	}
	if !caller.Equal(e.adminAddress) {
		e.emit(NewUnbanEvent(borrower, false, ReasonNotAdministrator, snap))
		return reject("unban", ReasonNotAdministrator)
	}
	banned, err := e.state.IsBanned(borrower)
	if err != nil {
		return err
	}
	if !banned {
		e.emit(NewUnbanEvent(borrower, false, ReasonNotBanned, snap))
		return reject("unban", ReasonNotBanned)
	}

	cs := NewChangeset()
	cs.setBanned(borrower, false)
	if err := e.state.Apply(cs); err != nil {
		return err
	}

	snap.Banned = false
	e.emit(NewUnbanEvent(borrower, true, ReasonNone, snap))
	return nil
}

// IsBanned reports the borrower's ban registry membership.
func (e *Engine) IsBanned(borrower crypto.Address) (bool, error) {
	if e == nil || e.state == nil {
		return false, errNilState
	}
	return e.state.IsBanned(borrower)
}

// LoanStatus returns the borrower's loan read-model plus ban flag.
func (e *Engine) LoanStatus(borrower crypto.Address) (*LoanStatus, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	snap, err := e.loanSnapshot(borrower)
	if err != nil {
		return nil, err
	}
	return &LoanStatus{
		State:       snap.State,
		Principal:   snap.Principal,
		Outstanding: snap.Outstanding,
		StartTime:   snap.startTime,
		DueTime:     snap.DueTime,
		Banned:      snap.Banned,
	}, nil
}

func (e *Engine) loanSnapshot(borrower crypto.Address) (loanSnapshot, error) {
	loan, err := e.state.GetLoan(borrower)
	if err != nil {
		return loanSnapshot{}, err
	}
	banned, err := e.state.IsBanned(borrower)
	if err != nil {
		return loanSnapshot{}, err
	}
	snap := loanSnapshot{State: LoanStateNone, Principal: big.NewInt(0), Outstanding: big.NewInt(0), Banned: banned}
	if loan != nil {
		snap.State = loan.State
		snap.Principal = cloneBigInt(loan.Principal)
		snap.Outstanding = cloneBigInt(loan.Outstanding)
		snap.startTime = loan.StartTime
		snap.DueTime = loan.DueTime
	}
	return snap, nil
}

// --- Pool accounting: secondary asset ---

// TransferAsset moves the pool's secondary tracked asset to a recipient.
// Administrator only.
func (e *Engine) TransferAsset(caller, recipient crypto.Address, amount *big.Int) error {
	if err := e.begin(); err != nil {
		return err
	}
	defer e.end()
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}

	moduleAcc, err := e.loadAccount(e.moduleAddress)
	if err != nil {
		return err
	}
	snap := assetSnapshot{BridgeBalance: cloneBigInt(moduleAcc.BalanceBridge)}

	if !caller.Equal(e.adminAddress) {
		e.emit(NewAssetTransferEvent(recipient, false, ReasonNotAdministrator, amount, snap))
		return reject("transferAsset", ReasonNotAdministrator)
	}
	if recipient.IsZero() {
		e.emit(NewAssetTransferEvent(recipient, false, ReasonRecipientZero, amount, snap))
		return reject("transferAsset", ReasonRecipientZero)
	}
	if amount == nil || amount.Sign() <= 0 {
		e.emit(NewAssetTransferEvent(recipient, false, ReasonAmountZero, amount, snap))
		return reject("transferAsset", ReasonAmountZero)
	}
	if moduleAcc.BalanceBridge.Cmp(amount) < 0 {
		e.emit(NewAssetTransferEvent(recipient, false, ReasonInsufficientBalance, amount, snap))
		return reject("transferAsset", ReasonInsufficientBalance)
	}

	recipientAcc, err := e.loadAccount(recipient)
	if err != nil {
		return err
	}
	moduleAcc.BalanceBridge = new(big.Int).Sub(moduleAcc.BalanceBridge, amount)
	recipientAcc.BalanceBridge = new(big.Int).Add(recipientAcc.BalanceBridge, amount)

	cs := NewChangeset()
	cs.putAccount(e.moduleAddress, moduleAcc)
	cs.putAccount(recipient, recipientAcc)
	if err := e.state.Apply(cs); err != nil {
		return err
	}

	e.emit(NewAssetTransferEvent(recipient, true, ReasonNone, amount, assetSnapshot{
		BridgeBalance: cloneBigInt(moduleAcc.BalanceBridge),
	}))
	return nil
}

// PrepareBridge moves the secondary asset from the pool to the
// administrator's own account ahead of the out-of-band bridging protocol.
// Administrator only.
func (e *Engine) PrepareBridge(caller crypto.Address, amount *big.Int) error {
	if err := e.begin(); err != nil {
		return err
	}
	defer e.end()
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}

	moduleAcc, err := e.loadAccount(e.moduleAddress)
	if err != nil {
		return err
	}
	snap := assetSnapshot{BridgeBalance: cloneBigInt(moduleAcc.BalanceBridge)}

	if !caller.Equal(e.adminAddress) {
		e.emit(NewBridgePrepareEvent(caller, false, ReasonNotAdministrator, amount, snap))
		return reject("prepareBridge", ReasonNotAdministrator)
	}
	if e.adminAddress.IsZero() {
		e.emit(NewBridgePrepareEvent(caller, false, ReasonRecipientZero, amount, snap))
		return reject("prepareBridge", ReasonRecipientZero)
	}
	if amount == nil || amount.Sign() <= 0 {
		e.emit(NewBridgePrepareEvent(caller, false, ReasonAmountZero, amount, snap))
		return reject("prepareBridge", ReasonAmountZero)
	}
	if moduleAcc.BalanceBridge.Cmp(amount) < 0 {
		e.emit(NewBridgePrepareEvent(caller, false, ReasonInsufficientBalance, amount, snap))
		return reject("prepareBridge", ReasonInsufficientBalance)
	}

	adminAcc, err := e.loadAccount(e.adminAddress)
	if err != nil {
		return err
	}
	moduleAcc.BalanceBridge = new(big.Int).Sub(moduleAcc.BalanceBridge, amount)
	adminAcc.BalanceBridge = new(big.Int).Add(adminAcc.BalanceBridge, amount)

	cs := NewChangeset()
	cs.putAccount(e.moduleAddress, moduleAcc)
	cs.putAccount(e.adminAddress, adminAcc)
	if err := e.state.Apply(cs); err != nil {
		return err
	}

	e.emit(NewBridgePrepareEvent(caller, true, ReasonNone, amount, assetSnapshot{
		BridgeBalance: cloneBigInt(moduleAcc.BalanceBridge),
	}))
	return nil
}
