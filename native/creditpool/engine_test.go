package creditpool

import (
	"errors"
	"math/big"
	"testing"

	"creditpool/core/events"
	"creditpool/core/types"
	"creditpool/crypto"
	nativecommon "creditpool/native/common"
)

type mockState struct {
	accounts map[string]*types.Account
	ledgers  map[string]*LenderLedger
	loans    map[string]*Loan
	bans     map[string]bool
	totals   *PoolTotals

	applied  int
	applyErr error
}

func newMockState() *mockState {
	return &mockState{
		accounts: make(map[string]*types.Account),
		ledgers:  make(map[string]*LenderLedger),
		loans:    make(map[string]*Loan),
		bans:     make(map[string]bool),
	}
}

func cloneAccount(acc *types.Account) *types.Account {
	if acc == nil {
		return nil
	}
	clone := &types.Account{Nonce: acc.Nonce}
	if acc.BalanceToken != nil {
		clone.BalanceToken = new(big.Int).Set(acc.BalanceToken)
	}
	if acc.BalanceBridge != nil {
		clone.BalanceBridge = new(big.Int).Set(acc.BalanceBridge)
	}
	return clone
}

func (m *mockState) GetAccount(addr crypto.Address) (*types.Account, error) {
	return cloneAccount(m.accounts[string(addr.Bytes())]), nil
}

func (m *mockState) GetLenderLedger(addr crypto.Address) (*LenderLedger, error) {
	return m.ledgers[string(addr.Bytes())].Clone(), nil
}

func (m *mockState) GetLoan(addr crypto.Address) (*Loan, error) {
	return m.loans[string(addr.Bytes())].Clone(), nil
}

func (m *mockState) IsBanned(addr crypto.Address) (bool, error) {
	return m.bans[string(addr.Bytes())], nil
}

func (m *mockState) PoolTotals() (*PoolTotals, error) {
	return m.totals.Clone(), nil
}

func (m *mockState) Apply(cs *Changeset) error {
	if m.applyErr != nil {
		return m.applyErr
	}
	for key, acc := range cs.Accounts {
		m.accounts[key] = cloneAccount(acc)
	}
	for key, ledger := range cs.Ledgers {
		m.ledgers[key] = ledger.Clone()
	}
	for key, loan := range cs.Loans {
		m.loans[key] = loan.Clone()
	}
	for key, banned := range cs.Bans {
		if banned {
			m.bans[key] = true
		} else {
			delete(m.bans, key)
		}
	}
	if cs.Totals != nil {
		m.totals = cs.Totals.Clone()
	}
	m.applied++
	return nil
}

func (m *mockState) fund(addr crypto.Address, token, bridge int64) {
	m.accounts[string(addr.Bytes())] = &types.Account{
		BalanceToken:  big.NewInt(token),
		BalanceBridge: big.NewInt(bridge),
	}
}

func (m *mockState) tokenBalance(addr crypto.Address) *big.Int {
	acc := m.accounts[string(addr.Bytes())]
	if acc == nil || acc.BalanceToken == nil {
		return big.NewInt(0)
	}
	return acc.BalanceToken
}

func (m *mockState) bridgeBalance(addr crypto.Address) *big.Int {
	acc := m.accounts[string(addr.Bytes())]
	if acc == nil || acc.BalanceBridge == nil {
		return big.NewInt(0)
	}
	return acc.BalanceBridge
}

type eventRecorder struct {
	events []*types.Event
}

func (r *eventRecorder) Emit(evt events.Event) {
	payload, ok := evt.(interface{ Event() *types.Event })
	if !ok {
		return
	}
	r.events = append(r.events, payload.Event())
}

func (r *eventRecorder) last() *types.Event {
	if len(r.events) == 0 {
		return nil
	}
	return r.events[len(r.events)-1]
}

type stubOracle struct {
	has      bool
	hasErr   error
	score    uint64
	valid    bool
	scoreErr error
}

func (o stubOracle) HasCredential(addr []byte) (bool, error) {
	return o.has, o.hasErr
}

func (o stubOracle) Score(addr []byte) (uint64, int64, bool, error) {
	return o.score, 0, o.valid, o.scoreErr
}

type pauseAll struct{}

func (pauseAll) IsPaused(module string) bool { return true }

func testAddr(seed byte) crypto.Address {
	buf := make([]byte, 20)
	for i := range buf {
		buf[i] = seed
	}
	return crypto.NewAddress(crypto.PoolPrefix, buf)
}

var (
	moduleAddr = testAddr(0x01)
	adminAddr  = testAddr(0x02)
	lenderAddr = testAddr(0x10)
	otherAddr  = testAddr(0x11)
	borrower   = testAddr(0x20)
)

func newTestEngine(t *testing.T) (*Engine, *mockState, *eventRecorder, *int64) {
	t.Helper()
	state := newMockState()
	recorder := &eventRecorder{}
	clock := int64(1_000_000)
	engine := NewEngine(moduleAddr, adminAddr)
	engine.SetState(state)
	engine.SetEmitter(recorder)
	engine.SetNowFunc(func() int64 { return clock })
	return engine, state, recorder, &clock
}

func requireReason(t *testing.T, err error, want Reason) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected rejection %s, got nil", want)
	}
	reason, ok := ReasonOf(err)
	if !ok {
		t.Fatalf("expected rejection %s, got infrastructure error %v", want, err)
	}
	if reason != want {
		t.Fatalf("expected reason %s, got %s", want, reason)
	}
}

func requireEqualInt(t *testing.T, got *big.Int, want int64) {
	t.Helper()
	if got == nil || got.Cmp(big.NewInt(want)) != 0 {
		t.Fatalf("expected %d, got %v", want, got)
	}
}

func TestDepositMovesFundsAndRecordsEntry(t *testing.T) {
	engine, state, recorder, clock := newTestEngine(t)
	state.fund(lenderAddr, 1_000, 0)

	if err := engine.Deposit(lenderAddr, big.NewInt(400), big.NewInt(400)); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	requireEqualInt(t, state.tokenBalance(lenderAddr), 600)
	requireEqualInt(t, state.tokenBalance(moduleAddr), 400)
	requireEqualInt(t, state.totals.TotalDeposits, 400)

	ledger := state.ledgers[string(lenderAddr.Bytes())]
	if len(ledger.Entries) != 1 {
		t.Fatalf("expected 1 ledger entry, got %d", len(ledger.Entries))
	}
	requireEqualInt(t, ledger.Entries[0].Amount, 400)
	if ledger.Entries[0].Timestamp != *clock {
		t.Fatalf("expected entry timestamp %d, got %d", *clock, ledger.Entries[0].Timestamp)
	}

	evt := recorder.last()
	if evt == nil || evt.Type != EventTypeDeposit {
		t.Fatalf("expected %s event, got %+v", EventTypeDeposit, evt)
	}
	if evt.Attributes["success"] != "true" {
		t.Fatalf("expected success event, got %+v", evt.Attributes)
	}
}

func TestDepositRejections(t *testing.T) {
	huge := new(big.Int).Lsh(big.NewInt(1), 128)

	cases := []struct {
		name    string
		amount  *big.Int
		payment *big.Int
		balance int64
		want    Reason
	}{
		{"zero amount", big.NewInt(0), big.NewInt(0), 1_000, ReasonAmountZero},
		{"nil amount", nil, nil, 1_000, ReasonAmountZero},
		{"negative amount", big.NewInt(-100), big.NewInt(-100), 1_000, ReasonAmountZero},
		{"payment short", big.NewInt(400), big.NewInt(399), 1_000, ReasonPaymentMismatch},
		{"payment over", big.NewInt(400), big.NewInt(401), 1_000, ReasonPaymentMismatch},
		{"amount too large", huge, huge, 1_000, ReasonAmountTooLarge},
		{"insufficient balance", big.NewInt(2_000), big.NewInt(2_000), 1_000, ReasonInsufficientBalance},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			engine, state, recorder, _ := newTestEngine(t)
			state.fund(lenderAddr, tc.balance, 0)

			err := engine.Deposit(lenderAddr, tc.amount, tc.payment)
			requireReason(t, err, tc.want)
			if state.applied != 0 {
				t.Fatalf("rejected deposit must not commit, applied=%d", state.applied)
			}
			requireEqualInt(t, state.tokenBalance(lenderAddr), tc.balance)

			evt := recorder.last()
			if evt == nil || evt.Attributes["success"] != "false" || evt.Attributes["reason"] != tc.want.String() {
				t.Fatalf("expected rejection event with reason %s, got %+v", tc.want, evt)
			}
		})
	}
}

func TestWithdrawRespectsLockWindow(t *testing.T) {
	engine, state, _, clock := newTestEngine(t)
	state.fund(lenderAddr, 1_000, 0)

	if err := engine.Deposit(lenderAddr, big.NewInt(500), big.NewInt(500)); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	err := engine.Withdraw(lenderAddr, big.NewInt(500))
	requireReason(t, err, ReasonWithdrawLocked)

	// One second short of the unlock boundary stays locked.
	*clock += defaultLockDuration - 1
	err = engine.Withdraw(lenderAddr, big.NewInt(500))
	requireReason(t, err, ReasonWithdrawLocked)

	*clock++
	if err := engine.Withdraw(lenderAddr, big.NewInt(500)); err != nil {
		t.Fatalf("withdraw after unlock: %v", err)
	}
	requireEqualInt(t, state.tokenBalance(lenderAddr), 1_000)
	requireEqualInt(t, state.tokenBalance(moduleAddr), 0)
	requireEqualInt(t, state.totals.TotalDeposits, 0)
}

func TestWithdrawRejectsNonPositiveAmounts(t *testing.T) {
	engine, state, _, clock := newTestEngine(t)
	state.fund(lenderAddr, 1_000, 0)

	if err := engine.Deposit(lenderAddr, big.NewInt(500), big.NewInt(500)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	*clock += defaultLockDuration
	applied := state.applied

	err := engine.Withdraw(lenderAddr, big.NewInt(0))
	requireReason(t, err, ReasonAmountZero)
	err = engine.Withdraw(lenderAddr, big.NewInt(-100))
	requireReason(t, err, ReasonAmountZero)

	// A negative request must never inflate either side of the ledger.
	if state.applied != applied {
		t.Fatalf("rejected withdraw must not commit, applied=%d", state.applied)
	}
	requireEqualInt(t, state.tokenBalance(lenderAddr), 500)
	requireEqualInt(t, state.tokenBalance(moduleAddr), 500)
	requireEqualInt(t, state.totals.TotalDeposits, 500)
	ledger := state.ledgers[string(lenderAddr.Bytes())]
	requireEqualInt(t, ledger.TotalWithdrawn, 0)
}

func TestWithdrawConsumesEntriesInOrder(t *testing.T) {
	engine, state, _, clock := newTestEngine(t)
	state.fund(lenderAddr, 1_000, 0)

	for _, amount := range []int64{100, 200, 300} {
		if err := engine.Deposit(lenderAddr, big.NewInt(amount), big.NewInt(amount)); err != nil {
			t.Fatalf("deposit %d: %v", amount, err)
		}
		*clock += 10
	}
	*clock += defaultLockDuration

	// 250 drains the first entry and takes 150 from the second.
	if err := engine.Withdraw(lenderAddr, big.NewInt(250)); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	ledger := state.ledgers[string(lenderAddr.Bytes())]
	if ledger.NextWithdrawalIndex != 1 {
		t.Fatalf("expected cursor 1, got %d", ledger.NextWithdrawalIndex)
	}
	requireEqualInt(t, ledger.Entries[0].Amount, 0)
	requireEqualInt(t, ledger.Entries[1].Amount, 50)
	requireEqualInt(t, ledger.Entries[2].Amount, 300)

	// The remainder is still withdrawable.
	if err := engine.Withdraw(lenderAddr, big.NewInt(350)); err != nil {
		t.Fatalf("second withdraw: %v", err)
	}
	ledger = state.ledgers[string(lenderAddr.Bytes())]
	if ledger.NextWithdrawalIndex != 3 {
		t.Fatalf("expected cursor 3, got %d", ledger.NextWithdrawalIndex)
	}
	requireEqualInt(t, state.tokenBalance(lenderAddr), 1_000)

	err := engine.Withdraw(lenderAddr, big.NewInt(1))
	requireReason(t, err, ReasonInsufficientBalance)
}

func TestWithdrawBlockedByLentOutLiquidity(t *testing.T) {
	engine, state, _, clock := newTestEngine(t)
	state.fund(lenderAddr, 1_000, 0)

	if err := engine.Deposit(lenderAddr, big.NewInt(1_000), big.NewInt(1_000)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	*clock += defaultLockDuration

	if err := engine.OpenLoan(adminAddr, borrower, big.NewInt(800), 3_600); err != nil {
		t.Fatalf("open loan: %v", err)
	}

	err := engine.Withdraw(lenderAddr, big.NewInt(500))
	requireReason(t, err, ReasonInsufficientLiquidity)

	// Withdrawals within the remaining held balance still work.
	if err := engine.Withdraw(lenderAddr, big.NewInt(200)); err != nil {
		t.Fatalf("withdraw within liquidity: %v", err)
	}
	requireEqualInt(t, state.tokenBalance(moduleAddr), 0)
}

func TestWithdrawTransferFailureCommitsNothing(t *testing.T) {
	engine, state, recorder, clock := newTestEngine(t)
	state.fund(lenderAddr, 1_000, 0)

	if err := engine.Deposit(lenderAddr, big.NewInt(500), big.NewInt(500)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	*clock += defaultLockDuration
	applied := state.applied

	hookErr := errors.New("payout channel down")
	engine.SetTransferHook(func(recipient crypto.Address, amount *big.Int) error {
		return hookErr
	})

	err := engine.Withdraw(lenderAddr, big.NewInt(500))
	requireReason(t, err, ReasonTransferFailed)
	if !errors.Is(err, hookErr) {
		t.Fatalf("expected error to wrap the hook cause, got %v", err)
	}
	if state.applied != applied {
		t.Fatalf("failed transfer must not commit, applied=%d", state.applied)
	}
	requireEqualInt(t, state.tokenBalance(lenderAddr), 500)
	requireEqualInt(t, state.tokenBalance(moduleAddr), 500)

	ledger := state.ledgers[string(lenderAddr.Bytes())]
	requireEqualInt(t, ledger.Entries[0].Amount, 500)
	if ledger.NextWithdrawalIndex != 0 {
		t.Fatalf("cursor moved on failed withdraw: %d", ledger.NextWithdrawalIndex)
	}

	evt := recorder.last()
	if evt == nil || evt.Attributes["reason"] != ReasonTransferFailed.String() {
		t.Fatalf("expected transfer failure event, got %+v", evt)
	}
}

func TestReentrantTransferHookIsRejected(t *testing.T) {
	engine, state, _, clock := newTestEngine(t)
	state.fund(lenderAddr, 1_000, 0)

	if err := engine.Deposit(lenderAddr, big.NewInt(500), big.NewInt(500)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	*clock += defaultLockDuration

	engine.SetTransferHook(func(recipient crypto.Address, amount *big.Int) error {
		return engine.Deposit(lenderAddr, big.NewInt(1), big.NewInt(1))
	})

	err := engine.Withdraw(lenderAddr, big.NewInt(500))
	requireReason(t, err, ReasonTransferFailed)
	if !errors.Is(err, errReentrantCall) {
		t.Fatalf("expected reentrant call error, got %v", err)
	}

	// The latch clears once the outer call returns.
	engine.SetTransferHook(nil)
	if err := engine.Withdraw(lenderAddr, big.NewInt(500)); err != nil {
		t.Fatalf("withdraw after failed attempt: %v", err)
	}
}

func TestOpenLoanLifecycle(t *testing.T) {
	engine, state, _, clock := newTestEngine(t)
	state.fund(lenderAddr, 1_000, 0)
	if err := engine.Deposit(lenderAddr, big.NewInt(1_000), big.NewInt(1_000)); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	start := *clock
	if err := engine.OpenLoan(adminAddr, borrower, big.NewInt(600), 3_600); err != nil {
		t.Fatalf("open loan: %v", err)
	}

	loan := state.loans[string(borrower.Bytes())]
	if loan == nil || loan.State != LoanStateActive {
		t.Fatalf("expected active loan, got %+v", loan)
	}
	requireEqualInt(t, loan.Principal, 600)
	requireEqualInt(t, loan.Outstanding, 600)
	if loan.StartTime != start || loan.DueTime != start+3_600 {
		t.Fatalf("unexpected loan schedule: start=%d due=%d", loan.StartTime, loan.DueTime)
	}
	requireEqualInt(t, state.tokenBalance(borrower), 600)
	requireEqualInt(t, state.tokenBalance(moduleAddr), 400)

	// Lender claims are untouched by disbursement.
	requireEqualInt(t, state.totals.TotalDeposits, 1_000)

	if err := engine.Repay(borrower, big.NewInt(600), big.NewInt(600)); err != nil {
		t.Fatalf("repay: %v", err)
	}
	loan = state.loans[string(borrower.Bytes())]
	if loan.State != LoanStateRepaid {
		t.Fatalf("expected repaid loan, got %s", loan.State)
	}
	requireEqualInt(t, loan.Outstanding, 0)
	requireEqualInt(t, state.tokenBalance(borrower), 0)
	requireEqualInt(t, state.tokenBalance(moduleAddr), 1_000)

	// A settled borrower can be issued a fresh loan.
	ok, reason, err := engine.CanOpenLoan(borrower, big.NewInt(100), 60)
	if err != nil || !ok {
		t.Fatalf("expected eligibility after repay, got ok=%v reason=%s err=%v", ok, reason, err)
	}
}

func TestOpenLoanRequiresAdministrator(t *testing.T) {
	engine, state, _, _ := newTestEngine(t)
	state.fund(moduleAddr, 1_000, 0)

	err := engine.OpenLoan(otherAddr, borrower, big.NewInt(100), 60)
	requireReason(t, err, ReasonNotAdministrator)
	if state.loans[string(borrower.Bytes())] != nil {
		t.Fatal("loan must not exist after rejected open")
	}
}

func TestEligibilityCheckOrder(t *testing.T) {
	setBanned := func(s *mockState) { s.bans[string(borrower.Bytes())] = true }
	setActiveLoan := func(s *mockState) {
		s.loans[string(borrower.Bytes())] = &Loan{
			Borrower:    borrower,
			Principal:   big.NewInt(100),
			Outstanding: big.NewInt(100),
			State:       LoanStateActive,
		}
	}

	cases := []struct {
		name      string
		principal *big.Int
		term      int64
		liquidity int64
		oracle    ScoreOracle
		prep      func(*mockState)
		want      Reason
	}{
		{"principal zero wins over ban", big.NewInt(0), 60, 1_000, nil, setBanned, ReasonPrincipalZero},
		{"negative principal", big.NewInt(-100), 60, 1_000, nil, nil, ReasonPrincipalZero},
		{"term zero wins over ban", big.NewInt(100), 0, 1_000, nil, setBanned, ReasonTermZero},
		{"ban wins over liquidity", big.NewInt(100), 60, 0, nil, setBanned, ReasonBorrowerBanned},
		{"liquidity wins over credential", big.NewInt(100), 60, 50, stubOracle{}, nil, ReasonInsufficientLiquidity},
		{"missing credential", big.NewInt(100), 60, 1_000, stubOracle{}, nil, ReasonMissingCredential},
		{"invalid score", big.NewInt(100), 60, 1_000, stubOracle{has: true}, nil, ReasonScoreInvalid},
		{"score too low", big.NewInt(100), 60, 1_000, stubOracle{has: true, valid: true, score: 10}, nil, ReasonScoreTooLow},
		{"active loan last", big.NewInt(100), 60, 1_000, stubOracle{has: true, valid: true, score: 90}, setActiveLoan, ReasonActiveLoanPresent},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			engine, state, _, _ := newTestEngine(t)
			state.fund(moduleAddr, tc.liquidity, 0)
			engine.SetOracle(tc.oracle)
			engine.SetMinScore(50)
			if tc.prep != nil {
				tc.prep(state)
			}

			ok, reason, err := engine.CanOpenLoan(borrower, tc.principal, tc.term)
			if err != nil {
				t.Fatalf("evaluate: %v", err)
			}
			if ok || reason != tc.want {
				t.Fatalf("expected reason %s, got ok=%v reason=%s", tc.want, ok, reason)
			}

			// The mutating path reports the identical reason.
			openErr := engine.OpenLoan(adminAddr, borrower, tc.principal, tc.term)
			requireReason(t, openErr, tc.want)
		})
	}
}

func TestOpenLoanWithoutOracleSkipsCredentialChecks(t *testing.T) {
	engine, state, _, _ := newTestEngine(t)
	state.fund(moduleAddr, 1_000, 0)

	ok, reason, err := engine.CanOpenLoan(borrower, big.NewInt(100), 60)
	if err != nil || !ok {
		t.Fatalf("expected eligibility without oracle, got ok=%v reason=%s err=%v", ok, reason, err)
	}
}

func TestRepayRejections(t *testing.T) {
	setup := func(t *testing.T) (*Engine, *mockState) {
		t.Helper()
		engine, state, _, _ := newTestEngine(t)
		state.fund(moduleAddr, 1_000, 0)
		if err := engine.OpenLoan(adminAddr, borrower, big.NewInt(600), 3_600); err != nil {
			t.Fatalf("open loan: %v", err)
		}
		return engine, state
	}

	t.Run("no active loan", func(t *testing.T) {
		engine, _, _, _ := newTestEngine(t)
		err := engine.Repay(borrower, big.NewInt(100), big.NewInt(100))
		requireReason(t, err, ReasonNoActiveLoan)
	})

	t.Run("negative amount", func(t *testing.T) {
		engine, state := setup(t)
		err := engine.Repay(borrower, big.NewInt(-600), big.NewInt(-600))
		requireReason(t, err, ReasonAmountZero)
		loan := state.loans[string(borrower.Bytes())]
		if loan.State != LoanStateActive {
			t.Fatalf("negative repay must leave the loan active, got %s", loan.State)
		}
		requireEqualInt(t, loan.Outstanding, 600)
	})

	t.Run("payment mismatch", func(t *testing.T) {
		engine, _ := setup(t)
		err := engine.Repay(borrower, big.NewInt(600), big.NewInt(500))
		requireReason(t, err, ReasonPaymentMismatch)
	})

	t.Run("partial repayment", func(t *testing.T) {
		engine, state := setup(t)
		err := engine.Repay(borrower, big.NewInt(300), big.NewInt(300))
		requireReason(t, err, ReasonRepayAmountMismatch)
		loan := state.loans[string(borrower.Bytes())]
		if loan.State != LoanStateActive {
			t.Fatalf("partial repay must leave the loan active, got %s", loan.State)
		}
		requireEqualInt(t, loan.Outstanding, 600)
	})

	t.Run("overpayment", func(t *testing.T) {
		engine, _ := setup(t)
		err := engine.Repay(borrower, big.NewInt(700), big.NewInt(700))
		requireReason(t, err, ReasonRepayAmountMismatch)
	})

	t.Run("insufficient balance", func(t *testing.T) {
		engine, state := setup(t)
		state.fund(borrower, 100, 0)
		err := engine.Repay(borrower, big.NewInt(600), big.NewInt(600))
		requireReason(t, err, ReasonInsufficientBalance)
	})
}

func TestCheckDefaultOutcomes(t *testing.T) {
	t.Run("no loan", func(t *testing.T) {
		engine, _, _, _ := newTestEngine(t)
		outcome, err := engine.CheckDefault(borrower)
		if err != nil {
			t.Fatalf("check default: %v", err)
		}
		if outcome.Applied || outcome.Reason != ReasonNoActiveLoan {
			t.Fatalf("unexpected outcome %+v", outcome)
		}
	})

	t.Run("not overdue", func(t *testing.T) {
		engine, state, _, clock := newTestEngine(t)
		state.fund(moduleAddr, 1_000, 0)
		if err := engine.OpenLoan(adminAddr, borrower, big.NewInt(600), 3_600); err != nil {
			t.Fatalf("open loan: %v", err)
		}

		// Exactly at the due time the loan is not yet overdue.
		*clock += 3_600
		outcome, err := engine.CheckDefault(borrower)
		if err != nil {
			t.Fatalf("check default: %v", err)
		}
		if outcome.Applied || outcome.Reason != ReasonNotOverdue {
			t.Fatalf("unexpected outcome %+v", outcome)
		}
	})

	t.Run("overdue bans and is idempotent", func(t *testing.T) {
		engine, state, _, clock := newTestEngine(t)
		state.fund(moduleAddr, 1_000, 0)
		if err := engine.OpenLoan(adminAddr, borrower, big.NewInt(600), 3_600); err != nil {
			t.Fatalf("open loan: %v", err)
		}
		*clock += 3_601

		outcome, err := engine.CheckDefault(borrower)
		if err != nil {
			t.Fatalf("check default: %v", err)
		}
		if !outcome.Applied || outcome.Reason != ReasonNone {
			t.Fatalf("expected applied default, got %+v", outcome)
		}
		if !state.bans[string(borrower.Bytes())] {
			t.Fatal("borrower must be banned after default")
		}
		loan := state.loans[string(borrower.Bytes())]
		if loan.State != LoanStateDefaulted {
			t.Fatalf("expected defaulted loan, got %s", loan.State)
		}

		// The second call observes the terminal record and changes nothing.
		applied := state.applied
		outcome, err = engine.CheckDefault(borrower)
		if err != nil {
			t.Fatalf("repeat check default: %v", err)
		}
		if outcome.Applied || outcome.Reason != ReasonNoActiveLoan {
			t.Fatalf("unexpected repeat outcome %+v", outcome)
		}
		if state.applied != applied {
			t.Fatal("repeat default check must not mutate state")
		}
	})

	t.Run("already banned", func(t *testing.T) {
		engine, state, _, clock := newTestEngine(t)
		state.fund(moduleAddr, 1_000, 0)
		if err := engine.OpenLoan(adminAddr, borrower, big.NewInt(600), 3_600); err != nil {
			t.Fatalf("open loan: %v", err)
		}
		state.bans[string(borrower.Bytes())] = true
		*clock += 3_601

		outcome, err := engine.CheckDefault(borrower)
		if err != nil {
			t.Fatalf("check default: %v", err)
		}
		if outcome.Applied || outcome.Reason != ReasonAlreadyBanned {
			t.Fatalf("unexpected outcome %+v", outcome)
		}
	})

	t.Run("settled loan stuck active is corrected", func(t *testing.T) {
		engine, state, _, clock := newTestEngine(t)
		state.loans[string(borrower.Bytes())] = &Loan{
			Borrower:    borrower,
			Principal:   big.NewInt(600),
			Outstanding: big.NewInt(0),
			StartTime:   *clock,
			DueTime:     *clock + 60,
			State:       LoanStateActive,
		}
		*clock += 61

		outcome, err := engine.CheckDefault(borrower)
		if err != nil {
			t.Fatalf("check default: %v", err)
		}
		if outcome.Applied || outcome.Reason != ReasonLoanSettled {
			t.Fatalf("unexpected outcome %+v", outcome)
		}
		loan := state.loans[string(borrower.Bytes())]
		if loan.State != LoanStateRepaid {
			t.Fatalf("expected corrected repaid loan, got %s", loan.State)
		}
		if state.bans[string(borrower.Bytes())] {
			t.Fatal("settled loan must not ban the borrower")
		}
	})
}

func TestUnban(t *testing.T) {
	engine, state, _, _ := newTestEngine(t)
	state.fund(moduleAddr, 1_000, 0)
	state.bans[string(borrower.Bytes())] = true

	err := engine.Unban(otherAddr, borrower)
	requireReason(t, err, ReasonNotAdministrator)
	if !state.bans[string(borrower.Bytes())] {
		t.Fatal("ban must survive unauthorized unban")
	}

	if err := engine.Unban(adminAddr, borrower); err != nil {
		t.Fatalf("unban: %v", err)
	}
	if state.bans[string(borrower.Bytes())] {
		t.Fatal("ban must be cleared")
	}

	ok, reason, err := engine.CanOpenLoan(borrower, big.NewInt(100), 60)
	if err != nil || !ok {
		t.Fatalf("expected eligibility after unban, got ok=%v reason=%s err=%v", ok, reason, err)
	}

	err = engine.Unban(adminAddr, borrower)
	requireReason(t, err, ReasonNotBanned)
}

func TestPauseBlocksMutationsOnly(t *testing.T) {
	engine, state, _, _ := newTestEngine(t)
	state.fund(lenderAddr, 1_000, 0)
	engine.SetPauses(pauseAll{})

	if err := engine.Deposit(lenderAddr, big.NewInt(100), big.NewInt(100)); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("expected paused error, got %v", err)
	}
	if err := engine.Withdraw(lenderAddr, big.NewInt(100)); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("expected paused error, got %v", err)
	}
	if err := engine.OpenLoan(adminAddr, borrower, big.NewInt(100), 60); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("expected paused error, got %v", err)
	}
	if _, err := engine.CheckDefault(borrower); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("expected paused error, got %v", err)
	}

	if _, err := engine.LenderBalance(lenderAddr); err != nil {
		t.Fatalf("reads must survive the pause: %v", err)
	}
	if _, err := engine.AvailableLiquidity(); err != nil {
		t.Fatalf("reads must survive the pause: %v", err)
	}
}

func TestLenderViews(t *testing.T) {
	engine, state, _, clock := newTestEngine(t)
	state.fund(lenderAddr, 1_000, 0)

	if err := engine.Deposit(lenderAddr, big.NewInt(300), big.NewInt(300)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	*clock += defaultLockDuration
	if err := engine.Deposit(lenderAddr, big.NewInt(200), big.NewInt(200)); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	unlockable, err := engine.PreviewWithdraw(lenderAddr)
	if err != nil {
		t.Fatalf("preview: %v", err)
	}
	requireEqualInt(t, unlockable, 300)

	status, err := engine.LenderStatus(lenderAddr)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireEqualInt(t, status.TotalDeposited, 500)
	requireEqualInt(t, status.TotalWithdrawn, 0)
	requireEqualInt(t, status.Balance, 500)
	requireEqualInt(t, status.Unlockable, 300)

	liquidity, err := engine.AvailableLiquidity()
	if err != nil {
		t.Fatalf("liquidity: %v", err)
	}
	requireEqualInt(t, liquidity, 500)
}

func TestLoanStatusView(t *testing.T) {
	engine, state, _, clock := newTestEngine(t)
	state.fund(moduleAddr, 1_000, 0)

	status, err := engine.LoanStatus(borrower)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.State != LoanStateNone || status.Banned {
		t.Fatalf("unexpected empty status %+v", status)
	}

	start := *clock
	if err := engine.OpenLoan(adminAddr, borrower, big.NewInt(400), 3_600); err != nil {
		t.Fatalf("open loan: %v", err)
	}
	status, err = engine.LoanStatus(borrower)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.State != LoanStateActive || status.StartTime != start || status.DueTime != start+3_600 {
		t.Fatalf("unexpected active status %+v", status)
	}
	requireEqualInt(t, status.Principal, 400)
	requireEqualInt(t, status.Outstanding, 400)
}

func TestConservationAcrossFullCycle(t *testing.T) {
	engine, state, _, clock := newTestEngine(t)
	state.fund(lenderAddr, 1_000, 0)
	state.fund(otherAddr, 1_000, 0)

	if err := engine.Deposit(lenderAddr, big.NewInt(700), big.NewInt(700)); err != nil {
		t.Fatalf("deposit A: %v", err)
	}
	if err := engine.Deposit(otherAddr, big.NewInt(300), big.NewInt(300)); err != nil {
		t.Fatalf("deposit B: %v", err)
	}
	if err := engine.OpenLoan(adminAddr, borrower, big.NewInt(500), 3_600); err != nil {
		t.Fatalf("open loan: %v", err)
	}
	if err := engine.Repay(borrower, big.NewInt(500), big.NewInt(500)); err != nil {
		t.Fatalf("repay: %v", err)
	}
	*clock += defaultLockDuration
	if err := engine.Withdraw(lenderAddr, big.NewInt(700)); err != nil {
		t.Fatalf("withdraw A: %v", err)
	}
	if err := engine.Withdraw(otherAddr, big.NewInt(300)); err != nil {
		t.Fatalf("withdraw B: %v", err)
	}

	// Every participant ends where they started and the pool is empty.
	requireEqualInt(t, state.tokenBalance(lenderAddr), 1_000)
	requireEqualInt(t, state.tokenBalance(otherAddr), 1_000)
	requireEqualInt(t, state.tokenBalance(borrower), 0)
	requireEqualInt(t, state.tokenBalance(moduleAddr), 0)
	requireEqualInt(t, state.totals.TotalDeposits, 0)
}

func TestTransferAsset(t *testing.T) {
	engine, state, _, _ := newTestEngine(t)
	state.fund(moduleAddr, 0, 1_000)

	err := engine.TransferAsset(otherAddr, lenderAddr, big.NewInt(100))
	requireReason(t, err, ReasonNotAdministrator)

	zero := crypto.NewAddress(crypto.PoolPrefix, make([]byte, 20))
	err = engine.TransferAsset(adminAddr, zero, big.NewInt(100))
	requireReason(t, err, ReasonRecipientZero)

	err = engine.TransferAsset(adminAddr, lenderAddr, big.NewInt(0))
	requireReason(t, err, ReasonAmountZero)

	err = engine.TransferAsset(adminAddr, lenderAddr, big.NewInt(-100))
	requireReason(t, err, ReasonAmountZero)

	err = engine.TransferAsset(adminAddr, lenderAddr, big.NewInt(2_000))
	requireReason(t, err, ReasonInsufficientBalance)

	if err := engine.TransferAsset(adminAddr, lenderAddr, big.NewInt(400)); err != nil {
		t.Fatalf("transfer asset: %v", err)
	}
	requireEqualInt(t, state.bridgeBalance(moduleAddr), 600)
	requireEqualInt(t, state.bridgeBalance(lenderAddr), 400)
}

func TestPrepareBridge(t *testing.T) {
	engine, state, _, _ := newTestEngine(t)
	state.fund(moduleAddr, 0, 1_000)

	err := engine.PrepareBridge(otherAddr, big.NewInt(100))
	requireReason(t, err, ReasonNotAdministrator)

	err = engine.PrepareBridge(adminAddr, big.NewInt(-100))
	requireReason(t, err, ReasonAmountZero)

	err = engine.PrepareBridge(adminAddr, big.NewInt(2_000))
	requireReason(t, err, ReasonInsufficientBalance)

	if err := engine.PrepareBridge(adminAddr, big.NewInt(250)); err != nil {
		t.Fatalf("prepare bridge: %v", err)
	}
	requireEqualInt(t, state.bridgeBalance(moduleAddr), 750)
	requireEqualInt(t, state.bridgeBalance(adminAddr), 250)
}

func TestEngineRequiresState(t *testing.T) {
	engine := NewEngine(moduleAddr, adminAddr)
	if err := engine.Deposit(lenderAddr, big.NewInt(1), big.NewInt(1)); !errors.Is(err, errNilState) {
		t.Fatalf("expected nil-state error, got %v", err)
	}
	if _, err := engine.LenderBalance(lenderAddr); !errors.Is(err, errNilState) {
		t.Fatalf("expected nil-state error, got %v", err)
	}
}
