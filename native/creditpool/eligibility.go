package creditpool

import (
	"math/big"

	"creditpool/crypto"
)

// ScoreOracle is the injected credential and score lookup gating borrower
// eligibility. A nil oracle disables credential gating entirely.
type ScoreOracle interface {
	HasCredential(addr []byte) (bool, error)
	// Score returns the recorded score value, the time it was recorded, and
	// whether the record is usable.
	Score(addr []byte) (value uint64, timestamp int64, valid bool, err error)
}

// EvaluateLoanRequest runs the read-only eligibility checks for opening a
// loan. Checks run in a fixed order and the first failure wins; callers may
// rely on which reason fires when several conditions hold at once.
func (e *Engine) EvaluateLoanRequest(borrower crypto.Address, principal *big.Int, term int64) (bool, Reason, error) {
	if e == nil || e.state == nil {
		return false, ReasonNone, errNilState
	}

	if principal == nil || principal.Sign() <= 0 {
		return false, ReasonPrincipalZero, nil
	}
	if term <= 0 {
		return false, ReasonTermZero, nil
	}

	banned, err := e.state.IsBanned(borrower)
	if err != nil {
		return false, ReasonNone, err
	}
	if banned {
		return false, ReasonBorrowerBanned, nil
	}

	liquidity, err := e.AvailableLiquidity()
	if err != nil {
		return false, ReasonNone, err
	}
	if liquidity.Cmp(principal) < 0 {
		return false, ReasonInsufficientLiquidity, nil
	}

	if e.oracle != nil {
		has, err := e.oracle.HasCredential(borrower.Bytes())
		if err != nil {
			return false, ReasonNone, err
		}
		if !has {
			return false, ReasonMissingCredential, nil
		}
		score, _, valid, err := e.oracle.Score(borrower.Bytes())
		if err != nil {
			return false, ReasonNone, err
		}
		if !valid {
			return false, ReasonScoreInvalid, nil
		}
		if score < e.minScore {
			return false, ReasonScoreTooLow, nil
		}
	}

	loan, err := e.state.GetLoan(borrower)
	if err != nil {
		return false, ReasonNone, err
	}
	if loan != nil && loan.State == LoanStateActive && loan.Outstanding != nil && loan.Outstanding.Sign() > 0 {
		return false, ReasonActiveLoanPresent, nil
	}

	return true, ReasonNone, nil
}
