package creditpool

import (
	"errors"
	"fmt"
)

// Reason is the closed set of rejection and outcome codes reported by pool
// actions. Codes are stable: auditors and the RPC surface key off them.
type Reason uint8

const (
	ReasonNone Reason = iota

	// Deposit / withdraw.
	ReasonAmountZero
	ReasonPaymentMismatch
	ReasonAmountTooLarge
	ReasonWithdrawLocked
	ReasonInsufficientBalance
	ReasonInsufficientLiquidity
	ReasonTransferFailed

	// Loan eligibility, in evaluation order.
	ReasonPrincipalZero
	ReasonTermZero
	ReasonBorrowerBanned
	ReasonMissingCredential
	ReasonScoreInvalid
	ReasonScoreTooLow
	ReasonActiveLoanPresent

	// Repay and default detection.
	ReasonNoActiveLoan
	ReasonRepayAmountMismatch
	ReasonNotOverdue
	ReasonLoanSettled
	ReasonAlreadyBanned

	// Administration.
	ReasonNotAdministrator
	ReasonNotBanned
	ReasonRecipientZero
)

var reasonCodes = map[Reason]string{
	ReasonNone:                  "OK",
	ReasonAmountZero:            "AMOUNT_ZERO",
	ReasonPaymentMismatch:       "PAYMENT_MISMATCH",
	ReasonAmountTooLarge:        "AMOUNT_TOO_LARGE",
	ReasonWithdrawLocked:        "WITHDRAW_LOCKED",
	ReasonInsufficientBalance:   "INSUFFICIENT_BALANCE",
	ReasonInsufficientLiquidity: "INSUFFICIENT_LIQUIDITY",
	ReasonTransferFailed:        "TRANSFER_FAILED",
	ReasonPrincipalZero:         "PRINCIPAL_ZERO",
	ReasonTermZero:              "TERM_ZERO",
	ReasonBorrowerBanned:        "BORROWER_BANNED",
	ReasonMissingCredential:     "MISSING_CREDENTIAL",
	ReasonScoreInvalid:          "SCORE_INVALID",
	ReasonScoreTooLow:           "SCORE_TOO_LOW",
	ReasonActiveLoanPresent:     "ACTIVE_LOAN_PRESENT",
	ReasonNoActiveLoan:          "NO_ACTIVE_LOAN",
	ReasonRepayAmountMismatch:   "REPAY_AMOUNT_MISMATCH",
	ReasonNotOverdue:            "NOT_OVERDUE",
	ReasonLoanSettled:           "LOAN_SETTLED",
	ReasonAlreadyBanned:         "ALREADY_BANNED",
	ReasonNotAdministrator:      "NOT_ADMINISTRATOR",
	ReasonNotBanned:             "NOT_BANNED",
	ReasonRecipientZero:         "RECIPIENT_ZERO",
}

// String returns the canonical wire code for the reason.
func (r Reason) String() string {
	if code, ok := reasonCodes[r]; ok {
		return code
	}
	return fmt.Sprintf("UNKNOWN(%d)", uint8(r))
}

// RejectionError is returned when an action fails one of the pool's business
// rules. Infrastructure failures use plain sentinel errors instead.
type RejectionError struct {
	Action string
	Reason Reason
	// Err carries the underlying cause for transfer failures.
	Err error
}

// Error implements the error interface.
func (e *RejectionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("creditpool %s rejected: %s: %v", e.Action, e.Reason, e.Err)
	}
	return fmt.Sprintf("creditpool %s rejected: %s", e.Action, e.Reason)
}

// Unwrap exposes the underlying cause, if any.
func (e *RejectionError) Unwrap() error { return e.Err }

func reject(action string, reason Reason) *RejectionError {
	return &RejectionError{Action: action, Reason: reason}
}

func rejectWithCause(action string, reason Reason, cause error) *RejectionError {
	return &RejectionError{Action: action, Reason: reason, Err: cause}
}

// ReasonOf extracts the rejection reason from an error, reporting ok=false
// for infrastructure errors that carry no reason code.
func ReasonOf(err error) (Reason, bool) {
	if err == nil {
		return ReasonNone, true
	}
	var rejection *RejectionError
	if errors.As(err, &rejection) {
		return rejection.Reason, true
	}
	return ReasonNone, false
}
