package creditpool

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"creditpool/core/types"
	"creditpool/crypto"
)

const (
	EventTypeDeposit       = "creditpool.deposit"
	EventTypeWithdraw      = "creditpool.withdraw"
	EventTypeLoanOpened    = "creditpool.loan.open"
	EventTypeLoanRepaid    = "creditpool.loan.repay"
	EventTypeDefaultCheck  = "creditpool.loan.default_check"
	EventTypeUnban         = "creditpool.loan.unban"
	EventTypeAssetTransfer = "creditpool.asset.transfer"
	EventTypeBridgePrepare = "creditpool.bridge.prepare"
)

// poolSnapshot is the post-action view attached to deposit/withdraw audit
// records.
type poolSnapshot struct {
	PoolBalance *big.Int
	Unlockable  *big.Int
}

// loanSnapshot is the post-action view attached to loan audit records.
type loanSnapshot struct {
	State       LoanState
	Principal   *big.Int
	Outstanding *big.Int
	startTime   int64
	DueTime     int64
	Banned      bool
}

// assetSnapshot is the post-action view attached to secondary-asset audit
// records.
type assetSnapshot struct {
	BridgeBalance *big.Int
}

func newAuditEvent(eventType, action string, account crypto.Address, success bool, reason Reason) *types.Event {
	attrs := map[string]string{
		"action":  action,
		"account": hex.EncodeToString(account.Bytes()),
		"success": strconv.FormatBool(success),
		"reason":  reason.String(),
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}

func amountAttr(attrs map[string]string, key string, amount *big.Int) {
	if amount == nil {
		attrs[key] = "0"
		return
	}
	attrs[key] = amount.String()
}

// NewDepositEvent builds the audit record for a deposit attempt.
func NewDepositEvent(account crypto.Address, success bool, reason Reason, amount *big.Int, snap poolSnapshot) *types.Event {
	evt := newAuditEvent(EventTypeDeposit, "deposit", account, success, reason)
	amountAttr(evt.Attributes, "amount", amount)
	amountAttr(evt.Attributes, "poolBalance", snap.PoolBalance)
	amountAttr(evt.Attributes, "unlockable", snap.Unlockable)
	return evt
}

// NewWithdrawEvent builds the audit record for a withdrawal attempt.
func NewWithdrawEvent(account crypto.Address, success bool, reason Reason, amount *big.Int, snap poolSnapshot) *types.Event {
	evt := newAuditEvent(EventTypeWithdraw, "withdraw", account, success, reason)
	amountAttr(evt.Attributes, "amount", amount)
	amountAttr(evt.Attributes, "poolBalance", snap.PoolBalance)
	amountAttr(evt.Attributes, "unlockable", snap.Unlockable)
	return evt
}

func newLoanEvent(eventType, action string, account crypto.Address, success bool, reason Reason, snap loanSnapshot) *types.Event {
	evt := newAuditEvent(eventType, action, account, success, reason)
	evt.Attributes["state"] = snap.State.String()
	amountAttr(evt.Attributes, "principal", snap.Principal)
	amountAttr(evt.Attributes, "outstanding", snap.Outstanding)
	evt.Attributes["dueTime"] = strconv.FormatInt(snap.DueTime, 10)
	evt.Attributes["banned"] = strconv.FormatBool(snap.Banned)
	return evt
}

// NewLoanOpenedEvent builds the audit record for a loan issuance attempt.
func NewLoanOpenedEvent(borrower crypto.Address, success bool, reason Reason, snap loanSnapshot) *types.Event {
	return newLoanEvent(EventTypeLoanOpened, "openLoan", borrower, success, reason, snap)
}

// NewLoanRepaidEvent builds the audit record for a repayment attempt.
func NewLoanRepaidEvent(borrower crypto.Address, success bool, reason Reason, snap loanSnapshot) *types.Event {
	return newLoanEvent(EventTypeLoanRepaid, "repay", borrower, success, reason, snap)
}

// NewDefaultCheckEvent builds the audit record for a default check.
func NewDefaultCheckEvent(borrower crypto.Address, success bool, reason Reason, snap loanSnapshot) *types.Event {
	return newLoanEvent(EventTypeDefaultCheck, "checkDefault", borrower, success, reason, snap)
}

// NewUnbanEvent builds the audit record for an administrator unban.
func NewUnbanEvent(borrower crypto.Address, success bool, reason Reason, snap loanSnapshot) *types.Event {
	return newLoanEvent(EventTypeUnban, "unban", borrower, success, reason, snap)
}

// NewAssetTransferEvent builds the audit record for a secondary asset
// transfer.
func NewAssetTransferEvent(recipient crypto.Address, success bool, reason Reason, amount *big.Int, snap assetSnapshot) *types.Event {
	evt := newAuditEvent(EventTypeAssetTransfer, "transferAsset", recipient, success, reason)
	amountAttr(evt.Attributes, "amount", amount)
	amountAttr(evt.Attributes, "bridgeBalance", snap.BridgeBalance)
	return evt
}

// NewBridgePrepareEvent builds the audit record for a cross-ledger transfer
// preparation.
func NewBridgePrepareEvent(admin crypto.Address, success bool, reason Reason, amount *big.Int, snap assetSnapshot) *types.Event {
	evt := newAuditEvent(EventTypeBridgePrepare, "prepareBridge", admin, success, reason)
	amountAttr(evt.Attributes, "amount", amount)
	amountAttr(evt.Attributes, "bridgeBalance", snap.BridgeBalance)
	return evt
}
