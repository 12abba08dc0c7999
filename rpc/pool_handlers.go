package rpc

import (
	"encoding/json"
	"math/big"
	"net/http"

	"creditpool/crypto"
)

type accountParams struct {
	Address string `json:"address"`
}

type depositParams struct {
	Lender  string `json:"lender"`
	Amount  string `json:"amount"`
	Payment string `json:"payment"`
}

type withdrawParams struct {
	Lender string `json:"lender"`
	Amount string `json:"amount"`
}

type openLoanParams struct {
	Borrower    string `json:"borrower"`
	Principal   string `json:"principal"`
	TermSeconds int64  `json:"termSeconds"`
}

type repayParams struct {
	Borrower string `json:"borrower"`
	Amount   string `json:"amount"`
	Payment  string `json:"payment"`
}

type transferAssetParams struct {
	Recipient string `json:"recipient"`
	Amount    string `json:"amount"`
}

type amountParams struct {
	Amount string `json:"amount"`
}

type canOpenLoanResult struct {
	OK     bool   `json:"ok"`
	Reason string `json:"reason"`
}

type loanStatusResult struct {
	State       string `json:"state"`
	Principal   string `json:"principal"`
	Outstanding string `json:"outstanding"`
	StartTime   int64  `json:"startTime"`
	DueTime     int64  `json:"dueTime"`
	Banned      bool   `json:"banned"`
}

type lenderStatusResult struct {
	TotalDeposited string `json:"totalDeposited"`
	TotalWithdrawn string `json:"totalWithdrawn"`
	Balance        string `json:"balance"`
	Unlockable     string `json:"unlockable"`
}

func (s *Server) dispatch(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	switch req.Method {
	case "pool_deposit":
		s.handleDeposit(w, req)
	case "pool_withdraw":
		s.handleWithdraw(w, req)
	case "pool_previewWithdraw":
		s.handlePreviewWithdraw(w, req)
	case "pool_lenderStatus":
		s.handleLenderStatus(w, req)
	case "pool_lenderBalance":
		s.handleLenderBalance(w, req)
	case "pool_availableLiquidity":
		s.handleAvailableLiquidity(w, req)
	case "pool_getLoan":
		s.handleGetLoan(w, req)
	case "pool_isBanned":
		s.handleIsBanned(w, req)
	case "pool_canOpenLoan":
		s.handleCanOpenLoan(w, req)
	case "loan_open":
		s.handleOpenLoan(w, req)
	case "loan_repay":
		s.handleRepay(w, req)
	case "loan_checkDefault":
		s.handleCheckDefault(w, req)
	case "loan_unban":
		s.handleUnban(w, req)
	case "pool_transferAsset":
		s.handleTransferAsset(w, req)
	case "pool_prepareBridge":
		s.handlePrepareBridge(w, req)
	default:
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, "unknown method", req.Method)
	}
}

func decodeParams(req *RPCRequest, out interface{}) error {
	if len(req.Params) != 1 {
		return errParamCount
	}
	return json.Unmarshal(req.Params[0], out)
}

var errParamCount = &paramError{"expected a single parameter object"}

type paramError struct{ msg string }

func (e *paramError) Error() string { return e.msg }

func parseAddress(raw string) (crypto.Address, error) {
	return crypto.DecodeAddress(raw)
}

func parseAmount(raw string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(raw, 10)
	if !ok || amount.Sign() < 0 {
		return nil, &paramError{"amount must be a base-10 unsigned integer string"}
	}
	return amount, nil
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func (s *Server) handleDeposit(w http.ResponseWriter, req *RPCRequest) {
	var params depositParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	lender, err := parseAddress(params.Lender)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid lender address", err.Error())
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid amount", err.Error())
		return
	}
	payment, err := parseAmount(params.Payment)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid payment", err.Error())
		return
	}
	if err := s.engine.Deposit(lender, amount, payment); err != nil {
		s.writeEngineError(w, req.ID, "deposit", err)
		return
	}
	s.metrics.ObserveAction("deposit", true)
	writeResult(w, req.ID, map[string]bool{"ok": true})
}

func (s *Server) handleWithdraw(w http.ResponseWriter, req *RPCRequest) {
	var params withdrawParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	lender, err := parseAddress(params.Lender)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid lender address", err.Error())
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid amount", err.Error())
		return
	}
	if err := s.engine.Withdraw(lender, amount); err != nil {
		s.writeEngineError(w, req.ID, "withdraw", err)
		return
	}
	s.metrics.ObserveAction("withdraw", true)
	writeResult(w, req.ID, map[string]bool{"ok": true})
}

func (s *Server) handlePreviewWithdraw(w http.ResponseWriter, req *RPCRequest) {
	lender, ok := s.accountParam(w, req)
	if !ok {
		return
	}
	unlockable, err := s.engine.PreviewWithdraw(lender)
	if err != nil {
		s.writeEngineError(w, req.ID, "previewWithdraw", err)
		return
	}
	writeResult(w, req.ID, map[string]string{"unlockable": bigString(unlockable)})
}

func (s *Server) handleLenderStatus(w http.ResponseWriter, req *RPCRequest) {
	lender, ok := s.accountParam(w, req)
	if !ok {
		return
	}
	status, err := s.engine.LenderStatus(lender)
	if err != nil {
		s.writeEngineError(w, req.ID, "lenderStatus", err)
		return
	}
	writeResult(w, req.ID, lenderStatusResult{
		TotalDeposited: bigString(status.TotalDeposited),
		TotalWithdrawn: bigString(status.TotalWithdrawn),
		Balance:        bigString(status.Balance),
		Unlockable:     bigString(status.Unlockable),
	})
}

func (s *Server) handleLenderBalance(w http.ResponseWriter, req *RPCRequest) {
	lender, ok := s.accountParam(w, req)
	if !ok {
		return
	}
	balance, err := s.engine.LenderBalance(lender)
	if err != nil {
		s.writeEngineError(w, req.ID, "lenderBalance", err)
		return
	}
	writeResult(w, req.ID, map[string]string{"balance": bigString(balance)})
}

func (s *Server) handleAvailableLiquidity(w http.ResponseWriter, req *RPCRequest) {
	liquidity, err := s.engine.AvailableLiquidity()
	if err != nil {
		s.writeEngineError(w, req.ID, "availableLiquidity", err)
		return
	}
	writeResult(w, req.ID, map[string]string{"availableLiquidity": bigString(liquidity)})
}

func (s *Server) handleGetLoan(w http.ResponseWriter, req *RPCRequest) {
	borrower, ok := s.accountParam(w, req)
	if !ok {
		return
	}
	status, err := s.engine.LoanStatus(borrower)
	if err != nil {
		s.writeEngineError(w, req.ID, "getLoan", err)
		return
	}
	writeResult(w, req.ID, loanStatusResult{
		State:       status.State.String(),
		Principal:   bigString(status.Principal),
		Outstanding: bigString(status.Outstanding),
		StartTime:   status.StartTime,
		DueTime:     status.DueTime,
		Banned:      status.Banned,
	})
}

func (s *Server) handleIsBanned(w http.ResponseWriter, req *RPCRequest) {
	borrower, ok := s.accountParam(w, req)
	if !ok {
		return
	}
	banned, err := s.engine.IsBanned(borrower)
	if err != nil {
		s.writeEngineError(w, req.ID, "isBanned", err)
		return
	}
	writeResult(w, req.ID, map[string]bool{"banned": banned})
}

func (s *Server) handleCanOpenLoan(w http.ResponseWriter, req *RPCRequest) {
	var params openLoanParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	borrower, err := parseAddress(params.Borrower)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid borrower address", err.Error())
		return
	}
	principal, err := parseAmount(params.Principal)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid principal", err.Error())
		return
	}
	ok, reason, err := s.engine.CanOpenLoan(borrower, principal, params.TermSeconds)
	if err != nil {
		s.writeEngineError(w, req.ID, "canOpenLoan", err)
		return
	}
	writeResult(w, req.ID, canOpenLoanResult{OK: ok, Reason: reason.String()})
}

func (s *Server) handleOpenLoan(w http.ResponseWriter, req *RPCRequest) {
	var params openLoanParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	borrower, err := parseAddress(params.Borrower)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid borrower address", err.Error())
		return
	}
	principal, err := parseAmount(params.Principal)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid principal", err.Error())
		return
	}
	if err := s.engine.OpenLoan(s.adminAddr, borrower, principal, params.TermSeconds); err != nil {
		s.writeEngineError(w, req.ID, "openLoan", err)
		return
	}
	s.metrics.ObserveAction("openLoan", true)
	writeResult(w, req.ID, map[string]bool{"ok": true})
}

func (s *Server) handleRepay(w http.ResponseWriter, req *RPCRequest) {
	var params repayParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	borrower, err := parseAddress(params.Borrower)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid borrower address", err.Error())
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid amount", err.Error())
		return
	}
	payment, err := parseAmount(params.Payment)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid payment", err.Error())
		return
	}
	if err := s.engine.Repay(borrower, amount, payment); err != nil {
		s.writeEngineError(w, req.ID, "repay", err)
		return
	}
	s.metrics.ObserveAction("repay", true)
	writeResult(w, req.ID, map[string]bool{"ok": true})
}

func (s *Server) handleCheckDefault(w http.ResponseWriter, req *RPCRequest) {
	borrower, ok := s.accountParam(w, req)
	if !ok {
		return
	}
	outcome, err := s.engine.CheckDefault(borrower)
	if err != nil {
		s.writeEngineError(w, req.ID, "checkDefault", err)
		return
	}
	s.metrics.ObserveAction("checkDefault", outcome.Applied)
	writeResult(w, req.ID, map[string]interface{}{
		"applied": outcome.Applied,
		"reason":  outcome.Reason.String(),
	})
}

func (s *Server) handleUnban(w http.ResponseWriter, req *RPCRequest) {
	borrower, ok := s.accountParam(w, req)
	if !ok {
		return
	}
	if err := s.engine.Unban(s.adminAddr, borrower); err != nil {
		s.writeEngineError(w, req.ID, "unban", err)
		return
	}
	s.metrics.ObserveAction("unban", true)
	writeResult(w, req.ID, map[string]bool{"ok": true})
}

func (s *Server) handleTransferAsset(w http.ResponseWriter, req *RPCRequest) {
	var params transferAssetParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	recipient, err := parseAddress(params.Recipient)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid recipient address", err.Error())
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid amount", err.Error())
		return
	}
	if err := s.engine.TransferAsset(s.adminAddr, recipient, amount); err != nil {
		s.writeEngineError(w, req.ID, "transferAsset", err)
		return
	}
	s.metrics.ObserveAction("transferAsset", true)
	writeResult(w, req.ID, map[string]bool{"ok": true})
}

func (s *Server) handlePrepareBridge(w http.ResponseWriter, req *RPCRequest) {
	var params amountParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid amount", err.Error())
		return
	}
	if err := s.engine.PrepareBridge(s.adminAddr, amount); err != nil {
		s.writeEngineError(w, req.ID, "prepareBridge", err)
		return
	}
	s.metrics.ObserveAction("prepareBridge", true)
	writeResult(w, req.ID, map[string]bool{"ok": true})
}

func (s *Server) accountParam(w http.ResponseWriter, req *RPCRequest) (crypto.Address, bool) {
	var params accountParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return crypto.Address{}, false
	}
	addr, err := parseAddress(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid address", err.Error())
		return crypto.Address{}, false
	}
	return addr, true
}
