package api

import (
	"encoding/hex"
	"net/http"
	"strings"

	"SynapsePay/internal/auth"
	xerrors "SynapsePay/internal/errors"
	"SynapsePay/internal/payments"
)

func (s *Server) handleInitializePlatform(w http.ResponseWriter, r *http.Request) {
	platform, err := s.svc.Payments.InitializePlatform(r.Context(), auth.CallerFromContext(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, platform)
}

func (s *Server) handleGetPlatform(w http.ResponseWriter, r *http.Request) {
	platform, err := s.svc.Payments.Platform(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, platform)
}

// AmountResponse 携带一次资金划转的金额。
type AmountResponse struct {
	Amount uint64 `json:"amount"`
}

func (s *Server) handleWithdrawFees(w http.ResponseWriter, r *http.Request) {
	amount, err := s.svc.Payments.WithdrawFees(r.Context(), auth.CallerFromContext(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, AmountResponse{Amount: amount})
}

func (s *Server) handleCreateInvoice(w http.ResponseWriter, r *http.Request) {
	var req payments.CreateInvoiceRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	inv, err := s.svc.Payments.CreateInvoice(r.Context(), auth.CallerFromContext(r.Context()), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, inv)
}

func (s *Server) handleGetInvoice(w http.ResponseWriter, r *http.Request) {
	inv, err := s.svc.Payments.GetInvoice(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, inv)
}

// SettleRequest 是 POST /invoices/{id}/settle 的请求体。Signature 为付款意图的十六进制签名，可省略。
type SettleRequest struct {
	Signature string `json:"signature,omitempty"`
}

func (s *Server) handleSettleInvoice(w http.ResponseWriter, r *http.Request) {
	var req SettleRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	var sig []byte
	if raw := strings.TrimSpace(req.Signature); raw != "" {
		decoded, err := hex.DecodeString(raw)
		if err != nil {
			writeError(w, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "signature 必须是十六进制编码"))
			return
		}
		sig = decoded
	}
	payment, err := s.svc.Payments.SettlePayment(r.Context(), auth.CallerFromContext(r.Context()), r.PathValue("id"), sig)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, payment)
}

func (s *Server) handleExpireInvoice(w http.ResponseWriter, r *http.Request) {
	inv, err := s.svc.Payments.ExpireInvoice(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, inv)
}

func (s *Server) handleListPayments(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := page(r)
	if err != nil {
		writeError(w, err)
		return
	}
	q := r.URL.Query()
	opts := payments.ListOptions{
		Payer:     q.Get("payer"),
		Recipient: q.Get("recipient"),
		Limit:     limit,
		Offset:    offset,
	}
	for _, raw := range q["state"] {
		state := payments.State(raw)
		if !state.Valid() {
			writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "未知的支付状态: "+raw))
			return
		}
		opts.States = append(opts.States, state)
	}
	list, err := s.svc.Payments.ListPayments(r.Context(), opts)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listBody[*payments.Payment]{Items: list})
}

func (s *Server) handleGetPayment(w http.ResponseWriter, r *http.Request) {
	payment, err := s.svc.Payments.GetPayment(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, payment)
}

func (s *Server) handleVerifyPayment(w http.ResponseWriter, r *http.Request) {
	payment, err := s.svc.Payments.VerifyPayment(r.Context(), auth.CallerFromContext(r.Context()), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, payment)
}

// CompleteRequest 是 POST /payments/{id}/complete 的请求体。
type CompleteRequest struct {
	ResultCID string `json:"result_cid"`
}

func (s *Server) handleCompleteTask(w http.ResponseWriter, r *http.Request) {
	var req CompleteRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	payment, err := s.svc.Payments.CompleteTask(r.Context(), auth.CallerFromContext(r.Context()), r.PathValue("id"), req.ResultCID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, payment)
}

// FailRequest 是 POST /payments/{id}/fail 的请求体。
type FailRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleFailPayment(w http.ResponseWriter, r *http.Request) {
	var req FailRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	payment, err := s.svc.Payments.FailPayment(r.Context(), auth.CallerFromContext(r.Context()), r.PathValue("id"), req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, payment)
}

func (s *Server) handleMintReceipt(w http.ResponseWriter, r *http.Request) {
	receipt, err := s.svc.Payments.MintReceipt(r.Context(), auth.CallerFromContext(r.Context()), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, receipt)
}

func (s *Server) handleClaimPayment(w http.ResponseWriter, r *http.Request) {
	payment, err := s.svc.Payments.ClaimPayment(r.Context(), auth.CallerFromContext(r.Context()), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, payment)
}

func (s *Server) handleRefundPayment(w http.ResponseWriter, r *http.Request) {
	payment, err := s.svc.Payments.RefundPayment(r.Context(), auth.CallerFromContext(r.Context()), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, payment)
}

func (s *Server) handleGetReceipt(w http.ResponseWriter, r *http.Request) {
	receipt, err := s.svc.Payments.GetReceipt(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

// AccountResponse 是 GET /ledger/accounts/{account} 的响应。
type AccountResponse struct {
	Account string `json:"account"`
	Balance uint64 `json:"balance"`
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	if s.svc.Ledger == nil {
		writeError(w, payments.ErrEscrowDisabled)
		return
	}
	account := r.PathValue("account")
	balance, err := s.svc.Ledger.Balance(r.Context(), account)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, AccountResponse{Account: account, Balance: balance})
}
