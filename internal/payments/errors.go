package payments

import (
	"net/http"

	xerrors "SynapsePay/internal/errors"
)

const (
	CodeInvalidAmount          xerrors.Code = "PAYMENTS_INVALID_AMOUNT"
	CodeInvalidExpiry          xerrors.Code = "PAYMENTS_INVALID_EXPIRY"
	CodeAgentIDTooLong         xerrors.Code = "PAYMENTS_AGENT_ID_TOO_LONG"
	CodeResultCIDTooLong       xerrors.Code = "PAYMENTS_RESULT_CID_TOO_LONG"
	CodeInvoiceExpired         xerrors.Code = "PAYMENTS_INVOICE_EXPIRED"
	CodeInvalidState           xerrors.Code = "PAYMENTS_INVALID_STATE"
	CodeUnauthorized           xerrors.Code = "PAYMENTS_UNAUTHORIZED"
	CodeInvalidSignature       xerrors.Code = "PAYMENTS_INVALID_SIGNATURE"
	CodeNonceAlreadyUsed       xerrors.Code = "PAYMENTS_NONCE_ALREADY_USED"
	CodeNoFeesToWithdraw       xerrors.Code = "PAYMENTS_NO_FEES_TO_WITHDRAW"
	CodeInvoiceExists          xerrors.Code = "PAYMENTS_INVOICE_EXISTS"
	CodeInvoiceNotFound        xerrors.Code = "PAYMENTS_INVOICE_NOT_FOUND"
	CodePaymentNotFound        xerrors.Code = "PAYMENTS_PAYMENT_NOT_FOUND"
	CodeReceiptExists          xerrors.Code = "PAYMENTS_RECEIPT_EXISTS"
	CodeReceiptNotFound        xerrors.Code = "PAYMENTS_RECEIPT_NOT_FOUND"
	CodePlatformExists         xerrors.Code = "PAYMENTS_PLATFORM_EXISTS"
	CodePlatformNotInitialized xerrors.Code = "PAYMENTS_PLATFORM_NOT_INITIALIZED"
	CodeEscrowDisabled         xerrors.Code = "PAYMENTS_ESCROW_DISABLED"
)

var (
	ErrInvalidAmount          = define(CodeInvalidAmount, "amount must be greater than zero", xerrors.SeverityInfo, http.StatusBadRequest)
	ErrInvalidExpiry          = define(CodeInvalidExpiry, "expiry must be in the future", xerrors.SeverityInfo, http.StatusBadRequest)
	ErrAgentIDTooLong         = define(CodeAgentIDTooLong, "agent id exceeds 32 bytes", xerrors.SeverityInfo, http.StatusBadRequest)
	ErrResultCIDTooLong       = define(CodeResultCIDTooLong, "result cid exceeds 64 bytes", xerrors.SeverityInfo, http.StatusBadRequest)
	ErrInvoiceExpired         = define(CodeInvoiceExpired, "invoice has expired", xerrors.SeverityInfo, http.StatusGone)
	ErrInvalidState           = define(CodeInvalidState, "invalid state for this operation", xerrors.SeverityInfo, http.StatusConflict)
	ErrUnauthorized           = define(CodeUnauthorized, "caller is not authorized for this payment", xerrors.SeverityWarning, http.StatusForbidden)
	ErrInvalidSignature       = define(CodeInvalidSignature, "invalid payment signature", xerrors.SeverityWarning, http.StatusUnauthorized)
	ErrNonceAlreadyUsed       = define(CodeNonceAlreadyUsed, "nonce already used", xerrors.SeverityWarning, http.StatusConflict)
	ErrNoFeesToWithdraw       = define(CodeNoFeesToWithdraw, "no fees to withdraw", xerrors.SeverityInfo, http.StatusUnprocessableEntity)
	ErrInvoiceExists          = define(CodeInvoiceExists, "invoice already exists", xerrors.SeverityInfo, http.StatusConflict)
	ErrInvoiceNotFound        = define(CodeInvoiceNotFound, "invoice not found", xerrors.SeverityInfo, http.StatusNotFound)
	ErrPaymentNotFound        = define(CodePaymentNotFound, "payment not found", xerrors.SeverityInfo, http.StatusNotFound)
	ErrReceiptExists          = define(CodeReceiptExists, "receipt already minted", xerrors.SeverityInfo, http.StatusConflict)
	ErrReceiptNotFound        = define(CodeReceiptNotFound, "receipt not found", xerrors.SeverityInfo, http.StatusNotFound)
	ErrPlatformExists         = define(CodePlatformExists, "platform already initialized", xerrors.SeverityInfo, http.StatusConflict)
	ErrPlatformNotInitialized = define(CodePlatformNotInitialized, "platform not initialized", xerrors.SeverityWarning, http.StatusPreconditionFailed)
	ErrEscrowDisabled         = define(CodeEscrowDisabled, "escrow is disabled", xerrors.SeverityInfo, http.StatusNotImplemented)
)

// define 注册错误码并返回对应的哨兵错误。
func define(code xerrors.Code, message string, severity xerrors.Severity, status int) *xerrors.Error {
	xerrors.Register(code, xerrors.Attributes{Message: message, Severity: severity, HTTPStatus: status})
	return xerrors.New(code, message)
}
