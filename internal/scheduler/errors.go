package scheduler

import (
	"net/http"

	xerrors "SynapsePay/internal/errors"
)

const (
	CodeAgentIDTooLong         xerrors.Code = "SCHEDULER_AGENT_ID_TOO_LONG"
	CodeUnauthorized           xerrors.Code = "SCHEDULER_UNAUTHORIZED"
	CodeNotActive              xerrors.Code = "SCHEDULER_NOT_ACTIVE"
	CodeIsPaused               xerrors.Code = "SCHEDULER_IS_PAUSED"
	CodeInsufficientBalance    xerrors.Code = "SCHEDULER_INSUFFICIENT_BALANCE"
	CodeNotTimeYet             xerrors.Code = "SCHEDULER_NOT_TIME_YET"
	CodeMaxRunsReached         xerrors.Code = "SCHEDULER_MAX_RUNS_REACHED"
	CodeInvalidCadence         xerrors.Code = "SCHEDULER_INVALID_CADENCE"
	CodeInvalidAmount          xerrors.Code = "SCHEDULER_INVALID_AMOUNT"
	CodeSubscriptionExists     xerrors.Code = "SCHEDULER_SUBSCRIPTION_EXISTS"
	CodeSubscriptionNotFound   xerrors.Code = "SCHEDULER_SUBSCRIPTION_NOT_FOUND"
	CodeConcurrentModification xerrors.Code = "SCHEDULER_CONCURRENT_MODIFICATION"
)

var (
	ErrAgentIDTooLong         = define(CodeAgentIDTooLong, "agent id exceeds 32 bytes", xerrors.SeverityInfo, http.StatusBadRequest)
	ErrUnauthorized           = define(CodeUnauthorized, "caller is not the subscription owner", xerrors.SeverityWarning, http.StatusForbidden)
	ErrNotActive              = define(CodeNotActive, "subscription is not active", xerrors.SeverityInfo, http.StatusUnprocessableEntity)
	ErrIsPaused               = define(CodeIsPaused, "subscription is paused", xerrors.SeverityInfo, http.StatusUnprocessableEntity)
	ErrInsufficientBalance    = define(CodeInsufficientBalance, "insufficient subscription balance", xerrors.SeverityWarning, http.StatusPaymentRequired)
	ErrNotTimeYet             = define(CodeNotTimeYet, "subscription is not due yet", xerrors.SeverityInfo, http.StatusTooEarly)
	ErrMaxRunsReached         = define(CodeMaxRunsReached, "maximum runs reached", xerrors.SeverityWarning, http.StatusUnprocessableEntity)
	ErrInvalidCadence         = define(CodeInvalidCadence, "invalid cadence", xerrors.SeverityInfo, http.StatusBadRequest)
	ErrInvalidAmount          = define(CodeInvalidAmount, "amount must be greater than zero", xerrors.SeverityInfo, http.StatusBadRequest)
	ErrSubscriptionExists     = define(CodeSubscriptionExists, "subscription already exists", xerrors.SeverityInfo, http.StatusConflict)
	ErrSubscriptionNotFound   = define(CodeSubscriptionNotFound, "subscription not found", xerrors.SeverityInfo, http.StatusNotFound)
	ErrConcurrentModification = define(CodeConcurrentModification, "subscription changed concurrently", xerrors.SeverityWarning, http.StatusConflict)
)

func define(code xerrors.Code, message string, severity xerrors.Severity, status int) *xerrors.Error {
	xerrors.Register(code, xerrors.Attributes{Message: message, Severity: severity, HTTPStatus: status})
	return xerrors.New(code, message)
}
