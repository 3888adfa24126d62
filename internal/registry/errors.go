package registry

import (
	"net/http"

	xerrors "SynapsePay/internal/errors"
)

const (
	CodeAgentIDTooLong     xerrors.Code = "REGISTRY_AGENT_ID_TOO_LONG"
	CodeMetadataCIDTooLong xerrors.Code = "REGISTRY_METADATA_CID_TOO_LONG"
	CodeInvalidPrice       xerrors.Code = "REGISTRY_INVALID_PRICE"
	CodeUnauthorized       xerrors.Code = "REGISTRY_UNAUTHORIZED"
	CodeAgentNotActive     xerrors.Code = "REGISTRY_AGENT_NOT_ACTIVE"
	CodeAgentExists        xerrors.Code = "REGISTRY_AGENT_EXISTS"
	CodeAgentNotFound      xerrors.Code = "REGISTRY_AGENT_NOT_FOUND"
	CodeInvalidCategory    xerrors.Code = "REGISTRY_INVALID_CATEGORY"
	CodeInvalidRating      xerrors.Code = "REGISTRY_INVALID_RATING"
)

var (
	ErrAgentIDTooLong     = xerrors.New(CodeAgentIDTooLong, "agent id exceeds 32 bytes")
	ErrMetadataCIDTooLong = xerrors.New(CodeMetadataCIDTooLong, "metadata cid exceeds 64 bytes")
	ErrInvalidPrice       = xerrors.New(CodeInvalidPrice, "price must be greater than zero")
	ErrUnauthorized       = xerrors.New(CodeUnauthorized, "caller is not the agent owner")
	ErrAgentNotActive     = xerrors.New(CodeAgentNotActive, "agent is not active")
	ErrAgentExists        = xerrors.New(CodeAgentExists, "agent already registered")
	ErrAgentNotFound      = xerrors.New(CodeAgentNotFound, "agent not found")
	ErrInvalidCategory    = xerrors.New(CodeInvalidCategory, "unknown agent category")
	ErrInvalidRating      = xerrors.New(CodeInvalidRating, "rating must be between 0 and 500")
)

func init() {
	for code, attr := range map[xerrors.Code]xerrors.Attributes{
		CodeAgentIDTooLong:     {Message: "agent id exceeds 32 bytes", Severity: xerrors.SeverityInfo, HTTPStatus: http.StatusBadRequest},
		CodeMetadataCIDTooLong: {Message: "metadata cid exceeds 64 bytes", Severity: xerrors.SeverityInfo, HTTPStatus: http.StatusBadRequest},
		CodeInvalidPrice:       {Message: "price must be greater than zero", Severity: xerrors.SeverityInfo, HTTPStatus: http.StatusBadRequest},
		CodeUnauthorized:       {Message: "caller is not the agent owner", Severity: xerrors.SeverityWarning, HTTPStatus: http.StatusForbidden},
		CodeAgentNotActive:     {Message: "agent is not active", Severity: xerrors.SeverityInfo, HTTPStatus: http.StatusUnprocessableEntity},
		CodeAgentExists:        {Message: "agent already registered", Severity: xerrors.SeverityInfo, HTTPStatus: http.StatusConflict},
		CodeAgentNotFound:      {Message: "agent not found", Severity: xerrors.SeverityInfo, HTTPStatus: http.StatusNotFound},
		CodeInvalidCategory:    {Message: "unknown agent category", Severity: xerrors.SeverityInfo, HTTPStatus: http.StatusBadRequest},
		CodeInvalidRating:      {Message: "rating must be between 0 and 500", Severity: xerrors.SeverityInfo, HTTPStatus: http.StatusBadRequest},
	} {
		xerrors.Register(code, attr)
	}
}
