package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	xerrors "SynapsePay/internal/errors"
	"SynapsePay/pkg/logger"
)

// errorBody 是所有错误响应的结构。
type errorBody struct {
	Code    xerrors.Code `json:"code"`
	Message string       `json:"message"`
}

// listBody 包装列表响应。
type listBody[T any] struct {
	Items []T `json:"items"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError 按错误码注册表映射状态码。未登记的错误统一视为 500，并且不向外暴露细节。
func writeError(w http.ResponseWriter, err error) {
	e, ok := xerrors.From(err)
	if !ok {
		logger.L().Error("未分类的内部错误", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Code: xerrors.CodeUnknown, Message: "internal error"})
		return
	}
	status := xerrors.HTTPStatusOf(err)
	if status >= http.StatusInternalServerError {
		logger.L().Error("请求处理失败", "error", err)
	}
	writeJSON(w, status, errorBody{Code: e.Code(), Message: e.Message()})
}

// decode 读取 JSON 请求体。空请求体视为零值。
func decode(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "请求体解析失败")
	}
	return nil
}

// page 解析 limit/offset 查询参数。
func page(r *http.Request) (limit, offset int, err error) {
	q := r.URL.Query()
	if raw := q.Get("limit"); raw != "" {
		if limit, err = strconv.Atoi(raw); err != nil || limit < 0 {
			return 0, 0, xerrors.New(xerrors.CodeInvalidArgument, "limit 必须是非负整数")
		}
	}
	if raw := q.Get("offset"); raw != "" {
		if offset, err = strconv.Atoi(raw); err != nil || offset < 0 {
			return 0, 0, xerrors.New(xerrors.CodeInvalidArgument, "offset 必须是非负整数")
		}
	}
	return limit, offset, nil
}
