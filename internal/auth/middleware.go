package auth

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	xerrors "SynapsePay/internal/errors"
)

// Middleware 解析调用方并写入上下文。GET/HEAD 允许匿名访问，其余方法缺少凭证时返回 401。
// publicPaths 中的路径不做认证，例如登录接口本身。
func (s *Service) Middleware(publicPaths ...string) func(http.Handler) http.Handler {
	public := make(map[string]struct{}, len(publicPaths))
	for _, p := range publicPaths {
		public[p] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := public[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}
			caller, err := s.Authenticate(r.Header.Get("Authorization"), r.Header.Get(CallerHeader))
			if err != nil {
				anonymous := xerrors.CodeOf(err) == CodeMissingToken
				if anonymous && (r.Method == http.MethodGet || r.Method == http.MethodHead) {
					next.ServeHTTP(w, r)
					return
				}
				s.audit.Warn("access_denied",
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.String("error", err.Error()),
				)
				writeError(w, err)
				return
			}

			start := time.Now()
			aw := &auditWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(aw, r.WithContext(WithCaller(r.Context(), caller)))
			s.audit.Info("api_request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", aw.status),
				slog.Int64("duration_ms", time.Since(start).Milliseconds()),
				slog.String("caller", caller),
			)
		})
	}
}

func writeError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(xerrors.HTTPStatusOf(err))
	_ = json.NewEncoder(w).Encode(map[string]string{
		"code":    string(xerrors.CodeOf(err)),
		"message": err.Error(),
	})
}

// auditWriter 记录响应状态码。
type auditWriter struct {
	http.ResponseWriter
	status int
}

func (w *auditWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
