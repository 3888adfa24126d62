// Package api 通过 HTTP/JSON 暴露 agent 目录、支付与订阅接口。
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"SynapsePay/internal/auth"
	xerrors "SynapsePay/internal/errors"
	"SynapsePay/internal/ledger"
	"SynapsePay/internal/observability/metrics"
	"SynapsePay/internal/payments"
	"SynapsePay/internal/registry"
	"SynapsePay/internal/scheduler"
	"SynapsePay/pkg/logger"
)

const (
	apiPrefix    = "/api/v1"
	tokenPath    = apiPrefix + "/auth/token"
	maxBodyBytes = 1 << 20
)

// Services 汇总 API 依赖的业务服务。Ledger 为空表示未启用托管。
type Services struct {
	Registry  *registry.Service
	Payments  *payments.Service
	Scheduler *scheduler.Service
	Ledger    ledger.Ledger
	Auth      *auth.Service
}

// Server 负责暴露 REST 接口。
type Server struct {
	addr    string
	svc     Services
	log     *slog.Logger
	handler http.Handler
}

// NewServer 构造 API 服务实例并注册路由。
func NewServer(addr string, svc Services) (*Server, error) {
	if svc.Registry == nil || svc.Payments == nil || svc.Scheduler == nil || svc.Auth == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "API 依赖的服务未全部初始化")
	}
	s := &Server{addr: addr, svc: svc, log: logger.Named("api")}
	s.handler = s.routes()
	return s, nil
}

// Handler 返回完整的 HTTP 处理器，测试中配合 httptest 使用。
func (s *Server) Handler() http.Handler { return s.handler }

func (s *Server) routes() http.Handler {
	api := http.NewServeMux()
	s.handle(api, "POST "+tokenPath, s.handleLogin)

	s.handle(api, "POST /api/v1/agents", s.handleRegisterAgent)
	s.handle(api, "GET /api/v1/agents", s.handleListAgents)
	s.handle(api, "GET /api/v1/agents/{id}", s.handleGetAgent)
	s.handle(api, "PATCH /api/v1/agents/{id}", s.handleUpdateAgent)
	s.handle(api, "POST /api/v1/agents/{id}/deactivate", s.handleDeactivateAgent)
	s.handle(api, "POST /api/v1/agents/{id}/reactivate", s.handleReactivateAgent)
	s.handle(api, "POST /api/v1/agents/{id}/transfer", s.handleTransferAgent)
	s.handle(api, "POST /api/v1/agents/{id}/rate", s.handleRateAgent)

	s.handle(api, "POST /api/v1/platform/initialize", s.handleInitializePlatform)
	s.handle(api, "GET /api/v1/platform", s.handleGetPlatform)
	s.handle(api, "POST /api/v1/platform/withdraw-fees", s.handleWithdrawFees)

	s.handle(api, "POST /api/v1/invoices", s.handleCreateInvoice)
	s.handle(api, "GET /api/v1/invoices/{id}", s.handleGetInvoice)
	s.handle(api, "POST /api/v1/invoices/{id}/settle", s.handleSettleInvoice)
	s.handle(api, "POST /api/v1/invoices/{id}/expire", s.handleExpireInvoice)

	s.handle(api, "GET /api/v1/payments", s.handleListPayments)
	s.handle(api, "GET /api/v1/payments/{id}", s.handleGetPayment)
	s.handle(api, "POST /api/v1/payments/{id}/verify", s.handleVerifyPayment)
	s.handle(api, "POST /api/v1/payments/{id}/complete", s.handleCompleteTask)
	s.handle(api, "POST /api/v1/payments/{id}/fail", s.handleFailPayment)
	s.handle(api, "POST /api/v1/payments/{id}/receipt", s.handleMintReceipt)
	s.handle(api, "POST /api/v1/payments/{id}/claim", s.handleClaimPayment)
	s.handle(api, "POST /api/v1/payments/{id}/refund", s.handleRefundPayment)
	s.handle(api, "GET /api/v1/receipts/{id}", s.handleGetReceipt)

	s.handle(api, "POST /api/v1/subscriptions", s.handleCreateSubscription)
	s.handle(api, "GET /api/v1/subscriptions", s.handleListSubscriptions)
	s.handle(api, "GET /api/v1/subscriptions/{id}", s.handleGetSubscription)
	s.handle(api, "PATCH /api/v1/subscriptions/{id}", s.handleUpdateSubscription)
	s.handle(api, "DELETE /api/v1/subscriptions/{id}", s.handleCancelSubscription)
	s.handle(api, "POST /api/v1/subscriptions/{id}/fund", s.handleFundSubscription)
	s.handle(api, "POST /api/v1/subscriptions/{id}/pause", s.handlePauseSubscription)
	s.handle(api, "POST /api/v1/subscriptions/{id}/resume", s.handleResumeSubscription)
	s.handle(api, "POST /api/v1/subscriptions/{id}/trigger", s.handleTriggerSubscription)

	s.handle(api, "GET /api/v1/ledger/accounts/{account}", s.handleGetAccount)

	root := http.NewServeMux()
	root.Handle(apiPrefix+"/", s.svc.Auth.Middleware(tokenPath)(api))
	root.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "escrow": s.svc.Ledger != nil})
	})
	root.Handle("GET /metrics", metrics.Handler())
	return root
}

// handle 注册路由并按路由模式记录请求指标。
func (s *Server) handle(mux *http.ServeMux, pattern string, fn http.HandlerFunc) {
	mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		fn(sw, r)
		metrics.ObserveHTTPRequest(pattern, r.Method, sw.status, time.Since(start))
	})
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.handler),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.log.Info("API 服务已启动", slog.String("addr", s.addr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "服务已关闭"))
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
