package api

import (
	"net/http"

	"SynapsePay/internal/auth"
	"SynapsePay/internal/scheduler"
)

func (s *Server) handleCreateSubscription(w http.ResponseWriter, r *http.Request) {
	var req scheduler.CreateRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	sub, err := s.svc.Scheduler.Create(r.Context(), auth.CallerFromContext(r.Context()), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sub)
}

func (s *Server) handleListSubscriptions(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := page(r)
	if err != nil {
		writeError(w, err)
		return
	}
	q := r.URL.Query()
	subs, err := s.svc.Scheduler.List(r.Context(), scheduler.ListOptions{
		Owner:   q.Get("owner"),
		AgentID: q.Get("agent_id"),
		Limit:   limit,
		Offset:  offset,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listBody[*scheduler.Subscription]{Items: subs})
}

func (s *Server) handleGetSubscription(w http.ResponseWriter, r *http.Request) {
	sub, err := s.svc.Scheduler.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

// UpdateSubscriptionRequest 是 PATCH /subscriptions/{id} 的请求体。
type UpdateSubscriptionRequest struct {
	Cadence scheduler.Cadence `json:"cadence"`
}

func (s *Server) handleUpdateSubscription(w http.ResponseWriter, r *http.Request) {
	var req UpdateSubscriptionRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	sub, err := s.svc.Scheduler.UpdateCadence(r.Context(), auth.CallerFromContext(r.Context()), r.PathValue("id"), req.Cadence)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

// RefundResponse 是取消订阅的响应，携带退回给所有者的余额。
type RefundResponse struct {
	Refunded uint64 `json:"refunded"`
}

func (s *Server) handleCancelSubscription(w http.ResponseWriter, r *http.Request) {
	refunded, err := s.svc.Scheduler.Cancel(r.Context(), auth.CallerFromContext(r.Context()), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, RefundResponse{Refunded: refunded})
}

// FundRequest 是 POST /subscriptions/{id}/fund 的请求体。
type FundRequest struct {
	Amount uint64 `json:"amount"`
}

func (s *Server) handleFundSubscription(w http.ResponseWriter, r *http.Request) {
	var req FundRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	sub, err := s.svc.Scheduler.Fund(r.Context(), auth.CallerFromContext(r.Context()), r.PathValue("id"), req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

func (s *Server) handlePauseSubscription(w http.ResponseWriter, r *http.Request) {
	sub, err := s.svc.Scheduler.Pause(r.Context(), auth.CallerFromContext(r.Context()), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

func (s *Server) handleResumeSubscription(w http.ResponseWriter, r *http.Request) {
	sub, err := s.svc.Scheduler.Resume(r.Context(), auth.CallerFromContext(r.Context()), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

// handleTriggerSubscription 允许任意调用方充当 keeper。
func (s *Server) handleTriggerSubscription(w http.ResponseWriter, r *http.Request) {
	result, err := s.svc.Scheduler.Trigger(r.Context(), auth.CallerFromContext(r.Context()), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
