package api

import (
	"net/http"

	"SynapsePay/internal/auth"
	xerrors "SynapsePay/internal/errors"
	"SynapsePay/internal/registry"
)

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req auth.LoginRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	token, err := s.svc.Auth.Login(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, token)
}

func (s *Server) handleRegisterAgent(w http.ResponseWriter, r *http.Request) {
	var req registry.RegisterRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	agent, err := s.svc.Registry.Register(r.Context(), auth.CallerFromContext(r.Context()), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, agent)
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := page(r)
	if err != nil {
		writeError(w, err)
		return
	}
	q := r.URL.Query()
	opts := registry.ListOptions{
		Owner:      q.Get("owner"),
		ActiveOnly: q.Get("active") == "true",
		Limit:      limit,
		Offset:     offset,
	}
	if raw := q.Get("category"); raw != "" {
		category, ok := registry.ParseCategory(raw)
		if !ok {
			writeError(w, registry.ErrInvalidCategory)
			return
		}
		opts.Category = category
	}
	agents, err := s.svc.Registry.List(r.Context(), opts)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listBody[*registry.Agent]{Items: agents})
}

func (s *Server) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	agent, err := s.svc.Registry.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, agent)
}

func (s *Server) handleUpdateAgent(w http.ResponseWriter, r *http.Request) {
	var req registry.UpdateRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	agent, err := s.svc.Registry.Update(r.Context(), auth.CallerFromContext(r.Context()), r.PathValue("id"), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, agent)
}

func (s *Server) handleDeactivateAgent(w http.ResponseWriter, r *http.Request) {
	agent, err := s.svc.Registry.Deactivate(r.Context(), auth.CallerFromContext(r.Context()), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, agent)
}

func (s *Server) handleReactivateAgent(w http.ResponseWriter, r *http.Request) {
	agent, err := s.svc.Registry.Reactivate(r.Context(), auth.CallerFromContext(r.Context()), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, agent)
}

// TransferRequest 是 POST /agents/{id}/transfer 的请求体。
type TransferRequest struct {
	NewOwner string `json:"new_owner"`
}

func (s *Server) handleTransferAgent(w http.ResponseWriter, r *http.Request) {
	var req TransferRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	agent, err := s.svc.Registry.TransferOwnership(r.Context(), auth.CallerFromContext(r.Context()), r.PathValue("id"), req.NewOwner)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, agent)
}

// RateRequest 是 POST /agents/{id}/rate 的请求体，score 取值 0 到 500。
type RateRequest struct {
	Score *uint16 `json:"score"`
}

func (s *Server) handleRateAgent(w http.ResponseWriter, r *http.Request) {
	var req RateRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Score == nil {
		writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "score 不能为空"))
		return
	}
	agent, err := s.svc.Registry.Rate(r.Context(), auth.CallerFromContext(r.Context()), r.PathValue("id"), *req.Score)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, agent)
}
