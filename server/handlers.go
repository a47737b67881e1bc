package server

import (
	"net/http"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/rushteam/dropfeed/core"
	"github.com/rushteam/dropfeed/feed"
	"github.com/rushteam/dropfeed/filter"
	"github.com/rushteam/dropfeed/logging"
)

const maxBodyBytes = 64 << 10

// RatingRequest 是评分反馈请求体。
type RatingRequest struct {
	ImpressionID string   `json:"impressionId" validate:"required,max=64"`
	Rating       *float64 `json:"rating" validate:"required,gte=-5,lte=5"`
}

// ActionRequest 是行为反馈请求体。
type ActionRequest struct {
	ImpressionID string         `json:"impressionId" validate:"required,max=64"`
	Action       string         `json:"action" validate:"required,max=32"`
	Meta         map[string]any `json:"meta"`
}

type ResetSeenRequest struct {
	Role  string `json:"role" validate:"omitempty,oneof=buyer seller auto"`
	V     int    `json:"v" validate:"omitempty,oneof=1 2"`
	Scope string `json:"scope" validate:"omitempty,oneof=cards shops drops all"`
}

type WarmRequest struct {
	UserID string `json:"userId" validate:"required,max=128"`
	Role   string `json:"role" validate:"omitempty,oneof=buyer seller auto"`
	V      int    `json:"v" validate:"omitempty,oneof=1 2"`
	Stream string `json:"stream" validate:"omitempty,max=32"`
}

// handleFeed 解析查询参数时宽松处理：非法值回落到默认，只有认证失败返回 401。
func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	v, _ := strconv.Atoi(q.Get("v"))
	req := feed.Request{
		UserID:  logging.UserIDFromContext(r.Context()),
		Role:    parseRole(q.Get("role")),
		Limit:   limit,
		Version: v,
		Stream:  strings.ToLower(strings.TrimSpace(q.Get("stream"))),
	}
	resp, err := s.svc.Feed(r.Context(), req)
	if err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRating(w http.ResponseWriter, r *http.Request) {
	var req RatingRequest
	if !s.decode(w, r, &req) {
		return
	}
	userID := logging.UserIDFromContext(r.Context())
	if err := s.svc.RecordRating(r.Context(), userID, req.ImpressionID, *req.Rating); err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	var req ActionRequest
	if !s.decode(w, r, &req) {
		return
	}
	userID := logging.UserIDFromContext(r.Context())
	if err := s.svc.RecordAction(r.Context(), userID, req.ImpressionID, strings.ToLower(req.Action), req.Meta); err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleResetSeen(w http.ResponseWriter, r *http.Request) {
	var req ResetSeenRequest
	if !s.decode(w, r, &req) {
		return
	}
	userID := logging.UserIDFromContext(r.Context())
	scope := filter.Scope(req.Scope)
	if scope == "" {
		scope = filter.ScopeAll
	}
	if err := s.svc.ResetSeen(r.Context(), userID, parseRole(req.Role), req.V, scope); err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "scope": scope})
}

func (s *Server) handleWarm(w http.ResponseWriter, r *http.Request) {
	var req WarmRequest
	if !s.decode(w, r, &req) {
		return
	}
	res, err := s.svc.Warm(r.Context(), feed.WarmRequest{
		UserID:  req.UserID,
		Role:    parseRole(req.Role),
		Version: req.V,
		Stream:  strings.ToLower(req.Stream),
	})
	if err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "result": res})
}

func parseRole(s string) core.Role {
	switch core.Role(strings.ToLower(strings.TrimSpace(s))) {
	case core.RoleBuyer:
		return core.RoleBuyer
	case core.RoleSeller:
		return core.RoleSeller
	default:
		return core.RoleAuto
	}
}

// decode 解析并校验请求体；失败时已写出 400。
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, core.ErrorCodeInvalidInput, "invalid JSON body")
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, core.ErrorCodeInvalidInput, err.Error())
		return false
	}
	return true
}

func (s *Server) respondDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusOf(err)
	if status >= http.StatusInternalServerError {
		logging.Ctx(r.Context()).Error().Err(err).Str("code", code).Msg("request failed")
	}
	msg := err.Error()
	if de := core.GetDomainError(err); de != nil {
		msg = de.Message
	}
	writeError(w, status, code, msg)
}

func statusOf(err error) (int, string) {
	de := core.GetDomainError(err)
	if de == nil {
		return http.StatusInternalServerError, core.ErrorCodeInternalError
	}
	switch de.Code {
	case core.ErrorCodeNotFound:
		return http.StatusNotFound, de.Code
	case core.ErrorCodeInvalidInput:
		return http.StatusBadRequest, de.Code
	case core.ErrorCodeUnauthorized:
		return http.StatusUnauthorized, de.Code
	case core.ErrorCodeUnavailable:
		return http.StatusServiceUnavailable, de.Code
	case core.ErrorCodeNotSupported:
		return http.StatusNotImplemented, de.Code
	default:
		return http.StatusInternalServerError, de.Code
	}
}

type errorBody struct {
	OK    bool   `json:"ok"`
	Code  string `json:"code"`
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorBody{OK: false, Code: code, Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Warn().Err(err).Msg("encode response")
	}
}
