package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/MimeLyc/hospital-agent/internal/agent"
	"github.com/MimeLyc/hospital-agent/internal/gateway"
	"github.com/MimeLyc/hospital-agent/internal/llm"
	"github.com/MimeLyc/hospital-agent/internal/monitor"
	"github.com/MimeLyc/hospital-agent/pkg/log"
)

const (
	missingMessageError = "Missing 'message' in request body"
	completionFailed    = "Sorry, I could not get an answer from the language model. Please try again."
	chatDisabledReply   = "The assistant is not configured on this server."

	defaultToolCallLimit = 50
	maxToolCallLimit     = 500
	providerCheckTimeout = 15 * time.Second
)

type healthResponse struct {
	Status      string            `json:"status"`
	Message     string            `json:"message"`
	Version     string            `json:"version"`
	ChatEnabled bool              `json:"chat_enabled"`
	Backend     *monitor.Snapshot `json:"backend,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" && r.URL.Path != "/health" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	resp := healthResponse{
		Status:      "healthy",
		Message:     serviceMessage,
		Version:     serviceVersion,
		ChatEnabled: s.chatEnabled(),
	}
	if s.health != nil {
		snap := s.health.Snapshot()
		resp.Backend = &snap
	}
	writeJSON(w, http.StatusOK, resp)
}

type chatRequest struct {
	Message             *string       `json:"message"`
	ConversationHistory []llm.Message `json:"conversation_history"`
}

type chatResponse struct {
	Response            string            `json:"response"`
	ToolCallsMade       int               `json:"tool_calls_made"`
	ToolsUsed           []string          `json:"tools_used"`
	ConversationHistory []llm.Message     `json:"conversation_history"`
	Status              agent.Status      `json:"status"`
	FailureKind         agent.FailureKind `json:"failure_kind,omitempty"`
	Error               string            `json:"error,omitempty"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req chatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.maxBodyBytes)).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
			return
		}
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if req.Message == nil || strings.TrimSpace(*req.Message) == "" {
		writeError(w, http.StatusBadRequest, missingMessageError)
		return
	}
	if req.ConversationHistory == nil {
		req.ConversationHistory = []llm.Message{}
	}
	if err := llm.ValidateHistory(req.ConversationHistory); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if !s.chatEnabled() {
		reason := "chat is disabled"
		if s.chatError != nil {
			reason += ": " + s.chatError.Error()
		}
		writeJSON(w, http.StatusServiceUnavailable, chatResponse{
			Response:            chatDisabledReply,
			ToolsUsed:           []string{},
			ConversationHistory: req.ConversationHistory,
			Status:              agent.StatusFailed,
			Error:               reason,
		})
		return
	}

	out := s.agent.Run(r.Context(), *req.Message, req.ConversationHistory)
	resp := chatResponse{
		Response:            out.FinalMessage,
		ToolCallsMade:       out.ToolCallsMade,
		ToolsUsed:           out.ToolsUsed,
		ConversationHistory: out.History,
		Status:              out.Status,
		FailureKind:         out.FailureKind,
	}
	if out.Error != nil {
		resp.Error = out.Error.Error()
	}

	code := http.StatusOK
	if out.Status == agent.StatusFailed && out.FailureKind == agent.FailureCompletion {
		code = http.StatusBadGateway
		resp.Response = completionFailed
	}
	writeJSON(w, code, resp)
}

func (s *Server) handleHospitalData(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	name := strings.TrimPrefix(r.URL.Path, "/hospital-data/")

	payload, err := s.data.Passthrough(r.Context(), name, r.URL.RawQuery)
	if err != nil {
		var unknown *gateway.UnknownEndpointError
		var failure *gateway.Failure
		switch {
		case errors.As(err, &unknown):
			writeError(w, http.StatusBadRequest, unknown.Error())
		case errors.As(err, &failure):
			writeJSON(w, http.StatusBadGateway, map[string]any{
				"error":  failure.Message,
				"reason": failure.Reason,
				"status": failure.StatusCode,
			})
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)
}

type providerCheckResponse struct {
	ProviderInfo
	Reachable bool   `json:"reachable"`
	LatencyMS int64  `json:"latency_ms,omitempty"`
	Error     string `json:"error,omitempty"`
}

func (s *Server) handleProviderCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	resp := providerCheckResponse{ProviderInfo: s.provider}
	if s.pinger == nil {
		resp.Error = "provider client is not configured"
		if s.chatError != nil {
			resp.Error = s.chatError.Error()
		}
		writeJSON(w, http.StatusOK, resp)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), providerCheckTimeout)
	defer cancel()

	start := time.Now()
	err := s.pinger.Ping(ctx)
	resp.LatencyMS = time.Since(start).Milliseconds()
	resp.Reachable = err == nil
	if err != nil {
		log.Warn("Provider check failed: %v", err)
		resp.Error = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleToolCalls(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.audit == nil {
		writeError(w, http.StatusNotFound, "tool-call audit is disabled")
		return
	}

	limit := defaultToolCallLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxToolCallLimit)
	}

	records, err := s.audit.Latest(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}
