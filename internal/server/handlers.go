package server

import (
	"encoding/json"
	"net/http"
	"strconv"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

type terminalSettingsResponse struct {
	AskLevel      string `json:"ask_level"`
	SessionMode   bool   `json:"session_mode"`
	ApprovalCount int    `json:"approval_count"`
}

func (s *Server) handleTerminalSettings(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, terminalSettingsResponse{
		AskLevel:      s.terminal.AskLevel(),
		SessionMode:   s.terminal.SessionMode(),
		ApprovalCount: s.terminal.Approvals().Count(),
	})
}

type askLevelRequest struct {
	Level string `json:"level"`
}

func (s *Server) handleSetAskLevel(w http.ResponseWriter, r *http.Request) {
	var req askLevelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := s.terminal.SetAskLevel(req.Level); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid ask level. Must be 'always', 'on-miss', or 'off'")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"ask_level": s.terminal.AskLevel()})
}

func (s *Server) handleListApprovals(w http.ResponseWriter, r *http.Request) {
	sigs := s.terminal.Approvals().Signatures()
	if sigs == nil {
		sigs = []string{}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"approvals": sigs,
		"count":     len(sigs),
	})
}

func (s *Server) handleClearApprovals(w http.ResponseWriter, r *http.Request) {
	if err := s.terminal.Approvals().Clear(); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"cleared":        true,
		"approval_count": 0,
	})
}

type conversationRow struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Date  string `json:"date"`
}

// handleConversations serves the stored conversation list. The same
// data flows over the socket as conversation_list; this endpoint lets
// the frontend fetch it before the socket is up.
func (s *Server) handleConversations(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	summaries, err := s.store.ListConversations(r.Context(), limit, offset)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	rows := make([]conversationRow, len(summaries))
	for i, c := range summaries {
		rows[i] = conversationRow{ID: c.ID, Title: c.Title, Date: c.Date}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"conversations": rows,
		"offset":        offset,
	})
}

type serverRow struct {
	Name  string   `json:"name"`
	Tools []string `json:"tools"`
}

func (s *Server) handleServers(w http.ResponseWriter, r *http.Request) {
	rows := []serverRow{}
	if s.servers != nil {
		for _, info := range s.servers.Servers() {
			rows = append(rows, serverRow{Name: info.Name, Tools: info.Tools})
		}
	}
	respondJSON(w, http.StatusOK, map[string]any{"servers": rows})
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"models":  s.models.Available(),
		"default": s.models.DefaultModel(),
	})
}

func (s *Server) handleEnabledModels(w http.ResponseWriter, r *http.Request) {
	models, err := s.store.GetEnabledModels(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if models == nil {
		models = []string{}
	}
	respondJSON(w, http.StatusOK, models)
}

type enabledModelsRequest struct {
	Models []string `json:"models"`
}

func (s *Server) handleSetEnabledModels(w http.ResponseWriter, r *http.Request) {
	var req enabledModelsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := s.store.SetEnabledModels(r.Context(), req.Models); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status": "updated",
		"models": req.Models,
	})
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
