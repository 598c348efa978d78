package api

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/kostiks/snapback/internal/chat"
	"github.com/kostiks/snapback/internal/config"
	"github.com/kostiks/snapback/internal/gateway"
)

const sessionCookieName = "snapback_session"

// Server exposes the gateway and the persona CRUD over a JSON HTTP API.
// Callers are bound to their session state by a cookie-carried session ID.
type Server struct {
	gw     *gateway.Gateway
	server *http.Server
}

func NewServer(cfg config.GatewayConfig, gw *gateway.Gateway) *Server {
	s := &Server{gw: gw}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/chat", s.handleChat)
	mux.HandleFunc("POST /api/chat/save-key", s.handleSaveKey)
	mux.HandleFunc("GET /api/chat/model", s.handleGetModel)
	mux.HandleFunc("POST /api/chat/model", s.handleSetModel)
	mux.HandleFunc("POST /api/chat/default-model", s.handleSetDefaultModel)

	mux.HandleFunc("GET /api/facts", s.handleListFacts)
	mux.HandleFunc("POST /api/facts", s.handleAddFact)
	mux.HandleFunc("PUT /api/facts/{id}", s.handleUpdateFact)
	mux.HandleFunc("DELETE /api/facts/{id}", s.handleDeleteFact)

	mux.HandleFunc("GET /api/instructions", s.handleListVisibleInstructions)
	mux.HandleFunc("GET /api/instructions/all", s.handleListAllInstructions)
	mux.HandleFunc("POST /api/instructions", s.handleAddInstruction)
	mux.HandleFunc("POST /api/instructions/add-hidden", s.handleAddHiddenInstruction)
	mux.HandleFunc("POST /api/instructions/{id}/toggle-visibility", s.handleToggleInstruction)
	mux.HandleFunc("DELETE /api/instructions/{id}", s.handleDeleteInstruction)

	s.server = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler: mux,
	}
	return s
}

// Handler exposes the mux for tests.
func (s *Server) Handler() http.Handler { return s.server.Handler }

func (s *Server) Start() {
	go func() {
		log.Printf("[api] listening on %s", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[api] server error: %v", err)
		}
	}()
}

func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// sessionID returns the caller's session identifier, issuing a new cookie
// when none is present.
func (s *Server) sessionID(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(sessionCookieName); err == nil && c.Value != "" {
		return "api:" + c.Value
	}

	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		// fall back to a time-derived ID rather than failing the call
		return "api:" + strconv.FormatInt(time.Now().UnixNano(), 36)
	}
	id := hex.EncodeToString(buf)
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
	})
	return "api:" + id
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[api] encode response: %v", err)
	}
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"message": message})
}

// statusFor maps the error taxonomy onto HTTP statuses: 403 for quota,
// upstream status passthrough for client errors, 503 for network trouble,
// 500 for everything the caller cannot act on.
func statusFor(err error) int {
	var ce *chat.Error
	if !errors.As(err, &ce) {
		return http.StatusInternalServerError
	}
	switch ce.Code {
	case chat.CodeInvalidInput:
		return http.StatusBadRequest
	case chat.CodeQuotaExceeded:
		return http.StatusForbidden
	case chat.CodeUpstreamClient:
		if ce.Status >= 400 && ce.Status < 500 {
			return ce.Status
		}
		return http.StatusBadRequest
	case chat.CodeNetworkError:
		return http.StatusServiceUnavailable
	case chat.CodeContentBlocked:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

type chatRequest struct {
	Contents []chat.Turn `json:"contents"`
	Model    string      `json:"model,omitempty"`
}

type chatResponse struct {
	ResponseText string           `json:"responseText,omitempty"`
	ImageData    *chat.InlineData `json:"imageData,omitempty"`
	Error        string           `json:"error,omitempty"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, chatResponse{Error: "Invalid request body."})
		return
	}

	sid := s.sessionID(w, r)
	result, err := s.gw.Send(r.Context(), sid, req.Contents, req.Model)
	if err != nil {
		writeJSON(w, statusFor(err), chatResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, chatResponse{ResponseText: result.Text, ImageData: result.Image})
}

func (s *Server) handleSaveKey(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		APIKey string `json:"apiKey"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid request body.")
		return
	}

	sid := s.sessionID(w, r)
	if err := s.gw.SaveKey(sid, payload.APIKey); err != nil {
		writeMessage(w, statusFor(err), err.Error())
		return
	}
	writeMessage(w, http.StatusOK, "API Key saved successfully for this session.")
}

func (s *Server) handleGetModel(w http.ResponseWriter, r *http.Request) {
	sid := s.sessionID(w, r)
	writeJSON(w, http.StatusOK, map[string]string{"currentModel": s.gw.SessionModel(sid)})
}

func (s *Server) handleSetModel(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Model string `json:"model"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid request body.")
		return
	}

	sid := s.sessionID(w, r)
	if err := s.gw.SetSessionModel(sid, payload.Model); err != nil {
		writeMessage(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"message":  "Model updated successfully for this session.",
		"newModel": payload.Model,
	})
}

func (s *Server) handleSetDefaultModel(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Model string `json:"model"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid request body.")
		return
	}

	if err := s.gw.SetGlobalDefaultModel(payload.Model); err != nil {
		writeMessage(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"message":               "Global default model updated successfully.",
		"newGlobalDefaultModel": payload.Model,
	})
}

// --- facts ---

func (s *Server) handleListFacts(w http.ResponseWriter, r *http.Request) {
	facts, err := s.gw.Store().ListFacts()
	if err != nil {
		writeMessage(w, http.StatusInternalServerError, "Failed to list facts.")
		return
	}
	writeJSON(w, http.StatusOK, facts)
}

func (s *Server) handleAddFact(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Text string `json:"factText"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.Text == "" {
		writeMessage(w, http.StatusBadRequest, "Fact text cannot be empty.")
		return
	}

	fact, err := s.gw.Store().AddFact(payload.Text)
	if err != nil {
		writeMessage(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, fact)
}

func (s *Server) handleUpdateFact(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid fact id.")
		return
	}
	var payload struct {
		Text string `json:"factText"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.Text == "" {
		writeMessage(w, http.StatusBadRequest, "Fact text cannot be empty.")
		return
	}

	if err := s.gw.Store().UpdateFact(id, payload.Text); err != nil {
		writeMessage(w, http.StatusNotFound, "Fact not found.")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "factText": payload.Text})
}

func (s *Server) handleDeleteFact(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid fact id.")
		return
	}
	if err := s.gw.Store().DeleteFact(id); err != nil {
		writeMessage(w, http.StatusNotFound, "Fact not found.")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- instructions ---

func (s *Server) handleListVisibleInstructions(w http.ResponseWriter, r *http.Request) {
	instructions, err := s.gw.Store().ListVisibleInstructions()
	if err != nil {
		writeMessage(w, http.StatusInternalServerError, "Failed to list instructions.")
		return
	}
	writeJSON(w, http.StatusOK, instructions)
}

func (s *Server) handleListAllInstructions(w http.ResponseWriter, r *http.Request) {
	instructions, err := s.gw.Store().ListInstructions()
	if err != nil {
		writeMessage(w, http.StatusInternalServerError, "Failed to list instructions.")
		return
	}
	writeJSON(w, http.StatusOK, instructions)
}

func (s *Server) handleAddInstruction(w http.ResponseWriter, r *http.Request) {
	s.addInstruction(w, r, false)
}

func (s *Server) handleAddHiddenInstruction(w http.ResponseWriter, r *http.Request) {
	s.addInstruction(w, r, true)
}

func (s *Server) addInstruction(w http.ResponseWriter, r *http.Request, hidden bool) {
	var payload struct {
		Text string `json:"instructionText"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.Text == "" {
		writeMessage(w, http.StatusBadRequest, "Instruction text cannot be empty.")
		return
	}

	ins, err := s.gw.Store().AddInstruction(payload.Text, hidden)
	if err != nil {
		writeMessage(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, ins)
}

func (s *Server) handleToggleInstruction(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid instruction id.")
		return
	}
	var payload struct {
		Hidden *bool `json:"hidden"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.Hidden == nil {
		writeMessage(w, http.StatusBadRequest, "Missing 'hidden' flag.")
		return
	}

	if err := s.gw.Store().SetInstructionHidden(id, *payload.Hidden); err != nil {
		writeMessage(w, http.StatusNotFound, "Instruction not found.")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "hidden": *payload.Hidden})
}

func (s *Server) handleDeleteInstruction(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid instruction id.")
		return
	}
	if err := s.gw.Store().DeleteInstruction(id); err != nil {
		writeMessage(w, http.StatusNotFound, "Instruction not found.")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
