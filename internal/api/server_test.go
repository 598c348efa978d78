package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kostiks/snapback/internal/chat"
	"github.com/kostiks/snapback/internal/config"
	"github.com/kostiks/snapback/internal/gateway"
)

func newTestServer(t *testing.T, upstream http.HandlerFunc) http.Handler {
	t.Helper()

	var up *httptest.Server
	if upstream != nil {
		up = httptest.NewServer(upstream)
		t.Cleanup(up.Close)
	}

	cfg := config.DefaultConfig()
	cfg.Provider.Type = "openai"
	cfg.Provider.TrialAPIKey = "trial-key"
	if up != nil {
		cfg.Provider.BaseURL = up.URL
	} else {
		cfg.Provider.BaseURL = "http://127.0.0.1:0"
	}
	cfg.Store.DBPath = filepath.Join(t.TempDir(), "test.db")

	gw, err := gateway.NewWithOptions(cfg, gateway.Options{HTTPClient: &http.Client{}})
	if err != nil {
		t.Fatalf("create gateway: %v", err)
	}
	t.Cleanup(func() { _ = gw.Shutdown() })

	return NewServer(cfg.Gateway, gw).Handler()
}

func doJSON(t *testing.T, h http.Handler, method, path, body string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func openAIResponse(text string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"choices":[{"message":{"content":%q},"finish_reason":"stop"}]}`, text)
	}
}

func TestChatEndpoint(t *testing.T) {
	h := newTestServer(t, openAIResponse("¡Hola!"))

	rec := doJSON(t, h, http.MethodPost, "/api/chat",
		`{"contents":[{"role":"user","parts":[{"text":"hola"}]}]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp chatResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.ResponseText != "¡Hola!" {
		t.Errorf("ResponseText = %q", resp.ResponseText)
	}

	// a fresh caller gets a session cookie
	cookies := rec.Result().Cookies()
	found := false
	for _, c := range cookies {
		if c.Name == sessionCookieName && c.Value != "" && c.HttpOnly {
			found = true
		}
	}
	if !found {
		t.Errorf("no %s cookie issued, got %+v", sessionCookieName, cookies)
	}
}

func TestChatEndpoint_ErrorStatuses(t *testing.T) {
	tests := []struct {
		name       string
		upstream   http.HandlerFunc
		body       string
		wantStatus int
	}{
		{
			name:       "missing contents",
			upstream:   openAIResponse("unused"),
			body:       `{}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "invalid json",
			upstream:   openAIResponse("unused"),
			body:       `{not json`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "upstream status passthrough",
			upstream: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusPaymentRequired)
				_, _ = w.Write([]byte(`{"error":{"message":"Insufficient credits"}}`))
			},
			body:       `{"contents":[{"role":"user","parts":[{"text":"hola"}]}]}`,
			wantStatus: http.StatusPaymentRequired,
		},
		{
			name: "upstream 5xx",
			upstream: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
			},
			body:       `{"contents":[{"role":"user","parts":[{"text":"hola"}]}]}`,
			wantStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestServer(t, tt.upstream)
			rec := doJSON(t, h, http.MethodPost, "/api/chat", tt.body)
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d; body = %s", rec.Code, tt.wantStatus, rec.Body.String())
			}
			var resp chatResponse
			_ = json.Unmarshal(rec.Body.Bytes(), &resp)
			if resp.Error == "" {
				t.Errorf("error body missing: %s", rec.Body.String())
			}
		})
	}
}

func TestSaveKeyEndpoint(t *testing.T) {
	h := newTestServer(t, nil)

	rec := doJSON(t, h, http.MethodPost, "/api/chat/save-key", `{"apiKey":"sk-user"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, h, http.MethodPost, "/api/chat/save-key", `{"apiKey":""}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty key status = %d, want 400", rec.Code)
	}
}

func TestModelEndpoints_CookieScoped(t *testing.T) {
	h := newTestServer(t, nil)
	cookie := &http.Cookie{Name: sessionCookieName, Value: "deadbeef"}

	rec := doJSON(t, h, http.MethodGet, "/api/chat/model", "", cookie)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var got map[string]string
	_ = json.Unmarshal(rec.Body.Bytes(), &got)
	if got["currentModel"] != config.DefaultModel {
		t.Errorf("currentModel = %q, want built-in default", got["currentModel"])
	}

	rec = doJSON(t, h, http.MethodPost, "/api/chat/model", `{"model":"openai/gpt-4o"}`, cookie)
	if rec.Code != http.StatusOK {
		t.Fatalf("set model status = %d, body = %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, h, http.MethodGet, "/api/chat/model", "", cookie)
	_ = json.Unmarshal(rec.Body.Bytes(), &got)
	if got["currentModel"] != "openai/gpt-4o" {
		t.Errorf("currentModel = %q after set", got["currentModel"])
	}

	// a different session still sees the default
	other := &http.Cookie{Name: sessionCookieName, Value: "cafebabe"}
	rec = doJSON(t, h, http.MethodGet, "/api/chat/model", "", other)
	_ = json.Unmarshal(rec.Body.Bytes(), &got)
	if got["currentModel"] != config.DefaultModel {
		t.Errorf("other session currentModel = %q", got["currentModel"])
	}

	rec = doJSON(t, h, http.MethodPost, "/api/chat/model", `{"model":""}`, cookie)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty model status = %d, want 400", rec.Code)
	}
}

func TestDefaultModelEndpoint(t *testing.T) {
	h := newTestServer(t, nil)

	rec := doJSON(t, h, http.MethodPost, "/api/chat/default-model", `{"model":"meta-llama/llama-3-70b"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	// every session without a selection now resolves to the new default
	rec = doJSON(t, h, http.MethodGet, "/api/chat/model", "",
		&http.Cookie{Name: sessionCookieName, Value: "deadbeef"})
	var got map[string]string
	_ = json.Unmarshal(rec.Body.Bytes(), &got)
	if got["currentModel"] != "meta-llama/llama-3-70b" {
		t.Errorf("currentModel = %q", got["currentModel"])
	}
}

func TestFactEndpoints(t *testing.T) {
	h := newTestServer(t, nil)

	rec := doJSON(t, h, http.MethodPost, "/api/facts", `{"factText":"Plays dominoes on Sundays"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("add status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var fact struct {
		ID   int64  `json:"id"`
		Text string `json:"factText"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &fact)
	if fact.ID == 0 || fact.Text != "Plays dominoes on Sundays" {
		t.Fatalf("fact = %+v", fact)
	}

	rec = doJSON(t, h, http.MethodPost, "/api/facts", `{"factText":""}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty fact status = %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodPut, fmt.Sprintf("/api/facts/%d", fact.ID), `{"factText":"Plays dominoes on Saturdays"}`)
	if rec.Code != http.StatusOK {
		t.Errorf("update status = %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodGet, "/api/facts", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	if !bytes.Contains(rec.Body.Bytes(), []byte("Saturdays")) {
		t.Errorf("list body = %s", rec.Body.String())
	}

	rec = doJSON(t, h, http.MethodPut, "/api/facts/9999", `{"factText":"x"}`)
	if rec.Code != http.StatusNotFound {
		t.Errorf("update missing status = %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodDelete, fmt.Sprintf("/api/facts/%d", fact.ID), "")
	if rec.Code != http.StatusNoContent {
		t.Errorf("delete status = %d", rec.Code)
	}
	rec = doJSON(t, h, http.MethodDelete, fmt.Sprintf("/api/facts/%d", fact.ID), "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d", rec.Code)
	}
}

func TestInstructionEndpoints(t *testing.T) {
	h := newTestServer(t, nil)

	rec := doJSON(t, h, http.MethodPost, "/api/instructions", `{"instructionText":"Keep replies short"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("add status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var ins struct {
		ID     int64 `json:"id"`
		Hidden bool  `json:"hidden"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &ins)
	if ins.Hidden {
		t.Error("plain add created a hidden instruction")
	}

	rec = doJSON(t, h, http.MethodPost, "/api/instructions/add-hidden", `{"instructionText":"Secret rule"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("add-hidden status = %d", rec.Code)
	}

	// the visible list excludes the hidden rule and the seeded ones
	rec = doJSON(t, h, http.MethodGet, "/api/instructions", "")
	var visible []struct {
		Text string `json:"instructionText"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &visible)
	if len(visible) != 1 || visible[0].Text != "Keep replies short" {
		t.Errorf("visible = %+v", visible)
	}

	// the admin list shows everything, seeds included
	rec = doJSON(t, h, http.MethodGet, "/api/instructions/all", "")
	var all []struct {
		Text string `json:"instructionText"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &all)
	if len(all) < 3 {
		t.Errorf("all = %+v, expected the seeded rules too", all)
	}

	rec = doJSON(t, h, http.MethodPost, fmt.Sprintf("/api/instructions/%d/toggle-visibility", ins.ID), `{"hidden":true}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("toggle status = %d", rec.Code)
	}
	rec = doJSON(t, h, http.MethodGet, "/api/instructions", "")
	_ = json.Unmarshal(rec.Body.Bytes(), &visible)
	if len(visible) != 0 {
		t.Errorf("visible after hide = %+v", visible)
	}

	rec = doJSON(t, h, http.MethodPost, fmt.Sprintf("/api/instructions/%d/toggle-visibility", ins.ID), `{}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("toggle without flag status = %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodDelete, fmt.Sprintf("/api/instructions/%d", ins.ID), "")
	if rec.Code != http.StatusNoContent {
		t.Errorf("delete status = %d", rec.Code)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{chat.NewError(chat.CodeInvalidInput, "m"), http.StatusBadRequest},
		{chat.NewError(chat.CodeQuotaExceeded, "m"), http.StatusForbidden},
		{&chat.Error{Code: chat.CodeUpstreamClient, Status: 429}, http.StatusTooManyRequests},
		{&chat.Error{Code: chat.CodeUpstreamClient}, http.StatusBadRequest},
		{chat.NewError(chat.CodeNetworkError, "m"), http.StatusServiceUnavailable},
		{chat.NewError(chat.CodeContentBlocked, "m"), http.StatusUnprocessableEntity},
		{chat.NewError(chat.CodeUpstreamServer, "m"), http.StatusInternalServerError},
		{chat.NewError(chat.CodeServerMisconfigured, "m"), http.StatusInternalServerError},
		{chat.NewError(chat.CodeMalformedResponse, "m"), http.StatusInternalServerError},
		{fmt.Errorf("plain"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
