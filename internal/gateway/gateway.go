package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/kostiks/snapback/internal/bus"
	"github.com/kostiks/snapback/internal/channel"
	"github.com/kostiks/snapback/internal/chat"
	"github.com/kostiks/snapback/internal/config"
	"github.com/kostiks/snapback/internal/persona"
	"github.com/kostiks/snapback/internal/provider"
	"github.com/kostiks/snapback/internal/session"
	"github.com/kostiks/snapback/internal/store"
)

// Options for creating a Gateway
type Options struct {
	HTTPClient *http.Client   // for testing upstream exchanges
	SignalChan chan os.Signal // for testing signal handling
}

// Gateway composes the persona prompt, the session credential machine and
// the active provider adapter into the single "send message" operation, and
// runs the chat channels around it.
type Gateway struct {
	cfg        *config.Config
	store      *store.Store
	sessions   *session.Manager
	adapter    provider.Adapter
	client     *http.Client
	bus        *bus.MessageBus
	channels   *channel.Manager
	sched      *cron.Cron
	signalChan chan os.Signal
}

// New creates a Gateway with default options
func New(cfg *config.Config) (*Gateway, error) {
	return NewWithOptions(cfg, Options{})
}

// NewWithOptions creates a Gateway with custom options for testing
func NewWithOptions(cfg *config.Config, opts Options) (*Gateway, error) {
	adapter, err := provider.New(cfg.Provider.Type)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(cfg.Store.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if _, err := st.SeedInstructions(persona.SeedInstructions); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("seed instructions: %w", err)
	}

	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: time.Duration(cfg.Gateway.TimeoutSeconds) * time.Second}
	}

	g := &Gateway{
		cfg:        cfg,
		store:      st,
		sessions:   session.NewManager(cfg),
		adapter:    adapter,
		client:     client,
		bus:        bus.NewMessageBus(config.DefaultBufSize),
		signalChan: opts.SignalChan,
	}

	chMgr, err := channel.NewManager(cfg.Channels, g.bus)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("create channel manager: %w", err)
	}
	g.channels = chMgr

	return g, nil
}

func (g *Gateway) Store() *store.Store        { return g.store }
func (g *Gateway) Bus() *bus.MessageBus       { return g.bus }
func (g *Gateway) Provider() string           { return g.adapter.Name() }
func (g *Gateway) Sessions() *session.Manager { return g.sessions }

// Send runs one chat call for a session: credential and model resolution,
// prompt compilation, conversation normalization, provider translation, one
// outbound HTTP exchange, and response classification. Quota is consumed
// only when a trial-credentialed call succeeds.
func (g *Gateway) Send(ctx context.Context, sessionID string, turns []chat.Turn, modelHint string) (*chat.Result, error) {
	msgs := chat.Normalize(turns)
	if len(msgs) == 0 {
		return nil, chat.NewError(chat.CodeInvalidInput, "Invalid request body, missing 'contents'.")
	}

	model := g.resolveModel(sessionID, modelHint)

	cred, err := g.sessions.Reserve(sessionID)
	if err != nil {
		return nil, err
	}

	systemPrompt, err := g.compilePrompt()
	if err != nil {
		g.releaseTrial(sessionID, cred)
		return nil, fmt.Errorf("compile prompt: %w", err)
	}

	req, err := g.adapter.BuildRequest(ctx, provider.RequestConfig{
		BaseURL: g.cfg.Provider.BaseURL,
		Model:   model,
		APIKey:  cred.Key,
		Referer: g.cfg.Provider.Referer,
		Title:   g.cfg.Provider.Title,
	}, systemPrompt, msgs)
	if err != nil {
		g.releaseTrial(sessionID, cred)
		return nil, fmt.Errorf("build %s request: %w", g.adapter.Name(), err)
	}

	log.Printf("[gateway] calling %s upstream, model=%s trial=%v", g.adapter.Name(), model, cred.Trial)

	resp, err := g.client.Do(req)
	if err != nil {
		g.releaseTrial(sessionID, cred)
		return nil, &chat.Error{
			Code:    chat.CodeNetworkError,
			Message: "Could not connect to the AI service. Please check your network connection.",
			Detail:  err.Error(),
		}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		g.releaseTrial(sessionID, cred)
		return nil, &chat.Error{
			Code:    chat.CodeNetworkError,
			Message: "Could not connect to the AI service. Please check your network connection.",
			Detail:  err.Error(),
		}
	}

	if resp.StatusCode >= 400 {
		g.releaseTrial(sessionID, cred)
		return nil, classifyStatus(resp.StatusCode, body)
	}

	result, err := g.adapter.ParseResponse(body)
	if err != nil {
		g.releaseTrial(sessionID, cred)
		if ce := chat.CodeOf(err); ce != "" {
			log.Printf("[gateway] %s: %v", ce, err)
		}
		return nil, err
	}

	// Success: the trial reservation made in Reserve stands, which is the
	// one increment per trial-credentialed success.
	if cred.Trial {
		log.Printf("[gateway] trial prompt count for %s now %d/%d",
			sessionID, g.sessions.TrialCount(sessionID), session.TrialPromptLimit)
	}
	return result, nil
}

func (g *Gateway) releaseTrial(sessionID string, cred session.Credential) {
	if cred.Trial {
		g.sessions.Release(sessionID)
	}
}

// classifyStatus maps a non-2xx upstream status to the error taxonomy. For
// 4xx the provider's nested error message is surfaced since it is actionable
// by the end user; 5xx stays generic.
func classifyStatus(status int, body []byte) *chat.Error {
	if status >= 500 {
		return &chat.Error{
			Code:    chat.CodeUpstreamServer,
			Message: "The AI service encountered an internal error. Please try again later.",
			Detail:  string(body),
			Status:  status,
		}
	}

	message := fmt.Sprintf("AI service request failed with status %d.", status)
	var decoded struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &decoded); err == nil && decoded.Error.Message != "" {
		message = "API Error: " + decoded.Error.Message
	}
	return &chat.Error{
		Code:    chat.CodeUpstreamClient,
		Message: message,
		Detail:  string(body),
		Status:  status,
	}
}

func (g *Gateway) compilePrompt() (string, error) {
	facts, err := g.store.ListFacts()
	if err != nil {
		return "", err
	}
	instructions, err := g.store.ListInstructions()
	if err != nil {
		return "", err
	}

	factTexts := make([]string, len(facts))
	for i, f := range facts {
		factTexts[i] = f.Text
	}
	instructionTexts := make([]string, len(instructions))
	for i, ins := range instructions {
		instructionTexts[i] = ins.Text
	}
	return persona.Compile(factTexts, instructionTexts), nil
}

// resolveModel picks the model for a call: explicit hint, then the session
// selection, then the stored global default, then the built-in fallback.
func (g *Gateway) resolveModel(sessionID, hint string) string {
	if m := strings.TrimSpace(hint); m != "" {
		return m
	}
	if m := g.sessions.Model(sessionID); m != "" {
		return m
	}
	return g.GlobalDefaultModel()
}

// GlobalDefaultModel reads the stored process-wide default, falling back to
// the built-in constant when the setting is absent or unreadable.
func (g *Gateway) GlobalDefaultModel() string {
	value, ok, err := g.store.Setting(store.SettingGlobalDefaultModel)
	if err != nil {
		log.Printf("[gateway] read global default model warning: %v", err)
		return config.DefaultModel
	}
	if !ok || strings.TrimSpace(value) == "" {
		return config.DefaultModel
	}
	return value
}

// SetGlobalDefaultModel upserts the process-wide default model (privileged).
func (g *Gateway) SetGlobalDefaultModel(model string) error {
	model = strings.TrimSpace(model)
	if model == "" {
		return chat.NewError(chat.CodeInvalidInput, "Global default model identifier cannot be empty.")
	}
	if err := g.store.UpsertSetting(store.SettingGlobalDefaultModel, model); err != nil {
		return fmt.Errorf("set global default model: %w", err)
	}
	log.Printf("[gateway] global default model updated to %s", model)
	return nil
}

// SaveKey stores a session's own API key; quota stops applying to it.
func (g *Gateway) SaveKey(sessionID, key string) error {
	return g.sessions.SaveKey(sessionID, key)
}

// SetSessionModel selects the model for one session.
func (g *Gateway) SetSessionModel(sessionID, model string) error {
	return g.sessions.SetModel(sessionID, model)
}

// SessionModel returns the model a session's next call would use.
func (g *Gateway) SessionModel(sessionID string) string {
	if m := g.sessions.Model(sessionID); m != "" {
		return m
	}
	return g.GlobalDefaultModel()
}

// Run starts the channels and the session sweep and blocks until a shutdown
// signal arrives.
func (g *Gateway) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go g.bus.DispatchOutbound(ctx)

	if err := g.channels.StartAll(ctx); err != nil {
		return fmt.Errorf("start channels: %w", err)
	}
	log.Printf("[gateway] channels started: %v", g.channels.EnabledChannels())

	g.sched = cron.New()
	if _, err := g.sched.AddFunc(g.cfg.Session.SweepEvery, func() { g.sessions.Sweep() }); err != nil {
		log.Printf("[gateway] session sweep schedule warning: %v", err)
	}
	g.sched.Start()

	go g.processLoop(ctx)

	log.Printf("[gateway] serving persona %q via %s", persona.Name, g.adapter.Name())

	sigCh := g.signalChan
	if sigCh == nil {
		sigCh = make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	}
	<-sigCh

	log.Printf("[gateway] shutting down...")
	return g.Shutdown()
}

func (g *Gateway) processLoop(ctx context.Context) {
	for {
		select {
		case msg := <-g.bus.Inbound:
			log.Printf("[gateway] inbound from %s/%s: %s", msg.Channel, msg.SenderID, truncate(msg.Content, 80))
			reply := g.handleInbound(ctx, msg)
			if reply.Content != "" || reply.Image != nil {
				reply.Channel = msg.Channel
				reply.ChatID = msg.ChatID
				g.bus.Outbound <- reply
			}
		case <-ctx.Done():
			return
		}
	}
}

// handleInbound serves the channel command surface: /key and /model drive
// the session operations, everything else becomes a single-turn chat call.
func (g *Gateway) handleInbound(ctx context.Context, msg bus.InboundMessage) bus.OutboundMessage {
	sessionID := msg.SessionKey()
	content := strings.TrimSpace(msg.Content)

	switch {
	case strings.HasPrefix(content, "/key"):
		key := strings.TrimSpace(strings.TrimPrefix(content, "/key"))
		if err := g.SaveKey(sessionID, key); err != nil {
			return bus.OutboundMessage{Content: err.Error()}
		}
		return bus.OutboundMessage{Content: "API key saved for this chat. Trial prompt count reset."}
	case strings.HasPrefix(content, "/model"):
		model := strings.TrimSpace(strings.TrimPrefix(content, "/model"))
		if model == "" {
			return bus.OutboundMessage{Content: "Current model: " + g.SessionModel(sessionID)}
		}
		if err := g.SetSessionModel(sessionID, model); err != nil {
			return bus.OutboundMessage{Content: err.Error()}
		}
		return bus.OutboundMessage{Content: "Model updated to " + model + " for this chat."}
	}

	parts := make([]chat.Part, 0, 1+len(msg.Images))
	if content != "" {
		parts = append(parts, chat.Part{Text: content})
	}
	for i := range msg.Images {
		img := msg.Images[i]
		parts = append(parts, chat.Part{InlineData: &img})
	}

	result, err := g.Send(ctx, sessionID, []chat.Turn{{Role: "user", Parts: parts}}, "")
	if err != nil {
		log.Printf("[gateway] chat error for %s: %v", sessionID, err)
		return bus.OutboundMessage{Content: err.Error()}
	}
	return bus.OutboundMessage{Content: result.Text, Image: result.Image}
}

func (g *Gateway) Shutdown() error {
	if g.sched != nil {
		g.sched.Stop()
	}
	_ = g.channels.StopAll()
	if g.store != nil {
		if err := g.store.Close(); err != nil {
			log.Printf("[gateway] close store warning: %v", err)
		}
	}
	log.Printf("[gateway] shutdown complete")
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
