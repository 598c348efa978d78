package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"

	"github.com/kostiks/snapback/internal/chat"
)

// GoogleAdapter speaks the Gemini generateContent format. The targeted API
// version has no distinct system role, so the compiled prompt travels as a
// synthetic first user turn. The request path is text-only: image segments
// are dropped, a documented provider limitation rather than an error.
type GoogleAdapter struct{}

type gPart struct {
	Text string `json:"text,omitempty"`
}

type gContent struct {
	Role  string  `json:"role,omitempty"`
	Parts []gPart `json:"parts"`
}

type gSafetySetting struct {
	Category  string `json:"category"`
	Threshold string `json:"threshold"`
}

type gRequest struct {
	Contents       []gContent       `json:"contents"`
	SafetySettings []gSafetySetting `json:"safetySettings"`
}

type gResponse struct {
	Candidates []struct {
		Content struct {
			Parts []gPart `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback,omitempty"`
}

func defaultSafetySettings() []gSafetySetting {
	return []gSafetySetting{
		{Category: "HARM_CATEGORY_HARASSMENT", Threshold: "BLOCK_MEDIUM_AND_ABOVE"},
		{Category: "HARM_CATEGORY_HATE_SPEECH", Threshold: "BLOCK_MEDIUM_AND_ABOVE"},
		{Category: "HARM_CATEGORY_SEXUALLY_EXPLICIT", Threshold: "BLOCK_MEDIUM_AND_ABOVE"},
		{Category: "HARM_CATEGORY_DANGEROUS_CONTENT", Threshold: "BLOCK_MEDIUM_AND_ABOVE"},
	}
}

func (a *GoogleAdapter) Name() string { return "google" }

func (a *GoogleAdapter) BuildRequest(ctx context.Context, cfg RequestConfig, systemPrompt string, msgs []chat.Message) (*http.Request, error) {
	contents := make([]gContent, 0, len(msgs)+1)
	contents = append(contents, gContent{Role: "user", Parts: []gPart{{Text: systemPrompt}}})

	for _, msg := range msgs {
		parts := make([]gPart, 0, len(msg.Segments))
		for _, seg := range msg.Segments {
			if seg.IsImage() {
				// known lossy: this upstream takes no inline images
				continue
			}
			parts = append(parts, gPart{Text: seg.Text})
		}
		if len(parts) == 0 {
			continue
		}
		contents = append(contents, gContent{Role: msg.Role, Parts: parts})
	}

	payload, err := json.Marshal(gRequest{Contents: contents, SafetySettings: defaultSafetySettings()})
	if err != nil {
		return nil, fmt.Errorf("marshal google request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s",
		strings.TrimRight(cfg.BaseURL, "/"), cfg.Model, url.QueryEscape(cfg.APIKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create google request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func (a *GoogleAdapter) ParseResponse(body []byte) (*chat.Result, error) {
	var decoded gResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, &chat.Error{
			Code:    chat.CodeMalformedResponse,
			Message: "Failed to get a valid response from the AI service.",
			Detail:  string(body),
		}
	}

	if len(decoded.Candidates) > 0 {
		candidate := decoded.Candidates[0]
		if len(candidate.Content.Parts) > 0 && candidate.Content.Parts[0].Text != "" {
			if candidate.FinishReason != "" && candidate.FinishReason != "STOP" {
				log.Printf("[google] finishReason: %s", candidate.FinishReason)
			}
			return &chat.Result{Text: strings.TrimSpace(candidate.Content.Parts[0].Text)}, nil
		}

		// No text: a non-stop finish reason here is a candidate-level block.
		if candidate.FinishReason != "" && candidate.FinishReason != "STOP" {
			return nil, &chat.Error{
				Code:    chat.CodeContentBlocked,
				Message: "The AI service blocked this response (reason: " + candidate.FinishReason + ").",
				Detail:  string(body),
			}
		}
	}

	if decoded.PromptFeedback != nil && decoded.PromptFeedback.BlockReason != "" {
		return nil, &chat.Error{
			Code:    chat.CodeContentBlocked,
			Message: "The AI service blocked this prompt (reason: " + decoded.PromptFeedback.BlockReason + ").",
			Detail:  string(body),
		}
	}

	return nil, &chat.Error{
		Code:    chat.CodeMalformedResponse,
		Message: "Could not extract text content from the AI service response.",
		Detail:  string(body),
	}
}
