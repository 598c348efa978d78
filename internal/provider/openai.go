package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/kostiks/snapback/internal/chat"
)

// OpenAIAdapter speaks the OpenAI-compatible chat-completions format used by
// OpenRouter. Supports inline images in both directions via data URIs.
type OpenAIAdapter struct{}

type oaRequest struct {
	Model    string      `json:"model"`
	Messages []oaMessage `json:"messages"`
}

type oaMessage struct {
	Role string `json:"role"`
	// Content is either a plain string (simple-content optimization) or an
	// ordered []oaContentBlock for multimodal messages.
	Content any `json:"content"`
}

type oaContentBlock struct {
	Type     string      `json:"type"`
	Text     string      `json:"text,omitempty"`
	ImageURL *oaImageURL `json:"image_url,omitempty"`
}

type oaImageURL struct {
	URL string `json:"url"`
}

type oaResponse struct {
	Choices []struct {
		Message struct {
			Content json.RawMessage `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

func (a *OpenAIAdapter) Name() string { return "openai" }

func (a *OpenAIAdapter) BuildRequest(ctx context.Context, cfg RequestConfig, systemPrompt string, msgs []chat.Message) (*http.Request, error) {
	messages := make([]oaMessage, 0, len(msgs)+1)
	messages = append(messages, oaMessage{Role: "system", Content: systemPrompt})

	for _, msg := range msgs {
		role := msg.Role
		if role == "model" {
			role = "assistant"
		}

		blocks := make([]oaContentBlock, 0, len(msg.Segments))
		simpleText := ""
		for _, seg := range msg.Segments {
			if seg.IsImage() {
				uri := "data:" + seg.Image.MimeType + ";base64," + seg.Image.Data
				blocks = append(blocks, oaContentBlock{Type: "image_url", ImageURL: &oaImageURL{URL: uri}})
				simpleText = ""
			} else {
				blocks = append(blocks, oaContentBlock{Type: "text", Text: seg.Text})
				if len(blocks) == 1 {
					simpleText = seg.Text
				}
			}
		}

		if len(blocks) == 0 {
			continue
		}
		if len(blocks) == 1 && simpleText != "" {
			messages = append(messages, oaMessage{Role: role, Content: simpleText})
		} else {
			messages = append(messages, oaMessage{Role: role, Content: blocks})
		}
	}

	payload, err := json.Marshal(oaRequest{Model: cfg.Model, Messages: messages})
	if err != nil {
		return nil, fmt.Errorf("marshal openai request: %w", err)
	}

	url := strings.TrimRight(cfg.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create openai request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	if cfg.Referer != "" {
		req.Header.Set("HTTP-Referer", cfg.Referer)
	}
	if cfg.Title != "" {
		req.Header.Set("X-Title", cfg.Title)
	}
	return req, nil
}

func (a *OpenAIAdapter) ParseResponse(body []byte) (*chat.Result, error) {
	var decoded oaResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, &chat.Error{
			Code:    chat.CodeMalformedResponse,
			Message: "Failed to get a valid response from the AI service.",
			Detail:  string(body),
		}
	}

	result := &chat.Result{}
	if len(decoded.Choices) > 0 {
		choice := decoded.Choices[0]

		// Content is either a plain string or an array of typed blocks.
		var text string
		if err := json.Unmarshal(choice.Message.Content, &text); err == nil {
			result.Text = strings.TrimSpace(text)
		} else {
			var blocks []oaContentBlock
			if err := json.Unmarshal(choice.Message.Content, &blocks); err == nil {
				for _, block := range blocks {
					switch block.Type {
					case "text":
						// last text block wins
						result.Text = strings.TrimSpace(block.Text)
					case "image_url":
						if block.ImageURL == nil {
							continue
						}
						if img := parseImageDataURI(block.ImageURL.URL); img != nil {
							result.Image = img
						} else {
							log.Printf("[openai] image_url with unexpected URL form, ignoring")
						}
					}
				}
			}
		}

		if choice.FinishReason != "" && choice.FinishReason != "stop" {
			log.Printf("[openai] finish_reason: %s", choice.FinishReason)
		}
	}

	if result.Text == "" && result.Image == nil {
		return nil, &chat.Error{
			Code:    chat.CodeMalformedResponse,
			Message: "Could not extract text or image content from the AI service response.",
			Detail:  string(body),
		}
	}
	return result, nil
}

// parseImageDataURI decodes "data:image/...;base64,..." back into inline
// data. Any other URL form yields nil: absent image data, not an error.
func parseImageDataURI(url string) *chat.InlineData {
	if !strings.HasPrefix(url, "data:image/") {
		return nil
	}
	mime, data, ok := strings.Cut(strings.TrimPrefix(url, "data:"), ";base64,")
	if !ok || mime == "" || data == "" {
		return nil
	}
	return &chat.InlineData{MimeType: mime, Data: data}
}
