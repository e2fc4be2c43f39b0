package textgen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"
)

const systemPrompt = "You are an expert email marketing specialist who creates compelling cart recovery emails that convert. Always respond in valid JSON format."

var jsonObject = regexp.MustCompile(`(?s)\{.*\}`)

type OpenRouterConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	Referer string
	Title   string
}

// OpenRouter calls an OpenAI compatible chat completions endpoint.
type OpenRouter struct {
	cfg        OpenRouterConfig
	httpClient *http.Client
}

func NewOpenRouter(cfg OpenRouterConfig) *OpenRouter {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &OpenRouter{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func (c *OpenRouter) Generate(ctx context.Context, p Prompt) (Content, error) {
	payload, err := json.Marshal(chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt(p)},
		},
	})
	if err != nil {
		return Content{}, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return Content{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	if c.cfg.Referer != "" {
		req.Header.Set("HTTP-Referer", c.cfg.Referer)
	}
	if c.cfg.Title != "" {
		req.Header.Set("X-Title", c.cfg.Title)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Content{}, fmt.Errorf("%w: do request: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Content{}, fmt.Errorf("%w: status %d: %s", ErrUnavailable, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Content{}, fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
	}
	if len(out.Choices) == 0 {
		return Content{}, fmt.Errorf("%w: no choices", ErrUnavailable)
	}
	return parseContent(out.Choices[0].Message.Content)
}

// parseContent pulls the {"subject","body"} object out of a model reply that
// may wrap it in prose or code fences.
func parseContent(reply string) (Content, error) {
	raw := jsonObject.FindString(reply)
	if raw == "" {
		return Content{}, fmt.Errorf("%w: no json in reply", ErrUnavailable)
	}
	var msg struct {
		Subject string `json:"subject"`
		Body    string `json:"body"`
	}
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		return Content{}, fmt.Errorf("%w: bad json in reply: %v", ErrUnavailable, err)
	}
	if strings.TrimSpace(msg.Subject) == "" || strings.TrimSpace(msg.Body) == "" {
		return Content{}, fmt.Errorf("%w: empty subject or body", ErrUnavailable)
	}
	return Content{Subject: msg.Subject, Body: msg.Body, Source: SourceAI}, nil
}

func userPrompt(p Prompt) string {
	var b strings.Builder
	b.WriteString("Generate a compelling cart recovery email for an e-commerce customer.\n\n")
	b.WriteString("Customer Details:\n")
	fmt.Fprintf(&b, "- Name: %s\n", p.name())
	fmt.Fprintf(&b, "- Abandoned Items: %s\n", p.itemList("your items"))
	fmt.Fprintf(&b, "- Cart Value: $%s\n", p.CartValue.StringFixed(2))
	if p.Offer.Description != "" {
		fmt.Fprintf(&b, "- Offer: %s\n", p.Offer.Description)
	}
	b.WriteString("\nRequirements:\n")
	b.WriteString("- Create an engaging subject line\n")
	b.WriteString("- Write a personalized email body that's friendly and persuasive\n")
	b.WriteString("- Include urgency without being pushy\n")
	b.WriteString("- Mention the specific items they left behind\n")
	b.WriteString("- Include a clear call-to-action\n")
	b.WriteString("- Keep it concise but compelling\n\n")
	b.WriteString(`Format the response as JSON with keys: "subject" and "body"`)
	return b.String()
}
