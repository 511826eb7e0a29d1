package analyze

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const systemPrompt = `You are a job posting analyzer.
Analyze the post text provided by the user and determine if it is a JOB OFFER or JOB OPPORTUNITY.
If it is, extract the following details:
- Job Title
- Company Name
- Location
- Summary Description: A concise 1-2 sentence summary of the role's responsibilities or main goal, tailored for a developer's interest.
- Tech Stack: A complete list of technologies, languages, and frameworks mentioned.
- Main Stack: The primary or most important technology/language from the stack (e.g., "React", "Python", "Go").

Return ONLY a JSON object with this format:
{
  "isJobOffer": boolean,
  "title": "string or null",
  "company": "string or null",
  "location": "string or null",
  "description": "string or null",
  "techStack": ["string"],
  "mainStack": "string or null"
}

Important:
- If you are not sure about a field, use null or an empty array for techStack.
- Extract the actual Company Name if mentioned in the text.
- Do not invent information.
- Your response must be a valid JSON object. Do not include any explanation or markdown formatting.`

// LLMAnalyzer classifies posts with a chat-completions style LLM API.
type LLMAnalyzer struct {
	client   *http.Client
	provider string // "openai" or "anthropic"
	model    string
	apiKey   string
	baseURL  string
}

// NewLLMAnalyzer creates a new LLM-backed analyzer.
func NewLLMAnalyzer(provider, model, apiKey, baseURL string) *LLMAnalyzer {
	if model == "" {
		switch provider {
		case "anthropic":
			model = "claude-sonnet-4-20250514"
		default:
			model = "gpt-4o-mini"
		}
	}
	return &LLMAnalyzer{
		client:   &http.Client{Timeout: 60 * time.Second},
		provider: provider,
		model:    model,
		apiKey:   apiKey,
		baseURL:  baseURL,
	}
}

func (a *LLMAnalyzer) Analyze(ctx context.Context, content string) (Analysis, error) {
	prompt := fmt.Sprintf("Text:\n%q", content)

	var raw string
	var err error

	switch a.provider {
	case "anthropic":
		raw, err = a.callAnthropic(ctx, prompt)
	default:
		raw, err = a.callOpenAI(ctx, prompt)
	}
	if err != nil {
		return Analysis{}, err
	}

	raw = stripFences(raw)

	var result struct {
		IsJobOffer  bool     `json:"isJobOffer"`
		Title       *string  `json:"title"`
		Company     *string  `json:"company"`
		Location    *string  `json:"location"`
		Description *string  `json:"description"`
		TechStack   []string `json:"techStack"`
		MainStack   *string  `json:"mainStack"`
	}
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return Analysis{}, fmt.Errorf("parse llm response: %w\nraw: %s", err, truncateStr(raw, 500))
	}

	return Analysis{
		IsJobOffer:  result.IsJobOffer,
		Title:       deref(result.Title),
		Company:     deref(result.Company),
		Location:    deref(result.Location),
		Description: deref(result.Description),
		TechStack:   result.TechStack,
		MainStack:   deref(result.MainStack),
	}, nil
}

func (a *LLMAnalyzer) callOpenAI(ctx context.Context, prompt string) (string, error) {
	baseURL := a.baseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com"
	}

	payload := map[string]any{
		"model": a.model,
		"messages": []map[string]string{
			{"role": "system", "content": systemPrompt},
			{"role": "user", "content": prompt},
		},
		"temperature": 0.1,
	}

	body, _ := json.Marshal(payload)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create openai request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.apiKey)

	resp, err := a.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("call openai: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errResp map[string]any
		json.NewDecoder(resp.Body).Decode(&errResp)
		return "", fmt.Errorf("openai status %d: %v", resp.StatusCode, errResp)
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode openai response: %w", err)
	}

	if len(result.Choices) == 0 {
		return "", fmt.Errorf("openai: no choices returned")
	}
	return result.Choices[0].Message.Content, nil
}

func (a *LLMAnalyzer) callAnthropic(ctx context.Context, prompt string) (string, error) {
	baseURL := a.baseURL
	if baseURL == "" {
		baseURL = "https://api.anthropic.com"
	}

	payload := map[string]any{
		"model":      a.model,
		"max_tokens": 1024,
		"system":     systemPrompt,
		"messages": []map[string]string{
			{"role": "user", "content": prompt},
		},
	}

	body, _ := json.Marshal(payload)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create anthropic request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", a.apiKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	resp, err := a.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("call anthropic: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errResp map[string]any
		json.NewDecoder(resp.Body).Decode(&errResp)
		return "", fmt.Errorf("anthropic status %d: %v", resp.StatusCode, errResp)
	}

	var result struct {
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode anthropic response: %w", err)
	}

	if len(result.Content) == 0 {
		return "", fmt.Errorf("anthropic: no content returned")
	}
	return result.Content[0].Text, nil
}

// stripFences removes a wrapping markdown code block if the model added one
// despite instructions.
func stripFences(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "```") {
		if idx := strings.Index(raw[3:], "\n"); idx >= 0 {
			raw = raw[3+idx+1:]
		}
		if strings.HasSuffix(raw, "```") {
			raw = raw[:len(raw)-3]
		}
		raw = strings.TrimSpace(raw)
	}
	return raw
}

func truncateStr(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
