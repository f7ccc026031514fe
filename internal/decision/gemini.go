// internal/decision/gemini.go
package decision

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/quayside/browserpilot/api/schemas"
	"github.com/quayside/browserpilot/internal/config"
)

// GeminiEngine implements Engine against the Gemini generateContent API.
// Transient API failures are retried with exponential backoff; malformed
// responses are permanent failures the controller turns into a terminal
// error decision.
type GeminiEngine struct {
	apiKey     string
	endpoint   string // non-empty overrides the per-model default, used by tests
	httpClient *http.Client
	logger     *zap.Logger
	cfg        config.DecisionConfig
}

// -- Gemini API request/response structures (internal to this file) --

type geminiInlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inline_data,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiThinkingConfig struct {
	ThinkingBudget int `json:"thinkingBudget"`
}

type geminiGenerationConfig struct {
	Temperature      float64               `json:"temperature"`
	ResponseMimeType string                `json:"response_mime_type,omitempty"`
	MaxOutputTokens  int                   `json:"maxOutputTokens,omitempty"`
	ThinkingConfig   *geminiThinkingConfig `json:"thinkingConfig,omitempty"`
}

type geminiRequestPayload struct {
	Contents          []geminiContent        `json:"contents"`
	SystemInstruction *geminiContent         `json:"system_instruction,omitempty"`
	GenerationConfig  geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiResponsePayload struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
}

// NewGeminiEngine initializes the client.
func NewGeminiEngine(cfg config.DecisionConfig, logger *zap.Logger) (*GeminiEngine, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("decision engine API key is required")
	}
	return &GeminiEngine{
		apiKey:   cfg.APIKey,
		endpoint: cfg.Endpoint,
		cfg:      cfg,
		httpClient: &http.Client{
			Timeout: cfg.APITimeout,
		},
		logger: logger.Named("decision.gemini"),
	}, nil
}

// Decide sends the observation to the API and parses the returned action.
func (g *GeminiEngine) Decide(ctx context.Context, in Input) (schemas.Action, error) {
	model := in.Model
	if model == "" {
		model = g.cfg.Model
	}
	endpoint := g.endpoint
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://generativelanguage.googleapis.com/v1beta/models/%s:generateContent", model)
	}

	body, err := json.Marshal(g.buildRequestPayload(in))
	if err != nil {
		return schemas.Action{}, fmt.Errorf("failed to marshal decision request: %w", err)
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 2 * time.Minute
	b.MaxInterval = 30 * time.Second

	var raw string
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create decision request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("x-goog-api-key", g.apiKey)

		start := time.Now()
		resp, err := g.httpClient.Do(req)
		if err != nil {
			g.logger.Warn("Network error during decision request, retrying.", zap.Error(err))
			return fmt.Errorf("decision request failed: %w", err)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read decision response: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			return g.handleAPIError(resp.StatusCode, respBody)
		}

		var payload geminiResponsePayload
		if err := json.Unmarshal(respBody, &payload); err != nil {
			return backoff.Permanent(fmt.Errorf("failed to decode decision payload: %w", err))
		}
		if len(payload.Candidates) == 0 {
			return backoff.Permanent(fmt.Errorf("decision engine returned no candidates"))
		}
		candidate := payload.Candidates[0]
		if len(candidate.Content.Parts) == 0 {
			if candidate.FinishReason == "SAFETY" || candidate.FinishReason == "BLOCKLIST" {
				return backoff.Permanent(fmt.Errorf("decision engine blocked the request (reason: %s)", candidate.FinishReason))
			}
			return fmt.Errorf("decision engine returned empty content (reason: %s)", candidate.FinishReason)
		}

		g.logger.Info("Decision generated.",
			zap.String("model", model),
			zap.Duration("duration", time.Since(start)),
			zap.Int("prompt_tokens", payload.UsageMetadata.PromptTokenCount),
			zap.Int("completion_tokens", payload.UsageMetadata.CandidatesTokenCount),
		)

		raw = candidate.Content.Parts[0].Text
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return schemas.Action{}, err
	}

	return ParseAction(raw)
}

func (g *GeminiEngine) buildRequestPayload(in Input) geminiRequestPayload {
	mime := in.ScreenshotMime
	if mime == "" {
		mime = "image/png"
	}

	parts := []geminiPart{}
	if len(in.Screenshot) > 0 {
		parts = append(parts, geminiPart{InlineData: &geminiInlineData{
			MimeType: mime,
			Data:     base64.StdEncoding.EncodeToString(in.Screenshot),
		}})
	}
	parts = append(parts, geminiPart{Text: buildUserPrompt(in)})

	genCfg := geminiGenerationConfig{
		Temperature:      g.cfg.Temperature,
		ResponseMimeType: "application/json",
		MaxOutputTokens:  g.cfg.MaxTokens,
	}
	budget := in.ThinkingBudget
	if budget == 0 {
		budget = g.cfg.ThinkingBudget
	}
	if budget > 0 {
		genCfg.ThinkingConfig = &geminiThinkingConfig{ThinkingBudget: budget}
	}

	return geminiRequestPayload{
		Contents: []geminiContent{{Role: "user", Parts: parts}},
		SystemInstruction: &geminiContent{
			Parts: []geminiPart{{Text: systemPrompt}},
		},
		GenerationConfig: genCfg,
	}
}

func (g *GeminiEngine) handleAPIError(statusCode int, body []byte) error {
	g.logger.Error("Decision API returned error status.",
		zap.Int("status", statusCode), zap.ByteString("response", body))
	err := fmt.Errorf("decision API error: status %d", statusCode)
	switch statusCode {
	case http.StatusTooManyRequests, http.StatusServiceUnavailable, http.StatusInternalServerError:
		return err // Transient, retry.
	default:
		return backoff.Permanent(err)
	}
}

// ParseAction extracts the single action object from a model response,
// tolerating markdown fences and surrounding prose.
func ParseAction(raw string) (schemas.Action, error) {
	text := strings.TrimSpace(raw)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return schemas.Action{}, fmt.Errorf("decision response contains no JSON object: %q", truncate(raw, 200))
	}

	var action schemas.Action
	if err := json.Unmarshal([]byte(text[start:end+1]), &action); err != nil {
		return schemas.Action{}, fmt.Errorf("failed to parse decision JSON: %w", err)
	}
	if err := action.Normalize(); err != nil {
		return schemas.Action{}, fmt.Errorf("decision engine produced an invalid action: %w", err)
	}
	return action, nil
}

var _ Engine = (*GeminiEngine)(nil)
