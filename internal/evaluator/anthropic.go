package evaluator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/fitsignal/fitsignal-core/internal/config"
	"github.com/fitsignal/fitsignal-core/internal/protocol"
)

const evaluationSystemPrompt = `You are an interview evaluation engine. You receive an assessment plan, the current per-group state, and new transcript excerpts from a live interview. Judge each group strictly on what the candidate actually said.

Respond with a single JSON object:
{"overallFit": <0-100>, "groups": [{"groupId": "...", "verdict": "satisfied|likely|needs_more|unknown|concern", "confidence": <0-100>, "rationale": "...", "followUpQuestions": ["..."], "notableQuotes": ["..."], "conflicts": [{"summary": "...", "evidence": [{"quote": "...", "source": "microphone|speaker"}], "recommendedAction": "..."}]}]}

Only raise a conflict when two statements genuinely contradict each other. Quote the candidate verbatim in notableQuotes. Respond with JSON only.`

// AnthropicClient calls the Anthropic Messages API. It serves both batch
// evaluation and one-shot planning completions.
type AnthropicClient struct {
	endpoint   string
	apiKey     string
	apiVersion string
	model      string
	maxTokens  int
	httpClient *http.Client
	logger     *slog.Logger
}

func NewAnthropicClient(cfg config.EvaluatorConfig, logger *slog.Logger) *AnthropicClient {
	endpoint := strings.TrimSuffix(cfg.Endpoint, "/")
	if endpoint == "" {
		endpoint = "https://api.anthropic.com"
	}
	apiVersion := cfg.APIVersion
	if apiVersion == "" {
		apiVersion = "2023-06-01"
	}
	return &AnthropicClient{
		endpoint:   endpoint,
		apiKey:     cfg.APIKey,
		apiVersion: apiVersion,
		model:      cfg.Model,
		maxTokens:  cfg.MaxTokens,
		httpClient: &http.Client{Timeout: time.Duration(cfg.TimeoutMS) * time.Millisecond},
		logger:     logger.With("component", "evaluator.anthropic"),
	}
}

type messagesRequest struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	System    string    `json:"system,omitempty"`
	Messages  []message `json:"messages"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Evaluate judges one batch of transcript chunks against the active plan.
func (c *AnthropicClient) Evaluate(ctx context.Context, req Request) (*Result, error) {
	user, err := buildEvaluationPrompt(req)
	if err != nil {
		return nil, err
	}
	raw, err := c.Complete(ctx, c.model, evaluationSystemPrompt, user, c.maxTokens)
	if err != nil {
		return nil, err
	}
	result, err := ParseResult(raw)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("evaluation batch complete",
		"session_id", req.SessionID,
		"chunks", len(req.NewChunks),
		"groups", len(result.Groups))
	return result, nil
}

// Complete issues one non-streaming Messages API call and returns the
// concatenated text blocks.
func (c *AnthropicClient) Complete(ctx context.Context, model, system, user string, maxTokens int) (string, error) {
	if model == "" {
		model = c.model
	}
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}
	payload := messagesRequest{
		Model:     model,
		MaxTokens: maxTokens,
		System:    system,
		Messages:  []message{{Role: "user", Content: user}},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", c.apiVersion)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}
	var decoded messagesResponse
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return "", fmt.Errorf("decoding messages response: %w", err)
	}
	if resp.StatusCode >= 300 {
		if decoded.Error != nil {
			return "", fmt.Errorf("messages api %s: %s", decoded.Error.Type, decoded.Error.Message)
		}
		return "", fmt.Errorf("messages api returned status %s", resp.Status)
	}

	var text strings.Builder
	for _, block := range decoded.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return "", fmt.Errorf("messages api returned no text blocks")
	}
	return text.String(), nil
}

// buildEvaluationPrompt renders the plan, current state and transcript
// excerpts into the user message for one batch.
func buildEvaluationPrompt(req Request) (string, error) {
	var b strings.Builder

	if req.Plan != nil {
		planJSON, err := json.MarshalIndent(req.Plan.Groups, "", "  ")
		if err != nil {
			return "", fmt.Errorf("encoding plan: %w", err)
		}
		b.WriteString("Assessment plan groups:\n")
		b.Write(planJSON)
		b.WriteString("\n\n")
	}

	if len(req.CurrentState) > 0 {
		stateJSON, err := json.MarshalIndent(req.CurrentState, "", "  ")
		if err != nil {
			return "", fmt.Errorf("encoding current state: %w", err)
		}
		b.WriteString("Current group state:\n")
		b.Write(stateJSON)
		b.WriteString("\n\n")
	}

	if len(req.RecentContext) > 0 {
		b.WriteString("Recent conversation for context (already evaluated):\n")
		writeChunks(&b, req.RecentContext)
		b.WriteString("\n")
	}

	b.WriteString("New transcript excerpts to evaluate:\n")
	writeChunks(&b, req.NewChunks)
	return b.String(), nil
}

func writeChunks(b *strings.Builder, chunks []Chunk) {
	for _, chunk := range chunks {
		speaker := "candidate"
		if chunk.Source == protocol.SourceSpeaker {
			speaker = "interviewer"
		}
		fmt.Fprintf(b, "[%s] %s\n", speaker, chunk.Text)
	}
}
