package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/tender-engine/backend/internal/compliance"
	"github.com/tender-engine/backend/internal/evaluation"
	"github.com/tender-engine/backend/internal/metrics"
	"github.com/tender-engine/backend/pkg/circuitbreaker"
	"github.com/tender-engine/backend/pkg/logger"
	"github.com/tender-engine/backend/pkg/retry"
)

// Client is the production classifier adapter on top of the OpenAI chat API.
// Every call is guarded by a circuit breaker and a single retry; beyond that
// the caller applies the yellow fail-safe, so errors here stay plain errors.
type Client struct {
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
	timeout     time.Duration
	cb          *circuitbreaker.CircuitBreaker
	retryConfig retry.Config
}

type CompletionRequest struct {
	SystemPrompt string
	UserPrompt   string
	MaxTokens    int
}

type CompletionResponse struct {
	Content string
	Usage   Usage
}

type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

func NewClient(apiKey, model string, temperature float32, maxTokens, timeoutSec int) *Client {
	client := openai.NewClient(apiKey)

	cb := circuitbreaker.NewCircuitBreaker("llm", circuitbreaker.Config{
		MaxRequests:      5,
		Interval:         time.Minute,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Logger:           logger.GetLogger(),
	})

	// one retry, then the orchestrator degrades the unit to yellow
	retryConfig := retry.Config{
		MaxAttempts:    2,
		InitialDelay:   500 * time.Millisecond,
		MaxDelay:       5 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
		Logger:         logger.GetLogger(),
	}

	if timeoutSec <= 0 {
		timeoutSec = 60
	}

	logger.Info("LLM client initialized",
		zap.String("model", model),
		zap.Int("timeout_sec", timeoutSec),
	)

	return &Client{
		client:      client,
		model:       model,
		temperature: temperature,
		maxTokens:   maxTokens,
		timeout:     time.Duration(timeoutSec) * time.Second,
		cb:          cb,
		retryConfig: retryConfig,
	}
}

func (c *Client) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.maxTokens
	}

	messages := []openai.ChatCompletionMessage{
		{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.SystemPrompt,
		},
		{
			Role:    openai.ChatMessageRoleUser,
			Content: req.UserPrompt,
		},
	}

	var result *CompletionResponse

	err := c.cb.Execute(ctx, func() error {
		return retry.Do(ctx, c.retryConfig, func() error {
			resp, err := c.client.CreateChatCompletion(
				ctx,
				openai.ChatCompletionRequest{
					Model:       c.model,
					Messages:    messages,
					Temperature: c.temperature,
					MaxTokens:   maxTokens,
				},
			)

			if err != nil {
				return fmt.Errorf("failed to create completion: %w", err)
			}

			if len(resp.Choices) == 0 {
				return fmt.Errorf("completion returned no choices")
			}

			logger.Debug("LLM completion generated",
				zap.Int("prompt_tokens", resp.Usage.PromptTokens),
				zap.Int("completion_tokens", resp.Usage.CompletionTokens),
			)

			result = &CompletionResponse{
				Content: resp.Choices[0].Message.Content,
				Usage: Usage{
					PromptTokens:     resp.Usage.PromptTokens,
					CompletionTokens: resp.Usage.CompletionTokens,
					TotalTokens:      resp.Usage.TotalTokens,
				},
			}

			return nil
		})
	})

	if err != nil {
		return nil, err
	}

	metrics.LLMTokensUsed.WithLabelValues(c.model, "prompt").Add(float64(result.Usage.PromptTokens))
	metrics.LLMTokensUsed.WithLabelValues(c.model, "completion").Add(float64(result.Usage.CompletionTokens))

	return result, nil
}

const classifySystemPrompt = `You are a tender compliance auditor.

Your task: evaluate whether the candidate OFFER satisfies the given REQUIREMENT.

RULES:
1. FULLY explicit match -> GREEN
2. Partially met or ambiguous -> YELLOW
3. Not met or contradicted -> RED

Return STRICT JSON:
{
 "status": "green|yellow|red",
 "reason": {
     "issue": "...",
     "risk": "...",
     "note": "..."
 }
}`

// Classify evaluates one requirement against a block of candidate content
// and returns a well-typed verdict, or an error when the response cannot be
// parsed strictly.
func (c *Client) Classify(ctx context.Context, requirement, candidateText string) (compliance.Verdict, error) {
	start := time.Now()
	defer func() {
		metrics.ClassifierDuration.Observe(time.Since(start).Seconds())
	}()

	userPrompt := fmt.Sprintf("REQUIREMENT:\n%s\n\nCANDIDATE CONTENT:\n%s", requirement, candidateText)

	resp, err := c.Complete(ctx, CompletionRequest{
		SystemPrompt: classifySystemPrompt,
		UserPrompt:   userPrompt,
	})
	if err != nil {
		return compliance.Verdict{}, err
	}

	verdict, err := parseVerdict(resp.Content)
	if err != nil {
		return compliance.Verdict{}, fmt.Errorf("malformed classifier response: %w", err)
	}

	return verdict, nil
}

// ExtractRequirements pulls categorized requirements out of one chunk of a
// requirement document. Keys of the result are the closed category set.
func (c *Client) ExtractRequirements(ctx context.Context, categories []string, chunk string) (map[string][]string, error) {
	var catList strings.Builder
	var catJSON strings.Builder
	for i, cat := range categories {
		fmt.Fprintf(&catList, "- %s\n", cat)
		if i > 0 {
			catJSON.WriteString(", ")
		}
		fmt.Fprintf(&catJSON, "%q: []", cat)
	}

	systemPrompt := fmt.Sprintf(`You are a tender document analyzer. Extract ALL explicit and implied REQUIREMENTS from the given text chunk.

The requirements MUST be structured into these categories:
%s
Rules:
1. Extract ONLY requirements, NOT explanations.
2. Each requirement must be short, atomic, and precise.
3. Even partial or ambiguous requirements MUST be included.
4. If a requirement could belong to several categories, choose the closest match.
5. Return ONLY valid JSON in this exact structure: {%s}`, catList.String(), catJSON.String())

	resp, err := c.Complete(ctx, CompletionRequest{
		SystemPrompt: systemPrompt,
		UserPrompt:   fmt.Sprintf("Extract requirements from this chunk:\n----\n%s\n----", chunk),
	})
	if err != nil {
		return nil, err
	}

	var parsed map[string][]string
	if err := json.Unmarshal([]byte(stripFence(resp.Content)), &parsed); err != nil {
		return nil, fmt.Errorf("malformed requirement extraction response: %w", err)
	}

	logger.Debug("requirements extracted from chunk", zap.Int("categories", len(parsed)))

	return parsed, nil
}

// Summarize produces the free-form rollup for one candidate evaluation.
func (c *Client) Summarize(ctx context.Context, findings []evaluation.RequirementRecord) (compliance.Summary, error) {
	data, err := json.Marshal(findings)
	if err != nil {
		return compliance.Summary{}, fmt.Errorf("failed to marshal findings: %w", err)
	}

	systemPrompt := `Summarize a tender compliance evaluation.

Return JSON:
{
 "overview": "...",
 "strengths": [],
 "risks": [],
 "unclear": []
}`

	resp, err := c.Complete(ctx, CompletionRequest{
		SystemPrompt: systemPrompt,
		UserPrompt:   fmt.Sprintf("Evaluation data:\n%s", data),
	})
	if err != nil {
		return compliance.Summary{}, err
	}

	var summary compliance.Summary
	if err := json.Unmarshal([]byte(stripFence(resp.Content)), &summary); err != nil {
		return compliance.Summary{}, fmt.Errorf("malformed summary response: %w", err)
	}

	return summary, nil
}

// verdictDTO is the wire shape of a classifier verdict. Parsing is strict:
// an unknown status or broken JSON is an error, never a guessed verdict.
type verdictDTO struct {
	Status string `json:"status"`
	Reason struct {
		Issue string `json:"issue"`
		Risk  string `json:"risk"`
		Note  string `json:"note"`
	} `json:"reason"`
}

func parseVerdict(content string) (compliance.Verdict, error) {
	var dto verdictDTO
	if err := json.Unmarshal([]byte(stripFence(content)), &dto); err != nil {
		return compliance.Verdict{}, err
	}

	status, err := compliance.ParseStatus(dto.Status)
	if err != nil {
		return compliance.Verdict{}, err
	}

	return compliance.NewVerdict(status, compliance.Reason{
		Issue: dto.Reason.Issue,
		Risk:  dto.Reason.Risk,
		Note:  dto.Reason.Note,
	}), nil
}

// stripFence unwraps a markdown code fence around a JSON body. Models wrap
// their output this way often enough that the adapter tolerates it; anything
// beyond fence removal is still a strict parse.
func stripFence(content string) string {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}

	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	if idx := strings.LastIndex(trimmed, "```"); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	return strings.TrimSpace(trimmed)
}
