package answer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/slok/webq/internal/log"
	"github.com/slok/webq/internal/model"
)

// Generator knows how to answer a question about extracted page content.
type Generator interface {
	Answer(ctx context.Context, content, question string) (string, error)
}

const (
	// DefaultBaseURL is the Groq OpenAI-compatible API base.
	DefaultBaseURL = "https://api.groq.com/openai/v1"
	// DefaultModel is the inference model used for answers.
	DefaultModel = "llama-3.1-8b-instant"
	// DefaultRequestTimeout bounds a single inference call so a hung service
	// can't hold a worker slot indefinitely.
	DefaultRequestTimeout = 60 * time.Second

	// MaxContentLength is the character budget for page content sent to the
	// model. Longer pages get partial-context answers instead of failing.
	MaxContentLength = 15000
	// TruncationMarker is appended to content cut at MaxContentLength.
	TruncationMarker = "...[truncated]"

	// NoAnswerFallback is returned when the service responds without content,
	// so a successful fetch still ends in a completed task.
	NoAnswerFallback = "No answer generated"

	systemPrompt = "You are a helpful assistant that answers questions based on website content. Provide clear, concise, and accurate answers."
)

// GroqGeneratorConfig is the configuration for the Groq generator.
type GroqGeneratorConfig struct {
	APIKey         string
	BaseURL        string
	Model          string
	RequestTimeout time.Duration
	Client         *http.Client
	Logger         log.Logger
}

func (c *GroqGeneratorConfig) defaults() error {
	if c.APIKey == "" {
		return fmt.Errorf("api key is required")
	}
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.Model == "" {
		c.Model = DefaultModel
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.Client == nil {
		c.Client = http.DefaultClient
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "answer.Groq"})
	return nil
}

// GroqGenerator answers questions through the Groq chat completions API.
type GroqGenerator struct {
	cfg    GroqGeneratorConfig
	logger log.Logger
}

// NewGroqGenerator creates a new Groq generator.
func NewGroqGenerator(cfg GroqGeneratorConfig) (*GroqGenerator, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &GroqGenerator{
		cfg:    cfg,
		logger: cfg.Logger,
	}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Messages    []chatMessage `json:"messages"`
	Model       string        `json:"model"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Answer asks the model the question over the (possibly truncated) content.
func (g *GroqGenerator) Answer(ctx context.Context, content, question string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.RequestTimeout)
	defer cancel()

	truncated := Truncate(content)

	reqBody := chatRequest{
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: fmt.Sprintf("Based on the following website content, please answer this question: %q\n\nWebsite Content:\n%s", question, truncated)},
		},
		Model:       g.cfg.Model,
		Temperature: 0.7,
		MaxTokens:   1024,
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("could not marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("could not create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.cfg.APIKey)

	resp, err := g.cfg.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("inference request failed: %s: %w", err, model.ErrGeneration)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", fmt.Errorf("inference service returned status %d: %s: %w", resp.StatusCode, raw, model.ErrGeneration)
	}

	var chatResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return "", fmt.Errorf("could not decode response: %s: %w", err, model.ErrGeneration)
	}

	if len(chatResp.Choices) == 0 || chatResp.Choices[0].Message.Content == "" {
		g.logger.Warningf("Inference service returned no content, falling back")
		return NoAnswerFallback, nil
	}

	g.logger.Debugf("Generated answer (%d characters)", len(chatResp.Choices[0].Message.Content))
	return chatResp.Choices[0].Message.Content, nil
}

// Truncate cuts content to the model input budget appending a marker when it
// was cut.
func Truncate(content string) string {
	if len(content) <= MaxContentLength {
		return content
	}
	return content[:MaxContentLength] + TruncationMarker
}
