package vision

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/feichai0017/waybill-processor/config"
	"github.com/feichai0017/waybill-processor/internal/models"
	"github.com/feichai0017/waybill-processor/pkg/logger"
)

// OpenAIClient calls an OpenAI-compatible chat/completions endpoint with image content parts.
type OpenAIClient struct {
	cfg        config.OpenAIConfig
	httpClient *http.Client
	logger     logger.Logger
}

func NewOpenAIClient(cfg config.OpenAIConfig, log logger.Logger) *OpenAIClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	return &OpenAIClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
		logger:     log.Named("openai"),
	}
}

func (c *OpenAIClient) Name() string { return "openai:" + c.cfg.Model }

type chatContentPart struct {
	Type     string         `json:"type"`
	Text     string         `json:"text,omitempty"`
	ImageURL *chatImagePart `json:"image_url,omitempty"`
}

type chatImagePart struct {
	URL string `json:"url"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type chatRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	Temperature    float64           `json:"temperature"`
	MaxTokens      int               `json:"max_tokens,omitempty"`
	ResponseFormat map[string]string `json:"response_format"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

func (c *OpenAIClient) Complete(ctx context.Context, req Request) (string, error) {
	if len(req.Images) == 0 {
		return "", models.ErrNoImages
	}
	rid := uuid.NewString()
	start := time.Now()

	parts := make([]chatContentPart, 0, len(req.Images)+1)
	parts = append(parts, chatContentPart{Type: "text", Text: req.Prompt})
	for _, img := range req.Images {
		parts = append(parts, chatContentPart{
			Type:     "image_url",
			ImageURL: &chatImagePart{URL: "data:image/jpeg;base64," + encodeImage(img)},
		})
	}
	system := req.System
	if system == "" {
		system = SystemPrompt
	}
	body := chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: parts},
		},
		Temperature:    c.cfg.Temperature,
		MaxTokens:      c.cfg.MaxTokens,
		ResponseFormat: map[string]string{"type": "json_object"},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	c.logger.Info("llm.extract.start",
		logger.String("req_id", rid),
		logger.Int("pass", req.Pass),
		logger.String("model", c.cfg.Model),
		logger.Int("images", len(req.Images)),
	)

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.logger.Error("llm.extract.http_error", logger.String("req_id", rid), logger.Error(err))
		return "", &models.TransportError{Op: "openai chat completion", Err: err}
	}
	defer resp.Body.Close()

	if err := checkStatus("openai chat completion", resp); err != nil {
		c.logger.Error("llm.extract.status_error", logger.String("req_id", rid), logger.Error(err))
		return "", err
	}

	var cc chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&cc); err != nil {
		return "", &models.TransportError{Op: "decode openai response", Err: err}
	}
	if len(cc.Choices) == 0 {
		return "", &models.SchemaParseError{Pass: req.Pass, Err: models.ErrEmptyResponse}
	}

	content := cc.Choices[0].Message.Content
	c.logger.Info("llm.extract.ok",
		logger.String("req_id", rid),
		logger.Int("pass", req.Pass),
		logger.String("finish_reason", cc.Choices[0].FinishReason),
		logger.Int("content_len", len(content)),
		logger.Duration("elapsed", time.Since(start)),
	)
	return content, nil
}
