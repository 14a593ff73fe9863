package vision

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/feichai0017/waybill-processor/config"
	"github.com/feichai0017/waybill-processor/internal/models"
	"github.com/feichai0017/waybill-processor/pkg/logger"
)

// OllamaResponse is the non-streaming /api/generate reply.
type OllamaResponse struct {
	Response        string `json:"response"`
	Model           string `json:"model"`
	Done            bool   `json:"done"`
	TotalDuration   int64  `json:"total_duration,omitempty"`
	PromptEvalCount int    `json:"prompt_eval_count,omitempty"`
	EvalCount       int    `json:"eval_count,omitempty"`
	Error           string `json:"error,omitempty"`
}

// OllamaClient talks to a local Ollama server through /api/generate.
type OllamaClient struct {
	endpoint    string
	model       string
	maxTokens   int
	temperature float64
	httpClient  *http.Client
	logger      logger.Logger
}

func NewOllamaClient(cfg config.OllamaConfig, log logger.Logger) *OllamaClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &OllamaClient{
		endpoint:    strings.TrimRight(cfg.Endpoint, "/"),
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		httpClient:  &http.Client{Timeout: timeout},
		logger:      log.Named("ollama"),
	}
}

func (c *OllamaClient) Name() string { return "ollama:" + c.model }

func (c *OllamaClient) Complete(ctx context.Context, req Request) (string, error) {
	if len(req.Images) == 0 {
		return "", models.ErrNoImages
	}
	images := make([]string, len(req.Images))
	for i, img := range req.Images {
		images[i] = encodeImage(img)
	}
	system := req.System
	if system == "" {
		system = SystemPrompt
	}

	reqBody := map[string]interface{}{
		"model":  c.model,
		"system": system,
		"prompt": req.Prompt,
		"images": images,
		"format": "json",
		"stream": false,
		"options": map[string]interface{}{
			"temperature": c.temperature,
			"num_predict": c.maxTokens,
		},
	}
	reqData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/api/generate", bytes.NewReader(reqData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", &models.TransportError{Op: "ollama generate", Err: err}
	}
	defer resp.Body.Close()

	if err := checkStatus("ollama generate", resp); err != nil {
		return "", err
	}

	var result OllamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", &models.TransportError{Op: "decode ollama response", Err: err}
	}
	if result.Error != "" {
		return "", &models.TransportError{Op: "ollama generate", Err: fmt.Errorf("%s", result.Error)}
	}

	c.logger.Info("llm.extract.ok",
		logger.Int("pass", req.Pass),
		logger.String("model", result.Model),
		logger.Int("eval_count", result.EvalCount),
		logger.Duration("elapsed", time.Since(start)),
	)
	return result.Response, nil
}

func (c *OllamaClient) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}
