package vision

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/feichai0017/waybill-processor/config"
	"github.com/feichai0017/waybill-processor/internal/models"
	"github.com/feichai0017/waybill-processor/pkg/logger"
)

// Request is one vision call: a prompt plus an ordered list of JPEG images.
type Request struct {
	Pass   int
	System string
	Prompt string
	Images [][]byte
}

// Model sends a Request to a vision-capable model and returns the raw text content.
type Model interface {
	Complete(ctx context.Context, req Request) (string, error)
	Name() string
}

// NewModel builds the configured provider.
func NewModel(cfg config.VisionConfig, log logger.Logger) (Model, error) {
	switch cfg.Provider {
	case "openai", "":
		return NewOpenAIClient(cfg.OpenAI, log), nil
	case "ollama":
		return NewOllamaClient(cfg.Ollama, log), nil
	default:
		return nil, fmt.Errorf("unsupported vision provider: %s", cfg.Provider)
	}
}

func encodeImage(img []byte) string {
	return base64.StdEncoding.EncodeToString(img)
}

// checkStatus turns a non-2xx response into a TransportError carrying a body excerpt.
func checkStatus(op string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	return &models.TransportError{
		Op:         op,
		StatusCode: resp.StatusCode,
		Err:        fmt.Errorf("%s", strings.TrimSpace(string(body))),
	}
}
