package bitrix

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/feichai0017/waybill-processor/config"
	"github.com/feichai0017/waybill-processor/internal/models"
	"github.com/feichai0017/waybill-processor/pkg/logger"
)

const (
	methodFolderGet  = "im.disk.folder.get"
	methodUploadFile = "disk.folder.uploadfile"
	methodFileCommit = "im.disk.file.commit"
	methodMessageAdd = "im.message.add"
)

// APIError is an error object returned by a webhook method.
type APIError struct {
	Method      string
	Code        string
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// Result is what gets recorded on the document after a delivery attempt.
// It is populated as far as the attempt got, also on failure.
type Result struct {
	Payload  map[string]any
	Response map[string]any
}

// Client posts waybills to a chat through an incoming webhook.
type Client struct {
	webhookURL string
	chatID     string
	attempts   int
	backoff    time.Duration
	httpClient *http.Client
	logger     logger.Logger
}

func NewClient(cfg config.BitrixConfig, log logger.Logger) *Client {
	if cfg.Attempts <= 0 {
		cfg.Attempts = 3
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 2 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{
		webhookURL: strings.TrimRight(cfg.WebhookURL, "/") + "/",
		chatID:     cfg.ChatID,
		attempts:   cfg.Attempts,
		backoff:    cfg.Backoff,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     log.Named("bitrix"),
	}
}

// ChatNumericID keeps the digits of a dialog id: "chat54955" yields 54955.
func ChatNumericID(chatID string) int64 {
	var b strings.Builder
	for _, r := range chatID {
		if unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	n, _ := strconv.ParseInt(b.String(), 10, 64)
	return n
}

// Deliver uploads the photo into the chat, if any, then posts the text.
// A failed commit after a successful upload leaves the uploaded file in place.
func (c *Client) Deliver(ctx context.Context, text, photoPath string) (*Result, error) {
	res := &Result{Payload: map[string]any{"text": text, "photo_path": photoPath}}

	if photoPath != "" {
		chatNum := ChatNumericID(c.chatID)
		res.Payload["chat_num_id"] = chatNum

		folderID, err := c.chatFolder(ctx, chatNum)
		if err != nil {
			return res, err
		}
		res.Payload["folder_id"] = folderID

		diskID, err := c.upload(ctx, folderID, photoPath)
		if err != nil {
			return res, err
		}
		res.Payload["disk_id"] = diskID

		resp, err := c.call(ctx, methodFileCommit, url.Values{
			"CHAT_ID": {strconv.FormatInt(chatNum, 10)},
			"DISK_ID": {strconv.FormatInt(diskID, 10)},
		})
		if err != nil {
			return res, err
		}
		if apiErr := errorOf(methodFileCommit, resp); apiErr != nil {
			res.Response = resp
			return res, apiErr
		}
	}

	resp, err := c.call(ctx, methodMessageAdd, url.Values{
		"DIALOG_ID": {c.chatID},
		"MESSAGE":   {text},
	})
	if err != nil {
		return res, err
	}
	res.Response = resp
	if apiErr := errorOf(methodMessageAdd, resp); apiErr != nil {
		return res, apiErr
	}
	c.logger.Info("waybill delivered", logger.String("dialog_id", c.chatID))
	return res, nil
}

func (c *Client) chatFolder(ctx context.Context, chatNum int64) (int64, error) {
	resp, err := c.call(ctx, methodFolderGet, url.Values{"CHAT_ID": {strconv.FormatInt(chatNum, 10)}})
	if err != nil {
		return 0, err
	}
	id := resultID(resp)
	if id == 0 {
		return 0, fmt.Errorf("%s failed: %v", methodFolderGet, describe(methodFolderGet, resp))
	}
	return id, nil
}

func (c *Client) upload(ctx context.Context, folderID int64, photoPath string) (int64, error) {
	data, err := os.ReadFile(photoPath)
	if err != nil {
		return 0, fmt.Errorf("failed to read photo: %w", err)
	}
	name := filepath.Base(photoPath)
	resp, err := c.call(ctx, methodUploadFile, url.Values{
		"id":             {strconv.FormatInt(folderID, 10)},
		"data[NAME]":     {name},
		"fileContent[0]": {name},
		"fileContent[1]": {base64.StdEncoding.EncodeToString(data)},
	})
	if err != nil {
		return 0, err
	}
	id := resultID(resp)
	if id == 0 {
		return 0, fmt.Errorf("%s failed: %v", methodUploadFile, describe(methodUploadFile, resp))
	}
	return id, nil
}

// call posts one form-encoded method, retrying transport failures with a fixed backoff.
func (c *Client) call(ctx context.Context, method string, form url.Values) (map[string]any, error) {
	var lastErr error
	for attempt := 1; attempt <= c.attempts; attempt++ {
		resp, err := c.post(ctx, method, form)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		c.logger.Warn("webhook call failed",
			logger.String("method", method),
			logger.Int("attempt", attempt),
			logger.Error(err),
		)
		if attempt == c.attempts {
			break
		}
		select {
		case <-time.After(c.backoff):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, lastErr
}

func (c *Client) post(ctx context.Context, method string, form url.Values) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.webhookURL+method, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &models.TransportError{Op: "bitrix " + method, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &models.TransportError{Op: "bitrix " + method, StatusCode: resp.StatusCode, Err: err}
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		out = map[string]any{"raw": string(raw)}
	}
	// 4xx replies carry an error object and are not retried
	if resp.StatusCode >= 500 {
		return nil, &models.TransportError{Op: "bitrix " + method, StatusCode: resp.StatusCode, Err: fmt.Errorf("%s", strings.TrimSpace(string(raw)))}
	}
	return out, nil
}

func errorOf(method string, resp map[string]any) error {
	code, ok := resp["error"]
	if !ok {
		return nil
	}
	desc, _ := resp["error_description"].(string)
	return &APIError{Method: method, Code: fmt.Sprint(code), Description: desc}
}

func describe(method string, resp map[string]any) any {
	if err := errorOf(method, resp); err != nil {
		return err
	}
	return resp
}

// resultID reads result.ID (or result.id) as an integer.
func resultID(resp map[string]any) int64 {
	result, _ := resp["result"].(map[string]any)
	if result == nil {
		return 0
	}
	for _, key := range []string{"ID", "id"} {
		switch v := result[key].(type) {
		case float64:
			return int64(v)
		case string:
			if n, err := strconv.ParseInt(v, 10, 64); err == nil {
				return n
			}
		}
	}
	return 0
}
