package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/feichai0017/waybill-processor/config"
	"github.com/feichai0017/waybill-processor/internal/models"
	"github.com/feichai0017/waybill-processor/pkg/logger"
)

// Client wraps the Bot API with the retry policy and media handling the waybill bot needs.
type Client struct {
	api          *tgbotapi.BotAPI
	token        string
	baseURL      string
	photoDir     string
	sendAttempts int
	sendBackoff  time.Duration
	pollTimeout  time.Duration
	fileClient   *http.Client
	logger       logger.Logger
}

// NewClient connects to the Bot API and checks the token with getMe.
func NewClient(cfg config.TelegramConfig, log logger.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.telegram.org"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if cfg.SendAttempts <= 0 {
		cfg.SendAttempts = 3
	}
	if cfg.SendBackoff <= 0 {
		cfg.SendBackoff = 1500 * time.Millisecond
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 30 * time.Second
	}
	if cfg.PhotoDir == "" {
		cfg.PhotoDir = "/tmp/photos"
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")

	// one client serves both long polls and plain calls, so it must outlive a poll
	api, err := tgbotapi.NewBotAPIWithClient(cfg.Token, baseURL+"/bot%s/%s",
		&http.Client{Timeout: cfg.PollTimeout + cfg.Timeout})
	if err != nil {
		return nil, transportError("getMe", err)
	}

	log = log.Named("telegram")
	log.Info("connected to bot api", logger.String("bot", api.Self.UserName))
	return &Client{
		api:          api,
		token:        cfg.Token,
		baseURL:      baseURL,
		photoDir:     cfg.PhotoDir,
		sendAttempts: cfg.SendAttempts,
		sendBackoff:  cfg.SendBackoff,
		pollTimeout:  cfg.PollTimeout,
		fileClient:   &http.Client{Timeout: cfg.Timeout},
		logger:       log,
	}, nil
}

func transportError(method string, err error) error {
	te := &models.TransportError{Op: "telegram " + method, Err: err}
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		te.StatusCode = apiErr.Code
	}
	return te
}

// GetUpdates long-polls for updates after offset. A cancelled ctx returns
// immediately; the abandoned poll ends with its HTTP timeout.
func (c *Client) GetUpdates(ctx context.Context, offset int64) ([]Update, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cfg := tgbotapi.UpdateConfig{
		Offset:         int(offset),
		Timeout:        int(c.pollTimeout / time.Second),
		AllowedUpdates: []string{"message", "callback_query"},
	}

	type result struct {
		updates []tgbotapi.Update
		err     error
	}
	done := make(chan result, 1)
	go func() {
		updates, err := c.api.GetUpdates(cfg)
		done <- result{updates, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-done:
		if r.err != nil {
			return nil, transportError("getUpdates", r.err)
		}
		out := make([]Update, 0, len(r.updates))
		for _, u := range r.updates {
			out = append(out, fromAPIUpdate(u))
		}
		return out, nil
	}
}

// SendMessage delivers text with an optional inline keyboard, retrying with a fixed backoff.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string, kb Keyboard) error {
	msg := tgbotapi.NewMessage(chatID, text)
	if len(kb) > 0 {
		msg.ReplyMarkup = kb.markup()
	}

	var lastErr error
	for attempt := 1; attempt <= c.sendAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		_, err := c.api.Send(msg)
		if err == nil {
			return nil
		}
		lastErr = transportError("sendMessage", err)
		c.logger.Warn("sendMessage failed",
			logger.Int64("chat_id", chatID),
			logger.Int("attempt", attempt),
			logger.Error(lastErr),
		)
		if attempt == c.sendAttempts {
			break
		}
		select {
		case <-time.After(c.sendBackoff):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("failed to send message after %d attempts: %w", c.sendAttempts, lastErr)
}

// EditMessageText replaces the text of a sent message. A nil kb leaves the message without a keyboard.
func (c *Client) EditMessageText(ctx context.Context, chatID, messageID int64, text string, kb Keyboard) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	edit := tgbotapi.NewEditMessageText(chatID, int(messageID), text)
	if kb != nil {
		markup := kb.markup()
		edit.ReplyMarkup = &markup
	}
	if _, err := c.api.Request(edit); err != nil {
		return transportError("editMessageText", err)
	}
	return nil
}

// AnswerCallback acknowledges an inline button press.
func (c *Client) AnswerCallback(ctx context.Context, callbackID, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := c.api.Request(tgbotapi.NewCallback(callbackID, text)); err != nil {
		return transportError("answerCallbackQuery", err)
	}
	return nil
}

// GetFile resolves a file id to its server-side path.
func (c *Client) GetFile(ctx context.Context, fileID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	f, err := c.api.GetFile(tgbotapi.FileConfig{FileID: fileID})
	if err != nil {
		return "", transportError("getFile", err)
	}
	if f.FilePath == "" {
		return "", fmt.Errorf("getFile returned no path for %s", fileID)
	}
	return f.FilePath, nil
}

// Download fetches the file into {photo_dir}/{file_id}.jpg and returns the local path.
func (c *Client) Download(ctx context.Context, fileID string) (string, error) {
	remote, err := c.GetFile(ctx, fileID)
	if err != nil {
		return "", err
	}

	// tgbotapi.File.Link always points at api.telegram.org, so the URL is built from baseURL
	url := fmt.Sprintf("%s/file/bot%s/%s", c.baseURL, c.token, remote)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create download request: %w", err)
	}
	resp, err := c.fileClient.Do(req)
	if err != nil {
		return "", &models.TransportError{Op: "telegram download", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", &models.TransportError{Op: "telegram download", StatusCode: resp.StatusCode, Err: fmt.Errorf("%s", resp.Status)}
	}

	if err := os.MkdirAll(c.photoDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create photo dir: %w", err)
	}
	local := filepath.Join(c.photoDir, filepath.Base(fileID)+".jpg")
	out, err := os.Create(local)
	if err != nil {
		return "", fmt.Errorf("failed to create %s: %w", local, err)
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		out.Close()
		return "", &models.TransportError{Op: "telegram download", Err: err}
	}
	if err := out.Close(); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", local, err)
	}

	c.logger.Debug("photo downloaded", logger.String("file_id", fileID), logger.String("path", local))
	return local, nil
}
