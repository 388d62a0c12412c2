// Package telegram is a minimal Telegram Bot API client covering what the
// relay needs: text and media sends with inline keyboards, callback answers,
// long polling and webhook registration.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DefaultBaseURL is the public Bot API endpoint.
const DefaultBaseURL = "https://api.telegram.org"

// ClientConfig holds configuration for creating a Client.
type ClientConfig struct {
	// Token is the bot credential.
	Token string
	// BaseURL overrides DefaultBaseURL, e.g. for a local Bot API server or tests.
	BaseURL string
	// HTTPClient is used for all requests. If nil, http.DefaultClient is used.
	HTTPClient *http.Client
	// Logger is used for debug logging of API calls. If nil, logging is disabled.
	Logger *zap.Logger
}

// Client calls the Bot API on behalf of one bot.
type Client struct {
	endpoint   string
	httpClient *http.Client
	log        *zap.Logger
}

// NewClient creates a Client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("telegram: token is required")
	}
	base := cfg.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("telegram: invalid base URL %q: %w", base, err)
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		endpoint:   strings.TrimRight(base, "/") + "/bot" + cfg.Token + "/",
		httpClient: httpClient,
		log:        log,
	}, nil
}

// GetMe returns the bot's own user.
func (c *Client) GetMe(ctx context.Context) (*User, error) {
	var u User
	if err := c.call(ctx, "getMe", struct{}{}, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// SendMessage sends a text message and returns it.
func (c *Client) SendMessage(ctx context.Context, p SendMessageParams) (*Message, error) {
	var m Message
	if err := c.call(ctx, "sendMessage", p, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// SendMedia sends a media message by file id and returns it.
func (c *Client) SendMedia(ctx context.Context, p SendMediaParams) (*Message, error) {
	method, ok := mediaMethods[p.Field]
	if !ok {
		return nil, fmt.Errorf("telegram: unsupported media field %q", p.Field)
	}
	var m Message
	if err := c.call(ctx, method, p.body(), &m); err != nil {
		return nil, err
	}
	return &m, nil
}

var mediaMethods = map[string]string{
	"photo":     "sendPhoto",
	"document":  "sendDocument",
	"video":     "sendVideo",
	"voice":     "sendVoice",
	"audio":     "sendAudio",
	"animation": "sendAnimation",
	"sticker":   "sendSticker",
}

// AnswerCallbackQuery acknowledges a button press, optionally showing text.
func (c *Client) AnswerCallbackQuery(ctx context.Context, id, text string) error {
	body := map[string]any{"callback_query_id": id}
	if text != "" {
		body["text"] = text
	}
	return c.call(ctx, "answerCallbackQuery", body, nil)
}

// GetUpdates long-polls for updates starting at offset.
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]Update, error) {
	body := map[string]any{
		"offset":          offset,
		"timeout":         int(timeout / time.Second),
		"allowed_updates": []string{"message", "callback_query"},
	}
	var updates []Update
	if err := c.call(ctx, "getUpdates", body, &updates); err != nil {
		return nil, err
	}
	return updates, nil
}

// SetWebhook registers the webhook. A certificate, when given, is uploaded
// as multipart form data.
func (c *Client) SetWebhook(ctx context.Context, cfg WebhookConfig) error {
	fields := map[string]string{
		"url":                  cfg.URL,
		"drop_pending_updates": strconv.FormatBool(cfg.DropPendingUpdates),
	}
	if cfg.SecretToken != "" {
		fields["secret_token"] = cfg.SecretToken
	}
	if len(cfg.AllowedUpdates) > 0 {
		b, err := json.Marshal(cfg.AllowedUpdates)
		if err != nil {
			return fmt.Errorf("telegram: encode allowed updates: %w", err)
		}
		fields["allowed_updates"] = string(b)
	}

	if len(cfg.Certificate) == 0 {
		return c.call(ctx, "setWebhook", fields, nil)
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return fmt.Errorf("telegram: write field %s: %w", k, err)
		}
	}
	part, err := w.CreateFormFile("certificate", "webhook.pem")
	if err != nil {
		return fmt.Errorf("telegram: create certificate part: %w", err)
	}
	if _, err := part.Write(cfg.Certificate); err != nil {
		return fmt.Errorf("telegram: write certificate: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("telegram: close multipart: %w", err)
	}
	return c.do(ctx, "setWebhook", w.FormDataContentType(), &buf, nil)
}

// DeleteWebhook removes the webhook so that long polling can be used.
func (c *Client) DeleteWebhook(ctx context.Context) error {
	return c.call(ctx, "deleteWebhook", struct{}{}, nil)
}

func (c *Client) call(ctx context.Context, method string, params any, out any) error {
	b, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("telegram: encode %s: %w", method, err)
	}
	return c.do(ctx, method, "application/json", bytes.NewReader(b), out)
}

func (c *Client) do(ctx context.Context, method, contentType string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+method, body)
	if err != nil {
		return fmt.Errorf("telegram: build %s: %w", method, err)
	}
	req.Header.Set("Content-Type", contentType)

	started := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		// The URL carries the token; never let it reach the logs.
		var uerr *url.Error
		if errors.As(err, &uerr) {
			err = uerr.Err
		}
		return fmt.Errorf("telegram: %s: %w", method, err)
	}
	defer resp.Body.Close()

	var r response
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return fmt.Errorf("telegram: %s: decode response (HTTP %d): %w", method, resp.StatusCode, err)
	}
	c.log.Debug("telegram call",
		zap.String("method", method),
		zap.Int("status", resp.StatusCode),
		zap.Duration("took", time.Since(started)),
	)

	if !r.OK {
		apiErr := &APIError{Method: method, Code: r.ErrorCode, Description: r.Description}
		if apiErr.Code == 0 {
			apiErr.Code = resp.StatusCode
		}
		if r.Parameters != nil && r.Parameters.RetryAfter > 0 {
			apiErr.RetryAfter = time.Duration(r.Parameters.RetryAfter) * time.Second
		}
		return apiErr
	}
	if out == nil || len(r.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Result, out); err != nil {
		return fmt.Errorf("telegram: %s: decode result: %w", method, err)
	}
	return nil
}
