/*
Package feishu is the chat-platform collaborator: outbound messages,
spreadsheet-backed persistence, and webhook payload decoding for the
Feishu (Lark) open platform.

client.go - Authenticated HTTP client with tenant-token caching

PURPOSE:
  Every open-platform call needs a tenant access token obtained from the
  app id/secret pair. Tokens live roughly two hours; this client caches
  one and refreshes it shortly before expiry so concurrent callers never
  stampede the auth endpoint.

API SHAPE:
  All endpoints wrap their payload in {"code": int, "msg": string, ...};
  code 0 is success. Anything else surfaces as a PlatformError carrying
  the code and message.

SEE ALSO:
  - sheet.go: Spreadsheet row store built on this client
  - webhook.go: Inbound event decoding (no token needed)
*/
package feishu

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const defaultBaseURL = "https://open.feishu.cn/open-apis"

// tokenSafety is subtracted from the advertised token lifetime so a
// token is never used within a minute of expiring mid-request.
const tokenSafety = time.Minute

// ErrPlatform is the sentinel wrapped by every non-zero platform code.
var ErrPlatform = errors.New("feishu platform error")

// PlatformError carries the platform's code and message for a failed call.
type PlatformError struct {
	Op   string
	Code int
	Msg  string
}

func (e *PlatformError) Error() string {
	return fmt.Sprintf("feishu %s failed: code=%d msg=%q", e.Op, e.Code, e.Msg)
}

func (e *PlatformError) Unwrap() error { return ErrPlatform }

// =============================================================================
// CLIENT
// =============================================================================

type Client struct {
	baseURL   string
	appID     string
	appSecret string
	http      *http.Client
	log       *zap.Logger

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
	now         func() time.Time
}

func NewClient(appID, appSecret string, log *zap.Logger) *Client {
	return &Client{
		baseURL:   defaultBaseURL,
		appID:     appID,
		appSecret: appSecret,
		http:      &http.Client{Timeout: 15 * time.Second},
		log:       log,
		now:       time.Now,
	}
}

// =============================================================================
// TENANT TOKEN
// =============================================================================

type tokenResponse struct {
	Code              int    `json:"code"`
	Msg               string `json:"msg"`
	TenantAccessToken string `json:"tenant_access_token"`
	Expire            int    `json:"expire"` // seconds
}

// accessToken returns a cached token, refreshing when within the safety
// margin of expiry.
func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && c.now().Before(c.tokenExpiry) {
		return c.token, nil
	}

	body, _ := json.Marshal(map[string]string{
		"app_id":     c.appID,
		"app_secret": c.appSecret,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/auth/v3/tenant_access_token/internal", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch tenant token: %w", err)
	}
	defer resp.Body.Close()

	var parsed tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode tenant token: %w", err)
	}
	if parsed.Code != 0 {
		return "", &PlatformError{Op: "tenant_access_token", Code: parsed.Code, Msg: parsed.Msg}
	}

	c.token = parsed.TenantAccessToken
	c.tokenExpiry = c.now().Add(time.Duration(parsed.Expire)*time.Second - tokenSafety)
	c.log.Debug("tenant token refreshed", zap.Time("expiry", c.tokenExpiry))
	return c.token, nil
}

// =============================================================================
// AUTHENTICATED JSON CALLS
// =============================================================================

type apiEnvelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// call performs one authenticated request and unmarshals the data
// envelope into out (which may be nil for fire-and-forget calls).
func (c *Client) call(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	token, err := c.accessToken(ctx)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	var envelope apiEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("%s %s: decode: %w", method, path, err)
	}
	if envelope.Code != 0 {
		return &PlatformError{Op: opName(method, path), Code: envelope.Code, Msg: envelope.Msg}
	}
	if out != nil && len(envelope.Data) > 0 {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return fmt.Errorf("%s %s: decode data: %w", method, path, err)
		}
	}
	return nil
}

func opName(method, path string) string {
	if i := strings.Index(path, "?"); i >= 0 {
		path = path[:i]
	}
	return method + " " + path
}

// =============================================================================
// MESSAGING
// =============================================================================

type messagePayload struct {
	ReceiveID string `json:"receive_id"`
	MsgType   string `json:"msg_type"`
	Content   string `json:"content"`
}

// Notify sends plain reply text to a chat. Satisfies bot.Notifier.
func (c *Client) Notify(ctx context.Context, conversationID, text string) error {
	return c.sendMessage(ctx, conversationID, "text", map[string]string{"text": text})
}

// SendCard sends an interactive card to a chat.
func (c *Client) SendCard(ctx context.Context, conversationID string, card Card) error {
	return c.sendMessage(ctx, conversationID, "interactive", card)
}

func (c *Client) sendMessage(ctx context.Context, chatID, msgType string, content any) error {
	raw, err := json.Marshal(content)
	if err != nil {
		return err
	}
	payload := messagePayload{
		ReceiveID: chatID,
		MsgType:   msgType,
		Content:   string(raw),
	}
	path := "/im/v1/messages?receive_id_type=" + url.QueryEscape("chat_id")
	if err := c.call(ctx, http.MethodPost, path, payload, nil); err != nil {
		c.log.Warn("send message failed",
			zap.String("chat_id", chatID), zap.String("msg_type", msgType), zap.Error(err))
		return err
	}
	return nil
}
