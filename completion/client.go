/*
Package completion extracts structured inventory intents from free text.

PURPOSE:
  Wraps a chat-completions API (DeepSeek-compatible) behind a single
  operation: Extract(text) -> candidate command fields. The candidate is
  deliberately untyped (all strings) - this boundary is the system's main
  source of malformed input, so the Normalizer re-validates every field
  independently and never trusts a schema claimed by the model.

FAILURE MODES:
  - ErrUnavailable: transport error, timeout, or non-2xx from the API.
    Surfaced to the user as "try again later".
  - ErrMalformed: the model replied but produced no parseable candidate.
    Surfaced as an incomplete command.

SESSION CONTEXT:
  Recent history for the conversation is prepended so references like
  "same price as last time" resolve. History is recorded only after a
  successful extraction.

SEE ALSO:
  - session.go: Bounded history store
  - bot/normalizer.go: Validates candidates into Commands
*/
package completion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrUnavailable indicates the completion API could not be reached or
	// returned a failure status.
	ErrUnavailable = errors.New("completion service unavailable")

	// ErrMalformed indicates the model's reply contained no parseable
	// candidate.
	ErrMalformed = errors.New("completion reply malformed")
)

// Candidate is the untyped field set extracted from free text. Every
// field must be re-validated by the caller.
type Candidate struct {
	Kind      string `json:"kind"`       // expected "inbound" or "outbound"
	Product   string `json:"product"`    // name or id reference
	Quantity  string `json:"quantity"`   // expected positive integer
	UnitCost  string `json:"unit_cost"`  // inbound cost, decimal
	UnitPrice string `json:"unit_price"` // outbound sale price, decimal
}

const systemPrompt = `You convert warehouse chat messages into a single JSON object:
{"kind":"inbound"|"outbound","product":string,"quantity":string,"unit_cost":string,"unit_price":string}
"inbound" means stock arriving, "outbound" means stock leaving or being sold.
Leave a field empty ("") when the message does not state it. Reply with the
JSON object only, no prose and no code fences.`

// Client calls a chat-completions endpoint to extract candidates.
type Client struct {
	baseURL  string
	apiKey   string
	model    string
	http     *http.Client
	sessions *SessionStore
	log      *zap.Logger
}

func NewClient(baseURL, apiKey, model string, sessions *SessionStore, log *zap.Logger) *Client {
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		apiKey:   apiKey,
		model:    model,
		http:     &http.Client{Timeout: 30 * time.Second},
		sessions: sessions,
		log:      log,
	}
}

// =============================================================================
// WIRE TYPES (chat-completions API)
// =============================================================================

type chatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
}

// =============================================================================
// EXTRACT
// =============================================================================

// Extract asks the model to convert text into a Candidate, using recent
// conversation history for context.
func (c *Client) Extract(ctx context.Context, conversationID, text string) (Candidate, error) {
	messages := []Message{{Role: "system", Content: systemPrompt}}
	messages = append(messages, c.sessions.History(conversationID)...)
	messages = append(messages, Message{Role: "user", Content: text})

	body, err := json.Marshal(chatRequest{Model: c.model, Messages: messages})
	if err != nil {
		return Candidate{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return Candidate{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Candidate{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		c.log.Warn("completion API returned failure status",
			zap.Int("status", resp.StatusCode), zap.ByteString("body", raw))
		return Candidate{}, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return Candidate{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(parsed.Choices) == 0 {
		return Candidate{}, fmt.Errorf("%w: empty choices", ErrMalformed)
	}

	reply := parsed.Choices[0].Message.Content
	candidate, err := ParseCandidate(reply)
	if err != nil {
		c.log.Debug("unparseable completion reply", zap.String("reply", reply))
		return Candidate{}, err
	}

	c.sessions.Append(conversationID, text, reply)
	return candidate, nil
}

// ParseCandidate pulls the first JSON object out of a model reply. Models
// occasionally wrap the object in prose or code fences despite the prompt.
func ParseCandidate(reply string) (Candidate, error) {
	start := strings.Index(reply, "{")
	end := strings.LastIndex(reply, "}")
	if start < 0 || end <= start {
		return Candidate{}, fmt.Errorf("%w: no JSON object in reply", ErrMalformed)
	}
	var c Candidate
	if err := json.Unmarshal([]byte(reply[start:end+1]), &c); err != nil {
		return Candidate{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return c, nil
}
