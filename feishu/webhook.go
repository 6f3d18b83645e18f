/*
webhook.go - Inbound event envelope decoding

PURPOSE:
  Decodes the three payload shapes the platform POSTs to the webhook:

    1. URL verification: {"type":"url_verification","challenge":...}
       answered by echoing the challenge.
    2. Event v2 envelope: {"schema":"2.0","header":{...},"event":{...}}
       carrying message-receive and membership events. The header's
       event_id is the idempotency seed for the whole pipeline.
    3. Card action callback: a form submission from an interactive card.

  When an encrypt key is configured the platform wraps any of the above
  in {"encrypt": base64(AES-256-CBC(payload))} with the key derived as
  SHA-256 of the configured secret and the IV prepended to the
  ciphertext.

TRUST:
  The verification token inside each decoded payload must match the
  configured one; a mismatch is rejected before any field is used.

SEE ALSO:
  - api/handlers.go: HTTP endpoints driving this decoder
  - bot/dispatcher.go: Consumes the decoded inputs
*/
package feishu

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrTokenMismatch indicates the payload's verification token does not
	// match the configured one.
	ErrTokenMismatch = errors.New("webhook verification token mismatch")

	// ErrUndecipherable indicates an encrypted payload could not be
	// decrypted with the configured key.
	ErrUndecipherable = errors.New("webhook payload undecipherable")
)

// EventType classifies a decoded webhook payload.
type EventType string

const (
	EventURLVerification EventType = "url_verification"
	EventMessage         EventType = "im.message.receive_v1"
	EventBotAdded        EventType = "im.chat.member.bot.added_v1"
	EventBotDeleted      EventType = "im.chat.member.bot.deleted_v1"
	EventUnknown         EventType = "unknown"
)

// MessageEvent is one received chat message.
type MessageEvent struct {
	EventID     string
	ChatID      string
	MessageID   string
	SenderID    string
	MessageType string // "text", "post", ...
	Text        string // extracted for text messages, empty otherwise
}

// Envelope is the classified result of decoding one webhook body.
type Envelope struct {
	Type      EventType
	Challenge string        // set for EventURLVerification
	Message   *MessageEvent // set for EventMessage
	EventID   string        // set for all v2 events
	ChatID    string        // set for membership events
}

// CardAction is a submitted interactive-card form.
type CardAction struct {
	OpenID        string          // acting user
	ChatID        string          // originating chat
	OpenMessageID string          // card message; idempotency seed
	Value         json.RawMessage // form payload attached to the button
}

// =============================================================================
// DECODER
// =============================================================================

type Decoder struct {
	verificationToken string
	encryptKey        string
}

func NewDecoder(verificationToken, encryptKey string) *Decoder {
	return &Decoder{verificationToken: verificationToken, encryptKey: encryptKey}
}

// wire shapes

type encryptedBody struct {
	Encrypt string `json:"encrypt"`
}

type eventEnvelope struct {
	// v1 / url_verification fields
	Type      string `json:"type"`
	Challenge string `json:"challenge"`
	Token     string `json:"token"`

	// v2 fields
	Schema string `json:"schema"`
	Header struct {
		EventID   string `json:"event_id"`
		EventType string `json:"event_type"`
		Token     string `json:"token"`
	} `json:"header"`
	Event json.RawMessage `json:"event"`
}

type messageEventBody struct {
	Sender struct {
		SenderID struct {
			OpenID string `json:"open_id"`
		} `json:"sender_id"`
	} `json:"sender"`
	Message struct {
		MessageID   string `json:"message_id"`
		ChatID      string `json:"chat_id"`
		MessageType string `json:"message_type"`
		Content     string `json:"content"` // JSON string, e.g. {"text":"..."}
	} `json:"message"`
}

type membershipEventBody struct {
	ChatID string `json:"chat_id"`
}

type cardActionBody struct {
	OpenID        string `json:"open_id"`
	Token         string `json:"token"`
	OpenChatID    string `json:"open_chat_id"`
	OpenMessageID string `json:"open_message_id"`
	Action        struct {
		Value json.RawMessage `json:"value"`
	} `json:"action"`
}

// DecodeEvent turns one webhook body into a classified Envelope.
func (d *Decoder) DecodeEvent(body []byte) (Envelope, error) {
	plain, err := d.decryptIfNeeded(body)
	if err != nil {
		return Envelope{}, err
	}

	var envelope eventEnvelope
	if err := json.Unmarshal(plain, &envelope); err != nil {
		return Envelope{}, fmt.Errorf("decode event envelope: %w", err)
	}

	if envelope.Type == "url_verification" {
		if err := d.checkToken(envelope.Token); err != nil {
			return Envelope{}, err
		}
		return Envelope{Type: EventURLVerification, Challenge: envelope.Challenge}, nil
	}

	if err := d.checkToken(envelope.Header.Token); err != nil {
		return Envelope{}, err
	}

	switch EventType(envelope.Header.EventType) {
	case EventMessage:
		msg, err := parseMessageEvent(envelope.Header.EventID, envelope.Event)
		if err != nil {
			return Envelope{}, err
		}
		return Envelope{Type: EventMessage, EventID: envelope.Header.EventID, Message: msg}, nil

	case EventBotAdded, EventBotDeleted:
		var member membershipEventBody
		_ = json.Unmarshal(envelope.Event, &member)
		return Envelope{
			Type:    EventType(envelope.Header.EventType),
			EventID: envelope.Header.EventID,
			ChatID:  member.ChatID,
		}, nil

	default:
		return Envelope{Type: EventUnknown, EventID: envelope.Header.EventID}, nil
	}
}

// DecodeCardAction turns one card callback body into a CardAction.
func (d *Decoder) DecodeCardAction(body []byte) (CardAction, error) {
	plain, err := d.decryptIfNeeded(body)
	if err != nil {
		return CardAction{}, err
	}

	var action cardActionBody
	if err := json.Unmarshal(plain, &action); err != nil {
		return CardAction{}, fmt.Errorf("decode card action: %w", err)
	}
	if err := d.checkToken(action.Token); err != nil {
		return CardAction{}, err
	}
	return CardAction{
		OpenID:        action.OpenID,
		ChatID:        action.OpenChatID,
		OpenMessageID: action.OpenMessageID,
		Value:         action.Action.Value,
	}, nil
}

func parseMessageEvent(eventID string, raw json.RawMessage) (*MessageEvent, error) {
	var body messageEventBody
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("decode message event: %w", err)
	}
	msg := &MessageEvent{
		EventID:     eventID,
		ChatID:      body.Message.ChatID,
		MessageID:   body.Message.MessageID,
		SenderID:    body.Sender.SenderID.OpenID,
		MessageType: body.Message.MessageType,
	}
	if body.Message.MessageType == "text" {
		var content struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal([]byte(body.Message.Content), &content); err != nil {
			return nil, fmt.Errorf("decode text content: %w", err)
		}
		msg.Text = content.Text
	}
	return msg, nil
}

func (d *Decoder) checkToken(got string) error {
	if d.verificationToken != "" && got != d.verificationToken {
		return ErrTokenMismatch
	}
	return nil
}

// =============================================================================
// ENCRYPTION
// =============================================================================

// decryptIfNeeded unwraps {"encrypt": ...} bodies; plaintext bodies pass
// through untouched.
func (d *Decoder) decryptIfNeeded(body []byte) ([]byte, error) {
	var wrapped encryptedBody
	if err := json.Unmarshal(body, &wrapped); err != nil || wrapped.Encrypt == "" {
		return body, nil
	}
	if d.encryptKey == "" {
		return nil, fmt.Errorf("%w: encrypted payload but no key configured", ErrUndecipherable)
	}
	return decryptEvent(d.encryptKey, wrapped.Encrypt)
}

// decryptEvent implements the platform scheme: AES-256-CBC with
// key = SHA-256(secret) and the IV prepended to the ciphertext.
func decryptEvent(secret, encoded string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUndecipherable, err)
	}
	if len(raw) < aes.BlockSize || len(raw)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: bad ciphertext length %d", ErrUndecipherable, len(raw))
	}

	key := sha256.Sum256([]byte(secret))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUndecipherable, err)
	}

	iv, ciphertext := raw[:aes.BlockSize], raw[aes.BlockSize:]
	plain := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, ciphertext)

	plain, err = stripPKCS7(plain)
	if err != nil {
		return nil, err
	}
	return plain, nil
}

func stripPKCS7(b []byte) ([]byte, error) {
	if len(b) == 0 {
		return nil, fmt.Errorf("%w: empty plaintext", ErrUndecipherable)
	}
	pad := int(b[len(b)-1])
	if pad == 0 || pad > aes.BlockSize || pad > len(b) {
		return nil, fmt.Errorf("%w: bad padding", ErrUndecipherable)
	}
	for _, c := range b[len(b)-pad:] {
		if int(c) != pad {
			return nil, fmt.Errorf("%w: bad padding", ErrUndecipherable)
		}
	}
	return b[:len(b)-pad], nil
}
