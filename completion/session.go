/*
session.go - Bounded per-conversation chat history

PURPOSE:
  The extraction model performs better with recent conversational context
  ("the same as yesterday", "make that 5 instead"). This store keeps a
  short history per conversation id, bounded in length and age. It is a
  scoped dependency injected into the completion client - not a global.

BOUNDS:
  - maxTurns: only the most recent N user/assistant turns are kept
  - ttl: a conversation idle longer than the TTL starts fresh

SEE ALSO:
  - client.go: Prepends history to each extraction request
*/
package completion

import (
	"sync"
	"time"
)

// Message is one chat turn sent to the completion API.
type Message struct {
	Role    string `json:"role"` // "system", "user", "assistant"
	Content string `json:"content"`
}

// SessionStore holds bounded recent history per conversation.
type SessionStore struct {
	mu       sync.Mutex
	sessions map[string]*session
	maxTurns int
	ttl      time.Duration
	now      func() time.Time
}

type session struct {
	messages []Message
	lastSeen time.Time
}

// NewSessionStore creates a store keeping at most maxTurns user/assistant
// pairs per conversation, expiring conversations idle longer than ttl.
func NewSessionStore(maxTurns int, ttl time.Duration) *SessionStore {
	return &SessionStore{
		sessions: make(map[string]*session),
		maxTurns: maxTurns,
		ttl:      ttl,
		now:      time.Now,
	}
}

// History returns the retained messages for a conversation, oldest first.
func (s *SessionStore) History(conversationID string) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[conversationID]
	if !ok {
		return nil
	}
	if s.now().Sub(sess.lastSeen) > s.ttl {
		delete(s.sessions, conversationID)
		return nil
	}
	out := make([]Message, len(sess.messages))
	copy(out, sess.messages)
	return out
}

// Append records one completed user/assistant exchange and trims to the
// retention bound.
func (s *SessionStore) Append(conversationID, userText, assistantText string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[conversationID]
	if !ok || s.now().Sub(sess.lastSeen) > s.ttl {
		sess = &session{}
		s.sessions[conversationID] = sess
	}
	sess.messages = append(sess.messages,
		Message{Role: "user", Content: userText},
		Message{Role: "assistant", Content: assistantText},
	)
	// Each turn is two messages.
	if max := s.maxTurns * 2; len(sess.messages) > max {
		sess.messages = sess.messages[len(sess.messages)-max:]
	}
	sess.lastSeen = s.now()
}

// Clear drops a conversation's history.
func (s *SessionStore) Clear(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, conversationID)
}
