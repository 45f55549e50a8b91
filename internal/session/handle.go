package session

import "sync"

// Handle ties an inbound session to an external conversation. A new handle
// is unbound until the agent assigns it a conversation id on first use.
type Handle struct {
	sessionID string
	resumed   bool

	mu             sync.Mutex
	conversationID string
}

// NewHandle returns a handle for sessionID; conversationID may be empty.
func NewHandle(sessionID, conversationID string) *Handle {
	return &Handle{
		sessionID:      sessionID,
		conversationID: conversationID,
		resumed:        conversationID != "",
	}
}

func (h *Handle) SessionID() string { return h.sessionID }

// Resumed reports whether the handle continues a stored conversation.
func (h *Handle) Resumed() bool { return h.resumed }

func (h *Handle) ConversationID() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.conversationID
}

// Bind records the conversation id the agent assigned.
func (h *Handle) Bind(conversationID string) {
	h.mu.Lock()
	h.conversationID = conversationID
	h.mu.Unlock()
}

func (h *Handle) Bound() bool { return h.ConversationID() != "" }
