package domain

import "time"

// ConversationState is the dialogue state of one conversation. Messages[0]
// is always the system prompt seeded at creation.
type ConversationState struct {
	ConversationID string
	Messages       []ChatMessage
	TurnCount      int
	Judged         bool
	LastActivity   time.Time

	// Stored is the number of leading Messages already persisted by a
	// durable store. In-process stores leave it untouched.
	Stored int
}

// Checkpoint marks a point the state can be rolled back to.
type Checkpoint struct {
	messages int
	turns    int
	judged   bool
}

// NewConversationState seeds a conversation with the system prompt.
func NewConversationState(conversationID, systemPrompt string) *ConversationState {
	return &ConversationState{
		ConversationID: conversationID,
		Messages:       []ChatMessage{{Role: RoleSystem, Content: systemPrompt}},
		LastActivity:   time.Now().UTC(),
	}
}

// Append adds a message at the end of the transcript.
func (s *ConversationState) Append(role, content string) {
	s.Messages = append(s.Messages, ChatMessage{Role: role, Content: content})
	s.LastActivity = time.Now().UTC()
}

// Checkpoint captures the current length, turn counter and judged flag.
func (s *ConversationState) Checkpoint() Checkpoint {
	return Checkpoint{messages: len(s.Messages), turns: s.TurnCount, judged: s.Judged}
}

// Restore drops everything appended after cp.
func (s *ConversationState) Restore(cp Checkpoint) {
	if cp.messages < len(s.Messages) {
		s.Messages = s.Messages[:cp.messages]
	}
	s.TurnCount = cp.turns
	s.Judged = cp.judged
}

// UserMessages returns the user-role contents in insertion order.
func (s *ConversationState) UserMessages() []string {
	var out []string
	for _, m := range s.Messages {
		if m.Role == RoleUser {
			out = append(out, m.Content)
		}
	}
	return out
}

// Message is a single persisted conversation message.
type Message struct {
	PK             string
	SK             string
	ConversationID string
	Seq            int
	Role           string
	Content        string
	TTL            int64
}

// ConversationMeta stores aggregate conversation state.
type ConversationMeta struct {
	PK             string
	SK             string
	ConversationID string
	LastActivity   string
	Turns          int
	Messages       int
	Judged         bool
	TTL            int64
}
