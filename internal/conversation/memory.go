// Package conversation holds the in-process conversation state store.
package conversation

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"whistle-agent/internal/domain"
)

type entry struct {
	state      *domain.ConversationState
	evidence   []domain.Evidence
	lastAccess time.Time
}

// MemoryStore keeps conversation state in process memory. Conversations idle
// for longer than the configured TTL are evicted by a background janitor.
type MemoryStore struct {
	systemPrompt string
	ttl          time.Duration
	now          func() time.Time

	mu      sync.RWMutex
	entries map[string]*entry
	seq     atomic.Int64

	stop chan struct{}
	done chan struct{}
	once sync.Once
}

type Option func(*MemoryStore)

// WithClock overrides the time source used for idle tracking.
func WithClock(now func() time.Time) Option {
	return func(s *MemoryStore) {
		s.now = now
	}
}

// NewMemoryStore creates a store that seeds new conversations with
// systemPrompt. A zero ttl disables eviction and no janitor is started.
func NewMemoryStore(systemPrompt string, ttl time.Duration, opts ...Option) (*MemoryStore, error) {
	if strings.TrimSpace(systemPrompt) == "" {
		return nil, errors.New("conversation: system prompt must not be empty")
	}
	if ttl < 0 {
		return nil, errors.New("conversation: ttl must not be negative")
	}
	s := &MemoryStore{
		systemPrompt: systemPrompt,
		ttl:          ttl,
		now:          time.Now,
		entries:      make(map[string]*entry),
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if ttl > 0 {
		go s.janitor(janitorInterval(ttl))
	} else {
		close(s.done)
	}
	return s, nil
}

func janitorInterval(ttl time.Duration) time.Duration {
	interval := ttl / 2
	if interval < time.Second {
		interval = time.Second
	}
	return interval
}

// GetOrCreate returns the live state for conversationID, seeding it on
// first access. Repeated calls return the same instance.
func (s *MemoryStore) GetOrCreate(_ context.Context, conversationID string) (*domain.ConversationState, error) {
	if strings.TrimSpace(conversationID) == "" {
		return nil, errors.New("conversation: conversation id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[conversationID]
	if !ok {
		e = &entry{state: domain.NewConversationState(conversationID, s.systemPrompt)}
		s.entries[conversationID] = e
	}
	e.lastAccess = s.now()
	return e.state, nil
}

// Save refreshes the idle timer. The state is already live in memory; a
// conversation evicted mid-turn is re-inserted.
func (s *MemoryStore) Save(_ context.Context, state *domain.ConversationState) error {
	if state == nil {
		return errors.New("conversation: state must not be nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[state.ConversationID]
	if !ok {
		e = &entry{}
		s.entries[state.ConversationID] = e
	}
	e.state = state
	e.lastAccess = s.now()
	state.Stored = len(state.Messages)
	return nil
}

// CreateReport assigns the next sequential conversation id.
func (s *MemoryStore) CreateReport(_ context.Context) (string, error) {
	return strconv.FormatInt(s.seq.Add(1), 10), nil
}

// SaveEvidence records an evidence upload against a conversation.
func (s *MemoryStore) SaveEvidence(_ context.Context, conversationID string, ev domain.Evidence) error {
	if strings.TrimSpace(conversationID) == "" {
		return errors.New("conversation: conversation id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[conversationID]
	if !ok {
		e = &entry{state: domain.NewConversationState(conversationID, s.systemPrompt)}
		s.entries[conversationID] = e
	}
	e.evidence = append(e.evidence, ev)
	e.lastAccess = s.now()
	return nil
}

// Evidence returns a copy of the evidence recorded for conversationID.
func (s *MemoryStore) Evidence(conversationID string) []domain.Evidence {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[conversationID]
	if !ok {
		return nil
	}
	return append([]domain.Evidence(nil), e.evidence...)
}

// Len reports how many conversations are held.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// EvictExpired removes conversations idle since before now-ttl and returns
// how many were removed.
func (s *MemoryStore) EvictExpired(now time.Time) int {
	if s.ttl <= 0 {
		return 0
	}
	cutoff := now.Add(-s.ttl)

	s.mu.Lock()
	defer s.mu.Unlock()
	evicted := 0
	for id, e := range s.entries {
		if e.lastAccess.Before(cutoff) {
			delete(s.entries, id)
			evicted++
		}
	}
	return evicted
}

func (s *MemoryStore) janitor(interval time.Duration) {
	defer close(s.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.EvictExpired(s.now())
		}
	}
}

// Close stops the janitor and waits for it to exit.
func (s *MemoryStore) Close() error {
	s.once.Do(func() { close(s.stop) })
	<-s.done
	return nil
}
