package chat

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// ErrChatNotFound is returned for operations addressing an unknown session id.
var ErrChatNotFound = errors.New("chat not found")

// Chat is one conversation: its identity plus the ordered, append-only
// message log. The session id used on the wire is the chat id.
type Chat struct {
	ID        string
	Name      string
	CreatedAt time.Time
	Messages  []Message
}

// Store is the single source of truth for all conversations, keyed by session
// id. There is no separate "active chat" copy; the active view is derived by
// lookup, so mutations never need to be mirrored anywhere.
type Store struct {
	mu       sync.Mutex
	chats    map[string]*Chat
	order    []string
	activeID string
}

func NewStore() *Store {
	return &Store{chats: map[string]*Chat{}}
}

// CreateChat adds a new empty conversation and makes it active. An empty name
// gets a sequential default.
func (s *Store) CreateChat(name string) Chat {
	s.mu.Lock()
	defer s.mu.Unlock()
	if name == "" {
		name = fmt.Sprintf("Chat %d", len(s.order)+1)
	}
	c := &Chat{
		ID:        uuid.NewString(),
		Name:      name,
		CreatedAt: time.Now(),
	}
	s.chats[c.ID] = c
	s.order = append(s.order, c.ID)
	s.activeID = c.ID
	return snapshotChat(c)
}

func (s *Store) DeleteChat(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.chats[id]; !ok {
		return ErrChatNotFound
	}
	delete(s.chats, id)
	for i, cid := range s.order {
		if cid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	if s.activeID == id {
		s.activeID = ""
		if len(s.order) > 0 {
			s.activeID = s.order[len(s.order)-1]
		}
	}
	return nil
}

func (s *Store) RenameChat(id, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chats[id]
	if !ok {
		return ErrChatNotFound
	}
	c.Name = name
	return nil
}

// Chats lists all conversations in creation order.
func (s *Store) Chats() []Chat {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Chat, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, snapshotChat(s.chats[id]))
	}
	return out
}

func (s *Store) SetActive(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.chats[id]; !ok {
		return ErrChatNotFound
	}
	s.activeID = id
	return nil
}

func (s *Store) ActiveID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeID
}

// Active returns a copy of the active conversation, derived by lookup.
func (s *Store) Active() (Chat, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chats[s.activeID]
	if !ok {
		return Chat{}, false
	}
	return snapshotChat(c), true
}

// AddUserMessage appends one immutable user turn to the session's log.
func (s *Store) AddUserMessage(sessionID, content string) (Message, error) {
	return s.append(sessionID, newMessage(RoleUser, content, nil))
}

// AddAssistantMessage appends one immutable assistant turn, with any tool
// calls gathered during the turn.
func (s *Store) AddAssistantMessage(sessionID, content string, toolCalls []ToolCall) (Message, error) {
	return s.append(sessionID, newMessage(RoleAssistant, content, toolCalls))
}

func (s *Store) append(sessionID string, msg Message) (Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chats[sessionID]
	if !ok {
		return Message{}, errors.Wrapf(ErrChatNotFound, "session %s", sessionID)
	}
	c.Messages = append(c.Messages, msg)
	return msg, nil
}

// AttachToolCall appends a tool-call record to the most recent assistant
// message of the session, for tool events that arrive after the turn settled.
func (s *Store) AttachToolCall(sessionID string, tc ToolCall) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chats[sessionID]
	if !ok {
		return errors.Wrapf(ErrChatNotFound, "session %s", sessionID)
	}
	for i := len(c.Messages) - 1; i >= 0; i-- {
		if c.Messages[i].Role == RoleAssistant {
			c.Messages[i].ToolCalls = append(c.Messages[i].ToolCalls, tc)
			return nil
		}
	}
	return errors.New("no assistant message to attach tool call to")
}

// Messages returns a copy of the session's log in insertion order.
func (s *Store) Messages(sessionID string) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chats[sessionID]
	if !ok {
		return nil, errors.Wrapf(ErrChatNotFound, "session %s", sessionID)
	}
	return append([]Message(nil), c.Messages...), nil
}

// ResetHistory drops the session's turn history, keeping the chat itself.
// Used when the agent mode switches for an active conversation.
func (s *Store) ResetHistory(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chats[sessionID]
	if !ok {
		return ErrChatNotFound
	}
	c.Messages = nil
	return nil
}

func snapshotChat(c *Chat) Chat {
	out := *c
	out.Messages = append([]Message(nil), c.Messages...)
	return out
}
