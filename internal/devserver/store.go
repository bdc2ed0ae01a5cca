package devserver

import (
	"errors"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/convsession/internal/model"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrForbidden    = errors.New("forbidden")
	ErrNotMember    = errors.New("not a member")
	ErrSystemLocked = errors.New("system messages cannot be changed")
)

type storedFile struct {
	name        string
	contentType string
	data        []byte
}

// Store is the backend's state, kept in memory. Ids are decimal integers like the
// production backend's primary keys.
type Store struct {
	mu            sync.RWMutex
	users         map[model.ID]model.User
	conversations map[model.ID]*model.Conversation
	messages      map[model.ID][]*model.Message
	hidden        map[model.ID]map[model.ID]struct{} // user -> messages deleted for them
	blocked       map[model.ID]map[model.ID]struct{}
	files         map[string]storedFile
	seq           int64
	now           func() time.Time
}

func NewStore() *Store {
	return &Store{
		users:         make(map[model.ID]model.User),
		conversations: make(map[model.ID]*model.Conversation),
		messages:      make(map[model.ID][]*model.Message),
		hidden:        make(map[model.ID]map[model.ID]struct{}),
		blocked:       make(map[model.ID]map[model.ID]struct{}),
		files:         make(map[string]storedFile),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) nextIDLocked() model.ID {
	s.seq++
	return model.ID(strconv.FormatInt(s.seq, 10))
}

func (s *Store) AddUser(u model.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
}

func (s *Store) User(id model.ID) (model.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	return u, ok
}

// CreateConversation validates and stores c, assigning an id when empty.
func (s *Store) CreateConversation(c model.Conversation) (model.Conversation, error) {
	if err := c.Validate(); err != nil {
		return model.Conversation{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == "" {
		c.ID = s.nextIDLocked()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.now()
	}
	s.conversations[c.ID] = &c
	return c, nil
}

func (s *Store) conversationForLocked(convID, userID model.ID) (*model.Conversation, error) {
	c, ok := s.conversations[convID]
	if !ok {
		return nil, ErrNotFound
	}
	if !c.HasParticipant(string(userID)) {
		return nil, ErrNotMember
	}
	return c, nil
}

func (s *Store) Conversation(convID, userID model.ID) (model.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, err := s.conversationForLocked(convID, userID)
	if err != nil {
		return model.Conversation{}, err
	}
	return *c, nil
}

// Participants returns the ids of everyone in the conversation.
func (s *Store) Participants(convID model.ID) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conversations[convID]
	if !ok {
		return nil
	}
	out := make([]string, len(c.Participants))
	for i, p := range c.Participants {
		out[i] = string(p.ID)
	}
	return out
}

// Messages lists the conversation in server order, minus what userID deleted for themselves.
func (s *Store) Messages(convID, userID model.ID) ([]model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, err := s.conversationForLocked(convID, userID); err != nil {
		return nil, err
	}
	hidden := s.hidden[userID]
	out := make([]model.Message, 0, len(s.messages[convID]))
	for _, m := range s.messages[convID] {
		if _, ok := hidden[m.ID]; ok {
			continue
		}
		out = append(out, m.Clone())
	}
	return out, nil
}

// AddMessage stores a user message from senderID.
func (s *Store) AddMessage(convID, senderID model.ID, content string, att *model.Attachment) (model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.conversationForLocked(convID, senderID); err != nil {
		return model.Message{}, err
	}
	sender := s.users[senderID]
	if sender.ID == "" {
		sender.ID = senderID
	}
	m := &model.Message{
		ID:             s.nextIDLocked(),
		ConversationID: convID,
		Sender:         &sender,
		Content:        content,
		Attachment:     att,
		Timestamp:      s.now(),
	}
	s.messages[convID] = append(s.messages[convID], m)
	return m.Clone(), nil
}

// AddSystemMessage records a membership or settings change.
func (s *Store) AddSystemMessage(convID model.ID, typ model.SystemMessageType, content string) (model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[convID]; !ok {
		return model.Message{}, ErrNotFound
	}
	m := &model.Message{
		ID:             s.nextIDLocked(),
		ConversationID: convID,
		Content:        content,
		Timestamp:      s.now(),
		IsSystem:       true,
		SystemType:     typ,
	}
	s.messages[convID] = append(s.messages[convID], m)
	return m.Clone(), nil
}

func (s *Store) findLocked(convID, msgID model.ID) (int, *model.Message) {
	for i, m := range s.messages[convID] {
		if m.ID == msgID {
			return i, m
		}
	}
	return -1, nil
}

// EditMessage replaces the content of the sender's own message.
func (s *Store) EditMessage(convID, msgID, userID model.ID, content string) (model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.conversationForLocked(convID, userID); err != nil {
		return model.Message{}, err
	}
	_, m := s.findLocked(convID, msgID)
	if m == nil {
		return model.Message{}, ErrNotFound
	}
	if m.IsSystem {
		return model.Message{}, ErrSystemLocked
	}
	if m.SenderID() != string(userID) {
		return model.Message{}, ErrForbidden
	}
	m.Content = content
	return m.Clone(), nil
}

func (s *Store) DeleteForMe(convID, msgID, userID model.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.conversationForLocked(convID, userID); err != nil {
		return err
	}
	_, m := s.findLocked(convID, msgID)
	if m == nil {
		return ErrNotFound
	}
	if m.IsSystem {
		return ErrSystemLocked
	}
	if s.hidden[userID] == nil {
		s.hidden[userID] = make(map[model.ID]struct{})
	}
	s.hidden[userID][msgID] = struct{}{}
	return nil
}

// DeleteForEveryone removes the message for all participants. Allowed for the sender
// and for the conversation's creator or admins.
func (s *Store) DeleteForEveryone(convID, msgID, userID model.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.conversationForLocked(convID, userID)
	if err != nil {
		return err
	}
	i, m := s.findLocked(convID, msgID)
	if m == nil {
		return ErrNotFound
	}
	if m.IsSystem {
		return ErrSystemLocked
	}
	if m.SenderID() != string(userID) && !c.IsAdmin(string(userID)) {
		return ErrForbidden
	}
	s.messages[convID] = slices.Delete(s.messages[convID], i, i+1)
	return nil
}

func (s *Store) Block(userID, target model.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[target]; !ok {
		return ErrNotFound
	}
	if s.blocked[userID] == nil {
		s.blocked[userID] = make(map[model.ID]struct{})
	}
	s.blocked[userID][target] = struct{}{}
	return nil
}

func (s *Store) Blocked(userID, target model.ID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.blocked[userID][target]
	return ok
}

func (s *Store) SaveFile(key, name, contentType string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[key] = storedFile{name: name, contentType: contentType, data: data}
}

func (s *Store) File(key string) (storedFile, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.files[key]
	return f, ok
}
