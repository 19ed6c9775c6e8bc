package world

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// backlogSize is how many messages a session keeps for late subscribers.
const backlogSize = 50

// Message is a system message delivered to a character's session.
type Message struct {
	At        time.Time `json:"at"`
	Character string    `json:"character"`
	Text      string    `json:"text"`
}

// Session is the message channel of one human account. Bots owned by the
// account deliver their messages here too.
type Session struct {
	mu      sync.Mutex
	owner   string
	backlog []Message
	subs    map[uuid.UUID]chan Message
}

func newSession(owner string) *Session {
	return &Session{owner: owner, subs: make(map[uuid.UUID]chan Message)}
}

// Owner returns the name of the account's character.
func (s *Session) Owner() string {
	return s.owner
}

// Subscribe registers a listener. The returned channel is closed by
// Unsubscribe.
func (s *Session) Subscribe(buffer int) (uuid.UUID, <-chan Message) {
	id := uuid.New()
	ch := make(chan Message, buffer)
	s.mu.Lock()
	s.subs[id] = ch
	s.mu.Unlock()
	return id, ch
}

// Attach registers a listener and returns the backlog at the moment of
// registration, so no message is both missed and replayed.
func (s *Session) Attach(buffer int) (uuid.UUID, <-chan Message, []Message) {
	id := uuid.New()
	ch := make(chan Message, buffer)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs[id] = ch
	backlog := make([]Message, len(s.backlog))
	copy(backlog, s.backlog)
	return id, ch, backlog
}

// Unsubscribe removes and closes a listener.
func (s *Session) Unsubscribe(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch, ok := s.subs[id]; ok {
		delete(s.subs, id)
		close(ch)
	}
}

// Deliver appends msg to the backlog and hands it to every listener that
// has room. Slow listeners miss messages.
func (s *Session) Deliver(msg Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.backlog = append(s.backlog, msg)
	if len(s.backlog) > backlogSize {
		s.backlog = s.backlog[len(s.backlog)-backlogSize:]
	}
	for _, ch := range s.subs {
		select {
		case ch <- msg:
		default:
		}
	}
}

// Backlog returns the most recent messages, oldest first.
func (s *Session) Backlog() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.backlog))
	copy(out, s.backlog)
	return out
}

// Listeners returns the number of active subscribers.
func (s *Session) Listeners() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}
