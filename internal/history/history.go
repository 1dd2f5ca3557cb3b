// Package history keeps the bounded in-memory chat buffers: one public
// ring buffer and one thread per pair of participant addresses.
//
// The store performs no locking of its own. All mutation happens on the
// hub's single event goroutine, which serializes every inbound event.
package history

import (
	"errors"
	"strings"
	"time"

	"github.com/parlorchat/parlor/internal/model"
)

var ErrMessageNotFound = errors.New("message not found")
var ErrNotAuthor = errors.New("only the author may modify a message")

// Store holds the public chat history and all direct-message threads.
// Threads are created lazily on first append and live for the process
// lifetime; only their contents are capped, never the thread map itself.
type Store struct {
	now     func() time.Time
	public  []model.ChatMessage
	threads map[string][]model.DirectMessage
}

// NewStore creates a Store using time.Now().UTC().
func NewStore() *Store {
	return NewStoreWithClock(func() time.Time { return time.Now().UTC() })
}

// NewStoreWithClock creates a Store with a custom clock for tests.
func NewStoreWithClock(now func() time.Time) *Store {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Store{
		now:     now,
		threads: make(map[string][]model.DirectMessage),
	}
}

// CanonicalKey returns the thread key for a pair of addresses. The key is
// symmetric: CanonicalKey(a, b) == CanonicalKey(b, a).
func CanonicalKey(a, b string) string {
	if strings.Compare(a, b) > 0 {
		a, b = b, a
	}
	return a + "|" + b
}

// AppendPublic appends a message to the public buffer, evicting the
// oldest entry once the buffer exceeds its capacity. Appends happen one
// at a time, so a single eviction per call is sufficient.
func (s *Store) AppendPublic(msg model.ChatMessage) {
	s.public = append(s.public, msg)
	if len(s.public) > model.PublicHistoryLimit {
		s.public = s.public[1:]
	}
}

// Public returns a snapshot of the public history, oldest first.
func (s *Store) Public() []model.ChatMessage {
	out := make([]model.ChatMessage, len(s.public))
	copy(out, s.public)
	return out
}

// PublicLen returns the current public history length.
func (s *Store) PublicLen() int {
	return len(s.public)
}

// AppendDM appends a direct message to the thread for the address pair,
// creating the thread if this is its first message.
func (s *Store) AppendDM(addrA, addrB string, msg model.DirectMessage) {
	key := CanonicalKey(addrA, addrB)
	thread := append(s.threads[key], msg)
	if len(thread) > model.DMHistoryLimit {
		thread = thread[1:]
	}
	s.threads[key] = thread
}

// DM returns a snapshot of the thread for the address pair, or an empty
// slice if no thread exists. Lookups never create threads; only appends
// do, so probing for absent conversations cannot grow the map.
func (s *Store) DM(addrA, addrB string) []model.DirectMessage {
	thread := s.threads[CanonicalKey(addrA, addrB)]
	out := make([]model.DirectMessage, len(thread))
	copy(out, thread)
	return out
}

// ThreadCount returns the number of live DM threads.
func (s *Store) ThreadCount() int {
	return len(s.threads)
}

// EditMessage replaces the content of a public message in place and sets
// the edited metadata. Only the original author may edit; DMs are not
// editable. Returns the updated message.
func (s *Store) EditMessage(id, newContent, requester string) (model.ChatMessage, error) {
	idx := s.indexOf(id)
	if idx < 0 {
		return model.ChatMessage{}, ErrMessageNotFound
	}
	if s.public[idx].Author != requester {
		return model.ChatMessage{}, ErrNotAuthor
	}

	s.public[idx].Content = newContent
	s.public[idx].Edited = true
	s.public[idx].EditedAt = s.now()
	return s.public[idx], nil
}

// DeleteMessage soft-deletes a public message: the content is replaced by
// a fixed placeholder and the deleted metadata is set, but the entry keeps
// its id and position in the buffer. Only the original author may delete.
func (s *Store) DeleteMessage(id, requester string) (model.ChatMessage, error) {
	idx := s.indexOf(id)
	if idx < 0 {
		return model.ChatMessage{}, ErrMessageNotFound
	}
	if s.public[idx].Author != requester {
		return model.ChatMessage{}, ErrNotAuthor
	}

	s.public[idx].Content = model.DeletedPlaceholder
	s.public[idx].Deleted = true
	s.public[idx].DeletedAt = s.now()
	return s.public[idx], nil
}

func (s *Store) indexOf(id string) int {
	for i := range s.public {
		if s.public[i].ID == id {
			return i
		}
	}
	return -1
}
