package timeline

import "sync"

// Listener receives a copy of every event that is appended or rewritten.
// It is invoked while the store lock is held, so it must not call back into
// the Store.
type Listener func(Event)

// Store is an append-only ordered log with a mutable tail. Events are kept in
// a slice with an id->index map so in-place updates of the open event are
// O(1). Listeners always receive clones; the backing slice never escapes.
type Store struct {
	mu       sync.Mutex
	events   []Event
	index    map[string]int
	listener Listener
}

// NewStore creates an empty store. listener may be nil.
func NewStore(listener Listener) *Store {
	return &Store{
		index:    make(map[string]int),
		listener: listener,
	}
}

// Append adds ev to the end of the log, assigning an ID and CreatedAt when
// missing. If an event with the same ID already exists it is replaced in
// place instead, keeping its position.
func (s *Store) Append(ev Event) Event {
	if ev.ID == "" {
		ev.ID = NewID()
	}
	if ev.CreatedAt == 0 {
		ev.CreatedAt = nowMillis()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored := ev.Clone()
	if i, ok := s.index[ev.ID]; ok {
		s.events[i] = stored
	} else {
		s.index[ev.ID] = len(s.events)
		s.events = append(s.events, stored)
	}
	s.notify(stored)
	return stored.Clone()
}

// Update applies fn to the event with the given id and returns the result.
// It reports false when no such event exists.
func (s *Store) Update(id string, fn func(*Event)) (Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.index[id]
	if !ok {
		return Event{}, false
	}
	ev := &s.events[i]
	fn(ev)
	// ID and position are fixed once assigned
	ev.ID = id
	s.notify(*ev)
	return ev.Clone(), true
}

// Get returns a copy of the event with the given id.
func (s *Store) Get(id string) (Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.index[id]
	if !ok {
		return Event{}, false
	}
	return s.events[i].Clone(), true
}

// Events returns a copy of the log in order.
func (s *Store) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Event, len(s.events))
	for i, ev := range s.events {
		out[i] = ev.Clone()
	}
	return out
}

// Len returns the number of events.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

// Reset replaces the log with events, e.g. after loading a session.
// No notifications are emitted.
func (s *Store) Reset(events []Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = make([]Event, 0, len(events))
	s.index = make(map[string]int, len(events))
	for _, ev := range events {
		if _, dup := s.index[ev.ID]; dup {
			continue
		}
		s.index[ev.ID] = len(s.events)
		s.events = append(s.events, ev.Clone())
	}
}

func (s *Store) notify(ev Event) {
	if s.listener != nil {
		s.listener(ev.Clone())
	}
}
