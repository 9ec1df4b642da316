package indexer

import (
	"sort"
	"sync"
)

// State holds the last published snapshot, the set of users whose state is
// fetched every tick and the open listener channels. Handlers on other
// goroutines touch it concurrently with the poll loop.
type State struct {
	mu          sync.Mutex
	last        Snapshot
	fingerprint string
	subscribed  map[string]struct{}
	listeners   map[uint64]chan Snapshot
	nextID      uint64
}

func NewState() *State {
	empty := EmptySnapshot()
	return &State{
		last:        empty,
		fingerprint: Fingerprint(empty),
		subscribed:  make(map[string]struct{}),
		listeners:   make(map[uint64]chan Snapshot),
	}
}

func (s *State) Last() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// PublishIfChanged retains candidate and fans it out only when its
// fingerprint differs from the retained snapshot.
func (s *State) PublishIfChanged(candidate Snapshot) bool {
	fingerprint := Fingerprint(candidate)

	s.mu.Lock()
	defer s.mu.Unlock()
	if fingerprint == s.fingerprint {
		return false
	}
	s.last = candidate
	s.fingerprint = fingerprint
	for _, ch := range s.listeners {
		offerLatest(ch, candidate)
	}
	return true
}

func (s *State) Fingerprint() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fingerprint
}

func (s *State) AddSubscriber(user string) {
	s.mu.Lock()
	s.subscribed[user] = struct{}{}
	s.mu.Unlock()
}

func (s *State) RemoveSubscriber(user string) {
	s.mu.Lock()
	delete(s.subscribed, user)
	s.mu.Unlock()
}

// SubscribedUsers returns at most limit users in lexical order.
func (s *State) SubscribedUsers(limit int) []string {
	s.mu.Lock()
	users := make([]string, 0, len(s.subscribed))
	for user := range s.subscribed {
		users = append(users, user)
	}
	s.mu.Unlock()

	sort.Strings(users)
	if limit > 0 && len(users) > limit {
		users = users[:limit]
	}
	return users
}

func (s *State) SubscriberCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subscribed)
}

// Listen registers a channel that receives every published snapshot. The
// channel holds one pending value; a slow reader only ever sees the latest.
// The returned func unregisters and closes the channel.
func (s *State) Listen() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)

	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = ch
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, id)
			s.mu.Unlock()
			close(ch)
		})
	}
}

// offerLatest never blocks: a pending stale value is replaced.
func offerLatest(ch chan Snapshot, snapshot Snapshot) {
	select {
	case ch <- snapshot:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- snapshot:
	default:
	}
}
