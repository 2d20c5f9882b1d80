package conversation

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// State is the in-memory dialog slot of one user.
type State struct {
	UserID    int64
	Step      Step
	Fields    map[string]string
	UpdatedAt time.Time
}

func (s State) clone() State {
	fields := make(map[string]string, len(s.Fields))
	for k, v := range s.Fields {
		fields[k] = v
	}
	s.Fields = fields
	return s
}

// Store keeps at most one State per user. Slots expire after ttl of inactivity;
// a zero ttl keeps them until they are deleted.
type Store struct {
	slots *expirable.LRU[int64, State]

	mu    sync.Mutex
	locks map[int64]*userLock
}

// userLock is dropped from Store.locks once nobody holds or waits on it.
type userLock struct {
	mu   sync.Mutex
	refs int
}

func NewStore(ttl time.Duration) *Store {
	return &Store{
		slots: expirable.NewLRU[int64, State](0, nil, ttl),
		locks: map[int64]*userLock{},
	}
}

// Lock serializes work on one user's slot. The returned func releases it.
func (s *Store) Lock(userID int64) func() {
	s.mu.Lock()
	l, ok := s.locks[userID]
	if !ok {
		l = &userLock{}
		s.locks[userID] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, userID)
		}
		s.mu.Unlock()
	}
}

func (s *Store) lockCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.locks)
}

func (s *Store) Get(userID int64) (State, bool) {
	st, ok := s.slots.Get(userID)
	if !ok {
		return State{}, false
	}
	return st.clone(), true
}

// Put replaces whatever slot the user had.
func (s *Store) Put(st State) {
	st = st.clone()
	st.UpdatedAt = time.Now()
	s.slots.Add(st.UserID, st)
}

func (s *Store) Delete(userID int64) {
	s.slots.Remove(userID)
}

func (s *Store) Len() int {
	return s.slots.Len()
}
