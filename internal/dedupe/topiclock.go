package dedupe

import (
	"sync"

	"github.com/google/uuid"
)

// TopicLocks serializes Gate decisions per topic: two in-flight sessions
// targeting the same topic must not race to UPDATE the same neighbor.
// Sharded map + per-key mutex, the same shape as akashi's authz.GrantCache,
// repurposed here for mutual exclusion instead of TTL caching.
type TopicLocks struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*sync.Mutex
}

func NewTopicLocks() *TopicLocks {
	return &TopicLocks{locks: make(map[uuid.UUID]*sync.Mutex)}
}

func (t *TopicLocks) lockFor(topicID uuid.UUID) *sync.Mutex {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.locks[topicID]
	if !ok {
		l = &sync.Mutex{}
		t.locks[topicID] = l
	}
	return l
}

// Lock acquires the per-topic lock, blocking until available.
func (t *TopicLocks) Lock(topicID uuid.UUID) {
	t.lockFor(topicID).Lock()
}

// Unlock releases the per-topic lock.
func (t *TopicLocks) Unlock(topicID uuid.UUID) {
	t.lockFor(topicID).Unlock()
}
