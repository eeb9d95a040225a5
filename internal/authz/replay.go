package authz

import (
	"container/list"
	"crypto/sha256"
	"sync"
)

// ReplayCache remembers consumed approval messages so a signed approval
// cannot be presented twice inside the freshness window. Timestamp checks
// alone would allow reuse until the window expires.
//
// LRU-bounded: capacity only needs to cover the approvals consumable within
// one window, since anything older fails the freshness check first.
type ReplayCache struct {
	mu       sync.Mutex
	capacity int
	cache    map[[32]byte]*list.Element
	lruList  *list.List

	evictions int64
}

type replayEntry struct {
	digest [32]byte
}

func NewReplayCache(capacity int) *ReplayCache {
	return &ReplayCache{
		capacity: capacity,
		cache:    make(map[[32]byte]*list.Element, capacity),
		lruList:  list.New(),
	}
}

// Consume marks a message as used. Returns false if it was already consumed.
func (rc *ReplayCache) Consume(message []byte) bool {
	digest := sha256.Sum256(message)

	rc.mu.Lock()
	defer rc.mu.Unlock()

	if elem, exists := rc.cache[digest]; exists {
		rc.lruList.MoveToFront(elem)
		return false
	}

	entry := &replayEntry{digest: digest}
	elem := rc.lruList.PushFront(entry)
	rc.cache[digest] = elem

	if rc.lruList.Len() > rc.capacity {
		rc.evictOldest()
	}
	return true
}

func (rc *ReplayCache) evictOldest() {
	elem := rc.lruList.Back()
	if elem != nil {
		rc.lruList.Remove(elem)
		entry := elem.Value.(*replayEntry)
		delete(rc.cache, entry.digest)
		rc.evictions++
	}
}

// Size returns current number of entries
func (rc *ReplayCache) Size() int {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.lruList.Len()
}

// Evictions returns total evictions (for metrics)
func (rc *ReplayCache) Evictions() int64 {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.evictions
}
