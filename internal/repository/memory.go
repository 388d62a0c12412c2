package repository

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/atinyakov/GophRelay/internal/models"
)

type correlationEntry struct {
	ref     models.MessageRef
	user    models.UserID
	created time.Time
}

// MemoryCorrelations is a bounded in-memory correlation store. Entries expire
// after maxAge and the least recently used entry is evicted once maxEntries
// is reached.
type MemoryCorrelations struct {
	maxEntries int
	maxAge     time.Duration
	now        func() time.Time

	mu    sync.Mutex
	ll    *list.List
	items map[models.MessageRef]*list.Element
}

// NewMemoryCorrelations creates a store. Zero maxEntries or maxAge disables
// the respective bound.
func NewMemoryCorrelations(maxEntries int, maxAge time.Duration) *MemoryCorrelations {
	return &MemoryCorrelations{
		maxEntries: maxEntries,
		maxAge:     maxAge,
		now:        time.Now,
		ll:         list.New(),
		items:      make(map[models.MessageRef]*list.Element),
	}
}

// Put records that ref was forwarded for user.
func (m *MemoryCorrelations) Put(_ context.Context, ref models.MessageRef, user models.UserID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if el, ok := m.items[ref]; ok {
		e := el.Value.(*correlationEntry)
		e.user, e.created = user, now
		m.ll.MoveToFront(el)
		return nil
	}
	m.items[ref] = m.ll.PushFront(&correlationEntry{ref: ref, user: user, created: now})
	for m.maxEntries > 0 && m.ll.Len() > m.maxEntries {
		m.removeElement(m.ll.Back())
	}
	return nil
}

// Get returns the user recorded for ref. Expired entries are dropped.
func (m *MemoryCorrelations) Get(_ context.Context, ref models.MessageRef) (models.UserID, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	el, ok := m.items[ref]
	if !ok {
		return 0, false, nil
	}
	e := el.Value.(*correlationEntry)
	if m.expired(e) {
		m.removeElement(el)
		return 0, false, nil
	}
	m.ll.MoveToFront(el)
	return e.user, true, nil
}

// Prune drops every expired entry and returns how many were removed.
func (m *MemoryCorrelations) Prune() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for el := m.ll.Back(); el != nil; {
		prev := el.Prev()
		if m.expired(el.Value.(*correlationEntry)) {
			m.removeElement(el)
			removed++
		}
		el = prev
	}
	return removed
}

// Len returns the number of entries held.
func (m *MemoryCorrelations) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ll.Len()
}

func (m *MemoryCorrelations) expired(e *correlationEntry) bool {
	return m.maxAge > 0 && m.now().Sub(e.created) > m.maxAge
}

func (m *MemoryCorrelations) removeElement(el *list.Element) {
	m.ll.Remove(el)
	delete(m.items, el.Value.(*correlationEntry).ref)
}
