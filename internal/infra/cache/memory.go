package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"stockbot/internal/domain"
)

// Memory: in-process кэш с TTL для запуска без Redis.
type Memory struct {
	clock domain.Clock
	mu    sync.Mutex
	items map[string]memoryItem
}

type memoryItem struct {
	value     []byte
	expiresAt time.Time
}

// NewMemory создаёт кэш.
func NewMemory(clock domain.Clock) *Memory {
	return &Memory{clock: clock, items: make(map[string]memoryItem)}
}

// Set задаёт значение.
func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	item := memoryItem{value: append([]byte(nil), value...)}
	if ttl > 0 {
		item.expiresAt = m.clock.Now().Add(ttl)
	}
	m.items[key] = item
	return nil
}

// Get возвращает значение или domain.ErrNotFound.
func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if !item.expiresAt.IsZero() && !m.clock.Now().Before(item.expiresAt) {
		delete(m.items, key)
		return nil, domain.ErrNotFound
	}
	return item.value, nil
}

// MemorySeen: окно дедупликации, ограниченное и по размеру, и по возрасту ключей.
type MemorySeen struct {
	clock    domain.Clock
	capacity int
	ttl      time.Duration

	mu    sync.Mutex
	order *list.List
	index map[string]*list.Element
}

type seenEntry struct {
	key    string
	seenAt time.Time
}

// NewMemorySeen создаёт окно. capacity <= 0 отключает ограничение по размеру, ttl <= 0 отключает ограничение по возрасту.
func NewMemorySeen(clock domain.Clock, capacity int, ttl time.Duration) *MemorySeen {
	return &MemorySeen{
		clock:    clock,
		capacity: capacity,
		ttl:      ttl,
		order:    list.New(),
		index:    make(map[string]*list.Element),
	}
}

// Seen сообщает, есть ли ключ в окне.
func (s *MemorySeen) Seen(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked(s.clock.Now())
	_, ok := s.index[key]
	return ok, nil
}

// MarkIfNew запоминает ключ и возвращает true, если его не было в окне.
func (s *MemorySeen) MarkIfNew(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()
	s.expireLocked(now)
	if _, ok := s.index[key]; ok {
		return false, nil
	}
	s.index[key] = s.order.PushBack(seenEntry{key: key, seenAt: now})
	for s.capacity > 0 && s.order.Len() > s.capacity {
		s.removeLocked(s.order.Front())
	}
	return true, nil
}

// Len возвращает количество ключей в окне.
func (s *MemorySeen) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.order.Len()
}

func (s *MemorySeen) expireLocked(now time.Time) {
	if s.ttl <= 0 {
		return
	}
	for front := s.order.Front(); front != nil; front = s.order.Front() {
		entry := front.Value.(seenEntry)
		if now.Sub(entry.seenAt) < s.ttl {
			return
		}
		s.removeLocked(front)
	}
}

func (s *MemorySeen) removeLocked(el *list.Element) {
	entry := el.Value.(seenEntry)
	delete(s.index, entry.key)
	s.order.Remove(el)
}

var (
	_ domain.Cache      = (*Memory)(nil)
	_ domain.SeenWindow = (*MemorySeen)(nil)
)
