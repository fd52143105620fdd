// Package session keeps the in-flight form of every conversation.
package session

import (
	"hash/fnv"
	"sync"
	"time"

	"github.com/findbot/findbot/pkg/form"
)

const shardCount = 32

type entry struct {
	session form.Session
	touched time.Time
}

type shard struct {
	mu      sync.Mutex
	entries map[string]entry
}

// Store maps a conversation identity to its current form.Session. Keys are
// spread over fixed shards so unrelated chats never wait on each other.
type Store struct {
	shards [shardCount]*shard
	now    func() time.Time
}

func NewStore() *Store {
	s := &Store{now: time.Now}
	for i := range s.shards {
		s.shards[i] = &shard{entries: make(map[string]entry)}
	}
	return s
}

func (s *Store) shardFor(id string) *shard {
	h := fnv.New32a()
	h.Write([]byte(id))
	return s.shards[h.Sum32()%shardCount]
}

// GetOrCreate returns the session for id, storing a fresh one first if
// none exists.
func (s *Store) GetOrCreate(id string) form.Session {
	sh := s.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	e, ok := sh.entries[id]
	if !ok {
		e = entry{session: form.NewSession(), touched: s.now()}
		sh.entries[id] = e
	}
	return e.session.Clone()
}

func (s *Store) Get(id string) (form.Session, bool) {
	sh := s.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	e, ok := sh.entries[id]
	if !ok {
		return form.Session{}, false
	}
	return e.session.Clone(), true
}

func (s *Store) Replace(id string, sess form.Session) {
	sh := s.shardFor(id)
	sh.mu.Lock()
	sh.entries[id] = entry{session: sess.Clone(), touched: s.now()}
	sh.mu.Unlock()
}

// Remove is a no-op for unknown ids.
func (s *Store) Remove(id string) {
	sh := s.shardFor(id)
	sh.mu.Lock()
	delete(sh.entries, id)
	sh.mu.Unlock()
}

func (s *Store) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		n += len(sh.entries)
		sh.mu.Unlock()
	}
	return n
}

// Expire drops sessions last written before the cutoff and returns how
// many were removed.
func (s *Store) Expire(before time.Time) int {
	removed := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		for id, e := range sh.entries {
			if e.touched.Before(before) {
				delete(sh.entries, id)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed
}
