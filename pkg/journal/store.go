// Package journal records every published find so operators can see what
// was posted and when.
package journal

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const retention = 90 * 24 * time.Hour

type Record struct {
	ID         string    `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	DayKey     string    `json:"day_key"`
	Channel    string    `json:"channel"`
	ChatID     string    `json:"chat_id"`
	Name       string    `json:"name"`
	Price      string    `json:"price"`
	Category   string    `json:"category"`
	Rating     string    `json:"rating"`
	HasComment bool      `json:"has_comment"`
	PhotoCount int       `json:"photo_count"`
	Tags       string    `json:"tags"`
}

type Filter struct {
	ChatID   string
	DayKey   string
	Category string
	Limit    int
}

type Aggregate struct {
	Finds     int
	Positive  int
	Negative  int
	Commented int
	Photos    int
}

type Store struct {
	mu      sync.RWMutex
	records []Record
	path    string
	now     func() time.Time
}

// NewStore opens the journal at path. An empty path keeps records in
// memory only.
func NewStore(path string) (*Store, error) {
	s := &Store{
		records: make([]Record, 0, 256),
		path:    path,
		now:     time.Now,
	}
	if path == "" {
		return s, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func DayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// Append stores r, filling ID, Timestamp and DayKey when unset, prunes
// records past retention and persists the journal.
func (s *Store) Append(r Record) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = s.now().UTC()
	}
	if r.DayKey == "" {
		r.DayKey = DayKey(r.Timestamp)
	}

	s.mu.Lock()
	s.records = append(s.records, r)
	s.pruneLocked()
	s.mu.Unlock()

	return s.save()
}

func (s *Store) pruneLocked() {
	cutoff := s.now().Add(-retention)
	kept := s.records[:0]
	for _, r := range s.records {
		if r.Timestamp.Before(cutoff) {
			continue
		}
		kept = append(kept, r)
	}
	s.records = kept
}

func (s *Store) Query(f Filter) []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Record, 0, len(s.records))
	for _, r := range s.records {
		if f.ChatID != "" && r.ChatID != f.ChatID {
			continue
		}
		if f.DayKey != "" && r.DayKey != f.DayKey {
			continue
		}
		if f.Category != "" && r.Category != f.Category {
			continue
		}
		out = append(out, r)
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[len(out)-f.Limit:]
	}
	return out
}

func AggregateRecords(records []Record) Aggregate {
	var agg Aggregate
	for _, r := range records {
		agg.add(r)
	}
	return agg
}

func (a *Aggregate) add(r Record) {
	a.Finds++
	switch r.Rating {
	case "positive":
		a.Positive++
	case "negative":
		a.Negative++
	}
	if r.HasComment {
		a.Commented++
	}
	a.Photos += r.PhotoCount
}

func CategoryBreakdown(records []Record) map[string]Aggregate {
	out := map[string]Aggregate{}
	for _, r := range records {
		c := strings.TrimSpace(r.Category)
		if c == "" {
			c = "unknown"
		}
		agg := out[c]
		agg.add(r)
		out[c] = agg
	}
	return out
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read journal: %w", err)
	}
	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		return fmt.Errorf("parse journal %s: %w", s.path, err)
	}
	s.records = records
	return nil
}

func (s *Store) save() error {
	if s.path == "" {
		return nil
	}
	s.mu.RLock()
	snapshot := make([]Record, len(s.records))
	copy(snapshot, s.records)
	s.mu.RUnlock()

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("encode journal: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write journal: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace journal: %w", err)
	}
	return nil
}
