package reflexion

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Store is an append-only JSONL reflection store, one record per line,
// keyed by subtask ID for retrieval.
type Store struct {
	path string
	mu   sync.Mutex
}

// NewStore creates a Store writing to the given file path. The parent
// directory is created on first append.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Append writes one reflection to the end of the store.
func (s *Store) Append(r *Reflection) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create store directory: %w", err)
	}

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open reflection store: %w", err)
	}
	defer f.Close()

	line, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal reflection: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append reflection: %w", err)
	}
	return nil
}

// RecentForSubtask returns up to n most recent reflections for a
// subtask, newest first.
func (s *Store) RecentForSubtask(subtaskID string, n int) ([]*Reflection, error) {
	all, err := s.readAll()
	if err != nil {
		return nil, err
	}

	var matched []*Reflection
	for _, r := range all {
		if r.SubtaskID == subtaskID {
			matched = append(matched, r)
		}
	}

	// File order is chronological; take the tail and reverse.
	if len(matched) > n {
		matched = matched[len(matched)-n:]
	}
	for i, j := 0, len(matched)-1; i < j; i, j = i+1, j-1 {
		matched[i], matched[j] = matched[j], matched[i]
	}
	return matched, nil
}

// Purge rewrites the store dropping records older than the retention
// window. Returns the number of records dropped.
func (s *Store) Purge(retentionDays int, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.readAllLocked()
	if err != nil {
		return 0, err
	}

	cutoff := now.AddDate(0, 0, -retentionDays)
	var kept []*Reflection
	for _, r := range all {
		if !r.CreatedAt.Before(cutoff) {
			kept = append(kept, r)
		}
	}
	dropped := len(all) - len(kept)
	if dropped == 0 {
		return 0, nil
	}

	tmp := s.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return 0, fmt.Errorf("create temp store: %w", err)
	}
	w := bufio.NewWriter(f)
	for _, r := range kept {
		line, err := json.Marshal(r)
		if err != nil {
			f.Close()
			os.Remove(tmp)
			return 0, fmt.Errorf("marshal reflection: %w", err)
		}
		w.Write(line)
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(tmp)
		return 0, fmt.Errorf("flush temp store: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return 0, fmt.Errorf("close temp store: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return 0, fmt.Errorf("replace store: %w", err)
	}
	return dropped, nil
}

// readAll reads every record under the lock.
func (s *Store) readAll() ([]*Reflection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readAllLocked()
}

// readAllLocked reads every record; the caller holds the lock. Corrupt
// lines are skipped so one bad write never poisons the store.
func (s *Store) readAllLocked() ([]*Reflection, error) {
	f, err := os.Open(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open reflection store: %w", err)
	}
	defer f.Close()

	var records []*Reflection
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var r Reflection
		if err := json.Unmarshal(line, &r); err != nil {
			continue
		}
		records = append(records, &r)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read reflection store: %w", err)
	}
	return records, nil
}
