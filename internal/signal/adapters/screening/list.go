// Package screening provides sanctions screening providers: a local list
// file and a remote HTTP service.
package screening

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"arbiter/internal/signal"
)

// listFile is the on-disk layout: list name to entries.
type listFile struct {
	Lists map[string][]signal.Candidate `yaml:"lists"`
}

// ListScreener serves candidates from lists loaded into memory. It
// returns every entry of the requested lists; matching is left to the
// sanctions evaluator.
type ListScreener struct {
	mu    sync.RWMutex
	lists map[string][]signal.Candidate
}

// LoadListFile reads a YAML list file.
func LoadListFile(path string) (*ListScreener, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sanctions lists: %w", err)
	}
	s := &ListScreener{}
	if err := s.Replace(data); err != nil {
		return nil, err
	}
	return s, nil
}

// NewListScreener builds a screener from in-memory lists.
func NewListScreener(lists map[string][]signal.Candidate) *ListScreener {
	s := &ListScreener{lists: make(map[string][]signal.Candidate, len(lists))}
	for name, entries := range lists {
		s.lists[name] = withList(name, entries)
	}
	return s
}

// Replace swaps in a new list document.
func (s *ListScreener) Replace(data []byte) error {
	var doc listFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("decode sanctions lists: %w", err)
	}
	lists := make(map[string][]signal.Candidate, len(doc.Lists))
	for name, entries := range doc.Lists {
		lists[name] = withList(name, entries)
	}
	s.mu.Lock()
	s.lists = lists
	s.mu.Unlock()
	return nil
}

func (s *ListScreener) Screen(_ context.Context, q signal.ScreeningQuery) ([]signal.Candidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []signal.Candidate
	var missing []string
	for _, name := range q.Lists {
		entries, ok := s.lists[name]
		if !ok {
			missing = append(missing, name)
			continue
		}
		out = append(out, entries...)
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, fmt.Errorf("sanctions lists not available: %v", missing)
	}
	return out, nil
}

func withList(name string, entries []signal.Candidate) []signal.Candidate {
	out := make([]signal.Candidate, len(entries))
	for i, e := range entries {
		e.List = name
		out[i] = e
	}
	return out
}
