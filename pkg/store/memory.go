// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package store

import (
	"context"
	"sort"
	"sync"

	"github.com/kadirpekel/refinery/pkg/export"
	"github.com/kadirpekel/refinery/pkg/refine"
)

// MemoryStore keeps the most recent runs in memory. Once full, saving a
// new run evicts the oldest saved one.
type MemoryStore struct {
	mu    sync.RWMutex
	max   int
	runs  map[string]*export.Report
	order []string
}

// NewMemoryStore creates a store holding at most max runs. max <= 0 means
// no bound.
func NewMemoryStore(max int) *MemoryStore {
	return &MemoryStore{max: max, runs: make(map[string]*export.Report)}
}

func (s *MemoryStore) Save(_ context.Context, res *refine.RunResult) error {
	report := export.NewReport(res)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.runs[report.RunID]; ok {
		s.remove(report.RunID)
	}
	s.runs[report.RunID] = report
	s.order = append(s.order, report.RunID)

	for s.max > 0 && len(s.order) > s.max {
		delete(s.runs, s.order[0])
		s.order = s.order[1:]
	}
	return nil
}

func (s *MemoryStore) remove(id string) {
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			return
		}
	}
}

func (s *MemoryStore) Get(_ context.Context, runID string) (*export.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.runs[runID]
	if !ok {
		return nil, ErrNotFound
	}
	return r, nil
}

func (s *MemoryStore) List(_ context.Context, opts ListOptions) ([]Summary, error) {
	s.mu.RLock()
	out := make([]Summary, 0, len(s.runs))
	for _, r := range s.runs {
		if opts.Reason != "" && r.Reason != opts.Reason {
			continue
		}
		out = append(out, summarize(r))
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].RunID < out[j].RunID
		}
		return out[i].StartedAt.After(out[j].StartedAt)
	})

	offset := max(opts.Offset, 0)
	if offset >= len(out) {
		return []Summary{}, nil
	}
	out = out[offset:]
	if n := opts.limit(); len(out) > n {
		out = out[:n]
	}
	return out, nil
}

func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.runs)
}

func (s *MemoryStore) Close() error { return nil }

var _ Store = (*MemoryStore)(nil)
