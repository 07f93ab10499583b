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


package server

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/kadirpekel/refinery/pkg/export"
	"github.com/kadirpekel/refinery/pkg/refine"
)

// RunStatus is the lifecycle state reported for a run.
type RunStatus string

const (
	StatusQueued   RunStatus = "queued"
	StatusRunning  RunStatus = "running"
	StatusFinished RunStatus = "finished"
)

var (
	errBusy      = errors.New("too many concurrent runs")
	errDuplicate = errors.New("run id already in use")
)

type activeRun struct {
	id          string
	task        refine.Task
	submittedAt time.Time

	// guarded by Server.mu
	status    RunStatus
	startedAt time.Time
}

// RunView is the API form of a run.
type RunView struct {
	RunID       string         `json:"run_id"`
	Status      RunStatus      `json:"status"`
	Task        refine.Task    `json:"task"`
	SubmittedAt *time.Time     `json:"submitted_at,omitempty"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	Report      *export.Report `json:"report,omitempty"`
}

func (s *Server) view(a *activeRun) RunView {
	s.mu.RLock()
	defer s.mu.RUnlock()
	submitted := a.submittedAt
	v := RunView{
		RunID:       a.id,
		Status:      a.status,
		Task:        a.task,
		SubmittedAt: &submitted,
	}
	if !a.startedAt.IsZero() {
		started := a.startedAt
		v.StartedAt = &started
	}
	return v
}

// register reserves task.ID, assigning one when empty.
func (s *Server) register(task *refine.Task) (*activeRun, error) {
	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.active[task.ID]; ok {
		return nil, errDuplicate
	}
	a := &activeRun{
		id:          task.ID,
		task:        *task,
		submittedAt: time.Now(),
		status:      StatusQueued,
	}
	s.active[task.ID] = a
	return a, nil
}

func (s *Server) lookupActive(id string) (*activeRun, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.active[id]
	return a, ok
}

func (s *Server) activeCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.active)
}

func (s *Server) markRunning(a *activeRun) {
	s.mu.Lock()
	a.status = StatusRunning
	a.startedAt = time.Now()
	s.mu.Unlock()
}

func (s *Server) release(a *activeRun) {
	s.mu.Lock()
	delete(s.active, a.id)
	s.mu.Unlock()
}

// admit takes a run slot. With wait it blocks until a slot frees or ctx is
// done; otherwise it fails fast with errBusy.
func (s *Server) admit(ctx context.Context, wait bool) error {
	if !wait {
		if !s.sem.TryAcquire(1) {
			return errBusy
		}
		return nil
	}
	return s.sem.Acquire(ctx, 1)
}

// execute runs a registered task holding an admitted slot, then stores
// and exports the result. The slot and registration are released on return.
func (s *Server) execute(ctx context.Context, a *activeRun) (*refine.RunResult, error) {
	defer s.sem.Release(1)
	defer s.release(a)

	if s.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.RunTimeout)
		defer cancel()
	}

	s.markRunning(a)
	res, err := s.currentRefiner().Run(ctx, a.task)
	if res == nil {
		if err == nil {
			err = errors.New("refiner returned no result")
		}
		s.logger.Error("Run failed", "run_id", a.id, "error", err)
		return nil, err
	}

	// The store write outlives a canceled run context.
	persistCtx := context.WithoutCancel(ctx)
	if saveErr := s.store.Save(persistCtx, res); saveErr != nil {
		s.logger.Error("Failed to store run", "run_id", res.RunID, "error", saveErr)
	}
	if s.exporter != nil {
		if exportErr := s.exporter.Export(persistCtx, res); exportErr != nil {
			s.logger.Warn("Failed to export run", "run_id", res.RunID, "error", exportErr)
		}
	}

	s.logger.Info("Run finished", "run_id", res.RunID, "reason", res.Reason,
		"iterations", res.IterationCount, "duration", res.Duration())
	return res, err
}

// startAsync admits and runs task in the background.
func (s *Server) startAsync(a *activeRun, wait bool) error {
	if !wait {
		if err := s.admit(s.runCtx, false); err != nil {
			s.release(a)
			return err
		}
		s.runs.Add(1)
		go func() {
			defer s.runs.Done()
			_, _ = s.execute(s.runCtx, a)
		}()
		return nil
	}

	s.runs.Add(1)
	go func() {
		defer s.runs.Done()
		if err := s.admit(s.runCtx, true); err != nil {
			s.release(a)
			s.logger.Warn("Queued run dropped", "run_id", a.id, "error", err)
			return
		}
		_, _ = s.execute(s.runCtx, a)
	}()
	return nil
}
