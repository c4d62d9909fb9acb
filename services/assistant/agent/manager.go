// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package agent

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/kodiak/services/assistant/agent/planner"
	"github.com/AleutianAI/kodiak/services/assistant/agent/tools"
	"github.com/AleutianAI/kodiak/services/assistant/llm"
	"github.com/AleutianAI/kodiak/services/assistant/observability"
)

// Subscriber channels buffer this many snapshots before drops begin.
const subscriberBuffer = 16

// Manager runs background tasks, each with its own orchestrator,
// continuous execution loop, and hierarchical planner.
//
// Description:
//
//	StartTask assigns an id and launches a goroutine that seeds a
//	hierarchical plan (best effort) and then runs the loop to
//	termination. The manager bridges loop progress into the planner
//	and fans status snapshots out to subscribers. Completed tasks
//	stay queryable until the process exits.
//
// Thread Safety:
//
//	All methods are safe for concurrent use.
type Manager struct {
	client     llm.Client
	executor   *tools.Executor
	flagSource func() Flags
	loopOpts   []LoopOption
	broadcast  func(taskID string, snapshot StatusSnapshot)
	logger     *slog.Logger

	mu    sync.Mutex
	tasks map[string]*Task
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithManagerLogger sets the manager logger.
func WithManagerLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithManagerFlagSource sets the dispatch flag source handed to every
// task's orchestrator and loop.
func WithManagerFlagSource(source func() Flags) ManagerOption {
	return func(m *Manager) {
		m.flagSource = source
	}
}

// WithTaskDefaults sets loop options applied to every task before any
// per-task options.
func WithTaskDefaults(opts ...LoopOption) ManagerOption {
	return func(m *Manager) {
		m.loopOpts = opts
	}
}

// WithManagerObserver sets a callback invoked with every status
// snapshot of every task, in addition to per-task subscribers. Used to
// feed external telemetry sinks.
func WithManagerObserver(fn func(taskID string, snapshot StatusSnapshot)) ManagerOption {
	return func(m *Manager) {
		m.broadcast = fn
	}
}

// NewManager creates a task manager.
func NewManager(client llm.Client, executor *tools.Executor, opts ...ManagerOption) *Manager {
	m := &Manager{
		client:   client,
		executor: executor,
		logger:   slog.Default(),
		tasks:    make(map[string]*Task),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Task is one background task's runtime state.
type Task struct {
	id        string
	text      string
	loop      *Loop
	planner   *planner.Planner
	orch      *Orchestrator
	cancel    context.CancelFunc
	startedAt time.Time
	done      chan struct{}
	broadcast func(StatusSnapshot)

	mu          sync.Mutex
	subscribers map[int]chan StatusSnapshot
	nextSub     int
	final       *FinalResult
}

// TaskSnapshot is the queryable view of a task.
type TaskSnapshot struct {
	ID         string              `json:"id"`
	Task       string              `json:"task"`
	Status     string              `json:"status"`
	Iteration  int                 `json:"iteration"`
	ErrorCount int                 `json:"error_count"`
	Progress   float64             `json:"progress"`
	Plan       planner.PlanSummary `json:"plan"`
	StartedAt  time.Time           `json:"started_at"`
	Done       bool                `json:"done"`
	Result     *FinalResult        `json:"result,omitempty"`
}

// StartTask launches a task in the background.
//
// Description:
//
//	Builds a fresh orchestrator, planner, and loop for the task, then
//	runs them in a goroutine: hierarchical planning first (a planning
//	failure is logged and the task proceeds on the loop's own flat
//	plan), then the loop to termination.
//
// Inputs:
//
//	text - Task description. Must be non-blank.
//	opts - Per-task loop options, applied after the manager defaults.
//
// Outputs:
//
//	string - Assigned task id.
//	error  - ErrEmptyTask when text is blank.
func (m *Manager) StartTask(text string, opts ...LoopOption) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyTask
	}

	id := uuid.NewString()
	logger := m.logger.With(slog.String("task_id", id))

	orchOpts := []Option{WithLogger(logger)}
	if m.flagSource != nil {
		orchOpts = append(orchOpts, WithFlags(m.flagSource()))
	}

	ctx, cancel := context.WithCancel(context.Background())
	task := &Task{
		id:          id,
		text:        text,
		orch:        NewOrchestrator(m.client, m.executor, orchOpts...),
		planner:     planner.NewPlanner(m.client, logger),
		cancel:      cancel,
		startedAt:   time.Now(),
		done:        make(chan struct{}),
		subscribers: make(map[int]chan StatusSnapshot),
	}
	if m.broadcast != nil {
		fn := m.broadcast
		task.broadcast = func(snapshot StatusSnapshot) {
			fn(id, snapshot)
		}
	}

	loopOpts := make([]LoopOption, 0, len(m.loopOpts)+len(opts)+3)
	loopOpts = append(loopOpts, m.loopOpts...)
	loopOpts = append(loopOpts, WithLoopLogger(logger), WithObserver(task.observe))
	if m.flagSource != nil {
		loopOpts = append(loopOpts, WithFlagSource(m.flagSource))
	}
	loopOpts = append(loopOpts, opts...)
	task.loop = NewLoop(task.orch, loopOpts...)

	m.mu.Lock()
	m.tasks[id] = task
	m.mu.Unlock()

	go m.run(ctx, task)
	return id, nil
}

// run executes one task to termination.
func (m *Manager) run(ctx context.Context, task *Task) {
	if _, err := task.planner.CreatePlan(ctx, task.text); err != nil {
		m.logger.Warn("hierarchical planning failed",
			slog.String("task_id", task.id), slog.Any("error", err))
	}
	final := task.loop.Start(ctx, task.text)
	task.finish(final)
}

// Get returns the current snapshot of a task.
func (m *Manager) Get(id string) (TaskSnapshot, error) {
	task, ok := m.lookup(id)
	if !ok {
		return TaskSnapshot{}, ErrTaskNotFound
	}
	return task.snapshot(), nil
}

// List returns snapshots of all known tasks, oldest first.
func (m *Manager) List() []TaskSnapshot {
	m.mu.Lock()
	tasks := make([]*Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		tasks = append(tasks, t)
	}
	m.mu.Unlock()

	snaps := make([]TaskSnapshot, 0, len(tasks))
	for _, t := range tasks {
		snaps = append(snaps, t.snapshot())
	}
	sort.Slice(snaps, func(i, j int) bool {
		if snaps[i].StartedAt.Equal(snaps[j].StartedAt) {
			return snaps[i].ID < snaps[j].ID
		}
		return snaps[i].StartedAt.Before(snaps[j].StartedAt)
	})
	return snaps
}

// Subscribe returns a channel of status snapshots for a task plus a
// cancel function. Slow subscribers drop snapshots rather than block
// the loop. The channel closes when the task finishes or the cancel
// function runs. Subscribing to a finished task returns a closed
// channel.
func (m *Manager) Subscribe(id string) (<-chan StatusSnapshot, func(), error) {
	task, ok := m.lookup(id)
	if !ok {
		return nil, nil, ErrTaskNotFound
	}
	ch, cancel := task.subscribe()
	return ch, cancel, nil
}

// Done returns a channel closed when the task terminates.
func (m *Manager) Done(id string) (<-chan struct{}, error) {
	task, ok := m.lookup(id)
	if !ok {
		return nil, ErrTaskNotFound
	}
	return task.done, nil
}

// AdaptTask folds feedback into a running task's hierarchical plan.
//
// Outputs:
//
//	*planner.Plan - The adapted plan.
//	error         - ErrTaskNotFound, ErrTaskFinished, planner.ErrNoPlan
//	                when initial planning never produced a plan, or a
//	                completion error.
func (m *Manager) AdaptTask(ctx context.Context, id, feedback string) (*planner.Plan, error) {
	task, ok := m.lookup(id)
	if !ok {
		return nil, ErrTaskNotFound
	}
	if task.finished() {
		return nil, ErrTaskFinished
	}
	plan, err := task.planner.AdaptPlan(ctx, feedback)
	if err != nil {
		return nil, err
	}
	observability.RecordAdaptation()
	return plan, nil
}

// PlanHistory returns a task's plan events, creation and adaptations,
// each with its before/after snapshot and diff.
func (m *Manager) PlanHistory(id string) ([]planner.PlanEvent, error) {
	task, ok := m.lookup(id)
	if !ok {
		return nil, ErrTaskNotFound
	}
	return task.planner.History(), nil
}

// Stop requests cooperative cancellation of a running task. The loop
// observes it at the next iteration boundary.
func (m *Manager) Stop(id string) error {
	task, ok := m.lookup(id)
	if !ok {
		return ErrTaskNotFound
	}
	if task.finished() {
		return ErrTaskFinished
	}
	task.cancel()
	return nil
}

// Shutdown cancels every running task and waits for termination or
// context expiry.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	tasks := make([]*Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		tasks = append(tasks, t)
	}
	m.mu.Unlock()

	for _, t := range tasks {
		if !t.finished() {
			t.cancel()
		}
	}
	for _, t := range tasks {
		select {
		case <-t.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (m *Manager) lookup(id string) (*Task, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[id]
	return task, ok
}

// observe receives loop snapshots: it advances the hierarchical plan
// and fans the snapshot out to the broadcast callback and subscribers.
func (t *Task) observe(snapshot StatusSnapshot) {
	t.trackPlanProgress(snapshot)
	if t.broadcast != nil {
		t.broadcast(snapshot)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for _, ch := range t.subscribers {
		select {
		case ch <- snapshot:
		default:
		}
	}
}

// trackPlanProgress marks the planner's next step complete for each
// executing iteration, keeping component progress roughly in step with
// the loop. No completion calls happen here.
func (t *Task) trackPlanProgress(snapshot StatusSnapshot) {
	if snapshot.Final || snapshot.Status != StatusExecuting {
		return
	}
	action := t.planner.GetNextAction()
	if action.Type == planner.ActionExecuteStep {
		t.planner.UpdateStepStatus(action.Component, action.StepIndex, true)
	}
}

func (t *Task) subscribe() (<-chan StatusSnapshot, func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.final != nil {
		ch := make(chan StatusSnapshot)
		close(ch)
		return ch, func() {}
	}

	id := t.nextSub
	t.nextSub++
	ch := make(chan StatusSnapshot, subscriberBuffer)
	t.subscribers[id] = ch

	cancel := func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if _, ok := t.subscribers[id]; ok {
			delete(t.subscribers, id)
			close(ch)
		}
	}
	return ch, cancel
}

// finish stores the final result and closes subscriber channels. Runs
// after the loop's final snapshot has been delivered.
func (t *Task) finish(final *FinalResult) {
	t.mu.Lock()
	t.final = final
	subs := t.subscribers
	t.subscribers = make(map[int]chan StatusSnapshot)
	t.mu.Unlock()

	for _, ch := range subs {
		close(ch)
	}
	close(t.done)
}

func (t *Task) finished() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.final != nil
}

func (t *Task) snapshot() TaskSnapshot {
	loopSnap := t.loop.Snapshot()
	execStatus := t.planner.GetExecutionStatus()
	summary := t.planner.GetPlanSummary()

	t.mu.Lock()
	final := t.final
	t.mu.Unlock()

	snap := TaskSnapshot{
		ID:         t.id,
		Task:       t.text,
		Status:     loopSnap.Status,
		Iteration:  loopSnap.Iteration,
		ErrorCount: loopSnap.ErrorCount,
		Progress:   execStatus.OverallProgress,
		Plan:       summary,
		StartedAt:  t.startedAt,
		Done:       final != nil,
		Result:     final,
	}
	if snap.Status == "" {
		snap.Status = StatusPlanning
	}
	return snap
}
