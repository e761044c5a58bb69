package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mediarelay/fetchbot/config"
	"github.com/mediarelay/fetchbot/internal/metrics"
	"github.com/mediarelay/fetchbot/internal/model"
	"github.com/mediarelay/fetchbot/internal/notify"
	"github.com/mediarelay/fetchbot/internal/store"
)

var (
	// ErrInvalidSpec rejects a submission before it enters any queue.
	ErrInvalidSpec = errors.New("invalid task spec")
	// ErrNotStarted guards submissions made before Start.
	ErrNotStarted = errors.New("scheduler not started")
)

const internalErrorText = "❌ An unexpected critical error occurred during download."

// Runner executes one task to a terminal state. Implemented by the
// acquisition pipeline; faked in tests.
type Runner interface {
	Run(ctx context.Context, task *model.Task) error
}

type ownerQueue struct {
	tasks  []*model.Task
	active bool
}

// Scheduler owns every task in the system. Tasks are FIFO per owner with
// at most one executing per owner, and executions across all owners share
// a fixed pool of slots. Queued tasks are persisted synchronously; a task
// leaves the snapshot the moment it is admitted, so a crash mid-flight
// drops it while waiting tasks survive restart.
type Scheduler struct {
	cfg      *config.Config
	store    store.Store
	runner   Runner
	notifier notify.Notifier
	logger   *zap.Logger

	mu     sync.Mutex
	queues map[int64]*ownerQueue

	slots  chan struct{}
	wg     sync.WaitGroup
	runCtx context.Context
	pause  time.Duration
}

func New(cfg *config.Config, st store.Store, runner Runner, notifier notify.Notifier, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		cfg:      cfg,
		store:    st,
		runner:   runner,
		notifier: notifier,
		logger:   logger.With(zap.String("component", "scheduler")),
		queues:   make(map[int64]*ownerQueue),
		slots:    make(chan struct{}, cfg.MaxConcurrentFetches),
		pause:    time.Duration(cfg.TaskPauseSec) * time.Second,
	}
}

// Start binds the scheduler to its run context. Owner loops live until
// ctx is canceled; call Wait to let them wind down.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.runCtx = ctx
	s.mu.Unlock()
	s.logger.Info("Scheduler started", zap.Int("max_concurrent", cap(s.slots)))
}

// Wait blocks until every owner loop has returned.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// Submit validates the spec, assigns an id, persists the task and queues
// it behind the owner's earlier tasks. It returns the new task's id and
// queue position without waiting for execution.
func (s *Scheduler) Submit(ownerID int64, spec model.TaskSpec) (string, int, error) {
	if err := spec.Validate(); err != nil {
		return "", 0, fmt.Errorf("%w: %v", ErrInvalidSpec, err)
	}

	task := &model.Task{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		Spec:      spec,
		State:     model.StateQueued,
		CreatedAt: time.Now().UTC(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.runCtx == nil {
		return "", 0, ErrNotStarted
	}

	// Persist before the task becomes visible; a crash after Submit
	// returns must not lose it.
	if err := s.store.Append(*task); err != nil {
		return "", 0, fmt.Errorf("persist task: %w", err)
	}

	q := s.queues[ownerID]
	if q == nil {
		q = &ownerQueue{}
		s.queues[ownerID] = q
	}
	q.tasks = append(q.tasks, task)
	position := len(q.tasks)

	if !q.active {
		q.active = true
		s.wg.Add(1)
		go s.ownerLoop(ownerID)
	}

	metrics.TasksSubmitted.Inc()
	s.logger.Info("Task submitted",
		zap.String("task_id", task.ID),
		zap.Int64("owner_id", ownerID),
		zap.Int("position", position))
	return task.ID, position, nil
}

// Cancel clears the owner's queued tasks and reports how many went. A
// task already admitted keeps running; only waiting work is affected.
func (s *Scheduler) Cancel(ownerID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := s.queues[ownerID]
	if q == nil || len(q.tasks) == 0 {
		return 0, nil
	}
	cleared := len(q.tasks)
	q.tasks = nil

	if err := s.store.ClearOwner(ownerID); err != nil {
		return cleared, fmt.Errorf("clear persisted tasks: %w", err)
	}
	s.logger.Info("Cancelled queued tasks",
		zap.Int64("owner_id", ownerID),
		zap.Int("count", cleared))
	return cleared, nil
}

// Resume rebuilds the queues from the snapshot and restarts one loop per
// owner with pending work. Runs once at startup, before the frontend
// starts accepting submissions.
func (s *Scheduler) Resume() (int, error) {
	queues, err := s.store.Load()
	if err != nil {
		return 0, fmt.Errorf("load snapshot: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.runCtx == nil {
		return 0, ErrNotStarted
	}

	total := 0
	for ownerID, tasks := range queues {
		if len(tasks) == 0 {
			continue
		}
		q := &ownerQueue{active: true}
		for i := range tasks {
			t := tasks[i]
			q.tasks = append(q.tasks, &t)
		}
		s.queues[ownerID] = q
		total += len(tasks)
		s.wg.Add(1)
		go s.ownerLoop(ownerID)
	}

	if total > 0 {
		s.logger.Info("Resumed queued tasks",
			zap.Int("tasks", total),
			zap.Int("owners", len(s.queues)))
	}
	return total, nil
}

// Pending returns a copy of the owner's queued tasks in order.
func (s *Scheduler) Pending(ownerID int64) []model.Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := s.queues[ownerID]
	if q == nil {
		return nil
	}
	out := make([]model.Task, 0, len(q.tasks))
	for _, t := range q.tasks {
		out = append(out, *t)
	}
	return out
}

// Stats reports queue depth and pool occupancy for metrics and health.
type Stats struct {
	Owners      int
	QueuedTasks int
	ActiveSlots int
	Capacity    int
}

func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	depth := 0
	for _, q := range s.queues {
		depth += len(q.tasks)
	}
	return Stats{
		Owners:      len(s.queues),
		QueuedTasks: depth,
		ActiveSlots: len(s.slots),
		Capacity:    cap(s.slots),
	}
}

// ownerLoop drains one owner's queue. The head stays in the queue while
// the loop waits for a slot so Cancel can still claim it; the loop
// re-checks the head after acquiring and backs off if it changed.
func (s *Scheduler) ownerLoop(ownerID int64) {
	defer s.wg.Done()
	logger := s.logger.With(zap.Int64("owner_id", ownerID))
	logger.Info("Owner loop started")

	for {
		head := s.peekHead(ownerID)
		if head == nil {
			logger.Info("Owner loop drained")
			return
		}

		select {
		case s.slots <- struct{}{}:
		case <-s.runCtx.Done():
			s.park(ownerID)
			logger.Info("Owner loop stopped")
			return
		}

		// Shutdown can win the slot race against a freed slot; without
		// this re-check a stopping scheduler would keep admitting tasks
		// and dropping them from the snapshot.
		select {
		case <-s.runCtx.Done():
			<-s.slots
			s.park(ownerID)
			logger.Info("Owner loop stopped")
			return
		default:
		}

		task := s.claimHead(ownerID, head)
		if task == nil {
			// Cancelled while waiting for the slot.
			<-s.slots
			continue
		}

		// The task leaves the snapshot here; from now until terminal
		// state a crash drops it rather than re-running it.
		if err := s.store.Remove(ownerID, task.ID); err != nil {
			logger.Error("Failed to unpersist admitted task, dropping it",
				zap.String("task_id", task.ID),
				zap.Error(err))
			<-s.slots
			s.notifier.SendResult(ownerID, internalErrorText)
			continue
		}

		s.runAdmitted(task, logger)

		// Breather between tasks so one owner's rapid failures don't
		// monopolize the pool.
		select {
		case <-time.After(s.pause):
		case <-s.runCtx.Done():
		}
	}
}

// runAdmitted executes one task while holding a slot. The slot is
// released exactly once, panic or not, and a panic never kills the loop.
func (s *Scheduler) runAdmitted(task *model.Task, logger *zap.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Pipeline panicked",
				zap.String("task_id", task.ID),
				zap.Any("panic", r))
			task.State = model.StateFailed
			s.notifier.SendResult(task.OwnerID, internalErrorText)
		}
		<-s.slots
	}()

	// Terminal reporting is the pipeline's job; the error is already
	// classified and logged there.
	_ = s.runner.Run(s.runCtx, task)
}

func (s *Scheduler) peekHead(ownerID int64) *model.Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := s.queues[ownerID]
	if q == nil {
		return nil
	}
	if len(q.tasks) == 0 {
		q.active = false
		delete(s.queues, ownerID)
		return nil
	}
	return q.tasks[0]
}

func (s *Scheduler) claimHead(ownerID int64, expect *model.Task) *model.Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := s.queues[ownerID]
	if q == nil || len(q.tasks) == 0 || q.tasks[0] != expect {
		return nil
	}
	q.tasks = q.tasks[1:]
	return expect
}

func (s *Scheduler) park(ownerID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if q := s.queues[ownerID]; q != nil {
		q.active = false
	}
}
