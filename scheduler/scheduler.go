package scheduler

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Task is a periodic job. A returned error is logged and counted; the task
// keeps its schedule.
type Task func(ctx context.Context) error

// ErrUnknownTask is returned by Trigger for a name that is not registered.
var ErrUnknownTask = errors.New("scheduler: unknown task")

// TaskInfo describes a registered task.
type TaskInfo struct {
	Name     string        `json:"name"`
	Interval time.Duration `json:"interval"`
	Runs     int           `json:"runs"`
	Failures int           `json:"failures"`
	LastRun  time.Time     `json:"last_run"`
	LastErr  string        `json:"last_error,omitempty"`
}

type entry struct {
	info    TaskInfo
	fn      Task
	trigger chan struct{}
	cancel  context.CancelFunc
}

// Scheduler runs named tasks on fixed intervals. Runs of the same task never
// overlap.
type Scheduler struct {
	mu     sync.Mutex
	tasks  map[string]*entry
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *zap.Logger
}

func New(logger *zap.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		tasks:  make(map[string]*entry),
		ctx:    ctx,
		cancel: cancel,
		logger: logger,
	}
}

// Every registers fn to run every interval, replacing any task of the same
// name. A non-positive interval leaves the task registered but only runnable
// through Trigger.
func (s *Scheduler) Every(name string, interval time.Duration, fn Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx.Err() != nil {
		return
	}
	if old, ok := s.tasks[name]; ok {
		old.cancel()
	}

	ctx, cancel := context.WithCancel(s.ctx)
	e := &entry{
		info:    TaskInfo{Name: name, Interval: interval},
		fn:      fn,
		trigger: make(chan struct{}, 1),
		cancel:  cancel,
	}
	s.tasks[name] = e

	s.wg.Add(1)
	go s.loop(ctx, e)
	s.logger.Info("scheduler task registered", zap.String("name", name), zap.Duration("interval", interval))
}

// Trigger asks a task to run as soon as possible. Requests made while a run
// is already pending are coalesced.
func (s *Scheduler) Trigger(name string) error {
	s.mu.Lock()
	e, ok := s.tasks[name]
	s.mu.Unlock()
	if !ok {
		return ErrUnknownTask
	}
	select {
	case e.trigger <- struct{}{}:
	default:
	}
	return nil
}

// Remove stops a task. Unknown names are ignored.
func (s *Scheduler) Remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.tasks[name]; ok {
		e.cancel()
		delete(s.tasks, name)
	}
}

// Tasks lists registered tasks ordered by name.
func (s *Scheduler) Tasks() []TaskInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]TaskInfo, 0, len(s.tasks))
	for _, e := range s.tasks {
		out = append(out, e.info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Stop cancels every task and waits for in-flight runs to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.cancel()
	clear(s.tasks)
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, e *entry) {
	defer s.wg.Done()

	var tick <-chan time.Time
	if e.info.Interval > 0 {
		ticker := time.NewTicker(e.info.Interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-tick:
		case <-e.trigger:
		case <-ctx.Done():
			return
		}
		s.run(ctx, e)
	}
}

func (s *Scheduler) run(ctx context.Context, e *entry) {
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("scheduler task panicked", zap.String("task", e.info.Name), zap.Any("recover", r))
				err = errors.New("panic")
			}
		}()
		return e.fn(ctx)
	}()

	s.mu.Lock()
	e.info.Runs++
	e.info.LastRun = time.Now()
	e.info.LastErr = ""
	if err != nil {
		e.info.Failures++
		e.info.LastErr = err.Error()
	}
	s.mu.Unlock()

	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warn("scheduler task failed", zap.String("task", e.info.Name), zap.Error(err))
	}
}
