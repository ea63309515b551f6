package schedule

import (
	"context"
	"sync"
	"time"
)

// Func is a scheduled callback. key is the task's current key, which may
// change under Rekey between runs.
type Func func(ctx context.Context, key string)

type task struct {
	key       string
	every     time.Duration
	fn        Func
	timer     Timer
	cancelled bool
}

// Scheduler owns a set of repeating tasks addressed by key. A task never
// overlaps itself: the next run is armed after the current one returns.
type Scheduler struct {
	ctx   context.Context
	clock Clock

	mu    sync.Mutex
	tasks map[string]*task
}

func New(ctx context.Context, clock Clock) *Scheduler {
	if clock == nil {
		clock = Real
	}
	return &Scheduler{ctx: ctx, clock: clock, tasks: map[string]*task{}}
}

func (s *Scheduler) Clock() Clock { return s.clock }

// Arm replaces any task under key. The first run happens right away, then
// every interval.
func (s *Scheduler) Arm(key string, every time.Duration, fn Func) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelLocked(key)
	t := &task{key: key, every: every, fn: fn}
	s.tasks[key] = t
	t.timer = s.clock.AfterFunc(0, func() { s.run(t) })
}

func (s *Scheduler) Cancel(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelLocked(key)
}

func (s *Scheduler) CancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.tasks {
		s.cancelLocked(key)
	}
}

// Rekey moves a task to a new key without disturbing its timer.
func (s *Scheduler) Rekey(oldKey, newKey string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[oldKey]
	if !ok {
		return false
	}
	if oldKey == newKey {
		return true
	}
	s.cancelLocked(newKey)
	delete(s.tasks, oldKey)
	t.key = newKey
	s.tasks[newKey] = t
	return true
}

func (s *Scheduler) Armed(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tasks[key]
	return ok
}

func (s *Scheduler) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.tasks))
	for k := range s.tasks {
		out = append(out, k)
	}
	return out
}

func (s *Scheduler) cancelLocked(key string) bool {
	t, ok := s.tasks[key]
	if !ok {
		return false
	}
	t.cancelled = true
	if t.timer != nil {
		t.timer.Stop()
	}
	delete(s.tasks, key)
	return true
}

func (s *Scheduler) run(t *task) {
	s.mu.Lock()
	if t.cancelled || s.ctx.Err() != nil {
		s.mu.Unlock()
		return
	}
	key := t.key
	s.mu.Unlock()

	t.fn(s.ctx, key)

	s.mu.Lock()
	defer s.mu.Unlock()
	if t.cancelled || s.ctx.Err() != nil {
		return
	}
	t.timer = s.clock.AfterFunc(t.every, func() { s.run(t) })
}
