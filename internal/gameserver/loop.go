package gameserver

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/steven-mosley/idleverse/internal/game/world"
)

// ErrLoopStopped is returned for work submitted after the loop stopped.
var ErrLoopStopped = errors.New("simulation loop stopped")

// Mutation changes the registry and returns the events it produced. It runs
// on the loop goroutine.
type Mutation func(sim world.Simulation) []world.Event

// Observer reads end-of-tick state on the loop goroutine.
type Observer func(r world.Reader)

// Publisher receives every event produced during one tick, in order.
type Publisher interface {
	Publish(events []world.Event)
}

// Job is periodic work run on the loop goroutine.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(sim world.Simulation) []world.Event
}

type scheduledJob struct {
	Job
	next time.Time
}

// LoopStats describes loop progress.
type LoopStats struct {
	Ticks        uint64
	Uptime       time.Duration
	LastDuration time.Duration
	// Rate is the measured ticks per second since start.
	Rate float64
}

// Loop is the single writer of the registry. Every mutation from any
// goroutine is queued with Submit and applied at the start of the next tick.
//
// Invariant: the registry is only touched by the loop goroutine while the
// loop runs.
type Loop struct {
	sim      world.Simulation
	interval time.Duration
	maxDelta time.Duration
	logger   *zap.Logger

	mu        sync.Mutex
	mutations []Mutation
	observers []Observer
	running   bool
	stopped   bool

	jobs       []*scheduledJob
	publishers []Publisher
	last       time.Time

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	ticks        atomic.Uint64
	lastDuration atomic.Int64
	startNanos   atomic.Int64
}

// NewLoop creates a stopped Loop over sim.
//
// Precondition: interval > 0; maxDelta >= interval; sim and logger must be non-nil.
func NewLoop(sim world.Simulation, interval, maxDelta time.Duration, logger *zap.Logger) *Loop {
	if interval <= 0 {
		panic("gameserver.NewLoop: interval must be > 0")
	}
	if maxDelta < interval {
		maxDelta = interval
	}
	return &Loop{
		sim:      sim,
		interval: interval,
		maxDelta: maxDelta,
		logger:   logger,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// AddJob registers periodic work. Jobs first run one interval after the
// first tick and run in registration order.
//
// Precondition: must be called before Start; j.Interval > 0.
func (l *Loop) AddJob(j Job) {
	l.jobs = append(l.jobs, &scheduledJob{Job: j})
}

// AddPublisher registers an event sink.
//
// Precondition: must be called before Start.
func (l *Loop) AddPublisher(p Publisher) {
	l.publishers = append(l.publishers, p)
}

// Submit queues m for the next tick.
func (l *Loop) Submit(m Mutation) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped {
		return ErrLoopStopped
	}
	l.mutations = append(l.mutations, m)
	return nil
}

// Observe queues o to run once against the state at the end of the next tick.
func (l *Loop) Observe(o Observer) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped {
		return ErrLoopStopped
	}
	l.observers = append(l.observers, o)
	return nil
}

// Query runs fn against end-of-tick state and waits for it.
//
// Postcondition: fn has run when Query returns nil.
func (l *Loop) Query(ctx context.Context, fn func(r world.Reader)) error {
	ran := make(chan struct{})
	if err := l.Observe(func(r world.Reader) {
		fn(r)
		close(ran)
	}); err != nil {
		return err
	}
	select {
	case <-ran:
		return nil
	case <-l.done:
		select {
		case <-ran:
			return nil
		default:
			return ErrLoopStopped
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Start runs ticks until Stop. A loop runs at most once.
//
// Postcondition: The loop goroutine no longer touches the registry once Start returns.
func (l *Loop) Start() error {
	l.mu.Lock()
	if l.running || l.stopped {
		l.mu.Unlock()
		return ErrLoopStopped
	}
	l.running = true
	l.mu.Unlock()
	defer close(l.done)
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()
	l.logger.Info("simulation loop started", zap.Duration("tick_interval", l.interval))
	for {
		select {
		case <-l.stop:
			l.logger.Info("simulation loop stopped", zap.Uint64("ticks", l.ticks.Load()))
			return nil
		case now := <-ticker.C:
			l.tick(now)
		}
	}
}

// Stop refuses further submissions, stops ticking and waits for the
// current tick to finish. Queued mutations that have not run are dropped.
func (l *Loop) Stop(ctx context.Context) error {
	l.stopOnce.Do(func() {
		l.mu.Lock()
		l.stopped = true
		running := l.running
		dropped := len(l.mutations)
		l.mutations = nil
		l.observers = nil
		l.mu.Unlock()
		if dropped > 0 {
			l.logger.Info("dropping queued mutations at shutdown", zap.Int("count", dropped))
		}
		close(l.stop)
		if !running {
			close(l.done)
		}
	})
	select {
	case <-l.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for simulation loop: %w", ctx.Err())
	}
}

// Done is closed when the loop goroutine has exited.
func (l *Loop) Done() <-chan struct{} { return l.done }

// Stats reports progress counters. Safe from any goroutine.
func (l *Loop) Stats() LoopStats {
	s := LoopStats{
		Ticks:        l.ticks.Load(),
		LastDuration: time.Duration(l.lastDuration.Load()),
	}
	if start := l.startNanos.Load(); start != 0 {
		s.Uptime = time.Since(time.Unix(0, start))
		if secs := s.Uptime.Seconds(); secs > 0 {
			s.Rate = float64(s.Ticks) / secs
		}
	}
	return s
}

// Interval is the configured tick period.
func (l *Loop) Interval() time.Duration { return l.interval }

func (l *Loop) tick(now time.Time) {
	start := time.Now()
	if l.last.IsZero() {
		l.last = now
		l.startNanos.Store(start.UnixNano())
		for _, j := range l.jobs {
			j.next = now.Add(j.Interval)
		}
	}
	dt := now.Sub(l.last)
	if dt < 0 {
		dt = 0
	}
	if dt > l.maxDelta {
		dt = l.maxDelta
	}
	l.last = now

	l.mu.Lock()
	mutations := l.mutations
	l.mutations = nil
	l.mu.Unlock()

	var events []world.Event
	for _, m := range mutations {
		events = append(events, l.apply(m)...)
	}
	events = append(events, l.sim.Step(dt.Seconds())...)
	for _, j := range l.jobs {
		if now.Before(j.next) {
			continue
		}
		j.next = now.Add(j.Interval)
		events = append(events, l.runJob(j)...)
	}
	if len(events) > 0 {
		for _, p := range l.publishers {
			p.Publish(events)
		}
	}

	l.mu.Lock()
	observers := l.observers
	l.observers = nil
	l.mu.Unlock()
	for _, o := range observers {
		l.observe(o)
	}

	elapsed := time.Since(start)
	l.ticks.Add(1)
	l.lastDuration.Store(int64(elapsed))
	if elapsed > l.interval {
		l.logger.Warn("tick over budget",
			zap.Duration("elapsed", elapsed),
			zap.Duration("budget", l.interval),
			zap.Float64("ratio", math.Round(float64(elapsed)/float64(l.interval)*100)/100),
		)
	}
}

func (l *Loop) apply(m Mutation) (events []world.Event) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("mutation panicked", zap.Any("panic", r))
			events = nil
		}
	}()
	return m(l.sim)
}

func (l *Loop) runJob(j *scheduledJob) (events []world.Event) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("job panicked", zap.String("job", j.Name), zap.Any("panic", r))
			events = nil
		}
	}()
	events = j.Run(l.sim)
	l.logger.Debug("job ran",
		zap.String("job", j.Name),
		zap.Int("events", len(events)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return events
}

func (l *Loop) observe(o Observer) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("observer panicked", zap.Any("panic", r))
		}
	}()
	o(l.sim)
}
