// Package pool runs analyzer work on a bounded, memory-aware worker
// pool.
//
// The engine core never schedules through this pool; analyzers that
// produce patterns submit their work here and call into the engine from
// their tasks. The worker count floats between a floor and a ceiling:
// queue backlog grows the pool while sampled heap usage stays under the
// high-water mark, and memory pressure shrinks it back toward the
// floor. Idle workers are shed first; a busy worker always finishes its
// task.
package pool

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrQueueFull is returned by Submit when the task queue is at
	// capacity.
	ErrQueueFull = errors.New("task queue full")
	// ErrPoolClosed is returned by Submit and Shutdown after the pool
	// has shut down.
	ErrPoolClosed = errors.New("pool closed")
)

// Task is one unit of analyzer work. The context carries the per-task
// deadline and dies when the pool force-terminates; tasks must return
// when it ends.
type Task func(ctx context.Context)

// Config holds the pool tunables.
type Config struct {
	// MinWorkers and MaxWorkers bound the worker count. The pool never
	// drops below the floor or grows past the ceiling.
	MinWorkers int `yaml:"min_workers"`
	MaxWorkers int `yaml:"max_workers"`

	// QueueSize bounds pending tasks; Submit rejects beyond it.
	QueueSize int `yaml:"queue_size"`

	// TaskTimeout is the deadline each task's context carries.
	TaskTimeout time.Duration `yaml:"task_timeout"`

	// MemoryLimit is the heap budget in bytes that the high-water
	// fraction applies to. Zero disables memory-based scaling.
	MemoryLimit int64 `yaml:"memory_limit"`
	// MemoryHighWater is the fraction of MemoryLimit at which the pool
	// starts shedding workers.
	MemoryHighWater float64 `yaml:"memory_high_water"`

	// SampleInterval is how often heap usage and queue depth are
	// sampled for scaling decisions.
	SampleInterval time.Duration `yaml:"sample_interval"`

	// ShutdownGrace is how long Shutdown waits for running tasks before
	// cancelling their contexts.
	ShutdownGrace time.Duration `yaml:"shutdown_grace"`

	// MemorySample overrides the heap usage probe. Nil samples the
	// runtime allocator. Test seam.
	MemorySample func() uint64 `yaml:"-"`
}

// DefaultConfig returns the shipped pool tuning.
func DefaultConfig() Config {
	return Config{
		MinWorkers:      2,
		MaxWorkers:      runtime.NumCPU(),
		QueueSize:       256,
		TaskTimeout:     30 * time.Second,
		MemoryHighWater: 0.8,
		SampleInterval:  time.Second,
		ShutdownGrace:   5 * time.Second,
	}
}

// Stats is a point-in-time snapshot of the pool.
type Stats struct {
	Workers    int   `json:"workers"`
	Floor      int   `json:"floor"`
	Ceiling    int   `json:"ceiling"`
	QueueDepth int   `json:"queue_depth"`
	Submitted  int64 `json:"submitted"`
	Completed  int64 `json:"completed"`
	Rejected   int64 `json:"rejected"`
	Dropped    int64 `json:"dropped"`
	Overruns   int64 `json:"overruns"`
	Grown      int64 `json:"grown"`
	Shrunk     int64 `json:"shrunk"`
	// MemoryPressure reports the most recent sample's verdict.
	MemoryPressure bool `json:"memory_pressure"`
}

// Pool is a scaling worker pool. Safe for concurrent use.
type Pool struct {
	cfg    Config
	log    *zap.Logger
	sample func() uint64

	baseCtx context.Context
	cancel  context.CancelFunc

	tasks  chan Task
	shrink chan struct{}
	quit   chan struct{}
	wg     sync.WaitGroup

	mu       sync.RWMutex
	workers  int
	closed   bool
	pressure bool
	grown    int64
	shrunk   int64

	submitted int64
	completed int64
	rejected  int64
	dropped   int64
	overruns  int64
}

// New starts a pool at the floor worker count. A nil logger disables
// logging.
func New(cfg Config, log *zap.Logger) (*Pool, error) {
	def := DefaultConfig()
	if cfg.MinWorkers <= 0 {
		cfg.MinWorkers = def.MinWorkers
	}
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = def.MaxWorkers
	}
	if cfg.MinWorkers > cfg.MaxWorkers {
		return nil, errors.New("pool: floor above ceiling")
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = def.TaskTimeout
	}
	if cfg.MemoryHighWater <= 0 || cfg.MemoryHighWater > 1 {
		cfg.MemoryHighWater = def.MemoryHighWater
	}
	if cfg.SampleInterval <= 0 {
		cfg.SampleInterval = def.SampleInterval
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = def.ShutdownGrace
	}
	if log == nil {
		log = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		cfg:     cfg,
		log:     log,
		sample:  cfg.MemorySample,
		baseCtx: ctx,
		cancel:  cancel,
		tasks:   make(chan Task, cfg.QueueSize),
		shrink:  make(chan struct{}),
		quit:    make(chan struct{}),
	}
	if p.sample == nil {
		p.sample = heapInUse
	}

	p.mu.Lock()
	for i := 0; i < cfg.MinWorkers; i++ {
		p.spawnLocked()
	}
	p.mu.Unlock()
	go p.scaler()
	return p, nil
}

func heapInUse() uint64 {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return m.Alloc
}

// Submit queues a task. Returns ErrQueueFull when the queue is at
// capacity and ErrPoolClosed after shutdown; the task is not retained
// in either case.
func (p *Pool) Submit(t Task) error {
	if t == nil {
		return errors.New("pool: nil task")
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}
	select {
	case p.tasks <- t:
		atomic.AddInt64(&p.submitted, 1)
		return nil
	default:
		atomic.AddInt64(&p.rejected, 1)
		return ErrQueueFull
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.quit:
			return
		case <-p.shrink:
			return
		case t := <-p.tasks:
			p.runTask(t)
		}
	}
}

func (p *Pool) runTask(t Task) {
	ctx, cancel := context.WithTimeout(p.baseCtx, p.cfg.TaskTimeout)
	defer cancel()
	t(ctx)
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		atomic.AddInt64(&p.overruns, 1)
	}
	atomic.AddInt64(&p.completed, 1)
}

// scaler samples heap usage and queue depth and moves the worker count
// one step per interval.
func (p *Pool) scaler() {
	ticker := time.NewTicker(p.cfg.SampleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.quit:
			return
		case <-ticker.C:
			p.resize()
		}
	}
}

func (p *Pool) resize() {
	pressure := p.underPressure()
	depth := len(p.tasks)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.pressure = pressure

	switch {
	case pressure && p.workers > p.cfg.MinWorkers:
		// Only an idle worker can take the signal; busy ones finish
		// their task first and are shed on a later tick.
		select {
		case p.shrink <- struct{}{}:
			p.workers--
			p.shrunk++
			p.log.Debug("worker shed under memory pressure", zap.Int("workers", p.workers))
		default:
		}
	case !pressure && depth > 0 && p.workers < p.cfg.MaxWorkers:
		p.spawnLocked()
		p.grown++
		p.log.Debug("worker added for backlog",
			zap.Int("workers", p.workers), zap.Int("queued", depth))
	}
}

func (p *Pool) underPressure() bool {
	if p.cfg.MemoryLimit <= 0 {
		return false
	}
	return float64(p.sample()) >= p.cfg.MemoryHighWater*float64(p.cfg.MemoryLimit)
}

func (p *Pool) spawnLocked() {
	p.workers++
	p.wg.Add(1)
	go p.worker()
}

// Shutdown stops the pool: new submissions fail, queued tasks are
// rejected, and running tasks get ShutdownGrace to finish before their
// contexts are cancelled. The context bounds the whole call; a task
// that ignores its cancelled context is abandoned when the context
// ends.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPoolClosed
	}
	p.closed = true
	p.mu.Unlock()

	// No Submit can be in flight past this point; reject the backlog.
	dropped := int64(0)
	for {
		select {
		case <-p.tasks:
			dropped++
			continue
		default:
		}
		break
	}
	atomic.AddInt64(&p.dropped, dropped)
	close(p.quit)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	grace := time.NewTimer(p.cfg.ShutdownGrace)
	defer grace.Stop()

	select {
	case <-done:
	case <-ctx.Done():
		p.cancel()
		return ctx.Err()
	case <-grace.C:
		p.cancel()
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	p.cancel()
	p.log.Info("pool shut down",
		zap.Int64("dropped", dropped),
		zap.Int64("completed", atomic.LoadInt64(&p.completed)))
	return nil
}

// Stats snapshots the pool.
func (p *Pool) Stats() Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return Stats{
		Workers:        p.workers,
		Floor:          p.cfg.MinWorkers,
		Ceiling:        p.cfg.MaxWorkers,
		QueueDepth:     len(p.tasks),
		Submitted:      atomic.LoadInt64(&p.submitted),
		Completed:      atomic.LoadInt64(&p.completed),
		Rejected:       atomic.LoadInt64(&p.rejected),
		Dropped:        atomic.LoadInt64(&p.dropped),
		Overruns:       atomic.LoadInt64(&p.overruns),
		Grown:          p.grown,
		Shrunk:         p.shrunk,
		MemoryPressure: p.pressure,
	}
}

// Workers returns the current worker count.
func (p *Pool) Workers() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.workers
}
