package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Task is a unit of background audit work.
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

type DispatcherConfig struct {
	BufferSize  int
	DropIfFull  bool
	TaskTimeout time.Duration
}

// Dispatcher runs audit tasks off the request path. Close drains whatever
// is already queued.
type Dispatcher struct {
	cfg       DispatcherConfig
	logger    *zap.Logger
	ch        chan Task
	done      chan struct{}
	wg        sync.WaitGroup
	dropped   atomic.Uint64
	failed    atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once
}

func NewDispatcher(cfg DispatcherConfig, logger *zap.Logger) *Dispatcher {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 256
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	d := &Dispatcher{
		cfg:    cfg,
		logger: logger,
		ch:     make(chan Task, cfg.BufferSize),
		done:   make(chan struct{}),
	}

	d.wg.Add(1)
	go d.run()

	return d
}

func (d *Dispatcher) run() {
	defer d.wg.Done()

	for {
		select {
		case task := <-d.ch:
			d.exec(task)
		case <-d.done:
			for {
				select {
				case task := <-d.ch:
					d.exec(task)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) exec(task Task) {
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.TaskTimeout)
	defer cancel()

	defer func() {
		if rec := recover(); rec != nil {
			d.failed.Add(1)
			d.logger.Error("audit_task_panic", zap.String("task", task.Name), zap.Any("panic", rec))
		}
	}()

	if err := task.Run(ctx); err != nil {
		d.failed.Add(1)
		d.logger.Warn("audit_task_failed", zap.String("task", task.Name), zap.Error(err))
	}
}

// Submit never blocks the caller when DropIfFull is set. It reports whether
// the task was queued.
func (d *Dispatcher) Submit(ctx context.Context, task Task) bool {
	if d == nil || d.closed.Load() || task.Run == nil {
		return false
	}

	if d.cfg.DropIfFull {
		select {
		case d.ch <- task:
			return true
		case <-d.done:
			return false
		default:
			d.dropped.Add(1)
			d.logger.Warn("audit_task_dropped", zap.String("task", task.Name))
			return false
		}
	}

	select {
	case d.ch <- task:
		return true
	case <-ctx.Done():
		return false
	case <-d.done:
		return false
	}
}

func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		close(d.done)
		d.wg.Wait()
	})
}

func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}

func (d *Dispatcher) Failed() uint64 {
	if d == nil {
		return 0
	}
	return d.failed.Load()
}
