package jobs

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// FlushFunc runs the deferred work for a key.
type FlushFunc func(ctx context.Context, key string) error

// DebouncerConfig configures debounce behaviour.
type DebouncerConfig struct {
	Delay   time.Duration
	Timeout time.Duration
	Logger  *zap.Logger
}

// Debouncer delays work per key until the key has been idle for Delay. Every Touch restarts the
// key's timer. Flushes of the same key never overlap.
type Debouncer struct {
	name    string
	flush   FlushFunc
	delay   time.Duration
	timeout time.Duration
	logger  *zap.Logger

	mu      sync.Mutex
	timers  map[string]*pending
	locks   map[string]*sync.Mutex
	wg      sync.WaitGroup
	stopped bool
}

type pending struct {
	timer *time.Timer
}

// NewDebouncer builds a debouncer invoking flush once a key goes idle.
func NewDebouncer(name string, flush FlushFunc, cfg DebouncerConfig) *Debouncer {
	if cfg.Delay <= 0 {
		cfg.Delay = 800 * time.Millisecond
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Debouncer{
		name:    name,
		flush:   flush,
		delay:   cfg.Delay,
		timeout: cfg.Timeout,
		logger:  cfg.Logger,
		timers:  make(map[string]*pending),
		locks:   make(map[string]*sync.Mutex),
	}
}

// Touch schedules (or reschedules) the flush of key.
func (d *Debouncer) Touch(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	if p, ok := d.timers[key]; ok {
		p.timer.Stop()
	}
	p := &pending{}
	p.timer = time.AfterFunc(d.delay, func() { d.fire(key, p) })
	d.timers[key] = p
}

// Pending reports whether key has a scheduled flush.
func (d *Debouncer) Pending(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.timers[key]
	return ok
}

// Flush cancels any scheduled flush of key and runs it now.
func (d *Debouncer) Flush(ctx context.Context, key string) error {
	d.mu.Lock()
	if p, ok := d.timers[key]; ok {
		p.timer.Stop()
		delete(d.timers, key)
	}
	lock := d.keyLock(key)
	d.mu.Unlock()

	lock.Lock()
	defer lock.Unlock()
	return d.flush(ctx, key)
}

// Stop flushes every pending key and waits for in-flight flushes. Touch is ignored afterwards.
func (d *Debouncer) Stop(ctx context.Context) {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	keys := make([]string, 0, len(d.timers))
	for key, p := range d.timers {
		p.timer.Stop()
		keys = append(keys, key)
	}
	d.timers = make(map[string]*pending)
	d.mu.Unlock()

	for _, key := range keys {
		if err := d.Flush(ctx, key); err != nil {
			d.logger.Sugar().Errorw("flush on shutdown failed", "debouncer", d.name, "key", key, "error", err)
		}
	}
	d.wg.Wait()
	d.logger.Sugar().Infow("debouncer stopped", "debouncer", d.name, "flushed", len(keys))
}

func (d *Debouncer) fire(key string, p *pending) {
	d.mu.Lock()
	if d.stopped || d.timers[key] != p {
		d.mu.Unlock()
		return
	}
	delete(d.timers, key)
	lock := d.keyLock(key)
	d.wg.Add(1)
	d.mu.Unlock()
	defer d.wg.Done()

	lock.Lock()
	defer lock.Unlock()
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	if err := d.flush(ctx, key); err != nil {
		d.logger.Sugar().Warnw("debounced flush failed", "debouncer", d.name, "key", key, "error", err)
	}
}

// keyLock must be called with d.mu held.
func (d *Debouncer) keyLock(key string) *sync.Mutex {
	lock, ok := d.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		d.locks[key] = lock
	}
	return lock
}
