package engine

import (
	"log/slog"
	"sync"
)

// Dispatcher runs callbacks one at a time on a single goroutine, in the order they were posted.
// It is the callback context every page and download notification is delivered on.
type Dispatcher struct {
	mu      sync.Mutex
	cond    *sync.Cond
	queue   []func()
	stopped bool
	done    chan struct{}
	logger  *slog.Logger
}

// NewDispatcher starts a dispatcher loop
func NewDispatcher(logger *slog.Logger) *Dispatcher {
	d := &Dispatcher{
		done:   make(chan struct{}),
		logger: logger,
	}
	d.cond = sync.NewCond(&d.mu)
	go d.loop()
	return d
}

// Post queues fn for execution and never blocks. Posts after Stop are dropped.
func (d *Dispatcher) Post(fn func()) {
	if fn == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		d.log().Warn("Dropping callback posted after dispatcher stop")
		return
	}
	d.queue = append(d.queue, fn)
	d.cond.Signal()
}

// Stop runs everything already queued, then ends the loop and waits for it
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.stopped {
		d.stopped = true
		d.cond.Signal()
	}
	d.mu.Unlock()
	<-d.done
}

func (d *Dispatcher) loop() {
	defer close(d.done)
	for {
		d.mu.Lock()
		for len(d.queue) == 0 && !d.stopped {
			d.cond.Wait()
		}
		if len(d.queue) == 0 {
			d.mu.Unlock()
			return
		}
		fn := d.queue[0]
		d.queue[0] = nil
		d.queue = d.queue[1:]
		d.mu.Unlock()

		d.run(fn)
	}
}

func (d *Dispatcher) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			d.log().Error("Panic recovered in dispatched callback", "panic", r)
		}
	}()
	fn()
}

func (d *Dispatcher) log() *slog.Logger {
	if d.logger != nil {
		return d.logger
	}
	return logger()
}
