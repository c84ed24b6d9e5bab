package backup

import "sync"

// Dispatcher runs delegate callbacks on the job's designated callback
// context.
type Dispatcher interface {
	Dispatch(fn func())
}

// SerialDispatcher runs callbacks one at a time, in FIFO order, on a single
// goroutine. Dispatch never blocks.
type SerialDispatcher struct {
	mu     sync.Mutex
	queue  []func()
	closed bool

	wake    chan struct{}
	stopped chan struct{}
}

func NewSerialDispatcher() *SerialDispatcher {
	d := &SerialDispatcher{
		wake:    make(chan struct{}, 1),
		stopped: make(chan struct{}),
	}
	go d.loop()
	return d
}

var defaultDispatcher = sync.OnceValue(NewSerialDispatcher)

// DefaultDispatcher is the process-wide dispatcher used by jobs that were
// not given one.
func DefaultDispatcher() *SerialDispatcher {
	return defaultDispatcher()
}

func (d *SerialDispatcher) Dispatch(fn func()) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.queue = append(d.queue, fn)
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *SerialDispatcher) loop() {
	defer close(d.stopped)

	for {
		d.mu.Lock()
		if len(d.queue) == 0 {
			closed := d.closed
			d.mu.Unlock()
			if closed {
				return
			}
			<-d.wake
			continue
		}
		fn := d.queue[0]
		d.queue[0] = nil
		d.queue = d.queue[1:]
		d.mu.Unlock()

		fn()
	}
}

// Flush blocks until every callback dispatched before the call has run.
// It must not be called from a callback.
func (d *SerialDispatcher) Flush() {
	done := make(chan struct{})

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.queue = append(d.queue, func() { close(done) })
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
	<-done
}

// Close runs the remaining callbacks and stops the dispatcher. Later
// Dispatch calls are dropped.
func (d *SerialDispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
	<-d.stopped
}
