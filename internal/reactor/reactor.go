// Package reactor implements a level-triggered readiness multiplexer: a
// single dedicated goroutine owns a dynamic set of watched file
// descriptors, accepts thread-safe registration/unregistration requests,
// and dispatches per-fd callbacks either inline on its own goroutine or
// onto a named dispatch queue.
package reactor

import (
	"sync"

	"github.com/rs/zerolog"
)

// Interest is a bitmask over the readiness conditions a watch cares about.
type Interest uint8

const (
	// Readable means the fd can be read without blocking.
	Readable Interest = 1 << iota
	// Writable means the fd can be written without blocking.
	Writable
	// Hangup means the peer has closed or reset the connection.
	Hangup
)

// Callback receives the readiness conditions observed for its fd.
type Callback func(revents Interest)

// Queue is anything that can run a closure asynchronously, in FIFO order
// relative to every other closure scheduled on the same Queue. A nil
// Queue passed to Register means "run the callback inline, on the
// reactor goroutine".
type Queue interface {
	Schedule(func())
	Name() string
}

// watch is one entry of the active watch set: a (fd, interest, flags,
// callback, queue) tuple, plus whether it survives firing.
type watch struct {
	fd       int
	interest Interest
	repeat   bool
	queue    Queue
	callback Callback
}

// update is a pending mutation of the watch set. A non-nil callback means
// add-or-replace; a nil callback means remove-by-fd.
type update struct {
	fd       int
	interest Interest
	repeat   bool
	queue    Queue
	callback Callback
}

const initialCapacity = 10

// Reactor owns one dedicated goroutine that multiplexes a dynamic set of
// watched file descriptors for level-triggered readiness events.
type Reactor struct {
	poller platformPoller
	log    zerolog.Logger

	updatesMu sync.Mutex
	updates   []update

	wakeR, wakeW int // self-pipe fds

	active []watch // mutated only by the reactor goroutine

	closed chan struct{}
	closeO sync.Once
	done   chan struct{}
}

// New creates a Reactor and starts its dedicated goroutine.
func New(log zerolog.Logger) (*Reactor, error) {
	poller, err := newPlatformPoller()
	if err != nil {
		return nil, err
	}

	r, err := unix_pipe2()
	if err != nil {
		poller.close()
		return nil, err
	}

	re := &Reactor{
		poller:  poller,
		log:     log,
		active:  make([]watch, 0, initialCapacity),
		wakeR:   r[0],
		wakeW:   r[1],
		closed:  make(chan struct{}),
		done:    make(chan struct{}),
	}

	// The wake-channel entry exists from start until teardown and is
	// never removed by external callers. It is installed directly (not
	// via the update FIFO) so it is guaranteed present before the first
	// wait.
	if err := re.poller.watch(re.wakeR, Readable); err != nil {
		poller.close()
		unix_closePipe(r)
		return nil, err
	}
	re.active = append(re.active, watch{
		fd:       re.wakeR,
		interest: Readable,
		repeat:   true,
		callback: func(Interest) {},
	})

	go re.loop()
	return re, nil
}

// Register schedules installation of a watch for fd. A second
// registration for the same fd replaces the prior entry, releasing its
// callback and queue reference. Safe from any goroutine, including from
// inside a callback running on the reactor goroutine. Never blocks
// beyond a best-effort, non-blocking write to the wake pipe.
func (r *Reactor) Register(fd int, interest Interest, repeat bool, queue Queue, cb Callback) {
	r.enqueue(update{fd: fd, interest: interest, repeat: repeat, queue: queue, callback: cb})
}

// Unregister schedules removal of fd's watch. No-op if no entry exists
// for fd at the time the update is applied.
func (r *Reactor) Unregister(fd int) {
	r.enqueue(update{fd: fd, callback: nil})
}

func (r *Reactor) enqueue(u update) {
	select {
	case <-r.closed:
		return
	default:
	}

	r.updatesMu.Lock()
	r.updates = append(r.updates, u)
	r.updatesMu.Unlock()

	r.wake()
}

// wake writes a single byte to the wake pipe, best-effort. A full pipe
// (EAGAIN) is not an error: one readable byte is already enough to wake
// the waiter, so further writes are redundant.
func (r *Reactor) wake() {
	unix_wakeWrite(r.wakeW)
}

// Close stops the reactor goroutine and releases OS resources. It does
// not wait for in-flight callbacks dispatched onto external queues.
func (r *Reactor) Close() error {
	r.closeO.Do(func() {
		close(r.closed)
		r.wake()
		<-r.done
	})
	return nil
}

func (r *Reactor) loop() {
	defer close(r.done)
	defer r.poller.close()
	defer unix_closePipe([2]int{r.wakeR, r.wakeW})

	for {
		select {
		case <-r.closed:
			return
		default:
		}

		r.drainUpdates()

		events, err := r.poller.wait(r.active)
		if err != nil {
			if isInterrupted(err) {
				continue
			}
			r.log.Error().Err(err).Msg("reactor: OS wait failed, reactor goroutine exiting")
			return
		}

		// Apply updates that raced in while we were waiting, before
		// dispatching, so a removal that arrived during the wait is
		// honored rather than an already-stale callback firing.
		r.drainUpdates()

		r.dispatch(events)

		select {
		case <-r.closed:
			return
		default:
		}
	}
}

// drainUpdates reads and discards wake-pipe bytes, then applies every
// queued update record in FIFO order.
func (r *Reactor) drainUpdates() {
	unix_wakeDrain(r.wakeR)

	r.updatesMu.Lock()
	pending := r.updates
	r.updates = nil
	r.updatesMu.Unlock()

	for _, u := range pending {
		if u.callback != nil {
			r.applyAddOrReplace(u)
		} else {
			r.applyRemove(u.fd)
		}
	}
}

func (r *Reactor) applyAddOrReplace(u update) {
	for i := range r.active {
		if r.active[i].fd == u.fd {
			// Release the replaced callback/queue reference exactly
			// once — in Go this just means letting the old
			// closure/queue value be overwritten and collected.
			r.active[i] = watch{fd: u.fd, interest: u.interest, repeat: u.repeat, queue: u.queue, callback: u.callback}
			if err := r.poller.update(u.fd, u.interest); err != nil {
				r.log.Error().Err(err).Int("fd", u.fd).Msg("reactor: failed to update watch")
			}
			return
		}
	}

	if len(r.active) == cap(r.active) {
		grown := make([]watch, len(r.active), cap(r.active)*2)
		copy(grown, r.active)
		r.active = grown
	}
	r.active = append(r.active, watch{fd: u.fd, interest: u.interest, repeat: u.repeat, queue: u.queue, callback: u.callback})
	if err := r.poller.watch(u.fd, u.interest); err != nil {
		r.log.Error().Err(err).Int("fd", u.fd).Msg("reactor: failed to add watch")
	}
}

func (r *Reactor) applyRemove(fd int) {
	for i := range r.active {
		if r.active[i].fd == fd {
			if err := r.poller.forget(fd); err != nil {
				r.log.Debug().Err(err).Int("fd", fd).Msg("reactor: forget watch")
			}
			last := len(r.active) - 1
			r.active[i] = r.active[last]
			r.active = r.active[:last]
			return
		}
	}
}

// dispatch iterates observed events and invokes callbacks, either
// inline or on the entry's target queue.
func (r *Reactor) dispatch(events []readyEvent) {
	for _, ev := range events {
		idx := -1
		for i := range r.active {
			if r.active[i].fd == ev.fd {
				idx = i
				break
			}
		}
		if idx < 0 {
			continue
		}

		w := r.active[idx]
		revents := ev.revents

		// Non-repeat entries are auto-removed on first fire. dispatch
		// runs on the reactor goroutine, so this removal is applied
		// directly against the active set here, before the callback
		// below even starts — not queued onto the update FIFO. That
		// ordering is what lets a callback re-register its own fd and
		// have the re-registration win: it's applied on a later drain,
		// after this stale removal has already happened.
		if !w.repeat {
			r.applyRemove(w.fd)
		}

		cb := w.callback
		q := w.queue
		if q != nil {
			q.Schedule(func() { cb(revents) })
		} else {
			cb(revents)
		}
	}
}

// readyEvent is one fd's observed readiness, produced by a
// platformPoller in a single batch per wait() call.
type readyEvent struct {
	fd      int
	revents Interest
}

// platformPoller abstracts the OS-specific multiplexing primitive
// (epoll on Linux, kqueue on BSD/Darwin) behind a minimal interface.
type platformPoller interface {
	watch(fd int, interest Interest) error
	update(fd int, interest Interest) error
	forget(fd int) error
	wait(active []watch) ([]readyEvent, error)
	close() error
}
