//go:build darwin || freebsd || netbsd || openbsd || dragonfly

package reactor

import (
	"golang.org/x/sys/unix"
)

// kqueuePoller implements platformPoller over kqueue. Filters are
// registered without EV_CLEAR, so readiness stays level-triggered:
// kqueue keeps re-reporting a filter for as long as the condition
// persists.
type kqueuePoller struct {
	kq int
}

func newPlatformPoller() (platformPoller, error) {
	kq, err := unix.Kqueue()
	if err != nil {
		return nil, err
	}
	return &kqueuePoller{kq: kq}, nil
}

func (p *kqueuePoller) changeList(fd int, interest Interest, add bool) []unix.Kevent_t {
	flags := uint16(unix.EV_ADD | unix.EV_ENABLE)
	if !add {
		flags = unix.EV_DELETE
	}

	var changes []unix.Kevent_t
	wantRead := interest&Readable != 0
	wantWrite := interest&Writable != 0

	if add {
		if wantRead {
			changes = append(changes, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: flags})
		} else {
			changes = append(changes, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: unix.EV_DELETE})
		}
		if wantWrite {
			changes = append(changes, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: flags})
		} else {
			changes = append(changes, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: unix.EV_DELETE})
		}
	} else {
		changes = append(changes,
			unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: unix.EV_DELETE},
			unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: unix.EV_DELETE},
		)
	}
	return changes
}

// applyIgnoringMissing registers a change list, swallowing ENOENT for
// filters that were never installed (e.g. deleting EVFILT_WRITE on a
// read-only watch).
func (p *kqueuePoller) applyIgnoringMissing(changes []unix.Kevent_t) error {
	for _, ch := range changes {
		_, err := unix.Kevent(p.kq, []unix.Kevent_t{ch}, nil, nil)
		if err != nil && err != unix.ENOENT {
			return err
		}
	}
	return nil
}

func (p *kqueuePoller) watch(fd int, interest Interest) error {
	return p.applyIgnoringMissing(p.changeList(fd, interest, true))
}

func (p *kqueuePoller) update(fd int, interest Interest) error {
	return p.applyIgnoringMissing(p.changeList(fd, interest, true))
}

func (p *kqueuePoller) forget(fd int) error {
	return p.applyIgnoringMissing(p.changeList(fd, 0, false))
}

const maxEvents = 1024

func (p *kqueuePoller) wait(active []watch) ([]readyEvent, error) {
	timeout := unix.NsecToTimespec(1_000_000_000) // 1 second latency ceiling
	var raw [maxEvents]unix.Kevent_t
	n, err := unix.Kevent(p.kq, nil, raw[:], &timeout)
	if err != nil {
		return nil, err
	}

	merged := make(map[int]Interest, n)
	var order []int
	for i := 0; i < n; i++ {
		fd := int(raw[i].Ident)
		if _, ok := merged[fd]; !ok {
			order = append(order, fd)
		}
		switch raw[i].Filter {
		case unix.EVFILT_READ:
			merged[fd] |= Readable
		case unix.EVFILT_WRITE:
			merged[fd] |= Writable
		}
		if raw[i].Flags&unix.EV_EOF != 0 {
			merged[fd] |= Hangup
		}
	}

	events := make([]readyEvent, 0, len(order))
	for _, fd := range order {
		events = append(events, readyEvent{fd: fd, revents: merged[fd]})
	}
	return events, nil
}

func (p *kqueuePoller) close() error {
	return unix.Close(p.kq)
}
