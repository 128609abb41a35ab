//go:build linux

package reactor

import (
	"golang.org/x/sys/unix"
)

// epollPoller implements platformPoller over Linux epoll. epoll is
// level-triggered by construction here: EPOLLET is never set, so a
// readiness condition keeps being reported for as long as it persists,
// without any extra bookkeeping to re-arm it.
type epollPoller struct {
	epfd int
}

func newPlatformPoller() (platformPoller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &epollPoller{epfd: epfd}, nil
}

func toEpollEvents(interest Interest) uint32 {
	var events uint32
	if interest&Readable != 0 {
		events |= unix.EPOLLIN
	}
	if interest&Writable != 0 {
		events |= unix.EPOLLOUT
	}
	// Hangup is always reported by the kernel regardless of the
	// requested event mask; EPOLLRDHUP is added so stream shutdown is
	// distinguishable from ordinary readability.
	events |= unix.EPOLLRDHUP
	return events
}

func (p *epollPoller) watch(fd int, interest Interest) error {
	ev := unix.EpollEvent{Events: toEpollEvents(interest), Fd: int32(fd)}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev)
}

func (p *epollPoller) update(fd int, interest Interest) error {
	ev := unix.EpollEvent{Events: toEpollEvents(interest), Fd: int32(fd)}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &ev)
}

func (p *epollPoller) forget(fd int) error {
	err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	if err == unix.ENOENT || err == unix.EBADF {
		return nil
	}
	return err
}

// maxEvents bounds how many ready descriptors are retrieved from a
// single epoll_wait call; batching amortizes syscall overhead.
const maxEvents = 1024

func (p *epollPoller) wait(active []watch) ([]readyEvent, error) {
	var raw [maxEvents]unix.EpollEvent
	// The timeout just bounds how stale an update can get if it somehow
	// raced past the wake write; it isn't load-bearing for correctness.
	n, err := unix.EpollWait(p.epfd, raw[:], 1000)
	if err != nil {
		return nil, err
	}

	events := make([]readyEvent, 0, n)
	for i := 0; i < n; i++ {
		var revents Interest
		if raw[i].Events&(unix.EPOLLIN|unix.EPOLLERR) != 0 {
			revents |= Readable
		}
		if raw[i].Events&unix.EPOLLOUT != 0 {
			revents |= Writable
		}
		if raw[i].Events&(unix.EPOLLRDHUP|unix.EPOLLHUP|unix.EPOLLERR) != 0 {
			revents |= Hangup
		}
		if revents != 0 {
			events = append(events, readyEvent{fd: int(raw[i].Fd), revents: revents})
		}
	}
	return events, nil
}

func (p *epollPoller) close() error {
	return unix.Close(p.epfd)
}
