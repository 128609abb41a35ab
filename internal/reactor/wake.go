package reactor

import (
	"errors"

	"golang.org/x/sys/unix"
)

// unix_pipe2 creates a non-blocking self-pipe: [0] is the read end, [1]
// the write end. Writing a byte to [1] interrupts a blocked wait() on
// the read side of the pair.
func unix_pipe2() ([2]int, error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		return fds, err
	}
	return fds, nil
}

func unix_closePipe(fds [2]int) {
	unix.Close(fds[0])
	unix.Close(fds[1])
}

// unix_wakeWrite writes a single byte, best-effort. EAGAIN (pipe full)
// is ignored: one readable byte is already sufficient to wake the
// waiter.
func unix_wakeWrite(fd int) {
	var b [1]byte
	_, _ = unix.Write(fd, b[:])
}

// unix_wakeDrain reads and discards every byte currently readable on
// the wake pipe, non-blocking.
func unix_wakeDrain(fd int) {
	var buf [256]byte
	for {
		n, err := unix.Read(fd, buf[:])
		if n <= 0 || err != nil {
			return
		}
	}
}

func isInterrupted(err error) bool {
	return errors.Is(err, unix.EINTR)
}
