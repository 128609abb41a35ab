package reactor

import (
	"errors"
	"net"
	"syscall"
)

// ErrUnsupportedConn means the connection does not expose a raw fd via
// SyscallConn, so the reactor cannot watch it directly.
var ErrUnsupportedConn = errors.New("reactor: connection does not support SyscallConn")

// DupFD duplicates the file descriptor underlying conn, returning an
// owned fd independent of conn's own lifetime. This lets a caller close
// its net.Conn wrapper while the reactor keeps watching the duplicate,
// which is what the accept loop does right after calling DupFD.
func DupFD(conn net.Conn) (int, error) {
	sc, ok := conn.(interface {
		SyscallConn() (syscall.RawConn, error)
	})
	if !ok {
		return -1, ErrUnsupportedConn
	}
	rc, err := sc.SyscallConn()
	if err != nil {
		return -1, err
	}

	var newfd int
	var dupErr error
	ctrlErr := rc.Control(func(fd uintptr) {
		newfd, dupErr = syscall.Dup(int(fd))
	})
	if ctrlErr != nil {
		return -1, ctrlErr
	}
	if dupErr != nil {
		return -1, dupErr
	}
	return newfd, nil
}
