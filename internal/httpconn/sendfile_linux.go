//go:build linux

package httpconn

import (
	"os"

	"golang.org/x/sys/unix"
)

// fileSendResult is the normalized {done, would_block} outcome of one
// sendFile call; an error return always means a genuine failure, never
// EAGAIN.
type fileSendResult int

const (
	fileDone fileSendResult = iota
	fileWouldBlock
)

// sendFile streams up to total bytes of f to dstFD using the Linux
// sendfile(2) zero-copy primitive, resuming from *offset across calls.
// Argument order on Linux is (out_fd, in_fd, offset, count) — the
// reverse of the Darwin/BSD form, so this file and sendfile_other.go
// must never be merged without re-checking that order.
func sendFile(dstFD int, f *os.File, offset *int64, total int64) (fileSendResult, error) {
	remaining := total - *offset
	if remaining <= 0 {
		return fileDone, nil
	}

	n, err := unix.Sendfile(dstFD, int(f.Fd()), offset, int(remaining))
	if err != nil {
		if err == unix.EAGAIN {
			return fileWouldBlock, nil
		}
		return fileDone, err
	}

	// unix.Sendfile on Linux already advances *offset by n for us.
	if n == 0 && *offset < total {
		return fileWouldBlock, nil
	}
	if *offset >= total {
		return fileDone, nil
	}
	return fileWouldBlock, nil
}
