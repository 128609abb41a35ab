//go:build !linux

package httpconn

import (
	"io"
	"os"

	"golang.org/x/sys/unix"
)

type fileSendResult int

const (
	fileDone fileSendResult = iota
	fileWouldBlock
)

// sendFile streams up to total bytes of f to dstFD. It first tries
// unix.Sendfile, whose Go signature takes (out, in, offset, count) on
// every platform; on any failure other than EAGAIN — including an fd
// pair that doesn't support sendfile(2) at all — it falls back to a
// buffered, resumable copy so the {done, would_block, error} contract
// still holds without ever blocking the caller.
func sendFile(dstFD int, f *os.File, offset *int64, total int64) (fileSendResult, error) {
	remaining := total - *offset
	if remaining <= 0 {
		return fileDone, nil
	}

	before := *offset
	n, err := unix.Sendfile(dstFD, int(f.Fd()), offset, int(remaining))
	// The Darwin/BSD wrappers report the bytes written without moving
	// *offset, so advance it here whenever the call itself did not.
	if n > 0 && *offset == before {
		*offset += int64(n)
	}
	if err == nil {
		if n == 0 && *offset < total {
			return fileWouldBlock, nil
		}
		if *offset >= total {
			return fileDone, nil
		}
		return fileWouldBlock, nil
	}
	if err == unix.EAGAIN {
		return fileWouldBlock, nil
	}

	return sendFileBuffered(dstFD, f, offset, total)
}

// sendFileBuffered is the portable fallback for platforms/fd-pairs
// sendfile(2) cannot handle: a single bounded read-then-write per call,
// resumable exactly like the zero-copy path.
func sendFileBuffered(dstFD int, f *os.File, offset *int64, total int64) (fileSendResult, error) {
	const chunk = 64 * 1024
	remaining := total - *offset
	if remaining <= 0 {
		return fileDone, nil
	}
	if remaining > chunk {
		remaining = chunk
	}

	buf := make([]byte, remaining)
	n, rerr := f.ReadAt(buf, *offset)
	if n == 0 && rerr != nil && rerr != io.EOF {
		return fileDone, rerr
	}

	written, werr := unix.Write(dstFD, buf[:n])
	if werr != nil {
		if werr == unix.EAGAIN {
			return fileWouldBlock, nil
		}
		return fileDone, werr
	}

	*offset += int64(written)
	if *offset >= total {
		return fileDone, nil
	}
	return fileWouldBlock, nil
}
