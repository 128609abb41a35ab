package httpconn

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Result is the normalized outcome of a single Send call: either the
// whole response finished, or the underlying socket would have
// blocked and the caller must re-invoke Send once the socket becomes
// writable again.
type Result int

const (
	// Done means the response (or the current sub-operation) fully
	// flushed.
	Done Result = iota
	// WouldBlock means fewer bytes than the remainder were sent; a
	// later call resumes exactly where this one left off.
	WouldBlock
)

type sendPhase int

const (
	phaseNotStarted sendPhase = iota
	phaseStatusLine
	phaseHeaders
	phaseBody
	phaseComplete
)

// bodyKind selects which of the three body sources (none, an in-memory
// string, or an open file) this response carries.
type bodyKind int

const (
	bodyNone bodyKind = iota
	bodyInline
	bodyFile
)

// sendPayload is the per-phase transient state, modeled as a tagged
// variant rather than a single untyped extra-state field so each
// phase's partial-progress bookkeeping stays distinctly typed. Exactly
// one concrete type is ever held in Response.payload at a time, lazily
// allocated on first entry into its phase and released when the phase
// completes.
type sendPayload interface {
	isSendPayload()
}

type statusLinePayload struct {
	line string
	sent int
}

func (*statusLinePayload) isSendPayload() {}

type headerSubstate int

const (
	subEmitKey headerSubstate = iota
	subEmitColonSpace
	subEmitValue
	subEmitCRLF
	subEmitFinalCRLF
)

type headersPayload struct {
	cursor   int
	substate headerSubstate
	sent     int
}

func (*headersPayload) isSendPayload() {}

type bodyStringPayload struct {
	sent int
}

func (*bodyStringPayload) isSendPayload() {}

// Response is a resumable send state machine for one HTTP/1.0 response:
// status line, headers (in insertion order), then a body drawn from an
// inline string, a file descriptor, or nothing at all.
type Response struct {
	fd int // the connection's raw, non-blocking socket fd

	status int
	reason string

	headers []header

	body       bodyKind
	inline     string
	file       *os.File
	fileSize   int64
	fileOffset int64

	phase   sendPhase
	payload sendPayload
}

// NewResponse creates a response bound to fd with the mandatory
// Server header already set, matching
// HTTPResponseCreate's unconditional "Server: webserver/dev".
func NewResponse(fd int, status int, reason string) *Response {
	return &Response{
		fd:      fd,
		status:  status,
		reason:  reason,
		headers: []header{{name: "Server", value: "webserver/dev"}},
	}
}

// SetHeader appends a header in insertion order. Setting the same name
// twice appends a second line rather than replacing the first — this
// spec has no caller that does so, so the ambiguity in the original
// dictionary-based implementation is never observed.
func (r *Response) SetHeader(name, value string) {
	r.headers = append(r.headers, header{name: name, value: value})
}

// SetInlineBody sets the body to a fixed in-memory string.
func (r *Response) SetInlineBody(body string) {
	r.body = bodyInline
	r.inline = body
}

// SetFileBody sets the body to stream from an open, regular file via
// the platform zero-copy primitive.
func (r *Response) SetFileBody(f *os.File, size int64) {
	r.body = bodyFile
	r.file = f
	r.fileSize = size
}

// Send drives the state machine forward as far as it can go without
// blocking. Phases are traversed strictly in order; once a phase
// returns Done it is never revisited for this response.
func (r *Response) Send() (Result, error) {
	if r.phase == phaseNotStarted {
		r.phase = phaseStatusLine
	}

	if r.phase == phaseStatusLine {
		res, err := r.sendStatusLine()
		if err != nil || res == WouldBlock {
			return res, err
		}
		r.phase = phaseHeaders
	}

	if r.phase == phaseHeaders {
		res, err := r.sendHeaders()
		if err != nil || res == WouldBlock {
			return res, err
		}
		r.phase = phaseBody
	}

	if r.phase == phaseBody {
		res, err := r.sendBody()
		if err != nil || res == WouldBlock {
			return res, err
		}
		r.phase = phaseComplete
	}

	return Done, nil
}

func (r *Response) sendStatusLine() (Result, error) {
	sl, ok := r.payload.(*statusLinePayload)
	if !ok {
		sl = &statusLinePayload{line: fmt.Sprintf("HTTP/1.0 %3d %s\r\n", r.status, r.reason)}
		r.payload = sl
	}

	done, err := sendString(r.fd, sl.line, &sl.sent)
	if err != nil {
		return 0, err
	}
	if !done {
		return WouldBlock, nil
	}
	r.payload = nil
	return Done, nil
}

func (r *Response) sendHeaders() (Result, error) {
	hp, ok := r.payload.(*headersPayload)
	if !ok {
		hp = &headersPayload{substate: subEmitKey}
		r.payload = hp
	}

	for {
		switch hp.substate {
		case subEmitKey:
			if hp.cursor >= len(r.headers) {
				hp.substate = subEmitFinalCRLF
				continue
			}
			done, err := sendString(r.fd, r.headers[hp.cursor].name, &hp.sent)
			if err != nil {
				return 0, err
			}
			if !done {
				return WouldBlock, nil
			}
			hp.substate = subEmitColonSpace
		case subEmitColonSpace:
			done, err := sendString(r.fd, ": ", &hp.sent)
			if err != nil {
				return 0, err
			}
			if !done {
				return WouldBlock, nil
			}
			hp.substate = subEmitValue
		case subEmitValue:
			done, err := sendString(r.fd, r.headers[hp.cursor].value, &hp.sent)
			if err != nil {
				return 0, err
			}
			if !done {
				return WouldBlock, nil
			}
			hp.substate = subEmitCRLF
		case subEmitCRLF:
			done, err := sendString(r.fd, "\r\n", &hp.sent)
			if err != nil {
				return 0, err
			}
			if !done {
				return WouldBlock, nil
			}
			hp.cursor++
			hp.substate = subEmitKey
		case subEmitFinalCRLF:
			done, err := sendString(r.fd, "\r\n", &hp.sent)
			if err != nil {
				return 0, err
			}
			if !done {
				return WouldBlock, nil
			}
			r.payload = nil
			return Done, nil
		}
	}
}

func (r *Response) sendBody() (Result, error) {
	switch r.body {
	case bodyNone:
		return Done, nil
	case bodyInline:
		bp, ok := r.payload.(*bodyStringPayload)
		if !ok {
			bp = &bodyStringPayload{}
			r.payload = bp
		}
		done, err := sendString(r.fd, r.inline, &bp.sent)
		if err != nil {
			return 0, err
		}
		if !done {
			return WouldBlock, nil
		}
		r.payload = nil
		return Done, nil
	case bodyFile:
		res, err := sendFile(r.fd, r.file, &r.fileOffset, r.fileSize)
		if err != nil {
			return 0, err
		}
		if res == fileWouldBlock {
			return WouldBlock, nil
		}
		return Done, nil
	default:
		return Done, nil
	}
}

// Close releases the response's file body source, if any. A response
// with no file body is a no-op.
func (r *Response) Close() error {
	if r.file != nil {
		return r.file.Close()
	}
	return nil
}

// sendString writes s[*sent:] to fd, advancing *sent across partial
// writes, and resets *sent to zero only once every byte of s has been
// flushed.
func sendString(fd int, s string, sent *int) (done bool, err error) {
	remaining := s[*sent:]
	if len(remaining) == 0 {
		*sent = 0
		return true, nil
	}

	n, werr := unix.Write(fd, []byte(remaining))
	if werr != nil {
		if werr == unix.EAGAIN {
			return false, nil
		}
		return false, werr
	}

	*sent += n
	if *sent < len(s) {
		return false, nil
	}
	*sent = 0
	return true, nil
}
