package httpconn

import (
	"bytes"
)

// header is one name/value pair, kept in a slice rather than a map so
// the order headers were seen in can always be reproduced exactly,
// whether for echoing them back or just for predictable tests.
type header struct {
	name  string
	value string
}

// parseOutcome distinguishes "not enough bytes yet" from "malformed"
// from "method not supported" from "parsed ok", so readRequest and
// the connection's processing stage can each react appropriately.
type parseOutcome int

const (
	// outcomeIncomplete means the buffer does not yet contain a
	// complete, parseable request; the caller should keep reading.
	outcomeIncomplete parseOutcome = iota
	outcomeMalformed
	outcomeUnsupportedMethod
	outcomeOK
)

// requestHeaderTerminator is the HTTP/1.0 blank-line-after-headers
// marker.
var requestHeaderTerminator = []byte("\r\n\r\n")

// isRequestComplete reports whether buf contains a full request-line
// plus a terminating CRLFCRLF, independent of whether the request is
// otherwise well-formed. It is used by the input pump to decide whether
// to keep reading or hand off to the processing queue.
func isRequestComplete(buf []byte) bool {
	return bytes.Contains(buf, requestHeaderTerminator)
}

// parseRequest parses a request-line ("METHOD SP path SP HTTP/1.x
// CRLF") and header block ("name: value CRLF" lines terminated by a
// blank line) out of a NUL-terminated buffer. Only GET is served; any
// other method parses successfully but is reported as unsupported so
// the caller can respond 501. No request body is ever read.
func parseRequest(buf []byte) (method, path string, headers []header, outcome parseOutcome) {
	end := bytes.Index(buf, requestHeaderTerminator)
	if end < 0 {
		return "", "", nil, outcomeIncomplete
	}
	// Strip the trailing NUL padding and everything after the blank
	// line (no body is ever read for GET).
	head := buf[:end+2]

	lines := bytes.Split(head, []byte("\r\n"))
	if len(lines) < 1 || len(lines[0]) == 0 {
		return "", "", nil, outcomeMalformed
	}

	requestLine := bytes.Fields(lines[0])
	if len(requestLine) != 3 {
		return "", "", nil, outcomeMalformed
	}
	if !bytes.HasPrefix(requestLine[2], []byte("HTTP/1.")) {
		return "", "", nil, outcomeMalformed
	}

	method = string(requestLine[0])
	path = string(requestLine[1])
	if len(path) == 0 || path[0] != '/' {
		return "", "", nil, outcomeMalformed
	}

	for _, line := range lines[1:] {
		if len(line) == 0 {
			break // the terminating blank line
		}
		idx := bytes.IndexByte(line, ':')
		if idx < 0 {
			return "", "", nil, outcomeMalformed
		}
		name := string(bytes.TrimSpace(line[:idx]))
		value := string(bytes.TrimSpace(line[idx+1:]))
		if name == "" {
			return "", "", nil, outcomeMalformed
		}
		headers = append(headers, header{name: name, value: value})
	}

	if method != "GET" {
		return method, path, headers, outcomeUnsupportedMethod
	}
	return method, path, headers, outcomeOK
}
