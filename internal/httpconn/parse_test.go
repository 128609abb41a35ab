package httpconn

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsRequestComplete(t *testing.T) {
	assert.False(t, isRequestComplete([]byte("GET / HTTP/1.0\r\n")))
	assert.False(t, isRequestComplete([]byte("GET / HTTP/1.0\r\nHost: x\r\n")))
	assert.True(t, isRequestComplete([]byte("GET / HTTP/1.0\r\n\r\n")))
	assert.True(t, isRequestComplete([]byte("GET / HTTP/1.0\r\nHost: x\r\n\r\n")))
}

func TestParseRequest(t *testing.T) {
	cases := []struct {
		name    string
		req     string
		outcome parseOutcome
		method  string
		path    string
	}{
		{"simple get", "GET /a.html HTTP/1.0\r\n\r\n", outcomeOK, "GET", "/a.html"},
		{"get with headers", "GET /a.html HTTP/1.0\r\nHost: example\r\nX-Foo: bar\r\n\r\n", outcomeOK, "GET", "/a.html"},
		{"post rejected", "POST /a.html HTTP/1.0\r\n\r\n", outcomeUnsupportedMethod, "POST", "/a.html"},
		{"incomplete", "GET /a.html HTTP/1.0\r\n", outcomeIncomplete, "", ""},
		{"missing leading slash", "GET a.html HTTP/1.0\r\n\r\n", outcomeMalformed, "", ""},
		{"bad header no colon", "GET /a.html HTTP/1.0\r\nbroken\r\n\r\n", outcomeMalformed, "", ""},
		{"wrong field count", "GET /a.html\r\n\r\n", outcomeMalformed, "", ""},
		{"not http", "GET /a.html FOO/1.0\r\n\r\n", outcomeMalformed, "", ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			method, path, _, outcome := parseRequest([]byte(tc.req))
			assert.Equal(t, tc.outcome, outcome)
			if tc.outcome == outcomeOK || tc.outcome == outcomeUnsupportedMethod {
				assert.Equal(t, tc.method, method)
				assert.Equal(t, tc.path, path)
			}
		})
	}
}

func TestParseRequest_HeaderOrderPreserved(t *testing.T) {
	_, _, headers, outcome := parseRequest([]byte("GET / HTTP/1.0\r\nB: 2\r\nA: 1\r\n\r\n"))
	assert.Equal(t, outcomeOK, outcome)
	if assert.Len(t, headers, 2) {
		assert.Equal(t, "B", headers[0].name)
		assert.Equal(t, "A", headers[1].name)
	}
}
