package sph

import (
	"io"
	"net/http"
	"strings"
)

// The protocol tests run every orchestration against canned upstream
// responses, injected as the client's transport. No test touches the
// network.

type rtFunc func(*http.Request) (*http.Response, error)

func (f rtFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}

func canned(status int, header http.Header, body string) *http.Response {
	if header == nil {
		header = http.Header{}
	}
	return &http.Response{
		StatusCode: status,
		Header:     header,
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func testClient(rt rtFunc) *Client {
	client := New("203.0.113.7")
	client.HTTP.Transport = rt
	return client
}

// Well-formed token material for canned responses.
var (
	testSession   = strings.Repeat("ab", 32)
	testAutologin = strings.Repeat("cd", 32)
	testToken     = strings.Repeat("ef", 32)
	testSid       = "abcdefghijklmnopqrstuvwxyz"
	testLoginKey  = strings.Repeat("0f", 48)
)
