package sph

import (
	"io"
	"net/http"
	"strings"
	"time"

	"git.sr.ht/~kvo/go-std/errors"
)

const userAgent = "sphbridge/1.0"

// requestTimeout bounds every upstream call. A timeout is treated like a
// malformed response, never retried within the same request.
const requestTimeout = 30 * time.Second

// Client issues requests to the portal hosts on behalf of one inbound
// request. Address is the inbound client's address, forwarded upstream;
// HTTP is exported so tests can install a canned transport.
type Client struct {
	Address string
	HTTP    *http.Client
}

// New returns a Client that never follows redirects. The orchestrations
// inspect every Location header themselves.
func New(address string) *Client {
	return &Client{
		Address: address,
		HTTP: &http.Client{
			Timeout: requestTimeout,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// Request performs one upstream exchange. form, when non-empty, is sent as
// an urlencoded POST body; cookie, when non-empty, is attached verbatim.
// Cookies always travel explicitly between steps; the client has no jar.
func (c *Client) Request(method, link, cookie, form string) (*http.Response, *Failure) {
	var body io.Reader
	if form != "" {
		body = strings.NewReader(form)
	}

	req, err := http.NewRequest(method, link, body)
	if err != nil {
		return nil, internal(errors.New(err, "cannot create %s request", method))
	}

	address := c.Address
	if address == "" {
		address = "127.0.0.1"
	}
	req.Header.Set("X-Forwarded-For", address)
	req.Header.Set("User-Agent", userAgent)
	if form != "" {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if cookie != "" {
		req.Header.Set("Cookie", cookie)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		if isTimeout(err) {
			return nil, Maintenance("", errors.New(err, "upstream timeout"))
		}
		return nil, internal(errors.New(err, "cannot execute %s request", method))
	}
	return resp, nil
}

// Collapse reads and closes a response body and flattens it for pattern
// matching.
func Collapse(resp *http.Response) (string, *Failure) {
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		if isTimeout(err) {
			return "", Maintenance("", errors.New(err, "upstream timeout"))
		}
		return "", internal(errors.New(err, "cannot read response body"))
	}
	return CollapseBreaks(string(raw)), nil
}

func Discard(resp *http.Response) {
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}

// isTimeout reports whether an upstream call died waiting. http.Client
// wraps these as *url.Error, which carries the deadline through Timeout().
func isTimeout(err error) bool {
	type timeout interface{ Timeout() bool }
	t, ok := err.(timeout)
	return ok && t.Timeout()
}
