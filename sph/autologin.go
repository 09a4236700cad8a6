package sph

import (
	"git.sr.ht/~kvo/go-std/errors"
)

// The renewal flow presents the fingerprint placeholder of its own; the
// portal never checks it against the one sent at registration time.
const renewalFingerprint = "HalloSchulportalWarumFingerprint"

// Renew re-derives a session and final token from a long-lived autologin
// token, without credentials. Every deviation is fatal: a token that worked
// before either works now or has expired.
func (c *Client) Renew(autologin string) (Session, *Failure) {
	// Step 1: the login page, fetched with the autologin cookie, embeds a
	// one-time token. An expired autologin token yields none.
	resp, fail := c.Request("GET", loginHostURL, "SPH-AutoLogin="+autologin, "")
	if fail != nil {
		return Session{}, fail
	}
	page, fail := Collapse(resp)
	if fail != nil {
		return Session{}, fail
	}

	token, ok := extractToken(page)
	if !ok {
		return Session{}, AuthFail(errors.New(nil, "login page embeds no one-time token"))
	}

	// Step 2: posting the token back must redirect to the login host
	// itself and set a fresh session cookie.
	form := "token=" + token + "&fg=" + renewalFingerprint
	resp, fail = c.Request("POST", loginHostURL, "SPH-AutoLogin="+autologin, form)
	if fail != nil {
		return Session{}, fail
	}
	Discard(resp)

	if resp.StatusCode != 302 || resp.Header.Get("Location") != loginHostURL {
		return Session{}, AuthFail(errors.New(nil, "token submission did not redirect to the login host"))
	}

	session := SetCookies(resp.Header.Values("Set-Cookie"))["SPH-Session"]
	if session == "" || !SessionExp.MatchString(session) {
		return Session{}, AuthFail(errors.New(nil, "token submission set no session cookie"))
	}

	// Step 3: the bridge host acknowledges the renewed session. A redirect
	// back to the login key URL means the session still needs a full login.
	resp, fail = c.Request("GET", bridgeURL, "SPH-Session="+session, "")
	if fail != nil {
		return Session{}, fail
	}
	Discard(resp)

	location := resp.Header.Get("Location")
	if resp.StatusCode != 302 || loginKeyExp.MatchString(location) {
		return Session{}, AuthFail(errors.New(nil, "bridge host rejected the renewed session"))
	}

	// Step 4: following the bridge redirect yields the final session id.
	resp, fail = c.Request("GET", location, "", "")
	if fail != nil {
		return Session{}, fail
	}
	Discard(resp)

	sid := SetCookies(resp.Header.Values("Set-Cookie"))["sid"]
	if sid == "" || !SidExp.MatchString(sid) {
		return Session{}, AuthFail(errors.New(nil, "bridge redirect set no session id"))
	}

	return Session{Session: session, Token: sid}, nil
}
