package sph

import (
	"fmt"
	"net/url"
	"strings"

	"git.sr.ht/~kvo/go-std/errors"

	"main/logger"
)

const (
	primaryLoginURL    = "https://login.bildung.hessen.de"
	loginHostURL       = "https://login.schulportal.hessen.de/"
	registerBrowserURL = "https://login.schulportal.hessen.de/registerbrowser"
	bridgeURL          = "https://connect.schulportal.hessen.de"
	bridgePrefix       = "https://start.schulportal.hessen.de/schulportallogin.php?k"

	// The portal wants a 32-character browser fingerprint with the
	// registration request. It only ever stores it, so a placeholder does.
	fingerprint = "WeNeedToFillThese32CharactersMan"
)

// Credentials selects a user on one portal instance. Never persisted.
type Credentials struct {
	Username string
	Password string
	School   int
}

// Session is the output of a successful login. Session is the intermediate
// SPH-Session cookie, Token the externally visible session id, and
// Autologin the optional long-lived renewal token.
type Session struct {
	Session   string
	Token     string
	Autologin string
}

// The modern login is a fixed sequence of protocol checkpoints, modeled as
// an explicit state machine: each transition inspects exactly one upstream
// response and either advances or terminates in a Failure. This keeps every
// checkpoint unit-testable with canned responses.
type loginState int

const (
	loginStart loginState = iota
	credentialsSubmitted
	sessionObtained
	autologinRegistered
	redirectResolved
	loginDone
)

type loginFlow struct {
	client    *Client
	creds     Credentials
	autologin bool

	page      string // collapsed body of the credential response
	cookies   map[string]string
	session   string
	token     string
	renewal   string
	bridgeLoc string
}

// Login drives the modern multi-redirect login sequence. When autologin is
// set, a long-lived token is requested as well; failure to obtain one is
// not fatal. All upstream calls are strictly sequential.
func (c *Client) Login(creds Credentials, autologin bool) (Session, *Failure) {
	flow := loginFlow{client: c, creds: creds, autologin: autologin}
	state := loginStart

	var fail *Failure
	for state != loginDone {
		switch state {
		case loginStart:
			state, fail = flow.submitCredentials()
		case credentialsSubmitted:
			state, fail = flow.extractSession()
		case sessionObtained:
			state, fail = flow.registerBrowser()
		case autologinRegistered:
			state, fail = flow.resolveBridgeRedirect()
		case redirectResolved:
			state, fail = flow.fetchToken()
		}
		if fail != nil {
			return Session{}, fail
		}
	}

	return Session{
		Session:   flow.session,
		Token:     flow.token,
		Autologin: flow.renewal,
	}, nil
}

// Start -> CredentialsSubmitted. POST the encoded credentials to the
// primary login host. 503 means portal maintenance; a response without any
// Set-Cookie header means the upstream contract is broken.
func (f *loginFlow) submitCredentials() (loginState, *Failure) {
	stay := 0
	if f.autologin {
		stay = 1
	}
	form := strings.Join([]string{
		"user=" + url.QueryEscape(fmt.Sprintf("%d.%s", f.creds.School, f.creds.Username)),
		"password=" + url.QueryEscape(f.creds.Password),
		fmt.Sprintf("stayconnected=%d", stay),
	}, "&")

	resp, fail := f.client.Request("POST", primaryLoginURL, "", form)
	if fail != nil {
		return 0, fail
	}

	if resp.StatusCode == 503 {
		Discard(resp)
		return 0, Maintenance("Wartungsarbeiten", nil)
	}
	if len(resp.Header.Values("Set-Cookie")) == 0 {
		Discard(resp)
		return 0, Protocol(errors.New(nil, "expected a set-cookie header from the portal"))
	}

	f.cookies = SetCookies(resp.Header.Values("Set-Cookie"))
	page, fail := Collapse(resp)
	if fail != nil {
		return 0, fail
	}
	f.page = page
	return credentialsSubmitted, nil
}

// CredentialsSubmitted -> SessionObtained. A missing session cookie is the
// expected shape of a rejected login, possibly with a lockout countdown; it
// is an auth failure, not a protocol one.
func (f *loginFlow) extractSession() (loginState, *Failure) {
	session := f.cookies["SPH-Session"]
	if session == "" {
		if seconds, ok := extractLocktime(f.page); ok {
			return 0, authCooldown(seconds)
		}
		return 0, AuthFail(nil)
	}
	if !SessionExp.MatchString(session) {
		return 0, Protocol(errors.New(nil, "session cookie does not match its pattern"))
	}
	f.session = session
	return sessionObtained, nil
}

// SessionObtained -> AutologinRegistered. Only runs when the caller asked
// for a long-lived token. Every failure here is swallowed: the login still
// succeeds, just without a renewal token.
func (f *loginFlow) registerBrowser() (loginState, *Failure) {
	if !f.autologin {
		return autologinRegistered, nil
	}

	token, ok := extractToken(f.page)
	if !ok || !SessionExp.MatchString(token) {
		logger.Debug("login: no embedded token on login page, skipping autologin")
		return autologinRegistered, nil
	}

	form := "token=" + token + "&fg=" + fingerprint
	resp, fail := f.client.Request("POST", registerBrowserURL, "SPH-Session="+f.session, form)
	if fail != nil {
		logger.Debug(errors.New(fail, "login: browser registration failed"))
		return autologinRegistered, nil
	}
	defer Discard(resp)

	renewal := SetCookies(resp.Header.Values("Set-Cookie"))["SPH-AutoLogin"]
	if resp.StatusCode != 302 || renewal == "" || !SessionExp.MatchString(renewal) {
		logger.Debug("login: browser registration yielded no autologin cookie")
		return autologinRegistered, nil
	}

	f.renewal = renewal
	return autologinRegistered, nil
}

// AutologinRegistered -> BridgeRedirectResolved. The bridge host must
// acknowledge the session with a redirect to the fixed login key URL;
// anything else means the session was rejected downstream.
func (f *loginFlow) resolveBridgeRedirect() (loginState, *Failure) {
	resp, fail := f.client.Request("HEAD", bridgeURL, "SPH-Session="+f.session, "")
	if fail != nil {
		return 0, fail
	}
	Discard(resp)

	location := resp.Header.Get("Location")
	if resp.StatusCode != 302 || !strings.HasPrefix(location, bridgePrefix) {
		return 0, AuthFail(errors.New(nil, "bridge host rejected the session"))
	}
	f.bridgeLoc = location
	return redirectResolved, nil
}

// BridgeRedirectResolved -> Done. Following the bridge redirect must set
// the final session id. Its absence is treated as transient upstream
// unavailability, distinct from a credential rejection.
func (f *loginFlow) fetchToken() (loginState, *Failure) {
	resp, fail := f.client.Request("HEAD", f.bridgeLoc, "", "")
	if fail != nil {
		return 0, fail
	}
	Discard(resp)

	if len(resp.Header.Values("Set-Cookie")) == 0 {
		return 0, Maintenance("", errors.New(nil, "bridge redirect set no cookies"))
	}
	sid := SetCookies(resp.Header.Values("Set-Cookie"))["sid"]
	if sid == "" || !SidExp.MatchString(sid) {
		return 0, Maintenance("", errors.New(nil, "bridge redirect set no session id"))
	}
	f.token = sid
	return loginDone, nil
}
