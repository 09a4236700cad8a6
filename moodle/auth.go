// Package moodle exchanges an existing portal session for a session on the
// institution's federated Moodle instance, via the portal's SAML proxy.
package moodle

import (
	"encoding/base64"
	"fmt"
	"regexp"
	"strconv"

	"git.sr.ht/~kvo/go-std/errors"

	"main/sph"
)

const proxyURL = "https://llngproxy01.schulportal.hessen.de"

// The federated-auth cookie set on the hop back to Moodle. It replaced the
// older "Paula" cookie but fills the same role.
const bridgeCookieName = "mo-prod01"

var (
	// A successful Moodle login redirects to a testsession URL carrying
	// the numeric user id.
	testsessionExp = regexp.MustCompile(`^(?:https://mo(?:[0-9]{1,6})\.schulportal\.hessen\.de/login/index\.php\?testsession=)([0-9]+)$`)
	// The session key needed for state-changing Moodle calls, embedded in
	// the logout link of the authenticated landing page.
	sessionKeyExp = regexp.MustCompile(`(?i)logout\.php\?sesskey=([a-z0-9]{10})`)
	cookieExp     = regexp.MustCompile(`^[a-z0-9]{26}$`)
)

// Session is the result of a successful bridge: the MoodleSession cookie,
// the session key scraped from the landing page, the federated-auth cookie,
// and the Moodle user id.
type Session struct {
	Cookie     string
	SessionKey string
	Bridge     string
	User       int
}

// URL derives the institution's Moodle host from its school id.
func URL(school int) string {
	return fmt.Sprintf("https://mo%d.schulportal.hessen.de", school)
}

func loginURL(school int) string {
	return URL(school) + "/login/index.php"
}

// Exists reports whether a federated Moodle instance is reachable for the
// given school. Not every institution runs one.
func Exists(c *sph.Client, school int) bool {
	resp, fail := c.Request("HEAD", loginURL(school), "", "")
	if fail != nil {
		return false
	}
	sph.Discard(resp)
	return resp.StatusCode < 400
}

// Login drives the SAML proxy redirect chain. The caller supplies a session
// cookie obtained from a prior portal login.
func Login(c *sph.Client, session string, school int) (Session, *sph.Failure) {
	institution := loginURL(school)

	// Step 1: the proxy answers with a single-sign-on URL for the
	// institution's login page, passed base64-encoded in the query.
	resp, fail := c.Request("GET", proxyURL+"//?url="+base64.StdEncoding.EncodeToString([]byte(institution)), "", "")
	if fail != nil {
		return Session{}, fail
	}
	sph.Discard(resp)

	singleSignOn := resp.Header.Get("Location")
	if singleSignOn == "" {
		return Session{}, sph.Protocol(errors.New(nil, "proxy returned no single-sign-on URL"))
	}

	// Step 2: the single-sign-on URL requires the portal session; without
	// a valid one it yields no artifact URL.
	resp, fail = c.Request("GET", singleSignOn, "SPH-Session="+session, "")
	if fail != nil {
		return Session{}, fail
	}
	sph.Discard(resp)

	artifact := resp.Header.Get("Location")
	if artifact == "" {
		return Session{}, sph.AuthFail(errors.New(nil, "proxy issued no sign-on artifact"))
	}

	// Step 3: following the artifact URL must bounce back to the
	// institution's login page with the federated-auth cookie attached.
	resp, fail = c.Request("GET", artifact, "SPH-Session="+session, "")
	if fail != nil {
		return Session{}, fail
	}
	sph.Discard(resp)

	bridge := sph.SetCookies(resp.Header.Values("Set-Cookie"))[bridgeCookieName]
	if resp.StatusCode != 302 {
		return Session{}, sph.Maintenance("Wartungsarbeiten", nil)
	}
	if resp.Header.Get("Location") != institution || bridge == "" {
		return Session{}, sph.AuthFail(errors.New(nil, "artifact hop set no federated cookie"))
	}

	// Step 4: the login page accepts the federated cookie with a 303 to a
	// testsession URL carrying the Moodle user id.
	resp, fail = c.Request("GET", institution, bridgeCookieName+"="+bridge, "")
	if fail != nil {
		return Session{}, fail
	}
	sph.Discard(resp)

	location := resp.Header.Get("Location")
	if resp.StatusCode != 303 || location == "" {
		return Session{}, sph.AuthFail(errors.New(nil, "moodle login did not redirect to a testsession"))
	}
	match := testsessionExp.FindStringSubmatch(location)
	if match == nil {
		return Session{}, sph.AuthFail(errors.New(nil, "moodle login redirected to an unexpected location"))
	}
	user, err := strconv.Atoi(match[1])
	if err != nil {
		return Session{}, sph.AuthFail(errors.Wrap(err))
	}

	cookie := sph.SetCookies(resp.Header.Values("Set-Cookie"))["MoodleSession"]
	if cookie == "" || !cookieExp.MatchString(cookie) {
		return Session{}, sph.AuthFail(errors.New(nil, "moodle login set no session cookie"))
	}

	// Step 5: the authenticated landing page embeds the session key in its
	// logout link.
	resp, fail = c.Request("GET", URL(school)+"/my/", "MoodleSession="+cookie, "")
	if fail != nil {
		return Session{}, fail
	}
	page, fail := sph.Collapse(resp)
	if fail != nil {
		return Session{}, fail
	}

	keyMatch := sessionKeyExp.FindStringSubmatch(page)
	if keyMatch == nil {
		return Session{}, sph.AuthFail(errors.New(nil, "landing page embeds no session key"))
	}

	return Session{
		Cookie:     cookie,
		SessionKey: keyMatch[1],
		Bridge:     bridge,
		User:       user,
	}, nil
}
