package sph

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"net/url"

	"git.sr.ht/~kvo/go-std/errors"
)

// The legacy ("SPH1") login predates portal-wide HTTPS: credentials are AES-
// encrypted with a key negotiated through an RSA handshake before they ever
// touch the wire. The portal keeps the old service around for times the
// modern login host is overloaded.
const (
	legacyStartURL = "https://start.schulportal.hessen.de"
	legacyPageURL  = legacyStartURL + "/index.php?i=%d&oldLogin=1"
	handshakeURL   = legacyStartURL + "/ajax.php?f=rsaHandshake&s=%d"
	legacyAjaxURL  = legacyStartURL + "/ajax.php"
)

// LegacyLogin authenticates over the legacy challenge-response protocol.
// The legacy service issues only a final session id, never an SPH-Session
// or autologin token. The "stay signed in" option of the legacy protocol is
// deliberately not implemented.
func (c *Client) LegacyLogin(creds Credentials) (Session, *Failure) {
	// The anonymous login page supplies a throwaway sid cookie and the
	// institution key the encrypted submission must echo. If either is
	// gone, the legacy service is shut down for this school or globally.
	resp, fail := c.Request("GET", fmt.Sprintf(legacyPageURL, creds.School), "", "")
	if fail != nil {
		return Session{}, fail
	}
	sid := SetCookies(resp.Header.Values("Set-Cookie"))["sid"]
	page, fail := Collapse(resp)
	if fail != nil {
		return Session{}, fail
	}
	instKey, ok := extractInstKey(page)
	if !ok || sid == "" {
		return Session{}, Maintenance("", errors.New(nil, "legacy login page is gone"))
	}

	key, err := generateKeyString()
	if err != nil {
		return Session{}, internal(errors.New(err, "cannot generate handshake key"))
	}

	cookie := fmt.Sprintf("i=%d; sid=%s", creds.School, sid)
	if fail := c.handshake(key, cookie); fail != nil {
		return Session{}, fail
	}

	// With the channel verified, the same key encrypts the credential
	// payload for the final submission.
	payload := fmt.Sprintf(
		"f=alllogin&art=all&sid=&ikey=%s&user=%s&passw=%s",
		instKey, creds.Username, url.QueryEscape(creds.Password),
	)
	sealed, err := sealAES([]byte(payload), key)
	if err != nil {
		return Session{}, internal(errors.New(err, "cannot encrypt credentials"))
	}

	resp, fail = c.Request("POST", legacyAjaxURL, cookie, "crypt="+url.QueryEscape(sealed))
	if fail != nil {
		return Session{}, fail
	}
	Discard(resp)

	finalSid := SetCookies(resp.Header.Values("Set-Cookie"))["sid"]
	if finalSid == "" || !SidExp.MatchString(finalSid) {
		return Session{}, AuthFail(nil)
	}
	return Session{Token: finalSid}, nil
}

// handshake wraps the symmetric key with the portal's RSA key, submits it,
// and verifies the returned challenge. A challenge that does not decrypt
// back to the key proves a wrong key or a broken channel; the handshake
// fails closed rather than proceed to credential submission.
func (c *Client) handshake(key, cookie string) *Failure {
	wrapped, err := wrapKey(key)
	if err != nil {
		return internal(err)
	}

	link := fmt.Sprintf(handshakeURL, rand.Intn(2000))
	resp, fail := c.Request("POST", link, cookie, "key="+url.QueryEscape(wrapped))
	if fail != nil {
		return fail
	}
	defer resp.Body.Close()

	var reply struct {
		Challenge string `json:"challenge"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil || reply.Challenge == "" {
		return Protocol(errors.New(err, "handshake returned no challenge"))
	}

	return verifyChallenge(reply.Challenge, key)
}

func verifyChallenge(challenge, key string) *Failure {
	plain, err := openAES(challenge, key)
	if err != nil {
		return Protocol(errors.New(err, "cannot decrypt handshake challenge"))
	}
	if string(plain) != key {
		return Protocol(errors.New(nil, "handshake keys do not match"))
	}
	return nil
}
