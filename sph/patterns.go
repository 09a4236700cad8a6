// Package sph emulates the browser-level authentication conversations of the
// Schulportal Hessen, which has no official API. Each login variant is a
// sequence of HTTP exchanges across several portal hosts; cookies are passed
// explicitly between steps and redirects are never followed by the transport,
// since protocol correctness depends on the exact intermediate URLs and
// status codes.
package sph

import "regexp"

// Every token accepted from upstream or from a caller is matched against one
// of these before it is forwarded anywhere else.
var (
	// SPH-Session and SPH-AutoLogin cookie values.
	SessionExp = regexp.MustCompile(`^[a-f0-9]{64}$`)
	// The sid cookie issued by start.schulportal.hessen.de.
	SidExp = regexp.MustCompile(`^[a-z0-9]{26}$`)
	// Generic hexadecimal value.
	HexExp = regexp.MustCompile(`^[a-f0-9]+$`)
	// The AES key string used by the legacy login handshake.
	KeyStringExp = regexp.MustCompile(`^[A-Za-z0-9/\+=]{88}$`)
)

var (
	embeddedTokenExp = regexp.MustCompile(`(?i)<input type="hidden" name="token" value="([a-f0-9]{64})"(?: /)?>`)
	locktimeExp      = regexp.MustCompile(`(?i)<span id="authErrorLocktime">([0-9]{1,2})</span>`)
	instKeyExp       = regexp.MustCompile(`(?i)<input type="hidden" name="ikey" value="([0-9a-f]{32})">`)
	// Matches the bridge redirect issued for sessions that still need to
	// complete the primary login.
	loginKeyExp = regexp.MustCompile(`^https://start\.schulportal\.hessen\.de/schulportallogin\.php\?k=[a-f0-9]{96}$`)
)
