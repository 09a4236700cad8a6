package sph

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	breakExp      = regexp.MustCompile(`(\r\n|\n|\r)`)
	whitespaceExp = regexp.MustCompile(`\s+`)
)

// CollapseBreaks flattens portal HTML onto a single line so that the token
// patterns can match regardless of how the upstream formatted its markup.
// Runs of three line breaks survive as a paragraph break; everything else
// collapses to a single space.
func CollapseBreaks(text string) string {
	text = breakExp.ReplaceAllString(text, "<1br />")
	text = strings.ReplaceAll(text, "<1br /><1br /><1br />", "<1br /><2br />")
	text = strings.ReplaceAll(text, "<1br /><1br />", "")
	text = strings.ReplaceAll(text, "<1br />", " ")
	text = whitespaceExp.ReplaceAllString(text, " ")
	return strings.ReplaceAll(text, "<2br />", "\n\n")
}

// Each extractor below matches one fixed-format token against collapsed
// HTML and reports absence instead of failing. An absent token means the
// upstream page shape changed (or, for the lockout counter, that the page
// is of the other expected shape), which callers must surface as a
// protocol-level failure rather than retry.

// extractToken returns the one-time 64-hex token embedded in the login page
// as a hidden form input.
func extractToken(html string) (string, bool) {
	match := embeddedTokenExp.FindStringSubmatch(html)
	if match == nil {
		return "", false
	}
	return match[1], true
}

// extractLocktime returns the lockout countdown, in seconds, that the
// portal embeds in a rejected-credentials response.
func extractLocktime(html string) (int, bool) {
	match := locktimeExp.FindStringSubmatch(html)
	if match == nil {
		return 0, false
	}
	seconds, err := strconv.Atoi(match[1])
	if err != nil {
		return 0, false
	}
	return seconds, true
}

// extractInstKey returns the institution key ("ikey") embedded in the
// legacy login page.
func extractInstKey(html string) (string, bool) {
	match := instKeyExp.FindStringSubmatch(html)
	if match == nil {
		return "", false
	}
	return match[1], true
}
