package sph

import (
	"net/url"
	"regexp"
	"strings"
)

// Cookie attributes may or may not be capitalized, and may carry a value
// ("secure=1"), so they are stripped wholesale before splitting.
var cookieAttribExp = regexp.MustCompile(`(?i)(expires|secure|httponly|samesite|domain|path)(=[^;]+)?[,;]?`)

// ParseCookies parses raw Cookie or Set-Cookie header text into a map of
// cookie names to decoded values. Attribute tokens are dropped, as are
// entries without an "=". Malformed input degrades to a partial or empty
// map; no error is ever raised.
func ParseCookies(raw string) map[string]string {
	cookies := make(map[string]string)

	stripped := cookieAttribExp.ReplaceAllString(raw, "")
	for _, pair := range strings.Split(stripped, ";") {
		name, value, found := strings.Cut(pair, "=")
		if !found {
			continue
		}
		name = strings.TrimSpace(name)
		value = strings.TrimSpace(value)
		// PathUnescape rather than QueryUnescape: "+" is a literal plus
		// inside a cookie value.
		if decoded, err := url.PathUnescape(name); err == nil {
			name = decoded
		}
		if decoded, err := url.PathUnescape(value); err == nil {
			value = decoded
		}
		if name == "" {
			continue
		}
		cookies[name] = value
	}

	return cookies
}

// SetCookies joins all Set-Cookie headers of a response and parses them as
// one cookie string, as the attribute stripping makes the join safe.
func SetCookies(headers []string) map[string]string {
	return ParseCookies(strings.Join(headers, "; "))
}
