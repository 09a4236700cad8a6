package server

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"main/ratelimit"
)

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

var (
	testSession   = strings.Repeat("ab", 32)
	testAutologin = strings.Repeat("cd", 32)
	testToken     = strings.Repeat("ef", 32)
	testSid       = "abcdefghijklmnopqrstuvwxyz"
	testLoginKey  = strings.Repeat("0f", 48)
)

// setup wires a fresh rate limiter and the canned upstream for one test.
func setup(t *testing.T, rt rtFunc) http.Handler {
	limiter = ratelimit.New(ratelimit.NewMemoryStore())
	limiter.Configure("/api/login", ratelimit.Config{Interval: 15 * time.Second, Allowed: 2})
	limiter.Configure("/api/autologin", ratelimit.Config{Interval: 15 * time.Second, Allowed: 3})
	limiter.Configure("/api/moodle/login", ratelimit.Config{Interval: 15 * time.Second, Allowed: 3})
	upstream = rt
	t.Cleanup(func() { upstream = nil })
	return routes()
}

func request(target, body, client string) *http.Request {
	r := httptest.NewRequest("POST", target, strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	if client != "" {
		r.Header.Set("X-Forwarded-For", client)
	}
	return r
}

func do(t *testing.T, handler http.Handler, r *http.Request) (int, map[string]any) {
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, r)

	var body map[string]any
	if err := json.Unmarshal(recorder.Body.Bytes(), &body); err != nil {
		t.Fatalf("response is not JSON: %v: %q", err, recorder.Body.String())
	}
	return recorder.Code, body
}

// portalUpstream plays a healthy portal for the modern login sequence.
func portalUpstream(t *testing.T) rtFunc {
	tokenPage := `<input type="hidden" name="token" value="` + testToken + `">`
	return func(r *http.Request) (*http.Response, error) {
		switch r.URL.Host {
		case "login.bildung.hessen.de":
			header := http.Header{}
			header.Add("Set-Cookie", "SPH-Session="+testSession+"; secure; HttpOnly")
			return canned(200, header, tokenPage), nil
		case "login.schulportal.hessen.de":
			header := http.Header{}
			header.Add("Set-Cookie", "SPH-AutoLogin="+testAutologin+"; HttpOnly")
			return canned(302, header, ""), nil
		case "connect.schulportal.hessen.de":
			header := http.Header{}
			header.Set("Location", "https://start.schulportal.hessen.de/schulportallogin.php?k="+testLoginKey)
			return canned(302, header, ""), nil
		case "start.schulportal.hessen.de":
			header := http.Header{}
			header.Add("Set-Cookie", "sid="+testSid+"; Path=/")
			return canned(200, header, ""), nil
		}
		t.Fatalf("unexpected upstream host %q", r.URL.Host)
		return nil, nil
	}
}

const loginBody = `{"username":"jane.doe","password":"secret","school":4711,"autologin":true}`

func TestLoginEndpoint(t *testing.T) {
	handler := setup(t, portalUpstream(t))

	status, body := do(t, handler, request("/api/login", loginBody, "198.51.100.1"))
	if status != 200 {
		t.Fatalf("status = %d, want 200: %v", status, body)
	}
	if body["error"] != false {
		t.Errorf("error = %v, want false", body["error"])
	}
	if body["token"] != testSid {
		t.Errorf("token = %v, want %q", body["token"], testSid)
	}
	if body["session"] != testSession {
		t.Errorf("session = %v, want %q", body["session"], testSession)
	}
	if body["autologin"] != testAutologin {
		t.Errorf("autologin = %v, want %q", body["autologin"], testAutologin)
	}
}

func TestLoginEndpointRejectedWithCooldown(t *testing.T) {
	handler := setup(t, func(r *http.Request) (*http.Response, error) {
		header := http.Header{}
		header.Add("Set-Cookie", "i=4711; Path=/")
		return canned(200, header, `<span id="authErrorLocktime">7</span>`), nil
	})

	status, body := do(t, handler, request("/api/login", loginBody, "198.51.100.1"))
	if status != 401 {
		t.Fatalf("status = %d, want 401: %v", status, body)
	}
	if body["error"] != true {
		t.Errorf("error = %v, want true", body["error"])
	}
	if body["error_details"] != "401: Unauthorized" {
		t.Errorf("error_details = %v", body["error_details"])
	}
	if body["cooldown"] != float64(7) {
		t.Errorf("cooldown = %v, want 7", body["cooldown"])
	}
}

func TestLoginEndpointMaintenance(t *testing.T) {
	handler := setup(t, func(r *http.Request) (*http.Response, error) {
		return canned(503, nil, "Wartungsarbeiten"), nil
	})

	status, body := do(t, handler, request("/api/login", loginBody, "198.51.100.1"))
	if status != 503 {
		t.Fatalf("status = %d, want 503: %v", status, body)
	}
	if body["error_details"] != "Wartungsarbeiten" {
		t.Errorf("error_details = %v, want Wartungsarbeiten", body["error_details"])
	}
}

func TestAutologinEndpointExpired(t *testing.T) {
	handler := setup(t, func(r *http.Request) (*http.Response, error) {
		// Login page without an embedded token: the autologin token has
		// expired.
		return canned(200, nil, "<html><form></form></html>"), nil
	})

	body := `{"autologin":"` + testAutologin + `"}`
	status, response := do(t, handler, request("/api/autologin", body, "198.51.100.1"))
	if status != 401 {
		t.Fatalf("status = %d, want 401: %v", status, response)
	}
	if response["error_details"] != "401: Unauthorized" {
		t.Errorf("error_details = %v", response["error_details"])
	}
	if _, present := response["cooldown"]; present {
		t.Error("cooldown present on a plain auth failure")
	}
}

func TestRateLimit(t *testing.T) {
	handler := setup(t, portalUpstream(t))

	for i := 0; i < 2; i++ {
		status, body := do(t, handler, request("/api/login", loginBody, "198.51.100.1"))
		if status != 200 {
			t.Fatalf("request %d: status = %d: %v", i+1, status, body)
		}
	}

	status, body := do(t, handler, request("/api/login", loginBody, "198.51.100.1"))
	if status != 429 {
		t.Fatalf("status = %d, want 429: %v", status, body)
	}
	if body["error_details"] != "429: Too Many Requests" {
		t.Errorf("error_details = %v", body["error_details"])
	}

	// A different client still gets through.
	status, _ = do(t, handler, request("/api/login", loginBody, "198.51.100.2"))
	if status != 200 {
		t.Errorf("other client: status = %d, want 200", status)
	}
}

func TestRateLimitBlocksAnonymous(t *testing.T) {
	handler := setup(t, portalUpstream(t))

	r := request("/api/login", loginBody, "")
	r.RemoteAddr = ""
	status, body := do(t, handler, r)
	if status != 403 {
		t.Fatalf("status = %d, want 403: %v", status, body)
	}
	if body["error_details"] != "403: Forbidden" {
		t.Errorf("error_details = %v", body["error_details"])
	}
}

func TestContentTypeRequired(t *testing.T) {
	handler := setup(t, portalUpstream(t))

	r := httptest.NewRequest("POST", "/api/login", strings.NewReader(loginBody))
	r.Header.Set("X-Forwarded-For", "198.51.100.1")
	status, body := do(t, handler, r)
	if status != 400 {
		t.Fatalf("status = %d, want 400: %v", status, body)
	}
	if body["error_details"] != "Expected 'application/json' as 'content-type' header" {
		t.Errorf("error_details = %v", body["error_details"])
	}
}

func TestInvalidJSONBody(t *testing.T) {
	handler := setup(t, portalUpstream(t))

	status, body := do(t, handler, request("/api/login", "{not json", "198.51.100.1"))
	if status != 400 {
		t.Fatalf("status = %d, want 400: %v", status, body)
	}
	if body["error_details"] != "Invalid JSON body" {
		t.Errorf("error_details = %v", body["error_details"])
	}
}

func TestValidationReport(t *testing.T) {
	handler := setup(t, portalUpstream(t))

	status, body := do(t, handler, request("/api/login", `{"username":"jane.doe"}`, "198.51.100.1"))
	if status != 400 {
		t.Fatalf("status = %d, want 400: %v", status, body)
	}
	details, ok := body["error_details"].(map[string]any)
	if !ok {
		t.Fatalf("error_details = %v, want a validation report", body["error_details"])
	}
	if details["violations"] != float64(2) {
		t.Errorf("violations = %v, want 2", details["violations"])
	}
	fields, _ := details["fields"].(map[string]any)
	if fields["password"] == nil || fields["school"] == nil {
		t.Errorf("fields = %v, want password and school", fields)
	}
}

func TestMoodleEndpointMissingInstance(t *testing.T) {
	handler := setup(t, func(r *http.Request) (*http.Response, error) {
		return canned(404, nil, ""), nil
	})

	body := `{"session":"` + testSession + `","school":4711}`
	status, response := do(t, handler, request("/api/moodle/login", body, "198.51.100.1"))
	if status != 404 {
		t.Fatalf("status = %d, want 404: %v", status, response)
	}
	if response["error_details"] != "Moodle doesn't exist for given school" {
		t.Errorf("error_details = %v", response["error_details"])
	}
}

func TestMoodleEndpoint(t *testing.T) {
	institution := "https://mo4711.schulportal.hessen.de/login/index.php"
	testBridge := "bridgecookievalue"
	handler := setup(t, func(r *http.Request) (*http.Response, error) {
		link := r.URL.String()
		switch {
		case r.URL.Host == "llngproxy01.schulportal.hessen.de" && r.URL.Query().Get("url") != "":
			header := http.Header{}
			header.Set("Location", "https://llngproxy01.schulportal.hessen.de/sso")
			return canned(302, header, ""), nil
		case strings.HasSuffix(link, "/sso"):
			header := http.Header{}
			header.Set("Location", "https://llngproxy01.schulportal.hessen.de/artifact")
			return canned(302, header, ""), nil
		case strings.HasSuffix(link, "/artifact"):
			header := http.Header{}
			header.Set("Location", institution)
			header.Add("Set-Cookie", "mo-prod01="+testBridge+"; Path=/")
			return canned(302, header, ""), nil
		case link == institution && r.Method == "HEAD":
			return canned(200, nil, ""), nil
		case link == institution:
			header := http.Header{}
			header.Set("Location", institution+"?testsession=42")
			header.Add("Set-Cookie", "MoodleSession="+testSid+"; Path=/")
			return canned(303, header, ""), nil
		case strings.HasSuffix(link, "/my/"):
			return canned(200, nil, `<a href="logout.php?sesskey=a1b2c3d4e5">Logout</a>`), nil
		}
		t.Fatalf("unexpected upstream request %s %s", r.Method, link)
		return nil, nil
	})

	body := `{"session":"` + testSession + `","school":4711}`
	status, response := do(t, handler, request("/api/moodle/login", body, "198.51.100.1"))
	if status != 200 {
		t.Fatalf("status = %d, want 200: %v", status, response)
	}
	if response["cookie"] != testSid {
		t.Errorf("cookie = %v, want %q", response["cookie"], testSid)
	}
	if response["session"] != "a1b2c3d4e5" {
		t.Errorf("session = %v, want a1b2c3d4e5", response["session"])
	}
	if response["paula"] != testBridge {
		t.Errorf("paula = %v, want %q", response["paula"], testBridge)
	}
	if response["user"] != float64(42) {
		t.Errorf("user = %v, want 42", response["user"])
	}
}
