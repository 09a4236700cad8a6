package server

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"

	"main/moodle"
	"main/ratelimit"
	"main/sph"
	"main/validate"
)

// Request schemas, one per endpoint. The school id range is bounded by the
// highest id the portal has ever issued.
const maxSchool = 206568

var loginSchema = validate.Schema{
	"username":  {Type: "string", Required: true, Max: validate.Int(32)},
	"password":  {Type: "string", Required: true, Max: validate.Int(100)},
	"school":    {Type: "number", Required: true, Min: validate.Int(1), Max: validate.Int(maxSchool)},
	"autologin": {Type: "boolean"},
	"legacy":    {Type: "boolean"},
}

var autologinSchema = validate.Schema{
	"autologin": {Type: "string", Required: true, Pattern: sph.SessionExp},
}

var moodleSchema = validate.Schema{
	"session": {Type: "string", Required: true, Size: validate.Int(64), Pattern: sph.HexExp},
	"school":  {Type: "number", Required: true, Min: validate.Int(1), Max: validate.Int(maxSchool)},
}

// requireJSON rejects any request that does not declare a JSON body.
func requireJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mime, _, _ := strings.Cut(r.Header.Get("Content-Type"), ";")
		if strings.TrimSpace(mime) != "application/json" {
			respondError(w, 400, "Expected 'application/json' as 'content-type' header")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requestAddress resolves the inbound client's identity: the first
// X-Forwarded-For entry when running behind a proxy, the socket address
// otherwise. An empty result means the request cannot be attributed.
func requestAddress(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return strings.TrimSpace(r.RemoteAddr)
	}
	return host
}

// prologue runs the shared request gauntlet: body decoding, schema
// validation, then rate limiting, in that order. Rate-limited and invalid
// requests never trigger an upstream call. Returns the decoded body, the
// client address, and whether the handler may proceed.
func prologue(w http.ResponseWriter, r *http.Request, endpoint string, schema validate.Schema) (map[string]any, string, bool) {
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body == nil {
		respondError(w, 400, "Invalid JSON body")
		return nil, "", false
	}

	if result := validate.Body(schema, body); !result.OK() {
		respondError(w, 400, result)
		return nil, "", false
	}

	address := requestAddress(r)
	switch limiter.Admit(endpoint, address) {
	case ratelimit.Rejected:
		respondError(w, 429, nil)
		return nil, "", false
	case ratelimit.Blocked:
		respondError(w, 403, nil)
		return nil, "", false
	}

	return body, address, true
}

type loginResponse struct {
	Error     bool   `json:"error"`
	Token     string `json:"token"`
	Session   string `json:"session,omitempty"`
	Autologin string `json:"autologin,omitempty"`
}

func loginHandler(w http.ResponseWriter, r *http.Request) {
	body, address, ok := prologue(w, r, "/api/login", loginSchema)
	if !ok {
		return
	}

	creds := sph.Credentials{
		Username: body["username"].(string),
		Password: body["password"].(string),
		School:   int(body["school"].(float64)),
	}
	autologin, _ := body["autologin"].(bool)
	legacy, _ := body["legacy"].(bool)

	client := newClient(address)

	var session sph.Session
	var fail *sph.Failure
	if legacy {
		session, fail = client.LegacyLogin(creds)
	} else {
		session, fail = client.Login(creds, autologin)
	}
	if fail != nil {
		respondFailure(w, "/api/login", fail)
		return
	}

	respond(w, 200, loginResponse{
		Token:     session.Token,
		Session:   session.Session,
		Autologin: session.Autologin,
	})
}

type renewResponse struct {
	Error   bool   `json:"error"`
	Session string `json:"session"`
	Token   string `json:"token"`
}

func autologinHandler(w http.ResponseWriter, r *http.Request) {
	body, address, ok := prologue(w, r, "/api/autologin", autologinSchema)
	if !ok {
		return
	}

	session, fail := newClient(address).Renew(body["autologin"].(string))
	if fail != nil {
		respondFailure(w, "/api/autologin", fail)
		return
	}

	respond(w, 200, renewResponse{Session: session.Session, Token: session.Token})
}

type moodleResponse struct {
	Error   bool   `json:"error"`
	Cookie  string `json:"cookie"`
	Session string `json:"session"`
	Paula   string `json:"paula"`
	User    int    `json:"user"`
}

func moodleHandler(w http.ResponseWriter, r *http.Request) {
	body, address, ok := prologue(w, r, "/api/moodle/login", moodleSchema)
	if !ok {
		return
	}

	session := body["session"].(string)
	school := int(body["school"].(float64))

	client := newClient(address)
	if !moodle.Exists(client, school) {
		respondError(w, 404, "Moodle doesn't exist for given school")
		return
	}

	mSession, fail := moodle.Login(client, session, school)
	if fail != nil {
		respondFailure(w, "/api/moodle/login", fail)
		return
	}

	respond(w, 200, moodleResponse{
		Cookie:  mSession.Cookie,
		Session: mSession.SessionKey,
		Paula:   mSession.Bridge,
		User:    mSession.User,
	})
}
