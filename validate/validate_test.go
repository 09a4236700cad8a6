package validate

import (
	"net/url"
	"regexp"
	"testing"
)

var testSchema = Schema{
	"username": {Type: "string", Required: true, Max: Int(64)},
	"password": {Type: "string", Required: true},
	"school":   {Type: "number", Required: true, Min: Int(1), Max: Int(206568)},
	"legacy":   {Type: "boolean"},
	"token":    {Type: "string", Size: Int(8), Pattern: regexp.MustCompile(`^[a-f0-9]+$`)},
	"mode":     {Type: "string", Options: []string{"all", "none"}},
}

func TestBody(t *testing.T) {
	result := Body(testSchema, map[string]any{
		"username": "jane.doe",
		"password": "secret",
		"school":   float64(4711),
		"legacy":   true,
	})
	if !result.OK() {
		t.Fatalf("valid body rejected: %+v", result)
	}
}

func TestBodyNil(t *testing.T) {
	result := Body(testSchema, nil)
	if !result.Invalid {
		t.Error("nil body not flagged invalid")
	}
	if result.OK() {
		t.Error("nil body passed")
	}
}

func TestBodyViolations(t *testing.T) {
	cases := []struct {
		name  string
		body  map[string]any
		field string
	}{
		{"missing required", map[string]any{"password": "x", "school": float64(1)}, "username"},
		{"null required", map[string]any{"username": nil, "password": "x", "school": float64(1)}, "username"},
		{"wrong type", map[string]any{"username": 7, "password": "x", "school": float64(1)}, "username"},
		{"empty string", map[string]any{"username": "", "password": "x", "school": float64(1)}, "username"},
		{"fractional number", map[string]any{"username": "x", "password": "x", "school": 4711.5}, "school"},
		{"below minimum", map[string]any{"username": "x", "password": "x", "school": float64(0)}, "school"},
		{"above maximum", map[string]any{"username": "x", "password": "x", "school": float64(300000)}, "school"},
		{"wrong size", map[string]any{"username": "x", "password": "x", "school": float64(1), "token": "abc"}, "token"},
		{"pattern mismatch", map[string]any{"username": "x", "password": "x", "school": float64(1), "token": "ZZZZZZZZ"}, "token"},
		{"not an option", map[string]any{"username": "x", "password": "x", "school": float64(1), "mode": "some"}, "mode"},
		{"boolean as string", map[string]any{"username": "x", "password": "x", "school": float64(1), "legacy": "true"}, "legacy"},
	}

	for _, c := range cases {
		result := Body(testSchema, c.body)
		if result.OK() {
			t.Errorf("%s: body passed", c.name)
			continue
		}
		if _, ok := result.Fields[c.field]; !ok {
			t.Errorf("%s: no violation recorded for %q: %+v", c.name, c.field, result)
		}
	}
}

func TestBodyOptionalAbsent(t *testing.T) {
	result := Body(testSchema, map[string]any{
		"username": "jane.doe",
		"password": "secret",
		"school":   float64(1),
	})
	if !result.OK() {
		t.Errorf("absent optional fields rejected: %+v", result)
	}
}

func TestQuery(t *testing.T) {
	query := url.Values{}
	query.Set("username", "jane.doe")
	query.Set("password", "secret")
	query.Set("school", "4711")
	if result := Query(testSchema, query); !result.OK() {
		t.Errorf("valid query rejected: %+v", result)
	}

	query.Set("school", "notanumber")
	result := Query(testSchema, query)
	if result.OK() {
		t.Error("non-numeric school passed")
	}
	if _, ok := result.Fields["school"]; !ok {
		t.Errorf("no violation recorded for school: %+v", result)
	}
}
