// Package validate checks untrusted request input against declarative
// per-endpoint field schemas. It never panics and never returns an error:
// every outcome is a Result value the caller can map to a response.
package validate

import (
	"fmt"
	"math"
	"net/url"
	"regexp"
	"strconv"

	"git.sr.ht/~kvo/go-std/slices"
)

// Entry declares the constraints for one field. Bounds are optional and
// apply to the string length or the numeric value; Size pins an exact
// length. Pattern and Options apply to strings only.
type Entry struct {
	Type     string
	Required bool
	Min      *int
	Max      *int
	Size     *int
	Pattern  *regexp.Regexp
	Options  []string
}

// Schema maps field names to their declared constraints. Schemas are
// defined once per endpoint and never mutated.
type Schema map[string]Entry

// Int is a shorthand for optional bounds in schema literals.
func Int(n int) *int {
	return &n
}

// Result distinguishes "this many constraints were violated" from "the
// input was not even the right shape", so callers can choose between a
// detailed report and a generic rejection.
type Result struct {
	Invalid    bool              `json:"invalid,omitempty"`
	Violations int               `json:"violations"`
	Fields     map[string]string `json:"fields,omitempty"`
}

// OK reports whether the input passed every declared constraint.
func (r Result) OK() bool {
	return !r.Invalid && r.Violations == 0
}

func (r *Result) violate(field, reason string) {
	r.Violations++
	if r.Fields == nil {
		r.Fields = make(map[string]string)
	}
	r.Fields[field] = reason
}

// Body validates a decoded JSON object. A field that is absent and not
// required is skipped entirely; no defaults are substituted. Numbers come
// out of encoding/json as float64 and must be integral.
func Body(schema Schema, body map[string]any) Result {
	var result Result
	if body == nil {
		result.Invalid = true
		return result
	}

	for field, entry := range schema {
		value, present := body[field]
		if !present || value == nil {
			if entry.Required {
				result.violate(field, "required field is missing")
			}
			continue
		}

		switch entry.Type {
		case "string":
			text, ok := value.(string)
			if !ok {
				result.violate(field, "expected a string")
				continue
			}
			checkString(&result, field, entry, text)
		case "number":
			number, ok := value.(float64)
			if !ok || number != math.Trunc(number) {
				result.violate(field, "expected an integer")
				continue
			}
			checkNumber(&result, field, entry, int(number))
		case "boolean":
			if _, ok := value.(bool); !ok {
				result.violate(field, "expected a boolean")
			}
		default:
			result.violate(field, "unknown declared type")
		}
	}

	return result
}

// Query validates URL query parameters against the same schema shape.
// Query parameters are always text, so numeric fields are coerced before
// their range checks.
func Query(schema Schema, query url.Values) Result {
	var result Result

	for field, entry := range schema {
		if !query.Has(field) {
			if entry.Required {
				result.violate(field, "required parameter is missing")
			}
			continue
		}
		value := query.Get(field)

		switch entry.Type {
		case "number":
			number, err := strconv.Atoi(value)
			if err != nil {
				result.violate(field, "expected an integer")
				continue
			}
			checkNumber(&result, field, entry, number)
		default:
			checkString(&result, field, entry, value)
		}
	}

	return result
}

func checkString(result *Result, field string, entry Entry, value string) {
	if value == "" {
		result.violate(field, "must not be empty")
		return
	}
	if entry.Min != nil && len(value) < *entry.Min {
		result.violate(field, fmt.Sprintf("shorter than %d characters", *entry.Min))
	}
	if entry.Max != nil && len(value) > *entry.Max {
		result.violate(field, fmt.Sprintf("longer than %d characters", *entry.Max))
	}
	if entry.Size != nil && len(value) != *entry.Size {
		result.violate(field, fmt.Sprintf("must be exactly %d characters", *entry.Size))
	}
	if entry.Pattern != nil && !entry.Pattern.MatchString(value) {
		result.violate(field, "does not match the expected pattern")
	}
	if entry.Options != nil && !slices.Has(entry.Options, value) {
		result.violate(field, "not one of the allowed values")
	}
}

func checkNumber(result *Result, field string, entry Entry, value int) {
	if entry.Min != nil && value < *entry.Min {
		result.violate(field, fmt.Sprintf("below minimum of %d", *entry.Min))
	}
	if entry.Max != nil && value > *entry.Max {
		result.violate(field, fmt.Sprintf("above maximum of %d", *entry.Max))
	}
	if entry.Size != nil && value != *entry.Size {
		result.violate(field, fmt.Sprintf("must be exactly %d", *entry.Size))
	}
}
