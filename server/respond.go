package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"main/logger"
	"main/sph"
)

var defaultErrors = map[int]string{
	400: "Bad Request",
	401: "Unauthorized",
	403: "Forbidden",
	404: "Not Found",
	405: "Method Not Allowed",
	410: "Gone",
	429: "Too Many Requests",
	500: "Internal Server Error",
	503: "Service Not Available",
}

type errorResponse struct {
	Error    bool `json:"error"`
	Details  any  `json:"error_details"`
	Cooldown int  `json:"cooldown,omitempty"`
}

func respond(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Error("server: cannot encode response: %v", err)
	}
}

// respondError writes the error envelope. details defaults to
// "<status>: <reason>" when nil.
func respondError(w http.ResponseWriter, status int, details any) {
	if details == nil {
		details = defaultReason(status)
	}
	respond(w, status, errorResponse{Error: true, Details: details})
}

func defaultReason(status int) string {
	reason, ok := defaultErrors[status]
	if !ok {
		reason = http.StatusText(status)
	}
	return strconv.Itoa(status) + ": " + reason
}

// respondFailure maps an orchestration failure onto the JSON contract.
// Protocol failures are logged loudly: they mean the integration itself
// needs updating. No internal detail ever reaches the caller.
func respondFailure(w http.ResponseWriter, endpoint string, fail *sph.Failure) {
	switch fail.Kind {
	case sph.FailProtocol:
		logger.Error("%s: portal protocol deviation: %v", endpoint, fail)
	case sph.FailInternal:
		logger.Error("%s: %v", endpoint, fail)
	default:
		logger.Debug("%s: %v", endpoint, fail)
	}

	status := fail.Status()
	var details any
	if fail.Detail != "" {
		details = fail.Detail
	} else {
		details = defaultReason(status)
	}
	response := errorResponse{Error: true, Details: details}
	if fail.Kind == sph.FailAuth && fail.Cooldown > 0 {
		response.Cooldown = fail.Cooldown
	}
	respond(w, status, response)
}
