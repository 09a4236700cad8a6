package sph

import (
	"fmt"
	"net/http"
)

// FailKind classifies how an orchestration deviated from the expected
// protocol shape. The first deviating step wins; nothing is retried.
type FailKind int

const (
	// FailAuth: credentials or session rejected by the portal.
	FailAuth FailKind = iota + 1
	// FailMaintenance: the portal is unavailable, or responded in a shape
	// that indicates a transient outage. Timeouts land here too.
	FailMaintenance
	// FailProtocol: the portal responded in a shape never observed before,
	// meaning the integration itself needs updating. Logged loudly.
	FailProtocol
	// FailInternal: a local fault, not the portal's.
	FailInternal
)

// Failure is the terminal state of a protocol step that deviated. Detail,
// when set, is safe to show to the caller; Err is for server-side logs only.
type Failure struct {
	Kind     FailKind
	Detail   string
	Cooldown int
	Err      error
}

func (f *Failure) Error() string {
	kind := map[FailKind]string{
		FailAuth:        "auth",
		FailMaintenance: "maintenance",
		FailProtocol:    "protocol",
		FailInternal:    "internal",
	}[f.Kind]
	if f.Err != nil {
		return fmt.Sprintf("%s failure: %v", kind, f.Err)
	}
	if f.Detail != "" {
		return fmt.Sprintf("%s failure: %s", kind, f.Detail)
	}
	return kind + " failure"
}

// Status maps a failure kind to the HTTP status reported to the caller.
func (f *Failure) Status() int {
	switch f.Kind {
	case FailAuth:
		return http.StatusUnauthorized
	case FailMaintenance:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func AuthFail(err error) *Failure {
	return &Failure{Kind: FailAuth, Err: err}
}

func authCooldown(seconds int) *Failure {
	return &Failure{Kind: FailAuth, Cooldown: seconds}
}

func Maintenance(detail string, err error) *Failure {
	return &Failure{Kind: FailMaintenance, Detail: detail, Err: err}
}

func Protocol(err error) *Failure {
	return &Failure{Kind: FailProtocol, Err: err}
}

func internal(err error) *Failure {
	return &Failure{Kind: FailInternal, Err: err}
}
