package domain

import "time"

// Status is the per-(IPO, PAN) resolution state. IN_FLIGHT is persisted
// like any other status so concurrent readers see it.
type Status string

const (
	StatusAllotted    Status = "ALLOTTED"
	StatusNotAllotted Status = "NOT_ALLOTTED"
	StatusNotApplied  Status = "NOT_APPLIED"
	StatusError       Status = "ERROR"
	StatusUnknown     Status = "UNKNOWN"
	StatusInFlight    Status = "IN_FLIGHT"
)

// InFlightStaleness is how long a row may sit IN_FLIGHT before the
// worker that claimed it is presumed dead and the row is re-queued.
const InFlightStaleness = 60 * time.Second

func (s Status) Valid() bool {
	switch s {
	case StatusAllotted, StatusNotAllotted, StatusNotApplied,
		StatusError, StatusUnknown, StatusInFlight:
		return true
	}
	return false
}

// Terminal reports whether the status is an outcome a worker wrote,
// as opposed to the transient in-flight marker.
func (s Status) Terminal() bool {
	return s.Valid() && s != StatusInFlight
}

// TTL is how long a cached row with this status may be served before the
// orchestrator must re-resolve it. Final outcomes keep a long TTL as a
// guard against having cached a result before the registrar's data was
// authoritative; UNKNOWN and ERROR retry much sooner.
func (s Status) TTL() time.Duration {
	switch s {
	case StatusAllotted, StatusNotAllotted, StatusNotApplied:
		return 24 * time.Hour
	case StatusUnknown:
		return 45 * time.Minute
	case StatusError:
		return 15 * time.Minute
	case StatusInFlight:
		return InFlightStaleness
	default:
		return 0
	}
}
