package suite

import "time"

// Outcome is the judged result of one test case.
type Outcome string

const (
	OutcomePassed Outcome = "passed"
	OutcomeFailed Outcome = "failed"
	// OutcomeNotImplemented marks a probe of an optional node surface
	// that the node does not expose. These are reported separately and
	// excluded from the pass rate; they are neither success nor failure.
	OutcomeNotImplemented Outcome = "not_implemented"
)

// Result is the record of one case execution. Duration covers the case
// body including its error path.
type Result struct {
	Name      string        `json:"name"`
	Outcome   Outcome       `json:"outcome"`
	Detail    string        `json:"detail,omitempty"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}
