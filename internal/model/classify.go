package model

// Class is the classification of a finished job, derived solely from the
// agent's exit status.
type Class string

const (
	ClassSuccess Class = "success"
	ClassWarning Class = "warning"
	ClassError   Class = "error"
	ClassFail    Class = "fail"
)

// Agent exit statuses with defined meanings. Anything else is a hard failure.
const (
	StatusSuccess = 0
	StatusWarning = 4
	StatusError   = 8

	// StatusTimeout is recorded for a job whose agent was killed at the
	// wall-clock limit (128+SIGTERM, what a signal-terminated agent itself
	// reports).
	StatusTimeout = 143

	// StatusInterrupted is reserved for a run cancelled before any job
	// completed. It is never produced by a job.
	StatusInterrupted = 255
)

// Classify maps an exit status to its class. The mapping is total: every
// status outside {0, 4, 8} is a failure.
func Classify(status int) Class {
	switch status {
	case StatusSuccess:
		return ClassSuccess
	case StatusWarning:
		return ClassWarning
	case StatusError:
		return ClassError
	default:
		return ClassFail
	}
}
