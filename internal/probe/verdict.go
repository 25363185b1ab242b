package probe

// Verdict is the binary outcome of a probe, plus the case where no response
// arrived at all.
type Verdict int

const (
	VerdictSuccess Verdict = iota
	VerdictFailure
	VerdictTransportError
)

func (v Verdict) String() string {
	switch v {
	case VerdictSuccess:
		return "SUCCESS"
	case VerdictFailure:
		return "FAILURE"
	case VerdictTransportError:
		return "TRANSPORT ERROR"
	default:
		return "UNKNOWN"
	}
}

// Classify maps a status code to a verdict. Only [200,300) is a success.
func Classify(statusCode int) Verdict {
	if statusCode >= 200 && statusCode < 300 {
		return VerdictSuccess
	}
	return VerdictFailure
}

// State tracks a probe through Built → Sent → Completed or Failed.
type State int

const (
	StateBuilt State = iota
	StateSent
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateBuilt:
		return "built"
	case StateSent:
		return "sent"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}
