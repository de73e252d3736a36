package tasks

import "errors"

var (
	// ErrInvalidCredentials means the provider rejected the owner's credentials.
	ErrInvalidCredentials = errors.New("provider credentials are invalid")
	ErrUnknownTaskType    = errors.New("unknown task type")
	ErrUnknownProvider    = errors.New("unknown provider")
	ErrNoHandler          = errors.New("no handler registered for task type")
	ErrUnsupported        = errors.New("provider does not support task type")
)

// OutcomeKind is the closed set of handler results.
type OutcomeKind int

const (
	OutcomeSuccess OutcomeKind = iota
	OutcomeNoOp
	OutcomeFailed
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeNoOp:
		return "noop"
	case OutcomeFailed:
		return "failed"
	}
	return "unknown"
}

// Outcome is what a handler reports back to the dispatcher: done, nothing to do
// (not an error), or failed with a reason that needs attention.
type Outcome struct {
	Kind OutcomeKind
	Err  error
}

func Success() Outcome {
	return Outcome{Kind: OutcomeSuccess}
}

func NoOp() Outcome {
	return Outcome{Kind: OutcomeNoOp}
}

func Failed(err error) Outcome {
	if err == nil {
		err = errors.New("handler failed without a reason")
	}
	return Outcome{Kind: OutcomeFailed, Err: err}
}

func (o Outcome) String() string {
	if o.Kind == OutcomeFailed {
		return "failed: " + o.Err.Error()
	}
	return o.Kind.String()
}
