package llm

import "errors"

// Completion failures fall into two classes: transient faults worth
// retrying (network errors, rate limits, 5xx) and fatal faults every retry
// and fallback endpoint would hit again (bad auth, malformed requests).
type faultClass uint8

const (
	classTransient faultClass = iota + 1
	classFatal
)

type fault struct {
	class faultClass
	err   error
}

func (f *fault) Error() string { return f.err.Error() }
func (f *fault) Unwrap() error { return f.err }

// Transient marks err as retryable.
func Transient(err error) error {
	return &fault{class: classTransient, err: err}
}

// Fatal marks err as non-retryable.
func Fatal(err error) error {
	return &fault{class: classFatal, err: err}
}

func classOf(err error) faultClass {
	var f *fault
	if errors.As(err, &f) {
		return f.class
	}
	return 0
}

// IsTransient reports whether err is marked retryable.
func IsTransient(err error) bool { return classOf(err) == classTransient }

// IsFatal reports whether err is marked non-retryable.
func IsFatal(err error) bool { return classOf(err) == classFatal }
