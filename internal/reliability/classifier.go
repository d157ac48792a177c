package reliability

import "errors"

// IsRetryableHTTPStatus classifies retryable HTTP status codes.
func IsRetryableHTTPStatus(code int) bool {
	switch code {
	case 408, 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// Class is the fault class of a failed attempt.
type Class int

const (
	// ClassTransport covers backend errors, timeouts and unparsable responses.
	ClassTransport Class = iota
	// ClassContent covers well-formed output that failed validation.
	ClassContent
	// ClassPermanent stops the run without further attempts.
	ClassPermanent
)

func (c Class) String() string {
	switch c {
	case ClassTransport:
		return "transport"
	case ClassContent:
		return "content"
	case ClassPermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

type classifiedError struct {
	class Class
	err   error
}

func (e *classifiedError) Error() string { return e.err.Error() }
func (e *classifiedError) Unwrap() error { return e.err }

// Transport marks err as a transport fault.
func Transport(err error) error { return classify(ClassTransport, err) }

// Content marks err as a content fault.
func Content(err error) error { return classify(ClassContent, err) }

// Permanent marks err as not worth retrying.
func Permanent(err error) error { return classify(ClassPermanent, err) }

func classify(c Class, err error) error {
	if err == nil {
		return nil
	}
	return &classifiedError{class: c, err: err}
}

// ClassOf returns the class attached to err. Unclassified errors are transport faults.
func ClassOf(err error) Class {
	var ce *classifiedError
	if errors.As(err, &ce) {
		return ce.class
	}
	return ClassTransport
}
