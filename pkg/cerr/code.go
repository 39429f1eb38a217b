package cerr

import "net/http"

type Code int

const (
	OK Code = iota
	Canceled
	Unknown
	InvalidArgument
	NotFound
	AlreadyExists
	FailedPrecondition
	Internal
	Unavailable
)

func (c Code) String() string {
	switch c {
	case OK:
		return "ok"
	case Canceled:
		return "canceled"
	case Unknown:
		return "unknown"
	case InvalidArgument:
		return "invalid_argument"
	case NotFound:
		return "not_found"
	case AlreadyExists:
		return "already_exists"
	case FailedPrecondition:
		return "failed_precondition"
	case Internal:
		return "internal"
	case Unavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

func (c Code) HTTPCode() int {
	switch c {
	case OK:
		return http.StatusOK
	case Canceled:
		return 499
	case InvalidArgument:
		return http.StatusBadRequest
	case NotFound:
		return http.StatusNotFound
	case AlreadyExists:
		return http.StatusConflict
	case FailedPrecondition:
		return http.StatusPreconditionFailed
	case Unavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// serverClass reports whether errors with this code capture a stack trace.
func (c Code) serverClass() bool {
	switch c {
	case Unknown, Internal, Unavailable:
		return true
	default:
		return false
	}
}
