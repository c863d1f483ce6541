package tracing

// SpanStatus is the outcome of the work a span measured.
type SpanStatus string

const (
	StatusOK                 SpanStatus = "ok"
	StatusCancelled          SpanStatus = "cancelled"
	StatusUnknown            SpanStatus = "unknown_error"
	StatusInvalidArgument    SpanStatus = "invalid_argument"
	StatusDeadlineExceeded   SpanStatus = "deadline_exceeded"
	StatusNotFound           SpanStatus = "not_found"
	StatusAlreadyExists      SpanStatus = "already_exists"
	StatusPermissionDenied   SpanStatus = "permission_denied"
	StatusResourceExhausted  SpanStatus = "resource_exhausted"
	StatusFailedPrecondition SpanStatus = "failed_precondition"
	StatusAborted            SpanStatus = "aborted"
	StatusOutOfRange         SpanStatus = "out_of_range"
	StatusUnimplemented      SpanStatus = "unimplemented"
	StatusInternalError      SpanStatus = "internal_error"
	StatusUnavailable        SpanStatus = "unavailable"
	StatusDataLoss           SpanStatus = "data_loss"
	StatusUnauthenticated    SpanStatus = "unauthenticated"
)

// StatusFromHTTP maps an HTTP response code to a span status.
func StatusFromHTTP(code int) SpanStatus {
	switch {
	case code < 100:
		return StatusUnknown
	case code < 400:
		return StatusOK
	}

	switch code {
	case 400:
		return StatusInvalidArgument
	case 401:
		return StatusUnauthenticated
	case 403:
		return StatusPermissionDenied
	case 404:
		return StatusNotFound
	case 409:
		return StatusAlreadyExists
	case 413:
		return StatusFailedPrecondition
	case 429:
		return StatusResourceExhausted
	case 499:
		return StatusCancelled
	case 500:
		return StatusInternalError
	case 501:
		return StatusUnimplemented
	case 503:
		return StatusUnavailable
	case 504:
		return StatusDeadlineExceeded
	}

	if code < 500 {
		return StatusInvalidArgument
	}
	if code < 600 {
		return StatusInternalError
	}
	return StatusUnknown
}
