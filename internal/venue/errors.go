package venue

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
)

// APIError is a response the aggregator accepted and answered with a
// failure, either at the HTTP layer or in the envelope code.
type APIError struct {
	HTTPStatus int
	Code       string
	Msg        string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("venue API error: status=%d code=%s msg=%s", e.HTTPStatus, e.Code, e.Msg)
}

// IsRetryable reports whether err may be retried without risking a
// duplicate execution: rate limiting, or a transport failure where no
// response was received so the venue cannot have acted on the request.
func IsRetryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatus == http.StatusTooManyRequests
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		if urlErr.Timeout() {
			return true
		}
		var netErr net.Error
		if errors.As(urlErr.Err, &netErr) && netErr.Timeout() {
			return true
		}
	}
	return false
}
