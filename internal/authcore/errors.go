package authcore

import "errors"

// ClientError marks a failure caused by bad input. The detail is safe to show
// to callers verbatim; everything else surfaces as a generic server error.
type ClientError struct {
	Detail string
}

// Error returns the human-readable detail string.
func (clientError *ClientError) Error() string {
	return clientError.Detail
}

// NewClientError wraps a detail string into a ClientError.
func NewClientError(detail string) error {
	return &ClientError{Detail: detail}
}

// AsClientError extracts a ClientError from an error chain.
func AsClientError(err error) (*ClientError, bool) {
	var clientError *ClientError
	if errors.As(err, &clientError) {
		return clientError, true
	}
	return nil, false
}
