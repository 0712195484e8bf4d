package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// TransientProviderError is a failure worth retrying: 429, 5xx or a network error.
type TransientProviderError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *TransientProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: transient provider error (status=%d): %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: transient provider error: %v", e.Op, e.Err)
}

func (e *TransientProviderError) Unwrap() error { return e.Err }

// PermanentProviderError is a 4xx other than 429; it is never retried.
type PermanentProviderError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *PermanentProviderError) Error() string {
	return fmt.Sprintf("%s: permanent provider error (status=%d): %s", e.Op, e.StatusCode, e.Body)
}

// ErrDeliveryFailed marks a transient failure that exhausted its retries.
var ErrDeliveryFailed = errors.New("provider: delivery failed")

// IsTransient reports whether err carries a TransientProviderError.
func IsTransient(err error) bool {
	var t *TransientProviderError
	return errors.As(err, &t)
}

// IsPermanent reports whether err carries a PermanentProviderError.
func IsPermanent(err error) bool {
	var p *PermanentProviderError
	return errors.As(err, &p)
}

// Classify maps an HTTP status (or transport error when status is 0) to the taxonomy.
// A nil return means success.
func Classify(op string, status int, body []byte, err error) error {
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return &TransientProviderError{Op: op, Err: err}
	}
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusTooManyRequests, status >= 500 && status <= 599:
		return &TransientProviderError{Op: op, StatusCode: status, Err: fmt.Errorf("%s", truncate(body))}
	default:
		return &PermanentProviderError{Op: op, StatusCode: status, Body: truncate(body)}
	}
}

func truncate(body []byte) string {
	const max = 512
	if len(body) > max {
		return string(body[:max]) + "..."
	}
	return string(body)
}
