package helpcenter

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound matches errors for records the remote service does not have
	ErrNotFound = errors.New("record not found")
	// ErrTransient matches failed remote calls that may succeed on a later run
	ErrTransient = errors.New("remote call failed")
)

// NotFoundError is returned for 404 responses and empty user searches
type NotFoundError struct {
	URL string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("missing record for %s", e.URL)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// HTTPError is returned for non-2xx responses other than 404 and for
// transport failures, in which case StatusCode is zero and Err is set
type HTTPError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
	Err        error
}

func (e *HTTPError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s: %v", e.Method, e.URL, e.Err)
	}
	return fmt.Sprintf("%s %s: http %d: %s", e.Method, e.URL, e.StatusCode, e.Body)
}

func (e *HTTPError) Is(target error) bool {
	return target == ErrTransient
}

func (e *HTTPError) Unwrap() error {
	return e.Err
}
