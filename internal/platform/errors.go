package platform

import (
	"fmt"
	"time"
)

// HTTPError is a non-2xx response from a platform API.
type HTTPError struct {
	Platform string
	Status   int
	Body     string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s api: status %d: %s", e.Platform, e.Status, e.Body)
}

func (e *HTTPError) StatusCode() int { return e.Status }

// RateLimitError is returned when the platform asks the caller to back off.
type RateLimitError struct {
	Platform   string
	RetryAfter time.Duration
	Global     bool
}

func (e *RateLimitError) Error() string {
	scope := "route"
	if e.Global {
		scope = "global"
	}
	return fmt.Sprintf("%s api: rate limited (%s), retry after %s", e.Platform, scope, e.RetryAfter)
}

func (e *RateLimitError) StatusCode() int { return 429 }

func (e *RateLimitError) RateLimited() bool { return true }
