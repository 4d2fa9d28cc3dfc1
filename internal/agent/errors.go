package agent

import (
	"errors"
	"fmt"
)

// ErrNoEndpoint is returned before any network activity when the agent
// endpoint URL has not been configured.
var ErrNoEndpoint = errors.New("agent: endpoint URL is not configured")

// RelayError is a failed relay call. StatusCode and Body are set when the
// upstream responded with a non-2xx status; Err is set when the request never
// produced a response.
type RelayError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *RelayError) Error() string {
	if e.StatusCode != 0 {
		if e.Body != "" {
			return fmt.Sprintf("agent: status %d: %s", e.StatusCode, e.Body)
		}
		return fmt.Sprintf("agent: status %d", e.StatusCode)
	}
	if e.Err != nil {
		return fmt.Sprintf("agent: %v", e.Err)
	}
	return "agent: relay failed"
}

func (e *RelayError) Unwrap() error { return e.Err }
