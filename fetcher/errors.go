package fetcher

import "fmt"

// UpstreamError reports a failed call to the news endpoint: a transport
// failure, an unreadable body, or an explicit error status from the API.
type UpstreamError struct {
	Keyword    string
	StatusCode int
	Message    string
	Err        error
}

func (e *UpstreamError) Error() string {
	msg := fmt.Sprintf("upstream fetch for %q failed", e.Keyword)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (HTTP %d)", e.StatusCode)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *UpstreamError) Unwrap() error { return e.Err }
