package opentosca

import (
	"errors"
	"fmt"
)

var (
	// ErrUnreachable reports a transport-level failure: refused, DNS, timeout or reset.
	ErrUnreachable = errors.New("opentosca server unreachable")
	// ErrInvalidResponse reports a success status with a body that could not be understood.
	ErrInvalidResponse = errors.New("invalid response from opentosca server")
	// ErrFileMissing reports that the local file to upload does not exist.
	ErrFileMissing = errors.New("local csar file missing")
	// ErrInvalidAddress reports a server address that is not an absolute http(s) URL.
	ErrInvalidAddress = errors.New("invalid opentosca server address")
)

// RejectedError is returned when the server answered with an unexpected status.
type RejectedError struct {
	Op         string
	URL        string
	StatusCode int
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("%s %s: opentosca server returned %d", e.Op, e.URL, e.StatusCode)
}

// RejectedStatus returns the remote status code when err is a RejectedError.
func RejectedStatus(err error) (int, bool) {
	var rejected *RejectedError
	if errors.As(err, &rejected) {
		return rejected.StatusCode, true
	}
	return 0, false
}
