package httpguard

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"

	"github.com/jonwraymond/semian/resilience"
)

// ErrMissingGuard is returned by New without a guard.
var ErrMissingGuard = errors.New("httpguard: guard is required")

// ServerError reports a 5xx response when Config.TrackServerErrors is set.
// It only travels inside the guard; callers receive the response itself.
type ServerError struct {
	Response *http.Response
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("httpguard: server error: %s", e.Response.Status)
}

// DefaultErrors returns the network failures tracked by default:
// timeouts, *net.OpError, *net.DNSError, syscall.Errno, io.EOF,
// io.ErrUnexpectedEOF and context.DeadlineExceeded. *url.Error wrappers
// are unwrapped.
func DefaultErrors() resilience.ErrorSet {
	return resilience.NewErrorSet(
		resilience.Match(isTimeout),
		resilience.As[*net.OpError](),
		resilience.As[*net.DNSError](),
		resilience.As[syscall.Errno](),
		resilience.Is(io.EOF),
		resilience.Is(io.ErrUnexpectedEOF),
		resilience.Is(context.DeadlineExceeded),
		resilience.As[*ServerError](),
	)
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
