package enrich

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sony/gobreaker"
)

// maxRetryAfter caps server requested pauses.
const maxRetryAfter = 10 * time.Minute

// RemoteError is a failed exchange with the knowledge base query service.
// Err is set for transport failures and unreadable bodies, StatusCode for HTTP errors.
type RemoteError struct {
	StatusCode int
	RetryAfter time.Duration
	Body       string
	Err        error
}

func (e *RemoteError) Error() string {
	var b strings.Builder
	b.WriteString("remote query failed")
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, ": HTTP %d", e.StatusCode)
	}
	if e.Err != nil {
		b.WriteString(": " + e.Err.Error())
	}
	if e.Body != "" {
		b.WriteString(": " + e.Body)
	}
	return b.String()
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}

// Retryable reports whether another attempt may succeed: transport errors,
// timeouts, unreadable bodies, rate limiting and server errors.
func (e *RemoteError) Retryable() bool {
	if e.Err != nil {
		return true
	}
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// IsRetryable reports whether err is a retryable RemoteError.
func IsRetryable(err error) bool {
	var re *RemoteError
	return errors.As(err, &re) && re.Retryable()
}

// IsCircuitOpen reports whether err is a call the circuit breaker refused
// without contacting the service.
func IsCircuitOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

// parseRetryAfter reads a Retry-After header given in seconds or as an HTTP date.
func parseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if seconds, err := strconv.ParseFloat(value, 64); err == nil || errors.Is(err, strconv.ErrRange) {
		if seconds <= 0 || math.IsNaN(seconds) {
			return 0
		}
		if seconds >= maxRetryAfter.Seconds() {
			return maxRetryAfter
		}
		return time.Duration(seconds * float64(time.Second))
	}
	if at, err := http.ParseTime(value); err == nil && at.After(now) {
		return min(at.Sub(now), maxRetryAfter)
	}
	return 0
}

// bodyHead shortens a response body for error messages.
func bodyHead(body []byte) string {
	const max = 400
	s := strings.ReplaceAll(string(body), "\n", " ")
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
