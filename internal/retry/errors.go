// Package retry classifies request failures into the taxonomy the harvest
// engine reacts to, and implements the delay schedules and rotation caps
// that the rest of the engine drives off of.
package retry

import (
	"errors"
	"fmt"
	"strings"
)

// ProxyAuthError means the proxy itself refused the connection (407/408, or
// an OS-level error whose text mentions proxy authentication). The caller
// must replace the implicated session bundle.
type ProxyAuthError struct {
	StatusCode int
	Cause      error
}

func (e *ProxyAuthError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("proxy authentication failed: HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("proxy authentication failed: %v", e.Cause)
}

func (e *ProxyAuthError) Unwrap() error { return e.Cause }

// RateLimitError means the JSON payload carried the service's rate-limit
// sentinel ({Code: -11}). The caller must rotate the tour token.
type RateLimitError struct {
	Code int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited: code=%d", e.Code)
}

// TransientTransportError wraps a generic network failure or a non-JSON
// response; the inner retry loop handles it with delay-and-retry.
type TransientTransportError struct {
	Cause error
}

func (e *TransientTransportError) Error() string {
	return fmt.Sprintf("transient transport error: %v", e.Cause)
}

func (e *TransientTransportError) Unwrap() error { return e.Cause }

// FatalProxyError means proxy-rotation attempts were exhausted without a
// working replacement bundle. It is terminal for the current call.
type FatalProxyError struct {
	Attempts int
	Cause    error
}

func (e *FatalProxyError) Error() string {
	return fmt.Sprintf("exhausted %d proxy rotation attempts: %v", e.Attempts, e.Cause)
}

func (e *FatalProxyError) Unwrap() error { return e.Cause }

// ConfigError means the process cannot start at all.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string { return "config error: " + e.Reason }

// proxyAuthText is the fragment transport errors carry when an upstream
// proxy rejects the CONNECT handshake.
const proxyAuthText = "407 Proxy Authentication Required"

// IsProxyAuthShaped reports whether err (or anything in its unwrap chain or
// textual representation) indicates a proxy-authentication failure. It
// fires independently of whether a proxy is configured, since a transparent
// proxy can surface the same signal on a direct connection.
func IsProxyAuthShaped(err error) bool {
	if err == nil {
		return false
	}
	var pae *ProxyAuthError
	if errors.As(err, &pae) {
		return true
	}
	for e := err; e != nil; e = errors.Unwrap(e) {
		if strings.Contains(e.Error(), proxyAuthText) {
			return true
		}
	}
	return strings.Contains(err.Error(), proxyAuthText)
}

// IsRateLimitShaped reports whether err is a RateLimitError.
func IsRateLimitShaped(err error) bool {
	var rle *RateLimitError
	return errors.As(err, &rle)
}
