package network

import (
	"context"
	"errors"
	"net"
	"net/url"

	"projectsync/backend"
)

// Offline reasons reported by ClassifyError
const (
	ReasonDNS         = "DNS resolution failed"
	ReasonRefused     = "Connection refused"
	ReasonTimeout     = "Connection timeout"
	ReasonUnreachable = "Network unreachable"
	ReasonServer      = "Server error"
	ReasonUnknown     = "Unknown error"
)

// ClassifyError names the reason a probe failed
func ClassifyError(err error) string {
	if err == nil {
		return ""
	}
	// more specific checks first; url.Error wraps all of them
	if isDNSError(err) {
		return ReasonDNS
	}
	if isTimeout(err) {
		return ReasonTimeout
	}
	if isConnectionRefused(err) {
		return ReasonRefused
	}
	if isNetworkError(err) {
		return ReasonUnreachable
	}
	var berr *backend.BackendError
	if errors.As(err, &berr) && berr.IsServerError() {
		return ReasonServer
	}
	return ReasonUnknown
}

// IsOfflineError reports whether err means the API could not be reached at all,
// as opposed to the API answering with an error status.
func IsOfflineError(err error) bool {
	if err == nil {
		return false
	}
	return isDNSError(err) || isTimeout(err) || isConnectionRefused(err) || isNetworkError(err)
}

// isNetworkError checks if error is a network-level error
func isNetworkError(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}

// isDNSError checks if error is a DNS resolution error
func isDNSError(err error) bool {
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr)
}

// isConnectionRefused checks if error is connection refused
func isConnectionRefused(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return opErr.Op == "dial"
	}
	return false
}

// isTimeout checks if error is a timeout
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}
