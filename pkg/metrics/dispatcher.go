package metrics

import "time"

// DispatcherMetrics provides observability for the connection dispatcher and
// the per-connection handler.
//
// This interface is optional - if not provided to the dispatcher, a no-op
// implementation is used.
type DispatcherMetrics interface {
	// RecordConnectionAccepted increments the accepted connections counter.
	//
	// Parameters:
	//   - transport: "plain" or "tls"
	RecordConnectionAccepted(transport string)

	// RecordConnectionClosed increments the closed connections counter.
	RecordConnectionClosed()

	// RecordConnectionForceClosed counts connections closed by the shutdown
	// timeout rather than by their handler.
	RecordConnectionForceClosed()

	// SetActiveConnections updates the current connection count.
	SetActiveConnections(count int32)

	// RecordAcceptError counts failed accept calls.
	RecordAcceptError()

	// RecordHandshakeFailure counts TLS handshakes that failed.
	RecordHandshakeFailure()

	// RecordRequest records a request that produced a response.
	//
	// Parameters:
	//   - route: classified route name (e.g. "homepage", "login")
	//   - status: HTTP status code written
	//   - duration: time from read to flush
	RecordRequest(route string, status int, duration time.Duration)

	// RecordDropped records a request that was closed without a response.
	//
	// Parameters:
	//   - route: classified route name, or "unknown" if the read failed
	//   - reason: short cause, e.g. "read", "asset", "payload", "write"
	RecordDropped(route string, reason string)
}

// NewNoopDispatcherMetrics returns a DispatcherMetrics that records nothing.
func NewNoopDispatcherMetrics() DispatcherMetrics {
	return noopDispatcherMetrics{}
}

type noopDispatcherMetrics struct{}

func (noopDispatcherMetrics) RecordConnectionAccepted(string)          {}
func (noopDispatcherMetrics) RecordConnectionClosed()                  {}
func (noopDispatcherMetrics) RecordConnectionForceClosed()             {}
func (noopDispatcherMetrics) SetActiveConnections(int32)               {}
func (noopDispatcherMetrics) RecordAcceptError()                       {}
func (noopDispatcherMetrics) RecordHandshakeFailure()                  {}
func (noopDispatcherMetrics) RecordRequest(string, int, time.Duration) {}
func (noopDispatcherMetrics) RecordDropped(string, string)             {}
