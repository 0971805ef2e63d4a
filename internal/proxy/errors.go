package proxy

import "errors"

var (
	// ErrStreamNotFound means the opaque stream identifier is unknown.
	ErrStreamNotFound = errors.New("stream not found")

	// ErrSegmentNotFound means the segment token is unknown or expired.
	ErrSegmentNotFound = errors.New("segment not found")

	// ErrUpstreamUnavailable means the origin refused, errored, or returned
	// a failure status.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrUpstreamTimeout means the origin did not answer within the
	// configured bound.
	ErrUpstreamTimeout = errors.New("upstream timeout")
)
