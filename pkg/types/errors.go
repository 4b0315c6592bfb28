package types

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedTopic is returned when a topic is unknown or not enabled for ingest
	ErrUnsupportedTopic = errors.New("unsupported topic")

	// ErrTopicDisabled is returned when a client subscribes to a disabled topic
	ErrTopicDisabled = errors.New("topic disabled")

	// ErrLimitExceeded is the parent of every limit violation
	ErrLimitExceeded = errors.New("limit exceeded")

	// ErrConnectionLimitExceeded is returned when an IP holds too many open connections
	ErrConnectionLimitExceeded = fmt.Errorf("connections per ip: %w", ErrLimitExceeded)

	// ErrSubscriptionLimitExceeded is returned when a connection holds too many topics
	ErrSubscriptionLimitExceeded = fmt.Errorf("subscriptions per client: %w", ErrLimitExceeded)

	// ErrRateLimited is returned when an IP opens connections too quickly
	ErrRateLimited = fmt.Errorf("handshake rate: %w", ErrLimitExceeded)

	// ErrStoreAllocation is the only fatal error: the event store cannot be built
	ErrStoreAllocation = errors.New("event store allocation failed")

	// ErrConnectionClosed is returned for operations on a closed connection
	ErrConnectionClosed = errors.New("connection closed")

	// ErrUnauthorized is returned when a handshake carries no valid identity
	ErrUnauthorized = errors.New("unauthorized")
)

// ErrorCode is the machine-readable error carried in error frames
type ErrorCode string

const (
	CodeUnsupportedTopic ErrorCode = "unsupported_topic"
	CodeTopicDisabled    ErrorCode = "topic_disabled"
	CodeLimitExceeded    ErrorCode = "limit_exceeded"
	CodeBadRequest       ErrorCode = "bad_request"
	CodeInternal         ErrorCode = "internal"
)

// CodeFor maps an error onto the code sent to clients
func CodeFor(err error) ErrorCode {
	switch {
	case errors.Is(err, ErrTopicDisabled):
		return CodeTopicDisabled
	case errors.Is(err, ErrUnsupportedTopic):
		return CodeUnsupportedTopic
	case errors.Is(err, ErrLimitExceeded):
		return CodeLimitExceeded
	default:
		return CodeInternal
	}
}

// PollReason classifies a poll failure
type PollReason string

const (
	PollReasonNetwork PollReason = "network"
	PollReasonStatus  PollReason = "status"
	PollReasonDecode  PollReason = "decode"
	PollReasonSchema  PollReason = "schema"
)

// PollError reports a failed upstream poll. It is never fatal.
type PollError struct {
	Reason     PollReason
	StatusCode int
	Err        error
}

func (e *PollError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("poll failure (%s, HTTP %d): %v", e.Reason, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("poll failure (%s): %v", e.Reason, e.Err)
}

func (e *PollError) Unwrap() error {
	return e.Err
}
