package api

import (
	"errors"
	"fmt"
)

// Kind outcome class of a failed call.
type Kind int

const (
	KindUnknown Kind = iota
	// AuthExpired no live session; the caller must send the user to login.
	AuthExpired
	// Empty a read endpoint answered 401/404. Never returned by the Client:
	// reads fold it into an empty result.
	Empty
	// RemoteRejected the server answered non-2xx; Message is the server's.
	RemoteRejected
	// NetworkUnavailable no response (connect failure, timeout).
	NetworkUnavailable
	// MalformedCredential a token is present but undecodable.
	MalformedCredential
	// Invalid rejected locally before any request was sent.
	Invalid
)

var kindNames = map[Kind]string{
	KindUnknown:         "unknown",
	AuthExpired:         "auth_expired",
	Empty:               "empty",
	RemoteRejected:      "remote_rejected",
	NetworkUnavailable:  "network_unavailable",
	MalformedCredential: "malformed_credential",
	Invalid:             "invalid",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// User-facing fallbacks.
const (
	MsgNetworkError   = "network error"
	MsgSomethingWrong = "Something went wrong. Please try again."
	MsgSessionExpired = "Your session has expired. Please log in again."
)

// Error carries the Kind and a message fit for display.
type Error struct {
	Kind       Kind
	StatusCode int // 0 when no response was received
	Message    string
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s (%d): %s", e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf KindUnknown when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// MessageOf the display message of err.
func MessageOf(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return MsgSomethingWrong
}

// IsAuth reports whether err should send the user back to login.
func IsAuth(err error) bool {
	k := KindOf(err)
	return k == AuthExpired || k == MalformedCredential
}
