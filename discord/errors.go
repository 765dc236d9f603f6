// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package discord

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// APIError is a REST error response. Callers can use errors.As to
// inspect it:
//
//	var apiErr *APIError
//	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusForbidden { ... }
type APIError struct {
	// Code is Discord's JSON error code (e.g. 50001 Missing Access).
	// Zero for errors without one, including most 429s.
	Code int `json:"code"`

	Message string `json:"message"`

	StatusCode int `json:"-"`

	// RetryAfter is how long a 429 asks the caller to wait.
	RetryAfter time.Duration `json:"-"`

	// Global is set when a 429 applies to the whole bot rather than
	// one route.
	Global bool `json:"global"`
}

func (e *APIError) Error() string {
	if e.StatusCode == http.StatusTooManyRequests {
		return fmt.Sprintf("discord: rate limited (global=%t, retry after %v): %s", e.Global, e.RetryAfter, e.Message)
	}
	return fmt.Sprintf("discord: %d (code %d): %s", e.StatusCode, e.Code, e.Message)
}

// IsRateLimited reports whether err is a 429 APIError.
func IsRateLimited(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests
}

// AuthenticationError means the bot token was rejected. It is fatal:
// retrying with the same token cannot succeed.
type AuthenticationError struct {
	Reason string
	Err    error
}

func (e *AuthenticationError) Error() string {
	return "discord: authentication failed: " + e.Reason
}

func (e *AuthenticationError) Unwrap() error { return e.Err }

// Fatal marks the error as non-retryable for the reconnect supervisor.
func (e *AuthenticationError) Fatal() bool { return true }

// ConfigurationError is a gateway close that no reconnect can fix:
// invalid shard, sharding required, invalid or disallowed intents.
type ConfigurationError struct {
	CloseCode int
	Reason    string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("discord: gateway rejected configuration (close %d): %s", e.CloseCode, e.Reason)
}

func (e *ConfigurationError) Fatal() bool { return true }

var (
	// ErrProtocolMismatch is wrapped by the fatal error returned when
	// the gateway rejects the API version.
	ErrProtocolMismatch = errors.New("discord: gateway rejected API version")

	// ErrZombie ends a session whose heartbeat went unacknowledged.
	ErrZombie = errors.New("discord: heartbeat not acknowledged")

	// ErrReconnectRequested ends a session on gateway op 7.
	ErrReconnectRequested = errors.New("discord: gateway requested reconnect")

	// ErrInvalidSession ends a session the gateway invalidated.
	ErrInvalidSession = errors.New("discord: gateway invalidated the session")

	// ErrSessionClosed is returned by operations on an ended session.
	ErrSessionClosed = errors.New("discord: session closed")
)

type fatalError struct{ err error }

func (e *fatalError) Error() string { return e.err.Error() }
func (e *fatalError) Unwrap() error { return e.err }
func (e *fatalError) Fatal() bool   { return true }

// Gateway close codes.
const (
	closeUnknownError         = 4000
	closeAuthenticationFailed = 4004
	closeInvalidSequence      = 4007
	closeSessionTimedOut      = 4009
	closeInvalidShard         = 4010
	closeShardingRequired     = 4011
	closeInvalidAPIVersion    = 4012
	closeInvalidIntents       = 4013
	closeDisallowedIntents    = 4014
)

// classifyClose maps a websocket close to the error the supervisor
// should see. resumable is false when the gateway session can no
// longer be resumed.
func classifyClose(err error) (classified error, resumable bool) {
	var closeErr *websocket.CloseError
	if !errors.As(err, &closeErr) {
		return err, true
	}
	switch closeErr.Code {
	case closeAuthenticationFailed:
		return &AuthenticationError{Reason: closeErr.Text, Err: err}, false
	case closeInvalidAPIVersion:
		return &fatalError{fmt.Errorf("%w: %s", ErrProtocolMismatch, closeErr.Text)}, false
	case closeInvalidShard, closeShardingRequired, closeInvalidIntents, closeDisallowedIntents:
		return &ConfigurationError{CloseCode: closeErr.Code, Reason: closeErr.Text}, false
	case closeInvalidSequence, closeSessionTimedOut, websocket.CloseNormalClosure, websocket.CloseGoingAway:
		return fmt.Errorf("discord: gateway closed (%d): %w", closeErr.Code, err), false
	default:
		return fmt.Errorf("discord: gateway closed (%d): %w", closeErr.Code, err), true
	}
}
