// Package poolerr defines the error kinds a ledger pool reports.
//
// Per-node failures (Connection, Request) are absorbed by the consensus engine;
// only engine-level outcomes (NoConsensus, Timeout, Cancelled) and startup
// failures (Config) reach pool callers.
package poolerr

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies a pool error.
type Kind int

const (
	KindConfig Kind = iota + 1
	KindConnection
	KindTimeout
	KindNoConsensus
	KindRequest
	KindCancelled
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindConnection:
		return "connection"
	case KindTimeout:
		return "timeout"
	case KindNoConsensus:
		return "no consensus"
	case KindRequest:
		return "request"
	case KindCancelled:
		return "cancelled"
	}
	return "unknown"
}

// Sentinels for errors.Is matching.
var (
	ErrConfig      = &Error{Kind: KindConfig}
	ErrConnection  = &Error{Kind: KindConnection}
	ErrTimeout     = &Error{Kind: KindTimeout}
	ErrNoConsensus = &Error{Kind: KindNoConsensus}
	ErrRequest     = &Error{Kind: KindRequest}
	ErrCancelled   = &Error{Kind: KindCancelled}
)

// Error is a classified pool error.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return fmt.Sprintf("%s error: %s: %v", e.Kind, e.Msg, e.Err)
	case e.Msg != "":
		return fmt.Sprintf("%s error: %s", e.Kind, e.Msg)
	case e.Err != nil:
		return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
	}
	return e.Kind.String() + " error"
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on kind. A timeout is also a failure to reach consensus.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind == e.Kind {
		return true
	}
	return e.Kind == KindTimeout && t.Kind == KindNoConsensus
}

func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, err error, msg string) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

func Config(msg string) *Error      { return New(KindConfig, msg) }
func Request(msg string) *Error     { return New(KindRequest, msg) }
func NoConsensus(msg string) *Error { return New(KindNoConsensus, msg) }

// KindOf returns the kind of the first *Error in err's chain, or 0.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// FromContext classifies the error of a finished context: a passed deadline is a
// timeout, anything else a cancellation.
func FromContext(err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return Wrap(KindTimeout, err, "deadline exceeded")
	}
	return Wrap(KindCancelled, err, "request cancelled")
}
