package provision

import (
	"errors"
	"fmt"
)

// Kind classifies a provisioning failure.
type Kind string

const (
	KindNameCollision          Kind = "NameCollision"
	KindStoreCreationFailed    Kind = "StoreCreationFailed"
	KindScriptExecutionFailed  Kind = "ScriptExecutionFailed"
	KindSeedFailed             Kind = "SeedFailed"
	KindBroadcastFailed        Kind = "BroadcastFailed"
	KindNotificationFailed     Kind = "NotificationFailed"
	KindRollbackPartialFailure Kind = "RollbackPartialFailure"
)

// Error is the error type returned by provisioning stages.
type Error struct {
	Kind   Kind
	Store  string // store name, when known
	Script string // change-script id, for script failures
	Err    error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Store != "" {
		msg += fmt.Sprintf(" (store %s)", e.Store)
	}
	if e.Script != "" {
		msg += fmt.Sprintf(" (script %s)", e.Script)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Wrap returns err wrapped in an *Error of the given kind. A nil err stays nil.
func Wrap(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: err}
}

// IsKind reports whether any error in err's chain is an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var perr *Error
	if !errors.As(err, &perr) {
		return false
	}
	return perr.Kind == kind
}

// KindOf returns the kind of the first *Error in err's chain, or "" if there is none.
func KindOf(err error) Kind {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Kind
	}
	return ""
}
