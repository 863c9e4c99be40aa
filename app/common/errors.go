// Package common defines the error kinds shared by the ledger packages. Every failure returned by
// store, jobs, apikey and uploads wraps one of the sentinels below, so callers can discriminate
// with errors.Is or KindOf without parsing messages.
package common

import (
	"errors"
)

// base kinds
var (
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("validation failed")
	ErrStorage    = errors.New("storage error")
	ErrIO         = errors.New("io error")
	ErrPermission = errors.New("permission denied")
	ErrLock       = errors.New("failed to acquire store lock")
)

// specific validation and lookup failures
var (
	ErrNotConfigured     = errors.New("api key not configured")
	ErrInvalidKey        = errors.New("invalid api key format, gemini api keys start with 'AI'")
	ErrInvalidType       = errors.New("invalid file type")
	ErrTooLarge          = errors.New("file too large")
	ErrTooManyFiles      = errors.New("too many files")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrInvalidRequest    = errors.New("invalid request")
)

// Kind is a discriminator of failure returned to the command layer
type Kind string

// error kinds
const (
	KindNone       Kind = ""
	KindNotFound   Kind = "not_found"
	KindValidation Kind = "validation"
	KindStorage    Kind = "storage"
	KindIO         Kind = "io"
	KindPermission Kind = "permission"
	KindLock       Kind = "lock"
	KindRateLimit  Kind = "rate_limit" // reported by the bridge only, no error maps to it
	KindUnknown    Kind = "unknown"
)

var kinds = []struct {
	kind Kind
	errs []error
}{
	{KindNotFound, []error{ErrNotFound, ErrNotConfigured}},
	{KindValidation, []error{ErrValidation, ErrInvalidKey, ErrInvalidType, ErrTooLarge, ErrTooManyFiles,
		ErrInvalidTransition, ErrInvalidRequest}},
	{KindPermission, []error{ErrPermission}},
	{KindLock, []error{ErrLock}},
	{KindStorage, []error{ErrStorage}},
	{KindIO, []error{ErrIO}},
}

// KindOf returns the kind of err, KindNone for nil and KindUnknown for errors not produced by the ledger
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	for _, k := range kinds {
		for _, e := range k.errs {
			if errors.Is(err, e) {
				return k.kind
			}
		}
	}
	return KindUnknown
}
