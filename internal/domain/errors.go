package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrPullInProgress   = errors.New("pull already in progress")
	ErrUnknownPlatform  = errors.New("unknown platform")
	ErrCredentialAbsent = errors.New("credential not found")
)

type CredentialErrorKind string

const (
	CredentialUnconfigured  CredentialErrorKind = "unconfigured"
	CredentialUnrenewable   CredentialErrorKind = "unrenewable"
	CredentialRefreshFailed CredentialErrorKind = "refresh_failed"
)

// CredentialError is fatal to a pull and requires operator re-authorization.
type CredentialError struct {
	Kind     CredentialErrorKind
	Platform string
	Err      error
}

func (e *CredentialError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("credential %s for %s: %v", e.Kind, e.Platform, e.Err)
	}
	return fmt.Sprintf("credential %s for %s", e.Kind, e.Platform)
}

func (e *CredentialError) Unwrap() error {
	return e.Err
}

type FetchErrorKind string

const (
	FetchRateLimited FetchErrorKind = "rate_limited"
	FetchTransient   FetchErrorKind = "transient"
	FetchFatal       FetchErrorKind = "fatal"
)

// FetchError is the outcome of a failed adapter call.
type FetchError struct {
	Kind       FetchErrorKind
	RetryAfter time.Duration
	Err        error
}

func (e *FetchError) Error() string {
	if e.Kind == FetchRateLimited {
		return fmt.Sprintf("%s (retry after %s): %v", e.Kind, e.RetryAfter, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

func RateLimited(retryAfter time.Duration, err error) *FetchError {
	return &FetchError{Kind: FetchRateLimited, RetryAfter: retryAfter, Err: err}
}

func Transient(err error) *FetchError {
	return &FetchError{Kind: FetchTransient, Err: err}
}

func Fatal(err error) *FetchError {
	return &FetchError{Kind: FetchFatal, Err: err}
}

// FetchErrorKindOf classifies err; anything unclassified counts as fatal.
func FetchErrorKindOf(err error) (FetchErrorKind, time.Duration) {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind, fe.RetryAfter
	}
	return FetchFatal, 0
}
