package service

import "github.com/pkg/errors"

var (
	// ErrInvalidArgument marks caller mistakes (bad names, missing fields).
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrClaimFailed is the only error that aborts a whole dispatch batch.
	ErrClaimFailed = errors.New("claim due plans")
	// ErrTokenNotFound covers unknown, consumed and expired webhook test tokens.
	ErrTokenNotFound = errors.New("webhook test token not found or expired")
	// ErrBackendUnavailable is a transport-level failure reaching the render backend.
	ErrBackendUnavailable = errors.New("render backend unavailable")
	// ErrBackendRejected is a non-2xx answer from the render backend.
	ErrBackendRejected = errors.New("render backend rejected request")
)
