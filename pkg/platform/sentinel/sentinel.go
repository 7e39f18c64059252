package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores return these (optionally
// wrapped) and services translate them into coded domain errors.
//
//   - ErrNotFound: entity does not exist in store
//   - ErrExpired: token or record has expired
//   - ErrConflict: optimistic transaction lost a race and exhausted retries
//   - ErrInvalidState: entity in wrong state for requested operation
//   - ErrUnavailable: shared store or sink temporarily unreachable
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrExpired      = errors.New("expired")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
)
