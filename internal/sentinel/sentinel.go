package sentinel

import "errors"

// Sentinel dependency errors. Dependencies should return these (optionally wrapped)
// so services can translate them into domain errors exactly once.
var (
	ErrNotFound           = errors.New("not found")
	ErrDuplicate          = errors.New("duplicate")
	ErrConflict           = errors.New("conflict")
	ErrPreconditionFailed = errors.New("precondition failed")
	ErrAlreadyClaimed     = errors.New("already claimed")
	ErrInvalidInput       = errors.New("invalid input")
	ErrUnavailable        = errors.New("unavailable")
)
