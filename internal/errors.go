package shell

import "errors"

// Sentinel errors for the shellcache domain.
var (
	ErrUnauthorized      = errors.New("unauthorized")
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrBadRequest        = errors.New("bad request")
	ErrInstallFailed     = errors.New("install failed")
	ErrOriginUnreachable = errors.New("origin unreachable")
)
