package models

import "errors"

// Sentinel errors for common failure conditions
var (
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("resource already exists")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrBadRequest     = errors.New("bad request")
	ErrInternalServer = errors.New("internal server error")

	// Login pipeline rejections. These are expected outcomes of the
	// decision pipeline, not infrastructure failures.
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrCaptchaInvalid     = errors.New("captcha validation failed")
	ErrIPBlocked          = errors.New("ip address is blocked")
	ErrAccountLocked      = errors.New("account is temporarily locked")
	ErrAccountInactive    = errors.New("account is inactive")
)
