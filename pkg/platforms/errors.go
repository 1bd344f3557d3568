package platforms

import (
	"errors"
	"fmt"

	"github.com/doorstep-ai/platform/pkg/common/models"
)

// UnsupportedPlatformError: the caller asked for a platform no adapter
// serves. Maps to 400.
type UnsupportedPlatformError struct {
	Platform string
}

func (e *UnsupportedPlatformError) Error() string {
	return fmt.Sprintf("unsupported platform %q", e.Platform)
}

func IsUnsupportedPlatform(err error) bool {
	var target *UnsupportedPlatformError
	return errors.As(err, &target)
}

// UpstreamAuthError: OAuth exchange or refresh was rejected upstream. The
// user must reconnect; surfaced as "reconnect required", never retried
// blindly.
type UpstreamAuthError struct {
	Platform models.Platform
	Op       string
	Err      error
}

func (e *UpstreamAuthError) Error() string {
	return fmt.Sprintf("%s %s: upstream auth failure: %v", e.Platform, e.Op, e.Err)
}

func (e *UpstreamAuthError) Unwrap() error { return e.Err }

func IsUpstreamAuth(err error) bool {
	var target *UpstreamAuthError
	return errors.As(err, &target)
}

// TokenExpiredError: the refresh token itself is dead. The caller must mark
// the connection expired, not retry.
type TokenExpiredError struct {
	Platform models.Platform
}

func (e *TokenExpiredError) Error() string {
	return fmt.Sprintf("%s: refresh token expired", e.Platform)
}

func IsTokenExpired(err error) bool {
	var target *TokenExpiredError
	return errors.As(err, &target)
}

// PlatformDataError: upstream returned a payload we could not make sense
// of. Callers log it and treat the result as empty; it never aborts an
// aggregate fetch.
type PlatformDataError struct {
	Platform models.Platform
	Reason   string
	Err      error
}

func (e *PlatformDataError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: malformed platform data: %s: %v", e.Platform, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: malformed platform data: %s", e.Platform, e.Reason)
}

func (e *PlatformDataError) Unwrap() error { return e.Err }

func IsPlatformData(err error) bool {
	var target *PlatformDataError
	return errors.As(err, &target)
}

// SignatureInvalidError: webhook signature missing or wrong. Fatal for the
// request (401), never retried.
type SignatureInvalidError struct {
	Platform models.Platform
}

func (e *SignatureInvalidError) Error() string {
	return fmt.Sprintf("%s: invalid webhook signature", e.Platform)
}

func IsSignatureInvalid(err error) bool {
	var target *SignatureInvalidError
	return errors.As(err, &target)
}

// RateLimitedError: request budget exhausted. Maps to 429 with retry-after.
type RateLimitedError struct {
	RetryAfterSeconds int
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry after %ds", e.RetryAfterSeconds)
}

func IsRateLimited(err error) bool {
	var target *RateLimitedError
	return errors.As(err, &target)
}

// ErrCapabilityUnsupported guards OAuth-only and webhook-only operations on
// adapter variants that do not declare the capability.
var ErrCapabilityUnsupported = errors.New("operation not supported by this adapter")
