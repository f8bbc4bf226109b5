package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for the trust core. Callers match with errors.Is and
// decide whether to retry, degrade, or abort; the core never downgrades
// silently.
var (
	ErrCanonicalize      = errors.New("canonicalization error")
	ErrSignerUnavailable = errors.New("signer unavailable")
	ErrSignerRejected    = errors.New("signer rejected")
	ErrSignerTimeout     = errors.New("signer timeout")
	ErrTsaUnavailable    = errors.New("tsa unavailable")
	ErrTsaRejected       = errors.New("tsa rejected")
	ErrTsaTimeout        = errors.New("tsa timeout")
	ErrChainConflict     = errors.New("chain conflict")
	ErrChainCorrupt      = errors.New("chain corrupt")
	ErrStoreUnavailable  = errors.New("store unavailable")

	ErrNotFound   = errors.New("resource not found")
	ErrBadRequest = errors.New("bad request")
	ErrConflict   = errors.New("conflict")
	ErrInternal   = errors.New("internal error")
)

// AppError carries an error kind plus context for the HTTP layer.
type AppError struct {
	Err        error             `json:"-"`
	Message    string            `json:"message"`
	Code       string            `json:"code"`
	HTTPStatus int               `json:"-"`
	Details    map[string]string `json:"details,omitempty"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func kind(sentinel error, code string, status int, message string) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    message,
		Code:       code,
		HTTPStatus: status,
	}
}

// Canonicalize reports an unrepresentable input value. These are programmer
// errors and must be rejected before any side effect.
func Canonicalize(message string) *AppError {
	return kind(ErrCanonicalize, "CANONICALIZATION_ERROR", http.StatusBadRequest, message)
}

// SignerUnavailable reports a provider that cannot be reached or is
// misconfigured.
func SignerUnavailable(err error) *AppError {
	return &AppError{
		Err:        fmt.Errorf("%w: %w", ErrSignerUnavailable, err),
		Message:    "signing provider unavailable",
		Code:       "SIGNER_UNAVAILABLE",
		HTTPStatus: http.StatusBadGateway,
	}
}

// SignerRejected reports a provider that ran but refused to sign.
func SignerRejected(message string) *AppError {
	return kind(ErrSignerRejected, "SIGNER_REJECTED", http.StatusUnprocessableEntity, message)
}

// SignerTimeout reports a signing call that exceeded its deadline.
func SignerTimeout(err error) *AppError {
	return &AppError{
		Err:        fmt.Errorf("%w: %w", ErrSignerTimeout, err),
		Message:    "signing provider timed out",
		Code:       "SIGNER_TIMEOUT",
		HTTPStatus: http.StatusGatewayTimeout,
	}
}

// TsaUnavailable reports a timestamp authority that cannot be reached.
func TsaUnavailable(err error) *AppError {
	return &AppError{
		Err:        fmt.Errorf("%w: %w", ErrTsaUnavailable, err),
		Message:    "timestamp authority unavailable",
		Code:       "TSA_UNAVAILABLE",
		HTTPStatus: http.StatusBadGateway,
	}
}

// TsaRejected reports a timestamp authority that returned a failure status
// or an unparseable reply.
func TsaRejected(message string) *AppError {
	return kind(ErrTsaRejected, "TSA_REJECTED", http.StatusUnprocessableEntity, message)
}

// TsaTimeout reports a stamp call that exceeded its deadline.
func TsaTimeout(err error) *AppError {
	return &AppError{
		Err:        fmt.Errorf("%w: %w", ErrTsaTimeout, err),
		Message:    "timestamp authority timed out",
		Code:       "TSA_TIMEOUT",
		HTTPStatus: http.StatusGatewayTimeout,
	}
}

// ChainConflict reports a concurrent append that saw a stale chain head.
func ChainConflict(envelopeID string) *AppError {
	return &AppError{
		Err:        ErrChainConflict,
		Message:    "concurrent append saw a stale chain head",
		Code:       "CHAIN_CONFLICT",
		HTTPStatus: http.StatusConflict,
		Details:    map[string]string{"envelope_id": envelopeID},
	}
}

// ChainCorrupt reports a broken link found during verification.
func ChainCorrupt(envelopeID string, firstBadSeq int64) *AppError {
	return &AppError{
		Err:        ErrChainCorrupt,
		Message:    "audit chain verification found a broken link",
		Code:       "CHAIN_CORRUPT",
		HTTPStatus: http.StatusConflict,
		Details: map[string]string{
			"envelope_id":   envelopeID,
			"first_bad_seq": fmt.Sprintf("%d", firstBadSeq),
		},
	}
}

// StoreUnavailable reports a persistence failure.
func StoreUnavailable(err error) *AppError {
	return &AppError{
		Err:        fmt.Errorf("%w: %w", ErrStoreUnavailable, err),
		Message:    "evidence store unavailable",
		Code:       "STORE_UNAVAILABLE",
		HTTPStatus: http.StatusServiceUnavailable,
	}
}

// NotFound creates a not found error.
func NotFound(resource string, id string) *AppError {
	return &AppError{
		Err:        ErrNotFound,
		Message:    fmt.Sprintf("%s not found", resource),
		Code:       "NOT_FOUND",
		HTTPStatus: http.StatusNotFound,
		Details:    map[string]string{"resource": resource, "id": id},
	}
}

// BadRequest creates a bad request error.
func BadRequest(message string) *AppError {
	return &AppError{
		Err:        ErrBadRequest,
		Message:    message,
		Code:       "BAD_REQUEST",
		HTTPStatus: http.StatusBadRequest,
	}
}

// Internal creates an internal error.
func Internal(err error) *AppError {
	return &AppError{
		Err:        err,
		Message:    "internal server error",
		Code:       "INTERNAL_ERROR",
		HTTPStatus: http.StatusInternalServerError,
	}
}

// Wrap wraps an error with additional context, preserving an existing
// AppError's kind and status.
func Wrap(err error, message string) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return &AppError{
			Err:        appErr,
			Message:    fmt.Sprintf("%s: %s", message, appErr.Message),
			Code:       appErr.Code,
			HTTPStatus: appErr.HTTPStatus,
			Details:    appErr.Details,
		}
	}
	return &AppError{
		Err:        err,
		Message:    message,
		Code:       "INTERNAL_ERROR",
		HTTPStatus: http.StatusInternalServerError,
	}
}

// Is reports whether err matches the target sentinel.
func Is(err, target error) bool { return errors.Is(err, target) }

// As finds the first error in err's chain matching target.
func As(err error, target any) bool { return errors.As(err, target) }
