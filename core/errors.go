package core

import (
	"errors"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	AuthErrorBadInput           = "AUTH_BAD_INPUT"
	AuthErrorConfigInvalid      = "AUTH_CONFIG_INVALID"
	AuthErrorStateInvalid       = "AUTH_STATE_INVALID"
	AuthErrorCredentialNotFound = "AUTH_CREDENTIAL_NOT_FOUND"
	AuthErrorSigningFailed      = "AUTH_SIGNING_FAILED"
	AuthErrorRefreshFailed      = "AUTH_REFRESH_FAILED"
	AuthErrorRateLimited        = "AUTH_RATE_LIMITED"
	AuthErrorInternal           = "AUTH_INTERNAL_ERROR"
)

// MapError folds any error raised inside the subsystem into a go-errors
// envelope with a category, HTTP status, and stable text code.
func MapError(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureAuthErrorEnvelope(richErr)
	}

	if errors.Is(err, ErrCredentialNotFound) {
		return newAuthError(err.Error(), goerrors.CategoryNotFound, AuthErrorCredentialNotFound)
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "signing secret"), strings.Contains(msg, "placeholder"):
		return newAuthError(err.Error(), goerrors.CategoryInternal, AuthErrorConfigInvalid)
	case strings.Contains(msg, "state token"), strings.Contains(msg, "oauth state"):
		return newAuthError(err.Error(), goerrors.CategoryAuth, AuthErrorStateInvalid)
	case strings.Contains(msg, "refresh token"), strings.Contains(msg, "token endpoint"):
		return newAuthError(err.Error(), goerrors.CategoryAuth, AuthErrorRefreshFailed)
	case strings.Contains(msg, "throttl"), strings.Contains(msg, "rate limit"):
		return newAuthError(err.Error(), goerrors.CategoryRateLimit, AuthErrorRateLimited)
	case strings.Contains(msg, "sign"), strings.Contains(msg, "canonical"):
		return newAuthError(err.Error(), goerrors.CategoryOperation, AuthErrorSigningFailed)
	case strings.Contains(msg, "required"), strings.Contains(msg, "invalid"), strings.Contains(msg, "mismatch"):
		return newAuthError(err.Error(), goerrors.CategoryBadInput, AuthErrorBadInput)
	}

	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensureAuthErrorEnvelope(mapped)
}

func newAuthError(message string, category goerrors.Category, textCode string) *goerrors.Error {
	return ensureAuthErrorEnvelope(
		goerrors.New(message, category).
			WithTextCode(textCode),
	)
}

func ensureAuthErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = authHTTPStatus(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultAuthTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultAuthTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return AuthErrorBadInput
	case goerrors.CategoryNotFound:
		return AuthErrorCredentialNotFound
	case goerrors.CategoryAuth, goerrors.CategoryAuthz:
		return AuthErrorStateInvalid
	case goerrors.CategoryRateLimit:
		return AuthErrorRateLimited
	case goerrors.CategoryOperation:
		return AuthErrorSigningFailed
	default:
		return AuthErrorInternal
	}
}

func authHTTPStatus(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryRateLimit:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
