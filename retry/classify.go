package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-marketauth/core"
)

// ThrottledError signals that a marketplace asked us to back off.
type ThrottledError struct {
	MarketplaceID string
	RetryAfter    time.Duration
}

func (e ThrottledError) Error() string {
	return fmt.Sprintf(
		"retry: marketplace %q throttled for %s",
		strings.TrimSpace(e.MarketplaceID),
		e.RetryAfter,
	)
}

func (e ThrottledError) ToAuthError() *goerrors.Error {
	metadata := map[string]any{
		"marketplace_id": strings.TrimSpace(e.MarketplaceID),
	}
	if e.RetryAfter > 0 {
		metadata["retry_after_ms"] = e.RetryAfter.Milliseconds()
	}
	return goerrors.New(e.Error(), goerrors.CategoryRateLimit).
		WithCode(http.StatusTooManyRequests).
		WithTextCode(core.AuthErrorRateLimited).
		WithMetadata(metadata)
}

// Classification is the invoker's verdict on one failed attempt.
type Classification struct {
	Retryable bool
	// MinDelay is a lower bound for the next delay, taken from upstream
	// throttling hints. Zero means the policy schedule applies unmodified.
	MinDelay time.Duration
}

// Classify decides whether an error is worth another attempt. Auth failures
// and client errors are fatal: retrying them cannot succeed and burns quota.
// Throttling and server-side failures are transient.
func Classify(err error) Classification {
	if err == nil {
		return Classification{}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Classification{}
	}

	var throttled ThrottledError
	if errors.As(err, &throttled) {
		return Classification{Retryable: true, MinDelay: throttled.RetryAfter}
	}

	var statusErr *core.HTTPStatusError
	if errors.As(err, &statusErr) {
		return classifyStatus(statusErr.StatusCode, statusErr.RetryAfter)
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		switch richErr.Category {
		case goerrors.CategoryAuth, goerrors.CategoryAuthz,
			goerrors.CategoryBadInput, goerrors.CategoryValidation,
			goerrors.CategoryNotFound, goerrors.CategoryConflict:
			return Classification{}
		case goerrors.CategoryRateLimit:
			return Classification{Retryable: true}
		case goerrors.CategoryExternal:
			return Classification{Retryable: true}
		}
		if richErr.Code > 0 {
			return classifyStatus(richErr.Code, 0)
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return Classification{Retryable: true}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "invalid_grant"),
		strings.Contains(msg, "unauthorized"),
		strings.Contains(msg, "forbidden"):
		return Classification{}
	case strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "connection reset"),
		strings.Contains(msg, "timeout"),
		strings.Contains(msg, "temporarily unavailable"):
		return Classification{Retryable: true}
	}
	return Classification{}
}

func classifyStatus(statusCode int, retryAfter time.Duration) Classification {
	switch {
	case statusCode == 429:
		return Classification{Retryable: true, MinDelay: retryAfter}
	case statusCode == 408:
		return Classification{Retryable: true}
	case statusCode >= 500:
		return Classification{Retryable: true, MinDelay: retryAfter}
	default:
		return Classification{}
	}
}
