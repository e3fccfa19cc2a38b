package core

import (
	"context"
	"net/http"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

// CredentialPersistence is the opaque storage collaborator. Implementations
// must return ErrCredentialNotFound (wrapped or not) when no row matches.
type CredentialPersistence interface {
	LoadCredential(ctx context.Context, key CredentialKey) (Credential, error)
	StoreCredential(ctx context.Context, credential Credential) (Credential, error)
	ListCredentials(ctx context.Context, filter CredentialFilter) ([]Credential, error)
}

type CredentialFilter struct {
	UserID        int64
	MarketplaceID string
	ActiveOnly    bool
}

// SecretSource supplies the state-token signing secret. Implementations must
// never log or echo the secret.
type SecretSource interface {
	SigningSecret(ctx context.Context) (string, error)
}

type StaticSecretSource string

func (s StaticSecretSource) SigningSecret(context.Context) (string, error) {
	return string(s), nil
}

// Signer computes protocol-correct authentication headers for an outbound
// marketplace request.
type Signer interface {
	Sign(ctx context.Context, req *http.Request, cred Credential) error
}

// CredentialUpdateObserver is notified after a successful token refresh so
// already-constructed marketplace clients pick up new tokens without
// re-querying the vault.
type CredentialUpdateObserver func(cred Credential)

// TokenGrant is the parsed response of a refresh-token grant.
type TokenGrant struct {
	AccessToken      string
	RefreshToken     string
	ExpiresIn        int
	RefreshExpiresIn int
}

// TokenEndpointCaller performs the marketplace token-endpoint exchange. The
// refresh coordinator owns locking and persistence around it.
type TokenEndpointCaller interface {
	RefreshGrant(ctx context.Context, cfg MarketplaceConfig, cred Credential) (TokenGrant, error)
}

// RefreshExecutor wraps the single token-endpoint call in the caller's
// resilience policy. The default executor runs the operation directly.
type RefreshExecutor interface {
	Execute(ctx context.Context, marketplaceID string, op func(context.Context) error) error
}

// HTTPStatusError carries an upstream HTTP status for retry classification.
type HTTPStatusError struct {
	StatusCode int
	Message    string
	RetryAfter time.Duration
}

func (e *HTTPStatusError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider
