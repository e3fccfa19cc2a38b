package core

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

// BearerTokenSigner attaches the credential's access token as a standard
// bearer Authorization header, plus an optional marketplace-specific token
// header when the marketplace requires one.
type BearerTokenSigner struct {
	TokenHeader string
}

func (s BearerTokenSigner) Sign(_ context.Context, req *http.Request, cred Credential) error {
	if req == nil {
		return fmt.Errorf("core: http request is required")
	}
	token := strings.TrimSpace(cred.AccessToken)
	if token == "" {
		return fmt.Errorf("core: access token is required for bearer signing")
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if header := strings.TrimSpace(s.TokenHeader); header != "" {
		req.Header.Set(header, token)
	}
	return nil
}

// SignerFor returns the signer matching a marketplace's configured auth kind.
func SignerFor(cfg MarketplaceConfig) Signer {
	switch strings.TrimSpace(strings.ToLower(cfg.AuthKind)) {
	case AuthKindSigV4:
		return AWSSigV4Signer{AccessTokenHeader: cfg.TokenHeader}
	default:
		return BearerTokenSigner{TokenHeader: cfg.TokenHeader}
	}
}
