package core

import (
	"context"
	"net/http"
	"testing"
)

func TestBearerTokenSigner(t *testing.T) {
	req, err := http.NewRequest(http.MethodGet, "https://api.ebay.com/sell/inventory/v1/inventory_item", nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	signer := BearerTokenSigner{}
	if err := signer.Sign(context.Background(), req, Credential{AccessToken: "abc"}); err != nil {
		t.Fatalf("sign request: %v", err)
	}
	if got := req.Header.Get("Authorization"); got != "Bearer abc" {
		t.Fatalf("unexpected authorization %q", got)
	}
}

func TestBearerTokenSignerExtraHeader(t *testing.T) {
	req, err := http.NewRequest(http.MethodGet, "https://api.example.com/", nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	signer := BearerTokenSigner{TokenHeader: "x-api-token"}
	if err := signer.Sign(context.Background(), req, Credential{AccessToken: "abc"}); err != nil {
		t.Fatalf("sign request: %v", err)
	}
	if got := req.Header.Get("x-api-token"); got != "abc" {
		t.Fatalf("expected duplicate token header, got %q", got)
	}
}

func TestBearerTokenSignerRequiresToken(t *testing.T) {
	req, err := http.NewRequest(http.MethodGet, "https://api.example.com/", nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if err := (BearerTokenSigner{}).Sign(context.Background(), req, Credential{}); err == nil {
		t.Fatalf("expected missing token error")
	}
}

func TestSignerForDispatch(t *testing.T) {
	if _, ok := SignerFor(MarketplaceConfig{AuthKind: AuthKindSigV4}).(AWSSigV4Signer); !ok {
		t.Fatalf("expected sigv4 signer for aws auth kind")
	}
	if _, ok := SignerFor(MarketplaceConfig{AuthKind: AuthKindOAuth2}).(BearerTokenSigner); !ok {
		t.Fatalf("expected bearer signer for oauth2 auth kind")
	}
	if _, ok := SignerFor(MarketplaceConfig{}).(BearerTokenSigner); !ok {
		t.Fatalf("expected bearer signer by default")
	}
}
