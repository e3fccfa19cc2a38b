package core

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"strconv"
	"strings"
	"testing"
	"time"
)

func newTestIssuer(secret string, now time.Time) *StateTokenIssuer {
	issuer := NewStateTokenIssuer(StaticSecretSource(secret), 10*time.Minute)
	issuer.Now = func() time.Time { return now }
	return issuer
}

func TestStateTokenRoundTrip(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	issuer := newTestIssuer("unit-test-signing-secret", now)

	token, err := issuer.Sign(context.Background(), 42, MarketplaceEbay)
	if err != nil {
		t.Fatalf("sign state token: %v", err)
	}
	if strings.ContainsAny(token, " +/=") {
		t.Fatalf("expected url-safe token, got %q", token)
	}

	result := issuer.Verify(context.Background(), token, MarketplaceEbay)
	if !result.OK {
		t.Fatalf("expected valid token, got reason %q", result.Reason)
	}
	if result.UserID != 42 || result.MarketplaceID != MarketplaceEbay {
		t.Fatalf("unexpected identity: %d / %q", result.UserID, result.MarketplaceID)
	}
}

func TestStateTokenRejectsTamperedPayload(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	issuer := newTestIssuer("unit-test-signing-secret", now)

	token, err := issuer.Sign(context.Background(), 42, MarketplaceEbay)
	if err != nil {
		t.Fatalf("sign state token: %v", err)
	}

	parts := strings.SplitN(token, ".", 2)
	forged := base64.RawURLEncoding.EncodeToString(
		[]byte("99|" + MarketplaceEbay + "|" + strconv.FormatInt(now.Unix(), 10)),
	)
	result := issuer.Verify(context.Background(), forged+"."+parts[1], MarketplaceEbay)
	if result.OK {
		t.Fatalf("expected tampered payload to fail")
	}
	if result.Reason != VerifyReasonInvalidSignature {
		t.Fatalf("expected invalid_signature, got %q", result.Reason)
	}
}

func TestStateTokenRejectsFlippedSignatureBit(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	issuer := newTestIssuer("unit-test-signing-secret", now)

	token, err := issuer.Sign(context.Background(), 42, MarketplaceEbay)
	if err != nil {
		t.Fatalf("sign state token: %v", err)
	}
	parts := strings.SplitN(token, ".", 2)
	sig, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		t.Fatalf("decode signature: %v", err)
	}
	sig[0] ^= 0x01
	flipped := parts[0] + "." + base64.RawURLEncoding.EncodeToString(sig)

	result := issuer.Verify(context.Background(), flipped, MarketplaceEbay)
	if result.OK || result.Reason != VerifyReasonInvalidSignature {
		t.Fatalf("expected invalid_signature, got ok=%v reason=%q", result.OK, result.Reason)
	}
}

func TestStateTokenExpiryBoundary(t *testing.T) {
	issued := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	issuer := newTestIssuer("unit-test-signing-secret", issued)

	token, err := issuer.Sign(context.Background(), 42, MarketplaceEbay)
	if err != nil {
		t.Fatalf("sign state token: %v", err)
	}

	issuer.Now = func() time.Time { return issued.Add(10 * time.Minute) }
	if result := issuer.Verify(context.Background(), token, MarketplaceEbay); !result.OK {
		t.Fatalf("expected token valid at exact ttl, got reason %q", result.Reason)
	}

	issuer.Now = func() time.Time { return issued.Add(10*time.Minute + time.Second) }
	result := issuer.Verify(context.Background(), token, MarketplaceEbay)
	if result.OK || result.Reason != VerifyReasonExpired {
		t.Fatalf("expected expired, got ok=%v reason=%q", result.OK, result.Reason)
	}
}

func TestStateTokenMarketplaceMismatch(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	issuer := newTestIssuer("unit-test-signing-secret", now)

	token, err := issuer.Sign(context.Background(), 42, MarketplaceEbay)
	if err != nil {
		t.Fatalf("sign state token: %v", err)
	}
	result := issuer.Verify(context.Background(), token, MarketplaceAmazon)
	if result.OK || result.Reason != VerifyReasonInvalidSignature {
		t.Fatalf("expected mismatch rejection, got ok=%v reason=%q", result.OK, result.Reason)
	}
}

func TestStateTokenRejectsPlaceholderSecret(t *testing.T) {
	issuer := newTestIssuer("changeme", time.Now().UTC())

	if _, err := issuer.Sign(context.Background(), 42, MarketplaceEbay); err == nil {
		t.Fatalf("expected placeholder secret to be rejected")
	}
	result := issuer.Verify(context.Background(), "anything", MarketplaceEbay)
	if result.OK || result.Reason != VerifyReasonMissingSecret {
		t.Fatalf("expected missing_secret, got ok=%v reason=%q", result.OK, result.Reason)
	}
}

func TestStateTokenInvalidFormats(t *testing.T) {
	issuer := newTestIssuer("unit-test-signing-secret", time.Now().UTC())

	for _, token := range []string{"", "no-dot-here", "a.b.c", "!!!.###"} {
		result := issuer.Verify(context.Background(), token, MarketplaceEbay)
		if result.OK {
			t.Fatalf("expected %q to be rejected", token)
		}
	}
}

func legacyStateToken(secret string, fields []string) string {
	signed := strings.Join(fields, "|")
	signature := hex.EncodeToString(hmacSHA256([]byte(secret), signed))
	return signed + "|" + signature
}

func TestStateTokenLegacyMercadoLibre(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	issuer := newTestIssuer("unit-test-signing-secret", now)

	redirect := base64.RawURLEncoding.EncodeToString([]byte("https://app.example.com/callback"))
	fields := []string{
		"42",
		MarketplaceMercadoLibre,
		strconv.FormatInt(now.Unix(), 10),
		"nonce-1",
		redirect,
		"production",
	}
	token := legacyStateToken("unit-test-signing-secret", fields)

	result := issuer.Verify(context.Background(), token, MarketplaceMercadoLibre)
	if !result.OK {
		t.Fatalf("expected legacy 7-field token to verify, got reason %q", result.Reason)
	}
	if result.UserID != 42 {
		t.Fatalf("expected user 42, got %d", result.UserID)
	}
}

func TestStateTokenLegacyMercadoLibreExpiry(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	issuer := newTestIssuer("unit-test-signing-secret", now)

	redirect := base64.RawURLEncoding.EncodeToString([]byte("https://app.example.com/callback"))
	expired := []string{
		"42",
		MarketplaceMercadoLibre,
		strconv.FormatInt(now.Add(-time.Hour).Unix(), 10),
		"nonce-1",
		redirect,
		"production",
		strconv.FormatInt(now.Add(-time.Minute).Unix(), 10),
	}
	token := legacyStateToken("unit-test-signing-secret", expired)

	result := issuer.Verify(context.Background(), token, MarketplaceMercadoLibre)
	if result.OK || result.Reason != VerifyReasonExpired {
		t.Fatalf("expected expired legacy token, got ok=%v reason=%q", result.OK, result.Reason)
	}
}

func TestStateTokenLegacyRejectsForgedSignature(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	issuer := newTestIssuer("unit-test-signing-secret", now)

	redirect := base64.RawURLEncoding.EncodeToString([]byte("https://app.example.com/callback"))
	fields := []string{
		"42",
		MarketplaceMercadoLibre,
		strconv.FormatInt(now.Unix(), 10),
		"nonce-1",
		redirect,
		"production",
	}
	token := legacyStateToken("wrong-secret", fields)

	result := issuer.Verify(context.Background(), token, MarketplaceMercadoLibre)
	if result.OK || result.Reason != VerifyReasonInvalidSignature {
		t.Fatalf("expected invalid_signature, got ok=%v reason=%q", result.OK, result.Reason)
	}
}
