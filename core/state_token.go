package core

import (
	"context"
	"crypto/hmac"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const DefaultStateTokenTTL = 10 * time.Minute

// Known placeholder secrets that must never be used for signing. Sign fails
// fast instead of silently degrading to a guessable secret.
var placeholderSigningSecrets = map[string]struct{}{
	"changeme":         {},
	"change-me":        {},
	"secret":           {},
	"placeholder":      {},
	"your-secret-here": {},
	"dev-secret":       {},
	"test-secret":      {},
}

type VerifyReason string

const (
	VerifyReasonExpired          VerifyReason = "expired"
	VerifyReasonInvalidSignature VerifyReason = "invalid_signature"
	VerifyReasonInvalidFormat    VerifyReason = "invalid_format"
	VerifyReasonParseError       VerifyReason = "parse_error"
	VerifyReasonMissingSecret    VerifyReason = "missing_secret"
)

type VerifyResult struct {
	OK            bool
	UserID        int64
	MarketplaceID string
	Reason        VerifyReason
}

// StateTokenIssuer signs and verifies the time-boxed handshake tokens carried
// through OAuth callbacks. Tokens are stateless: there is no revocation store,
// so replay within the TTL window is an accepted risk given the short TTL.
type StateTokenIssuer struct {
	Secrets SecretSource
	TTL     time.Duration
	Now     func() time.Time
}

func NewStateTokenIssuer(secrets SecretSource, ttl time.Duration) *StateTokenIssuer {
	if ttl <= 0 {
		ttl = DefaultStateTokenTTL
	}
	return &StateTokenIssuer{
		Secrets: secrets,
		TTL:     ttl,
		Now:     func() time.Time { return time.Now().UTC() },
	}
}

// Sign builds a compact URL-safe token binding the user to one marketplace
// callback: base64url(userID|marketplaceID|issuedAtUnix) + "." + base64url(sig).
func (i *StateTokenIssuer) Sign(ctx context.Context, userID int64, marketplaceID string) (string, error) {
	if i == nil {
		return "", fmt.Errorf("core: state token issuer is not configured")
	}
	marketplaceID = strings.TrimSpace(strings.ToLower(marketplaceID))
	if marketplaceID == "" {
		return "", MapError(fmt.Errorf("core: marketplace id is required for state token"))
	}
	if userID <= 0 {
		return "", MapError(fmt.Errorf("core: user id is required for state token"))
	}
	secret, err := i.resolveSecret(ctx)
	if err != nil {
		return "", err
	}

	payload := encodeStatePayload(userID, marketplaceID, i.now().Unix())
	signature := hmacSHA256([]byte(secret), payload)
	return base64.RawURLEncoding.EncodeToString([]byte(payload)) +
		"." +
		base64.RawURLEncoding.EncodeToString(signature), nil
}

// Verify checks format, signature (constant-time), marketplace binding, and
// TTL. For mercadolibre it also accepts the legacy pipe-delimited encoding.
func (i *StateTokenIssuer) Verify(ctx context.Context, token string, marketplaceID string) VerifyResult {
	if i == nil {
		return VerifyResult{Reason: VerifyReasonMissingSecret}
	}
	marketplaceID = strings.TrimSpace(strings.ToLower(marketplaceID))
	secret, err := i.resolveSecret(ctx)
	if err != nil {
		return VerifyResult{Reason: VerifyReasonMissingSecret}
	}

	token = strings.TrimSpace(token)
	if token == "" {
		return VerifyResult{Reason: VerifyReasonInvalidFormat}
	}
	if marketplaceID == MarketplaceMercadoLibre && strings.Contains(token, "|") {
		return i.verifyLegacy(token, marketplaceID, secret)
	}
	return i.verifyCompact(token, marketplaceID, secret)
}

func (i *StateTokenIssuer) verifyCompact(token string, marketplaceID string, secret string) VerifyResult {
	parts := strings.Split(token, ".")
	if len(parts) != 2 {
		return VerifyResult{Reason: VerifyReasonInvalidFormat}
	}
	payloadRaw, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return VerifyResult{Reason: VerifyReasonInvalidFormat}
	}
	signature, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return VerifyResult{Reason: VerifyReasonInvalidFormat}
	}

	userID, tokenMarketplace, issuedAt, parseErr := decodeStatePayload(string(payloadRaw))
	if parseErr != nil {
		return VerifyResult{Reason: VerifyReasonParseError}
	}

	expected := hmacSHA256([]byte(secret), string(payloadRaw))
	if !hmac.Equal(signature, expected) {
		return VerifyResult{Reason: VerifyReasonInvalidSignature}
	}
	if tokenMarketplace != marketplaceID {
		return VerifyResult{Reason: VerifyReasonInvalidSignature}
	}
	if i.now().After(issuedAt.Add(i.ttl())) {
		return VerifyResult{Reason: VerifyReasonExpired}
	}
	return VerifyResult{OK: true, UserID: userID, MarketplaceID: tokenMarketplace}
}

// verifyLegacy accepts the pipe-delimited state still produced by the old
// mercadolibre callback: userID|marketplace|timestamp|nonce|b64url(redirect)|
// environment|[expiresAtUnix]|signatureHex. The 7-field form carries no
// expiry and relies on the signature alone.
func (i *StateTokenIssuer) verifyLegacy(token string, marketplaceID string, secret string) VerifyResult {
	fields := strings.Split(token, "|")
	if len(fields) != 7 && len(fields) != 8 {
		return VerifyResult{Reason: VerifyReasonInvalidFormat}
	}

	signedPortion := strings.Join(fields[:len(fields)-1], "|")
	signatureHex := fields[len(fields)-1]
	expected := hex.EncodeToString(hmacSHA256([]byte(secret), signedPortion))
	if !hmac.Equal([]byte(signatureHex), []byte(expected)) {
		return VerifyResult{Reason: VerifyReasonInvalidSignature}
	}

	userID, err := strconv.ParseInt(strings.TrimSpace(fields[0]), 10, 64)
	if err != nil || userID <= 0 {
		return VerifyResult{Reason: VerifyReasonParseError}
	}
	tokenMarketplace := strings.TrimSpace(strings.ToLower(fields[1]))
	if _, err := strconv.ParseInt(strings.TrimSpace(fields[2]), 10, 64); err != nil {
		return VerifyResult{Reason: VerifyReasonParseError}
	}
	if _, err := base64.RawURLEncoding.DecodeString(fields[4]); err != nil {
		return VerifyResult{Reason: VerifyReasonParseError}
	}
	if tokenMarketplace != marketplaceID {
		return VerifyResult{Reason: VerifyReasonInvalidSignature}
	}
	if len(fields) == 8 {
		expiresAt, err := strconv.ParseInt(strings.TrimSpace(fields[6]), 10, 64)
		if err != nil {
			return VerifyResult{Reason: VerifyReasonParseError}
		}
		if i.now().After(time.Unix(expiresAt, 0).UTC()) {
			return VerifyResult{Reason: VerifyReasonExpired}
		}
	}
	return VerifyResult{OK: true, UserID: userID, MarketplaceID: tokenMarketplace}
}

func (i *StateTokenIssuer) resolveSecret(ctx context.Context) (string, error) {
	if i.Secrets == nil {
		return "", MapError(fmt.Errorf("core: state token signing secret is not configured"))
	}
	secret, err := i.Secrets.SigningSecret(ctx)
	if err != nil {
		return "", MapError(fmt.Errorf("core: resolve signing secret: %w", err))
	}
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return "", MapError(fmt.Errorf("core: state token signing secret is not configured"))
	}
	if _, isPlaceholder := placeholderSigningSecrets[strings.ToLower(secret)]; isPlaceholder {
		return "", MapError(fmt.Errorf("core: state token signing secret is a placeholder value"))
	}
	return secret, nil
}

func (i *StateTokenIssuer) ttl() time.Duration {
	if i.TTL <= 0 {
		return DefaultStateTokenTTL
	}
	return i.TTL
}

func (i *StateTokenIssuer) now() time.Time {
	if i.Now != nil {
		return i.Now().UTC()
	}
	return time.Now().UTC()
}

func encodeStatePayload(userID int64, marketplaceID string, issuedAtUnix int64) string {
	return strconv.FormatInt(userID, 10) + "|" +
		marketplaceID + "|" +
		strconv.FormatInt(issuedAtUnix, 10)
}

func decodeStatePayload(payload string) (int64, string, time.Time, error) {
	fields := strings.Split(payload, "|")
	if len(fields) != 3 {
		return 0, "", time.Time{}, fmt.Errorf("core: state payload field count %d", len(fields))
	}
	userID, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil || userID <= 0 {
		return 0, "", time.Time{}, fmt.Errorf("core: state payload user id: %q", fields[0])
	}
	marketplaceID := strings.TrimSpace(strings.ToLower(fields[1]))
	if marketplaceID == "" {
		return 0, "", time.Time{}, fmt.Errorf("core: state payload marketplace is empty")
	}
	issuedAtUnix, err := strconv.ParseInt(fields[2], 10, 64)
	if err != nil {
		return 0, "", time.Time{}, fmt.Errorf("core: state payload timestamp: %q", fields[2])
	}
	return userID, marketplaceID, time.Unix(issuedAtUnix, 0).UTC(), nil
}
