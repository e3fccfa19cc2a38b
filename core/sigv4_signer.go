package core

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"
)

const defaultSigV4AccessTokenHeader = "x-amz-access-token"

// AWSSigV4Signer computes the canonical-request / string-to-sign / derived-key
// signature used by the amazon marketplace API. Struct fields override the
// matching keys in the credential's secret material.
type AWSSigV4Signer struct {
	AccessKeyID       string
	SecretAccessKey   string
	SessionToken      string
	Region            string
	Service           string
	UnsignedPayload   bool
	PayloadHashHeader bool
	AccessTokenHeader string
	Now               func() time.Time
}

type sigV4Profile struct {
	AccessKeyID       string
	SecretAccessKey   string
	SessionToken      string
	Region            string
	Service           string
	UnsignedPayload   bool
	PayloadHashHeader bool
	AccessTokenHeader string
	Now               func() time.Time
}

func (s AWSSigV4Signer) Sign(_ context.Context, req *http.Request, cred Credential) error {
	if req == nil {
		return fmt.Errorf("core: http request is required")
	}
	profile, err := s.resolveProfile(cred)
	if err != nil {
		return err
	}
	now := profile.Now().UTC()
	amzDate := now.Format("20060102T150405Z")
	dateStamp := now.Format("20060102")

	req.Header.Del("Authorization")
	req.Header.Set("X-Amz-Date", amzDate)

	payloadHash := "UNSIGNED-PAYLOAD"
	if !profile.UnsignedPayload {
		hash, err := requestBodyHash(req)
		if err != nil {
			return err
		}
		payloadHash = hash
	}
	if profile.PayloadHashHeader {
		req.Header.Set("X-Amz-Content-Sha256", payloadHash)
	}
	if profile.SessionToken != "" {
		req.Header.Set("X-Amz-Security-Token", profile.SessionToken)
	}
	if profile.AccessTokenHeader != "" && strings.TrimSpace(cred.AccessToken) != "" {
		req.Header.Set(profile.AccessTokenHeader, strings.TrimSpace(cred.AccessToken))
	}

	canonicalHeaders, signedHeaders := canonicalHeaderBlock(req.Header, req.URL.Host)
	canonicalRequest := strings.Join([]string{
		strings.ToUpper(strings.TrimSpace(req.Method)),
		canonicalURI(req.URL),
		canonicalQueryString(req.URL.Query()),
		canonicalHeaders,
		signedHeaders,
		payloadHash,
	}, "\n")
	credentialScope := dateStamp + "/" + profile.Region + "/" + profile.Service + "/aws4_request"
	stringToSign := strings.Join([]string{
		"AWS4-HMAC-SHA256",
		amzDate,
		credentialScope,
		sha256Hex([]byte(canonicalRequest)),
	}, "\n")
	signature := sigV4Signature(profile.SecretAccessKey, dateStamp, profile.Region, profile.Service, stringToSign)
	authorization := fmt.Sprintf(
		"AWS4-HMAC-SHA256 Credential=%s/%s, SignedHeaders=%s, Signature=%s",
		profile.AccessKeyID,
		credentialScope,
		signedHeaders,
		signature,
	)
	req.Header.Set("Authorization", authorization)
	return nil
}

func (s AWSSigV4Signer) resolveProfile(cred Credential) (sigV4Profile, error) {
	accessKeyID := firstNonEmpty(s.AccessKeyID, cred.SecretField("aws_access_key_id", "access_key_id"))
	secretAccessKey := firstNonEmpty(s.SecretAccessKey, cred.SecretField("aws_secret_access_key", "secret_access_key"))
	region := firstNonEmpty(s.Region, cred.SecretField("aws_region", "region"))
	service := firstNonEmpty(s.Service, cred.SecretField("aws_service", "service"))
	if region == "" {
		region = "us-east-1"
	}
	if service == "" {
		service = "execute-api"
	}
	if accessKeyID == "" || secretAccessKey == "" {
		return sigV4Profile{}, fmt.Errorf("core: aws sigv4 requires an access key id and secret access key")
	}

	accessTokenHeader := strings.TrimSpace(strings.ToLower(s.AccessTokenHeader))
	if accessTokenHeader == "" && strings.TrimSpace(cred.AccessToken) != "" {
		accessTokenHeader = defaultSigV4AccessTokenHeader
	}
	now := s.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}

	return sigV4Profile{
		AccessKeyID:       accessKeyID,
		SecretAccessKey:   secretAccessKey,
		SessionToken:      firstNonEmpty(s.SessionToken, cred.SecretField("aws_session_token", "session_token")),
		Region:            region,
		Service:           service,
		UnsignedPayload:   s.UnsignedPayload,
		PayloadHashHeader: s.PayloadHashHeader,
		AccessTokenHeader: accessTokenHeader,
		Now:               now,
	}, nil
}

func requestBodyHash(req *http.Request) (string, error) {
	if req.Body == nil {
		return sha256Hex(nil), nil
	}
	payload, err := io.ReadAll(req.Body)
	if err != nil {
		return "", fmt.Errorf("core: read request body for signing: %w", err)
	}
	_ = req.Body.Close()
	req.Body = io.NopCloser(bytes.NewReader(payload))
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(payload)), nil
	}
	return sha256Hex(payload), nil
}

func canonicalURI(requestURL *url.URL) string {
	if requestURL == nil {
		return "/"
	}
	path := requestURL.EscapedPath()
	if path == "" {
		path = "/"
	}
	return path
}

func canonicalHeaderBlock(headers http.Header, host string) (string, string) {
	normalized := map[string]string{
		"host": strings.ToLower(strings.TrimSpace(host)),
	}
	for key, values := range headers {
		lower := strings.ToLower(strings.TrimSpace(key))
		if lower == "" || lower == "authorization" {
			continue
		}
		cleaned := make([]string, 0, len(values))
		for _, value := range values {
			trimmed := strings.TrimSpace(value)
			if trimmed == "" {
				continue
			}
			cleaned = append(cleaned, compressSpaces(trimmed))
		}
		if len(cleaned) == 0 {
			continue
		}
		normalized[lower] = strings.Join(cleaned, ",")
	}

	keys := make([]string, 0, len(normalized))
	for key := range normalized {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, key := range keys {
		b.WriteString(key)
		b.WriteString(":")
		b.WriteString(normalized[key])
		b.WriteByte('\n')
	}
	return b.String(), strings.Join(keys, ";")
}

func canonicalQueryString(query url.Values) string {
	if len(query) == 0 {
		return ""
	}
	type entry struct {
		key   string
		value string
	}
	values := make([]entry, 0, len(query))
	for key, list := range query {
		encodedKey := sigV4QueryEscape(key)
		if len(list) == 0 {
			values = append(values, entry{key: encodedKey})
			continue
		}
		for _, value := range list {
			values = append(values, entry{
				key:   encodedKey,
				value: sigV4QueryEscape(value),
			})
		}
	}
	sort.Slice(values, func(i, j int) bool {
		if values[i].key == values[j].key {
			return values[i].value < values[j].value
		}
		return values[i].key < values[j].key
	})

	pairs := make([]string, 0, len(values))
	for _, value := range values {
		pairs = append(pairs, value.key+"="+value.value)
	}
	return strings.Join(pairs, "&")
}

// sigV4QueryEscape applies RFC3986 percent-encoding: '+' never stands for a
// space, '*' is reserved, '~' is not.
func sigV4QueryEscape(value string) string {
	escaped := url.QueryEscape(value)
	escaped = strings.ReplaceAll(escaped, "+", "%20")
	escaped = strings.ReplaceAll(escaped, "*", "%2A")
	escaped = strings.ReplaceAll(escaped, "%7E", "~")
	return escaped
}

func sigV4Signature(
	secretAccessKey string,
	dateStamp string,
	region string,
	service string,
	stringToSign string,
) string {
	kDate := hmacSHA256([]byte("AWS4"+secretAccessKey), dateStamp)
	kRegion := hmacSHA256(kDate, region)
	kService := hmacSHA256(kRegion, service)
	kSigning := hmacSHA256(kService, "aws4_request")
	return hex.EncodeToString(hmacSHA256(kSigning, stringToSign))
}

func hmacSHA256(key []byte, value string) []byte {
	mac := hmac.New(sha256.New, key)
	_, _ = mac.Write([]byte(value))
	return mac.Sum(nil)
}

func sha256Hex(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

func compressSpaces(value string) string {
	parts := strings.Fields(strings.TrimSpace(value))
	if len(parts) == 0 {
		return ""
	}
	return strings.Join(parts, " ")
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}
