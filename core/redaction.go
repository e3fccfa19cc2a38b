package core

import "strings"

const RedactedValue = "[REDACTED]"

// RedactSecretMaterial returns a copy of the material safe for logs: key
// names survive, sensitive values do not. Identifier-like fields stay visible
// so log lines remain debuggable.
func RedactSecretMaterial(material map[string]string) map[string]string {
	if len(material) == 0 {
		return map[string]string{}
	}
	redacted := make(map[string]string, len(material))
	for key, value := range material {
		if shouldRedactKey(key) {
			redacted[key] = RedactedValue
			continue
		}
		redacted[key] = value
	}
	return redacted
}

func shouldRedactKey(key string) bool {
	key = strings.ToLower(strings.TrimSpace(key))
	if key == "" || isIdentifierKey(key) {
		return false
	}
	sensitiveTokens := []string{
		"password",
		"secret",
		"token",
		"authorization",
		"api_key",
		"apikey",
		"access_key",
		"refresh",
		"credential",
		"signature",
		"cert",
	}
	for _, token := range sensitiveTokens {
		if strings.Contains(key, token) {
			return true
		}
	}
	return false
}

func isIdentifierKey(key string) bool {
	switch key {
	case "client_id",
		"app_id",
		"app_key",
		"seller_id",
		"merchant_id",
		"aws_access_key_id",
		"aws_region",
		"aws_service",
		"ru_name":
		return true
	default:
		return false
	}
}
