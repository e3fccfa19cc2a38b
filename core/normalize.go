package core

import (
	"fmt"
	"strings"
)

// credentialNormalizer maps one marketplace's raw field shape onto the
// canonical Credential and performs its required-field checks. One variant
// per marketplace; dispatch is explicit, never by field probing.
type credentialNormalizer interface {
	MarketplaceID() string
	Normalize(cred Credential) (Credential, []CredentialIssue, []CredentialWarning)
}

var credentialNormalizers = map[string]credentialNormalizer{
	MarketplaceEbay:         ebayPayload{},
	MarketplaceMercadoLibre: mercadoLibrePayload{},
	MarketplaceAmazon:       amazonPayload{},
	MarketplaceAliexpress:   aliexpressPayload{},
}

// NormalizeCredential dispatches to the marketplace's payload variant.
// Unknown marketplaces get the generic shape check only.
func NormalizeCredential(marketplaceID string, cred Credential) (Credential, []CredentialIssue, []CredentialWarning) {
	marketplaceID = strings.TrimSpace(strings.ToLower(marketplaceID))
	if normalizer, ok := credentialNormalizers[marketplaceID]; ok {
		return normalizer.Normalize(cred)
	}

	var issues []CredentialIssue
	if !cred.HasSecretMaterial() {
		issues = append(issues, CredentialIssue{
			Field:   "secret_material",
			Message: fmt.Sprintf("marketplace %q credential has no secret material", marketplaceID),
		})
	}
	return cred, issues, nil
}

type ebayPayload struct{}

func (ebayPayload) MarketplaceID() string { return MarketplaceEbay }

func (ebayPayload) Normalize(cred Credential) (Credential, []CredentialIssue, []CredentialWarning) {
	cred = remapSecretFields(cred, map[string][]string{
		"client_id":     {"clientId", "app_id", "appId"},
		"client_secret": {"clientSecret", "cert_id", "certId"},
		"ru_name":       {"ruName", "redirect_uri_name"},
	})
	issues := requireSecretFields(cred, "client_id", "client_secret")
	warnings := oauthTokenWarnings(cred, len(issues) == 0)
	return cred, issues, warnings
}

type mercadoLibrePayload struct{}

func (mercadoLibrePayload) MarketplaceID() string { return MarketplaceMercadoLibre }

func (mercadoLibrePayload) Normalize(cred Credential) (Credential, []CredentialIssue, []CredentialWarning) {
	cred = remapSecretFields(cred, map[string][]string{
		"client_id":     {"clientId", "app_id", "appId"},
		"client_secret": {"clientSecret", "secret_key", "secretKey"},
	})
	issues := requireSecretFields(cred, "client_id", "client_secret")
	warnings := oauthTokenWarnings(cred, len(issues) == 0)
	return cred, issues, warnings
}

type amazonPayload struct{}

func (amazonPayload) MarketplaceID() string { return MarketplaceAmazon }

// Amazon needs three static identifiers before any call can be signed.
// Missing identifiers block; identifiers without an LWA token merely warn,
// because SigV4-only endpoints still work.
func (amazonPayload) Normalize(cred Credential) (Credential, []CredentialIssue, []CredentialWarning) {
	cred = remapSecretFields(cred, map[string][]string{
		"seller_id":             {"sellerId", "merchant_id", "merchantId"},
		"aws_access_key_id":     {"accessKeyId", "access_key_id"},
		"aws_secret_access_key": {"secretAccessKey", "secret_access_key"},
		"aws_region":            {"region"},
		"client_id":             {"lwa_client_id", "lwaClientId"},
		"client_secret":         {"lwa_client_secret", "lwaClientSecret"},
	})
	issues := requireSecretFields(cred, "seller_id", "aws_access_key_id", "aws_secret_access_key")
	warnings := oauthTokenWarnings(cred, len(issues) == 0)
	return cred, issues, warnings
}

type aliexpressPayload struct{}

func (aliexpressPayload) MarketplaceID() string { return MarketplaceAliexpress }

func (aliexpressPayload) Normalize(cred Credential) (Credential, []CredentialIssue, []CredentialWarning) {
	cred = remapSecretFields(cred, map[string][]string{
		"app_key":    {"appKey", "client_id", "clientId"},
		"app_secret": {"appSecret", "client_secret", "clientSecret"},
	})
	issues := requireSecretFields(cred, "app_key", "app_secret")
	warnings := oauthTokenWarnings(cred, len(issues) == 0)
	return cred, issues, warnings
}

// remapSecretFields copies known alias keys onto their canonical names. The
// canonical key wins when both are present; aliases are kept for audit.
func remapSecretFields(cred Credential, aliases map[string][]string) Credential {
	material := copyStringMap(cred.SecretMaterial)
	for canonical, candidates := range aliases {
		if strings.TrimSpace(material[canonical]) != "" {
			continue
		}
		for _, alias := range candidates {
			if value := strings.TrimSpace(material[alias]); value != "" {
				material[canonical] = value
				break
			}
		}
	}
	cred.SecretMaterial = material
	return cred
}

func requireSecretFields(cred Credential, fields ...string) []CredentialIssue {
	var issues []CredentialIssue
	for _, field := range fields {
		if strings.TrimSpace(cred.SecretMaterial[field]) == "" {
			issues = append(issues, CredentialIssue{
				Field:   field,
				Message: fmt.Sprintf("required field %q is missing", field),
			})
		}
	}
	return issues
}

func oauthTokenWarnings(cred Credential, identifiersPresent bool) []CredentialWarning {
	if !identifiersPresent || cred.HasToken() {
		return nil
	}
	return []CredentialWarning{{
		Code:    WarningMissingAuthorization,
		Message: "credential has base identifiers but no access or refresh token; authorization has not completed",
	}}
}
