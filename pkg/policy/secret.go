package policy

// SecretProvider is the backing store a secret reference names.
type SecretProvider string

const (
	SecretProviderVault     SecretProvider = "vault"
	SecretProviderEnv       SecretProvider = "env"
	SecretProviderKeychain  SecretProvider = "keychain"
	SecretProviderKMS       SecretProvider = "kms"
)

// SecretInjectionMode is where in a request a secret value is placed.
type SecretInjectionMode string

const (
	InjectHeader     SecretInjectionMode = "header"
	InjectBodyField  SecretInjectionMode = "body_field"
	InjectQueryParam SecretInjectionMode = "query_param"
	InjectURLPath    SecretInjectionMode = "url_path"
)

// SecretValidationResult is the outcome of validating a secret injection.
type SecretValidationResult string

const (
	SecretValid          SecretValidationResult = "valid"
	SecretInvalid         SecretValidationResult = "invalid"
	SecretReviewRequired SecretValidationResult = "review_required"
)

// SecretRef names a secret without carrying its material.
type SecretRef struct {
	Provider            SecretProvider
	Key                 string
	Version             string
	ExpiresAtRequired   bool
	RotationTTLSeconds  *int
}

func (r SecretRef) hasExpiryPolicy() bool {
	if r.ExpiresAtRequired {
		return true
	}
	return r.RotationTTLSeconds != nil && *r.RotationTTLSeconds > 0
}

// ValidateSecretInjection rejects an empty key or the absence of any
// expiry policy, then applies the disallowed/exception mode discipline:
// disallowed-but-exception-listed modes require review, other disallowed
// modes are invalid, everything else is valid.
func ValidateSecretInjection(ref SecretRef, mode SecretInjectionMode, disallowedModes, exceptionModes map[SecretInjectionMode]bool) SecretValidationResult {
	if ref.Key == "" {
		return SecretInvalid
	}
	if !ref.hasExpiryPolicy() {
		return SecretInvalid
	}
	if disallowedModes[mode] {
		if exceptionModes[mode] {
			return SecretReviewRequired
		}
		return SecretInvalid
	}
	return SecretValid
}
