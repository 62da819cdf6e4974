// Closed flag vocabulary.
package filter

// Flags returned by the AI providers.
const (
	FlagAbuse         = "abuse"
	FlagPhone         = "phone"
	FlagEmail         = "email"
	FlagAddress       = "address"
	FlagCreditCard    = "creditCard"
	FlagCVV           = "cvv"
	FlagSocialMedia   = "socialMedia"
	FlagPII           = "pii"
	FlagInappropriate = "inappropriate"

	// FlagError marks a verdict produced after an AI provider failure.
	// Results carrying it are never cached.
	FlagError = "error"
)

// Flags produced by the pattern pre-screener, including intent variants.
const (
	FlagCriticalTerm         = "critical_term"
	FlagObfuscation          = "obfuscation"
	FlagPhoneNumber          = "phone_number"
	FlagPhoneNumberIntent    = "phone_number_intent"
	FlagEmailAddress         = "email_address"
	FlagEmailAddressIntent   = "email_address_intent"
	FlagAbusiveLanguage      = "abusive_language"
	FlagAbusiveIntent        = "abusive_language_intent"
	FlagPhysicalAddress      = "physical_address"
	FlagCreditCardNumber     = "credit_card"
	FlagCVVContext           = "cvv_context"
	FlagPhysicalIntent       = "physical_information_intent"
	FlagSocialMediaHandle    = "social_media_handle"
	FlagSocialMediaLink      = "social_media_link"
	FlagSocialMediaIntent    = "social_media_intent"
)

// AIFlags is the ordered vocabulary offered to the AI providers. Order is
// fixed so prompts built from it are byte-identical across calls.
var AIFlags = []string{
	FlagAbuse, FlagPhone, FlagEmail, FlagAddress, FlagCreditCard,
	FlagCVV, FlagSocialMedia, FlagPII, FlagInappropriate,
}

// violationFlags is the closed set of flags that indicate a violation.
// FlagError is deliberately absent: it marks degraded analysis, not a
// violation, and may appear on allowed results.
var violationFlags = map[string]bool{
	FlagAbuse: true, FlagPhone: true, FlagEmail: true, FlagAddress: true,
	FlagCreditCard: true, FlagCVV: true, FlagSocialMedia: true,
	FlagPII: true, FlagInappropriate: true,
	FlagCriticalTerm: true, FlagObfuscation: true,
	FlagPhoneNumber: true, FlagPhoneNumberIntent: true,
	FlagEmailAddress: true, FlagEmailAddressIntent: true,
	FlagAbusiveLanguage: true, FlagAbusiveIntent: true,
	FlagPhysicalAddress: true, FlagCreditCardNumber: true,
	FlagCVVContext: true, FlagPhysicalIntent: true,
	FlagSocialMediaHandle: true, FlagSocialMediaLink: true,
	FlagSocialMediaIntent: true,
}

// IsViolationFlag reports whether name belongs to the closed violation set.
func IsViolationFlag(name string) bool { return violationFlags[name] }

// KnownFlags returns the violation vocabulary. Used by the AI response
// parser's keyword fallback scan.
func KnownFlags() []string {
	out := make([]string, 0, len(violationFlags))
	for f := range violationFlags {
		out = append(out, f)
	}
	return out
}
