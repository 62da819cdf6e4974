package prescreen

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modguard/filter-gateway/internal/filter"
)

// TestScreen_TrivialInputs verifies empty and too-short inputs are cleared
// regardless of configuration.
func TestScreen_TrivialInputs(t *testing.T) {
	for _, text := range []string{"", "   ", "\t\n", "hi", "two words"} {
		r := Screen(text, filter.Config{})
		assert.False(t, r.NeedsAIReview, "input %q should not need review", text)
		assert.Empty(t, r.Flags)
	}
}

// TestScreen_BenignText verifies ordinary text passes clean.
func TestScreen_BenignText(t *testing.T) {
	r := Screen("Hi there, how are you today?", filter.Config{})
	assert.False(t, r.NeedsAIReview)
	assert.Empty(t, r.Flags)
}

// TestScreen_CriticalTerm verifies critical vocabulary fires regardless of
// any allow flag.
func TestScreen_CriticalTerm(t *testing.T) {
	cfg := filter.Config{
		AllowAbuse: true, AllowPhone: true, AllowEmail: true,
		AllowPhysicalInformation: true, AllowSocialInformation: true,
	}
	r := Screen("please send me your social security number now", cfg)
	require.True(t, r.NeedsAIReview)
	assert.Equal(t, []string{filter.FlagCriticalTerm}, r.Flags)
	assert.Contains(t, r.Reason, "critical term")
}

// TestScreen_Obfuscation verifies spaced-out characters are flagged.
func TestScreen_Obfuscation(t *testing.T) {
	r := Screen("please do c  a  l  l  m  e tonight", filter.Config{})
	require.True(t, r.NeedsAIReview)
	assert.Contains(t, r.Flags, filter.FlagObfuscation)
}

// TestScreen_PhoneNumber verifies digit-run detection with match positions
// and that the reason never echoes the digits.
func TestScreen_PhoneNumber(t *testing.T) {
	text := "Call me at 555-123-4567"
	r := Screen(text, filter.Config{})
	require.True(t, r.NeedsAIReview)
	assert.Contains(t, r.Flags, filter.FlagPhoneNumber)
	assert.Contains(t, r.Flags, filter.FlagPhoneNumberIntent)
	assert.NotContains(t, r.Reason, "555")

	require.NotEmpty(t, r.Matches)
	m := r.Matches[0]
	assert.Equal(t, "555-123-4567", text[m.Start:m.End])
}

// TestScreen_PhoneAllowed verifies the phone branch is skipped entirely
// when the config permits phone numbers.
func TestScreen_PhoneAllowed(t *testing.T) {
	r := Screen("Call me at 555-123-4567", filter.Config{AllowPhone: true})
	assert.False(t, r.NeedsAIReview)
	assert.Empty(t, r.Flags)
}

// TestScreen_SpelledOutPhone verifies spelled-out digit runs are caught.
func TestScreen_SpelledOutPhone(t *testing.T) {
	r := Screen("my digits are five five five one two three four", filter.Config{})
	require.True(t, r.NeedsAIReview)
	assert.Contains(t, r.Flags, filter.FlagPhoneNumber)
}

// TestScreen_Email verifies plain and obfuscated addresses.
func TestScreen_Email(t *testing.T) {
	r := Screen("you can write to john.doe@example.com anytime", filter.Config{})
	require.True(t, r.NeedsAIReview)
	assert.Contains(t, r.Flags, filter.FlagEmailAddress)

	r = Screen("write to john dot doe at example dot com please", filter.Config{})
	require.True(t, r.NeedsAIReview)
	assert.Contains(t, r.Flags, filter.FlagEmailAddress)

	r = Screen("you can write to john.doe@example.com anytime", filter.Config{AllowEmail: true})
	assert.Empty(t, r.Flags)
}

// TestScreen_Abuse verifies the offensive-terms list and its allow flag.
func TestScreen_Abuse(t *testing.T) {
	r := Screen("you are such an idiot honestly", filter.Config{})
	require.True(t, r.NeedsAIReview)
	assert.Contains(t, r.Flags, filter.FlagAbusiveLanguage)

	r = Screen("you are such an idiot honestly", filter.Config{AllowAbuse: true})
	assert.Empty(t, r.Flags)
}

// TestScreen_PhysicalInformation verifies address, card and CVV detection.
func TestScreen_PhysicalInformation(t *testing.T) {
	r := Screen("I live at 42 Elm Street in the old town", filter.Config{})
	assert.Contains(t, r.Flags, filter.FlagPhysicalAddress)

	r = Screen("my card is 4111 1111 1111 1111 thanks", filter.Config{})
	assert.Contains(t, r.Flags, filter.FlagCreditCardNumber)

	r = Screen("use amex 3782 822463 10005 for payment", filter.Config{})
	assert.Contains(t, r.Flags, filter.FlagCreditCardNumber)

	r = Screen("the cvv: 123 is on the back", filter.Config{})
	assert.Contains(t, r.Flags, filter.FlagCVVContext)

	r = Screen("I live at 42 Elm Street in the old town",
		filter.Config{AllowPhysicalInformation: true})
	assert.Empty(t, r.Flags)
}

// TestScreen_SocialInformation verifies handles, links and intent phrases.
func TestScreen_SocialInformation(t *testing.T) {
	r := Screen("find my posts at @cool_user42 online", filter.Config{})
	assert.Contains(t, r.Flags, filter.FlagSocialMediaHandle)

	r = Screen("check instagram.com/someuser for pictures", filter.Config{})
	assert.Contains(t, r.Flags, filter.FlagSocialMediaLink)

	r = Screen("just follow me on the usual app", filter.Config{})
	assert.Contains(t, r.Flags, filter.FlagSocialMediaIntent)

	r = Screen("find my posts at @cool_user42 online",
		filter.Config{AllowSocialInformation: true})
	assert.Empty(t, r.Flags)
}

// TestRedact_MasksMatchSpans verifies asterisk masking of equal length.
func TestRedact_MasksMatchSpans(t *testing.T) {
	text := "Call me at 555-123-4567"
	r := Screen(text, filter.Config{})
	require.NotEmpty(t, r.Matches)

	redacted := Redact(text, r.Matches)
	assert.Equal(t, "Call me at ************", redacted)
	assert.Equal(t, len(text), len(redacted))
	assert.False(t, strings.ContainsAny(redacted, "0123456789"))
}

// TestRedact_OverlappingSpans verifies overlapping matches merge cleanly.
func TestRedact_OverlappingSpans(t *testing.T) {
	text := "abcdefghij"
	out := Redact(text, []Match{{Start: 2, End: 6}, {Start: 4, End: 8}})
	assert.Equal(t, "ab******ij", out)
}

// TestRedact_NoMatches verifies pass-through.
func TestRedact_NoMatches(t *testing.T) {
	assert.Equal(t, "hello", Redact("hello", nil))
}
