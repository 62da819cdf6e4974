// Package prescreen is the deterministic pattern pass that runs before any
// AI call. For a given filter configuration it either clears the text (no
// AI review needed) or returns the flags and match positions that make AI
// review necessary and a violation likely.
//
// DESIGN: Pure functions over pre-compiled patterns — the cheapest pipeline
// stage, and lossless with respect to the configuration: when a category is
// explicitly allowed its entire branch is skipped, so permitted content can
// never produce a false positive.
package prescreen

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/modguard/filter-gateway/internal/filter"
)

// Match is a [start, end) byte span of redactable content in the input.
// Intent phrases are flagged but never recorded as matches: redaction masks
// the shared data, not the sentence around it.
type Match struct {
	Start int
	End   int
	Flag  string
}

// Result is the pre-screen outcome for one text.
type Result struct {
	NeedsAIReview bool
	Flags         []string
	Reason        string
	Matches       []Match
}

// Screen runs the rule chain against text under the normalized config.
func Screen(text string, cfg filter.Config) Result {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" || len(strings.Fields(trimmed)) < 3 {
		return Result{}
	}

	// Short benign greetings get no special bypass: they run every
	// disallowed-content check below like any other text.
	lower := strings.ToLower(text)

	// Critical financial/security vocabulary fires regardless of config.
	for _, term := range criticalTerms {
		if strings.Contains(lower, term) {
			return Result{
				NeedsAIReview: true,
				Flags:         []string{filter.FlagCriticalTerm},
				Reason:        fmt.Sprintf("contains critical term: %s", term),
			}
		}
	}

	if obfuscationPattern.MatchString(text) {
		return Result{
			NeedsAIReview: true,
			Flags:         []string{filter.FlagObfuscation},
			Reason:        "text appears deliberately obfuscated",
		}
	}

	var r Result
	if !cfg.AllowPhone {
		screenPhone(text, &r)
	}
	if !cfg.AllowEmail {
		screenEmail(text, &r)
	}
	if !cfg.AllowAbuse {
		screenAbuse(text, &r)
	}
	if !cfg.AllowPhysicalInformation {
		screenPhysical(text, &r)
	}
	if !cfg.AllowSocialInformation {
		screenSocial(text, &r)
	}

	if len(r.Flags) > 0 {
		r.NeedsAIReview = true
		if r.Reason == "" {
			r.Reason = describeFlags(r.Flags)
		}
	}
	return r
}

func screenPhone(text string, r *Result) {
	if phoneDigitsPattern.MatchString(text) {
		r.addFlag(filter.FlagPhoneNumber)
		r.addMatches(phoneDigitsPattern, text, filter.FlagPhoneNumber)
	} else if phoneSpelledPattern.MatchString(text) {
		r.addFlag(filter.FlagPhoneNumber)
		r.addMatches(phoneSpelledPattern, text, filter.FlagPhoneNumber)
	}
	if phoneIntentPattern.MatchString(text) {
		r.addFlag(filter.FlagPhoneNumberIntent)
	}
}

func screenEmail(text string, r *Result) {
	if emailPattern.MatchString(text) {
		r.addFlag(filter.FlagEmailAddress)
		r.addMatches(emailPattern, text, filter.FlagEmailAddress)
	} else if emailObfuscatedPattern.MatchString(text) {
		r.addFlag(filter.FlagEmailAddress)
		r.addMatches(emailObfuscatedPattern, text, filter.FlagEmailAddress)
	}
	if emailIntentPattern.MatchString(text) {
		r.addFlag(filter.FlagEmailAddressIntent)
	}
}

func screenAbuse(text string, r *Result) {
	if abusePattern.MatchString(text) {
		r.addFlag(filter.FlagAbusiveLanguage)
		r.addMatches(abusePattern, text, filter.FlagAbusiveLanguage)
	}
	if abuseIntentPattern.MatchString(text) {
		r.addFlag(filter.FlagAbusiveIntent)
	}
}

func screenPhysical(text string, r *Result) {
	if streetAddressPattern.MatchString(text) {
		r.addFlag(filter.FlagPhysicalAddress)
		r.addMatches(streetAddressPattern, text, filter.FlagPhysicalAddress)
	}
	if amexCardPattern.MatchString(text) {
		r.addFlag(filter.FlagCreditCardNumber)
		r.addMatches(amexCardPattern, text, filter.FlagCreditCardNumber)
	} else if creditCardPattern.MatchString(text) {
		r.addFlag(filter.FlagCreditCardNumber)
		r.addMatches(creditCardPattern, text, filter.FlagCreditCardNumber)
	}
	if cvvContextPattern.MatchString(text) {
		r.addFlag(filter.FlagCVVContext)
		r.addMatches(cvvContextPattern, text, filter.FlagCVVContext)
	}
	if physicalIntentPattern.MatchString(text) {
		r.addFlag(filter.FlagPhysicalIntent)
	}
}

func screenSocial(text string, r *Result) {
	if socialHandlePattern.MatchString(text) {
		r.addFlag(filter.FlagSocialMediaHandle)
		r.addMatches(socialHandlePattern, text, filter.FlagSocialMediaHandle)
	}
	if socialLinkPattern.MatchString(text) {
		r.addFlag(filter.FlagSocialMediaLink)
		r.addMatches(socialLinkPattern, text, filter.FlagSocialMediaLink)
	}
	if socialIntentPattern.MatchString(text) {
		r.addFlag(filter.FlagSocialMediaIntent)
	}
}

func (r *Result) addFlag(flag string) {
	for _, f := range r.Flags {
		if f == flag {
			return
		}
	}
	r.Flags = append(r.Flags, flag)
}

func (r *Result) addMatches(re *regexp.Regexp, text, flag string) {
	for _, loc := range re.FindAllStringIndex(text, -1) {
		r.Matches = append(r.Matches, Match{Start: loc[0], End: loc[1], Flag: flag})
	}
}

// describeFlags builds a reason naming the matched categories without ever
// echoing the matched content itself.
func describeFlags(flags []string) string {
	names := make([]string, 0, len(flags))
	for _, f := range flags {
		switch f {
		case filter.FlagPhoneNumber, filter.FlagPhoneNumberIntent:
			names = appendUnique(names, "phone number")
		case filter.FlagEmailAddress, filter.FlagEmailAddressIntent:
			names = appendUnique(names, "email address")
		case filter.FlagAbusiveLanguage, filter.FlagAbusiveIntent:
			names = appendUnique(names, "abusive language")
		case filter.FlagPhysicalAddress:
			names = appendUnique(names, "physical address")
		case filter.FlagCreditCardNumber, filter.FlagCVVContext:
			names = appendUnique(names, "payment card details")
		case filter.FlagPhysicalIntent:
			names = appendUnique(names, "physical information")
		case filter.FlagSocialMediaHandle, filter.FlagSocialMediaLink, filter.FlagSocialMediaIntent:
			names = appendUnique(names, "social media details")
		}
	}
	if len(names) == 0 {
		return "content matched moderation patterns"
	}
	return "content contains " + strings.Join(names, ", ")
}

func appendUnique(list []string, s string) []string {
	for _, v := range list {
		if v == s {
			return list
		}
	}
	return append(list, s)
}
