// Sealed pattern sets for the pre-screener.
//
// DESIGN: Every pattern is compiled once at package init. The sets are
// deliberately closed: new categories go through code review, not config,
// because a bad pattern here either leaks violations or blocks legitimate
// traffic for every caller.
package prescreen

import "regexp"

// criticalTerms are sensitive financial/security substrings that always
// force AI review regardless of configuration.
var criticalTerms = []string{
	"social security number",
	"ssn",
	"routing number",
	"bank account number",
	"account password",
	"credit card pin",
	"card verification",
	"one-time passcode",
	"security question answer",
}

// obfuscationPattern catches word characters separated by excessive
// whitespace ("c  a  l  l   m  e"), a common filter-evasion trick.
var obfuscationPattern = regexp.MustCompile(`(?:\w\s{2,}){4,}\w`)

// Phone patterns.
var (
	phoneDigitsPattern = regexp.MustCompile(
		`(?:\+?\d{1,3}[-.\s]?)?\(?\d{3}\)?[-.\s]?\d{3}[-.\s]?\d{4}`)
	phoneSpelledPattern = regexp.MustCompile(
		`(?i)(?:(?:zero|one|two|three|four|five|six|seven|eight|nine)[\s-]+){6,}(?:zero|one|two|three|four|five|six|seven|eight|nine)`)
	phoneIntentPattern = regexp.MustCompile(
		`(?i)\b(?:call me at|my (?:phone )?number is|reach me at|text me (?:at|on)|give me your number|what'?s your number)\b`)
)

// Email patterns.
var (
	emailPattern = regexp.MustCompile(
		`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	emailObfuscatedPattern = regexp.MustCompile(
		`(?i)[a-z0-9._%+\-]+\s*[(\[]?\s*at\s*[)\]]?\s*[a-z0-9\-]+\s*[(\[]?\s*dot\s*[)\]]?\s*[a-z]{2,}`)
	emailIntentPattern = regexp.MustCompile(
		`(?i)\b(?:email me|my e?-?mail (?:address )?is|send (?:me )?an? e?-?mail|drop me a mail|what'?s your email)\b`)
)

// Abuse patterns. The offensive-terms list is fixed; matching is on word
// boundaries so substrings inside ordinary words never fire.
var (
	abusePattern = regexp.MustCompile(
		`(?i)\b(?:idiot|stupid|moron|dumbass|loser|jerk|bastard|asshole|scumbag|shut up)\b`)
	abuseIntentPattern = regexp.MustCompile(
		`(?i)\b(?:i (?:will|'ll) hurt you|you deserve to (?:die|suffer)|kill yourself|i hate you)\b`)
)

// Physical-information patterns: street addresses, card numbers, CVV
// context, and sharing intent.
var (
	streetAddressPattern = regexp.MustCompile(
		`(?i)\b\d{1,5}\s+(?:[A-Za-z]+\s+){0,3}(?:street|st|avenue|ave|road|rd|boulevard|blvd|lane|ln|drive|dr|court|ct|place|pl|way)\b\.?`)
	creditCardPattern = regexp.MustCompile(
		`\b(?:\d[ \-]?){15}\d\b`)
	amexCardPattern = regexp.MustCompile(
		`\b3[47]\d{2}[ \-]?\d{6}[ \-]?\d{5}\b`)
	cvvContextPattern = regexp.MustCompile(
		`(?i)\b(?:cvv|cvc|security code)\b\s*:?\s*\d{3,4}`)
	physicalIntentPattern = regexp.MustCompile(
		`(?i)\b(?:my (?:home )?address is|i live at|come (?:over )?to my (?:place|house)|meet me at my)\b`)
)

// Social-information patterns: handles, platform links, sharing intent.
var (
	socialHandlePattern = regexp.MustCompile(
		`(?:^|\s)@[A-Za-z0-9_]{2,30}\b`)
	socialLinkPattern = regexp.MustCompile(
		`(?i)\b(?:(?:www\.)?(?:facebook|instagram|twitter|tiktok|snapchat|telegram|discord|linkedin)\.com/\S+|t\.me/\S+|wa\.me/\S+)`)
	socialIntentPattern = regexp.MustCompile(
		`(?i)\b(?:follow me on|add me on|find me on|dm me|my (?:insta|instagram|snap|telegram|discord) (?:is|handle))\b`)
)
