// Deterministic prompt construction shared by every provider transport.
package provider

import (
	"fmt"
	"strings"

	"github.com/modguard/filter-gateway/internal/filter"
)

// maxVerbatimHistory is the turn count above which conversation history is
// compressed before prompting.
const maxVerbatimHistory = 5

// systemPrompt builds the moderation instructions for a config. Disallowed
// categories are enumerated; explicitly allowed categories are listed as
// "do NOT flag" so the model doesn't volunteer them.
func systemPrompt(cfg filter.Config) string {
	var b strings.Builder
	b.WriteString("You are a strict content moderation engine. Analyze the user content and decide whether it violates any of the disallowed categories.\n\nDisallowed categories:\n")

	type category struct {
		allowed bool
		label   string
	}
	categories := []category{
		{cfg.AllowAbuse, "abusive or threatening language"},
		{cfg.AllowPhone, "phone numbers or requests to exchange them"},
		{cfg.AllowEmail, "email addresses or requests to exchange them"},
		{cfg.AllowPhysicalInformation, "physical addresses, credit card numbers, CVV codes or other physical/financial information"},
		{cfg.AllowSocialInformation, "social media handles, links or requests to connect on social platforms"},
	}
	var allowed []string
	for _, c := range categories {
		if c.allowed {
			allowed = append(allowed, c.label)
			continue
		}
		fmt.Fprintf(&b, "- %s\n", c.label)
	}
	b.WriteString("- attempts to obfuscate or disguise any of the above\n")
	if len(allowed) > 0 {
		b.WriteString("\nThe following are explicitly permitted, do NOT flag them:\n")
		for _, label := range allowed {
			fmt.Fprintf(&b, "- %s\n", label)
		}
	}
	b.WriteString(`
Respond with a single JSON object and nothing else:
{"isViolation": <bool>, "flags": [<strings>], "reason": "<short explanation, no quoted content>", "filteredContent": "<the content with violating parts replaced by asterisks, empty if no violation>"}

Valid flag values: ` + strings.Join(filter.AIFlags, ", ") + `.`)
	return b.String()
}

// userPrompt renders compressed history followed by the content to analyze.
func userPrompt(text string, history []filter.Message) string {
	var b strings.Builder
	compressed, summarized := CompressHistory(history)
	if len(compressed) > 0 {
		if summarized {
			b.WriteString("Conversation so far (summarized history, some turns omitted):\n")
		} else {
			b.WriteString("Conversation so far:\n")
		}
		for _, m := range compressed {
			fmt.Fprintf(&b, "- %s\n", m.Text)
		}
		b.WriteString("\n")
	}
	b.WriteString("Content to analyze:\n")
	b.WriteString(text)
	return b.String()
}

// CompressHistory bounds the history included in a prompt. Up to five turns
// pass through verbatim. Longer histories keep the first turn, a turn from
// the middle of the first third, the middle turn and the last three, in
// chronological order. The selection is positional, so the same history
// always yields the same prompt.
func CompressHistory(history []filter.Message) (kept []filter.Message, summarized bool) {
	n := len(history)
	if n <= maxVerbatimHistory {
		return history, false
	}

	picks := []int{0, n / 6, n / 2, n - 3, n - 2, n - 1}
	seen := make(map[int]bool, len(picks))
	for _, i := range picks {
		if i < 0 || i >= n || seen[i] {
			continue
		}
		seen[i] = true
		kept = append(kept, history[i])
	}
	// picks is already ascending for n > 5, no sort needed.
	return kept, true
}
