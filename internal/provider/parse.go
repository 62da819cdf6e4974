// Parsing and sanitizing of model responses.
package provider

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/modguard/filter-gateway/internal/filter"
)

const maxReasonLen = 100

var (
	thinkBlockPattern = regexp.MustCompile(`(?s)<think>.*?</think>`)

	// Shapes that must never leak through a model-written reason.
	reasonPhonePattern = regexp.MustCompile(`\+?\d[\d\s().-]{6,}\d`)
	reasonEmailPattern = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
)

// ParseAnalysis extracts a verdict from raw model output. Reasoning models
// wrap chain-of-thought in think tags and some wrap JSON in prose, so the
// parser strips think blocks, takes the first balanced JSON object, and
// validates field types before trusting it. When no parsable object exists
// it falls back to a keyword scan, and as a last resort reports a parse
// error to the caller.
func ParseAnalysis(raw string) (*Analysis, error) {
	cleaned := strings.TrimSpace(thinkBlockPattern.ReplaceAllString(raw, ""))
	if cleaned == "" {
		return nil, fmt.Errorf("empty model response")
	}

	if obj := extractJSONObject(cleaned); obj != "" {
		a, ok := decodeAnalysis(obj)
		if !ok {
			// A present-but-malformed object is never keyword-scanned:
			// the literal key "isViolation" would satisfy the scan.
			return nil, fmt.Errorf("malformed verdict object in model response")
		}
		a.Flags = filterKnownFlags(a.Flags)
		a.Reason = sanitizeReason(a.Reason)
		return a, nil
	}

	if a := keywordFallback(cleaned); a != nil {
		return a, nil
	}
	return nil, fmt.Errorf("unparsable model response (%d bytes)", len(raw))
}

// extractJSONObject returns the first balanced {...} in s, respecting string
// literals and escapes, or "" when none closes.
func extractJSONObject(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}

// decodeAnalysis validates field types with gjson before unmarshaling, so a
// model emitting {"isViolation": "yes"} is rejected instead of zero-valued.
func decodeAnalysis(obj string) (*Analysis, bool) {
	if !gjson.Valid(obj) {
		return nil, false
	}
	v := gjson.Get(obj, "isViolation")
	if !v.Exists() || !v.IsBool() {
		return nil, false
	}
	if f := gjson.Get(obj, "flags"); f.Exists() && !f.IsArray() {
		return nil, false
	}
	if r := gjson.Get(obj, "reason"); r.Exists() && r.Type != gjson.String {
		return nil, false
	}

	var a Analysis
	if err := json.Unmarshal([]byte(obj), &a); err != nil {
		return nil, false
	}
	return &a, true
}

// keywordFallback salvages a verdict from free-form output: the token
// "violation" plus any known flag name yields a block.
func keywordFallback(s string) *Analysis {
	lower := strings.ToLower(s)
	if !strings.Contains(lower, "violation") {
		return nil
	}
	var flags []string
	for _, f := range filter.KnownFlags() {
		if strings.Contains(lower, strings.ToLower(f)) {
			flags = append(flags, f)
		}
	}
	if len(flags) == 0 {
		return nil
	}
	return &Analysis{
		IsViolation: true,
		Flags:       flags,
		Reason:      "content flagged by moderation analysis",
	}
}

// filterKnownFlags drops anything outside the closed vocabulary. FlagError
// is also dropped: only the gateway may assert degraded analysis.
func filterKnownFlags(flags []string) []string {
	var out []string
	for _, f := range flags {
		if filter.IsViolationFlag(f) {
			out = append(out, f)
		}
	}
	return out
}

// sanitizeReason bounds the reason and masks phone and email shapes the
// model may have echoed from the input. Truncation counts runes so a
// multibyte reason is never cut mid-character.
func sanitizeReason(reason string) string {
	reason = reasonPhonePattern.ReplaceAllStringFunc(reason, mask)
	reason = reasonEmailPattern.ReplaceAllStringFunc(reason, mask)
	if runes := []rune(reason); len(runes) > maxReasonLen {
		reason = string(runes[:maxReasonLen-3]) + "..."
	}
	return reason
}

func mask(s string) string { return strings.Repeat("*", len(s)) }
