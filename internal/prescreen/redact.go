// Redaction of pre-screen matches.
package prescreen

import "strings"

// Redact masks every match span with asterisks of equal length. Spans are
// merged when they overlap so nested matches never double-mask. The result
// preserves all text outside the matched spans.
func Redact(text string, matches []Match) string {
	if len(matches) == 0 {
		return text
	}

	// Merge overlapping spans without assuming input order.
	spans := make([]Match, len(matches))
	copy(spans, matches)
	for i := 0; i < len(spans); i++ {
		for j := i + 1; j < len(spans); j++ {
			if spans[j].Start < spans[i].Start {
				spans[i], spans[j] = spans[j], spans[i]
			}
		}
	}
	merged := spans[:1]
	for _, s := range spans[1:] {
		last := &merged[len(merged)-1]
		if s.Start <= last.End {
			if s.End > last.End {
				last.End = s.End
			}
			continue
		}
		merged = append(merged, s)
	}

	var b strings.Builder
	b.Grow(len(text))
	pos := 0
	for _, s := range merged {
		if s.Start > len(text) {
			break
		}
		end := s.End
		if end > len(text) {
			end = len(text)
		}
		b.WriteString(text[pos:s.Start])
		b.WriteString(strings.Repeat("*", end-s.Start))
		pos = end
	}
	b.WriteString(text[pos:])
	return b.String()
}
