// Cache key derivation.
//
// Both caches key on normalized request material so equivalent requests
// collapse to one entry: long text contributes only its edges, images only
// a prefix, config its canonical string and history its length plus tail.
// The hash is 64-bit FNV-1a folded to 32 bits and encoded base36, which is
// cheap, stable across processes and short enough for log lines.
package pipeline

import (
	"fmt"
	"hash/fnv"
	"strconv"
	"strings"

	"github.com/modguard/filter-gateway/internal/filter"
)

const (
	textEdgeLen    = 100
	imagePrefixLen = 50
	historyTail    = 3
)

// ResponseKey derives the route-level response cache key.
func ResponseKey(method, url, credential string, req *filter.Request) string {
	return foldHash(strings.Join([]string{
		url, method, credential, normalizedBody(req),
	}, "|"))
}

// AIResultKey derives the AI verdict cache key. It covers exactly the
// inputs the prompt is built from, so one entry serves every tier.
func AIResultKey(req *filter.Request) string {
	return foldHash(strings.Join([]string{
		req.Text,
		historyDigest(req.History),
		req.Config.CanonicalString(),
	}, "|"))
}

func normalizedBody(req *filter.Request) string {
	return strings.Join([]string{
		edgeDigest(req.Text),
		prefixDigest(req.Image),
		req.Config.CanonicalString(),
		historyDigest(req.History),
	}, "|")
}

// edgeDigest keeps the first and last 100 characters of long text.
func edgeDigest(text string) string {
	runes := []rune(text)
	if len(runes) <= 2*textEdgeLen {
		return text
	}
	return string(runes[:textEdgeLen]) + string(runes[len(runes)-textEdgeLen:])
}

// prefixDigest keeps the first 50 characters of image payloads.
func prefixDigest(image string) string {
	runes := []rune(image)
	if len(runes) <= imagePrefixLen {
		return image
	}
	return string(runes[:imagePrefixLen])
}

// historyDigest reduces history to its length plus the last three turns.
func historyDigest(history []filter.Message) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d", len(history))
	start := len(history) - historyTail
	if start < 0 {
		start = 0
	}
	for _, m := range history[start:] {
		b.WriteByte('|')
		b.WriteString(m.Text)
	}
	return b.String()
}

func foldHash(s string) string {
	h := fnv.New64a()
	h.Write([]byte(s))
	sum := h.Sum64()
	folded := uint32(sum>>32) ^ uint32(sum)
	return strconv.FormatUint(uint64(folded), 36)
}
