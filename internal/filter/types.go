// Package filter defines the wire types of the moderation API: the filter
// configuration, the request/result shapes and the closed flag vocabulary.
//
// DESIGN: These types are shared by the pre-screener, the AI providers and
// the decision pipeline. Defined here ONCE to avoid circular imports.
package filter

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Model tiers accepted on the wire.
const (
	TierFast   = "fast"
	TierNormal = "normal"
	TierPro    = "pro"
)

// MaxHistoryTurns bounds the prior-message list a request may carry.
const MaxHistoryTurns = 15

// MaxTextBytes bounds the text payload (10 MB).
const MaxTextBytes = 10 << 20

// Config is the caller-supplied filter configuration. Every field defaults
// to false, which is the most restrictive setting. Unknown JSON fields are
// ignored by decoding; absent or non-true values decode to false, so two
// semantically identical configs always normalize to the same value.
type Config struct {
	AllowAbuse               bool `json:"allowAbuse"`
	AllowPhone               bool `json:"allowPhone"`
	AllowEmail               bool `json:"allowEmail"`
	AllowPhysicalInformation bool `json:"allowPhysicalInformation"`
	AllowSocialInformation   bool `json:"allowSocialInformation"`
	ReturnFilteredMessage    bool `json:"returnFilteredMessage"`
}

// Normalize returns the canonical form of the config. Booleans decode to
// their canonical form already, so this is the identity — it exists so the
// idempotence contract (normalize∘normalize = normalize) has a name and a
// test, and so cache-key construction has one entry point.
func (c Config) Normalize() Config { return c }

// CanonicalString serializes the config with a fixed key order for use in
// cache keys. Equal configs always produce equal strings.
func (c Config) CanonicalString() string {
	return fmt.Sprintf("abuse=%t,email=%t,phone=%t,physical=%t,social=%t,return=%t",
		c.AllowAbuse, c.AllowEmail, c.AllowPhone,
		c.AllowPhysicalInformation, c.AllowSocialInformation, c.ReturnFilteredMessage)
}

// Message is one prior conversation turn. The wire format accepts either a
// bare string or an object with a "text" field.
type Message struct {
	Text string
}

// UnmarshalJSON accepts "..." and {"text": "..."}.
func (m *Message) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		m.Text = s
		return nil
	}
	var obj struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("history entry must be a string or an object with a text field")
	}
	m.Text = obj.Text
	return nil
}

// MarshalJSON always emits the object form.
func (m Message) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Text string `json:"text"`
	}{Text: m.Text})
}

// Request is a moderation request. At least one of Text/Image must be set.
type Request struct {
	Text    string    `json:"text,omitempty"`
	Image   string    `json:"image,omitempty"` // base64 payload
	Config  Config    `json:"config"`
	History []Message `json:"oldMessages,omitempty"`
	Tier    string    `json:"model,omitempty"` // fast, normal, pro
}

// Validate enforces the request invariants.
func (r *Request) Validate() error {
	if strings.TrimSpace(r.Text) == "" && r.Image == "" {
		return fmt.Errorf("at least one of text or image is required")
	}
	if len(r.Text) > MaxTextBytes {
		return fmt.Errorf("text exceeds %d bytes", MaxTextBytes)
	}
	if len(r.History) > MaxHistoryTurns {
		return fmt.Errorf("history exceeds %d messages", MaxHistoryTurns)
	}
	switch r.Tier {
	case "", TierFast, TierNormal, TierPro:
	default:
		return fmt.Errorf("unknown model tier %q", r.Tier)
	}
	return nil
}

// Result is the moderation verdict returned to the caller.
type Result struct {
	Blocked bool     `json:"blocked"`
	Flags   []string `json:"flags"`
	Reason  string   `json:"reason"`

	// FilteredContent is present only when returnFilteredMessage was
	// requested: the redacted text on a violation, the original text when
	// the content passed.
	FilteredContent string `json:"filteredContent,omitempty"`
}

// ReasonClean is the reason attached to a passing verdict.
const ReasonClean = "Content passed all moderation checks"

// ReasonAIFailed is the reason attached when the AI provider could not be
// consulted; the content is allowed as a precaution.
const ReasonAIFailed = "AI analysis failed, allowing content as a precaution"
