// Package content derives per-platform variants of an authored message.
//
// Adaptation is pure: the same (message, platform) pair always yields the
// same string, so a retried attempt sends byte-identical content.
package content

import (
	"strings"
	"unicode/utf8"

	"github.com/djlord-it/easy-post/internal/domain"
)

const ellipsis = "…"

// Rule describes how a message is shaped for one platform.
type Rule struct {
	// MaxRunes caps the variant length, 0 means unlimited.
	MaxRunes int
	// Hashtags appends the adapter's hashtag block.
	Hashtags bool
}

// DefaultRules returns the built-in per-platform policy.
func DefaultRules() map[domain.Platform]Rule {
	return map[domain.Platform]Rule{
		domain.PlatformFacebook:  {},
		domain.PlatformInstagram: {MaxRunes: 2200, Hashtags: true},
		domain.PlatformTwitter:   {MaxRunes: 280},
		domain.PlatformLinkedIn:  {MaxRunes: 3000},
		domain.PlatformTikTok:    {MaxRunes: 2200, Hashtags: true},
		domain.PlatformYouTube:   {MaxRunes: 5000},
	}
}

// Adapter applies Rules. Its zero value passes every message through.
type Adapter struct {
	rules    map[domain.Platform]Rule
	hashtags []string
}

// NewAdapter creates an Adapter. Hashtags are normalised to a leading '#'.
func NewAdapter(rules map[domain.Platform]Rule, hashtags []string) *Adapter {
	return &Adapter{
		rules:    rules,
		hashtags: normaliseTags(hashtags),
	}
}

// Adapt returns the variant of message for platform.
func (a *Adapter) Adapt(message string, platform domain.Platform) string {
	message = strings.TrimSpace(message)
	rule := a.rules[platform]

	var block string
	if rule.Hashtags {
		block = a.hashtagBlock(message)
	}

	if rule.MaxRunes <= 0 {
		return join(message, block)
	}

	// The hashtag block is dropped before the message is cut.
	if block != "" && utf8.RuneCountInString(join(message, block)) > rule.MaxRunes {
		block = ""
	}
	budget := rule.MaxRunes
	if block != "" {
		budget -= utf8.RuneCountInString(block) + 2
	}
	return join(truncate(message, budget), block)
}

// hashtagBlock returns configured tags missing from message, space separated.
func (a *Adapter) hashtagBlock(message string) string {
	if len(a.hashtags) == 0 {
		return ""
	}
	present := make(map[string]bool)
	for _, f := range strings.Fields(message) {
		if strings.HasPrefix(f, "#") {
			present[strings.ToLower(strings.TrimRight(f, ".,!?;:"))] = true
		}
	}
	var missing []string
	for _, tag := range a.hashtags {
		if !present[strings.ToLower(tag)] {
			missing = append(missing, tag)
		}
	}
	return strings.Join(missing, " ")
}

// truncate cuts s to at most max runes, ending with an ellipsis when cut.
func truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	cut := strings.TrimRight(string(runes[:max-1]), " \t\n")
	return cut + ellipsis
}

func join(message, block string) string {
	if block == "" {
		return message
	}
	if message == "" {
		return block
	}
	return message + "\n\n" + block
}

func normaliseTags(tags []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, t := range tags {
		t = strings.TrimSpace(t)
		t = strings.TrimLeft(t, "#")
		if t == "" {
			continue
		}
		t = "#" + t
		key := strings.ToLower(t)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, t)
	}
	return out
}
