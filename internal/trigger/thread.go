// Package trigger holds the logic shared by chat-surface trigger adapters:
// deterministic thread derivation, tenant routing, and relaying investigation
// events back to the surface.
package trigger

import (
	"strings"

	"github.com/vigilops/vigilops/internal/common/constants"
)

// Identifiers locate a conversation on a trigger surface.
type Identifiers struct {
	// Surface names the integration, for example "slack" or "teams".
	Surface string

	// RoutingKey is the surface-scoped key registered in the config service,
	// for example a Slack channel ID.
	RoutingKey string

	// ConversationID identifies the thread on the surface. Replies within the
	// same conversation map to the same investigation thread.
	ConversationID string
}

// DeriveThreadID maps surface identifiers to a stable DNS-1123 thread ID.
// The same conversation always yields the same thread ID, so follow-up
// messages land on the running sandbox.
func DeriveThreadID(ids Identifiers) string {
	raw := ids.Surface + "-" + ids.ConversationID
	return Slugify(raw, constants.MaxThreadIDLength)
}

// Slugify lowercases the input, maps every run of non [a-z0-9] characters to
// a single hyphen, trims hyphens from both ends, and clamps the result.
func Slugify(raw string, maxLen int) string {
	var b strings.Builder
	b.Grow(len(raw))

	lastHyphen := false
	for _, r := range strings.ToLower(raw) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen && b.Len() > 0 {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}

	slug := strings.Trim(b.String(), "-")
	if len(slug) > maxLen {
		slug = strings.Trim(slug[:maxLen], "-")
	}
	return slug
}
