// Package constants provides application-wide constants and timeouts.
package constants

import "time"

// SandboxNamePrefix is prepended to a thread ID to form the sandbox name.
const SandboxNamePrefix = "investigation-"

// SandboxName returns the sandbox name for a thread.
func SandboxName(threadID string) string {
	return SandboxNamePrefix + threadID
}

// Sandbox identity headers understood by the sandbox router gateway.
const (
	HeaderSandboxID        = "X-Sandbox-ID"
	HeaderSandboxPort      = "X-Sandbox-Port"
	HeaderSandboxNamespace = "X-Sandbox-Namespace"
)

// HeaderThreadID tags /investigate responses with the resolved thread ID.
const HeaderThreadID = "X-Thread-ID"

// MaxThreadIDLength bounds derived thread IDs so the sandbox name stays
// within the 63-character DNS label cap with room for the prefix.
const MaxThreadIDLength = 57

// Timeouts for operations without per-config overrides.
const (
	// ReaperInterval is how often the TTL reaper sweeps expired sandboxes.
	ReaperInterval = 30 * time.Second

	// ClaimTimeout bounds the /claim call made before first execute.
	ClaimTimeout = 15 * time.Second

	// AnswerTimeout bounds a synchronous /answer round trip.
	AnswerTimeout = 30 * time.Second
)
