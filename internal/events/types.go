// Package events defines the event types published on the orchestrator bus.
package events

// Event types for sandbox lifecycle
const (
	SandboxCreated = "sandbox.created"
	SandboxReady   = "sandbox.ready"
	SandboxDeleted = "sandbox.deleted"
	SandboxReaped  = "sandbox.reaped"
)

// Event types for investigations
const (
	InvestigationStarted  = "investigation.started"
	InvestigationFinished = "investigation.finished"
	InvestigationFailed   = "investigation.failed"
)

// Event types for sessions
const (
	SessionMinted = "session.minted"
	SessionReused = "session.reused"
)

// Subjects group related event types on the bus.
const (
	SubjectSandbox       = "vigilops.sandbox"
	SubjectInvestigation = "vigilops.investigation"
	SubjectSession       = "vigilops.session"
)
