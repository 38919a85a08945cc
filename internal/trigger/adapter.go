package trigger

import (
	"context"

	"github.com/vigilops/vigilops/internal/stream"
	v1 "github.com/vigilops/vigilops/pkg/api/v1"
)

// Trigger is one inbound message from a surface that should start or resume
// an investigation.
type Trigger struct {
	Identifiers Identifiers
	Prompt      string
	Images      []v1.ImageAttachment
	Files       []v1.FileAttachment
}

// Adapter is implemented per surface. The dispatcher calls Respond once per
// stream event, in stream order; an adapter that returns an error stops
// delivery for the rest of the stream.
type Adapter interface {
	// Surface names the integration this adapter serves.
	Surface() string

	// Respond relays one investigation event back to the conversation.
	Respond(ctx context.Context, ids Identifiers, ev stream.Event) error
}
