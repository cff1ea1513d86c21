// Package notify is the fire-and-forget notification port of the signing
// workflow. Transitions emit events best-effort: a notifier failure is
// logged and never affects the transition that produced it.
package notify

import "context"

// EventKind enumerates the workflow moments worth telling people about.
type EventKind string

const (
	EventSignatureRequested EventKind = "signature_requested"
	EventImageSigned        EventKind = "image_signed"
	EventImageRejected      EventKind = "image_rejected"
)

// Event describes a workflow transition for notification purposes. The
// comment travels only here; it is not part of any signature-relevant
// data.
type Event struct {
	Kind       EventKind
	ImageID    string
	Owner      string
	OwnerEmail string
	Comment    string
}

// Notifier delivers events best-effort. Implementations must not block
// the caller beyond their own bounded retry policy.
type Notifier interface {
	Notify(ctx context.Context, e Event) error
}
