// Package messagequeue defines the message queue port (interface).
package messagequeue

import "context"

// Handler processes a message received from the queue.
type Handler func(ctx context.Context, subject string, data []byte) error

// Queue is the port interface for publishing and subscribing to messages.
type Queue interface {
	// Publish sends a message to the given subject.
	Publish(ctx context.Context, subject string, data []byte) error

	// Subscribe registers a handler for messages on the given subject.
	// The returned function cancels the subscription.
	Subscribe(ctx context.Context, subject string, handler Handler) (cancel func(), err error)

	// Close shuts down the queue connection.
	Close() error
}

// Subject prefixes used by TenantForge.
const (
	// SubjectAudit prefixes every audit fan-out subject: audit.{action}.
	SubjectAudit = "audit"
	// SubjectAuditAll matches every audit subject.
	SubjectAuditAll = "audit.>"
)

// AuditSubject returns the subject an audit entry for action is published on.
func AuditSubject(action string) string {
	return SubjectAudit + "." + action
}
