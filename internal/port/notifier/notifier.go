// Package notifier defines the operator alert port.
package notifier

import (
	"context"
	"errors"
)

// ErrNotConfigured is returned when a notifier has no destination.
var ErrNotConfigured = errors.New("notifier: not configured")

// Level is the severity of an alert.
type Level string

const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Alert is one operator notification. Event is the filter key, e.g.
// "safety_violation".
type Alert struct {
	Title         string `json:"title"`
	Message       string `json:"message"`
	Level         Level  `json:"level"`
	Event         string `json:"event"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

// Notifier delivers alerts to one destination.
type Notifier interface {
	// Name returns the unique identifier for this notifier (e.g. "slack").
	Name() string

	Send(ctx context.Context, alert Alert) error
}
