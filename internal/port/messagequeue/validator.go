package messagequeue

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Validate checks whether data is valid JSON conforming to the schema
// associated with the given subject. Unknown subjects only need valid JSON.
func Validate(subject string, data []byte) error {
	if !json.Valid(data) {
		return fmt.Errorf("invalid JSON on subject %s", subject)
	}

	if !strings.HasPrefix(subject, SubjectAudit+".") {
		return nil
	}

	var p AuditEventPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("schema validation failed for %s: %w", subject, err)
	}
	switch {
	case p.CorrelationID == "":
		return fmt.Errorf("schema validation failed for %s: %w", subject, errors.New("correlation_id is required"))
	case p.Action == "":
		return fmt.Errorf("schema validation failed for %s: %w", subject, errors.New("action is required"))
	case p.Outcome == "":
		return fmt.Errorf("schema validation failed for %s: %w", subject, errors.New("outcome is required"))
	case AuditSubject(p.Action) != subject:
		return fmt.Errorf("schema validation failed for %s: action %q does not match subject", subject, p.Action)
	}
	return nil
}
