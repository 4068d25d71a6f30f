package enums

import (
	"fmt"
	"strings"
)

// OutboxDLQErrorReason records why an outbox row was moved to the dead-letter table.
type OutboxDLQErrorReason string

const (
	OutboxDLQReasonMaxAttempts  OutboxDLQErrorReason = "max_attempts"
	OutboxDLQReasonNonRetryable OutboxDLQErrorReason = "non_retryable"
)

func (r OutboxDLQErrorReason) IsValid() bool {
	return r == OutboxDLQReasonMaxAttempts || r == OutboxDLQReasonNonRetryable
}

// ParseOutboxDLQErrorReason accepts the stored spelling; an empty string means any reason.
func ParseOutboxDLQErrorReason(raw string) (OutboxDLQErrorReason, error) {
	r := OutboxDLQErrorReason(strings.ToLower(strings.TrimSpace(raw)))
	if r == "" || r.IsValid() {
		return r, nil
	}
	return "", fmt.Errorf("invalid dlq error reason %q", raw)
}
