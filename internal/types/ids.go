package types

import (
	"time"

	"github.com/google/uuid"
)

// DecisionID represents a UUIDv7 policy-decision identifier.
// String alias enables type safety while maintaining JSON string
// serialization. UUIDv7 time-ordering keeps decision logs sortable.
type DecisionID string

// NewDecisionID generates a UUIDv7 decision identifier.
// Panics on clock regression (uuid.Must); acceptable for ID generation.
func NewDecisionID() DecisionID {
	return DecisionID(uuid.Must(uuid.NewV7()).String())
}

// ParseDecisionID validates and converts a string to DecisionID.
// Rejects malformed UUIDs to prevent invalid IDs from entering logs.
func ParseDecisionID(s string) (DecisionID, error) {
	_, err := uuid.Parse(s)
	if err != nil {
		return "", err
	}
	return DecisionID(s), nil
}

// DecisionIDTime extracts the timestamp embedded in a UUIDv7 ID.
// Enables time-based log correlation without a separate field.
// Returns zero time for invalid UUIDs; caller should check IsZero().
func DecisionIDTime(id DecisionID) time.Time {
	u, err := uuid.Parse(string(id))
	if err != nil {
		return time.Time{}
	}
	sec, nsec := u.Time().UnixTime()
	return time.Unix(sec, nsec)
}
