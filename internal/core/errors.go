package core

import (
	"fmt"

	"github.com/google/uuid"
)

// UnknownUserError rejects an order from a user that was never seeded.
// The run continues; nothing mutates.
type UnknownUserError struct {
	UserID uuid.UUID
}

func (e *UnknownUserError) Error() string {
	return fmt.Sprintf("unknown user: %s", e.UserID)
}
