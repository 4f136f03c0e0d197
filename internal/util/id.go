package util

import "github.com/google/uuid"

// NewID returns a random UUID string, used for user and message ids.
func NewID() string {
	return uuid.NewString()
}
