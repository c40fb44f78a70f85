package jobs

import (
	"strings"

	"github.com/google/uuid"
)

// NewID returns a fresh job id. Ids are random, so two grants issued in the
// same instant never collide.
func NewID() string {
	return uuid.NewString()
}

// ValidID reports whether s looks like an id produced by NewID.
func ValidID(s string) bool {
	_, err := uuid.Parse(strings.TrimSpace(s))
	return err == nil
}
