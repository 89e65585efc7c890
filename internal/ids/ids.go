// Package ids centralizes identifier generation for domain objects.
package ids

import "github.com/google/uuid"

// NewThread returns a fresh thread identifier.
func NewThread() string { return uuid.NewString() }

// NewMessage returns a fresh message identifier.
// A streaming session allocates one of these up front and reuses it for every
// incremental upsert it emits.
func NewMessage() string { return uuid.NewString() }

// NewUser returns a fresh user identifier.
func NewUser() string { return uuid.NewString() }
