package model

import "github.com/oklog/ulid/v2"

// NewID generates a new ULID string used for sessions, runs and downloads.
func NewID() string {
	return ulid.Make().String()
}

// ValidID reports whether s is a well-formed ULID. Handlers use it to reject
// garbage path parameters before touching the store.
func ValidID(s string) bool {
	_, err := ulid.ParseStrict(s)
	return err == nil
}
