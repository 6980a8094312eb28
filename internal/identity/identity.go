// Package identity derives stable conversation thread identifiers.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
)

// ErrEmptyDatabase is returned when the database name of a triple is empty.
var ErrEmptyDatabase = errors.New("database name must not be empty")

// ThreadID is a derived conversation thread identifier.
type ThreadID = string

// Resolve derives the thread id for a (host, user, database) triple.
// The id is a pure function of the triple: the same triple always yields the
// same id across process restarts, and distinct triples do not collide in
// practice (SHA-256 over the separator-joined triple). The "::" separator
// keeps ("a", "bc", "d") and ("ab", "c", "d") distinct.
func Resolve(host, user, database string) (ThreadID, error) {
	if database == "" {
		return "", ErrEmptyDatabase
	}

	sum := sha256.Sum256([]byte(fmt.Sprintf("%s::%s::%s", host, user, database)))
	return "thread_" + hex.EncodeToString(sum[:])[:32], nil
}
