package session

import (
	"regexp"

	"github.com/oklog/ulid/v2"
)

var validID = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// GenerateID returns a new session id. ULIDs sort by creation time.
func GenerateID() string {
	return ulid.Make().String()
}

// ValidID reports whether id may name a session: 1 to 128 letters, digits,
// underscores or hyphens. Generated ids always qualify.
func ValidID(id string) bool {
	return validID.MatchString(id)
}
