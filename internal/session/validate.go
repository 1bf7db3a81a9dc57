package session

import (
	"fmt"
	"regexp"
)

var nameRegexp = regexp.MustCompile(`^[a-z0-9_-]{1,64}$`)

// ValidateName checks that name conforms to session naming rules. Session
// names become directory names, so anything outside the pattern is refused.
func ValidateName(name string) error {
	if !nameRegexp.MatchString(name) {
		return fmt.Errorf("invalid session name %q: must match ^[a-z0-9_-]{1,64}$", name)
	}
	return nil
}

// ValidateUserID rejects negative user ids. Zero is allowed and means no
// user is signed in.
func ValidateUserID(id int64) error {
	if id < 0 {
		return fmt.Errorf("invalid user id %d: must be zero or positive", id)
	}
	return nil
}
