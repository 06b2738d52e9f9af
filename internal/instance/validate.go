package instance

import (
	"errors"
	"fmt"
	"regexp"
)

// maxSocketPath is the smallest sun_path limit across supported platforms
// (macOS allows 104 bytes including the terminator).
const maxSocketPath = 103

var (
	ErrInvalidName  = errors.New("invalid instance name")
	ErrPathTooLong  = errors.New("socket path too long")
	instanceNameExp = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,31}$`)
)

// ValidateName accepts lowercase names of up to 32 characters made of
// letters, digits, '_' and '-', starting with a letter or digit.
func ValidateName(name string) error {
	if instanceNameExp.MatchString(name) {
		return nil
	}
	return fmt.Errorf("%w %q: use up to 32 of [a-z0-9_-], starting with a letter or digit", ErrInvalidName, name)
}

// Validate checks that the layout's unix socket can be bound.
func (l Layout) Validate() error {
	if p := l.SocketPath(); len(p) > maxSocketPath {
		return fmt.Errorf("%w: %s is %d bytes, limit %d; set data_dir to a shorter path", ErrPathTooLong, p, len(p), maxSocketPath)
	}
	return nil
}
